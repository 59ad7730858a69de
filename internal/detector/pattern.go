package detector

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/logger"
)

// PatternDetector finds PII using regular expression rules.
type PatternDetector struct {
	rules   []DetectionRule
	enabled map[string]bool
	logger  *logger.Logger
}

// NewPatternDetector creates a pattern detector restricted to the given
// entity types ("all" enables every rule).
func NewPatternDetector(entityTypes []string, log *logger.Logger) (*PatternDetector, error) {
	types, err := TypeSet(entityTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	d := &PatternDetector{
		rules:   GetDefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}

	for _, rule := range d.rules {
		d.enabled[rule.Name] = types[rule.Type]
	}

	log.Info("Pattern detector initialized",
		zap.Int("total_rules", len(d.rules)),
		zap.Int("enabled_rules", d.countEnabledRules()),
	)

	return d, nil
}

// Name implements Detector.
func (d *PatternDetector) Name() string { return "pattern" }

// Detect implements Detector. Results are sorted by start offset and
// contain no overlapping spans.
func (d *PatternDetector) Detect(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DetectionError{Backend: d.Name(), Err: err}
	}

	var found []candidate
	for i, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			found = append(found, candidate{
				entity: Entity{
					Type:       rule.Type,
					Text:       text[loc[0]:loc[1]],
					Start:      loc[0],
					End:        loc[1],
					Confidence: rule.Confidence,
				},
				priority: i,
			})
		}
	}

	entities := resolveOverlaps(found)

	if len(entities) > 0 {
		d.logger.Debug("PII detected",
			zap.String("backend", d.Name()),
			zap.Int("count", len(entities)),
		)
	}

	return entities, nil
}

// EnableRule enables a specific detection rule
func (d *PatternDetector) EnableRule(ruleName string) error {
	for _, rule := range d.rules {
		if rule.Name == ruleName {
			d.enabled[ruleName] = true
			d.logger.Info("Detection rule enabled", zap.String("rule", ruleName))
			return nil
		}
	}
	return fmt.Errorf("unknown rule: %s", ruleName)
}

// DisableRule disables a specific detection rule
func (d *PatternDetector) DisableRule(ruleName string) error {
	if _, exists := d.enabled[ruleName]; !exists {
		return fmt.Errorf("unknown rule: %s", ruleName)
	}

	d.enabled[ruleName] = false
	d.logger.Info("Detection rule disabled", zap.String("rule", ruleName))
	return nil
}

// GetEnabledRules returns a list of enabled rule names
func (d *PatternDetector) GetEnabledRules() []string {
	var enabled []string
	for _, rule := range d.rules {
		if d.enabled[rule.Name] {
			enabled = append(enabled, rule.Name)
		}
	}
	return enabled
}

func (d *PatternDetector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

type candidate struct {
	entity   Entity
	priority int // lower wins on overlapping spans
}

// resolveOverlaps drops candidates whose span overlaps an already-kept one.
// Candidates are ranked by start offset, then span length (longer first),
// then rule priority.
func resolveOverlaps(found []candidate) []Entity {
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.entity.Start != b.entity.Start {
			return a.entity.Start < b.entity.Start
		}
		al, bl := a.entity.End-a.entity.Start, b.entity.End-b.entity.Start
		if al != bl {
			return al > bl
		}
		return a.priority < b.priority
	})

	entities := make([]Entity, 0, len(found))
	lastEnd := -1
	for _, c := range found {
		if c.entity.Start < lastEnd {
			continue
		}
		entities = append(entities, c.entity)
		lastEnd = c.entity.End
	}

	return entities
}
