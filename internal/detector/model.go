package detector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/logger"
)

// ModelDetector combines an NER inference backend with the pattern rules.
// Pattern rules run alongside the model for the structured categories
// (emails, SSNs, card numbers) that regex catches more reliably than NER.
// When no backend is compiled in (no 'onnx' build tag) or the model fails
// to load, the detector degrades to rules only.
type ModelDetector struct {
	backend   NERBackend
	rules     *PatternDetector
	types     map[EntityType]bool
	threshold float64
	logger    *logger.Logger
}

// NewModelDetector creates a model-backed detector. modelPath points at a
// directory holding the exported token-classification model.
func NewModelDetector(entityTypes []string, modelPath string, threshold float64, maxLength int, log *logger.Logger) (*ModelDetector, error) {
	types, err := TypeSet(entityTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	rules, err := NewPatternDetector(entityTypes, log)
	if err != nil {
		return nil, err
	}

	backend := NewNERBackend(log, modelPath, maxLength)
	if backend == nil {
		log.Warn("NER backend unavailable, falling back to pattern rules",
			zap.String("model_path", modelPath),
		)
	}

	return &ModelDetector{
		backend:   backend,
		rules:     rules,
		types:     types,
		threshold: threshold,
		logger:    log,
	}, nil
}

// Name implements Detector.
func (d *ModelDetector) Name() string { return "model" }

// Detect implements Detector.
func (d *ModelDetector) Detect(ctx context.Context, text string) ([]Entity, error) {
	ruleEntities, err := d.rules.Detect(ctx, text)
	if err != nil {
		return nil, err
	}

	if d.backend == nil || !d.backend.IsReady() {
		return ruleEntities, nil
	}

	modelEntities, err := d.backend.Recognize(ctx, text)
	if err != nil {
		return nil, &DetectionError{Backend: d.Name(), Err: err}
	}

	// Rule matches take precedence over model spans on overlap.
	found := make([]candidate, 0, len(ruleEntities)+len(modelEntities))
	for _, e := range ruleEntities {
		found = append(found, candidate{entity: e, priority: 0})
	}
	for _, e := range modelEntities {
		if e.Confidence < d.threshold || !d.types[e.Type] {
			continue
		}
		found = append(found, candidate{entity: e, priority: 1})
	}

	return resolveOverlaps(found), nil
}

// Close releases the inference backend, if any.
func (d *ModelDetector) Close() error {
	if d.backend != nil {
		return d.backend.Close()
	}
	return nil
}
