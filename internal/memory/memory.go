// Package memory implements the run-scoped entity registry that guarantees
// one real-world entity maps to exactly one stable token.
package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/raaihank/pii-vault/internal/detector"
)

// Mapping is one token -> original pair, in discovery order.
type Mapping struct {
	Token    string
	Original string
}

// ConflictError reports an attempt to bind one token to two distinct
// original strings. This breaks reversibility and must abort the run.
type ConflictError struct {
	Token    string
	Existing string
	Proposed string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("mapping conflict: token %s already bound to a different original", e.Token)
}

type entityKey struct {
	text string
	typ  detector.EntityType
}

// EntityMemory is the single source of truth for "has this entity been seen
// before". Matching is exact: case or whitespace variants of a string are
// distinct entities. All operations are safe for concurrent use; each one
// is a single critical section, so two workers discovering the same entity
// concurrently always receive the same token.
type EntityMemory struct {
	mu       sync.Mutex
	tokens   map[entityKey]string // (original text, type) -> token
	original map[string]string    // token -> original text
	order    []string             // tokens in discovery order
	counters map[string]int       // tag -> highest ordinal handed out
}

// New creates an empty entity memory.
func New() *EntityMemory {
	return &EntityMemory{
		tokens:   make(map[entityKey]string),
		original: make(map[string]string),
		counters: make(map[string]int),
	}
}

// LookupOrCreate returns the token previously assigned to this exact
// (text, type) pair, or allocates the next ordinal for the type and
// registers a new entry.
func (m *EntityMemory) LookupOrCreate(text string, typ detector.EntityType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := entityKey{text: text, typ: typ}
	if token, ok := m.tokens[k]; ok {
		return token, nil
	}

	tag := typ.Tag()
	m.counters[tag]++
	token := fmt.Sprintf("REDACTED_%s%d", tag, m.counters[tag])

	if existing, ok := m.original[token]; ok && existing != text {
		// Cannot happen while counters are consistent with registered
		// tokens; if it does, the mapping is no longer trustworthy.
		return "", &ConflictError{Token: token, Existing: existing, Proposed: text}
	}

	m.tokens[k] = token
	m.original[token] = text
	m.order = append(m.order, token)

	return token, nil
}

// Preload seeds memory from a prior run's manifest so a later pass reuses
// existing tokens and continues each type's numbering after its highest
// preloaded ordinal.
func (m *EntityMemory) Preload(mappings []Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range mappings {
		if existing, ok := m.original[entry.Token]; ok {
			if existing != entry.Original {
				return &ConflictError{Token: entry.Token, Existing: existing, Proposed: entry.Original}
			}
			continue
		}

		tag, ordinal, ok := ParseToken(entry.Token)
		if !ok {
			return fmt.Errorf("malformed token in mapping: %q", entry.Token)
		}

		m.original[entry.Token] = entry.Original
		m.order = append(m.order, entry.Token)
		if ordinal > m.counters[tag] {
			m.counters[tag] = ordinal
		}

		if typ, known := typeForTag(tag); known {
			m.tokens[entityKey{text: entry.Original, typ: typ}] = entry.Token
		}
	}

	return nil
}

// Export returns the token -> original mapping in discovery order.
func (m *EntityMemory) Export() []Mapping {
	m.mu.Lock()
	defer m.mu.Unlock()

	mappings := make([]Mapping, 0, len(m.order))
	for _, token := range m.order {
		mappings = append(mappings, Mapping{Token: token, Original: m.original[token]})
	}
	return mappings
}

// Len returns the number of registered entities.
func (m *EntityMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

var tokenPattern = regexp.MustCompile(`^REDACTED_([A-Z]+?)([0-9]+)$`)

// ParseToken splits a token into its tag and ordinal,
// e.g. REDACTED_PERSON12 -> ("PERSON", 12, true).
func ParseToken(token string) (tag string, ordinal int, ok bool) {
	parts := tokenPattern.FindStringSubmatch(token)
	if parts == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], n, true
}

func typeForTag(tag string) (detector.EntityType, bool) {
	for _, t := range detector.AllTypes() {
		if t.Tag() == tag {
			return t, true
		}
	}
	return "", false
}
