// Package manifest defines the persisted token -> original mapping that
// makes an anonymized tree reversible, plus the run metadata around it.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/pii-vault/internal/memory"
)

// IOError reports that the manifest could not be written or read. It is
// fatal: anonymized output without a readable manifest is unrecoverable.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("manifest %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// FileError records one failed file inside the run statistics.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Statistics summarizes a run. The per-file outcome taxonomy is processed /
// skipped / failed, never a single success flag.
type Statistics struct {
	TotalFiles     int         `json:"total_files"`
	ProcessedFiles int         `json:"processed_files"`
	SkippedFiles   int         `json:"skipped_files"`
	FailedFiles    int         `json:"failed_files"`
	Errors         []FileError `json:"errors,omitempty"`
}

// Mappings is the token -> original map with insertion order preserved
// through JSON serialization.
type Mappings []memory.Mapping

// MarshalJSON writes the mappings as a JSON object in insertion order.
func (m Mappings) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(entry.Token)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(entry.Original)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order.
func (m *Mappings) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	open, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := open.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mappings must be a JSON object")
	}

	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", keyToken)
		}

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("mapping value for %q: %w", key, err)
		}

		*m = append(*m, memory.Mapping{Token: key, Original: value})
	}

	_, err = dec.Token() // closing brace
	return err
}

// Manifest is the persisted run artifact.
type Manifest struct {
	CreatedAt  time.Time  `json:"created_at"`
	RunID      string     `json:"run_id"`
	Mappings   Mappings   `json:"mappings"`
	Statistics Statistics `json:"statistics"`
}

// New builds a manifest from exported memory and run statistics.
func New(mappings []memory.Mapping, stats Statistics) *Manifest {
	return &Manifest{
		CreatedAt:  time.Now().UTC(),
		RunID:      uuid.NewString(),
		Mappings:   Mappings(mappings),
		Statistics: stats,
	}
}

// PairsByTokenLength returns the mappings sorted by descending token
// length. Restoration must substitute in this order so a token that is a
// literal prefix of another (REDACTED_PERSON2 vs REDACTED_PERSON21) is
// never matched inside the longer one.
func (m *Manifest) PairsByTokenLength() []memory.Mapping {
	pairs := make([]memory.Mapping, len(m.Mappings))
	copy(pairs, m.Mappings)
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].Token) > len(pairs[j].Token)
	})
	return pairs
}

// Write persists the manifest atomically (temp file + rename).
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &IOError{Op: "write", Path: path, Err: err}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &IOError{Op: "write", Path: path, Err: err}
	}

	return nil
}

// Load reads a manifest from disk.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &IOError{Op: "parse", Path: path, Err: err}
	}

	return &m, nil
}
