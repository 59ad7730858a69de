package detector

import (
	"context"
)

// NERBackend defines a pluggable backend for named-entity recognition
// inference. Implementations may use ONNX Runtime or other engines.
type NERBackend interface {
	// Recognize runs inference on one text and returns entities with byte
	// offsets into that text.
	Recognize(ctx context.Context, text string) ([]Entity, error)
	// IsReady returns whether the backend is initialized and ready.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}

// NewNERBackend creates a backend if supported by the current build.
// The default (no build tags) returns nil to avoid CGO dependencies.
// Note: Implementations are provided in build-tagged files, e.g., backend_onnx.go and backend_stub.go
