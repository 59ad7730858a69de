//go:build !onnx
// +build !onnx

package detector

import (
	"github.com/raaihank/pii-vault/internal/logger"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewNERBackend(log *logger.Logger, modelPath string, maxLength int) NERBackend {
	return nil
}
