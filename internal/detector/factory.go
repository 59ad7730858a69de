package detector

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/config"
	"github.com/raaihank/pii-vault/internal/logger"
)

// BackendType identifies a detector implementation.
type BackendType string

const (
	// PatternBackend uses regular expression rules only. Fast and
	// deterministic; cannot find person or organization names.
	PatternBackend BackendType = "pattern"

	// ModelBackend runs a local NER model (requires the 'onnx' build tag)
	// combined with the pattern rules.
	ModelBackend BackendType = "model"

	// RemoteBackend calls a detectord service over HTTP.
	RemoteBackend BackendType = "remote"
)

// Factory creates detectors based on configuration.
type Factory struct {
	logger *logger.Logger
}

// NewFactory creates a new detector factory
func NewFactory(log *logger.Logger) *Factory {
	return &Factory{logger: log}
}

// CreateDetector builds the configured detector, layered with the Redis
// cache and the throttle when enabled. The concrete implementation is
// chosen here, at construction time, never from the input at runtime.
func (f *Factory) CreateDetector(cfg config.DetectorConfig) (Detector, error) {
	var (
		d   Detector
		err error
	)

	switch BackendType(cfg.Backend) {
	case PatternBackend:
		d, err = NewPatternDetector(cfg.EntityTypes, f.logger)
	case ModelBackend:
		d, err = NewModelDetector(cfg.EntityTypes, cfg.Model.Path, cfg.Model.ConfidenceThreshold, cfg.Model.MaxLength, f.logger)
	case RemoteBackend:
		d, err = NewRemoteDetector(cfg.EntityTypes, cfg.Remote.URL, cfg.Remote.Timeout, f.logger)
	default:
		return nil, fmt.Errorf("unknown detector backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	f.logger.Info("Created detector", zap.String("backend", cfg.Backend))

	if cfg.Cache.Enabled {
		cached, cerr := NewCached(d, cfg.Cache, f.logger)
		if cerr != nil {
			// A dead cache should not block an anonymization run.
			f.logger.Warn("Detection cache unavailable, continuing without it", zap.Error(cerr))
		} else {
			d = cached
		}
	}

	if cfg.MaxConcurrent > 0 || cfg.RequestsPerSec > 0 {
		d = NewThrottled(d, cfg.MaxConcurrent, cfg.RequestsPerSec)
	}

	return d, nil
}
