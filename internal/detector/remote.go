package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/raaihank/pii-vault/internal/logger"
)

// DetectRequest is the wire format accepted by the detectord service.
type DetectRequest struct {
	Text string `json:"text"`
}

// DetectResponse is the wire format returned by the detectord service.
type DetectResponse struct {
	Entities []Entity `json:"entities"`
}

// RemoteDetector calls a detectord instance over HTTP. Useful when the
// model backend holds fixed device memory and must be shared by several
// anonymization runs.
type RemoteDetector struct {
	baseURL string
	types   map[EntityType]bool
	client  *http.Client
	logger  *logger.Logger
}

// NewRemoteDetector creates a detector backed by the given detectord URL.
func NewRemoteDetector(entityTypes []string, baseURL string, timeout time.Duration, log *logger.Logger) (*RemoteDetector, error) {
	types, err := TypeSet(entityTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	return &RemoteDetector{
		baseURL: baseURL,
		types:   types,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}, nil
}

// Name implements Detector.
func (d *RemoteDetector) Name() string { return "remote" }

// Detect implements Detector.
func (d *RemoteDetector) Detect(ctx context.Context, text string) ([]Entity, error) {
	body, err := json.Marshal(DetectRequest{Text: text})
	if err != nil {
		return nil, &DetectionError{Backend: d.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/detect", bytes.NewReader(body))
	if err != nil {
		return nil, &DetectionError{Backend: d.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &DetectionError{Backend: d.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &DetectionError{
			Backend: d.Name(),
			Err:     fmt.Errorf("detectord returned HTTP %d: %s", resp.StatusCode, msg),
		}
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &DetectionError{Backend: d.Name(), Err: err}
	}

	entities := make([]Entity, 0, len(result.Entities))
	for _, e := range result.Entities {
		if d.types[e.Type] {
			entities = append(entities, e)
		}
	}

	return entities, nil
}
