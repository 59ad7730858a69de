package detector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/raaihank/pii-vault/internal/logger"
)

func TestRemoteDetector(t *testing.T) {
	log := logger.NewNop()

	t.Run("RoundTripsEntities", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/detect" {
				http.NotFound(w, r)
				return
			}
			var req DetectRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(DetectResponse{Entities: []Entity{
				{Type: Person, Text: "Alice", Start: 0, End: 5, Confidence: 0.9},
			}})
		}))
		defer server.Close()

		d, err := NewRemoteDetector([]string{"all"}, server.URL, 5*time.Second, log)
		if err != nil {
			t.Fatalf("Failed to create remote detector: %v", err)
		}

		entities, err := d.Detect(context.Background(), "Alice was here")
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(entities) != 1 || entities[0].Type != Person || entities[0].Text != "Alice" {
			t.Errorf("Unexpected entities: %+v", entities)
		}
	})

	t.Run("FiltersDisabledTypes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(DetectResponse{Entities: []Entity{
				{Type: Person, Text: "Alice", Start: 0, End: 5},
				{Type: Email, Text: "a@b.co", Start: 10, End: 16},
			}})
		}))
		defer server.Close()

		d, _ := NewRemoteDetector([]string{"email"}, server.URL, 5*time.Second, log)
		entities, err := d.Detect(context.Background(), "whatever")
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(entities) != 1 || entities[0].Type != Email {
			t.Errorf("Type filter not applied: %+v", entities)
		}
	})

	t.Run("ServerErrorIsDetectionError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}))
		defer server.Close()

		d, _ := NewRemoteDetector([]string{"all"}, server.URL, 5*time.Second, log)
		_, err := d.Detect(context.Background(), "text")

		var detErr *DetectionError
		if !errors.As(err, &detErr) {
			t.Fatalf("Expected DetectionError, got %v", err)
		}
	})

	t.Run("UnreachableIsDetectionError", func(t *testing.T) {
		d, _ := NewRemoteDetector([]string{"all"}, "http://127.0.0.1:1", 500*time.Millisecond, log)
		_, err := d.Detect(context.Background(), "text")

		var detErr *DetectionError
		if !errors.As(err, &detErr) {
			t.Fatalf("Expected DetectionError, got %v", err)
		}
	})
}

func TestThrottled(t *testing.T) {
	log := logger.NewNop()

	t.Run("PassesThrough", func(t *testing.T) {
		inner, _ := NewPatternDetector([]string{"all"}, log)
		d := NewThrottled(inner, 1, 0)

		entities, err := d.Detect(context.Background(), "alice@example.com")
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(entities) != 1 {
			t.Errorf("Throttled detector lost results: %+v", entities)
		}
		if d.Name() != inner.Name() {
			t.Errorf("Name = %s, want %s", d.Name(), inner.Name())
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		inner, _ := NewPatternDetector([]string{"all"}, log)
		d := NewThrottled(inner, 0, 0.001) // ~17 minutes per token

		ctx, cancel := context.WithCancel(context.Background())
		// Consume the initial burst token, then cancel.
		if _, err := d.Detect(ctx, "first"); err != nil {
			t.Fatalf("First call should pass: %v", err)
		}
		cancel()

		_, err := d.Detect(ctx, "second")
		var detErr *DetectionError
		if !errors.As(err, &detErr) {
			t.Fatalf("Expected DetectionError on cancelled context, got %v", err)
		}
	})
}
