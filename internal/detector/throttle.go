package detector

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled bounds access to a detector independently of file-walk
// concurrency: a semaphore caps in-flight calls (a local inference backend
// holds fixed device memory) and an optional rate limiter smooths request
// bursts against a shared detectord instance.
type Throttled struct {
	inner   Detector
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewThrottled wraps inner with the given bounds. maxConcurrent <= 0
// disables the semaphore; requestsPerSec <= 0 disables the limiter.
func NewThrottled(inner Detector, maxConcurrent int, requestsPerSec float64) *Throttled {
	t := &Throttled{inner: inner}
	if maxConcurrent > 0 {
		t.sem = make(chan struct{}, maxConcurrent)
	}
	if requestsPerSec > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSec), 1)
	}
	return t
}

// Name implements Detector.
func (t *Throttled) Name() string { return t.inner.Name() }

// Detect implements Detector.
func (t *Throttled) Detect(ctx context.Context, text string) ([]Entity, error) {
	if t.sem != nil {
		select {
		case t.sem <- struct{}{}:
			defer func() { <-t.sem }()
		case <-ctx.Done():
			return nil, &DetectionError{Backend: t.Name(), Err: ctx.Err()}
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &DetectionError{Backend: t.Name(), Err: err}
		}
	}

	return t.inner.Detect(ctx, text)
}
