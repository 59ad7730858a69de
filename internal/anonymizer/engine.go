package anonymizer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/chunker"
	"github.com/raaihank/pii-vault/internal/detector"
	"github.com/raaihank/pii-vault/internal/logger"
	"github.com/raaihank/pii-vault/internal/memory"
)

// engine runs the chunk -> detect -> dedupe -> memory -> substitute
// pipeline for one text. It is shared by all workers; the entity memory
// provides the only synchronization the pipeline needs.
type engine struct {
	detector   detector.Detector
	splitter   *chunker.Splitter
	mem        *memory.EntityMemory
	maxRetries int
	backoff    time.Duration
	logger     *logger.Logger
}

// anonymizeText replaces every detected entity span in text with its
// token. Chunks are processed sequentially in offset order; the boundary
// dedupe depends on that.
func (e *engine) anonymizeText(ctx context.Context, text string) (string, error) {
	dedupe := chunker.NewDeduper()

	it := e.splitter.Split(text)
	for {
		chunk, ok := it.Next()
		if !ok {
			break
		}

		entities, err := e.detectWithRetry(ctx, chunk.Text)
		if err != nil {
			return "", err
		}
		dedupe.Add(chunk, entities)
	}

	return e.substitute(text, dedupe.Entities())
}

// detectWithRetry retries transient detector failures up to the configured
// bound. Only DetectionError is retryable.
func (e *engine) detectWithRetry(ctx context.Context, text string) ([]detector.Entity, error) {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("Retrying detection",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(e.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		entities, err := e.detector.Detect(ctx, text)
		if err == nil {
			return entities, nil
		}

		var detErr *detector.DetectionError
		if !errors.As(err, &detErr) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// substitute splices tokens over the entity spans. Entities must be sorted
// by start offset and non-overlapping; the deduper guarantees both.
func (e *engine) substitute(text string, entities []detector.Entity) (string, error) {
	if len(entities) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, entity := range entities {
		if entity.Start < last || entity.End > len(text) {
			continue
		}

		token, err := e.mem.LookupOrCreate(text[entity.Start:entity.End], entity.Type)
		if err != nil {
			return "", err
		}

		b.WriteString(text[last:entity.Start])
		b.WriteString(token)
		last = entity.End
	}
	b.WriteString(text[last:])

	return b.String(), nil
}
