package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pii-vault/internal/config"
	"github.com/raaihank/pii-vault/internal/logger"
)

// Cached wraps a detector with a Redis result cache. Detection is pure for
// a given backend and text, so results are cached by sha256(backend + text).
// Cache failures degrade to a direct detector call, never to an error.
type Cached struct {
	inner  Detector
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *logger.Logger
	stats  cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   int64
	misses int64
}

// CacheStats is a point-in-time snapshot of cache performance.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewCached creates a Redis-backed detection cache around inner.
func NewCached(inner Detector, cfg config.CacheConfig, log *logger.Logger) (*Cached, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Detection cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("ttl", cfg.TTL),
	)

	return &Cached{
		inner:  inner,
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: log,
	}, nil
}

// Name implements Detector.
func (c *Cached) Name() string { return c.inner.Name() }

// Detect implements Detector.
func (c *Cached) Detect(ctx context.Context, text string) ([]Entity, error) {
	key := c.cacheKey(text)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == redis.Nil:
		atomic.AddInt64(&c.stats.misses, 1)
	case err != nil:
		c.logger.Debug("Cache lookup failed", zap.Error(err))
	default:
		var entities []Entity
		if uerr := json.Unmarshal([]byte(cached), &entities); uerr == nil {
			atomic.AddInt64(&c.stats.hits, 1)
			return entities, nil
		}
		// Corrupted entry, drop it and fall through to the detector.
		c.client.Del(ctx, key)
	}

	entities, err := c.inner.Detect(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, merr := json.Marshal(entities); merr == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Debug("Failed to cache detection result", zap.Error(serr))
		}
	}

	return entities, nil
}

// Stats returns cache hit/miss counters.
func (c *Cached) Stats() CacheStats {
	hits := atomic.LoadInt64(&c.stats.hits)
	misses := atomic.LoadInt64(&c.stats.misses)
	total := hits + misses

	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	return CacheStats{Hits: hits, Misses: misses, HitRate: rate}
}

// Close releases the Redis connection.
func (c *Cached) Close() error {
	return c.client.Close()
}

func (c *Cached) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// maskRedisURL hides credentials in a Redis URL for logging
func maskRedisURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
