package api

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/domain"
)

// ResponseCache is a cache-aside layer over Redis for read endpoints
// (ranking, summary). Stored runs are immutable, so cached responses never go
// stale within their TTL; cache failures degrade to a store read.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewResponseCache creates a response cache from the application cache
// settings. Returns nil when no Redis URL is configured; a nil cache is a
// no-op.
func NewResponseCache(cfg domain.CacheConfig, logger *logrus.Logger) *ResponseCache {
	if cfg.RedisURL == "" {
		return nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithField("error", err).Warn("Invalid redis URL, response cache disabled")
		return nil
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}

	ttl := cfg.DefaultTTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	return &ResponseCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the cached response body for a key, or nil on miss or error.
func (c *ResponseCache) Get(ctx context.Context, key string) []byte {
	if c == nil {
		return nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err,
			}).Debug("Response cache read failed")
		}
		return nil
	}
	return data
}

// Set stores a response body under a key. Failures are logged, never
// surfaced.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Debug("Response cache write failed")
	}
}

// Close releases the Redis connection.
func (c *ResponseCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
