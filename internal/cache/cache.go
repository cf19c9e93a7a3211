package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"ev-analytics-platform/pkg/logging"
)

// ResponseCache caches serialized analytics responses in Redis. Every method
// is safe on a nil receiver and degrades to a pass-through when Redis is
// unreachable, so a cache outage never takes reads down with it.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.StructuredLogger
}

// NewResponseCache connects to Redis at the given URL. The connection is
// verified with a ping so a misconfigured URL surfaces at startup rather than
// on the first request.
func NewResponseCache(ctx context.Context, url string, ttl time.Duration, logger *logging.StructuredLogger) (*ResponseCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &ResponseCache{client: client, ttl: ttl, logger: logger}, nil
}

// Get unmarshals the cached value for key into dest. The second return value
// reports whether the key was found.
func (c *ResponseCache) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil {
		return false
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn(ctx, "cache read failed", logging.Fields{"key": key, "error": err.Error()})
		return false
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Warn(ctx, "cache entry corrupt, ignoring", logging.Fields{"key": key, "error": err.Error()})
		return false
	}
	return true
}

// Set stores value under key for the configured TTL. Failures are logged and
// swallowed.
func (c *ResponseCache) Set(ctx context.Context, key string, value interface{}) {
	if c == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn(ctx, "cache serialization failed", logging.Fields{"key": key, "error": err.Error()})
		return
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn(ctx, "cache write failed", logging.Fields{"key": key, "error": err.Error()})
	}
}

// Invalidate removes the given keys, typically after a pipeline run replaces
// the underlying data.
func (c *ResponseCache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn(ctx, "cache invalidation failed", logging.Fields{"error": err.Error()})
	}
}

// Close releases the underlying Redis connection.
func (c *ResponseCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
