// Package cache provides a small Redis read-through cache for immutable
// lookups. Every method is nil-safe and best-effort: a Redis outage degrades
// to cache misses, never to request failures.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client.
type Cache struct {
	rdb *redis.Client
}

// New connects to Redis at addr and verifies the connection. An empty addr
// returns (nil, nil) so callers can treat the cache as optional wiring.
func New(ctx context.Context, addr string) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &Cache{rdb: rdb}, nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Get returns the cached value for key, or ok=false on miss or error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		// Miss and outage look the same to callers; they fall through to
		// the store either way.
		return nil, false
	}
	return raw, true
}

// Set stores value under key with the given TTL. Failures are dropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes a key. Failures are dropped.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, key).Err()
}
