// Package dedupe provides an optional Redis-backed idempotency cache of
// already-processed request event ids, for providers running multiple
// instances against the same relay/host-wallet pair. Construction mirrors
// the teacher's cache_redis.go client setup.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ttl bounds how long a processed id is remembered; it only needs to exceed
// the subscription lookback window (3h) to prevent cross-instance replay.
const ttl = 4 * time.Hour

// Cache marks request event ids as seen so that multiple provider instances
// sharing a relay subscription do not double-dispatch the same request.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL (format redis://[:password@]host:port/db),
// applying the same pool/timeout settings as the teacher's RedisCache.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("dedupe: invalid redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dedupe: redis connection failed: %w", err)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) key(eventID string) string { return "nwcprovider:seen:" + eventID }

// MarkIfNew atomically records eventID as seen and reports whether it was
// new (true) or already processed (false), using SETNX semantics.
func (c *Cache) MarkIfNew(ctx context.Context, eventID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(eventID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: redis setnx: %w", err)
	}
	return ok, nil
}

// Close releases the underlying Redis connection pool.
func (c *Cache) Close() error { return c.client.Close() }
