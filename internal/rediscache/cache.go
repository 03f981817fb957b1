// Package rediscache is the hot last-seen-timestamp cache the downtime
// detector consults before falling back to Postgres (§4.6's sibling); the
// detector refreshes an entry whenever it falls back. The storage gateway
// does not write to it. Grounded on the teacher's go-redis/v9 usage pattern
// for cache TTL bookkeeping.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/cryptopulse/internal/storage"
)

// DefaultTTL bounds how long a last-seen timestamp is trusted before a
// cache miss falls through to Postgres anyway.
const DefaultTTL = 10 * time.Minute

// Cache wraps a redis client with the kind/key namespacing the downtime
// detector and storage gateway share.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Cache over an already-configured redis client.
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Open is a convenience constructor that dials redis from a URL
// (redis://host:port/db).
func Open(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("rediscache: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	return New(client, ttl), nil
}

func cacheKey(kind storage.Kind, key int64) string {
	return fmt.Sprintf("cryptopulse:lastseen:%s:%d", kind, key)
}

// Get reads the last-seen timestamp for (kind, key). ok is false on a cache
// miss or expired entry; callers fall back to the storage gateway.
func (c *Cache) Get(ctx context.Context, kind storage.Kind, key int64) (time.Time, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(kind, key)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("rediscache: get: %w", err)
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("rediscache: parse cached value: %w", err)
	}
	return t, true, nil
}

// Set writes the last-seen timestamp for (kind, key), refreshing the TTL.
func (c *Cache) Set(ctx context.Context, kind storage.Kind, key int64, t time.Time) error {
	if err := c.client.Set(ctx, cacheKey(kind, key), t.UTC().Format(time.RFC3339), c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set: %w", err)
	}
	return nil
}

// Close releases the underlying redis connection.
func (c *Cache) Close() error { return c.client.Close() }
