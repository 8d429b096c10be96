package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// keyPrefix namespaces cache entries away from queue and job keys.
const keyPrefix = "repoqa:cache:"

// Cache is a Redis-backed JSON cache with a fixed TTL. It backs the
// repository metadata lookups so repeated index and status requests
// do not burn GitHub rate limit.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at the given URL. A zero ttl disables expiry.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opt), ttl), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Close() error { return c.rdb.Close() }

// GetJSON fetches and decodes the entry under key. The second return
// reports whether the key was present.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		// A stale or corrupt entry should behave like a miss, not an outage.
		log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		if delErr := c.Delete(ctx, key); delErr != nil {
			return false, delErr
		}
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v and stores it under key with the cache TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes the entry under key. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
