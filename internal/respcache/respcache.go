// Package respcache implements the server-side response cache
// described in spec.md's design notes: keyed by (endpoint, accessLevel,
// discordID), it replaces the source's client-side JWT-keyed query
// cache with a Redis-backed layer, grounded on the reference pack's
// use of github.com/redis/go-redis/v9 for worker/outbox caching.
package respcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores serialized endpoint responses in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Cache against addr, with entries expiring after ttl.
func New(addr string, ttl time.Duration) *Cache {
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Key builds the cache key for an endpoint response. The caller's
// access level is part of the key so admin and non-admin callers
// never share a cached, differently-masked response; a discordID (or
// empty string) further scopes per-player endpoints.
func Key(endpoint, accessLevel, discordID string) string {
	if discordID == "" {
		return fmt.Sprintf("respcache:%s:%s", endpoint, accessLevel)
	}
	return fmt.Sprintf("respcache:%s:%s:%s", endpoint, accessLevel, discordID)
}

// Get deserializes a cached response into dest, reporting whether it
// was present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("respcache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("respcache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set serializes value and stores it under key with the cache's TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("respcache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("respcache: set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops a single cached response, used after the current-
// state cache is replaced so stale leaderboard responses don't linger
// for a full TTL window.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("respcache: del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
