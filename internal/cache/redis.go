// Package cache holds the Redis-backed cache for ranking payloads. Home and
// discover pages are assembled from window aggregates that are expensive to
// recompute per request, so the rendered payload is cached under a fixed key
// with a short TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no cached payload exists for a key.
var ErrMiss = errors.New("cache: miss")

type RankingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRankingCache connects to Redis at the given URL
// (redis://[user:pass@]host:port/db) and verifies the connection.
func NewRankingCache(ctx context.Context, redisURL string, ttl time.Duration) (*RankingCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RankingCache{client: client, ttl: ttl}, nil
}

// NewRankingCacheFromClient wraps an existing client. Used by tests.
func NewRankingCacheFromClient(client *redis.Client, ttl time.Duration) *RankingCache {
	return &RankingCache{client: client, ttl: ttl}
}

func (c *RankingCache) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache decode: %w", err)
	}
	return nil
}

func (c *RankingCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the given keys. Missing keys are not an error.
func (c *RankingCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func (c *RankingCache) Close() error {
	return c.client.Close()
}
