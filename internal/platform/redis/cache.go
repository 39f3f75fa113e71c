// Package redis provides a Redis-backed cache.ResultCache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/parley/internal/cache"
	"github.com/phrazzld/parley/internal/config"
)

// Cache stores results as plain string values with a Redis expiry.
type Cache struct {
	client goredis.UniversalClient
	prefix string
}

// NewClient opens a client for the configured server and verifies it with PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewCache wraps client. Keys are stored as prefix+key.
func NewCache(client goredis.UniversalClient, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Put implements cache.ResultCache.
func (c *Cache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: %w", cache.ErrCacheWrite, cache.ErrEmptyKey)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: %w", cache.ErrCacheWrite, cache.ErrInvalidTTL)
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrCacheWrite, err)
	}
	return nil
}

// Get implements cache.ResultCache.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", cache.ErrCacheRead, err)
	}
	return value, true, nil
}
