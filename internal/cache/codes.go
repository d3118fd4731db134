// Package cache keeps rendered attendance code images so that every display
// of a gym shares one render per rotation slot.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaif394/Gymble0/internal/domain"
)

const keyPrefix = "attendance:code"

var (
	_ domain.CodeCache = NoopCodeCache{}
	_ domain.CodeCache = (*RedisCodeCache)(nil)
)

// NoopCodeCache never stores anything.
type NoopCodeCache struct{}

// Get always misses.
func (NoopCodeCache) Get(context.Context, string, int64) ([]byte, bool, error) {
	return nil, false, nil
}

// Set discards the image.
func (NoopCodeCache) Set(context.Context, string, int64, []byte, time.Duration) error { return nil }

// RedisCodeCache stores code images in Redis with a TTL matching the slot expiry.
type RedisCodeCache struct {
	client redis.UniversalClient
}

// NewRedisCodeCache wraps a connected client.
func NewRedisCodeCache(client redis.UniversalClient) *RedisCodeCache {
	return &RedisCodeCache{client: client}
}

// Get returns the cached image for gym and slot.
func (c *RedisCodeCache) Get(ctx context.Context, gymID string, slot int64) ([]byte, bool, error) {
	png, err := c.client.Get(ctx, Key(gymID, slot)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return png, true, nil
}

// Set stores the image until ttl elapses.
func (c *RedisCodeCache) Set(ctx context.Context, gymID string, slot int64, png []byte, ttl time.Duration) error {
	return c.client.Set(ctx, Key(gymID, slot), png, ttl).Err()
}

// Key is the Redis key of a gym's code image for one slot.
func Key(gymID string, slot int64) string {
	return fmt.Sprintf("%s:%s:%d", keyPrefix, gymID, slot)
}

// NewRedisClient builds a client from either a redis:// URL or a host:port
// address and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
		if password != "" {
			opts.Password = password
		}
	} else {
		opts = &redis.Options{Addr: addr, Password: password, DB: db}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
