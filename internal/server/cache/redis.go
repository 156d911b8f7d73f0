package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avoronov/userdir/internal/common"
)

// RedisCache implements Cache on a Redis backend. Entry replacement is
// atomic (SET with expiry), which gives the "fully replaced or fully
// absent" listing invariant for free.
type RedisCache struct {
	client redis.UniversalClient
}

// Config holds Redis connection settings.
type Config struct {
	// Client is an existing Redis client. If provided, Addr and DB are
	// ignored.
	Client redis.UniversalClient

	// Addr is the Redis server address (host:port).
	Addr string

	// DB is the Redis database number.
	DB int
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(cfg *Config) *RedisCache {
	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
			DB:   cfg.DB,
		})
	}
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrorCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, val, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Ping verifies the Redis connection is alive.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
