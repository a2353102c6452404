package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ Cache = (*Redis)(nil)

// Redis is the distributed cache backend.
type Redis struct {
	db *redis.Client
}

// NewRedis connects to rawURL (redis:// or rediss://) and verifies the
// connection with a PING.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("cache/redis: connection url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache/redis: invalid url: %w", err)
	}

	db := redis.NewClient(opts)
	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache/redis: error connecting to redis: %w", err)
	}
	return &Redis{db: db}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(db *redis.Client) *Redis {
	return &Redis{db: db}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	} else if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.Delete(ctx, key)
	}
	return r.db.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.db.Del(ctx, key).Err()
}

func (r *Redis) Name() string { return "redis" }

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.db.Close()
}
