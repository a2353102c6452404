// Package cache holds the key/value backends that mirror active sessions.
// A cache is advisory: callers treat every error as a miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cubis-academy/config"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a byte-oriented key/value store with per-key TTLs.
type Cache interface {
	// Get returns the value stored under key or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key for ttl. A non-positive ttl deletes the key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Options carry what each backend needs to be built.
type Options struct {
	RedisURL         string
	DB               *gorm.DB
	MemoryCacheBytes int
}

// New builds the cache for backend.
func New(ctx context.Context, backend config.CacheBackend, opts Options) (Cache, error) {
	switch backend {
	case config.CacheRedis:
		return NewRedis(ctx, opts.RedisURL)
	case config.CacheDatabase:
		if opts.DB == nil {
			return nil, fmt.Errorf("cache: database backend requires a database handle")
		}
		return NewDatabase(opts.DB), nil
	case config.CacheMemory:
		return NewMemory(opts.MemoryCacheBytes), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownCacheBackend, backend)
	}
}
