package cache

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

var _ Cache = (*Memory)(nil)

// Memory is the in-process cache of last resort. Each item is stored with
// an 8-byte little-endian expiry prefix in unix milliseconds. Expired items
// read as misses and are left for fastcache to overwrite or evict.
type Memory struct {
	fastcache *fastcache.Cache
	now       func() time.Time
}

// NewMemory creates a Memory cache bounded to maxBytes of RAM.
func NewMemory(maxBytes int) *Memory {
	if maxBytes <= 0 {
		maxBytes = 32 * 1024 * 1024
	}
	return &Memory{
		fastcache: fastcache.New(maxBytes),
		now:       time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	item := m.fastcache.Get(nil, []byte(key))
	if len(item) < 8 {
		return nil, ErrMiss
	}

	expiry := time.UnixMilli(int64(binary.LittleEndian.Uint64(item)))
	if !m.now().Before(expiry) {
		return nil, ErrMiss
	}
	return item[8:], nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return m.Delete(ctx, key)
	}

	item := make([]byte, len(value)+8)
	binary.LittleEndian.PutUint64(item, uint64(m.now().Add(ttl).UnixMilli()))
	copy(item[8:], value)

	m.fastcache.Set([]byte(key), item)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.fastcache.Del([]byte(key))
	return nil
}

func (m *Memory) Name() string { return "memory" }

// Reset drops every entry.
func (m *Memory) Reset() {
	m.fastcache.Reset()
}
