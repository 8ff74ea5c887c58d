package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// Cache holds short-lived markers: seen request signatures, consumed
// event ids and handled alert ids. A ttl <= 0 keeps the key until Del.
type Cache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RedisCache shares markers between replicas. Keys are namespaced with
// Prefix so the services can share one Redis.
type RedisCache struct {
	client *redis.Client
	Prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, Prefix: prefix}
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.SetNX(ctx, r.Prefix+key, value, ttl).Result()
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.Prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisCache) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.Prefix+key).Err()
}

// MemoryCache keeps markers in process. Replicas do not see each other's
// markers, so it only fits single-instance and local runs.
type MemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]entry
}

type entry struct {
	value   string
	expires time.Time // zero: no expiry
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now, entries: map[string]entry{}}
}

func (m *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.entries[key] = e
	return true, nil
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || !e.live(m.now()) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *MemoryCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryCache) sweep(now time.Time) {
	for k, e := range m.entries {
		if !e.live(now) {
			delete(m.entries, k)
		}
	}
}

// NewCache returns a RedisCache when client answers a ping and a
// MemoryCache otherwise.
func NewCache(ctx context.Context, client *redis.Client, prefix string) Cache {
	if client != nil && client.Ping(ctx).Err() == nil {
		return NewRedisCache(client, prefix)
	}
	return NewMemoryCache()
}
