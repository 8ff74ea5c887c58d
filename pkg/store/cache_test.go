package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCacheMarkers(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, err := c.SetNX(ctx, "alert:a-1", "1", time.Minute); err != nil || !ok {
		t.Fatalf("first mark: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.SetNX(ctx, "alert:a-1", "2", time.Minute); ok {
		t.Fatal("second mark within ttl must fail")
	}
	if v, err := c.Get(ctx, "alert:a-1"); err != nil || v != "1" {
		t.Fatalf("get: %q %v", v, err)
	}

	now = now.Add(time.Minute)
	if _, err := c.Get(ctx, "alert:a-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry at ttl, got %v", err)
	}
	if ok, _ := c.SetNX(ctx, "alert:a-1", "3", time.Minute); !ok {
		t.Fatal("expired key must be markable again")
	}

	if err := c.Del(ctx, "alert:a-1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.SetNX(ctx, "alert:a-1", "4", 0); !ok {
		t.Fatal("mark after delete must succeed")
	}
	now = now.Add(24 * time.Hour)
	if v, err := c.Get(ctx, "alert:a-1"); err != nil || v != "4" {
		t.Fatalf("zero ttl must not expire: %q %v", v, err)
	}
}

func TestNewCacheFallsBackToMemory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, ok := NewCache(ctx, nil, "x:").(*MemoryCache); !ok {
		t.Fatal("expected MemoryCache for nil redis client")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
		MaxRetries:   0,
	})
	defer client.Close()
	if _, ok := NewCache(ctx, client, "x:").(*MemoryCache); !ok {
		t.Fatal("expected MemoryCache fallback on redis ping failure")
	}
}

func TestRedisCacheMethodsUsePrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	cache := NewCache(ctx, client, "gk:")
	rc, ok := cache.(*RedisCache)
	if !ok {
		t.Fatalf("expected RedisCache, got %T", cache)
	}

	ok, err = rc.SetNX(ctx, "sig:abc", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setnx failed: ok=%v err=%v", ok, err)
	}
	if !mr.Exists("gk:sig:abc") {
		t.Fatal("expected prefixed key in redis")
	}
	ok, _ = rc.SetNX(ctx, "sig:abc", "2", time.Minute)
	if ok {
		t.Fatal("expected duplicate setnx to fail")
	}

	if got, err := rc.Get(ctx, "sig:abc"); err != nil || got != "1" {
		t.Fatalf("expected first value kept, got %q (%v)", got, err)
	}
	if ok, _ := rc.SetNX(ctx, "evt:forever", "1", -time.Second); !ok || mr.TTL("gk:evt:forever") != 0 {
		t.Fatal("negative ttl must store without expiry")
	}
	if err := rc.Del(ctx, "evt:forever"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := rc.Get(ctx, "evt:forever"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	ok, _ = rc.SetNX(ctx, "sig:abc", "3", time.Minute)
	if !ok {
		t.Fatal("expected setnx to succeed once the ttl elapsed")
	}
}

func TestNewRedis(t *testing.T) {
	if _, err := NewRedis(context.Background(), RedisConfig{}); !errors.Is(err, ErrRedisDisabled) {
		t.Fatalf("expected ErrRedisDisabled, got %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	client, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr(), RequireTLS: true}); err == nil {
		t.Fatal("expected error when TLS is required but disabled")
	}
}

func TestRedisTLSConfig(t *testing.T) {
	if cfg, err := (RedisConfig{}).tlsConfig(); err != nil || cfg != nil {
		t.Fatalf("expected nil tls config when disabled, got %v %v", cfg, err)
	}
	if _, err := (RedisConfig{TLS: true, Insecure: true}).tlsConfig(); err == nil {
		t.Fatal("expected insecure tls to require explicit allow")
	}
	cfg, err := (RedisConfig{TLS: true, Insecure: true, AllowInsec: true, ServerName: "redis.internal"}).tlsConfig()
	if err != nil || !cfg.InsecureSkipVerify || cfg.ServerName != "redis.internal" {
		t.Fatalf("unexpected tls config %+v (%v)", cfg, err)
	}
	if _, err := (RedisConfig{TLS: true, CertFile: "a.pem"}).tlsConfig(); err == nil {
		t.Fatal("expected error for cert without key")
	}
	bad := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (RedisConfig{TLS: true, CAFile: bad}).tlsConfig(); err == nil {
		t.Fatal("expected error for invalid CA bundle")
	}
}

func TestRedisConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", " cache:6379 ")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_TLS", "yes")
	cfg := RedisConfigFromEnv()
	if cfg.Addr != "cache:6379" || cfg.DB != 3 || !cfg.TLS {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
