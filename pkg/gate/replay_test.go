package gate

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/alternativc/chatbot/pkg/store"
)

type failingCache struct{ store.Cache }

func (failingCache) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("down")
}

func TestReplayGuardRejectsRepeatWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewReplayGuard(store.NewRedisCache(client, "gate:"), time.Minute)
	g := newTestGate(WithReplayGuard(guard))
	req := signedRequest(t, commandForm("/sre", "alert", "C1", "alice"), testSecret, testNow)

	if d := g.Evaluate(context.Background(), req); d.Outcome != Authorized {
		t.Fatalf("first delivery should pass, got %s", d.Outcome)
	}
	if d := g.Evaluate(context.Background(), req); d.Outcome != InvalidSignature {
		t.Fatalf("replay should be rejected, got %s", d.Outcome)
	}
	if !mr.Exists("gate:sig:" + req.Headers.Get(SignatureHeader)) {
		t.Fatal("expected signature key in redis")
	}

	mr.FastForward(2 * time.Minute)
	if d := g.Evaluate(context.Background(), req); d.Outcome != Authorized {
		t.Fatalf("expected acceptance after ttl, got %s", d.Outcome)
	}
}

func TestReplayGuardBadSignatureNotRecorded(t *testing.T) {
	cache := store.NewMemoryCache()
	g := newTestGate(WithReplayGuard(NewReplayGuard(cache, 0)))
	req := signedRequest(t, commandForm("/sre", "alert", "C1", "alice"), testSecret, testNow)
	good := req.Headers.Get(SignatureHeader)
	req.Headers.Set(SignatureHeader, "v0=deadbeef")

	g.Evaluate(context.Background(), req)
	if _, err := cache.Get(context.Background(), "sig:v0=deadbeef"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("rejected signatures must not be stored")
	}
	req.Headers.Set(SignatureHeader, good)
	if d := g.Evaluate(context.Background(), req); d.Outcome != Authorized {
		t.Fatalf("expected authorized, got %s", d.Outcome)
	}
}

func TestReplayGuardAccept(t *testing.T) {
	var nilGuard *ReplayGuard
	if !nilGuard.Accept(context.Background(), "v0=1") {
		t.Fatal("nil guard accepts everything")
	}

	guard := NewReplayGuard(store.NewMemoryCache(), 0)
	if guard.TTL != DefaultMaxSkew {
		t.Fatalf("expected default ttl, got %s", guard.TTL)
	}
	if guard.Accept(context.Background(), " ") {
		t.Fatal("blank signature must be rejected")
	}

	guard = NewReplayGuard(failingCache{}, time.Minute)
	if !guard.Accept(context.Background(), "v0=1") {
		t.Fatal("expected fail-open on cache error")
	}
	guard.FailOpen = false
	if guard.Accept(context.Background(), "v0=1") {
		t.Fatal("expected fail-closed on cache error")
	}
}

func TestReplayGuardLeavesRejectedRequestsRepeatable(t *testing.T) {
	cache := store.NewMemoryCache()
	g := newTestGate(WithReplayGuard(NewReplayGuard(cache, time.Minute)))
	req := signedRequest(t, commandForm("/ops-bot", "alert", "C_OTHER", "bob"), testSecret, testNow)

	first := g.Evaluate(context.Background(), req)
	if first.Outcome != InvalidChannel {
		t.Fatalf("expected INVALID_CHANNEL, got %s", first.Outcome)
	}
	second := g.Evaluate(context.Background(), req)
	if second.Outcome != first.Outcome || second.Message() != first.Message() {
		t.Fatalf("redelivery answered %s %q, first answer was %s %q", second.Outcome, second.Message(), first.Outcome, first.Message())
	}
	if _, err := cache.Get(context.Background(), "sig:"+req.Headers.Get(SignatureHeader)); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("policy rejections must not be recorded")
	}
}

func TestReplayGuardRecordsInteractiveCallbacks(t *testing.T) {
	g := newTestGate(WithReplayGuard(NewReplayGuard(store.NewMemoryCache(), time.Minute)))
	req := signedRequest(t, url.Values{"payload": {`{"type":"view_submission","view":{"private_metadata":"{\"command\":\"/qchain\"}"}}`}}, testSecret, testNow)

	if d := g.Evaluate(context.Background(), req); d.Outcome != Authorized || !d.Interactive {
		t.Fatalf("expected interactive authorization, got %+v", d)
	}
	if d := g.Evaluate(context.Background(), req); d.Outcome != InvalidSignature {
		t.Fatalf("replayed callback should be rejected, got %s", d.Outcome)
	}
}
