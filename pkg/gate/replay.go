package gate

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/alternativc/chatbot/pkg/store"
)

// ReplayGuard remembers accepted signatures for the freshness window so a
// captured request cannot be replayed while its timestamp is still valid.
type ReplayGuard struct {
	Cache store.Cache
	TTL   time.Duration
	// FailOpen admits the request when the cache is unreachable.
	FailOpen bool
}

// NewReplayGuard returns a fail-open guard. A ttl <= 0 uses DefaultMaxSkew.
func NewReplayGuard(cache store.Cache, ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		ttl = DefaultMaxSkew
	}
	return &ReplayGuard{Cache: cache, TTL: ttl, FailOpen: true}
}

// Accept reports whether signature has not been seen within the window and
// records it.
func (r *ReplayGuard) Accept(ctx context.Context, signature string) bool {
	if r == nil || r.Cache == nil {
		return true
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ok, err := r.Cache.SetNX(ctx, "sig:"+signature, "1", r.TTL)
	if err != nil {
		log.Printf("gate replay guard unavailable: %v", err)
		return r.FailOpen
	}
	return ok
}
