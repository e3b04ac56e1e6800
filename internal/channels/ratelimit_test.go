package channels

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < defaultBurst; i++ {
		if !r.Allow("user-1") {
			t.Fatalf("expected request %d within burst to be allowed", i)
		}
	}
}

func TestRateLimiter_DeniesBeyondBurst(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < defaultBurst; i++ {
		r.Allow("user-1")
	}
	if r.Allow("user-1") {
		t.Error("expected a request beyond the burst allowance to be denied")
	}
}

func TestRateLimiter_TracksKeysIndependently(t *testing.T) {
	r := NewRateLimiter()
	for i := 0; i < defaultBurst; i++ {
		r.Allow("user-1")
	}
	if !r.Allow("user-2") {
		t.Error("expected a distinct key to have its own independent bucket")
	}
}

func TestRateLimiter_EvictIdleRemovesStaleEntries(t *testing.T) {
	r := NewRateLimiter()
	r.Allow("stale-key")
	if len(r.limiters) != 1 {
		t.Fatalf("expected 1 tracked key, got %d", len(r.limiters))
	}

	r.limiters["stale-key"].lastHit = r.limiters["stale-key"].lastHit.Add(-time.Hour)
	r.evictIdle(time.Now())

	if _, ok := r.limiters["stale-key"]; ok {
		t.Error("expected an idle key to be evicted")
	}
}
