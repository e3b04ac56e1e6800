package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from attackers rotating source keys.
	maxTrackedKeys = 4096

	defaultRatePerMinute = 30
	defaultBurst         = 10
)

// RateLimiter bounds per-key inbound message rates using a token bucket
// per key, evicting idle keys once the tracked set grows past
// maxTrackedKeys.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
}

type entry struct {
	limiter *rate.Limiter
	lastHit time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Every(time.Minute / defaultRatePerMinute),
		burst:    defaultBurst,
	}
}

// Allow reports whether key is within its rate limit, creating a fresh
// bucket for keys seen for the first time.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.limiters) >= maxTrackedKeys {
		r.evictIdle(now)
	}

	e, ok := r.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[key] = e
	}
	e.lastHit = now
	return e.limiter.Allow()
}

func (r *RateLimiter) evictIdle(now time.Time) {
	const idleAfter = 10 * time.Minute
	for k, e := range r.limiters {
		if now.Sub(e.lastHit) >= idleAfter {
			delete(r.limiters, k)
		}
	}
	for len(r.limiters) >= maxTrackedKeys {
		for k := range r.limiters {
			delete(r.limiters, k)
			break
		}
	}
}
