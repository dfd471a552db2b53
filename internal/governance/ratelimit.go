package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a method has no tokens left.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit is a token bucket configuration.
type RateLimit struct {
	CallsPerSecond float64
	Burst          int
}

func (l RateLimit) normalized() RateLimit {
	if l.CallsPerSecond <= 0 {
		l.CallsPerSecond = 100
	}
	if l.Burst <= 0 {
		l.Burst = int(l.CallsPerSecond)
		if l.Burst < 1 {
			l.Burst = 1
		}
	}
	return l
}

// RateLimiter keeps one token bucket per method key. Keys without an
// explicit limit use the default limit, or are unlimited when no default
// is set.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[string]RateLimit
	fallback *RateLimit
	buckets  map[string]*tokenBucket
	now      func() time.Time
}

// NewRateLimiter creates a limiter with per-key limits and an optional default.
func NewRateLimiter(limits map[string]RateLimit, fallback *RateLimit) *RateLimiter {
	rl := &RateLimiter{buckets: make(map[string]*tokenBucket), now: time.Now}
	rl.Configure(limits, fallback)
	return rl
}

// Configure replaces the limits. Buckets of keys that keep a limit retain
// their tokens, capped at the new burst.
func (rl *RateLimiter) Configure(limits map[string]RateLimit, fallback *RateLimit) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limits = make(map[string]RateLimit, len(limits))
	for key, l := range limits {
		rl.limits[key] = l.normalized()
	}
	rl.fallback = nil
	if fallback != nil {
		f := fallback.normalized()
		rl.fallback = &f
	}

	now := rl.now()
	for key, b := range rl.buckets {
		l, ok := rl.limitLocked(key)
		if !ok {
			delete(rl.buckets, key)
			continue
		}
		b.reconfigure(l, now)
	}
}

func (rl *RateLimiter) limitLocked(key string) (RateLimit, bool) {
	if l, ok := rl.limits[key]; ok {
		return l, true
	}
	if rl.fallback != nil {
		return *rl.fallback, true
	}
	return RateLimit{}, false
}

// Allow consumes one token for key and reports whether the call may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		l, limited := rl.limitLocked(key)
		if !limited {
			return true
		}
		b = newTokenBucket(l, now)
		rl.buckets[key] = b
	}
	return b.take(now)
}

// AllowContext is Allow that refuses calls whose context is already done.
func (rl *RateLimiter) AllowContext(ctx context.Context, key string) bool {
	if ctx.Err() != nil {
		return false
	}
	return rl.Allow(key)
}

// RateLimitStats describes a bucket.
type RateLimitStats struct {
	CallsPerSecond float64 `json:"callsPerSecond"`
	Burst          int     `json:"burst"`
	Available      float64 `json:"available"`
}

// Stats returns the state of every bucket that has seen a call.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	out := make(map[string]RateLimitStats, len(rl.buckets))
	for key, b := range rl.buckets {
		b.refill(now)
		out[key] = RateLimitStats{CallsPerSecond: b.rate, Burst: int(b.capacity), Available: b.tokens}
	}
	return out
}

// tokenBucket is guarded by the limiter's mutex.
type tokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(l RateLimit, now time.Time) *tokenBucket {
	return &tokenBucket{rate: l.CallsPerSecond, capacity: float64(l.Burst), tokens: float64(l.Burst), last: now}
}

func (b *tokenBucket) reconfigure(l RateLimit, now time.Time) {
	b.refill(now)
	grown := float64(l.Burst) - b.capacity
	b.rate = l.CallsPerSecond
	b.capacity = float64(l.Burst)
	if grown > 0 {
		b.tokens += grown
	}
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *tokenBucket) refill(now time.Time) {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

func (b *tokenBucket) take(now time.Time) bool {
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
