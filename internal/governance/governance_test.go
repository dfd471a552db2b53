package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterPerKey(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(map[string]RateLimit{"Svc.Place": {CallsPerSecond: 1, Burst: 2}}, nil)
	rl.now = clock.Now

	assert.True(t, rl.Allow("Svc.Place"))
	assert.True(t, rl.Allow("Svc.Place"))
	assert.False(t, rl.Allow("Svc.Place"))
	assert.True(t, rl.Allow("Svc.Other"), "keys without a limit are unlimited")

	clock.Advance(time.Second)
	assert.True(t, rl.Allow("Svc.Place"))
	assert.False(t, rl.Allow("Svc.Place"))
}

func TestRateLimiterFallback(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(nil, &RateLimit{CallsPerSecond: 1, Burst: 1})
	rl.now = clock.Now

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	stats := rl.Stats()
	require.Contains(t, stats, "a")
	assert.Equal(t, 1, stats["a"].Burst)
}

func TestRateLimiterReconfigureKeepsTokens(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(map[string]RateLimit{"k": {CallsPerSecond: 1, Burst: 1}}, nil)
	rl.now = clock.Now

	require.True(t, rl.Allow("k"))
	rl.Configure(map[string]RateLimit{"k": {CallsPerSecond: 1, Burst: 3}}, nil)
	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	rl.Configure(nil, nil)
	assert.True(t, rl.Allow("k"))
}

func TestRateLimiterContext(t *testing.T) {
	rl := NewRateLimiter(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, rl.AllowContext(ctx, "k"))
	assert.True(t, rl.AllowContext(context.Background(), "k"))
}

func TestRateLimiterNeverExceedsBurst(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		burst := rapid.IntRange(1, 20).Draw(rt, "burst")
		calls := rapid.IntRange(0, 60).Draw(rt, "calls")

		clock := newFakeClock()
		rl := NewRateLimiter(nil, &RateLimit{CallsPerSecond: 1, Burst: burst})
		rl.now = clock.Now

		allowed := 0
		for i := 0; i < calls; i++ {
			if rl.Allow("k") {
				allowed++
			}
		}
		if allowed > burst {
			rt.Fatalf("allowed %d calls with burst %d", allowed, burst)
		}
	})
}

func TestCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(BreakerConfig{ConsecutiveFailures: 2, OpenFor: time.Second}, clock.Now)
	boom := errors.New("boom")

	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, boom, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(BreakerConfig{ConsecutiveFailures: 1, OpenFor: time.Second, Probes: 2}, clock.Now)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Allow())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "probe budget exhausted")

	cb.Record(nil)
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.Record(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(BreakerConfig{ConsecutiveFailures: 1, OpenFor: time.Second}, clock.Now)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	clock.Advance(2 * time.Second)
	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerFailureRate(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(BreakerConfig{FailureRate: 50, MinCalls: 4, Window: 10 * time.Second, Buckets: 5}, clock.Now)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, StateClosed, cb.State(), "below MinCalls")
	_ = cb.Execute(func() error { return boom })
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerWindowForgetsOldCalls(t *testing.T) {
	clock := newFakeClock()
	cb := newCircuitBreaker(BreakerConfig{FailureRate: 50, MinCalls: 2, Window: 10 * time.Second, Buckets: 5}, clock.Now)

	_ = cb.Execute(func() error { return errors.New("old") })
	clock.Advance(time.Minute)
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return nil })
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Stats().Calls)
}

func TestBreakersPerKey(t *testing.T) {
	b := NewBreakers(BreakerConfig{ConsecutiveFailures: 1}, map[string]BreakerConfig{"slow": {ConsecutiveFailures: 3}})
	assert.Same(t, b.For("a"), b.For("a"))
	assert.NotSame(t, b.For("a"), b.For("b"))

	_ = b.For("a").Execute(func() error { return errors.New("x") })
	_ = b.For("slow").Execute(func() error { return errors.New("x") })
	stats := b.Stats()
	assert.Equal(t, StateOpen, stats["a"].State)
	assert.Equal(t, StateClosed, stats["slow"].State)

	b.ResetAll()
	assert.Equal(t, StateClosed, b.For("a").State())
}

func TestRetryPolicyDo(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond})
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	retries, err := p.Do(context.Background(), func(int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, slept)
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 1})
	p.sleep = func(context.Context, time.Duration) error { return nil }
	boom := errors.New("boom")

	retries, err := p.Do(context.Background(), func(int) error { return boom })
	assert.Equal(t, 1, retries)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, Retryable: func(err error) bool { return false }})
	boom := errors.New("boom")

	calls := 0
	_, err := p.Do(context.Background(), func(int) error { calls++; return boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsRetryable(ErrCircuitOpen))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestRetryBackoffBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		initial := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(rt, "initial"))
		maxBackoff := time.Duration(rapid.Int64Range(int64(initial), int64(10*time.Second)).Draw(rt, "max"))
		attempt := rapid.IntRange(0, 40).Draw(rt, "attempt")

		p := NewRetryPolicy(RetryConfig{InitialBackoff: initial, MaxBackoff: maxBackoff, Multiplier: 2, Jitter: true})
		d := p.Backoff(attempt)
		if d <= 0 || d > maxBackoff+maxBackoff/4 {
			rt.Fatalf("backoff %v outside (0, %v]", d, maxBackoff+maxBackoff/4)
		}
	})
}

func TestTimeouts(t *testing.T) {
	tm := NewTimeouts(time.Hour, map[string]time.Duration{"fast": time.Nanosecond, "none": 0})
	assert.Equal(t, time.Hour, tm.For("other"))

	ctx, cancel := tm.WithTimeout(context.Background(), "fast")
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), ErrCallTimeout)

	ctx2, cancel2 := tm.WithTimeout(context.Background(), "none")
	defer cancel2()
	_, hasDeadline := ctx2.Deadline()
	assert.False(t, hasDeadline)
}
