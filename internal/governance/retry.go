package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryConfig defines how failed calls are repeated.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (0 disables retries).
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each attempt.
	Multiplier float64
	// Jitter adds up to 25% random delay.
	Jitter bool
	// Retryable classifies errors. Nil retries every error except context
	// cancellation.
	Retryable func(error) bool
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// RetryPolicy decides whether and when a failed call is attempted again.
type RetryPolicy struct {
	cfg   RetryConfig
	sleep func(context.Context, time.Duration) error
}

// NewRetryPolicy creates a policy; non-positive durations take defaults.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	d := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = d.Multiplier
	}
	return &RetryPolicy{cfg: cfg, sleep: sleepContext}
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.cfg
}

// ShouldRetry reports whether attempt (zero-based) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.cfg.MaxRetries {
		return false
	}
	if p.cfg.Retryable != nil {
		return p.cfg.Retryable(err)
	}
	return IsRetryable(err)
}

// Backoff returns the delay after attempt (zero-based).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.cfg.InitialBackoff) * math.Pow(p.cfg.Multiplier, float64(attempt)))
	if d > p.cfg.MaxBackoff || d <= 0 {
		d = p.cfg.MaxBackoff
	}
	if p.cfg.Jitter && d >= 4 {
		// #nosec G404 - jitter does not need a cryptographic source
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries run out. It returns the number of retries performed.
func (p *RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if !p.ShouldRetry(err, attempt) {
			if attempt > 0 {
				return attempt, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
			}
			return attempt, err
		}
		if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
			return attempt, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable is the default classifier: everything but cancellation and
// governance rejections.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, ErrRateLimited):
		return false
	default:
		return true
	}
}
