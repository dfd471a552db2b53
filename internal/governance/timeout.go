package governance

import (
	"context"
	"errors"
	"time"
)

// ErrCallTimeout is returned when a call outlives its deadline.
var ErrCallTimeout = errors.New("call timeout exceeded")

// Timeouts assigns deadlines to method calls.
type Timeouts struct {
	fallback  time.Duration
	overrides map[string]time.Duration
}

// NewTimeouts creates a table with a default and per-key overrides. A
// non-positive duration means no deadline.
func NewTimeouts(fallback time.Duration, overrides map[string]time.Duration) *Timeouts {
	o := make(map[string]time.Duration, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Timeouts{fallback: fallback, overrides: o}
}

// For returns the timeout for key.
func (t *Timeouts) For(key string) time.Duration {
	if d, ok := t.overrides[key]; ok {
		return d
	}
	return t.fallback
}

// WithTimeout derives a context bounded by key's timeout. The returned
// cancel func must always be called.
func (t *Timeouts) WithTimeout(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	d := t.For(key)
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, d, ErrCallTimeout)
}
