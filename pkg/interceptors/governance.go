package interceptors

import (
	"context"
	"errors"
	"fmt"

	"github.com/polisai/interpose/internal/governance"
	"github.com/polisai/interpose/pkg/intercept"
)

// RateLimit returns an interceptor that takes one token from the method's
// bucket per call and rejects calls once the bucket is empty.
func RateLimit(limiter *governance.RateLimiter) intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		key := MethodKey(inv.Method())
		if !limiter.AllowContext(inv.Context(), key) {
			reject(inv, fmt.Errorf("%s: %w", key, governance.ErrRateLimited))
			return
		}
		_ = inv.Proceed()
	})
}

// CircuitBreaker returns an interceptor that guards each method with its
// own breaker. Error results and panics count as failures.
func CircuitBreaker(breakers *governance.Breakers) intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		key := MethodKey(inv.Method())
		cb := breakers.For(key)
		if err := cb.Allow(); err != nil {
			reject(inv, fmt.Errorf("%s: %w", key, err))
			return
		}

		recorded := false
		defer func() {
			if recorded {
				return
			}
			if r := recover(); r != nil {
				cb.Record(panicError(r))
				panic(r)
			}
		}()

		fault := inv.Proceed()
		if fault == nil {
			fault = inv.Err()
		}
		cb.Record(fault)
		recorded = true
	})
}

// RetryOptions configure the retry interceptor.
type RetryOptions struct {
	// OnRetry is called before each repeated attempt.
	OnRetry func(inv *intercept.Invocation, attempt int, err error)
}

// Retry returns an interceptor that repeats the rest of the chain while the
// call fails with a retryable error. Members without an error result, and
// members with ref or span parameters, are forwarded once.
func Retry(policy *governance.RetryPolicy, opts RetryOptions) intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		if !inv.Method().ReturnsErr {
			_ = inv.Proceed()
			return
		}
		cont, err := inv.Capture()
		if err != nil {
			_ = inv.Proceed()
			return
		}

		var fault error
		_, err = policy.Do(inv.Context(), func(attempt int) error {
			if attempt > 0 && opts.OnRetry != nil {
				opts.OnRetry(inv, attempt, inv.Err())
			}
			if fault = cont.Proceed(); fault != nil {
				return nil
			}
			return inv.Err()
		})
		if fault != nil || err == nil {
			return
		}
		if errors.Is(err, governance.ErrRetriesExhausted) || !errors.Is(err, inv.Err()) {
			_ = inv.SetError(err)
		}
	})
}

// Timeout returns an interceptor that bounds context-first members by the
// method's deadline. Other members are forwarded unchanged. A target that
// fails because the deadline passed reports governance.ErrCallTimeout.
func Timeout(timeouts *governance.Timeouts) intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		m := inv.Method()
		if !m.TakesContext() {
			_ = inv.Proceed()
			return
		}
		key := MethodKey(m)
		parent := inv.Context()
		ctx, cancel := timeouts.WithTimeout(parent, key)
		defer cancel()

		inv.SetContext(ctx)
		defer inv.SetContext(parent)

		if fault := inv.Proceed(); fault != nil {
			return
		}
		err := inv.Err()
		if err == nil || !m.ReturnsErr {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(context.Cause(ctx), governance.ErrCallTimeout) {
			_ = inv.SetError(fmt.Errorf("%s after %s: %w: %w", key, timeouts.For(key), governance.ErrCallTimeout, err))
		}
	})
}
