package interceptors

import (
	"context"
	"errors"
	"fmt"

	"github.com/polisai/interpose/internal/governance"
	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/telemetry"
)

// ErrDenied indicates a call was rejected by authorization policy.
var ErrDenied = errors.New("call denied by policy")

// DeniedError carries the method and policy reason of a denial.
type DeniedError struct {
	Method string
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("call to %s denied by policy", e.Method)
	}
	return fmt.Sprintf("call to %s denied by policy: %s", e.Method, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// IsDenied reports whether err is a policy denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDenied)
}

// MethodKey returns the key interceptors use for per-method state.
func MethodKey(m *intercept.Method) string {
	return m.String()
}

// reject ends the call with err without reaching the target. Members
// without an error result cannot carry err, so it is raised as a panic.
func reject(inv *intercept.Invocation, err error) {
	if inv.Method().ReturnsErr {
		_ = inv.SetError(err)
		return
	}
	panic(err)
}

// outcome classifies a finished call for metrics.
func outcome(err error) telemetry.CallOutcome {
	switch {
	case err == nil:
		return telemetry.OutcomeOK
	case errors.Is(err, ErrDenied):
		return telemetry.OutcomeDenied
	case errors.Is(err, governance.ErrRateLimited):
		return telemetry.OutcomeRateLimited
	case errors.Is(err, governance.ErrCircuitOpen):
		return telemetry.OutcomeCircuitOpen
	case errors.Is(err, governance.ErrCallTimeout), errors.Is(err, context.DeadlineExceeded):
		return telemetry.OutcomeTimeout
	default:
		return telemetry.OutcomeError
	}
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
