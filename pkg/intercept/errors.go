package intercept

import (
	"errors"
	"fmt"
	"reflect"
)

// Shape errors are raised while creating a proxy. No partial proxy is ever
// returned alongside one.
var (
	// ErrNotProxyable indicates the contract cannot be proxied at all.
	ErrNotProxyable = errors.New("contract is not proxyable")
	// ErrNotInterface indicates an interface was required but another kind was supplied.
	ErrNotInterface = errors.New("contract is not an interface")
	// ErrNotOverridable indicates a member of the contract cannot be intercepted.
	ErrNotOverridable = errors.New("member cannot be overridden")
	// ErrNoStub indicates no generated stub is registered for the requested shape.
	ErrNoStub = fmt.Errorf("%w: no generated stub registered", ErrNotProxyable)
	// ErrTargetNotAssignable indicates the target does not implement the contract.
	ErrTargetNotAssignable = errors.New("target is not assignable to contract")
	// ErrNilInterceptors indicates an entry of the interceptor list is nil.
	// A nil list is the empty list.
	ErrNilInterceptors = errors.New("interceptors must not be nil")
	// ErrMixinCollision indicates a mixin shares a member name with the contract or another mixin.
	ErrMixinCollision = errors.New("mixin member collides with contract")
)

// Pipeline errors are raised while a call is running.
var (
	// ErrProceedTwice indicates an interceptor called Proceed more than once.
	ErrProceedTwice = errors.New("proceed called more than once by the same interceptor")
	// ErrNoTarget indicates the chain ended without a target to invoke.
	ErrNoTarget = errors.New("no target to proceed to")
	// ErrRefInvalidated indicates a special value was accessed after its call returned.
	ErrRefInvalidated = errors.New("special value accessed after its call returned")
	// ErrRefType indicates a special value was accessed with the wrong static type.
	ErrRefType = errors.New("special value type mismatch")
	// ErrReturnNotSet indicates an interceptor short-circuited without supplying a return value.
	ErrReturnNotSet = errors.New("return value was not set")
	// ErrReturnType indicates a return value is not assignable to the declared result type.
	ErrReturnType = errors.New("return value type mismatch")
	// ErrArgument indicates an argument index or value is invalid for the method.
	ErrArgument = errors.New("invalid argument")
	// ErrReplayUnsupported indicates the call cannot be captured for replay.
	ErrReplayUnsupported = errors.New("replay not supported for this call shape")
	// ErrInvocationCompleted indicates the invocation was used after its call returned.
	ErrInvocationCompleted = errors.New("invocation already completed")
)

// ShapeError reports why a proxy could not be created for a contract.
type ShapeError struct {
	Contract reflect.Type
	Err      error
	Detail   string
}

func (e *ShapeError) Error() string {
	name := "<nil>"
	if e.Contract != nil {
		name = e.Contract.String()
	}
	if e.Detail == "" {
		return fmt.Sprintf("intercept: %s: %v", name, e.Err)
	}
	return fmt.Sprintf("intercept: %s: %v: %s", name, e.Err, e.Detail)
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// PipelineError reports a misuse of the interception pipeline during a call.
type PipelineError struct {
	Method string
	Err    error
	Detail string
}

func (e *PipelineError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("intercept: %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("intercept: %s: %v: %s", e.Method, e.Err, e.Detail)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func shapeErr(contract reflect.Type, err error, format string, args ...any) *ShapeError {
	return &ShapeError{Contract: contract, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func pipelineErr(m *Method, err error, format string, args ...any) *PipelineError {
	return &PipelineError{Method: m.String(), Err: err, Detail: fmt.Sprintf(format, args...)}
}

// IsShapeError reports whether err was raised while creating a proxy.
func IsShapeError(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}

// IsPipelineError reports whether err was raised by the pipeline during a call.
func IsPipelineError(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}
