package intercept

import (
	"reflect"
)

// Interceptor is a behaviour unit run once per call. It may inspect or
// mutate arguments, short-circuit by supplying a result without calling
// Proceed, or forward the call with Proceed.
type Interceptor interface {
	Intercept(inv *Invocation)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(inv *Invocation)

// Intercept calls f(inv).
func (f InterceptorFunc) Intercept(inv *Invocation) {
	f(inv)
}

// Proceed runs the next interceptor or, at the end of the chain, the real
// member with the current arguments. Errors returned by the real member
// are stored on the invocation (see Err) and are not returned here; the
// returned error is a pipeline fault, which is also recorded and surfaces
// to the caller when the call completes.
func (inv *Invocation) Proceed() error {
	if inv.completed {
		return pipelineErr(inv.method, ErrInvocationCompleted, "")
	}
	if inv.pos >= 0 {
		if inv.proceeded[inv.pos] {
			return inv.record(pipelineErr(inv.method, ErrProceedTwice, "interceptor %d", inv.pos))
		}
		inv.proceeded[inv.pos] = true
	}
	return inv.advance(inv.pos)
}

// advance executes the pipeline stage after position from.
func (inv *Invocation) advance(from int) error {
	next := from + 1
	if next < len(inv.chain) {
		prev := inv.pos
		inv.pos = next
		inv.proceeded[next] = false
		defer func() { inv.pos = prev }()
		inv.chain[next].Intercept(inv)
		return nil
	}
	return inv.invokeTarget()
}

// invokeTarget calls the real member. Panics raised by the member are not
// recovered.
func (inv *Invocation) invokeTarget() error {
	fn, err := inv.inst.member(inv.method)
	if err != nil {
		return inv.record(err)
	}
	in := make([]reflect.Value, len(inv.args))
	for i, p := range inv.method.Params {
		if ref, ok := inv.args[i].(*Ref); ok {
			if !ref.Alive() {
				return inv.record(pipelineErr(inv.method, ErrRefInvalidated, "argument %d", i))
			}
			in[i] = ref.targetArg()
			continue
		}
		rv, ok := assignValue(p.Type, inv.args[i])
		if !ok {
			return inv.record(pipelineErr(inv.method, ErrArgument, "argument %d: %T is not assignable to %s", i, inv.args[i], p.Type))
		}
		in[i] = rv
	}
	var out []reflect.Value
	if inv.method.Func.IsVariadic() {
		out = fn.CallSlice(in)
	} else {
		out = fn.Call(in)
	}
	inv.storeResults(out)
	return nil
}

// Continuation re-runs the remainder of a pipeline from the point where it
// was captured. It exists for interceptors that deliberately repeat the
// downstream call, such as retries.
type Continuation struct {
	inv *Invocation
	pos int
}

// Capture records the current pipeline position for later re-execution.
// Calls with ref or span arguments cannot be captured because the
// caller's storage does not outlive the call.
func (inv *Invocation) Capture() (*Continuation, error) {
	if inv.method.special {
		return nil, pipelineErr(inv.method, ErrReplayUnsupported, "member has ref or span parameters")
	}
	return &Continuation{inv: inv, pos: inv.pos}, nil
}

// Proceed runs the downstream pipeline again. Results replace those on
// the captured invocation. A continuation is only valid while the call
// it was captured from is still running.
func (c *Continuation) Proceed() error {
	inv := c.inv
	if inv.completed {
		return pipelineErr(inv.method, ErrInvocationCompleted, "continuation used after the call returned")
	}
	prev := inv.pos
	inv.pos = c.pos
	defer func() { inv.pos = prev }()
	if c.pos >= 0 {
		inv.proceeded[c.pos] = true
	}
	return inv.advance(c.pos)
}

// Invocation returns the captured invocation.
func (c *Continuation) Invocation() *Invocation {
	return c.inv
}
