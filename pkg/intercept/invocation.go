package intercept

import (
	"context"
	"reflect"
)

// Invocation is the record of one call travelling through the interceptor
// pipeline. It is created per call, confined to the calling goroutine, and
// must not be retained once the call returns.
type Invocation struct {
	inst     *Instance
	method   *Method
	generics []reflect.Type
	args     []any
	refs     []*Ref
	chain    []Interceptor

	values   []any
	err      error
	returned bool

	pos       int
	proceeded []bool
	fault     error
	completed bool
}

func newInvocation(inst *Instance, m *Method, generics []reflect.Type, args []any) *Invocation {
	inv := &Invocation{
		inst:      inst,
		method:    m,
		generics:  generics,
		args:      make([]any, len(args)),
		chain:     inst.chains[m.index],
		values:    make([]any, m.ValueResults()),
		pos:       -1,
		proceeded: make([]bool, len(inst.chains[m.index])),
	}
	for i, p := range m.Params {
		arg := args[i]
		if p.Kind == ParamValue || arg == nil {
			inv.args[i] = arg
			continue
		}
		rv := reflect.ValueOf(arg)
		if p.Kind == ParamRef && rv.IsNil() {
			inv.args[i] = arg
			continue
		}
		ref := newRef(m, i, p.Kind, rv)
		inv.refs = append(inv.refs, ref)
		inv.args[i] = ref
	}
	return inv
}

// Method describes the member being called.
func (inv *Invocation) Method() *Method {
	return inv.method
}

// GenericArguments returns the type arguments of a generic contract's
// instantiation, as supplied by the proxy at call time.
func (inv *Invocation) GenericArguments() []reflect.Type {
	return append([]reflect.Type(nil), inv.generics...)
}

// Arguments returns a copy of the current arguments. Ref and span
// parameters appear as *Ref.
func (inv *Invocation) Arguments() []any {
	return append([]any(nil), inv.args...)
}

// Argument returns the current value of argument i.
func (inv *Invocation) Argument(i int) any {
	if i < 0 || i >= len(inv.args) {
		return nil
	}
	return inv.args[i]
}

// Ref returns argument i when it is marshalled as a special value.
func (inv *Invocation) Ref(i int) (*Ref, bool) {
	if i < 0 || i >= len(inv.args) {
		return nil, false
	}
	r, ok := inv.args[i].(*Ref)
	return r, ok
}

// SetArgument replaces argument i. Later interceptors and the target see
// the new value. Special-value arguments are changed through their Ref.
func (inv *Invocation) SetArgument(i int, v any) error {
	if i < 0 || i >= len(inv.args) {
		return pipelineErr(inv.method, ErrArgument, "index %d out of range", i)
	}
	p := inv.method.Params[i]
	if _, isRef := inv.args[i].(*Ref); isRef {
		return pipelineErr(inv.method, ErrArgument, "argument %d is a %s value; write through its Ref", i, p.Kind)
	}
	rv, ok := assignValue(p.Type, v)
	if !ok {
		return pipelineErr(inv.method, ErrArgument, "argument %d: %T is not assignable to %s", i, v, p.Type)
	}
	inv.args[i] = rv.Interface()
	return nil
}

// Context returns the call's context.Context when the member takes one as
// its first parameter, and context.Background otherwise.
func (inv *Invocation) Context() context.Context {
	if inv.method.ctxParam {
		if ctx, ok := inv.args[0].(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// SetContext replaces the leading context.Context argument. It reports
// false when the member does not take one.
func (inv *Invocation) SetContext(ctx context.Context) bool {
	if !inv.method.ctxParam {
		return false
	}
	inv.args[0] = ctx
	return true
}

// Target returns the object the call is forwarded to at the end of the
// chain: the proxy's target, or the mixin implementing the member.
func (inv *Invocation) Target() any {
	if inv.method.Origin == OriginMixin {
		return inv.inst.mixins[inv.method.mixin]
	}
	return inv.inst.target
}

// Proxy returns the proxy value the call was made on.
func (inv *Invocation) Proxy() any {
	return inv.inst.proxy
}

// ReturnValue returns the first non-error result.
func (inv *Invocation) ReturnValue() any {
	if len(inv.values) == 0 {
		return nil
	}
	return inv.values[0]
}

// Results returns a copy of the non-error results.
func (inv *Invocation) Results() []any {
	return append([]any(nil), inv.values...)
}

// SetReturnValue sets the first non-error result. For members with no
// value results it only marks the return as supplied.
func (inv *Invocation) SetReturnValue(v any) error {
	if len(inv.values) == 0 {
		if v != nil {
			return pipelineErr(inv.method, ErrReturnType, "member returns no value")
		}
		inv.returned = true
		return nil
	}
	return inv.SetResult(0, v)
}

// SetResult sets non-error result i.
func (inv *Invocation) SetResult(i int, v any) error {
	if i < 0 || i >= len(inv.values) {
		return pipelineErr(inv.method, ErrReturnType, "result index %d out of range", i)
	}
	rv, ok := assignValue(inv.method.Results[i], v)
	if !ok {
		return pipelineErr(inv.method, ErrReturnType, "%T is not assignable to %s", v, inv.method.Results[i])
	}
	inv.values[i] = rv.Interface()
	inv.returned = true
	return nil
}

// Err returns the trailing error result.
func (inv *Invocation) Err() error {
	return inv.err
}

// SetError sets the trailing error result. A non-nil error counts as a
// supplied return. Members without an error result reject it.
func (inv *Invocation) SetError(err error) error {
	if !inv.method.ReturnsErr {
		return pipelineErr(inv.method, ErrReturnType, "member has no error result")
	}
	inv.err = err
	if err != nil {
		inv.returned = true
	}
	return nil
}

// record stores the first pipeline fault; it always surfaces at completion.
func (inv *Invocation) record(err error) error {
	if inv.fault == nil {
		inv.fault = err
	}
	return err
}

// storeResults copies the real member's results into the return slot.
func (inv *Invocation) storeResults(out []reflect.Value) {
	n := inv.method.ValueResults()
	for i := 0; i < n; i++ {
		inv.values[i] = out[i].Interface()
	}
	if inv.method.ReturnsErr {
		inv.err = nil
		if e := out[n]; !e.IsNil() {
			inv.err = e.Interface().(error)
		}
	}
	inv.returned = true
}

// release ends the call: every Ref is invalidated and further pipeline use fails.
func (inv *Invocation) release() {
	inv.completed = true
	for _, r := range inv.refs {
		r.invalidate()
	}
}

// Result carries a completed call's outputs back to the proxy method.
type Result struct {
	values []any
	err    error
}

// Value returns non-error result i.
func (r Result) Value(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Err returns the trailing error result, or the pipeline fault for members
// that declare one.
func (r Result) Err() error {
	return r.err
}

// Out returns non-error result i as T; a nil result yields T's zero value.
func Out[T any](r Result, i int) T {
	v, ok := r.Value(i).(T)
	if !ok {
		var zero T
		return zero
	}
	return v
}

func (r Result) reflectValues(m *Method) []reflect.Value {
	out := make([]reflect.Value, len(m.Results))
	for i := 0; i < m.ValueResults(); i++ {
		rv, ok := assignValue(m.Results[i], r.values[i])
		if !ok {
			rv = reflect.Zero(m.Results[i])
		}
		out[i] = rv
	}
	if m.ReturnsErr {
		ev := reflect.New(errorType).Elem()
		if r.err != nil {
			ev.Set(reflect.ValueOf(r.err))
		}
		out[len(out)-1] = ev
	}
	return out
}
