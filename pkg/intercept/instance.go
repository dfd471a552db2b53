package intercept

import (
	"fmt"
	"reflect"
)

// Instance holds the per-proxy slots of a synthesized type: the target,
// the interceptors, and the mixin implementations. All slots are fixed at
// construction and safe to read from any goroutine.
type Instance struct {
	typ          *Type
	target       any
	targetValue  reflect.Value
	interceptors []Interceptor
	mixins       []any
	chains       [][]Interceptor
	bound        []reflect.Value
	proxy        any
}

// Accessor is implemented by generated interface proxies.
type Accessor interface {
	ProxyInstance() *Instance
}

// InstanceOf returns the Instance behind an interface proxy.
func InstanceOf(proxy any) (*Instance, bool) {
	a, ok := proxy.(Accessor)
	if !ok {
		return nil, false
	}
	inst := a.ProxyInstance()
	return inst, inst != nil
}

// Type returns the synthesized type the instance was built from.
func (in *Instance) Type() *Type {
	return in.typ
}

// Target returns the proxied target, or nil for proxies without one.
func (in *Instance) Target() any {
	return in.target
}

// Interceptors returns a copy of the instance's interceptor list.
func (in *Instance) Interceptors() []Interceptor {
	return append([]Interceptor(nil), in.interceptors...)
}

// Mixins returns a copy of the mixin implementations in shape order.
func (in *Instance) Mixins() []any {
	return append([]any(nil), in.mixins...)
}

// Proxy returns the proxy value backed by this instance.
func (in *Instance) Proxy() any {
	return in.proxy
}

// Invoke dispatches a call to the named member. Generated proxies call it
// from every method body, passing the live type arguments of generic
// contracts and the arguments exactly as received.
//
// Pipeline faults are returned through Result.Err when the member declares
// an error result and panic with the *PipelineError otherwise.
func (in *Instance) Invoke(name string, generics []reflect.Type, args ...any) Result {
	m, ok := in.typ.byName[name]
	if !ok {
		panic(fmt.Sprintf("intercept: %s has no member %q", in.typ.shape.Contract, name))
	}
	if len(args) != len(m.Params) {
		panic(fmt.Sprintf("intercept: %s called with %d arguments, want %d", m, len(args), len(m.Params)))
	}
	return in.dispatch(m, generics, args)
}

func (in *Instance) dispatch(m *Method, generics []reflect.Type, args []any) Result {
	if !m.Intercepted {
		return in.direct(m, args)
	}

	inv := newInvocation(in, m, generics, args)
	defer inv.release()

	// A fault returned here is already recorded on the invocation.
	_ = inv.advance(-1)

	if inv.fault == nil && !inv.returned && m.requiresReturn() {
		inv.fault = pipelineErr(m, ErrReturnNotSet, "no interceptor supplied a result and the target was not reached")
	}
	if inv.fault != nil {
		return raise(m, inv.fault)
	}
	for _, r := range inv.refs {
		r.copyBack()
	}
	return Result{values: inv.values, err: inv.err}
}

// direct forwards a call the generation hook excluded from interception.
func (in *Instance) direct(m *Method, args []any) Result {
	fn, err := in.member(m)
	if err != nil {
		return raise(m, err)
	}
	vals := make([]reflect.Value, len(args))
	for i, p := range m.Params {
		rv, ok := assignValue(p.Type, args[i])
		if !ok {
			return raise(m, pipelineErr(m, ErrArgument, "argument %d: %T is not assignable to %s", i, args[i], p.Type))
		}
		vals[i] = rv
	}
	var out []reflect.Value
	if m.Func.IsVariadic() {
		out = fn.CallSlice(vals)
	} else {
		out = fn.Call(vals)
	}
	res := Result{values: make([]any, m.ValueResults())}
	for i := range res.values {
		res.values[i] = out[i].Interface()
	}
	if m.ReturnsErr {
		if e := out[len(out)-1]; !e.IsNil() {
			res.err = e.Interface().(error)
		}
	}
	return res
}

func raise(m *Method, err error) Result {
	if m.ReturnsErr {
		return Result{values: make([]any, m.ValueResults()), err: err}
	}
	panic(err)
}

// member resolves the callable that implements m at the end of the chain.
func (in *Instance) member(m *Method) (reflect.Value, error) {
	if in.typ.kind == structContract {
		if !in.targetValue.IsValid() {
			return reflect.Value{}, pipelineErr(m, ErrNoTarget, "proxy was created without a target")
		}
		fn := in.targetValue.Elem().Field(m.field)
		if fn.IsNil() {
			return reflect.Value{}, pipelineErr(m, ErrNoTarget, "target field %s is nil", m.Name)
		}
		return fn, nil
	}
	fn := in.bound[m.index]
	if !fn.IsValid() {
		if m.Origin == OriginInterface && in.target != nil {
			return reflect.Value{}, pipelineErr(m, ErrNoTarget, "target %T does not implement %s", in.target, m.Declaring)
		}
		return reflect.Value{}, pipelineErr(m, ErrNoTarget, "proxy was created without a target")
	}
	return fn, nil
}

// bind resolves the target and mixin method values for every member and
// selects each member's interceptor chain.
func (in *Instance) bind(selector Selector) {
	t := in.typ
	in.chains = make([][]Interceptor, len(t.methods))
	for _, m := range t.methods {
		chain := in.interceptors
		if selector != nil {
			chain = selector.Select(m, in.Interceptors())
		}
		in.chains[m.index] = chain
	}
	if t.kind == structContract {
		if in.target != nil {
			in.targetValue = reflect.ValueOf(in.target)
		}
		return
	}

	in.bound = make([]reflect.Value, len(t.methods))
	receivers := make(map[reflect.Type]reflect.Value)
	receiver := func(iface reflect.Type, impl any) reflect.Value {
		if rv, ok := receivers[iface]; ok {
			return rv
		}
		rv := reflect.Value{}
		if impl != nil && reflect.TypeOf(impl).Implements(iface) {
			rv = reflect.New(iface).Elem()
			rv.Set(reflect.ValueOf(impl))
		}
		receivers[iface] = rv
		return rv
	}
	for _, m := range t.methods {
		var rv reflect.Value
		if m.Origin == OriginMixin {
			rv = receiver(m.Declaring, in.mixins[m.mixin])
		} else {
			rv = receiver(m.Declaring, in.target)
		}
		if rv.IsValid() {
			in.bound[m.index] = rv.Method(m.ifaceIndex)
		}
	}
}
