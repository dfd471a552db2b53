package intercept

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Ref is a liveness-checked handle on a caller-owned argument: a pointer to
// non-struct storage, or a slice aliasing the caller's buffer. Interceptors
// read and write through the Ref; changes reach the caller only through the
// copy-back performed when the chain unwinds. Every access after the owning
// call returned fails with ErrRefInvalidated.
type Ref struct {
	method *Method
	param  int
	kind   ParamKind
	typ    reflect.Type
	origin reflect.Value // caller pointer or caller slice
	cell   reflect.Value // *T holding the working value
	live   atomic.Bool
}

func newRef(m *Method, param int, kind ParamKind, origin reflect.Value) *Ref {
	r := &Ref{method: m, param: param, kind: kind, origin: origin}
	switch kind {
	case ParamRef:
		r.typ = origin.Type().Elem()
		r.cell = reflect.New(r.typ)
		r.cell.Elem().Set(origin.Elem())
	default:
		r.typ = origin.Type()
		r.cell = reflect.New(r.typ)
		r.cell.Elem().Set(origin)
	}
	r.live.Store(true)
	return r
}

// Type returns the declared static type of the referenced value: T for a
// *T parameter, []T for a slice parameter.
func (r *Ref) Type() reflect.Type {
	return r.typ
}

// Kind reports whether the Ref wraps a pointer or a slice parameter.
func (r *Ref) Kind() ParamKind {
	return r.kind
}

// Alive reports whether the owning call is still running.
func (r *Ref) Alive() bool {
	return r.live.Load()
}

// Read returns the current value. expected must be exactly the declared type.
func (r *Ref) Read(expected reflect.Type) (any, error) {
	if err := r.check(expected); err != nil {
		return nil, err
	}
	return r.cell.Elem().Interface(), nil
}

// Write replaces the current value. The dynamic type of v must be exactly
// the declared type; use RefWrite for interface-typed storage.
func (r *Ref) Write(v any) error {
	if v == nil {
		if err := r.check(r.typ); err != nil {
			return err
		}
		if !nullable(r.typ) {
			return r.fail(ErrRefType, "cannot write nil into %s", r.typ)
		}
		r.cell.Elem().Set(reflect.Zero(r.typ))
		return nil
	}
	return r.WriteValue(reflect.ValueOf(v))
}

// WriteValue is Write for callers that already hold a reflect.Value.
func (r *Ref) WriteValue(v reflect.Value) error {
	if err := r.check(v.Type()); err != nil {
		return err
	}
	r.cell.Elem().Set(v)
	return nil
}

// RefRead reads a Ref as T.
func RefRead[T any](r *Ref) (T, error) {
	var zero T
	v, err := r.Read(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// RefWrite writes v, whose static type T must match the Ref exactly.
func RefWrite[T any](r *Ref, v T) error {
	return r.WriteValue(reflect.ValueOf(&v).Elem())
}

func (r *Ref) check(expected reflect.Type) error {
	if !r.live.Load() {
		return r.fail(ErrRefInvalidated, "")
	}
	if expected != r.typ {
		return r.fail(ErrRefType, "declared %s, accessed as %s", r.typ, expected)
	}
	return nil
}

func (r *Ref) fail(err error, format string, args ...any) error {
	detail := fmt.Sprintf("argument %d", r.param)
	if format != "" {
		detail += ": " + fmt.Sprintf(format, args...)
	}
	return &PipelineError{Method: r.method.String(), Err: err, Detail: detail}
}

// targetArg is the value handed to the real member: the working cell for
// pointers, the held slice for spans.
func (r *Ref) targetArg() reflect.Value {
	if r.kind == ParamRef {
		return r.cell
	}
	return r.cell.Elem()
}

// copyBack publishes the working value into the caller's storage. Slices
// that still alias the caller's backing array need no copy.
func (r *Ref) copyBack() {
	held := r.cell.Elem()
	if r.kind == ParamRef {
		r.origin.Elem().Set(held)
		return
	}
	if held.Len() == r.origin.Len() && (held.Len() == 0 || held.Pointer() == r.origin.Pointer()) {
		return
	}
	reflect.Copy(r.origin, held)
}

// invalidate ends the Ref's lifetime; only the first call has an effect.
func (r *Ref) invalidate() {
	r.live.CompareAndSwap(true, false)
}
