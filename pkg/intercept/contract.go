package intercept

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// ParamKind classifies how a parameter travels through an Invocation.
type ParamKind int

const (
	// ParamValue parameters are boxed as ordinary values.
	ParamValue ParamKind = iota
	// ParamRef parameters are pointers to non-struct storage owned by the
	// caller. They are exposed as a *Ref and copied back after the chain.
	ParamRef
	// ParamSpan parameters are caller-owned slices. They are exposed as a
	// *Ref whose lifetime ends with the call.
	ParamSpan
)

func (k ParamKind) String() string {
	switch k {
	case ParamRef:
		return "ref"
	case ParamSpan:
		return "span"
	default:
		return "value"
	}
}

// Origin records which part of a shape declares a member.
type Origin int

const (
	// OriginContract members belong to the primary contract.
	OriginContract Origin = iota
	// OriginInterface members come from a supplementary interface.
	OriginInterface
	// OriginMixin members are implemented by a mixin instance.
	OriginMixin
)

// Param describes one parameter of an interceptable member.
type Param struct {
	Type     reflect.Type
	Kind     ParamKind
	Variadic bool
}

// Method describes an interceptable member of a synthesized type.
type Method struct {
	Name       string
	Declaring  reflect.Type
	Origin     Origin
	Func       reflect.Type
	Params     []Param
	Results    []reflect.Type
	ReturnsErr bool

	// Intercepted is false when the generation hook excluded the member;
	// such calls go straight to the target.
	Intercepted bool

	index      int // position in Type.methods
	ifaceIndex int // method index within Declaring (interface contracts)
	field      int // struct field index (struct contracts)
	mixin      int // index into Instance.mixins for OriginMixin
	special    bool
	ctxParam   bool
}

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

func newMethod(name string, declaring, fn reflect.Type, origin Origin) *Method {
	m := &Method{
		Name:        name,
		Declaring:   declaring,
		Origin:      origin,
		Func:        fn,
		Intercepted: true,
	}
	for i := 0; i < fn.NumIn(); i++ {
		variadic := fn.IsVariadic() && i == fn.NumIn()-1
		p := Param{Type: fn.In(i), Kind: classifyParam(fn.In(i), variadic), Variadic: variadic}
		if p.Kind != ParamValue {
			m.special = true
		}
		m.Params = append(m.Params, p)
	}
	m.ctxParam = fn.NumIn() > 0 && fn.In(0) == contextType
	for i := 0; i < fn.NumOut(); i++ {
		m.Results = append(m.Results, fn.Out(i))
	}
	if n := len(m.Results); n > 0 && m.Results[n-1] == errorType {
		m.ReturnsErr = true
	}
	return m
}

// classifyParam decides whether a parameter must be marshalled through a Ref.
// Pointers to structs are object references and stay plain values.
func classifyParam(t reflect.Type, variadic bool) ParamKind {
	if variadic {
		return ParamValue
	}
	switch t.Kind() {
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct {
			return ParamValue
		}
		return ParamRef
	case reflect.Slice:
		return ParamSpan
	default:
		return ParamValue
	}
}

// Index returns the member's position in its synthesized type.
func (m *Method) Index() int {
	return m.index
}

// HasSpecialParams reports whether any parameter is marshalled through a Ref.
func (m *Method) HasSpecialParams() bool {
	return m.special
}

// TakesContext reports whether the first parameter is a context.Context.
func (m *Method) TakesContext() bool {
	return m.ctxParam
}

// ValueResults returns the number of results excluding a trailing error.
func (m *Method) ValueResults() int {
	if m.ReturnsErr {
		return len(m.Results) - 1
	}
	return len(m.Results)
}

// requiresReturn reports whether a short-circuiting interceptor must
// supply a value. Nullable results may default to nil.
func (m *Method) requiresReturn() bool {
	for i := 0; i < m.ValueResults(); i++ {
		if !nullable(m.Results[i]) {
			return true
		}
	}
	return false
}

func (m *Method) String() string {
	var b strings.Builder
	if m.Declaring != nil {
		b.WriteString(m.Declaring.Name())
		b.WriteByte('.')
	}
	b.WriteString(m.Name)
	return b.String()
}

// Signature renders the member as Go source, e.g. "PlaceOrder(int) (bool, error)".
func (m *Method) Signature() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.Variadic {
			b.WriteString("..." + p.Type.Elem().String())
			continue
		}
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	switch len(m.Results) {
	case 0:
	case 1:
		b.WriteString(" " + m.Results[0].String())
	default:
		parts := make([]string, len(m.Results))
		for i, r := range m.Results {
			parts[i] = r.String()
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String()
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}

// assignValue converts v into a reflect.Value of exactly type t. A nil v
// yields the zero value for nullable types only.
func assignValue(t reflect.Type, v any) (reflect.Value, bool) {
	if v == nil {
		if nullable(t) {
			return reflect.Zero(t), true
		}
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		return reflect.Value{}, false
	}
	out := reflect.New(t).Elem()
	out.Set(rv)
	return out, true
}

// contractKind distinguishes interface contracts from struct contracts.
type contractKind int

const (
	interfaceContract contractKind = iota
	structContract
)

func normalizeContract(t reflect.Type) (reflect.Type, contractKind, error) {
	if t == nil {
		return nil, 0, shapeErr(nil, ErrNotProxyable, "contract is nil")
	}
	switch {
	case t.Kind() == reflect.Interface:
		return t, interfaceContract, nil
	case t.Kind() == reflect.Struct:
		return t, structContract, nil
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		return t.Elem(), structContract, nil
	default:
		return nil, 0, shapeErr(t, ErrNotProxyable, "kind %s cannot be proxied", t.Kind())
	}
}

// interfaceMethods collects the methods an interface contributes to a shape.
func interfaceMethods(iface reflect.Type, origin Origin) ([]*Method, error) {
	methods := make([]*Method, 0, iface.NumMethod())
	for i := 0; i < iface.NumMethod(); i++ {
		rm := iface.Method(i)
		if !rm.IsExported() {
			return nil, shapeErr(iface, ErrNotOverridable, "unexported method %s cannot be implemented outside %s", rm.Name, rm.PkgPath)
		}
		m := newMethod(rm.Name, iface, rm.Type, origin)
		m.ifaceIndex = i
		methods = append(methods, m)
	}
	return methods, nil
}

// structMembers collects the exported func fields of a struct contract and
// the names of the methods that cannot be overridden.
func structMembers(st reflect.Type) ([]*Method, []string) {
	var methods []*Method
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Anonymous || f.Type.Kind() != reflect.Func {
			continue
		}
		m := newMethod(f.Name, st, f.Type, OriginContract)
		m.field = i
		methods = append(methods, m)
	}
	var sealed []string
	ptr := reflect.PointerTo(st)
	for i := 0; i < ptr.NumMethod(); i++ {
		sealed = append(sealed, ptr.Method(i).Name)
	}
	return methods, sealed
}
