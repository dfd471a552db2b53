package intercept

import (
	"reflect"
	"strings"
)

// Type is a synthesized proxy type: the method table and dispatch metadata
// for one Shape. Types are created by the generation cache and never
// regenerated once present.
type Type struct {
	shape   Shape
	key     string
	kind    contractKind
	methods []*Method
	byName  map[string]*Method
	stub    *Stub
	sealed  []string
}

// Shape returns the normalized shape the type was synthesized for.
func (t *Type) Shape() Shape {
	return t.shape
}

// Contract returns the contract type. Struct contracts are reported as the
// struct type, not a pointer to it.
func (t *Type) Contract() reflect.Type {
	return t.shape.Contract
}

// IsStruct reports whether the contract is an extensible struct.
func (t *Type) IsStruct() bool {
	return t.kind == structContract
}

// Methods returns the member table in dispatch order.
func (t *Type) Methods() []*Method {
	return append([]*Method(nil), t.methods...)
}

// Method looks up a member by name.
func (t *Type) Method(name string) (*Method, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Sealed lists the methods of a struct contract that are not intercepted.
func (t *Type) Sealed() []string {
	return append([]string(nil), t.sealed...)
}

func (t *Type) kindName() string {
	if t.kind == structContract {
		return "struct"
	}
	return "interface"
}

// synthesize builds the Type for a shape. It never returns a partial Type.
func synthesize(shape Shape) (*Type, error) {
	s, kind, err := shape.normalize()
	if err != nil {
		return nil, err
	}
	t := &Type{shape: s, key: s.key(), kind: kind, byName: make(map[string]*Method)}

	switch kind {
	case structContract:
		err = t.synthesizeStruct()
	default:
		err = t.synthesizeInterface()
	}
	if err != nil {
		return nil, err
	}

	for i, m := range t.methods {
		m.index = i
		if s.Options.Hook != nil {
			m.Intercepted = s.Options.Hook.ShouldIntercept(s.Contract, m)
		}
	}
	return t, nil
}

func (t *Type) synthesizeInterface() error {
	contract := t.shape.Contract
	methods, err := interfaceMethods(contract, OriginContract)
	if err != nil {
		return err
	}
	for _, m := range methods {
		t.add(m)
	}

	for _, iface := range t.shape.Interfaces {
		if iface.Kind() != reflect.Interface {
			return shapeErr(contract, ErrNotInterface, "additional type %s is a %s", iface, iface.Kind())
		}
		extra, err := interfaceMethods(iface, OriginInterface)
		if err != nil {
			return err
		}
		for _, m := range extra {
			if prev, ok := t.byName[m.Name]; ok {
				if prev.Func != m.Func {
					return shapeErr(contract, ErrNotProxyable, "%s.%s conflicts with %s: %s vs %s",
						iface, m.Name, prev, m.Func, prev.Func)
				}
				continue
			}
			t.add(m)
		}
	}

	stubSet := append([]reflect.Type(nil), t.shape.Interfaces...)
	for i, iface := range t.shape.Mixins {
		if iface == nil || iface.Kind() != reflect.Interface {
			return shapeErr(contract, ErrNotInterface, "mixin %d must be described by an interface type", i)
		}
		extra, err := interfaceMethods(iface, OriginMixin)
		if err != nil {
			return err
		}
		for _, m := range extra {
			if prev, ok := t.byName[m.Name]; ok {
				return shapeErr(contract, ErrMixinCollision, "%s.%s collides with %s", iface, m.Name, prev)
			}
			m.mixin = i
			t.add(m)
		}
		stubSet = append(stubSet, iface)
	}

	stub, ok := lookupStub(contract, stubSet)
	if !ok {
		return shapeErr(contract, ErrNoStub, "run proxygen for %s%s", contract, describeSet(stubSet))
	}
	t.stub = &stub
	return nil
}

func (t *Type) synthesizeStruct() error {
	contract := t.shape.Contract
	if len(t.shape.Interfaces) > 0 || len(t.shape.Mixins) > 0 {
		return shapeErr(contract, ErrNotProxyable, "struct contracts cannot carry additional interfaces or mixins")
	}
	methods, sealed := structMembers(contract)
	if len(sealed) > 0 && !t.shape.Options.HasTarget {
		return shapeErr(contract, ErrNotOverridable, "methods %s have no target to run against", strings.Join(sealed, ", "))
	}
	for _, m := range methods {
		t.add(m)
	}
	t.sealed = sealed
	return nil
}

func (t *Type) add(m *Method) {
	t.methods = append(t.methods, m)
	t.byName[m.Name] = m
}

func describeSet(set []reflect.Type) string {
	if len(set) == 0 {
		return ""
	}
	names := make([]string, len(set))
	for i, t := range set {
		names[i] = t.String()
	}
	return " with " + strings.Join(names, ", ")
}

// instantiate constructs one proxy instance of t. Arguments are assumed to
// have been validated by the factory.
func (t *Type) instantiate(target any, interceptors []Interceptor, mixins []any, selector Selector) *Instance {
	in := &Instance{
		typ:          t,
		target:       target,
		interceptors: append([]Interceptor{}, interceptors...),
		mixins:       append([]any(nil), mixins...),
	}
	in.bind(selector)
	if t.kind == structContract {
		in.proxy = t.newClassProxy(in)
	} else {
		in.proxy = t.stub.New(in)
	}
	return in
}
