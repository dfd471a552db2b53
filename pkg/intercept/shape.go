package intercept

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Shape identifies which synthesized type a proxy request resolves to.
// Two shapes with the same contract, the same set of interfaces (in any
// order), the same ordered mixin interfaces and equal options share one
// synthesized type.
type Shape struct {
	Contract   reflect.Type
	Interfaces []reflect.Type
	Mixins     []reflect.Type
	Options    Options
}

// Options are the generation options that take part in a shape's identity.
type Options struct {
	// HasTarget records whether instances carry a target.
	HasTarget bool
	// Hook decides which members are intercepted. Nil intercepts all.
	Hook Hook
}

// Hook chooses, at synthesis time, which members of a contract are routed
// through the interceptor pipeline.
//
// Hooks are part of a shape's identity. A hook implementing HookKeyer is
// compared by its key; otherwise comparable hooks are compared by value.
// Any other hook is compared by identity: its types are synthesized for
// each request and are not kept by the cache.
type Hook interface {
	ShouldIntercept(contract reflect.Type, m *Method) bool
}

// HookKeyer gives a Hook a stable identity for shape comparison.
type HookKeyer interface {
	HookKey() string
}

var (
	typeIDs  sync.Map // reflect.Type -> uint64
	hookIDs  sync.Map // comparable Hook or HookKey string -> uint64
	nextID   atomic.Uint64
	typeIDMu sync.Mutex
)

// typeID assigns every reflect.Type a small process-unique number, so shape
// keys are exact without depending on type names.
func typeID(t reflect.Type) uint64 {
	if id, ok := typeIDs.Load(t); ok {
		return id.(uint64)
	}
	typeIDMu.Lock()
	defer typeIDMu.Unlock()
	if id, ok := typeIDs.Load(t); ok {
		return id.(uint64)
	}
	id := nextID.Add(1)
	typeIDs.Store(t, id)
	return id
}

func hookID(h Hook) uint64 {
	id, _ := stableHookID(h)
	return id
}

// stableHookID returns the hook's identity and whether that identity is
// stable across requests. Hooks without a key whose dynamic value is not
// comparable (funcs, or structs holding slices or maps) get a fresh id on
// every call and report false.
func stableHookID(h Hook) (uint64, bool) {
	if h == nil {
		return 0, true
	}
	var key any
	switch {
	case isHookKeyer(h):
		key = "key:" + h.(HookKeyer).HookKey()
	case reflect.ValueOf(h).Comparable():
		key = h
	default:
		return nextID.Add(1), false
	}
	id, _ := hookIDs.LoadOrStore(key, nextID.Add(1))
	return id.(uint64), true
}

func isHookKeyer(h Hook) bool {
	_, ok := h.(HookKeyer)
	return ok
}

func writeID(b *strings.Builder, tag byte, id uint64) {
	b.WriteByte(tag)
	b.WriteString(strconv.FormatUint(id, 36))
	b.WriteByte('|')
}

// normalize returns a copy of s with the contract in canonical form and
// the interface set de-duplicated and sorted.
func (s Shape) normalize() (Shape, contractKind, error) {
	contract, kind, err := normalizeContract(s.Contract)
	if err != nil {
		return Shape{}, 0, err
	}
	out := Shape{Contract: contract, Options: s.Options}
	seen := make(map[reflect.Type]bool, len(s.Interfaces))
	for _, t := range s.Interfaces {
		if t == nil {
			return Shape{}, 0, shapeErr(contract, ErrNotInterface, "nil supplementary interface")
		}
		if t == contract || seen[t] {
			continue
		}
		seen[t] = true
		out.Interfaces = append(out.Interfaces, t)
	}
	sort.Slice(out.Interfaces, func(i, j int) bool {
		return typeID(out.Interfaces[i]) < typeID(out.Interfaces[j])
	})
	out.Mixins = append([]reflect.Type(nil), s.Mixins...)
	return out, kind, nil
}

// key renders a normalized shape into an exact cache key.
func (s Shape) key() string {
	var b strings.Builder
	writeID(&b, 'c', typeID(s.Contract))
	for _, t := range s.Interfaces {
		writeID(&b, 'i', typeID(t))
	}
	for _, t := range s.Mixins {
		writeID(&b, 'm', typeID(t))
	}
	if s.Options.HasTarget {
		b.WriteString("t|")
	}
	if s.Options.Hook != nil {
		writeID(&b, 'h', hookID(s.Options.Hook))
	}
	return b.String()
}

// cacheable reports whether the shape has a stable key. Shapes whose hook
// is compared by identity are synthesized per request and never stored.
func (s Shape) cacheable() bool {
	_, ok := stableHookID(s.Options.Hook)
	return ok
}

// Equal reports whether two shapes resolve to the same synthesized type.
func (s Shape) Equal(other Shape) bool {
	a, _, errA := s.normalize()
	b, _, errB := other.normalize()
	if errA != nil || errB != nil {
		return false
	}
	return a.key() == b.key()
}
