package intercept

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Stub is a proxy implementation produced by proxygen for one interface
// contract plus a set of additional interfaces. New wraps an Instance in
// the generated type, whose methods forward to Instance.Invoke.
type Stub struct {
	Contract   reflect.Type
	Interfaces []reflect.Type
	New        func(inst *Instance) any
}

type stubRegistry struct {
	mu    sync.RWMutex
	stubs map[string]Stub
}

var stubs = &stubRegistry{stubs: make(map[string]Stub)}

// RegisterStub makes a generated stub available to the synthesizer.
// Registering the same contract and interface set again replaces the
// earlier stub.
func RegisterStub(s Stub) {
	if s.Contract == nil || s.New == nil {
		panic("intercept: RegisterStub requires a contract and a constructor")
	}
	key := stubKey(s.Contract, s.Interfaces)
	stubs.mu.Lock()
	stubs.stubs[key] = s
	stubs.mu.Unlock()
}

// HasStub reports whether a stub is registered for the contract and set
// of additional interfaces.
func HasStub(contract reflect.Type, interfaces ...reflect.Type) bool {
	_, ok := lookupStub(contract, interfaces)
	return ok
}

func lookupStub(contract reflect.Type, interfaces []reflect.Type) (Stub, bool) {
	key := stubKey(contract, interfaces)
	stubs.mu.RLock()
	s, ok := stubs.stubs[key]
	stubs.mu.RUnlock()
	return s, ok
}

// stubKey identifies a stub by contract and the set of extra interfaces,
// independent of their order.
func stubKey(contract reflect.Type, interfaces []reflect.Type) string {
	ids := make([]uint64, 0, len(interfaces))
	seen := make(map[reflect.Type]bool, len(interfaces))
	for _, t := range interfaces {
		if t == contract || seen[t] {
			continue
		}
		seen[t] = true
		ids = append(ids, typeID(t))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var b strings.Builder
	writeID(&b, 'c', typeID(contract))
	for _, id := range ids {
		writeID(&b, 'i', id)
	}
	return b.String()
}
