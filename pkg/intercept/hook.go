package intercept

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gobwas/glob"
)

// Selector picks, per member, which of an instance's interceptors form that
// member's chain. It runs once per member when the instance is created.
type Selector interface {
	Select(m *Method, interceptors []Interceptor) []Interceptor
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(m *Method, interceptors []Interceptor) []Interceptor

// Select calls f(m, interceptors).
func (f SelectorFunc) Select(m *Method, interceptors []Interceptor) []Interceptor {
	return f(m, interceptors)
}

// globHook intercepts members whose "Declaring.Name" or bare name matches
// one of its patterns.
type globHook struct {
	patterns []string
	globs    []glob.Glob
	invert   bool
}

// MatchMethods returns a Hook that intercepts only members matching one of
// the glob patterns, e.g. "Place*" or "OrderService.Get".
func MatchMethods(patterns ...string) (Hook, error) {
	return newGlobHook(patterns, false)
}

// SkipMethods returns a Hook that intercepts every member except those
// matching one of the glob patterns.
func SkipMethods(patterns ...string) (Hook, error) {
	return newGlobHook(patterns, true)
}

func newGlobHook(patterns []string, invert bool) (*globHook, error) {
	h := &globHook{patterns: append([]string(nil), patterns...), invert: invert}
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("compile method pattern %q: %w", p, err)
		}
		h.globs = append(h.globs, g)
	}
	return h, nil
}

func (h *globHook) ShouldIntercept(_ reflect.Type, m *Method) bool {
	qualified := m.String()
	for _, g := range h.globs {
		if g.Match(m.Name) || g.Match(qualified) {
			return !h.invert
		}
	}
	return h.invert
}

func (h *globHook) HookKey() string {
	prefix := "match:"
	if h.invert {
		prefix = "skip:"
	}
	return prefix + strings.Join(h.patterns, ",")
}

// HookFunc adapts a function to the Hook interface. Function hooks are not
// comparable, so each distinct HookFunc value yields its own synthesized
// type; prefer a named comparable type or HookKeyer for reuse.
type HookFunc func(contract reflect.Type, m *Method) bool

// ShouldIntercept calls f(contract, m).
func (f HookFunc) ShouldIntercept(contract reflect.Type, m *Method) bool {
	return f(contract, m)
}
