package interceptors

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/polisai/interpose/pkg/intercept"
)

// scoped applies an interceptor only to methods matching its patterns.
type scoped struct {
	inner    intercept.Interceptor
	globs    []glob.Glob
	patterns []string
}

// Scope restricts ic to methods whose name or "Contract.Method" key
// matches one of patterns. Patterns use glob syntax with '.' as the
// separator, so "OrderService.*" matches every OrderService method.
func Scope(ic intercept.Interceptor, patterns ...string) (intercept.Interceptor, error) {
	if len(patterns) == 0 {
		return ic, nil
	}
	s := &scoped{inner: ic, patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("compile method pattern %q: %w", p, err)
		}
		s.globs = append(s.globs, g)
	}
	return s, nil
}

func (s *scoped) matches(m *intercept.Method) bool {
	key := MethodKey(m)
	for _, g := range s.globs {
		if g.Match(m.Name) || g.Match(key) {
			return true
		}
	}
	return false
}

func (s *scoped) Intercept(inv *intercept.Invocation) {
	if s.matches(inv.Method()) {
		s.inner.Intercept(inv)
		return
	}
	_ = inv.Proceed()
}

func (s *scoped) String() string {
	return "scope(" + strings.Join(s.patterns, ",") + ")"
}

// ScopeSelector removes scoped interceptors from the chains of methods they
// do not apply to and unwraps them where they do.
var ScopeSelector intercept.Selector = intercept.SelectorFunc(func(m *intercept.Method, ics []intercept.Interceptor) []intercept.Interceptor {
	out := make([]intercept.Interceptor, 0, len(ics))
	for _, ic := range ics {
		s, ok := ic.(*scoped)
		if !ok {
			out = append(out, ic)
			continue
		}
		if s.matches(m) {
			out = append(out, s.inner)
		}
	}
	return out
})
