package intercept

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/polisai/interpose/pkg/telemetry"
)

// FactoryConfig configures a Factory.
type FactoryConfig struct {
	// Logger receives debug records for synthesis and creation. Defaults to slog.Default().
	Logger *slog.Logger
	// Cache lets several factories share synthesized types. A new cache is
	// created when nil.
	Cache *Cache
}

// Factory creates interception proxies.
type Factory struct {
	cache  *Cache
	logger *slog.Logger
}

// NewFactory constructs a Factory.
func NewFactory(cfg FactoryConfig) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(logger)
	}
	return &Factory{cache: cache, logger: logger}
}

var defaultFactory = sync.OnceValue(func() *Factory {
	return NewFactory(FactoryConfig{})
})

// Default returns the process-wide factory used by generated helpers.
func Default() *Factory {
	return defaultFactory()
}

// Cache returns the factory's generation cache.
func (f *Factory) Cache() *Cache {
	return f.cache
}

// Mixin pairs an interface with the object implementing it. The proxy
// implements the interface and routes its methods through the pipeline
// to Impl.
type Mixin struct {
	Interface reflect.Type
	Impl      any
}

// MixinOf builds a Mixin for interface I.
func MixinOf[I any](impl I) Mixin {
	return Mixin{Interface: reflect.TypeFor[I](), Impl: impl}
}

// Request describes one proxy to create.
type Request struct {
	// Contract is an interface type, or a struct type (or pointer to one)
	// whose exported func fields are intercepted.
	Contract reflect.Type
	// Target receives calls that reach the end of the chain. Nil creates a
	// proxy without a target.
	Target any
	// Interceptors run in order. Entries must not be nil; a nil slice is
	// the empty list.
	Interceptors []Interceptor
	// Interfaces are additional interfaces the proxy implements.
	Interfaces []reflect.Type
	// Mixins contribute interfaces implemented by separate objects.
	Mixins []Mixin
	// Hook limits which members are intercepted.
	Hook Hook
	// Selector picks per-member interceptor chains.
	Selector Selector
	// RequireInterface rejects struct contracts.
	RequireInterface bool
}

// Create validates req and returns a proxy implementing req.Contract. For
// struct contracts the proxy is a *S.
func (f *Factory) Create(ctx context.Context, req Request) (any, error) {
	in, err := f.CreateInstance(ctx, req)
	if err != nil {
		return nil, err
	}
	return in.proxy, nil
}

// CreateInstance is Create returning the proxy's Instance. The proxy value
// is available through Instance.Proxy.
func (f *Factory) CreateInstance(ctx context.Context, req Request) (*Instance, error) {
	contract, kind, err := normalizeContract(req.Contract)
	if err != nil {
		return nil, err
	}
	if req.RequireInterface && kind != interfaceContract {
		return nil, shapeErr(contract, ErrNotInterface, "an interface contract is required")
	}

	target := req.Target
	if isNilValue(target) {
		target = nil
	}
	if target != nil {
		if err := checkTarget(contract, kind, target); err != nil {
			return nil, err
		}
	}

	for i, ic := range req.Interceptors {
		if isNilValue(ic) {
			return nil, shapeErr(contract, ErrNilInterceptors, "interceptor %d is nil", i)
		}
	}
	if len(req.Interceptors) == 0 && target == nil {
		return nil, shapeErr(contract, ErrNoTarget, "a proxy without interceptors needs a target")
	}

	mixinTypes := make([]reflect.Type, len(req.Mixins))
	mixinImpls := make([]any, len(req.Mixins))
	for i, mx := range req.Mixins {
		if mx.Interface == nil || mx.Interface.Kind() != reflect.Interface {
			return nil, shapeErr(contract, ErrNotInterface, "mixin %d must be described by an interface type", i)
		}
		if isNilValue(mx.Impl) || !reflect.TypeOf(mx.Impl).Implements(mx.Interface) {
			return nil, shapeErr(contract, ErrTargetNotAssignable, "mixin %d does not implement %s", i, mx.Interface)
		}
		mixinTypes[i] = mx.Interface
		mixinImpls[i] = mx.Impl
	}

	shape := Shape{
		Contract:   contract,
		Interfaces: req.Interfaces,
		Mixins:     mixinTypes,
		Options:    Options{HasTarget: target != nil, Hook: req.Hook},
	}
	t, err := f.cache.GetOrCreate(ctx, shape)
	if err != nil {
		return nil, err
	}

	in := t.instantiate(target, req.Interceptors, mixinImpls, req.Selector)
	if kind == interfaceContract {
		if err := checkStub(t, in.proxy); err != nil {
			return nil, err
		}
	}

	telemetry.RecordProxyCreated(ctx, contract.String(), target != nil)
	f.logger.Debug("proxy created",
		"contract", contract.String(),
		"interceptors", len(req.Interceptors),
		"mixins", len(req.Mixins),
		"has_target", target != nil,
	)
	return in, nil
}

func checkTarget(contract reflect.Type, kind contractKind, target any) error {
	tt := reflect.TypeOf(target)
	if kind == structContract {
		if tt != reflect.PointerTo(contract) {
			return shapeErr(contract, ErrTargetNotAssignable, "target %s is not *%s", tt, contract)
		}
		return nil
	}
	if !tt.Implements(contract) {
		return shapeErr(contract, ErrTargetNotAssignable, "target %s does not implement %s", tt, contract)
	}
	return nil
}

// checkStub guards against a stub registered for the wrong contract.
func checkStub(t *Type, proxy any) error {
	pt := reflect.TypeOf(proxy)
	want := append([]reflect.Type{t.shape.Contract}, t.shape.Interfaces...)
	want = append(want, t.shape.Mixins...)
	for _, iface := range want {
		if pt == nil || !pt.Implements(iface) {
			return shapeErr(t.shape.Contract, ErrNoStub, "registered stub %v does not implement %s", pt, iface)
		}
	}
	return nil
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// Option adjusts a Request built by the typed helpers.
type Option func(*Request)

// WithInterfaces adds interfaces the proxy must also implement.
func WithInterfaces(ifaces ...reflect.Type) Option {
	return func(r *Request) { r.Interfaces = append(r.Interfaces, ifaces...) }
}

// WithMixins adds mixins to the proxy.
func WithMixins(mixins ...Mixin) Option {
	return func(r *Request) { r.Mixins = append(r.Mixins, mixins...) }
}

// WithHook sets the generation hook.
func WithHook(h Hook) Option {
	return func(r *Request) { r.Hook = h }
}

// WithSelector sets the per-member interceptor selector.
func WithSelector(s Selector) Option {
	return func(r *Request) { r.Selector = s }
}

// New creates a proxy for interface C that forwards to target.
func New[C any](ctx context.Context, f *Factory, target C, interceptors []Interceptor, opts ...Option) (C, error) {
	return create[C](ctx, f, Request{Target: target, Interceptors: interceptors, RequireInterface: true}, opts)
}

// NewWithoutTarget creates a proxy for interface C with no target; the
// interceptors must supply every result.
func NewWithoutTarget[C any](ctx context.Context, f *Factory, interceptors []Interceptor, opts ...Option) (C, error) {
	return create[C](ctx, f, Request{Interceptors: interceptors, RequireInterface: true}, opts)
}

// NewClass creates a proxy for struct S. The returned *S starts as a copy
// of *target with every exported func field intercepted. A nil target
// creates a proxy without one.
func NewClass[S any](ctx context.Context, f *Factory, target *S, interceptors []Interceptor, opts ...Option) (*S, error) {
	req := Request{Contract: reflect.TypeFor[S](), Interceptors: interceptors}
	if target != nil {
		req.Target = target
	}
	for _, opt := range opts {
		opt(&req)
	}
	proxy, err := f.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return proxy.(*S), nil
}

func create[C any](ctx context.Context, f *Factory, req Request, opts []Option) (C, error) {
	var zero C
	req.Contract = reflect.TypeFor[C]()
	for _, opt := range opts {
		opt(&req)
	}
	proxy, err := f.Create(ctx, req)
	if err != nil {
		return zero, err
	}
	c, ok := proxy.(C)
	if !ok {
		return zero, fmt.Errorf("intercept: proxy %T does not implement %s", proxy, req.Contract)
	}
	return c, nil
}
