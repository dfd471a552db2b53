package intercept_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/fixtures"
	"github.com/polisai/interpose/pkg/intercept"
)

var (
	greeterType = reflect.TypeFor[fixtures.Greeter]()
	closerType  = reflect.TypeFor[fixtures.Closer]()
	namedType   = reflect.TypeFor[fixtures.Named]()
)

func TestFactoryValidation(t *testing.T) {
	ctx := context.Background()
	f := newFactory()
	pass := interceptors(proceed)

	tests := []struct {
		name string
		req  intercept.Request
		want error
	}{
		{
			name: "nil contract",
			req:  intercept.Request{Interceptors: pass},
			want: intercept.ErrNotProxyable,
		},
		{
			name: "non proxyable kind",
			req:  intercept.Request{Contract: reflect.TypeFor[int](), Interceptors: pass},
			want: intercept.ErrNotProxyable,
		},
		{
			name: "interface required",
			req:  intercept.Request{Contract: reflect.TypeFor[fixtures.PureCalc](), Interceptors: pass, RequireInterface: true},
			want: intercept.ErrNotInterface,
		},
		{
			name: "target does not implement contract",
			req:  intercept.Request{Contract: greeterType, Target: &fixtures.CloseRecorder{}, Interceptors: pass},
			want: intercept.ErrTargetNotAssignable,
		},
		{
			name: "struct target of another type",
			req:  intercept.Request{Contract: reflect.TypeFor[fixtures.Calculator](), Target: &fixtures.PureCalc{}, Interceptors: pass},
			want: intercept.ErrTargetNotAssignable,
		},
		{
			name: "nil interceptor entry",
			req:  intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: []intercept.Interceptor{nil}},
			want: intercept.ErrNilInterceptors,
		},
		{
			name: "nil interceptor func",
			req:  intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: []intercept.Interceptor{intercept.InterceptorFunc(nil)}},
			want: intercept.ErrNilInterceptors,
		},
		{
			name: "no interceptors and no target",
			req:  intercept.Request{Contract: greeterType},
			want: intercept.ErrNoTarget,
		},
		{
			name: "mixin without interface",
			req: intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: pass,
				Mixins: []intercept.Mixin{{Interface: reflect.TypeFor[fixtures.CloseRecorder](), Impl: &fixtures.CloseRecorder{}}}},
			want: intercept.ErrNotInterface,
		},
		{
			name: "mixin implementation missing",
			req: intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: pass,
				Mixins: []intercept.Mixin{{Interface: closerType}}},
			want: intercept.ErrTargetNotAssignable,
		},
		{
			name: "mixin name collision",
			req: intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: pass,
				Mixins: []intercept.Mixin{{Interface: namedType, Impl: fixtures.PlainGreeter{}}}},
			want: intercept.ErrMixinCollision,
		},
		{
			name: "additional interface that is not an interface",
			req: intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: pass,
				Interfaces: []reflect.Type{reflect.TypeFor[string]()}},
			want: intercept.ErrNotInterface,
		},
		{
			name: "no stub for shape",
			req: intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: pass,
				Interfaces: []reflect.Type{namedType}},
			want: intercept.ErrNoStub,
		},
		{
			name: "struct contract with sealed methods and no target",
			req:  intercept.Request{Contract: reflect.TypeFor[fixtures.Calculator](), Interceptors: pass},
			want: intercept.ErrNotOverridable,
		},
		{
			name: "struct contract with interfaces",
			req: intercept.Request{Contract: reflect.TypeFor[fixtures.PureCalc](), Interceptors: pass,
				Interfaces: []reflect.Type{closerType}},
			want: intercept.ErrNotProxyable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy, err := f.Create(ctx, tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, intercept.IsShapeError(err))
			assert.Nil(t, proxy)
		})
	}
}

func TestFactoryNoStubIsNotProxyable(t *testing.T) {
	_, err := newFactory().Create(context.Background(), intercept.Request{
		Contract:     greeterType,
		Target:       fixtures.PlainGreeter{},
		Interceptors: interceptors(proceed),
		Interfaces:   []reflect.Type{namedType},
	})
	assert.ErrorIs(t, err, intercept.ErrNotProxyable)
}

func TestFactoryEmptyInterceptorsForwardToTarget(t *testing.T) {
	target := &fixtures.EnglishGreeter{}
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), target, nil)
	require.NoError(t, err)

	out, err := g.Greet(context.Background(), "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada", out)
	assert.Equal(t, 1, target.Calls)
}

func TestFactoryNilInterceptorSliceIsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFactory()

	_, err := f.Create(ctx, intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: nil})
	require.NoError(t, err)
	_, err = f.Create(ctx, intercept.Request{Contract: greeterType, Target: fixtures.PlainGreeter{}, Interceptors: []intercept.Interceptor{}})
	require.NoError(t, err)

	_, err = f.Create(ctx, intercept.Request{Contract: greeterType, Interceptors: nil})
	assert.ErrorIs(t, err, intercept.ErrNoTarget)
	_, err = f.Create(ctx, intercept.Request{Contract: greeterType, Interceptors: []intercept.Interceptor{}})
	assert.ErrorIs(t, err, intercept.ErrNoTarget)
}

func TestFactoryInstanceOf(t *testing.T) {
	target := &fixtures.EnglishGreeter{}
	ics := interceptors(proceed, proceed)
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), target, ics)
	require.NoError(t, err)

	inst, ok := intercept.InstanceOf(g)
	require.True(t, ok)
	assert.Same(t, target, inst.Target())
	assert.Len(t, inst.Interceptors(), 2)
	assert.Empty(t, inst.Mixins())
	assert.Equal(t, greeterType, inst.Type().Contract())
	assert.False(t, inst.Type().IsStruct())

	_, ok = intercept.InstanceOf(target)
	assert.False(t, ok)
}

func TestFactoryInterceptorListIsCopied(t *testing.T) {
	var calls int
	ics := interceptors(func(inv *intercept.Invocation) {
		calls++
		proceed(inv)
	})
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), fixtures.Greeter(fixtures.PlainGreeter{}), ics)
	require.NoError(t, err)

	ics[0] = intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		t.Fatal("replaced interceptor must not run")
	})
	_ = g.Name()
	assert.Equal(t, 1, calls)
}

func TestAdditionalInterfaceForwardsToTarget(t *testing.T) {
	target := &fixtures.EnglishGreeter{}
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), target, interceptors(proceed),
		intercept.WithInterfaces(closerType, greeterType, closerType))
	require.NoError(t, err)

	closer, ok := g.(fixtures.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close())
	assert.True(t, target.Closed)
}

func TestAdditionalInterfaceWithoutTargetImplementation(t *testing.T) {
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), fixtures.Greeter(fixtures.PlainGreeter{}), interceptors(proceed),
		intercept.WithInterfaces(closerType))
	require.NoError(t, err)

	err = g.(fixtures.Closer).Close()
	assert.ErrorIs(t, err, intercept.ErrNoTarget)
}

func TestMixinRoutesThroughPipeline(t *testing.T) {
	mixin := &fixtures.CloseRecorder{}
	var seen []string
	var mixinTarget any
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), fixtures.Greeter(fixtures.PlainGreeter{}), interceptors(
		func(inv *intercept.Invocation) {
			seen = append(seen, inv.Method().Name)
			if inv.Method().Origin == intercept.OriginMixin {
				mixinTarget = inv.Target()
			}
			proceed(inv)
		},
	), intercept.WithMixins(intercept.MixinOf[fixtures.Closer](mixin)))
	require.NoError(t, err)

	require.NoError(t, g.(fixtures.Closer).Close())
	assert.Equal(t, 1, mixin.Closed)
	assert.Equal(t, []string{"Close"}, seen)
	assert.Same(t, mixin, mixinTarget)

	inst, ok := intercept.InstanceOf(g)
	require.True(t, ok)
	require.Len(t, inst.Mixins(), 1)
	assert.Same(t, mixin, inst.Mixins()[0])
}

func TestMixinOnProxyWithoutTarget(t *testing.T) {
	mixin := &fixtures.CloseRecorder{}
	g, err := intercept.NewWithoutTarget[fixtures.Greeter](context.Background(), newFactory(), interceptors(proceed),
		intercept.WithMixins(intercept.MixinOf[fixtures.Closer](mixin)))
	require.NoError(t, err)

	require.NoError(t, g.(fixtures.Closer).Close())
	assert.Equal(t, 1, mixin.Closed)

	_, err = g.Greet(context.Background(), "Ada")
	assert.ErrorIs(t, err, intercept.ErrNoTarget)
}

func TestGenericContract(t *testing.T) {
	ctx := context.Background()
	f := newFactory()
	var generics []reflect.Type
	spy := interceptors(func(inv *intercept.Invocation) {
		generics = inv.GenericArguments()
		proceed(inv)
	})

	strings, err := fixtures.NewRepoProxy[string](ctx, f, fixtures.NewMapRepo[string](), spy)
	require.NoError(t, err)
	require.NoError(t, strings.Put(1, "one"))
	v, err := strings.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "one", v)
	assert.Equal(t, []reflect.Type{reflect.TypeFor[string]()}, generics)

	ints, err := fixtures.NewRepoProxy[int](ctx, f, fixtures.NewMapRepo[int](), spy)
	require.NoError(t, err)
	_, err = ints.Get(7)
	assert.EqualError(t, err, "id 7 not found")
	assert.Equal(t, []reflect.Type{reflect.TypeFor[int]()}, generics)

	assert.Equal(t, 2, f.Cache().Len())
}

func TestHookLimitsInterception(t *testing.T) {
	hook, err := intercept.MatchMethods("Greet")
	require.NoError(t, err)

	var intercepted []string
	target := &fixtures.EnglishGreeter{}
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), target, interceptors(
		func(inv *intercept.Invocation) {
			intercepted = append(intercepted, inv.Method().Name)
			proceed(inv)
		},
	), intercept.WithHook(hook))
	require.NoError(t, err)

	assert.Equal(t, "english", g.Name())
	_, err = g.Greet(context.Background(), "Ada")
	require.NoError(t, err)
	assert.Equal(t, []string{"Greet"}, intercepted)

	inst, _ := intercept.InstanceOf(g)
	m, ok := inst.Type().Method("Name")
	require.True(t, ok)
	assert.False(t, m.Intercepted)
}

func TestSkipMethodsHook(t *testing.T) {
	hook, err := intercept.SkipMethods("Greeter.Gr*")
	require.NoError(t, err)

	var intercepted []string
	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), fixtures.Greeter(fixtures.PlainGreeter{}), interceptors(
		func(inv *intercept.Invocation) {
			intercepted = append(intercepted, inv.Method().Name)
			proceed(inv)
		},
	), intercept.WithHook(hook))
	require.NoError(t, err)

	_, _ = g.Greet(context.Background(), "Ada")
	_ = g.Name()
	assert.Equal(t, []string{"Name"}, intercepted)
}

func TestMatchMethodsRejectsBadPattern(t *testing.T) {
	_, err := intercept.MatchMethods("[")
	assert.Error(t, err)
}

func TestSelectorChoosesPerMethodChain(t *testing.T) {
	var trace []string
	named := func(name string) intercept.InterceptorFunc {
		return func(inv *intercept.Invocation) {
			trace = append(trace, name+":"+inv.Method().Name)
			proceed(inv)
		}
	}
	selector := intercept.SelectorFunc(func(m *intercept.Method, ics []intercept.Interceptor) []intercept.Interceptor {
		if m.Name == "Name" {
			return ics[1:]
		}
		return ics
	})

	g, err := intercept.New[fixtures.Greeter](context.Background(), newFactory(), fixtures.Greeter(fixtures.PlainGreeter{}),
		interceptors(named("a"), named("b")), intercept.WithSelector(selector))
	require.NoError(t, err)

	_ = g.Name()
	_, _ = g.Greet(context.Background(), "Ada")
	assert.Equal(t, []string{"b:Name", "a:Greet", "b:Greet"}, trace)
}

func TestClassProxyInterceptsFuncFields(t *testing.T) {
	var seen []string
	target := fixtures.NewCalculator("calc")
	target.Scale = 10
	c, err := intercept.NewClass(context.Background(), newFactory(), target, interceptors(
		func(inv *intercept.Invocation) {
			seen = append(seen, inv.Method().Name)
			proceed(inv)
		},
	))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Add(1, 2))
	assert.Equal(t, 40, c.Twice(2), "sealed methods run against the proxy's copied fields")
	assert.Equal(t, "calc", c.Label())
	assert.Equal(t, []string{"Add", "Add"}, seen)

	_, err = c.Div(1, 0)
	assert.EqualError(t, err, "division by zero")
}

func TestClassProxyFieldsReadAtCallTime(t *testing.T) {
	target := fixtures.NewCalculator("calc")
	c, err := intercept.NewClass(context.Background(), newFactory(), target, interceptors(proceed))
	require.NoError(t, err)

	target.Add = func(a, b int) int { return a * b }
	assert.Equal(t, 6, c.Add(2, 3))
}

func TestClassProxyWithoutTarget(t *testing.T) {
	c, err := intercept.NewClass[fixtures.PureCalc](context.Background(), newFactory(), nil, interceptors(
		func(inv *intercept.Invocation) {
			switch inv.Method().Name {
			case "Add":
				require.NoError(t, inv.SetReturnValue(inv.Argument(0).(int)+inv.Argument(1).(int)))
			case "Sum":
				total := 0
				for _, v := range inv.Argument(0).([]int) {
					total += v
				}
				require.NoError(t, inv.SetReturnValue(total))
			default:
				proceed(inv)
			}
		},
	))
	require.NoError(t, err)

	assert.Equal(t, 5, c.Add(2, 3))
	assert.Equal(t, 6, c.Sum(1, 2, 3))

	perr := recoverPipelineError(t, func() { _ = c.Negate(1) })
	assert.ErrorIs(t, perr, intercept.ErrNoTarget)
}

func TestClassProxyTargetWithNilField(t *testing.T) {
	c, err := intercept.NewClass(context.Background(), newFactory(), &fixtures.PureCalc{}, interceptors(proceed))
	require.NoError(t, err)

	perr := recoverPipelineError(t, func() { _ = c.Negate(1) })
	assert.ErrorIs(t, perr, intercept.ErrNoTarget)
}

func TestClassProxyAcceptsPointerContract(t *testing.T) {
	proxy, err := newFactory().Create(context.Background(), intercept.Request{
		Contract:     reflect.TypeFor[*fixtures.PureCalc](),
		Target:       &fixtures.PureCalc{Negate: func(a int) int { return -a }},
		Interceptors: interceptors(proceed),
	})
	require.NoError(t, err)

	c, ok := proxy.(*fixtures.PureCalc)
	require.True(t, ok)
	assert.Equal(t, -4, c.Negate(4))
}
