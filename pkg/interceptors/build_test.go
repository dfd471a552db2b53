package interceptors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/governance"
	"github.com/polisai/interpose/internal/orders"
	"github.com/polisai/interpose/pkg/config"
	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/logging"
	"github.com/polisai/interpose/pkg/policy"
)

func fullConfig(t *testing.T) (config.InterceptorsConfig, func(string) string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.rego"), []byte(ordersPolicy), 0o600))

	cfg := config.InterceptorsConfig{
		Logging:   config.LoggingInterceptorConfig{Enabled: true, Level: "debug"},
		Tracing:   config.TracingInterceptorConfig{Enabled: true},
		Metrics:   config.MetricsInterceptorConfig{Enabled: true, Namespace: "build"},
		Authorize: config.AuthorizeConfig{Enabled: true, Modules: []string{"orders.rego"}},
		RateLimit: config.RateLimitConfig{Enabled: true},
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled:         true,
			BreakerSettings: config.BreakerSettings{ConsecutiveFailures: 3},
			Methods: map[string]config.BreakerSettings{
				"OrderService.Get": {OpenFor: time.Second},
			},
		},
		Retry:   config.RetryConfig{Enabled: true, MaxRetries: 2, InitialBackoff: time.Millisecond, Methods: []string{"PlaceOrder"}},
		Timeout: config.TimeoutConfig{Enabled: true, Default: time.Second},
	}
	return cfg, func(p string) string { return filepath.Join(dir, p) }
}

func TestBuildFullChain(t *testing.T) {
	cfg, resolve := fullConfig(t)
	chain, err := Build(context.Background(), cfg, Deps{Logger: logging.Discard(), Resolve: resolve})
	require.NoError(t, err)
	t.Cleanup(func() { _ = chain.Close(context.Background()) })

	assert.Len(t, chain.Interceptors, len(config.DefaultOrder))
	require.NotNil(t, chain.Metrics)
	require.NotNil(t, chain.Engine)
	require.NotNil(t, chain.Limiter)
	require.NotNil(t, chain.Breakers)
	require.NotNil(t, chain.Timeouts)
	require.NotNil(t, chain.Retry)
	assert.Equal(t, 2, chain.Retry.Config().MaxRetries)
	assert.Equal(t, time.Second, chain.Timeouts.For("OrderService.Get"))

	target := newFlaky(1)
	svc, err := intercept.New[orders.OrderService](context.Background(), intercept.NewFactory(intercept.FactoryConfig{}),
		target, chain.Interceptors, chain.Options()...)
	require.NoError(t, err)

	ok, err := svc.PlaceOrder(3)
	require.NoError(t, err, "one transient failure is retried")
	assert.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(chain.Metrics.retriesTotal.WithLabelValues("orders.OrderService", "PlaceOrder")))

	err = svc.Cancel(policy.WithPrincipal(context.Background(), "bob"), 1)
	assert.True(t, IsDenied(err))
	require.NoError(t, svc.Cancel(policy.WithPrincipal(context.Background(), "admin"), 1))

	_, err = svc.Get(context.Background(), 99)
	require.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, int32(3), target.calls.Load(), "Get is outside the retry scope")
}

func TestBuildBreakerSettings(t *testing.T) {
	cfg, resolve := fullConfig(t)
	cfg.Order = []string{config.InterceptorCircuitBreaker}
	chain, err := Build(context.Background(), cfg, Deps{Resolve: resolve})
	require.NoError(t, err)
	require.Len(t, chain.Interceptors, 1)

	target := newFlaky(100)
	svc := newOrders(t, target, chain.Interceptors...)
	for i := 0; i < 3; i++ {
		_, err = svc.PlaceOrder(1)
		require.ErrorIs(t, err, errBackend)
	}
	_, err = svc.PlaceOrder(1)
	require.ErrorIs(t, err, governance.ErrCircuitOpen)
	assert.Equal(t, int32(3), target.calls.Load())
}

func TestBuildSkipsDisabled(t *testing.T) {
	cfg := config.InterceptorsConfig{
		Order:   []string{config.InterceptorTimeout, config.InterceptorLogging, config.InterceptorAuthorize},
		Logging: config.LoggingInterceptorConfig{Enabled: true},
		Timeout: config.TimeoutConfig{Enabled: true, Default: time.Second},
	}
	chain, err := Build(context.Background(), cfg, Deps{Logger: logging.Discard()})
	require.NoError(t, err)
	assert.Len(t, chain.Interceptors, 2)
	assert.Nil(t, chain.Engine)
	assert.Nil(t, chain.Metrics)
	assert.NoError(t, chain.Close(context.Background()))
}

func TestBuildUsesSuppliedPolicy(t *testing.T) {
	deny := policy.FilterFunc(func(context.Context, policy.Input) (policy.Decision, error) {
		return policy.Decision{Action: policy.ActionBlock, Reason: "maintenance"}, nil
	})
	cfg := config.InterceptorsConfig{Authorize: config.AuthorizeConfig{Enabled: true}}
	chain, err := Build(context.Background(), cfg, Deps{Policy: deny})
	require.NoError(t, err)
	assert.Nil(t, chain.Engine)

	svc := newOrders(t, orders.NewMemoryService(), chain.Interceptors...)
	_, err = svc.PlaceOrder(1)
	require.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(context.Background(), config.InterceptorsConfig{Order: []string{"audit"}}, Deps{})
	assert.NoError(t, err, "unknown names are disabled and skipped")

	cfg := config.InterceptorsConfig{Authorize: config.AuthorizeConfig{Enabled: true, Modules: []string{"missing.rego"}}}
	_, err = Build(context.Background(), cfg, Deps{Resolve: func(p string) string { return filepath.Join(t.TempDir(), p) }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.rego")

	cfg = config.InterceptorsConfig{Retry: config.RetryConfig{Enabled: true, Methods: []string{"["}}}
	_, err = Build(context.Background(), cfg, Deps{})
	assert.Error(t, err)
}

func TestChainReconfigureRateLimits(t *testing.T) {
	cfg := config.InterceptorsConfig{RateLimit: config.RateLimitConfig{Enabled: true}}
	chain, err := Build(context.Background(), cfg, Deps{})
	require.NoError(t, err)
	svc := newOrders(t, orders.NewMemoryService(), chain.Interceptors...)

	for i := 0; i < 3; i++ {
		_, err = svc.PlaceOrder(1)
		require.NoError(t, err)
	}

	cfg.RateLimit.Methods = map[string]config.Limit{"OrderService.PlaceOrder": {CallsPerSecond: 0.001, Burst: 1}}
	require.NoError(t, chain.Reconfigure(context.Background(), cfg))

	_, err = svc.PlaceOrder(1)
	require.NoError(t, err)
	_, err = svc.PlaceOrder(1)
	require.ErrorIs(t, err, governance.ErrRateLimited)
}

func TestChainReconfigurePolicy(t *testing.T) {
	ctx := context.Background()
	cfg, resolve := fullConfig(t)
	cfg.Order = []string{config.InterceptorAuthorize}
	chain, err := Build(ctx, cfg, Deps{Logger: logging.Discard(), Resolve: resolve})
	require.NoError(t, err)
	require.NotNil(t, chain.Store)

	svc := newOrders(t, orders.NewMemoryService(), chain.Interceptors...)
	_, err = svc.PlaceOrder(1)
	require.NoError(t, err)
	bob := policy.WithPrincipal(ctx, "bob")
	require.True(t, IsDenied(svc.Cancel(bob, 1)))

	require.NoError(t, chain.Reconfigure(ctx, cfg), "unchanged modules are a no-op")
	latest, err := chain.Store.Latest(ctx, PolicyBundleID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	open := "package interpose.authz\n\ndefault decision := {\"action\": \"allow\"}\n"
	require.NoError(t, os.WriteFile(resolve("open.rego"), []byte(open), 0o600))
	cfg.Authorize.Modules = []string{"open.rego"}
	require.NoError(t, chain.Reconfigure(ctx, cfg))
	require.NoError(t, svc.Cancel(bob, 1))

	latest, err = chain.Store.Latest(ctx, PolicyBundleID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	require.NoError(t, os.WriteFile(resolve("broken.rego"), []byte("package"), 0o600))
	cfg.Authorize.Modules = []string{"broken.rego"}
	assert.Error(t, chain.Reconfigure(ctx, cfg))
	require.NoError(t, svc.Cancel(bob, 1), "a broken reload keeps the previous policy")

	latest, err = chain.Store.Latest(ctx, PolicyBundleID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version, "broken modules are not stored")
	assert.Error(t, chain.Reconfigure(ctx, cfg), "re-sending broken modules still fails")
}

func TestLoadModulesKeysByBaseName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "a.rego"), []byte("package a"), 0o600))

	modules, err := LoadModules([]string{filepath.Join(dir, "nested", "a.rego")}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.rego": "package a"}, modules)
}
