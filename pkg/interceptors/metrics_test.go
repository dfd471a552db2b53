package interceptors

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/governance"
	"github.com/polisai/interpose/internal/orders"
	"github.com/polisai/interpose/pkg/intercept"
)

func TestMetricsCountsOutcomes(t *testing.T) {
	m := NewMetrics("")
	svc := newOrders(t, orders.NewMemoryService(), m.Interceptor())

	_, err := svc.PlaceOrder(1)
	require.NoError(t, err)
	_, err = svc.PlaceOrder(2)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), 42)
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("orders.OrderService", "PlaceOrder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("orders.OrderService", "Get", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight.WithLabelValues("orders.OrderService", "PlaceOrder")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.callDuration))
}

func TestMetricsClassifiesGovernanceRejections(t *testing.T) {
	m := NewMetrics("shop")
	limiter := governance.NewRateLimiter(map[string]governance.RateLimit{
		"OrderService.PlaceOrder": {CallsPerSecond: 0.001, Burst: 1},
	}, nil)
	svc := newOrders(t, orders.NewMemoryService(), m.Interceptor(), RateLimit(limiter))

	_, err := svc.PlaceOrder(1)
	require.NoError(t, err)
	_, err = svc.PlaceOrder(1)
	require.ErrorIs(t, err, governance.ErrRateLimited)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.callsTotal.WithLabelValues("orders.OrderService", "PlaceOrder", "rate_limited")))
}

func TestMetricsCountsRetries(t *testing.T) {
	m := NewMetrics("")
	policy := governance.NewRetryPolicy(governance.RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	svc := newOrders(t, newFlaky(2), m.Interceptor(), Retry(policy, RetryOptions{OnRetry: func(inv *intercept.Invocation, _ int, _ error) {
		m.RecordRetry(inv)
	}}))

	ok, err := svc.PlaceOrder(1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("orders.OrderService", "PlaceOrder")))
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics("")
	svc := newOrders(t, orders.NewMemoryService(), m.Interceptor())
	_ = svc.Count()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `interpose_calls_total{contract="orders.OrderService",method="Count",outcome="ok"} 1`)
}
