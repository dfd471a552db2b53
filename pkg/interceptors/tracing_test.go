package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/interpose/internal/orders"
	"github.com/polisai/interpose/pkg/telemetry"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp.Tracer("test")
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingCreatesSpanPerCall(t *testing.T) {
	sr, tracer := newRecorder(t)
	svc := newOrders(t, orders.NewMemoryService(), Tracing(TracingOptions{Tracer: tracer, Arguments: true}))

	_, err := svc.PlaceOrder(5)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "OrderService.PlaceOrder", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "orders.OrderService", attrs["call.contract"].AsString())
	assert.Equal(t, "PlaceOrder", attrs["call.method"].AsString())
	assert.Equal(t, int64(5), attrs["call.arg.0"].AsInt64())
	assert.Equal(t, "ok", attrs["call.outcome"].AsString())
}

func TestTracingRecordsErrors(t *testing.T) {
	sr, tracer := newRecorder(t)
	svc := newOrders(t, orders.NewMemoryService(), Tracing(TracingOptions{Tracer: tracer}))

	_, err := svc.PlaceOrder(0)
	require.ErrorIs(t, err, orders.ErrInvalidQuantity)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
	_, hasArg := spanAttrs(spans[0])["call.arg.0"]
	assert.False(t, hasArg, "arguments are opt-in")
}

func TestTracingPropagatesContextToTarget(t *testing.T) {
	sr, tracer := newRecorder(t)
	target := newFlaky(0)
	var seen trace.SpanContext
	target.sawCtx = func(ctx context.Context) { seen = trace.SpanContextFromContext(ctx) }
	svc := newOrders(t, target, Tracing(TracingOptions{Tracer: tracer}))

	_, _ = svc.Get(context.Background(), 1)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.True(t, seen.IsValid())
	assert.Equal(t, spans[0].SpanContext().SpanID(), seen.SpanID())
}

func TestTracingRedactsArguments(t *testing.T) {
	sr, tracer := newRecorder(t)
	svc := newOrders(t, orders.NewMemoryService(), Tracing(TracingOptions{
		Tracer:     tracer,
		Arguments:  true,
		Redactions: []telemetry.Redaction{{Attribute: "call.arg.0", Strategy: "replace"}},
	}))

	_, err := svc.PlaceOrder(5)
	require.NoError(t, err)

	attrs := spanAttrs(sr.Ended()[0])
	assert.Equal(t, "[REDACTED]", attrs["call.arg.0"].AsString())
}

func TestTracingNestsUnderCallerSpan(t *testing.T) {
	sr, tracer := newRecorder(t)
	svc := newOrders(t, orders.NewMemoryService(), Tracing(TracingOptions{Tracer: tracer}))

	_, err := svc.PlaceOrder(1)
	require.NoError(t, err)

	ctx, parent := tracer.Start(context.Background(), "caller")
	require.NoError(t, svc.Cancel(ctx, 1))
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 3)
	cancel := spans[1]
	assert.Equal(t, "OrderService.Cancel", cancel.Name())
	assert.Equal(t, parent.SpanContext().SpanID(), cancel.Parent().SpanID())
	assert.Equal(t, parent.SpanContext().TraceID(), cancel.SpanContext().TraceID())
}
