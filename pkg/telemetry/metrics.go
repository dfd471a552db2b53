package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CallOutcome classifies how an intercepted call finished.
type CallOutcome string

const (
	OutcomeOK          CallOutcome = "ok"
	OutcomeError       CallOutcome = "error"
	OutcomeDenied      CallOutcome = "denied"
	OutcomeRateLimited CallOutcome = "rate_limited"
	OutcomeCircuitOpen CallOutcome = "circuit_open"
	OutcomeTimeout     CallOutcome = "timeout"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	cacheLookupCounter   metric.Int64Counter
	synthesisCounter     metric.Int64Counter
	synthesisFailures    metric.Int64Counter
	synthesisHistogram   metric.Float64Histogram
	proxyCreatedCounter  metric.Int64Counter
	callCounter          metric.Int64Counter
	callRetryCounter     metric.Int64Counter
	callLatencyHistogram metric.Float64Histogram
)

// RecordCacheLookup counts a generation cache lookup for contract.
func RecordCacheLookup(ctx context.Context, contract string, hit bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("contract", contract),
		attribute.String("cache.result", result),
	))
}

// SynthesisMetrics describes one run of the proxy type synthesizer.
type SynthesisMetrics struct {
	Contract string
	Kind     string
	Duration time.Duration
	Err      error
}

// RecordSynthesis records the latency and outcome of a type synthesis.
func RecordSynthesis(ctx context.Context, m SynthesisMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("contract", m.Contract),
		attribute.String("contract.kind", m.Kind),
	)
	synthesisCounter.Add(ctx, 1, attrs)
	if m.Err != nil {
		synthesisFailures.Add(ctx, 1, attrs)
	}
	if m.Duration > 0 {
		synthesisHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
}

// RecordProxyCreated counts a constructed proxy instance.
func RecordProxyCreated(ctx context.Context, contract string, hasTarget bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	proxyCreatedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("contract", contract),
		attribute.Bool("proxy.has_target", hasTarget),
	))
}

// CallMetrics captures the fields needed to record an intercepted call.
type CallMetrics struct {
	Contract string
	Method   string
	Outcome  CallOutcome
	Duration time.Duration
	Retries  int
}

// RecordCallMetrics emits counters and histograms that describe an intercepted call.
func RecordCallMetrics(ctx context.Context, m CallMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("contract", m.Contract),
		attribute.String("method", m.Method),
		attribute.String("call.outcome", string(m.Outcome)),
	}

	callCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		callLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	if m.Retries > 0 {
		callRetryCounter.Add(ctx, int64(m.Retries), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("interpose")

		cacheLookupCounter, metricsInitErr = meter.Int64Counter(
			"interpose.cache.lookups_total",
			metric.WithDescription("Generation cache lookups partitioned by hit or miss"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		synthesisCounter, metricsInitErr = meter.Int64Counter(
			"interpose.synthesis.runs_total",
			metric.WithDescription("Proxy type synthesis runs"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		synthesisFailures, metricsInitErr = meter.Int64Counter(
			"interpose.synthesis.failures_total",
			metric.WithDescription("Proxy type synthesis runs that failed with a shape error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		synthesisHistogram, metricsInitErr = meter.Float64Histogram(
			"interpose.synthesis.duration_ms",
			metric.WithDescription("Observed proxy type synthesis latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		proxyCreatedCounter, metricsInitErr = meter.Int64Counter(
			"interpose.proxies.created_total",
			metric.WithDescription("Proxy instances constructed"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		callCounter, metricsInitErr = meter.Int64Counter(
			"interpose.call.total",
			metric.WithDescription("Intercepted calls partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		callRetryCounter, metricsInitErr = meter.Int64Counter(
			"interpose.call.retries_total",
			metric.WithDescription("Retry attempts performed by interceptors"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		callLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"interpose.call.duration_ms",
			metric.WithDescription("Observed intercepted call latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordDecisionEvent attaches an authorization decision to the span without
// leaking the call's arguments.
func RecordDecisionEvent(span trace.Span, allowed bool, reason string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("authz.allowed", allowed),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("authz.reason", reason))
	}

	span.AddEvent("authz.decision", trace.WithAttributes(attrs...))
}
