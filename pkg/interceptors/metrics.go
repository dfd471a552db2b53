package interceptors

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/telemetry"
)

// Metrics holds the Prometheus collectors for intercepted calls.
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	retriesTotal *prometheus.CounterVec
	inFlight     *prometheus.GaugeVec

	registry *prometheus.Registry

	// retries counts retries per in-flight invocation for the OpenTelemetry
	// call metrics.
	retries sync.Map
}

// NewMetrics creates the collectors and registers them on a fresh registry.
// An empty namespace selects "interpose".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interpose"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of intercepted calls by outcome",
			},
			[]string{"contract", "method", "outcome"},
		),

		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Intercepted call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"contract", "method"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_retries_total",
				Help:      "Total number of call retries",
			},
			[]string{"contract", "method"},
		),

		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "calls_in_flight",
				Help:      "Number of intercepted calls currently executing",
			},
			[]string{"contract", "method"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.callsTotal,
		m.callDuration,
		m.retriesTotal,
		m.inFlight,
	)

	return m
}

// Registry returns the registry holding the call collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRetry counts one retry of the invocation's method.
func (m *Metrics) RecordRetry(inv *intercept.Invocation) {
	meth := inv.Method()
	m.retriesTotal.WithLabelValues(contractName(meth), meth.Name).Inc()
	if n, ok := m.retries.Load(inv); ok {
		m.retries.Store(inv, n.(int)+1)
	}
}

// Interceptor returns an interceptor that records call counts, latency and
// in-flight calls, and mirrors them to the OpenTelemetry call metrics.
func (m *Metrics) Interceptor() intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		meth := inv.Method()
		contract := contractName(meth)
		ctx := inv.Context()

		gauge := m.inFlight.WithLabelValues(contract, meth.Name)
		gauge.Inc()
		m.retries.Store(inv, 0)
		start := time.Now()

		var err error
		defer func() {
			gauge.Dec()
			n, _ := m.retries.LoadAndDelete(inv)
			retries, _ := n.(int)
			r := recover()
			if r != nil {
				err = panicError(r)
			}
			m.observe(ctx, contract, meth.Name, err, retries, time.Since(start))
			if r != nil {
				panic(r)
			}
		}()

		if fault := inv.Proceed(); fault != nil {
			err = fault
			return
		}
		err = inv.Err()
	})
}

func (m *Metrics) observe(ctx context.Context, contract, method string, err error, retries int, d time.Duration) {
	o := outcome(err)
	m.callsTotal.WithLabelValues(contract, method, string(o)).Inc()
	m.callDuration.WithLabelValues(contract, method).Observe(d.Seconds())
	telemetry.RecordCallMetrics(ctx, telemetry.CallMetrics{
		Contract: contract,
		Method:   method,
		Outcome:  o,
		Duration: d,
		Retries:  retries,
	})
}
