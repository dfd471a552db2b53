package interceptors

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/telemetry"
)

const tracerName = "github.com/polisai/interpose/pkg/interceptors"

// TracingOptions configure the tracing interceptor.
type TracingOptions struct {
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	// Arguments records arguments as call.arg.N attributes.
	Arguments bool
	// Redactions are applied to the call attributes before they are set.
	Redactions []telemetry.Redaction
}

// Tracing returns an interceptor that wraps each call in a span named after
// the method. Context-first members receive the span's context so that
// downstream interceptors and the target join the trace.
func Tracing(opts TracingOptions) intercept.Interceptor {
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		tracer := opts.Tracer
		if tracer == nil {
			tracer = otel.Tracer(tracerName)
		}
		m := inv.Method()
		parent := inv.Context()

		attrs := []attribute.KeyValue{
			attribute.String("call.contract", contractName(m)),
			attribute.String("call.method", m.Name),
			attribute.String("call.origin", originName(m.Origin)),
		}
		if opts.Arguments {
			attrs = append(attrs, argumentAttributes(inv)...)
		}
		attrs = telemetry.RedactAttributes(opts.Redactions, attrs)

		ctx, span := tracer.Start(parent, MethodKey(m), trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
		switched := inv.SetContext(ctx)
		defer func() {
			if switched {
				inv.SetContext(parent)
			}
			if r := recover(); r != nil {
				err := panicError(r)
				span.RecordError(err)
				span.SetStatus(codes.Error, "panic")
				span.End()
				panic(r)
			}
			span.End()
		}()

		if fault := inv.Proceed(); fault != nil {
			span.RecordError(fault)
			span.SetStatus(codes.Error, "pipeline fault")
			return
		}
		if err := inv.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("call.outcome", string(outcome(err))))
			return
		}
		span.SetAttributes(attribute.String("call.outcome", string(outcome(nil))))
		span.SetStatus(codes.Ok, "")
	})
}

func contractName(m *intercept.Method) string {
	if m.Declaring == nil {
		return ""
	}
	return m.Declaring.String()
}

func originName(o intercept.Origin) string {
	switch o {
	case intercept.OriginInterface:
		return "interface"
	case intercept.OriginMixin:
		return "mixin"
	default:
		return "contract"
	}
}

func argumentAttributes(inv *intercept.Invocation) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i, a := range inv.Arguments() {
		key := "call.arg." + strconv.Itoa(i)
		switch v := a.(type) {
		case context.Context:
		case *intercept.Ref:
			attrs = append(attrs, attribute.String(key, "<"+v.Kind().String()+">"))
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case nil:
			attrs = append(attrs, attribute.String(key, "<nil>"))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return attrs
}
