package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/interpose/pkg/intercept"
)

// LoggingOptions configure the logging interceptor.
type LoggingOptions struct {
	// Level is used for successful calls. Failures log at Error.
	Level slog.Level
	// Arguments adds the call's argument values to the records.
	Arguments bool
}

// Logging returns an interceptor that logs every call with a fresh call ID,
// its duration and its outcome.
func Logging(logger *slog.Logger, opts LoggingOptions) intercept.Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		ctx := inv.Context()
		m := inv.Method()
		attrs := []slog.Attr{
			slog.String("call_id", uuid.NewString()),
			slog.String("method", MethodKey(m)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		if opts.Arguments {
			attrs = append(attrs, slog.Any("args", loggableArgs(inv)))
		}

		logger.LogAttrs(ctx, slog.LevelDebug, "Call started", attrs...)
		start := time.Now()

		completed := false
		defer func() {
			if completed {
				return
			}
			if r := recover(); r != nil {
				logger.LogAttrs(ctx, slog.LevelError, "Call panicked",
					append(attrs, slog.Duration("duration", time.Since(start)), slog.Any("panic", r))...)
				panic(r)
			}
		}()

		if err := inv.Proceed(); err != nil {
			attrs = append(attrs, slog.String("fault", err.Error()))
		}
		completed = true

		attrs = append(attrs, slog.Duration("duration", time.Since(start)))
		if err := inv.Err(); err != nil {
			logger.LogAttrs(ctx, slog.LevelError, "Call failed", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		logger.LogAttrs(ctx, opts.Level, "Call completed", attrs...)
	})
}

// loggableArgs renders arguments for logs. Contexts are omitted and
// special values are shown by kind rather than dereferenced.
func loggableArgs(inv *intercept.Invocation) []any {
	args := inv.Arguments()
	out := make([]any, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case context.Context:
			continue
		case *intercept.Ref:
			out = append(out, fmt.Sprintf("<%s %s>", v.Kind(), v.Type()))
		default:
			out = append(out, v)
		}
	}
	return out
}
