package interceptors

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/interpose/pkg/intercept"
	"github.com/polisai/interpose/pkg/policy"
	"github.com/polisai/interpose/pkg/telemetry"
)

// AuthorizeOptions configure the authorization interceptor.
type AuthorizeOptions struct {
	// Entrypoint overrides the policy's default decision path.
	Entrypoint string
	// FailOpen lets calls through when the policy cannot be evaluated.
	FailOpen bool
	// Attributes are passed to every evaluation as input.attributes.
	Attributes map[string]any
	Logger     *slog.Logger
}

// Authorize returns an interceptor that evaluates filter before each call
// and rejects blocked calls with a *DeniedError. The principal is read from
// the call's context (see policy.WithPrincipal).
func Authorize(filter policy.Filter, opts AuthorizeOptions) intercept.Interceptor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return intercept.InterceptorFunc(func(inv *intercept.Invocation) {
		ctx := inv.Context()
		m := inv.Method()
		key := MethodKey(m)

		input := policy.Input{
			Contract:   contractName(m),
			Method:     m.Name,
			Principal:  policy.PrincipalFrom(ctx),
			Arguments:  policyArgs(inv),
			Attributes: opts.Attributes,
			Entrypoint: opts.Entrypoint,
		}

		decision, err := filter.Evaluate(ctx, input)
		if err != nil {
			logger.ErrorContext(ctx, "Policy evaluation failed", "method", key, "error", err, "fail_open", opts.FailOpen)
			if !opts.FailOpen {
				reject(inv, &DeniedError{Method: key, Reason: fmt.Sprintf("policy evaluation failed: %v", err)})
				return
			}
			_ = inv.Proceed()
			return
		}

		span := trace.SpanFromContext(ctx)
		telemetry.RecordDecisionEvent(span, decision.Allowed(), decision.Reason)

		if !decision.Allowed() {
			logger.WarnContext(ctx, "Call denied by policy", "method", key, "principal", input.Principal, "reason", decision.Reason)
			reject(inv, &DeniedError{Method: key, Reason: decision.Reason})
			return
		}
		_ = inv.Proceed()
	})
}

// policyArgs returns the arguments visible to policy. Contexts are dropped
// and special values are read at their current value.
func policyArgs(inv *intercept.Invocation) []any {
	args := inv.Arguments()
	out := make([]any, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case context.Context:
			continue
		case *intercept.Ref:
			val, err := v.Read(v.Type())
			if err != nil {
				out = append(out, nil)
				continue
			}
			out = append(out, val)
		default:
			out = append(out, v)
		}
	}
	return out
}
