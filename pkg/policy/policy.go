package policy

import (
	"context"
	"errors"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow permits the call to reach the rest of the chain.
	ActionAllow Action = "allow"
	// ActionBlock rejects the call before it reaches the target.
	ActionBlock Action = "block"
)

// Decision captures the result from a filter evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
	Outputs  map[string]any
}

// Allowed reports whether the decision lets the call proceed.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

// Input describes one proxied call for policy evaluation.
type Input struct {
	Contract   string
	Method     string
	Principal  string
	Arguments  []any
	Attributes map[string]any
	// Entrypoint overrides the engine's default decision path.
	Entrypoint   string
	DisableCache bool
}

// Filter evaluates a policy decision for a given input.
type Filter interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, input Input) (Decision, error)

// Evaluate calls f.
func (f FilterFunc) Evaluate(ctx context.Context, input Input) (Decision, error) {
	return f(ctx, input)
}

// Chain composes multiple filters, short-circuiting on the first block.
type Chain struct {
	filters []Filter
}

// NewChain constructs a filter chain.
func NewChain(filters ...Filter) Chain {
	return Chain{filters: append([]Filter(nil), filters...)}
}

// Evaluate executes the chain until a terminal decision is produced.
func (c Chain) Evaluate(ctx context.Context, input Input) (Decision, error) {
	for _, filter := range c.filters {
		decision, err := filter.Evaluate(ctx, input)
		if err != nil {
			return Decision{}, err
		}
		if decision.Metadata == nil {
			decision.Metadata = map[string]string{}
		}
		if decision.Outputs == nil {
			decision.Outputs = map[string]any{}
		}
		switch decision.Action {
		case ActionAllow:
		case ActionBlock:
			return decision, nil
		default:
			return Decision{}, errors.New("unknown policy action")
		}
	}

	return Decision{Action: ActionAllow, Metadata: map[string]string{}, Outputs: map[string]any{}}, nil
}

type principalKey struct{}

// WithPrincipal attaches the calling principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}
