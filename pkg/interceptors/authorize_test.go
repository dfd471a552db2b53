package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/orders"
	"github.com/polisai/interpose/pkg/policy"
)

const ordersPolicy = `package interpose.authz

default decision := {"action": "allow"}

decision := {"action": "block", "reason": "cancel requires admin"} if {
	input.method == "Cancel"
	input.principal != "admin"
}

decision := {"action": "block", "reason": "bulk orders need approval"} if {
	input.method == "PlaceOrder"
	input.arguments[0] > 100
}

decision := {"action": "block", "reason": "counting is restricted"} if {
	input.method == "Count"
	input.attributes.tenant == "restricted"
}
`

func newPolicyEngine(t *testing.T) *policy.Engine {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.EngineOptions{
		Modules: map[string]string{"orders.rego": ordersPolicy},
	})
	require.NoError(t, err)
	return engine
}

func TestAuthorizeByPrincipal(t *testing.T) {
	svc := newOrders(t, orders.NewMemoryService(), Authorize(newPolicyEngine(t), AuthorizeOptions{}))

	_, err := svc.PlaceOrder(1)
	require.NoError(t, err)

	err = svc.Cancel(policy.WithPrincipal(context.Background(), "bob"), 1)
	require.Error(t, err)
	assert.True(t, IsDenied(err))
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "OrderService.Cancel", denied.Method)
	assert.Equal(t, "cancel requires admin", denied.Reason)

	require.NoError(t, svc.Cancel(policy.WithPrincipal(context.Background(), "admin"), 1))
}

func TestAuthorizeSeesArguments(t *testing.T) {
	target := newFlaky(0)
	svc := newOrders(t, target, Authorize(newPolicyEngine(t), AuthorizeOptions{}))

	ok, err := svc.PlaceOrder(500)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDenied)
	assert.Zero(t, target.calls.Load(), "denied calls never reach the target")

	ok, err = svc.PlaceOrder(5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorizeWithoutErrorResultPanics(t *testing.T) {
	svc := newOrders(t, orders.NewMemoryService(), Authorize(newPolicyEngine(t), AuthorizeOptions{
		Attributes: map[string]any{"tenant": "restricted"},
	}))

	defer func() {
		r := recover()
		err, ok := r.(error)
		require.True(t, ok, "panic value %v", r)
		assert.ErrorIs(t, err, ErrDenied)
	}()
	svc.Count()
	t.Fatal("Count returned")
}

func TestAuthorizeEvaluationFailure(t *testing.T) {
	broken := policy.FilterFunc(func(context.Context, policy.Input) (policy.Decision, error) {
		return policy.Decision{}, errors.New("bundle missing")
	})

	closed := newOrders(t, orders.NewMemoryService(), Authorize(broken, AuthorizeOptions{}))
	_, err := closed.PlaceOrder(1)
	require.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, err.Error(), "bundle missing")

	open := newOrders(t, orders.NewMemoryService(), Authorize(broken, AuthorizeOptions{FailOpen: true}))
	ok, err := open.PlaceOrder(1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorizeInputShape(t *testing.T) {
	var got policy.Input
	capture := policy.FilterFunc(func(_ context.Context, in policy.Input) (policy.Decision, error) {
		got = in
		return policy.Decision{Action: policy.ActionAllow}, nil
	})
	svc := newOrders(t, orders.NewMemoryService(), Authorize(capture, AuthorizeOptions{Entrypoint: "custom/path"}))

	_, _ = svc.Get(policy.WithPrincipal(context.Background(), "carol"), 7)

	assert.Equal(t, "orders.OrderService", got.Contract)
	assert.Equal(t, "Get", got.Method)
	assert.Equal(t, "carol", got.Principal)
	assert.Equal(t, []any{7}, got.Arguments)
	assert.Equal(t, "custom/path", got.Entrypoint)
}
