package interceptors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/orders"
	"github.com/polisai/interpose/pkg/intercept"
)

var errBackend = errors.New("backend unavailable")

// flakyService fails PlaceOrder until failures run out and blocks Get until
// its context is done when block is set.
type flakyService struct {
	*orders.MemoryService
	failures atomic.Int32
	calls    atomic.Int32
	block    bool
	sawCtx   func(ctx context.Context)
}

func newFlaky(failures int) *flakyService {
	s := &flakyService{MemoryService: orders.NewMemoryService()}
	s.failures.Store(int32(failures))
	return s
}

func (s *flakyService) PlaceOrder(quantity int) (bool, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return false, errBackend
	}
	return s.MemoryService.PlaceOrder(quantity)
}

func (s *flakyService) Get(ctx context.Context, id int) (*orders.Order, error) {
	s.calls.Add(1)
	if s.sawCtx != nil {
		s.sawCtx(ctx)
	}
	if s.block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return s.MemoryService.Get(ctx, id)
}

func newOrders(t *testing.T, target orders.OrderService, ics ...intercept.Interceptor) orders.OrderService {
	t.Helper()
	f := intercept.NewFactory(intercept.FactoryConfig{})
	svc, err := intercept.New[orders.OrderService](context.Background(), f, target, ics, intercept.WithSelector(ScopeSelector))
	require.NoError(t, err)
	return svc
}
