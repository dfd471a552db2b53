// Package orders is the sample domain proxied by the demo host.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown order ids.
var ErrNotFound = errors.New("order not found")

// ErrInvalidQuantity is returned when an order is placed for a non-positive quantity.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// Order is a placed order.
type Order struct {
	ID       int
	Quantity int
	Placed   time.Time
	Canceled bool
}

// OrderService places and tracks orders.
type OrderService interface {
	PlaceOrder(quantity int) (bool, error)
	Get(ctx context.Context, id int) (*Order, error)
	Cancel(ctx context.Context, id int) error
	Count() int
}

// Auditor records audit entries. The demo attaches it to proxies as a mixin.
type Auditor interface {
	Audit(event string)
	Entries() []string
}

// MemoryService is an in-memory OrderService.
type MemoryService struct {
	mu     sync.Mutex
	orders map[int]*Order
	nextID int
	now    func() time.Time
}

// NewMemoryService returns an empty MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{orders: make(map[int]*Order), now: time.Now}
}

func (s *MemoryService) PlaceOrder(quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.orders[s.nextID] = &Order{ID: s.nextID, Quantity: quantity, Placed: s.now()}
	return true, nil
}

func (s *MemoryService) Get(ctx context.Context, id int) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryService) Cancel(ctx context.Context, id int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	o.Canceled = true
	return nil
}

func (s *MemoryService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// MemoryAuditor keeps audit entries in memory.
type MemoryAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (a *MemoryAuditor) Audit(event string) {
	a.mu.Lock()
	a.entries = append(a.entries, event)
	a.mu.Unlock()
}

func (a *MemoryAuditor) Entries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.entries...)
}
