package intercept

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/polisai/interpose/pkg/telemetry"
)

// Cache memoizes synthesized types by exact shape. Lookups of present
// shapes take only a read lock; concurrent misses for one shape share a
// single synthesis, while different shapes synthesize in parallel.
// Failed syntheses are not cached.
type Cache struct {
	mu     sync.RWMutex
	types  map[string]*Type
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache returns an empty cache. A nil logger selects slog.Default().
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{types: make(map[string]*Type), logger: logger}
}

// GetOrCreate returns the synthesized type for shape, synthesizing it on
// first use. Shapes whose hook has no stable identity are synthesized on
// every call and not stored.
func (c *Cache) GetOrCreate(ctx context.Context, shape Shape) (*Type, error) {
	norm, _, err := shape.normalize()
	if err != nil {
		return nil, err
	}
	contract := norm.Contract.String()
	if !norm.cacheable() {
		telemetry.RecordCacheLookup(ctx, contract, false)
		t, err := c.synthesize(ctx, norm, contract)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("proxy type not cached", "contract", contract, "reason", "hook compared by identity")
		return t, nil
	}
	key := norm.key()

	c.mu.RLock()
	t, ok := c.types[key]
	c.mu.RUnlock()
	if ok {
		telemetry.RecordCacheLookup(ctx, contract, true)
		return t, nil
	}
	telemetry.RecordCacheLookup(ctx, contract, false)

	v, err, shared := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		existing, ok := c.types[key]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}

		t, err := c.synthesize(ctx, norm, contract)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.types[key] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("proxy synthesis shared", "contract", contract)
	}
	return v.(*Type), nil
}

func (c *Cache) synthesize(ctx context.Context, norm Shape, contract string) (*Type, error) {
	start := time.Now()
	t, err := synthesize(norm)
	elapsed := time.Since(start)

	kind := "interface"
	if t != nil {
		kind = t.kindName()
	}
	telemetry.RecordSynthesis(ctx, telemetry.SynthesisMetrics{
		Contract: contract,
		Kind:     kind,
		Duration: elapsed,
		Err:      err,
	})
	if err != nil {
		c.logger.Debug("proxy synthesis failed", "contract", contract, "error", err)
		return nil, err
	}
	c.logger.Debug("proxy type synthesized",
		"contract", contract,
		"kind", t.kindName(),
		"methods", len(t.methods),
		"duration", elapsed,
	)
	return t, nil
}

// Len returns the number of cached types.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// Types returns a snapshot of the cached types.
func (c *Cache) Types() []*Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Type, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	return out
}
