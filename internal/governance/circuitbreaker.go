package governance

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a method's breaker rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig defines when a breaker opens and how it recovers.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker after this many failures in a
	// row. Zero disables the check.
	ConsecutiveFailures int
	// FailureRate opens the breaker when the percentage (0-100) of failed
	// calls in the window reaches it. Zero disables the check.
	FailureRate float64
	// MinCalls is the number of calls in the window before FailureRate applies.
	MinCalls int
	// Window is the look-back period for FailureRate, split into Buckets.
	Window  time.Duration
	Buckets int
	// OpenFor is how long the breaker rejects calls before probing.
	OpenFor time.Duration
	// Probes is the number of calls admitted while half-open; that many
	// successes close the breaker, and any failure reopens it.
	Probes int
}

// DefaultBreakerConfig returns the defaults used for unconfigured fields.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		FailureRate:         50,
		MinCalls:            10,
		Window:              30 * time.Second,
		Buckets:             10,
		OpenFor:             30 * time.Second,
		Probes:              1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.ConsecutiveFailures < 0 {
		c.ConsecutiveFailures = 0
	}
	if c.FailureRate < 0 {
		c.FailureRate = 0
	}
	if c.MinCalls <= 0 {
		c.MinCalls = d.MinCalls
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Buckets <= 0 {
		c.Buckets = d.Buckets
	}
	if c.OpenFor <= 0 {
		c.OpenFor = d.OpenFor
	}
	if c.Probes <= 0 {
		c.Probes = d.Probes
	}
	return c
}

// CircuitBreaker tracks the outcomes of one method's calls.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	now    func() time.Time
	state  BreakerState
	window []windowBucket
	span   time.Duration

	streak    int
	probing   int
	probeOK   int
	openUntil time.Time
	changed   time.Time
}

type windowBucket struct {
	start    time.Time
	calls    int
	failures int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return newCircuitBreaker(cfg, time.Now)
}

func newCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	cfg = cfg.withDefaults()
	span := cfg.Window / time.Duration(cfg.Buckets)
	if span <= 0 {
		span = time.Second
	}
	return &CircuitBreaker{
		cfg:     cfg,
		now:     now,
		state:   StateClosed,
		window:  make([]windowBucket, cfg.Buckets),
		span:    span,
		changed: now(),
	}
}

// Allow reports whether a call may proceed. Every nil return must be
// followed by exactly one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen, now)
		fallthrough
	case StateHalfOpen:
		if cb.probing >= cb.cfg.Probes {
			return ErrCircuitOpen
		}
		cb.probing++
	}
	return nil
}

// Record reports the outcome of an admitted call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	b := cb.bucket(now)
	b.calls++
	if err != nil {
		b.failures++
		cb.streak++
	} else {
		cb.streak = 0
	}

	switch cb.state {
	case StateHalfOpen:
		if err != nil {
			cb.setState(StateOpen, now)
			return
		}
		cb.probeOK++
		if cb.probeOK >= cb.cfg.Probes {
			cb.setState(StateClosed, now)
		}
	case StateClosed:
		if cb.shouldOpen(now) {
			cb.setState(StateOpen, now)
		}
	}
}

// Execute runs fn under the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

func (cb *CircuitBreaker) shouldOpen(now time.Time) bool {
	if cb.cfg.ConsecutiveFailures > 0 && cb.streak >= cb.cfg.ConsecutiveFailures {
		return true
	}
	if cb.cfg.FailureRate <= 0 {
		return false
	}
	calls, failures := cb.totals(now)
	if calls < cb.cfg.MinCalls || calls == 0 {
		return false
	}
	return float64(failures)*100/float64(calls) >= cb.cfg.FailureRate
}

// bucket returns the window bucket covering now, recycling stale buckets.
func (cb *CircuitBreaker) bucket(now time.Time) *windowBucket {
	start := now.Truncate(cb.span)
	idx := int(start.UnixNano()/int64(cb.span)) % len(cb.window)
	if idx < 0 {
		idx += len(cb.window)
	}
	b := &cb.window[idx]
	if !b.start.Equal(start) {
		*b = windowBucket{start: start}
	}
	return b
}

func (cb *CircuitBreaker) totals(now time.Time) (calls, failures int) {
	for _, b := range cb.window {
		if b.start.IsZero() || now.Sub(b.start) >= cb.cfg.Window {
			continue
		}
		calls += b.calls
		failures += b.failures
	}
	return calls, failures
}

func (cb *CircuitBreaker) setState(s BreakerState, now time.Time) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.changed = now
	cb.streak = 0
	cb.probing = 0
	cb.probeOK = 0
	switch s {
	case StateOpen:
		cb.openUntil = now.Add(cb.cfg.OpenFor)
		for i := range cb.window {
			cb.window[i] = windowBucket{}
		}
	default:
		cb.openUntil = time.Time{}
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerStats describes a breaker.
type BreakerStats struct {
	State       BreakerState `json:"state"`
	Calls       int          `json:"calls"`
	Failures    int          `json:"failures"`
	LastChanged time.Time    `json:"lastChanged"`
}

// Stats reports the breaker state and the calls in its window.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	calls, failures := cb.totals(cb.now())
	return BreakerStats{State: cb.state, Calls: calls, Failures: failures, LastChanged: cb.changed}
}

// Reset closes the breaker and forgets its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.now()
	cb.setState(StateClosed, now)
	for i := range cb.window {
		cb.window[i] = windowBucket{}
	}
}

// Breakers hands out one CircuitBreaker per method key.
type Breakers struct {
	mu        sync.RWMutex
	cfg       BreakerConfig
	overrides map[string]BreakerConfig
	breakers  map[string]*CircuitBreaker
	now       func() time.Time
}

// NewBreakers creates a registry whose breakers use cfg unless overridden per key.
func NewBreakers(cfg BreakerConfig, overrides map[string]BreakerConfig) *Breakers {
	o := make(map[string]BreakerConfig, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &Breakers{cfg: cfg, overrides: o, breakers: make(map[string]*CircuitBreaker), now: time.Now}
}

// For returns the breaker for key, creating it on first use.
func (b *Breakers) For(key string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[key]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[key]; ok {
		return cb
	}
	cfg, ok := b.overrides[key]
	if !ok {
		cfg = b.cfg
	}
	cb = newCircuitBreaker(cfg, b.now)
	b.breakers[key] = cb
	return cb
}

// Stats returns the stats of every breaker created so far.
func (b *Breakers) Stats() map[string]BreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]BreakerStats, len(b.breakers))
	for k, cb := range b.breakers {
		out[k] = cb.Stats()
	}
	return out
}

// ResetAll closes every breaker.
func (b *Breakers) ResetAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, cb := range b.breakers {
		cb.Reset()
	}
}
