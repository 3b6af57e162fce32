// Package breaker implements per-source fault isolation. One Breaker exists
// per distinct source identity, shared by every job of that source, so a
// repeatedly failing source stops receiving attempts without affecting others.
package breaker

import (
	"sync"
	"time"

	"github.com/riverline-data/ingestor/internal/clock"
	"github.com/riverline-data/ingestor/internal/metrics"
)

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds the breaker thresholds.
type Config struct {
	// FailureThreshold consecutive failures move CLOSED to OPEN.
	FailureThreshold int
	// SuccessThreshold consecutive successes move HALF_OPEN to CLOSED.
	SuccessThreshold int
	// CoolDown is how long the breaker stays OPEN before probing recovery.
	CoolDown time.Duration
	// HalfOpenMaxProbes bounds concurrent attempts while HALF_OPEN.
	HalfOpenMaxProbes int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		CoolDown:          30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.HalfOpenMaxProbes < 1 {
		c.HalfOpenMaxProbes = 1
	}
	return c
}

// Breaker is the state machine for one source. All methods are safe for
// concurrent use; transitions are serialized by a per-breaker mutex.
type Breaker struct {
	name string
	cfg  Config
	clk  clock.Clock

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	probes               int // attempts in flight while HALF_OPEN
}

// New creates a CLOSED breaker for the named source.
func New(name string, cfg Config, clk clock.Clock) *Breaker {
	b := &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		clk:   clk,
		state: StateClosed,
	}
	metrics.BreakerState.WithLabelValues(name).Set(stateGaugeValue(StateClosed))
	return b
}

// stateGaugeValue maps a state onto the exported gauge encoding.
func stateGaugeValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

func (b *Breaker) setStateLocked(s State) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.name).Set(stateGaugeValue(s))
}

// Name returns the source identity this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a new attempt may proceed. The OPEN to HALF_OPEN
// transition is evaluated lazily here rather than by a timer. While
// HALF_OPEN, Allow reserves one of the bounded probe slots; the slot is
// returned by the matching RecordSuccess or RecordFailure call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpenLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMaxProbes {
			return false
		}
		b.probes++
		return true
	default:
		return false
	}
}

// RecordSuccess notes a successful attempt against this source.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.releaseProbeLocked()
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.setStateLocked(StateClosed)
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
			b.probes = 0
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure notes a failed attempt. A single HALF_OPEN failure re-opens
// the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	switch b.state {
	case StateHalfOpen:
		b.releaseProbeLocked()
		b.setStateLocked(StateOpen)
		b.consecutiveSuccesses = 0
		b.openedAt = b.clk.Now()
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.setStateLocked(StateOpen)
			b.openedAt = b.clk.Now()
		}
	}
}

// State returns the current state, applying the lazy cool-down check.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && b.clk.Now().Sub(b.openedAt) >= b.cfg.CoolDown {
		b.setStateLocked(StateHalfOpen)
		b.consecutiveSuccesses = 0
		b.probes = 0
	}
}

func (b *Breaker) releaseProbeLocked() {
	if b.probes > 0 {
		b.probes--
	}
}

// Registry holds one breaker per source identity for the lifetime of an
// orchestrator instance. It is injected rather than global so tests cannot
// contaminate each other through ambient state.
type Registry struct {
	cfg Config
	clk clock.Clock

	// mu guards only the map; each breaker serializes its own transitions,
	// so unrelated sources never contend on a shared lock.
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry applying cfg to every new breaker.
func NewRegistry(cfg Config, clk clock.Clock) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		clk:      clk,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for the source, creating it on first use.
func (r *Registry) For(sourceName string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[sourceName]
	if !ok {
		b = New(sourceName, r.cfg, r.clk)
		r.breakers[sourceName] = b
	}
	return b
}
