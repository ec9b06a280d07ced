// Package circuitbreaker guards webhook destinations that keep failing.
//
// States:
//   - Closed: requests allowed
//   - Open: too many consecutive failures, requests blocked until the cooldown passes
//   - HalfOpen: one probe request allowed; its outcome closes or reopens the circuit
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // time open before a probe is allowed (default: 30s)
	// OnStateChange, when set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Breaker tracks consecutive failures for one destination.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool // a half-open probe is in flight
}

// New creates a closed breaker named name.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults()}
}

// Allow reports whether a request should be attempted. In half-open state only
// one caller is let through until it records its outcome.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var allowed, changed bool
	switch b.state {
	case Open:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.state = HalfOpen
			b.probing = true
			allowed, changed = true, true
		}
	case HalfOpen:
		if !b.probing {
			b.probing = true
			allowed = true
		}
	default:
		allowed = true
	}
	b.mu.Unlock()

	if changed {
		b.notify(Open, HalfOpen)
	}
	return allowed
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probing = false
	b.state = Closed
	b.mu.Unlock()

	if from != Closed {
		b.notify(from, Closed)
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold or when
// a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	b.probing = false
	if from == HalfOpen || (from == Closed && b.failures >= b.cfg.Threshold) {
		b.state = Open
		b.openedAt = time.Now()
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
