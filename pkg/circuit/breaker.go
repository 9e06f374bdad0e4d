// Package circuit provides a circuit breaker for Strata's external I/O paths.
// The engine core never runs behind a breaker; only database and broker
// calls in the archival path do.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/strataforge/strata/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests flow normally
	StateClosed State = iota
	// StateOpen - requests are rejected outright
	StateOpen
	// StateHalfOpen - a limited number of probes test recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // consecutive failures before opening
	SuccessRequired int           // successful probes required to close from half-open
	Timeout         time.Duration // how long to stay open before probing
	ResetTimeout    time.Duration // how long before the failure count decays in closed state
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	mu     sync.RWMutex

	state        State
	failures     int
	successes    int
	lastFailAt   time.Time
	lastResetAt  time.Time
}

// New creates a new circuit breaker
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	return &Breaker{
		config:      config,
		state:       StateClosed,
		lastResetAt: time.Now(),
	}
}

// Execute runs a function with circuit breaker protection
func (b *Breaker) Execute(_ context.Context, fn func() error) error {
	if !b.allow() {
		return b.openErr()
	}

	err := fn()
	b.record(err)
	return err
}

// ExecuteWithResult runs a function with circuit breaker protection and returns its result
func ExecuteWithResult[T any](_ context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	if !b.allow() {
		return zero, b.openErr()
	}

	result, err := fn()
	b.record(err)
	return result, err
}

func (b *Breaker) openErr() error {
	return errors.New(errors.ErrorTypeInternal, "circuit_breaker", "circuit breaker is open").
		WithContext("state", b.GetState().String())
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		if now.Sub(b.lastResetAt) > b.config.ResetTimeout {
			b.failures = 0
			b.lastResetAt = now
		}
		return true

	case StateOpen:
		if now.Sub(b.lastFailAt) > b.config.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false

	case StateHalfOpen:
		return true

	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailAt = time.Now()

		// Any failure in half-open reopens; a closed breaker opens once the
		// failure budget is spent.
		if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.config.MaxFailures) {
			b.state = StateOpen
			b.successes = 0
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessRequired {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.lastResetAt = time.Now()
		}
	case StateClosed:
		b.successes++
	}
}

// GetState returns the current state of the circuit breaker
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	State        State
	Failures     int
	Successes    int
	LastFailTime time.Time
}

// GetStats returns statistics about the circuit breaker
func (b *Breaker) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		State:        b.state,
		Failures:     b.failures,
		Successes:    b.successes,
		LastFailTime: b.lastFailAt,
	}
}

// Reset manually resets the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.lastResetAt = time.Now()
}
