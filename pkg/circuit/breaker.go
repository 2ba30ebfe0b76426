// Package circuit provides a circuit breaker for the best-effort mirror
// transports, so a dead Kafka broker or snapshot store stops costing a
// timeout on every beacon.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit allows limited requests to test recovery
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
	Name            string        // Reported in the open-circuit error
	MaxFailures     int           // Maximum failures before opening
	SuccessRequired int           // Successful calls required to close from half-open
	Timeout         time.Duration // How long to wait before going to half-open
	ResetTimeout    time.Duration // How long to reset failure count in closed state
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:            "default",
		MaxFailures:     5,
		SuccessRequired: 3,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	now    func() time.Time
	mutex  sync.Mutex

	state         State
	failures      int
	successes     int
	lastFailTime  time.Time
	lastResetTime time.Time
}

// New creates a new circuit breaker
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	return &Breaker{
		config:        config,
		now:           time.Now,
		state:         StateClosed,
		lastResetTime: time.Now(),
	}
}

// Execute runs a function with circuit breaker protection
func (cb *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs a function with circuit breaker protection and returns result
func ExecuteWithResult[T any](_ context.Context, cb *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	if state, ok := cb.allowRequest(); !ok {
		return zero, errors.New(errors.ErrorTypeInternal, "circuit_breaker",
			"circuit breaker is open").
			WithContext("breaker", cb.config.Name).
			WithContext("state", state.String())
	}

	result, err := fn()
	cb.recordResult(err)

	return result, err
}

// allowRequest determines if a request should be allowed based on current state
func (cb *Breaker) allowRequest() (State, bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()

	switch cb.state {
	case StateClosed:
		if now.Sub(cb.lastResetTime) > cb.config.ResetTimeout {
			cb.failures = 0
			cb.lastResetTime = now
		}
		return cb.state, true

	case StateOpen:
		if now.Sub(cb.lastFailTime) > cb.config.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return cb.state, true
		}
		return cb.state, false

	case StateHalfOpen:
		return cb.state, true

	default:
		return cb.state, false
	}
}

// recordResult records the result of a function execution
func (cb *Breaker) recordResult(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = cb.now()

		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.config.MaxFailures) {
			cb.state = StateOpen
			cb.successes = 0
		}
		return
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessRequired {
		cb.state = StateClosed
		cb.failures = 0
		cb.successes = 0
		cb.lastResetTime = cb.now()
	}
}

// GetState returns the current state of the circuit breaker
func (cb *Breaker) GetState() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	State        State
	Failures     int
	Successes    int
	LastFailTime time.Time
}

// GetStats returns statistics about the circuit breaker
func (cb *Breaker) GetStats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Stats{
		State:        cb.state,
		Failures:     cb.failures,
		Successes:    cb.successes,
		LastFailTime: cb.lastFailTime,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *Breaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastResetTime = cb.now()
}
