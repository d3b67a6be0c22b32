package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards calls to an external dependency. After maxFailures
// consecutive failures the circuit opens and calls fail fast; once the
// cooldown passes, a limited number of probe calls decide whether to close
// again.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	cooldown    time.Duration
	probeQuota  uint32

	mu              sync.Mutex
	state           State
	failures        uint32
	probeSuccesses  uint32
	probesInFlight  uint32
	lastFailureTime time.Time

	logger *logrus.Logger
}

// New creates a circuit breaker with a default logger.
func New(name string, maxFailures uint32, cooldown time.Duration) *CircuitBreaker {
	return NewWithLogger(name, maxFailures, cooldown, logrus.New())
}

// NewWithLogger creates a circuit breaker that logs state transitions to the
// given logger.
func NewWithLogger(name string, maxFailures uint32, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		probeQuota:  3,
		state:       StateClosed,
		logger:      logger,
	}
}

// Execute runs fn unless the circuit is open. The error from fn is returned
// unchanged; an open circuit returns *CircuitBreakerError instead.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return &CircuitBreakerError{Name: cb.name, State: cb.GetState()}
	}

	err := fn(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// admit decides whether a call may proceed, moving open circuits into the
// half-open probe phase when the cooldown has elapsed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.cooldown {
			return false
		}
		cb.toHalfOpenLocked()
		fallthrough
	case StateHalfOpen:
		if cb.probesInFlight >= cb.probeQuota {
			return false
		}
		cb.probesInFlight++
		return true
	}
	return false
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.probeQuota {
			cb.state = StateClosed
			cb.failures = 0
			cb.probeSuccesses = 0
			cb.probesInFlight = 0
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"state":           StateClosed.String(),
			}).Info("Circuit breaker closed after successful recovery")
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.tripLocked()
		}
	case StateHalfOpen:
		cb.tripLocked()
	}
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = StateOpen
	cb.probeSuccesses = 0
	cb.probesInFlight = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) toHalfOpenLocked() {
	cb.state = StateHalfOpen
	cb.probeSuccesses = 0
	cb.probesInFlight = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           StateHalfOpen.String(),
	}).Info("Circuit breaker transitioned to half-open")
}

// GetState returns the current state, accounting for an elapsed cooldown.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.cooldown {
		cb.toHalfOpenLocked()
	}
	return cb.state
}

// Stats is a snapshot of the breaker's counters.
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	LastFailureTime time.Time
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerError is returned when a call is rejected by an open circuit.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker rejection.
func IsCircuitBreakerError(err error) bool {
	_, ok := err.(*CircuitBreakerError)
	return ok
}
