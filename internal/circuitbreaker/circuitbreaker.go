// Package circuitbreaker protects the push provider from cascade failures.
// When consecutive sends fail the circuit opens and further sends fail fast;
// after a recovery timeout a single probe is allowed through.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
//
// Transitions:
//
//	Closed -> Open:      failure count reaches MaxFailures
//	Open -> HalfOpen:    recovery timeout elapsed
//	HalfOpen -> Closed:  probe request succeeds
//	HalfOpen -> Open:    probe request fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// ErrCircuitOpen is returned when the circuit is open and sends are being
// rejected without reaching the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds breaker settings.
type Config struct {
	// Name identifies the protected provider in logs (e.g. "push").
	Name string

	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures int

	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes in half-open state.
	HalfOpenMaxRequests int
}

// DefaultConfig returns the settings used for the push provider.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker tracks consecutive failures of a downstream provider.
type CircuitBreaker struct {
	mu     sync.Mutex
	config Config
	logger *zap.Logger

	state            State
	failureCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenRequests int

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// New creates a CircuitBreaker. Zero config fields fall back to defaults.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}

	return &CircuitBreaker{
		config:          cfg,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a send may proceed. In the open state it flips to
// half-open once the recovery timeout has elapsed and lets one probe pass.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests = 1
			cb.logger.Info("circuit breaker allowing probe request",
				zap.String("name", cb.config.Name),
			)
			return true
		}
		cb.totalRejected++
		return false

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			return true
		}
		cb.totalRejected++
		return false

	default:
		return false
	}
}

// RecordSuccess resets the failure count; in half-open it closes the
// circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failureCount = 0

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
		cb.logger.Info("circuit breaker closed, provider recovered",
			zap.String("name", cb.config.Name),
		)
	}
}

// RecordFailure counts a failed send. In the closed state it opens the
// circuit at MaxFailures consecutive failures; in half-open it re-opens
// immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.MaxFailures {
			cb.transitionTo(StateOpen)
			cb.logger.Warn("circuit breaker opened",
				zap.String("name", cb.config.Name),
				zap.Int("consecutive_failures", cb.failureCount),
			)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
		cb.logger.Warn("circuit breaker re-opened, probe failed",
			zap.String("name", cb.config.Name),
		)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's provider name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Stats is a snapshot of breaker counters for monitoring.
type Stats struct {
	State          State
	TotalRequests  int64
	TotalFailures  int64
	TotalSuccesses int64
	TotalRejected  int64
}

// GetStats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:          cb.state,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
		TotalRejected:  cb.totalRejected,
	}
}

// transitionTo changes state; callers hold the mutex.
func (cb *CircuitBreaker) transitionTo(s State) {
	cb.state = s
	cb.lastStateChange = time.Now()
	if s != StateHalfOpen {
		cb.halfOpenRequests = 0
	}
}
