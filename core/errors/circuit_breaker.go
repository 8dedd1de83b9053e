package errors

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests to proceed normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen blocks all requests during cooldown.
	CircuitOpen

	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half_open",
}

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// BreakerConfig configures circuit breaker behavior. The engine wraps remote
// embedding providers in a breaker so a dead provider degrades queries to the
// fallback embedder instead of stalling every request on timeouts.
type BreakerConfig struct {
	// ConsecutiveFailures is the count-based trip threshold.
	ConsecutiveFailures int `yaml:"consecutive_failures"`

	// Cooldown is the time before transitioning to half-open.
	Cooldown time.Duration `yaml:"cooldown"`

	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int `yaml:"success_threshold"`
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 3,
		Cooldown:            30 * time.Second,
		SuccessThreshold:    2,
	}
}

// CircuitBreaker trips after consecutive failures, blocks during cooldown,
// then probes with half-open requests until enough successes close it again.
type CircuitBreaker struct {
	config     BreakerConfig
	resourceID string

	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	mu          sync.RWMutex
}

// NewCircuitBreaker creates a circuit breaker for a resource.
func NewCircuitBreaker(resourceID string, config BreakerConfig) *CircuitBreaker {
	if config.ConsecutiveFailures <= 0 {
		config.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	return &CircuitBreaker{
		config:     config,
		resourceID: resourceID,
		state:      CircuitClosed,
	}
}

// Allow reports whether a request may proceed, transitioning open breakers to
// half-open once the cooldown has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordResult tracks the outcome of an operation.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = CircuitClosed
			}
		}
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.ConsecutiveFailures {
		cb.state = CircuitOpen
		cb.successes = 0
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ResourceID returns the guarded resource's identifier.
func (cb *CircuitBreaker) ResourceID() string {
	return cb.resourceID
}
