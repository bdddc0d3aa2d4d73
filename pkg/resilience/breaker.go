package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is one of the three states a CircuitBreaker can be in.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass through
	CircuitOpen                         // calls rejected without running fn
	CircuitHalfOpen                     // a bounded number of probe calls decide the next state
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a CircuitBreaker. Name is used only in
// rejection errors and OnStateChange callbacks.
type CircuitBreakerConfig struct {
	Name             string
	MaxFailures      int           // consecutive failures before tripping open (default 5)
	ResetTimeout     time.Duration // how long an open breaker stays open before probing (default 30s)
	HalfOpenMaxCalls int           // probe calls allowed while half-open (default 1)
	OnStateChange    func(name string, from, to CircuitState)
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// CircuitBreaker trips open after MaxFailures consecutive failures and
// rejects every call until ResetTimeout has passed, at which point it lets
// HalfOpenMaxCalls probe calls through to decide whether to close again or
// trip back open.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	openedAt      time.Time
	halfOpenCalls int
}

// NewCircuitBreaker builds a breaker, filling unset cfg fields with
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Execute runs fn if the breaker admits the call (closed, or a half-open
// probe slot is free), then records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// State reports the breaker's current state, promoting an open breaker to
// half-open first if ResetTimeout has elapsed since its last failure.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireIfDue()
	return cb.state
}

// expireIfDue must be called with cb.mu held.
func (cb *CircuitBreaker) expireIfDue() {
	if cb.state == CircuitOpen && time.Since(cb.openedAt) > cb.cfg.ResetTimeout {
		cb.setState(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.openedAt) <= cb.cfg.ResetTimeout {
			return fmt.Errorf("circuit breaker %s is open", cb.cfg.Name)
		}
		cb.setState(CircuitHalfOpen)
		cb.halfOpenCalls = 1
		return nil
	default: // CircuitHalfOpen
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("circuit breaker %s is half-open (max test calls reached)", cb.cfg.Name)
		}
		cb.halfOpenCalls++
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == CircuitHalfOpen {
			cb.setState(CircuitClosed)
		}
		cb.failureCount = 0
		return
	}

	cb.failureCount++
	cb.openedAt = time.Now()
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.cfg.MaxFailures {
		cb.setState(CircuitOpen)
	}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.halfOpenCalls = 0
	if from != to && cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
