// Package resilience keeps ticks answering when a model or embedding backend
// misbehaves.
//
// Every backend sits behind its own [CircuitBreaker]. A [FallbackGroup]
// tries the configured primary first and then each fallback in config order,
// skipping backends whose breaker is open. [LLMFallback] and
// [EmbeddingsFallback] put a group behind the provider interfaces the
// dialogue service and the memory stores consume, so callers never see more
// than one provider.
//
// Breaker transitions are reported through
// [CircuitBreakerConfig.OnStateChange]; the app counts them on
// observe.Metrics and derives a readiness check from the group's breakers.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until ResetTimeout has passed since it opened.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax trial calls through. They all
	// have to succeed to close the breaker; one failure opens it again.
	StateHalfOpen
)

// String returns the state name used in logs and metric attributes.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// MarshalText lets a State appear by name in JSON status documents.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values get defaults.
type CircuitBreakerConfig struct {
	// Name identifies the protected backend, e.g. "openai".
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the trial budget of the half-open state. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now, for tests.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker is a closed / open / half-open breaker around one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // last transition to open
	trials   int       // trial calls admitted while half-open
	trialOK  int       // of which succeeded
}

// transition is a state change to report once the lock is released.
type transition struct {
	from, to State
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the backend name the breaker was configured with.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker rejects the call with [ErrCircuitOpen].
// The error of fn is returned unchanged and counts as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, changes, err := cb.admit()
	cb.report(changes)
	if err != nil {
		return err
	}

	err = fn()

	cb.report(cb.settle(trial, err))
	return err
}

// admit decides whether a call may run and whether it counts as a trial.
func (cb *CircuitBreaker) admit() (trial bool, changes []transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, ErrCircuitOpen
		}
		changes = cb.moveTo(StateHalfOpen, changes)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			return false, changes, ErrCircuitOpen
		}
		cb.trials++
		return true, changes, nil
	}
	return false, changes, nil
}

// settle books the outcome of an admitted call.
func (cb *CircuitBreaker) settle(trial bool, err error) []transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		if trial || cb.state == StateHalfOpen {
			return cb.trip(nil)
		}
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			return cb.trip(nil)
		}
		return nil
	}

	switch {
	case trial && cb.state == StateHalfOpen:
		cb.trialOK++
		if cb.trialOK >= cb.cfg.HalfOpenMax {
			cb.failures = 0
			return cb.moveTo(StateClosed, nil)
		}
	case cb.state == StateClosed:
		cb.failures = 0
	}
	return nil
}

// trip opens the breaker, restarting the reset timer. Caller holds mu.
func (cb *CircuitBreaker) trip(changes []transition) []transition {
	cb.openedAt = cb.cfg.Now()
	return cb.moveTo(StateOpen, changes)
}

// moveTo switches state and queues the change for reporting. Caller holds mu.
func (cb *CircuitBreaker) moveTo(to State, changes []transition) []transition {
	from := cb.state
	if from == to {
		return changes
	}
	cb.state = to
	cb.trials, cb.trialOK = 0, 0
	return append(changes, transition{from: from, to: to})
}

func (cb *CircuitBreaker) report(changes []transition) {
	for _, c := range changes {
		log := cb.cfg.Logger.With("provider", cb.cfg.Name, "from", c.from, "to", c.to)
		if c.to == StateOpen {
			log.Warn("resilience: breaker opened", "reset_timeout", cb.cfg.ResetTimeout)
		} else {
			log.Info("resilience: breaker state changed")
		}
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, c.from, c.to)
		}
	}
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures = 0
	changes := cb.moveTo(StateClosed, nil)
	cb.mu.Unlock()
	cb.report(changes)
}
