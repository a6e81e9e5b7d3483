package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. The last entry's error is wrapped alongside it.
var ErrAllFailed = errors.New("resilience: all providers failed")

// ErrAllOpen is returned by [FallbackGroup.Check] while every breaker of
// the group is open.
var ErrAllOpen = errors.New("resilience: every provider breaker is open")

// FallbackConfig configures a [FallbackGroup]. CircuitBreaker is the template
// for each entry's breaker; its Name is replaced by the entry name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds a single provider attempt so a hung primary
	// still leaves time for the fallbacks. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
}

// BreakerStatus is the breaker state of one group entry.
type BreakerStatus struct {
	Provider string `json:"provider"`
	State    State  `json:"state"`
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and its fallbacks in try order. Entries are
// added during setup; Execute may then be called concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry with its own breaker.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: fallback, breaker: NewCircuitBreaker(bc)})
}

func (fg *FallbackGroup[T]) primary() T { return fg.entries[0].value }

func (fg *FallbackGroup[T]) logger() *slog.Logger {
	if l := fg.cfg.CircuitBreaker.Logger; l != nil {
		return l
	}
	return slog.Default()
}

// attemptContext derives the context for one provider attempt.
func (fg *FallbackGroup[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fg.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fg.cfg.AttemptTimeout)
}

// Execute runs fn against the entries in order until one returns nil.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// ExecuteWithResult runs fn against the entries of fg in order and returns
// the first successful result. Entries with an open breaker are skipped.
// Go methods cannot take type parameters, hence the function form.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		var out R
		err := e.breaker.Execute(func() error {
			var ferr error
			out, ferr = fn(e.value)
			return ferr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.logger().Debug("resilience: skipping provider", "provider", e.name, "reason", "circuit open")
			continue
		}
		if i < len(fg.entries)-1 {
			fg.logger().Warn("resilience: provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Breakers reports the breaker state of every entry in try order.
func (fg *FallbackGroup[T]) Breakers() []BreakerStatus {
	out := make([]BreakerStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = BreakerStatus{Provider: e.name, State: e.breaker.State()}
	}
	return out
}

// Check fails with [ErrAllOpen] while no entry would accept a call. A
// half-open entry still counts as available.
func (fg *FallbackGroup[T]) Check(context.Context) error {
	var open []string
	for _, b := range fg.Breakers() {
		if b.State != StateOpen {
			return nil
		}
		open = append(open, b.Provider)
	}
	return fmt.Errorf("%w: %s", ErrAllOpen, strings.Join(open, ", "))
}
