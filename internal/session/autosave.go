package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultAutosaveInterval is the default period between periodic saves.
const defaultAutosaveInterval = 5 * time.Minute

// Saver is what the Autosaver flushes. *Manager implements it.
type Saver interface {
	SaveAll(ctx context.Context) error
}

// Autosaver periodically saves all sessions, so a crash loses at most one
// interval of play even when per-tick autosave is off.
//
// All methods are safe for concurrent use.
type Autosaver struct {
	saver    Saver
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewAutosaver returns an Autosaver flushing saver every interval
// (5 minutes when zero or negative).
func NewAutosaver(saver Saver, interval time.Duration, log *slog.Logger) *Autosaver {
	if interval <= 0 {
		interval = defaultAutosaveInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Autosaver{
		saver:    saver,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start begins periodic saving in a background goroutine. It runs until
// Stop is called or ctx is cancelled. Start must be called at most once.
func (a *Autosaver) Start(ctx context.Context) {
	go a.loop(ctx)
}

// Stop halts the loop and waits for it to exit. Safe to call multiple
// times, but only after Start.
func (a *Autosaver) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	<-a.finished
}

// SaveNow saves immediately.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saver.SaveAll(ctx)
}

func (a *Autosaver) loop(ctx context.Context) {
	defer close(a.finished)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.SaveNow(ctx); err != nil {
				a.log.Warn("periodic save failed", "err", err)
			}
		}
	}
}
