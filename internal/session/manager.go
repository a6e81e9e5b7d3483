// Package session owns the live simulation sessions of a murmur process.
//
// Each session holds one world.State with its characters' memory stores and,
// optionally, a savegame directory. The [Manager] serialises ticks per
// session with a per-session mutex; distinct sessions tick concurrently on
// the shared graph executor.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/graph"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
)

// Lookup and persistence errors.
var (
	ErrNotFound  = errors.New("session: not found")
	ErrNoSaveDir = errors.New("session: no save directory")
)

// Info describes a live session.
type Info struct {
	ID        string    `json:"id"`
	SaveDir   string    `json:"save_dir,omitempty"`
	Tick      int64     `json:"simulation_time"`
	StartedAt time.Time `json:"started_at"`
}

// TickResult is the outcome of one tick together with the resulting state.
type TickResult struct {
	graph.Result
	State json.RawMessage `json:"state"`
}

type session struct {
	mu        sync.Mutex
	id        string
	st        *world.State
	dir       string
	namespace string
	started   time.Time
}

// Manager creates, ticks, saves and drops sessions. All exported methods are
// safe for concurrent use.
type Manager struct {
	exec     *graph.Executor
	mem      Memory
	roster   atomic.Pointer[[]world.CharacterSeed]
	saveRoot string
	autosave bool
	metrics  *observe.Metrics
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithMemory sets how character memory stores are opened. Without it
// characters only keep their plain memory log.
func WithMemory(m Memory) Option { return func(mg *Manager) { mg.mem = m } }

// WithRoster sets the characters of fresh worlds.
func WithRoster(seeds []world.CharacterSeed) Option {
	return func(mg *Manager) { mg.roster.Store(&seeds) }
}

// WithSaveRoot gives every new session without an explicit directory the
// save directory <root>/<session id>.
func WithSaveRoot(root string) Option { return func(mg *Manager) { mg.saveRoot = root } }

// WithAutosave saves a session after every successful tick.
func WithAutosave(on bool) Option { return func(mg *Manager) { mg.autosave = on } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option { return func(mg *Manager) { mg.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(mg *Manager) { mg.log = l } }

// NewManager returns a Manager ticking sessions on exec.
func NewManager(exec *graph.Executor, opts ...Option) *Manager {
	mg := &Manager{
		exec:     exec,
		log:      slog.Default(),
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(mg)
	}
	if mg.metrics == nil {
		mg.metrics = observe.DefaultMetrics()
	}
	return mg
}

// SetRoster replaces the characters of worlds created from now on. Running
// sessions keep their characters.
func (mg *Manager) SetRoster(seeds []world.CharacterSeed) { mg.roster.Store(&seeds) }

// Create starts a session. If dir holds a savegame the session resumes it,
// otherwise it starts a fresh world that will be saved to dir. An empty dir
// falls back to the save root, if any.
func (mg *Manager) Create(ctx context.Context, dir string) (Info, error) {
	id := uuid.NewString()
	if dir == "" && mg.saveRoot != "" {
		dir = filepath.Join(mg.saveRoot, id)
	}
	s := &session{id: id, dir: dir, namespace: id, started: time.Now().UTC()}

	if dir != "" && HasSave(dir) {
		st, man, err := Load(ctx, dir, mg.mem, id)
		if err != nil {
			return Info{}, err
		}
		s.st, s.namespace = st, man.Namespace
	} else {
		var roster []world.CharacterSeed
		if r := mg.roster.Load(); r != nil {
			roster = *r
		}
		st, err := world.New(roster)
		if err != nil {
			return Info{}, fmt.Errorf("session: create: %w", err)
		}
		if err := mg.mem.attach(ctx, st, id); err != nil {
			return Info{}, err
		}
		s.st = st
	}

	mg.mu.Lock()
	mg.sessions[id] = s
	mg.mu.Unlock()
	mg.metrics.ActiveSessions.Add(ctx, 1)

	mg.log.Info("session started", "session_id", id, "save_dir", dir, "tick", s.st.Tick)
	return s.info(), nil
}

// Load replaces the session's world with the savegame in dir, or in the
// session's own save directory when dir is empty, and returns the loaded
// state. A later save goes to the directory loaded from.
func (mg *Manager) Load(ctx context.Context, id, dir string) (json.RawMessage, error) {
	var out json.RawMessage
	err := mg.with(id, func(s *session) error {
		if dir == "" {
			dir = s.dir
		}
		if dir == "" {
			return fmt.Errorf("session %s: %w", id, ErrNoSaveDir)
		}
		st, man, err := Load(ctx, dir, mg.mem, s.namespace)
		if err != nil {
			return err
		}
		s.st, s.dir, s.namespace = st, dir, man.Namespace
		out, err = json.Marshal(st)
		return err
	})
	if err == nil {
		mg.log.Info("session loaded", "session_id", id, "save_dir", dir)
	}
	return out, err
}

// Tick installs the event and runs one graph tick. With autosave on, a
// successful tick is followed by a save; a failed save is logged and does
// not fail the tick.
func (mg *Manager) Tick(ctx context.Context, id string, kind world.EventKind, params map[string]any) (TickResult, error) {
	ctx, span := observe.StartSpan(ctx, "session.tick")
	defer span.End()
	span.SetAttributes(observe.AttrSessionID.String(id))

	var out TickResult
	err := mg.with(id, func(s *session) error {
		s.st.SetEvent(kind, params)
		res, err := mg.exec.Tick(ctx, s.st)
		out.Result = res
		if err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
		if mg.autosave && s.dir != "" {
			if err := mg.save(s); err != nil {
				observe.LoggerFrom(ctx, mg.log).Warn("session: autosave failed", "session_id", id, "err", err)
			}
		}
		out.State, err = json.Marshal(s.st)
		return err
	})
	return out, err
}

// Snapshot returns the session's current world state as JSON.
func (mg *Manager) Snapshot(id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := mg.with(id, func(s *session) (err error) {
		out, err = json.Marshal(s.st)
		return err
	})
	return out, err
}

// Recall queries npcID's memory in the session the way character-response
// does, with the executor's current recall tuning.
func (mg *Manager) Recall(ctx context.Context, id, npcID, query string) ([]memory.Recollection, error) {
	var out []memory.Recollection
	err := mg.with(id, func(s *session) error {
		c, ok := s.st.Character(npcID)
		if !ok {
			return fmt.Errorf("session %s: %w %q", id, world.ErrUnknownNPC, npcID)
		}
		if c.Memory == nil {
			return memory.ErrIndexUnavailable
		}
		var err error
		out, err = c.Memory.Recall(ctx, query, s.st.Tick, memory.WithOptions(mg.exec.RecallOptions()))
		return err
	})
	return out, err
}

// Save writes the session to its save directory.
func (mg *Manager) Save(_ context.Context, id string) error {
	return mg.with(id, mg.save)
}

func (mg *Manager) save(s *session) error {
	if s.dir == "" {
		return fmt.Errorf("session %s: %w", s.id, ErrNoSaveDir)
	}
	man := Manifest{Namespace: s.namespace}
	if mg.mem.Enabled() {
		man.EmbeddingModel = mg.mem.Embedder.ModelID()
	}
	if err := Save(s.dir, man, s.st); err != nil {
		return err
	}
	mg.log.Debug("session saved", "session_id", s.id, "save_dir", s.dir, "tick", s.st.Tick)
	return nil
}

// SaveAll saves every session that has a save directory, concurrently. It
// returns the first failure after all saves finished.
func (mg *Manager) SaveAll(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range mg.list() {
		g.Go(func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.dir == "" {
				return nil
			}
			if err := mg.save(s); err != nil {
				mg.log.Warn("session: save failed", "session_id", s.id, "err", err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close drops a session without saving it.
func (mg *Manager) Close(ctx context.Context, id string) error {
	mg.mu.Lock()
	_, ok := mg.sessions[id]
	delete(mg.sessions, id)
	mg.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	mg.metrics.ActiveSessions.Add(ctx, -1)
	mg.log.Info("session stopped", "session_id", id)
	return nil
}

// Shutdown saves all sessions and drops them.
func (mg *Manager) Shutdown(ctx context.Context) error {
	err := mg.SaveAll(ctx)
	mg.mu.Lock()
	n := len(mg.sessions)
	mg.sessions = make(map[string]*session)
	mg.mu.Unlock()
	mg.metrics.ActiveSessions.Add(ctx, int64(-n))
	return err
}

// Info describes session id.
func (mg *Manager) Info(id string) (Info, error) {
	var out Info
	err := mg.with(id, func(s *session) error {
		out = s.info()
		return nil
	})
	return out, err
}

// List describes all sessions ordered by start time.
func (mg *Manager) List() []Info {
	ss := mg.list()
	out := make([]Info, 0, len(ss))
	for _, s := range ss {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (mg *Manager) list() []*session {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	out := make([]*session, 0, len(mg.sessions))
	for _, s := range mg.sessions {
		out = append(out, s)
	}
	return out
}

// with runs fn on session id while holding its lock.
func (mg *Manager) with(id string, fn func(*session) error) error {
	mg.mu.RLock()
	s, ok := mg.sessions[id]
	mg.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *session) info() Info {
	return Info{ID: s.id, SaveDir: s.dir, Tick: s.st.Tick, StartedAt: s.started}
}
