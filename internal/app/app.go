// Package app wires the murmur subsystems into a running service.
//
// The App owns the full lifecycle: New loads the world content, opens the
// memory backend and builds the session manager with its HTTP and MCP
// surfaces; Run serves until the context ends; Shutdown saves every session
// and tears everything down in order.
//
// For testing, inject doubles via functional options (WithIndexFactory,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/api"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/dialogue"
	"github.com/MrWong99/murmur/internal/graph"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/mcp"
	"github.com/MrWong99/murmur/internal/narrative"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/quest"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/pkg/memory"
)

// readHeaderTimeout bounds slow request headers on the API listener.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of a murmur service.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	index      memory.IndexFactory
	exec       *graph.Executor
	sessions   *session.Manager
	autosaver  *session.Autosaver
	autosaving atomic.Bool
	health     *health.Handler
	httpSrv    *http.Server
	checkers   []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger of every subsystem.
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

// WithLevelVar lets ApplyConfig change the log level at runtime. It should be
// the level of the handler behind the logger.
func WithLevelVar(v *slog.LevelVar) Option { return func(a *App) { a.level = v } }

// WithMetrics sets the metrics sink instead of the global one.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithIndexFactory injects the vector index factory instead of opening the
// configured memory backend.
func WithIndexFactory(f memory.IndexFactory) Option { return func(a *App) { a.index = f } }

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option { return func(a *App) { a.version = v } }

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers comes from
// [BuildProviders]; a nil value runs without models.
//
// New performs all initialisation synchronously: content loading, memory
// backend connection, executor and session manager construction, and the
// HTTP surface. Nothing is served until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. World content ─────────────────────────────────────────────────
	quests, rules, err := a.loadContent()
	if err != nil {
		return nil, fmt.Errorf("app: load content: %w", err)
	}

	// ── 2. Memory backend ────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 3. Graph executor ────────────────────────────────────────────────
	sim := cfg.Simulation
	execOpts := []graph.Option{
		graph.WithQuests(quests),
		graph.WithNarrative(rules),
		graph.WithAliases(sim.Aliases()),
		graph.WithMaxSteps(sim.MaxSteps),
		graph.WithRecallOptions(cfg.Memory.RecallOptions()),
		graph.WithMetrics(a.metrics),
		graph.WithLogger(a.log),
	}
	if providers.LLM != nil {
		execOpts = append(execOpts, graph.WithDialogue(dialogue.New(providers.LLM,
			dialogue.WithTimeout(cfg.Providers.Timeout),
			dialogue.WithLogger(a.log),
		)))
	}
	a.exec = graph.New(execOpts...)

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = session.NewManager(a.exec,
		session.WithMemory(session.Memory{Embedder: providers.Embeddings, Index: a.index}),
		session.WithRoster(sim.Roster()),
		session.WithSaveRoot(sim.SaveDir),
		session.WithAutosave(sim.Autosave),
		session.WithMetrics(a.metrics),
		session.WithLogger(a.log),
	)
	if sim.AutosaveInterval > 0 {
		a.autosaver = session.NewAutosaver(a.sessions, sim.AutosaveInterval, a.log)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.checkers = append(a.checkers, providerCheckers(providers)...)
	if sim.QuestsFile != "" {
		a.checkers = append(a.checkers, health.NonEmptyChecker("quests", quests.Registry().Len))
	}
	a.health = health.New(a.checkers...)
	server := api.New(a.sessions,
		api.WithHealth(a.health),
		api.WithMetricsHandler(promhttp.Handler()),
		api.WithMount("/mcp", a.MCPServer("").Handler()),
		api.WithMetrics(a.metrics),
		api.WithLogger(a.log),
	)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	a.log.Info("app initialised",
		"quests", quests.Registry().Len(),
		"narrative_rules", len(rules.Rules()),
		"memory_backend", cfg.Memory.Backend,
		"llm", providers.LLM != nil,
		"embeddings", providers.Embeddings != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// loadContent reads the quest registry and the narrative rules. Without
// files the registry is empty and the built-in rules apply.
func (a *App) loadContent() (*quest.Machine, *narrative.Engine, error) {
	sim := a.cfg.Simulation

	var reg *quest.Registry
	if sim.QuestsFile != "" {
		var err error
		if reg, err = quest.Load(sim.QuestsFile); err != nil {
			return nil, nil, err
		}
		a.log.Info("loaded quest registry", "path", sim.QuestsFile, "count", reg.Len())
	}

	rules := narrative.DefaultRules()
	if sim.NarrativeRulesFile != "" {
		var err error
		if rules, err = narrative.LoadRules(sim.NarrativeRulesFile); err != nil {
			return nil, nil, err
		}
		a.log.Info("loaded narrative rules", "path", sim.NarrativeRulesFile, "count", len(rules))
	}
	engine, err := narrative.NewEngine(rules, narrative.WithLogger(a.log))
	if err != nil {
		return nil, nil, err
	}
	return quest.NewMachine(reg, a.log), engine, nil
}

// initMemory opens the configured vector backend unless a factory was
// injected. Without an embedder characters keep no vector memory and no
// backend is opened.
func (a *App) initMemory(ctx context.Context) error {
	if a.index != nil || a.providers.Embeddings == nil {
		return nil
	}
	b, err := openBackend(ctx, a.cfg.Memory, a.providers.Embeddings.Dimensions())
	if err != nil {
		return err
	}
	a.index = b.factory
	if b.pinger != nil {
		a.checkers = append(a.checkers, health.PingChecker("memory_backend", b.pinger))
	}
	if b.closer != nil {
		a.closers = append(a.closers, b.closer)
	}
	return nil
}

// groupChecker is implemented by the fallback groups BuildProviders returns.
type groupChecker interface {
	Check(ctx context.Context) error
}

// providerCheckers turns every provider fallback group into a readiness
// check that fails while all of its breakers are open.
func providerCheckers(ps *Providers) []health.Checker {
	var out []health.Checker
	if g, ok := ps.LLM.(groupChecker); ok {
		out = append(out, health.Checker{Name: "llm_providers", Check: g.Check})
	}
	if g, ok := ps.Embeddings.(groupChecker); ok {
		out = append(out, health.Checker{Name: "embeddings_providers", Check: g.Check})
	}
	return out
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// MCPServer returns a tool server over the app's sessions. A non-empty
// defaultSession is used by calls that name no session.
func (a *App) MCPServer(defaultSession string) *mcp.Server {
	opts := []mcp.Option{mcp.WithMetrics(a.metrics), mcp.WithLogger(a.log)}
	if defaultSession != "" {
		opts = append(opts, mcp.WithDefaultSession(defaultSession))
	}
	return mcp.NewServer(a.sessions, a.version, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the autosaver and serves the HTTP API on the configured address
// until ctx is cancelled or the listener fails. Call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener, which it takes ownership of.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.autosaver != nil && a.autosaving.CompareAndSwap(false, true) {
		a.autosaver.Start(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	a.log.Info("serving", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// log level, recall tuning, the roster of new worlds and character aliases.
// Anything else is logged as needing a restart. It has the signature
// [config.NewWatcher] expects.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		a.log.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.RecallChanged {
		a.exec.SetRecallOptions(new.Memory.RecallOptions())
		a.log.Info("config reload: recall tuning changed",
			"k", new.Memory.K, "top_n", new.Memory.TopN, "decay_rate", new.Memory.DecayRate)
	}
	if d.CharactersChanged {
		a.sessions.SetRoster(new.Simulation.Roster())
		a.exec.SetAliases(new.Simulation.Aliases())
		for _, c := range d.CharacterChanges {
			a.log.Info("config reload: character changed", "npc_id", c.ID,
				"added", c.Added, "removed", c.Removed, "aliases_changed", c.AliasesChanged)
		}
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops serving, saves every session and closes the backends. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Stop taking requests and stop the periodic saver together.
		var g errgroup.Group
		g.Go(func() error { return a.httpSrv.Shutdown(ctx) })
		if a.autosaving.Load() {
			g.Go(func() error { a.autosaver.Stop(); return nil })
		}
		if err := g.Wait(); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}

		// Final save before the backends go away.
		if err := a.sessions.Shutdown(ctx); err != nil {
			a.log.Error("final save failed", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
