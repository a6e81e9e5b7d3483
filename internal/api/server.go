// Package api exposes murmur sessions over HTTP and WebSocket.
//
//	POST   /v1/sessions               create (optionally resume a save_dir)
//	GET    /v1/sessions               list
//	GET    /v1/sessions/{id}          describe
//	DELETE /v1/sessions/{id}          drop without saving
//	GET    /v1/sessions/{id}/state    current world state
//	POST   /v1/sessions/{id}/load     replace the world from a savegame
//	POST   /v1/sessions/{id}/tick     run one tick
//	POST   /v1/sessions/{id}/save     write the savegame
//	POST   /v1/sessions/{id}/recall   query one character's memory
//	GET    /v1/sessions/{id}/ws       WebSocket tick stream
//
// The health probes, /metrics and any extra mounts share the mux.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Sessions is the session surface the API serves. [*session.Manager]
// implements it.
type Sessions interface {
	Create(ctx context.Context, dir string) (session.Info, error)
	Load(ctx context.Context, id, dir string) (json.RawMessage, error)
	Tick(ctx context.Context, id string, kind world.EventKind, params map[string]any) (session.TickResult, error)
	Save(ctx context.Context, id string) error
	Snapshot(id string) (json.RawMessage, error)
	Recall(ctx context.Context, id, npcID, query string) ([]memory.Recollection, error)
	Info(id string) (session.Info, error)
	List() []session.Info
	Close(ctx context.Context, id string) error
}

var _ Sessions = (*session.Manager)(nil)

// Server routes API requests to a [Sessions] implementation.
type Server struct {
	sessions Sessions
	health   *health.Handler
	metricsH http.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
	mounts   map[string]http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetricsHandler mounts h at GET /metrics, typically promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metricsH = h } }

// WithMount serves h under pattern on the same mux, e.g. the MCP
// Streamable HTTP handler at "/mcp".
func WithMount(pattern string, h http.Handler) Option {
	return func(s *Server) {
		if s.mounts == nil {
			s.mounts = make(map[string]http.Handler)
		}
		s.mounts[pattern] = h
	}
}

// WithMetrics sets the metrics sink of the request middleware.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// New returns a Server over sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/sessions", s.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleInfo)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleClose)
	mux.HandleFunc("GET /v1/sessions/{id}/state", s.handleState)
	mux.HandleFunc("POST /v1/sessions/{id}/load", s.handleLoad)
	mux.HandleFunc("POST /v1/sessions/{id}/tick", s.handleTick)
	mux.HandleFunc("POST /v1/sessions/{id}/save", s.handleSave)
	mux.HandleFunc("POST /v1/sessions/{id}/recall", s.handleRecall)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}
	for pattern, h := range s.mounts {
		mux.Handle(pattern, h)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ── Requests and responses ───────────────────────────────────────────────────

type createRequest struct {
	SaveDir string `json:"save_dir"`
}

type loadRequest struct {
	SaveDir string `json:"save_dir"`
}

// TickRequest is the body of a tick, over HTTP and WebSocket alike.
type TickRequest struct {
	Event  world.EventKind `json:"event"`
	Params map[string]any  `json:"params"`
}

type recallRequest struct {
	NPCID string `json:"npc_id"`
	Query string `json:"query"`
}

type stateResponse struct {
	State json.RawMessage `json:"state"`
}

type recallResponse struct {
	Recollections []memory.Recollection `json:"recollections"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decode(w, r, &req, true) {
		return
	}
	info, err := s.sessions.Create(r.Context(), req.SaveDir)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Info(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Snapshot(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: st})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !decode(w, r, &req, true) {
		return
	}
	st, err := s.sessions.Load(r.Context(), r.PathValue("id"), req.SaveDir)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: st})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.Event == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "event is required"})
		return
	}
	res, err := s.sessions.Tick(r.Context(), r.PathValue("id"), req.Event, req.Params)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Save(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.NPCID == "" || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "npc_id and query are required"})
		return
	}
	recs, err := s.sessions.Recall(r.Context(), r.PathValue("id"), req.NPCID, req.Query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []memory.Recollection{}
	}
	writeJSON(w, http.StatusOK, recallResponse{Recollections: recs})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrNoSave),
		errors.Is(err, world.ErrUnknownNPC):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoSaveDir):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, memory.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		// Includes graph.ErrRoutingDeadEnd.
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.LoggerFrom(r.Context(), s.log).Error("api: request failed",
			"path", r.URL.Path, "session_id", r.PathValue("id"), "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads a JSON body into v. With optional set an empty body is
// accepted and leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
