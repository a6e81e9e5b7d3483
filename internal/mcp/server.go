// Package mcp serves murmur sessions as Model Context Protocol tools, so an
// external agent can drive the simulation and read character memory:
//
//   - recall_memory:  ranked recollections of one character
//   - world_tick:     install an event and run one tick
//   - world_snapshot: the current world state
//
// Each tool takes an optional session id; an empty one selects the server's
// default session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/session"
	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
)

// ErrNoSession is returned when a call names no session and the server has
// no default.
var ErrNoSession = errors.New("mcp: no session selected")

// Sessions is the session surface the tools use.
type Sessions interface {
	Tick(ctx context.Context, id string, kind world.EventKind, params map[string]any) (session.TickResult, error)
	Snapshot(id string) (json.RawMessage, error)
	Recall(ctx context.Context, id, npcID, query string) ([]memory.Recollection, error)
}

var _ Sessions = (*session.Manager)(nil)

// Server registers the murmur tools on an MCP server.
type Server struct {
	sessions       Sessions
	defaultSession string
	metrics        *observe.Metrics
	log            *slog.Logger
	srv            *mcpsdk.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultSession selects the session used when a call names none.
func WithDefaultSession(id string) Option { return func(s *Server) { s.defaultSession = id } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// NewServer builds the tool server. version is reported to clients.
func NewServer(sessions Sessions, version string, opts ...Option) *Server {
	s := &Server{sessions: sessions, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "murmur", Version: version}, nil)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "recall_memory",
		Description: "Recall what a character remembers about a topic, ranked by similarity and recency.",
	}, instrument(s, "recall_memory", s.recallMemory))
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "world_tick",
		Description: "Send one event (player_chat, player_near_npc, player_moved) to the world and run a simulation tick.",
	}, instrument(s, "world_tick", s.worldTick))
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "world_snapshot",
		Description: "Return the current world state as JSON.",
	}, instrument(s, "world_snapshot", s.worldSnapshot))
	return s
}

// Run serves one client over stdin/stdout until ctx ends or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves one client over t. The returned session ends when the
// client disconnects.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// Handler serves the tools over the Streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// ── Tool inputs ──────────────────────────────────────────────────────────────

// RecallInput is the input of recall_memory.
type RecallInput struct {
	Session string `json:"session,omitempty" jsonschema:"session id; empty selects the default session"`
	NPCID   string `json:"npc_id" jsonschema:"character whose memory is searched"`
	Query   string `json:"query" jsonschema:"what to recall"`
}

// TickInput is the input of world_tick.
type TickInput struct {
	Session string         `json:"session,omitempty" jsonschema:"session id; empty selects the default session"`
	Event   string         `json:"event" jsonschema:"event kind, e.g. player_chat"`
	Params  map[string]any `json:"params,omitempty" jsonschema:"event parameters, e.g. npc_id and text"`
}

// SnapshotInput is the input of world_snapshot.
type SnapshotInput struct {
	Session string `json:"session,omitempty" jsonschema:"session id; empty selects the default session"`
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) recallMemory(ctx context.Context, in RecallInput) (any, error) {
	id, err := s.session(in.Session)
	if err != nil {
		return nil, err
	}
	if in.NPCID == "" || in.Query == "" {
		return nil, errors.New("mcp: npc_id and query are required")
	}
	recs, err := s.sessions.Recall(ctx, id, in.NPCID, in.Query)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []memory.Recollection{}
	}
	return map[string]any{"recollections": recs}, nil
}

func (s *Server) worldTick(ctx context.Context, in TickInput) (any, error) {
	id, err := s.session(in.Session)
	if err != nil {
		return nil, err
	}
	if in.Event == "" {
		return nil, errors.New("mcp: event is required")
	}
	return s.sessions.Tick(ctx, id, world.EventKind(in.Event), in.Params)
}

func (s *Server) worldSnapshot(_ context.Context, in SnapshotInput) (any, error) {
	id, err := s.session(in.Session)
	if err != nil {
		return nil, err
	}
	return s.sessions.Snapshot(id)
}

func (s *Server) session(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if s.defaultSession == "" {
		return "", ErrNoSession
	}
	return s.defaultSession, nil
}

// instrument adapts a tool function to the SDK handler shape. The result is
// returned as JSON text; a failure becomes a tool error the client can read.
func instrument[In any](s *Server, name string, fn func(context.Context, In) (any, error)) mcpsdk.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		ctx, span := observe.StartSpan(ctx, "mcp."+name)
		defer span.End()

		start := time.Now()
		out, err := fn(ctx, in)
		var text []byte
		if err == nil {
			text, err = json.Marshal(out)
		}
		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

		if err != nil {
			s.metrics.RecordToolCall(ctx, name, "error")
			observe.LoggerFrom(ctx, s.log).Warn("mcp: tool failed", "tool", name, "err", err)
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("%s: %v", name, err)}},
			}, nil, nil
		}
		s.metrics.RecordToolCall(ctx, name, "ok")
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		}, nil, nil
	}
}
