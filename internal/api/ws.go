package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/murmur/internal/observe"
)

// wsWriteTimeout bounds one outgoing frame.
const wsWriteTimeout = 10 * time.Second

// wsReply is one frame sent back for a tick message. Exactly one of Tick and
// Error is set.
type wsReply struct {
	Tick  any    `json:"tick,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWS upgrades to a WebSocket that accepts one [TickRequest] per text
// frame and answers each with the tick result. A failed tick is reported in
// the reply and keeps the connection open; the connection closes when the
// client goes away or the request context ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Info(id); err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept already wrote the HTTP error.
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := observe.LoggerFrom(ctx, s.log).With("session_id", id)
	log.Debug("api: websocket opened")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug("api: websocket read ended", "err", err)
			}
			return
		}

		var reply wsReply
		var req TickRequest
		switch err := json.Unmarshal(data, &req); {
		case err != nil:
			reply.Error = "invalid tick message: " + err.Error()
		case req.Event == "":
			reply.Error = "event is required"
		default:
			res, err := s.sessions.Tick(ctx, id, req.Event, req.Params)
			if err != nil {
				if statusFor(err) >= http.StatusInternalServerError {
					log.Error("api: websocket tick failed", "err", err)
				}
				reply.Error = err.Error()
			} else {
				reply.Tick = res
			}
		}

		if err := writeFrame(ctx, conn, reply); err != nil {
			log.Debug("api: websocket write failed", "err", err)
			return
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
