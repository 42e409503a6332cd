// Package gateway bridges websocket clients to agent sessions and serves the
// local HTTP API.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"agentdeck/internal/logging"
	"agentdeck/internal/protocol"
	"agentdeck/internal/runlog"
	"agentdeck/internal/supervisor"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	wsReadLimitBytes int64 = 1 << 20
	wsWriteTimeout         = 5 * time.Second
)

type RunLister interface {
	List(sessionID string, limit int) ([]runlog.Run, error)
	Events(runID string, limit int) ([]runlog.Event, error)
}

type Deps struct {
	Registry *Registry
	Runs     RunLister
	Logger   *slog.Logger
}

type Server struct {
	deps    Deps
	mux     *http.ServeMux
	handler *Handler
	logger  *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = NewRegistry(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("module", "gateway")
	s := &Server{deps: deps, mux: http.NewServeMux(), handler: NewHandler(logger), logger: logger}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleRunEvents)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Registry() *Registry {
	return s.deps.Registry
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"sessions": s.deps.Registry.Snapshots()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, http.StatusServiceUnavailable, "RUN_LOG_UNAVAILABLE", "run history is not configured")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		if _, err := NormalizeSessionID(sessionID); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_SESSION", err.Error())
			return
		}
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
		return
	}
	runs, err := s.deps.Runs.List(sessionID, limit)
	if err != nil {
		s.logger.Error("list runs failed", "err", err)
		respondError(w, http.StatusInternalServerError, "RUN_LOG_ERROR", err.Error())
		return
	}
	respondOK(w, map[string]any{"runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, http.StatusServiceUnavailable, "RUN_LOG_UNAVAILABLE", "run history is not configured")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
		return
	}
	events, err := s.deps.Runs.Events(r.PathValue("id"), limit)
	if err != nil {
		s.logger.Error("list run events failed", "err", err)
		respondError(w, http.StatusInternalServerError, "RUN_LOG_ERROR", err.Error())
		return
	}
	respondOK(w, map[string]any{"events": events})
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return 0, errors.New("limit must be between 1 and 500")
	}
	return n, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	session, hub, release, err := s.deps.Registry.Acquire(r.URL.Query().Get("session"))
	if errors.Is(err, ErrTooManySessions) {
		respondError(w, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_SESSION", err.Error())
		return
	}
	defer release()
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(wsReadLimitBytes)

	c := newConn(uuid.NewString(), session.ID())
	logger := s.logger.With("conn_id", c.id, "session", c.session)
	session.WithSnapshot(func(snap supervisor.Snapshot) {
		hub.add(c)
		c.Enqueue(hub.event(protocol.OpStatus, protocol.StatusPayload{Status: snap.Status}))
	})
	logger.Debug("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	writerDone := make(chan struct{})
	defer func() {
		hub.remove(c)
		cancel()
		<-writerDone
		_ = ws.Close(websocket.StatusNormalClosure, "")
		logger.Debug("client disconnected")
	}()

	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, ws, c, logger)
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Enqueue(protocol.ErrorResponse(protocol.Message{Type: protocol.TypeResponse}, protocol.CodeBadRequest, "invalid json"))
			continue
		}
		res := s.handler.Handle(session, msg)
		if warning, ok := requesterWarning(res); ok {
			c.Enqueue(hub.event(protocol.OpLog, protocol.LogPayload{Msg: warning, Type: supervisor.LevelWarning}))
		}
		c.Enqueue(res)
	}
}

func (s *Server) writeLoop(ctx context.Context, ws *websocket.Conn, c *conn, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbound:
			raw, err := json.Marshal(msg)
			if err != nil {
				logger.Error("encode outbound message failed", "op", msg.Op, "err", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = ws.Write(wctx, websocket.MessageText, raw)
			wcancel()
			if err != nil {
				logger.Debug("write to client failed", "err", err)
				_ = ws.CloseNow()
				return
			}
		}
	}
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
