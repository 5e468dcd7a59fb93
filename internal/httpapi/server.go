// Package httpapi fronts the memory subsystem with a local HTTP surface
// for the glue that consumes it. It carries no invariants of its own;
// everything interesting happens in the session and memory stores.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/fault"
	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/observability"
	"github.com/mnemo-ai/mnemo/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions *session.Store
	memories *memory.LongTermStore
	metrics  *observability.Metrics
	hub      *EventHub
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Store, memories *memory.LongTermStore, metrics *observability.Metrics, hub *EventHub) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		memories: memories,
		metrics:  metrics,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser clients may watch the event
				// feed unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/conversations/{key}/messages", s.handleAppend)
	r.Get("/v1/conversations/{key}/history", s.handleHistory)
	r.Post("/v1/conversations/{key}/clear", s.handleClear)

	r.Post("/v1/memories", s.handleRemember)
	r.Post("/v1/memories/recall", s.handleRecall)
	r.Delete("/v1/memories/{id}", s.handleForget)
	r.Get("/v1/memories", s.handleListMemories)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/events/ws", s.handleEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type appendResponse struct {
	MessageID string          `json:"message_id"`
	Session   session.Session `json:"session"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req session.AppendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, err := s.sessions.GetOrCreate(key)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	start := time.Now()
	messageID, err := s.sessions.Append(r.Context(), sess.ID, req, s.cfg.BudgetFor(strings.ToLower(strings.TrimSpace(req.Role))))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveAppend(time.Since(start))
		s.metrics.MessagesAppended.WithLabelValues(strings.ToLower(strings.TrimSpace(req.Role))).Inc()
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	}

	updated, err := s.sessions.Get(sess.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, appendResponse{MessageID: messageID, Session: updated})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	limit := intQuery(r, "limit", 0)

	sess, err := s.sessions.Lookup(key)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	entries, err := s.sessions.History(sess.ID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"history":    entries,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	sess, err := s.sessions.Lookup(key)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			// Clearing an unknown conversation is a no-op.
			respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
			return
		}
		respondStoreError(w, err)
		return
	}
	if err := s.sessions.Clear(sess.ID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "session_id": sess.ID})
}

type rememberRequest struct {
	Content  string         `json:"content"`
	Kind     string         `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	kind, err := memory.ParseKind(req.Kind)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	memoryID, err := s.memories.Remember(r.Context(), req.Content, kind, req.Metadata)
	if err != nil {
		s.countMemoryOp("remember", "error")
		respondStoreError(w, err)
		return
	}
	s.countMemoryOp("remember", "ok")
	respondJSON(w, http.StatusCreated, map[string]any{"memory_id": memoryID})
}

type recallRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	results, err := s.memories.Recall(r.Context(), req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		s.countMemoryOp("recall", "error")
		respondStoreError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveRecall(time.Since(start))
	}
	s.countMemoryOp("recall", "ok")
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.memories.Forget(r.Context(), id); err != nil {
		s.countMemoryOp("forget", "error")
		respondStoreError(w, err)
		return
	}
	s.countMemoryOp("forget", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	var kind memory.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		parsed, err := memory.ParseKind(raw)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		kind = parsed
	}

	records, err := s.memories.List(r.Context(), limit, kind)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": records})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "events_disabled", "event feed not enabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.serve(conn)
}

func (s *Server) countMemoryOp(op, outcome string) {
	if s.metrics != nil {
		s.metrics.MemoryOps.WithLabelValues(op, outcome).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondStoreError maps the fault taxonomy onto HTTP status codes.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, fault.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, fault.ErrCapacity):
		respondError(w, http.StatusInsufficientStorage, "capacity_exhausted", err.Error())
	case errors.Is(err, fault.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func intQuery(r *http.Request, name string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
