package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inteliventa/entrenador/internal/config"
	"github.com/inteliventa/entrenador/internal/history"
	"github.com/inteliventa/entrenador/internal/observability"
	"github.com/inteliventa/entrenador/internal/orchestrator"
	"github.com/inteliventa/entrenador/internal/service"
	"github.com/inteliventa/entrenador/internal/session"
)

// SessionService provisions and controls live avatar sessions.
type SessionService interface {
	StartExercise(ctx context.Context, interactionID string) (*session.Session, orchestrator.Snapshot, error)
	EndSession(ctx context.Context, sessionID string) (*session.Session, error)
	Orchestrator(sessionID string) (*orchestrator.Orchestrator, bool)
	Transcript(ctx context.Context, sessionID string, limit int) ([]history.Entry, error)
	Touch(sessionID string)
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	service  SessionService
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, log *zap.Logger, svc SessionService, metrics *observability.Metrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		service: svc,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. This prevents other
				// websites from driving a user's live session if the service
				// is ever exposed beyond localhost.
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

	r.Post("/v1/avatar/session", s.handleCreateSession)
	r.Post("/v1/avatar/session/{id}/end", s.handleEndSession)
	r.Get("/v1/avatar/session/{id}/transcript", s.handleTranscript)
	r.Get("/v1/avatar/session/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.InteractionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_interaction_id", "interaction_id is required")
		return
	}

	sess, snap, err := s.service.StartExercise(r.Context(), req.InteractionID)
	if err != nil {
		var unavailable *service.ErrExerciseUnavailable
		if errors.As(err, &unavailable) {
			respondError(w, http.StatusConflict, "exercise_unavailable", unavailable.Reason)
			return
		}
		s.log.Error("session provisioning failed",
			zap.String("interaction_id", req.InteractionID),
			zap.Error(err))
		respondError(w, http.StatusBadGateway, "session_provisioning_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		InteractionID:   sess.InteractionID,
		EngineSessionID: sess.EngineSession,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
		TimerEnabled:    snap.TimerEnabled,
		TimerSeconds:    snap.TimerSeconds,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.service.EndSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.service.Transcript(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "transcript_failed", err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
