// Package httpapi exposes the orchestrator over HTTP.
//
//	POST   /chat          run one turn
//	GET    /session/{id}  inspect session state
//	DELETE /session/{id}  drop a session
//	GET    /health        component health and job status
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nevindra/steward"
)

// ComponentStatus reports the last background probe outcome per component;
// "ok" marks a healthy one. jobs.ComponentHealth implements it.
type ComponentStatus interface {
	Snapshot() map[string]string
}

// Server wires the orchestrator and scheduler into a chi router.
type Server struct {
	orch       *steward.Orchestrator
	scheduler  *steward.Scheduler
	components ComponentStatus
	logger     *slog.Logger
}

// New creates the HTTP layer. scheduler and components may be nil when
// background jobs are disabled.
func New(orch *steward.Orchestrator, scheduler *steward.Scheduler, components ComponentStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{orch: orch, scheduler: scheduler, components: components, logger: logger}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Get("/session/{id}", s.handleGetSession)
	r.Delete("/session/{id}", s.handleDeleteSession)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req steward.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	reply, err := s.orch.HandleTurn(r.Context(), req)
	if err != nil {
		status := statusForTurnError(err)
		if status >= 500 {
			s.logger.Error("turn failed", "session", req.SessionID, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.orch.GetSession(r.Context(), id)
	if errors.Is(err, steward.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth merges the background probe snapshot with a live checkpointer
// check. A dead checkpointer means turns cannot run at all (unavailable);
// any other failing component degrades but still serves.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	if s.components != nil {
		components = s.components.Snapshot()
	}

	status, code := "ok", http.StatusOK
	if err := s.orch.Health(r.Context()); err != nil {
		components["checkpointer"] = err.Error()
		status, code = "unavailable", http.StatusServiceUnavailable
	} else {
		components["checkpointer"] = "ok"
	}
	if status == "ok" {
		for _, v := range components {
			if v != "ok" {
				status = "degraded"
				break
			}
		}
	}

	body := map[string]any{"status": status, "components": components}
	if s.scheduler != nil {
		body["jobs"] = s.scheduler.Status()
	}
	writeJSON(w, code, body)
}

// statusForTurnError maps the turn error taxonomy onto HTTP statuses.
func statusForTurnError(err error) int {
	switch steward.TurnKind(err) {
	case steward.TurnValidation:
		return http.StatusBadRequest
	case steward.TurnConcurrent:
		return http.StatusConflict
	case steward.TurnOverloaded:
		return http.StatusTooManyRequests
	case steward.TurnTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
