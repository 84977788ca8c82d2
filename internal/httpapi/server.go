// Package httpapi implements the C12 HTTP API: JWT-guarded CRUD over
// tasks and their message history, plus the mount point for the C7
// realtime websocket gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kestrelrun/cua-agent/internal/messages"
	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// Submitter admits a newly created immediate task to the scheduler (C9)
// and exposes its external controls (spec.md §4.9): cancel, takeover, and
// resume.
type Submitter interface {
	Submit(task *models.Task)
	Cancel(ctx context.Context, taskID string) error
	Takeover(ctx context.Context, taskID string) error
	Resume(ctx context.Context, taskID string) error
}

// ModelLister exposes the C6 router's aggregated model catalog, narrowed so
// httpapi never imports internal/routing directly.
type ModelLister interface {
	ListModels(ctx context.Context) ([]models.ModelInfo, error)
}

// Config wires the API's dependencies.
type Config struct {
	TaskStore    tasks.Store
	MessageStore messages.Store
	Tokens       *TokenService
	Scheduler    Submitter
	Models       ModelLister
	Realtime     http.Handler // the C7 websocket handler, mounted at /ws
	Logger       *slog.Logger
}

// Server is the C12 HTTP API surface.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds a Server with every route mounted.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	authed := requireAuth(s.cfg.Tokens, s.cfg.Logger)
	logged := logRequest(s.cfg.Logger)

	mount := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, chain(h, logged, authed))
	}

	mount("POST /tasks", s.handleCreateTask)
	mount("GET /tasks", s.handleListTasks)
	mount("GET /tasks/models", s.handleListModels)
	mount("GET /tasks/{id}", s.handleGetTask)
	mount("PATCH /tasks/{id}", s.handleUpdateTask)
	mount("DELETE /tasks/{id}", s.handleDeleteTask)
	mount("POST /tasks/{id}/cancel", s.handleCancelTask)
	mount("POST /tasks/{id}/takeover", s.handleTakeoverTask)
	mount("POST /tasks/{id}/resume", s.handleResumeTask)
	mount("GET /tasks/{id}/messages", s.handleListMessages)
	mount("POST /tasks/{id}/messages", s.handleAppendMessage)

	if s.cfg.Realtime != nil {
		s.mux.Handle("/ws", chain(s.cfg.Realtime, logged, authed))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
