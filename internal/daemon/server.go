// Package daemon implements the Daemon side of the C2 contract: an HTTP
// server that accepts a models.Action, validates it, executes it through
// internal/automation, and returns the result as JSON.
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelrun/cua-agent/internal/automation"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// Server exposes the computer-use endpoint over plain net/http.
type Server struct {
	executor automation.Executor
	logger   *slog.Logger
	mux      *http.ServeMux
}

// Config configures the Daemon HTTP server.
type Config struct {
	Executor automation.Executor
	Logger   *slog.Logger
}

// New builds a Server with its routes mounted.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{executor: cfg.Executor, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/computer-use", s.handleComputerUse)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type computerUseResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Result  any    `json:"result,omitempty"`
}

func (s *Server) handleComputerUse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var action models.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode action: %w", err))
		return
	}
	if err := action.Validate(); err != nil {
		s.logger.Warn("rejected invalid computer action", "type", action.Type, "error", err)
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	s.logger.Debug("executing computer action", "type", action.Type)
	result, err := s.executor.Execute(ctx, action)
	if err != nil {
		s.logger.Error("computer action failed", "type", action.Type, "error", err)
		s.writeError(w, classifyStatus(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, computerUseResponse{Success: true, Result: encodeResult(action.Type, result)})
}

func encodeResult(actionType models.ActionType, result automation.Result) any {
	switch actionType {
	case models.ActionScreenshot:
		return map[string]any{"screenshot": base64.StdEncoding.EncodeToString(result.Screenshot)}
	case models.ActionCursorPosition:
		return map[string]any{"coordinates": result.CursorPos}
	case models.ActionReadFile:
		return map[string]any{"data": base64.StdEncoding.EncodeToString(result.FileData)}
	default:
		return nil
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, computerUseResponse{Success: false, Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// classifyStatus maps an automation.Error's classification to an HTTP
// status the agent's remote client can react to without parsing prose.
func classifyStatus(err error) int {
	var autoErr *automation.Error
	if errors.As(err, &autoErr) {
		switch autoErr.Kind {
		case automation.KindValidation, automation.KindInvalidPath:
			return http.StatusBadRequest
		case automation.KindTimeout:
			return http.StatusGatewayTimeout
		case automation.KindDisplayUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
