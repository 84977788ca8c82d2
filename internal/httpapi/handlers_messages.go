package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kestrelrun/cua-agent/internal/messages"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	history, err := s.cfg.MessageStore.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type appendMessageRequest struct {
	Text string `json:"text"`
}

// handleAppendMessage lets an operator steer a running task by injecting a
// user-role message into its conversation; the reasoning loop (C8) picks
// it up as part of history on its next turn.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	msg := &models.Message{
		TaskID:  r.PathValue("id"),
		Role:    models.RoleUser,
		Content: []models.ContentBlock{models.Text(req.Text)},
	}
	if userID, ok := UserIDFromContext(r.Context()); ok {
		msg.UserID = &userID
	}

	if err := s.cfg.MessageStore.Append(r.Context(), msg); err != nil {
		if errors.Is(err, messages.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
