package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelrun/cua-agent/internal/scheduler"
	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }

type createTaskRequest struct {
	Description string             `json:"description"`
	Priority    models.TaskPriority `json:"priority"`
	Model       string             `json:"model"`
	ScheduledAt *string            `json:"scheduled_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}

	task := &models.Task{
		Description: req.Description,
		Priority:    req.Priority,
		Model:       req.Model,
		Type:        models.TaskTypeImmediate,
		Status:      models.TaskPending,
	}
	if userID, ok := UserIDFromContext(r.Context()); ok {
		task.UserID = &userID
	}
	if req.ScheduledAt != nil {
		scheduledAt, err := parseTime(*req.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid scheduled_at: "+err.Error())
			return
		}
		task.Type = models.TaskTypeScheduled
		task.ScheduledAt = &scheduledAt
	}

	if err := s.cfg.TaskStore.Create(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	if task.Type == models.TaskTypeImmediate && s.cfg.Scheduler != nil {
		s.cfg.Scheduler.Submit(task)
	}

	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts := tasks.ListOptions{}
	if status := r.URL.Query().Get("status"); status != "" {
		ts := models.TaskStatus(status)
		opts.Status = &ts
	}
	if priority := r.URL.Query().Get("priority"); priority != "" {
		tp := models.TaskPriority(priority)
		opts.Priority = &tp
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		tt := models.TaskType(typ)
		opts.Type = &tt
	}
	if userID := r.URL.Query().Get("userId"); userID != "" {
		opts.UserID = &userID
	} else if userID, ok := UserIDFromContext(r.Context()); ok {
		opts.UserID = &userID
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 0 {
		opts.Limit = limit
		if page := r.URL.Query().Get("page"); page != "" {
			if n, err := strconv.Atoi(page); err == nil && n > 1 {
				opts.Offset = (n - 1) * limit
			}
		}
	}

	list, total, err := s.cfg.TaskStore.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, listTasksResponse{Tasks: list, Total: total})
}

type listTasksResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.cfg.TaskStore.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeTaskStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// updateTaskRequest is a partial update: only non-nil fields are applied.
// The only mutation spec.md §6's PATCH /tasks/:id actually drives is a
// status transition, validated the same way the reasoning loop's own
// UpdateStatus calls are (spec.md §4.4's CAS semantics).
type updateTaskRequest struct {
	Status *models.TaskStatus `json:"status"`
}

// handleUpdateTask applies a partial update to a task. An illegal status
// transition is a client error (spec.md §8 scenario 4: PATCH into an
// unreachable status is 400 InvalidStatusTransition), distinct from the
// 409 Conflict a lost CAS race gets elsewhere in this file.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == nil {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	task, err := s.cfg.TaskStore.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeTaskStoreError(w, err)
		return
	}
	if !models.CanTransition(task.Status, *req.Status) {
		writeError(w, http.StatusBadRequest, "InvalidStatusTransition: cannot move from "+string(task.Status)+" to "+string(*req.Status))
		return
	}

	if err := s.cfg.TaskStore.UpdateStatus(r.Context(), task.ID, task.Status, *req.Status, tasks.StatusUpdate{}); err != nil {
		s.writeTaskStoreError(w, err)
		return
	}

	updated, err := s.cfg.TaskStore.Get(r.Context(), task.ID)
	if err != nil {
		s.writeTaskStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.TaskStore.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeTaskStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCancelTask fires the scheduler's cooperative cancel signal
// (spec.md §4.9): the reasoning loop observes it at the next turn boundary
// and transitions the task to CANCELLED itself.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.writeTaskStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleTakeoverTask moves control to the operator and forces NEEDS_HELP
// (spec.md §4.9, Glossary "Takeover").
func (s *Server) handleTakeoverTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Takeover(r.Context(), r.PathValue("id")); err != nil {
		s.writeTaskStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleResumeTask re-admits a task from NEEDS_HELP, NEEDS_REVIEW, or
// PENDING (spec.md §4.9).
func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Resume(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, scheduler.ErrNotResumable) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeTaskStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleListModels exposes the C6 router's aggregated model catalog.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Models.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) writeTaskStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, tasks.ErrIllegalTransition), errors.Is(err, tasks.ErrTransitionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
