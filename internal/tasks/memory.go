package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) Create(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Control == "" {
		task.Control = models.ControlAssistant
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, t := range s.tasks {
		if opts.Status != nil && t.Status != *opts.Status {
			continue
		}
		if opts.Priority != nil && t.Priority != *opts.Priority {
			continue
		}
		if opts.Type != nil && t.Type != *opts.Type {
			continue
		}
		if opts.UserID != nil && (t.UserID == nil || *t.UserID != *opts.UserID) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)

	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to models.TaskStatus, update StatusUpdate) error {
	if !models.CanTransition(from, to) {
		return ErrIllegalTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != from {
		return ErrTransitionConflict
	}
	now := time.Now()
	t.Status = to
	t.UpdatedAt = now
	if to == models.TaskRunning && t.ExecutedAt == nil {
		t.ExecutedAt = &now
	}
	if models.IsTerminal(to) {
		if t.ExecutedAt == nil {
			t.ExecutedAt = &now
		}
		t.CompletedAt = &now
	}
	if update.Result != nil {
		t.Result = update.Result
	}
	if update.Error != nil {
		t.Error = update.Error
	}
	return nil
}

func (s *MemoryStore) SetControl(ctx context.Context, id string, control models.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Control = control
	t.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetQueuedAt(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.QueuedAt == nil {
		now := time.Now()
		t.QueuedAt = &now
		t.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, t := range s.tasks {
		if t.Type != models.TaskTypeScheduled || t.Status != models.TaskPending {
			continue
		}
		if t.ScheduledAt == nil || t.ScheduledAt.After(now) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountsByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}
