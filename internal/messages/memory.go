package messages

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	byTask   map[string][]string
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*models.Message),
		byTask:   make(map[string][]string),
	}
}

func (s *MemoryStore) Append(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.byTask[msg.TaskID] = append(s.byTask[msg.TaskID], msg.ID)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, taskID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byTask[taskID]
	if limit > 0 && limit < len(ids) {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		cp := *s.messages[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}
