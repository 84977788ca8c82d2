package messages

import (
	"context"
	"testing"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	store := NewMemoryStore()
	msg := &models.Message{
		TaskID:  "task-1",
		Role:    models.RoleUser,
		Content: []models.ContentBlock{models.Text("open the browser")},
	}
	if err := store.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if msg.ID == "" {
		t.Fatalf("expected message id to be assigned")
	}

	history, err := store.History(context.Background(), "task-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
}

func TestMemoryStoreAppendRejectsInvalidMessage(t *testing.T) {
	store := NewMemoryStore()
	msg := &models.Message{TaskID: "task-1", Role: models.RoleUser}
	if err := store.Append(context.Background(), msg); err == nil {
		t.Fatalf("expected error for message with no content")
	}
}

func TestMemoryStoreHistoryRespectsLimit(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			TaskID:  "task-2",
			Role:    models.RoleAssistant,
			Content: []models.ContentBlock{models.Text("step")},
		}
		if err := store.Append(context.Background(), msg); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	history, err := store.History(context.Background(), "task-2", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
