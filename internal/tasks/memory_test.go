package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	task := &models.Task{Description: "open the browser", Status: models.TaskPending, Priority: models.PriorityHigh, Type: models.TaskTypeImmediate}

	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected task id to be assigned")
	}

	loaded, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.Description != task.Description {
		t.Fatalf("expected description %q, got %q", task.Description, loaded.Description)
	}
}

func TestMemoryStoreUpdateStatusIllegal(t *testing.T) {
	store := NewMemoryStore()
	task := &models.Task{Description: "x", Status: models.TaskPending}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskPending, models.TaskCompleted, StatusUpdate{}); err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestMemoryStoreUpdateStatusConflict(t *testing.T) {
	store := NewMemoryStore()
	task := &models.Task{Description: "x", Status: models.TaskRunning}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskPending, models.TaskRunning, StatusUpdate{}); err != ErrTransitionConflict {
		t.Fatalf("expected ErrTransitionConflict, got %v", err)
	}

	result := json.RawMessage(`"done"`)
	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskRunning, models.TaskCompleted, StatusUpdate{Result: result}); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	loaded, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.Status != models.TaskCompleted {
		t.Fatalf("expected status COMPLETED, got %s", loaded.Status)
	}
	if string(loaded.Result) != string(result) {
		t.Fatalf("expected result %s, got %s", result, loaded.Result)
	}
	if loaded.CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be stamped")
	}
}

func TestMemoryStoreDueScheduled(t *testing.T) {
	store := NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	task := &models.Task{
		Description: "scheduled job",
		Type:        models.TaskTypeScheduled,
		Status:      models.TaskPending,
		ScheduledAt: &past,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	due, err := store.DueScheduled(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("DueScheduled() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != task.ID {
		t.Fatalf("expected the scheduled task to be due, got %d results", len(due))
	}
}

func TestMemoryStoreCountsByStatus(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 3; i++ {
		if err := store.Create(context.Background(), &models.Task{Description: "x", Status: models.TaskPending}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := store.Create(context.Background(), &models.Task{Description: "y", Status: models.TaskRunning}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	counts, err := store.CountsByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountsByStatus() error = %v", err)
	}
	if counts[models.TaskPending] != 3 {
		t.Fatalf("expected 3 pending tasks, got %d", counts[models.TaskPending])
	}
	if counts[models.TaskRunning] != 1 {
		t.Fatalf("expected 1 running task, got %d", counts[models.TaskRunning])
	}
}

func TestMemoryStoreListPagination(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		if err := store.Create(context.Background(), &models.Task{Description: "x", Status: models.TaskPending}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, total, err := store.List(context.Background(), ListOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 {
		t.Fatalf("expected total 5, got %d", total)
	}
	if len(page) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(page))
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	task := &models.Task{Description: "x", Status: models.TaskPending}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Delete(context.Background(), task.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(context.Background(), task.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(context.Background(), task.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}
