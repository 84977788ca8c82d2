// Package tasks implements the C4 Task Store: CRUD plus the
// compare-and-swap status transition and the scheduler's due-task query.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// StatusUpdate carries the optional result/error payload stamped alongside
// a status transition (spec.md §4.4: result set entering COMPLETED, error
// set entering FAILED).
type StatusUpdate struct {
	Result json.RawMessage
	Error  *string
}

// Store is the interface every Task Store backend implements.
type Store interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	Delete(ctx context.Context, id string) error

	// List returns a page of tasks matching opts alongside the total
	// number of tasks matching opts ignoring Limit/Offset, per spec.md
	// §4.4/§6's paginated-list-with-total-count contract.
	List(ctx context.Context, opts ListOptions) ([]*models.Task, int, error)

	// UpdateStatus performs the CAS transition from -> to, returning
	// ErrTransitionConflict if the task's current status is not from and
	// ErrIllegalTransition if from -> to is not a legal move per
	// models.CanTransition — checked before the SQL round trip so a
	// malformed caller never reaches the database. Entering RUNNING for
	// the first time stamps ExecutedAt; entering a terminal status stamps
	// CompletedAt (and ExecutedAt, if still unset) and records update's
	// Result/Error.
	UpdateStatus(ctx context.Context, id string, from, to models.TaskStatus, update StatusUpdate) error

	// SetControl records which side holds the wheel (models.Control), set
	// by takeover (-> USER) and resume (-> ASSISTANT).
	SetControl(ctx context.Context, id string, control models.Control) error

	// SetQueuedAt stamps QueuedAt with now if it is still unset, called by
	// the scheduler on admission.
	SetQueuedAt(ctx context.Context, id string) error

	// DueScheduled returns SCHEDULED tasks whose ScheduledAt has passed and
	// are still PENDING, for the scheduler's due-time poller.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)

	// CountsByStatus returns the number of tasks currently in each status.
	CountsByStatus(ctx context.Context) (map[models.TaskStatus]int, error)
}

// ListOptions filters List.
type ListOptions struct {
	Status   *models.TaskStatus
	Priority *models.TaskPriority
	Type     *models.TaskType
	UserID   *string
	Limit    int
	Offset   int
}

// Closer is implemented by stores that own a resource needing cleanup.
type Closer interface {
	Close() error
}
