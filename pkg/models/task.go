package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus is the task lifecycle state (spec.md §3).
type TaskStatus string

const (
	TaskPending     TaskStatus = "PENDING"
	TaskRunning     TaskStatus = "RUNNING"
	TaskNeedsHelp   TaskStatus = "NEEDS_HELP"
	TaskNeedsReview TaskStatus = "NEEDS_REVIEW"
	TaskCompleted   TaskStatus = "COMPLETED"
	TaskFailed      TaskStatus = "FAILED"
	TaskCancelled   TaskStatus = "CANCELLED"
)

// TaskType distinguishes user-initiated work from scheduled or follow-up work.
type TaskType string

const (
	TaskTypeImmediate TaskType = "IMMEDIATE"
	TaskTypeScheduled TaskType = "SCHEDULED"
)

// TaskPriority drives scheduler admission order (spec.md §4.9).
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "URGENT"
	PriorityHigh   TaskPriority = "HIGH"
	PriorityMedium TaskPriority = "MEDIUM"
	PriorityLow    TaskPriority = "LOW"
)

// PriorityRank maps a priority to a FIFO-tiebreaking weight; lower sorts
// first. Used by the scheduler's admission queue.
func PriorityRank(p TaskPriority) int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Control records which side holds the wheel (spec.md §3). The reasoning
// loop runs while control is ASSISTANT; takeover (§4.9) moves it to USER
// and forces NEEDS_HELP. Cancellation is a separate cooperative signal
// (see internal/scheduler's cancel-handle registry) and is never encoded
// here.
type Control string

const (
	ControlAssistant Control = "ASSISTANT"
	ControlUser      Control = "USER"
)

// Task is the orchestration unit owned by C4 and driven by C8/C9.
type Task struct {
	ID          string
	Description string
	Type        TaskType
	Status      TaskStatus
	Priority    TaskPriority
	Control     Control
	Model       string
	UserID      *string
	ScheduledAt *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	QueuedAt    *time.Time
	ExecutedAt  *time.Time
	CompletedAt *time.Time

	// Result is opaque JSON set when the task reaches COMPLETED.
	Result json.RawMessage
	// Error is set when the task reaches FAILED.
	Error *string

	Metadata map[string]any
}

// legalTransitions enumerates the full state machine. A transition not
// present here is illegal and update_status (C4) must reject it.
var legalTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskRunning:   true,
		TaskCancelled: true,
	},
	TaskRunning: {
		TaskNeedsHelp:   true,
		TaskNeedsReview: true,
		TaskCompleted:   true,
		TaskFailed:      true,
		TaskCancelled:   true,
	},
	TaskNeedsHelp: {
		TaskRunning:   true,
		TaskCancelled: true,
		TaskFailed:    true,
	},
	TaskNeedsReview: {
		TaskRunning:   true,
		TaskCompleted: true,
		TaskCancelled: true,
	},
	TaskCompleted: {},
	TaskFailed:    {},
	TaskCancelled: {},
}

// CanTransition reports whether from -> to is a legal task status
// transition per the state machine in spec.md §3.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return false
	}
	next, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s TaskStatus) bool {
	next, ok := legalTransitions[s]
	return ok && len(next) == 0
}

// ValidateTransition returns a descriptive error for an illegal move,
// mirroring the CAS failure the store layer surfaces to callers.
func ValidateTransition(from, to TaskStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal task transition: %s -> %s", from, to)
	}
	return nil
}
