package models

import (
	"fmt"
	"time"
)

// Role distinguishes the author of a Message within a task's conversation.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Message is a single turn in a task's conversation (C3). Content is a
// non-empty slice of ContentBlock, validated via ValidateContent before
// the store accepts a write.
type Message struct {
	ID        string
	TaskID    string
	Role      Role
	Content   []ContentBlock
	UserID    *string
	SummaryID *string
	CreatedAt time.Time
	Metadata  map[string]any
}

// Validate enforces the Message invariants named in spec.md §3: content
// must be non-empty and every block individually valid.
func (m Message) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("message: task_id is required")
	}
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("message: role must be USER or ASSISTANT, got %q", m.Role)
	}
	return ValidateContent(m.Content)
}
