// Package messages implements the C3 Message Store: append-only
// conversation history scoped to a task.
package messages

import (
	"context"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// Store is the interface every Message Store backend implements.
type Store interface {
	// Append validates msg and persists it, assigning an ID and CreatedAt
	// if unset.
	Append(ctx context.Context, msg *models.Message) error

	// History returns up to limit messages for a task ordered oldest
	// first. limit <= 0 means no bound.
	History(ctx context.Context, taskID string, limit int) ([]*models.Message, error)

	// Get returns a single message by ID.
	Get(ctx context.Context, id string) (*models.Message, error)
}

// Closer is implemented by stores that own a resource needing cleanup.
type Closer interface {
	Close() error
}
