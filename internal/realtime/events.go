// Package realtime implements the C7 Realtime Gateway: a websocket
// broadcast of task and message lifecycle events, scoped to per-task rooms.
package realtime

import "time"

// EventType enumerates the realtime event taxonomy pushed to subscribed
// clients.
type EventType string

const (
	EventTaskCreated EventType = "task_created"
	EventTaskUpdated EventType = "task_updated"
	EventTaskDeleted EventType = "task_deleted"
	EventNewMessage  EventType = "new_message"
	EventTaskJoined  EventType = "task_joined"
	EventTaskLeft    EventType = "task_left"
	EventError       EventType = "error"
)

// Event is the envelope broadcast to every client subscribed to a task's
// room.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
