package messages

import "errors"

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("messages: not found")

// ErrTaskNotFound is returned by stores that verify the owning task exists
// before accepting an append.
var ErrTaskNotFound = errors.New("messages: task not found")
