package tasks

import "errors"

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("tasks: not found")

// ErrIllegalTransition is returned when from -> to is not in the legal
// transition graph (models.CanTransition), before any store round trip.
var ErrIllegalTransition = errors.New("tasks: illegal status transition")

// ErrTransitionConflict is returned when the task's current status no
// longer matches the expected from status passed to UpdateStatus — another
// writer moved it first.
var ErrTransitionConflict = errors.New("tasks: status transition conflict")
