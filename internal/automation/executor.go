// Package automation implements the C2 Daemon Executor: the os/exec layer
// that turns a validated models.Action into xdotool/wmctrl/screenshot
// invocations on the target desktop.
package automation

import (
	"context"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// Executor runs a single Action against the local desktop and returns its
// result payload. Callers must call models.Action.Validate before Execute;
// Execute does not re-validate.
type Executor interface {
	Execute(ctx context.Context, action models.Action) (Result, error)
}

// Result is the outcome of a single executed action. Exactly one of the
// payload fields is populated depending on the action's type.
type Result struct {
	Screenshot []byte              `json:"screenshot,omitempty"`
	CursorPos  *models.Coordinates `json:"cursor_position,omitempty"`
	FileData   []byte              `json:"data,omitempty"`
}
