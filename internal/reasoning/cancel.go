package reasoning

import (
	"context"
	"fmt"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// checkCancelled is polled at turn boundaries only — a turn already
// dispatched to the daemon runs to completion (spec.md §9: the loop polls
// the cancel signal at well-defined boundaries).
//
// Two independent signals are checked: ctx firing, which the scheduler's
// cancel-handle registry does on Cancel, and the task having moved off
// RUNNING already, which an operator's takeover or a concurrent cancel
// observed by another writer can cause. Either one stops RunTask from
// driving further turns.
func (l *Loop) checkCancelled(ctx context.Context, task *models.Task) (bool, error) {
	current, err := l.taskStore.Get(ctx, task.ID)
	if err != nil {
		return false, fmt.Errorf("reasoning: reload task: %w", err)
	}
	if current.Status != models.TaskRunning {
		// Already moved off RUNNING by an operator (takeover) or a prior
		// cancel observation; nothing left for this loop to do.
		return true, nil
	}
	if ctx.Err() == nil {
		return false, nil
	}
	if err := l.markCancelled(task); err != nil {
		return false, err
	}
	return true, nil
}
