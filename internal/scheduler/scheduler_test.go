package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

type recordingRunner struct {
	mu  sync.Mutex
	ran []string
}

func (r *recordingRunner) RunTask(ctx context.Context, taskID string) error {
	r.mu.Lock()
	r.ran = append(r.ran, taskID)
	r.mu.Unlock()
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func waitForCount(t *testing.T, runner *recordingRunner, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runner.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d runs, got %d", want, runner.count())
}

func TestSchedulerDispatchesSubmittedTask(t *testing.T) {
	store := tasks.NewMemoryStore()
	runner := &recordingRunner{}
	sched := New(store, nil, runner, Config{MaxConcurrentTasks: 2, PollInterval: 20 * time.Millisecond})

	task := &models.Task{Description: "run me", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityHigh}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	sched.Submit(task)
	waitForCount(t, runner, 1)
}

func TestSchedulerPicksUpDueScheduledTask(t *testing.T) {
	store := tasks.NewMemoryStore()
	runner := &recordingRunner{}
	sched := New(store, nil, runner, Config{MaxConcurrentTasks: 2, PollInterval: 20 * time.Millisecond})

	due := time.Now().Add(-time.Minute)
	task := &models.Task{Description: "scheduled", Type: models.TaskTypeScheduled, Status: models.TaskPending, Priority: models.PriorityMedium, ScheduledAt: &due}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	waitForCount(t, runner, 1)
}

func TestSchedulerRespectsConcurrencyLimit(t *testing.T) {
	store := tasks.NewMemoryStore()
	block := make(chan struct{})
	started := make(chan struct{}, 10)
	runner := &blockingRunner{block: block, started: started}
	sched := New(store, nil, runner, Config{MaxConcurrentTasks: 1, PollInterval: 20 * time.Millisecond})

	var ids []string
	for i := 0; i < 3; i++ {
		task := &models.Task{Description: "t", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityMedium}
		if err := store.Create(context.Background(), task); err != nil {
			t.Fatalf("create task: %v", err)
		}
		ids = append(ids, task.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer func() {
		close(block)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	for _, id := range ids {
		task, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		sched.Submit(task)
	}

	<-started
	select {
	case <-started:
		t.Fatalf("expected only one task to start with MaxConcurrentTasks=1")
	case <-time.After(100 * time.Millisecond):
	}
}

type blockingRunner struct {
	block   chan struct{}
	started chan struct{}
}

func (r *blockingRunner) RunTask(ctx context.Context, taskID string) error {
	r.started <- struct{}{}
	<-r.block
	return nil
}

// waitingRunner blocks RunTask until its context is cancelled, so tests can
// exercise Cancel against an in-flight task deterministically.
type waitingRunner struct{ started chan struct{} }

func (r *waitingRunner) RunTask(ctx context.Context, taskID string) error {
	if r.started != nil {
		r.started <- struct{}{}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSchedulerCancelFiresHandleForRunningTask(t *testing.T) {
	store := tasks.NewMemoryStore()
	runner := &waitingRunner{started: make(chan struct{}, 1)}
	sched := New(store, nil, runner, Config{MaxConcurrentTasks: 2, PollInterval: 20 * time.Millisecond})

	task := &models.Task{Description: "run me", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityHigh}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	sched.Submit(task)
	<-runner.started

	if err := sched.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
}

func TestSchedulerCancelPendingTaskTransitionsDirectly(t *testing.T) {
	store := tasks.NewMemoryStore()
	sched := New(store, nil, &recordingRunner{}, Config{MaxConcurrentTasks: 2, PollInterval: time.Minute})

	task := &models.Task{Description: "never runs", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityMedium}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := sched.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskCancelled {
		t.Fatalf("expected task cancelled, got %s", got.Status)
	}
}

func TestSchedulerTakeoverForcesNeedsHelpAndUserControl(t *testing.T) {
	store := tasks.NewMemoryStore()
	sched := New(store, nil, &recordingRunner{}, Config{MaxConcurrentTasks: 2, PollInterval: time.Minute})

	task := &models.Task{Description: "stuck", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityMedium}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskPending, models.TaskRunning, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed running: %v", err)
	}

	if err := sched.Takeover(context.Background(), task.ID); err != nil {
		t.Fatalf("Takeover() error = %v", err)
	}

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskNeedsHelp {
		t.Fatalf("expected task needs_help, got %s", got.Status)
	}
	if got.Control != models.ControlUser {
		t.Fatalf("expected control USER, got %s", got.Control)
	}
}

func TestSchedulerResumeRejectsNonResumableStatus(t *testing.T) {
	store := tasks.NewMemoryStore()
	sched := New(store, nil, &recordingRunner{}, Config{MaxConcurrentTasks: 2, PollInterval: time.Minute})

	task := &models.Task{Description: "done already", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityMedium}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskPending, models.TaskRunning, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed running: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskRunning, models.TaskCompleted, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed completed: %v", err)
	}

	if err := sched.Resume(context.Background(), task.ID); err != ErrNotResumable {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestSchedulerResumeReadmitsFromNeedsHelp(t *testing.T) {
	store := tasks.NewMemoryStore()
	runner := &recordingRunner{}
	sched := New(store, nil, runner, Config{MaxConcurrentTasks: 2, PollInterval: 20 * time.Millisecond})

	task := &models.Task{Description: "resumed", Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityMedium}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskPending, models.TaskRunning, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed running: %v", err)
	}
	if err := store.UpdateStatus(context.Background(), task.ID, models.TaskRunning, models.TaskNeedsHelp, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed needs_help: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	if err := sched.Resume(context.Background(), task.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitForCount(t, runner, 1)

	got, err := store.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Control != models.ControlAssistant {
		t.Fatalf("expected control ASSISTANT, got %s", got.Control)
	}
}
