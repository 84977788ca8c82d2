// Package scheduler implements the C9 Scheduler: immediate-admission
// priority FIFO dispatch for TaskTypeImmediate tasks plus a due-time
// poller for TaskTypeScheduled tasks, bounded to a fixed concurrency by a
// semaphore and shut down cooperatively with a sync.WaitGroup.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// ErrNotResumable is returned by Resume when the task's current status is
// not one resume is legal from (spec.md §4.9: NEEDS_HELP, NEEDS_REVIEW, or
// PENDING).
var ErrNotResumable = errors.New("scheduler: task is not resumable from its current status")

// TurnRunner drives one task's reasoning loop to completion or to a
// terminal/needs-review status. internal/reasoning.Loop implements this.
type TurnRunner interface {
	RunTask(ctx context.Context, taskID string) error
}

// Locker gives the scheduler an exclusive, cross-instance claim on a task
// id for the duration of its run. A nil Locker is valid for single-instance
// deployments — the CAS status transition in internal/tasks is still the
// authority that prevents double-execution, the lock only avoids wasted
// work when more than one agent process shares a database.
type Locker interface {
	Lock(ctx context.Context, taskID string) error
	Unlock(taskID string)
}

// Config controls scheduler behavior.
type Config struct {
	// MaxConcurrentTasks bounds how many tasks run their reasoning loop at
	// once. Defaults to 4.
	MaxConcurrentTasks int

	// PollInterval is how often the due-scheduled-task poller runs.
	// Defaults to 5 seconds.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (c Config) sanitized() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Scheduler admits tasks to the reasoning loop (C8): immediate tasks enter
// the priority queue as soon as they are submitted, scheduled tasks enter
// it once DueScheduled reports them due.
type Scheduler struct {
	store  tasks.Store
	locker Locker
	runner TurnRunner
	cfg    Config

	mu     sync.Mutex
	queue  *taskQueue
	notify chan struct{}

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	handlesMu sync.Mutex
	handles   map[string]context.CancelFunc

	running bool
}

// New builds a Scheduler. locker may be nil for single-instance use.
func New(store tasks.Store, locker Locker, runner TurnRunner, cfg Config) *Scheduler {
	cfg = cfg.sanitized()
	return &Scheduler{
		store:   store,
		locker:  locker,
		runner:  runner,
		cfg:     cfg,
		queue:   newTaskQueue(),
		notify:  make(chan struct{}, 1),
		sem:     make(chan struct{}, cfg.MaxConcurrentTasks),
		handles: make(map[string]context.CancelFunc),
	}
}

// Submit admits an immediate task into the priority queue. The HTTP API
// (C12) calls this right after creating a TaskTypeImmediate task so it
// does not wait for the next poll tick.
func (s *Scheduler) Submit(task *models.Task) {
	s.mu.Lock()
	added := s.queue.push(task)
	s.mu.Unlock()
	if added {
		s.wake()
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Start launches the poll loop and dispatch loop as background goroutines.
// It returns immediately; call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.pollLoop(ctx)
	go s.dispatchLoop(ctx)
}

// Stop cancels both loops and waits for in-flight dispatches to return, up
// to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollLoop periodically admits scheduled tasks whose due time has passed.
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollDue(ctx)
		}
	}
}

func (s *Scheduler) pollDue(ctx context.Context) {
	due, err := s.store.DueScheduled(ctx, time.Now(), 100)
	if err != nil {
		s.cfg.Logger.Error("scheduler: poll due tasks failed", "error", err)
		return
	}
	for _, task := range due {
		s.Submit(task)
	}
}

// dispatchLoop pops queued tasks and runs each one's reasoning loop in its
// own goroutine, bounded by the semaphore.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-time.After(s.cfg.PollInterval):
		}
		s.drainQueue(ctx)
	}
}

func (s *Scheduler) drainQueue(ctx context.Context) {
	for {
		select {
		case s.sem <- struct{}{}:
		default:
			return // at max concurrency; resume on next wake
		}

		s.mu.Lock()
		task := s.queue.pop()
		s.mu.Unlock()

		if task == nil {
			<-s.sem
			return
		}

		s.wg.Add(1)
		go s.runTask(ctx, task)
	}
}

func (s *Scheduler) runTask(ctx context.Context, task *models.Task) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	if s.locker != nil {
		if err := s.locker.Lock(ctx, task.ID); err != nil {
			s.cfg.Logger.Warn("scheduler: skipping task, lock not acquired", "task_id", task.ID, "error", err)
			return
		}
		defer s.locker.Unlock(task.ID)
	}

	if err := s.store.SetQueuedAt(ctx, task.ID); err != nil {
		s.cfg.Logger.Warn("scheduler: set queued_at failed", "task_id", task.ID, "error", err)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.registerHandle(task.ID, cancel)
	defer s.releaseHandle(task.ID)
	defer cancel()

	if err := s.runner.RunTask(taskCtx, task.ID); err != nil {
		s.cfg.Logger.Error("scheduler: task run failed", "task_id", task.ID, "error", err)
	}
}

func (s *Scheduler) registerHandle(taskID string, cancel context.CancelFunc) {
	s.handlesMu.Lock()
	s.handles[taskID] = cancel
	s.handlesMu.Unlock()
}

func (s *Scheduler) releaseHandle(taskID string) {
	s.handlesMu.Lock()
	delete(s.handles, taskID)
	s.handlesMu.Unlock()
}

// Cancel fires the cancel signal for taskID's in-flight reasoning loop; the
// loop observes it at the next turn boundary and transitions the task to
// CANCELLED itself (spec.md §4.9). If no loop currently holds the task (it
// is still queued, PENDING), the transition happens here directly.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.handlesMu.Lock()
	cancel, running := s.handles[taskID]
	s.handlesMu.Unlock()
	if running {
		cancel()
		return nil
	}
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return s.store.UpdateStatus(ctx, taskID, task.Status, models.TaskCancelled, tasks.StatusUpdate{})
}

// Takeover moves control to the operator: it forces the task to NEEDS_HELP
// and cancels any in-flight reasoning loop so it stops driving further
// turns (spec.md §4.9, Glossary "Takeover").
func (s *Scheduler) Takeover(ctx context.Context, taskID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	s.handlesMu.Lock()
	cancel, running := s.handles[taskID]
	s.handlesMu.Unlock()
	if running {
		cancel()
	}

	if err := s.store.UpdateStatus(ctx, taskID, task.Status, models.TaskNeedsHelp, tasks.StatusUpdate{}); err != nil {
		return err
	}
	return s.store.SetControl(ctx, taskID, models.ControlUser)
}

// Resume re-admits a task from NEEDS_HELP, NEEDS_REVIEW, or PENDING,
// returning control to the assistant and pushing it back onto the
// dispatch queue (spec.md §4.9).
func (s *Scheduler) Resume(ctx context.Context, taskID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.TaskNeedsHelp, models.TaskNeedsReview, models.TaskPending:
	default:
		return ErrNotResumable
	}

	if err := s.store.SetControl(ctx, taskID, models.ControlAssistant); err != nil {
		return err
	}
	s.Submit(task)
	return nil
}
