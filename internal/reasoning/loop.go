// Package reasoning implements the C8 Reasoning Loop: the plan/act/observe
// turn cycle that drives one task from PENDING to a terminal status,
// dispatching computer-use actions to the daemon (C2) through each turn.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelrun/cua-agent/internal/messages"
	"github.com/kestrelrun/cua-agent/internal/observability"
	"github.com/kestrelrun/cua-agent/internal/providers"
	"github.com/kestrelrun/cua-agent/internal/realtime"
	"github.com/kestrelrun/cua-agent/internal/remote"
	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// Generator is the subset of the LLM router (C6) the loop depends on,
// narrowed so a fake can stand in for tests.
type Generator interface {
	Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error)
}

// Dispatcher is the subset of the daemon client (C2) the loop depends on.
type Dispatcher interface {
	Execute(ctx context.Context, action models.Action) (remote.Response, error)
}

// Config controls loop behavior.
type Config struct {
	// MaxIterations bounds the number of turns before the task is marked
	// FAILED with error "turn limit" rather than looping forever.
	MaxIterations int

	// MaxTokens is the per-turn completion budget handed to the provider.
	MaxTokens int

	// DefaultModel is used when the task does not pin one.
	DefaultModel string

	// SystemPrompt instructs the model on the computer-use tool contract.
	SystemPrompt string

	// TurnTimeout bounds a single provider call plus its resulting
	// daemon round trips. Zero means no per-turn timeout.
	TurnTimeout time.Duration
}

func (c Config) sanitized() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 20
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	return c
}

// toolName is the single tool exposed to every provider: the computer-use
// action protocol (C1), one call per Action variant.
const toolName = "computer"

// Loop drives one task's turn cycle: generate a completion, execute any
// computer-use tool calls against the daemon, persist the exchange, and
// repeat until the model stops asking for tools or the turn budget runs
// out.
type Loop struct {
	gen        Generator
	dispatcher Dispatcher
	taskStore  tasks.Store
	msgStore   messages.Store
	gateway    *realtime.Gateway
	tracer     *observability.Tracer
	cfg        Config
}

// New builds a Loop. gateway and tracer may be nil; a nil gateway skips
// realtime publication and a nil tracer produces no spans.
func New(gen Generator, dispatcher Dispatcher, taskStore tasks.Store, msgStore messages.Store, gateway *realtime.Gateway, tracer *observability.Tracer, cfg Config) *Loop {
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{ServiceName: "cua-agent"})
	}
	return &Loop{
		gen:        gen,
		dispatcher: dispatcher,
		taskStore:  taskStore,
		msgStore:   msgStore,
		gateway:    gateway,
		tracer:     tracer,
		cfg:        cfg.sanitized(),
	}
}

// ErrNotRunnable is returned when RunTask is asked to drive a task that is
// not in a state from which it can be claimed (PENDING, NEEDS_HELP,
// NEEDS_REVIEW, or already RUNNING).
var ErrNotRunnable = errors.New("reasoning: task is not in a runnable state")

// RunTask claims taskID (PENDING, NEEDS_HELP or NEEDS_REVIEW -> RUNNING) if
// needed and drives its turn cycle until the task reaches a terminal status
// or the iteration budget is exhausted, at which point it is marked FAILED
// with error "turn limit". The scheduler
// (C9) is the caller; RunTask owns exactly one task's lifecycle per call.
func (l *Loop) RunTask(ctx context.Context, taskID string) error {
	task, err := l.taskStore.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("reasoning: load task: %w", err)
	}

	switch task.Status {
	case models.TaskPending, models.TaskNeedsHelp, models.TaskNeedsReview:
		// PENDING is the first claim; NEEDS_HELP/NEEDS_REVIEW are re-admitted
		// by the scheduler's resume (spec.md §4.9: legal only from those
		// statuses plus PENDING).
		from := task.Status
		if err := l.taskStore.UpdateStatus(ctx, taskID, from, models.TaskRunning, tasks.StatusUpdate{}); err != nil {
			return fmt.Errorf("reasoning: claim task: %w", err)
		}
		task.Status = models.TaskRunning
	case models.TaskRunning:
		// already claimed by us (e.g. scheduler retry after a crash recovery)
	default:
		return ErrNotRunnable
	}

	req, err := l.buildRequest(ctx, task)
	if err != nil {
		return err
	}

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		if cancelled, err := l.checkCancelled(ctx, task); err != nil {
			return err
		} else if cancelled {
			return nil
		}

		done, err := l.runTurn(ctx, task, req, iter)
		if err != nil {
			if ctx.Err() != nil {
				// The turn failed because the cancel signal fired mid-call,
				// not because of a genuine LLM/daemon error.
				_ = l.markCancelled(task)
				return nil
			}
			l.failTask(ctx, task, err)
			return err
		}
		if done {
			return nil
		}
	}

	return l.finishExhausted(ctx, task)
}

func (l *Loop) buildRequest(ctx context.Context, task *models.Task) (*providers.GenerateRequest, error) {
	history, err := l.msgStore.History(ctx, task.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("reasoning: load history: %w", err)
	}

	model := task.Model
	if model == "" {
		model = l.cfg.DefaultModel
	}

	req := &providers.GenerateRequest{
		Model:     model,
		System:    l.cfg.SystemPrompt,
		MaxTokens: l.cfg.MaxTokens,
		Tools:     []providers.ToolDef{computerToolDef()},
	}
	for _, m := range history {
		req.Messages = append(req.Messages, providers.RequestMessage{Role: m.Role, Content: m.Content})
	}
	if len(history) == 0 {
		req.Messages = append(req.Messages, providers.RequestMessage{
			Role:    models.RoleUser,
			Content: []models.ContentBlock{models.Text(task.Description)},
		})
	}
	return req, nil
}

func (l *Loop) failTask(ctx context.Context, task *models.Task, cause error) {
	msg := cause.Error()
	_ = l.taskStore.UpdateStatus(ctx, task.ID, models.TaskRunning, models.TaskFailed, tasks.StatusUpdate{Error: &msg})
	l.publish(task.ID, realtime.EventTaskUpdated, map[string]string{"status": string(models.TaskFailed), "error": msg})
}

// finishExhausted marks a task FAILED once it has run MaxIterations turns
// without reaching a terminal status, per spec.md §4.8's back-pressure rule
// ("exceeding [the turn cap] marks FAILED with reason 'turn limit'").
func (l *Loop) finishExhausted(ctx context.Context, task *models.Task) error {
	reason := "turn limit"
	if err := l.taskStore.UpdateStatus(ctx, task.ID, models.TaskRunning, models.TaskFailed, tasks.StatusUpdate{Error: &reason}); err != nil {
		return fmt.Errorf("reasoning: mark failed: %w", err)
	}
	l.publish(task.ID, realtime.EventTaskUpdated, map[string]string{"status": string(models.TaskFailed), "error": reason})
	return nil
}

// markCancelled transitions task to CANCELLED using a fresh context bounded
// by a short grace period, since the caller's ctx may itself be the one
// that just fired the cancel signal.
func (l *Loop) markCancelled(task *models.Task) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	current, err := l.taskStore.Get(writeCtx, task.ID)
	if err != nil {
		return fmt.Errorf("reasoning: reload task: %w", err)
	}
	if current.Status != models.TaskRunning {
		return nil
	}
	if err := l.taskStore.UpdateStatus(writeCtx, task.ID, models.TaskRunning, models.TaskCancelled, tasks.StatusUpdate{}); err != nil {
		return fmt.Errorf("reasoning: cancel task: %w", err)
	}
	l.publish(task.ID, realtime.EventTaskUpdated, map[string]string{"status": string(models.TaskCancelled)})
	return nil
}

func (l *Loop) publish(taskID string, eventType realtime.EventType, payload any) {
	if l.gateway == nil {
		return
	}
	l.gateway.Publish(realtime.Event{Type: eventType, TaskID: taskID, Payload: payload, Timestamp: time.Now()})
}

func (l *Loop) append(ctx context.Context, taskID string, role models.Role, content []models.ContentBlock) error {
	msg := &models.Message{ID: uuid.NewString(), TaskID: taskID, Role: role, Content: content}
	if err := l.msgStore.Append(ctx, msg); err != nil {
		return fmt.Errorf("reasoning: append message: %w", err)
	}
	l.publish(taskID, realtime.EventNewMessage, msg)
	return nil
}
