package reasoning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/kestrelrun/cua-agent/internal/messages"
	"github.com/kestrelrun/cua-agent/internal/providers"
	"github.com/kestrelrun/cua-agent/internal/remote"
	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// fakeGenerator replays a scripted sequence of responses, one per call.
type fakeGenerator struct {
	responses []providers.GenerateResponse
	calls     int
}

func (f *fakeGenerator) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	if f.calls >= len(f.responses) {
		return providers.GenerateResponse{StopReason: providers.StopEndTurn}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

// fakeDispatcher records every action it was asked to execute and returns a
// canned success response.
type fakeDispatcher struct {
	executed []models.Action
}

func (f *fakeDispatcher) Execute(ctx context.Context, action models.Action) (remote.Response, error) {
	f.executed = append(f.executed, action)
	if action.Type == models.ActionScreenshot {
		return remote.Response{Success: true, Result: json.RawMessage(`{"screenshot":"` + base64.StdEncoding.EncodeToString([]byte("png")) + `"}`)}, nil
	}
	return remote.Response{Success: true, Result: json.RawMessage(`{}`)}, nil
}

// realActions filters out the back-pressure screenshots the loop injects
// before the first turn and after every tool batch (spec.md §4.8), leaving
// only the actions the model itself requested.
func realActions(executed []models.Action) []models.Action {
	var out []models.Action
	for _, a := range executed {
		if a.Type == models.ActionScreenshot {
			continue
		}
		out = append(out, a)
	}
	return out
}

func clickAction(t *testing.T) models.ContentBlock {
	t.Helper()
	action := models.Action{Type: models.ActionMoveMouse, MoveMouse: &models.MoveMouseAction{Coordinates: models.Coordinates{X: 10, Y: 20}}}
	raw, err := json.Marshal(action)
	if err != nil {
		t.Fatalf("marshal action: %v", err)
	}
	return models.ToolUse("call-1", "computer", raw)
}

func newTask(t *testing.T, store tasks.Store, description string) *models.Task {
	t.Helper()
	task := &models.Task{Description: description, Type: models.TaskTypeImmediate, Status: models.TaskPending, Priority: models.PriorityMedium}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestRunTaskCompletesAfterToolCallAndFinalAnswer(t *testing.T) {
	taskStore := tasks.NewMemoryStore()
	msgStore := messages.NewMemoryStore()
	task := newTask(t, taskStore, "click somewhere")

	gen := &fakeGenerator{responses: []providers.GenerateResponse{
		{Content: []models.ContentBlock{clickAction(t)}, StopReason: providers.StopToolUse},
		{Content: []models.ContentBlock{models.Text("done")}, StopReason: providers.StopEndTurn},
	}}
	dispatcher := &fakeDispatcher{}

	loop := New(gen, dispatcher, taskStore, msgStore, nil, nil, Config{MaxIterations: 5})
	if err := loop.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	got, err := taskStore.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskCompleted {
		t.Fatalf("expected task completed, got %s", got.Status)
	}
	real := realActions(dispatcher.executed)
	if len(real) != 1 {
		t.Fatalf("expected exactly one dispatched non-screenshot action, got %d", len(real))
	}
	if real[0].Type != models.ActionMoveMouse {
		t.Fatalf("expected move_mouse action, got %s", real[0].Type)
	}
	if got.Result == nil {
		t.Fatalf("expected task result to be set")
	}
	var result string
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result != "done" {
		t.Fatalf("expected result %q, got %q", "done", result)
	}

	history, err := msgStore.History(context.Background(), task.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// initial back-pressure screenshot, tool-use turn, tool-result turn
	// (with its own trailing screenshot folded in), final answer turn.
	if len(history) != 4 {
		t.Fatalf("expected 4 persisted messages, got %d", len(history))
	}
}

func TestRunTaskExhaustsIterationsToFailed(t *testing.T) {
	taskStore := tasks.NewMemoryStore()
	msgStore := messages.NewMemoryStore()
	task := newTask(t, taskStore, "loop forever")

	responses := make([]providers.GenerateResponse, 3)
	for i := range responses {
		responses[i] = providers.GenerateResponse{Content: []models.ContentBlock{clickAction(t)}, StopReason: providers.StopToolUse}
	}
	gen := &fakeGenerator{responses: responses}
	dispatcher := &fakeDispatcher{}

	loop := New(gen, dispatcher, taskStore, msgStore, nil, nil, Config{MaxIterations: 3})
	if err := loop.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	got, err := taskStore.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskFailed {
		t.Fatalf("expected task failed, got %s", got.Status)
	}
	if got.Error == nil || *got.Error != "turn limit" {
		t.Fatalf("expected error %q, got %v", "turn limit", got.Error)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be stamped")
	}
}

func TestRunTaskRejectsNonRunnableStatus(t *testing.T) {
	taskStore := tasks.NewMemoryStore()
	msgStore := messages.NewMemoryStore()
	task := newTask(t, taskStore, "already done")
	if err := taskStore.UpdateStatus(context.Background(), task.ID, models.TaskPending, models.TaskRunning, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed running: %v", err)
	}
	if err := taskStore.UpdateStatus(context.Background(), task.ID, models.TaskRunning, models.TaskCompleted, tasks.StatusUpdate{}); err != nil {
		t.Fatalf("seed completed: %v", err)
	}

	loop := New(&fakeGenerator{}, &fakeDispatcher{}, taskStore, msgStore, nil, nil, Config{})
	if err := loop.RunTask(context.Background(), task.ID); err != ErrNotRunnable {
		t.Fatalf("expected ErrNotRunnable, got %v", err)
	}
}

// TestRunTaskHonorsCancelSignal simulates the scheduler's cancel-handle
// registry firing a context cancel mid-run (spec.md §4.9): the loop observes
// it at the next turn boundary and transitions the task to CANCELLED itself.
func TestRunTaskHonorsCancelSignal(t *testing.T) {
	taskStore := tasks.NewMemoryStore()
	msgStore := messages.NewMemoryStore()
	task := newTask(t, taskStore, "cancel me")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := New(&fakeGenerator{}, &fakeDispatcher{}, taskStore, msgStore, nil, nil, Config{MaxIterations: 5})
	if err := loop.RunTask(ctx, task.ID); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	got, err := taskStore.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskCancelled {
		t.Fatalf("expected task cancelled, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be stamped")
	}
}

// takeoverGenerator returns StopToolUse forever, but on its first call it
// also performs the status change an operator's concurrent takeover would
// make (RUNNING -> NEEDS_HELP), simulating the race the loop's checkCancelled
// must observe at the next turn boundary.
type takeoverGenerator struct {
	store  tasks.Store
	taskID string
	calls  int
}

func (g *takeoverGenerator) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	if g.calls == 0 {
		_ = g.store.UpdateStatus(context.Background(), g.taskID, models.TaskRunning, models.TaskNeedsHelp, tasks.StatusUpdate{})
	}
	g.calls++
	action := models.Action{Type: models.ActionMoveMouse, MoveMouse: &models.MoveMouseAction{Coordinates: models.Coordinates{X: 1, Y: 1}}}
	raw, _ := json.Marshal(action)
	return providers.GenerateResponse{Content: []models.ContentBlock{models.ToolUse("call-1", "computer", raw)}, StopReason: providers.StopToolUse}, nil
}

// TestRunTaskObservesExternalTakeover simulates an operator's takeover
// moving the task off RUNNING between turns: the loop must stop driving
// further turns once it observes the status change.
func TestRunTaskObservesExternalTakeover(t *testing.T) {
	taskStore := tasks.NewMemoryStore()
	msgStore := messages.NewMemoryStore()
	task := newTask(t, taskStore, "taken over")

	gen := &takeoverGenerator{store: taskStore, taskID: task.ID}
	loop := New(gen, &fakeDispatcher{}, taskStore, msgStore, nil, nil, Config{MaxIterations: 5})
	if err := loop.RunTask(context.Background(), task.ID); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	got, err := taskStore.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.TaskNeedsHelp {
		t.Fatalf("expected task to remain needs_help, got %s", got.Status)
	}
	if gen.calls != 1 {
		t.Fatalf("expected exactly one generate call before the takeover was observed, got %d", gen.calls)
	}
}
