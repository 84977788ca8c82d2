package reasoning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrelrun/cua-agent/internal/providers"
	"github.com/kestrelrun/cua-agent/internal/realtime"
	"github.com/kestrelrun/cua-agent/internal/remote"
	"github.com/kestrelrun/cua-agent/internal/tasks"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// computerToolDef describes the single tool every provider sees: one call
// shaped exactly like the wire encoding of models.Action, discriminated by
// its "action" field.
func computerToolDef() providers.ToolDef {
	return providers.ToolDef{
		Name:        toolName,
		Description: "Controls the desktop: mouse, keyboard, screenshots, application switching, and file I/O. Input is a single action object discriminated by its \"action\" field.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": models.AllActionTypes,
				},
			},
			"required":             []string{"action"},
			"additionalProperties": true,
		},
	}
}

// runTurn executes one plan/act/observe cycle: a single Generate call
// followed by dispatch of every tool call the model requested. It reports
// done=true once the model stops requesting tools, at which point the
// caller marks the task complete.
func (l *Loop) runTurn(ctx context.Context, task *models.Task, req *providers.GenerateRequest, iter int) (done bool, err error) {
	turnCtx := ctx
	if l.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, l.cfg.TurnTimeout)
		defer cancel()
	}

	// spec.md §4.8's back-pressure rule: the model always sees the current
	// screen, whether or not it asked for one. Before the first turn of an
	// activation that is the only way it gets one at all.
	if iter == 0 {
		if err := l.injectInitialScreenshot(ctx, turnCtx, task, req); err != nil {
			return false, err
		}
	}

	spanCtx, span := l.tracer.TraceTurn(turnCtx, task.ID, iter)
	defer span.End()

	resp, genErr := l.gen.Generate(spanCtx, *req)
	if genErr != nil {
		l.tracer.RecordError(span, genErr)
		return false, fmt.Errorf("reasoning: generate turn %d: %w", iter, genErr)
	}

	if err := l.append(ctx, task.ID, models.RoleAssistant, resp.Content); err != nil {
		return false, err
	}
	req.Messages = append(req.Messages, providers.RequestMessage{Role: models.RoleAssistant, Content: resp.Content})

	toolCalls := extractToolUse(resp.Content)
	if resp.StopReason != providers.StopToolUse || len(toolCalls) == 0 {
		result, marshalErr := json.Marshal(concatText(resp.Content))
		if marshalErr != nil {
			return false, fmt.Errorf("reasoning: marshal result: %w", marshalErr)
		}
		if err := l.taskStore.UpdateStatus(ctx, task.ID, models.TaskRunning, models.TaskCompleted, tasks.StatusUpdate{Result: result}); err != nil {
			return false, fmt.Errorf("reasoning: mark completed: %w", err)
		}
		l.publish(task.ID, realtime.EventTaskUpdated, map[string]string{"status": string(models.TaskCompleted)})
		return true, nil
	}

	results := make([]models.ContentBlock, 0, len(toolCalls))
	for _, tc := range toolCalls {
		results = append(results, l.dispatchToolCall(turnCtx, tc))
	}
	results = l.injectTrailingScreenshot(turnCtx, results)

	if err := l.append(ctx, task.ID, models.RoleUser, results); err != nil {
		return false, err
	}
	req.Messages = append(req.Messages, providers.RequestMessage{Role: models.RoleUser, Content: results})

	return false, nil
}

// concatText joins every text block's text with newlines, giving the final
// assistant turn's plain-text answer for Task.Result.
func concatText(content []models.ContentBlock) string {
	var sb strings.Builder
	for _, block := range content {
		if block.Text == nil {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(block.Text.Text)
	}
	return sb.String()
}

// captureScreenshot dispatches a screenshot action and decodes it into an
// image content block.
func (l *Loop) captureScreenshot(ctx context.Context) (models.ContentBlock, error) {
	resp, err := l.dispatcher.Execute(ctx, models.Action{Type: models.ActionScreenshot})
	if err != nil {
		return models.ContentBlock{}, err
	}
	if err := resp.Err(); err != nil {
		return models.ContentBlock{}, err
	}
	data, err := resp.Screenshot()
	if err != nil {
		return models.ContentBlock{}, err
	}
	return models.Image("image/png", base64.StdEncoding.EncodeToString(data)), nil
}

// injectInitialScreenshot appends an unsolicited screenshot as a user
// message before the model's first turn of this activation. A capture
// failure is logged implicitly via the skipped append rather than aborting
// the task — a dead screen feed is recoverable, a task that never starts is
// not.
func (l *Loop) injectInitialScreenshot(ctx, turnCtx context.Context, task *models.Task, req *providers.GenerateRequest) error {
	block, err := l.captureScreenshot(turnCtx)
	if err != nil {
		return nil
	}
	content := []models.ContentBlock{block}
	if err := l.append(ctx, task.ID, models.RoleUser, content); err != nil {
		return err
	}
	req.Messages = append(req.Messages, providers.RequestMessage{Role: models.RoleUser, Content: content})
	return nil
}

// injectTrailingScreenshot folds a fresh screenshot into the last tool
// result of a batch so the model sees the screen's new state alongside
// whatever it just asked for, per spec.md §4.8.
func (l *Loop) injectTrailingScreenshot(ctx context.Context, results []models.ContentBlock) []models.ContentBlock {
	if len(results) == 0 {
		return results
	}
	block, err := l.captureScreenshot(ctx)
	if err != nil {
		return results
	}
	last := results[len(results)-1]
	if last.ToolResult != nil {
		last.ToolResult.Content = append(last.ToolResult.Content, block)
		results[len(results)-1] = last
	}
	return results
}

// extractToolUse pulls every tool_use block out of a response's content.
func extractToolUse(content []models.ContentBlock) []*models.ToolUseBlock {
	var out []*models.ToolUseBlock
	for _, block := range content {
		if block.ToolUse != nil {
			out = append(out, block.ToolUse)
		}
	}
	return out
}

// dispatchToolCall decodes one tool_use block into a models.Action,
// executes it against the daemon, and returns the corresponding
// tool_result content block. Decode and dispatch failures are reported as
// error tool results rather than aborting the turn, so the model can
// recover (retry, pick a different action) on the next turn.
func (l *Loop) dispatchToolCall(ctx context.Context, tc *models.ToolUseBlock) models.ContentBlock {
	if tc.Name != toolName {
		return models.ToolResult(tc.ID, []models.ContentBlock{models.Text("unknown tool: " + tc.Name)}, true)
	}

	var action models.Action
	if err := json.Unmarshal(tc.Input, &action); err != nil {
		return models.ToolResult(tc.ID, []models.ContentBlock{models.Text("invalid action: " + err.Error())}, true)
	}
	if err := action.Validate(); err != nil {
		return models.ToolResult(tc.ID, []models.ContentBlock{models.Text("invalid action: " + err.Error())}, true)
	}

	daemonCtx, span := l.tracer.TraceDaemonCall(ctx, string(action.Type))
	resp, err := l.dispatcher.Execute(daemonCtx, action)
	if err != nil {
		l.tracer.RecordError(span, err)
		span.End()
		return models.ToolResult(tc.ID, []models.ContentBlock{models.Text("daemon request failed: " + err.Error())}, true)
	}
	span.End()

	return actionResultBlock(tc.ID, action, resp)
}

// actionResultBlock turns a daemon response into the content the model
// sees, surfacing a screenshot or file payload inline when the action
// produced one.
func actionResultBlock(toolUseID string, action models.Action, resp remote.Response) models.ContentBlock {
	if err := resp.Err(); err != nil {
		return models.ToolResult(toolUseID, []models.ContentBlock{models.Text(err.Error())}, true)
	}

	switch action.Type {
	case models.ActionScreenshot:
		data, err := resp.Screenshot()
		if err != nil {
			return models.ToolResult(toolUseID, []models.ContentBlock{models.Text(err.Error())}, true)
		}
		return models.ToolResult(toolUseID, []models.ContentBlock{models.Image("image/png", base64.StdEncoding.EncodeToString(data))}, false)
	case models.ActionReadFile:
		data, err := resp.FileData()
		if err != nil {
			return models.ToolResult(toolUseID, []models.ContentBlock{models.Text(err.Error())}, true)
		}
		return models.ToolResult(toolUseID, []models.ContentBlock{models.Document("application/octet-stream", base64.StdEncoding.EncodeToString(data), "file", int64(len(data)))}, false)
	default:
		return models.ToolResult(toolUseID, []models.ContentBlock{models.Text("ok")}, false)
	}
}
