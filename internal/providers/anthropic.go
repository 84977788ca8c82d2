package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// computerUseToolName is the single tool the reasoning loop exposes when a
// task's tool set is the action protocol (C1); every other tool travels as
// an ordinary BetaToolUnionParamOfTool.
const computerUseToolName = "computer"

// AnthropicConfig configures the claude-style adapter.
type AnthropicConfig struct {
	APIKey          string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
}

// AnthropicAdapter implements Adapter against the Anthropic Messages API,
// using the beta computer-use tool path for action-protocol tool sets.
type AnthropicAdapter struct {
	BaseProvider
	client       anthropic.Client
	apiKey       string
	defaultModel string
	display      AnthropicConfig
}

// NewAnthropicAdapter constructs a claude-style Adapter. An empty APIKey is
// accepted so IsAvailable can report a usable-but-unconfigured state rather
// than failing construction.
func NewAnthropicAdapter(cfg AnthropicConfig) *AnthropicAdapter {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicAdapter{
		BaseProvider: NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(opts...),
		apiKey:       cfg.APIKey,
		defaultModel: defaultModel,
		display:      cfg,
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) IsAvailable() bool { return a.apiKey != "" }

func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	return []models.ModelInfo{
		{Provider: "anthropic", Name: "claude-opus-4-1-20250805", Title: "Claude Opus 4.1"},
		{Provider: "anthropic", Name: "claude-sonnet-4-20250514", Title: "Claude Sonnet 4"},
		{Provider: "anthropic", Name: "claude-3-5-haiku-20241022", Title: "Claude 3.5 Haiku"},
	}, nil
}

func (a *AnthropicAdapter) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	msgs, err := a.convertMessages(req.Messages)
	if err != nil {
		return GenerateResponse{}, NewLlmError("anthropic", req.Model, err)
	}
	tools, err := a.convertTools(req.Tools)
	if err != nil {
		return GenerateResponse{}, NewLlmError("anthropic", req.Model, err)
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Tools:     tools,
	}
	if req.System != "" {
		params.System = []anthropic.BetaTextBlockParam{{Text: req.System}}
	}

	var resp *anthropic.BetaMessage
	retryErr := a.Retry(ctx, IsRetryable, func() error {
		r, callErr := a.client.Beta.Messages.New(ctx, params)
		if callErr != nil {
			return a.wrapError(callErr, model)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return GenerateResponse{}, retryErr
	}

	out := GenerateResponse{Usage: Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.BetaTextBlock:
			out.Content = append(out.Content, models.Text(variant.Text))
		case anthropic.BetaToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			out.Content = append(out.Content, models.ToolUse(variant.ID, variant.Name, input))
		case anthropic.BetaThinkingBlock:
			out.Content = append(out.Content, models.Thinking(variant.Thinking, variant.Signature))
		case anthropic.BetaRedactedThinkingBlock:
			out.Content = append(out.Content, models.RedactedThinking(variant.Data))
		}
	}
	out.StopReason = mapStopReason(string(resp.StopReason))
	return out, nil
}

func (a *AnthropicAdapter) convertMessages(reqMessages []RequestMessage) ([]anthropic.BetaMessageParam, error) {
	out := make([]anthropic.BetaMessageParam, 0, len(reqMessages))
	for _, m := range reqMessages {
		role := anthropic.BetaMessageParamRoleUser
		if m.Role == models.RoleAssistant {
			role = anthropic.BetaMessageParamRoleAssistant
		}
		blocks, err := convertContentToBeta(m.Content)
		if err != nil {
			return nil, err
		}
		out = append(out, anthropic.BetaMessageParam{Role: role, Content: blocks})
	}
	return out, nil
}

func convertContentToBeta(blocks []models.ContentBlock) ([]anthropic.BetaContentBlockParamUnion, error) {
	out := make([]anthropic.BetaContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			out = append(out, anthropic.NewBetaTextBlock(b.Text.Text))
		case models.BlockImage:
			out = append(out, anthropic.NewBetaImageBlockBase64(b.Image.Source.MediaType, b.Image.Source.Data))
		case models.BlockToolUse:
			var input any
			if len(b.ToolUse.Input) > 0 {
				if err := json.Unmarshal(b.ToolUse.Input, &input); err != nil {
					return nil, fmt.Errorf("tool_use input: %w", err)
				}
			}
			out = append(out, anthropic.NewBetaToolUseBlock(b.ToolUse.ID, input, b.ToolUse.Name))
		case models.BlockToolResult:
			nested, err := convertContentToBeta(b.ToolResult.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewBetaToolResultBlock(b.ToolResult.ToolUseID, nested, b.ToolResult.IsError))
		case models.BlockThinking:
			out = append(out, anthropic.NewBetaThinkingBlock(b.Thinking.Signature, b.Thinking.Thinking))
		case models.BlockRedactedThinking:
			out = append(out, anthropic.NewBetaRedactedThinkingBlock(b.RedactedThinking.Data))
		default:
			return nil, fmt.Errorf("anthropic: unsupported content block %q", b.Type)
		}
	}
	return out, nil
}

func (a *AnthropicAdapter) convertTools(tools []ToolDef) ([]anthropic.BetaToolUnionParam, error) {
	var out []anthropic.BetaToolUnionParam
	for _, t := range tools {
		if t.Name == computerUseToolName && a.display.DisplayWidthPx > 0 && a.display.DisplayHeightPx > 0 {
			param := anthropic.BetaToolUnionParamOfComputerUseTool20250124(int64(a.display.DisplayHeightPx), int64(a.display.DisplayWidthPx))
			if param.OfComputerUseTool20250124 != nil && a.display.DisplayNumber > 0 {
				param.OfComputerUseTool20250124.DisplayNumber = anthropic.Int(int64(a.display.DisplayNumber))
			}
			out = append(out, param)
			continue
		}

		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", t.Name, err)
		}
		var schema anthropic.BetaToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", t.Name, err)
		}
		toolParam := anthropic.BetaToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, toolParam)
	}
	return out, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (a *AnthropicAdapter) wrapError(err error, model string) *LlmError {
	if existing, ok := AsLlmError(err); ok {
		return existing
	}
	wrapped := NewLlmError("anthropic", model, err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.StatusCode)
		requestID := apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					wrapped = wrapped.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					wrapped = wrapped.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}
		if requestID != "" {
			wrapped = wrapped.WithRequestID(requestID)
		}
	}
	return wrapped
}

func mapStopReason(reason string) StopReason {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSeq
	default:
		return StopEndTurn
	}
}
