package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// OpenAIAdapter implements Adapter against OpenAI's chat completions API.
type OpenAIAdapter struct {
	BaseProvider
	client       *openai.Client
	apiKey       string
	defaultModel string
}

// NewOpenAIAdapter constructs a gpt-style Adapter.
func NewOpenAIAdapter(apiKey, defaultModel string, maxRetries int, retryDelay time.Duration) *OpenAIAdapter {
	a := &OpenAIAdapter{
		BaseProvider: NewBaseProvider("openai", maxRetries, retryDelay),
		apiKey:       apiKey,
		defaultModel: defaultModel,
	}
	if a.defaultModel == "" {
		a.defaultModel = "gpt-4o"
	}
	if apiKey != "" {
		a.client = openai.NewClient(apiKey)
	}
	return a
}

func (a *OpenAIAdapter) Name() string       { return "openai" }
func (a *OpenAIAdapter) IsAvailable() bool  { return a.apiKey != "" }

func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	return []models.ModelInfo{
		{Provider: "openai", Name: "gpt-4o", Title: "GPT-4o"},
		{Provider: "openai", Name: "gpt-4o-mini", Title: "GPT-4o mini"},
		{Provider: "openai", Name: "gpt-4-turbo", Title: "GPT-4 Turbo"},
	}, nil
}

func (a *OpenAIAdapter) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if a.client == nil {
		return GenerateResponse{}, NewLlmError("openai", req.Model, fmt.Errorf("no api key configured")).WithCode("authentication_error")
	}

	msgs, err := convertToOpenAIMessages(req.Messages, req.System)
	if err != nil {
		return GenerateResponse{}, NewLlmError("openai", req.Model, err)
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Tools:     convertToOpenAITools(req.Tools),
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}

	var resp openai.ChatCompletionResponse
	retryErr := a.Retry(ctx, IsRetryable, func() error {
		r, callErr := a.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return a.wrapError(callErr, model)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return GenerateResponse{}, retryErr
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, NewLlmError("openai", model, fmt.Errorf("no choices returned"))
	}

	choice := resp.Choices[0]
	out := GenerateResponse{
		Usage: Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, models.Text(choice.Message.Content))
	}
	for _, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, models.ToolUse(call.ID, call.Function.Name, json.RawMessage(call.Function.Arguments)))
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		out.StopReason = StopToolUse
	case openai.FinishReasonLength:
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	return out, nil
}

func convertToOpenAIMessages(reqMessages []RequestMessage, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(reqMessages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range reqMessages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		var text string
		var toolCalls []openai.ToolCall
		for _, block := range m.Content {
			switch block.Type {
			case models.BlockText:
				text += block.Text.Text
			case models.BlockToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   block.ToolUse.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.ToolUse.Name,
						Arguments: string(block.ToolUse.Input),
					},
				})
			case models.BlockToolResult:
				var resultText string
				for _, nested := range block.ToolResult.Content {
					if nested.Type == models.BlockText {
						resultText += nested.Text.Text
					}
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    resultText,
					ToolCallID: block.ToolResult.ToolUseID,
				})
			}
		}
		if text == "" && len(toolCalls) == 0 {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: text, ToolCalls: toolCalls})
	}
	return out, nil
}

func convertToOpenAITools(tools []ToolDef) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func (a *OpenAIAdapter) wrapError(err error, model string) *LlmError {
	if existing, ok := AsLlmError(err); ok {
		return existing
	}
	wrapped := NewLlmError("openai", model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped = wrapped.WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			wrapped = wrapped.WithCode(code)
		}
		if apiErr.Message != "" {
			wrapped = wrapped.WithMessage(apiErr.Message)
		}
	}
	return wrapped
}
