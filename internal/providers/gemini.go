package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// GeminiConfig configures the gemini-style adapter.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GeminiAdapter implements Adapter against Google's Gemini API via
// google.golang.org/genai.
type GeminiAdapter struct {
	BaseProvider
	client       *genai.Client
	apiKey       string
	defaultModel string
}

// NewGeminiAdapter constructs a gemini-style Adapter. When apiKey is empty
// the client is left nil and IsAvailable reports false; Generate then
// fails fast with an auth-classified LlmError instead of panicking.
func NewGeminiAdapter(cfg GeminiConfig) (*GeminiAdapter, error) {
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	a := &GeminiAdapter{
		BaseProvider: NewBaseProvider("google", cfg.MaxRetries, cfg.RetryDelay),
		apiKey:       cfg.APIKey,
		defaultModel: defaultModel,
	}
	if cfg.APIKey == "" {
		return a, nil
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	a.client = client
	return a, nil
}

func (a *GeminiAdapter) Name() string      { return "google" }
func (a *GeminiAdapter) IsAvailable() bool { return a.client != nil }

func (a *GeminiAdapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	return []models.ModelInfo{
		{Provider: "google", Name: "gemini-2.0-flash", Title: "Gemini 2.0 Flash"},
		{Provider: "google", Name: "gemini-1.5-pro", Title: "Gemini 1.5 Pro"},
	}, nil
}

func (a *GeminiAdapter) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if a.client == nil {
		return GenerateResponse{}, NewLlmError("google", req.Model, fmt.Errorf("no api key configured")).WithCode("authentication_error")
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	contents, err := convertToGeminiContents(req.Messages)
	if err != nil {
		return GenerateResponse{}, NewLlmError("google", model, err)
	}
	config := buildGeminiConfig(req)

	var resp *genai.GenerateContentResponse
	retryErr := a.Retry(ctx, IsRetryable, func() error {
		r, callErr := a.client.Models.GenerateContent(ctx, model, contents, config)
		if callErr != nil {
			return a.wrapError(callErr, model)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return GenerateResponse{}, retryErr
	}
	if len(resp.Candidates) == 0 {
		return GenerateResponse{}, NewLlmError("google", model, fmt.Errorf("no candidates returned"))
	}

	out := GenerateResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.Text != "":
				out.Content = append(out.Content, models.Text(part.Text))
			case part.FunctionCall != nil:
				input, _ := json.Marshal(part.FunctionCall.Args)
				out.Content = append(out.Content, models.ToolUse(part.FunctionCall.Name, part.FunctionCall.Name, input))
			}
		}
	}

	switch candidate.FinishReason {
	case genai.FinishReasonMaxTokens:
		out.StopReason = StopMaxTokens
	default:
		if hasFunctionCall(candidate) {
			out.StopReason = StopToolUse
		} else {
			out.StopReason = StopEndTurn
		}
	}
	return out, nil
}

func hasFunctionCall(c *genai.Candidate) bool {
	if c.Content == nil {
		return false
	}
	for _, part := range c.Content.Parts {
		if part.FunctionCall != nil {
			return true
		}
	}
	return false
}

func convertToGeminiContents(reqMessages []RequestMessage) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range reqMessages {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, block := range m.Content {
			switch block.Type {
			case models.BlockText:
				content.Parts = append(content.Parts, &genai.Part{Text: block.Text.Text})
			case models.BlockImage:
				content.Parts = append(content.Parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: block.Image.Source.MediaType, Data: []byte(block.Image.Source.Data)},
				})
			case models.BlockToolUse:
				var args map[string]any
				if len(block.ToolUse.Input) > 0 {
					if err := json.Unmarshal(block.ToolUse.Input, &args); err != nil {
						return nil, fmt.Errorf("tool_use input: %w", err)
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: block.ToolUse.Name, Args: args},
				})
			case models.BlockToolResult:
				response := map[string]any{}
				for _, nested := range block.ToolResult.Content {
					if nested.Type == models.BlockText {
						response["result"] = nested.Text.Text
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: block.ToolResult.ToolUseID, Response: response},
				})
			}
		}
		out = append(out, content)
	}
	return out, nil
}

func buildGeminiConfig(req GenerateRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = convertToGeminiTools(req.Tools)
	}
	return config
}

func convertToGeminiTools(tools []ToolDef) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromMap(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func schemaFromMap(m map[string]any) *genai.Schema {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return &schema
}

func (a *GeminiAdapter) wrapError(err error, model string) *LlmError {
	if existing, ok := AsLlmError(err); ok {
		return existing
	}
	return NewLlmError("google", model, err)
}
