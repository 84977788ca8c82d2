// Package providers implements the C5 Provider Adapters: one implementation
// per LLM vendor behind a uniform Adapter contract, so the router (C6) and
// the reasoning loop (C8) never branch on vendor.
package providers

import (
	"context"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// ToolDef describes a callable tool exposed to the model, matching the
// action protocol (C1) one-to-one when the task's tool set is
// action-protocol shaped.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// GenerateRequest is the vendor-neutral request shape every Adapter
// translates into its own wire format.
type GenerateRequest struct {
	Model      string
	System     string
	Messages   []RequestMessage
	Tools      []ToolDef
	MaxTokens  int
	Temperature *float64
}

// RequestMessage is one turn of conversation handed to the model.
type RequestMessage struct {
	Role    models.Role
	Content []models.ContentBlock
}

// GenerateResponse is the vendor-neutral response shape: a message's worth
// of content blocks plus the reason generation stopped.
type GenerateResponse struct {
	Content    []models.ContentBlock
	StopReason StopReason
	Usage      Usage
}

// StopReason enumerates why the model stopped producing content.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopStopSeq   StopReason = "stop_sequence"
)

// Usage carries token accounting for observability (C13) and quota
// bookkeeping; adapters populate what their vendor's API reports.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Adapter is the uniform contract every provider (claude-style, gpt-style,
// gemini-style) implements. The router (C6) and reasoning loop (C8) talk
// only to this interface.
type Adapter interface {
	// Name returns the adapter's provider identifier (e.g. "anthropic").
	Name() string

	// Generate runs one model turn, returning its content blocks. A
	// returned error is always either an *LlmError or wrappable to one via
	// AsLlmError; IsRetryable/ShouldFailover drive the caller's response.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

	// ListModels returns the models this adapter can serve.
	ListModels(ctx context.Context) ([]models.ModelInfo, error)

	// IsAvailable reports whether the adapter is configured and reachable
	// (e.g. an API key is present), without making a network call.
	IsAvailable() bool
}
