package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kestrelrun/cua-agent/internal/providers"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

type fakeAdapter struct {
	name      string
	available bool
	err       error
	resp      providers.GenerateResponse
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) IsAvailable() bool { return f.available }
func (f *fakeAdapter) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	return []models.ModelInfo{{Provider: f.name, Name: f.name + "-model", Title: f.name}}, nil
}
func (f *fakeAdapter) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	if f.err != nil {
		return providers.GenerateResponse{}, f.err
	}
	return f.resp, nil
}

func newTestRouter() (*Router, *fakeAdapter, *fakeAdapter) {
	claude := &fakeAdapter{name: "anthropic", available: true}
	gpt := &fakeAdapter{name: "openai", available: false}
	r := New("claude-sonnet-4-20250514", time.Minute)
	r.Register("claude-", claude)
	r.Register("gpt-", gpt)
	return r, claude, gpt
}

func TestRouterPrefixDispatch(t *testing.T) {
	r, claude, _ := newTestRouter()
	_, err := r.Generate(context.Background(), providers.GenerateRequest{Model: "claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = claude
}

func TestRouterDefaultModel(t *testing.T) {
	r, _, _ := newTestRouter()
	adapter, model, err := r.resolve("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "claude-sonnet-4-20250514" {
		t.Fatalf("expected default model substitution, got %q", model)
	}
	if adapter.Name() != "anthropic" {
		t.Fatalf("expected anthropic adapter, got %q", adapter.Name())
	}
}

func TestRouterNoProvider(t *testing.T) {
	r, _, _ := newTestRouter()
	_, err := r.Generate(context.Background(), providers.GenerateRequest{Model: "llama-3-70b"})
	var noProvider *ErrNoProvider
	if !errors.As(err, &noProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestRouterProviderUnavailable(t *testing.T) {
	r, _, _ := newTestRouter()
	_, err := r.Generate(context.Background(), providers.GenerateRequest{Model: "gpt-4o"})
	var unavailable *ErrProviderUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestRouterCooldownAfterFailover(t *testing.T) {
	r, claude, _ := newTestRouter()
	claude.err = (&providers.LlmError{Reason: providers.FailoverAuth, Provider: "anthropic"})

	_, err := r.Generate(context.Background(), providers.GenerateRequest{Model: "claude-sonnet-4-20250514"})
	if err == nil {
		t.Fatalf("expected error from first call")
	}

	claude.err = nil
	_, err = r.Generate(context.Background(), providers.GenerateRequest{Model: "claude-sonnet-4-20250514"})
	if err == nil {
		t.Fatalf("expected cooldown error on second call")
	}
}

func TestRouterListModelsSkipsUnavailable(t *testing.T) {
	r, _, _ := newTestRouter()
	list, err := r.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Provider != "anthropic" {
		t.Fatalf("expected only anthropic models, got %+v", list)
	}
}
