// Package routing implements the C6 LLM Router: a pure prefix-dispatch
// selector over the configured provider Adapters, with short-circuit
// errors for an unroutable model name or an unconfigured provider.
package routing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrelrun/cua-agent/internal/providers"
	"github.com/kestrelrun/cua-agent/pkg/models"
)

// ErrNoProvider is returned when a model name matches no configured prefix.
type ErrNoProvider struct{ Model string }

func (e *ErrNoProvider) Error() string {
	return fmt.Sprintf("router: no provider registered for model %q", e.Model)
}

// ErrProviderUnavailable is returned when the matched provider has no
// credentials configured (Adapter.IsAvailable() == false).
type ErrProviderUnavailable struct{ Provider string }

func (e *ErrProviderUnavailable) Error() string {
	return fmt.Sprintf("router: provider %q is not configured", e.Provider)
}

// prefixRoute pairs a model-name prefix with the adapter that serves it.
type prefixRoute struct {
	prefix  string
	adapter providers.Adapter
}

// Router dispatches a model name to its Adapter by matching the closed set
// of prefixes named in spec.md §4.6 ("claude-", "gpt-", "gemini-"), tracking
// a short unhealthy cooldown per provider so a hard failure doesn't
// immediately retry the same adapter within the same task turn.
type Router struct {
	routes       []prefixRoute
	defaultModel string

	cooldown  time.Duration
	mu        sync.Mutex
	unhealthy map[string]time.Time
}

// New builds a Router. routes is evaluated in order, first prefix match
// wins; defaultModel is used when a caller passes an empty model string.
func New(defaultModel string, cooldown time.Duration, entries ...struct {
	Prefix  string
	Adapter providers.Adapter
}) *Router {
	r := &Router{defaultModel: defaultModel, cooldown: cooldown, unhealthy: map[string]time.Time{}}
	for _, e := range entries {
		r.routes = append(r.routes, prefixRoute{prefix: e.Prefix, adapter: e.Adapter})
	}
	return r
}

// Register adds one prefix -> adapter route, preserving registration order
// as match priority.
func (r *Router) Register(prefix string, adapter providers.Adapter) {
	r.routes = append(r.routes, prefixRoute{prefix: prefix, adapter: adapter})
}

// resolve returns the adapter for a model name, applying the default model
// substitution and the closed prefix set.
func (r *Router) resolve(model string) (providers.Adapter, string, error) {
	if model == "" {
		model = r.defaultModel
	}
	for _, route := range r.routes {
		if strings.HasPrefix(model, route.prefix) {
			if !route.adapter.IsAvailable() {
				return nil, model, &ErrProviderUnavailable{Provider: route.adapter.Name()}
			}
			return route.adapter, model, nil
		}
	}
	return nil, model, &ErrNoProvider{Model: model}
}

// Generate resolves model to an Adapter and runs one turn through it. If
// the adapter is in cooldown from a prior ShouldFailover error, Generate
// fails fast with the same error rather than re-dispatching.
func (r *Router) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, error) {
	adapter, model, err := r.resolve(req.Model)
	if err != nil {
		return providers.GenerateResponse{}, err
	}
	req.Model = model

	if until, down := r.isUnhealthy(adapter.Name()); down {
		return providers.GenerateResponse{}, fmt.Errorf("router: provider %q is in cooldown until %s", adapter.Name(), until.Format(time.RFC3339))
	}

	resp, genErr := adapter.Generate(ctx, req)
	if genErr != nil && providers.ShouldFailover(genErr) {
		r.markUnhealthy(adapter.Name())
	}
	return resp, genErr
}

// ListModels aggregates ListModels across every registered adapter,
// skipping unavailable ones rather than failing the whole call.
func (r *Router) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	seen := map[string]bool{}
	var out []models.ModelInfo
	for _, route := range r.routes {
		if !route.adapter.IsAvailable() {
			continue
		}
		if seen[route.adapter.Name()] {
			continue
		}
		seen[route.adapter.Name()] = true
		list, err := route.adapter.ListModels(ctx)
		if err != nil {
			continue
		}
		out = append(out, list...)
	}
	return out, nil
}

func (r *Router) isUnhealthy(provider string) (time.Time, bool) {
	if r.cooldown <= 0 {
		return time.Time{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.unhealthy[provider]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		delete(r.unhealthy, provider)
		return time.Time{}, false
	}
	return until, true
}

func (r *Router) markUnhealthy(provider string) {
	if r.cooldown <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhealthy[provider] = time.Now().Add(r.cooldown)
}
