package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"poetry-tutor/internal/models"
)

var (
	// ErrUnknownModel is returned when no provider serves the requested model or alias.
	ErrUnknownModel = errors.New("unknown model")
	// ErrDuplicateModel is returned when two providers claim the same model ID.
	ErrDuplicateModel = errors.New("model already registered")
)

// Provider is a text-generation service able to answer chat requests.
type Provider interface {
	Name() string
	ListModels(ctx context.Context) ([]models.Model, error)
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
}

// route binds a model ID or alias to the provider serving it.
type route struct {
	model    models.Model
	provider Provider
}

// Registry routes model IDs and aliases to providers. A registration either
// applies completely or leaves the registry untouched.
type Registry struct {
	mu        sync.RWMutex
	routes    map[string]route
	providers map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		routes:    make(map[string]route),
		providers: make(map[string]struct{}),
	}
}

// RegisterProvider adds p and every model it lists. Aliases may point at any
// model already routable, including the ones p brings.
func (r *Registry) RegisterProvider(ctx context.Context, p Provider, aliases map[string]string) error {
	if p == nil {
		return errors.New("provider must not be nil")
	}

	listed, err := p.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models for provider %q: %w", p.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.providers[p.Name()]; taken {
		return fmt.Errorf("provider %q already registered", p.Name())
	}

	staged := make(map[string]route, len(listed)+len(aliases))
	for _, m := range listed {
		if _, taken := r.routes[m.ID]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
		}
		if _, taken := staged[m.ID]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, m.ID)
		}
		staged[m.ID] = route{model: m, provider: p}
	}

	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	resolved := make(map[string]route, len(aliases))
	for _, alias := range names {
		target := aliases[alias]
		if _, taken := r.routes[alias]; taken {
			return fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		if _, taken := staged[alias]; taken {
			return fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		rt, ok := staged[target]
		if !ok {
			rt, ok = r.routes[target]
		}
		if !ok {
			return fmt.Errorf("alias %q references unknown model %q", alias, target)
		}
		resolved[alias] = rt
	}

	for id, rt := range staged {
		r.routes[id] = rt
	}
	for alias, rt := range resolved {
		r.routes[alias] = rt
	}
	r.providers[p.Name()] = struct{}{}
	return nil
}

// LookupModel resolves a model ID or alias to its canonical model and provider.
func (r *Registry) LookupModel(id string) (models.Model, Provider, error) {
	r.mu.RLock()
	rt, ok := r.routes[id]
	r.mu.RUnlock()
	if !ok {
		return models.Model{}, nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return rt.model, rt.provider, nil
}

// ModelIDs lists every routable model ID and alias in sorted order.
func (r *Registry) ModelIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
