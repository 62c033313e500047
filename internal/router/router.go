package router

import (
	"context"
	"fmt"

	"poetry-tutor/internal/models"
	"poetry-tutor/internal/provider"
)

// Router dispatches chat requests to the provider that owns the model.
type Router struct {
	registry *provider.Registry
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry) *Router {
	return &Router{
		registry: registry,
	}
}

// Chat routes a chat completion request to the configured provider. Aliases
// are resolved to the canonical model ID before the provider sees them.
func (r *Router) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, models.Model, error) {
	modelInfo, providerImpl, err := r.registry.LookupModel(req.Model)
	if err != nil {
		return nil, models.Model{}, err
	}

	sanitisedReq := req
	sanitisedReq.Model = modelInfo.ID
	sanitisedReq.Messages = cloneMessages(req.Messages)

	resp, err := providerImpl.Chat(ctx, sanitisedReq)
	if err != nil {
		return nil, models.Model{}, fmt.Errorf("provider %s chat request: %w", providerImpl.Name(), err)
	}
	if resp == nil {
		return nil, models.Model{}, fmt.Errorf("provider %s returned an empty response", providerImpl.Name())
	}
	return resp, modelInfo, nil
}

// HasModel reports whether the model ID or alias can be routed.
func (r *Router) HasModel(modelID string) bool {
	_, _, err := r.registry.LookupModel(modelID)
	return err == nil
}

func cloneMessages(messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out
}
