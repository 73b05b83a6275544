// Package llm holds the provider registry and helpers shared by the cloud
// provider clients.
package llm

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

// Registry maps provider identifiers to configured clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Provider]ports.LLMClient
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.Provider]ports.LLMClient)}
}

func (r *Registry) Register(provider domain.Provider, client ports.LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = client
}

func (r *Registry) Resolve(provider domain.Provider) (ports.LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[provider]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve provider", fmt.Errorf("provider %q is not configured", provider))
	}
	return client, nil
}

// Providers returns the registered identifiers in a stable order.
func (r *Registry) Providers() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// ListModels asks every provider that can enumerate models. A failing provider
// is reported in its entry instead of failing the whole listing.
func (r *Registry) ListModels(ctx context.Context) []domain.ProviderModels {
	providers := r.Providers()
	out := make([]domain.ProviderModels, 0, len(providers))
	for _, provider := range providers {
		entry := domain.ProviderModels{Provider: provider, Local: provider.IsLocal()}
		client, err := r.Resolve(provider)
		if err != nil {
			entry.Error = err.Error()
			out = append(out, entry)
			continue
		}
		if lister, ok := client.(ports.ModelLister); ok {
			models, err := lister.Models(ctx)
			if err != nil {
				entry.Error = err.Error()
			}
			entry.Models = models
		}
		out = append(out, entry)
	}
	return out
}
