package connector

import (
	"fmt"
	"slices"
	"sync"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
)

// Factory builds the connector for one provider.
type Factory func() (Connector, error)

// Registry manages provider connector factories. Connectors are built on
// first use and shared afterwards.
type Registry interface {
	Register(provider domain.Provider, factory Factory) error
	Get(provider domain.Provider) (Connector, error)
	ListProviders() []domain.Provider
}

type registry struct {
	mu        sync.RWMutex
	factories map[domain.Provider]Factory
	built     map[domain.Provider]Connector
}

func NewRegistry() Registry {
	return &registry{
		factories: make(map[domain.Provider]Factory),
		built:     make(map[domain.Provider]Connector),
	}
}

func (r *registry) Register(provider domain.Provider, factory Factory) error {
	if provider == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[provider]; exists {
		return fmt.Errorf("provider %q is already registered", provider)
	}

	r.factories[provider] = factory
	return nil
}

func (r *registry) Get(provider domain.Provider) (Connector, error) {
	r.mu.RLock()
	c, ok := r.built[provider]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.built[provider]; ok {
		return c, nil
	}
	factory, exists := r.factories[provider]
	if !exists {
		return nil, errkind.New(errkind.InvalidInput, "provider %q is not registered", provider)
	}

	c, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build %s connector: %w", provider, err)
	}
	r.built[provider] = c
	return c, nil
}

func (r *registry) ListProviders() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]domain.Provider, 0, len(r.factories))
	for provider := range r.factories {
		providers = append(providers, provider)
	}
	slices.Sort(providers)
	return providers
}
