package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/preset/enhancement-gateway/services"
	"github.com/preset/enhancement-gateway/services/enhancement"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/preset/enhancement-gateway/services/providers/falai"
	"github.com/preset/enhancement-gateway/services/providers/googledirect"
	"github.com/preset/enhancement-gateway/services/providers/kieai"
	"github.com/preset/enhancement-gateway/services/providers/nanobanana"
)

// NewProviderRegistry returns a registry holding every built-in provider builder.
// Adding a backend means adding one line here.
func NewProviderRegistry() (*providers.Registry, error) {
	registry := providers.NewRegistry()
	builders := map[string]providers.Builder{
		nanobanana.Name:   nanobanana.New,
		falai.Name:        falai.New,
		kieai.Name:        kieai.New,
		googledirect.Name: googledirect.New,
	}
	for name, builder := range builders {
		if err := registry.Register(name, builder); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// noProviders stands in for the orchestrator when no provider is enabled
type noProviders struct{}

func (noProviders) EnhanceWithFallback(context.Context, *providers.EnhancementRequest, uuid.UUID) (*enhancement.Outcome, error) {
	return nil, services.ErrNoProvidersConfigured
}

func (noProviders) ProviderStatus(context.Context) ([]enhancement.ProviderStatus, error) {
	return []enhancement.ProviderStatus{}, nil
}

func (noProviders) OverrideProviderHealth(context.Context, string, bool, string) error {
	return services.ErrProviderNotFound
}
