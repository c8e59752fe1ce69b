package providers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/preset/enhancement-gateway/config"
	"github.com/preset/enhancement-gateway/services/providers/stats"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrProviderNotFound is returned when no builder is registered for a provider name
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate builder
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Deps are the shared collaborators handed to every provider builder
type Deps struct {
	Tracker    stats.Tracker
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// Builder creates a provider from its configuration
type Builder func(cfg config.ProviderConfig, deps Deps) (Provider, error)

// Registry maps provider names to builders so new backends plug in
// without touching the orchestrator
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under name
func (r *Registry) Register(name string, builder Builder) error {
	if name == "" {
		return errors.New("provider name cannot be empty")
	}
	if builder == nil {
		return errors.New("provider builder cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.builders[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}
	r.builders[name] = builder
	return nil
}

// Names returns the registered provider names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.builders)
	sort.Strings(names)
	return names
}

// Build instantiates every enabled configuration and returns the providers
// in ascending priority
func (r *Registry) Build(cfgs []config.ProviderConfig, deps Deps) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := lo.Filter(cfgs, func(c config.ProviderConfig, _ int) bool { return c.Enabled })

	built := make([]Provider, 0, len(enabled))
	for _, cfg := range enabled {
		builder, ok := r.builders[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, cfg.Name)
		}
		p, err := builder(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", cfg.Name, err)
		}
		built = append(built, p)
	}

	return SortByPriority(built), nil
}

// SortByPriority returns a copy ordered by ascending priority.
// Ties keep their input order.
func SortByPriority(ps []Provider) []Provider {
	sorted := make([]Provider, len(ps))
	copy(sorted, ps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}
