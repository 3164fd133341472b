package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by CreateAnalysis when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AnalysisFactory builds a text-generation provider from its config block.
type AnalysisFactory func(ctx context.Context, cfg AnalysisConfig) (llm.Provider, error)

// Registry maps analysis provider names to their constructor functions, so
// the backend for transcript analysis and notification copywriting is
// selectable by name in the config file. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	analysis map[string]AnalysisFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		analysis: make(map[string]AnalysisFactory),
	}
}

// RegisterAnalysis registers a text-generation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAnalysis(name string, factory AnalysisFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analysis[name] = factory
}

// CreateAnalysis instantiates the provider registered under cfg.Provider.
// The empty name selects "gemini". Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateAnalysis(ctx context.Context, cfg AnalysisConfig) (llm.Provider, error) {
	name := cfg.Provider
	if name == "" {
		name = "gemini"
	}
	r.mu.RLock()
	factory, ok := r.analysis[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: analysis/%q", ErrProviderNotRegistered, name)
	}
	return factory(ctx, cfg)
}

// Names returns the registered analysis provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.analysis))
	for name := range r.analysis {
		names = append(names, name)
	}
	return names
}
