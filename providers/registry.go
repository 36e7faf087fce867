// Package providers maps backend type names to adapter factories.
package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/providers/anthropic"
	"github.com/blueberrycongee/unillm/providers/dashscope"
	"github.com/blueberrycongee/unillm/providers/deepseek"
	"github.com/blueberrycongee/unillm/providers/gemini"
	"github.com/blueberrycongee/unillm/providers/mock"
	"github.com/blueberrycongee/unillm/providers/ollama"
	"github.com/blueberrycongee/unillm/providers/openai"
	"github.com/blueberrycongee/unillm/providers/vllm"
)

// Registry maps backend types to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]provider.Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]provider.Factory)}
}

// Default returns a new registry holding every built-in adapter.
func Default() *Registry {
	r := NewRegistry()
	r.Register(openai.ProviderName, openai.NewFromConfig)
	r.Register(deepseek.ProviderName, deepseek.NewFromConfig)
	r.Register(anthropic.ProviderName, anthropic.NewFromConfig)
	r.Register(gemini.ProviderName, gemini.NewFromConfig)
	r.Register(dashscope.ProviderName, dashscope.NewFromConfig)
	r.Register(ollama.ProviderName, ollama.NewFromConfig)
	r.Register(vllm.ProviderName, vllm.NewFromConfig)
	r.Register(mock.ProviderName, mock.NewFromConfig)
	return r
}

// Register adds or replaces the factory for a backend type.
func (r *Registry) Register(backendType string, factory provider.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(backendType)] = factory
}

// Get returns the factory for a backend type.
func (r *Registry) Get(backendType string) (provider.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[normalize(backendType)]
	return f, ok
}

// Create builds an adapter. An unregistered type yields errors.ErrUnknownBackend.
func (r *Registry) Create(cfg provider.Config) (provider.Adapter, error) {
	factory, ok := r.Get(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)",
			llmerrors.ErrUnknownBackend, cfg.Type, strings.Join(r.List(), ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create backend %s: %w", cfg.Type, err)
	}
	return a, nil
}

// List returns the registered types in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(backendType string) string {
	return strings.ToLower(strings.TrimSpace(backendType))
}
