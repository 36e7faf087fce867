package prompt

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Constructor builds a Builder from free-form options.
type Constructor func(cfg map[string]any) (Builder, error)

// Spec names a builder and its options. In YAML it is either a plain name or
// a mapping with a "name" key and the options inline.
type Spec struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:",inline"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (s *Spec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Name = value.Value
		return nil
	}
	type plain Spec
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

// Registry maps builder names to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Default returns a registry with the built-in builders.
func Default() *Registry {
	r := NewRegistry()
	r.Register(CodeBlockName, newCodeBlockFromConfig)
	r.Register(JSONName, newJSONFromConfig)
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[normalize(name)] = ctor
}

// Build creates the builder described by spec.
func (r *Registry) Build(spec Spec) (Builder, error) {
	name := normalize(spec.Name)
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown prompt builder %q (available: %s)", spec.Name, strings.Join(r.List(), ", "))
	}
	b, err := ctor(spec.Options)
	if err != nil {
		return nil, fmt.Errorf("prompt builder %s: %w", name, err)
	}
	return b, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
