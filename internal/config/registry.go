package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/lookout/pkg/provider/llm"
	"github.com/MrWong99/lookout/pkg/provider/vision"
)

// ErrProviderNotRegistered is wrapped by the Create methods when no factory
// is registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories maps provider names to constructors of one provider kind.
type factories[P any] struct {
	kind string
	mu   sync.RWMutex
	byID map[string]func(ProviderEntry) (P, error)
}

func newFactories[P any](kind string) *factories[P] {
	return &factories[P]{kind: kind, byID: make(map[string]func(ProviderEntry) (P, error))}
}

func (f *factories[P]) register(name string, fn func(ProviderEntry) (P, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[name] = fn
}

func (f *factories[P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byID))
}

func (f *factories[P]) create(entry ProviderEntry) (P, error) {
	f.mu.RLock()
	fn, ok := f.byID[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s %q (registered: %s)",
			ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.names(), ", "))
	}
	p, err := fn(entry)
	if err != nil {
		return p, fmt.Errorf("config: create %s %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

// Registry turns [ProviderEntry] values into providers. Binaries register
// the backends they link in; the config only names them. It is safe for
// concurrent use.
type Registry struct {
	llm    *factories[llm.Provider]
	vision *factories[vision.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{llm: newFactories[llm.Provider]("llm"), vision: newFactories[vision.Provider]("vision")}
}

// RegisterLLM registers factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterVision registers factory under name, replacing any earlier one.
func (r *Registry) RegisterVision(name string, factory func(ProviderEntry) (vision.Provider, error)) {
	r.vision.register(name, factory)
}

// LLMNames returns the registered LLM provider names, sorted.
func (r *Registry) LLMNames() []string { return r.llm.names() }

// VisionNames returns the registered vision provider names, sorted.
func (r *Registry) VisionNames() []string { return r.vision.names() }

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateVision builds the vision provider named by entry.Name.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Provider, error) {
	return r.vision.create(entry)
}
