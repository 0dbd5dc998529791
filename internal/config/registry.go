package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/campusagent/pkg/provider/embeddings"
	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type P from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one named set of constructors for a single provider kind.
type factories[P any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[P]
}

func newFactories[P any](kind string) *factories[P] {
	return &factories[P]{kind: kind, m: make(map[string]Factory[P])}
}

func (f *factories[P]) set(name string, fn Factory[P]) {
	f.mu.Lock()
	f.m[name] = fn
	f.mu.Unlock()
}

func (f *factories[P]) create(entry ProviderEntry) (P, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()

	var zero P
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s/%s: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps provider names from the config file to constructors. The
// binary registers the built-in backends at startup; tests register stubs.
// It is safe for concurrent use.
type Registry struct {
	llm        *factories[llm.Provider]
	embeddings *factories[embeddings.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        newFactories[llm.Provider]("llm"),
		embeddings: newFactories[embeddings.Provider]("embeddings"),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.set(name, f) }

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.embeddings.set(name, f)
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateEmbeddings builds the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// LLMNames returns the registered LLM provider names, sorted.
func (r *Registry) LLMNames() []string { return r.llm.names() }

// EmbeddingsNames returns the registered embeddings provider names, sorted.
func (r *Registry) EmbeddingsNames() []string { return r.embeddings.names() }
