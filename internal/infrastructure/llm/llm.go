package llm

import (
	"context"
	"fmt"
	"sort"
)

// Request is one completion call against a text model.
type Request struct {
	Model       string
	System      string
	Prompt      string
	JSON        bool
	MaxTokens   int
	Stop        []string
	Temperature float32
	// NoThinking disables reasoning tokens on backends that bill them against MaxTokens.
	NoThinking bool
}

// Completion is the model reply plus the token usage the backend reported.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	// CompletionTokens includes any reasoning tokens the backend billed.
	CompletionTokens int
}

// Generator is a text backend (hosted or local).
type Generator interface {
	Backend() string
	Paid() bool
	Generate(ctx context.Context, req Request) (Completion, error)
}

// Registry maps backend names to generators.
type Registry struct {
	generators map[string]Generator
}

// NewRegistry registers the non-nil generators by their backend name.
func NewRegistry(generators ...Generator) *Registry {
	r := &Registry{generators: map[string]Generator{}}
	for _, g := range generators {
		if g != nil {
			r.generators[g.Backend()] = g
		}
	}
	return r
}

// Resolve returns the generator for a backend or an error when it is not configured.
func (r *Registry) Resolve(backend string) (Generator, error) {
	if r != nil {
		if g, ok := r.generators[backend]; ok {
			return g, nil
		}
	}
	return nil, fmt.Errorf("llm backend %q is not configured", backend)
}

// Backends lists registered backend names.
func (r *Registry) Backends() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
