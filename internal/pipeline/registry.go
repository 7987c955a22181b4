package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Fn computes one result from the resolved dependency values, passed in the
// order the provider declared them.
type Fn func(ctx context.Context, args []any) (any, error)

// Provider computes the result identified by Key from the results identified
// by Deps.
type Provider struct {
	Key  Key
	Deps []Key
	Fn   Fn
}

// Registry holds the provider set for one workflow. Facility packages
// register their specializations on top of the generic providers.
type Registry struct {
	providers map[Key]*Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Key]*Provider)}
}

// Register adds a provider. Registering two providers for the same key is a
// programmer error and panics.
func (r *Registry) Register(p *Provider) {
	if _, exists := r.providers[p.Key]; exists {
		panic(fmt.Sprintf("provider for key '%s' already registered", p.Key))
	}
	slog.Debug("Registering provider.", "key", p.Key.String(), "deps", len(p.Deps))
	r.providers[p.Key] = p
}

// Replace adds a provider, overriding any existing registration for the same
// key. Facility provider sets use this to specialize generic steps.
func (r *Registry) Replace(p *Provider) {
	slog.Debug("Replacing provider.", "key", p.Key.String(), "deps", len(p.Deps))
	r.providers[p.Key] = p
}

// Provider returns the provider registered for k, if any.
func (r *Registry) Provider(k Key) (*Provider, bool) {
	p, ok := r.providers[k]
	return p, ok
}

// Keys returns all registered result keys.
func (r *Registry) Keys() []Key {
	out := make([]Key, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	return out
}

// detectCycles checks the provider graph for circular dependencies using DFS.
func (r *Registry) detectCycles() error {
	visiting := make(map[Key]bool)
	visited := make(map[Key]bool)

	var visit func(k Key) error
	visit = func(k Key) error {
		visiting[k] = true
		if p, ok := r.providers[k]; ok {
			for _, dep := range p.Deps {
				if visiting[dep] {
					return fmt.Errorf("cycle detected involving '%s'", dep)
				}
				if !visited[dep] {
					if err := visit(dep); err != nil {
						return err
					}
				}
			}
		}
		delete(visiting, k)
		visited[k] = true
		return nil
	}

	for k := range r.providers {
		if !visited[k] {
			if err := visit(k); err != nil {
				return err
			}
		}
	}
	return nil
}
