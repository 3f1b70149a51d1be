package adapter

import (
	"fmt"
	"sort"
)

// Registry is an immutable adapter lookup table keyed by shop slug. It is
// built once at process start and passed by reference into the orchestrator;
// adapters never consult any ambient global state.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the provided adapters. It fails on
// duplicate slugs.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	byIdentity := make(map[string]Adapter, len(adapters))
	for _, adp := range adapters {
		if _, exists := byIdentity[adp.Slug()]; exists {
			return nil, fmt.Errorf("duplicate adapter for shop %q", adp.Slug())
		}
		byIdentity[adp.Slug()] = adp
	}

	return &Registry{adapters: byIdentity}, nil
}

// Get returns the adapter registered for slug.
func (r *Registry) Get(slug string) (Adapter, error) {
	adp, ok := r.adapters[slug]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for shop %q", slug)
	}
	return adp, nil
}

// Slugs returns the registered shop slugs in stable order.
func (r *Registry) Slugs() []string {
	slugs := make([]string, 0, len(r.adapters))
	for slug := range r.adapters {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
