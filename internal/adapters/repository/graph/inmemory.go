// Package graphrepo keeps compiled graphs addressable by name.
package graphrepo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flowgraph/pregelflow/internal/core/graph"
)

// InMemoryGraphRepository provides an in-memory registry of compiled graphs
// PRINCIPLES:
// - KISS: Simple map-based storage
// - SRP: Only responsible for graph lookup
// - Thread-safe
type InMemoryGraphRepository struct {
	mu     sync.RWMutex
	graphs map[string]*graph.CompiledGraph
}

// NewInMemoryGraphRepository creates an empty repository.
func NewInMemoryGraphRepository() *InMemoryGraphRepository {
	return &InMemoryGraphRepository{
		graphs: make(map[string]*graph.CompiledGraph),
	}
}

// Register adds g under its name. Names are unique.
func (r *InMemoryGraphRepository) Register(_ context.Context, g *graph.CompiledGraph) error {
	if g == nil || g.Name() == "" {
		return graph.ErrInvalidGraphName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[g.Name()]; ok {
		return fmt.Errorf("%w: %q", graph.ErrGraphExists, g.Name())
	}
	r.graphs[g.Name()] = g
	return nil
}

// Get returns the graph registered as name.
func (r *InMemoryGraphRepository) Get(_ context.Context, name string) (*graph.CompiledGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", graph.ErrGraphNotFound, name)
	}
	return g, nil
}

// List returns every graph sorted by name.
func (r *InMemoryGraphRepository) List(_ context.Context) ([]*graph.CompiledGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*graph.CompiledGraph, 0, len(r.graphs))
	for _, g := range r.graphs {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *graph.CompiledGraph) int { return cmp.Compare(a.Name(), b.Name()) })
	return out, nil
}

// Remove drops the graph registered as name.
func (r *InMemoryGraphRepository) Remove(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[name]; !ok {
		return fmt.Errorf("%w: %q", graph.ErrGraphNotFound, name)
	}
	delete(r.graphs, name)
	return nil
}
