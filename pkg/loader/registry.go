package loader

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

// NodeFactory builds the runnable of one node from its definition.
type NodeFactory func(def NodeDef) (graph.Runnable, error)

// RouteFactory builds the routing function of one branch.
type RouteFactory func(def BranchDef) (graph.RouteFunc, error)

// Registry maps the names used in definitions to implementations.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]NodeFactory
	routes  map[string]RouteFactory
	lenient bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// Lenient binds unknown names to placeholders that fail with ErrUnbound when
// run. It lets tools compile and inspect definitions whose code lives elsewhere.
func Lenient() RegistryOption {
	return func(r *Registry) { r.lenient = true }
}

// NewRegistry returns a registry holding the builtins.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		nodes:  make(map[string]NodeFactory),
		routes: make(map[string]RouteFactory),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.nodes["noop"] = noopNode
	r.nodes["set"] = setNode
	r.nodes["increment"] = incrementNode
	r.routes["always"] = alwaysRoute
	r.routes["while_less"] = whileLessRoute
	r.routes["when_set"] = whenSetRoute
	return r
}

// RegisterNode adds a node factory.
func (r *Registry) RegisterNode(name string, f NodeFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[name]; ok {
		return fmt.Errorf("%w: node %q", ErrDuplicateName, name)
	}
	r.nodes[name] = f
	return nil
}

// RegisterRunnable adds a runnable that ignores its parameters.
func (r *Registry) RegisterRunnable(name string, run graph.Runnable) error {
	return r.RegisterNode(name, func(NodeDef) (graph.Runnable, error) { return run, nil })
}

// RegisterRoute adds a route factory.
func (r *Registry) RegisterRoute(name string, f RouteFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[name]; ok {
		return fmt.Errorf("%w: route %q", ErrDuplicateName, name)
	}
	r.routes[name] = f
	return nil
}

// Nodes lists the registered node names.
func (r *Registry) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.nodes))
}

// Routes lists the registered route names.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.routes))
}

func (r *Registry) runnable(def NodeDef) (graph.Runnable, error) {
	r.mu.RLock()
	f, ok := r.nodes[def.Run]
	r.mu.RUnlock()
	if !ok {
		if !r.lenient {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRunnable, def.Run)
		}
		name := def.Run
		return graph.RunnableFunc(func(context.Context, channel.Snapshot) (graph.Output, error) {
			return graph.Output{}, fmt.Errorf("%w: %q", ErrUnbound, name)
		}), nil
	}
	return f(def)
}

func (r *Registry) route(def BranchDef) (graph.RouteFunc, error) {
	r.mu.RLock()
	f, ok := r.routes[def.Route]
	r.mu.RUnlock()
	if !ok {
		if !r.lenient {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRoute, def.Route)
		}
		name := def.Route
		return func(context.Context, channel.Snapshot) ([]string, error) {
			return nil, fmt.Errorf("%w: %q", ErrUnbound, name)
		}, nil
	}
	return f(def)
}
