// Package graph provides edge definitions
package graph

import (
	"context"

	"github.com/flowgraph/pregelflow/internal/core/channel"
)

// End is the end-of-graph target.
const End = "__end__"

// EdgeType represents the type of edge
type EdgeType string

const (
	// EdgeTypeFixed is an unconditional transition.
	EdgeTypeFixed EdgeType = "fixed"
	// EdgeTypeConditional routes on post-merge state.
	EdgeTypeConditional EdgeType = "conditional"
)

// Edge is a fixed transition from Source to Target. Self-loops are allowed.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Validate ensures edge integrity
func (e *Edge) Validate() error {
	if e.Source == "" || e.Source == End {
		return ErrInvalidSource
	}
	if e.Target == "" {
		return ErrInvalidTarget
	}
	return nil
}

// RouteFunc picks the next node ids, or End, from post-merge state.
type RouteFunc func(ctx context.Context, state channel.Snapshot) ([]string, error)

// ConditionalEdge routes from Source to a subset of Targets chosen by Route.
type ConditionalEdge struct {
	Name    string    `json:"name,omitempty"`
	Source  string    `json:"source"`
	Targets []string  `json:"targets"`
	Route   RouteFunc `json:"-"`
}

// Validate ensures edge integrity
func (e *ConditionalEdge) Validate() error {
	if e.Source == "" || e.Source == End {
		return ErrInvalidSource
	}
	if len(e.Targets) == 0 {
		return ErrMissingTargets
	}
	if e.Route == nil {
		return ErrNilRoute
	}
	return nil
}

func (e *ConditionalEdge) allows(target string) bool {
	for _, t := range e.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// Route1 adapts a single-target routing function.
func Route1(fn func(ctx context.Context, state channel.Snapshot) (string, error)) RouteFunc {
	return func(ctx context.Context, state channel.Snapshot) ([]string, error) {
		target, err := fn(ctx, state)
		if err != nil {
			return nil, err
		}
		return []string{target}, nil
	}
}
