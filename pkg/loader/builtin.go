package loader

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

func noopNode(NodeDef) (graph.Runnable, error) {
	return graph.RunnableFunc(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Output{}, nil
	}), nil
}

// setNode writes every key of `with` as a channel update, in key order.
func setNode(def NodeDef) (graph.Runnable, error) {
	keys := slices.Sorted(maps.Keys(def.With))
	writes := make([]graph.Write, 0, len(keys))
	for _, k := range keys {
		writes = append(writes, graph.Set(k, def.With[k]))
	}
	return graph.RunnableFunc(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(slices.Clone(writes)...), nil
	}), nil
}

// incrementNode reads `channel` and writes it back plus `by` (default 1).
// With `to` set the result goes to that channel instead.
func incrementNode(def NodeDef) (graph.Runnable, error) {
	ch, err := stringParam(def.With, "channel", true)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", def.ID, err)
	}
	to, err := stringParam(def.With, "to", false)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", def.ID, err)
	}
	if to == "" {
		to = ch
	}
	by, err := intParam(def.With, "by", 1)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", def.ID, err)
	}
	return graph.RunnableFunc(func(_ context.Context, in channel.Snapshot) (graph.Output, error) {
		n, _ := in.Int(ch)
		return graph.Emit(graph.Set(to, n+by)), nil
	}), nil
}

func alwaysRoute(def BranchDef) (graph.RouteFunc, error) {
	targets := slices.Clone(def.Targets)
	return func(context.Context, channel.Snapshot) ([]string, error) {
		return slices.Clone(targets), nil
	}, nil
}

// whileLessRoute goes to `then` while the int `channel` is below `limit`,
// otherwise to `else` (default End).
func whileLessRoute(def BranchDef) (graph.RouteFunc, error) {
	ch, err := stringParam(def.With, "channel", true)
	if err != nil {
		return nil, fmt.Errorf("branch from %s: %w", def.From, err)
	}
	limit, err := intParam(def.With, "limit", 0)
	if err != nil {
		return nil, fmt.Errorf("branch from %s: %w", def.From, err)
	}
	then, otherwise, err := arms(def)
	if err != nil {
		return nil, err
	}
	return graph.Route1(func(_ context.Context, s channel.Snapshot) (string, error) {
		if n, _ := s.Int(ch); n < limit {
			return then, nil
		}
		return otherwise, nil
	}), nil
}

// whenSetRoute goes to `then` when `channel` holds a value, otherwise to `else`.
func whenSetRoute(def BranchDef) (graph.RouteFunc, error) {
	ch, err := stringParam(def.With, "channel", true)
	if err != nil {
		return nil, fmt.Errorf("branch from %s: %w", def.From, err)
	}
	then, otherwise, err := arms(def)
	if err != nil {
		return nil, err
	}
	return graph.Route1(func(_ context.Context, s channel.Snapshot) (string, error) {
		if v, ok := s.Get(ch); ok && v != nil {
			return then, nil
		}
		return otherwise, nil
	}), nil
}

func arms(def BranchDef) (string, string, error) {
	then, err := stringParam(def.With, "then", false)
	if err != nil {
		return "", "", fmt.Errorf("branch from %s: %w", def.From, err)
	}
	if then == "" {
		then = def.Targets[0]
	}
	otherwise, err := stringParam(def.With, "else", false)
	if err != nil {
		return "", "", fmt.Errorf("branch from %s: %w", def.From, err)
	}
	if otherwise == "" {
		otherwise = graph.End
	}
	return then, otherwise, nil
}

func stringParam(with map[string]any, key string, required bool) (string, error) {
	v, ok := with[key]
	if !ok {
		if required {
			return "", fmt.Errorf("%w: %q is required", ErrInvalidParams, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidParams, key)
	}
	return s, nil
}

func intParam(with map[string]any, key string, def int) (int, error) {
	v, ok := with[key]
	if !ok {
		return def, nil
	}
	n, err := channel.TypeInt.Normalize(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidParams, key, err)
	}
	return n.(int), nil
}
