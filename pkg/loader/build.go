package loader

import (
	"errors"
	"fmt"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/pkg/validation"
)

// Build assembles the definition into a graph, binding names through reg.
// All binding errors are reported together.
func (d *Definition) Build(reg *Registry) (*graph.Graph, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	g := graph.New(d.Name)
	g.SetEntryPoint(d.Entry).SetMaxIterations(d.MaxIterations)
	g.Config.InterruptBefore = append([]string(nil), d.InterruptBefore...)
	g.Config.InterruptAfter = append([]string(nil), d.InterruptAfter...)
	g.Config.Metadata = d.Metadata

	for _, c := range d.Channels {
		g.AddChannel(c.spec())
	}

	var errs []error
	for _, n := range d.Nodes {
		run, err := reg.runnable(n)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.ID, err))
			continue
		}
		node := graph.NewNode(n.ID, run,
			graph.Reads(graph.Refs(n.Reads...)...),
			graph.Writes(graph.Refs(n.Writes...)...),
			graph.Triggers(n.Triggers...),
			graph.WithMetadata(n.Metadata),
		)
		if err := g.AddNode(node); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.ID, err))
		}
	}
	for _, e := range d.Edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			errs = append(errs, err)
		}
	}
	for _, b := range d.Branches {
		route, err := reg.route(b)
		if err != nil {
			errs = append(errs, fmt.Errorf("branch from %s: %w", b.From, err))
			continue
		}
		err = g.AddConditionalEdge(&graph.ConditionalEdge{
			Name: b.Name, Source: b.From, Targets: b.Targets, Route: route,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return g, nil
}

// Compile builds and compiles the definition.
func (d *Definition) Compile(reg *Registry) (*graph.CompiledGraph, error) {
	g, err := d.Build(reg)
	if err != nil {
		return nil, err
	}
	return validation.Compile(g)
}

// LoadGraph reads, builds and compiles the definition at path.
func LoadGraph(path string, reg *Registry) (*graph.CompiledGraph, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return def.Compile(reg)
}

func (c ChannelDef) spec() channel.Spec {
	return channel.Spec{
		Name:          c.Name,
		Kind:          channel.Kind(c.Kind),
		Type:          channel.Type(c.Type),
		Operator:      channel.Operator(c.Operator),
		ResetEachStep: c.Reset,
	}
}
