package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/flowgraph/pregelflow/internal/core/channel"
)

// CompiledGraph is a frozen, validated graph. Nodes live in an arena addressed
// by declaration index, so cycles need no pointer cycles. A CompiledGraph owns
// nothing mutable and may be shared by any number of concurrent executions.
type CompiledGraph struct {
	name      string
	entry     int
	nodes     []compiledNode
	index     map[string]int
	channels  []channel.Spec
	specs     map[string]channel.Spec
	triggered map[string][]int
	config    GraphConfig
}

type compiledNode struct {
	node       *Node
	successors []int
	branches   []*ConditionalEdge
	reads      []string
	writes     map[string]struct{}
}

func compile(g *Graph) *CompiledGraph {
	cg := &CompiledGraph{
		name:      g.Name,
		entry:     g.nodeIndex[g.EntryPoint],
		nodes:     make([]compiledNode, len(g.nodes)),
		index:     make(map[string]int, len(g.nodes)),
		channels:  append([]channel.Spec(nil), g.channels...),
		specs:     make(map[string]channel.Spec, len(g.channels)),
		triggered: make(map[string][]int),
		config:    cloneConfig(g.Config),
	}
	if cg.config.MaxIterations == 0 {
		cg.config.MaxIterations = DefaultMaxIterations
	}
	for _, spec := range cg.channels {
		cg.specs[spec.Name] = spec
	}
	for i, n := range g.nodes {
		node := n.clone()
		cn := compiledNode{node: node, writes: make(map[string]struct{}, len(node.Writes))}
		for _, ref := range node.Reads {
			cn.reads = append(cn.reads, ref.Name)
		}
		for _, ref := range node.Writes {
			cn.writes[ref.Name] = struct{}{}
		}
		for _, name := range node.Triggers {
			cg.triggered[name] = append(cg.triggered[name], i)
		}
		cg.nodes[i] = cn
		cg.index[node.ID] = i
	}
	for _, e := range g.edges {
		if e.Target == End {
			continue
		}
		src := g.nodeIndex[e.Source]
		cg.nodes[src].successors = append(cg.nodes[src].successors, g.nodeIndex[e.Target])
	}
	for _, b := range g.branches {
		src := g.nodeIndex[b.Source]
		cg.nodes[src].branches = append(cg.nodes[src].branches, b)
	}
	for i := range cg.nodes {
		slices.Sort(cg.nodes[i].successors)
		cg.nodes[i].successors = slices.Compact(cg.nodes[i].successors)
	}
	return cg
}

func cloneConfig(c GraphConfig) GraphConfig {
	c.InterruptBefore = append([]string(nil), c.InterruptBefore...)
	c.InterruptAfter = append([]string(nil), c.InterruptAfter...)
	return c
}

// Name returns the graph name.
func (g *CompiledGraph) Name() string { return g.name }

// EntryPoint returns the id of the entry node.
func (g *CompiledGraph) EntryPoint() string { return g.nodes[g.entry].node.ID }

// Config returns a copy of the graph configuration with defaults applied.
func (g *CompiledGraph) Config() GraphConfig { return cloneConfig(g.config) }

// MaxIterations bounds supersteps per invocation.
func (g *CompiledGraph) MaxIterations() int { return g.config.MaxIterations }

// NodeCount returns the number of nodes.
func (g *CompiledGraph) NodeCount() int { return len(g.nodes) }

// Node returns the node at index i.
func (g *CompiledGraph) Node(i int) *Node { return g.nodes[i].node }

// NodeID returns the id of the node at index i.
func (g *CompiledGraph) NodeID(i int) string { return g.nodes[i].node.ID }

// NodeIndex resolves a node id.
func (g *CompiledGraph) NodeIndex(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Reads returns the channel names node i declared as reads.
func (g *CompiledGraph) Reads(i int) []string { return g.nodes[i].reads }

// CanWrite reports whether node i declared ch as a write.
func (g *CompiledGraph) CanWrite(i int, ch string) bool {
	_, ok := g.nodes[i].writes[ch]
	return ok
}

// Channels returns the channel declarations in declaration order.
func (g *CompiledGraph) Channels() []channel.Spec {
	return append([]channel.Spec(nil), g.channels...)
}

// ChannelSpec looks up a channel declaration.
func (g *CompiledGraph) ChannelSpec(name string) (channel.Spec, bool) {
	s, ok := g.specs[name]
	return s, ok
}

// NewChannels creates a fresh, empty channel set for one execution.
func (g *CompiledGraph) NewChannels() (*channel.Set, error) {
	return channel.NewSet(g.channels)
}

// IDs maps node indices to ids.
func (g *CompiledGraph) IDs(indices []int) []string {
	out := make([]string, len(indices))
	for k, i := range indices {
		out[k] = g.nodes[i].node.ID
	}
	return out
}

// Resolve maps node ids to sorted, de-duplicated indices.
func (g *CompiledGraph) Resolve(ids []string) ([]int, error) {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := g.index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
		}
		out = append(out, i)
	}
	return sortedSet(out), nil
}

// Triggered returns the nodes whose trigger channels include any of changed.
func (g *CompiledGraph) Triggered(changed []string) []int {
	var out []int
	for _, name := range changed {
		out = append(out, g.triggered[name]...)
	}
	return sortedSet(out)
}

// Successors evaluates the outgoing edges of node i against state: fixed
// successors plus the result of every conditional route. End is dropped.
func (g *CompiledGraph) Successors(ctx context.Context, i int, state channel.Snapshot) ([]int, error) {
	cn := g.nodes[i]
	out := append([]int(nil), cn.successors...)
	for _, b := range cn.branches {
		targets, err := b.Route(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("route from %q: %w", cn.node.ID, err)
		}
		for _, t := range targets {
			if !b.allows(t) {
				return nil, fmt.Errorf("%w: %q from %q", ErrUndeclaredRoute, t, cn.node.ID)
			}
			if t == End {
				continue
			}
			out = append(out, g.index[t])
		}
	}
	return sortedSet(out), nil
}

// Next computes the active set of the following superstep: the successors of
// every node that ran plus the nodes triggered by changed channels.
func (g *CompiledGraph) Next(ctx context.Context, ran []int, state channel.Snapshot, changed []string) ([]int, error) {
	next := g.Triggered(changed)
	for _, i := range ran {
		succ, err := g.Successors(ctx, i, state)
		if err != nil {
			return nil, err
		}
		next = append(next, succ...)
	}
	return sortedSet(next), nil
}

// Start returns the active set after an input: the entry node plus nodes
// triggered by the input channels.
func (g *CompiledGraph) Start(changed []string) []int {
	return sortedSet(append(g.Triggered(changed), g.entry))
}

func sortedSet(in []int) []int {
	slices.Sort(in)
	return slices.Compact(in)
}
