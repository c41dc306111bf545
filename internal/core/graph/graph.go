// Package graph provides the core graph domain entities: channels, nodes and
// edges assembled by a Graph and checked by Compile.
package graph

import (
	"fmt"

	"github.com/flowgraph/pregelflow/internal/core/channel"
)

// DefaultMaxIterations bounds supersteps per invocation when a graph sets none.
const DefaultMaxIterations = 25

// Graph is a mutable graph definition
// PRINCIPLES:
// - SRP: Only responsible for graph structure, not execution
// - Declaration order of nodes is significant: it orders the barrier merge
type Graph struct {
	Name       string      `json:"name"`
	EntryPoint string      `json:"entry_point"`
	Config     GraphConfig `json:"config"`

	channels  []channel.Spec
	nodes     []*Node
	nodeIndex map[string]int
	edges     []*Edge
	branches  []*ConditionalEdge
}

// GraphConfig holds graph configuration
type GraphConfig struct {
	MaxIterations   int            `json:"max_iterations,omitempty"`
	InterruptBefore []string       `json:"interrupt_before,omitempty"`
	InterruptAfter  []string       `json:"interrupt_after,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// New creates an empty graph definition.
func New(name string) *Graph {
	return &Graph{Name: name, nodeIndex: make(map[string]int)}
}

// AddChannel declares a channel. Specs are validated by Compile.
func (g *Graph) AddChannel(specs ...channel.Spec) *Graph {
	g.channels = append(g.channels, specs...)
	return g
}

// AddNode adds a node to the graph
func (g *Graph) AddNode(node *Node) error {
	if node == nil {
		return ErrNilNode
	}
	if err := node.Validate(); err != nil {
		return err
	}
	if g.nodeIndex == nil {
		g.nodeIndex = make(map[string]int)
	}
	if _, exists := g.nodeIndex[node.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, node.ID)
	}
	g.nodeIndex[node.ID] = len(g.nodes)
	g.nodes = append(g.nodes, node)
	return nil
}

// AddEdge adds a fixed edge. Endpoints are resolved by Compile so edges may be
// declared before their nodes.
func (g *Graph) AddEdge(source, target string) error {
	edge := &Edge{Source: source, Target: target}
	if err := edge.Validate(); err != nil {
		return err
	}
	for _, e := range g.edges {
		if e.Source == source && e.Target == target {
			return fmt.Errorf("%w: %s -> %s", ErrDuplicateEdge, source, target)
		}
	}
	g.edges = append(g.edges, edge)
	return nil
}

// AddConditionalEdge adds a routed edge.
func (g *Graph) AddConditionalEdge(edge *ConditionalEdge) error {
	if edge == nil {
		return ErrNilEdge
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	c := *edge
	c.Targets = append([]string(nil), edge.Targets...)
	g.branches = append(g.branches, &c)
	return nil
}

// SetEntryPoint names the node active in the first superstep.
func (g *Graph) SetEntryPoint(id string) *Graph {
	g.EntryPoint = id
	return g
}

// SetMaxIterations bounds supersteps per invocation.
func (g *Graph) SetMaxIterations(n int) *Graph {
	g.Config.MaxIterations = n
	return g
}

// Nodes returns the declared nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	return append([]*Node(nil), g.nodes...)
}

// Edges returns the fixed edges.
func (g *Graph) Edges() []*Edge {
	return append([]*Edge(nil), g.edges...)
}

// ConditionalEdges returns the routed edges.
func (g *Graph) ConditionalEdges() []*ConditionalEdge {
	return append([]*ConditionalEdge(nil), g.branches...)
}

// Channels returns the declared channel specs.
func (g *Graph) Channels() []channel.Spec {
	return append([]channel.Spec(nil), g.channels...)
}

// Compile validates the definition and returns an immutable executable
// graph. Every structural problem found is reported; errors.Is matches each
// sentinel in the joined error.
func (g *Graph) Compile() (*CompiledGraph, error) {
	if err := validate(g); err != nil {
		return nil, err
	}
	return compile(g), nil
}
