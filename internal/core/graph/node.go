// Package graph provides node definitions
package graph

import (
	"context"
	"fmt"

	"github.com/flowgraph/pregelflow/internal/core/channel"
)

// Control is a signal a node returns alongside its writes.
type Control string

const (
	// ControlNone continues normally.
	ControlNone Control = ""
	// ControlInterrupt pauses the execution after the current superstep.
	ControlInterrupt Control = "interrupt"
	// ControlTerminate completes the execution after the current superstep.
	ControlTerminate Control = "terminate"
)

// Valid reports whether c is a known control signal.
func (c Control) Valid() bool {
	switch c {
	case ControlNone, ControlInterrupt, ControlTerminate:
		return true
	}
	return false
}

// Write is a single value a node sends to a channel.
type Write struct {
	Channel string
	Value   any
}

// Output is what a node produces in one superstep.
type Output struct {
	Writes  []Write
	Control Control
}

// Emit builds an Output from channel/value pairs.
func Emit(writes ...Write) Output {
	return Output{Writes: writes}
}

// Set is shorthand for a Write.
func Set(ch string, value any) Write {
	return Write{Channel: ch, Value: value}
}

// Runnable is the capability behind a node: given a read-only view of the
// channels it reads, produce writes or a control signal. The engine does not
// interpret what happens inside.
type Runnable interface {
	Invoke(ctx context.Context, in channel.Snapshot) (Output, error)
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(ctx context.Context, in channel.Snapshot) (Output, error)

// Invoke calls f.
func (f RunnableFunc) Invoke(ctx context.Context, in channel.Snapshot) (Output, error) {
	return f(ctx, in)
}

// ChannelRef is a reference from a node to a declared channel. An empty Type
// skips the compatibility check.
type ChannelRef struct {
	Name string       `json:"name"`
	Type channel.Type `json:"type,omitempty"`
}

// Ref returns an untyped channel reference.
func Ref(name string) ChannelRef { return ChannelRef{Name: name} }

// TypedRef returns a channel reference checked against the channel's type.
func TypedRef(name string, t channel.Type) ChannelRef { return ChannelRef{Name: name, Type: t} }

// Refs returns untyped references for names.
func Refs(names ...string) []ChannelRef {
	out := make([]ChannelRef, len(names))
	for i, n := range names {
		out[i] = Ref(n)
	}
	return out
}

// Node represents a vertex in the graph
// PRINCIPLES:
// - KISS: identity, capability and declared channel access only
// - Immutable once the graph is compiled
type Node struct {
	ID       string         `json:"id"`
	Runnable Runnable       `json:"-"`
	Reads    []ChannelRef   `json:"reads,omitempty"`
	Writes   []ChannelRef   `json:"writes,omitempty"`
	Triggers []string       `json:"triggers,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewNode builds a node from options.
func NewNode(id string, r Runnable, opts ...NodeOption) *Node {
	n := &Node{ID: id, Runnable: r}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// Reads declares the channels a node receives in its snapshot.
func Reads(refs ...ChannelRef) NodeOption {
	return func(n *Node) { n.Reads = append(n.Reads, refs...) }
}

// Writes declares the channels a node may write.
func Writes(refs ...ChannelRef) NodeOption {
	return func(n *Node) { n.Writes = append(n.Writes, refs...) }
}

// Triggers declares channels whose change activates the node.
func Triggers(names ...string) NodeOption {
	return func(n *Node) { n.Triggers = append(n.Triggers, names...) }
}

// WithMetadata attaches free-form metadata.
func WithMetadata(md map[string]any) NodeOption {
	return func(n *Node) { n.Metadata = md }
}

// Validate ensures node integrity
func (n *Node) Validate() error {
	if n.ID == "" {
		return ErrInvalidNodeID
	}
	if n.ID == End || channel.IsReserved(n.ID) {
		return fmt.Errorf("%w: %q", ErrReservedNodeID, n.ID)
	}
	if n.Runnable == nil {
		return fmt.Errorf("%w: node %q", ErrNilRunnable, n.ID)
	}
	return nil
}

// clone copies the slices so a compiled graph never aliases builder state.
func (n *Node) clone() *Node {
	c := *n
	c.Reads = append([]ChannelRef(nil), n.Reads...)
	c.Writes = append([]ChannelRef(nil), n.Writes...)
	c.Triggers = append([]string(nil), n.Triggers...)
	return &c
}
