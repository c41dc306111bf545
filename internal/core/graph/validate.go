package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/flowgraph/pregelflow/internal/core/channel"
)

// checker accumulates structural errors for one graph.
type checker struct {
	g        *Graph
	channels map[string]channel.Spec
	errs     []error
}

func validate(g *Graph) error {
	c := &checker{g: g, channels: make(map[string]channel.Spec, len(g.channels))}
	if g.Name == "" {
		c.fail(ErrInvalidGraphName, "name", nil)
	}
	c.checkChannels()
	c.checkEntry()
	c.checkNodes()
	c.checkEdges()
	c.checkConfig()
	// Reachability and progress need resolved endpoints.
	if len(c.errs) == 0 {
		adj := adjacency(g)
		c.checkReachable(adj)
		c.checkProgress(adj)
	}
	return errors.Join(c.errs...)
}

func (c *checker) fail(kind error, subject string, err error) {
	c.errs = append(c.errs, &StructuralError{Graph: c.g.Name, Kind: kind, Subject: subject, Err: err})
}

func (c *checker) checkChannels() {
	for _, spec := range c.g.channels {
		subject := "channel " + spec.Name
		if err := spec.Validate(); err != nil {
			c.fail(ErrInvalidChannel, subject, err)
			continue
		}
		if _, dup := c.channels[spec.Name]; dup {
			c.fail(ErrInvalidChannel, subject, channel.ErrDuplicateName)
			continue
		}
		c.channels[spec.Name] = spec
	}
}

func (c *checker) checkEntry() {
	switch {
	case c.g.EntryPoint == "":
		c.fail(ErrNoEntryPoint, "entry point", nil)
	case !c.hasNode(c.g.EntryPoint):
		c.fail(ErrInvalidEntryPoint, "entry point "+c.g.EntryPoint, nil)
	}
}

func (c *checker) hasNode(id string) bool {
	_, ok := c.g.nodeIndex[id]
	return ok
}

func (c *checker) checkNodes() {
	for _, n := range c.g.nodes {
		subject := "node " + n.ID
		for _, ref := range n.Reads {
			c.checkRef(subject, "reads", ref, func(s channel.Spec) channel.Type { return s.ValueType() })
		}
		for _, ref := range n.Writes {
			c.checkRef(subject, "writes", ref, func(s channel.Spec) channel.Type { return s.UpdateType() })
		}
		for _, name := range n.Triggers {
			if _, ok := c.channels[name]; !ok {
				c.fail(ErrUnknownChannel, subject, fmt.Errorf("triggered by %q", name))
			}
		}
	}
}

func (c *checker) checkRef(subject, access string, ref ChannelRef, want func(channel.Spec) channel.Type) {
	spec, ok := c.channels[ref.Name]
	if !ok {
		c.fail(ErrUnknownChannel, subject, fmt.Errorf("%s %q", access, ref.Name))
		return
	}
	if !ref.Type.Valid() {
		c.fail(ErrChannelTypeMismatch, subject, fmt.Errorf("%s %q with unknown type %q", access, ref.Name, ref.Type))
		return
	}
	if t := want(spec); !ref.Type.Compatible(t) {
		c.fail(ErrChannelTypeMismatch, subject, fmt.Errorf("%s %q as %s, channel carries %s", access, ref.Name, ref.Type, t))
	}
}

func (c *checker) checkEdges() {
	for _, e := range c.g.edges {
		subject := fmt.Sprintf("edge %s -> %s", e.Source, e.Target)
		if !c.hasNode(e.Source) {
			c.fail(ErrDanglingEdge, subject, fmt.Errorf("unknown source %q", e.Source))
		}
		if e.Target != End && !c.hasNode(e.Target) {
			c.fail(ErrDanglingEdge, subject, fmt.Errorf("unknown target %q", e.Target))
		}
	}
	for _, b := range c.g.branches {
		subject := fmt.Sprintf("conditional edge %s -> [%s]", b.Source, strings.Join(b.Targets, ", "))
		if !c.hasNode(b.Source) {
			c.fail(ErrDanglingEdge, subject, fmt.Errorf("unknown source %q", b.Source))
		}
		for _, t := range b.Targets {
			if t != End && !c.hasNode(t) {
				c.fail(ErrInvalidConditional, subject, fmt.Errorf("unknown target %q", t))
			}
		}
	}
}

func (c *checker) checkConfig() {
	if c.g.Config.MaxIterations < 0 {
		c.fail(ErrInvalidMaxIterations, "config", fmt.Errorf("got %d", c.g.Config.MaxIterations))
	}
	for _, id := range slices.Concat(c.g.Config.InterruptBefore, c.g.Config.InterruptAfter) {
		if !c.hasNode(id) {
			c.fail(ErrUnknownInterruptPoint, "config", fmt.Errorf("%q", id))
		}
	}
}

// adjacency links each node index to every node it can activate: fixed edge
// targets, declared conditional targets, and nodes triggered by a channel it
// writes.
func adjacency(g *Graph) [][]int {
	adj := make([][]int, len(g.nodes))
	link := func(from int, to string) {
		if idx, ok := g.nodeIndex[to]; ok {
			adj[from] = append(adj[from], idx)
		}
	}
	for _, e := range g.edges {
		link(g.nodeIndex[e.Source], e.Target)
	}
	for _, b := range g.branches {
		for _, t := range b.Targets {
			link(g.nodeIndex[b.Source], t)
		}
	}
	triggered := make(map[string][]string)
	for _, n := range g.nodes {
		for _, name := range n.Triggers {
			triggered[name] = append(triggered[name], n.ID)
		}
	}
	for i, n := range g.nodes {
		for _, ref := range n.Writes {
			for _, id := range triggered[ref.Name] {
				link(i, id)
			}
		}
	}
	for i := range adj {
		slices.Sort(adj[i])
		adj[i] = slices.Compact(adj[i])
	}
	return adj
}

func (c *checker) checkReachable(adj [][]int) {
	seen := make([]bool, len(adj))
	queue := []int{c.g.nodeIndex[c.g.EntryPoint]}
	seen[queue[0]] = true
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj[u] {
			if !seen[v] {
				seen[v] = true
				queue = append(queue, v)
			}
		}
	}
	for i, ok := range seen {
		if !ok {
			c.fail(ErrOrphanNode, "node "+c.g.nodes[i].ID, nil)
		}
	}
}

// checkProgress rejects strongly connected components that form a cycle in
// which no node can write a channel.
func (c *checker) checkProgress(adj [][]int) {
	for _, scc := range components(adj) {
		cyclic := len(scc) > 1 || slices.Contains(adj[scc[0]], scc[0])
		if !cyclic {
			continue
		}
		writes := false
		for _, i := range scc {
			if len(c.g.nodes[i].Writes) > 0 {
				writes = true
				break
			}
		}
		if writes {
			continue
		}
		ids := make([]string, len(scc))
		for k, i := range scc {
			ids[k] = c.g.nodes[i].ID
		}
		c.fail(ErrZeroProgressCycle, "nodes "+strings.Join(ids, ", "), nil)
	}
}

// components returns the strongly connected components of adj (Tarjan),
// each sorted by node index, in order of their lowest index.
func components(adj [][]int) [][]int {
	var (
		index   = make([]int, len(adj))
		low     = make([]int, len(adj))
		onStack = make([]bool, len(adj))
		stack   []int
		counter = 1
		out     [][]int
	)
	var visit func(u int)
	visit = func(u int) {
		index[u], low[u] = counter, counter
		counter++
		stack = append(stack, u)
		onStack[u] = true
		for _, v := range adj[u] {
			switch {
			case index[v] == 0:
				visit(v)
				low[u] = min(low[u], low[v])
			case onStack[v]:
				low[u] = min(low[u], index[v])
			}
		}
		if low[u] != index[u] {
			return
		}
		var scc []int
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == u {
				break
			}
		}
		slices.Sort(scc)
		out = append(out, scc)
	}
	for u := range adj {
		if index[u] == 0 {
			visit(u)
		}
	}
	slices.SortFunc(out, func(a, b []int) int { return a[0] - b[0] })
	return out
}
