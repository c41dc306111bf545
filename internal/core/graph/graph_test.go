package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/core/channel"
)

func noop() Runnable {
	return RunnableFunc(func(ctx context.Context, in channel.Snapshot) (Output, error) {
		return Output{}, nil
	})
}

func writer(id string, writes ...string) *Node {
	return NewNode(id, noop(), Reads(Refs(writes...)...), Writes(Refs(writes...)...))
}

func TestGraph_AddNode(t *testing.T) {
	g := New("test-graph")

	t.Run("add valid node", func(t *testing.T) {
		require.NoError(t, g.AddNode(writer("node1")))
		assert.Len(t, g.Nodes(), 1)
	})

	t.Run("add nil node", func(t *testing.T) {
		assert.ErrorIs(t, g.AddNode(nil), ErrNilNode)
	})

	t.Run("add invalid node", func(t *testing.T) {
		assert.ErrorIs(t, g.AddNode(&Node{Runnable: noop()}), ErrInvalidNodeID)
		assert.ErrorIs(t, g.AddNode(&Node{ID: "x"}), ErrNilRunnable)
		assert.ErrorIs(t, g.AddNode(NewNode(End, noop())), ErrReservedNodeID)
	})

	t.Run("add duplicate node", func(t *testing.T) {
		assert.ErrorIs(t, g.AddNode(writer("node1")), ErrDuplicateNode)
	})
}

func TestGraph_AddEdge(t *testing.T) {
	g := New("test-graph")

	t.Run("edges may precede nodes", func(t *testing.T) {
		assert.NoError(t, g.AddEdge("a", "b"))
	})

	t.Run("self loops allowed", func(t *testing.T) {
		assert.NoError(t, g.AddEdge("a", "a"))
	})

	t.Run("duplicate edge", func(t *testing.T) {
		assert.ErrorIs(t, g.AddEdge("a", "b"), ErrDuplicateEdge)
	})

	t.Run("invalid endpoints", func(t *testing.T) {
		assert.ErrorIs(t, g.AddEdge("", "b"), ErrInvalidSource)
		assert.ErrorIs(t, g.AddEdge(End, "b"), ErrInvalidSource)
		assert.ErrorIs(t, g.AddEdge("a", ""), ErrInvalidTarget)
	})

	t.Run("conditional edge needs route and targets", func(t *testing.T) {
		assert.ErrorIs(t, g.AddConditionalEdge(nil), ErrNilEdge)
		assert.ErrorIs(t, g.AddConditionalEdge(&ConditionalEdge{Source: "a", Targets: []string{"b"}}), ErrNilRoute)
		assert.ErrorIs(t, g.AddConditionalEdge(&ConditionalEdge{Source: "a", Route: routeTo("b")}), ErrMissingTargets)
	})
}

func routeTo(targets ...string) RouteFunc {
	return func(ctx context.Context, state channel.Snapshot) ([]string, error) {
		return targets, nil
	}
}

// counterGraph is a single node looping on itself until count reaches 3.
func counterGraph() *Graph {
	g := New("counter").AddChannel(channel.LastValue("count", channel.TypeInt))
	inc := NewNode("inc", noop(),
		Reads(TypedRef("count", channel.TypeInt)),
		Writes(TypedRef("count", channel.TypeInt)))
	_ = g.AddNode(inc)
	_ = g.AddConditionalEdge(&ConditionalEdge{
		Source:  "inc",
		Targets: []string{"inc", End},
		Route: Route1(func(ctx context.Context, s channel.Snapshot) (string, error) {
			if n, _ := s.Int("count"); n < 3 {
				return "inc", nil
			}
			return End, nil
		}),
	})
	g.SetEntryPoint("inc")
	return g
}

func TestCompile_Valid(t *testing.T) {
	cg, err := counterGraph().Compile()
	require.NoError(t, err)

	assert.Equal(t, "counter", cg.Name())
	assert.Equal(t, "inc", cg.EntryPoint())
	assert.Equal(t, DefaultMaxIterations, cg.MaxIterations())
	assert.Equal(t, []int{0}, cg.Start(nil))
	assert.True(t, cg.CanWrite(0, "count"))
	assert.False(t, cg.CanWrite(0, "other"))

	ctx := context.Background()
	next, err := cg.Successors(ctx, 0, channel.NewSnapshot(map[string]any{"count": 1}))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, next)

	next, err = cg.Successors(ctx, 0, channel.NewSnapshot(map[string]any{"count": 3}))
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestCompile_StructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Graph
		want  error
	}{
		{
			name:  "missing name",
			build: func() *Graph { g := counterGraph(); g.Name = ""; return g },
			want:  ErrInvalidGraphName,
		},
		{
			name:  "missing entry point",
			build: func() *Graph { return counterGraph().SetEntryPoint("") },
			want:  ErrNoEntryPoint,
		},
		{
			name:  "unknown entry point",
			build: func() *Graph { return counterGraph().SetEntryPoint("ghost") },
			want:  ErrInvalidEntryPoint,
		},
		{
			name: "dangling edge",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddEdge("inc", "ghost")
				return g
			},
			want: ErrDanglingEdge,
		},
		{
			name: "orphan node",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddNode(writer("island", "count"))
				return g
			},
			want: ErrOrphanNode,
		},
		{
			name: "undeclared conditional target",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddConditionalEdge(&ConditionalEdge{Source: "inc", Targets: []string{"ghost"}, Route: routeTo("ghost")})
				return g
			},
			want: ErrInvalidConditional,
		},
		{
			name: "unknown channel",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddNode(writer("b", "missing"))
				_ = g.AddEdge("inc", "b")
				return g
			},
			want: ErrUnknownChannel,
		},
		{
			name: "type mismatch on read",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddNode(NewNode("b", noop(), Reads(TypedRef("count", channel.TypeString)), Writes(Ref("count"))))
				_ = g.AddEdge("inc", "b")
				return g
			},
			want: ErrChannelTypeMismatch,
		},
		{
			name: "type mismatch on topic write",
			build: func() *Graph {
				g := counterGraph().AddChannel(channel.Topic("log", channel.TypeString, false))
				_ = g.AddNode(NewNode("b", noop(), Writes(TypedRef("log", channel.TypeList))))
				_ = g.AddEdge("inc", "b")
				return g
			},
			want: ErrChannelTypeMismatch,
		},
		{
			name: "invalid channel",
			build: func() *Graph {
				return counterGraph().AddChannel(channel.BinaryOp("total", channel.TypeString, channel.OpSum))
			},
			want: ErrInvalidChannel,
		},
		{
			name: "duplicate channel",
			build: func() *Graph {
				return counterGraph().AddChannel(channel.LastValue("count", channel.TypeInt))
			},
			want: ErrInvalidChannel,
		},
		{
			name: "zero progress cycle",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddNode(NewNode("ping", noop()))
				_ = g.AddNode(NewNode("pong", noop()))
				_ = g.AddEdge("inc", "ping")
				_ = g.AddEdge("ping", "pong")
				_ = g.AddEdge("pong", "ping")
				return g
			},
			want: ErrZeroProgressCycle,
		},
		{
			name: "silent self loop",
			build: func() *Graph {
				g := counterGraph()
				_ = g.AddNode(NewNode("spin", noop()))
				_ = g.AddEdge("inc", "spin")
				_ = g.AddEdge("spin", "spin")
				return g
			},
			want: ErrZeroProgressCycle,
		},
		{
			name:  "negative max iterations",
			build: func() *Graph { return counterGraph().SetMaxIterations(-1) },
			want:  ErrInvalidMaxIterations,
		},
		{
			name: "unknown interrupt point",
			build: func() *Graph {
				g := counterGraph()
				g.Config.InterruptBefore = []string{"ghost"}
				return g
			},
			want: ErrUnknownInterruptPoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cg, err := tt.build().Compile()
			assert.Nil(t, cg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *StructuralError
			require.True(t, errors.As(err, &se))
			assert.NotEmpty(t, se.Subject)
		})
	}
}

func TestCompile_ReportsEveryProblem(t *testing.T) {
	g := counterGraph()
	_ = g.AddEdge("inc", "ghost")
	_ = g.AddNode(writer("b", "missing"))
	_ = g.AddEdge("b", "inc")

	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrDanglingEdge)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestCompile_WritingCycleAllowed(t *testing.T) {
	g := counterGraph()
	_ = g.AddNode(writer("a", "count"))
	_ = g.AddNode(NewNode("b", noop()))
	_ = g.AddEdge("inc", "a")
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "a")

	_, err := g.Compile()
	assert.NoError(t, err, "a cycle that can write is bounded at runtime, not rejected")
}

func TestCompile_TriggerLinksReachNodes(t *testing.T) {
	g := New("fanout").AddChannel(
		channel.LastValue("count", channel.TypeInt),
		channel.Topic("log", channel.TypeString, false),
	)
	require.NoError(t, g.AddNode(NewNode("start", noop(), Writes(Ref("log")))))
	require.NoError(t, g.AddNode(NewNode("audit", noop(), Reads(Ref("log")), Triggers("log"), Writes(Ref("count")))))
	g.SetEntryPoint("start")

	cg, err := g.Compile()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cg.Triggered([]string{"log"}))
	assert.Equal(t, []int{0, 1}, cg.Start([]string{"log"}))
	assert.Empty(t, cg.Triggered([]string{"count"}))
}

func TestCompiledGraph_UndeclaredRoute(t *testing.T) {
	g := counterGraph()
	g.branches[0].Route = routeTo("elsewhere")
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = cg.Successors(context.Background(), 0, channel.NewSnapshot(nil))
	assert.ErrorIs(t, err, ErrUndeclaredRoute)
}

func TestCompiledGraph_Resolve(t *testing.T) {
	cg, err := counterGraph().Compile()
	require.NoError(t, err)

	idx, err := cg.Resolve([]string{"inc", "inc"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx)
	assert.Equal(t, []string{"inc"}, cg.IDs(idx))

	_, err = cg.Resolve([]string{"ghost"})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestCompiledGraph_IsolatedFromBuilder(t *testing.T) {
	g := counterGraph()
	cg, err := g.Compile()
	require.NoError(t, err)

	g.nodes[0].Writes[0].Name = "mutated"
	assert.True(t, cg.CanWrite(0, "count"))
	assert.Equal(t, "count", cg.Node(0).Writes[0].Name)
}
