package pregel

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/memory"
	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

func fn(f func(ctx context.Context, in channel.Snapshot) (graph.Output, error)) graph.Runnable {
	return graph.RunnableFunc(f)
}

// counterGraph increments count until it reaches limit.
func counterGraph(t testing.TB, limit int) *graph.CompiledGraph {
	t.Helper()
	g := graph.New("counter").AddChannel(channel.LastValue("count", channel.TypeInt))
	require.NoError(t, g.AddNode(graph.NewNode("inc", fn(func(_ context.Context, in channel.Snapshot) (graph.Output, error) {
		n, _ := in.Int("count")
		return graph.Emit(graph.Set("count", n+1)), nil
	}), graph.Reads(graph.Ref("count")), graph.Writes(graph.Ref("count")))))
	require.NoError(t, g.AddConditionalEdge(&graph.ConditionalEdge{
		Source:  "inc",
		Targets: []string{"inc", graph.End},
		Route: graph.Route1(func(_ context.Context, s channel.Snapshot) (string, error) {
			if n, _ := s.Int("count"); n < limit {
				return "inc", nil
			}
			return graph.End, nil
		}),
	}))
	g.SetEntryPoint("inc")
	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

// chainGraph runs s1..sN in sequence, each appending its id to trail and
// adding one to total. hooks run inside the named node before it returns.
func chainGraph(t testing.TB, n int, hooks map[string]func(ctx context.Context) (graph.Control, error)) *graph.CompiledGraph {
	t.Helper()
	g := graph.New("chain").AddChannel(
		channel.BinaryOp("trail", channel.TypeList, channel.OpAppend),
		channel.BinaryOp("total", channel.TypeInt, channel.OpSum),
	)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, g.AddNode(graph.NewNode(id, fn(func(ctx context.Context, _ channel.Snapshot) (graph.Output, error) {
			out := graph.Emit(graph.Set("trail", id), graph.Set("total", 1))
			if hook := hooks[id]; hook != nil {
				ctl, err := hook(ctx)
				if err != nil {
					return graph.Output{}, err
				}
				out.Control = ctl
			}
			return out, nil
		}), graph.Writes(graph.Ref("trail"), graph.Ref("total")))))
		if i > 1 {
			require.NoError(t, g.AddEdge(fmt.Sprintf("s%d", i-1), id))
		}
	}
	g.SetEntryPoint("s1")
	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

// fanoutGraph activates every branch from start in one superstep. Each branch
// publishes its value to the log topic.
func fanoutGraph(t testing.TB, branches map[string]graph.Runnable, order ...string) *graph.CompiledGraph {
	t.Helper()
	g := graph.New("fanout").AddChannel(
		channel.Topic("log", channel.TypeString, false),
		channel.LastValue("started", channel.TypeBool),
	)
	require.NoError(t, g.AddNode(graph.NewNode("start", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("started", true)), nil
	}), graph.Writes(graph.Ref("started")))))
	for _, id := range order {
		require.NoError(t, g.AddNode(graph.NewNode(id, branches[id], graph.Reads(graph.Ref("started")), graph.Writes(graph.Ref("log")))))
		require.NoError(t, g.AddEdge("start", id))
	}
	g.SetEntryPoint("start")
	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

func publish(v string) graph.Runnable {
	return fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("log", v)), nil
	})
}

func newExecutor(t testing.TB, g *graph.CompiledGraph, store checkpoint.Store, opts ...Option) *Executor {
	t.Helper()
	if store == nil {
		store = memory.DefaultStore()
	}
	e, err := New(g, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func history(t testing.TB, store checkpoint.Store, id string) []*checkpoint.Tuple {
	t.Helper()
	tuples, err := checkpoint.Collect(store.List(context.Background(), checkpoint.Config{ThreadID: id}, nil, 0))
	require.NoError(t, err)
	return tuples
}

func thread(id string) checkpoint.Config { return checkpoint.Config{ThreadID: id} }
