package pregel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/memory"
	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
	"github.com/flowgraph/pregelflow/internal/infrastructure/tracing"
)

func TestNew_Errors(t *testing.T) {
	cg := counterGraph(t, 3)

	_, err := New(nil, memory.DefaultStore())
	assert.ErrorIs(t, err, ErrNilGraph)

	_, err = New(cg, nil)
	assert.ErrorIs(t, err, ErrNilStore)

	_, err = New(cg, memory.DefaultStore(), WithInterruptBefore("missing"))
	assert.ErrorIs(t, err, graph.ErrUnknownInterruptPoint)
}

// Scenario A: a self-looping counter stops at 3 after three loop checkpoints.
func TestInvoke_Counter(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, counterGraph(t, 3), store)

	res, err := e.Invoke(ctx, thread("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Values["count"])
	assert.Equal(t, 2, res.Step)
	assert.Nil(t, res.Interrupt)

	tuples := history(t, store, "a")
	require.Len(t, tuples, 4)
	assert.Equal(t, checkpoint.SourceInput, tuples[3].Metadata.Source)
	for _, tp := range tuples[:3] {
		assert.Equal(t, checkpoint.SourceLoop, tp.Metadata.Source)
		assert.Equal(t, "inc", tp.Metadata.Node)
	}
	assert.EqualValues(t, 3, tuples[0].Checkpoint.ChannelValues["count"])
	assert.Empty(t, tuples[0].Checkpoint.NextNodes)
	assert.Equal(t, res.Config, tuples[0].Config)
}

// Scenario B: concurrent topic writes merge in declaration order regardless of
// completion order.
func TestInvoke_TopicMergeOrder(t *testing.T) {
	slow := fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		time.Sleep(20 * time.Millisecond)
		return graph.Emit(graph.Set("log", "x")), nil
	})
	cg := fanoutGraph(t, map[string]graph.Runnable{"a": slow, "b": publish("y")}, "a", "b")
	e := newExecutor(t, cg, nil)

	for i := range 10 {
		res, err := e.Invoke(context.Background(), thread(fmt.Sprintf("b-%d", i)), nil)
		require.NoError(t, err)
		assert.Equal(t, []any{"x", "y"}, res.Values["log"])
	}
}

func TestInvoke_Deterministic(t *testing.T) {
	cg := fanoutGraph(t, map[string]graph.Runnable{
		"a": publish("1"), "b": publish("2"), "c": publish("3"),
	}, "c", "a", "b")

	execute := func(id string) []*checkpoint.Tuple {
		store := memory.DefaultStore()
		e := newExecutor(t, cg, store, WithParallelism(3))
		_, err := e.Invoke(context.Background(), thread(id), nil)
		require.NoError(t, err)
		return history(t, store, id)
	}

	want := execute("d")
	opts := cmp.Options{
		cmpopts.IgnoreFields(checkpoint.Checkpoint{}, "ID", "ParentID", "Timestamp"),
		cmpopts.IgnoreFields(checkpoint.Tuple{}, "Config", "ParentConfig"),
	}
	for range 5 {
		got := execute("d")
		if diff := cmp.Diff(want, got, opts); diff != "" {
			t.Fatalf("history differs between runs (-want +got):\n%s", diff)
		}
	}
	assert.Equal(t, []any{"3", "1", "2"}, want[0].Checkpoint.ChannelValues["log"])
}

func TestInvoke_Monotonic(t *testing.T) {
	store := memory.DefaultStore()
	e := newExecutor(t, chainGraph(t, 4, nil), store)
	_, err := e.Invoke(context.Background(), thread("m"), nil)
	require.NoError(t, err)

	tuples := history(t, store, "m")
	require.Len(t, tuples, 5)
	for i := len(tuples) - 1; i > 0; i-- {
		older, newer := tuples[i], tuples[i-1]
		assert.Greater(t, newer.Metadata.Step, older.Metadata.Step)
		require.NotNil(t, newer.ParentConfig)
		assert.Equal(t, older.Config.CheckpointID, newer.ParentConfig.CheckpointID)
		for name, v := range older.Checkpoint.ChannelVersions {
			assert.GreaterOrEqual(t, newer.Checkpoint.ChannelVersions[name], v, name)
		}
	}
	assert.Equal(t, []any{"s1", "s2", "s3", "s4"}, toStrings(tuples[0].Checkpoint.ChannelValues["trail"]))
}

func toStrings(v any) []any {
	list, _ := v.([]any)
	out := make([]any, len(list))
	for i, e := range list {
		out[i] = fmt.Sprint(e)
	}
	return out
}

func TestResume_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, counterGraph(t, 3), store)

	first, err := e.Invoke(ctx, thread("r"), nil)
	require.NoError(t, err)

	for range 3 {
		again, err := e.Resume(ctx, thread("r"))
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, again.Status)
		assert.Equal(t, first.Config, again.Config)
		assert.Equal(t, first.Values, again.Values)
	}
	assert.Len(t, history(t, store, "r"), 4)
}

func TestResume_NothingToResume(t *testing.T) {
	e := newExecutor(t, counterGraph(t, 3), nil)
	_, err := e.Resume(context.Background(), thread("empty"))
	assert.ErrorIs(t, err, ErrNothingToResume)
}

func TestInvoke_NoopTermination(t *testing.T) {
	g := graph.New("noop").AddChannel(channel.LastValue("x", channel.TypeInt))
	require.NoError(t, g.AddNode(graph.NewNode("idle", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Output{}, nil
	}), graph.Reads(graph.Ref("x")))))
	g.SetEntryPoint("idle")
	cg, err := g.Compile()
	require.NoError(t, err)

	t.Run("records loop checkpoint", func(t *testing.T) {
		store := memory.DefaultStore()
		res, err := newExecutor(t, cg, store).Invoke(context.Background(), thread("n"), map[string]any{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
		tuples := history(t, store, "n")
		require.Len(t, tuples, 2)
		assert.Empty(t, tuples[0].Checkpoint.UpdatedChannels)
	})

	t.Run("keeps the final checkpoint when skipping noops", func(t *testing.T) {
		store := memory.DefaultStore()
		rec := &Recorder{}
		res, err := newExecutor(t, cg, store, WithSkipNoopCheckpoints(), WithSinks(rec)).Invoke(context.Background(), thread("n"), map[string]any{"x": 1})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
		tuples := history(t, store, "n")
		require.Len(t, tuples, 2)
		assert.Empty(t, tuples[0].Checkpoint.NextNodes)
		require.Len(t, rec.Events(), 1)
		assert.Equal(t, tuples[0].Config.CheckpointID, rec.Events()[0].CheckpointID)
	})
}

func TestInvoke_SkipNoopCheckpoints(t *testing.T) {
	g := graph.New("skip").AddChannel(channel.LastValue("x", channel.TypeInt))
	require.NoError(t, g.AddNode(graph.NewNode("idle", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Output{}, nil
	}))))
	require.NoError(t, g.AddNode(graph.NewNode("set", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("x", 2)), nil
	}), graph.Writes(graph.Ref("x")))))
	require.NoError(t, g.AddEdge("idle", "set"))
	g.SetEntryPoint("idle")
	cg, err := g.Compile()
	require.NoError(t, err)

	store := memory.DefaultStore()
	rec := &Recorder{}
	res, err := newExecutor(t, cg, store, WithSkipNoopCheckpoints(), WithSinks(rec)).Invoke(context.Background(), thread("s"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Values["x"])

	tuples := history(t, store, "s")
	require.Len(t, tuples, 2, "input and step 1, the idle step is skipped")
	assert.Equal(t, 1, tuples[0].Metadata.Step)
	assert.Equal(t, checkpoint.SourceInput, tuples[1].Metadata.Source)
	events := rec.Events()
	require.Len(t, events, 2)
	assert.Empty(t, events[0].CheckpointID)
	assert.Equal(t, tuples[0].Config.CheckpointID, events[1].CheckpointID)
}

// A superstep that changes nothing but pauses the run is still checkpointed,
// so resuming moves past it.
func TestInvoke_SkipNoopCheckpointsResumesPastInterrupt(t *testing.T) {
	build := func(t *testing.T, control graph.Control) *graph.CompiledGraph {
		g := graph.New("review").AddChannel(channel.LastValue("done", channel.TypeBool))
		require.NoError(t, g.AddNode(graph.NewNode("review", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
			return graph.Output{Control: control}, nil
		}))))
		require.NoError(t, g.AddNode(graph.NewNode("finish", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
			return graph.Emit(graph.Set("done", true)), nil
		}), graph.Writes(graph.Ref("done")))))
		require.NoError(t, g.AddEdge("review", "finish"))
		g.SetEntryPoint("review")
		cg, err := g.Compile()
		require.NoError(t, err)
		return cg
	}

	tests := []struct {
		name   string
		graph  func(t *testing.T) *graph.CompiledGraph
		opts   []Option
		reason InterruptReason
	}{
		{"interrupt after", func(t *testing.T) *graph.CompiledGraph { return build(t, graph.ControlNone) }, []Option{WithInterruptAfter("review")}, ReasonAfter},
		{"node control", func(t *testing.T) *graph.CompiledGraph { return build(t, graph.ControlInterrupt) }, nil, ReasonNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.DefaultStore()
			opts := append([]Option{WithSkipNoopCheckpoints()}, tt.opts...)
			e := newExecutor(t, tt.graph(t), store, opts...)

			res, err := e.Invoke(ctx, thread("r"), nil)
			require.NoError(t, err)
			require.Equal(t, StatusInterrupted, res.Status)
			assert.Equal(t, tt.reason, res.Interrupt.Reason)
			assert.Equal(t, 0, res.Step)

			tuple, err := store.GetTuple(ctx, res.Interrupt.Config)
			require.NoError(t, err)
			require.NotNil(t, tuple)
			assert.Equal(t, []string{"finish"}, tuple.Checkpoint.NextNodes)

			res, err = e.Resume(ctx, res.Interrupt.Config)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, res.Status)
			assert.Equal(t, true, res.Values["done"])
		})
	}
}

func TestInvoke_MergeFailureRestoresState(t *testing.T) {
	g := graph.New("merge").AddChannel(
		channel.LastValue("a", channel.TypeInt),
		channel.BinaryOp("total", channel.TypeAny, channel.OpSum),
	)
	require.NoError(t, g.AddNode(graph.NewNode("bad", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("a", 5), graph.Set("total", "x")), nil
	}), graph.Writes(graph.Ref("a"), graph.Ref("total")))))
	g.SetEntryPoint("bad")
	cg, err := g.Compile()
	require.NoError(t, err)

	store := memory.DefaultStore()
	res, err := newExecutor(t, cg, store).Invoke(context.Background(), thread("m"), map[string]any{"total": 1})
	assert.ErrorIs(t, err, ErrInvalidWrite)
	assert.ErrorIs(t, err, channel.ErrTypeMismatch)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
	assert.NotContains(t, res.Values, "a")
	assert.EqualValues(t, 1, res.Values["total"])
	assert.Len(t, history(t, store, "m"), 1)
}

func TestInvoke_Input(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, counterGraph(t, 5), store)

	t.Run("rejects unknown channels", func(t *testing.T) {
		_, err := e.Invoke(ctx, thread("i"), map[string]any{"nope": 1})
		assert.ErrorIs(t, err, ErrUnknownInputChannel)
		_, err = e.Invoke(ctx, thread("i"), map[string]any{checkpoint.ControlChannel: "x"})
		assert.ErrorIs(t, err, ErrUnknownInputChannel)
		assert.Empty(t, history(t, store, "i"))
	})

	t.Run("rejects mistyped input", func(t *testing.T) {
		_, err := e.Invoke(ctx, thread("i"), map[string]any{"count": "three"})
		assert.ErrorIs(t, err, channel.ErrTypeMismatch)
	})

	t.Run("input seeds the channels", func(t *testing.T) {
		res, err := e.Invoke(ctx, thread("i"), map[string]any{"count": 3})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Values["count"])
		assert.Equal(t, 1, res.Step)
	})

	t.Run("reinvoking continues the step count", func(t *testing.T) {
		res, err := e.Invoke(ctx, thread("i"), map[string]any{"count": 4})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Values["count"])

		tuples := history(t, store, "i")
		require.Len(t, tuples, 5)
		assert.Equal(t, checkpoint.SourceInput, tuples[1].Metadata.Source)
		assert.Equal(t, 2, tuples[1].Metadata.Step)
		assert.Equal(t, 3, tuples[0].Metadata.Step)
	})

	t.Run("requires a thread", func(t *testing.T) {
		_, err := e.Invoke(ctx, checkpoint.Config{}, nil)
		assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)
	})

	t.Run("unknown checkpoint", func(t *testing.T) {
		_, err := e.Invoke(ctx, thread("i").At("missing"), nil)
		assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
	})
}

func TestInvoke_FromHistoricalCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, counterGraph(t, 3), store)
	_, err := e.Invoke(ctx, thread("h"), nil)
	require.NoError(t, err)

	tuples := history(t, store, "h")
	first := tuples[2] // count = 1
	res, err := e.Invoke(ctx, first.Config, map[string]any{"count": 0})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Values["count"])

	forked := history(t, store, "h")
	assert.Len(t, forked, 4+4)
	var input *checkpoint.Tuple
	for _, tp := range forked {
		if tp.Metadata.Source == checkpoint.SourceInput && tp.ParentConfig != nil {
			input = tp
		}
	}
	require.NotNil(t, input)
	assert.Equal(t, first.Config.CheckpointID, input.ParentConfig.CheckpointID)
}

func TestInvoke_MaxIterations(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, counterGraph(t, 100), store, WithMaxIterations(3))

	res, err := e.Invoke(ctx, thread("x"), nil)
	assert.ErrorIs(t, err, ErrMaxIterations)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Values["count"])
	assert.Equal(t, 2, res.Step)

	// The budget applies per invocation.
	res, err = e.Resume(ctx, thread("x"))
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 6, res.Values["count"])
}

func TestInvoke_DefaultMaxIterations(t *testing.T) {
	res, err := newExecutor(t, counterGraph(t, 1000), nil).Invoke(context.Background(), thread("x"), nil)
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, graph.DefaultMaxIterations, res.Values["count"])
}

func TestInvoke_ConcurrentThreads(t *testing.T) {
	store := memory.DefaultStore()
	e := newExecutor(t, counterGraph(t, 3), store, WithParallelism(2))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Invoke(context.Background(), thread(fmt.Sprintf("c-%d", i%4)), nil)
			assert.NoError(t, err)
			assert.Equal(t, StatusCompleted, res.Status)
		}()
	}
	wg.Wait()

	for i := range 4 {
		tuples := history(t, store, fmt.Sprintf("c-%d", i))
		// Two serialized invocations: input plus three loops, then input plus
		// the one loop that takes count past the limit.
		assert.Len(t, tuples, 6, "thread c-%d", i)
	}
}

func TestInvoke_NodeReadsOnlyDeclaredChannels(t *testing.T) {
	var seen []string
	g := graph.New("reads").AddChannel(
		channel.LastValue("visible", channel.TypeInt),
		channel.LastValue("hidden", channel.TypeInt),
	)
	require.NoError(t, g.AddNode(graph.NewNode("look", fn(func(_ context.Context, in channel.Snapshot) (graph.Output, error) {
		seen = in.Names()
		return graph.Output{}, nil
	}), graph.Reads(graph.Ref("visible")))))
	g.SetEntryPoint("look")
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = newExecutor(t, cg, nil).Invoke(context.Background(), thread("r"), map[string]any{"visible": 1, "hidden": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"visible"}, seen)
}

func TestInvoke_EphemeralChannel(t *testing.T) {
	var got []bool
	g := graph.New("ephemeral").AddChannel(channel.Ephemeral("ping", channel.TypeString))
	require.NoError(t, g.AddNode(graph.NewNode("first", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("ping", "hi")), nil
	}), graph.Writes(graph.Ref("ping")))))
	check := fn(func(_ context.Context, in channel.Snapshot) (graph.Output, error) {
		got = append(got, in.Has("ping"))
		return graph.Output{}, nil
	})
	require.NoError(t, g.AddNode(graph.NewNode("second", check, graph.Reads(graph.Ref("ping")))))
	require.NoError(t, g.AddNode(graph.NewNode("third", check, graph.Reads(graph.Ref("ping")))))
	require.NoError(t, g.AddEdge("first", "second"))
	require.NoError(t, g.AddEdge("second", "third"))
	g.SetEntryPoint("first")
	cg, err := g.Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, cg, nil).Invoke(context.Background(), thread("e"), nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, got)
	assert.NotContains(t, res.Values, "ping")
}

func TestInvoke_TriggeredNodes(t *testing.T) {
	g := graph.New("triggers").AddChannel(
		channel.LastValue("doc", channel.TypeString),
		channel.LastValue("summary", channel.TypeString),
	)
	require.NoError(t, g.AddNode(graph.NewNode("write", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("doc", "hello world")), nil
	}), graph.Writes(graph.Ref("doc")))))
	require.NoError(t, g.AddNode(graph.NewNode("summarize", fn(func(_ context.Context, in channel.Snapshot) (graph.Output, error) {
		doc, _ := in.String("doc")
		return graph.Emit(graph.Set("summary", doc[:5])), nil
	}), graph.Reads(graph.Ref("doc")), graph.Writes(graph.Ref("summary")), graph.Triggers("doc"))))
	g.SetEntryPoint("write")
	cg, err := g.Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, cg, nil).Invoke(context.Background(), thread("t"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Values["summary"])
}

func TestInvoke_RouteErrorFailsRun(t *testing.T) {
	g := graph.New("route").AddChannel(channel.LastValue("n", channel.TypeInt))
	require.NoError(t, g.AddNode(graph.NewNode("a", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Emit(graph.Set("n", 1)), nil
	}), graph.Writes(graph.Ref("n")))))
	require.NoError(t, g.AddNode(graph.NewNode("b", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Output{}, nil
	}))))
	require.NoError(t, g.AddConditionalEdge(&graph.ConditionalEdge{
		Source:  "a",
		Targets: []string{"b"},
		Route: func(context.Context, channel.Snapshot) ([]string, error) {
			return []string{"c"}, nil
		},
	}))
	g.SetEntryPoint("a")
	cg, err := g.Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, cg, nil).Invoke(context.Background(), thread("r"), nil)
	assert.ErrorIs(t, err, graph.ErrUndeclaredRoute)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestExecutor_Close(t *testing.T) {
	e, err := New(counterGraph(t, 3), memory.DefaultStore())
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Invoke(context.Background(), thread("c"), nil)
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestExecutor_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := newExecutor(t, counterGraph(t, 2), nil, WithTracerProvider(tp))

	_, err := e.Invoke(context.Background(), thread("t"), nil)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	assert.Equal(t, map[string]int{tracing.SpanRun: 1, tracing.SpanSuperstep: 2, tracing.SpanNode: 2}, counts)
}

func TestExecutor_Metrics(t *testing.T) {
	c := metrics.NewCollector("test")
	e := newExecutor(t, counterGraph(t, 3), nil, WithMetrics(c), WithParallelism(4))

	_, err := e.Invoke(context.Background(), thread("m"), nil)
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.Supersteps.WithLabelValues("counter", metrics.StatusOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.NodeExecutions.WithLabelValues("counter", "inc", metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Runs.WithLabelValues("counter", metrics.StatusCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CheckpointWrites.WithLabelValues("counter", string(checkpoint.SourceInput))))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.CheckpointWrites.WithLabelValues("counter", string(checkpoint.SourceLoop))))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ActiveRuns))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.SchedulerWorkers))
	assert.Positive(t, testutil.ToFloat64(c.StoreOperations.WithLabelValues("put", metrics.StatusOK)))
}

// countingRunnable counts invocations.
type countingRunnable struct {
	calls atomic.Int32
	inner graph.Runnable
}

func (c *countingRunnable) Invoke(ctx context.Context, in channel.Snapshot) (graph.Output, error) {
	c.calls.Add(1)
	return c.inner.Invoke(ctx, in)
}
