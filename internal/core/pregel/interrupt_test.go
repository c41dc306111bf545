package pregel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/memory"
	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

func raiseIn(ctx context.Context) (graph.Control, error) {
	SignalFrom(ctx).Raise()
	return graph.ControlNone, nil
}

// Scenario C: an interrupt raised during superstep 2 of a five step chain
// pauses after that step; resuming reaches the uninterrupted final state.
func TestInterrupt_SignalDuringStep(t *testing.T) {
	ctx := context.Background()

	baseline, err := newExecutor(t, chainGraph(t, 5, nil), nil).Invoke(ctx, thread("base"), nil)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, baseline.Status)

	store := memory.DefaultStore()
	e := newExecutor(t, chainGraph(t, 5, map[string]func(context.Context) (graph.Control, error){"s3": raiseIn}), store)

	signal := &InterruptSignal{}
	res, err := e.Invoke(WithInterruptSignal(ctx, signal), thread("c"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	require.NotNil(t, res.Interrupt)
	assert.Equal(t, ReasonSignal, res.Interrupt.Reason)
	assert.Equal(t, []string{"s4"}, res.Interrupt.Nodes)
	assert.Equal(t, 2, res.Step)
	assert.Equal(t, res.Config.CheckpointID, res.Interrupt.CheckpointID)
	assert.False(t, signal.Raised(), "signal is consumed")
	assert.EqualValues(t, 3, res.Values["total"])

	resumed, err := e.Resume(ctx, res.Interrupt.Config)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, baseline.Values, resumed.Values)
	assert.Equal(t, baseline.Step, resumed.Step)
	assert.Len(t, history(t, store, "c"), 6)
}

func TestInterrupt_SignalBeforeRun(t *testing.T) {
	store := memory.DefaultStore()
	signal := &InterruptSignal{}
	signal.Raise()

	res, err := newExecutor(t, chainGraph(t, 2, nil), store).Invoke(WithInterruptSignal(context.Background(), signal), thread("s"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonSignal, res.Interrupt.Reason)
	assert.Equal(t, -1, res.Step)
	assert.Len(t, history(t, store, "s"), 1)
}

func TestInterrupt_Before(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, chainGraph(t, 3, nil), store, WithInterruptBefore("s2"))

	res, err := e.Invoke(ctx, thread("b"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonBefore, res.Interrupt.Reason)
	assert.Equal(t, []string{"s2"}, res.Interrupt.Nodes)
	assert.EqualValues(t, 1, res.Values["total"])

	tuple, err := store.GetTuple(ctx, res.Config)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, tuple.Checkpoint.NextNodes)

	res, err = e.Resume(ctx, thread("b"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 3, res.Values["total"])
}

func TestInterrupt_BeforeEntry(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	e := newExecutor(t, chainGraph(t, 2, nil), store, WithInterruptBefore("s1"))

	res, err := e.Invoke(ctx, thread("b"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, -1, res.Step)
	assert.Len(t, history(t, store, "b"), 1)

	res, err = e.Resume(ctx, thread("b"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 2, res.Values["total"])
}

func TestInterrupt_After(t *testing.T) {
	ctx := context.Background()
	e := newExecutor(t, chainGraph(t, 3, nil), nil, WithInterruptAfter("s2"))

	res, err := e.Invoke(ctx, thread("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonAfter, res.Interrupt.Reason)
	assert.Equal(t, []string{"s2"}, res.Interrupt.Nodes)
	assert.Equal(t, 1, res.Step)

	res, err = e.Resume(ctx, res.Interrupt.Config)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 3, res.Values["total"])
}

func TestInterrupt_GraphConfig(t *testing.T) {
	g := graph.New("configured")
	g.Config.InterruptAfter = []string{"only"}
	require.NoError(t, g.AddNode(graph.NewNode("only", fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		return graph.Output{}, nil
	}))))
	g.SetEntryPoint("only")
	cg, err := g.Compile()
	require.NoError(t, err)

	res, err := newExecutor(t, cg, nil).Invoke(context.Background(), thread("g"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonAfter, res.Interrupt.Reason)
}

func TestInterrupt_NodeControl(t *testing.T) {
	ctx := context.Background()
	pause := func(context.Context) (graph.Control, error) { return graph.ControlInterrupt, nil }
	store := memory.DefaultStore()
	e := newExecutor(t, chainGraph(t, 3, map[string]func(context.Context) (graph.Control, error){"s1": pause}), store)

	res, err := e.Invoke(ctx, thread("n"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonNode, res.Interrupt.Reason)
	assert.Equal(t, []string{"s1"}, res.Interrupt.Nodes)
	assert.EqualValues(t, 1, res.Values["total"], "writes of the interrupting node are kept")

	res, err = e.Resume(ctx, thread("n"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 3, res.Values["total"])
}

func TestInterrupt_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := func(context.Context) (graph.Control, error) {
		cancel()
		return graph.ControlNone, nil
	}
	e := newExecutor(t, chainGraph(t, 3, map[string]func(context.Context) (graph.Control, error){"s1": stop}), nil)

	res, err := e.Invoke(ctx, thread("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonCancelled, res.Interrupt.Reason)
	assert.Equal(t, 0, res.Step, "the in-flight superstep completes")

	res, err = e.Resume(context.Background(), thread("x"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 3, res.Values["total"])
}

func TestInterrupt_CancelledBeforeRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newExecutor(t, chainGraph(t, 2, nil), nil).Invoke(ctx, thread("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, ReasonCancelled, res.Interrupt.Reason)
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	done := func(context.Context) (graph.Control, error) { return graph.ControlTerminate, nil }
	e := newExecutor(t, chainGraph(t, 4, map[string]func(context.Context) (graph.Control, error){"s2": done}), store)

	res, err := e.Invoke(ctx, thread("t"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.EqualValues(t, 2, res.Values["total"])

	latest, err := store.GetTuple(ctx, thread("t"))
	require.NoError(t, err)
	assert.Empty(t, latest.Checkpoint.NextNodes)
	assert.Equal(t, checkpoint.SourceLoop, latest.Metadata.Source)
}

func TestInterruptSignal(t *testing.T) {
	var s InterruptSignal
	assert.False(t, s.Raised())
	s.Raise()
	assert.True(t, s.Raised())
	s.Reset()
	assert.False(t, s.Raised())

	assert.Nil(t, SignalFrom(context.Background()))
	var none *InterruptSignal
	assert.False(t, none.consume())
}
