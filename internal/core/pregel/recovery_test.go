package pregel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/memory"
	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

var errFlaky = errors.New("flaky")

// flaky fails until healed.
func flaky(healed *atomic.Bool, v string) graph.Runnable {
	return fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
		if !healed.Load() {
			return graph.Output{}, errFlaky
		}
		return graph.Emit(graph.Set("log", v)), nil
	})
}

func TestStepFailure_RecoversCompletedNodes(t *testing.T) {
	ctx := context.Background()
	store := memory.DefaultStore()
	ok := &countingRunnable{inner: publish("ok")}
	var healed atomic.Bool
	cg := fanoutGraph(t, map[string]graph.Runnable{"ok": ok, "bad": flaky(&healed, "bad")}, "ok", "bad")
	e := newExecutor(t, cg, store)

	res, err := e.Invoke(ctx, thread("f"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Step)
	assert.Equal(t, []string{"bad"}, stepErr.Failed())
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "bad", nodeErr.Node)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, res.Step)
	assert.Equal(t, true, res.Values["started"])
	assert.NotContains(t, res.Values, "log")

	// The pre-step checkpoint stays the latest and holds the successful writes.
	latest, err := store.GetTuple(ctx, thread("f"))
	require.NoError(t, err)
	assert.Equal(t, res.Config, latest.Config)
	assert.Equal(t, []string{"ok", "bad"}, latest.Checkpoint.NextNodes)
	require.Len(t, latest.PendingWrites, 2)
	assert.Equal(t, "ok", latest.PendingWrites[0].WriterID)
	assert.Equal(t, checkpoint.ControlChannel, latest.PendingWrites[1].Channel)

	healed.Store(true)
	res, err = e.Resume(ctx, thread("f"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []any{"ok", "bad"}, res.Values["log"])
	assert.EqualValues(t, 1, ok.calls.Load(), "completed node is not run again")
}

func TestStepFailure_AllNodesReported(t *testing.T) {
	var healed atomic.Bool
	cg := fanoutGraph(t, map[string]graph.Runnable{"a": flaky(&healed, "a"), "b": flaky(&healed, "b")}, "a", "b")
	_, err := newExecutor(t, cg, nil).Invoke(context.Background(), thread("f"), nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, []string{"a", "b"}, stepErr.Failed())
	assert.Contains(t, err.Error(), "2 node(s) failed")
}

func TestStepFailure_NodeErrors(t *testing.T) {
	tests := []struct {
		name string
		node graph.Runnable
		want error
	}{
		{
			name: "panic",
			node: fn(func(context.Context, channel.Snapshot) (graph.Output, error) { panic("boom") }),
			want: ErrNodePanic,
		},
		{
			name: "undeclared write",
			node: fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
				return graph.Emit(graph.Set("started", false)), nil
			}),
			want: ErrUndeclaredWrite,
		},
		{
			name: "reserved channel",
			node: fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
				return graph.Emit(graph.Set(checkpoint.ControlChannel, "terminate")), nil
			}),
			want: ErrUndeclaredWrite,
		},
		{
			name: "wrong type",
			node: fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
				return graph.Emit(graph.Set("log", 42)), nil
			}),
			want: ErrInvalidWrite,
		},
		{
			name: "unknown control",
			node: fn(func(context.Context, channel.Snapshot) (graph.Output, error) {
				return graph.Output{Control: "pause"}, nil
			}),
			want: ErrInvalidControl,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.DefaultStore()
			cg := fanoutGraph(t, map[string]graph.Runnable{"n": tt.node}, "n")
			res, err := newExecutor(t, cg, store).Invoke(context.Background(), thread("e"), nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StatusFailed, res.Status)
			assert.Len(t, history(t, store, "e"), 2, "no checkpoint for the failed step")
		})
	}
}

// failingStore rejects PutWrites.
type failingStore struct {
	checkpoint.Store
}

func (failingStore) PutWrites(context.Context, checkpoint.Config, []checkpoint.PendingWrite, string) error {
	return errors.New("disk full")
}

func TestStepFailure_Persistence(t *testing.T) {
	e := newExecutor(t, counterGraph(t, 3), failingStore{Store: memory.DefaultStore()})
	res, err := e.Invoke(context.Background(), thread("p"), nil)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, -1, res.Step)
}

func TestRecoverWrites(t *testing.T) {
	cg := fanoutGraph(t, map[string]graph.Runnable{"a": publish("a"), "b": publish("b")}, "a", "b")
	writes := []checkpoint.PendingWrite{
		{WriterID: "a", Channel: "log", Value: "a"},
		{WriterID: "a", Channel: checkpoint.ControlChannel, Value: "interrupt"},
		{WriterID: "b", Channel: "log", Value: "partial"},
		{WriterID: "ghost", Channel: checkpoint.ControlChannel, Value: ""},
	}
	got := recoverWrites(cg, writes)

	ia, _ := cg.NodeIndex("a")
	require.Len(t, got, 1, "only writers with a control write completed")
	assert.Equal(t, graph.Output{Writes: []graph.Write{graph.Set("log", "a")}, Control: graph.ControlInterrupt}, got[ia])
}

func TestPendingWrites_EndWithControl(t *testing.T) {
	writes := pendingWrites(graph.Emit(graph.Set("x", 1)))
	require.Len(t, writes, 2)
	assert.Equal(t, checkpoint.PendingWrite{Channel: checkpoint.ControlChannel, Value: ""}, writes[1])
}
