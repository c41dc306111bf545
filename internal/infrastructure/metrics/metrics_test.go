package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/adapters/repository/memory"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector("test")

	c.ObserveSuperstep("g", StatusOK, 10*time.Millisecond)
	c.ObserveSuperstep("g", StatusOK, 20*time.Millisecond)
	c.NodeExecuted("g", "a", nil)
	c.NodeExecuted("g", "a", errors.New("boom"))
	c.CheckpointWritten("g", "loop")
	c.RunStarted()
	c.RunFinished("g", StatusCompleted)
	c.SetSchedulerWorkers(4)

	assert.InDelta(t, 2, testutil.ToFloat64(c.Supersteps.WithLabelValues("g", StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.NodeExecutions.WithLabelValues("g", "a", StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.NodeExecutions.WithLabelValues("g", "a", StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.CheckpointWrites.WithLabelValues("g", "loop")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(c.ActiveRuns), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Runs.WithLabelValues("g", StatusCompleted)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(c.SchedulerWorkers), 0)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveSuperstep("g", StatusOK, time.Second)
		c.NodeExecuted("g", "a", nil)
		c.RunStarted()
		c.RunFinished("g", StatusFailed)
		c.CheckpointWritten("g", "input")
		c.StoreOperation("put", nil, time.Second)
		c.SetSchedulerWorkers(1)
	})
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, b := NewCollector("x"), NewCollector("x")
	a.RunStarted()
	assert.InDelta(t, 0, testutil.ToFloat64(b.ActiveRuns), 0)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("test")
	c.CheckpointWritten("g", "input")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_checkpoint_writes_total{graph="g",source="input"} 1`)
}

func TestInstrumentStore(t *testing.T) {
	ctx := context.Background()
	c := NewCollector("test")
	store := InstrumentStore(memory.DefaultStore(), c)

	cfg, err := store.Put(ctx, checkpoint.Config{ThreadID: "t"}, checkpoint.New(map[string]any{"a": 1}, nil), checkpoint.Metadata{Source: checkpoint.SourceInput})
	require.NoError(t, err)
	_, err = store.GetTuple(ctx, cfg)
	require.NoError(t, err)
	_, err = checkpoint.Collect(store.List(ctx, checkpoint.Config{ThreadID: "t"}, nil, 0))
	require.NoError(t, err)
	assert.Error(t, store.PutWrites(ctx, checkpoint.Config{ThreadID: "t"}, nil, "n"))

	assert.InDelta(t, 1, testutil.ToFloat64(c.StoreOperations.WithLabelValues("put", StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.StoreOperations.WithLabelValues("get_tuple", StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.StoreOperations.WithLabelValues("list", StatusOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.StoreOperations.WithLabelValues("put_writes", StatusError)), 0)

	assert.IsType(t, &memory.Store{}, store.(*InstrumentedStore).Unwrap())
	plain := memory.DefaultStore()
	assert.Same(t, plain, InstrumentStore(plain, nil))
}
