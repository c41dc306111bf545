// Package storetest is a conformance suite for checkpoint.Store
// implementations. Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) checkpoint.Store

// Run exercises every part of the store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s checkpoint.Store)
	}{
		{"GetTupleEmpty", testGetTupleEmpty},
		{"PutAndGet", testPutAndGet},
		{"ParentChain", testParentChain},
		{"PutConflict", testPutConflict},
		{"PutValidation", testPutValidation},
		{"ListNewestFirst", testListNewestFirst},
		{"ListStepRange", testListStepRange},
		{"ListFilters", testListFilters},
		{"ListExtraFilter", testListExtraFilter},
		{"ListRestartable", testListRestartable},
		{"ListBreakEarly", testListBreakEarly},
		{"ListSingleCheckpoint", testListSingleCheckpoint},
		{"PutWrites", testPutWrites},
		{"PutWritesReplacesWriter", testPutWritesReplacesWriter},
		{"PutWritesRequiresCheckpoint", testPutWritesRequiresCheckpoint},
		{"Namespaces", testNamespaces},
		{"DeleteThread", testDeleteThread},
		{"ConcurrentThreads", testConcurrentThreads},
		{"ConcurrentSameThread", testConcurrentSameThread},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func cfg(thread string) checkpoint.Config {
	return checkpoint.Config{ThreadID: thread}
}

// chain puts n checkpoints on thread with steps 0..n-1 and returns their
// configs oldest-first.
func chain(t *testing.T, s checkpoint.Store, c checkpoint.Config, n int) []checkpoint.Config {
	t.Helper()
	ctx := context.Background()
	out := make([]checkpoint.Config, 0, n)
	parent := c
	for step := range n {
		cp := checkpoint.New(map[string]any{"step": step}, map[string]int64{"step": int64(step + 1)})
		cp.NextNodes = []string{"node"}
		md := checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: step, Node: fmt.Sprintf("n%d", step%2)}
		if step == 0 {
			md.Source = checkpoint.SourceInput
		}
		next, err := s.Put(ctx, parent, cp, md)
		require.NoError(t, err)
		out = append(out, next)
		parent = next
	}
	return out
}

func steps(t *testing.T, tuples []*checkpoint.Tuple) []int {
	t.Helper()
	out := make([]int, len(tuples))
	for i, tp := range tuples {
		out[i] = tp.Metadata.Step
	}
	return out
}

func list(t *testing.T, s checkpoint.Store, c checkpoint.Config, f *checkpoint.Filter, limit int) []*checkpoint.Tuple {
	t.Helper()
	tuples, err := checkpoint.Collect(s.List(context.Background(), c, f, limit))
	require.NoError(t, err)
	return tuples
}

func testGetTupleEmpty(t *testing.T, s checkpoint.Store) {
	tuple, err := s.GetTuple(context.Background(), cfg("missing"))
	require.NoError(t, err)
	assert.Nil(t, tuple)

	tuple, err = s.GetTuple(context.Background(), cfg("missing").At("nope"))
	require.NoError(t, err)
	assert.Nil(t, tuple)
}

func testPutAndGet(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := checkpoint.New(
		map[string]any{"count": 3, "log": []any{"x", "y"}, "done": true, "meta": map[string]any{"k": "v"}},
		map[string]int64{"count": 2, "log": 1},
	)
	cp.UpdatedChannels = []string{"count"}
	cp.NextNodes = []string{"a", "b"}
	md := checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: 4, Node: "a", Extra: map[string]any{"run": "r1"}}

	stored, err := s.Put(ctx, cfg("t1"), cp, md)
	require.NoError(t, err)
	assert.Equal(t, cfg("t1").At(cp.ID), stored)

	for _, c := range []checkpoint.Config{cfg("t1"), stored} {
		tuple, err := s.GetTuple(ctx, c)
		require.NoError(t, err)
		require.NotNil(t, tuple)

		assert.Equal(t, stored, tuple.Config)
		assert.Nil(t, tuple.ParentConfig)
		assert.Equal(t, cp.ID, tuple.Checkpoint.ID)
		assert.EqualValues(t, 3, tuple.Checkpoint.ChannelValues["count"])
		assert.Equal(t, []any{"x", "y"}, tuple.Checkpoint.ChannelValues["log"])
		assert.Equal(t, true, tuple.Checkpoint.ChannelValues["done"])
		assert.Equal(t, map[string]any{"k": "v"}, tuple.Checkpoint.ChannelValues["meta"])
		assert.Equal(t, cp.ChannelVersions, tuple.Checkpoint.ChannelVersions)
		assert.Equal(t, cp.UpdatedChannels, tuple.Checkpoint.UpdatedChannels)
		assert.Equal(t, cp.NextNodes, tuple.Checkpoint.NextNodes)
		assert.WithinDuration(t, cp.Timestamp, tuple.Checkpoint.Timestamp, time.Millisecond)
		assert.Equal(t, checkpoint.FormatVersion, tuple.Checkpoint.Version)
		assert.Equal(t, md.Source, tuple.Metadata.Source)
		assert.Equal(t, md.Step, tuple.Metadata.Step)
		assert.Equal(t, md.Node, tuple.Metadata.Node)
		assert.Equal(t, "r1", tuple.Metadata.Extra["run"])
		assert.Empty(t, tuple.PendingWrites)
	}

	cp.ChannelValues["count"] = 100
	tuple, err := s.GetTuple(ctx, stored)
	require.NoError(t, err)
	assert.EqualValues(t, 3, tuple.Checkpoint.ChannelValues["count"], "stored checkpoint is isolated from the caller")
}

func testParentChain(t *testing.T, s checkpoint.Store) {
	configs := chain(t, s, cfg("t1"), 4)

	latest, err := s.GetTuple(context.Background(), cfg("t1"))
	require.NoError(t, err)
	assert.Equal(t, configs[3], latest.Config)

	// Walking parents reaches a root with strictly decreasing steps.
	var walked []int
	for c := &latest.Config; c != nil; {
		tuple, err := s.GetTuple(context.Background(), *c)
		require.NoError(t, err)
		require.NotNil(t, tuple)
		walked = append(walked, tuple.Metadata.Step)
		c = tuple.ParentConfig
	}
	assert.Equal(t, []int{3, 2, 1, 0}, walked)
}

func testPutConflict(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	cp := checkpoint.New(map[string]any{"a": 1}, map[string]int64{"a": 1})
	md := checkpoint.Metadata{Source: checkpoint.SourceInput, Step: -1}

	_, err := s.Put(ctx, cfg("t1"), cp, md)
	require.NoError(t, err)

	_, err = s.Put(ctx, cfg("t1"), cp, md)
	assert.NoError(t, err, "an identical put is idempotent")

	changed := cp.Copy()
	changed.ChannelValues["a"] = 2
	_, err = s.Put(ctx, cfg("t1"), changed, md)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointConflict)

	tuple, err := s.GetTuple(ctx, cfg("t1").At(cp.ID))
	require.NoError(t, err)
	assert.EqualValues(t, 1, tuple.Checkpoint.ChannelValues["a"])
	assert.Len(t, list(t, s, cfg("t1"), nil, 0), 1)
}

func testPutValidation(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	_, err := s.Put(ctx, checkpoint.Config{}, checkpoint.New(nil, nil), checkpoint.Metadata{})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)

	_, err = s.Put(ctx, cfg("t1"), nil, checkpoint.Metadata{})
	assert.ErrorIs(t, err, checkpoint.ErrNilCheckpoint)

	_, err = s.Put(ctx, cfg("t1"), &checkpoint.Checkpoint{}, checkpoint.Metadata{})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidCheckpointID)
}

func testListNewestFirst(t *testing.T, s checkpoint.Store) {
	configs := chain(t, s, cfg("t1"), 3)
	chain(t, s, cfg("other"), 2)

	tuples := list(t, s, cfg("t1"), nil, 0)
	require.Len(t, tuples, 3)
	assert.Equal(t, []int{2, 1, 0}, steps(t, tuples))
	assert.Equal(t, configs[2], tuples[0].Config)
	require.NotNil(t, tuples[0].ParentConfig)
	assert.Equal(t, configs[1], *tuples[0].ParentConfig)

	assert.Equal(t, []int{2, 1}, steps(t, list(t, s, cfg("t1"), nil, 2)))

	_, err := checkpoint.Collect(s.List(context.Background(), cfg("t1"), nil, -1))
	assert.ErrorIs(t, err, checkpoint.ErrInvalidLimit)
	_, err = checkpoint.Collect(s.List(context.Background(), checkpoint.Config{}, nil, 0))
	assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)
}

// A thread with six checkpoints filtered to steps 2..4 yields exactly those
// three, newest-first.
func testListStepRange(t *testing.T, s checkpoint.Store) {
	chain(t, s, cfg("t1"), 6)

	tuples := list(t, s, cfg("t1"), checkpoint.StepRange(2, 4), 0)
	assert.Equal(t, []int{4, 3, 2}, steps(t, tuples))

	assert.Equal(t, []int{4, 3}, steps(t, list(t, s, cfg("t1"), checkpoint.StepRange(2, 4), 2)))

	_, err := checkpoint.Collect(s.List(context.Background(), cfg("t1"), checkpoint.StepRange(4, 2), 0))
	assert.ErrorIs(t, err, checkpoint.ErrInvalidStepRange)
}

func testListFilters(t *testing.T, s checkpoint.Store) {
	configs := chain(t, s, cfg("t1"), 5)

	assert.Equal(t, []int{0}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Source: checkpoint.SourceInput}, 0)))
	assert.Equal(t, []int{4, 3, 2, 1}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Source: checkpoint.SourceLoop}, 0)))
	assert.Equal(t, []int{3}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Step: checkpoint.IntPtr(3)}, 0)))
	assert.Equal(t, []int{3, 1}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Node: "n1"}, 0)))
	assert.Equal(t, []int{2, 1, 0}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Before: configs[3].CheckpointID}, 0)))
	assert.Equal(t, []int{2}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Before: configs[3].CheckpointID, Node: "n0", MinStep: checkpoint.IntPtr(1)}, 0)))
	assert.Empty(t, list(t, s, cfg("t1"), &checkpoint.Filter{Source: checkpoint.SourceFork}, 0))
}

// Only Source, Step, MinStep, MaxStep, Node and Before are top-level
// criteria. Everything else is matched against the extra bag, and an extra
// key named like a top-level field addresses the bag only.
func testListExtraFilter(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	put := func(step int, extra map[string]any) {
		cp := checkpoint.New(nil, nil)
		_, err := s.Put(ctx, cfg("t1"), cp, checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: step, Extra: extra})
		require.NoError(t, err)
	}
	put(1, map[string]any{"batch": "a", "attempt": 1})
	put(2, map[string]any{"batch": "b", "step": 1})
	put(3, nil)

	byExtra := func(extra map[string]any) []int {
		return steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Extra: extra}, 0))
	}
	assert.Equal(t, []int{1}, byExtra(map[string]any{"batch": "a"}))
	assert.Equal(t, []int{1}, byExtra(map[string]any{"attempt": 1}), "numbers match across codec widths")
	assert.Empty(t, byExtra(map[string]any{"batch": "a", "attempt": 2}))
	assert.Equal(t, []int{2}, byExtra(map[string]any{"step": 1}), "extra step matches the bag, not the top-level step")
	assert.Empty(t, byExtra(map[string]any{"source": "loop"}))

	assert.Equal(t, []int{1}, steps(t, list(t, s, cfg("t1"), &checkpoint.Filter{Step: checkpoint.IntPtr(1)}, 0)))
}

func testListRestartable(t *testing.T, s checkpoint.Store) {
	chain(t, s, cfg("t1"), 2)
	seq := s.List(context.Background(), cfg("t1"), nil, 0)

	first, err := checkpoint.Collect(seq)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	chain(t, s, cfg("t1").At(first[0].Config.CheckpointID), 1)
	again, err := checkpoint.Collect(seq)
	require.NoError(t, err)
	assert.Len(t, again, 3, "each range queries the store again")
}

func testListBreakEarly(t *testing.T, s checkpoint.Store) {
	chain(t, s, cfg("t1"), 5)
	n := 0
	for _, err := range s.List(context.Background(), cfg("t1"), nil, 0) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func testListSingleCheckpoint(t *testing.T, s checkpoint.Store) {
	configs := chain(t, s, cfg("t1"), 3)
	tuples := list(t, s, configs[1], nil, 0)
	require.Len(t, tuples, 1)
	assert.Equal(t, configs[1], tuples[0].Config)
}

func testPutWrites(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	configs := chain(t, s, cfg("t1"), 2)

	require.NoError(t, s.PutWrites(ctx, configs[1], []checkpoint.PendingWrite{
		{Channel: "log", Value: "x"},
		{Channel: checkpoint.ControlChannel, Value: ""},
	}, "a"))
	require.NoError(t, s.PutWrites(ctx, configs[1], []checkpoint.PendingWrite{
		{Channel: "log", Value: "y"},
	}, "b"))

	tuple, err := s.GetTuple(ctx, cfg("t1"))
	require.NoError(t, err)
	require.Len(t, tuple.PendingWrites, 3)
	assert.Equal(t, checkpoint.PendingWrite{WriterID: "a", Channel: "log", Value: "x", Seq: 0}, tuple.PendingWrites[0])
	assert.Equal(t, checkpoint.PendingWrite{WriterID: "a", Channel: checkpoint.ControlChannel, Value: "", Seq: 1}, tuple.PendingWrites[1])
	assert.Equal(t, checkpoint.PendingWrite{WriterID: "b", Channel: "log", Value: "y", Seq: 0}, tuple.PendingWrites[2])

	older, err := s.GetTuple(ctx, configs[0])
	require.NoError(t, err)
	assert.Empty(t, older.PendingWrites, "writes belong to one checkpoint")
}

func testPutWritesReplacesWriter(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	configs := chain(t, s, cfg("t1"), 1)

	require.NoError(t, s.PutWrites(ctx, configs[0], []checkpoint.PendingWrite{{Channel: "a", Value: 1}, {Channel: "b", Value: 2}}, "n"))
	require.NoError(t, s.PutWrites(ctx, configs[0], []checkpoint.PendingWrite{{Channel: "a", Value: 3}}, "n"))

	tuple, err := s.GetTuple(ctx, configs[0])
	require.NoError(t, err)
	require.Len(t, tuple.PendingWrites, 1)
	assert.Equal(t, "a", tuple.PendingWrites[0].Channel)
	assert.EqualValues(t, 3, tuple.PendingWrites[0].Value)
}

func testPutWritesRequiresCheckpoint(t *testing.T, s checkpoint.Store) {
	err := s.PutWrites(context.Background(), cfg("t1"), []checkpoint.PendingWrite{{Channel: "a"}}, "n")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointIDRequired)
}

func testNamespaces(t *testing.T, s checkpoint.Store) {
	root := cfg("t1")
	child := checkpoint.Config{ThreadID: "t1", Namespace: "child"}
	chain(t, s, root, 2)
	chain(t, s, child, 3)

	assert.Len(t, list(t, s, root, nil, 0), 2)
	assert.Len(t, list(t, s, child, nil, 0), 3)

	latest, err := s.GetTuple(context.Background(), child)
	require.NoError(t, err)
	assert.Equal(t, "child", latest.Config.Namespace)
	assert.Equal(t, 2, latest.Metadata.Step)
}

func testDeleteThread(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	configs := chain(t, s, cfg("t1"), 3)
	chain(t, s, checkpoint.Config{ThreadID: "t1", Namespace: "child"}, 1)
	chain(t, s, cfg("t2"), 1)
	require.NoError(t, s.PutWrites(ctx, configs[2], []checkpoint.PendingWrite{{Channel: "a", Value: 1}}, "n"))

	require.NoError(t, s.DeleteThread(ctx, "t1"))

	tuple, err := s.GetTuple(ctx, cfg("t1"))
	require.NoError(t, err)
	assert.Nil(t, tuple)
	assert.Empty(t, list(t, s, checkpoint.Config{ThreadID: "t1", Namespace: "child"}, nil, 0))
	assert.Len(t, list(t, s, cfg("t2"), nil, 0), 1, "other threads are untouched")

	require.NoError(t, s.DeleteThread(ctx, "t1"), "deleting an empty thread is not an error")

	// A deleted thread starts over cleanly.
	chain(t, s, cfg("t1"), 1)
	tuple, err = s.GetTuple(ctx, cfg("t1"))
	require.NoError(t, err)
	assert.Empty(t, tuple.PendingWrites)
}

func testConcurrentThreads(t *testing.T, s checkpoint.Store) {
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chain(t, s, cfg(fmt.Sprintf("thread-%d", i)), 5)
		}()
	}
	wg.Wait()

	for i := range 8 {
		tuples := list(t, s, cfg(fmt.Sprintf("thread-%d", i)), nil, 0)
		assert.Equal(t, []int{4, 3, 2, 1, 0}, steps(t, tuples))
	}
}

func testConcurrentSameThread(t *testing.T, s checkpoint.Store) {
	ctx := context.Background()
	root := chain(t, s, cfg("t1"), 1)[0]

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := checkpoint.New(map[string]any{"i": i}, nil)
			_, err := s.Put(ctx, root, cp, checkpoint.Metadata{Source: checkpoint.SourceFork, Step: 1})
			assert.NoError(t, err)
			assert.NoError(t, s.PutWrites(ctx, root, []checkpoint.PendingWrite{{Channel: "c", Value: i}}, fmt.Sprintf("w%d", i)))
		}()
	}
	wg.Wait()

	assert.Len(t, list(t, s, cfg("t1"), &checkpoint.Filter{Source: checkpoint.SourceFork}, 0), 10)
	tuple, err := s.GetTuple(ctx, root)
	require.NoError(t, err)
	assert.Len(t, tuple.PendingWrites, 10)
}
