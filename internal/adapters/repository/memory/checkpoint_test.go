package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint/storetest"
	"github.com/flowgraph/pregelflow/pkg/serialization"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) checkpoint.Store {
		return DefaultStore()
	})
}

func TestStore_ConformanceJSON(t *testing.T) {
	storetest.Run(t, func(t *testing.T) checkpoint.Store {
		return NewStore(Config{Serializer: serialization.MustSerializer(serialization.SerializationConfig{
			Codec:       serialization.NewJSONCodec(),
			Compression: serialization.CompressionGzip,
		})})
	})
}

func TestStore_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Config{
		MaxMemoryMB: 1,
		Serializer:  serialization.MustSerializer(serialization.SerializationConfig{Compression: serialization.CompressionNone}),
	})

	big := map[string]any{"blob": strings.Repeat("x", 400*1024)}
	var err error
	for i := range 5 {
		_, err = store.Put(ctx, checkpoint.Config{ThreadID: fmt.Sprintf("t%d", i)}, checkpoint.New(big, nil), checkpoint.Metadata{Source: checkpoint.SourceInput, Step: -1})
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrMemoryLimit)

	stats := store.GetStats()
	assert.Equal(t, 2, stats.Checkpoints, "rejected puts leave earlier checkpoints in place")
	assert.LessOrEqual(t, stats.SizeBytes, stats.MaxBytes)

	require.NoError(t, store.DeleteThread(ctx, "t0"))
	_, err = store.Put(ctx, checkpoint.Config{ThreadID: "t9"}, checkpoint.New(big, nil), checkpoint.Metadata{Source: checkpoint.SourceInput, Step: -1})
	assert.NoError(t, err, "deleting a thread frees its budget")
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := DefaultStore()
	defer func() { _ = store.Close() }()

	assert.Equal(t, Stats{}, store.GetStats())

	cfg, err := store.Put(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.New(map[string]any{"a": 1}, nil), checkpoint.Metadata{Source: checkpoint.SourceInput})
	require.NoError(t, err)
	require.NoError(t, store.PutWrites(ctx, cfg, []checkpoint.PendingWrite{{Channel: "a", Value: 2}}, "n"))

	stats := store.GetStats()
	assert.Equal(t, 1, stats.Threads)
	assert.Equal(t, 1, stats.Checkpoints)
	assert.Positive(t, stats.SizeBytes)

	require.NoError(t, store.DeleteThread(ctx, "t1"))
	assert.Zero(t, store.GetStats().SizeBytes)
}
