// Package services holds the application services built on the executor's
// checkpoint history.
package services

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
)

// HistoryService reads and edits the checkpoint history of a graph's threads.
// PRINCIPLES:
// - Append-only: edits and forks always write new checkpoints
// - DIP: Depends on checkpoint.Store, not on a concrete adapter
type HistoryService struct {
	graph  *graph.CompiledGraph
	store  checkpoint.Store
	logger *zap.Logger
	locks  *checkpoint.ThreadLocks

	mu    sync.RWMutex
	hooks []ChangeHook
}

// HistoryOption configures a HistoryService.
type HistoryOption func(*HistoryService)

// WithHistoryLogger sets the logger.
func WithHistoryLogger(l *zap.Logger) HistoryOption {
	return func(s *HistoryService) { s.logger = l }
}

// WithThreadLocks orders edits on l. Pass the table given to the executor
// with pregel.WithThreadLocks so that an edit waits for a run of the same
// thread to finish.
func WithThreadLocks(l *checkpoint.ThreadLocks) HistoryOption {
	return func(s *HistoryService) { s.locks = l }
}

// NewHistoryService creates a history service.
func NewHistoryService(g *graph.CompiledGraph, store checkpoint.Store, opts ...HistoryOption) (*HistoryService, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if store == nil {
		return nil, ErrNilStore
	}
	s := &HistoryService{graph: g, store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Named("history")
	}
	if s.locks == nil {
		s.locks = &checkpoint.ThreadLocks{}
	}
	s.logger = s.logger.With(zap.String(logging.FieldGraph, g.Name()))
	return s, nil
}

// OnChange registers a hook called after every UpdateState and Fork.
func (s *HistoryService) OnChange(hook ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// GetState returns the checkpoint cfg names, or the latest of the thread.
func (s *HistoryService) GetState(ctx context.Context, cfg checkpoint.Config) (*StateSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tuple, err := s.tuple(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s.snapshot(tuple)
}

// History lists the thread's checkpoints newest first.
func (s *HistoryService) History(ctx context.Context, cfg checkpoint.Config, filter *checkpoint.Filter, limit int) iter.Seq2[*StateSnapshot, error] {
	return func(yield func(*StateSnapshot, error) bool) {
		for tuple, err := range s.store.List(ctx, cfg, filter, limit) {
			if err != nil {
				yield(nil, err)
				return
			}
			snap, err := s.snapshot(tuple)
			if !yield(snap, err) || err != nil {
				return
			}
		}
	}
}

// UpdateState writes values over the checkpoint cfg names (or the latest)
// bypassing reducers, and records the result as a new checkpoint with
// source=update. When asNode names a node the next nodes are computed as if
// that node had produced the edit; otherwise the parent's next nodes are kept.
func (s *HistoryService) UpdateState(ctx context.Context, cfg checkpoint.Config, values map[string]any, asNode string) (checkpoint.Config, error) {
	if err := cfg.Validate(); err != nil {
		return checkpoint.Config{}, err
	}
	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	tuple, err := s.tuple(ctx, cfg)
	if err != nil {
		return checkpoint.Config{}, err
	}
	chans, err := s.restore(tuple)
	if err != nil {
		return checkpoint.Config{}, err
	}
	for name := range values {
		if channel.IsReserved(name) {
			return checkpoint.Config{}, fmt.Errorf("%w: %q", channel.ErrUnknownChannel, name)
		}
	}
	changed, err := chans.Overwrite(values)
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("update state: %w", err)
	}

	next := tuple.Checkpoint.NextNodes
	if asNode != "" {
		i, ok := s.graph.NodeIndex(asNode)
		if !ok {
			return checkpoint.Config{}, fmt.Errorf("%w: %q", graph.ErrNodeNotFound, asNode)
		}
		succ, err := s.graph.Next(ctx, []int{i}, chans.Snapshot(), changed)
		if err != nil {
			return checkpoint.Config{}, fmt.Errorf("update state as %s: %w", asNode, err)
		}
		next = s.graph.IDs(succ)
	}

	cp := checkpoint.New(chans.Values(), chans.Versions())
	cp.UpdatedChannels = changed
	cp.NextNodes = append([]string(nil), next...)
	md := checkpoint.Metadata{Source: checkpoint.SourceUpdate, Step: tuple.Metadata.Step + 1, Node: asNode}
	return s.put(ctx, tuple, cp, md)
}

// Fork copies the checkpoint cfg names under a new id whose parent is the
// original, one step after it. Resuming the thread afterwards continues from
// the copy.
func (s *HistoryService) Fork(ctx context.Context, cfg checkpoint.Config) (checkpoint.Config, error) {
	if err := cfg.Validate(); err != nil {
		return checkpoint.Config{}, err
	}
	unlock := s.locks.Lock(cfg.ThreadID)
	defer unlock()

	tuple, err := s.tuple(ctx, cfg)
	if err != nil {
		return checkpoint.Config{}, err
	}
	cp := checkpoint.New(tuple.Checkpoint.ChannelValues, tuple.Checkpoint.ChannelVersions)
	cp.NextNodes = append([]string(nil), tuple.Checkpoint.NextNodes...)
	md := checkpoint.Metadata{
		Source: checkpoint.SourceFork,
		Step:   tuple.Metadata.Step + 1,
		Node:   tuple.Metadata.Node,
		Extra:  map[string]any{"forked_from": tuple.Config.CheckpointID},
	}
	return s.put(ctx, tuple, cp, md)
}

func (s *HistoryService) tuple(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	tuple, err := s.store.GetTuple(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	if tuple == nil {
		if cfg.CheckpointID != "" {
			return nil, fmt.Errorf("%w: %s", checkpoint.ErrCheckpointNotFound, cfg.CheckpointID)
		}
		return nil, fmt.Errorf("%w: %q", ErrNoState, cfg.ThreadID)
	}
	return tuple, nil
}

func (s *HistoryService) restore(tuple *checkpoint.Tuple) (*channel.Set, error) {
	chans, err := s.graph.NewChannels()
	if err != nil {
		return nil, err
	}
	if err := chans.Restore(tuple.Checkpoint.ChannelValues, tuple.Checkpoint.ChannelVersions); err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", tuple.Config.CheckpointID, err)
	}
	return chans, nil
}

func (s *HistoryService) snapshot(tuple *checkpoint.Tuple) (*StateSnapshot, error) {
	chans, err := s.restore(tuple)
	if err != nil {
		return nil, err
	}
	return &StateSnapshot{
		Values:        chans.Values(),
		Next:          append([]string(nil), tuple.Checkpoint.NextNodes...),
		Config:        tuple.Config,
		ParentConfig:  tuple.ParentConfig,
		Metadata:      tuple.Metadata,
		CreatedAt:     tuple.Checkpoint.Timestamp,
		PendingWrites: tuple.PendingWrites,
	}, nil
}

func (s *HistoryService) put(ctx context.Context, from *checkpoint.Tuple, cp *checkpoint.Checkpoint, md checkpoint.Metadata) (checkpoint.Config, error) {
	cfg, err := s.store.Put(ctx, from.Config, cp, md)
	if err != nil {
		return checkpoint.Config{}, fmt.Errorf("put checkpoint: %w", err)
	}
	s.logger.Info("checkpoint written",
		zap.String(logging.FieldThreadID, cfg.ThreadID),
		zap.String(logging.FieldCheckpointID, cfg.CheckpointID),
		zap.String("source", string(md.Source)),
		zap.Int(logging.FieldStep, md.Step),
	)

	s.mu.RLock()
	hooks := append([]ChangeHook(nil), s.hooks...)
	s.mu.RUnlock()
	if len(hooks) == 0 {
		return cfg, nil
	}
	before, err := s.snapshot(from)
	if err != nil {
		return cfg, err
	}
	parent := from.Config
	after := &StateSnapshot{
		Values:       cp.ChannelValues,
		Next:         cp.NextNodes,
		Config:       cfg,
		ParentConfig: &parent,
		Metadata:     md,
		CreatedAt:    cp.Timestamp,
	}
	for _, h := range hooks {
		h(before, after)
	}
	return cfg, nil
}
