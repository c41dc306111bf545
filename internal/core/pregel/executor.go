// Package pregel runs compiled graphs as bulk-synchronous supersteps. Every
// superstep executes the active nodes concurrently against a frozen snapshot,
// merges their writes at a barrier and records a checkpoint, so a run can be
// interrupted, resumed or replayed from any point of its history.
package pregel

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/core/channel"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
	"github.com/flowgraph/pregelflow/internal/infrastructure/tracing"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Result is returned for every terminal state. Config addresses the latest
// checkpoint of the run and Step is its step number.
type Result struct {
	Status    Status
	Config    checkpoint.Config
	Step      int
	Values    map[string]any
	Interrupt *Interrupt
}

// Executor drives compiled graphs over a checkpoint store.
// PRINCIPLES:
// - One executor serves many threads; runs on the same thread are serialized
// - Channels are mutated only in the single-threaded barrier
// - The store is the only state shared between runs
type Executor struct {
	graph   *graph.CompiledGraph
	store   checkpoint.Store
	opts    options
	logger  *zap.Logger
	tracer  trace.Tracer
	sched   *scheduler
	locks   *checkpoint.ThreadLocks
	before  map[int]bool
	after   map[int]bool
	maxIter int
	closed  atomic.Bool
}

// New creates an executor for g persisting to store.
func New(g *graph.CompiledGraph, store checkpoint.Store, opts ...Option) (*Executor, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if store == nil {
		return nil, ErrNilStore
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Named("pregel")
	}
	if o.locks == nil {
		o.locks = &checkpoint.ThreadLocks{}
	}

	cfg := g.Config()
	before, err := interruptSet(g, append(cfg.InterruptBefore, o.interruptBefore...))
	if err != nil {
		return nil, err
	}
	after, err := interruptSet(g, append(cfg.InterruptAfter, o.interruptAfter...))
	if err != nil {
		return nil, err
	}

	size := workers(o.parallelism, o.parallelismFactor)
	sched, err := newScheduler(size)
	if err != nil {
		return nil, err
	}
	o.metrics.SetSchedulerWorkers(size)

	maxIter := g.MaxIterations()
	if o.maxIterations > 0 {
		maxIter = o.maxIterations
	}

	return &Executor{
		graph:   g,
		store:   metrics.InstrumentStore(store, o.metrics),
		opts:    o,
		logger:  o.logger.With(zap.String(logging.FieldGraph, g.Name())),
		tracer:  tracing.Tracer(o.tracerProvider),
		sched:   sched,
		locks:   o.locks,
		before:  before,
		after:   after,
		maxIter: maxIter,
	}, nil
}

func interruptSet(g *graph.CompiledGraph, ids []string) (map[int]bool, error) {
	idx, err := g.Resolve(ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", graph.ErrUnknownInterruptPoint, err)
	}
	out := make(map[int]bool, len(idx))
	for _, i := range idx {
		out[i] = true
	}
	return out, nil
}

// Graph returns the compiled graph the executor runs.
func (e *Executor) Graph() *graph.CompiledGraph { return e.graph }

// Store returns the checkpoint store, instrumented when metrics are enabled.
func (e *Executor) Store() checkpoint.Store { return e.store }

// Stats reports worker pool usage.
func (e *Executor) Stats() SchedulerStats { return e.sched.stats() }

// Close releases the worker pool. Runs started afterwards fail.
func (e *Executor) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.sched.close()
	}
	return nil
}

// Invoke writes input through the channel reducers as an input checkpoint on
// the thread cfg names and runs the graph from its entry point. When cfg
// names a historical checkpoint the run continues from it, forking history.
func (e *Executor) Invoke(ctx context.Context, cfg checkpoint.Config, input map[string]any) (*Result, error) {
	return e.execute(ctx, cfg, "invoke", func(ctx context.Context, r *run) error {
		return r.startInput(ctx, cfg, input)
	})
}

// Resume continues the thread from its latest (or the named) checkpoint.
// Nodes whose writes were recorded before an earlier run stopped are not run
// again.
func (e *Executor) Resume(ctx context.Context, cfg checkpoint.Config) (*Result, error) {
	return e.execute(ctx, cfg, "resume", func(ctx context.Context, r *run) error {
		return r.startResume(ctx, cfg)
	})
}

func (e *Executor) execute(ctx context.Context, cfg checkpoint.Config, mode string, start func(context.Context, *run) error) (res *Result, err error) {
	if e.closed.Load() {
		return nil, ErrExecutorClosed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(cfg.ThreadID)
	defer unlock()

	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanRun,
		tracing.AttrGraph.String(e.graph.Name()),
		tracing.AttrThreadID.String(cfg.ThreadID),
	)
	e.opts.metrics.RunStarted()
	defer func() {
		status := string(StatusFailed)
		if res != nil {
			status = string(res.Status)
			span.SetAttributes(tracing.AttrStatus.String(status), tracing.AttrCheckpointID.String(res.Config.CheckpointID))
		}
		e.opts.metrics.RunFinished(e.graph.Name(), status)
		tracing.End(span, err)
	}()

	chans, err := e.graph.NewChannels()
	if err != nil {
		return nil, err
	}
	r := &run{
		e:      e,
		chans:  chans,
		signal: SignalFrom(ctx),
		log:    e.logger.With(zap.String(logging.FieldThreadID, cfg.ThreadID), zap.String(logging.FieldNamespace, cfg.Namespace)),
	}
	if err := start(ctx, r); err != nil {
		return nil, err
	}
	r.log.Debug("run started", zap.String("mode", mode), zap.Int(logging.FieldStep, r.step), zap.Strings("next", e.graph.IDs(r.next)))

	res, err = r.loop(ctx)
	if res != nil {
		r.log.Info("run finished",
			zap.String("status", string(res.Status)),
			zap.Int(logging.FieldStep, res.Step),
			zap.String(logging.FieldCheckpointID, res.Config.CheckpointID),
			zap.Error(err),
		)
	}
	return res, err
}

// restore loads the checkpoint cfg names into the run's channels.
func (r *run) restore(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	tuple, err := r.e.store.GetTuple(ctx, cfg)
	if err != nil {
		return nil, persistenceError("get tuple", err)
	}
	if tuple == nil {
		if cfg.CheckpointID != "" {
			return nil, fmt.Errorf("%w: %s", checkpoint.ErrCheckpointNotFound, cfg.CheckpointID)
		}
		return nil, nil
	}
	if err := r.chans.Restore(tuple.Checkpoint.ChannelValues, tuple.Checkpoint.ChannelVersions); err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", tuple.Config.CheckpointID, err)
	}
	r.cfg = tuple.Config
	r.lastStep = tuple.Metadata.Step
	r.step = tuple.Metadata.Step + 1
	return tuple, nil
}

func (r *run) startInput(ctx context.Context, cfg checkpoint.Config, input map[string]any) error {
	tuple, err := r.restore(ctx, cfg)
	if err != nil {
		return err
	}
	if tuple == nil {
		r.cfg = cfg.Latest()
		r.step = -1
	}

	updates := make(map[string][]any, len(input))
	for name, v := range input {
		if channel.IsReserved(name) {
			return fmt.Errorf("%w: %q", ErrUnknownInputChannel, name)
		}
		if _, ok := r.e.graph.ChannelSpec(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownInputChannel, name)
		}
		updates[name] = []any{v}
	}
	changed, err := r.chans.Apply(updates)
	if err != nil {
		return fmt.Errorf("apply input: %w", err)
	}
	r.next = r.e.graph.Start(changed)

	inputStep := r.step
	if err := r.checkpoint(ctx, checkpoint.SourceInput, inputStep, "", changed); err != nil {
		return err
	}
	r.step = inputStep + 1
	return nil
}

func (r *run) startResume(ctx context.Context, cfg checkpoint.Config) error {
	tuple, err := r.restore(ctx, cfg)
	if err != nil {
		return err
	}
	if tuple == nil {
		return fmt.Errorf("%w: thread %q", ErrNothingToResume, cfg.ThreadID)
	}
	next, err := r.e.graph.Resolve(tuple.Checkpoint.NextNodes)
	if err != nil {
		return fmt.Errorf("resume checkpoint %s: %w", tuple.Config.CheckpointID, err)
	}
	r.next = next
	r.pending = recoverWrites(r.e.graph, tuple.PendingWrites)
	r.resumed = true
	return nil
}
