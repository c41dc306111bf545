package usecases

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/app/dto"
	"github.com/flowgraph/pregelflow/internal/app/services"
	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/core/pregel"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
	"github.com/flowgraph/pregelflow/pkg/validation"
)

// Runner runs the graphs of a repository over one checkpoint store. It keeps
// one executor per graph and tracks runs in progress so they can be stopped.
// PRINCIPLES:
// - KISS: executors are built lazily and rebuilt when the graph is replaced
// - SRP: run bookkeeping only; execution semantics live in pregel
type Runner struct {
	repo   GraphRepository
	store  checkpoint.Store
	opts   []pregel.Option
	logger *zap.Logger
	locks  checkpoint.ThreadLocks // shared by every binding

	mu     sync.Mutex
	bound  map[string]*binding
	active map[runKey]*activeRun
	closed bool
}

type binding struct {
	graph   *graph.CompiledGraph
	exec    *pregel.Executor
	history *services.HistoryService
}

type runKey struct {
	graph, thread, ns string
}

type activeRun struct {
	signal *pregel.InterruptSignal
	info   dto.RunInfo
}

// NewRunner creates a runner. opts are passed to every executor it builds.
func NewRunner(repo GraphRepository, store checkpoint.Store, logger *zap.Logger, opts ...pregel.Option) *Runner {
	if logger == nil {
		logger = logging.Named("runner")
	}
	return &Runner{
		repo:   repo,
		store:  store,
		opts:   opts,
		logger: logger,
		bound:  make(map[string]*binding),
		active: make(map[runKey]*activeRun),
	}
}

// Run invokes the request's thread, or resumes it when req.Resume is set.
// The response is returned alongside any error; failed runs carry their
// failed nodes.
func (r *Runner) Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	b, err := r.bind(ctx, req.Graph)
	if err != nil {
		return nil, err
	}

	key := runKey{graph: req.Graph, thread: req.ThreadID, ns: req.Namespace}
	run := &activeRun{
		signal: &pregel.InterruptSignal{},
		info: dto.RunInfo{
			Graph: req.Graph, ThreadID: req.ThreadID, Namespace: req.Namespace,
			Resume: req.Resume, StartTime: time.Now(),
		},
	}
	if err := r.track(key, run); err != nil {
		return nil, err
	}
	defer r.untrack(key)

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	ctx = pregel.WithInterruptSignal(ctx, run.signal)

	var res *pregel.Result
	if req.Resume {
		res, err = b.exec.Resume(ctx, req.Config())
	} else {
		res, err = b.exec.Invoke(ctx, req.Config(), req.Input)
	}

	resp := &dto.RunResponse{
		Graph:     req.Graph,
		ThreadID:  req.ThreadID,
		Namespace: req.Namespace,
		Status:    dto.RunStatusFailed,
		StartTime: run.info.StartTime,
		Duration:  time.Since(run.info.StartTime),
	}
	if res != nil {
		resp.Status = dto.RunStatus(res.Status)
		resp.CheckpointID = res.Config.CheckpointID
		resp.Step = res.Step
		resp.Values = res.Values
		if in := res.Interrupt; in != nil {
			resp.Interrupt = &dto.InterruptView{Reason: string(in.Reason), Nodes: in.Nodes, CheckpointID: in.CheckpointID}
		}
	}
	if err != nil {
		resp.Error = err.Error()
		var stepErr *pregel.StepError
		if errors.As(err, &stepErr) {
			resp.FailedNodes = stepErr.Failed()
		}
		r.logger.Warn("run failed",
			zap.String(logging.FieldGraph, req.Graph),
			zap.String(logging.FieldThreadID, req.ThreadID),
			zap.Error(err),
		)
	}
	return resp, err
}

// Stop raises the interrupt signal of every run of the thread.
func (r *Runner) Stop(_ context.Context, graphName, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stopped := false
	for key, run := range r.active {
		if key.graph == graphName && key.thread == threadID {
			run.signal.Raise()
			stopped = true
		}
	}
	if !stopped {
		return fmt.Errorf("%w: %s/%s", ErrNotRunning, graphName, threadID)
	}
	return nil
}

// Active lists runs in progress, oldest first.
func (r *Runner) Active(context.Context) []dto.RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dto.RunInfo, 0, len(r.active))
	for _, run := range r.active {
		out = append(out, run.info)
	}
	slices.SortFunc(out, func(a, b dto.RunInfo) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

// State returns the state at the requested checkpoint, or the latest.
func (r *Runner) State(ctx context.Context, req *dto.StateRequest) (*dto.StateView, error) {
	b, err := r.request(ctx, req, req.Graph)
	if err != nil {
		return nil, err
	}
	snap, err := b.history.GetState(ctx, req.Config())
	if err != nil {
		return nil, err
	}
	return view(snap), nil
}

// History lists a thread's checkpoints newest first.
func (r *Runner) History(ctx context.Context, req *dto.HistoryRequest) ([]*dto.StateView, error) {
	b, err := r.request(ctx, req, req.Graph)
	if err != nil {
		return nil, err
	}
	var out []*dto.StateView
	for snap, err := range b.history.History(ctx, req.Config(), req.Filter, req.Limit) {
		if err != nil {
			return nil, err
		}
		out = append(out, view(snap))
	}
	return out, nil
}

// UpdateState edits a checkpoint and returns the new state.
func (r *Runner) UpdateState(ctx context.Context, req *dto.UpdateRequest) (*dto.StateView, error) {
	b, err := r.request(ctx, req, req.Graph)
	if err != nil {
		return nil, err
	}
	cfg, err := b.history.UpdateState(ctx, req.Config(), req.Values, req.AsNode)
	if err != nil {
		return nil, err
	}
	snap, err := b.history.GetState(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return view(snap), nil
}

// Fork copies a checkpoint and returns the copy.
func (r *Runner) Fork(ctx context.Context, req *dto.StateRequest) (*dto.StateView, error) {
	b, err := r.request(ctx, req, req.Graph)
	if err != nil {
		return nil, err
	}
	cfg, err := b.history.Fork(ctx, req.Config())
	if err != nil {
		return nil, err
	}
	snap, err := b.history.GetState(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return view(snap), nil
}

// Close releases every executor.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(r.bound)) {
		errs = append(errs, r.bound[name].exec.Close())
	}
	clear(r.bound)
	return errors.Join(errs...)
}

func (r *Runner) request(ctx context.Context, req any, graphName string) (*binding, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return r.bind(ctx, graphName)
}

// bind returns the executor of the graph currently registered as name.
func (r *Runner) bind(ctx context.Context, name string) (*binding, error) {
	g, err := r.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}
	if b, ok := r.bound[name]; ok && b.graph == g {
		return b, nil
	}

	opts := append(slices.Clone(r.opts), pregel.WithThreadLocks(&r.locks))
	exec, err := pregel.New(g, r.store, opts...)
	if err != nil {
		return nil, fmt.Errorf("build executor for %s: %w", name, err)
	}
	history, err := services.NewHistoryService(g, r.store,
		services.WithHistoryLogger(r.logger),
		services.WithThreadLocks(&r.locks),
	)
	if err != nil {
		_ = exec.Close()
		return nil, err
	}
	if old, ok := r.bound[name]; ok {
		_ = old.exec.Close()
	}
	b := &binding{graph: g, exec: exec, history: history}
	r.bound[name] = b
	r.logger.Debug("executor bound", zap.String(logging.FieldGraph, name), zap.Int("nodes", g.NodeCount()))
	return b, nil
}

func (r *Runner) track(key runKey, run *activeRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[key]; busy {
		return fmt.Errorf("%w: %s/%s", ErrRunInProgress, key.graph, key.thread)
	}
	r.active[key] = run
	return nil
}

func (r *Runner) untrack(key runKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, key)
}

func view(s *services.StateSnapshot) *dto.StateView {
	v := &dto.StateView{
		Values:       s.Values,
		Next:         s.Next,
		ThreadID:     s.Config.ThreadID,
		Namespace:    s.Config.Namespace,
		CheckpointID: s.Config.CheckpointID,
		Metadata:     s.Metadata,
		CreatedAt:    s.CreatedAt,
		Pending:      len(s.PendingWrites),
	}
	if s.ParentConfig != nil {
		v.ParentID = s.ParentConfig.CheckpointID
	}
	return v
}
