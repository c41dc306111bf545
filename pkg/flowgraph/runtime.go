package flowgraph

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	graphrepo "github.com/flowgraph/pregelflow/internal/adapters/repository/graph"
	"github.com/flowgraph/pregelflow/internal/app/dto"
	"github.com/flowgraph/pregelflow/internal/app/usecases"
	"github.com/flowgraph/pregelflow/internal/config"
	"github.com/flowgraph/pregelflow/internal/core/graph"
	"github.com/flowgraph/pregelflow/internal/core/pregel"
	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
	"github.com/flowgraph/pregelflow/pkg/loader"
)

// Request and response types of the runtime.
type (
	RunRequest     = dto.RunRequest
	RunResponse    = dto.RunResponse
	RunInfo        = dto.RunInfo
	StateRequest   = dto.StateRequest
	HistoryRequest = dto.HistoryRequest
	UpdateRequest  = dto.UpdateRequest
	StateView      = dto.StateView
)

// Runtime owns a store, the graphs registered on it and the runner that
// executes them.
type Runtime struct {
	store    config.Store
	repo     *graphrepo.InMemoryGraphRepository
	runner   *usecases.Runner
	registry *loader.Registry
	logger   *zap.Logger
}

// New opens the configured store and builds a runtime over it. Executors
// record metrics on the process collector. Definitions listed in cfg.Graphs
// are loaded with reg, which may be nil for the builtin registry.
func New(ctx context.Context, cfg *config.Config, reg *loader.Registry) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if reg == nil {
		reg = loader.NewRegistry()
	}
	store, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	logger := logging.Named("runtime")
	repo := graphrepo.NewInMemoryGraphRepository()
	opts := append(cfg.Executor.Options(), pregel.WithMetrics(metrics.Default()))
	rt := &Runtime{
		store:    store,
		repo:     repo,
		runner:   usecases.NewRunner(repo, store, logging.Named("runner"), opts...),
		registry: reg,
		logger:   logger,
	}
	if err := rt.LoadDefinitions(ctx, cfg.Graphs...); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// NewInMemory returns a runtime over a memory store with default settings.
func NewInMemory() *Runtime {
	rt, err := New(context.Background(), config.Default(), nil)
	if err != nil {
		// The default configuration opens a memory store, which cannot fail.
		panic(err)
	}
	return rt
}

// Registry is the node and route registry used by LoadDefinitions.
func (rt *Runtime) Registry() *loader.Registry { return rt.registry }

// Register adds a compiled graph. Names are unique.
func (rt *Runtime) Register(ctx context.Context, g *graph.CompiledGraph) error {
	if err := rt.repo.Register(ctx, g); err != nil {
		return err
	}
	rt.logger.Info("graph registered", zap.String(logging.FieldGraph, g.Name()), zap.Int("nodes", g.NodeCount()))
	return nil
}

// Replace registers g, replacing any graph with the same name. Threads of the
// old graph keep their checkpoints.
func (rt *Runtime) Replace(ctx context.Context, g *graph.CompiledGraph) error {
	if g != nil {
		if err := rt.repo.Remove(ctx, g.Name()); err != nil && !errors.Is(err, graph.ErrGraphNotFound) {
			return err
		}
	}
	return rt.Register(ctx, g)
}

// LoadDefinitions compiles and registers the YAML definitions at paths. Every
// file is attempted; the failures are joined.
func (rt *Runtime) LoadDefinitions(ctx context.Context, paths ...string) error {
	var errs []error
	for _, path := range paths {
		g, err := loader.LoadGraph(path, rt.registry)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if err := rt.Register(ctx, g); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Graphs returns the names of the registered graphs, sorted.
func (rt *Runtime) Graphs(ctx context.Context) ([]string, error) {
	gs, err := rt.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(gs))
	for i, g := range gs {
		names[i] = g.Name()
	}
	return names, nil
}

// Graph returns the graph registered as name.
func (rt *Runtime) Graph(ctx context.Context, name string) (*graph.CompiledGraph, error) {
	return rt.repo.Get(ctx, name)
}

// Run invokes or resumes a thread.
func (rt *Runtime) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	return rt.runner.Run(ctx, req)
}

// Resume continues the latest checkpoint of a thread.
func (rt *Runtime) Resume(ctx context.Context, graphName, threadID string) (*RunResponse, error) {
	return rt.runner.Run(ctx, &RunRequest{Graph: graphName, ThreadID: threadID, Resume: true})
}

// Stop interrupts the runs of a thread at their next superstep boundary.
func (rt *Runtime) Stop(ctx context.Context, graphName, threadID string) error {
	return rt.runner.Stop(ctx, graphName, threadID)
}

// Active lists the runs in progress.
func (rt *Runtime) Active(ctx context.Context) []RunInfo { return rt.runner.Active(ctx) }

func (rt *Runtime) State(ctx context.Context, req *StateRequest) (*StateView, error) {
	return rt.runner.State(ctx, req)
}

func (rt *Runtime) History(ctx context.Context, req *HistoryRequest) ([]*StateView, error) {
	return rt.runner.History(ctx, req)
}

func (rt *Runtime) UpdateState(ctx context.Context, req *UpdateRequest) (*StateView, error) {
	return rt.runner.UpdateState(ctx, req)
}

func (rt *Runtime) Fork(ctx context.Context, req *StateRequest) (*StateView, error) {
	return rt.runner.Fork(ctx, req)
}

// DeleteThread removes every checkpoint of a thread.
func (rt *Runtime) DeleteThread(ctx context.Context, threadID string) error {
	return rt.store.DeleteThread(ctx, threadID)
}

// Close stops the executors and closes the store.
func (rt *Runtime) Close() error {
	return errors.Join(rt.runner.Close(), rt.store.Close())
}
