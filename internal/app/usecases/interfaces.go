package usecases

import (
	"context"

	"github.com/flowgraph/pregelflow/internal/app/dto"
	"github.com/flowgraph/pregelflow/internal/core/graph"
)

// GraphRepository defines the interface for compiled graph lookup
// PRINCIPLES:
// - SRP: Only responsible for graph storage and retrieval
// - DIP: Used for dependency injection
type GraphRepository interface {
	Register(ctx context.Context, g *graph.CompiledGraph) error
	Get(ctx context.Context, name string) (*graph.CompiledGraph, error)
	List(ctx context.Context) ([]*graph.CompiledGraph, error)
	Remove(ctx context.Context, name string) error
}

// GraphRunner defines the interface for running registered graphs
// PRINCIPLES:
// - SRP: Single responsibility for run orchestration
// - DIP: Depends on abstractions, not concretions
type GraphRunner interface {
	// Run invokes or resumes a thread of a registered graph.
	Run(ctx context.Context, req *dto.RunRequest) (*dto.RunResponse, error)

	// Stop asks the runs of a thread to pause at the next superstep boundary.
	Stop(ctx context.Context, graph, threadID string) error

	// Active lists the runs in progress.
	Active(ctx context.Context) []dto.RunInfo
}

// StateReader defines the interface for thread state and history
type StateReader interface {
	State(ctx context.Context, req *dto.StateRequest) (*dto.StateView, error)
	History(ctx context.Context, req *dto.HistoryRequest) ([]*dto.StateView, error)
}

// StateEditor defines the interface for time travel
type StateEditor interface {
	UpdateState(ctx context.Context, req *dto.UpdateRequest) (*dto.StateView, error)
	Fork(ctx context.Context, req *dto.StateRequest) (*dto.StateView, error)
}
