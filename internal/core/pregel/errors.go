package pregel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNothingToResume is returned by Resume for a thread without checkpoints.
	ErrNothingToResume = errors.New("nothing to resume")
	// ErrMaxIterations is returned once a run executes its superstep budget.
	ErrMaxIterations = errors.New("max iterations reached")
	// ErrPersistence wraps store failures on Put and PutWrites.
	ErrPersistence = errors.New("checkpoint persistence failed")
	// ErrNilGraph and ErrNilStore are returned by New.
	ErrNilGraph = errors.New("compiled graph is required")
	ErrNilStore = errors.New("checkpoint store is required")
	// ErrUnknownInputChannel rejects input for undeclared or reserved channels.
	ErrUnknownInputChannel = errors.New("input names an undeclared channel")
	// ErrUndeclaredWrite fails a node that writes a channel it did not declare.
	ErrUndeclaredWrite = errors.New("write to undeclared channel")
	// ErrInvalidWrite fails a node whose value does not fit the channel type.
	ErrInvalidWrite = errors.New("invalid channel write")
	// ErrInvalidControl fails a node that returns an unknown control signal.
	ErrInvalidControl = errors.New("invalid control signal")
	// ErrNodePanic marks a node failure caused by a panic.
	ErrNodePanic = errors.New("node panicked")
	// ErrExecutorClosed is returned after Close.
	ErrExecutorClosed = errors.New("executor closed")
)

// NodeError is the failure of one node in one superstep.
type NodeError struct {
	Node string
	Step int
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q failed in step %d: %v", e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// StepError aggregates the node failures of a superstep. Errors are ordered by
// node declaration index.
type StepError struct {
	Step   int
	Errors []*NodeError
}

func (e *StepError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ne := range e.Errors {
		parts[i] = ne.Error()
	}
	return fmt.Sprintf("superstep %d: %d node(s) failed: %s", e.Step, len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes every node error to errors.Is and errors.As.
func (e *StepError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, ne := range e.Errors {
		out[i] = ne
	}
	return out
}

// Failed returns the ids of the failed nodes.
func (e *StepError) Failed() []string {
	out := make([]string, len(e.Errors))
	for i, ne := range e.Errors {
		out[i] = ne.Node
	}
	return out
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
