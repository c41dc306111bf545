package pregel

import (
	"context"
	"sync/atomic"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

// InterruptReason says why a run paused.
type InterruptReason string

const (
	// ReasonNode: a node returned ControlInterrupt.
	ReasonNode InterruptReason = "node"
	// ReasonBefore: the next superstep contains an InterruptBefore node.
	ReasonBefore InterruptReason = "before"
	// ReasonAfter: an InterruptAfter node ran.
	ReasonAfter InterruptReason = "after"
	// ReasonSignal: the InterruptSignal was raised.
	ReasonSignal InterruptReason = "signal"
	// ReasonCancelled: the context was done at a superstep boundary.
	ReasonCancelled InterruptReason = "cancelled"
)

// Interrupt describes a paused run. Config addresses the last checkpoint, so
// passing it to Resume continues exactly where the run stopped.
type Interrupt struct {
	Reason       InterruptReason
	Nodes        []string
	Config       checkpoint.Config
	CheckpointID string
}

// InterruptSignal asks a running execution to pause at the next superstep
// boundary. A raised signal is consumed by the run that observes it.
type InterruptSignal struct {
	raised atomic.Bool
}

// Raise requests an interrupt.
func (s *InterruptSignal) Raise() { s.raised.Store(true) }

// Raised reports whether an interrupt is pending.
func (s *InterruptSignal) Raised() bool { return s.raised.Load() }

// Reset withdraws a pending interrupt.
func (s *InterruptSignal) Reset() { s.raised.Store(false) }

func (s *InterruptSignal) consume() bool {
	return s != nil && s.raised.CompareAndSwap(true, false)
}

type signalKey struct{}

// WithInterruptSignal attaches s to ctx. Invoke and Resume watch it.
func WithInterruptSignal(ctx context.Context, s *InterruptSignal) context.Context {
	return context.WithValue(ctx, signalKey{}, s)
}

// SignalFrom returns the signal attached to ctx, or nil.
func SignalFrom(ctx context.Context) *InterruptSignal {
	s, _ := ctx.Value(signalKey{}).(*InterruptSignal)
	return s
}
