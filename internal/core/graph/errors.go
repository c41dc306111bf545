// Package graph defines domain-specific errors
package graph

import (
	"errors"
	"fmt"
)

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Graph errors
	ErrInvalidGraphName  = errors.New("invalid graph name")
	ErrNoEntryPoint      = errors.New("no entry point specified")
	ErrInvalidEntryPoint = errors.New("entry point node not found")
	ErrGraphNotFound     = errors.New("graph not found")
	ErrGraphExists       = errors.New("graph already registered")

	// Node errors
	ErrNilNode        = errors.New("node cannot be nil")
	ErrInvalidNodeID  = errors.New("invalid node ID")
	ErrReservedNodeID = errors.New("reserved node ID")
	ErrNilRunnable    = errors.New("node has no runnable")
	ErrDuplicateNode  = errors.New("duplicate node ID")
	ErrNodeNotFound   = errors.New("node not found")

	// Edge errors
	ErrNilEdge        = errors.New("edge cannot be nil")
	ErrInvalidSource  = errors.New("invalid source node")
	ErrInvalidTarget  = errors.New("invalid target node")
	ErrDuplicateEdge  = errors.New("duplicate edge")
	ErrMissingTargets = errors.New("conditional edge declares no targets")
	ErrNilRoute       = errors.New("conditional edge has no route function")

	// Structural errors reported by Compile
	ErrDanglingEdge          = errors.New("edge references an undeclared node")
	ErrOrphanNode            = errors.New("node is unreachable from the entry point")
	ErrInvalidConditional    = errors.New("conditional edge target is not declared")
	ErrUnknownChannel        = errors.New("node references an undeclared channel")
	ErrChannelTypeMismatch   = errors.New("channel type mismatch")
	ErrInvalidChannel        = errors.New("invalid channel declaration")
	ErrZeroProgressCycle     = errors.New("cycle with no channel writes")
	ErrInvalidMaxIterations  = errors.New("max iterations cannot be negative")
	ErrUnknownInterruptPoint = errors.New("interrupt point names an undeclared node")

	// Runtime routing errors
	ErrUndeclaredRoute = errors.New("route returned an undeclared target")
)

// StructuralError describes one problem found while compiling a graph. Kind
// is one of the sentinels above; Err carries the underlying cause, if any.
type StructuralError struct {
	Graph   string
	Kind    error
	Subject string
	Err     error
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("graph %q: %s: %v", e.Graph, e.Subject, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StructuralError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
