// Package checkpoint defines domain-specific errors
package checkpoint

import "errors"

// Domain errors - DRY principle: defined once, used everywhere
var (
	// Checkpoint validation errors
	ErrNilCheckpoint        = errors.New("checkpoint cannot be nil")
	ErrInvalidCheckpointID  = errors.New("invalid checkpoint ID")
	ErrInvalidThreadID      = errors.New("invalid thread ID")
	ErrCheckpointIDRequired = errors.New("config must name a checkpoint")
	ErrCheckpointNotFound   = errors.New("checkpoint not found")
	ErrCheckpointConflict   = errors.New("checkpoint id already stored with different content")
	ErrInvalidWriterID      = errors.New("invalid writer ID")

	// Filter validation errors
	ErrInvalidLimit     = errors.New("limit cannot be negative")
	ErrInvalidStepRange = errors.New("invalid step range: min_step is after max_step")
	ErrInvalidSource    = errors.New("invalid checkpoint source")
)
