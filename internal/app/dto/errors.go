package dto

import "errors"

// Request errors
var (
	ErrMissingGraph    = errors.New("graph name is required")
	ErrMissingThreadID = errors.New("thread ID is required")
	ErrInvalidTimeout  = errors.New("timeout cannot be negative")
	ErrResumeWithInput = errors.New("resume does not take input")
)
