package usecases

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrRunInProgress  = errors.New("thread already has a run in progress")
	ErrNotRunning     = errors.New("thread has no run in progress")
	ErrRunnerClosed   = errors.New("runner is closed")
)
