package services

import "errors"

var (
	ErrNilGraph = errors.New("history service requires a compiled graph")
	ErrNilStore = errors.New("history service requires a checkpoint store")
	// ErrNoState is returned when a thread has no checkpoint to read or edit.
	ErrNoState = errors.New("thread has no checkpoint")
)
