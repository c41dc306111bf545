package dto

import (
	"time"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

// RunRequest asks for one invocation or resume of a registered graph.
type RunRequest struct {
	Graph        string         `json:"graph" validate:"required"`
	ThreadID     string         `json:"thread_id" validate:"required"`
	Namespace    string         `json:"checkpoint_ns,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"` // start from this checkpoint instead of the latest
	Input        map[string]any `json:"input,omitempty"`
	Resume       bool           `json:"resume,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty" validate:"gte=0"`
}

// Validate checks the request.
func (r *RunRequest) Validate() error {
	if r.Resume && len(r.Input) > 0 {
		return ErrResumeWithInput
	}
	return nil
}

// Config addresses the request's thread.
func (r *RunRequest) Config() checkpoint.Config {
	return checkpoint.Config{ThreadID: r.ThreadID, Namespace: r.Namespace, CheckpointID: r.CheckpointID}
}

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// RunResponse reports how a run ended.
type RunResponse struct {
	Graph        string         `json:"graph"`
	ThreadID     string         `json:"thread_id"`
	Namespace    string         `json:"checkpoint_ns,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	Status       RunStatus      `json:"status"`
	Step         int            `json:"step"`
	Values       map[string]any `json:"values,omitempty"`
	Interrupt    *InterruptView `json:"interrupt,omitempty"`
	FailedNodes  []string       `json:"failed_nodes,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	Duration     time.Duration  `json:"duration"`
}

// InterruptView describes where a run paused.
type InterruptView struct {
	Reason       string   `json:"reason"`
	Nodes        []string `json:"nodes,omitempty"`
	CheckpointID string   `json:"checkpoint_id"`
}

// RunInfo describes a run in progress.
type RunInfo struct {
	Graph     string    `json:"graph"`
	ThreadID  string    `json:"thread_id"`
	Namespace string    `json:"checkpoint_ns,omitempty"`
	Resume    bool      `json:"resume,omitempty"`
	StartTime time.Time `json:"start_time"`
}
