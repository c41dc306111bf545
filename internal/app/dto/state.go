package dto

import (
	"time"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

// StateRequest addresses a thread of a registered graph, or one checkpoint in it.
type StateRequest struct {
	Graph        string `json:"graph" validate:"required"`
	ThreadID     string `json:"thread_id" validate:"required"`
	Namespace    string `json:"checkpoint_ns,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Config addresses the request's checkpoint.
func (r *StateRequest) Config() checkpoint.Config {
	return checkpoint.Config{ThreadID: r.ThreadID, Namespace: r.Namespace, CheckpointID: r.CheckpointID}
}

// HistoryRequest lists a thread's checkpoints.
type HistoryRequest struct {
	StateRequest
	Filter *checkpoint.Filter `json:"filter,omitempty"`
	Limit  int                `json:"limit,omitempty" validate:"gte=0"`
}

// UpdateRequest edits a checkpoint's channel values.
type UpdateRequest struct {
	StateRequest
	Values map[string]any `json:"values" validate:"required"`
	AsNode string         `json:"as_node,omitempty"`
}

// StateView is the serializable form of a state snapshot.
type StateView struct {
	Values       map[string]any      `json:"values"`
	Next         []string            `json:"next,omitempty"`
	ThreadID     string              `json:"thread_id"`
	Namespace    string              `json:"checkpoint_ns,omitempty"`
	CheckpointID string              `json:"checkpoint_id"`
	ParentID     string              `json:"parent_checkpoint_id,omitempty"`
	Metadata     checkpoint.Metadata `json:"metadata"`
	CreatedAt    time.Time           `json:"created_at"`
	Pending      int                 `json:"pending_writes,omitempty"`
}
