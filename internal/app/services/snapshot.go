package services

import (
	"time"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

// StateSnapshot is the state of a thread at one checkpoint, as a resume from
// that checkpoint would see it.
type StateSnapshot struct {
	Values        map[string]any
	Next          []string
	Config        checkpoint.Config
	ParentConfig  *checkpoint.Config
	Metadata      checkpoint.Metadata
	CreatedAt     time.Time
	PendingWrites []checkpoint.PendingWrite
}

// Done reports whether nothing is scheduled after this checkpoint.
func (s *StateSnapshot) Done() bool { return len(s.Next) == 0 }

// ChangeHook observes checkpoints written by UpdateState and Fork.
type ChangeHook func(from, to *StateSnapshot)
