// Package checkpoint provides checkpoint persistence interfaces
package checkpoint

import (
	"context"
	"iter"
)

// Store is the checkpoint persistence contract (DIP - Dependency Inversion)
// PRINCIPLES:
// - ISP: Interface segregation with ≤5 methods
// - DIP: The executor depends on this interface, not on implementations
// - Calls for one thread are serialized by the store; unrelated threads
//   never block each other
type Store interface {
	// Put durably records cp as a child of cfg.CheckpointID and returns the
	// config addressing it. Re-putting an id with different content fails
	// with ErrCheckpointConflict.
	Put(ctx context.Context, cfg Config, cp *Checkpoint, md Metadata) (Config, error)

	// GetTuple returns the checkpoint cfg names, or the newest one for the
	// thread and namespace. It returns nil, nil when there is none.
	GetTuple(ctx context.Context, cfg Config) (*Tuple, error)

	// List yields the thread's checkpoints newest-first. The sequence is
	// finite and every range over it queries the store again.
	List(ctx context.Context, cfg Config, filter *Filter, limit int) iter.Seq2[*Tuple, error]

	// PutWrites records the pending writes of writerID against the
	// checkpoint cfg names, replacing any earlier writes of that writer.
	PutWrites(ctx context.Context, cfg Config, writes []PendingWrite, writerID string) error

	// DeleteThread removes every checkpoint and write of the thread in every
	// namespace.
	DeleteThread(ctx context.Context, threadID string) error
}

// ErrSeq returns a sequence that yields only err.
func ErrSeq(err error) iter.Seq2[*Tuple, error] {
	return func(yield func(*Tuple, error) bool) {
		yield(nil, err)
	}
}

// Collect drains a List sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*Tuple, error]) ([]*Tuple, error) {
	var out []*Tuple
	for t, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ValidateList checks the arguments every List implementation accepts.
func ValidateList(cfg Config, filter *Filter, limit int) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if limit < 0 {
		return ErrInvalidLimit
	}
	return filter.Validate()
}

// ValidateWrites checks PutWrites arguments and returns the writes with their
// writer id and sequence numbers filled in.
func ValidateWrites(cfg Config, writes []PendingWrite, writerID string) ([]PendingWrite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CheckpointID == "" {
		return nil, ErrCheckpointIDRequired
	}
	if writerID == "" {
		return nil, ErrInvalidWriterID
	}
	out := make([]PendingWrite, len(writes))
	for i, w := range writes {
		w.WriterID = writerID
		w.Seq = i
		out[i] = w
	}
	return out, nil
}
