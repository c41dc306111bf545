package metrics

import (
	"context"
	"iter"
	"time"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
)

// InstrumentedStore decorates a checkpoint.Store with operation counters and
// latency histograms.
type InstrumentedStore struct {
	next      checkpoint.Store
	collector *Collector
}

// InstrumentStore wraps next. A nil collector returns next unchanged.
func InstrumentStore(next checkpoint.Store, c *Collector) checkpoint.Store {
	if c == nil {
		return next
	}
	return &InstrumentedStore{next: next, collector: c}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() checkpoint.Store { return s.next }

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	s.collector.StoreOperation(op, err, time.Since(start))
}

func (s *InstrumentedStore) Put(ctx context.Context, cfg checkpoint.Config, cp *checkpoint.Checkpoint, md checkpoint.Metadata) (checkpoint.Config, error) {
	start := time.Now()
	out, err := s.next.Put(ctx, cfg, cp, md)
	s.observe("put", start, err)
	return out, err
}

func (s *InstrumentedStore) GetTuple(ctx context.Context, cfg checkpoint.Config) (*checkpoint.Tuple, error) {
	start := time.Now()
	t, err := s.next.GetTuple(ctx, cfg)
	s.observe("get_tuple", start, err)
	return t, err
}

// List counts one operation per range over the sequence.
func (s *InstrumentedStore) List(ctx context.Context, cfg checkpoint.Config, filter *checkpoint.Filter, limit int) iter.Seq2[*checkpoint.Tuple, error] {
	seq := s.next.List(ctx, cfg, filter, limit)
	return func(yield func(*checkpoint.Tuple, error) bool) {
		start := time.Now()
		var failed error
		defer func() { s.observe("list", start, failed) }()
		for t, err := range seq {
			if err != nil {
				failed = err
			}
			if !yield(t, err) {
				return
			}
		}
	}
}

func (s *InstrumentedStore) PutWrites(ctx context.Context, cfg checkpoint.Config, writes []checkpoint.PendingWrite, writerID string) error {
	start := time.Now()
	err := s.next.PutWrites(ctx, cfg, writes, writerID)
	s.observe("put_writes", start, err)
	return err
}

func (s *InstrumentedStore) DeleteThread(ctx context.Context, threadID string) error {
	start := time.Now()
	err := s.next.DeleteThread(ctx, threadID)
	s.observe("delete_thread", start, err)
	return err
}

var _ checkpoint.Store = (*InstrumentedStore)(nil)
