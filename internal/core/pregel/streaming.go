package pregel

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/infrastructure/logging"
)

// Event reports one finished superstep.
type Event struct {
	ThreadID        string
	Step            int
	Nodes           []string
	ChangedChannels []string
	CheckpointID    string // empty when the checkpoint was skipped
	Timestamp       time.Time
}

// Sink receives superstep events. Emit is called synchronously from the run
// loop, in step order; a returned error is logged and does not stop the run.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// ChanSink forwards events to a bounded channel. Emit blocks while the
// channel is full and gives up when ctx is done.
type ChanSink struct {
	C chan Event
}

// NewChanSink creates a sink with a buffer of size events.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{C: make(chan Event, max(size, 0))}
}

func (s *ChanSink) Emit(ctx context.Context, ev Event) error {
	select {
	case s.C <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSink logs every event at debug level.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) error {
	l := s.Logger
	if l == nil {
		l = logging.Named("pregel.events")
	}
	l.Debug("superstep finished",
		zap.String(logging.FieldThreadID, ev.ThreadID),
		zap.Int(logging.FieldStep, ev.Step),
		zap.Strings("nodes", ev.Nodes),
		zap.Strings("changed", ev.ChangedChannels),
		zap.String(logging.FieldCheckpointID, ev.CheckpointID),
	)
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Steps returns the step of every recorded event.
func (r *Recorder) Steps() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Step
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
