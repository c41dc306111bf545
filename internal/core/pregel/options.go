package pregel

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/flowgraph/pregelflow/internal/core/checkpoint"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
)

// Option configures an Executor.
type Option func(*options)

type options struct {
	logger            *zap.Logger
	tracerProvider    trace.TracerProvider
	metrics           *metrics.Collector
	sinks             []Sink
	parallelism       int
	parallelismFactor float64
	skipNoop          bool
	interruptBefore   []string
	interruptAfter    []string
	maxIterations     int
	locks             *checkpoint.ThreadLocks
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider sets the span provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithThreadLocks serializes runs on the lock table l. Components that share
// l, such as a services.HistoryService, are ordered against runs of the same
// thread.
func WithThreadLocks(l *checkpoint.ThreadLocks) Option {
	return func(o *options) { o.locks = l }
}

// WithMetrics records executor metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithSinks registers streaming sinks. Each superstep event is delivered to
// every sink in registration order.
func WithSinks(sinks ...Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithParallelism bounds how many nodes run at once.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithParallelismFactor sizes the pool at factor*NumCPU when no explicit
// parallelism is set.
func WithParallelismFactor(f float64) Option {
	return func(o *options) { o.parallelismFactor = f }
}

// WithSkipNoopCheckpoints skips loop checkpoints for supersteps that changed
// no channel and do not end the run.
func WithSkipNoopCheckpoints() Option {
	return func(o *options) { o.skipNoop = true }
}

// WithInterruptBefore pauses before the named nodes run, in addition to the
// graph's own list.
func WithInterruptBefore(nodes ...string) Option {
	return func(o *options) { o.interruptBefore = append(o.interruptBefore, nodes...) }
}

// WithInterruptAfter pauses after the named nodes ran, in addition to the
// graph's own list.
func WithInterruptAfter(nodes ...string) Option {
	return func(o *options) { o.interruptAfter = append(o.interruptAfter, nodes...) }
}

// WithMaxIterations overrides the graph's superstep budget per invocation.
func WithMaxIterations(n int) Option {
	return func(o *options) { o.maxIterations = n }
}
