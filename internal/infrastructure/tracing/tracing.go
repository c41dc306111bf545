// Package tracing wraps OpenTelemetry for the executor. Spans go to the
// global tracer provider, which is a noop until one is installed.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentName identifies spans created by this module.
const InstrumentName = "github.com/flowgraph/pregelflow"

// Span names
const (
	SpanRun       = "pregel.run"
	SpanSuperstep = "pregel.superstep"
	SpanNode      = "pregel.node"
)

// Attribute keys
const (
	AttrGraph        = attribute.Key("pregel.graph")
	AttrThreadID     = attribute.Key("pregel.thread_id")
	AttrStep         = attribute.Key("pregel.step")
	AttrNode         = attribute.Key("pregel.node")
	AttrCheckpointID = attribute.Key("pregel.checkpoint_id")
	AttrStatus       = attribute.Key("pregel.status")
	AttrNodes        = attribute.Key("pregel.nodes")
)

// Tracer returns the module tracer of tp, or of the global provider when tp
// is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentName)
}

// Start opens a span with attributes.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
