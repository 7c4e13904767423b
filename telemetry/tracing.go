package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with coordination helpers.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// NoopTracer returns a tracer that records nothing.
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Assignment Spans ---

// AssignSpanOptions describes the outcome of an assignment.
type AssignSpanOptions struct {
	AgentID  string
	Strategy string
	Attempt  int
}

// StartAssignSpan starts a span for one assign call.
func (t *Tracer) StartAssignSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "coord.assign", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("task.id", taskID))
	return ctx, span
}

// EndAssignSpan ends an assignment span.
func (t *Tracer) EndAssignSpan(span trace.Span, opts AssignSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("assign.strategy", opts.Strategy),
		attribute.Int("task.attempt", opts.Attempt),
	)
	if opts.AgentID != "" {
		span.SetAttributes(attribute.String("agent.id", opts.AgentID))
	}
	endSpan(span, err)
}

// --- Execution Spans ---

// ExecuteSpanOptions describes a finished execution.
type ExecuteSpanOptions struct {
	AgentID  string
	Attempt  int
	Duration time.Duration
}

// StartExecuteSpan starts a span for running a task's work.
func (t *Tracer) StartExecuteSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "coord.execute", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("task.id", taskID))
	return ctx, span
}

// EndExecuteSpan ends an execution span.
func (t *Tracer) EndExecuteSpan(span trace.Span, opts ExecuteSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("task.attempt", opts.Attempt),
		attribute.Int64("task.duration_ms", opts.Duration.Milliseconds()),
	}
	if opts.AgentID != "" {
		attrs = append(attrs, attribute.String("agent.id", opts.AgentID))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Distribution Spans ---

// DistributeSpanOptions summarizes a fan-out.
type DistributeSpanOptions struct {
	Succeeded  int
	Failed     int
	Incomplete int
	Accepted   bool
}

// StartDistributeSpan starts a span covering a whole fan-out.
func (t *Tracer) StartDistributeSpan(ctx context.Context, count int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "coord.distribute", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int("distribute.count", count))
	return ctx, span
}

// EndDistributeSpan ends a distribution span.
func (t *Tracer) EndDistributeSpan(span trace.Span, opts DistributeSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("distribute.succeeded", opts.Succeeded),
		attribute.Int("distribute.failed", opts.Failed),
		attribute.Int("distribute.incomplete", opts.Incomplete),
		attribute.Bool("distribute.accepted", opts.Accepted),
	)
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
