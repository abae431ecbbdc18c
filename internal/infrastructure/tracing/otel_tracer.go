// Package tracing provides an OpenTelemetry implementation of the Tracer
// abstraction, exporting spans over OTLP/HTTP.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/rookline/chessync/internal/domain/model"
	metrics "github.com/rookline/chessync/internal/metrics"
)

// OpenTelemetryTracer implements metrics.Tracer on top of an otel trace.Tracer.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer backed by the given otel trace.Tracer.
func NewOpenTelemetryTracer(tracer trace.Tracer) metrics.Tracer {
	return &OpenTelemetryTracer{tracer: tracer}
}

// StartRunSpan starts a span covering a whole SyncRun.
func (t *OpenTelemetryTracer) StartRunSpan(ctx context.Context, run *model.SyncRun) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "sync.run",
		trace.WithAttributes(
			attribute.String("chessync.run_id", run.ID),
			attribute.String("chessync.mode", run.Mode.String()),
		),
	)
	return ctx, func() {
		span.SetAttributes(attribute.String("chessync.status", run.Status.String()))
		if run.Status == model.RunStatusFailed {
			span.SetStatus(codes.Error, "run failed")
		}
		span.End()
	}
}

// StartPhaseSpan starts a span covering one entity phase.
func (t *OpenTelemetryTracer) StartPhaseSpan(ctx context.Context, runID string, kind model.EntityKind) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("sync.phase.%s", kind),
		trace.WithAttributes(
			attribute.String("chessync.run_id", runID),
			attribute.String("chessync.kind", kind.String()),
		),
	)
	return ctx, func() { span.End() }
}

// RecordError records an error on the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("chessync.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event on the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
