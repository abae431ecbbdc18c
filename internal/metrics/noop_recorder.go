package metrics

import (
	"context"
	"time"

	model "github.com/rookline/chessync/internal/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordRunStart does nothing.
func (r *NoOpMetricRecorder) RecordRunStart(ctx context.Context, run *model.SyncRun) {}

// RecordRunEnd does nothing.
func (r *NoOpMetricRecorder) RecordRunEnd(ctx context.Context, run *model.SyncRun) {}

// RecordPhaseStart does nothing.
func (r *NoOpMetricRecorder) RecordPhaseStart(ctx context.Context, kind model.EntityKind) {}

// RecordPhaseEnd does nothing.
func (r *NoOpMetricRecorder) RecordPhaseEnd(ctx context.Context, kind model.EntityKind, duration time.Duration) {
}

// RecordBatchCommit does nothing.
func (r *NoOpMetricRecorder) RecordBatchCommit(ctx context.Context, kind model.EntityKind, count int) {
}

// RecordRecords does nothing.
func (r *NoOpMetricRecorder) RecordRecords(ctx context.Context, kind model.EntityKind, outcome string, count int) {
}

// RecordRetry does nothing.
func (r *NoOpMetricRecorder) RecordRetry(ctx context.Context, operation string, reason string) {}

// RecordIntegrityViolation does nothing.
func (r *NoOpMetricRecorder) RecordIntegrityViolation(ctx context.Context, rule string, count int) {}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartRunSpan starts nothing and returns the context unchanged.
func (t *NoOpTracer) StartRunSpan(ctx context.Context, run *model.SyncRun) (context.Context, func()) {
	return ctx, func() {}
}

// StartPhaseSpan starts nothing and returns the context unchanged.
func (t *NoOpTracer) StartPhaseSpan(ctx context.Context, runID string, kind model.EntityKind) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
