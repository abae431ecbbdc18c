package metrics

import (
	"context"
	"time"

	model "github.com/rookline/chessync/internal/domain/model"
)

// MetricRecorder is an abstract interface for recording synchronization metrics.
//
// It provides a standardized way to record run, phase and record-level events,
// which facilitates integration with different metrics backends
// (e.g., Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordRunStart records the start of a SyncRun.
	//
	// ctx: The context for the operation.
	// run: Details of the started run.
	RecordRunStart(ctx context.Context, run *model.SyncRun)

	// RecordRunEnd records the end of a SyncRun.
	//
	// ctx: The context for the operation.
	// run: Details of the ended run.
	RecordRunEnd(ctx context.Context, run *model.SyncRun)

	// RecordPhaseStart records the start of an entity phase within a run.
	RecordPhaseStart(ctx context.Context, kind model.EntityKind)

	// RecordPhaseEnd records the end of an entity phase within a run.
	RecordPhaseEnd(ctx context.Context, kind model.EntityKind, duration time.Duration)

	// RecordBatchCommit records a committed batch of records.
	//
	// kind: The entity kind being committed.
	// count: The number of records in the batch.
	RecordBatchCommit(ctx context.Context, kind model.EntityKind, count int)

	// RecordRecords records per-record pipeline outcomes for a kind.
	//
	// outcome: One of "upserted", "skipped" or "failed".
	// count: The number of records with that outcome.
	RecordRecords(ctx context.Context, kind model.EntityKind, outcome string, count int)

	// RecordRetry records a retry attempt of a named operation.
	//
	// operation: The operation being retried (e.g., "fetch_players").
	// reason: A string indicating why the attempt failed.
	RecordRetry(ctx context.Context, operation string, reason string)

	// RecordIntegrityViolation records violations of one integrity rule.
	RecordIntegrityViolation(ctx context.Context, rule string, count int)

	// RecordDuration records the execution time of a specific operation.
	//
	// name: The name of the duration to record (e.g., "source_fetch_duration").
	// duration: The length of the duration to record.
	// tags: A map of additional attributes to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

// Tracer is an abstract interface for distributed tracing of synchronization runs.
type Tracer interface {
	// StartRunSpan starts a span covering a whole SyncRun.
	// The returned function ends the span.
	StartRunSpan(ctx context.Context, run *model.SyncRun) (context.Context, func())

	// StartPhaseSpan starts a span covering one entity phase.
	// The returned function ends the span.
	StartPhaseSpan(ctx context.Context, runID string, kind model.EntityKind) (context.Context, func())

	// RecordError records an error in the current span.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
