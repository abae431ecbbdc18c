package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/rookline/chessync/internal/domain/model"
	metrics "github.com/rookline/chessync/internal/metrics"
	logger "github.com/rookline/chessync/internal/support/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Run metrics
	runDurationSeconds *prometheus.HistogramVec
	runStatusCounter   *prometheus.CounterVec

	// Phase metrics
	phaseDurationSeconds *prometheus.HistogramVec
	phaseStatusCounter   *prometheus.CounterVec

	// Record metrics
	batchCommitCounter  *prometheus.CounterVec
	recordCounter       *prometheus.CounterVec
	retryCounter        *prometheus.CounterVec
	integrityViolations *prometheus.CounterVec

	// Generic durations
	operationDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chessync_run_duration_seconds",
			Help:    "Duration of synchronization runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		runStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chessync_run_status_total",
			Help: "Total number of synchronization runs by status.",
		}, []string{"mode", "status"}),
		phaseDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chessync_phase_duration_seconds",
			Help:    "Duration of entity phases within a run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		phaseStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chessync_phase_total",
			Help: "Total number of started entity phases.",
		}, []string{"kind"}),
		batchCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chessync_batch_commit_total",
			Help: "Total records committed in batches.",
		}, []string{"kind"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chessync_records_total",
			Help: "Total records by kind and pipeline outcome.",
		}, []string{"kind", "outcome"}),
		retryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chessync_retry_total",
			Help: "Total retry attempts by operation and reason.",
		}, []string{"operation", "reason"}),
		integrityViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chessync_integrity_violations_total",
			Help: "Total integrity rule violations found.",
		}, []string{"rule"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chessync_operation_duration_seconds",
			Help:    "Duration of named internal operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(r.runDurationSeconds)
	registry.MustRegister(r.runStatusCounter)
	registry.MustRegister(r.phaseDurationSeconds)
	registry.MustRegister(r.phaseStatusCounter)
	registry.MustRegister(r.batchCommitCounter)
	registry.MustRegister(r.recordCounter)
	registry.MustRegister(r.retryCounter)
	registry.MustRegister(r.integrityViolations)
	registry.MustRegister(r.operationDuration)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordRunStart records the start of a SyncRun.
func (r *PrometheusRecorder) RecordRunStart(ctx context.Context, run *model.SyncRun) {
	r.runStatusCounter.WithLabelValues(run.Mode.String(), run.Status.String()).Inc()
	logger.Debugf("Metrics: Run '%s' (%s) started.", run.ID, run.Mode)
}

// RecordRunEnd records the end of a SyncRun.
func (r *PrometheusRecorder) RecordRunEnd(ctx context.Context, run *model.SyncRun) {
	r.runStatusCounter.WithLabelValues(run.Mode.String(), run.Status.String()).Inc()
	if run.EndTime == nil {
		return
	}
	duration := run.EndTime.Sub(run.StartTime).Seconds()
	r.runDurationSeconds.WithLabelValues(run.Mode.String(), run.Status.String()).Observe(duration)
	logger.Debugf("Metrics: Run '%s' ended with %s. Duration: %.3fs", run.ID, run.Status, duration)
}

// RecordPhaseStart records the start of an entity phase.
func (r *PrometheusRecorder) RecordPhaseStart(ctx context.Context, kind model.EntityKind) {
	r.phaseStatusCounter.WithLabelValues(kind.String()).Inc()
}

// RecordPhaseEnd records the end of an entity phase.
func (r *PrometheusRecorder) RecordPhaseEnd(ctx context.Context, kind model.EntityKind, duration time.Duration) {
	r.phaseDurationSeconds.WithLabelValues(kind.String()).Observe(duration.Seconds())
}

// RecordBatchCommit records a committed batch.
func (r *PrometheusRecorder) RecordBatchCommit(ctx context.Context, kind model.EntityKind, count int) {
	r.batchCommitCounter.WithLabelValues(kind.String()).Add(float64(count))
}

// RecordRecords records per-record pipeline outcomes.
func (r *PrometheusRecorder) RecordRecords(ctx context.Context, kind model.EntityKind, outcome string, count int) {
	if count <= 0 {
		return
	}
	r.recordCounter.WithLabelValues(kind.String(), outcome).Add(float64(count))
}

// RecordRetry records a retry attempt.
func (r *PrometheusRecorder) RecordRetry(ctx context.Context, operation string, reason string) {
	r.retryCounter.WithLabelValues(operation, reason).Inc()
}

// RecordIntegrityViolation records violations of one integrity rule.
func (r *PrometheusRecorder) RecordIntegrityViolation(ctx context.Context, rule string, count int) {
	if count <= 0 {
		return
	}
	r.integrityViolations.WithLabelValues(rule).Add(float64(count))
}

// RecordDuration records the execution time of a named operation.
// Tags beyond the name are logged but not exported; the histogram keeps its
// cardinality bounded.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDuration.WithLabelValues(name).Observe(duration.Seconds())
	if len(tags) > 0 {
		logger.Debugf("Metrics: %s took %s (tags: %v)", name, duration, tags)
	}
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
