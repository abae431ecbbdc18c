// Package sync implements the synchronization orchestrator: the pipeline
// that pulls records from the external source phase by phase, commits them
// in batches, checkpoints its progress and reacts to cancellation requests.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	config "github.com/rookline/chessync/internal/config"
	model "github.com/rookline/chessync/internal/domain/model"
	repository "github.com/rookline/chessync/internal/domain/repository"
	batch "github.com/rookline/chessync/internal/engine/batch"
	integrity "github.com/rookline/chessync/internal/engine/integrity"
	retry "github.com/rookline/chessync/internal/engine/retry"
	source "github.com/rookline/chessync/internal/infrastructure/source"
	metrics "github.com/rookline/chessync/internal/metrics"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

const moduleOrchestrator = "orchestrator"

// ErrAlreadyRunning is returned by Start while a run is in flight. The
// returned run ID identifies the run that is already active.
var ErrAlreadyRunning = errors.New("a synchronization run is already active")

// ErrNoActiveRun is returned by Cancel when nothing is running.
var ErrNoActiveRun = errors.New("no active synchronization run")

// SnapshotExporter is the optional hook invoked after a completed full run.
// Implementations export the imported dataset to snapshot storage.
type SnapshotExporter interface {
	// Export writes a snapshot of the imported games and returns the
	// location it was stored at.
	Export(ctx context.Context, runID string) (string, error)
}

// Orchestrator drives synchronization runs. A single run is active at a
// time; phases execute in the fixed PhaseOrder and batches within a phase
// execute sequentially, which is what makes the checkpoint exact.
type Orchestrator struct {
	cfg      *config.SyncConfig
	source   source.Client
	repo     repository.SyncRepository
	store    repository.EntityStore
	retry    retry.Executor
	checker  *integrity.Checker
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
	exporter SnapshotExporter // optional, nil when export is disabled

	mu          gosync.Mutex
	activeRunID string
	runCancel   context.CancelFunc // cancels the active run's context, nil when idle
	cancelFlag  atomic.Bool
	wg          gosync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewOrchestrator creates an Orchestrator. exporter may be nil.
func NewOrchestrator(
	cfg *config.SyncConfig,
	src source.Client,
	repo repository.SyncRepository,
	store repository.EntityStore,
	executor retry.Executor,
	checker *integrity.Checker,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	exporter SnapshotExporter,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		source:     src,
		repo:       repo,
		store:      store,
		retry:      executor,
		checker:    checker,
		recorder:   recorder,
		tracer:     tracer,
		exporter:   exporter,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start launches a run in the background and returns its ID. When a run is
// already active, no new run starts and the active run's ID is returned with
// ErrAlreadyRunning.
//
// mode: The requested run mode. A resume keeps the interrupted run's mode
// from the checkpoint regardless of this value.
// resume: When true, continue from the persisted checkpoint if one exists.
func (o *Orchestrator) Start(mode model.RunMode, resume bool) (string, error) {
	run, cp, err := o.prepareRun(o.baseCtx, mode, resume)
	if err != nil {
		return o.activeID(), err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.execute(o.baseCtx, run, cp); err != nil && !exception.IsCancellation(err) {
			logger.Errorf("Synchronization run %s failed: %v", run.ID, err)
		}
	}()
	return run.ID, nil
}

// Run executes a synchronization run to completion on the calling goroutine.
// It returns the finished run; a cancelled run is not an error, the run's
// status distinguishes CANCELLED from FAILED.
func (o *Orchestrator) Run(ctx context.Context, mode model.RunMode, resume bool) (*model.SyncRun, error) {
	run, cp, err := o.prepareRun(ctx, mode, resume)
	if err != nil {
		return nil, err
	}
	execErr := o.execute(ctx, run, cp)
	if execErr != nil && !exception.IsCancellation(execErr) {
		return run, execErr
	}
	return run, nil
}

// Cancel requests cooperative cancellation of the active run. The run stops
// at the next batch or phase boundary, or immediately when it is waiting out
// a retry backoff, persists its checkpoint and ends as CANCELLED. Returns
// ErrNoActiveRun when nothing is running.
func (o *Orchestrator) Cancel() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeRunID == "" {
		return "", ErrNoActiveRun
	}
	o.cancelFlag.Store(true)
	if o.runCancel != nil {
		// The flag alone is only polled at batch boundaries; cancelling the
		// run context also interrupts a backoff wait in progress.
		o.runCancel()
	}
	logger.Infof("Cancellation requested for run %s.", o.activeRunID)
	return o.activeRunID, nil
}

// Status returns the singleton live status row. Before the first run it
// returns an idle status.
func (o *Orchestrator) Status(ctx context.Context) (*model.SyncStatus, error) {
	status, err := o.repo.ReadStatus(ctx)
	if errors.Is(err, repository.ErrStatusNotFound) {
		return model.NewSyncStatus(), nil
	}
	return status, err
}

// IntegrityReport runs the integrity rules on demand and returns the report.
func (o *Orchestrator) IntegrityReport(ctx context.Context) (*integrity.Report, error) {
	return o.checker.Check(ctx)
}

// Shutdown cancels any active run and waits for it to finish. Called from
// the application lifecycle on stop.
func (o *Orchestrator) Shutdown() {
	o.cancelFlag.Store(true)
	o.baseCancel()
	o.wg.Wait()
}

// activeID returns the ID of the active run, or an empty string.
func (o *Orchestrator) activeID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeRunID
}

// prepareRun enforces the single-active-run invariant, resolves the resume
// checkpoint and persists the new SyncRun row.
func (o *Orchestrator) prepareRun(ctx context.Context, mode model.RunMode, resume bool) (*model.SyncRun, *model.SyncCheckpoint, error) {
	o.mu.Lock()
	if o.activeRunID != "" {
		id := o.activeRunID
		o.mu.Unlock()
		logger.Infof("Start requested while run %s is active; not starting a new run.", id)
		return nil, nil, ErrAlreadyRunning
	}
	// Reserve the slot before releasing the lock so concurrent starts race
	// on the mutex, not on the database.
	o.activeRunID = "pending"
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		o.activeRunID = ""
		o.mu.Unlock()
	}

	var cp *model.SyncCheckpoint
	if resume {
		found, err := o.repo.FindCheckpoint(ctx)
		switch {
		case err == nil:
			cp = found
		case errors.Is(err, repository.ErrCheckpointNotFound):
			logger.Infof("Resume requested but no checkpoint exists; starting from the first phase.")
		default:
			release()
			return nil, nil, err
		}
	}

	run := model.NewSyncRun(mode)
	if cp != nil {
		// A resumed run continues the interrupted run's mode; switching
		// mode mid-run would make the checkpoint offsets meaningless.
		run.Mode = cp.Mode
		run.ResumedFrom = cp.RunID
		run.CurrentPhase = cp.Phase
		logger.Infof("Resuming run %s from phase %s, batch %d (new run %s).",
			cp.RunID, cp.Phase, cp.BatchIndex, run.ID)
	}

	if err := o.repo.SaveRun(ctx, run); err != nil {
		release()
		return nil, nil, err
	}

	o.mu.Lock()
	o.activeRunID = run.ID
	o.mu.Unlock()
	o.cancelFlag.Store(false)
	return run, cp, nil
}

// execute runs the pipeline for an already persisted run and finalizes its
// terminal state. The returned error is the pipeline error, nil on a
// completed run and a cancellation error on a cancelled one.
func (o *Orchestrator) execute(ctx context.Context, run *model.SyncRun, cp *model.SyncCheckpoint) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	o.mu.Lock()
	o.runCancel = cancelRun
	o.mu.Unlock()
	defer func() {
		cancelRun()
		o.mu.Lock()
		o.activeRunID = ""
		o.runCancel = nil
		o.mu.Unlock()
	}()

	runCtx, endSpan := o.tracer.StartRunSpan(runCtx, run)
	defer endSpan()
	o.recorder.RecordRunStart(runCtx, run)
	started := time.Now()

	run.MarkAsRunning()
	if err := o.repo.UpdateRun(runCtx, run); err != nil {
		logger.Warnf("Could not persist RUNNING state for run %s: %v", run.ID, err)
	}
	o.writeStatus(runCtx, run, true, o.startProgress(cp), fmt.Sprintf("Starting %s sync", run.Mode), "")

	pipelineErr := o.runPhases(runCtx, run, cp)

	// Finalization must reach the database even when the run context was
	// cancelled mid-run.
	doneCtx := context.WithoutCancel(runCtx)
	switch {
	case pipelineErr == nil:
		o.finishCompleted(doneCtx, run)
	case exception.IsCancellation(pipelineErr):
		o.finishCancelled(doneCtx, run)
	default:
		o.finishFailed(doneCtx, run, pipelineErr)
	}

	o.recorder.RecordRunEnd(doneCtx, run)
	o.recorder.RecordDuration(doneCtx, "run_duration", time.Since(started), map[string]string{
		"mode":   run.Mode.String(),
		"status": run.Status.String(),
	})
	return pipelineErr
}

// runPhases drives every phase from the resume position onward.
func (o *Orchestrator) runPhases(ctx context.Context, run *model.SyncRun, cp *model.SyncCheckpoint) error {
	startPhase := 0
	startBatch := 0
	if cp != nil {
		for i, kind := range model.PhaseOrder {
			if kind == cp.Phase {
				startPhase = i
				break
			}
		}
		// Batch offsets are only stable for a FULL run, where every fetched
		// record is processed. An incremental phase indexes the filtered
		// set, which shrinks once the records committed before the
		// interruption hash-match, so the resumed phase restarts at its
		// first remaining batch; the filter keeps committed records out.
		if cp.Mode != model.RunModeIncremental {
			startBatch = cp.BatchIndex + 1
		}
	}

	for i := startPhase; i < len(model.PhaseOrder); i++ {
		firstBatch := 0
		if i == startPhase {
			firstBatch = startBatch
		}
		if err := o.runPhase(ctx, run, i, model.PhaseOrder[i], firstBatch); err != nil {
			return err
		}
	}
	return nil
}

// runPhase fetches, filters and commits one entity kind.
func (o *Orchestrator) runPhase(ctx context.Context, run *model.SyncRun, phaseIndex int, kind model.EntityKind, startBatch int) error {
	if err := o.checkStop(ctx); err != nil {
		return err
	}

	phaseCtx, endSpan := o.tracer.StartPhaseSpan(ctx, run.ID, kind)
	defer endSpan()
	o.recorder.RecordPhaseStart(phaseCtx, kind)
	phaseStart := time.Now()

	run.CurrentPhase = kind
	o.writeStatus(phaseCtx, run, true, phaseProgress(phaseIndex, 0, 0), fmt.Sprintf("Fetching %s", kind), "")

	var records []model.SourceRecord
	fetchStart := time.Now()
	err := o.retry.Execute(phaseCtx, "fetch_"+kind.String(), func(ctx context.Context) error {
		var ferr error
		records, ferr = o.source.FetchAll(ctx, kind)
		return ferr
	})
	if err != nil {
		return err
	}
	o.recorder.RecordDuration(phaseCtx, "source_fetch_duration", time.Since(fetchStart), map[string]string{"kind": kind.String()})
	run.Counts.Fetched += len(records)

	if run.Mode == model.RunModeIncremental {
		var unchanged []string
		records, unchanged, err = o.filterIncremental(phaseCtx, kind, records)
		if err != nil {
			return err
		}
		if len(unchanged) > 0 {
			err = o.retry.Execute(phaseCtx, "touch_"+kind.String(), func(ctx context.Context) error {
				return o.store.TouchSynced(ctx, kind, unchanged)
			})
			if err != nil {
				return err
			}
			run.Counts.Skipped += len(unchanged)
			o.recorder.RecordRecords(phaseCtx, kind, "skipped", len(unchanged))
		}
	}

	processor := batch.NewProcessor[model.SourceRecord](o.cfg.BatchSize)
	if startBatch > 0 {
		logger.Infof("Phase %s resumes at batch %d/%d.", kind, startBatch+1, processor.NumBatches(len(records)))
	}

	err = processor.Process(phaseCtx, records, startBatch, func(ctx context.Context, index, total int, items []model.SourceRecord) error {
		if err := o.checkStop(ctx); err != nil {
			return err
		}

		result, err := o.commitRecords(ctx, run, kind, items)
		if err != nil {
			return err
		}

		run.Counts.Upserted += result.Upserted
		run.Counts.Skipped += result.Skipped
		o.recorder.RecordBatchCommit(ctx, kind, len(items))
		if result.Upserted > 0 {
			o.recorder.RecordRecords(ctx, kind, "upserted", result.Upserted)
		}
		if result.Skipped > 0 {
			o.recorder.RecordRecords(ctx, kind, "skipped", result.Skipped)
		}

		// The checkpoint advances only after the whole batch committed, so
		// it always points at a batch boundary.
		progress := phaseProgress(phaseIndex, index+1, total)
		checkpoint := &model.SyncCheckpoint{
			RunID:        run.ID,
			Mode:         run.Mode,
			Phase:        kind,
			BatchIndex:   index,
			LastSourceID: items[len(items)-1].SourceID,
			Progress:     progress,
		}
		if err := o.repo.SaveCheckpoint(ctx, checkpoint); err != nil {
			return err
		}
		run.LastUpdated = time.Now()
		if err := o.repo.UpdateRun(ctx, run); err != nil {
			return err
		}
		o.writeStatus(ctx, run, true, progress, fmt.Sprintf("Importing %s (batch %d/%d)", kind, index+1, total), "")
		return nil
	})
	if err != nil {
		return err
	}

	o.refreshKindStatus(phaseCtx, run, kind)
	o.recorder.RecordPhaseEnd(phaseCtx, kind, time.Since(phaseStart))
	logger.Infof("Phase %s finished: %d record(s) in %d batch(es).", kind, len(records), processor.NumBatches(len(records)))
	return nil
}

// filterIncremental splits the fetched set into the records an incremental
// run must revisit (new records, changed payloads, stale or failed rows) and
// the SourceIDs of unchanged fresh records, which only need their last-synced
// timestamp refreshed.
func (o *Orchestrator) filterIncremental(ctx context.Context, kind model.EntityKind, records []model.SourceRecord) ([]model.SourceRecord, []string, error) {
	staleBefore := time.Now().Add(-time.Duration(o.cfg.StaleAfterHours) * time.Hour)
	candidates, err := o.store.CandidateSourceIDs(ctx, kind, staleBefore)
	if err != nil {
		return nil, nil, err
	}
	hashes, err := o.store.HashesByKind(ctx, kind)
	if err != nil {
		return nil, nil, err
	}

	kept := make([]model.SourceRecord, 0, len(records))
	var unchanged []string
	for _, rec := range records {
		stored, known := hashes[rec.SourceID]
		if !known || stored != rec.Hash || candidates[rec.SourceID] {
			kept = append(kept, rec)
			continue
		}
		unchanged = append(unchanged, rec.SourceID)
	}
	logger.Infof("Incremental filter for %s kept %d of %d record(s).", kind, len(kept), len(records))
	return kept, unchanged, nil
}

// commitRecords transforms one batch and upserts it under the retry policy.
// A record that fails transformation is counted, logged and skipped; it
// never aborts the batch. The store call is the retried unit because it is
// the only part that can fail transiently.
func (o *Orchestrator) commitRecords(ctx context.Context, run *model.SyncRun, kind model.EntityKind, items []model.SourceRecord) (repository.UpsertResult, error) {
	now := time.Now()
	var result repository.UpsertResult

	switch kind {
	case model.EntityPlayers:
		rows := transformBatch(run, o.recorder, ctx, kind, items, func(rec model.SourceRecord) (*model.Player, error) {
			return transformPlayer(rec, now)
		})
		if len(rows) == 0 {
			return result, nil
		}
		err := o.retry.Execute(ctx, "upsert_players", func(ctx context.Context) error {
			var uerr error
			result, uerr = o.store.UpsertPlayers(ctx, rows)
			return uerr
		})
		return result, err

	case model.EntityClubs:
		rows := transformBatch(run, o.recorder, ctx, kind, items, func(rec model.SourceRecord) (*model.Club, error) {
			return transformClub(rec, now)
		})
		if len(rows) == 0 {
			return result, nil
		}
		err := o.retry.Execute(ctx, "upsert_clubs", func(ctx context.Context) error {
			var uerr error
			result, uerr = o.store.UpsertClubs(ctx, rows)
			return uerr
		})
		return result, err

	case model.EntityTournaments:
		rows := transformBatch(run, o.recorder, ctx, kind, items, func(rec model.SourceRecord) (*model.Tournament, error) {
			return transformTournament(rec, now)
		})
		if len(rows) == 0 {
			return result, nil
		}
		err := o.retry.Execute(ctx, "upsert_tournaments", func(ctx context.Context) error {
			var uerr error
			result, uerr = o.store.UpsertTournaments(ctx, rows)
			return uerr
		})
		return result, err

	case model.EntityGames:
		rows := transformBatch(run, o.recorder, ctx, kind, items, func(rec model.SourceRecord) (*model.Game, error) {
			return transformGame(rec, now)
		})
		if len(rows) == 0 {
			return result, nil
		}
		err := o.retry.Execute(ctx, "upsert_games", func(ctx context.Context) error {
			var uerr error
			result, uerr = o.store.UpsertGames(ctx, rows)
			return uerr
		})
		return result, err

	default:
		return result, exception.NewPermanentError(moduleOrchestrator,
			fmt.Sprintf("unknown entity kind: %s", kind), nil)
	}
}

// transformBatch converts a batch of source records, recording and skipping
// records that fail transformation.
func transformBatch[T any](run *model.SyncRun, recorder metrics.MetricRecorder, ctx context.Context, kind model.EntityKind, items []model.SourceRecord, transform func(model.SourceRecord) (*T, error)) []*T {
	rows := make([]*T, 0, len(items))
	for _, rec := range items {
		row, err := transform(rec)
		if err != nil {
			logger.Warnf("Skipping %s record %s: %v", kind, rec.SourceID, err)
			run.AddFailure(err)
			run.Counts.Failed++
			recorder.RecordRecords(ctx, kind, "failed", 1)
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// checkStop reports a cancellation error when the cooperative cancel flag is
// set or the context is done. Called at phase and batch boundaries only.
func (o *Orchestrator) checkStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", exception.ErrSyncCancelled, err)
	}
	if o.cancelFlag.Load() {
		return exception.ErrSyncCancelled
	}
	return nil
}

// finishCompleted finalizes a run whose every phase succeeded: it runs the
// advisory integrity check, clears the checkpoint and triggers the snapshot
// export hook.
func (o *Orchestrator) finishCompleted(ctx context.Context, run *model.SyncRun) {
	report, err := o.checker.Check(ctx)
	if err != nil {
		// Integrity findings are advisory and a failed check query must not
		// flip a completed run to FAILED.
		logger.Warnf("Integrity check after run %s reported errors: %v", run.ID, err)
	}
	if report != nil {
		run.Integrity = report.Summary()
	}

	if err := o.repo.DeleteCheckpoint(ctx); err != nil {
		logger.Warnf("Could not clear checkpoint after run %s: %v", run.ID, err)
	}

	run.MarkAsCompleted()
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		logger.Errorf("Could not persist COMPLETED state for run %s: %v", run.ID, err)
	}
	o.writeStatus(ctx, run, false, 100, "Idle", "")
	logger.Infof("Run %s completed: %+v, integrity: %s", run.ID, run.Counts, run.Integrity)

	if o.exporter != nil && run.Mode == model.RunModeFull {
		location, err := o.exporter.Export(ctx, run.ID)
		if err != nil {
			logger.Warnf("Snapshot export after run %s failed: %v", run.ID, err)
		} else {
			logger.Infof("Snapshot for run %s exported to %s.", run.ID, location)
		}
	}
}

// finishCancelled finalizes a cancelled run. The checkpoint written at the
// last committed batch stays in place so the run is resumable.
func (o *Orchestrator) finishCancelled(ctx context.Context, run *model.SyncRun) {
	run.MarkAsCancelling()
	run.MarkAsCancelled()
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		logger.Errorf("Could not persist CANCELLED state for run %s: %v", run.ID, err)
	}
	o.writeStatus(ctx, run, false, o.checkpointProgress(ctx), "Cancelled", "")
	logger.Infof("Run %s cancelled at phase %s; checkpoint retained for resume.", run.ID, run.CurrentPhase)
}

// finishFailed finalizes a failed run. Progress up to the last committed
// batch stays checkpointed and resumable.
func (o *Orchestrator) finishFailed(ctx context.Context, run *model.SyncRun, cause error) {
	o.tracer.RecordError(ctx, moduleOrchestrator, cause)
	run.MarkAsFailed(cause)
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		logger.Errorf("Could not persist FAILED state for run %s: %v", run.ID, err)
	}
	o.writeStatus(ctx, run, false, o.checkpointProgress(ctx), "Failed", exception.ExtractErrorMessage(cause))
	logger.Errorf("Run %s failed in phase %s: %v", run.ID, run.CurrentPhase, cause)
}

// refreshKindStatus updates the per-kind status row after a finished phase.
func (o *Orchestrator) refreshKindStatus(ctx context.Context, run *model.SyncRun, kind model.EntityKind) {
	count, err := o.store.CountByKind(ctx, kind)
	if err != nil {
		logger.Warnf("Could not count %s records for status row: %v", kind, err)
		return
	}
	status := &model.KindStatus{
		Kind:        kind,
		LastRunID:   run.ID,
		LastSyncAt:  time.Now(),
		RecordCount: count,
		Healthy:     true,
	}
	if err := o.repo.UpsertKindStatus(ctx, status); err != nil {
		logger.Warnf("Could not upsert status row for %s: %v", kind, err)
	}
}

// writeStatus upserts the singleton live-status row. Status writes are best
// effort; a failed write never aborts the run.
func (o *Orchestrator) writeStatus(ctx context.Context, run *model.SyncRun, running bool, progress int, operation, lastError string) {
	status := &model.SyncStatus{
		ID:               model.StatusID,
		IsRunning:        running,
		Progress:         progress,
		CurrentOperation: operation,
		RunID:            run.ID,
		LastError:        lastError,
	}
	if err := o.repo.WriteStatus(ctx, status); err != nil {
		logger.Warnf("Could not write sync status: %v", err)
	}
}

// startProgress derives the initial progress value, non-zero on a resume.
func (o *Orchestrator) startProgress(cp *model.SyncCheckpoint) int {
	if cp == nil {
		return 0
	}
	return cp.Progress
}

// checkpointProgress reads the progress recorded on the current checkpoint,
// or zero when none exists.
func (o *Orchestrator) checkpointProgress(ctx context.Context) int {
	cp, err := o.repo.FindCheckpoint(ctx)
	if err != nil {
		return 0
	}
	return cp.Progress
}

// phaseProgress computes overall run progress in percent. Each phase owns an
// equal share; within a phase the share scales with committed batches. A
// phase with zero batches counts as fully done once entered.
func phaseProgress(phaseIndex, batchesDone, totalBatches int) int {
	share := 100 / len(model.PhaseOrder)
	base := phaseIndex * share
	if totalBatches <= 0 {
		return base
	}
	if batchesDone >= totalBatches {
		return base + share
	}
	return base + batchesDone*share/totalBatches
}
