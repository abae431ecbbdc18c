// Package sync_test provides tests for the synchronization orchestrator,
// driving full pipelines against a fake source and in-memory stores.
package sync_test

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookline/chessync/internal/config"
	"github.com/rookline/chessync/internal/domain/model"
	"github.com/rookline/chessync/internal/domain/repository"
	"github.com/rookline/chessync/internal/engine/integrity"
	"github.com/rookline/chessync/internal/engine/retry"
	"github.com/rookline/chessync/internal/infrastructure/repository/inmemory"
	"github.com/rookline/chessync/internal/infrastructure/source"
	"github.com/rookline/chessync/internal/metrics"
	"github.com/rookline/chessync/internal/support/exception"
	"github.com/rookline/chessync/internal/sync"
)

// fakeSource serves canned records per kind and can fail or block on demand.
type fakeSource struct {
	mu      gosync.Mutex
	data    map[model.EntityKind][]model.SourceRecord
	errOn   map[model.EntityKind]error
	onFetch func(kind model.EntityKind)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:  make(map[model.EntityKind][]model.SourceRecord),
		errOn: make(map[model.EntityKind]error),
	}
}

func (s *fakeSource) add(kind model.EntityKind, sourceID string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, err := model.HashPayload(payload)
	if err != nil {
		panic(err)
	}
	s.data[kind] = append(s.data[kind], model.SourceRecord{
		Kind:     kind,
		SourceID: sourceID,
		Payload:  payload,
		Hash:     hash,
	})
}

// replace swaps the payload of an existing record, simulating a source-side edit.
func (s *fakeSource) replace(kind model.EntityKind, sourceID string, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, err := model.HashPayload(payload)
	if err != nil {
		panic(err)
	}
	for i, rec := range s.data[kind] {
		if rec.SourceID == sourceID {
			s.data[kind][i] = model.SourceRecord{Kind: kind, SourceID: sourceID, Payload: payload, Hash: hash}
			return
		}
	}
}

func (s *fakeSource) FetchAll(ctx context.Context, kind model.EntityKind) ([]model.SourceRecord, error) {
	s.mu.Lock()
	records := append([]model.SourceRecord(nil), s.data[kind]...)
	err := s.errOn[kind]
	cb := s.onFetch
	s.mu.Unlock()

	if cb != nil {
		cb(kind)
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *fakeSource) Ping(ctx context.Context) error {
	return nil
}

// fakeExporter records export invocations.
type fakeExporter struct {
	mu     gosync.Mutex
	runIDs []string
}

func (e *fakeExporter) Export(ctx context.Context, runID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runIDs = append(e.runIDs, runID)
	return "snapshots/" + runID + ".parquet", nil
}

func (e *fakeExporter) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.runIDs...)
}

func testExecutor() retry.Executor {
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Factor:          2.0,
		UnavailableWait: 5 * time.Millisecond,
	})
	return retry.NewExecutor(policy, metrics.NewNoOpMetricRecorder())
}

func buildOrchestrator(src source.Client, repo repository.SyncRepository, store repository.EntityStore, exec retry.Executor, exporter sync.SnapshotExporter) *sync.Orchestrator {
	recorder := metrics.NewNoOpMetricRecorder()
	cfg := &config.SyncConfig{BatchSize: 2, Mode: "FULL", StaleAfterHours: 24}
	checker := integrity.NewChecker(store, recorder)
	return sync.NewOrchestrator(cfg, src, repo, store, exec, checker, recorder, metrics.NewNoOpTracer(), exporter)
}

func newTestOrchestrator(src *fakeSource, exporter sync.SnapshotExporter) (*sync.Orchestrator, *inmemory.SyncRepository, *inmemory.EntityStore) {
	repo := inmemory.NewSyncRepository()
	store := inmemory.NewEntityStore()
	orch := buildOrchestrator(src, repo, store, testExecutor(), exporter)
	return orch, repo, store
}

// checkpointHook wraps a SyncRepository and runs a callback after every
// successful checkpoint save.
type checkpointHook struct {
	*inmemory.SyncRepository
	onSave func()
}

func (r *checkpointHook) SaveCheckpoint(ctx context.Context, cp *model.SyncCheckpoint) error {
	if err := r.SyncRepository.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	if r.onSave != nil {
		r.onSave()
	}
	return nil
}

// flakyStore fails the first player upserts with a connection error before
// delegating to the in-memory store.
type flakyStore struct {
	*inmemory.EntityStore
	failures int
}

func (s *flakyStore) UpsertPlayers(ctx context.Context, players []*model.Player) (repository.UpsertResult, error) {
	if s.failures > 0 {
		s.failures--
		return repository.UpsertResult{}, exception.NewTransientError("entity_store", "failed to upsert batch",
			errors.New("write tcp 10.0.0.5:5432: connection reset by peer"))
	}
	return s.EntityStore.UpsertPlayers(ctx, players)
}

// seedSource loads a small consistent dataset: 3 players, 1 club,
// 1 tournament and 2 games.
func seedSource(src *fakeSource) {
	src.add(model.EntityPlayers, "p1", map[string]interface{}{"name": "Magnus Carlsen", "federation": "NOR", "rating": float64(2830)})
	src.add(model.EntityPlayers, "p2", map[string]interface{}{"name": "Hikaru Nakamura", "federation": "USA", "rating": float64(2780)})
	src.add(model.EntityPlayers, "p3", map[string]interface{}{"name": "Fabiano Caruana", "federation": "USA", "rating": float64(2790)})
	src.add(model.EntityClubs, "c1", map[string]interface{}{"name": "Offerspill", "city": "Oslo", "country": "NOR"})
	src.add(model.EntityTournaments, "t1", map[string]interface{}{
		"name": "Norway Chess", "location": "Stavanger", "rounds": float64(9),
		"start_date": "2026-05-26T00:00:00Z", "end_date": "2026-06-06T00:00:00Z",
	})
	src.add(model.EntityGames, "g1", map[string]interface{}{
		"white_id": "p1", "black_id": "p2", "tournament_id": "t1", "round": float64(1), "result": "1-0",
	})
	src.add(model.EntityGames, "g2", map[string]interface{}{
		"white_id": "p2", "black_id": "p3", "tournament_id": "t1", "round": float64(2), "result": "1/2-1/2",
	})
}

func TestRun_FullSyncCompletes(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	orch, repo, store := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	ctx := context.Background()
	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 7, run.Counts.Fetched)
	assert.Equal(t, 7, run.Counts.Upserted)
	assert.Equal(t, 0, run.Counts.Skipped)
	assert.Equal(t, 0, run.Counts.Failed)
	assert.Equal(t, "PASS", run.Integrity)

	// A completed run clears its checkpoint.
	_, err = repo.FindCheckpoint(ctx)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)

	// The live status row goes back to idle at full progress.
	status, err := repo.ReadStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "Idle", status.CurrentOperation)
	assert.Equal(t, run.ID, status.RunID)
	assert.Empty(t, status.LastError)

	// Every kind got a refreshed status row.
	kinds, err := repo.ListKindStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, kinds, 4)
	for _, ks := range kinds {
		assert.True(t, ks.Healthy)
		assert.Equal(t, run.ID, ks.LastRunID)
	}

	count, err := store.CountByKind(ctx, model.EntityPlayers)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRun_SecondFullRunSkipsUnchanged(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	orch, _, _ := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	ctx := context.Background()
	_, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)

	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 7, run.Counts.Fetched)
	assert.Equal(t, 0, run.Counts.Upserted)
	assert.Equal(t, 7, run.Counts.Skipped)
}

func TestRun_InvalidRecordSkippedNotFatal(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	src.add(model.EntityPlayers, "p4", map[string]interface{}{"rating": float64(2400)}) // no name

	orch, _, store := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	ctx := context.Background()
	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Counts.Failed)
	assert.Equal(t, 7, run.Counts.Upserted)
	assert.NotEmpty(t, run.Failures)

	_, found := store.FindPlayer("p4")
	assert.False(t, found)
}

func TestRun_FetchFailureFailsRun(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	src.errOn[model.EntityTournaments] = exception.NewPermanentError("SourceClient", "tournaments endpoint gone", nil)

	orch, repo, _ := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	ctx := context.Background()
	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.Error(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Failures, "tournaments endpoint gone")

	// Progress through players and clubs stays checkpointed for a resume.
	cp, err := repo.FindCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EntityClubs, cp.Phase)
	assert.Equal(t, run.ID, cp.RunID)

	status, err := repo.ReadStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, "Failed", status.CurrentOperation)
	assert.Equal(t, "tournaments endpoint gone", status.LastError)
}

func TestRun_CancelMidRun(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	orch, repo, _ := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	// Request cancellation while the clubs fetch is in flight; the pipeline
	// notices at the next batch boundary.
	src.onFetch = func(kind model.EntityKind) {
		if kind == model.EntityClubs {
			_, err := orch.Cancel()
			assert.NoError(t, err)
		}
	}

	ctx := context.Background()
	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err) // cancellation is not an error

	assert.Equal(t, model.RunStatusCancelled, run.Status)

	// The checkpoint from the last committed players batch survives.
	cp, err := repo.FindCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EntityPlayers, cp.Phase)
	assert.Equal(t, 1, cp.BatchIndex) // 3 players in batches of 2: batches 0 and 1
	assert.Equal(t, model.RunModeFull, cp.Mode)

	status, err := repo.ReadStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, "Cancelled", status.CurrentOperation)
}

func TestRun_ResumeContinuesFromCheckpoint(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	orch, repo, store := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	src.onFetch = func(kind model.EntityKind) {
		if kind == model.EntityClubs {
			_, _ = orch.Cancel()
		}
	}

	ctx := context.Background()
	first, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCancelled, first.Status)

	src.onFetch = nil
	// The resume keeps the checkpointed FULL mode even though INCREMENTAL
	// is requested here.
	resumed, err := orch.Run(ctx, model.RunModeIncremental, true)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, resumed.Status)
	assert.Equal(t, model.RunModeFull, resumed.Mode)
	assert.Equal(t, first.ID, resumed.ResumedFrom)

	// Players were fully committed before the cancel, so the resumed run
	// re-fetches them but commits no player batches.
	assert.Equal(t, 7, resumed.Counts.Fetched)
	assert.Equal(t, 4, resumed.Counts.Upserted) // 1 club + 1 tournament + 2 games
	assert.Equal(t, 0, resumed.Counts.Skipped)

	_, err = repo.FindCheckpoint(ctx)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)

	games, err := store.ListGames(ctx)
	require.NoError(t, err)
	assert.Len(t, games, 2)
}

func TestRun_IncrementalOnlyRevisitsChanged(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	orch, _, store := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	ctx := context.Background()
	_, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)

	before, ok := store.FindPlayer("p1")
	require.True(t, ok)

	// One player changes on the source side; everything else is fresh.
	src.replace(model.EntityPlayers, "p2", map[string]interface{}{
		"name": "Hikaru Nakamura", "federation": "USA", "rating": float64(2795),
	})

	run, err := orch.Run(ctx, model.RunModeIncremental, false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 7, run.Counts.Fetched)
	assert.Equal(t, 1, run.Counts.Upserted)
	assert.Equal(t, 6, run.Counts.Skipped)

	// An unchanged record is not rewritten but still counts as synchronized:
	// its last-synced timestamp moves forward.
	after, ok := store.FindPlayer("p1")
	require.True(t, ok)
	assert.True(t, after.SyncedAt.After(before.SyncedAt))
}

func TestRun_IncrementalResumeProcessesRemaining(t *testing.T) {
	src := newFakeSource()
	for i := 1; i <= 6; i++ {
		src.add(model.EntityPlayers, fmt.Sprintf("p%d", i), map[string]interface{}{
			"name": fmt.Sprintf("Player %d", i), "federation": "NOR", "rating": float64(2000 + i),
		})
	}

	repo := &checkpointHook{SyncRepository: inmemory.NewSyncRepository()}
	store := inmemory.NewEntityStore()
	orch := buildOrchestrator(src, repo, store, testExecutor(), nil)
	defer orch.Shutdown()

	ctx := context.Background()
	_, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)

	// Every player changes on the source side.
	for i := 1; i <= 6; i++ {
		src.replace(model.EntityPlayers, fmt.Sprintf("p%d", i), map[string]interface{}{
			"name": fmt.Sprintf("Player %d", i), "federation": "NOR", "rating": float64(2100 + i),
		})
	}

	// Cancel right after the first batch of the incremental run commits.
	var once gosync.Once
	repo.onSave = func() {
		once.Do(func() {
			_, cerr := orch.Cancel()
			assert.NoError(t, cerr)
		})
	}

	first, err := orch.Run(ctx, model.RunModeIncremental, false)
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCancelled, first.Status)
	require.Equal(t, 2, first.Counts.Upserted)

	repo.onSave = nil
	resumed, err := orch.Run(ctx, model.RunModeFull, true)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, resumed.Status)
	assert.Equal(t, model.RunModeIncremental, resumed.Mode)
	// The two players committed before the cancel hash-match now; the other
	// four are picked up by the resumed run.
	assert.Equal(t, 4, resumed.Counts.Upserted)
	assert.Equal(t, 2, resumed.Counts.Skipped)

	for i := 1; i <= 6; i++ {
		p, ok := store.FindPlayer(fmt.Sprintf("p%d", i))
		require.True(t, ok)
		assert.Equal(t, 2100+i, p.Rating, "player p%d was not updated after the resume", i)
	}
}

func TestRun_TransientStoreFailureRetried(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	store := &flakyStore{EntityStore: inmemory.NewEntityStore(), failures: 1}
	exec := testExecutor()
	orch := buildOrchestrator(src, inmemory.NewSyncRepository(), store, exec, nil)
	defer orch.Shutdown()

	run, err := orch.Run(context.Background(), model.RunModeFull, false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 7, run.Counts.Upserted)
	assert.Equal(t, 1, exec.Stats().RecoveredRetries)
}

func TestRun_IntegrityFindingsAttachedToRun(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	// A game referencing a player the source never serves.
	src.add(model.EntityGames, "g3", map[string]interface{}{
		"white_id": "p1", "black_id": "ghost", "result": "0-1",
	})

	orch, _, _ := newTestOrchestrator(src, nil)
	defer orch.Shutdown()

	run, err := orch.Run(context.Background(), model.RunModeFull, false)
	require.NoError(t, err)

	// Integrity findings are advisory; the run still completes.
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Contains(t, run.Integrity, "FAIL")

	report, err := orch.IntegrityReport(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, []string{"g3"}, report.Violations[0].SourceIDs)
}

func TestRun_ExporterInvokedForFullRuns(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	exporter := &fakeExporter{}
	orch, _, _ := newTestOrchestrator(src, exporter)
	defer orch.Shutdown()

	ctx := context.Background()
	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)
	assert.Equal(t, []string{run.ID}, exporter.calls())

	// Incremental runs do not snapshot.
	_, err = orch.Run(ctx, model.RunModeIncremental, false)
	require.NoError(t, err)
	assert.Len(t, exporter.calls(), 1)
}

func TestStart_RejectsConcurrentRuns(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	orch, _, _ := newTestOrchestrator(src, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var once gosync.Once
	src.onFetch = func(kind model.EntityKind) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	runID, err := orch.Start(model.RunModeFull, false)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	<-started

	activeID, err := orch.Start(model.RunModeFull, false)
	assert.ErrorIs(t, err, sync.ErrAlreadyRunning)
	assert.Equal(t, runID, activeID)

	close(release)
	orch.Shutdown()
}

func TestCancel_InterruptsRetryBackoff(t *testing.T) {
	src := newFakeSource()
	seedSource(src)
	src.errOn[model.EntityPlayers] = exception.NewTransientError("SourceClient", "players endpoint flapping", nil)

	fetching := make(chan struct{})
	var once gosync.Once
	src.onFetch = func(kind model.EntityKind) {
		once.Do(func() { close(fetching) })
	}

	// A backoff far longer than the test timeout; only an interrupted wait
	// lets the run finish.
	policy := retry.NewExponentialPolicy(retry.ExponentialPolicyConfig{
		MaxAttempts:     3,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		Factor:          2.0,
		UnavailableWait: time.Hour,
	})
	exec := retry.NewExecutor(policy, metrics.NewNoOpMetricRecorder())
	repo := inmemory.NewSyncRepository()
	orch := buildOrchestrator(src, repo, inmemory.NewEntityStore(), exec, nil)
	defer orch.Shutdown()

	runID, err := orch.Start(model.RunModeFull, false)
	require.NoError(t, err)
	<-fetching

	_, err = orch.Cancel()
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		run, err := repo.FindRunByID(context.Background(), runID)
		require.NoError(t, err)
		if run.Status == model.RunStatusCancelled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run %s still %s; the cancel did not interrupt the retry wait", runID, run.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCancel_WithoutActiveRun(t *testing.T) {
	orch, _, _ := newTestOrchestrator(newFakeSource(), nil)
	defer orch.Shutdown()

	_, err := orch.Cancel()
	assert.ErrorIs(t, err, sync.ErrNoActiveRun)
}

func TestStatus_IdleBeforeFirstRun(t *testing.T) {
	orch, _, _ := newTestOrchestrator(newFakeSource(), nil)
	defer orch.Shutdown()

	status, err := orch.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Zero(t, status.Progress)
}

func TestRun_EmptySourceCompletes(t *testing.T) {
	orch, repo, _ := newTestOrchestrator(newFakeSource(), nil)
	defer orch.Shutdown()

	ctx := context.Background()
	run, err := orch.Run(ctx, model.RunModeFull, false)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Zero(t, run.Counts.Fetched)

	status, err := repo.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, status.Progress)
}
