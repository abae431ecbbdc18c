package gormstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookline/chessync/internal/domain/model"
	"github.com/rookline/chessync/internal/domain/repository"
	"github.com/rookline/chessync/internal/infrastructure/repository/gormstore"
)

func TestRunLifecycle_SaveUpdateFind(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))
	ctx := context.Background()

	run := model.NewSyncRun(model.RunModeFull)
	require.NoError(t, repo.SaveRun(ctx, run))

	run.MarkAsRunning()
	run.Counts.Fetched = 10
	run.Counts.Upserted = 8
	run.Counts.Skipped = 2
	run.AddFailure(assert.AnError)
	require.NoError(t, repo.UpdateRun(ctx, run))

	stored, err := repo.FindRunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, stored.Status)
	assert.Equal(t, model.RunModeFull, stored.Mode)
	assert.Equal(t, 10, stored.Counts.Fetched)
	assert.Equal(t, 8, stored.Counts.Upserted)
	assert.Equal(t, 2, stored.Counts.Skipped)
	require.Len(t, stored.Failures, 1)
	assert.Equal(t, 1, stored.Version)
}

func TestUpdateRun_UnknownRun(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))

	run := model.NewSyncRun(model.RunModeFull)
	err := repo.UpdateRun(context.Background(), run)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
}

func TestFindRunByID_NotFound(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))

	_, err := repo.FindRunByID(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
}

func TestFindActiveRun(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.FindActiveRun(ctx)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)

	run := model.NewSyncRun(model.RunModeIncremental)
	require.NoError(t, repo.SaveRun(ctx, run))
	run.MarkAsRunning()
	require.NoError(t, repo.UpdateRun(ctx, run))

	active, err := repo.FindActiveRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, active.ID)

	run.MarkAsCompleted()
	require.NoError(t, repo.UpdateRun(ctx, run))

	_, err = repo.FindActiveRun(ctx)
	assert.ErrorIs(t, err, repository.ErrRunNotFound)
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		run := model.NewSyncRun(model.RunModeFull)
		run.StartTime = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.SaveRun(ctx, run))
		ids = append(ids, run.ID)
	}

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	latest, err := repo.FindLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)

	all, err := repo.ListRuns(ctx, 0) // non-positive limit falls back to the default
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCheckpoint_SingletonRoundTrip(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.FindCheckpoint(ctx)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)

	require.NoError(t, repo.SaveCheckpoint(ctx, &model.SyncCheckpoint{
		RunID:        "run-1",
		Mode:         model.RunModeFull,
		Phase:        model.EntityPlayers,
		BatchIndex:   3,
		LastSourceID: "p80",
		Progress:     12,
	}))

	// A later save replaces the row rather than adding a second one.
	require.NoError(t, repo.SaveCheckpoint(ctx, &model.SyncCheckpoint{
		RunID:        "run-1",
		Mode:         model.RunModeFull,
		Phase:        model.EntityClubs,
		BatchIndex:   0,
		LastSourceID: "c5",
		Progress:     30,
	}))

	cp, err := repo.FindCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.CheckpointID, cp.ID)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, model.EntityClubs, cp.Phase)
	assert.Equal(t, 0, cp.BatchIndex)
	assert.Equal(t, "c5", cp.LastSourceID)
	assert.Equal(t, 30, cp.Progress)

	require.NoError(t, repo.DeleteCheckpoint(ctx))
	_, err = repo.FindCheckpoint(ctx)
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)

	// Deleting again stays quiet.
	assert.NoError(t, repo.DeleteCheckpoint(ctx))
}

func TestSyncStatus_SingletonWriteRead(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.ReadStatus(ctx)
	assert.ErrorIs(t, err, repository.ErrStatusNotFound)

	require.NoError(t, repo.WriteStatus(ctx, &model.SyncStatus{
		IsRunning:        true,
		Progress:         40,
		CurrentOperation: "Importing players (batch 4/10)",
		RunID:            "run-1",
	}))
	require.NoError(t, repo.WriteStatus(ctx, &model.SyncStatus{
		IsRunning:        false,
		Progress:         100,
		CurrentOperation: "Idle",
		RunID:            "run-1",
	}))

	status, err := repo.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusID, status.ID)
	assert.False(t, status.IsRunning)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, "Idle", status.CurrentOperation)
}

func TestKindStatus_UpsertFindList(t *testing.T) {
	repo := gormstore.NewSyncRepository(openTestDB(t))
	ctx := context.Background()

	_, err := repo.FindKindStatus(ctx, model.EntityPlayers)
	assert.ErrorIs(t, err, repository.ErrKindStatusNotFound)

	require.NoError(t, repo.UpsertKindStatus(ctx, &model.KindStatus{
		Kind: model.EntityPlayers, LastRunID: "run-1", LastSyncAt: time.Now(), RecordCount: 100, Healthy: true,
	}))
	require.NoError(t, repo.UpsertKindStatus(ctx, &model.KindStatus{
		Kind: model.EntityGames, LastRunID: "run-1", LastSyncAt: time.Now(), RecordCount: 5000, Healthy: true,
	}))
	// A second sync of the same kind updates in place.
	require.NoError(t, repo.UpsertKindStatus(ctx, &model.KindStatus{
		Kind: model.EntityPlayers, LastRunID: "run-2", LastSyncAt: time.Now(), RecordCount: 102, Healthy: true,
	}))

	players, err := repo.FindKindStatus(ctx, model.EntityPlayers)
	require.NoError(t, err)
	assert.Equal(t, "run-2", players.LastRunID)
	assert.Equal(t, int64(102), players.RecordCount)

	statuses, err := repo.ListKindStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
}
