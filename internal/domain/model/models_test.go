// Package model_test provides unit tests for the domain model.
package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rookline/chessync/internal/domain/model"
)

func TestNewSyncRun_InitialState(t *testing.T) {
	run := model.NewSyncRun(model.RunModeFull)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunModeFull, run.Mode)
	assert.Equal(t, model.RunStatusStarting, run.Status)
	assert.Equal(t, model.EntityPlayers, run.CurrentPhase)
	assert.Empty(t, run.Failures)
	assert.Nil(t, run.EndTime)
}

func TestSyncRun_ValidTransitions(t *testing.T) {
	run := model.NewSyncRun(model.RunModeFull)

	assert.NoError(t, run.TransitionTo(model.RunStatusRunning))
	assert.NoError(t, run.TransitionTo(model.RunStatusCancelling))
	assert.NoError(t, run.TransitionTo(model.RunStatusCancelled))
}

func TestSyncRun_InvalidTransitions(t *testing.T) {
	run := model.NewSyncRun(model.RunModeFull)

	// STARTING cannot jump straight to COMPLETED.
	assert.Error(t, run.TransitionTo(model.RunStatusCompleted))

	run.MarkAsRunning()
	run.MarkAsCompleted()
	// Terminal states never transition; a resumed run is a new SyncRun.
	assert.Error(t, run.TransitionTo(model.RunStatusRunning))
	assert.Error(t, run.TransitionTo(model.RunStatusFailed))
}

func TestSyncRun_MarkAsCompletedSetsEndTime(t *testing.T) {
	run := model.NewSyncRun(model.RunModeIncremental)
	run.MarkAsRunning()
	run.MarkAsCompleted()

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.EndTime)
	assert.True(t, run.Status.IsFinished())
}

func TestSyncRun_MarkAsFailedRecordsError(t *testing.T) {
	run := model.NewSyncRun(model.RunModeFull)
	run.MarkAsRunning()
	run.MarkAsFailed(errors.New("source exploded"))

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.NotNil(t, run.EndTime)
	assert.Contains(t, run.Failures, "source exploded")
}

func TestSyncRun_AddFailureDeduplicatesAndCaps(t *testing.T) {
	run := model.NewSyncRun(model.RunModeFull)

	run.AddFailure(errors.New("same message"))
	run.AddFailure(errors.New("same message"))
	assert.Len(t, run.Failures, 1)

	for i := 0; i < 100; i++ {
		run.AddFailure(fmt.Errorf("unique failure %d", i))
	}
	assert.Len(t, run.Failures, 50)

	run.AddFailure(nil)
	assert.Len(t, run.Failures, 50)
}

func TestRunStatus_IsFinished(t *testing.T) {
	assert.True(t, model.RunStatusCompleted.IsFinished())
	assert.True(t, model.RunStatusFailed.IsFinished())
	assert.True(t, model.RunStatusCancelled.IsFinished())
	assert.False(t, model.RunStatusStarting.IsFinished())
	assert.False(t, model.RunStatusRunning.IsFinished())
	assert.False(t, model.RunStatusCancelling.IsFinished())
}

func TestParseRunMode(t *testing.T) {
	mode, ok := model.ParseRunMode("full")
	assert.True(t, ok)
	assert.Equal(t, model.RunModeFull, mode)

	mode, ok = model.ParseRunMode("INCREMENTAL")
	assert.True(t, ok)
	assert.Equal(t, model.RunModeIncremental, mode)

	mode, ok = model.ParseRunMode("turbo")
	assert.False(t, ok)
	assert.Equal(t, model.RunModeFull, mode)
}

func TestNextPhase(t *testing.T) {
	next, ok := model.NextPhase(model.EntityPlayers)
	assert.True(t, ok)
	assert.Equal(t, model.EntityClubs, next)

	next, ok = model.NextPhase(model.EntityTournaments)
	assert.True(t, ok)
	assert.Equal(t, model.EntityGames, next)

	_, ok = model.NextPhase(model.EntityGames)
	assert.False(t, ok)

	_, ok = model.NextPhase(model.EntityKind("bogus"))
	assert.False(t, ok)
}

func TestHashPayload_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]interface{}{
		"name":   "Carlsen",
		"rating": 2830,
		"club":   map[string]interface{}{"id": "c1", "city": "Oslo"},
	}
	b := map[string]interface{}{
		"club":   map[string]interface{}{"city": "Oslo", "id": "c1"},
		"rating": 2830,
		"name":   "Carlsen",
	}

	hashA, err := model.HashPayload(a)
	assert.NoError(t, err)
	hashB, err := model.HashPayload(b)
	assert.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 64)
}

func TestHashPayload_DetectsChanges(t *testing.T) {
	base := map[string]interface{}{"name": "Carlsen", "rating": 2830}
	changed := map[string]interface{}{"name": "Carlsen", "rating": 2840}

	hashBase, err := model.HashPayload(base)
	assert.NoError(t, err)
	hashChanged, err := model.HashPayload(changed)
	assert.NoError(t, err)

	assert.NotEqual(t, hashBase, hashChanged)
}

func TestFailureList_ValueAndScan(t *testing.T) {
	fl := model.FailureList{"first", "second"}

	value, err := fl.Value()
	assert.NoError(t, err)
	assert.Equal(t, `["first","second"]`, value)

	var scanned model.FailureList
	assert.NoError(t, scanned.Scan(value))
	assert.Equal(t, fl, scanned)

	var fromNil model.FailureList
	assert.NoError(t, fromNil.Scan(nil))
	assert.Empty(t, fromNil)

	nilValue, err := model.FailureList(nil).Value()
	assert.NoError(t, err)
	assert.Equal(t, "[]", nilValue)
}

func TestRunCounts_ValueScanAndAdd(t *testing.T) {
	counts := model.RunCounts{Fetched: 10, Upserted: 7, Skipped: 2, Failed: 1}

	value, err := counts.Value()
	assert.NoError(t, err)

	var scanned model.RunCounts
	assert.NoError(t, scanned.Scan(value))
	assert.Equal(t, counts, scanned)

	scanned.Add(model.RunCounts{Fetched: 5, Upserted: 5})
	assert.Equal(t, 15, scanned.Fetched)
	assert.Equal(t, 12, scanned.Upserted)
	assert.Equal(t, 2, scanned.Skipped)
	assert.Equal(t, 1, scanned.Failed)
}

func TestNewSyncStatus_Idle(t *testing.T) {
	status := model.NewSyncStatus()
	assert.Equal(t, model.StatusID, status.ID)
	assert.False(t, status.IsRunning)
	assert.Zero(t, status.Progress)
}
