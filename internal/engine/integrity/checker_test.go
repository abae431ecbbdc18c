// Package integrity_test provides unit tests for the integrity rules.
package integrity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookline/chessync/internal/domain/model"
	"github.com/rookline/chessync/internal/engine/integrity"
	"github.com/rookline/chessync/internal/infrastructure/repository/inmemory"
	"github.com/rookline/chessync/internal/metrics"
)

func seedPlayer(t *testing.T, store *inmemory.EntityStore, sourceID string, rating int) {
	t.Helper()
	_, err := store.UpsertPlayers(context.Background(), []*model.Player{{
		ID:          model.NewID(),
		SourceID:    sourceID,
		Name:        "Player " + sourceID,
		Rating:      rating,
		PayloadHash: "hash-" + sourceID,
		SyncedAt:    time.Now(),
	}})
	require.NoError(t, err)
}

func seedGame(t *testing.T, store *inmemory.EntityStore, sourceID, white, black, tournament, result string) {
	t.Helper()
	_, err := store.UpsertGames(context.Background(), []*model.Game{{
		ID:                 model.NewID(),
		SourceID:           sourceID,
		WhiteSourceID:      white,
		BlackSourceID:      black,
		TournamentSourceID: tournament,
		Result:             result,
		PayloadHash:        "hash-" + sourceID,
		SyncedAt:           time.Now(),
	}})
	require.NoError(t, err)
}

func seedTournament(t *testing.T, store *inmemory.EntityStore, sourceID string, start, end time.Time) {
	t.Helper()
	_, err := store.UpsertTournaments(context.Background(), []*model.Tournament{{
		ID:          model.NewID(),
		SourceID:    sourceID,
		Name:        "Tournament " + sourceID,
		StartDate:   start,
		EndDate:     end,
		PayloadHash: "hash-" + sourceID,
		SyncedAt:    time.Now(),
	}})
	require.NoError(t, err)
}

func TestCheck_CleanDataset(t *testing.T) {
	store := inmemory.NewEntityStore()
	seedPlayer(t, store, "p1", 2400)
	seedPlayer(t, store, "p2", 2200)
	seedTournament(t, store, "t1", time.Now(), time.Now().Add(48*time.Hour))
	seedGame(t, store, "g1", "p1", "p2", "t1", "1-0")

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Zero(t, report.TotalViolations())
	assert.Equal(t, "PASS", report.Summary())
}

func TestCheck_OrphanGameRefs(t *testing.T) {
	store := inmemory.NewEntityStore()
	seedPlayer(t, store, "p1", 2400)
	// Black player "ghost" was never imported.
	seedGame(t, store, "g1", "p1", "ghost", "", "0-1")

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	assert.False(t, report.Clean())
	require.Len(t, report.Violations, 1)
	assert.Equal(t, integrity.RuleOrphanGameRefs, report.Violations[0].Rule)
	assert.Equal(t, []string{"g1"}, report.Violations[0].SourceIDs)
}

func TestCheck_OrphanClubRefs(t *testing.T) {
	store := inmemory.NewEntityStore()
	_, err := store.UpsertClubs(context.Background(), []*model.Club{{
		ID: model.NewID(), SourceID: "c1", Name: "Offerspill", PayloadHash: "hash-c1", SyncedAt: time.Now(),
	}})
	require.NoError(t, err)

	_, err = store.UpsertPlayers(context.Background(), []*model.Player{
		{ID: model.NewID(), SourceID: "member", Name: "Member", Rating: 2400, ClubSourceID: "c1", PayloadHash: "h1", SyncedAt: time.Now()},
		{ID: model.NewID(), SourceID: "stray", Name: "Stray", Rating: 2200, ClubSourceID: "folded-club", PayloadHash: "h2", SyncedAt: time.Now()},
		// No club at all is fine.
		{ID: model.NewID(), SourceID: "solo", Name: "Solo", Rating: 2300, PayloadHash: "h3", SyncedAt: time.Now()},
	})
	require.NoError(t, err)

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, integrity.RuleOrphanClubRefs, report.Violations[0].Rule)
	assert.Equal(t, []string{"stray"}, report.Violations[0].SourceIDs)
}

func TestCheck_InvalidGameResult(t *testing.T) {
	store := inmemory.NewEntityStore()
	seedPlayer(t, store, "p1", 2400)
	seedPlayer(t, store, "p2", 2200)
	seedGame(t, store, "g1", "p1", "p2", "", "2-0")

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, integrity.RuleInvalidResults, report.Violations[0].Rule)
	assert.Equal(t, []string{"g1"}, report.Violations[0].SourceIDs)
}

func TestCheck_RatingOutOfRange(t *testing.T) {
	store := inmemory.NewEntityStore()
	seedPlayer(t, store, "p1", 9000)
	seedPlayer(t, store, "p2", 50)
	seedPlayer(t, store, "p3", 2400)
	// Unrated players are not flagged.
	seedPlayer(t, store, "p4", 0)

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, integrity.RuleRatingRange, report.Violations[0].Rule)
	assert.ElementsMatch(t, []string{"p1", "p2"}, report.Violations[0].SourceIDs)
}

func TestCheck_TournamentDateAnomaly(t *testing.T) {
	store := inmemory.NewEntityStore()
	now := time.Now()
	seedTournament(t, store, "t1", now, now.Add(-24*time.Hour))
	seedTournament(t, store, "t2", now, now.Add(24*time.Hour))

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, integrity.RuleTournamentDates, report.Violations[0].Rule)
	assert.Equal(t, []string{"t1"}, report.Violations[0].SourceIDs)
}

func TestCheck_MultipleRulesAggregate(t *testing.T) {
	store := inmemory.NewEntityStore()
	seedPlayer(t, store, "p1", 9000)
	seedGame(t, store, "g1", "p1", "ghost", "", "banana")

	checker := integrity.NewChecker(store, metrics.NewNoOpMetricRecorder())
	report, err := checker.Check(context.Background())

	assert.NoError(t, err)
	assert.Len(t, report.Violations, 3)
	assert.Equal(t, 3, report.TotalViolations())
	assert.Equal(t, "FAIL: 3 violation(s) across 3 rule(s)", report.Summary())
}
