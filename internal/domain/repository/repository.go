// Package repository defines the persistence interfaces of chessync.
// Implementations live under internal/infrastructure/repository.
package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/rookline/chessync/internal/domain/model"
)

// ErrRunNotFound is returned when a SyncRun row does not exist.
var ErrRunNotFound = errors.New("sync run not found")

// ErrCheckpointNotFound is returned when no checkpoint row exists.
var ErrCheckpointNotFound = errors.New("sync checkpoint not found")

// ErrStatusNotFound is returned when no SyncStatus row has been written yet.
var ErrStatusNotFound = errors.New("sync status not found")

// ErrKindStatusNotFound is returned when no KindStatus row exists for a kind.
var ErrKindStatusNotFound = errors.New("kind status not found")

// SyncRepository persists run metadata: runs, the single active checkpoint,
// and per-kind sync statuses.
type SyncRepository interface {
	// SaveRun inserts a new SyncRun.
	SaveRun(ctx context.Context, run *model.SyncRun) error

	// UpdateRun persists the current state of an existing SyncRun.
	UpdateRun(ctx context.Context, run *model.SyncRun) error

	// FindRunByID retrieves a SyncRun by its identifier.
	// Returns ErrRunNotFound when no such run exists.
	FindRunByID(ctx context.Context, id string) (*model.SyncRun, error)

	// FindActiveRun retrieves the run that is currently in a non-terminal
	// state, if any. Returns ErrRunNotFound when every run has finished.
	FindActiveRun(ctx context.Context) (*model.SyncRun, error)

	// FindLatestRun retrieves the most recently started run.
	// Returns ErrRunNotFound when no run has ever been recorded.
	FindLatestRun(ctx context.Context) (*model.SyncRun, error)

	// ListRuns retrieves up to limit runs ordered by start time, newest first.
	ListRuns(ctx context.Context, limit int) ([]*model.SyncRun, error)

	// SaveCheckpoint inserts or replaces the single checkpoint row.
	SaveCheckpoint(ctx context.Context, cp *model.SyncCheckpoint) error

	// FindCheckpoint retrieves the checkpoint row.
	// Returns ErrCheckpointNotFound when no run was interrupted.
	FindCheckpoint(ctx context.Context) (*model.SyncCheckpoint, error)

	// DeleteCheckpoint removes the checkpoint row. Deleting an absent
	// checkpoint is not an error.
	DeleteCheckpoint(ctx context.Context) error

	// WriteStatus inserts or replaces the single SyncStatus row.
	WriteStatus(ctx context.Context, status *model.SyncStatus) error

	// ReadStatus retrieves the single SyncStatus row.
	// Returns ErrStatusNotFound when no run has ever written it.
	ReadStatus(ctx context.Context) (*model.SyncStatus, error)

	// UpsertKindStatus inserts or updates the KindStatus row for a kind.
	UpsertKindStatus(ctx context.Context, status *model.KindStatus) error

	// FindKindStatus retrieves the KindStatus row for a kind.
	// Returns ErrKindStatusNotFound when the kind has never been synchronized.
	FindKindStatus(ctx context.Context, kind model.EntityKind) (*model.KindStatus, error)

	// ListKindStatuses retrieves all KindStatus rows.
	ListKindStatuses(ctx context.Context) ([]*model.KindStatus, error)

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}

// UpsertResult reports what an upsert batch actually did.
type UpsertResult struct {
	Upserted int // Upserted counts inserted plus updated rows.
	Skipped  int // Skipped counts rows left untouched because the payload hash matched.
}

// EntityStore persists the mirrored chess entities and answers the queries
// the pipeline and the integrity checker need.
type EntityStore interface {
	// UpsertPlayers writes a batch of players keyed by SourceID.
	// Rows whose stored PayloadHash equals the incoming hash are skipped.
	// Local-only fields (Notes) are never overwritten. The whole batch is
	// committed in one transaction.
	UpsertPlayers(ctx context.Context, players []*model.Player) (UpsertResult, error)

	// UpsertClubs writes a batch of clubs. Same semantics as UpsertPlayers.
	UpsertClubs(ctx context.Context, clubs []*model.Club) (UpsertResult, error)

	// UpsertTournaments writes a batch of tournaments. Same semantics as UpsertPlayers.
	UpsertTournaments(ctx context.Context, tournaments []*model.Tournament) (UpsertResult, error)

	// UpsertGames writes a batch of games. Same semantics as UpsertPlayers.
	UpsertGames(ctx context.Context, games []*model.Game) (UpsertResult, error)

	// HashesByKind returns the stored payload hash for every record of a
	// kind, keyed by SourceID. Used for change detection.
	HashesByKind(ctx context.Context, kind model.EntityKind) (map[string]string, error)

	// CandidateSourceIDs returns the SourceIDs of records that an
	// incremental run must revisit: synced before staleBefore, or marked
	// as failed during their last sync.
	CandidateSourceIDs(ctx context.Context, kind model.EntityKind, staleBefore time.Time) (map[string]bool, error)

	// TouchSynced refreshes the last-synced timestamp and clears the failure
	// flag for the given SourceIDs of a kind, without rewriting the rows.
	// Touching an unknown SourceID is not an error.
	TouchSynced(ctx context.Context, kind model.EntityKind, sourceIDs []string) error

	// CountByKind returns the number of stored records of a kind.
	CountByKind(ctx context.Context, kind model.EntityKind) (int64, error)

	// ListGames returns every stored game, ordered by SourceID. Used by the
	// snapshot exporter.
	ListGames(ctx context.Context) ([]*model.Game, error)

	// OrphanGameRefs returns SourceIDs of games referencing a player or
	// tournament that is not stored locally.
	OrphanGameRefs(ctx context.Context) ([]string, error)

	// OrphanClubRefs returns SourceIDs of players referencing a club that is
	// not stored locally.
	OrphanClubRefs(ctx context.Context) ([]string, error)

	// InvalidGameResults returns SourceIDs of games whose result is not a
	// recognized chess result string.
	InvalidGameResults(ctx context.Context) ([]string, error)

	// RatingsOutOfRange returns SourceIDs of players whose rating falls
	// outside [min, max].
	RatingsOutOfRange(ctx context.Context, min, max int) ([]string, error)

	// TournamentDateAnomalies returns SourceIDs of tournaments whose end
	// date precedes their start date.
	TournamentDateAnomalies(ctx context.Context) ([]string, error)
}
