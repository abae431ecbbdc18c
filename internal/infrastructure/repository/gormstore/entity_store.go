package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/rookline/chessync/internal/domain/model"
	repo "github.com/rookline/chessync/internal/domain/repository"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

const moduleEntityStore = "entity_store"

// EntityStore is the GORM implementation of repo.EntityStore.
type EntityStore struct {
	db *gorm.DB
}

// NewEntityStore creates an EntityStore on the given connection.
func NewEntityStore(db *gorm.DB) *EntityStore {
	return &EntityStore{db: db}
}

// hashRow is the projection used for change detection queries.
type hashRow struct {
	SourceID    string
	PayloadHash string
}

// wrapStoreError classifies a database failure for the retry policy. Network
// and timeout causes stay transient so the executor retries them; everything
// else (constraint violations, malformed statements) is permanent.
func wrapStoreError(message string, err error) error {
	if exception.IsTransient(err) {
		return exception.NewTransientError(moduleEntityStore, message, err)
	}
	return exception.NewPermanentError(moduleEntityStore, message, err)
}

// upsertBatch writes one batch of rows in a single transaction.
//
// Rows whose stored payload hash matches the incoming hash are skipped: only
// their synced_at timestamp is refreshed, which keeps an unchanged record
// out of the next incremental candidate set. Conflicts on source_id update
// only the sync-owned columns listed in updateCols, so identifiers, creation
// timestamps and local-only fields (Notes) survive every upsert.
func upsertBatch[T any](
	ctx context.Context,
	db *gorm.DB,
	rows []*T,
	sourceIDOf func(*T) string,
	hashOf func(*T) string,
	updateCols []string,
) (repo.UpsertResult, error) {
	var result repo.UpsertResult
	if len(rows) == 0 {
		return result, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, sourceIDOf(row))
		}

		var existing []hashRow
		if err := tx.Model(new(T)).
			Select("source_id", "payload_hash").
			Where("source_id IN ?", ids).
			Scan(&existing).Error; err != nil {
			return err
		}
		stored := make(map[string]string, len(existing))
		for _, h := range existing {
			stored[h.SourceID] = h.PayloadHash
		}

		changed := make([]*T, 0, len(rows))
		unchanged := make([]string, 0, len(rows))
		for _, row := range rows {
			if hash, ok := stored[sourceIDOf(row)]; ok && hash == hashOf(row) {
				unchanged = append(unchanged, sourceIDOf(row))
				result.Skipped++
				continue
			}
			changed = append(changed, row)
		}

		if len(unchanged) > 0 {
			if err := tx.Model(new(T)).
				Where("source_id IN ?", unchanged).
				Updates(map[string]interface{}{
					"synced_at":        time.Now(),
					"last_sync_failed": false,
				}).Error; err != nil {
				return err
			}
		}

		if len(changed) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "source_id"}},
				DoUpdates: clause.AssignmentColumns(updateCols),
			}).Create(&changed).Error; err != nil {
				return err
			}
			result.Upserted = len(changed)
		}
		return nil
	})
	if err != nil {
		return repo.UpsertResult{}, wrapStoreError("failed to upsert batch", err)
	}

	logger.Debugf("Upsert committed: %d written, %d unchanged.", result.Upserted, result.Skipped)
	return result, nil
}

// UpsertPlayers writes a batch of players keyed by SourceID.
func (s *EntityStore) UpsertPlayers(ctx context.Context, players []*model.Player) (repo.UpsertResult, error) {
	return upsertBatch(ctx, s.db, players,
		func(p *model.Player) string { return p.SourceID },
		func(p *model.Player) string { return p.PayloadHash },
		[]string{"name", "federation", "rating", "title", "birth_year", "club_source_id",
			"payload_hash", "synced_at", "last_sync_failed", "updated_at"},
	)
}

// UpsertClubs writes a batch of clubs keyed by SourceID.
func (s *EntityStore) UpsertClubs(ctx context.Context, clubs []*model.Club) (repo.UpsertResult, error) {
	return upsertBatch(ctx, s.db, clubs,
		func(c *model.Club) string { return c.SourceID },
		func(c *model.Club) string { return c.PayloadHash },
		[]string{"name", "city", "country", "founded_year",
			"payload_hash", "synced_at", "last_sync_failed", "updated_at"},
	)
}

// UpsertTournaments writes a batch of tournaments keyed by SourceID.
func (s *EntityStore) UpsertTournaments(ctx context.Context, tournaments []*model.Tournament) (repo.UpsertResult, error) {
	return upsertBatch(ctx, s.db, tournaments,
		func(t *model.Tournament) string { return t.SourceID },
		func(t *model.Tournament) string { return t.PayloadHash },
		[]string{"name", "location", "format", "rounds", "start_date", "end_date",
			"payload_hash", "synced_at", "last_sync_failed", "updated_at"},
	)
}

// UpsertGames writes a batch of games keyed by SourceID.
func (s *EntityStore) UpsertGames(ctx context.Context, games []*model.Game) (repo.UpsertResult, error) {
	return upsertBatch(ctx, s.db, games,
		func(g *model.Game) string { return g.SourceID },
		func(g *model.Game) string { return g.PayloadHash },
		[]string{"white_source_id", "black_source_id", "tournament_source_id", "round",
			"result", "eco", "moves_pgn", "played_at",
			"payload_hash", "synced_at", "last_sync_failed", "updated_at"},
	)
}

// modelFor maps an EntityKind to a zero value of its entity type.
func modelFor(kind model.EntityKind) (interface{}, error) {
	switch kind {
	case model.EntityPlayers:
		return &model.Player{}, nil
	case model.EntityClubs:
		return &model.Club{}, nil
	case model.EntityTournaments:
		return &model.Tournament{}, nil
	case model.EntityGames:
		return &model.Game{}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
}

// HashesByKind returns the stored payload hash for every record of a kind.
func (s *EntityStore) HashesByKind(ctx context.Context, kind model.EntityKind) (map[string]string, error) {
	m, err := modelFor(kind)
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query hashes", err)
	}
	var rows []hashRow
	if err := s.db.WithContext(ctx).Model(m).
		Select("source_id", "payload_hash").
		Scan(&rows).Error; err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query hashes", err)
	}
	hashes := make(map[string]string, len(rows))
	for _, r := range rows {
		hashes[r.SourceID] = r.PayloadHash
	}
	return hashes, nil
}

// CandidateSourceIDs returns the SourceIDs an incremental run must revisit.
func (s *EntityStore) CandidateSourceIDs(ctx context.Context, kind model.EntityKind, staleBefore time.Time) (map[string]bool, error) {
	m, err := modelFor(kind)
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query candidates", err)
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(m).
		Where("synced_at < ? OR last_sync_failed = ?", staleBefore, true).
		Pluck("source_id", &ids).Error; err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query candidates", err)
	}
	candidates := make(map[string]bool, len(ids))
	for _, id := range ids {
		candidates[id] = true
	}
	return candidates, nil
}

// TouchSynced refreshes synced_at and clears last_sync_failed for the given
// SourceIDs without rewriting the rows.
func (s *EntityStore) TouchSynced(ctx context.Context, kind model.EntityKind, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	m, err := modelFor(kind)
	if err != nil {
		return exception.NewPermanentError(moduleEntityStore, "failed to touch records", err)
	}
	if err := s.db.WithContext(ctx).Model(m).
		Where("source_id IN ?", sourceIDs).
		Updates(map[string]interface{}{
			"synced_at":        time.Now(),
			"last_sync_failed": false,
		}).Error; err != nil {
		return wrapStoreError("failed to touch records", err)
	}
	return nil
}

// CountByKind returns the number of stored records of a kind.
func (s *EntityStore) CountByKind(ctx context.Context, kind model.EntityKind) (int64, error) {
	m, err := modelFor(kind)
	if err != nil {
		return 0, exception.NewPermanentError(moduleEntityStore, "failed to count records", err)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(m).Count(&count).Error; err != nil {
		return 0, exception.NewPermanentError(moduleEntityStore, "failed to count records", err)
	}
	return count, nil
}

// ListGames returns every stored game, ordered by SourceID.
func (s *EntityStore) ListGames(ctx context.Context) ([]*model.Game, error) {
	var games []*model.Game
	if err := s.db.WithContext(ctx).Order("source_id").Find(&games).Error; err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to list games", err)
	}
	return games, nil
}

// OrphanGameRefs returns SourceIDs of games whose player or tournament
// references are not stored locally. Empty references are not orphans; the
// source legitimately omits them for casual games.
func (s *EntityStore) OrphanGameRefs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Game{}).
		Where(
			"(white_source_id <> '' AND white_source_id NOT IN (SELECT source_id FROM players))"+
				" OR (black_source_id <> '' AND black_source_id NOT IN (SELECT source_id FROM players))"+
				" OR (tournament_source_id <> '' AND tournament_source_id NOT IN (SELECT source_id FROM tournaments))",
		).
		Pluck("source_id", &ids).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query orphan game refs", err)
	}
	return ids, nil
}

// OrphanClubRefs returns SourceIDs of players whose club reference is not
// stored locally. A player without a club is not an orphan.
func (s *EntityStore) OrphanClubRefs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Player{}).
		Where("club_source_id <> '' AND club_source_id NOT IN (SELECT source_id FROM clubs)").
		Pluck("source_id", &ids).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query orphan club refs", err)
	}
	return ids, nil
}

// InvalidGameResults returns SourceIDs of games with unrecognized results.
func (s *EntityStore) InvalidGameResults(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Game{}).
		Where("result NOT IN ?", []string{"1-0", "0-1", "1/2-1/2", "*"}).
		Pluck("source_id", &ids).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query invalid game results", err)
	}
	return ids, nil
}

// RatingsOutOfRange returns SourceIDs of players rated outside [min, max].
// Unrated players (rating 0) are not flagged.
func (s *EntityStore) RatingsOutOfRange(ctx context.Context, min, max int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Player{}).
		Where("rating <> 0 AND (rating < ? OR rating > ?)", min, max).
		Pluck("source_id", &ids).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query ratings out of range", err)
	}
	return ids, nil
}

// TournamentDateAnomalies returns SourceIDs of tournaments ending before they start.
func (s *EntityStore) TournamentDateAnomalies(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Tournament{}).
		Where("end_date < start_date").
		Pluck("source_id", &ids).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleEntityStore, "failed to query tournament date anomalies", err)
	}
	return ids, nil
}

var _ repo.EntityStore = (*EntityStore)(nil)
