package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	model "github.com/rookline/chessync/internal/domain/model"
	repo "github.com/rookline/chessync/internal/domain/repository"
)

// EntityStore is a map-backed implementation of repo.EntityStore, keyed by
// SourceID per kind. It mirrors the gorm store's upsert semantics: hash
// matches are skipped with a refreshed synced_at, and local-only fields
// survive upserts.
type EntityStore struct {
	mu          sync.RWMutex
	players     map[string]*model.Player
	clubs       map[string]*model.Club
	tournaments map[string]*model.Tournament
	games       map[string]*model.Game
}

// NewEntityStore creates an empty in-memory EntityStore.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		players:     make(map[string]*model.Player),
		clubs:       make(map[string]*model.Club),
		tournaments: make(map[string]*model.Tournament),
		games:       make(map[string]*model.Game),
	}
}

// upsertInto applies one batch against a map, preserving ID, CreatedAt and
// Notes of existing rows.
func upsertInto[T any](
	table map[string]*T,
	rows []*T,
	sourceIDOf func(*T) string,
	hashOf func(*T) string,
	touch func(*T, time.Time),
	preserve func(dst, src *T),
) repo.UpsertResult {
	var result repo.UpsertResult
	now := time.Now()
	for _, row := range rows {
		id := sourceIDOf(row)
		existing, ok := table[id]
		if ok && hashOf(existing) == hashOf(row) {
			touch(existing, now)
			result.Skipped++
			continue
		}
		if ok {
			preserve(row, existing)
		}
		c := *row
		table[id] = &c
		result.Upserted++
	}
	return result
}

// UpsertPlayers writes a batch of players keyed by SourceID.
func (s *EntityStore) UpsertPlayers(ctx context.Context, players []*model.Player) (repo.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertInto(s.players, players,
		func(p *model.Player) string { return p.SourceID },
		func(p *model.Player) string { return p.PayloadHash },
		func(p *model.Player, t time.Time) { p.SyncedAt = t; p.LastSyncFailed = false },
		func(dst, src *model.Player) { dst.ID = src.ID; dst.Notes = src.Notes; dst.CreatedAt = src.CreatedAt },
	), nil
}

// UpsertClubs writes a batch of clubs keyed by SourceID.
func (s *EntityStore) UpsertClubs(ctx context.Context, clubs []*model.Club) (repo.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertInto(s.clubs, clubs,
		func(c *model.Club) string { return c.SourceID },
		func(c *model.Club) string { return c.PayloadHash },
		func(c *model.Club, t time.Time) { c.SyncedAt = t; c.LastSyncFailed = false },
		func(dst, src *model.Club) { dst.ID = src.ID; dst.Notes = src.Notes; dst.CreatedAt = src.CreatedAt },
	), nil
}

// UpsertTournaments writes a batch of tournaments keyed by SourceID.
func (s *EntityStore) UpsertTournaments(ctx context.Context, tournaments []*model.Tournament) (repo.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertInto(s.tournaments, tournaments,
		func(t *model.Tournament) string { return t.SourceID },
		func(t *model.Tournament) string { return t.PayloadHash },
		func(t *model.Tournament, ts time.Time) { t.SyncedAt = ts; t.LastSyncFailed = false },
		func(dst, src *model.Tournament) { dst.ID = src.ID; dst.Notes = src.Notes; dst.CreatedAt = src.CreatedAt },
	), nil
}

// UpsertGames writes a batch of games keyed by SourceID.
func (s *EntityStore) UpsertGames(ctx context.Context, games []*model.Game) (repo.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertInto(s.games, games,
		func(g *model.Game) string { return g.SourceID },
		func(g *model.Game) string { return g.PayloadHash },
		func(g *model.Game, t time.Time) { g.SyncedAt = t; g.LastSyncFailed = false },
		func(dst, src *model.Game) { dst.ID = src.ID; dst.Notes = src.Notes; dst.CreatedAt = src.CreatedAt },
	), nil
}

// HashesByKind returns the stored payload hash for every record of a kind.
func (s *EntityStore) HashesByKind(ctx context.Context, kind model.EntityKind) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make(map[string]string)
	switch kind {
	case model.EntityPlayers:
		for id, p := range s.players {
			hashes[id] = p.PayloadHash
		}
	case model.EntityClubs:
		for id, c := range s.clubs {
			hashes[id] = c.PayloadHash
		}
	case model.EntityTournaments:
		for id, t := range s.tournaments {
			hashes[id] = t.PayloadHash
		}
	case model.EntityGames:
		for id, g := range s.games {
			hashes[id] = g.PayloadHash
		}
	}
	return hashes, nil
}

// CandidateSourceIDs returns the SourceIDs an incremental run must revisit.
func (s *EntityStore) CandidateSourceIDs(ctx context.Context, kind model.EntityKind, staleBefore time.Time) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := make(map[string]bool)
	add := func(id string, syncedAt time.Time, failed bool) {
		if failed || syncedAt.Before(staleBefore) {
			candidates[id] = true
		}
	}
	switch kind {
	case model.EntityPlayers:
		for id, p := range s.players {
			add(id, p.SyncedAt, p.LastSyncFailed)
		}
	case model.EntityClubs:
		for id, c := range s.clubs {
			add(id, c.SyncedAt, c.LastSyncFailed)
		}
	case model.EntityTournaments:
		for id, t := range s.tournaments {
			add(id, t.SyncedAt, t.LastSyncFailed)
		}
	case model.EntityGames:
		for id, g := range s.games {
			add(id, g.SyncedAt, g.LastSyncFailed)
		}
	}
	return candidates, nil
}

// TouchSynced refreshes SyncedAt and clears LastSyncFailed for the given
// SourceIDs. Unknown SourceIDs are ignored.
func (s *EntityStore) TouchSynced(ctx context.Context, kind model.EntityKind, sourceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range sourceIDs {
		switch kind {
		case model.EntityPlayers:
			if p, ok := s.players[id]; ok {
				p.SyncedAt = now
				p.LastSyncFailed = false
			}
		case model.EntityClubs:
			if c, ok := s.clubs[id]; ok {
				c.SyncedAt = now
				c.LastSyncFailed = false
			}
		case model.EntityTournaments:
			if t, ok := s.tournaments[id]; ok {
				t.SyncedAt = now
				t.LastSyncFailed = false
			}
		case model.EntityGames:
			if g, ok := s.games[id]; ok {
				g.SyncedAt = now
				g.LastSyncFailed = false
			}
		}
	}
	return nil
}

// CountByKind returns the number of stored records of a kind.
func (s *EntityStore) CountByKind(ctx context.Context, kind model.EntityKind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case model.EntityPlayers:
		return int64(len(s.players)), nil
	case model.EntityClubs:
		return int64(len(s.clubs)), nil
	case model.EntityTournaments:
		return int64(len(s.tournaments)), nil
	case model.EntityGames:
		return int64(len(s.games)), nil
	default:
		return 0, nil
	}
}

// ListGames returns every stored game, ordered by SourceID.
func (s *EntityStore) ListGames(ctx context.Context) ([]*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	games := make([]*model.Game, 0, len(s.games))
	for _, g := range s.games {
		c := *g
		games = append(games, &c)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].SourceID < games[j].SourceID })
	return games, nil
}

// OrphanGameRefs returns SourceIDs of games with unresolved references.
func (s *EntityStore) OrphanGameRefs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, g := range s.games {
		orphan := false
		if g.WhiteSourceID != "" {
			if _, ok := s.players[g.WhiteSourceID]; !ok {
				orphan = true
			}
		}
		if g.BlackSourceID != "" {
			if _, ok := s.players[g.BlackSourceID]; !ok {
				orphan = true
			}
		}
		if g.TournamentSourceID != "" {
			if _, ok := s.tournaments[g.TournamentSourceID]; !ok {
				orphan = true
			}
		}
		if orphan {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// OrphanClubRefs returns SourceIDs of players with an unresolved club reference.
func (s *EntityStore) OrphanClubRefs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, p := range s.players {
		if p.ClubSourceID == "" {
			continue
		}
		if _, ok := s.clubs[p.ClubSourceID]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// InvalidGameResults returns SourceIDs of games with unrecognized results.
func (s *EntityStore) InvalidGameResults(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	valid := map[string]bool{"1-0": true, "0-1": true, "1/2-1/2": true, "*": true}
	var ids []string
	for id, g := range s.games {
		if !valid[g.Result] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RatingsOutOfRange returns SourceIDs of players rated outside [min, max].
func (s *EntityStore) RatingsOutOfRange(ctx context.Context, min, max int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, p := range s.players {
		if p.Rating != 0 && (p.Rating < min || p.Rating > max) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// TournamentDateAnomalies returns SourceIDs of tournaments ending before they start.
func (s *EntityStore) TournamentDateAnomalies(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, t := range s.tournaments {
		if t.EndDate.Before(t.StartDate) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FindPlayer returns the stored player for a source id, for tests.
func (s *EntityStore) FindPlayer(sourceID string) (*model.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[sourceID]
	if !ok {
		return nil, false
	}
	c := *p
	return &c, true
}

var _ repo.EntityStore = (*EntityStore)(nil)
