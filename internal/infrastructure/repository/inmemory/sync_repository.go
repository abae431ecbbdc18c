// Package inmemory provides a map-backed SyncRepository for tests and for
// running the pipeline without a database.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	model "github.com/rookline/chessync/internal/domain/model"
	repo "github.com/rookline/chessync/internal/domain/repository"
)

// SyncRepository is an in-memory implementation of repo.SyncRepository.
// All state is process-local and lost on exit.
type SyncRepository struct {
	mu           sync.RWMutex
	runs         map[string]*model.SyncRun
	checkpoint   *model.SyncCheckpoint
	status       *model.SyncStatus
	kindStatuses map[model.EntityKind]*model.KindStatus
}

// NewSyncRepository creates an empty in-memory SyncRepository.
func NewSyncRepository() *SyncRepository {
	return &SyncRepository{
		runs:         make(map[string]*model.SyncRun),
		kindStatuses: make(map[model.EntityKind]*model.KindStatus),
	}
}

func copyRun(run *model.SyncRun) *model.SyncRun {
	c := *run
	c.Failures = append(model.FailureList(nil), run.Failures...)
	return &c
}

// SaveRun inserts a new SyncRun.
func (r *SyncRepository) SaveRun(ctx context.Context, run *model.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = copyRun(run)
	return nil
}

// UpdateRun persists the current state of an existing SyncRun.
func (r *SyncRepository) UpdateRun(ctx context.Context, run *model.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return repo.ErrRunNotFound
	}
	run.Version++
	r.runs[run.ID] = copyRun(run)
	return nil
}

// FindRunByID retrieves a SyncRun by its identifier.
func (r *SyncRepository) FindRunByID(ctx context.Context, id string) (*model.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, repo.ErrRunNotFound
	}
	return copyRun(run), nil
}

// sortedRuns returns all runs ordered by start time, newest first.
// Callers must hold at least a read lock.
func (r *SyncRepository) sortedRuns() []*model.SyncRun {
	runs := make([]*model.SyncRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	return runs
}

// FindActiveRun retrieves the run currently in a non-terminal state, if any.
func (r *SyncRepository) FindActiveRun(ctx context.Context) (*model.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, run := range r.sortedRuns() {
		if !run.Status.IsFinished() {
			return copyRun(run), nil
		}
	}
	return nil, repo.ErrRunNotFound
}

// FindLatestRun retrieves the most recently started run.
func (r *SyncRepository) FindLatestRun(ctx context.Context) (*model.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := r.sortedRuns()
	if len(runs) == 0 {
		return nil, repo.ErrRunNotFound
	}
	return copyRun(runs[0]), nil
}

// ListRuns retrieves up to limit runs ordered by start time, newest first.
func (r *SyncRepository) ListRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := r.sortedRuns()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]*model.SyncRun, 0, len(runs))
	for _, run := range runs {
		out = append(out, copyRun(run))
	}
	return out, nil
}

// SaveCheckpoint inserts or replaces the single checkpoint row.
func (r *SyncRepository) SaveCheckpoint(ctx context.Context, cp *model.SyncCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *cp
	c.ID = model.CheckpointID
	r.checkpoint = &c
	return nil
}

// FindCheckpoint retrieves the checkpoint row.
func (r *SyncRepository) FindCheckpoint(ctx context.Context) (*model.SyncCheckpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.checkpoint == nil {
		return nil, repo.ErrCheckpointNotFound
	}
	c := *r.checkpoint
	return &c, nil
}

// DeleteCheckpoint removes the checkpoint row.
func (r *SyncRepository) DeleteCheckpoint(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoint = nil
	return nil
}

// WriteStatus inserts or replaces the single SyncStatus row.
func (r *SyncRepository) WriteStatus(ctx context.Context, status *model.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *status
	c.ID = model.StatusID
	c.LastUpdated = time.Now()
	r.status = &c
	return nil
}

// ReadStatus retrieves the single SyncStatus row.
func (r *SyncRepository) ReadStatus(ctx context.Context) (*model.SyncStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.status == nil {
		return nil, repo.ErrStatusNotFound
	}
	c := *r.status
	return &c, nil
}

// UpsertKindStatus inserts or updates the KindStatus row for a kind.
func (r *SyncRepository) UpsertKindStatus(ctx context.Context, status *model.KindStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *status
	r.kindStatuses[status.Kind] = &c
	return nil
}

// FindKindStatus retrieves the KindStatus row for a kind.
func (r *SyncRepository) FindKindStatus(ctx context.Context, kind model.EntityKind) (*model.KindStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status, ok := r.kindStatuses[kind]
	if !ok {
		return nil, repo.ErrKindStatusNotFound
	}
	c := *status
	return &c, nil
}

// ListKindStatuses retrieves all KindStatus rows.
func (r *SyncRepository) ListKindStatuses(ctx context.Context) ([]*model.KindStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.KindStatus, 0, len(r.kindStatuses))
	for _, kind := range model.PhaseOrder {
		if status, ok := r.kindStatuses[kind]; ok {
			c := *status
			out = append(out, &c)
		}
	}
	return out, nil
}

// Close releases nothing; the repository is memory only.
func (r *SyncRepository) Close() error {
	return nil
}

var _ repo.SyncRepository = (*SyncRepository)(nil)
