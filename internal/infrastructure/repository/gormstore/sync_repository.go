package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/rookline/chessync/internal/domain/model"
	repo "github.com/rookline/chessync/internal/domain/repository"
	exception "github.com/rookline/chessync/internal/support/exception"
)

const moduleSyncRepository = "sync_repository"

// SyncRepository is the GORM implementation of repo.SyncRepository.
type SyncRepository struct {
	db *gorm.DB
}

// NewSyncRepository creates a SyncRepository on the given connection.
func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// SaveRun inserts a new SyncRun.
func (r *SyncRepository) SaveRun(ctx context.Context, run *model.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return exception.NewPermanentError(moduleSyncRepository, "failed to insert sync run", err)
	}
	return nil
}

// UpdateRun persists the current state of an existing SyncRun.
func (r *SyncRepository) UpdateRun(ctx context.Context, run *model.SyncRun) error {
	run.Version++
	result := r.db.WithContext(ctx).Model(&model.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"mode":          run.Mode,
			"status":        run.Status,
			"current_phase": run.CurrentPhase,
			"end_time":      run.EndTime,
			"counts":        run.Counts,
			"failures":      run.Failures,
			"resumed_from":  run.ResumedFrom,
			"integrity":     run.Integrity,
			"last_updated":  run.LastUpdated,
			"version":       run.Version,
		})
	if result.Error != nil {
		return exception.NewPermanentError(moduleSyncRepository, "failed to update sync run", result.Error)
	}
	if result.RowsAffected == 0 {
		return repo.ErrRunNotFound
	}
	return nil
}

// FindRunByID retrieves a SyncRun by its identifier.
func (r *SyncRepository) FindRunByID(ctx context.Context, id string) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrRunNotFound
	}
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to find sync run", err)
	}
	return &run, nil
}

// FindActiveRun retrieves the run currently in a non-terminal state, if any.
func (r *SyncRepository) FindActiveRun(ctx context.Context) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.RunStatus{model.RunStatusStarting, model.RunStatusRunning, model.RunStatusCancelling}).
		Order("start_time DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrRunNotFound
	}
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to find active sync run", err)
	}
	return &run, nil
}

// FindLatestRun retrieves the most recently started run.
func (r *SyncRepository) FindLatestRun(ctx context.Context) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.db.WithContext(ctx).Order("start_time DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrRunNotFound
	}
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to find latest sync run", err)
	}
	return &run, nil
}

// ListRuns retrieves up to limit runs ordered by start time, newest first.
func (r *SyncRepository) ListRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*model.SyncRun
	err := r.db.WithContext(ctx).Order("start_time DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to list sync runs", err)
	}
	return runs, nil
}

// SaveCheckpoint inserts or replaces the single checkpoint row.
func (r *SyncRepository) SaveCheckpoint(ctx context.Context, cp *model.SyncCheckpoint) error {
	cp.ID = model.CheckpointID
	cp.LastUpdated = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "mode", "phase", "batch_index", "last_source_id", "progress", "last_updated"}),
	}).Create(cp).Error
	if err != nil {
		return exception.NewPermanentError(moduleSyncRepository, "failed to save checkpoint", err)
	}
	return nil
}

// FindCheckpoint retrieves the checkpoint row.
func (r *SyncRepository) FindCheckpoint(ctx context.Context) (*model.SyncCheckpoint, error) {
	var cp model.SyncCheckpoint
	err := r.db.WithContext(ctx).First(&cp, "id = ?", model.CheckpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to find checkpoint", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint row.
func (r *SyncRepository) DeleteCheckpoint(ctx context.Context) error {
	err := r.db.WithContext(ctx).Delete(&model.SyncCheckpoint{}, "id = ?", model.CheckpointID).Error
	if err != nil {
		return exception.NewPermanentError(moduleSyncRepository, "failed to delete checkpoint", err)
	}
	return nil
}

// WriteStatus inserts or replaces the single SyncStatus row.
func (r *SyncRepository) WriteStatus(ctx context.Context, status *model.SyncStatus) error {
	status.ID = model.StatusID
	status.LastUpdated = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_running", "progress", "current_operation", "run_id", "last_error", "last_updated"}),
	}).Create(status).Error
	if err != nil {
		return exception.NewPermanentError(moduleSyncRepository, "failed to write sync status", err)
	}
	return nil
}

// ReadStatus retrieves the single SyncStatus row.
func (r *SyncRepository) ReadStatus(ctx context.Context) (*model.SyncStatus, error) {
	var status model.SyncStatus
	err := r.db.WithContext(ctx).First(&status, "id = ?", model.StatusID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrStatusNotFound
	}
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to read sync status", err)
	}
	return &status, nil
}

// UpsertKindStatus inserts or updates the KindStatus row for a kind.
func (r *SyncRepository) UpsertKindStatus(ctx context.Context, status *model.KindStatus) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run_id", "last_sync_at", "record_count", "healthy", "last_error"}),
	}).Create(status).Error
	if err != nil {
		return exception.NewPermanentError(moduleSyncRepository, "failed to upsert kind status", err)
	}
	return nil
}

// FindKindStatus retrieves the KindStatus row for a kind.
func (r *SyncRepository) FindKindStatus(ctx context.Context, kind model.EntityKind) (*model.KindStatus, error) {
	var status model.KindStatus
	err := r.db.WithContext(ctx).First(&status, "kind = ?", kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrKindStatusNotFound
	}
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to find kind status", err)
	}
	return &status, nil
}

// ListKindStatuses retrieves all KindStatus rows.
func (r *SyncRepository) ListKindStatuses(ctx context.Context) ([]*model.KindStatus, error) {
	var statuses []*model.KindStatus
	err := r.db.WithContext(ctx).Order("kind").Find(&statuses).Error
	if err != nil {
		return nil, exception.NewPermanentError(moduleSyncRepository, "failed to list kind statuses", err)
	}
	return statuses, nil
}

// Close releases the underlying database connection.
func (r *SyncRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ repo.SyncRepository = (*SyncRepository)(nil)
