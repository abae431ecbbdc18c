package gormstore

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	repo "github.com/rookline/chessync/internal/domain/repository"
	logger "github.com/rookline/chessync/internal/support/logger"
)

// Module is an Fx module that provides the GORM connection and the
// GORM-backed repository implementations.
var Module = fx.Options(
	fx.Provide(func(lc fx.Lifecycle, db *gorm.DB) *SyncRepository {
		r := NewSyncRepository(db)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Infof("Closing sync database connection.")
				return r.Close()
			},
		})
		return r
	}),
	fx.Provide(Open),
	fx.Provide(NewEntityStore),
	fx.Provide(func(r *SyncRepository) repo.SyncRepository { return r }),
	fx.Provide(func(s *EntityStore) repo.EntityStore { return s }),
)
