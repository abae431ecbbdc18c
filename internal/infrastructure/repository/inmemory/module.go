package inmemory

import (
	"go.uber.org/fx"

	repo "github.com/rookline/chessync/internal/domain/repository"
)

// Module is an Fx module that provides the in-memory repositories.
// Swap it in for gormstore.Module when no database is available.
var Module = fx.Options(
	fx.Provide(NewSyncRepository),
	fx.Provide(NewEntityStore),
	fx.Provide(func(r *SyncRepository) repo.SyncRepository { return r }),
	fx.Provide(func(s *EntityStore) repo.EntityStore { return s }),
)
