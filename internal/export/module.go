package export

import (
	"go.uber.org/fx"

	config "github.com/rookline/chessync/internal/config"
	repository "github.com/rookline/chessync/internal/domain/repository"
	storage "github.com/rookline/chessync/internal/storage"
	sync "github.com/rookline/chessync/internal/sync"
)

// Module is an Fx module that provides the snapshot exporter hook when
// export is enabled. With export disabled the orchestrator receives no
// exporter and skips the step.
var Module = fx.Options(
	fx.Provide(func(cfg *config.Config, entities repository.EntityStore, store storage.Store) sync.SnapshotExporter {
		if !cfg.Chessync.Export.Enabled {
			return nil
		}
		return NewParquetExporter(entities, store)
	}),
)
