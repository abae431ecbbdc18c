package storage

import (
	"context"

	"go.uber.org/fx"

	config "github.com/rookline/chessync/internal/config"
)

// Module is an Fx module that provides the configured snapshot Store and
// closes it on shutdown.
var Module = fx.Options(
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config) (Store, error) {
		store, err := NewStore(context.Background(), &cfg.Chessync.Storage)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return store.Close()
			},
		})
		return store, nil
	}),
)
