package server

import (
	"context"

	"go.uber.org/fx"

	"github.com/rookline/chessync/internal/config"
	"github.com/rookline/chessync/internal/support/logger"
)

// Module is an Fx module that provides the admin HTTP server and binds its
// lifetime to the application lifecycle. The listener is only started when
// enabled in the configuration.
var Module = fx.Options(
	fx.Provide(NewAdminServer),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *AdminServer) {
		if !cfg.Chessync.Server.Enabled {
			logger.Infof("Admin server is disabled.")
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return s.Stop(ctx)
			},
		})
	}),
)
