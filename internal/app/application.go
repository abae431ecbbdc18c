package app

import (
	"context"

	"go.uber.org/fx"

	config "github.com/rookline/chessync/internal/config"
	integrity "github.com/rookline/chessync/internal/engine/integrity"
	retry "github.com/rookline/chessync/internal/engine/retry"
	export "github.com/rookline/chessync/internal/export"
	inframetrics "github.com/rookline/chessync/internal/infrastructure/metrics"
	migration "github.com/rookline/chessync/internal/infrastructure/migration"
	gormstore "github.com/rookline/chessync/internal/infrastructure/repository/gormstore"
	source "github.com/rookline/chessync/internal/infrastructure/source"
	tracing "github.com/rookline/chessync/internal/infrastructure/tracing"
	server "github.com/rookline/chessync/internal/server"
	storage "github.com/rookline/chessync/internal/storage"
	logger "github.com/rookline/chessync/internal/support/logger"
	syncpkg "github.com/rookline/chessync/internal/sync"

	model "github.com/rookline/chessync/internal/domain/model"
)

// RunApplication sets up and runs the synchronizer using uber-fx.
//
// Two modes of operation share one assembly. With the admin server enabled
// the process stays up and runs are driven over HTTP. With it disabled the
// process executes a single run with the configured mode and exits.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLogLevel(cfg.Chessync.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Chessync.System.Logging.Level)

	app := fx.New(Options(cfg, appCtx))
	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// Options assembles the Fx graph around an already loaded configuration.
// The configuration is loaded exactly once, before the graph is built, and
// supplied here; nothing inside the graph loads it again.
func Options(cfg *config.Config, appCtx context.Context) fx.Option {
	return fx.Options(
		fx.Supply(
			cfg,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),

		logger.Module,
		config.Module,
		inframetrics.Module,
		tracing.Module,

		gormstore.Module,
		migration.Module,
		source.Module,
		retry.Module,
		integrity.Module,
		storage.Module,
		export.Module,
		syncpkg.Module,
		server.Module,

		fx.Invoke(fx.Annotate(startPipeline, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // orchestrator *syncpkg.Orchestrator
			"",              // cfg *config.Config
			`name:"appCtx"`, // appCtx context.Context
		))),
	)
}

// startPipeline registers the startup hook. In one-shot mode it launches the
// configured run and shuts the application down when the run finishes.
func startPipeline(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	orchestrator *syncpkg.Orchestrator,
	cfg *config.Config,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Chessync.Server.Enabled {
				logger.Infof("Running in server mode; POST /sync/start triggers runs.")
				return nil
			}
			go runOnce(appCtx, orchestrator, cfg, shutdowner)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

// runOnce executes a single synchronization run and then requests shutdown.
// An existing checkpoint is always honored so an interrupted run picks up
// where it left off.
func runOnce(
	appCtx context.Context,
	orchestrator *syncpkg.Orchestrator,
	cfg *config.Config,
	shutdowner fx.Shutdowner,
) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic recovered in run execution: %v", r)
		}
		if err := shutdowner.Shutdown(); err != nil {
			logger.Errorf("Failed to shutdown application: %v", err)
		}
	}()

	mode, ok := model.ParseRunMode(cfg.Chessync.Sync.Mode)
	if !ok {
		logger.Errorf("Unknown sync mode %q; defaulting to %s.", cfg.Chessync.Sync.Mode, mode)
	}

	run, err := orchestrator.Run(appCtx, mode, true)
	if err != nil {
		logger.Errorf("Synchronization run failed: %v", err)
		return
	}
	logger.Infof("Run %s finished with status %s (fetched=%d upserted=%d skipped=%d failed=%d).",
		run.ID, run.Status, run.Counts.Fetched, run.Counts.Upserted, run.Counts.Skipped, run.Counts.Failed)
}
