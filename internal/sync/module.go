package sync

import (
	"context"

	"go.uber.org/fx"
)

// Module is an Fx module that provides the Orchestrator and ties its
// shutdown into the application lifecycle. The snapshot exporter parameter
// is optional; without one, completed runs skip the export step.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewOrchestrator,
		fx.ParamTags("", "", "", "", "", "", "", "", `optional:"true"`),
	)),
	fx.Invoke(func(lc fx.Lifecycle, o *Orchestrator) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				o.Shutdown()
				return nil
			},
		})
	}),
)
