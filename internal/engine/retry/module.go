package retry

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the retry Executor built from the
// application retry configuration.
var Module = fx.Options(
	fx.Provide(NewExecutorFromConfig),
)
