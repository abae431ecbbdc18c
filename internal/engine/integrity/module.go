package integrity

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the integrity Checker.
var Module = fx.Options(
	fx.Provide(NewChecker),
)
