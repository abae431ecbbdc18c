package migration

import (
	"go.uber.org/fx"
)

// Module provides the Migrator and applies pending migrations during
// application construction, before any sync work starts.
var Module = fx.Options(
	fx.Provide(NewMigrator),
	fx.Invoke(func(m *Migrator) error {
		return m.Up()
	}),
)
