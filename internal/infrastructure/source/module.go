package source

import "go.uber.org/fx"

// Module is an Fx module that provides the HTTP source client.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewHTTPClient,
		fx.As(new(Client)),
	)),
)
