package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/rookline/chessync/internal/metrics"
)

// Module is an Fx module that provides the PrometheusRecorder both as the
// concrete type (for the admin server's /metrics handler) and as the
// MetricRecorder interface consumed by the sync engine.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
)
