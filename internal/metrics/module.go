package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the no-op metrics components. The
// application wires the real implementations (PrometheusRecorder,
// OpenTelemetryTracer) from the infrastructure layer instead; this module
// serves stripped-down assemblies that carry no metrics backend.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
