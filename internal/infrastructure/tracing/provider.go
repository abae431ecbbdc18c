package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	config "github.com/rookline/chessync/internal/config"
	metrics "github.com/rookline/chessync/internal/metrics"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

const moduleName = "tracing"

// NewTracerFromConfig builds a metrics.Tracer from the application
// configuration. When tracing is disabled it returns the no-op tracer so the
// rest of the pipeline never has to check.
//
// The OTLP exporter and the tracer provider are shut down through the Fx
// lifecycle so buffered spans are flushed on exit.
func NewTracerFromConfig(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	tc := cfg.Chessync.Tracing
	if !tc.Enabled {
		logger.Debugf("Tracing disabled; using no-op tracer.")
		return metrics.NewNoOpTracer(), nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if tc.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(tc.Endpoint))
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to create OTLP trace exporter", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", tc.ServiceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SampleRatio))),
	)
	otel.SetTracerProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Shutting down tracer provider.")
			return provider.Shutdown(ctx)
		},
	})

	logger.Infof("Tracing enabled. Exporting to %s as service '%s'.", tc.Endpoint, tc.ServiceName)
	return NewOpenTelemetryTracer(provider.Tracer("chessync")), nil
}

// Module is an Fx module that provides the configured Tracer.
var Module = fx.Options(
	fx.Provide(NewTracerFromConfig),
)
