package service

import (
	"context"
	"log/slog"

	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

const serviceName = "room-coordinator"

// setupTracing installs a global tracer provider exporting over OTLP/HTTP.
// Without an endpoint tracing stays a no-op.
func setupTracing(lc fx.Lifecycle, cfg variables.Config, logger *slog.Logger) error {
	if cfg.OtelEndpoint == "" {
		return nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpointURL(cfg.OtelEndpoint),
	)
	if err != nil {
		return err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.instance.id", cfg.InstanceID),
		),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracing enabled", slog.String("endpoint", cfg.OtelEndpoint))
	lc.Append(fx.Hook{
		OnStop: tp.Shutdown,
	})
	return nil
}

var TracingModule = fx.Module("tracing", fx.Invoke(setupTracing))
