package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/dusk-indust/cohortgraph/internal/logger"
)

const tracerName = "github.com/dusk-indust/cohortgraph"

// Tracer returns the tracer used for pipeline stages and store flushes. It
// is a no-op until InitTracing installs a provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTracing installs a tracer provider that writes spans as JSON to w.
// The returned function flushes and stops it.
func InitTracing(ctx context.Context, log *logger.Logger, service, version string, w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", service),
		attribute.String("service.version", version),
	))
	if err != nil {
		logger.OrNop(log).Warn("otel resource init failed (continuing)", "error", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.OrNop(log).Info("otel tracing initialized", "service", service)
	return tp.Shutdown, nil
}
