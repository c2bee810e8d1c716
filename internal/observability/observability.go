// Package observability wires OpenTelemetry tracing. Spans are exported to
// a local OTLP collector over HTTP; when no collector is reachable the
// exporter creation fails soft and tracing is disabled.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultEndpoint is the default OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector address (host:port).
	Endpoint string
	// ServiceName tags exported spans (default: grounded).
	ServiceName string
}

// Setup installs a global TracerProvider exporting to the configured OTLP
// endpoint. The returned shutdown flushes pending spans; it is never nil.
func Setup(ctx context.Context, logger *slog.Logger, cfg Config) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func(context.Context) error { return nil }

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "grounded"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return noop, nil
	}

	res, err := sdkresource.Merge(sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		))
	if err != nil {
		logger.Warn("building trace resource failed, tracing disabled", "error", err)
		return noop, nil
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled", "endpoint", endpoint, "service", serviceName)
	return provider.Shutdown, nil
}
