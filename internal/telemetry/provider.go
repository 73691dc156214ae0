package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes buffered spans and stops an installed provider.
type ShutdownFunc func(ctx context.Context) error

// ProviderOptions configures span export over OTLP/gRPC.
type ProviderOptions struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// InstallProvider registers a batching tracer provider that exports to an
// OTLP/gRPC collector. The exporter dials lazily; spans are dropped while the
// collector is unreachable.
func InstallProvider(ctx context.Context, opts ProviderOptions) (ShutdownFunc, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("tracing endpoint is required")
	}
	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	tp := newTracerProvider(opts.ServiceName, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newTracerProvider(serviceName string, export sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	if serviceName == "" {
		serviceName = tracerName
	}
	return sdktrace.NewTracerProvider(
		export,
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
}
