// Package tracing exports the gateway's spans to an OTLP collector over
// gRPC. Export is optional; when no collector is configured the process keeps
// the global no-op provider and otelgin spans go nowhere.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Options name the collector and the identity the spans carry.
type Options struct {
	// ServiceName is the service.name resource attribute.
	ServiceName string
	// Environment is the deployment.environment resource attribute, taken
	// from GO_ENV.
	Environment string
	// CollectorAddr is the host:port of the OTLP gRPC collector.
	CollectorAddr string
	// Insecure selects a plaintext collector connection, for local compose
	// setups without TLS.
	Insecure bool
}

// Setup installs a batching tracer provider as the process-global one and
// selects W3C trace context propagation, so spans of one client session
// correlate across the gateway, the backs and the admin service. The
// collector connection is dialed lazily; a collector that is down delays
// nothing at startup.
func Setup(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if opts.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(opts.CollectorAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("trace collector client for %s: %w", opts.CollectorAddr, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
			semconv.DeploymentEnvironment(opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}
