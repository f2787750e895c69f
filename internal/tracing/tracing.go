// Package tracing exports OpenTelemetry spans for sessions, provider calls
// and tool executions over OTLP/gRPC.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/moolen/raid/internal/logging"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "raid"

// Config selects the OTLP collector.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint, e.g. "otel-collector:4317"
	TLSCAPath   string // CA bundle used to verify the collector
	TLSInsecure bool   // TLS without certificate verification
	Version     string // service.version attribute
}

// Provider owns the tracer provider and implements lifecycle.Component.
type Provider struct {
	tp      *sdktrace.TracerProvider
	logger  *logging.Logger
	enabled bool
}

// New creates the provider. When tracing is disabled the returned provider
// hands out no-op tracers and the global provider is left untouched.
func New(cfg Config) (*Provider, error) {
	logger := logging.GetLogger("tracing")
	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		return &Provider{logger: logger}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled but endpoint not configured")
	}

	creds, err := transportCredentials(cfg)
	if err != nil {
		return nil, err
	}
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(creds)),
	}
	if cfg.TLSCAPath == "" && !cfg.TLSInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	logger.Info("Tracing initialized with endpoint: %s", cfg.Endpoint)

	return &Provider{tp: tp, logger: logger, enabled: true}, nil
}

func transportCredentials(cfg Config) (credentials.TransportCredentials, error) {
	switch {
	case cfg.TLSInsecure:
		return credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // explicitly requested
			MinVersion:         tls.VersionTLS12,
		}), nil
	case cfg.TLSCAPath != "":
		caCert, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAPath)
		}
		return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}), nil
	}
	return insecure.NewCredentials(), nil
}

// Start implements lifecycle.Component.
func (p *Provider) Start(context.Context) error { return nil }

// Stop flushes buffered spans.
func (p *Provider) Stop(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		p.logger.Error("Error shutting down tracer provider: %v", err)
		return err
	}
	p.logger.Debug("Tracing provider stopped")
	return nil
}

// Name implements lifecycle.Component.
func (p *Provider) Name() string { return "tracing" }

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	if !p.enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p.enabled }
