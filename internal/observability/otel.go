// Package observability wires OpenTelemetry metrics, tracing, and log
// export for the mutation service: OTLP exporters (gRPC and HTTP) for
// traces and logs, Prometheus for metrics.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           OTLPExporterConfig
}

// OTLPExporterConfig holds OTLP exporter options shared by signals.
type OTLPExporterConfig struct {
	Endpoint string
	Protocol string // "grpc" or "http/protobuf"
	Insecure bool
	Timeout  time.Duration
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case string(otlpProtocolHTTP), "http":
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q", value)
	}
}

func buildResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// MeterProvider wraps the meter provider and its Prometheus exporter.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	exporter *prometheus.Exporter
}

// InitMeterProvider initializes metrics with a Prometheus exporter and
// sets the global meter provider.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := buildResource(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	return &MeterProvider{provider: provider, exporter: exporter}, nil
}

// Shutdown gracefully shuts down the meter provider.
func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mp.provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown meter provider", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// TracerProvider wraps the tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider initializes tracing with an OTLP exporter and sets
// the global tracer provider. Returns (nil, nil) when no endpoint is
// configured.
func InitTracerProvider(ctx context.Context, cfg Config) (*TracerProvider, error) {
	if cfg.OTLP.Endpoint == "" {
		return nil, nil
	}
	res, err := buildResource(cfg)
	if err != nil {
		return nil, err
	}
	protocol, err := parseOTLPProtocol(cfg.OTLP.Protocol)
	if err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	switch protocol {
	case otlpProtocolHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLP.Endpoint)}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if cfg.OTLP.Timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.OTLP.Timeout))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint)}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if cfg.OTLP.Timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.OTLP.Timeout))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return &TracerProvider{provider: provider}, nil
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer provider", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// LoggerProvider wraps the OTLP log provider used by the otelslog bridge.
type LoggerProvider struct {
	provider *sdklog.LoggerProvider
}

// InitLoggerProvider initializes OTLP log export. Returns (nil, nil) when
// no endpoint is configured.
func InitLoggerProvider(ctx context.Context, cfg Config) (*LoggerProvider, error) {
	if cfg.OTLP.Endpoint == "" {
		return nil, nil
	}
	res, err := buildResource(cfg)
	if err != nil {
		return nil, err
	}
	protocol, err := parseOTLPProtocol(cfg.OTLP.Protocol)
	if err != nil {
		return nil, err
	}

	var exporter sdklog.Exporter
	switch protocol {
	case otlpProtocolHTTP:
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.OTLP.Endpoint)}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exporter, err = otlploghttp.New(ctx, opts...)
	default:
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTLP.Endpoint)}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlploggrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		exporter, err = otlploggrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	return &LoggerProvider{provider: provider}, nil
}

// Provider returns the underlying provider for the otelslog bridge.
func (lp *LoggerProvider) Provider() *sdklog.LoggerProvider {
	return lp.provider
}

// Shutdown gracefully shuts down the logger provider.
func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := lp.provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown logger provider", slog.String("error", err.Error()))
		return err
	}
	return nil
}
