package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/loqa-stream/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// telemetry bundles the providers installed globally for the process.
type telemetry struct {
	tracer   *sdktrace.TracerProvider
	meter    *sdkmetric.MeterProvider
	metrics  http.Handler
	exporter string
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meter.Shutdown(ctx), t.tracer.Shutdown(ctx))
}

func setupTelemetry(cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	t, err := newTelemetry(context.Background(), cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(t.tracer)
	otel.SetMeterProvider(t.meter)
	logger.Info("telemetry initialized",
		slog.String("trace_exporter", t.exporter),
		slog.Bool("prometheus", t.metrics != nil))
	return t, nil
}

// streamResource describes the process and the stream format every session shares.
func streamResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("loqa.stream.policy", cfg.Stream.Policy),
			attribute.Int("loqa.stream.sample_rate", cfg.Stream.SampleRate),
			attribute.Int("loqa.stream.channels", cfg.Stream.Channels),
			attribute.String("loqa.stt.mode", cfg.STT.Mode),
			attribute.String("loqa.vad.mode", cfg.VAD.Mode),
		),
	)
}

// newTelemetry builds the providers. Spans leave the process over OTLP when an
// endpoint is set; otherwise they are only written to debugOut at debug level,
// and dropped unsampled at any other level.
func newTelemetry(ctx context.Context, cfg config.Config, debugOut io.Writer) (*telemetry, error) {
	res, err := streamResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tp, exporter, err := newTracerProvider(ctx, cfg, res, debugOut)
	if err != nil {
		return nil, err
	}
	mp, handler := newMeterProvider(res)
	return &telemetry{tracer: tp, meter: mp, metrics: handler, exporter: exporter}, nil
}

func newTracerProvider(ctx context.Context, cfg config.Config, res *resource.Resource, debugOut io.Writer) (*sdktrace.TracerProvider, string, error) {
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, "", err
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		), "otlp", nil
	}

	if ParseLogLevel(cfg.Telemetry.LogLevel) == slog.LevelDebug && debugOut != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(debugOut))
		if err != nil {
			return nil, "", err
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exporter),
			sdktrace.WithResource(res),
		), "stderr", nil
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.NeverSample()),
		sdktrace.WithResource(res),
	), "none", nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.Handler()
}
