package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/skywatch/internal/logging"
)

// Tracing exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const defaultOTLPEndpoint = "localhost:4317"

// TracingConfig selects where cycle spans (catalog fetches, visibility
// computations, ISS polls, telemetry lookups) are exported.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector, host:port
	SampleRatio float64

	// CatalogGroup is recorded on the resource so traces from instances
	// watching different groups can be told apart.
	CatalogGroup string
	// Output receives stdout-exported spans; os.Stdout when nil.
	Output io.Writer
}

// TracingConfigFromEnv reads SKYWATCH_TRACING_* and SKYWATCH_OTLP_ENDPOINT
// through getenv (os.Getenv when nil). A sample ratio outside [0, 1] is
// ignored.
func TracingConfigFromEnv(getenv func(string) string) TracingConfig {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(getenv("SKYWATCH_TRACING_ENABLED"), "true"),
		ServiceName: "skywatch",
		Exporter:    ExporterStdout,
		Endpoint:    getenv("SKYWATCH_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if v := strings.ToLower(getenv("SKYWATCH_TRACING_EXPORTER")); v != "" {
		cfg.Exporter = v
	}
	if v := getenv("SKYWATCH_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := getenv("SKYWATCH_TRACING_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// InitTracing installs the global tracer provider used by StartSpan and
// returns a shutdown function that flushes pending spans. When tracing is
// disabled a noop provider is installed, so spans cost nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "skywatch"),
	}
	if cfg.CatalogGroup != "" {
		attrs = append(attrs, attribute.String("skywatch.catalog.group", cfg.CatalogGroup))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler, samplerName := samplerFor(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("catalog_group", cfg.CatalogGroup),
		logging.String("sampler", samplerName),
	)
	return tp.Shutdown, nil
}

// samplerFor maps a ratio onto a sampler. Ratios at the bounds skip the
// trace-id arithmetic entirely.
func samplerFor(ratio float64) (sdktrace.Sampler, string) {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample(), "never"
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), "parentbased_always"
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)),
			"parentbased_traceidratio_" + strconv.FormatFloat(ratio, 'f', 2, 64)
	}
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithoutTimestamps(),
		)
	case ExporterOTLP, "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans within five seconds, logging failures.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
