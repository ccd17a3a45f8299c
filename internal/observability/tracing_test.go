package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// resetTracing restores the noop provider once the test ends.
func resetTracing(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	cfg := TracingConfigFromEnv(envMap(nil))
	if cfg.Enabled {
		t.Fatalf("tracing should default to disabled")
	}
	if cfg.Exporter != ExporterStdout || cfg.ServiceName != "skywatch" || cfg.SampleRatio != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	cfg := TracingConfigFromEnv(envMap(map[string]string{
		"SKYWATCH_TRACING_ENABLED":      "TRUE",
		"SKYWATCH_TRACING_EXPORTER":     "OTLP",
		"SKYWATCH_TRACING_SERVICE_NAME": "radar-test",
		"SKYWATCH_TRACING_SAMPLE_RATIO": "0.25",
		"SKYWATCH_OTLP_ENDPOINT":        "collector:4317",
	}))
	if !cfg.Enabled || cfg.Exporter != ExporterOTLP || cfg.ServiceName != "radar-test" ||
		cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	bad := TracingConfigFromEnv(envMap(map[string]string{"SKYWATCH_TRACING_SAMPLE_RATIO": "7"}))
	if bad.SampleRatio != 1 {
		t.Fatalf("out-of-range ratio should be ignored, got %v", bad.SampleRatio)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		ratio    float64
		wantName string
		wantDesc string
	}{
		{0, "never", "AlwaysOffSampler"},
		{1, "parentbased_always", "AlwaysOnSampler"},
		{0.25, "parentbased_traceidratio_0.25", "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		sampler, name := samplerFor(tt.ratio)
		if name != tt.wantName {
			t.Fatalf("samplerFor(%v) name = %q, want %q", tt.ratio, name, tt.wantName)
		}
		if !strings.Contains(sampler.Description(), tt.wantDesc) {
			t.Fatalf("samplerFor(%v) = %s, want %s", tt.ratio, sampler.Description(), tt.wantDesc)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	resetTracing(t)
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), SpanRadarCompute)
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a recording span")
	}
	EndSpan(span, nil)
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestInitTracingStdoutExportsCycleSpans(t *testing.T) {
	resetTracing(t)
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:      true,
		ServiceName:  "skywatch-test",
		Exporter:     ExporterStdout,
		SampleRatio:  1,
		CatalogGroup: "starlink",
		Output:       &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	obs := model.ObserverPosition{Lat: 35.0456, Lon: -85.3097, Source: model.LocationSourceDefault}
	_, span := StartSpan(ctx, SpanRadarCompute, ObserverAttributes(obs)...)
	EndSpan(span, errors.New("catalog unavailable"))
	ShutdownWithTimeout(ctx, shutdown, nil)

	out := buf.String()
	for _, want := range []string{SpanRadarCompute, "skywatch.catalog.group", "starlink", "skywatch-test", "observer.source", "catalog unavailable"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestInitTracingZeroRatioExportsNothing(t *testing.T) {
	resetTracing(t)
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: ExporterStdout, SampleRatio: 0, Output: &buf}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := StartSpan(ctx, SpanISSPoll)
	EndSpan(span, nil)
	ShutdownWithTimeout(ctx, shutdown, nil)
	if buf.Len() != 0 {
		t.Fatalf("ratio 0 exported spans:\n%s", buf.String())
	}
}

func TestEndSpanRecordsFailure(t *testing.T) {
	resetTracing(t)
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	cat := &model.Catalog{Group: "stations", Sets: make([]model.OrbitalElementSet, 3), Skipped: 1, Stale: true}
	_, ok := StartSpan(context.Background(), SpanCatalogFetch, CatalogAttributes(cat)...)
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), SpanTelemetryGet)
	EndSpan(failed, errors.New("backend returned 502"))

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	if ended[0].Name() != SpanCatalogFetch || ended[0].Status().Code != codes.Unset {
		t.Fatalf("first span = %s %v, want %s unset", ended[0].Name(), ended[0].Status(), SpanCatalogFetch)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["catalog.group"].AsString() != "stations" || attrs["catalog.size"].AsInt64() != 3 || !attrs["catalog.stale"].AsBool() {
		t.Fatalf("catalog attributes = %v", ended[0].Attributes())
	}

	if ended[1].Status().Code != codes.Error || ended[1].Status().Description != "backend returned 502" {
		t.Fatalf("failed span status = %v", ended[1].Status())
	}
	if len(ended[1].Events()) != 1 || ended[1].Events()[0].Name != "exception" {
		t.Fatalf("failed span events = %v", ended[1].Events())
	}
}

func TestSnapshotAttributesNilSafe(t *testing.T) {
	if attrs := SnapshotAttributes(nil); attrs != nil {
		t.Fatalf("SnapshotAttributes(nil) = %v", attrs)
	}
	attrs := SnapshotAttributes(&model.VisibilitySnapshot{Visible: 4, Proximity: true, State: model.StateActive})
	found := false
	for _, kv := range attrs {
		if kv.Key == "widget.state" {
			found = kv.Value.AsString() == model.StateActive.String()
		}
	}
	if !found {
		t.Fatalf("widget.state missing from %v", attrs)
	}
}
