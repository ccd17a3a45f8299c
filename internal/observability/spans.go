package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/skywatch/model"
)

// Span names, one per unit of background or proxied work.
const (
	SpanCatalogFetch = "catalog.fetch"
	SpanRadarCompute = "radar.compute"
	SpanISSPoll      = "iss.poll"
	SpanTelemetryGet = "telemetry.get"
)

const instrumentationName = "github.com/signalsfoundry/skywatch"

// StartSpan starts name on the global tracer provider. The tracer is looked
// up per call so that spans follow whatever InitTracing installed last.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is non-nil, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ObserverAttributes describes the observer a cycle ran for.
func ObserverAttributes(obs model.ObserverPosition) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64("observer.lat", obs.Lat),
		attribute.Float64("observer.lon", obs.Lon),
		attribute.String("observer.source", string(obs.Source)),
	}
}

// CatalogAttributes describes a catalog generation; nil-safe.
func CatalogAttributes(cat *model.Catalog) []attribute.KeyValue {
	if cat == nil {
		return []attribute.KeyValue{attribute.Int("catalog.size", 0)}
	}
	return []attribute.KeyValue{
		attribute.String("catalog.group", cat.Group),
		attribute.Int("catalog.size", cat.Size()),
		attribute.Int("catalog.skipped", cat.Skipped),
		attribute.Bool("catalog.stale", cat.Stale),
	}
}

// SnapshotAttributes describes the outcome of a visibility cycle.
func SnapshotAttributes(snap *model.VisibilitySnapshot) []attribute.KeyValue {
	if snap == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Int("snapshot.visible", snap.Visible),
		attribute.Int("snapshot.skipped", snap.Skipped),
		attribute.Bool("snapshot.proximity", snap.Proximity),
		attribute.Bool("snapshot.stale", snap.Stale),
		attribute.String("widget.state", snap.State.String()),
	}
}
