package observability

import (
	"time"

	"github.com/signalsfoundry/skywatch/model"
)

// Fetch results recorded by ObserveCatalogFetch.
const (
	FetchOK    = "ok"
	FetchStale = "stale"
	FetchError = "error"
)

// ObserveCycle records one polling cycle of the named poller.
func (c *VisibilityCollector) ObserveCycle(poller string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.Cycles != nil {
		c.Cycles.WithLabelValues(poller, result).Inc()
	}
	if c.CycleDurations != nil {
		c.CycleDurations.WithLabelValues(poller).Observe(d.Seconds())
	}
}

// ObserveCatalogFetch counts one catalog fetch for group.
func (c *VisibilityCollector) ObserveCatalogFetch(group, result string) {
	if c == nil || c.CatalogFetches == nil {
		return
	}
	c.CatalogFetches.WithLabelValues(group, result).Inc()
}

// ObserveSnapshot updates the per-widget gauges from a published snapshot.
func (c *VisibilityCollector) ObserveSnapshot(widget string, snap *model.VisibilitySnapshot) {
	if c == nil || snap == nil {
		return
	}
	if c.VisibleSatellites != nil {
		c.VisibleSatellites.WithLabelValues(widget).Set(float64(snap.Visible))
	}
	if c.CatalogSize != nil {
		c.CatalogSize.WithLabelValues(widget).Set(float64(snap.CatalogSize))
	}
	if c.SkippedElements != nil {
		c.SkippedElements.WithLabelValues(widget).Set(float64(snap.Skipped))
	}
	if c.Proximity != nil {
		v := 0.0
		if snap.Proximity {
			v = 1
		}
		c.Proximity.WithLabelValues(widget).Set(v)
	}
}

// SetWidgetState marks state as the current state of widget and clears the
// others.
func (c *VisibilityCollector) SetWidgetState(widget string, state model.WidgetState) {
	if c == nil || c.WidgetState == nil {
		return
	}
	for _, s := range model.AllWidgetStates() {
		v := 0.0
		if s == state {
			v = 1
		}
		c.WidgetState.WithLabelValues(widget, s.String()).Set(v)
	}
}
