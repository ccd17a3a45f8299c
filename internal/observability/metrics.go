package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// VisibilityCollector bundles the Prometheus metrics of the service and
// provides helpers to wire them into gRPC servers, HTTP handlers and the
// widget engines.
type VisibilityCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	Cycles         *prometheus.CounterVec
	CycleDurations *prometheus.HistogramVec
	CatalogFetches *prometheus.CounterVec

	VisibleSatellites *prometheus.GaugeVec
	CatalogSize       *prometheus.GaugeVec
	SkippedElements   *prometheus.GaugeVec
	Proximity         *prometheus.GaugeVec
	WidgetState       *prometheus.GaugeVec

	CacheLookups *prometheus.CounterVec
}

// NewVisibilityCollector registers the metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewVisibilityCollector(reg prometheus.Registerer) (*VisibilityCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &VisibilityCollector{gatherer: gatherer}

	var err error
	if c.RPCRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "skywatch_grpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skywatch_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "skywatch_grpc_request_duration_seconds"); err != nil {
		return nil, err
	}

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_http_requests_total",
		Help: "Total number of HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}), "skywatch_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skywatch_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "skywatch_http_request_duration_seconds"); err != nil {
		return nil, err
	}

	if c.Cycles, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_poll_cycles_total",
		Help: "Polling cycles run per poller, labeled by result (ok, error).",
	}, []string{"poller", "result"}), "skywatch_poll_cycles_total"); err != nil {
		return nil, err
	}
	if c.CycleDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skywatch_poll_cycle_duration_seconds",
		Help:    "Duration of one polling cycle in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
	}, []string{"poller"}), "skywatch_poll_cycle_duration_seconds"); err != nil {
		return nil, err
	}
	if c.CatalogFetches, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_catalog_fetches_total",
		Help: "Catalog fetches per group, labeled by result (ok, stale, error).",
	}, []string{"group", "result"}), "skywatch_catalog_fetches_total"); err != nil {
		return nil, err
	}

	gauges := []struct {
		dst    **prometheus.GaugeVec
		name   string
		help   string
		labels []string
	}{
		{&c.VisibleSatellites, "skywatch_visible_satellites", "Satellites above the horizon in the latest snapshot.", []string{"widget"}},
		{&c.CatalogSize, "skywatch_catalog_size", "Element sets in the catalog used by the latest snapshot.", []string{"widget"}},
		{&c.SkippedElements, "skywatch_skipped_elements", "Element sets skipped by the latest computation.", []string{"widget"}},
		{&c.Proximity, "skywatch_proximity", "1 when a visible satellite is inside the proximity threshold.", []string{"widget"}},
		{&c.WidgetState, "skywatch_widget_state", "1 for the current lifecycle state of each widget.", []string{"widget", "state"}},
	}
	for _, g := range gauges {
		vec, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: g.name, Help: g.help}, g.labels), g.name)
		if err != nil {
			return nil, err
		}
		*g.dst = vec
	}

	if c.CacheLookups, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skywatch_cache_lookups_total",
		Help: "Cache lookups, labeled by cache name and result (hit, miss, error).",
	}, []string{"cache", "result"}), "skywatch_cache_lookups_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *VisibilityCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *VisibilityCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor records counts and durations for streaming RPCs
// such as health Watch. The duration covers the whole stream.
func (c *VisibilityCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		if c == nil {
			return err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, time.Since(start))
		return err
	}
}

func (c *VisibilityCollector) observeRPC(fullMethod string, err error, d time.Duration) {
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()

	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(d.Seconds())
	}
}

// ObserveHTTP records one served HTTP request.
func (c *VisibilityCollector) ObserveHTTP(route, method string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if c.HTTPRequests != nil {
		c.HTTPRequests.WithLabelValues(route, method, fmt.Sprint(code)).Inc()
	}
	if c.HTTPDurations != nil {
		c.HTTPDurations.WithLabelValues(route, method).Observe(d.Seconds())
	}
}

// ObserveCacheLookup counts one cache lookup outcome.
func (c *VisibilityCollector) ObserveCacheLookup(cache, result string) {
	if c == nil || c.CacheLookups == nil {
		return
	}
	c.CacheLookups.WithLabelValues(cache, result).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *VisibilityCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
