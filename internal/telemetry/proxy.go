// Package telemetry forwards the sky-data endpoints of the backend service
// (moon, sun, planets, weather, sky summary) and caches their answers per
// observer cell.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/skywatch/internal/cache"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
)

const (
	// DefaultBaseURL is where the backend listens by default.
	DefaultBaseURL = "http://127.0.0.1:8000"
	// DefaultTTL is how long a response stays cached.
	DefaultTTL = 60 * time.Second

	maxResponseBytes = 4 << 20
)

var (
	// ErrUnknownEndpoint is returned for endpoints outside the allow-list.
	ErrUnknownEndpoint = errors.New("unknown telemetry endpoint")
	// ErrBackendUnavailable wraps transport errors and non-2xx answers.
	ErrBackendUnavailable = errors.New("telemetry backend unavailable")
)

// Endpoints lists the backend paths the proxy forwards.
var Endpoints = []string{"moon-details", "moon-illumination", "weather", "sky-summary", "planets", "sun"}

// Allowed reports whether endpoint may be proxied.
func Allowed(endpoint string) bool {
	for _, e := range Endpoints {
		if e == endpoint {
			return true
		}
	}
	return false
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) {
		if c != nil {
			p.client = c
		}
	}
}

// WithCache stores responses in c.
func WithCache(c cache.Cache) Option {
	return func(p *Proxy) {
		if c != nil {
			p.cache = c
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(p *Proxy) { p.ttl = ttl } }

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option { return func(p *Proxy) { p.log = logging.OrNoop(l) } }

// WithLookupHook is called with the cache outcome of every Get.
func WithLookupHook(fn func(result string)) Option { return func(p *Proxy) { p.onLookup = fn } }

// Proxy forwards allowed endpoints to the backend.
type Proxy struct {
	base     *url.URL
	client   *http.Client
	cache    cache.Cache
	ttl      time.Duration
	log      logging.Logger
	onLookup func(string)
}

// NewProxy builds a proxy for baseURL (DefaultBaseURL when empty).
func NewProxy(baseURL string, opts ...Option) (*Proxy, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("telemetry base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("telemetry base url %q: missing scheme or host", baseURL)
	}
	p := &Proxy{
		base:   base,
		client: &http.Client{Timeout: 15 * time.Second},
		cache:  cache.Nop{},
		ttl:    DefaultTTL,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Get returns the backend's JSON for endpoint at lat/lon, served from the
// cache when a fresh entry exists for the same 0.1 degree cell.
func (p *Proxy) Get(ctx context.Context, endpoint string, lat, lon float64) (_ json.RawMessage, err error) {
	if !Allowed(endpoint) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpoint)
	}

	key := cache.CoordKey(endpoint, lat, lon)
	ctx, span := observability.StartSpan(ctx, observability.SpanTelemetryGet,
		attribute.String("telemetry.endpoint", endpoint),
		attribute.String("cache.key", key),
	)
	defer func() { observability.EndSpan(span, err) }()

	b, result, err := cache.Through(ctx, p.cache, key, p.ttl, func(ctx context.Context) ([]byte, error) {
		return p.fetch(ctx, endpoint, lat, lon)
	}, func(err error) {
		p.log.Debug(ctx, "telemetry cache unavailable", logging.Err(err))
	})
	span.SetAttributes(attribute.String("cache.result", string(result)))
	if p.onLookup != nil {
		p.onLookup(string(result))
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (p *Proxy) fetch(ctx context.Context, endpoint string, lat, lon float64) ([]byte, error) {
	u := *p.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + endpoint
	u.RawQuery = url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrBackendUnavailable, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrBackendUnavailable, err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s response too large", ErrBackendUnavailable, endpoint)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned invalid JSON", ErrBackendUnavailable, endpoint)
	}
	return body, nil
}
