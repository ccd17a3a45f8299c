package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/model"
)

const (
	// DefaultURL is the CelesTrak GP endpoint for the Starlink group.
	DefaultURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=starlink&FORMAT=json"
	// DefaultUserAgent identifies the service to catalog providers.
	DefaultUserAgent = "SkyWatch/1.0"
	// DefaultTimeout bounds a single catalog request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBytes caps the size of a catalog document.
	DefaultMaxBytes int64 = 50 << 20
)

// Loader produces a catalog for one group.
type Loader interface {
	Group() string
	Fetch(ctx context.Context) (*model.Catalog, error)
}

// FetcherConfig configures an HTTP catalog fetcher. Zero values take the
// package defaults.
type FetcherConfig struct {
	URL       string
	Group     string
	Format    Format
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// Fetcher retrieves element sets over HTTP.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
	log    logging.Logger
	now    func() time.Time
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithFetcherLogger attaches a logger.
func WithFetcherLogger(l logging.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = logging.OrNoop(l) }
}

// WithNow overrides the clock used to stamp FetchedAt.
func WithNow(now func() time.Time) FetcherOption {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFetcher creates a Fetcher, filling defaults.
func NewFetcher(cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Group == "" {
		cfg.Group = GroupFromURL(cfg.URL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.Noop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GroupFromURL extracts the GROUP query parameter, or "custom".
func GroupFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "custom"
	}
	for k, v := range u.Query() {
		if strings.EqualFold(k, "group") && len(v) > 0 && v[0] != "" {
			return strings.ToLower(v[0])
		}
	}
	return "custom"
}

// Group returns the configured group name.
func (f *Fetcher) Group() string { return f.cfg.Group }

// URL returns the configured source URL.
func (f *Fetcher) URL() string { return f.cfg.URL }

// Fetch downloads and parses the catalog document.
func (f *Fetcher) Fetch(ctx context.Context) (cat *model.Catalog, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanCatalogFetch,
		attribute.String("catalog.group", f.cfg.Group),
		attribute.String("catalog.url", f.cfg.URL),
	)
	defer func() { observability.EndSpan(span, err) }()

	data, err := f.download(ctx)
	if err != nil {
		return nil, err
	}
	sets, skipped, err := Parse(ctx, data, f.cfg.Format, f.log)
	if err != nil {
		return nil, err
	}

	cat = &model.Catalog{
		Group:     f.cfg.Group,
		Source:    f.cfg.URL,
		FetchedAt: f.now(),
		Sets:      sets,
		Skipped:   skipped,
	}
	span.SetAttributes(observability.CatalogAttributes(cat)...)
	return cat, nil
}

func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrSourceUnavailable, f.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrSourceUnavailable, resp.StatusCode, f.cfg.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return nil, fmt.Errorf("%w: reading body: %v", ErrSourceUnavailable, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d byte limit", ErrSourceUnavailable, f.cfg.MaxBytes)
	}
	return body, nil
}
