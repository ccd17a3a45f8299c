// Package iss tracks the International Space Station's ground position and
// its great-circle distance from the observer.
package iss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/observer"
	"github.com/signalsfoundry/skywatch/timectrl"
)

const (
	// DefaultURL is the open-notify current-position endpoint.
	DefaultURL = "http://api.open-notify.org/iss-now.json"
	// DefaultInterval is the polling cadence.
	DefaultInterval = 10 * time.Second
	// NearbyMiles is the distance under which the station counts as nearby.
	NearbyMiles = 500.0
	// EarthRadiusMi is the mean Earth radius used for haversine distances.
	EarthRadiusMi = 3958.8
)

// ErrUnavailable wraps every failure to obtain the station's position.
var ErrUnavailable = errors.New("iss position unavailable")

// Status is one observation of the station relative to the observer.
type Status struct {
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Timestamp    time.Time `json:"timestamp"`
	DistanceMi   float64   `json:"distance_mi"`
	Nearby       bool      `json:"nearby"`
	ObserverLat  float64   `json:"observer_lat"`
	ObserverLon  float64   `json:"observer_lon"`
	ObserverName string    `json:"observer_name,omitempty"`
}

// Config tunes a Watcher.
type Config struct {
	URL      string
	Interval time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Watcher) {
		if c != nil {
			w.client = c
		}
	}
}

// WithClock overrides the poller clock.
func WithClock(c timectrl.Clock) Option { return func(w *Watcher) { w.clock = c } }

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option { return func(w *Watcher) { w.log = logging.OrNoop(l) } }

// WithMetrics reports each poll as a cycle of the "iss.poll" poller.
func WithMetrics(observe func(poller string, d time.Duration, err error)) Option {
	return func(w *Watcher) { w.observe = observe }
}

// Watcher polls the station position and publishes the latest Status.
type Watcher struct {
	cfg     Config
	store   *kb.ObserverStore
	client  *http.Client
	clock   timectrl.Clock
	log     logging.Logger
	observe func(string, time.Duration, error)

	poller *timectrl.Poller[*Status]
	latest atomic.Pointer[Status]

	mu          sync.Mutex
	unsubscribe func()
}

// NewWatcher builds a stopped watcher reading the observer from store.
func NewWatcher(store *kb.ObserverStore, cfg Config, opts ...Option) *Watcher {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	w := &Watcher{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  timectrl.SystemClock{},
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.poller = timectrl.NewPoller("iss.poll", cfg.Interval, w.poll, w.latest.Store,
		timectrl.WithClock(w.clock),
		timectrl.WithLogger(w.log),
		timectrl.OnError(w.pollFailed),
	)
	return w
}

// Start begins polling. Observer changes trigger an immediate poll.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.poller.Start(ctx); err != nil {
		return err
	}
	unsub := w.store.Subscribe(func(kb.Event) { w.poller.Kick() })
	w.mu.Lock()
	w.unsubscribe = unsub
	w.mu.Unlock()
	return nil
}

// Stop halts polling and waits for the in-flight request.
func (w *Watcher) Stop() {
	w.mu.Lock()
	unsub := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	w.poller.Stop()
}

// Latest returns the most recent status, or nil before the first success.
// A failed poll keeps the previous status.
func (w *Watcher) Latest() *Status { return w.latest.Load() }

func (w *Watcher) poll(ctx context.Context, at time.Time) (st *Status, err error) {
	obs, ok := w.store.Current()
	if !ok {
		return nil, observer.ErrUnresolved
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanISSPoll, observability.ObserverAttributes(obs)...)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	lat, lon, ts, err := w.fetch(ctx)
	if w.observe != nil {
		w.observe(observability.SpanISSPoll, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = at
	}

	dist := HaversineMiles(obs.Lat, obs.Lon, lat, lon)
	st = &Status{
		Lat:          lat,
		Lon:          lon,
		Timestamp:    ts,
		DistanceMi:   dist,
		Nearby:       dist < NearbyMiles,
		ObserverLat:  obs.Lat,
		ObserverLon:  obs.Lon,
		ObserverName: obs.Name,
	}
	span.SetAttributes(
		attribute.Float64("iss.lat", lat),
		attribute.Float64("iss.lon", lon),
		attribute.Float64("iss.distance_mi", dist),
		attribute.Bool("iss.nearby", st.Nearby),
	)
	return st, nil
}

func (w *Watcher) pollFailed(err error) {
	if errors.Is(err, observer.ErrUnresolved) {
		return
	}
	w.log.Warn(context.Background(), "iss tracking offline", logging.Err(err))
}

type issNow struct {
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	IssPosition struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"iss_position"`
}

func (w *Watcher) fetch(ctx context.Context) (lat, lon float64, ts time.Time, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, time.Time{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body issNow
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if body.Message != "" && body.Message != "success" {
		return 0, 0, time.Time{}, fmt.Errorf("%w: %s", ErrUnavailable, body.Message)
	}
	lat, err1 := strconv.ParseFloat(body.IssPosition.Latitude, 64)
	lon, err2 := strconv.ParseFloat(body.IssPosition.Longitude, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, time.Time{}, fmt.Errorf("%w: bad position %q,%q", ErrUnavailable,
			body.IssPosition.Latitude, body.IssPosition.Longitude)
	}
	if body.Timestamp > 0 {
		ts = time.Unix(body.Timestamp, 0).UTC()
	}
	return lat, lon, ts, nil
}

// HaversineMiles returns the great-circle distance between two points given
// in degrees.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMi * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
