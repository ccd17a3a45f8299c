// Package radar runs one visibility widget: it keeps the element catalog
// fresh, recomputes the overhead snapshot on a fixed cadence, and moves
// through the widget lifecycle (idle, loading, active, degraded,
// terminated) as the observer and the catalog source change.
package radar

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/observer"
	"github.com/signalsfoundry/skywatch/timectrl"
)

// Defaults for Config.
const (
	DefaultName            = "radar"
	DefaultComputeInterval = 15 * time.Second
	DefaultCatalogRefresh  = 6 * time.Hour
)

// fetchOncePeriod stands in for "never" when CatalogRefresh is zero; the
// catalog poller still runs its immediate cycle and honours Refresh.
const fetchOncePeriod = 100 * 365 * 24 * time.Hour

var (
	// ErrClosed is returned when starting an engine that has been closed.
	ErrClosed = errors.New("radar: engine closed")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("radar: engine already started")
)

// Config tunes one engine.
type Config struct {
	Name            string
	ComputeInterval time.Duration
	// CatalogRefresh is the catalog refetch period. Zero fetches once.
	CatalogRefresh time.Duration
	Calculator     core.Config
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.ComputeInterval <= 0 {
		c.ComputeInterval = DefaultComputeInterval
	}
	if c.CatalogRefresh < 0 {
		c.CatalogRefresh = DefaultCatalogRefresh
	}
	return c
}

// Metrics receives engine measurements. *observability.VisibilityCollector
// implements it.
type Metrics interface {
	ObserveCycle(poller string, d time.Duration, err error)
	ObserveCatalogFetch(group, result string)
	ObserveSnapshot(widget string, snap *model.VisibilitySnapshot)
	SetWidgetState(widget string, state model.WidgetState)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCycle(string, time.Duration, error)         {}
func (nopMetrics) ObserveCatalogFetch(string, string)                {}
func (nopMetrics) ObserveSnapshot(string, *model.VisibilitySnapshot) {}
func (nopMetrics) SetWidgetState(string, model.WidgetState)          {}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the system clock for both pollers.
func WithClock(c timectrl.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.log = logging.OrNoop(l) } }

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithPropagator replaces the SGP4 propagator used by the calculator.
func WithPropagator(p core.Propagator) Option { return func(e *Engine) { e.prop = p } }

type fetchResult struct {
	cat *model.Catalog
	err error
}

// Engine is one visibility widget.
type Engine struct {
	cfg     Config
	loader  catalog.Loader
	store   *kb.ObserverStore
	calc    *core.Calculator
	prop    core.Propagator
	clock   timectrl.Clock
	log     logging.Logger
	metrics Metrics

	catalogPoller *timectrl.Poller[fetchResult]
	computePoller *timectrl.Poller[*model.VisibilitySnapshot]

	catalog  atomic.Pointer[model.Catalog]
	snapshot atomic.Pointer[model.VisibilitySnapshot]

	mu             sync.Mutex
	state          model.WidgetState
	started        bool
	computeStarted bool
	ctx            context.Context
	cancel         context.CancelFunc
	unsubscribe    func()

	listeners listeners
}

// New builds an idle engine reading the observer from store and the catalog
// from loader.
func New(loader catalog.Loader, store *kb.ObserverStore, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg.withDefaults(),
		loader:  loader,
		store:   store,
		clock:   timectrl.SystemClock{},
		log:     logging.Noop(),
		metrics: nopMetrics{},
		state:   model.StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logging.String("widget", e.cfg.Name))

	var calcOpts []core.Option
	if e.prop != nil {
		calcOpts = append(calcOpts, core.WithPropagator(e.prop))
	}
	calcOpts = append(calcOpts, core.WithLogger(e.log))
	e.calc = core.NewCalculator(e.cfg.Calculator, calcOpts...)

	refresh := e.cfg.CatalogRefresh
	if refresh == 0 {
		refresh = fetchOncePeriod
	}
	e.catalogPoller = timectrl.NewPoller(e.cfg.Name+".catalog", refresh, e.fetch, e.commitCatalog,
		timectrl.WithClock(e.clock),
		timectrl.WithLogger(e.log),
	)
	e.computePoller = timectrl.NewPoller(e.cfg.Name+".compute", e.cfg.ComputeInterval, e.compute, e.commitSnapshot,
		timectrl.WithClock(e.clock),
		timectrl.WithLogger(e.log),
		timectrl.OnError(e.computeFailed),
	)
	e.metrics.SetWidgetState(e.cfg.Name, model.StateIdle)
	return e
}

// Name returns the widget name.
func (e *Engine) Name() string { return e.cfg.Name }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start subscribes to the observer store. The engine leaves Idle as soon as
// the observer is resolved, immediately if it already is.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == model.StateTerminated {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	unsubscribe := e.store.Subscribe(e.onObserver)
	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()

	if e.store.Resolved() {
		e.beginLoading()
	}
	return nil
}

// State returns the current lifecycle state.
func (e *Engine) State() model.WidgetState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns the latest published snapshot, or nil before the first.
func (e *Engine) Snapshot() *model.VisibilitySnapshot { return e.snapshot.Load() }

// Catalog returns the catalog in use, or nil before the first fetch.
func (e *Engine) Catalog() *model.Catalog { return e.catalog.Load() }

// Refresh requests an immediate catalog refetch. It is a no-op until the
// engine has left Idle.
func (e *Engine) Refresh() { e.catalogPoller.Kick() }

// Recompute requests an immediate visibility cycle.
func (e *Engine) Recompute() { e.computePoller.Kick() }

// Subscribe registers fn for every published snapshot. fn runs on the
// compute goroutine and must not block.
func (e *Engine) Subscribe(fn func(*model.VisibilitySnapshot)) (unsubscribe func()) {
	return e.listeners.addSnapshot(fn)
}

// SubscribeState registers fn for lifecycle transitions.
func (e *Engine) SubscribeState(fn func(from, to model.WidgetState)) (unsubscribe func()) {
	return e.listeners.addState(fn)
}

// Close stops both pollers and leaves the engine Terminated. In-flight
// fetches are cancelled and their results discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.state == model.StateTerminated {
		e.mu.Unlock()
		return
	}
	from := e.state
	e.state = model.StateTerminated
	unsubscribe, cancel := e.unsubscribe, e.cancel
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	e.catalogPoller.Stop()
	e.computePoller.Stop()
	e.transitioned(from, model.StateTerminated)
}

// context returns the activation context, or Background before Start.
func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Engine) onObserver(ev kb.Event) {
	switch ev.Type {
	case kb.EventResolved:
		e.beginLoading()
	case kb.EventMoved:
		if e.State().Computing() {
			e.log.Debug(e.context(), "observer moved, recomputing",
				logging.Float64("lat", ev.Observer.Lat),
				logging.Float64("lon", ev.Observer.Lon),
			)
			e.computePoller.Kick()
		}
	}
}

func (e *Engine) beginLoading() {
	e.mu.Lock()
	if e.state != model.StateIdle || !e.started {
		e.mu.Unlock()
		return
	}
	e.state = model.StateLoading
	ctx := e.ctx
	e.mu.Unlock()

	e.transitioned(model.StateIdle, model.StateLoading)
	if err := e.catalogPoller.Start(ctx); err != nil {
		e.log.Error(ctx, "catalog poller failed to start", logging.Err(err))
	}
}

func (e *Engine) fetch(ctx context.Context, _ time.Time) (fetchResult, error) {
	cat, err := e.loader.Fetch(ctx)
	return fetchResult{cat: cat, err: err}, nil
}

func (e *Engine) commitCatalog(res fetchResult) {
	ctx := e.context()
	group := e.loader.Group()

	next := model.StateActive
	switch {
	case res.err == nil && res.cat != nil:
		e.catalog.Store(res.cat)
		e.metrics.ObserveCatalogFetch(group, observability.FetchOK)
		min, max := res.cat.EpochRange()
		e.log.Info(ctx, "catalog refreshed",
			logging.String("group", group),
			logging.Int("size", res.cat.Size()),
			logging.Int("skipped", res.cat.Skipped),
			logging.Time("oldest_epoch", min),
			logging.Time("newest_epoch", max),
		)
	default:
		next = model.StateDegraded
		result := observability.FetchError
		// A catalog already in memory is at least as new as the archive.
		if res.cat != nil && e.catalog.Load() == nil {
			e.catalog.Store(res.cat)
			result = observability.FetchStale
		}
		e.metrics.ObserveCatalogFetch(group, result)
		e.log.Warn(ctx, "catalog refresh failed",
			logging.String("group", group),
			logging.Int("retained", e.catalog.Load().Size()),
			logging.Err(res.err),
		)
	}

	e.mu.Lock()
	if e.state == model.StateTerminated {
		e.mu.Unlock()
		return
	}
	from := e.state
	e.state = next
	startCompute := !e.computeStarted
	e.computeStarted = true
	e.mu.Unlock()

	e.transitioned(from, next)
	if startCompute {
		if err := e.computePoller.Start(ctx); err != nil {
			e.log.Error(ctx, "compute poller failed to start", logging.Err(err))
		}
		return
	}
	e.computePoller.Kick()
}

func (e *Engine) compute(ctx context.Context, at time.Time) (snap *model.VisibilitySnapshot, err error) {
	obs, ok := e.store.Current()
	if !ok {
		return nil, observer.ErrUnresolved
	}
	cat := e.catalog.Load()
	state := e.State()

	attrs := append([]attribute.KeyValue{attribute.String("widget", e.cfg.Name)}, observability.ObserverAttributes(obs)...)
	ctx, span := observability.StartSpan(ctx, observability.SpanRadarCompute, append(attrs, observability.CatalogAttributes(cat)...)...)
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	var sets []model.OrbitalElementSet
	if cat != nil {
		sets = cat.Sets
	}
	snap, err = e.calc.ComputeContext(ctx, sets, obs, at)
	e.metrics.ObserveCycle(e.computePoller.Name(), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	snap.State = state
	snap.Stale = cat == nil || cat.Stale || state == model.StateDegraded
	span.SetAttributes(observability.SnapshotAttributes(snap)...)
	return snap, nil
}

func (e *Engine) commitSnapshot(snap *model.VisibilitySnapshot) {
	e.snapshot.Store(snap)
	e.metrics.ObserveSnapshot(e.cfg.Name, snap)
	e.log.Debug(e.context(), "visibility snapshot published",
		logging.Int("visible", snap.Visible),
		logging.Int("catalog_size", snap.CatalogSize),
		logging.Int("skipped", snap.Skipped),
		logging.Bool("proximity", snap.Proximity),
	)
	e.listeners.publishSnapshot(snap)
}

func (e *Engine) computeFailed(err error) {
	if errors.Is(err, observer.ErrUnresolved) {
		return
	}
	e.log.Warn(e.context(), "visibility cycle failed", logging.Err(err))
}

func (e *Engine) transitioned(from, to model.WidgetState) {
	e.metrics.SetWidgetState(e.cfg.Name, to)
	if from == to {
		return
	}
	e.log.Info(e.context(), "widget state changed",
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	)
	e.listeners.publishState(from, to)
}
