package radar

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/timectrl"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	t0          = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	chattanooga = model.ObserverPosition{Lat: 35.0456, Lon: -85.3097, Name: "Chattanooga, TN"}
	london      = model.ObserverPosition{Lat: 51.5074, Lon: -0.1278, Name: "London"}
)

type fetchReply struct {
	cat *model.Catalog
	err error
}

// scriptedLoader replays queued replies, repeating the last one.
type scriptedLoader struct {
	mu      sync.Mutex
	replies []fetchReply
	calls   int
}

func (s *scriptedLoader) Group() string { return "starlink" }

func (s *scriptedLoader) Fetch(ctx context.Context) (*model.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("%w: nothing scripted", catalog.ErrSourceUnavailable)
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r.cat, r.err
}

func (s *scriptedLoader) push(r fetchReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
}

func (s *scriptedLoader) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// overheadPropagator places every satellite 550 km above obs.
type overheadPropagator struct{ obs model.ObserverPosition }

func (p overheadPropagator) PositionECEF(model.OrbitalElementSet, time.Time) (core.Vec3, error) {
	v := core.ObserverECEF(p.obs)
	s := (v.Norm() + 550) / v.Norm()
	return core.Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}, nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	fetches map[string]int
	states  []model.WidgetState
	cycles  int
}

func (r *recordingMetrics) ObserveCycle(string, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

func (r *recordingMetrics) ObserveCatalogFetch(_ string, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetches == nil {
		r.fetches = map[string]int{}
	}
	r.fetches[result]++
}

func (r *recordingMetrics) ObserveSnapshot(string, *model.VisibilitySnapshot) {}

func (r *recordingMetrics) SetWidgetState(_ string, s model.WidgetState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingMetrics) fetchCount(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[result]
}

func testCatalog(n int) *model.Catalog {
	cat := &model.Catalog{Group: "starlink", FetchedAt: t0}
	for i := 0; i < n; i++ {
		cat.Sets = append(cat.Sets, model.OrbitalElementSet{NoradID: 44000 + i, Name: fmt.Sprintf("STARLINK-%d", i)})
	}
	return cat
}

func outage() error {
	return fmt.Errorf("%w: connection refused", catalog.ErrSourceUnavailable)
}

type harness struct {
	engine  *Engine
	store   *kb.ObserverStore
	loader  *scriptedLoader
	clock   *timectrl.ManualClock
	metrics *recordingMetrics
}

func newHarness(t *testing.T, cfg Config, replies ...fetchReply) *harness {
	t.Helper()
	h := &harness{
		store:   kb.NewObserverStore(),
		loader:  &scriptedLoader{replies: replies},
		clock:   timectrl.NewManualClock(t0),
		metrics: &recordingMetrics{},
	}
	h.engine = New(h.loader, h.store, cfg,
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithPropagator(overheadPropagator{obs: chattanooga}),
	)
	require.NoError(t, h.engine.Start(context.Background()))
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) waitState(t *testing.T, want model.WidgetState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.engine.State() == want }, waitFor, tick,
		"state = %s, want %s", h.engine.State(), want)
}

func (h *harness) waitSnapshot(t *testing.T, ok func(*model.VisibilitySnapshot) bool) *model.VisibilitySnapshot {
	t.Helper()
	var snap *model.VisibilitySnapshot
	require.Eventually(t, func() bool {
		snap = h.engine.Snapshot()
		return snap != nil && ok(snap)
	}, waitFor, tick)
	return snap
}

func TestEngineIdleUntilObserverResolves(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{cat: testCatalog(3)})

	assert.Equal(t, model.StateIdle, h.engine.State())
	assert.Nil(t, h.engine.Snapshot())
	assert.Zero(t, h.loader.Calls())

	require.NoError(t, h.store.Set(chattanooga))
	h.waitState(t, model.StateActive)

	snap := h.waitSnapshot(t, func(*model.VisibilitySnapshot) bool { return true })
	assert.Equal(t, 3, snap.CatalogSize)
	assert.Equal(t, 3, snap.Visible)
	assert.Equal(t, model.StateActive, snap.State)
	assert.False(t, snap.Stale)
	assert.True(t, snap.Proximity)
	assert.Equal(t, t0, snap.ComputedAt)
	for _, c := range snap.Contacts {
		assert.InDelta(t, 90, c.ElevationDeg(), 0.5)
	}
}

func TestEngineStartsLoadingWhenObserverAlreadyKnown(t *testing.T) {
	store := kb.NewObserverStore()
	require.NoError(t, store.Set(chattanooga))
	loader := &scriptedLoader{replies: []fetchReply{{cat: testCatalog(1)}}}
	e := New(loader, store, Config{}, WithClock(timectrl.NewManualClock(t0)))
	defer e.Close()

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return e.State() == model.StateActive }, waitFor, tick)
	assert.ErrorIs(t, e.Start(context.Background()), ErrStarted)
}

func TestEngineFetchFailureDegradesAndKeepsComputing(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{err: outage()})
	require.NoError(t, h.store.Set(chattanooga))

	h.waitState(t, model.StateDegraded)
	snap := h.waitSnapshot(t, func(*model.VisibilitySnapshot) bool { return true })
	assert.Zero(t, snap.CatalogSize)
	assert.Empty(t, snap.Contacts)
	assert.False(t, snap.Proximity)
	assert.True(t, snap.Stale)
	assert.Equal(t, model.StateDegraded, snap.State)

	// The compute cadence continues on the empty catalog.
	h.clock.Advance(DefaultComputeInterval)
	h.waitSnapshot(t, func(s *model.VisibilitySnapshot) bool { return s.ComputedAt.After(t0) })
	assert.Equal(t, 1, h.metrics.fetchCount(observability.FetchError))
}

func TestEngineRecoversFromDegraded(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{err: outage()}, fetchReply{cat: testCatalog(2)})
	require.NoError(t, h.store.Set(chattanooga))
	h.waitState(t, model.StateDegraded)

	h.engine.Refresh()
	h.waitState(t, model.StateActive)
	snap := h.waitSnapshot(t, func(s *model.VisibilitySnapshot) bool { return s.CatalogSize == 2 })
	assert.False(t, snap.Stale)
	assert.Equal(t, 1, h.metrics.fetchCount(observability.FetchError))
	assert.Equal(t, 1, h.metrics.fetchCount(observability.FetchOK))
}

func TestEngineActiveRefreshFailureRetainsCatalog(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{cat: testCatalog(4)}, fetchReply{err: outage()})
	require.NoError(t, h.store.Set(chattanooga))
	h.waitState(t, model.StateActive)

	h.clock.Advance(DefaultCatalogRefresh)
	h.waitState(t, model.StateDegraded)
	assert.Equal(t, 4, h.engine.Catalog().Size())

	snap := h.waitSnapshot(t, func(s *model.VisibilitySnapshot) bool { return s.State == model.StateDegraded })
	assert.Equal(t, 4, snap.CatalogSize)
	assert.Equal(t, 4, snap.Visible)
	assert.True(t, snap.Stale)
	assert.GreaterOrEqual(t, h.loader.Calls(), 2)
}

func TestEngineUsesArchivedCatalogWhenNothingInMemory(t *testing.T) {
	stale := testCatalog(5)
	stale.Stale = true
	h := newHarness(t, Config{}, fetchReply{cat: stale, err: outage()})
	require.NoError(t, h.store.Set(chattanooga))

	h.waitState(t, model.StateDegraded)
	snap := h.waitSnapshot(t, func(*model.VisibilitySnapshot) bool { return true })
	assert.Equal(t, 5, snap.CatalogSize)
	assert.True(t, snap.Stale)
	assert.Equal(t, 1, h.metrics.fetchCount(observability.FetchStale))
}

func TestEngineFetchOnceDoesNotRefresh(t *testing.T) {
	h := newHarness(t, Config{CatalogRefresh: 0}, fetchReply{cat: testCatalog(1)})
	require.NoError(t, h.store.Set(chattanooga))
	h.waitState(t, model.StateActive)

	h.clock.Advance(7 * 24 * time.Hour)
	h.waitSnapshot(t, func(s *model.VisibilitySnapshot) bool { return s.ComputedAt.After(t0) })
	assert.Equal(t, 1, h.loader.Calls())
}

func TestEngineObserverMoveKicksCompute(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{cat: testCatalog(2)})
	require.NoError(t, h.store.Set(chattanooga))
	h.waitState(t, model.StateActive)
	first := h.waitSnapshot(t, func(*model.VisibilitySnapshot) bool { return true })
	assert.Equal(t, 2, first.Visible)

	// No clock movement: only the kick can produce the new snapshot.
	require.NoError(t, h.store.Set(london))
	snap := h.waitSnapshot(t, func(s *model.VisibilitySnapshot) bool { return s.Observer.SameLocation(london) })
	assert.Equal(t, "London", snap.Observer.Name)
	// Satellites parked over Chattanooga are below London's horizon.
	assert.Empty(t, snap.Contacts)
	assert.Equal(t, model.StateActive, h.engine.State())
}

func TestEngineSubscribersReceiveSnapshots(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{cat: testCatalog(1)})

	got := make(chan *model.VisibilitySnapshot, 8)
	unsubscribe := h.engine.Subscribe(func(s *model.VisibilitySnapshot) {
		select {
		case got <- s:
		default:
		}
	})
	var transitions []string
	var mu sync.Mutex
	h.engine.SubscribeState(func(from, to model.WidgetState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	require.NoError(t, h.store.Set(chattanooga))
	select {
	case s := <-got:
		assert.Equal(t, 1, s.Visible)
	case <-time.After(waitFor):
		t.Fatal("no snapshot delivered")
	}
	unsubscribe()

	h.engine.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"idle->loading", "loading->active", "active->terminated"}, transitions)
}

func TestEngineCloseTerminates(t *testing.T) {
	h := newHarness(t, Config{}, fetchReply{cat: testCatalog(1)})
	require.NoError(t, h.store.Set(chattanooga))
	h.waitState(t, model.StateActive)
	require.Equal(t, 1, h.store.Subscribers())

	h.engine.Close()
	assert.Equal(t, model.StateTerminated, h.engine.State())
	assert.Zero(t, h.clock.ActiveTickers())
	assert.Zero(t, h.store.Subscribers())
	assert.ErrorIs(t, h.engine.Start(context.Background()), ErrClosed)

	// Later observer changes are ignored.
	require.NoError(t, h.store.Set(london))
	assert.Equal(t, model.StateTerminated, h.engine.State())
	h.engine.Close()
}

func TestEngineCloseWhileIdle(t *testing.T) {
	h := newHarness(t, Config{})
	h.engine.Close()
	assert.Equal(t, model.StateTerminated, h.engine.State())
	assert.Zero(t, h.loader.Calls())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{CatalogRefresh: -1}.withDefaults()
	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultComputeInterval, cfg.ComputeInterval)
	assert.Equal(t, DefaultCatalogRefresh, cfg.CatalogRefresh)

	assert.Zero(t, Config{}.withDefaults().CatalogRefresh)
}
