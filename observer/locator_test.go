package observer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/skywatch/internal/cache"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
)

type fakeGeocoder struct {
	place      Place
	searchErr  error
	name       string
	reverseErr error

	searches, reverses int
}

func (f *fakeGeocoder) Search(context.Context, string) (Place, error) {
	f.searches++
	return f.place, f.searchErr
}

func (f *fakeGeocoder) Reverse(context.Context, float64, float64) (string, error) {
	f.reverses++
	return f.name, f.reverseErr
}

func TestResolveFallsBackToDefault(t *testing.T) {
	store := kb.NewObserverStore()
	l := NewLocator(store, WithGeolocator(StaticGeolocator{Err: errors.New("permission denied")}))

	pos, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultObserver, pos)

	got, ok := l.CurrentPosition()
	require.True(t, ok)
	assert.Equal(t, "Chattanooga, TN", got.Name)
	assert.Equal(t, model.LocationSourceDefault, got.Source)
}

func TestResolveWithoutGeolocatorUsesDefault(t *testing.T) {
	l := NewLocator(kb.NewObserverStore(), WithDefault(model.ObserverPosition{Lat: 1, Lon: 2, Name: "Home"}))
	pos, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Home", pos.Name)
	assert.Equal(t, model.LocationSourceDefault, pos.Source)
}

func TestResolveNamesUnnamedGeolocation(t *testing.T) {
	store := kb.NewObserverStore()
	var events []kb.Event
	store.Subscribe(func(e kb.Event) { events = append(events, e) })

	geo := StaticGeolocator{Position: model.ObserverPosition{Lat: 40.7128, Lon: -74.006}}
	l := NewLocator(store, WithGeolocator(geo), WithGeocoder(&fakeGeocoder{name: "New York"}))

	pos, err := l.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "New York", pos.Name)
	assert.Equal(t, model.LocationSourceGeolocation, pos.Source)

	got, _ := store.Current()
	assert.Equal(t, "New York", got.Name)
	// Naming the position does not count as a move.
	require.Len(t, events, 1)
	assert.Equal(t, kb.EventResolved, events[0].Type)
}

func TestResolveNamePlaceholderOnFailure(t *testing.T) {
	l := NewLocator(kb.NewObserverStore(), WithGeocoder(&fakeGeocoder{reverseErr: ErrThrottled}))
	assert.Equal(t, PlaceholderName, l.ResolveName(context.Background(), DefaultObserver))

	bare := NewLocator(kb.NewObserverStore())
	assert.Equal(t, PlaceholderName, bare.ResolveName(context.Background(), DefaultObserver))
}

func TestResolveNameIsCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedis(mr.Addr(), "", 0)
	defer rc.Close()

	geo := &fakeGeocoder{name: "Chattanooga"}
	l := NewLocator(kb.NewObserverStore(), WithGeocoder(geo), WithCache(rc))
	ctx := context.Background()

	assert.Equal(t, "Chattanooga", l.ResolveName(ctx, DefaultObserver))
	assert.Equal(t, "Chattanooga", l.ResolveName(ctx, model.ObserverPosition{Lat: 35.01, Lon: -85.28}))
	assert.Equal(t, 1, geo.reverses)

	assert.True(t, mr.Exists("geocode:reverse:35.0:-85.3"))
	assert.Equal(t, 24*time.Hour, mr.TTL("geocode:reverse:35.0:-85.3"))
}

func TestSearchMovesObserver(t *testing.T) {
	store := kb.NewObserverStore()
	geo := &fakeGeocoder{place: Place{Lat: 48.8566, Lon: 2.3522, Name: "Paris"}}
	l := NewLocator(store, WithGeocoder(geo))

	pos, err := l.Search(context.Background(), "paris")
	require.NoError(t, err)
	assert.Equal(t, model.LocationSourceSearch, pos.Source)

	got, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "Paris", got.Name)
}

func TestSearchErrorsLeaveStoreUntouched(t *testing.T) {
	store := kb.NewObserverStore()
	require.NoError(t, store.Set(DefaultObserver))

	for _, want := range []error{ErrNotFound, ErrThrottled} {
		l := NewLocator(store, WithGeocoder(&fakeGeocoder{searchErr: want}))
		_, err := l.Search(context.Background(), "somewhere")
		assert.True(t, errors.Is(err, want), "got %v", err)
		got, _ := store.Current()
		assert.Equal(t, DefaultObserver, got)
	}

	_, err := NewLocator(store, WithGeocoder(&fakeGeocoder{})).Search(context.Background(), "  ")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSearchUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.NewRedis(mr.Addr(), "", 0)
	defer rc.Close()

	geo := &fakeGeocoder{place: Place{Lat: 1, Lon: 2, Name: "Somewhere"}}
	l := NewLocator(kb.NewObserverStore(), WithGeocoder(geo), WithCache(rc))
	for i := 0; i < 3; i++ {
		_, err := l.Search(context.Background(), "Somewhere")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, geo.searches)
}

func TestSetManual(t *testing.T) {
	l := NewLocator(kb.NewObserverStore())
	_, err := l.Current()
	assert.True(t, errors.Is(err, ErrUnresolved))

	pos, err := l.SetManual(10, 20, "")
	require.NoError(t, err)
	assert.Equal(t, PlaceholderName, pos.Name)
	assert.Equal(t, model.LocationSourceManual, pos.Source)

	_, err = l.SetManual(95, 0, "nowhere")
	assert.Error(t, err)
	cur, err := l.Current()
	require.NoError(t, err)
	assert.Equal(t, 10.0, cur.Lat)
}

// gatedGeocoder blocks Reverse until release is closed.
type gatedGeocoder struct {
	fakeGeocoder
	started chan struct{}
	release chan struct{}
}

func (g *gatedGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	close(g.started)
	<-g.release
	return g.fakeGeocoder.Reverse(ctx, lat, lon)
}

func TestResolveKeepsManualMoveDuringReverseLookup(t *testing.T) {
	store := kb.NewObserverStore()
	geo := StaticGeolocator{Position: model.ObserverPosition{Lat: 40, Lon: -100}}
	gc := &gatedGeocoder{
		fakeGeocoder: fakeGeocoder{name: "Nebraska"},
		started:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	l := NewLocator(store, WithGeolocator(geo), WithGeocoder(gc))

	type result struct {
		pos model.ObserverPosition
		err error
	}
	done := make(chan result, 1)
	go func() {
		pos, err := l.Resolve(context.Background())
		done <- result{pos, err}
	}()

	<-gc.started
	london, err := l.SetManual(51.5, -0.12, "London")
	require.NoError(t, err)
	close(gc.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, london, res.pos)

	got, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, london, got)
	assert.Equal(t, 1, gc.reverses)
}
