// Package observer establishes the observer position: IP geolocation with a
// fixed fallback, forward and reverse geocoding, and manual placement. The
// position itself lives in a kb.ObserverStore.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/skywatch/internal/cache"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
)

// PlaceholderName labels a position whose reverse geocode failed.
const PlaceholderName = "Current Location"

// DefaultNameTTL is how long geocoding answers are cached.
const DefaultNameTTL = 24 * time.Hour

// DefaultObserver is used whenever geolocation is unavailable.
var DefaultObserver = model.ObserverPosition{
	Lat:    35.0456,
	Lon:    -85.3097,
	Name:   "Chattanooga, TN",
	Source: model.LocationSourceDefault,
}

// Locator writes the process-wide observer store.
type Locator struct {
	store    *kb.ObserverStore
	geo      Geolocator
	geocoder Geocoder
	cache    cache.Cache
	def      model.ObserverPosition
	nameTTL  time.Duration
	log      logging.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithGeolocator sets the automatic position source.
func WithGeolocator(g Geolocator) Option { return func(l *Locator) { l.geo = g } }

// WithGeocoder sets the forward/reverse geocoder.
func WithGeocoder(g Geocoder) Option { return func(l *Locator) { l.geocoder = g } }

// WithCache caches geocoder answers.
func WithCache(c cache.Cache) Option { return func(l *Locator) { l.cache = c } }

// WithDefault replaces the fallback observer.
func WithDefault(pos model.ObserverPosition) Option {
	return func(l *Locator) {
		pos.Source = model.LocationSourceDefault
		l.def = pos
	}
}

// WithLogger attaches a logger.
func WithLogger(lg logging.Logger) Option { return func(l *Locator) { l.log = logging.OrNoop(lg) } }

// NewLocator builds a Locator writing to store.
func NewLocator(store *kb.ObserverStore, opts ...Option) *Locator {
	l := &Locator{
		store:   store,
		cache:   cache.Nop{},
		def:     DefaultObserver,
		nameTTL: DefaultNameTTL,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying observer store.
func (l *Locator) Store() *kb.ObserverStore { return l.store }

// CurrentPosition returns the observer; ok is false while unresolved.
func (l *Locator) CurrentPosition() (model.ObserverPosition, bool) {
	return l.store.Current()
}

// Current is CurrentPosition returning ErrUnresolved.
func (l *Locator) Current() (model.ObserverPosition, error) {
	pos, ok := l.store.Current()
	if !ok {
		return model.ObserverPosition{}, ErrUnresolved
	}
	return pos, nil
}

// Resolve asks the geolocator for a position, falling back to the default
// observer on any failure. The store is always resolved afterwards. A
// missing place name is filled in by a reverse lookup once the position has
// been published, unless a manual or search move replaced it meanwhile; the
// returned position is then the one the store holds.
func (l *Locator) Resolve(ctx context.Context) (model.ObserverPosition, error) {
	pos, err := l.locate(ctx)
	if err != nil {
		l.log.Warn(ctx, "geolocation failed, using default observer",
			logging.String("default", l.def.Name),
			logging.Err(err),
		)
		pos = l.def
	}

	unnamed := pos.Name == ""
	if unnamed {
		pos.Name = PlaceholderName
	}
	if err := l.store.Set(pos); err != nil {
		return model.ObserverPosition{}, err
	}
	l.log.Info(ctx, "observer resolved",
		logging.Float64("lat", pos.Lat),
		logging.Float64("lon", pos.Lon),
		logging.String("name", pos.Name),
		logging.String("source", string(pos.Source)),
	)

	if !unnamed {
		return pos, nil
	}
	name := l.ResolveName(ctx, pos)
	if name == PlaceholderName {
		return pos, nil
	}
	named := pos
	named.Name = name
	if l.store.Rename(named) {
		return named, nil
	}
	// A manual or search move landed while the lookup was in flight.
	current, _ := l.store.Current()
	l.log.Debug(ctx, "observer moved before its name resolved",
		logging.String("name", name),
		logging.String("current", current.Name),
		logging.String("source", string(current.Source)),
	)
	return current, nil
}

func (l *Locator) locate(ctx context.Context) (model.ObserverPosition, error) {
	if l.geo == nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: no geolocator configured", ErrGeolocationDenied)
	}
	pos, err := l.geo.Locate(ctx)
	if err != nil {
		if !errors.Is(err, ErrGeolocationDenied) {
			err = fmt.Errorf("%w: %v", ErrGeolocationDenied, err)
		}
		return model.ObserverPosition{}, err
	}
	if err := pos.Validate(); err != nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: %v", ErrGeolocationDenied, err)
	}
	pos.Source = model.LocationSourceGeolocation
	return pos, nil
}

// ResolveName reverse geocodes pos. It never fails: any error yields
// PlaceholderName.
func (l *Locator) ResolveName(ctx context.Context, pos model.ObserverPosition) string {
	if l.geocoder == nil {
		return PlaceholderName
	}
	key := cache.CoordKey("geocode:reverse", pos.Lat, pos.Lon)
	b, _, err := cache.Through(ctx, l.cache, key, l.nameTTL, func(ctx context.Context) ([]byte, error) {
		name, err := l.geocoder.Reverse(ctx, pos.Lat, pos.Lon)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	}, l.cacheError(ctx))
	if err != nil || len(b) == 0 {
		l.log.Debug(ctx, "reverse geocode failed", logging.Err(err))
		return PlaceholderName
	}
	return string(b)
}

// Search forward geocodes query and moves the observer to the first hit.
func (l *Locator) Search(ctx context.Context, query string) (model.ObserverPosition, error) {
	if l.geocoder == nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: no geocoder configured", ErrNotFound)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return model.ObserverPosition{}, fmt.Errorf("%w: empty query", ErrNotFound)
	}

	key := "geocode:search:" + strings.ToLower(query)
	b, _, err := cache.Through(ctx, l.cache, key, l.nameTTL, func(ctx context.Context) ([]byte, error) {
		place, err := l.geocoder.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(place)
	}, l.cacheError(ctx))
	if err != nil {
		return model.ObserverPosition{}, err
	}

	var place Place
	if err := json.Unmarshal(b, &place); err != nil {
		return model.ObserverPosition{}, fmt.Errorf("decode cached place: %w", err)
	}
	pos := model.ObserverPosition{Lat: place.Lat, Lon: place.Lon, Name: place.Name, Source: model.LocationSourceSearch}
	if err := l.store.Set(pos); err != nil {
		return model.ObserverPosition{}, err
	}
	l.log.Info(ctx, "observer moved by search", logging.String("query", query), logging.String("name", pos.Name))
	return pos, nil
}

// SetManual places the observer at explicit coordinates.
func (l *Locator) SetManual(lat, lon float64, name string) (model.ObserverPosition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = PlaceholderName
	}
	pos := model.ObserverPosition{Lat: lat, Lon: lon, Name: name, Source: model.LocationSourceManual}
	if err := l.store.Set(pos); err != nil {
		return model.ObserverPosition{}, err
	}
	return pos, nil
}

func (l *Locator) cacheError(ctx context.Context) func(error) {
	return func(err error) {
		l.log.Debug(ctx, "geocode cache unavailable", logging.Err(err))
	}
}
