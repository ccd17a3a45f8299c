package core

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

// Defaults for the ground-distance heuristic.
const (
	DefaultAssumedAltitudeKm    = 550.0
	DefaultProximityThresholdMi = 200.0
)

// ctxCheckEvery is how many element sets are processed between checks of
// the cycle's context.
const ctxCheckEvery = 256

// Config tunes the ground-distance and proximity heuristics.
type Config struct {
	AssumedAltitudeKm    float64
	ProximityThresholdMi float64
}

// DefaultConfig returns the Starlink-shell defaults.
func DefaultConfig() Config {
	return Config{
		AssumedAltitudeKm:    DefaultAssumedAltitudeKm,
		ProximityThresholdMi: DefaultProximityThresholdMi,
	}
}

func (c Config) withDefaults() Config {
	if c.AssumedAltitudeKm <= 0 {
		c.AssumedAltitudeKm = DefaultAssumedAltitudeKm
	}
	if c.ProximityThresholdMi <= 0 {
		c.ProximityThresholdMi = DefaultProximityThresholdMi
	}
	return c
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithPropagator replaces the SGP4 propagator.
func WithPropagator(p Propagator) Option {
	return func(c *Calculator) {
		if p != nil {
			c.prop = p
		}
	}
}

// WithLogger attaches a logger for per-element diagnostics.
func WithLogger(l logging.Logger) Option {
	return func(c *Calculator) { c.log = logging.OrNoop(l) }
}

// Calculator turns a catalog and an observer into a visibility snapshot.
// The result depends only on its inputs.
type Calculator struct {
	cfg  Config
	prop Propagator
	log  logging.Logger
}

// NewCalculator builds a calculator backed by SGP4 unless overridden.
func NewCalculator(cfg Config, opts ...Option) *Calculator {
	c := &Calculator{
		cfg:  cfg.withDefaults(),
		prop: NewSGP4Propagator(),
		log:  logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Calculator) Config() Config { return c.cfg }

// Compute propagates every element set to at and returns the contacts above
// the observer's horizon.
func (c *Calculator) Compute(sets []model.OrbitalElementSet, obs model.ObserverPosition, at time.Time) *model.VisibilitySnapshot {
	snap, _ := c.ComputeContext(context.Background(), sets, obs, at)
	return snap
}

// ComputeContext is Compute with cancellation. A cancelled computation
// returns ctx.Err() and no snapshot.
func (c *Calculator) ComputeContext(ctx context.Context, sets []model.OrbitalElementSet, obs model.ObserverPosition, at time.Time) (*model.VisibilitySnapshot, error) {
	frame := newObserverFrame(obs)
	snap := &model.VisibilitySnapshot{
		ComputedAt:  at,
		Observer:    obs,
		Contacts:    []model.VisibilityContact{},
		CatalogSize: len(sets),
	}

	for i, set := range sets {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		pos, err := c.prop.PositionECEF(set, at)
		if err != nil {
			snap.Skipped++
			elemErr := &ElementError{NoradID: set.NoradID, Err: err}
			c.log.Debug(ctx, "skipping element set",
				logging.Int("norad_id", set.NoradID),
				logging.Err(elemErr),
			)
			continue
		}

		la := frame.lookAngles(pos)
		if !(la.Elevation > 0) {
			continue
		}
		groundKm := GroundDistanceKm(la.Elevation, c.cfg.AssumedAltitudeKm)
		snap.Contacts = append(snap.Contacts, model.VisibilityContact{
			NoradID:          set.NoradID,
			Name:             set.Name,
			Azimuth:          la.Azimuth,
			Elevation:        la.Elevation,
			RangeKm:          la.RangeKm,
			GroundDistanceKm: groundKm,
			GroundDistanceMi: groundKm * KmToMiles,
		})
	}

	sort.SliceStable(snap.Contacts, func(i, j int) bool {
		a, b := snap.Contacts[i], snap.Contacts[j]
		if a.Elevation != b.Elevation {
			return a.Elevation > b.Elevation
		}
		return a.NoradID < b.NoradID
	})
	snap.Visible = len(snap.Contacts)
	snap.Proximity = c.proximity(snap.Contacts)

	if s, ok := c.prop.(interface{ Sweep() int }); ok {
		s.Sweep()
	}
	return snap, nil
}

// proximity compares whole miles, the unit the widget displays.
func (c *Calculator) proximity(contacts []model.VisibilityContact) bool {
	for _, ct := range contacts {
		if math.Round(ct.GroundDistanceMi) < c.cfg.ProximityThresholdMi {
			return true
		}
	}
	return false
}
