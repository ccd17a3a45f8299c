package model

import (
	"math"
	"time"
)

// Standard gravitational parameter and mean Earth radius used for the
// circular-orbit estimates below (km^3/s^2, km).
const (
	earthMu      = 398600.4418
	earthRadiusK = 6371.0
)

// OrbitalElementSet identifies one satellite and carries the parameters
// needed to propagate it. Line1/Line2 are canonical 69-column TLE lines;
// catalogs delivered as OMM JSON are rendered into that form on parse.
type OrbitalElementSet struct {
	NoradID  int
	Name     string
	ObjectID string // international designator, e.g. 1998-067A
	Epoch    time.Time

	Line1 string
	Line2 string

	InclinationDeg float64
	RAANDeg        float64
	Eccentricity   float64
	MeanMotion     float64 // revolutions per day
}

// PeriodMinutes returns the orbital period derived from the mean motion.
func (e OrbitalElementSet) PeriodMinutes() float64 {
	if e.MeanMotion <= 0 {
		return 0
	}
	return 1440.0 / e.MeanMotion
}

// ApproxAltitudeKm estimates the altitude above a spherical Earth assuming a
// circular orbit. Returns 0 when the mean motion is unknown.
func (e OrbitalElementSet) ApproxAltitudeKm() float64 {
	if e.MeanMotion <= 0 {
		return 0
	}
	periodS := 86400.0 / e.MeanMotion
	a := math.Pow(math.Sqrt(earthMu)*periodS/(2*math.Pi), 2.0/3.0)
	return a - earthRadiusK
}

// Catalog is one fetched generation of element sets for a named group.
// It is replaced wholesale on refresh and never mutated after publication.
type Catalog struct {
	Group     string
	Source    string
	FetchedAt time.Time
	Sets      []OrbitalElementSet

	// Skipped counts records dropped while decoding the source document.
	Skipped int
	// Stale is set when the catalog came from the local archive instead of
	// the network.
	Stale bool
}

// Size returns the number of element sets in the catalog; nil-safe.
func (c *Catalog) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Sets)
}

// EpochRange returns the oldest and newest epoch in the catalog.
func (c *Catalog) EpochRange() (min, max time.Time) {
	if c == nil || len(c.Sets) == 0 {
		return time.Time{}, time.Time{}
	}
	min, max = c.Sets[0].Epoch, c.Sets[0].Epoch
	for _, s := range c.Sets[1:] {
		if s.Epoch.Before(min) {
			min = s.Epoch
		}
		if s.Epoch.After(max) {
			max = s.Epoch
		}
	}
	return min, max
}
