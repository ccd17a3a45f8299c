package model

import (
	"encoding/json"
	"math"
	"time"
)

// VisibilityContact is one satellite above the observer's horizon at a
// cycle's reference time. Angles are radians; degrees are produced only
// when the contact is rendered (AzimuthDeg, ElevationDeg, JSON).
type VisibilityContact struct {
	NoradID int
	Name    string

	Azimuth   float64 // radians, clockwise from north, [0, 2π)
	Elevation float64 // radians above the local horizontal, (0, π/2]
	RangeKm   float64 // slant range

	GroundDistanceKm float64
	GroundDistanceMi float64
}

// AzimuthDeg returns the azimuth in degrees within [0, 360).
func (c VisibilityContact) AzimuthDeg() float64 {
	deg := c.Azimuth * 180.0 / math.Pi
	if deg >= 360 || deg < 0 {
		deg = math.Mod(deg, 360)
		if deg < 0 {
			deg += 360
		}
		if deg >= 360 {
			deg = 0
		}
	}
	return deg
}

// ElevationDeg returns the elevation in degrees.
func (c VisibilityContact) ElevationDeg() float64 {
	return c.Elevation * 180.0 / math.Pi
}

type contactJSON struct {
	NoradID          int     `json:"norad_id"`
	Name             string  `json:"name"`
	AzimuthDeg       float64 `json:"azimuth_deg"`
	ElevationDeg     float64 `json:"elevation_deg"`
	RangeKm          float64 `json:"range_km"`
	GroundDistanceKm float64 `json:"ground_distance_km"`
	GroundDistanceMi float64 `json:"ground_distance_mi"`
}

// MarshalJSON renders the contact with angles in degrees.
func (c VisibilityContact) MarshalJSON() ([]byte, error) {
	return json.Marshal(contactJSON{
		NoradID:          c.NoradID,
		Name:             c.Name,
		AzimuthDeg:       c.AzimuthDeg(),
		ElevationDeg:     c.ElevationDeg(),
		RangeKm:          c.RangeKm,
		GroundDistanceKm: c.GroundDistanceKm,
		GroundDistanceMi: c.GroundDistanceMi,
	})
}

// VisibilitySnapshot is the result of one computation cycle. A snapshot is
// built once and replaced wholesale by the next cycle.
type VisibilitySnapshot struct {
	ComputedAt  time.Time           `json:"computed_at"`
	Observer    ObserverPosition    `json:"observer"`
	Contacts    []VisibilityContact `json:"contacts"`
	Visible     int                 `json:"visible"`
	CatalogSize int                 `json:"catalog_size"`
	Skipped     int                 `json:"skipped"`
	Proximity   bool                `json:"proximity"`
	State       WidgetState         `json:"state"`
	Stale       bool                `json:"stale"`
}

// Empty reports whether the snapshot has no visible contacts.
func (s *VisibilitySnapshot) Empty() bool {
	return s == nil || len(s.Contacts) == 0
}
