package model

import (
	"fmt"
	"math"
)

// LocationSource records how an observer position was established.
type LocationSource string

const (
	LocationSourceGeolocation LocationSource = "geolocation"
	LocationSourceDefault     LocationSource = "default"
	LocationSourceManual      LocationSource = "manual"
	LocationSourceSearch      LocationSource = "search"
)

// ObserverPosition is a ground observer in geodetic coordinates.
// Lat/Lon are degrees, HeightKm is above the WGS-84 ellipsoid.
type ObserverPosition struct {
	Lat      float64        `json:"lat"`
	Lon      float64        `json:"lon"`
	HeightKm float64        `json:"height_km"`
	Name     string         `json:"name,omitempty"`
	Source   LocationSource `json:"source,omitempty"`
}

// Validate checks that latitude, longitude and height are finite and that
// latitude/longitude are in range.
func (o ObserverPosition) Validate() error {
	if !finite(o.Lat) || !finite(o.Lon) || !finite(o.HeightKm) {
		return fmt.Errorf("coordinates must be finite (lat %v, lon %v, height %v)", o.Lat, o.Lon, o.HeightKm)
	}
	if o.Lat < -90 || o.Lat > 90 {
		return fmt.Errorf("latitude %.4f out of range [-90, 90]", o.Lat)
	}
	if o.Lon < -180 || o.Lon > 180 {
		return fmt.Errorf("longitude %.4f out of range [-180, 180]", o.Lon)
	}
	return nil
}

// SameLocation reports whether two positions refer to the same point,
// ignoring name and provenance.
func (o ObserverPosition) SameLocation(other ObserverPosition) bool {
	return o.Lat == other.Lat && o.Lon == other.Lon && o.HeightKm == other.HeightKm
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
