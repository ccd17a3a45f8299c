package core

import (
	"math"

	"github.com/signalsfoundry/skywatch/model"
)

// WGS-84 ellipsoid, kilometres.
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// KmToMiles converts kilometres to statute miles.
const KmToMiles = 0.621371

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Finite reports whether every component is a finite number.
func (v Vec3) Finite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// observerFrame caches the ECEF position and the trigonometry of a ground
// observer so a whole catalog can be rotated into its local frame.
type observerFrame struct {
	ecef                           Vec3
	sinLat, cosLat, sinLon, cosLon float64
}

func newObserverFrame(obs model.ObserverPosition) observerFrame {
	lat := obs.Lat * math.Pi / 180.0
	lon := obs.Lon * math.Pi / 180.0
	f := observerFrame{
		sinLat: math.Sin(lat),
		cosLat: math.Cos(lat),
		sinLon: math.Sin(lon),
		cosLon: math.Cos(lon),
	}

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*f.sinLat*f.sinLat)
	f.ecef = Vec3{
		X: (n + obs.HeightKm) * f.cosLat * f.cosLon,
		Y: (n + obs.HeightKm) * f.cosLat * f.sinLon,
		Z: (n*(1-wgs84E2) + obs.HeightKm) * f.sinLat,
	}
	return f
}

// ObserverECEF returns the observer's position on the WGS-84 ellipsoid in
// kilometres.
func ObserverECEF(obs model.ObserverPosition) Vec3 {
	return newObserverFrame(obs).ecef
}

// LookAngles is the direction and distance from an observer to a target.
type LookAngles struct {
	Azimuth   float64 // radians, clockwise from north, [0, 2π)
	Elevation float64 // radians above the local horizontal
	RangeKm   float64
}

// lookAngles rotates the observer→target range vector into the
// south-east-zenith frame.
func (f observerFrame) lookAngles(target Vec3) LookAngles {
	r := target.Sub(f.ecef)

	south := f.sinLat*f.cosLon*r.X + f.sinLat*f.sinLon*r.Y - f.cosLat*r.Z
	east := -f.sinLon*r.X + f.cosLon*r.Y
	zenith := f.cosLat*f.cosLon*r.X + f.cosLat*f.sinLon*r.Y + f.sinLat*r.Z

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return LookAngles{Elevation: math.Pi / 2}
	}

	el := math.Asin(clamp(zenith/rng, -1, 1))
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}
	if az >= 2*math.Pi {
		az = 0
	}
	return LookAngles{Azimuth: az, Elevation: el, RangeKm: rng}
}

// ComputeLookAngles returns the look angles from obs to an ECEF target in
// kilometres.
func ComputeLookAngles(obs model.ObserverPosition, target Vec3) LookAngles {
	return newObserverFrame(obs).lookAngles(target)
}

// GroundDistanceKm approximates the ground-track distance to a satellite
// at the given elevation assuming a fixed orbital altitude.
func GroundDistanceKm(elevation, altitudeKm float64) float64 {
	return (math.Pi/2 - elevation) * (altitudeKm / 2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
