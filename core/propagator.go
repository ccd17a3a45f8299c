package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/skywatch/model"
)

// Radius bounds for a plausible propagated position (km from Earth's centre).
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// ErrPropagation marks an element set that SGP4 could not propagate to the
// requested time.
var ErrPropagation = errors.New("propagation failed")

// Propagator produces the Earth-fixed position of an element set at a
// given time, in kilometres.
type Propagator interface {
	PositionECEF(set model.OrbitalElementSet, at time.Time) (Vec3, error)
}

// SGP4Propagator propagates element sets with go-satellite (WGS-72
// constants). Initialised SGP4 records are cached per line pair; Sweep
// drops the entries that were not used since the previous sweep.
type SGP4Propagator struct {
	mu    sync.Mutex
	cache map[string]*sgp4Entry
}

type sgp4Entry struct {
	sat  satellite.Satellite
	err  error
	used bool
}

// NewSGP4Propagator constructs a propagator with an empty cache.
func NewSGP4Propagator() *SGP4Propagator {
	return &SGP4Propagator{cache: make(map[string]*sgp4Entry)}
}

// PositionECEF propagates set to at and rotates the TEME result into ECEF
// using GMST.
func (p *SGP4Propagator) PositionECEF(set model.OrbitalElementSet, at time.Time) (pos Vec3, err error) {
	entry := p.entry(set)
	if entry.err != nil {
		return Vec3{}, entry.err
	}

	defer func() {
		if r := recover(); r != nil {
			pos, err = Vec3{}, fmt.Errorf("%w: sgp4 panic: %v", ErrPropagation, r)
		}
	}()

	at = at.UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()

	teme, _ := satellite.Propagate(entry.sat, year, int(month), day, hour, min, sec)
	v := Vec3{X: teme.X, Y: teme.Y, Z: teme.Z}
	if !v.Finite() {
		return Vec3{}, fmt.Errorf("%w: non-finite position", ErrPropagation)
	}
	if r := v.Norm(); r < minOrbitRadiusKm || r > maxOrbitRadiusKm {
		return Vec3{}, fmt.Errorf("%w: radius %.1f km out of range", ErrPropagation, r)
	}

	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	ecef := satellite.ECIToECEF(teme, gmst)
	return Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}, nil
}

func (p *SGP4Propagator) entry(set model.OrbitalElementSet) *sgp4Entry {
	line1 := strings.TrimRight(set.Line1, " \r\n")
	line2 := strings.TrimRight(set.Line2, " \r\n")
	key := line1 + "\n" + line2

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.cache[key]; ok {
		e.used = true
		return e
	}
	e := initSGP4(line1, line2)
	e.used = true
	p.cache[key] = e
	return e
}

func initSGP4(line1, line2 string) (e *sgp4Entry) {
	if err := ValidateTLE(line1, line2); err != nil {
		return &sgp4Entry{err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			e = &sgp4Entry{err: fmt.Errorf("%w: sgp4 init panic: %v", ErrPropagation, r)}
		}
	}()
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return &sgp4Entry{err: fmt.Errorf("%w: sgp4 init code %d %s", ErrPropagation, sat.Error, sat.ErrorStr)}
	}
	return &sgp4Entry{sat: sat}
}

// Sweep evicts cache entries that were not used since the previous Sweep.
func (p *SGP4Propagator) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for k, e := range p.cache {
		if !e.used {
			delete(p.cache, k)
			evicted++
			continue
		}
		e.used = false
	}
	return evicted
}

// Len returns the number of cached SGP4 records.
func (p *SGP4Propagator) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
