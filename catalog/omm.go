package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/model"
)

// OMMRecord is one CelesTrak GP record in OMM JSON form. Numeric fields
// accept both JSON numbers and quoted strings.
type OMMRecord struct {
	ObjectName         string    `json:"OBJECT_NAME"`
	ObjectID           string    `json:"OBJECT_ID"`
	Epoch              string    `json:"EPOCH"`
	MeanMotion         flexFloat `json:"MEAN_MOTION"`
	Eccentricity       flexFloat `json:"ECCENTRICITY"`
	Inclination        flexFloat `json:"INCLINATION"`
	RAAN               flexFloat `json:"RA_OF_ASC_NODE"`
	ArgOfPericenter    flexFloat `json:"ARG_OF_PERICENTER"`
	MeanAnomaly        flexFloat `json:"MEAN_ANOMALY"`
	EphemerisType      flexFloat `json:"EPHEMERIS_TYPE"`
	ClassificationType string    `json:"CLASSIFICATION_TYPE"`
	NoradCatID         flexFloat `json:"NORAD_CAT_ID"`
	ElementSetNo       flexFloat `json:"ELEMENT_SET_NO"`
	RevAtEpoch         flexFloat `json:"REV_AT_EPOCH"`
	BStar              flexFloat `json:"BSTAR"`
	MeanMotionDot      flexFloat `json:"MEAN_MOTION_DOT"`
	MeanMotionDDot     flexFloat `json:"MEAN_MOTION_DDOT"`
}

type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	f.Value, f.Set = v, true
	return nil
}

var ommEpochLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999",
}

func parseOMMEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range ommEpochLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable epoch %q", s)
}

// ElementSet validates the record and renders it into canonical TLE lines.
func (r OMMRecord) ElementSet() (model.OrbitalElementSet, error) {
	for name, f := range map[string]flexFloat{
		"NORAD_CAT_ID":      r.NoradCatID,
		"MEAN_MOTION":       r.MeanMotion,
		"ECCENTRICITY":      r.Eccentricity,
		"INCLINATION":       r.Inclination,
		"RA_OF_ASC_NODE":    r.RAAN,
		"ARG_OF_PERICENTER": r.ArgOfPericenter,
		"MEAN_ANOMALY":      r.MeanAnomaly,
	} {
		if !f.Set {
			return model.OrbitalElementSet{}, fmt.Errorf("missing %s", name)
		}
	}
	norad := int(r.NoradCatID.Value)
	if norad <= 0 || norad > 99999 {
		return model.OrbitalElementSet{}, fmt.Errorf("catalog number %d does not fit a TLE", norad)
	}
	if r.MeanMotion.Value <= 0 || r.MeanMotion.Value >= 100 {
		return model.OrbitalElementSet{}, fmt.Errorf("mean motion %v out of range", r.MeanMotion.Value)
	}
	if r.Eccentricity.Value < 0 || r.Eccentricity.Value >= 1 {
		return model.OrbitalElementSet{}, fmt.Errorf("eccentricity %v out of range", r.Eccentricity.Value)
	}
	epoch, err := parseOMMEpoch(r.Epoch)
	if err != nil {
		return model.OrbitalElementSet{}, err
	}

	line1, line2 := r.renderTLE(norad, epoch)
	if err := core.ValidateTLE(line1, line2); err != nil {
		return model.OrbitalElementSet{}, err
	}

	name := strings.TrimSpace(r.ObjectName)
	if name == "" {
		name = strconv.Itoa(norad)
	}
	return model.OrbitalElementSet{
		NoradID:        norad,
		Name:           name,
		ObjectID:       strings.TrimSpace(r.ObjectID),
		Epoch:          epoch,
		Line1:          line1,
		Line2:          line2,
		InclinationDeg: r.Inclination.Value,
		RAANDeg:        r.RAAN.Value,
		Eccentricity:   r.Eccentricity.Value,
		MeanMotion:     r.MeanMotion.Value,
	}, nil
}

func (r OMMRecord) renderTLE(norad int, epoch time.Time) (string, string) {
	class := byte('U')
	if c := strings.TrimSpace(r.ClassificationType); len(c) == 1 {
		class = c[0]
	}
	ephType := int(r.EphemerisType.Value)
	if ephType < 0 || ephType > 9 {
		ephType = 0
	}
	doy := float64(epoch.YearDay()) +
		float64(epoch.Sub(time.Date(epoch.Year(), epoch.Month(), epoch.Day(), 0, 0, 0, 0, time.UTC)))/float64(24*time.Hour)

	line1 := fmt.Sprintf("1 %05d%c %-8s %02d%012.8f %s %s %s %d %4d",
		norad,
		class,
		objectIDToDesignator(r.ObjectID),
		epoch.Year()%100,
		doy,
		formatMeanMotionDot(r.MeanMotionDot.Value),
		formatExponent(r.MeanMotionDDot.Value),
		formatExponent(r.BStar.Value),
		ephType,
		int(r.ElementSetNo.Value)%10000,
	)
	line2 := fmt.Sprintf("2 %05d %8.4f %8.4f %07d %8.4f %8.4f %11.8f%5d",
		norad,
		normaliseDeg(r.Inclination.Value),
		normaliseDeg(r.RAAN.Value),
		int(math.Min(math.Round(r.Eccentricity.Value*1e7), 9999999)),
		normaliseDeg(r.ArgOfPericenter.Value),
		normaliseDeg(r.MeanAnomaly.Value),
		r.MeanMotion.Value,
		int(r.RevAtEpoch.Value)%100000,
	)
	return withChecksum(line1), withChecksum(line2)
}

func withChecksum(line string) string {
	return line + strconv.Itoa(core.Checksum(line))
}

// objectIDToDesignator turns "1998-067A" into "98067A".
func objectIDToDesignator(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 6 && id[4] == '-' {
		d := id[2:4] + id[5:]
		if len(d) > 8 {
			d = d[:8]
		}
		return d
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func normaliseDeg(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

// formatMeanMotionDot renders the first derivative as ±.NNNNNNNN.
func formatMeanMotionDot(v float64) string {
	sign := " "
	if v < 0 {
		sign = "-"
		v = -v
	}
	if v >= 1 {
		v = 0.99999999
	}
	s := fmt.Sprintf("%.8f", v)
	return sign + strings.TrimPrefix(s, "0")
}

// formatExponent renders v in the TLE assumed-decimal form ±NNNNN±E,
// meaning ±0.NNNNN × 10^±E.
func formatExponent(v float64) string {
	sign := byte(' ')
	if v < 0 {
		sign = '-'
		v = -v
	}
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return " 00000-0"
	}
	exp := int(math.Floor(math.Log10(v))) + 1
	mant := int(math.Round(v / math.Pow(10, float64(exp)) * 1e5))
	if mant >= 100000 {
		mant /= 10
		exp++
	}
	if exp < -9 {
		return " 00000-0"
	}
	if exp > 9 {
		exp, mant = 9, 99999
	}
	expSign := byte('-')
	if exp >= 0 {
		expSign = '+'
	}
	if exp < 0 {
		exp = -exp
	}
	return fmt.Sprintf("%c%05d%c%d", sign, mant, expSign, exp)
}
