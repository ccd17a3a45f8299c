package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
)

// Format names a catalog document encoding.
type Format string

const (
	// FormatAuto sniffs the first non-space byte.
	FormatAuto Format = ""
	// FormatJSON is an array of CelesTrak OMM records.
	FormatJSON Format = "json"
	// FormatTLE is two- or three-line element text.
	FormatTLE Format = "tle"
)

// ParseFormat maps a config string onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json", "omm":
		return FormatJSON, nil
	case "tle", "3le", "txt":
		return FormatTLE, nil
	default:
		return FormatAuto, fmt.Errorf("unknown catalog format %q", s)
	}
}

// Sniff guesses the format of data.
func Sniff(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return FormatJSON
	}
	return FormatTLE
}

// Parse decodes a catalog document. Malformed records are skipped and
// counted; only a document that cannot be decoded at all returns ErrParse.
func Parse(ctx context.Context, data []byte, format Format, log logging.Logger) ([]model.OrbitalElementSet, int, error) {
	log = logging.OrNoop(log)
	if format == FormatAuto {
		format = Sniff(data)
	}
	switch format {
	case FormatJSON:
		return parseOMM(ctx, data, log)
	case FormatTLE:
		return parseTLE(ctx, data, log)
	default:
		return nil, 0, fmt.Errorf("%w: unsupported format %q", ErrParse, format)
	}
}

func parseTLE(ctx context.Context, data []byte, log logging.Logger) ([]model.OrbitalElementSet, int, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n \t")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: reading TLE text: %v", ErrParse, err)
	}

	var (
		sets    []model.OrbitalElementSet
		skipped int
	)
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case isLine1(lines[i]) && i+1 < len(lines) && isLine2(lines[i+1]):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isLine1(lines[i+1]) && isLine2(lines[i+2]):
			name, line1, line2 = lines[i], lines[i+1], lines[i+2]
			i += 3
		default:
			if isLine1(lines[i]) || isLine2(lines[i]) {
				skipped++
				log.Warn(ctx, "skipping orphan TLE line", logging.Int("line_index", i))
			}
			i++
			continue
		}

		set, err := elementsFromTLE(name, line1, line2)
		if err != nil {
			skipped++
			log.Warn(ctx, "skipping malformed TLE entry", logging.String("name", name), logging.Err(err))
			continue
		}
		sets = append(sets, set)
	}

	if len(sets) == 0 && skipped == 0 {
		return nil, 0, fmt.Errorf("%w: no TLE records found", ErrParse)
	}
	return sets, skipped, nil
}

func isLine1(s string) bool { return strings.HasPrefix(s, "1 ") }
func isLine2(s string) bool { return strings.HasPrefix(s, "2 ") }

// elementsFromTLE decodes the identifying and orbital fields of a
// validated line pair.
func elementsFromTLE(name, line1, line2 string) (model.OrbitalElementSet, error) {
	if err := core.ValidateTLE(line1, line2); err != nil {
		return model.OrbitalElementSet{}, err
	}
	noradID, _ := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if id2, err := strconv.Atoi(strings.TrimSpace(line2[2:7])); err != nil || id2 != noradID {
		return model.OrbitalElementSet{}, fmt.Errorf("%w: catalog numbers differ between lines", core.ErrInvalidTLE)
	}
	epoch, err := parseTLEEpoch(line1[18:32])
	if err != nil {
		return model.OrbitalElementSet{}, err
	}

	name = strings.TrimSpace(strings.TrimPrefix(name, "0 "))
	objectID := strings.TrimSpace(line1[9:17])
	if name == "" {
		name = strconv.Itoa(noradID)
	}

	set := model.OrbitalElementSet{
		NoradID:  noradID,
		Name:     name,
		ObjectID: designatorToObjectID(objectID),
		Epoch:    epoch,
		Line1:    line1,
		Line2:    line2,
	}
	set.InclinationDeg, _ = strconv.ParseFloat(strings.TrimSpace(line2[8:16]), 64)
	set.RAANDeg, _ = strconv.ParseFloat(strings.TrimSpace(line2[17:25]), 64)
	set.Eccentricity, _ = strconv.ParseFloat("."+line2[26:33], 64)
	set.MeanMotion, _ = strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	return set, nil
}

// parseTLEEpoch converts YYDDD.DDDDDDDD into a UTC time rounded to the
// millisecond, the resolution of the field. Years 57-99 map to the 1900s.
func parseTLEEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("%w: epoch %q too short", core.ErrInvalidTLE, s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: epoch year %q", core.ErrInvalidTLE, s[:2])
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil || day < 1 || day >= 367 {
		return time.Time{}, fmt.Errorf("%w: epoch day %q", core.ErrInvalidTLE, s[2:])
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))).Round(time.Millisecond), nil
}

// designatorToObjectID turns "98067A" into "1998-067A".
func designatorToObjectID(d string) string {
	if len(d) < 5 {
		return d
	}
	yy, err := strconv.Atoi(d[:2])
	if err != nil {
		return d
	}
	if yy >= 57 {
		yy += 1900
	} else {
		yy += 2000
	}
	return fmt.Sprintf("%04d-%s", yy, d[2:])
}

func parseOMM(ctx context.Context, data []byte, log logging.Logger) ([]model.OrbitalElementSet, int, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	var raw []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '{' {
		raw = []json.RawMessage{trimmed}
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrParse, err)
	}

	sets := make([]model.OrbitalElementSet, 0, len(raw))
	skipped := 0
	for i, r := range raw {
		var rec OMMRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			skipped++
			log.Warn(ctx, "skipping undecodable OMM record", logging.Int("index", i), logging.Err(err))
			continue
		}
		set, err := rec.ElementSet()
		if err != nil {
			skipped++
			log.Warn(ctx, "skipping malformed OMM record",
				logging.Int("index", i),
				logging.String("name", rec.ObjectName),
				logging.Err(err),
			)
			continue
		}
		sets = append(sets, set)
	}
	return sets, skipped, nil
}
