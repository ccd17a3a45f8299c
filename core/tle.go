package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TLELineLength is the column count of a canonical TLE line.
const TLELineLength = 69

// ErrInvalidTLE marks element sets whose lines cannot be decoded.
var ErrInvalidTLE = errors.New("invalid TLE")

// ValidateTLE checks that every column the SGP4 library decodes holds a
// parsable number. The library terminates the process on a parse failure,
// so nothing reaches it without passing this check.
func ValidateTLE(line1, line2 string) error {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")

	if len(line1) != TLELineLength {
		return fmt.Errorf("%w: line 1 has %d columns", ErrInvalidTLE, len(line1))
	}
	if len(line2) != TLELineLength {
		return fmt.Errorf("%w: line 2 has %d columns", ErrInvalidTLE, len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("%w: line 1 starts with %q", ErrInvalidTLE, line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("%w: line 2 starts with %q", ErrInvalidTLE, line2[0])
	}

	if _, err := strconv.Atoi(strings.TrimSpace(line1[2:7])); err != nil {
		return fmt.Errorf("%w: catalog number %q", ErrInvalidTLE, line1[2:7])
	}
	if _, err := strconv.Atoi(line1[18:20]); err != nil {
		return fmt.Errorf("%w: epoch year %q", ErrInvalidTLE, line1[18:20])
	}

	floats := []struct {
		name  string
		value string
	}{
		{"epoch day", line1[20:32]},
		{"mean motion dot", squeeze(line1[33:43])},
		{"mean motion ddot", squeeze(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52])},
		{"bstar", squeeze(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61])},
		{"inclination", squeeze(line2[8:16])},
		{"raan", squeeze(line2[17:25])},
		{"eccentricity", "." + line2[26:33]},
		{"argument of perigee", squeeze(line2[34:42])},
		{"mean anomaly", squeeze(line2[43:51])},
		{"mean motion", squeeze(line2[52:63])},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(f.value, 64); err != nil {
			return fmt.Errorf("%w: %s %q", ErrInvalidTLE, f.name, f.value)
		}
	}
	return nil
}

// squeeze drops at most two spaces, mirroring how the SGP4 library cleans
// signed fields before parsing them.
func squeeze(s string) string {
	return strings.Replace(s, " ", "", 2)
}

// Checksum returns the modulo-10 checksum of the first 68 columns of a TLE
// line: digits count at face value, minus signs count as one.
func Checksum(line string) int {
	sum := 0
	for i := 0; i < len(line) && i < TLELineLength-1; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// ValidChecksum reports whether the final column of line matches its checksum.
func ValidChecksum(line string) bool {
	line = strings.TrimRight(line, " \r\n")
	if len(line) != TLELineLength {
		return false
	}
	last := line[TLELineLength-1]
	return last >= '0' && last <= '9' && int(last-'0') == Checksum(line)
}
