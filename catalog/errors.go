package catalog

import "errors"

var (
	// ErrSourceUnavailable covers network failures, non-2xx responses and
	// oversized bodies.
	ErrSourceUnavailable = errors.New("catalog source unavailable")
	// ErrParse is returned when a document cannot be decoded at all.
	// Individual malformed records are skipped instead.
	ErrParse = errors.New("catalog document not decodable")
	// ErrNoArchive is returned by the archive when nothing is stored for a
	// group.
	ErrNoArchive = errors.New("no archived catalog")
)
