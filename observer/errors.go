package observer

import "errors"

var (
	// ErrUnresolved means no observer position is known yet.
	ErrUnresolved = errors.New("observer position unresolved")
	// ErrGeolocationDenied covers every way the geolocation lookup can fail.
	ErrGeolocationDenied = errors.New("geolocation unavailable")
	// ErrThrottled is returned when the geocoder rate-limits us (HTTP 425/429).
	ErrThrottled = errors.New("geocoder throttled")
	// ErrNotFound is returned when a search has no hits.
	ErrNotFound = errors.New("location not found")
)
