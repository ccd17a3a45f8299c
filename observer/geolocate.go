package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/signalsfoundry/skywatch/model"
)

// DefaultGeolocationURL is the ip-api.com JSON endpoint.
const DefaultGeolocationURL = "http://ip-api.com/json/?fields=status,message,lat,lon,city,regionName,country"

// Geolocator determines the observer's position without user input.
type Geolocator interface {
	Locate(ctx context.Context) (model.ObserverPosition, error)
}

// IPGeolocator resolves the public IP of the host to coordinates.
type IPGeolocator struct {
	url    string
	client *http.Client
}

// NewIPGeolocator creates a geolocator against url (DefaultGeolocationURL
// when empty).
func NewIPGeolocator(url string, client *http.Client) *IPGeolocator {
	if url == "" {
		url = DefaultGeolocationURL
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &IPGeolocator{url: url, client: client}
}

type ipAPIResponse struct {
	Status     string   `json:"status"`
	Message    string   `json:"message"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	City       string   `json:"city"`
	RegionName string   `json:"regionName"`
	Country    string   `json:"country"`
}

// Locate implements Geolocator. Every failure wraps ErrGeolocationDenied.
func (g *IPGeolocator) Locate(ctx context.Context) (model.ObserverPosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: %v", ErrGeolocationDenied, err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: %v", ErrGeolocationDenied, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.ObserverPosition{}, fmt.Errorf("%w: status %d", ErrGeolocationDenied, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: decode: %v", ErrGeolocationDenied, err)
	}
	if body.Status != "" && body.Status != "success" {
		return model.ObserverPosition{}, fmt.Errorf("%w: %s", ErrGeolocationDenied, body.Message)
	}
	if body.Lat == nil || body.Lon == nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: response has no coordinates", ErrGeolocationDenied)
	}

	pos := model.ObserverPosition{
		Lat:    *body.Lat,
		Lon:    *body.Lon,
		Name:   joinNonEmpty(body.City, body.RegionName),
		Source: model.LocationSourceGeolocation,
	}
	if err := pos.Validate(); err != nil {
		return model.ObserverPosition{}, fmt.Errorf("%w: %v", ErrGeolocationDenied, err)
	}
	return pos, nil
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// StaticGeolocator always returns the same result. It stands in for the
// geolocation capability when the host has no network egress.
type StaticGeolocator struct {
	Position model.ObserverPosition
	Err      error
}

// Locate implements Geolocator.
func (s StaticGeolocator) Locate(context.Context) (model.ObserverPosition, error) {
	if s.Err != nil {
		return model.ObserverPosition{}, s.Err
	}
	return s.Position, nil
}
