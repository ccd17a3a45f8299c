package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultNominatimURL is the public OpenStreetMap geocoder.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Place is one geocoding hit.
type Place struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// Geocoder translates between place names and coordinates.
type Geocoder interface {
	Search(ctx context.Context, query string) (Place, error)
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// Nominatim is a Geocoder backed by the Nominatim HTTP API.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NominatimUserAgent builds the identifying User-Agent Nominatim requires.
func NominatimUserAgent(email string) string {
	if email == "" {
		email = "anonymous"
	}
	return fmt.Sprintf("SkyWatch/1.0 (%s)", email)
}

// NewNominatim creates a client. Empty baseURL selects the public service.
func NewNominatim(baseURL, email string, client *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: NominatimUserAgent(email),
		client:    client,
	}
}

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search returns the first hit for query. The name is the first
// comma-separated component of the display name.
func (n *Nominatim) Search(ctx context.Context, query string) (Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Place{}, fmt.Errorf("%w: empty query", ErrNotFound)
	}
	q := url.Values{"format": {"json"}, "limit": {"1"}, "q": {query}}

	var hits []searchHit
	if err := n.get(ctx, "/search", q, &hits); err != nil {
		return Place{}, err
	}
	if len(hits) == 0 {
		return Place{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}

	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return Place{}, fmt.Errorf("nominatim: bad coordinates %q,%q", hits[0].Lat, hits[0].Lon)
	}
	name := strings.TrimSpace(strings.Split(hits[0].DisplayName, ",")[0])
	if name == "" {
		name = query
	}
	return Place{Lat: lat, Lon: lon, Name: name}, nil
}

type reverseResult struct {
	Error   string            `json:"error"`
	Address map[string]string `json:"address"`
}

// placeNameKeys is the order in which address parts name a place.
var placeNameKeys = []string{"city", "town", "village", "suburb", "city_district", "county"}

// FallbackPlaceName is used when an address has none of placeNameKeys.
const FallbackPlaceName = "Detected Location"

// Reverse names the place at lat/lon.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{
		"format": {"json"},
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lon, 'f', -1, 64)},
	}
	var res reverseResult
	if err := n.get(ctx, "/reverse", q, &res); err != nil {
		return "", err
	}
	if res.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, res.Error)
	}
	return PlaceName(res.Address), nil
}

// PlaceName picks the most specific populated name from an address.
func PlaceName(address map[string]string) string {
	for _, k := range placeNameKeys {
		if v := strings.TrimSpace(address[k]); v != "" {
			return v
		}
	}
	return FallbackPlaceName
}

func (n *Nominatim) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("nominatim: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("nominatim %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTooEarly:
		return fmt.Errorf("%w: status %d", ErrThrottled, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("nominatim %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nominatim %s: decode: %w", path, err)
	}
	return nil
}
