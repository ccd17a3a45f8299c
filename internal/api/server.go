// Package api exposes the visibility widget, the observer, the ISS watcher
// and the telemetry proxy over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/internal/telemetry"
	"github.com/signalsfoundry/skywatch/iss"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/observer"
)

// DefaultKeepAlive is the SSE comment interval.
const DefaultKeepAlive = 30 * time.Second

// Radar is the widget surface the API reads. *radar.Engine implements it.
type Radar interface {
	State() model.WidgetState
	Snapshot() *model.VisibilitySnapshot
	Catalog() *model.Catalog
	Refresh()
	Subscribe(fn func(*model.VisibilitySnapshot)) (unsubscribe func())
}

// Locator reads and moves the observer. *observer.Locator implements it.
type Locator interface {
	Current() (model.ObserverPosition, error)
	SetManual(lat, lon float64, name string) (model.ObserverPosition, error)
	Search(ctx context.Context, query string) (model.ObserverPosition, error)
}

// ISSWatcher reports the latest ISS status. *iss.Watcher implements it.
type ISSWatcher interface {
	Latest() *iss.Status
}

// Telemetry proxies backend sky data. *telemetry.Proxy implements it.
type Telemetry interface {
	Get(ctx context.Context, endpoint string, lat, lon float64) (json.RawMessage, error)
}

// Deps wires the server. ISS, Telemetry and Metrics may be nil.
type Deps struct {
	Radar     Radar
	Locator   Locator
	ISS       ISSWatcher
	Telemetry Telemetry
	Metrics   *observability.VisibilityCollector
	Log       logging.Logger
	// KeepAlive overrides DefaultKeepAlive.
	KeepAlive time.Duration
}

// Server routes the HTTP API.
type Server struct {
	deps    Deps
	log     logging.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.KeepAlive <= 0 {
		deps.KeepAlive = DefaultKeepAlive
	}
	s := &Server{deps: deps, log: logging.OrNoop(deps.Log), mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.HandleFunc("GET /readyz", s.readyz)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	s.mux.HandleFunc("GET /api/v1/visibility", s.visibility)
	s.mux.HandleFunc("GET /api/v1/stream/visibility", s.streamVisibility)
	s.mux.HandleFunc("GET /api/v1/catalog", s.catalog)
	s.mux.HandleFunc("POST /api/v1/catalog/refresh", s.refreshCatalog)
	s.mux.HandleFunc("GET /api/v1/observer", s.getObserver)
	s.mux.HandleFunc("PUT /api/v1/observer", s.putObserver)
	s.mux.HandleFunc("GET /api/v1/observer/search", s.searchObserver)
	s.mux.HandleFunc("GET /api/v1/iss", s.issStatus)
	s.mux.HandleFunc("GET /api/v1/telemetry/{endpoint}", s.telemetry)

	s.handler = s.instrument(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Radar.State()
	code := http.StatusServiceUnavailable
	if state.Computing() {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]string{"state": state.String()})
}

func (s *Server) visibility(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Radar.Snapshot()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type catalogSummary struct {
	State       string    `json:"state"`
	Group       string    `json:"group,omitempty"`
	Source      string    `json:"source,omitempty"`
	Size        int       `json:"size"`
	Skipped     int       `json:"skipped"`
	Stale       bool      `json:"stale"`
	FetchedAt   time.Time `json:"fetched_at,omitzero"`
	OldestEpoch time.Time `json:"oldest_epoch,omitzero"`
	NewestEpoch time.Time `json:"newest_epoch,omitzero"`
}

func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	sum := catalogSummary{State: s.deps.Radar.State().String()}
	if cat := s.deps.Radar.Catalog(); cat != nil {
		sum.Group, sum.Source = cat.Group, cat.Source
		sum.Size, sum.Skipped, sum.Stale = cat.Size(), cat.Skipped, cat.Stale
		sum.FetchedAt = cat.FetchedAt
		sum.OldestEpoch, sum.NewestEpoch = cat.EpochRange()
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	s.deps.Radar.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func (s *Server) getObserver(w http.ResponseWriter, r *http.Request) {
	pos, err := s.deps.Locator.Current()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type observerRequest struct {
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
	Name string   `json:"name"`
}

func (s *Server) putObserver(w http.ResponseWriter, r *http.Request) {
	var req observerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "lat and lon are required"})
		return
	}
	pos, err := s.deps.Locator.SetManual(*req.Lat, *req.Lon, req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.log.Info(r.Context(), "observer set manually",
		logging.Float64("lat", pos.Lat),
		logging.Float64("lon", pos.Lon),
		logging.String("name", pos.Name),
	)
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) searchObserver(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "query parameter q is required"})
		return
	}
	pos, err := s.deps.Locator.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) issStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.ISS == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "iss watcher disabled"})
		return
	}
	st := s.deps.ISS.Latest()
	if st == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) telemetry(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telemetry == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "telemetry proxy disabled"})
		return
	}
	endpoint := r.PathValue("endpoint")
	if !telemetry.Allowed(endpoint) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown telemetry endpoint " + strconv.Quote(endpoint)})
		return
	}

	lat, lon, err := s.coordinates(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.deps.Telemetry.Get(r.Context(), endpoint, lat, lon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

var errBadCoordinates = errors.New("lat and lon must be valid coordinates")

// coordinates reads lat/lon from the query, defaulting to the observer.
func (s *Server) coordinates(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()
	rawLat, rawLon := q.Get("lat"), q.Get("lon")
	if rawLat == "" && rawLon == "" {
		pos, err := s.deps.Locator.Current()
		if err != nil {
			return 0, 0, err
		}
		return pos.Lat, pos.Lon, nil
	}
	lat, err1 := strconv.ParseFloat(rawLat, 64)
	lon, err2 := strconv.ParseFloat(rawLon, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, errBadCoordinates
	}
	if err := (model.ObserverPosition{Lat: lat, Lon: lon}).Validate(); err != nil {
		return 0, 0, errBadCoordinates
	}
	return lat, lon, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadCoordinates):
		code = http.StatusBadRequest
	case errors.Is(err, observer.ErrNotFound), errors.Is(err, telemetry.ErrUnknownEndpoint):
		code = http.StatusNotFound
	case errors.Is(err, observer.ErrThrottled):
		code = http.StatusTooManyRequests
	case errors.Is(err, observer.ErrUnresolved):
		code = http.StatusServiceUnavailable
	case errors.Is(err, telemetry.ErrBackendUnavailable):
		code = http.StatusBadGateway
	}
	if code >= 500 {
		s.log.Warn(r.Context(), "request failed", logging.String("path", r.URL.Path), logging.Err(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
