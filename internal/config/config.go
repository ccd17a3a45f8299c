// Package config assembles the service configuration from command-line
// flags whose defaults come from SKYWATCH_* environment variables.
package config

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/internal/telemetry"
	"github.com/signalsfoundry/skywatch/iss"
	"github.com/signalsfoundry/skywatch/observer"
	"github.com/signalsfoundry/skywatch/radar"
)

// Config is everything cmd/skywatch needs to start.
type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC health server

	LogLevel  string
	LogFormat string

	CatalogURL    string
	CatalogFile   string // serve a local catalog file instead of CatalogURL
	CatalogGroup  string
	CatalogFormat catalog.Format
	UserAgent     string
	FetchTimeout  time.Duration
	ArchivePath   string // empty disables the SQLite archive
	ArchiveKeep   int

	ComputeInterval      time.Duration
	CatalogRefresh       time.Duration
	AssumedAltitudeKm    float64
	ProximityThresholdMi float64

	DefaultLat         float64
	DefaultLon         float64
	DefaultName        string
	GeolocationURL     string
	DisableGeolocation bool
	NominatimURL       string
	NominatimEmail     string

	ISSURL      string
	ISSInterval time.Duration
	DisableISS  bool

	TelemetryURL string
	TelemetryTTL time.Duration

	RedisAddr     string // empty disables the Redis cache
	RedisPassword string
	RedisDB       int

	Tracing observability.TracingConfig
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:             ":8080",
		GRPCAddr:             ":50051",
		LogLevel:             "info",
		LogFormat:            "text",
		CatalogURL:           catalog.DefaultURL,
		UserAgent:            catalog.DefaultUserAgent,
		FetchTimeout:         catalog.DefaultTimeout,
		ArchiveKeep:          5,
		ComputeInterval:      radar.DefaultComputeInterval,
		CatalogRefresh:       radar.DefaultCatalogRefresh,
		AssumedAltitudeKm:    core.DefaultAssumedAltitudeKm,
		ProximityThresholdMi: core.DefaultProximityThresholdMi,
		DefaultLat:           observer.DefaultObserver.Lat,
		DefaultLon:           observer.DefaultObserver.Lon,
		DefaultName:          observer.DefaultObserver.Name,
		GeolocationURL:       observer.DefaultGeolocationURL,
		NominatimURL:         observer.DefaultNominatimURL,
		ISSURL:               iss.DefaultURL,
		ISSInterval:          iss.DefaultInterval,
		TelemetryURL:         telemetry.DefaultBaseURL,
		TelemetryTTL:         telemetry.DefaultTTL,
	}
}

// envReader reads SKYWATCH_* variables, warning about unparsable values.
type envReader struct {
	getenv func(string) string
	log    logging.Logger
}

func (e envReader) invalid(key, value string, def any) {
	e.log.Warn(context.Background(), "invalid environment value, using default",
		logging.String("key", key),
		logging.String("value", value),
		logging.Any("default", def),
	)
}

func (e envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		e.invalid(key, v, def)
		return def
	}
	return d
}

func (e envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.invalid(key, v, def)
		return def
	}
	return f
}

func (e envReader) integer(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.invalid(key, v, def)
		return def
	}
	return n
}

func (e envReader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(key, v, def)
		return def
	}
	return b
}

// Load parses args (without the program name). Environment values seed the
// flag defaults, so explicit flags win. getenv defaults to os.Getenv and log
// receives warnings about ignored environment values.
func Load(args []string, getenv func(string) string, log logging.Logger) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := envReader{getenv: getenv, log: logging.OrNoop(log)}
	d := Default()
	cfg := Config{}

	fs := flag.NewFlagSet("skywatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", env.str("SKYWATCH_HTTP_ADDR", d.HTTPAddr), "HTTP listen address for the API, SSE and /metrics")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", env.str("SKYWATCH_GRPC_ADDR", d.GRPCAddr), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", d.LogLevel), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", env.str("LOG_FORMAT", d.LogFormat), "text or json")

	fs.StringVar(&cfg.CatalogURL, "catalog-url", env.str("SKYWATCH_CATALOG_URL", d.CatalogURL), "orbital element catalog URL")
	fs.StringVar(&cfg.CatalogFile, "catalog-file", env.str("SKYWATCH_CATALOG_FILE", ""), "local catalog file used instead of -catalog-url")
	fs.StringVar(&cfg.CatalogGroup, "catalog-group", env.str("SKYWATCH_CATALOG_GROUP", ""), "catalog group name (derived from the URL when empty)")
	format := fs.String("catalog-format", env.str("SKYWATCH_CATALOG_FORMAT", "auto"), "json, tle or auto")
	fs.StringVar(&cfg.UserAgent, "user-agent", env.str("SKYWATCH_USER_AGENT", d.UserAgent), "User-Agent for catalog requests")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", env.duration("SKYWATCH_FETCH_TIMEOUT", d.FetchTimeout), "per-request catalog timeout")
	fs.StringVar(&cfg.ArchivePath, "archive", env.str("SKYWATCH_ARCHIVE_PATH", ""), "SQLite catalog archive path (empty disables)")
	fs.IntVar(&cfg.ArchiveKeep, "archive-keep", env.integer("SKYWATCH_ARCHIVE_KEEP", d.ArchiveKeep), "archived generations kept per group (0 keeps all)")

	fs.DurationVar(&cfg.ComputeInterval, "compute-interval", env.duration("SKYWATCH_COMPUTE_INTERVAL", d.ComputeInterval), "visibility recompute period")
	fs.DurationVar(&cfg.CatalogRefresh, "catalog-refresh", env.duration("SKYWATCH_CATALOG_REFRESH", d.CatalogRefresh), "catalog refetch period (0 fetches once)")
	fs.Float64Var(&cfg.AssumedAltitudeKm, "altitude-km", env.float("SKYWATCH_ASSUMED_ALTITUDE_KM", d.AssumedAltitudeKm), "assumed shell altitude for ground distance")
	fs.Float64Var(&cfg.ProximityThresholdMi, "proximity-mi", env.float("SKYWATCH_PROXIMITY_THRESHOLD_MI", d.ProximityThresholdMi), "proximity threshold in miles")

	fs.Float64Var(&cfg.DefaultLat, "default-lat", env.float("SKYWATCH_DEFAULT_LAT", d.DefaultLat), "fallback observer latitude")
	fs.Float64Var(&cfg.DefaultLon, "default-lon", env.float("SKYWATCH_DEFAULT_LON", d.DefaultLon), "fallback observer longitude")
	fs.StringVar(&cfg.DefaultName, "default-name", env.str("SKYWATCH_DEFAULT_NAME", d.DefaultName), "fallback observer name")
	fs.StringVar(&cfg.GeolocationURL, "geolocation-url", env.str("SKYWATCH_GEOLOCATION_URL", d.GeolocationURL), "IP geolocation endpoint")
	fs.BoolVar(&cfg.DisableGeolocation, "no-geolocation", env.boolean("SKYWATCH_DISABLE_GEOLOCATION", false), "skip IP geolocation and use the fallback observer")
	fs.StringVar(&cfg.NominatimURL, "nominatim-url", env.str("SKYWATCH_NOMINATIM_URL", d.NominatimURL), "Nominatim base URL")
	fs.StringVar(&cfg.NominatimEmail, "nominatim-email", env.str("SKYWATCH_NOMINATIM_EMAIL", ""), "contact address sent to Nominatim")

	fs.StringVar(&cfg.ISSURL, "iss-url", env.str("SKYWATCH_ISS_URL", d.ISSURL), "ISS position endpoint")
	fs.DurationVar(&cfg.ISSInterval, "iss-interval", env.duration("SKYWATCH_ISS_INTERVAL", d.ISSInterval), "ISS polling period")
	fs.BoolVar(&cfg.DisableISS, "no-iss", env.boolean("SKYWATCH_DISABLE_ISS", false), "disable the ISS watcher")

	fs.StringVar(&cfg.TelemetryURL, "telemetry-url", env.str("SKYWATCH_TELEMETRY_URL", d.TelemetryURL), "backend telemetry base URL")
	fs.DurationVar(&cfg.TelemetryTTL, "telemetry-ttl", env.duration("SKYWATCH_TELEMETRY_TTL", d.TelemetryTTL), "telemetry cache TTL")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", env.str("SKYWATCH_REDIS_ADDR", ""), "Redis address for response caching (empty disables)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env.str("SKYWATCH_REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", env.integer("SKYWATCH_REDIS_DB", 0), "Redis database number")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	f, err := catalog.ParseFormat(*format)
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogFormat = f
	if cfg.CatalogGroup == "" {
		if cfg.CatalogFile != "" {
			cfg.CatalogGroup = "custom"
		} else {
			cfg.CatalogGroup = catalog.GroupFromURL(cfg.CatalogURL)
		}
	}
	cfg.Tracing = observability.TracingConfigFromEnv(getenv)
	cfg.Tracing.CatalogGroup = cfg.CatalogGroup

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http-addr must not be empty"))
	}
	if c.CatalogURL == "" && c.CatalogFile == "" {
		errs = append(errs, errors.New("one of catalog-url or catalog-file is required"))
	}
	if c.ComputeInterval <= 0 {
		errs = append(errs, errors.New("compute-interval must be positive"))
	}
	if c.CatalogRefresh < 0 {
		errs = append(errs, errors.New("catalog-refresh must not be negative"))
	}
	if c.ISSInterval <= 0 {
		errs = append(errs, errors.New("iss-interval must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch-timeout must be positive"))
	}
	if c.AssumedAltitudeKm <= 0 {
		errs = append(errs, errors.New("altitude-km must be positive"))
	}
	if c.ProximityThresholdMi <= 0 {
		errs = append(errs, errors.New("proximity-mi must be positive"))
	}
	if c.DefaultLat < -90 || c.DefaultLat > 90 || c.DefaultLon < -180 || c.DefaultLon > 180 {
		errs = append(errs, fmt.Errorf("default observer %.4f,%.4f out of range", c.DefaultLat, c.DefaultLon))
	}
	return errors.Join(errs...)
}
