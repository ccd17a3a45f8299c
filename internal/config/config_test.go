package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/internal/logging"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, env(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, catalog.DefaultURL, cfg.CatalogURL)
	assert.Equal(t, "starlink", cfg.CatalogGroup)
	assert.Equal(t, catalog.FormatAuto, cfg.CatalogFormat)
	assert.Equal(t, 15*time.Second, cfg.ComputeInterval)
	assert.Equal(t, 6*time.Hour, cfg.CatalogRefresh)
	assert.Equal(t, 10*time.Second, cfg.ISSInterval)
	assert.Equal(t, 60*time.Second, cfg.TelemetryTTL)
	assert.Equal(t, 550.0, cfg.AssumedAltitudeKm)
	assert.Equal(t, 200.0, cfg.ProximityThresholdMi)
	assert.Equal(t, "Chattanooga, TN", cfg.DefaultName)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.ArchivePath)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadEnvironmentAndFlags(t *testing.T) {
	cfg, err := Load(
		[]string{"-compute-interval", "5s", "-catalog-format", "tle", "-no-iss"},
		env(map[string]string{
			"SKYWATCH_COMPUTE_INTERVAL":       "30s",
			"SKYWATCH_CATALOG_REFRESH":        "0s",
			"SKYWATCH_CATALOG_URL":            "https://celestrak.org/NORAD/elements/gp.php?GROUP=stations&FORMAT=tle",
			"SKYWATCH_REDIS_ADDR":             "localhost:6379",
			"SKYWATCH_ARCHIVE_PATH":           "/var/lib/skywatch/catalog.db",
			"SKYWATCH_TRACING_ENABLED":        "true",
			"SKYWATCH_NOMINATIM_EMAIL":        "ops@example.com",
			"SKYWATCH_DEFAULT_LAT":            "51.5",
			"SKYWATCH_PROXIMITY_THRESHOLD_MI": "150",
		}),
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ComputeInterval, "flag overrides environment")
	assert.Zero(t, cfg.CatalogRefresh)
	assert.Equal(t, "stations", cfg.CatalogGroup)
	assert.Equal(t, catalog.FormatTLE, cfg.CatalogFormat)
	assert.True(t, cfg.DisableISS)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "/var/lib/skywatch/catalog.db", cfg.ArchivePath)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "stations", cfg.Tracing.CatalogGroup)
	assert.Equal(t, "ops@example.com", cfg.NominatimEmail)
	assert.Equal(t, 51.5, cfg.DefaultLat)
	assert.Equal(t, 150.0, cfg.ProximityThresholdMi)
}

func TestLoadInvalidEnvironmentFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "warn", Output: &buf})

	cfg, err := Load(nil, env(map[string]string{
		"SKYWATCH_COMPUTE_INTERVAL": "soon",
		"SKYWATCH_ARCHIVE_KEEP":     "-3",
		"SKYWATCH_DISABLE_ISS":      "maybe",
	}), log)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.ComputeInterval)
	assert.Equal(t, 5, cfg.ArchiveKeep)
	assert.False(t, cfg.DisableISS)
	assert.Equal(t, 3, strings.Count(buf.String(), "invalid environment value"))
}

func TestLoadCatalogFileGroup(t *testing.T) {
	cfg, err := Load([]string{"-catalog-file", "testdata/starlink.json"}, env(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.CatalogGroup)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := map[string][]string{
		"unknown flag":     {"-bogus"},
		"bad format":       {"-catalog-format", "xml"},
		"zero interval":    {"-compute-interval", "0s"},
		"negative refresh": {"-catalog-refresh", "-1h"},
		"bad default":      {"-default-lat", "91"},
		"no catalog":       {"-catalog-url", ""},
		"positional":       {"extra"},
		"zero altitude":    {"-altitude-km", "0"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args, env(nil), nil)
			assert.Error(t, err)
		})
	}
}
