// Command skywatch serves the satellite visibility widget: the HTTP API with
// its SSE stream and /metrics, plus a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/api"
	"github.com/signalsfoundry/skywatch/internal/cache"
	"github.com/signalsfoundry/skywatch/internal/config"
	"github.com/signalsfoundry/skywatch/internal/health"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/internal/observability"
	"github.com/signalsfoundry/skywatch/internal/telemetry"
	"github.com/signalsfoundry/skywatch/iss"
	"github.com/signalsfoundry/skywatch/kb"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/observer"
	"github.com/signalsfoundry/skywatch/radar"
)

const shutdownTimeout = 5 * time.Second

func main() {
	boot := logging.NewFromEnv()
	cfg, err := config.Load(os.Args[1:], nil, boot)
	if err != nil {
		boot.Error(context.Background(), "invalid configuration", logging.Err(err))
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "skywatch exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a server
// fails. grpcLis may be nil to skip the health server.
func run(ctx context.Context, cfg config.Config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewVisibilityCollector(nil)
	if err != nil {
		return err
	}

	respCache := openCache(ctx, cfg, log)
	if c, ok := respCache.(*cache.Redis); ok {
		defer c.Close()
	}

	source, closeArchive, err := catalogSource(cfg, log)
	if err != nil {
		return err
	}
	defer closeArchive()

	store := kb.NewObserverStore()
	var geo observer.Geolocator = observer.NewIPGeolocator(cfg.GeolocationURL, nil)
	if cfg.DisableGeolocation {
		geo = observer.StaticGeolocator{Err: observer.ErrGeolocationDenied}
	}
	locator := observer.NewLocator(store,
		observer.WithGeolocator(geo),
		observer.WithGeocoder(observer.NewNominatim(cfg.NominatimURL, cfg.NominatimEmail, nil)),
		observer.WithCache(respCache),
		observer.WithDefault(model.ObserverPosition{Lat: cfg.DefaultLat, Lon: cfg.DefaultLon, Name: cfg.DefaultName}),
		observer.WithLogger(log.With(logging.String("component", "observer"))),
	)

	engine := radar.New(source, store, radar.Config{
		ComputeInterval: cfg.ComputeInterval,
		CatalogRefresh:  cfg.CatalogRefresh,
		Calculator: core.Config{
			AssumedAltitudeKm:    cfg.AssumedAltitudeKm,
			ProximityThresholdMi: cfg.ProximityThresholdMi,
		},
	},
		radar.WithLogger(log.With(logging.String("component", "radar"))),
		radar.WithMetrics(collector),
	)
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Close()

	deps := api.Deps{
		Radar:   engine,
		Locator: locator,
		Metrics: collector,
		Log:     log.With(logging.String("component", "api")),
	}

	if !cfg.DisableISS {
		watcher := iss.NewWatcher(store, iss.Config{URL: cfg.ISSURL, Interval: cfg.ISSInterval},
			iss.WithLogger(log.With(logging.String("component", "iss"))),
			iss.WithMetrics(collector.ObserveCycle),
		)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
		deps.ISS = watcher
	}

	if cfg.TelemetryURL != "" {
		proxy, err := telemetry.NewProxy(cfg.TelemetryURL,
			telemetry.WithCache(respCache),
			telemetry.WithTTL(cfg.TelemetryTTL),
			telemetry.WithLogger(log.With(logging.String("component", "telemetry"))),
			telemetry.WithLookupHook(func(result string) { collector.ObserveCacheLookup("telemetry", result) }),
		)
		if err != nil {
			return err
		}
		deps.Telemetry = proxy
	}

	errCh := make(chan error, 2)

	httpSrv := &http.Server{
		Handler:           api.NewServer(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	log.Info(ctx, "starting HTTP server", logging.String("addr", httpLis.Addr().String()))
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if grpcLis != nil {
		healthSrv := health.NewServer(engine, collector, log.With(logging.String("component", "health")))
		log.Info(ctx, "starting gRPC health server", logging.String("addr", grpcLis.Addr().String()))
		go func() {
			if err := healthSrv.Serve(grpcLis); err != nil {
				errCh <- err
			}
		}()
		defer healthSrv.Stop()
	}

	// Resolution may block on the geolocation request; the engine leaves
	// Idle once the store is published.
	go func() {
		if _, err := locator.Resolve(ctx); err != nil && ctx.Err() == nil {
			log.Warn(ctx, "observer resolution failed", logging.Err(err))
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down skywatch")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP shutdown incomplete", logging.Err(err))
	}
	return runErr
}

// openCache returns the Redis cache, or a no-op cache when Redis is not
// configured. An unreachable Redis is kept: lookups fail open.
func openCache(ctx context.Context, cfg config.Config, log logging.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.Nop{}
	}
	r := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		log.Warn(ctx, "redis unreachable, continuing without cache hits",
			logging.String("addr", cfg.RedisAddr),
			logging.Err(err),
		)
	}
	return r
}

// catalogSource builds the loader chain: HTTP or file, optionally archived.
func catalogSource(cfg config.Config, log logging.Logger) (catalog.Loader, func(), error) {
	catLog := log.With(logging.String("component", "catalog"))

	var loader catalog.Loader
	if cfg.CatalogFile != "" {
		loader = catalog.NewFileSource(cfg.CatalogFile, cfg.CatalogGroup, cfg.CatalogFormat, catLog)
	} else {
		loader = catalog.NewFetcher(catalog.FetcherConfig{
			URL:       cfg.CatalogURL,
			Group:     cfg.CatalogGroup,
			Format:    cfg.CatalogFormat,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.FetchTimeout,
		}, catalog.WithFetcherLogger(catLog))
	}

	if cfg.ArchivePath == "" {
		return catalog.NewSource(loader, nil, 0, catLog), func() {}, nil
	}
	archive, err := catalog.OpenArchive(cfg.ArchivePath)
	if err != nil {
		return nil, nil, err
	}
	return catalog.NewSource(loader, archive, cfg.ArchiveKeep, catLog), func() { _ = archive.Close() }, nil
}
