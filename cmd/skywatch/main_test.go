package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/internal/config"
	"github.com/signalsfoundry/skywatch/internal/health"
	"github.com/signalsfoundry/skywatch/internal/logging"
)

const issTLE = `ISS (ZARYA)
1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9993
2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257767
`

func TestSkywatchStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "stations.txt")
	if err := os.WriteFile(catalogPath, []byte(issTLE), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen http: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen grpc: %v", err)
	}

	cfg := config.Default()
	cfg.LogLevel, cfg.LogFormat = "warn", "text"
	cfg.CatalogFile = catalogPath
	cfg.CatalogGroup = "stations"
	cfg.CatalogFormat = catalog.FormatTLE
	cfg.ArchivePath = filepath.Join(dir, "archive.db")
	cfg.ComputeInterval = 50 * time.Millisecond
	cfg.DisableGeolocation = true
	cfg.DisableISS = true
	cfg.TelemetryURL = ""

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, httpLis, grpcLis)
	}()

	base := "http://" + httpLis.Addr().String()
	waitFor(t, func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	var snap struct {
		CatalogSize int    `json:"catalog_size"`
		State       string `json:"state"`
		Observer    struct {
			Name string `json:"name"`
		} `json:"observer"`
	}
	waitFor(t, func() bool {
		resp, err := http.Get(base + "/api/v1/visibility")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&snap) == nil
	})
	if snap.CatalogSize != 1 || snap.State != "active" {
		t.Fatalf("snapshot = %+v, want one element set while active", snap)
	}
	if snap.Observer.Name != cfg.DefaultName {
		t.Fatalf("observer = %q, want default %q", snap.Observer.Name, cfg.DefaultName)
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: health.ServiceName})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v, want SERVING", resp.GetStatus())
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
