// Command radar is the one-shot companion to skywatch: it computes the
// current sky for an observer, lists catalog groups, and downloads catalog
// documents for offline use.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	cli "github.com/jawher/mow.cli"

	"github.com/signalsfoundry/skywatch/catalog"
	"github.com/signalsfoundry/skywatch/core"
	"github.com/signalsfoundry/skywatch/internal/logging"
	"github.com/signalsfoundry/skywatch/model"
	"github.com/signalsfoundry/skywatch/observer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(ctx, os.Stdout, logging.NewFromEnv()).run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "radar:", err)
		os.Exit(1)
	}
}

type app struct {
	ctx context.Context
	out io.Writer
	log logging.Logger
	cli *cli.Cli
	err error
}

func newApp(ctx context.Context, out io.Writer, log logging.Logger) *app {
	a := &app{ctx: ctx, out: out, log: logging.OrNoop(log)}
	a.cli = cli.App("radar", "Satellite visibility from the command line")
	a.cli.ErrorHandling = flag.ContinueOnError
	a.cli.Version("version", "radar 1.0")

	a.cli.Command("now", "List satellites above the observer right now", a.nowCmd)
	a.cli.Command("groups", "List catalog groups offered by the index page", a.groupsCmd)
	a.cli.Command("download", "Download a catalog document, optionally archiving it", a.downloadCmd)
	return a
}

func (a *app) run(args []string) error {
	if err := a.cli.Run(args); err != nil {
		return err
	}
	return a.err
}

func (a *app) nowCmd(cmd *cli.Cmd) {
	cmd.Spec = "[--lat --lon] [--name] [--catalog-url | --catalog-file] [--format] [--at] [--altitude-km] [--proximity-mi] [--json]"

	lat := cmd.String(cli.StringOpt{Name: "lat", Value: strconv.FormatFloat(observer.DefaultObserver.Lat, 'f', -1, 64), Desc: "observer latitude", EnvVar: "SKYWATCH_DEFAULT_LAT"})
	lon := cmd.String(cli.StringOpt{Name: "lon", Value: strconv.FormatFloat(observer.DefaultObserver.Lon, 'f', -1, 64), Desc: "observer longitude", EnvVar: "SKYWATCH_DEFAULT_LON"})
	name := cmd.String(cli.StringOpt{Name: "name", Value: observer.DefaultObserver.Name, Desc: "observer name", EnvVar: "SKYWATCH_DEFAULT_NAME"})
	catalogURL := cmd.String(cli.StringOpt{Name: "catalog-url", Value: catalog.DefaultURL, Desc: "catalog URL", EnvVar: "SKYWATCH_CATALOG_URL"})
	catalogFile := cmd.String(cli.StringOpt{Name: "catalog-file", Desc: "read the catalog from a local file", EnvVar: "SKYWATCH_CATALOG_FILE"})
	format := cmd.StringOpt("format", "auto", "catalog format: json, tle or auto")
	at := cmd.StringOpt("at", "", "reference time (RFC 3339, default now)")
	altitude := cmd.StringOpt("altitude-km", strconv.FormatFloat(core.DefaultAssumedAltitudeKm, 'f', -1, 64), "assumed shell altitude")
	proximity := cmd.StringOpt("proximity-mi", strconv.FormatFloat(core.DefaultProximityThresholdMi, 'f', -1, 64), "proximity threshold in miles")
	asJSON := cmd.BoolOpt("json", false, "print the snapshot as JSON")

	cmd.Action = func() {
		a.err = a.now(nowOptions{
			lat: *lat, lon: *lon, name: *name,
			catalogURL: *catalogURL, catalogFile: *catalogFile, format: *format,
			at: *at, altitude: *altitude, proximity: *proximity, json: *asJSON,
		})
	}
}

type nowOptions struct {
	lat, lon, name          string
	catalogURL, catalogFile string
	format, at              string
	altitude, proximity     string
	json                    bool
}

func (a *app) now(o nowOptions) error {
	obs := model.ObserverPosition{Name: o.name, Source: model.LocationSourceManual}
	var err error
	if obs.Lat, err = strconv.ParseFloat(o.lat, 64); err != nil {
		return fmt.Errorf("--lat: %w", err)
	}
	if obs.Lon, err = strconv.ParseFloat(o.lon, 64); err != nil {
		return fmt.Errorf("--lon: %w", err)
	}
	if err := obs.Validate(); err != nil {
		return err
	}

	cfg := core.DefaultConfig()
	if cfg.AssumedAltitudeKm, err = strconv.ParseFloat(o.altitude, 64); err != nil {
		return fmt.Errorf("--altitude-km: %w", err)
	}
	if cfg.ProximityThresholdMi, err = strconv.ParseFloat(o.proximity, 64); err != nil {
		return fmt.Errorf("--proximity-mi: %w", err)
	}

	ref := time.Now().UTC()
	if o.at != "" {
		if ref, err = time.Parse(time.RFC3339, o.at); err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}

	format, err := catalog.ParseFormat(o.format)
	if err != nil {
		return err
	}
	var loader catalog.Loader
	if o.catalogFile != "" {
		loader = catalog.NewFileSource(o.catalogFile, "", format, a.log)
	} else {
		loader = catalog.NewFetcher(catalog.FetcherConfig{URL: o.catalogURL, Format: format}, catalog.WithFetcherLogger(a.log))
	}
	cat, err := loader.Fetch(a.ctx)
	if err != nil {
		return err
	}

	snap, err := core.NewCalculator(cfg, core.WithLogger(a.log)).ComputeContext(a.ctx, cat.Sets, obs, ref)
	if err != nil {
		return err
	}
	snap.Skipped += cat.Skipped
	snap.State = model.StateActive

	if o.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return printSnapshot(a.out, snap)
}

func printSnapshot(out io.Writer, snap *model.VisibilitySnapshot) error {
	fmt.Fprintf(out, "%s (%.4f, %.4f) at %s\n", snap.Observer.Name, snap.Observer.Lat, snap.Observer.Lon, snap.ComputedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "%d of %d satellites visible", snap.Visible, snap.CatalogSize)
	if snap.Skipped > 0 {
		fmt.Fprintf(out, ", %d skipped", snap.Skipped)
	}
	if snap.Proximity {
		fmt.Fprint(out, ", proximity alert")
	}
	fmt.Fprintln(out)
	if snap.Empty() {
		_, err := fmt.Fprintln(out, "nothing above the horizon")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NORAD\tNAME\tAZ\tEL\tRANGE KM\tGROUND MI")
	for _, c := range snap.Contacts {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.1f\t%.0f\t%.0f\n",
			c.NoradID, c.Name, c.AzimuthDeg(), c.ElevationDeg(), c.RangeKm, c.GroundDistanceMi)
	}
	return tw.Flush()
}

func (a *app) groupsCmd(cmd *cli.Cmd) {
	indexURL := cmd.String(cli.StringOpt{Name: "index-url", Value: catalog.DefaultIndexURL, Desc: "catalog index page"})
	userAgent := cmd.String(cli.StringOpt{Name: "user-agent", Value: catalog.DefaultUserAgent, Desc: "User-Agent header", EnvVar: "SKYWATCH_USER_AGENT"})

	cmd.Action = func() {
		groups, err := catalog.DiscoverGroups(a.ctx, *indexURL, *userAgent)
		if err != nil {
			a.err = err
			return
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, g := range groups {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, g.URL)
		}
		a.err = tw.Flush()
	}
}

func (a *app) downloadCmd(cmd *cli.Cmd) {
	cmd.Spec = "[--group] [--format] [--dir] [--archive] [--user-agent] URL"

	url := cmd.StringArg("URL", "", "catalog document URL")
	group := cmd.StringOpt("group", "", "group name (derived from the URL when empty)")
	format := cmd.StringOpt("format", "auto", "catalog format: json, tle or auto")
	dir := cmd.StringOpt("dir", ".", "destination directory")
	archivePath := cmd.String(cli.StringOpt{Name: "archive", Desc: "also store the parsed catalog in this SQLite archive", EnvVar: "SKYWATCH_ARCHIVE_PATH"})
	userAgent := cmd.String(cli.StringOpt{Name: "user-agent", Value: catalog.DefaultUserAgent, Desc: "User-Agent header", EnvVar: "SKYWATCH_USER_AGENT"})

	cmd.Action = func() {
		a.err = a.download(*url, *group, *format, *dir, *archivePath, *userAgent)
	}
}

func (a *app) download(url, group, rawFormat, dir, archivePath, userAgent string) error {
	format, err := catalog.ParseFormat(rawFormat)
	if err != nil {
		return err
	}
	if group == "" {
		group = catalog.GroupFromURL(url)
	}
	path, err := catalog.Download(a.ctx, url, dir, group, format, userAgent)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, path)
	if archivePath == "" {
		return nil
	}

	cat, err := catalog.NewFileSource(path, group, format, a.log).Fetch(a.ctx)
	if err != nil {
		return err
	}
	cat.Source = url
	archive, err := catalog.OpenArchive(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()
	id, err := archive.Save(a.ctx, cat)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "archived %d element sets as %s generation %d\n", cat.Size(), group, id)
	return nil
}
