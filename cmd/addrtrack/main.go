// Command addrtrack tracks the city's address points dataset: it downloads
// snapshots, versions them in SQLite, diffs consecutive snapshots, renders
// HTML change reports, and conflates the active addresses against OSM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/quaylane/addrtrack/conflate"
	"github.com/quaylane/addrtrack/download"
	"github.com/quaylane/addrtrack/report"
	"github.com/quaylane/addrtrack/tracker"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "download":
		err = cmdDownload(ctx, os.Args[2:])
	case "ingest":
		err = cmdIngest(ctx, os.Args[2:])
	case "snapshots":
		err = cmdSnapshots(ctx, os.Args[2:])
	case "diff":
		err = cmdDiff(ctx, os.Args[2:])
	case "report":
		err = cmdReport(ctx, os.Args[2:])
	case "update":
		err = cmdUpdate(ctx, os.Args[2:])
	case "verify":
		err = cmdVerify(ctx, os.Args[2:])
	case "conflate":
		err = cmdConflate(ctx, os.Args[2:])
	case "serve":
		err = cmdServe(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "addrtrack: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `addrtrack - municipal address point change tracker

usage:
  addrtrack download  [-force]            Download today's snapshot file
  addrtrack ingest    [file...]           Ingest snapshot files (default: newest in data dir)
  addrtrack snapshots                     List ingested snapshots
  addrtrack diff      [-old N] [-new N]   Diff two snapshots (default: latest two)
  addrtrack report    [-old N] [-new N]   Diff and render the HTML report
  addrtrack update    [-force]            Download + ingest + report in one go
  addrtrack verify    <file>              Cross-check a file against its stored snapshot
  addrtrack conflate  [-count]            Compare active addresses against OSM
  addrtrack serve     [-addr :8091]       Serve reports and the JSON API

common flags:
  -config addrtrack.yaml   YAML configuration file
  -log-level info          debug, info, warn, error
`)
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (configPath, logLevel *string) {
	configPath = fs.String("config", "addrtrack.yaml", "path to YAML config file")
	logLevel = fs.String("log-level", "info", "log level: debug, info, warn, error")
	return configPath, logLevel
}

// setup parses flags and builds the shared config and logger. The config
// file is only required when -config was given explicitly.
func setup(fs *flag.FlagSet, args []string) (*config, *slog.Logger, error) {
	configPath, logLevel := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	required := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			required = true
		}
	})
	cfg, err := loadConfig(*configPath, required)
	if err != nil {
		return nil, nil, err
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openService(cfg *config, logger *slog.Logger) (*tracker.Service, error) {
	return tracker.Open(cfg.DB, logger, tracker.WithProgress(func(staged int64) {
		fmt.Fprintf(os.Stderr, "\r  staged %d rows", staged)
	}))
}

func cmdDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	force := fs.Bool("force", false, "re-download even if unchanged")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := download.New(cfg.Download, svc, logger).Run(ctx, *force)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", res.Status, res.Path)
	return nil
}

func cmdIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		latest, err := latestDataFile(cfg.Download.Dir)
		if err != nil {
			return err
		}
		files = []string{latest}
	}

	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, f := range files {
		res, err := svc.Ingest(ctx, f)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", f, err)
		}
		fmt.Fprintln(os.Stderr)
		if res.AlreadyIngested {
			fmt.Fprintf(os.Stderr, "%s: already ingested as snapshot %d\n", f, res.SnapshotID)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s: snapshot %d (%d staged, %d extended, %d inserted, %d skipped)\n",
			f, res.SnapshotID, res.Staged, res.Extended, res.Inserted, res.Skipped)
	}
	return nil
}

// latestDataFile picks the lexically greatest .geojson in dir; the dated
// filenames make that the newest snapshot.
func latestDataFile(dir string) (string, error) {
	if dir == "" {
		dir = "data"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("no snapshot file given and %s is unreadable: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".geojson") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no .geojson files in %s; run download first", dir)
	}
	sort.Strings(files)
	return filepath.Join(dir, files[len(files)-1]), nil
}

func cmdSnapshots(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	snaps, err := svc.Snapshots(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots ingested yet")
		return nil
	}
	fmt.Printf("%-4s  %-20s  %-10s  %s\n", "ID", "DOWNLOADED", "ROWS", "FILENAME")
	for _, s := range snaps {
		fmt.Printf("%-4d  %-20s  %-10d  %s\n", s.ID, s.Downloaded, s.RowCount, s.Filename)
	}
	return nil
}

// resolveDiff computes the requested diff, defaulting to the latest two
// snapshots when no ids are given.
func resolveDiff(ctx context.Context, svc *tracker.Service, oldID, newID int64) (*tracker.Diff, *tracker.Snapshot, *tracker.Snapshot, error) {
	if oldID == 0 && newID == 0 {
		return svc.DiffLatest(ctx)
	}
	if oldID == 0 || newID == 0 {
		return nil, nil, nil, fmt.Errorf("-old and -new must be given together")
	}
	d, err := svc.Diff(ctx, oldID, newID)
	if err != nil {
		return nil, nil, nil, err
	}
	snaps, err := svc.Snapshots(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	var oldSnap, newSnap *tracker.Snapshot
	for _, s := range snaps {
		if s.ID == oldID {
			oldSnap = s
		}
		if s.ID == newID {
			newSnap = s
		}
	}
	return d, oldSnap, newSnap, nil
}

func cmdDiff(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	oldID := fs.Int64("old", 0, "old snapshot id")
	newID := fs.Int64("new", 0, "new snapshot id")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	d, oldSnap, newSnap, err := resolveDiff(ctx, svc, *oldID, *newID)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot %d (%s) -> snapshot %d (%s)\n",
		oldSnap.ID, oldSnap.Filename, newSnap.ID, newSnap.Filename)
	fmt.Printf("  added:    %d\n", len(d.Added))
	fmt.Printf("  removed:  %d\n", len(d.Removed))
	fmt.Printf("  modified: %d\n", len(d.Modified))
	return nil
}

func cmdReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	oldID := fs.Int64("old", 0, "old snapshot id")
	newID := fs.Int64("new", 0, "new snapshot id")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	return runReport(ctx, svc, cfg, logger, *oldID, *newID)
}

func runReport(ctx context.Context, svc *tracker.Service, cfg *config, logger *slog.Logger, oldID, newID int64) error {
	d, oldSnap, newSnap, err := resolveDiff(ctx, svc, oldID, newID)
	if err != nil {
		return err
	}
	path, err := report.New(cfg.Report, logger).Generate(d, oldSnap, newSnap)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "report: %s (added %d, removed %d, modified %d)\n",
		path, len(d.Added), len(d.Removed), len(d.Modified))
	return nil
}

func cmdUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	force := fs.Bool("force", false, "force re-download")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	dl, err := download.New(cfg.Download, svc, logger).Run(ctx, *force)
	if err != nil {
		return err
	}

	res, err := svc.Ingest(ctx, dl.Path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", dl.Path, err)
	}
	fmt.Fprintln(os.Stderr)
	if !res.AlreadyIngested && dl.Status == download.StatusDownloaded {
		if err := svc.SetSnapshotHeaders(ctx, res.SnapshotID, dl.ETag, dl.LastModified, dl.ContentLength); err != nil {
			logger.Warn("set snapshot headers", "error", err)
		}
	}

	if err := runReport(ctx, svc, cfg, logger, 0, 0); err != nil {
		// The very first update has nothing to diff against.
		if errors.Is(err, tracker.ErrInsufficientHistory) {
			fmt.Fprintln(os.Stderr, "first snapshot ingested; reports start with the next update")
			return nil
		}
		return err
	}
	return nil
}

func cmdVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("verify requires exactly one snapshot file")
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.Verify(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("snapshot %d: %d file rows (%d skipped), %d active rows\n",
		res.SnapshotID, res.FileRows, res.SkippedRecords, res.ActiveRows)
	if res.OK() {
		fmt.Println("verification OK")
		return nil
	}
	fmt.Printf("  missing in store: %s\n", summarizeIDs(res.MissingInStore, 20))
	fmt.Printf("  extra in store:   %s\n", summarizeIDs(res.ExtraInStore, 20))
	fmt.Printf("  mismatched:       %s\n", summarizeIDs(res.Mismatched, 20))
	return fmt.Errorf("verification failed")
}

// summarizeIDs renders a count plus at most n sample ids, keeping the output
// bounded no matter how far the store has diverged.
func summarizeIDs(ids []int64, n int) string {
	if len(ids) <= n {
		return fmt.Sprintf("%d %v", len(ids), ids)
	}
	return fmt.Sprintf("%d %v ...", len(ids), ids[:n])
}

func cmdConflate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("conflate", flag.ExitOnError)
	countOnly := fs.Bool("count", false, "only report the OSM address count")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}

	c := conflate.New(cfg.Conflate, logger)
	osm := conflate.NewOSMClient(c.Config().OverpassURL, c.Config().BBox, logger)

	if *countOnly {
		n, err := osm.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("OSM addressed objects in bbox: %d\n", n)
		return nil
	}

	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	addresses, err := svc.ActiveLatest(ctx)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no active addresses; ingest a snapshot first")
	}
	elements, err := osm.FetchCached(ctx, c.Config().CacheFile)
	if err != nil {
		return err
	}

	res := c.Run(addresses, elements)
	fmt.Printf("conflation of %d city addresses against %d OSM addresses:\n",
		len(addresses), res.Indexed)
	fmt.Printf("  MATCH:    %d\n", res.Match)
	fmt.Printf("  REVIEW:   %d\n", res.Review)
	fmt.Printf("  CONFLICT: %d\n", res.Conflict)
	fmt.Printf("  MISSING:  %d (import candidates)\n", res.Missing)
	fmt.Printf("  skipped (no coordinates): %d\n", res.Skipped)
	return c.WriteCandidates(res)
}

func cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (default from config, :8091)")
	cfg, logger, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Serve.Addr = *addr
	}
	svc, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	return serve(ctx, svc, cfg, logger)
}
