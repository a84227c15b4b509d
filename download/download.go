// Package download fetches the upstream address-points GeoJSON export.
//
// Downloads are "smart": before transferring the (large) file it issues a
// HEAD request and compares Last-Modified and Content-Length against the
// last successful fetch recorded in the fetch log. Unchanged upstream data
// is skipped without a GET.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quaylane/addrtrack/tracker"
)

// DefaultURL is the city open-data portal export of the address points
// dataset in WGS84.
const DefaultURL = "https://ckan0.cf.opendata.inter.prod-toronto.ca/dataset/" +
	"abedd8bc-e3dd-4d45-8e69-79165a76e4fa/resource/" +
	"b1c2ab72-dfe7-4b29-8550-6d1cfaa61733/download/address-points-4326.geojson"

// Fetch outcomes, stored verbatim in the fetch log.
const (
	StatusDownloaded = "downloaded"
	StatusSkipped    = "skipped"
	StatusError      = "error"
)

// Config configures the downloader.
type Config struct {
	URL string `yaml:"url"`
	// Dir receives the dated snapshot files. Default: "data".
	Dir       string        `yaml:"dir"`
	Timeout   time.Duration `yaml:"timeout"` // Default: 5m.
	UserAgent string        `yaml:"user_agent"`
	// Progress is invoked periodically during the transfer. Reporting only.
	Progress func(written, total int64) `yaml:"-"`
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Dir == "" {
		c.Dir = "data"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.UserAgent == "" {
		c.UserAgent = "addrtrack/1.0"
	}
}

// FetchLog is the slice of the tracker the downloader needs.
type FetchLog interface {
	RecordFetch(ctx context.Context, e *tracker.FetchLogEntry) error
	LastGoodFetch(ctx context.Context) (*tracker.FetchLogEntry, error)
}

// Result describes one download attempt.
type Result struct {
	Status        string // downloaded | skipped
	Path          string // target file, set for both outcomes
	Bytes         int64
	ETag          string
	LastModified  string
	ContentLength int64
}

// Downloader fetches snapshot files and records every attempt.
type Downloader struct {
	client *http.Client
	config Config
	log    FetchLog
	logger *slog.Logger
}

// New creates a Downloader. A nil logger falls back to slog.Default().
func New(cfg Config, log FetchLog, logger *slog.Logger) *Downloader {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		log:    log,
		logger: logger,
	}
}

// Run downloads today's snapshot file unless it can prove the upstream is
// unchanged. force bypasses both the local-file check and the header
// comparison. The attempt is recorded in the fetch log either way.
func (d *Downloader) Run(ctx context.Context, force bool) (*Result, error) {
	filename := fmt.Sprintf("address-points-%s.geojson", time.Now().Format("2006-01-02"))
	path := filepath.Join(d.config.Dir, filename)

	if !force {
		if _, err := os.Stat(path); err == nil {
			d.logger.Info("already downloaded", "path", path)
			return &Result{Status: StatusSkipped, Path: path}, nil
		}
	}

	start := time.Now()
	res, err := d.run(ctx, path, force)
	if err != nil {
		d.record(ctx, &tracker.FetchLogEntry{
			Status:       StatusError,
			ErrorMessage: err.Error(),
			DurationMs:   time.Since(start).Milliseconds(),
		})
		return nil, err
	}
	d.record(ctx, &tracker.FetchLogEntry{
		Status:        res.Status,
		StatusCode:    http.StatusOK,
		ETag:          res.ETag,
		LastModified:  res.LastModified,
		ContentLength: res.ContentLength,
		DurationMs:    time.Since(start).Milliseconds(),
	})
	return res, nil
}

func (d *Downloader) run(ctx context.Context, path string, force bool) (*Result, error) {
	if !force {
		skip, remote, err := d.unchangedUpstream(ctx)
		if err != nil {
			// HEAD trouble is not fatal: fall through to the full GET.
			d.logger.Warn("head request failed, downloading anyway", "error", err)
		} else if skip {
			d.logger.Info("upstream unchanged, skipping download",
				"last_modified", remote.LastModified, "content_length", remote.ContentLength)
			remote.Status = StatusSkipped
			remote.Path = path
			return remote, nil
		}
	}

	if err := os.MkdirAll(d.config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", d.config.Dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", d.config.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}

	total := resp.ContentLength
	d.logger.Info("downloading", "url", d.config.URL, "path", path, "bytes", total)

	// Write to a temp name and rename so a partial transfer never looks
	// like a complete snapshot file.
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	written, err := io.Copy(&progressWriter{w: f, total: total, report: d.config.Progress}, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}

	d.logger.Info("download complete", "path", path, "bytes", written)
	return &Result{
		Status:        StatusDownloaded,
		Path:          path,
		Bytes:         written,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: contentLength(resp.Header),
	}, nil
}

// unchangedUpstream issues a HEAD request and compares the remote headers
// against the last successful fetch. Both Last-Modified and Content-Length
// must be present and equal to call the upstream unchanged.
func (d *Downloader) unchangedUpstream(ctx context.Context) (bool, *Result, error) {
	prev, err := d.log.LastGoodFetch(ctx)
	if err != nil {
		return false, nil, err
	}
	if prev == nil || prev.LastModified == "" || prev.ContentLength == 0 {
		return false, nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.config.URL, nil)
	if err != nil {
		return false, nil, err
	}
	req.Header.Set("User-Agent", d.config.UserAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return false, nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("head: http %d", resp.StatusCode)
	}

	remote := &Result{
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: contentLength(resp.Header),
	}
	match := remote.LastModified != "" && remote.LastModified == prev.LastModified &&
		remote.ContentLength == prev.ContentLength
	return match, remote, nil
}

func (d *Downloader) record(ctx context.Context, e *tracker.FetchLogEntry) {
	e.ID = uuid.Must(uuid.NewV7()).String()
	e.URL = d.config.URL
	if err := d.log.RecordFetch(ctx, e); err != nil {
		d.logger.Warn("record fetch failed", "error", err)
	}
}

func contentLength(h http.Header) int64 {
	n, _ := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	return n
}

// progressWriter reports transfer progress every reportEvery bytes.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	last    int64
	report  func(written, total int64)
}

const reportEvery = 16 * 1024 * 1024

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.report != nil && p.written-p.last >= reportEvery {
		p.last = p.written
		p.report(p.written, p.total)
	}
	return n, err
}
