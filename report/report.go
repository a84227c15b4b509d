// Package report renders static HTML change reports from snapshot diffs,
// plus an index page over all generated reports.
package report

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/quaylane/addrtrack/tracker"
)

//go:embed templates/*.html
var templatesFS embed.FS

var tmpl = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Config configures output locations.
type Config struct {
	// ReportsDir receives the per-diff report pages and metadata.json.
	// Default: "reports".
	ReportsDir string `yaml:"reports_dir"`
	// DocsDir receives index.html (the static-site root). Default: "docs".
	DocsDir string `yaml:"docs_dir"`
}

func (c *Config) defaults() {
	if c.ReportsDir == "" {
		c.ReportsDir = "reports"
	}
	if c.DocsDir == "" {
		c.DocsDir = "docs"
	}
}

// Generator writes report pages and maintains the index.
type Generator struct {
	config Config
	logger *slog.Logger
}

// New creates a Generator. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Generator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{config: cfg, logger: logger}
}

var snapshotDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// snapshotDate extracts the date a report is named after: the date embedded
// in the snapshot filename when present, otherwise the download timestamp.
func snapshotDate(s *tracker.Snapshot) string {
	if m := snapshotDateRe.FindString(s.Filename); m != "" {
		return m
	}
	if len(s.Downloaded) >= 10 {
		return s.Downloaded[:10]
	}
	return s.Downloaded
}

// Generate writes the HTML report for one diff, updates metadata.json and
// regenerates the index. Returns the report file path.
func (g *Generator) Generate(d *tracker.Diff, oldSnap, newSnap *tracker.Snapshot) (string, error) {
	if err := os.MkdirAll(g.config.ReportsDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", g.config.ReportsDir, err)
	}

	date := snapshotDate(newSnap)
	filename := "report-" + date + ".html"
	outPath := filepath.Join(g.config.ReportsDir, filename)

	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", outPath, err)
	}
	err = tmpl.ExecuteTemplate(f, "report.html", reportView{
		Generated:     time.Now().Format("2006-01-02 15:04:05"),
		OldSnapshot:   snapshotView(oldSnap),
		NewSnapshot:   snapshotView(newSnap),
		Stats:         ComputeStats(d),
		Added:         rowViews(d.Added),
		Removed:       rowViews(d.Removed),
		Modified:      modifiedViews(d.Modified),
		AddedCount:    len(d.Added),
		RemovedCount:  len(d.Removed),
		ModifiedCount: len(d.Modified),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	g.logger.Info("report written", "path", outPath)

	if err := g.updateMetadata(newSnap.ID, date, filename, d); err != nil {
		return "", err
	}
	if err := g.UpdateIndex(); err != nil {
		return "", err
	}
	return outPath, nil
}

// metaEntry is one report's line in metadata.json, keyed by snapshot id so
// regenerating a report replaces its entry instead of duplicating it.
type metaEntry struct {
	Date     string `json:"date"`
	Filename string `json:"filename"` // relative to docs/index.html
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Modified int    `json:"modified"`
}

func (g *Generator) metadataPath() string {
	return filepath.Join(g.config.ReportsDir, "metadata.json")
}

func (g *Generator) readMetadata() map[string]metaEntry {
	data := map[string]metaEntry{}
	raw, err := os.ReadFile(g.metadataPath())
	if err != nil {
		return data
	}
	// Corrupt metadata starts the index over rather than failing the report.
	if err := json.Unmarshal(raw, &data); err != nil {
		g.logger.Warn("discarding unreadable metadata", "error", err)
		return map[string]metaEntry{}
	}
	return data
}

func (g *Generator) updateMetadata(snapshotID int64, date, filename string, d *tracker.Diff) error {
	data := g.readMetadata()
	data[strconv.FormatInt(snapshotID, 10)] = metaEntry{
		Date:     date,
		Filename: "../" + filepath.ToSlash(filepath.Join(filepath.Base(g.config.ReportsDir), filename)),
		Added:    len(d.Added),
		Removed:  len(d.Removed),
		Modified: len(d.Modified),
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(g.metadataPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// UpdateIndex regenerates docs/index.html from metadata.json, newest first.
// A missing metadata file is a no-op.
func (g *Generator) UpdateIndex() error {
	data := g.readMetadata()
	if len(data) == 0 {
		return nil
	}

	entries := make([]metaEntry, 0, len(data))
	for _, e := range data {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date > entries[j].Date })

	if err := os.MkdirAll(g.config.DocsDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", g.config.DocsDir, err)
	}
	outPath := filepath.Join(g.config.DocsDir, "index.html")
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	err = tmpl.ExecuteTemplate(f, "index.html", struct{ Reports []metaEntry }{entries})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	g.logger.Info("index updated", "path", outPath)
	return nil
}
