// Package tracker is the versioned address store: it ingests full snapshots
// of the city's address dataset into validity-ranged row-versions and
// computes exact added/removed/modified sets between any two snapshots.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quaylane/addrtrack/dbopen"
	"github.com/quaylane/addrtrack/tracker/internal/diffengine"
	"github.com/quaylane/addrtrack/tracker/internal/geojson"
	"github.com/quaylane/addrtrack/tracker/internal/ingest"
	"github.com/quaylane/addrtrack/tracker/internal/store"

	_ "modernc.org/sqlite"
)

// Re-exported data types. External consumers (report renderer, conflation
// tool, CLI) work entirely in terms of these.
type (
	Row           = geojson.Row
	Snapshot      = store.Snapshot
	Version       = store.Version
	FetchLogEntry = store.FetchLogEntry
	Diff          = diffengine.Diff
	Modified      = diffengine.Modified
	FieldChange   = diffengine.FieldChange
	IngestResult  = ingest.Result
)

// Service owns one tracker database handle. It is safe for concurrent
// reads; ingests must be serialized by the caller.
type Service struct {
	store    *store.Store
	logger   *slog.Logger
	progress func(staged int64)
}

// Option customises a Service.
type Option func(*Service)

// WithProgress installs a callback invoked periodically while an ingest
// stages rows. Reporting only; it must not block for long.
func WithProgress(fn func(staged int64)) Option {
	return func(s *Service) { s.progress = fn }
}

// Open opens (or creates) the tracker database at path and applies the
// schema. A nil logger falls back to slog.Default().
func Open(path string, logger *slog.Logger, opts ...Option) (*Service, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	return NewService(db, logger, opts...), nil
}

// NewService wraps an already-opened database. The schema must be applied.
func NewService(db *sql.DB, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store.New(db), logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Service) Close() error { return s.store.DB.Close() }

// Store exposes the version store to read-only collaborators and the
// downloader's fetch log.
func (s *Service) Store() *store.Store { return s.store }

// Ingest imports one snapshot file. The snapshot is keyed by the file's
// base name: re-ingesting the same filename is a no-op returning the prior
// snapshot id.
func (s *Service) Ingest(ctx context.Context, path string) (*IngestResult, error) {
	rows, err := openRows(path)
	if err != nil {
		return nil, fmt.Errorf("tracker: open %s: %w", path, err)
	}
	defer rows.close()
	return ingest.Run(ctx, s.store, filepath.Base(path), rows, s.logger, s.progress)
}

// Diff compares two snapshots by id.
func (s *Service) Diff(ctx context.Context, oldID, newID int64) (*Diff, error) {
	for _, id := range []int64{oldID, newID} {
		sn, err := s.store.Snapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if sn == nil {
			return nil, fmt.Errorf("%w: %d", ErrNoSnapshot, id)
		}
	}
	return diffengine.Compute(ctx, s.store.DB, oldID, newID)
}

// DiffLatest compares the two most recent snapshots. With fewer than two
// snapshots in the store it fails up front with ErrInsufficientHistory.
func (s *Service) DiffLatest(ctx context.Context) (*Diff, *Snapshot, *Snapshot, error) {
	snaps, err := s.store.LatestSnapshots(ctx, 2)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(snaps) < 2 {
		return nil, nil, nil, ErrInsufficientHistory
	}
	old, new := snaps[0], snaps[1]
	d, err := diffengine.Compute(ctx, s.store.DB, old.ID, new.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return d, old, new, nil
}

// RecordFetch appends one download attempt to the fetch log.
func (s *Service) RecordFetch(ctx context.Context, e *FetchLogEntry) error {
	return s.store.RecordFetch(ctx, e)
}

// LastGoodFetch returns the most recent fetch that did not error, or nil
// when the log is empty. The downloader compares its remote headers
// against this to decide whether a re-download is worthwhile.
func (s *Service) LastGoodFetch(ctx context.Context) (*FetchLogEntry, error) {
	return s.store.LastGoodFetch(ctx)
}

// SetSnapshotHeaders attaches the remote change-detection headers to an
// ingested snapshot.
func (s *Service) SetSnapshotHeaders(ctx context.Context, id int64, etag, lastModified string, contentLength int64) error {
	return s.store.SetSnapshotHeaders(ctx, id, etag, lastModified, contentLength)
}

// Snapshots lists all ingested snapshots in download order.
func (s *Service) Snapshots(ctx context.Context) ([]*Snapshot, error) {
	return s.store.Snapshots(ctx)
}

// ActiveLatest returns the row-versions active in the most recent snapshot.
// Read-only; conflation and reporting consume this.
func (s *Service) ActiveLatest(ctx context.Context) ([]*Version, error) {
	return s.store.ActiveLatest(ctx)
}

// openRows adapts a snapshot file to the ingest row source.
type fileRows struct {
	*geojson.Scanner
	close func() error
}

func openRows(path string) (*fileRows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileRows{Scanner: geojson.NewScanner(f), close: f.Close}, nil
}
