package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const snapshotColumns = `id, downloaded, row_count, filename, etag, last_modified, content_length`

// CreateSnapshot inserts a snapshot record for filename and returns its id.
// Callers must check SnapshotIDByFilename first; the UNIQUE constraint on
// filename backstops the idempotence contract.
func (s *Store) CreateSnapshot(ctx context.Context, q DBTX, filename string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO snapshots (downloaded, row_count, filename) VALUES (?, 0, ?)`,
		time.Now().UTC().Format(time.RFC3339), filename,
	)
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}
	return id, nil
}

// SnapshotIDByFilename returns the id of the snapshot ingested from
// filename, or 0 when that file was never ingested.
func (s *Store) SnapshotIDByFilename(ctx context.Context, q DBTX, filename string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM snapshots WHERE filename = ?`, filename).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot by filename: %w", err)
	}
	return id, nil
}

// MaxSnapshotID returns the highest snapshot id, or 0 when the store is empty.
func (s *Store) MaxSnapshotID(ctx context.Context, q DBTX) (int64, error) {
	var id sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(id) FROM snapshots`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max snapshot id: %w", err)
	}
	return id.Int64, nil
}

// SetRowCount records the usable row count of a freshly ingested snapshot.
func (s *Store) SetRowCount(ctx context.Context, q DBTX, id, count int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE snapshots SET row_count = ? WHERE id = ?`, count, id)
	return err
}

// SetSnapshotHeaders attaches the remote change-detection headers the
// downloader observed for the file behind this snapshot.
func (s *Store) SetSnapshotHeaders(ctx context.Context, id int64, etag, lastModified string, contentLength int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE snapshots SET etag = ?, last_modified = ?, content_length = ? WHERE id = ?`,
		etag, lastModified, contentLength, id)
	return err
}

// Snapshot returns one snapshot by id, or nil when it does not exist.
func (s *Store) Snapshot(ctx context.Context, id int64) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// Snapshots returns all snapshots in download order.
func (s *Store) Snapshots(ctx context.Context) ([]*Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		sn, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// LatestSnapshots returns the last n snapshots, oldest first.
func (s *Store) LatestSnapshots(ctx context.Context, n int) ([]*Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		sn, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

// RecordFetch appends one download attempt to the fetch log.
func (s *Store) RecordFetch(ctx context.Context, e *FetchLogEntry) error {
	if e.FetchedAt == "" {
		e.FetchedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO fetch_log (id, url, status, status_code, etag, last_modified,
		content_length, error_message, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.URL, e.Status, e.StatusCode, e.ETag, e.LastModified,
		e.ContentLength, e.ErrorMessage, e.DurationMs, e.FetchedAt,
	)
	return err
}

// LastGoodFetch returns the most recent non-error fetch attempt, or nil.
// Its headers drive the downloader's skip decision.
func (s *Store) LastGoodFetch(ctx context.Context) (*FetchLogEntry, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, url, status, status_code, etag, last_modified, content_length,
		error_message, duration_ms, fetched_at
		FROM fetch_log WHERE status != 'error'
		ORDER BY fetched_at DESC LIMIT 1`)
	var e FetchLogEntry
	err := row.Scan(&e.ID, &e.URL, &e.Status, &e.StatusCode, &e.ETag, &e.LastModified,
		&e.ContentLength, &e.ErrorMessage, &e.DurationMs, &e.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan fetch log: %w", err)
	}
	return &e, nil
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var sn Snapshot
	err := row.Scan(&sn.ID, &sn.Downloaded, &sn.RowCount, &sn.Filename,
		&sn.ETag, &sn.LastModified, &sn.ContentLength)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return &sn, nil
}

func scanSnapshotRows(rows *sql.Rows) (*Snapshot, error) {
	var sn Snapshot
	err := rows.Scan(&sn.ID, &sn.Downloaded, &sn.RowCount, &sn.Filename,
		&sn.ETag, &sn.LastModified, &sn.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return &sn, nil
}
