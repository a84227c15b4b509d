package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/quaylane/addrtrack/tracker/internal/geojson"
)

// ActiveAsOf returns every row-version whose validity range contains
// snapshotID.
func (s *Store) ActiveAsOf(ctx context.Context, snapshotID int64) ([]*Version, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT min_snapshot_id, max_snapshot_id, `+rowColumnList()+`
		FROM addresses
		WHERE min_snapshot_id <= ? AND max_snapshot_id >= ?`,
		snapshotID, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("active as of %d: %w", snapshotID, err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// ActiveLatest returns the row-versions active in the most recent snapshot.
// An empty store yields an empty set.
func (s *Store) ActiveLatest(ctx context.Context) ([]*Version, error) {
	latest, err := s.MaxSnapshotID(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, nil
	}
	return s.ActiveAsOf(ctx, latest)
}

// VersionCount returns the total number of stored row-versions.
func (s *Store) VersionCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses`).Scan(&n)
	return n, err
}

// CreateStaging creates the connection-local staging table one snapshot's
// parsed rows are buffered into before the set-based transition steps run.
func (s *Store) CreateStaging(ctx context.Context, q DBTX) error {
	_, err := q.ExecContext(ctx, `
		CREATE TEMPORARY TABLE staging_addresses (
			address_point_id    INTEGER,
			address_full        TEXT,
			address_number      TEXT,
			lo_num              INTEGER,
			lo_num_suf          TEXT,
			hi_num              INTEGER,
			hi_num_suf          TEXT,
			linear_name_full    TEXT,
			linear_name         TEXT,
			linear_name_type    TEXT,
			linear_name_dir     TEXT,
			municipality_name   TEXT,
			ward_name           TEXT,
			longitude           REAL,
			latitude            REAL,
			extra               TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	return nil
}

// PrepareStage returns a prepared statement that appends one row to the
// staging table. The caller closes it.
func (s *Store) PrepareStage(ctx context.Context, q DBTX) (*sql.Stmt, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(rowColumns)), ", ")
	return q.PrepareContext(ctx,
		`INSERT INTO staging_addresses (`+rowColumnList()+`) VALUES (`+placeholders+`)`)
}

// StageRow appends one parsed row through a PrepareStage statement.
func StageRow(ctx context.Context, stmt *sql.Stmt, r *geojson.Row) error {
	_, err := stmt.ExecContext(ctx,
		r.AddressPointID, r.AddressFull, r.AddressNumber,
		r.LoNum, r.LoNumSuf, r.HiNum, r.HiNumSuf,
		r.LinearNameFull, r.LinearName, r.LinearNameType, r.LinearNameDir,
		r.MunicipalityName, r.WardName,
		r.Longitude, r.Latitude, r.Extra,
	)
	return err
}

// IndexStaging indexes the staging table by entity key before the
// set-based steps.
func (s *Store) IndexStaging(ctx context.Context, q DBTX) error {
	_, err := q.ExecContext(ctx,
		`CREATE INDEX idx_staging_id ON staging_addresses(address_point_id)`)
	return err
}

// DropStaging removes the staging table after an ingest.
func (s *Store) DropStaging(ctx context.Context, q DBTX) error {
	_, err := q.ExecContext(ctx, `DROP TABLE IF EXISTS staging_addresses`)
	return err
}

// ExtendValidity advances max_snapshot_id to newID on every row-version that
// was active at prevID and whose tracked-field tuple is identical to a staged
// row for the same entity key. NULL-safe column comparison (IS) makes unset
// compare equal to unset. Returns the number of versions extended.
func (s *Store) ExtendValidity(ctx context.Context, q DBTX, prevID, newID int64) (int64, error) {
	conds := make([]string, 0, len(compareColumns)+1)
	conds = append(conds, `s.address_point_id = addresses.address_point_id`)
	for _, c := range compareColumns {
		conds = append(conds, fmt.Sprintf("addresses.%s IS s.%s", c, c))
	}
	res, err := q.ExecContext(ctx, `
		UPDATE addresses SET max_snapshot_id = ?
		WHERE max_snapshot_id = ?
		AND EXISTS (
			SELECT 1 FROM staging_addresses s
			WHERE `+strings.Join(conds, "\n			AND ")+`
		)`, newID, prevID)
	if err != nil {
		return 0, fmt.Errorf("extend validity: %w", err)
	}
	return res.RowsAffected()
}

// InsertVersions inserts a new row-version at snapshotID for every staged
// row not already active at snapshotID: genuinely new entities plus
// entities whose fields changed. Previously active versions for changed
// keys are left untouched; their range simply ends at the prior snapshot.
// Returns the number of versions inserted.
func (s *Store) InsertVersions(ctx context.Context, q DBTX, snapshotID int64) (int64, error) {
	cols := rowColumnList()
	res, err := q.ExecContext(ctx, `
		INSERT INTO addresses (min_snapshot_id, max_snapshot_id, `+cols+`)
		SELECT ?, ?, `+cols+` FROM staging_addresses s
		WHERE s.address_point_id NOT IN (
			SELECT address_point_id FROM addresses WHERE max_snapshot_id = ?
		)`, snapshotID, snapshotID, snapshotID)
	if err != nil {
		return 0, fmt.Errorf("insert versions: %w", err)
	}
	return res.RowsAffected()
}

func collectVersions(rows *sql.Rows) ([]*Version, error) {
	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVersion(rows *sql.Rows) (*Version, error) {
	var v Version
	err := rows.Scan(
		&v.MinSnapshotID, &v.MaxSnapshotID,
		&v.AddressPointID, &v.AddressFull, &v.AddressNumber,
		&v.LoNum, &v.LoNumSuf, &v.HiNum, &v.HiNumSuf,
		&v.LinearNameFull, &v.LinearName, &v.LinearNameType, &v.LinearNameDir,
		&v.MunicipalityName, &v.WardName,
		&v.Longitude, &v.Latitude, &v.Extra,
	)
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return &v, nil
}
