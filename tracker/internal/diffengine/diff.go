package diffengine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quaylane/addrtrack/tracker/internal/store"
)

// Compute compares two snapshots, oldID <= newID. Equal ids are the
// degenerate case: an empty diff.
func Compute(ctx context.Context, db *sql.DB, oldID, newID int64) (*Diff, error) {
	d := &Diff{OldSnapshotID: oldID, NewSnapshotID: newID}
	if oldID == newID {
		return d, nil
	}
	if oldID > newID {
		return nil, fmt.Errorf("diff: old snapshot %d is newer than %d", oldID, newID)
	}

	var err error
	if d.Added, err = oneSided(ctx, db, newID, oldID); err != nil {
		return nil, fmt.Errorf("diff added: %w", err)
	}
	if d.Removed, err = oneSided(ctx, db, oldID, newID); err != nil {
		return nil, fmt.Errorf("diff removed: %w", err)
	}
	if d.Modified, err = modified(ctx, db, oldID, newID); err != nil {
		return nil, fmt.Errorf("diff modified: %w", err)
	}
	return d, nil
}

// oneSided returns the versions active at presentID for entities with no
// version active at absentID. Existence is tested by range containment, not
// by key lookup in a per-snapshot table.
func oneSided(ctx context.Context, db *sql.DB, presentID, absentID int64) ([]*store.Version, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT p.min_snapshot_id, p.max_snapshot_id,
		       p.address_point_id, p.address_full, p.address_number,
		       p.lo_num, p.lo_num_suf, p.hi_num, p.hi_num_suf,
		       p.linear_name_full, p.linear_name, p.linear_name_type, p.linear_name_dir,
		       p.municipality_name, p.ward_name, p.longitude, p.latitude, p.extra
		FROM addresses p
		WHERE p.min_snapshot_id <= ? AND p.max_snapshot_id >= ?
		AND NOT EXISTS (
			SELECT 1 FROM addresses a
			WHERE a.address_point_id = p.address_point_id
			AND a.min_snapshot_id <= ? AND a.max_snapshot_id >= ?
		)
		ORDER BY p.address_point_id`,
		presentID, presentID, absentID, absentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Version
	for rows.Next() {
		var v store.Version
		if err := scanInto(rows, &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// modified returns entities active in both snapshots through different
// stored versions and with at least one field change surviving the
// equivalence rules. A version split caused only by an untracked
// (overflow-bag) change yields zero field changes and is dropped here.
func modified(ctx context.Context, db *sql.DB, oldID, newID int64) ([]*Modified, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT o.min_snapshot_id, o.max_snapshot_id,
		       o.address_point_id, o.address_full, o.address_number,
		       o.lo_num, o.lo_num_suf, o.hi_num, o.hi_num_suf,
		       o.linear_name_full, o.linear_name, o.linear_name_type, o.linear_name_dir,
		       o.municipality_name, o.ward_name, o.longitude, o.latitude, o.extra,
		       n.min_snapshot_id, n.max_snapshot_id,
		       n.address_point_id, n.address_full, n.address_number,
		       n.lo_num, n.lo_num_suf, n.hi_num, n.hi_num_suf,
		       n.linear_name_full, n.linear_name, n.linear_name_type, n.linear_name_dir,
		       n.municipality_name, n.ward_name, n.longitude, n.latitude, n.extra
		FROM addresses o
		JOIN addresses n ON n.address_point_id = o.address_point_id
		WHERE o.min_snapshot_id <= ? AND o.max_snapshot_id >= ?
		  AND n.min_snapshot_id <= ? AND n.max_snapshot_id >= ?
		  AND o.min_snapshot_id != n.min_snapshot_id
		ORDER BY o.address_point_id`,
		oldID, oldID, newID, newID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Modified
	for rows.Next() {
		var ov, nv store.Version
		if err := scanPair(rows, &ov, &nv); err != nil {
			return nil, err
		}
		changes := fieldChanges(&ov.Row, &nv.Row)
		if len(changes) == 0 {
			continue
		}
		out = append(out, &Modified{
			AddressPointID:   nv.AddressPointID,
			AddressFull:      firstString(nv.AddressFull, ov.AddressFull),
			MunicipalityName: firstString(nv.MunicipalityName, ov.MunicipalityName),
			Longitude:        nv.Longitude,
			Latitude:         nv.Latitude,
			Changes:          changes,
		})
	}
	return out, rows.Err()
}

func scanInto(rows *sql.Rows, v *store.Version) error {
	return rows.Scan(
		&v.MinSnapshotID, &v.MaxSnapshotID,
		&v.AddressPointID, &v.AddressFull, &v.AddressNumber,
		&v.LoNum, &v.LoNumSuf, &v.HiNum, &v.HiNumSuf,
		&v.LinearNameFull, &v.LinearName, &v.LinearNameType, &v.LinearNameDir,
		&v.MunicipalityName, &v.WardName, &v.Longitude, &v.Latitude, &v.Extra,
	)
}

func scanPair(rows *sql.Rows, o, n *store.Version) error {
	return rows.Scan(
		&o.MinSnapshotID, &o.MaxSnapshotID,
		&o.AddressPointID, &o.AddressFull, &o.AddressNumber,
		&o.LoNum, &o.LoNumSuf, &o.HiNum, &o.HiNumSuf,
		&o.LinearNameFull, &o.LinearName, &o.LinearNameType, &o.LinearNameDir,
		&o.MunicipalityName, &o.WardName, &o.Longitude, &o.Latitude, &o.Extra,
		&n.MinSnapshotID, &n.MaxSnapshotID,
		&n.AddressPointID, &n.AddressFull, &n.AddressNumber,
		&n.LoNum, &n.LoNumSuf, &n.HiNum, &n.HiNumSuf,
		&n.LinearNameFull, &n.LinearName, &n.LinearNameType, &n.LinearNameDir,
		&n.MunicipalityName, &n.WardName, &n.Longitude, &n.Latitude, &n.Extra,
	)
}

func firstString(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}
