package store

import "strings"

// Schema creates the snapshot and row-version tables.
//
// addresses is append-only: the sole in-place mutation anywhere in the module
// is advancing max_snapshot_id, which keeps every historical version
// reconstructible by range containment.
const Schema = `
-- One row per full-dataset download
CREATE TABLE IF NOT EXISTS snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    downloaded      TEXT NOT NULL,
    row_count       INTEGER NOT NULL DEFAULT 0,
    filename        TEXT NOT NULL UNIQUE,
    etag            TEXT,
    last_modified   TEXT,
    content_length  INTEGER
);

-- Row-versions: one version of one address, valid over [min_snapshot_id, max_snapshot_id]
CREATE TABLE IF NOT EXISTS addresses (
    min_snapshot_id     INTEGER NOT NULL REFERENCES snapshots(id),
    max_snapshot_id     INTEGER NOT NULL REFERENCES snapshots(id),
    address_point_id    INTEGER NOT NULL,
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
    extra               TEXT,
    PRIMARY KEY (address_point_id, min_snapshot_id)
);
CREATE INDEX IF NOT EXISTS idx_addr_validity ON addresses(min_snapshot_id, max_snapshot_id);
CREATE INDEX IF NOT EXISTS idx_addr_active ON addresses(max_snapshot_id);

-- Download attempts (observability + conditional-fetch headers)
CREATE TABLE IF NOT EXISTS fetch_log (
    id              TEXT PRIMARY KEY,
    url             TEXT NOT NULL,
    status          TEXT NOT NULL,
    status_code     INTEGER NOT NULL DEFAULT 0,
    etag            TEXT NOT NULL DEFAULT '',
    last_modified   TEXT NOT NULL DEFAULT '',
    content_length  INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    fetched_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_log_time ON fetch_log(fetched_at DESC);
`

// rowColumns are the addresses columns in insert/scan order, entity key
// first, validity range excluded.
var rowColumns = []string{
	"address_point_id",
	"address_full",
	"address_number",
	"lo_num",
	"lo_num_suf",
	"hi_num",
	"hi_num_suf",
	"linear_name_full",
	"linear_name",
	"linear_name_type",
	"linear_name_dir",
	"municipality_name",
	"ward_name",
	"longitude",
	"latitude",
	"extra",
}

// compareColumns participate in the unchanged-row match during ingest:
// every stored column except the entity key. The overflow bag counts too,
// so a bag-only change still splits the version and history stays complete.
// The diff engine filters such splits out of its modified set.
var compareColumns = rowColumns[1:]

func rowColumnList() string { return strings.Join(rowColumns, ", ") }
