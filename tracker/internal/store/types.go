package store

import "github.com/quaylane/addrtrack/tracker/internal/geojson"

// Snapshot records one full-dataset download. Immutable once created except
// for row_count, which is set at the end of the ingest that created it.
type Snapshot struct {
	ID         int64  `json:"id"`
	Downloaded string `json:"downloaded"` // RFC 3339
	RowCount   int64  `json:"row_count"`
	Filename   string `json:"filename"`
	// Remote change-detection headers captured by the downloader, when known.
	ETag          *string `json:"etag,omitempty"`
	LastModified  *string `json:"last_modified,omitempty"`
	ContentLength *int64  `json:"content_length,omitempty"`
}

// Version is one row-version: an address's tracked fields valid over the
// closed snapshot range [MinSnapshotID, MaxSnapshotID].
type Version struct {
	MinSnapshotID int64 `json:"min_snapshot_id"`
	MaxSnapshotID int64 `json:"max_snapshot_id"`
	geojson.Row
}

// FetchLogEntry is one download attempt against the upstream dataset.
type FetchLogEntry struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"` // "downloaded" | "skipped" | "error"
	StatusCode    int    `json:"status_code"`
	ETag          string `json:"etag"`
	LastModified  string `json:"last_modified"`
	ContentLength int64  `json:"content_length"`
	ErrorMessage  string `json:"error_message"`
	DurationMs    int64  `json:"duration_ms"`
	FetchedAt     string `json:"fetched_at"`
}
