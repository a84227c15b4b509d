// Package diffengine reconstructs added/removed/modified sets between two
// snapshots from the store's validity ranges.
//
// Membership is decided purely by range containment; field-level changes are
// filtered through the equivalence rules in equivalence.go so representational
// noise in the upstream exports never surfaces as an address change.
package diffengine

import "github.com/quaylane/addrtrack/tracker/internal/store"

// FieldChange is one tracked field whose value genuinely differs between the
// two snapshots.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Modified is an address active in both snapshots through different stored
// versions, with at least one real field change.
type Modified struct {
	AddressPointID   int64         `json:"address_point_id"`
	AddressFull      string        `json:"address_full"`
	MunicipalityName string        `json:"municipality_name"`
	Longitude        *float64      `json:"longitude"`
	Latitude         *float64      `json:"latitude"`
	Changes          []FieldChange `json:"changes"`
}

// Diff is the full comparison between two snapshots. Added carries new-state
// rows, Removed old-state rows.
type Diff struct {
	OldSnapshotID int64            `json:"old_snapshot_id"`
	NewSnapshotID int64            `json:"new_snapshot_id"`
	Added         []*store.Version `json:"added"`
	Removed       []*store.Version `json:"removed"`
	Modified      []*Modified      `json:"modified"`
}
