package store

import (
	"context"
	"testing"

	"github.com/quaylane/addrtrack/dbopen"
	"github.com/quaylane/addrtrack/tracker/internal/geojson"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func str(s string) *string { return &s }

func row(id int64, street string) *geojson.Row {
	return &geojson.Row{AddressPointID: id, LinearNameFull: str(street)}
}

// stageRows pushes rows through the staging path the ingest engine uses.
func stageRows(t *testing.T, s *Store, rows ...*geojson.Row) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateStaging(ctx, s.DB); err != nil {
		t.Fatalf("create staging: %v", err)
	}
	stmt, err := s.PrepareStage(ctx, s.DB)
	if err != nil {
		t.Fatalf("prepare stage: %v", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if err := StageRow(ctx, stmt, r); err != nil {
			t.Fatalf("stage row %d: %v", r.AddressPointID, err)
		}
	}
	if err := s.IndexStaging(ctx, s.DB); err != nil {
		t.Fatalf("index staging: %v", err)
	}
}

func dropStaging(t *testing.T, s *Store) {
	t.Helper()
	if err := s.DropStaging(context.Background(), s.DB); err != nil {
		t.Fatalf("drop staging: %v", err)
	}
}

func TestApplySchema(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{"snapshots", "addresses", "fetch_log"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestCreateSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSnapshot(ctx, s.DB, "address-points-2026-01-01.geojson")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 1 {
		t.Errorf("first snapshot id: got %d, want 1", id)
	}

	got, err := s.SnapshotIDByFilename(ctx, s.DB, "address-points-2026-01-01.geojson")
	if err != nil {
		t.Fatalf("by filename: %v", err)
	}
	if got != id {
		t.Errorf("by filename: got %d, want %d", got, id)
	}

	// Unknown filename resolves to zero.
	got, err = s.SnapshotIDByFilename(ctx, s.DB, "nope.geojson")
	if err != nil {
		t.Fatalf("by filename: %v", err)
	}
	if got != 0 {
		t.Errorf("unknown filename: got %d, want 0", got)
	}

	// The UNIQUE constraint backstops idempotence.
	if _, err := s.CreateSnapshot(ctx, s.DB, "address-points-2026-01-01.geojson"); err == nil {
		t.Error("duplicate filename should fail")
	}
}

func TestMaxSnapshotID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	max, err := s.MaxSnapshotID(ctx, s.DB)
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if max != 0 {
		t.Errorf("empty store: got %d, want 0", max)
	}

	s.CreateSnapshot(ctx, s.DB, "a.geojson")
	s.CreateSnapshot(ctx, s.DB, "b.geojson")
	max, err = s.MaxSnapshotID(ctx, s.DB)
	if err != nil {
		t.Fatalf("max: %v", err)
	}
	if max != 2 {
		t.Errorf("got %d, want 2", max)
	}
}

func TestInsertAndActiveAsOf(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateSnapshot(ctx, s.DB, "a.geojson")
	stageRows(t, s, row(1, "Yonge St"), row(2, "Bay St"))
	n, err := s.InsertVersions(ctx, s.DB, id)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted: got %d, want 2", n)
	}
	dropStaging(t, s)

	active, err := s.ActiveAsOf(ctx, id)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active: got %d rows, want 2", len(active))
	}
	// Fresh versions have min = max = current snapshot.
	for _, v := range active {
		if v.MinSnapshotID != id || v.MaxSnapshotID != id {
			t.Errorf("entity %d: range [%d,%d], want [%d,%d]",
				v.AddressPointID, v.MinSnapshotID, v.MaxSnapshotID, id, id)
		}
	}
}

func TestExtendValidity(t *testing.T) {
	// WHAT: An identical staged row extends the active version instead of
	// creating a new one; a differing row does not.
	// WHY: The unchanged path must dominate ingest volume; getting it
	// wrong either duplicates history or loses changes.
	s := openTestStore(t)
	ctx := context.Background()

	first, _ := s.CreateSnapshot(ctx, s.DB, "a.geojson")
	stageRows(t, s, row(1, "Yonge St"), row(2, "Bay St"))
	s.InsertVersions(ctx, s.DB, first)
	dropStaging(t, s)

	second, _ := s.CreateSnapshot(ctx, s.DB, "b.geojson")
	stageRows(t, s, row(1, "Yonge St"), row(2, "Front St"))
	extended, err := s.ExtendValidity(ctx, s.DB, first, second)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if extended != 1 {
		t.Errorf("extended: got %d, want 1", extended)
	}
	inserted, err := s.InsertVersions(ctx, s.DB, second)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 1 {
		t.Errorf("inserted: got %d, want 1", inserted)
	}
	dropStaging(t, s)

	// Entity 1 is still served by the version created at the first snapshot.
	active, _ := s.ActiveAsOf(ctx, second)
	for _, v := range active {
		if v.AddressPointID == 1 && v.MinSnapshotID != first {
			t.Errorf("entity 1 should keep its original version, got min=%d", v.MinSnapshotID)
		}
		if v.AddressPointID == 2 && v.MinSnapshotID != second {
			t.Errorf("entity 2 should have a new version, got min=%d", v.MinSnapshotID)
		}
	}

	// The old value of entity 2 is still the record for the first snapshot.
	old, _ := s.ActiveAsOf(ctx, first)
	if len(old) != 2 {
		t.Fatalf("active as of first: got %d, want 2", len(old))
	}
	for _, v := range old {
		if v.AddressPointID == 2 && *v.LinearNameFull != "Bay St" {
			t.Errorf("historical value lost: got %q", *v.LinearNameFull)
		}
	}
}

func TestExtendValidityUnsetEqualsUnset(t *testing.T) {
	// NULL-safe comparison: a column unset in both the active version and
	// the staged row must count as identical.
	s := openTestStore(t)
	ctx := context.Background()

	r := &geojson.Row{AddressPointID: 1, LinearNameFull: str("Yonge St")} // everything else unset
	first, _ := s.CreateSnapshot(ctx, s.DB, "a.geojson")
	stageRows(t, s, r)
	s.InsertVersions(ctx, s.DB, first)
	dropStaging(t, s)

	second, _ := s.CreateSnapshot(ctx, s.DB, "b.geojson")
	stageRows(t, s, r)
	extended, err := s.ExtendValidity(ctx, s.DB, first, second)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	dropStaging(t, s)
	if extended != 1 {
		t.Errorf("extended: got %d, want 1", extended)
	}
}

func TestValidityRangesNeverOverlap(t *testing.T) {
	// WHAT: After several ingest cycles with changes, each entity's version
	// ranges stay pairwise disjoint.
	// WHY: Overlapping ranges would make "active as of" ambiguous and break
	// every diff downstream.
	s := openTestStore(t)
	ctx := context.Background()

	streets := []string{"Yonge St", "Yonge St", "Bay St", "Bay St", "Front St"}
	prev := int64(0)
	for i, street := range streets {
		id, _ := s.CreateSnapshot(ctx, s.DB, "snap-"+string(rune('a'+i))+".geojson")
		stageRows(t, s, row(1, street))
		if prev != 0 {
			s.ExtendValidity(ctx, s.DB, prev, id)
		}
		s.InsertVersions(ctx, s.DB, id)
		dropStaging(t, s)
		prev = id
	}

	var n int
	err := s.DB.QueryRow(`
		SELECT COUNT(*) FROM addresses a JOIN addresses b
		ON a.address_point_id = b.address_point_id
		AND a.min_snapshot_id < b.min_snapshot_id
		AND a.max_snapshot_id >= b.min_snapshot_id`).Scan(&n)
	if err != nil {
		t.Fatalf("overlap query: %v", err)
	}
	if n != 0 {
		t.Errorf("found %d overlapping version ranges", n)
	}

	// Exactly one version active per snapshot.
	for id := int64(1); id <= 5; id++ {
		active, _ := s.ActiveAsOf(ctx, id)
		if len(active) != 1 {
			t.Errorf("snapshot %d: %d active versions, want 1", id, len(active))
		}
	}
}

func TestFetchLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	last, err := s.LastGoodFetch(ctx)
	if err != nil {
		t.Fatalf("last good fetch: %v", err)
	}
	if last != nil {
		t.Fatal("empty log should yield nil")
	}

	entries := []*FetchLogEntry{
		{ID: "f1", URL: "https://example.com/a", Status: "downloaded", LastModified: "Mon, 05 Jan 2026 10:00:00 GMT", ContentLength: 100, FetchedAt: "2026-01-05T10:00:00Z"},
		{ID: "f2", URL: "https://example.com/a", Status: "error", ErrorMessage: "http 503", FetchedAt: "2026-01-06T10:00:00Z"},
		{ID: "f3", URL: "https://example.com/a", Status: "skipped", LastModified: "Mon, 05 Jan 2026 10:00:00 GMT", ContentLength: 100, FetchedAt: "2026-01-07T10:00:00Z"},
	}
	for _, e := range entries {
		if err := s.RecordFetch(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.ID, err)
		}
	}

	last, err = s.LastGoodFetch(ctx)
	if err != nil {
		t.Fatalf("last good fetch: %v", err)
	}
	// Errors never drive the skip decision.
	if last == nil || last.ID != "f3" {
		t.Errorf("last good fetch: got %+v, want f3", last)
	}
}

func TestActiveLatestEmptyStore(t *testing.T) {
	s := openTestStore(t)
	active, err := s.ActiveLatest(context.Background())
	if err != nil {
		t.Fatalf("active latest: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("got %d rows, want 0", len(active))
	}
}
