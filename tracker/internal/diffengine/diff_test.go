package diffengine

import (
	"context"
	"io"
	"testing"

	"github.com/quaylane/addrtrack/dbopen"
	"github.com/quaylane/addrtrack/tracker/internal/geojson"
	"github.com/quaylane/addrtrack/tracker/internal/ingest"
	"github.com/quaylane/addrtrack/tracker/internal/store"

	_ "modernc.org/sqlite"
)

type sliceSource struct {
	rows []*geojson.Row
	i    int
}

func (s *sliceSource) Next() (*geojson.Row, error) {
	if s.i >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.i]
	s.i++
	return r, nil
}

func (s *sliceSource) Skipped() int { return 0 }

func str(v string) *string { return &v }
func flt(v float64) *float64 { return &v }

func addr(id int64, street, ward string) *geojson.Row {
	return &geojson.Row{
		AddressPointID: id,
		AddressFull:    str(street),
		LinearNameFull: str(street),
		WardName:       str(ward),
		Longitude:      flt(-79.38),
		Latitude:       flt(43.65),
	}
}

func ingestSnap(t *testing.T, st *store.Store, filename string, rows ...*geojson.Row) int64 {
	t.Helper()
	res, err := ingest.Run(context.Background(), st, filename, &sliceSource{rows: rows}, nil, nil)
	if err != nil {
		t.Fatalf("ingest %s: %v", filename, err)
	}
	return res.SnapshotID
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
}

func TestDiffSelfIsEmpty(t *testing.T) {
	st := openTestStore(t)
	id := ingestSnap(t, st, "a.geojson", addr(1, "Yonge St", "W1"))

	d, err := Compute(context.Background(), st.DB, id, id)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(d.Added)+len(d.Removed)+len(d.Modified) != 0 {
		t.Errorf("self diff not empty: %+v", d)
	}
}

func TestDiffAddedRemovedModified(t *testing.T) {
	// Snapshot A has {1,2,3}; snapshot B has {2,3,4} with entity 2's ward
	// changed. The diff must land every entity in exactly one bucket.
	st := openTestStore(t)
	a := ingestSnap(t, st, "a.geojson",
		addr(1, "Yonge St", "W1"), addr(2, "Bay St", "W1"), addr(3, "Front St", "W2"))
	b := ingestSnap(t, st, "b.geojson",
		addr(2, "Bay St", "W9"), addr(3, "Front St", "W2"), addr(4, "King St", "W3"))

	d, err := Compute(context.Background(), st.DB, a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	if len(d.Added) != 1 || d.Added[0].AddressPointID != 4 {
		t.Errorf("added: %+v, want entity 4", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].AddressPointID != 1 {
		t.Errorf("removed: %+v, want entity 1", d.Removed)
	}
	if len(d.Modified) != 1 {
		t.Fatalf("modified: got %d entries, want 1", len(d.Modified))
	}
	m := d.Modified[0]
	if m.AddressPointID != 2 {
		t.Errorf("modified entity: got %d, want 2", m.AddressPointID)
	}
	if len(m.Changes) != 1 || m.Changes[0].Field != "ward_name" {
		t.Fatalf("changes: %+v, want one ward_name change", m.Changes)
	}
	if m.Changes[0].Old != "W1" || m.Changes[0].New != "W9" {
		t.Errorf("ward change values: %+v", m.Changes[0])
	}

	// Added rows carry new state; removed rows carry old state.
	if *d.Added[0].WardName != "W3" {
		t.Errorf("added state: got %q", *d.Added[0].WardName)
	}
	if *d.Removed[0].WardName != "W1" {
		t.Errorf("removed state: got %q", *d.Removed[0].WardName)
	}
}

func TestDiffCompleteness(t *testing.T) {
	// WHAT: added ∪ removed ∪ modified ∪ unchanged covers every entity
	// active in either snapshot, and the buckets are disjoint by key.
	// WHY: A leaky partition silently drops changes from the report.
	st := openTestStore(t)
	a := ingestSnap(t, st, "a.geojson",
		addr(1, "Yonge St", "W1"), addr(2, "Bay St", "W1"), addr(3, "Front St", "W2"), addr(5, "Queen St", "W4"))
	b := ingestSnap(t, st, "b.geojson",
		addr(2, "Bay St", "W9"), addr(3, "Front St", "W2"), addr(4, "King St", "W3"), addr(5, "Queen St", "W4"))

	ctx := context.Background()
	d, err := Compute(ctx, st.DB, a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	buckets := map[int64]string{}
	mark := func(id int64, bucket string) {
		if prev, ok := buckets[id]; ok {
			t.Errorf("entity %d in both %s and %s", id, prev, bucket)
		}
		buckets[id] = bucket
	}
	for _, v := range d.Added {
		mark(v.AddressPointID, "added")
	}
	for _, v := range d.Removed {
		mark(v.AddressPointID, "removed")
	}
	for _, m := range d.Modified {
		mark(m.AddressPointID, "modified")
	}

	oldActive, _ := st.ActiveAsOf(ctx, a)
	newActive, _ := st.ActiveAsOf(ctx, b)
	everyone := map[int64]bool{}
	for _, v := range oldActive {
		everyone[v.AddressPointID] = true
	}
	for _, v := range newActive {
		everyone[v.AddressPointID] = true
	}
	for id := range everyone {
		if _, ok := buckets[id]; !ok {
			// Unchanged: must be active at both ends via the same version.
			var n int
			err := st.DB.QueryRow(`
				SELECT COUNT(*) FROM addresses
				WHERE address_point_id = ?
				AND min_snapshot_id <= ? AND max_snapshot_id >= ?
				AND min_snapshot_id <= ? AND max_snapshot_id >= ?`,
				id, a, a, b, b).Scan(&n)
			if err != nil || n != 1 {
				t.Errorf("entity %d in no bucket and not unchanged (n=%d, err=%v)", id, n, err)
			}
		}
	}
}

func TestDiffNonAdjacentSnapshots(t *testing.T) {
	// A change between two intermediate snapshots still surfaces when
	// diffing across them: active versions differ even though the change
	// did not happen between the exact endpoints.
	st := openTestStore(t)
	a := ingestSnap(t, st, "a.geojson", addr(1, "Yonge St", "W1"))
	ingestSnap(t, st, "b.geojson", addr(1, "Yonge St", "W2"))
	c := ingestSnap(t, st, "c.geojson", addr(1, "Yonge St", "W2"))

	d, err := Compute(context.Background(), st.DB, a, c)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(d.Modified) != 1 || d.Modified[0].Changes[0].Field != "ward_name" {
		t.Fatalf("modified: %+v", d.Modified)
	}
}

func TestDiffBagOnlySplitNotModified(t *testing.T) {
	// WHAT: A version split triggered only by an overflow-bag change yields
	// zero tracked-field diffs and stays out of the modified set.
	// WHY: The bag is untracked by contract; surfacing it would report
	// changes the field list promises not to track.
	st := openTestStore(t)
	r1 := addr(1, "Yonge St", "W1")
	extra1 := `{"OBJECTID":1}`
	r1.Extra = &extra1

	r2 := addr(1, "Yonge St", "W1")
	extra2 := `{"OBJECTID":2}`
	r2.Extra = &extra2

	a := ingestSnap(t, st, "a.geojson", r1)
	b := ingestSnap(t, st, "b.geojson", r2)

	// The bag change did split the version.
	n, _ := st.VersionCount(context.Background())
	if n != 2 {
		t.Fatalf("version count: got %d, want 2", n)
	}

	d, err := Compute(context.Background(), st.DB, a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(d.Modified) != 0 {
		t.Errorf("bag-only split reported as modified: %+v", d.Modified)
	}
}

func TestDiffProjectionGuardEndToEnd(t *testing.T) {
	// A coordinate flipping to a projected value must never produce a
	// reported coordinate change.
	st := openTestStore(t)
	r1 := addr(1, "Yonge St", "W1")
	r2 := addr(1, "Yonge St", "W1")
	r2.Longitude = flt(630084.12)
	r2.Latitude = flt(4833438.55)

	a := ingestSnap(t, st, "a.geojson", r1)
	b := ingestSnap(t, st, "b.geojson", r2)

	d, err := Compute(context.Background(), st.DB, a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	for _, m := range d.Modified {
		for _, c := range m.Changes {
			if c.Field == "latitude" || c.Field == "longitude" {
				t.Errorf("projected coordinate reported as change: %+v", c)
			}
		}
	}
}

func TestDiffZeroVsUnsetEndToEnd(t *testing.T) {
	st := openTestStore(t)
	r1 := addr(1, "Yonge St", "W1")
	zero := int64(0)
	r1.LoNum = &zero
	r2 := addr(1, "Yonge St", "W1") // lo_num unset

	a := ingestSnap(t, st, "a.geojson", r1)
	b := ingestSnap(t, st, "b.geojson", r2)

	d, err := Compute(context.Background(), st.DB, a, b)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	// The raw tuples differ, so the version split; after the
	// equivalence rules the entity has no real change to report.
	if len(d.Modified) != 0 {
		t.Errorf("0 vs unset reported as modified: %+v", d.Modified)
	}
}

func TestDiffRejectsReversedOrder(t *testing.T) {
	st := openTestStore(t)
	a := ingestSnap(t, st, "a.geojson", addr(1, "Yonge St", "W1"))
	b := ingestSnap(t, st, "b.geojson", addr(1, "Yonge St", "W2"))

	if _, err := Compute(context.Background(), st.DB, b, a); err == nil {
		t.Error("reversed snapshot order should fail")
	}
}
