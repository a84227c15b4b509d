package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeSnapshotFile(t *testing.T, dir, name string, features ...string) string {
	t.Helper()
	var b []byte
	b = append(b, `{"type": "FeatureCollection", "features": [`...)
	b = append(b, '\n')
	for _, f := range features {
		b = append(b, f...)
		b = append(b, ',', '\n')
	}
	b = append(b, `]}`...)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func feature(id int, street, ward string) string {
	return fmt.Sprintf(`{"type": "Feature", "geometry": {"type": "Point", "coordinates": [-79.38, 43.65]}, "properties": {"ADDRESS_POINT_ID": %d, "ADDRESS_FULL": "%d %s", "LINEAR_NAME_FULL": "%s", "WARD_NAME": "%s"}}`,
		id, id, street, street, ward)
}

func openTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := Open(filepath.Join(t.TempDir(), "addresses.db"), nil)
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestServiceEndToEnd(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()
	dir := t.TempDir()

	fileA := writeSnapshotFile(t, dir, "address-points-2026-01-05.geojson",
		feature(1, "Yonge St", "W1"),
		feature(2, "Bay St", "W1"),
		feature(3, "Front St", "W2"))
	fileB := writeSnapshotFile(t, dir, "address-points-2026-02-05.geojson",
		feature(2, "Bay St", "W9"),
		feature(3, "Front St", "W2"),
		feature(4, "King St", "W3"))

	resA, err := svc.Ingest(ctx, fileA)
	if err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	if resA.Staged != 3 || resA.Inserted != 3 {
		t.Errorf("first ingest: %+v", resA)
	}
	resB, err := svc.Ingest(ctx, fileB)
	if err != nil {
		t.Fatalf("ingest b: %v", err)
	}
	if resB.Extended != 1 || resB.Inserted != 2 {
		t.Errorf("second ingest: extended=%d inserted=%d, want 1/2", resB.Extended, resB.Inserted)
	}

	d, oldSnap, newSnap, err := svc.DiffLatest(ctx)
	if err != nil {
		t.Fatalf("diff latest: %v", err)
	}
	if oldSnap.ID != resA.SnapshotID || newSnap.ID != resB.SnapshotID {
		t.Errorf("diff endpoints: %d..%d", oldSnap.ID, newSnap.ID)
	}
	if len(d.Added) != 1 || len(d.Removed) != 1 || len(d.Modified) != 1 {
		t.Errorf("diff sizes: added=%d removed=%d modified=%d", len(d.Added), len(d.Removed), len(d.Modified))
	}

	active, err := svc.ActiveLatest(ctx)
	if err != nil {
		t.Fatalf("active latest: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("active latest: got %d, want 3", len(active))
	}
}

func TestServiceDiffRequiresHistory(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()

	if _, _, _, err := svc.DiffLatest(ctx); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("empty store: got %v, want ErrInsufficientHistory", err)
	}

	path := writeSnapshotFile(t, t.TempDir(), "a.geojson", feature(1, "Yonge St", "W1"))
	if _, err := svc.Ingest(ctx, path); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, _, _, err := svc.DiffLatest(ctx); !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("one snapshot: got %v, want ErrInsufficientHistory", err)
	}
}

func TestServiceDiffUnknownSnapshot(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()
	path := writeSnapshotFile(t, t.TempDir(), "a.geojson", feature(1, "Yonge St", "W1"))
	res, err := svc.Ingest(ctx, path)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.Diff(ctx, res.SnapshotID, 99); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("got %v, want ErrNoSnapshot", err)
	}
}

func TestServiceReingestSameFile(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()
	path := writeSnapshotFile(t, t.TempDir(), "a.geojson", feature(1, "Yonge St", "W1"))

	first, err := svc.Ingest(ctx, path)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	second, err := svc.Ingest(ctx, path)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if !second.AlreadyIngested || second.SnapshotID != first.SnapshotID {
		t.Errorf("re-ingest: %+v", second)
	}
}

func TestServiceVerify(t *testing.T) {
	svc := openTestService(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSnapshotFile(t, dir, "a.geojson",
		feature(1, "Yonge St", "W1"), feature(2, "Bay St", "W1"))

	if _, err := svc.Ingest(ctx, path); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	res, err := svc.Verify(ctx, path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.OK() {
		t.Errorf("verify should pass: %+v", res)
	}
	if res.FileRows != 2 || res.ActiveRows != 2 {
		t.Errorf("counts: %+v", res)
	}

	// A file that was never ingested cannot be verified.
	other := writeSnapshotFile(t, dir, "b.geojson", feature(1, "Yonge St", "W1"))
	if _, err := svc.Verify(ctx, other); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("got %v, want ErrNoSnapshot", err)
	}
}
