package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteCatalogStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := NewSQLiteStore(SQLiteStoreConfig{
		DSN: path,
		Now: func() time.Time { return time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func sampleSnapshot(version string) Snapshot {
	return Snapshot{
		Version: version,
		Libraries: []LibrarySnapshot{
			{Name: "ta_lighting", Tools: []ToolSnapshot{
				{Index: 0, Name: "Analytical Hillshading"},
				{Index: 8, Name: "Geomorphons", Attributes: map[string]string{"author": "J. Stepinski"}},
			}},
			{Name: "grid_tools", Tools: []ToolSnapshot{}},
		},
	}
}

func TestSQLiteStoreImportAndServe(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	if err := store.Import(ctx, sampleSnapshot("9.1.0")); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	cat := store.Catalog("9.1.0")
	set, err := cat.Enumerate(ctx, "ta_lighting")
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if set.Cardinality() != 2 || !set.Contains(8) {
		t.Errorf("Enumerate() = %v", set)
	}

	empty, err := cat.Enumerate(ctx, "grid_tools")
	if err != nil || empty.Cardinality() != 0 {
		t.Errorf("Enumerate(grid_tools) = %v, %v; want empty, nil", empty, err)
	}

	if _, err := cat.Enumerate(ctx, "io_gdal"); !errors.Is(err, ErrLibraryUnavailable) {
		t.Errorf("Enumerate(io_gdal) error = %v, want ErrLibraryUnavailable", err)
	}

	tool, err := cat.FetchMetadata(ctx, "ta_lighting", 8)
	if err != nil {
		t.Fatalf("FetchMetadata() error = %v", err)
	}
	if tool.Name != "Geomorphons" || tool.Attributes["author"] != "J. Stepinski" {
		t.Errorf("FetchMetadata() = %+v", tool)
	}
	if _, err := cat.FetchMetadata(ctx, "ta_lighting", 3); !errors.Is(err, ErrToolMissing) {
		t.Errorf("FetchMetadata(missing) error = %v, want ErrToolMissing", err)
	}

	if _, err := store.Catalog("1.0.0").Enumerate(ctx, "ta_lighting"); !errors.Is(err, ErrLibraryUnavailable) {
		t.Errorf("unknown version Enumerate() error = %v, want ErrLibraryUnavailable", err)
	}
}

func TestSQLiteStoreReimportReplacesVersion(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	if err := store.Import(ctx, sampleSnapshot("9.1.0")); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	smaller := Snapshot{
		Version:   "9.1.0",
		Libraries: []LibrarySnapshot{{Name: "ta_lighting", Tools: []ToolSnapshot{{Index: 0, Name: "Analytical Hillshading"}}}},
	}
	if err := store.Import(ctx, smaller); err != nil {
		t.Fatalf("re-Import() error = %v", err)
	}

	snap, ok, err := store.Snapshot(ctx, "9.1.0")
	if err != nil || !ok {
		t.Fatalf("Snapshot() = %v, %v", ok, err)
	}
	if len(snap.Libraries) != 1 || len(snap.Libraries[0].Tools) != 1 {
		t.Errorf("snapshot after re-import = %+v", snap)
	}
}

func TestSQLiteStoreVersionsAndDelete(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	for _, v := range []string{"9.1.0", "8.5.1"} {
		if err := store.Import(ctx, sampleSnapshot(v)); err != nil {
			t.Fatalf("Import(%s) error = %v", v, err)
		}
	}

	versions, err := store.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Version != "8.5.1" {
		t.Fatalf("Versions() = %+v", versions)
	}
	if versions[1].Libraries != 2 || versions[1].Tools != 2 {
		t.Errorf("version counts = %+v", versions[1])
	}
	if !versions[0].ImportedAt.Equal(time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ImportedAt = %v", versions[0].ImportedAt)
	}

	if err := store.Delete(ctx, "8.5.1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, err := store.Snapshot(ctx, "8.5.1"); err != nil || ok {
		t.Errorf("Snapshot(deleted) = %v, %v", ok, err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestSQLiteStoreVersionsOrderNumerically(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	for _, v := range []string{"7.10.0", "7.9.0"} {
		if err := store.Import(ctx, sampleSnapshot(v)); err != nil {
			t.Fatalf("Import(%s) error = %v", v, err)
		}
	}

	versions, err := store.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Version != "7.9.0" || versions[1].Version != "7.10.0" {
		t.Fatalf("Versions() = %+v, want 7.9.0 then 7.10.0", versions)
	}
}

func TestSQLiteStoreRejectsInvalidSnapshot(t *testing.T) {
	store := newSQLiteCatalogStore(t)
	ctx := context.Background()

	if err := store.Import(ctx, Snapshot{}); err == nil {
		t.Error("Import() without version should fail")
	}
	bad := Snapshot{Version: "v", Libraries: []LibrarySnapshot{{Name: "a"}, {Name: "a"}}}
	if err := store.Import(ctx, bad); err == nil {
		t.Error("Import() with duplicate library should fail")
	}
	versions, err := store.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("invalid imports left versions behind: %+v", versions)
	}
}

func TestNewSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteStoreConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
