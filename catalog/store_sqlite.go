package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	_ "modernc.org/sqlite"
)

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS catalog_versions (
	version TEXT PRIMARY KEY,
	imported_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS catalog_libraries (
	version TEXT NOT NULL,
	library TEXT NOT NULL,
	PRIMARY KEY (version, library)
);
CREATE TABLE IF NOT EXISTS catalog_tools (
	version TEXT NOT NULL,
	library TEXT NOT NULL,
	tool_index INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (version, library, tool_index)
);`

const (
	defaultSQLiteStoreDir = ".toolreg"
	defaultSQLiteStoreDB  = "catalog.db"
)

// SQLiteStoreConfig configures the SQLite-backed snapshot store.
type SQLiteStoreConfig struct {
	DSN string
	Now func() time.Time
}

// VersionInfo summarizes one stored toolkit version.
type VersionInfo struct {
	Version    string    `json:"version"`
	ImportedAt time.Time `json:"imported_at"`
	Libraries  int       `json:"libraries"`
	Tools      int       `json:"tools"`
}

// SQLiteStore persists catalog snapshots, one per toolkit version, and
// serves any stored version as a Catalog.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultSQLitePath returns the default catalog database path.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("catalog: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultSQLiteStoreDir, defaultSQLiteStoreDB), nil
}

// NewDefaultSQLiteStore opens the store at ~/.toolreg/catalog.db.
func NewDefaultSQLiteStore() (*SQLiteStore, error) {
	path, err := DefaultSQLitePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("catalog: create store dir: %w", err)
	}
	return NewSQLiteStore(SQLiteStoreConfig{DSN: path})
}

// NewSQLiteStore opens (or creates) a SQLite-backed snapshot store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("catalog: sqlite store dsn is required")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: cfg.Now}, nil
}

// Import stores s, replacing any snapshot previously stored under the
// same version.
func (s *SQLiteStore) Import(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}
	if strings.TrimSpace(snap.Version) == "" {
		return errors.New("catalog: snapshot version is required")
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: sqlite begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteVersion(ctx, tx, snap.Version); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO catalog_versions (version, imported_at)
VALUES (?, ?)`, snap.Version, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("catalog: sqlite insert version: %w", err)
	}

	for _, lib := range snap.Libraries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO catalog_libraries (version, library)
VALUES (?, ?)`, snap.Version, lib.Name); err != nil {
			return fmt.Errorf("catalog: sqlite insert library %s: %w", lib.Name, err)
		}
		for _, t := range lib.Tools {
			payload, err := json.Marshal(Tool{
				Library:     lib.Name,
				Index:       t.Index,
				Name:        t.Name,
				Description: t.Description,
				Attributes:  t.Attributes,
			})
			if err != nil {
				return fmt.Errorf("catalog: sqlite encode tool %s/%d: %w", lib.Name, t.Index, err)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO catalog_tools (version, library, tool_index, payload)
VALUES (?, ?, ?, ?)`, snap.Version, lib.Name, t.Index, payload); err != nil {
				return fmt.Errorf("catalog: sqlite insert tool %s/%d: %w", lib.Name, t.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: sqlite commit import: %w", err)
	}
	return nil
}

// Versions lists stored versions from lowest to highest, ordered by
// CompareVersions.
func (s *SQLiteStore) Versions(ctx context.Context) ([]VersionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, errors.New("catalog: sqlite store is nil")
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT v.version,
	v.imported_at,
	(SELECT COUNT(*) FROM catalog_libraries l WHERE l.version = v.version),
	(SELECT COUNT(*) FROM catalog_tools t WHERE t.version = v.version)
FROM catalog_versions v`)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite list versions: %w", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var (
			info     VersionInfo
			imported string
		)
		if err := rows.Scan(&info.Version, &imported, &info.Libraries, &info.Tools); err != nil {
			return nil, fmt.Errorf("catalog: sqlite scan version: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, imported); err == nil {
			info.ImportedAt = ts
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: sqlite version rows: %w", err)
	}
	slices.SortFunc(out, func(a, b VersionInfo) int {
		return CompareVersions(a.Version, b.Version)
	})
	return out, nil
}

// Snapshot reconstructs the stored snapshot for version.
func (s *SQLiteStore) Snapshot(ctx context.Context, version string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	if s == nil || s.db == nil {
		return Snapshot{}, false, errors.New("catalog: sqlite store is nil")
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM catalog_versions WHERE version = ?`, version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("catalog: sqlite get version: %w", err)
	}

	mem := NewMemory(version)
	libRows, err := s.db.QueryContext(ctx, `
SELECT library FROM catalog_libraries WHERE version = ? ORDER BY library ASC`, version)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("catalog: sqlite list libraries: %w", err)
	}
	defer libRows.Close()
	for libRows.Next() {
		var lib string
		if err := libRows.Scan(&lib); err != nil {
			return Snapshot{}, false, fmt.Errorf("catalog: sqlite scan library: %w", err)
		}
		mem.AddLibrary(lib)
	}
	if err := libRows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("catalog: sqlite library rows: %w", err)
	}

	toolRows, err := s.db.QueryContext(ctx, `
SELECT payload FROM catalog_tools WHERE version = ? ORDER BY library ASC, tool_index ASC`, version)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("catalog: sqlite list tools: %w", err)
	}
	defer toolRows.Close()
	for toolRows.Next() {
		var payload []byte
		if err := toolRows.Scan(&payload); err != nil {
			return Snapshot{}, false, fmt.Errorf("catalog: sqlite scan tool: %w", err)
		}
		t, err := decodeTool(payload)
		if err != nil {
			return Snapshot{}, false, err
		}
		mem.AddTool(t)
	}
	if err := toolRows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("catalog: sqlite tool rows: %w", err)
	}

	return SnapshotOf(mem), true, nil
}

// Delete removes a stored version. Deleting a missing version is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("catalog: sqlite store is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: sqlite begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := deleteVersion(ctx, tx, version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: sqlite commit delete: %w", err)
	}
	return nil
}

// Catalog returns a Catalog view of a stored version. The version is not
// checked here; a missing version makes every library unavailable.
func (s *SQLiteStore) Catalog(version string) *SQLiteCatalog {
	return &SQLiteCatalog{store: s, version: version}
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func deleteVersion(ctx context.Context, tx *sql.Tx, version string) error {
	for _, stmt := range []string{
		`DELETE FROM catalog_tools WHERE version = ?`,
		`DELETE FROM catalog_libraries WHERE version = ?`,
		`DELETE FROM catalog_versions WHERE version = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, version); err != nil {
			return fmt.Errorf("catalog: sqlite delete version %s: %w", version, err)
		}
	}
	return nil
}

func decodeTool(payload []byte) (Tool, error) {
	var t Tool
	if err := json.Unmarshal(payload, &t); err != nil {
		return Tool{}, fmt.Errorf("catalog: sqlite decode tool: %w", err)
	}
	return t, nil
}

// SQLiteCatalog serves one stored version as a Catalog.
type SQLiteCatalog struct {
	store   *SQLiteStore
	version string
}

// Version returns the toolkit version this catalog reads.
func (c *SQLiteCatalog) Version() string {
	return c.version
}

// Enumerate implements Catalog.
func (c *SQLiteCatalog) Enumerate(ctx context.Context, library string) (mapset.Set[int], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.store == nil || c.store.db == nil {
		return nil, errors.New("catalog: sqlite catalog is nil")
	}
	db := c.store.db

	var exists int
	err := db.QueryRowContext(ctx, `
SELECT 1 FROM catalog_libraries WHERE version = ? AND library = ?`, c.version, library).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrLibraryUnavailable, library)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite lookup library %s: %w", library, err)
	}

	rows, err := db.QueryContext(ctx, `
SELECT tool_index FROM catalog_tools WHERE version = ? AND library = ?`, c.version, library)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite enumerate %s: %w", library, err)
	}
	defer rows.Close()

	set := mapset.NewSet[int]()
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, fmt.Errorf("catalog: sqlite scan tool index: %w", err)
		}
		set.Add(index)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: sqlite tool index rows: %w", err)
	}
	return set, nil
}

// FetchMetadata implements Catalog.
func (c *SQLiteCatalog) FetchMetadata(ctx context.Context, library string, index int) (Tool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, err
	}
	if c == nil || c.store == nil || c.store.db == nil {
		return Tool{}, errors.New("catalog: sqlite catalog is nil")
	}

	var payload []byte
	err := c.store.db.QueryRowContext(ctx, `
SELECT payload FROM catalog_tools WHERE version = ? AND library = ? AND tool_index = ?`,
		c.version, library, index).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Tool{}, fmt.Errorf("%w: %s/%d", ErrToolMissing, library, index)
	}
	if err != nil {
		return Tool{}, fmt.Errorf("catalog: sqlite fetch %s/%d: %w", library, index, err)
	}
	return decodeTool(payload)
}
