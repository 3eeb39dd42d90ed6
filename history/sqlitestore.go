package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/petal-labs/toolreg/resolve"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const (
	defaultHistoryDir = ".toolreg"
	defaultHistoryDB  = "history.db"
)

// SQLiteStoreConfig configures the SQLite run store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes runs older than this duration (0 = no age pruning).
	RetentionAge time.Duration

	// RetentionCount keeps at most this many runs (0 = no count pruning).
	RetentionCount int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteStore persists runs to a SQLite database in WAL mode, with an
// optional background pruner.
type SQLiteStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// DefaultSQLitePath returns ~/.toolreg/history.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: resolve user home: %w", err)
	}
	return filepath.Join(home, defaultHistoryDir, defaultHistoryDB), nil
}

// NewSQLiteStore opens (or creates) a SQLite run store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("history: sqlite store dsn is required")
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// Append stores a run, replacing any run with the same ID.
func (s *SQLiteStore) Append(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return errors.New("history: run id is required")
	}
	result := run.Result
	if result == nil {
		result = &resolve.Result{RunID: run.RunID}
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("history: marshal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, catalog, recorded_at, resolved, skipped, result)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.Catalog,
		run.RecordedAt.UTC().Format(time.RFC3339Nano),
		run.Resolved,
		run.Skipped,
		string(resultJSON),
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Get returns one run including its result.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, catalog, recorded_at, resolved, skipped, result FROM runs WHERE run_id = ?`, runID)
	return scanFullRun(row)
}

// Latest returns the most recently appended run including its result.
func (s *SQLiteStore) Latest(ctx context.Context) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, catalog, recorded_at, resolved, skipped, result FROM runs ORDER BY seq DESC LIMIT 1`)
	return scanFullRun(row)
}

// List returns runs newest first without their results.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, catalog, recorded_at, resolved, skipped FROM runs ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			timeStr string
		)
		if err := rows.Scan(&r.RunID, &r.Catalog, &timeStr, &r.Resolved, &r.Skipped); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		if r.RecordedAt, err = parseTime(timeStr); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.stop:
		// Already closed.
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Exported for testing.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE recorded_at < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("history: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionCount > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE seq NOT IN (
				SELECT seq FROM runs ORDER BY seq DESC LIMIT ?
			)`, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("history: prune by count: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanFullRun(row *sql.Row) (Run, bool, error) {
	var (
		r          Run
		timeStr    string
		resultJSON string
	)
	err := row.Scan(&r.RunID, &r.Catalog, &timeStr, &r.Resolved, &r.Skipped, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("history: scan run: %w", err)
	}
	if r.RecordedAt, err = parseTime(timeStr); err != nil {
		return Run{}, false, err
	}
	var result resolve.Result
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return Run{}, false, fmt.Errorf("history: unmarshal result: %w", err)
	}
	r.Result = &result
	return r, true, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("history: parse time %q: %w", s, err)
	}
	return t, nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
