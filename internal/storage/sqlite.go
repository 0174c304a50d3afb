package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/kaizen/internal/models"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteCatalog implements Catalog using SQLite. Documents are keyed by
// (version, doc_id) so every index version has its own view of the corpus.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite catalog at dbPath with the given
// database/sql driver ("sqlite3" or "sqlite"). Parent directories are created if
// they do not exist.
func NewSQLiteCatalog(driver, dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn, err := sqliteDSN(driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

// sqliteDSN sets a busy timeout on every pooled connection; the two drivers
// spell it differently.
func sqliteDSN(driver, dbPath string) (string, error) {
	switch driver {
	case "sqlite3":
		return "file:" + dbPath + "?_busy_timeout=5000", nil
	case "sqlite":
		return "file:" + dbPath + "?_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		version TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		checksum TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		last_updated TEXT NOT NULL,
		PRIMARY KEY (version, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_version_deleted ON documents(version, is_deleted);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		added INTEGER NOT NULL,
		updated INTEGER NOT NULL,
		deleted INTEGER NOT NULL,
		restored INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL,
		unchanged INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_version_started ON runs(version, started_at);
	`
	_, err := db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// GetActive returns doc_id -> checksum for every non-deleted document of version.
func (s *SQLiteCatalog) GetActive(ctx context.Context, version string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, checksum FROM documents WHERE version = ? AND is_deleted = 0`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := make(map[string]string)
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		active[id] = sum
	}
	return active, rows.Err()
}

// Get returns a record by version and doc_id, including tombstones.
func (s *SQLiteCatalog) Get(ctx context.Context, version, docID string) (*models.DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, doc_id, checksum, is_deleted, last_updated
		 FROM documents WHERE version = ? AND doc_id = ?`, version, docID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, docID, version)
	}
	return rec, err
}

// Upsert inserts or refreshes a record and clears its tombstone in one statement.
func (s *SQLiteCatalog) Upsert(ctx context.Context, version, docID, checksum string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (version, doc_id, checksum, is_deleted, last_updated)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(version, doc_id) DO UPDATE SET
		   checksum = excluded.checksum,
		   is_deleted = 0,
		   last_updated = excluded.last_updated`,
		version, docID, checksum, formatTime(ts),
	)
	return err
}

// MarkDeleted tombstones an active record. The checksum is kept for diagnostics.
func (s *SQLiteCatalog) MarkDeleted(ctx context.Context, version, docID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_deleted = 1, last_updated = ?
		 WHERE version = ? AND doc_id = ? AND is_deleted = 0`,
		formatTime(ts), version, docID,
	)
	return err
}

// List returns the records of version ordered by doc_id.
func (s *SQLiteCatalog) List(ctx context.Context, version string, opts ListOptions) ([]*models.DocumentRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT version, doc_id, checksum, is_deleted, last_updated FROM documents WHERE version = ?`
	if !opts.IncludeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY doc_id LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, version, limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.DocumentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the number of active and tombstoned records of version, or of
// every version when version is empty.
func (s *SQLiteCatalog) Count(ctx context.Context, version string) (CatalogCounts, error) {
	query := `SELECT
		   COALESCE(SUM(CASE WHEN is_deleted = 0 THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN is_deleted = 1 THEN 1 ELSE 0 END), 0)
		 FROM documents`
	args := []any{}
	if version != "" {
		query += ` WHERE version = ?`
		args = append(args, version)
	}
	var c CatalogCounts
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.Active, &c.Deleted)
	return c, err
}

// RecordRun stores a run summary.
func (s *SQLiteCatalog) RecordRun(ctx context.Context, run *models.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, version, started_at, finished_at, added, updated, deleted, restored, dropped, failed, unchanged, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Version, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Added, run.Updated, run.Deleted, run.Restored, run.Dropped, run.Failed, run.Unchanged, run.Error,
	)
	return err
}

// ListRuns returns the most recent runs first. An empty version lists all versions.
func (s *SQLiteCatalog) ListRuns(ctx context.Context, version string, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT run_id, version, started_at, finished_at, added, updated, deleted, restored, dropped, failed, unchanged, error FROM runs`
	args := []any{}
	if version != "" {
		query += ` WHERE version = ?`
		args = append(args, version)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		var run models.RunRecord
		var started, finished string
		if err := rows.Scan(&run.RunID, &run.Version, &started, &finished,
			&run.Added, &run.Updated, &run.Deleted, &run.Restored, &run.Dropped,
			&run.Failed, &run.Unchanged, &run.Error); err != nil {
			return nil, err
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	var deleted int
	var updated string
	if err := row.Scan(&rec.Version, &rec.DocID, &rec.Checksum, &deleted, &updated); err != nil {
		return nil, err
	}
	rec.IsDeleted = deleted != 0
	t, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	rec.LastUpdated = t
	return &rec, nil
}
