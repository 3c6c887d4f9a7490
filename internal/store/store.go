// Package store provides a SQLite-backed journal of corpus builds. Every
// build attempt (successful, failed or canceled) is recorded so operators can
// see when the index was last rebuilt, from which dataset and model, and why
// a rebuild failed.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Outcome is the terminal result of a build attempt.
type Outcome string

const (
	// OutcomeOK is a build that persisted a new index.
	OutcomeOK Outcome = "ok"
	// OutcomeFailed is a build that stopped on an error.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled is a build interrupted through its context.
	OutcomeCanceled Outcome = "canceled"
)

// BuildRecord is one row of the journal.
type BuildRecord struct {
	// ID uniquely identifies the build attempt.
	ID string `json:"id"`
	// StartedAt is when the build began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the build ended.
	FinishedAt time.Time `json:"finished_at"`
	// Outcome is ok, failed or canceled.
	Outcome Outcome `json:"outcome"`
	// DatasetPath is the resolved dataset file, empty if resolution failed.
	DatasetPath string `json:"dataset_path,omitempty"`
	// Documents is the number of dataset records read.
	Documents int `json:"documents"`
	// Chunks is the number of chunks produced.
	Chunks int `json:"chunks"`
	// Batches is the number of embedding batches completed.
	Batches int `json:"batches"`
	// ModelID identifies the embedding model.
	ModelID string `json:"model_id,omitempty"`
	// Error is the failure message for failed or canceled builds.
	Error string `json:"error,omitempty"`
}

// Journal records build attempts. Implementations must be safe for
// concurrent use.
type Journal interface {
	// Record persists a finished build attempt.
	Record(ctx context.Context, r BuildRecord) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]BuildRecord, error)
	// Close releases any resources held by the journal.
	Close() error
}

// SQLiteJournal is a Journal backed by a local SQLite database.
type SQLiteJournal struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the build journal database.
// It resolves to ~/.healthrag/builds.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".healthrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "builds.db"), nil
}

// Open opens (or creates) a SQLiteJournal at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteJournal, error) {
	// WAL mode lets `healthrag status` read while a build writes.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// migrate creates the schema if it does not already exist.
func (j *SQLiteJournal) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS builds (
    id            TEXT    PRIMARY KEY,
    started_at    INTEGER NOT NULL,  -- Unix timestamp (milliseconds)
    finished_at   INTEGER NOT NULL,
    outcome       TEXT    NOT NULL CHECK(outcome IN ('ok','failed','canceled')),
    dataset_path  TEXT    NOT NULL DEFAULT '',
    documents     INTEGER NOT NULL DEFAULT 0,
    chunks        INTEGER NOT NULL DEFAULT 0,
    batches       INTEGER NOT NULL DEFAULT 0,
    model_id      TEXT    NOT NULL DEFAULT '',
    error         TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_builds_started ON builds (started_at);
`
	if _, err := j.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record persists a finished build attempt.
func (j *SQLiteJournal) Record(ctx context.Context, r BuildRecord) error {
	const q = `
INSERT INTO builds (id, started_at, finished_at, outcome, dataset_path, documents, chunks, batches, model_id, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, q,
		r.ID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), string(r.Outcome),
		r.DatasetPath, r.Documents, r.Chunks, r.Batches, r.ModelID, r.Error,
	)
	if err != nil {
		return fmt.Errorf("store: record build %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to n build records, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, n int) ([]BuildRecord, error) {
	const q = `
SELECT id, started_at, finished_at, outcome, dataset_path, documents, chunks, batches, model_id, error
FROM   builds
ORDER  BY started_at DESC, rowid DESC
LIMIT  ?`

	rows, err := j.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var (
			r                 BuildRecord
			started, finished int64
			outcome           string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &outcome, &r.DatasetPath,
			&r.Documents, &r.Chunks, &r.Batches, &r.ModelID, &r.Error); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (j *SQLiteJournal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
