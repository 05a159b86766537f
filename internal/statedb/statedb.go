// Package statedb persists pane lifecycle history in SQLite. The live pane
// table is in memory; this is the durable record of what ran, when, and how
// it ended.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/branchpane/branchpane/internal/pane"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for pane history persistence.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// PaneRow represents a pane history row in the database.
type PaneRow struct {
	ID        string
	Branch    string
	Tool      string
	Command   string
	Dir       string
	RepoRoot  string
	Status    string
	ExitCode  int
	LastCwd   string
	StartedAt time.Time
	EndedAt   time.Time // zero if still running
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: foreign keys: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	// Checkpoint WAL to merge it back into the main database file
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// metadata table
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	// panes table: one row per spawned pane, updated as its life advances
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS panes (
			id         TEXT PRIMARY KEY,
			branch     TEXT NOT NULL DEFAULT '',
			tool       TEXT NOT NULL DEFAULT '',
			command    TEXT NOT NULL DEFAULT '',
			dir        TEXT NOT NULL DEFAULT '',
			repo_root  TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'running',
			exit_code  INTEGER NOT NULL DEFAULT 0,
			last_cwd   TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			ended_at   INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create panes: %w", err)
	}

	// pane_events table: cwd changes and other notable moments
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pane_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			pane_id    TEXT NOT NULL REFERENCES panes(id) ON DELETE CASCADE,
			kind       TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create pane_events: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_pane_events_pane ON pane_events(pane_id)
	`); err != nil {
		return fmt.Errorf("statedb: index pane_events: %w", err)
	}

	// Set schema version
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- pane.Recorder implementation ---

// RecordStart inserts a history row for a freshly spawned pane.
func (s *StateDB) RecordStart(info pane.Info) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO panes (
			id, branch, tool, command, dir, repo_root,
			status, exit_code, last_cwd, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0)
	`,
		info.ID, info.Branch, info.Tool, info.Command, info.Dir, info.RepoRoot,
		string(info.Status), info.LastKnownCwd, info.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("statedb: record start: %w", err)
	}
	return nil
}

// RecordExit marks a pane's history row as ended.
func (s *StateDB) RecordExit(paneID string, status pane.Status, exitCode int) error {
	_, err := s.db.Exec(`
		UPDATE panes SET status = ?, exit_code = ?, ended_at = ? WHERE id = ?
	`, string(status), exitCode, time.Now().Unix(), paneID)
	if err != nil {
		return fmt.Errorf("statedb: record exit: %w", err)
	}
	return nil
}

// RecordCwd stores the pane's latest working directory and appends a cwd event.
func (s *StateDB) RecordCwd(paneID, cwd string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin record cwd: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE panes SET last_cwd = ? WHERE id = ?`, cwd, paneID); err != nil {
		return fmt.Errorf("statedb: record cwd: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO pane_events (pane_id, kind, detail, created_at) VALUES (?, 'cwd', ?, ?)
	`, paneID, cwd, time.Now().Unix()); err != nil {
		return fmt.Errorf("statedb: record cwd event: %w", err)
	}
	return tx.Commit()
}

// --- History queries ---

// History returns pane rows newest-first, up to limit (0 = no limit).
func (s *StateDB) History(limit int) ([]*PaneRow, error) {
	query := `
		SELECT id, branch, tool, command, dir, repo_root,
		       status, exit_code, last_cwd, started_at, ended_at
		FROM panes ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("statedb: query history: %w", err)
	}
	defer rows.Close()

	var out []*PaneRow
	for rows.Next() {
		var r PaneRow
		var started, ended int64
		if err := rows.Scan(
			&r.ID, &r.Branch, &r.Tool, &r.Command, &r.Dir, &r.RepoRoot,
			&r.Status, &r.ExitCode, &r.LastCwd, &started, &ended,
		); err != nil {
			return nil, fmt.Errorf("statedb: scan history: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if ended > 0 {
			r.EndedAt = time.Unix(ended, 0)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Get returns a single pane row, or nil if the id is unknown.
func (s *StateDB) Get(paneID string) (*PaneRow, error) {
	var r PaneRow
	var started, ended int64
	err := s.db.QueryRow(`
		SELECT id, branch, tool, command, dir, repo_root,
		       status, exit_code, last_cwd, started_at, ended_at
		FROM panes WHERE id = ?
	`, paneID).Scan(
		&r.ID, &r.Branch, &r.Tool, &r.Command, &r.Dir, &r.RepoRoot,
		&r.Status, &r.ExitCode, &r.LastCwd, &started, &ended,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: get pane: %w", err)
	}
	r.StartedAt = time.Unix(started, 0)
	if ended > 0 {
		r.EndedAt = time.Unix(ended, 0)
	}
	return &r, nil
}

// CwdTrail returns the recorded cwd changes for a pane, oldest first.
func (s *StateDB) CwdTrail(paneID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT detail FROM pane_events
		WHERE pane_id = ? AND kind = 'cwd' ORDER BY id ASC
	`, paneID)
	if err != nil {
		return nil, fmt.Errorf("statedb: query cwd trail: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("statedb: scan cwd trail: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes ended panes older than the cutoff, cascading their events.
func (s *StateDB) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM panes WHERE ended_at > 0 AND ended_at < ?
	`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("statedb: prune: %w", err)
	}
	return res.RowsAffected()
}
