// CLAUDE:SUMMARY Durable session checkpoints: upsert-by-session-id snapshots that survive crashes and gate resume.
// Package checkpoint persists a durable snapshot of each harvest
// session so an interrupted run can pick up from its recorded page.
//
// One row per session, always upserted. A checkpoint is resumable
// while its status is running or paused; terminal statuses keep the
// row around for inspection until Delete.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Statuses a checkpoint can carry. They mirror the session state
// machine; the store itself only ever interprets the two resumable
// ones.
const (
	StatusRunning = "running"
	StatusPaused  = "paused"
)

// Checkpoint is the durable projection of a session.
type Checkpoint struct {
	SessionID       string
	SearchQuery     string
	CurrentPage     int
	ProfilesScraped int
	ProfilesFailed  int
	ErrorCount      int
	Status          string
	OptionsJSON     string
	CreatedAt       int64
	UpdatedAt       int64
}

// CanResume reports whether the checkpoint represents an interrupted
// session that may be picked up again.
func CanResume(cp *Checkpoint) bool {
	if cp == nil {
		return false
	}
	return cp.Status == StatusRunning || cp.Status == StatusPaused
}

// Schema creates the checkpoints table.
const Schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    session_id       TEXT PRIMARY KEY,
    search_query     TEXT NOT NULL DEFAULT '',
    current_page     INTEGER NOT NULL DEFAULT 1,
    profiles_scraped INTEGER NOT NULL DEFAULT 0,
    profiles_failed  INTEGER NOT NULL DEFAULT 0,
    error_count      INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL DEFAULT 'idle',
    options_json     TEXT NOT NULL DEFAULT '{}',
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at DESC);
`

// ApplySchema creates the checkpoints table on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Store wraps a database for checkpoint operations.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Upsert writes the checkpoint, inserting on first call and updating
// in place afterwards. created_at is preserved across updates.
func (s *Store) Upsert(ctx context.Context, cp *Checkpoint) error {
	now := time.Now().UnixMilli()
	if cp.CreatedAt == 0 {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	if cp.OptionsJSON == "" {
		cp.OptionsJSON = "{}"
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, search_query, current_page,
		profiles_scraped, profiles_failed, error_count, status, options_json,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
		    search_query     = excluded.search_query,
		    current_page     = excluded.current_page,
		    profiles_scraped = excluded.profiles_scraped,
		    profiles_failed  = excluded.profiles_failed,
		    error_count      = excluded.error_count,
		    status           = excluded.status,
		    options_json     = excluded.options_json,
		    updated_at       = excluded.updated_at`,
		cp.SessionID, cp.SearchQuery, cp.CurrentPage,
		cp.ProfilesScraped, cp.ProfilesFailed, cp.ErrorCount, cp.Status, cp.OptionsJSON,
		cp.CreatedAt, cp.UpdatedAt,
	)
	return err
}

// Load retrieves a checkpoint by session id, or nil when absent.
func (s *Store) Load(ctx context.Context, sessionID string) (*Checkpoint, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT session_id, search_query, current_page, profiles_scraped,
		profiles_failed, error_count, status, options_json, created_at, updated_at
		FROM checkpoints WHERE session_id = ?`, sessionID)
	return scanCheckpoint(row)
}

// List returns all checkpoints, most recently updated first.
func (s *Store) List(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT session_id, search_query, current_page, profiles_scraped,
		profiles_failed, error_count, status, options_json, created_at, updated_at
		FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// Resumable returns the checkpoints whose sessions can be picked up.
func (s *Store) Resumable(ctx context.Context) ([]*Checkpoint, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT session_id, search_query, current_page, profiles_scraped,
		profiles_failed, error_count, status, options_json, created_at, updated_at
		FROM checkpoints WHERE status IN (?, ?) ORDER BY updated_at DESC`,
		StatusRunning, StatusPaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpointRows(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// MarkStatus updates only the status column. Used for terminal
// transitions where the rest of the snapshot is already current.
func (s *Store) MarkStatus(ctx context.Context, sessionID, status string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE checkpoints SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, time.Now().UnixMilli(), sessionID)
	return err
}

// Delete removes a checkpoint.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	return err
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(
		&cp.SessionID, &cp.SearchQuery, &cp.CurrentPage, &cp.ProfilesScraped,
		&cp.ProfilesFailed, &cp.ErrorCount, &cp.Status, &cp.OptionsJSON,
		&cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return &cp, nil
}

func scanCheckpointRows(rows *sql.Rows) (*Checkpoint, error) {
	var cp Checkpoint
	err := rows.Scan(
		&cp.SessionID, &cp.SearchQuery, &cp.CurrentPage, &cp.ProfilesScraped,
		&cp.ProfilesFailed, &cp.ErrorCount, &cp.Status, &cp.OptionsJSON,
		&cp.CreatedAt, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	return &cp, nil
}
