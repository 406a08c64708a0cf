// Package taskq is the durable profile-URL task queue backing the
// detail-fetch phase, one logical queue per harvest session.
//
// Lifecycle of a task: pending → processing → completed | failed.
// Failed tasks keep their attempt count and stay eligible for a retry
// pass while attempts < MaxAttempts. Processing rows left behind by a
// crash are reclaimed to pending on resume, which is what makes the
// whole pipeline at-least-once rather than exactly-once.
//
// Schema (created by EnsureTable):
//
//	CREATE TABLE IF NOT EXISTS harvest_tasks (
//	    session_id  TEXT NOT NULL,
//	    url         TEXT NOT NULL,
//	    status      TEXT NOT NULL DEFAULT 'pending',
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    last_error  TEXT NOT NULL DEFAULT '',
//	    created_at  INTEGER NOT NULL,
//	    updated_at  INTEGER NOT NULL,
//	    PRIMARY KEY (session_id, url)
//	);
package taskq

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Status is a task's lifecycle position.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one profile URL in a session's queue.
type Task struct {
	SessionID string
	URL       string
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Options configures queue behaviour.
type Options struct {
	// MaxAttempts bounds redelivery. A failed task with
	// attempts >= MaxAttempts is no longer retry-eligible. Default: 3.
	MaxAttempts int
	// StaleAfter is how long a processing row may sit untouched before
	// ReclaimStale treats its holder as dead. Default: 10m.
	StaleAfter time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the harvest_tasks table and index if absent.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS harvest_tasks (
			session_id  TEXT NOT NULL,
			url         TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (session_id, url)
		);
		CREATE INDEX IF NOT EXISTS idx_harvest_tasks_status ON harvest_tasks (session_id, status, updated_at);
	`)
	return err
}

// Enqueue inserts URLs as pending tasks. Already-known URLs (whatever
// their status) are ignored, so re-enqueueing a page after resume is a
// no-op. Returns the number of newly added tasks.
func (q *Q) Enqueue(ctx context.Context, sessionID string, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	added := 0
	for _, u := range urls {
		res, err := q.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO harvest_tasks (session_id, url, status, created_at, updated_at)
			 VALUES (?, ?, 'pending', ?, ?)`,
			sessionID, u, now, now,
		)
		if err != nil {
			return added, fmt.Errorf("taskq: enqueue %s: %w", u, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// Claim atomically moves up to n pending tasks to processing and
// returns them, oldest first. Attempts are counted at claim time.
// Returns an empty (non-nil) slice when nothing is pending.
func (q *Q) Claim(ctx context.Context, sessionID string, n int) ([]*Task, error) {
	now := time.Now().UnixMilli()
	rows, err := q.db.QueryContext(ctx, `
		UPDATE harvest_tasks
		SET status = 'processing', attempts = attempts + 1, updated_at = ?
		WHERE rowid IN (
			SELECT rowid FROM harvest_tasks
			WHERE session_id = ? AND status = 'pending'
			ORDER BY created_at ASC
			LIMIT ?
		)
		RETURNING session_id, url, status, attempts, last_error, created_at, updated_at`,
		now, sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("taskq: claim: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Complete marks a processing task done.
func (q *Q) Complete(ctx context.Context, sessionID, url string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE harvest_tasks SET status = 'completed', last_error = '', updated_at = ?
		 WHERE session_id = ? AND url = ?`,
		time.Now().UnixMilli(), sessionID, url,
	)
	return err
}

// Fail marks a processing task failed and records why. The task stays
// retry-eligible while its attempt count is below MaxAttempts.
func (q *Q) Fail(ctx context.Context, sessionID, url, cause string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE harvest_tasks SET status = 'failed', last_error = ?, updated_at = ?
		 WHERE session_id = ? AND url = ?`,
		cause, time.Now().UnixMilli(), sessionID, url,
	)
	return err
}

// Release puts a claimed task back to pending and undoes the claim's
// attempt increment; used when a chunk is cancelled before the task
// was actually tried.
func (q *Q) Release(ctx context.Context, sessionID, url string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE harvest_tasks SET status = 'pending', attempts = attempts - 1, updated_at = ?
		 WHERE session_id = ? AND url = ? AND status = 'processing'`,
		time.Now().UnixMilli(), sessionID, url,
	)
	return err
}

// ResetFailed moves retry-eligible failed tasks back to pending and
// returns how many it reset. This is the entry point of the batch
// "retry failed" pass.
func (q *Q) ResetFailed(ctx context.Context, sessionID string) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE harvest_tasks SET status = 'pending', updated_at = ?
		 WHERE session_id = ? AND status = 'failed' AND attempts < ?`,
		time.Now().UnixMilli(), sessionID, q.opts.MaxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("taskq: reset failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReclaimStale returns processing rows whose holder looks dead back to
// pending. Called once on resume, before the first claim.
func (q *Q) ReclaimStale(ctx context.Context, sessionID string) (int, error) {
	cutoff := time.Now().Add(-q.opts.StaleAfter).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`UPDATE harvest_tasks SET status = 'pending', updated_at = ?
		 WHERE session_id = ? AND status = 'processing' AND updated_at < ?`,
		time.Now().UnixMilli(), sessionID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("taskq: reclaim stale: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.opts.Logger.Info("taskq: reclaimed stale tasks", "session", sessionID, "count", n)
	}
	return int(n), nil
}

// Counts returns the number of tasks per status for a session.
func (q *Q) Counts(ctx context.Context, sessionID string) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM harvest_tasks WHERE session_id = ? GROUP BY status`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

// Purge deletes every task of a session. Used by checkpoint cleanup.
func (q *Q) Purge(ctx context.Context, sessionID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM harvest_tasks WHERE session_id = ?`, sessionID,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	var status string
	var creAt, updAt int64
	if err := r.Scan(&t.SessionID, &t.URL, &status, &t.Attempts, &t.LastError, &creAt, &updAt); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.CreatedAt = time.UnixMilli(creAt)
	t.UpdatedAt = time.UnixMilli(updAt)
	return &t, nil
}
