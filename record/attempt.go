package record

import (
	"context"
	"time"

	"github.com/hazyhaar/moisson/candidate"
)

// Attempt is one logged fetch attempt.
type Attempt struct {
	ID         string
	SessionID  string
	URL        string
	Status     string
	StatusCode int
	ErrorMsg   string
	DurationMS int64
	FetchedAt  int64
}

// LogAttempt records the outcome of a profile fetch. Failures here are
// logged, not returned; the attempt log is observability, not state.
func (s *Store) LogAttempt(ctx context.Context, sessionID string, out *candidate.FetchOutcome) {
	status := "ok"
	switch {
	case out.LoginRedirect:
		status = "login"
	case out.Blocked:
		status = "blocked"
	case !out.Success:
		status = "failed"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO fetch_attempts (id, session_id, url, status, status_code, error_message, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.newID(), sessionID, out.URL, status, out.Status, out.Err, out.RequestMS, time.Now().UnixMilli(),
	)
	if err != nil {
		s.logger.Warn("record: attempt log failed", "url", out.URL, "error", err)
	}
}

// RecentAttempts returns a session's latest fetch attempts.
func (s *Store) RecentAttempts(ctx context.Context, sessionID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, url, status, status_code, error_message, duration_ms, fetched_at
		FROM fetch_attempts WHERE session_id = ? ORDER BY fetched_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.URL, &a.Status, &a.StatusCode,
			&a.ErrorMsg, &a.DurationMS, &a.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
