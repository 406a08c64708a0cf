// CLAUDE:SUMMARY Candidate row upserts keyed by URL; re-saving a page is a no-op for existing rows.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/moisson/candidate"
	"github.com/hazyhaar/moisson/dbopen"
)

// Candidate is a stored listing result.
type Candidate struct {
	ID        string
	SessionID string
	URL       string
	Name      string
	Headline  string
	Location  string
	Snippet   string
	Page      int
	CreatedAt int64
	UpdatedAt int64
}

// UpsertCandidates saves listing results in one transaction, keyed by
// URL. Existing rows get refreshed fields but keep their id and
// created_at. Returns how many rows were newly inserted, which is zero
// when a page is re-extracted after resume.
func (s *Store) UpsertCandidates(ctx context.Context, sessionID string, cands []candidate.Candidate) (int, error) {
	if len(cands) == 0 {
		return 0, nil
	}
	now := time.Now().UnixMilli()
	added := 0

	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		added = 0
		for _, c := range cands {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM candidates WHERE url = ?`, c.URL).Scan(&exists); err != nil {
				return fmt.Errorf("check candidate: %w", err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO candidates (id, session_id, url, name, headline, location, snippet, page, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(url) DO UPDATE SET
				    session_id = excluded.session_id,
				    name       = excluded.name,
				    headline   = excluded.headline,
				    location   = excluded.location,
				    snippet    = excluded.snippet,
				    page       = excluded.page,
				    updated_at = excluded.updated_at`,
				s.newID(), sessionID, c.URL, c.Name, c.Headline, c.Location, c.Snippet, c.Page, now, now,
			)
			if err != nil {
				return fmt.Errorf("upsert candidate %s: %w", c.URL, err)
			}
			if exists == 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// ListCandidates returns a session's candidates in page order.
func (s *Store) ListCandidates(ctx context.Context, sessionID string, limit int) ([]*Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, url, name, headline, location, snippet, page, created_at, updated_at
		FROM candidates WHERE session_id = ? ORDER BY page ASC, created_at ASC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.SessionID, &c.URL, &c.Name, &c.Headline,
			&c.Location, &c.Snippet, &c.Page, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CountCandidates returns the number of distinct candidates saved for
// a session.
func (s *Store) CountCandidates(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidates WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// CandidateURLs returns every candidate URL recorded for a session.
// Resume uses this to rebuild the discovered set.
func (s *Store) CandidateURLs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url FROM candidates WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
