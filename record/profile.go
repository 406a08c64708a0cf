// CLAUDE:SUMMARY Profile persistence: sanitize+convert sections to markdown, upsert by URL.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/moisson/candidate"
	"github.com/hazyhaar/moisson/dbopen"
)

// Profile is a stored profile detail record.
type Profile struct {
	ID        string
	SessionID string
	URL       string
	Name      string
	Markdown  string
	Fields    map[string]string
	FetchedAt int64
	CreatedAt int64
	UpdatedAt int64
}

// SaveProfile converts a scraped profile to markdown and upserts it by
// URL. A profile re-scraped in a later session replaces the stored
// content but keeps its row identity.
func (s *Store) SaveProfile(ctx context.Context, sessionID string, p *candidate.Profile) error {
	fields := make(map[string]string, len(p.Fields))
	for section, rawHTML := range p.Fields {
		fields[section] = s.conv.Markdown(rawHTML, p.URL, "")
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	doc := buildDocument(p.Name, fields)
	fetchedAt := p.FetchedAt
	if fetchedAt == 0 {
		fetchedAt = time.Now().UnixMilli()
	}
	now := time.Now().UnixMilli()

	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (id, session_id, url, name, markdown, fields_json, fetched_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET
			    session_id  = excluded.session_id,
			    name        = excluded.name,
			    markdown    = excluded.markdown,
			    fields_json = excluded.fields_json,
			    fetched_at  = excluded.fetched_at,
			    updated_at  = excluded.updated_at`,
			s.newID(), sessionID, p.URL, p.Name, doc, string(fieldsJSON), fetchedAt, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert profile %s: %w", p.URL, err)
		}
		return nil
	})
}

// buildDocument assembles the markdown document from converted
// sections, in stable alphabetical section order.
func buildDocument(name string, fields map[string]string) string {
	var b strings.Builder
	if name != "" {
		b.WriteString("# ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	sections := make([]string, 0, len(fields))
	for k := range fields {
		sections = append(sections, k)
	}
	sort.Strings(sections)
	for _, k := range sections {
		if fields[k] == "" {
			continue
		}
		b.WriteString("\n## ")
		b.WriteString(k)
		b.WriteString("\n\n")
		b.WriteString(fields[k])
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// GetProfileByURL retrieves a stored profile, or nil when absent.
func (s *Store) GetProfileByURL(ctx context.Context, url string) (*Profile, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, session_id, url, name, markdown, fields_json, fetched_at, created_at, updated_at
		FROM profiles WHERE url = ?`, url)
	return scanProfile(row)
}

// ListProfiles returns a session's profiles, most recently fetched first.
func (s *Store) ListProfiles(ctx context.Context, sessionID string, limit int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, url, name, markdown, fields_json, fetched_at, created_at, updated_at
		FROM profiles WHERE session_id = ? ORDER BY fetched_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfileRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountProfiles returns the number of distinct profiles saved for a
// session.
func (s *Store) CountProfiles(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ProfileURLs returns every profile URL saved for a session. Resume
// uses this to rebuild the scraped set.
func (s *Store) ProfileURLs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url FROM profiles WHERE session_id = ?`, sessionID)
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

func scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var fieldsJSON string
	err := row.Scan(&p.ID, &p.SessionID, &p.URL, &p.Name, &p.Markdown,
		&fieldsJSON, &p.FetchedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return &p, nil
}

func scanProfileRows(rows *sql.Rows) (*Profile, error) {
	var p Profile
	var fieldsJSON string
	err := rows.Scan(&p.ID, &p.SessionID, &p.URL, &p.Name, &p.Markdown,
		&fieldsJSON, &p.FetchedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return &p, nil
}
