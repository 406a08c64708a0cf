// CLAUDE:SUMMARY FTS5 BM25 search over stored profiles with operator-stripped queries.
package record

import (
	"context"
	"fmt"
	"strings"
)

// SearchResult is one FTS5 hit.
type SearchResult struct {
	ProfileID string
	URL       string
	Name      string
	Markdown  string
	Rank      float64
}

// SearchProfiles performs a full-text search over stored profiles.
func (s *Store) SearchProfiles(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	ftsQuery := sanitizeFTS5(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT p.id, p.url, p.name, p.markdown, rank
		FROM profiles_fts f
		JOIN profiles p ON p.rowid = f.rowid
		WHERE profiles_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ProfileID, &r.URL, &r.Name, &r.Markdown, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// sanitizeFTS5 strips characters that FTS5 interprets as syntax operators.
func sanitizeFTS5(q string) string {
	var b strings.Builder
	for _, r := range q {
		switch r {
		case '"', '*', '(', ')', '+', '-', '^', ':', ',', '{', '}', '!', '~', '?':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
