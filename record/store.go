// Package record is the results repository: listing candidates, full
// profiles converted to markdown, and the fetch attempt log.
//
// All writes are keyed by canonical profile URL and upserted, so
// re-processing a page after resume cannot duplicate rows. Profile
// HTML is sanitized and converted to markdown before storage; raw
// HTML never reaches the database.
package record

import (
	"database/sql"
	"log/slog"

	"github.com/hazyhaar/moisson/idgen"
)

// Store wraps the results database.
type Store struct {
	DB     *sql.DB
	newID  idgen.Generator
	conv   *Converter
	logger *slog.Logger
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		DB:     db,
		newID:  idgen.New,
		conv:   NewConverter(),
		logger: logger,
	}
}
