// CLAUDE:SUMMARY Applies the harvest results schema including the profiles FTS5 index and sync triggers.
package record

import "database/sql"

// Schema is the results schema: listing candidates, full profiles with
// FTS5, and the per-fetch attempt log.
const Schema = `
-- Listing results (one row per distinct profile URL)
CREATE TABLE IF NOT EXISTS candidates (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    url         TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    headline    TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    snippet     TEXT NOT NULL DEFAULT '',
    page        INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_candidates_session ON candidates(session_id, page);

-- Scraped profile details, markdown-converted
CREATE TABLE IF NOT EXISTS profiles (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    url         TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    markdown    TEXT NOT NULL DEFAULT '',
    fields_json TEXT NOT NULL DEFAULT '{}',
    fetched_at  INTEGER NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_session ON profiles(session_id);

-- FTS5 on profiles (name + markdown)
CREATE VIRTUAL TABLE IF NOT EXISTS profiles_fts USING fts5(
    name, markdown, content='profiles', content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);

-- Triggers to keep FTS5 in sync
CREATE TRIGGER IF NOT EXISTS profiles_ai AFTER INSERT ON profiles BEGIN
    INSERT INTO profiles_fts(rowid, name, markdown) VALUES (new.rowid, new.name, new.markdown);
END;
CREATE TRIGGER IF NOT EXISTS profiles_ad AFTER DELETE ON profiles BEGIN
    INSERT INTO profiles_fts(profiles_fts, rowid, name, markdown) VALUES('delete', old.rowid, old.name, old.markdown);
END;
CREATE TRIGGER IF NOT EXISTS profiles_au AFTER UPDATE ON profiles BEGIN
    INSERT INTO profiles_fts(profiles_fts, rowid, name, markdown) VALUES('delete', old.rowid, old.name, old.markdown);
    INSERT INTO profiles_fts(rowid, name, markdown) VALUES (new.rowid, new.name, new.markdown);
END;

-- Fetch attempt log (observability)
CREATE TABLE IF NOT EXISTS fetch_attempts (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    url           TEXT NOT NULL,
    status        TEXT NOT NULL,
    status_code   INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_attempts_session ON fetch_attempts(session_id, fetched_at DESC);
`

// ApplySchema creates all tables, the FTS index and its triggers.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
