package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrBackendUnavailable wraps failures to open or reach the index database.
var ErrBackendUnavailable = errors.New("search backend unavailable")

// schema is applied on every open. Every statement is idempotent so the
// index survives restarts and incremental imports.
//
// manual_version holds a JSON array used as a set. sections_fts mirrors the
// searchable text of sections; updates that only touch manual_version do
// not rewrite the full-text index.
const schema = `
CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	manual_title TEXT NOT NULL,
	manual_type TEXT NOT NULL,
	manual_version TEXT NOT NULL CHECK (json_valid(manual_version)),
	manual_language TEXT NOT NULL,
	manual_slug TEXT NOT NULL,
	relative_url TEXT NOT NULL,
	fragment TEXT NOT NULL DEFAULT '',
	snippet_title TEXT NOT NULL,
	snippet_content TEXT NOT NULL,
	content_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS sections_manual
	ON sections (manual_title, manual_type, manual_language);

CREATE VIRTUAL TABLE IF NOT EXISTS sections_fts USING fts5(
	snippet_title, snippet_content, manual_title,
	content='sections',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS sections_ai AFTER INSERT ON sections BEGIN
	INSERT INTO sections_fts(rowid, snippet_title, snippet_content, manual_title)
	VALUES (new.rowid, new.snippet_title, new.snippet_content, new.manual_title);
END;

CREATE TRIGGER IF NOT EXISTS sections_ad AFTER DELETE ON sections BEGIN
	INSERT INTO sections_fts(sections_fts, rowid, snippet_title, snippet_content, manual_title)
	VALUES ('delete', old.rowid, old.snippet_title, old.snippet_content, old.manual_title);
END;

CREATE TRIGGER IF NOT EXISTS sections_au AFTER UPDATE OF snippet_title, snippet_content, manual_title ON sections BEGIN
	INSERT INTO sections_fts(sections_fts, rowid, snippet_title, snippet_content, manual_title)
	VALUES ('delete', old.rowid, old.snippet_title, old.snippet_content, old.manual_title);
	INSERT INTO sections_fts(rowid, snippet_title, snippet_content, manual_title)
	VALUES (new.rowid, new.snippet_title, new.snippet_content, new.manual_title);
END;

CREATE TABLE IF NOT EXISTS manuals (
	slug TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	type TEXT NOT NULL,
	version TEXT NOT NULL,
	language TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT ''
);
`

// dsn enables WAL and a busy timeout on every pooled connection. Write
// transactions take the RESERVED lock up front so concurrent importers
// queue instead of failing on lock upgrade.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open search db: %v", ErrBackendUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping search db: %v", ErrBackendUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}
