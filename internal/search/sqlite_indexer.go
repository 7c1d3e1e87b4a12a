package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/canonical/docsearch/internal/manual"
	"github.com/canonical/docsearch/internal/metrics"
)

// upsertQuery creates the document with a one-element version set, or adds
// the incoming version to the set of an existing document. It is a single
// statement so concurrent imports of different versions cannot drop each
// other's version.
const upsertQuery = `
INSERT INTO sections (
	id, manual_title, manual_type, manual_version, manual_language, manual_slug,
	relative_url, fragment, snippet_title, snippet_content, content_hash
) VALUES (?, ?, ?, json_array(?), ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET manual_version = CASE
	WHEN EXISTS (
		SELECT 1 FROM json_each(sections.manual_version)
		WHERE value = json_extract(excluded.manual_version, '$[0]')
	) THEN sections.manual_version
	ELSE json_insert(sections.manual_version, '$[#]', json_extract(excluded.manual_version, '$[0]'))
END`

const (
	manualSelector  = `manual_title = ? AND manual_type = ? AND manual_language = ?`
	containsVersion = `EXISTS (SELECT 1 FROM json_each(sections.manual_version) WHERE value = ?)`
)

type SQLiteIndexer struct {
	db         *sql.DB
	upsertStmt *sql.Stmt
	metrics    *metrics.Metrics
}

// NewSQLiteIndexer opens (and creates if needed) the index at path.
func NewSQLiteIndexer(ctx context.Context, path string, m *metrics.Metrics) (*SQLiteIndexer, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}

	stmt, err := db.PrepareContext(ctx, upsertQuery)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}

	return &SQLiteIndexer{
		db:         db,
		upsertStmt: stmt,
		metrics:    m,
	}, nil
}

// Upsert stores doc. Only the first entry of doc.ManualVersions is used.
func (s *SQLiteIndexer) Upsert(ctx context.Context, doc Document) error {
	if len(doc.ManualVersions) == 0 {
		return fmt.Errorf("upsert %s: document has no version", doc.ID)
	}
	_, err := s.upsertStmt.ExecContext(ctx,
		doc.ID, doc.ManualTitle, doc.ManualType, doc.ManualVersions[0], doc.ManualLanguage,
		doc.ManualSlug, doc.RelativeURL, doc.Fragment, doc.SnippetTitle, doc.SnippetContent,
		doc.ContentHash,
	)
	s.metrics.RecordIndexOperation("upsert", err)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteManual removes the version of m from every document of m. Documents
// left without a version are deleted, the others are kept.
func (s *SQLiteIndexer) DeleteManual(ctx context.Context, m manual.Manual) (DeleteResult, error) {
	res, err := s.deleteManual(ctx, m)
	s.metrics.RecordIndexOperation("delete_manual", err)
	if err != nil {
		return DeleteResult{}, err
	}
	s.metrics.RecordDeletion(res.Deleted, res.Updated)
	return res, nil
}

func (s *SQLiteIndexer) deleteManual(ctx context.Context, m manual.Manual) (DeleteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selector := []any{m.Title, m.Type.String(), m.Language, m.Version}

	deleted, err := tx.ExecContext(ctx,
		`DELETE FROM sections WHERE `+manualSelector+` AND `+containsVersion+`
		   AND json_array_length(sections.manual_version) = 1`,
		selector...)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete sections: %w", err)
	}

	updated, err := tx.ExecContext(ctx,
		`UPDATE sections SET manual_version = (
			SELECT json_group_array(value) FROM json_each(sections.manual_version) WHERE value <> ?
		) WHERE `+manualSelector+` AND `+containsVersion,
		append([]any{m.Version}, selector...)...)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("update sections: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM manuals WHERE slug = ?`, m.Slug); err != nil {
		return DeleteResult{}, fmt.Errorf("unregister manual: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DeleteResult{}, fmt.Errorf("commit delete: %w", err)
	}

	var res DeleteResult
	res.Deleted, _ = deleted.RowsAffected()
	res.Updated, _ = updated.RowsAffected()
	return res, nil
}

// DeleteByConstraints removes every document matching c regardless of the
// other versions sharing it and returns the number removed. Matching
// manuals are unregistered.
func (s *SQLiteIndexer) DeleteByConstraints(ctx context.Context, c Constraints) (int64, error) {
	var where []string
	var args []any
	var manualWhere []string
	var manualArgs []any
	if c.Slug != "" {
		where = append(where, "manual_slug = ?")
		args = append(args, c.Slug)
		manualWhere = append(manualWhere, "slug = ?")
		manualArgs = append(manualArgs, c.Slug)
	}
	if c.Version != "" {
		where = append(where, containsVersion)
		args = append(args, c.Version)
		manualWhere = append(manualWhere, "version = ?")
		manualArgs = append(manualArgs, c.Version)
	}
	if c.Type != "" {
		where = append(where, "manual_type = ?")
		args = append(args, c.Type)
		manualWhere = append(manualWhere, "type = ?")
		manualArgs = append(manualArgs, c.Type)
	}
	if c.Language != "" {
		where = append(where, "manual_language = ?")
		args = append(args, c.Language)
		manualWhere = append(manualWhere, "language = ?")
		manualArgs = append(manualArgs, c.Language)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM sections`+whereClause(where), args...)
	if err != nil {
		s.metrics.RecordIndexOperation("delete_constraints", err)
		return 0, fmt.Errorf("delete sections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM manuals`+whereClause(manualWhere), manualArgs...); err != nil {
		s.metrics.RecordIndexOperation("delete_constraints", err)
		return 0, fmt.Errorf("unregister manuals: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.metrics.RecordIndexOperation("delete_constraints", err)
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	s.metrics.RecordIndexOperation("delete_constraints", nil)

	removed, _ := res.RowsAffected()
	s.metrics.RecordDeletion(removed, 0)
	return removed, nil
}

// RegisterManual records m so searches can resolve the latest version and
// the slug of each manual. fingerprint identifies the imported content.
func (s *SQLiteIndexer) RegisterManual(ctx context.Context, m manual.Manual, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manuals (slug, title, type, version, language, fingerprint) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET title = excluded.title, type = excluded.type,
		   version = excluded.version, language = excluded.language, fingerprint = excluded.fingerprint`,
		m.Slug, m.Title, m.Type.String(), m.Version, m.Language, fingerprint)
	s.metrics.RecordIndexOperation("register_manual", err)
	if err != nil {
		return fmt.Errorf("register manual %s: %w", m.Slug, err)
	}
	return nil
}

// ManualFingerprint returns the fingerprint slug was registered with, or
// an empty string for unknown manuals.
func (s *SQLiteIndexer) ManualFingerprint(ctx context.Context, slug string) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint FROM manuals WHERE slug = ?`, slug).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read fingerprint of %s: %w", slug, err)
	}
	return fp, nil
}

// Get returns the stored document with id.
func (s *SQLiteIndexer) Get(ctx context.Context, id string) (Document, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM sections s WHERE s.id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, true, nil
}

// Count returns the number of stored documents.
func (s *SQLiteIndexer) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *SQLiteIndexer) Close() error {
	_ = s.upsertStmt.Close()
	return s.db.Close()
}

const documentColumns = `s.id, s.manual_title, s.manual_type, s.manual_version, s.manual_language,
	s.manual_slug, s.relative_url, s.fragment, s.snippet_title, s.snippet_content, s.content_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var versions string
	if err := row.Scan(&doc.ID, &doc.ManualTitle, &doc.ManualType, &versions, &doc.ManualLanguage,
		&doc.ManualSlug, &doc.RelativeURL, &doc.Fragment, &doc.SnippetTitle, &doc.SnippetContent,
		&doc.ContentHash); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal([]byte(versions), &doc.ManualVersions); err != nil {
		return Document{}, fmt.Errorf("decode versions of %s: %w", doc.ID, err)
	}
	return doc, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
