package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/canonical/docsearch/internal/extract"
	"github.com/canonical/docsearch/internal/manual"
)

// Indexer abstracts index writes so the importer does not depend on a
// specific search implementation.
type Indexer interface {
	Upsert(ctx context.Context, doc Document) error
	DeleteManual(ctx context.Context, m manual.Manual) (DeleteResult, error)
	RegisterManual(ctx context.Context, m manual.Manual, fingerprint string) error
	ManualFingerprint(ctx context.Context, slug string) (string, error)
	Close() error
}

// Document is one section of one manual page as stored in the index.
// Versions lists every manual version the identical section appears in.
type Document struct {
	ID             string   `json:"id"`
	ManualTitle    string   `json:"manual_title"`
	ManualType     string   `json:"manual_type"`
	ManualVersions []string `json:"manual_version"`
	ManualLanguage string   `json:"manual_language"`
	ManualSlug     string   `json:"manual_slug"`
	RelativeURL    string   `json:"relative_url"`
	Fragment       string   `json:"fragment"`
	SnippetTitle   string   `json:"snippet_title"`
	SnippetContent string   `json:"snippet_content"`
	ContentHash    string   `json:"content_hash"`
}

// NewDocument builds the document for section s found at relativeURL in m.
// Identical content at the same place in another version of the manual
// yields the same ID, so versions share one stored document.
func NewDocument(m manual.Manual, relativeURL string, s extract.Section) Document {
	contentHash := hashHex(s.Title + s.Content)
	return Document{
		ID:             hashHex(m.Title+relativeURL+contentHash) + s.Fragment,
		ManualTitle:    m.Title,
		ManualType:     m.Type.String(),
		ManualVersions: []string{m.Version},
		ManualLanguage: m.Language,
		ManualSlug:     m.Slug,
		RelativeURL:    relativeURL,
		Fragment:       s.Fragment,
		SnippetTitle:   s.Title,
		SnippetContent: s.Content,
		ContentHash:    contentHash,
	}
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DeleteResult reports the outcome of removing one manual version.
type DeleteResult struct {
	// Deleted counts documents whose last version was removed.
	Deleted int64
	// Updated counts documents kept because other versions still share them.
	Updated int64
}

// Constraints selects documents for ad hoc removal. Empty fields do not
// constrain the selection.
type Constraints struct {
	Slug     string
	Version  string
	Type     string
	Language string
}

func (c Constraints) IsEmpty() bool {
	return c == Constraints{}
}
