// Package manual derives the identity of a documentation manual from the
// folder layout rendered manuals are published in:
//
//	<type-code>/<vendor>/<name>/<version>/<language>
//	<type-code>/<vendor>/<name>/_/<language>/Changelog/<version>
//
// The second form describes changelog sub-manuals, which live below the
// "main" version of a core manual.
package manual

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidPath is returned when a folder does not match either layout.
var ErrInvalidPath = errors.New("invalid manual path")

// ChangelogDir is the folder below a core manual holding changelog
// sub-manuals, one folder per version.
const ChangelogDir = "Changelog"

// Type is the kind of documentation a manual contains.
type Type string

const (
	SystemExtension    Type = "system extension"
	CommunityExtension Type = "community extension"
	CoreManual         Type = "core manual"
	CoreChangelog      Type = "core changelog"
	DocsHome           Type = "docs home"
	ExceptionReference Type = "exception reference"
)

var typeCodes = map[string]Type{
	"c":         SystemExtension,
	"p":         CommunityExtension,
	"m":         CoreManual,
	"changelog": CoreChangelog,
	"h":         DocsHome,
	"e":         ExceptionReference,
}

// TypeFromCode maps a folder type code to its display name. Unknown codes
// are returned verbatim.
func TypeFromCode(code string) Type {
	if t, ok := typeCodes[code]; ok {
		return t
	}
	return Type(code)
}

func (t Type) String() string { return string(t) }

// Manual identifies one versioned, localized documentation unit.
type Manual struct {
	AbsolutePath string
	Title        string // vendor/name
	Type         Type
	Version      string
	Language     string
	Slug         string // cleaned folder path relative to the docs root
}

// Parse resolves the manual stored in folderPath below root.
func Parse(folderPath, root string) (Manual, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(folderPath))
	if err != nil {
		return Manual{}, fmt.Errorf("%w: %s: %v", ErrInvalidPath, folderPath, err)
	}
	return parse(filepath.Clean(folderPath), filepath.ToSlash(rel))
}

func parse(absPath, rel string) (Manual, error) {
	rel = strings.Trim(path.Clean(rel), "/")
	parts := strings.Split(rel, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return Manual{}, fmt.Errorf("%w: %q", ErrInvalidPath, rel)
		}
	}

	m := Manual{AbsolutePath: absPath, Slug: rel}
	switch len(parts) {
	case 5:
		m.Type = TypeFromCode(parts[0])
		m.Title = parts[1] + "/" + parts[2]
		m.Version = parts[3]
		m.Language = parts[4]
	case 7:
		m.Type = CoreChangelog
		m.Title = parts[1] + "/" + parts[2] + "-changelog"
		m.Language = parts[4]
		m.Version = parts[6]
	default:
		return Manual{}, fmt.Errorf("%w: %q has %d segments, want 5 or 7", ErrInvalidPath, rel, len(parts))
	}
	return m, nil
}

// HasSubManuals reports whether changelog sub-manuals may live below m.
func (m Manual) HasSubManuals() bool {
	return m.Type == CoreManual && m.Version == "main"
}

// SubManuals returns one changelog manual per folder below
// <AbsolutePath>/Changelog. Manuals without sub-manuals return nil.
func (m Manual) SubManuals() ([]Manual, error) {
	if !m.HasSubManuals() {
		return nil, nil
	}
	dir := filepath.Join(m.AbsolutePath, ChangelogDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read changelog dir: %w", err)
	}

	var subs []Manual
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		sub, err := parse(filepath.Join(dir, e.Name()), path.Join(m.Slug, ChangelogDir, e.Name()))
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// manualDepth is the number of folder levels between the docs root and a
// manual folder.
const manualDepth = 5

// Discover lists every manual folder below root. Each optional prefix
// segment pins the folder chosen at that level, so "c/typo3" restricts the
// walk to the typo3 system extensions. Levels are expanded one at a time
// rather than recursively; manuals are returned sorted by slug.
func Discover(root string, prefix string) ([]Manual, error) {
	var pinned []string
	if p := strings.Trim(path.Clean("/"+filepath.ToSlash(prefix)), "/"); p != "" {
		pinned = strings.Split(p, "/")
	}
	if len(pinned) > manualDepth {
		return nil, fmt.Errorf("%w: prefix %q is deeper than a manual", ErrInvalidPath, prefix)
	}

	level := []string{""}
	for depth := 0; depth < manualDepth; depth++ {
		var next []string
		for _, rel := range level {
			if depth < len(pinned) {
				candidate := path.Join(rel, pinned[depth])
				if isDir(filepath.Join(root, filepath.FromSlash(candidate))) {
					next = append(next, candidate)
				}
				continue
			}
			entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", filepath.Join(root, rel), err)
			}
			for _, e := range entries {
				if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
					continue
				}
				next = append(next, path.Join(rel, e.Name()))
			}
		}
		level = next
	}

	sort.Strings(level)
	manuals := make([]Manual, 0, len(level))
	for _, rel := range level {
		m, err := parse(filepath.Join(root, filepath.FromSlash(rel)), rel)
		if err != nil {
			return nil, err
		}
		manuals = append(manuals, m)
	}
	return manuals, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
