package importer

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/canonical/docsearch/internal/manual"
)

// findHTMLFiles lists the pages of m in lexical order. Hidden folders are
// skipped, as is the changelog folder of manuals that carry changelog
// sub-manuals.
func findHTMLFiles(m manual.Manual) ([]HTMLFile, error) {
	var files []HTMLFile
	err := filepath.WalkDir(m.AbsolutePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == m.AbsolutePath {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if m.HasSubManuals() && filepath.Dir(path) == m.AbsolutePath && d.Name() == manual.ChangelogDir {
				return filepath.SkipDir
			}
			return nil
		}
		lower := strings.ToLower(d.Name())
		if !strings.HasSuffix(lower, ".html") && !strings.HasSuffix(lower, ".html.gz") {
			return nil
		}

		rel, err := filepath.Rel(m.AbsolutePath, path)
		if err != nil {
			return fmt.Errorf("rel path: %w", err)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		files = append(files, HTMLFile{
			Path:        path,
			RelativeURL: strings.TrimSuffix(filepath.ToSlash(rel), ".gz"),
			Size:        info.Size(),
			ModTime:     info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", m.AbsolutePath, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelativeURL < files[j].RelativeURL })
	return files, nil
}

// fingerprint identifies the listed state of a manual's files.
func fingerprint(files []HTMLFile) string {
	h := sha256.New()
	for _, f := range files {
		_, _ = io.WriteString(h, f.RelativeURL+"\x00"+strconv.FormatInt(f.Size, 10)+"\x00"+strconv.FormatInt(f.ModTime, 10)+"\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// readHTML returns the content of path, decompressing ".gz" files.
func readHTML(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer func() { _ = file.Close() }()

	var r io.Reader = file
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return "", fmt.Errorf("read gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return string(data), nil
}
