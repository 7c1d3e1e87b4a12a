// Package importer feeds rendered manuals into the search index.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/canonical/docsearch/internal/extract"
	"github.com/canonical/docsearch/internal/manual"
	"github.com/canonical/docsearch/internal/metrics"
	"github.com/canonical/docsearch/internal/search"
)

// Runner imports manuals one at a time and, within a manual, one file at a
// time. A manual is re-imported by first removing its version from the
// index, so running an import twice is harmless.
type Runner struct {
	Indexer     search.Indexer
	Extractor   *extract.Extractor
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	FailuresDir string
	// Force re-imports manuals whose files did not change since the last
	// import.
	Force bool

	statuses []ManualStatus
	failures []string
}

// Statuses returns the progress of every manual handled by the last run.
func (r *Runner) Statuses() []ManualStatus {
	return append([]ManualStatus(nil), r.statuses...)
}

// Failures returns the failure messages recorded by the last run.
func (r *Runner) Failures() []string {
	return append([]string(nil), r.failures...)
}

// RunPaths resolves every folder below root and imports the manuals found.
// Folders that do not follow the manual layout are recorded as failures and
// skipped.
func (r *Runner) RunPaths(ctx context.Context, root string, folders []string) error {
	var manuals []manual.Manual
	for _, folder := range folders {
		m, err := manual.Parse(folder, root)
		if err != nil {
			r.recordFailure(nil, "manual", folder, err)
			continue
		}
		manuals = append(manuals, m)
	}
	return r.Run(ctx, manuals)
}

// Run imports manuals and their changelog sub-manuals. It stops at the
// first index error.
func (r *Runner) Run(ctx context.Context, manuals []manual.Manual) error {
	if r.Indexer == nil || r.Extractor == nil {
		return errors.New("import runner missing dependencies")
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}

	for _, m := range manuals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runManual(ctx, m); err != nil {
			return err
		}
	}

	if len(r.failures) > 0 {
		r.Logger.Warn("import completed with failures", "count", len(r.failures))
	}
	return nil
}

func (r *Runner) runManual(ctx context.Context, m manual.Manual) error {
	err := r.importManual(ctx, m)
	r.Metrics.RecordImportManual(err)
	if err != nil {
		return fmt.Errorf("import %s: %w", m.Slug, err)
	}

	subs, err := m.SubManuals()
	if err != nil {
		r.recordFailure(nil, "changelog", m.Slug, err)
		return nil
	}
	for _, sub := range subs {
		if err := r.runManual(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) importManual(ctx context.Context, m manual.Manual) error {
	r.statuses = append(r.statuses, ManualStatus{Slug: m.Slug, Stage: "waiting"})
	status := &r.statuses[len(r.statuses)-1]

	if r.FailuresDir != "" {
		status.FailuresPath = filepath.Join(r.FailuresDir, strings.ReplaceAll(m.Slug, "/", "_")+"-failures.log")
		// Create the failure log up front so users can tail it during processing.
		_ = os.MkdirAll(r.FailuresDir, 0o755)
		_ = os.WriteFile(status.FailuresPath, nil, 0o644)
	}

	files, err := findHTMLFiles(m)
	if err != nil {
		status.Stage = "error"
		return err
	}
	fp := fingerprint(files)

	if !r.Force {
		previous, err := r.Indexer.ManualFingerprint(ctx, m.Slug)
		if err != nil {
			status.Stage = "error"
			return err
		}
		if previous == fp {
			r.Logger.Debug("skipping unchanged manual", "manual", m.Slug)
			status.Stage = "skipped"
			return nil
		}
	}

	r.Logger.Info("importing manual", "manual", m.Slug, "type", m.Type, "files", len(files))

	status.Stage = "deleting"
	res, err := r.Indexer.DeleteManual(ctx, m)
	if err != nil {
		status.Stage = "error"
		return err
	}
	status.Deleted, status.Updated = res.Deleted, res.Updated

	status.Stage = "processing"
	status.Total = len(files)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			status.Stage = "error"
			return err
		}
		n, err := r.processFile(ctx, m, file)
		r.Metrics.RecordImportFile(err)
		if err != nil {
			var fe *FileError
			if !errors.As(err, &fe) {
				status.Stage = "error"
				return err
			}
			r.recordFailure(status, "file", fe.Path, fe.Err)
		}
		status.Sections += n
		status.Done++
	}

	if err := r.Indexer.RegisterManual(ctx, m, fp); err != nil {
		status.Stage = "error"
		return err
	}

	status.Stage = "done"
	r.Logger.Info("manual done", "manual", m.Slug, "files", status.Total,
		"sections", status.Sections, "errors", status.Errors,
		"removed", status.Deleted, "kept", status.Updated)
	return nil
}

// processFile indexes every section of file and returns how many were
// stored. Read failures are returned as *FileError.
func (r *Runner) processFile(ctx context.Context, m manual.Manual, file HTMLFile) (int, error) {
	r.Logger.Debug("processing", "manual", m.Slug, "file", file.RelativeURL)

	content, err := readHTML(file.Path)
	if err != nil {
		return 0, &FileError{Path: file.Path, Err: err}
	}

	sections := r.Extractor.Extract(content)
	for _, s := range sections {
		doc := search.NewDocument(m, file.RelativeURL, s)
		if err := r.Indexer.Upsert(ctx, doc); err != nil {
			return 0, err
		}
	}
	return len(sections), nil
}

func (r *Runner) recordFailure(status *ManualStatus, stage string, path string, err error) {
	message := strings.TrimSpace(fmt.Sprintf("%s %s: %v", stage, path, err))
	r.failures = append(r.failures, message)

	if status != nil {
		status.Errors++
		// Append to the failure log immediately so users can tail it.
		if status.FailuresPath != "" {
			f, ferr := os.OpenFile(status.FailuresPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if ferr == nil {
				_, _ = fmt.Fprintln(f, message)
				_ = f.Close()
			}
		}
	}

	if r.Logger != nil {
		r.Logger.Warn("import failure", "stage", stage, "path", path, "error", err)
	}
}
