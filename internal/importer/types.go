package importer

import "fmt"

// HTMLFile is one rendered page of a manual.
type HTMLFile struct {
	Path        string
	RelativeURL string // slash-separated path below the manual folder
	Size        int64
	ModTime     int64
}

// ManualStatus represents the progress of a single manual import.
type ManualStatus struct {
	Slug         string
	Stage        string // "waiting", "deleting", "processing", "skipped", "done", "error"
	Total        int
	Done         int
	Sections     int
	Errors       int
	Deleted      int64
	Updated      int64
	FailuresPath string
}

// FileError wraps a failure to read or parse one file so callers can tell
// it apart from index failures, which abort the import.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("file %s: %v", e.Path, e.Err) }
func (e *FileError) Unwrap() error { return e.Err }
