// Package upload decomposes multipart upload forms into contained write
// targets. Two shapes are accepted: a single "file" field uploaded into a
// "directory", and a "files" list carrying relative paths from a
// drag-and-dropped directory tree. All containment decisions defer to
// fsutil; nothing is written until the target path has been validated.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"

	"aird/internal/fsutil"
	"aird/internal/kind"
)

// Form field names, matching the browser UI.
const (
	FieldDirectory = "directory"
	FieldFile      = "file"
	FieldFiles     = "files"
)

// Saved reports one completed write.
type Saved struct {
	Path string `json:"path"` // logical path relative to root
	Size int64  `json:"size"`
}

// BatchError identifies which entry of a multi-file batch failed. Entries
// written before the failure stay on disk; there is no rollback.
type BatchError struct {
	RelPath string // the offending client-supplied relative path
	Index   int    // position within the batch
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upload entry %d (%s): %v", e.Index, e.RelPath, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Receiver writes uploads beneath a canonical root.
type Receiver struct {
	Root string
}

// Receive dispatches a parsed multipart form to the single- or multi-file
// path depending on which fields are present.
func (rc Receiver) Receive(form *multipart.Form) ([]Saved, error) {
	if form == nil {
		return nil, fmt.Errorf("%w: empty form", kind.ErrNotFound)
	}
	directory := ""
	if v := form.Value[FieldDirectory]; len(v) > 0 {
		directory = v[0]
	}
	if batch := form.File[FieldFiles]; len(batch) > 0 {
		return rc.Batch(directory, batch)
	}
	if single := form.File[FieldFile]; len(single) > 0 {
		s, err := rc.Single(directory, single[0])
		if err != nil {
			return nil, err
		}
		return []Saved{s}, nil
	}
	return nil, fmt.Errorf("%w: no file field", kind.ErrNotFound)
}

// Single writes one uploaded file into directory. The client-supplied
// filename is untrusted and is validated as a full logical path, so a name
// like "../../x" cannot climb out of the root.
func (rc Receiver) Single(directory string, fh *multipart.FileHeader) (Saved, error) {
	dirAbs, err := fsutil.ResolveForWrite(rc.Root, directory)
	if err != nil {
		return Saved{}, err
	}
	if err := os.MkdirAll(dirAbs, 0o755); err != nil {
		return Saved{}, fmt.Errorf("upload mkdir: %w", kind.ErrIO)
	}
	logical := fsutil.CleanRelPath(directory) + "/" + relPathOf(fh)
	abs, err := fsutil.ResolveForWrite(rc.Root, logical)
	if err != nil {
		return Saved{}, err
	}
	n, err := writeOne(abs, fh)
	if err != nil {
		return Saved{}, err
	}
	rel, _ := filepath.Rel(rc.Root, abs)
	return Saved{Path: filepath.ToSlash(rel), Size: n}, nil
}

// Batch writes a drag-and-drop tree into directory. Each entry's relative
// path must stay inside the resolved target directory itself, not merely
// inside the root: "../sibling/x" under root is still an escape from the
// chosen destination. The first violating entry aborts the batch with a
// BatchError naming it.
func (rc Receiver) Batch(directory string, fhs []*multipart.FileHeader) ([]Saved, error) {
	dirAbs, err := fsutil.ResolveForWrite(rc.Root, directory)
	if err != nil {
		return nil, err
	}
	// The destination must exist before per-entry resolution: each entry is
	// checked for containment relative to dirAbs itself.
	if err := os.MkdirAll(dirAbs, 0o755); err != nil {
		return nil, fmt.Errorf("upload mkdir: %w", kind.ErrIO)
	}
	saved := make([]Saved, 0, len(fhs))
	for i, fh := range fhs {
		relPath := relPathOf(fh)
		abs, err := fsutil.ResolveForWrite(dirAbs, relPath)
		if err != nil {
			return saved, &BatchError{RelPath: relPath, Index: i, Err: err}
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return saved, &BatchError{RelPath: relPath, Index: i, Err: fmt.Errorf("mkdir: %w", kind.ErrIO)}
		}
		n, err := writeOne(abs, fh)
		if err != nil {
			return saved, &BatchError{RelPath: relPath, Index: i, Err: err}
		}
		rel, _ := filepath.Rel(rc.Root, abs)
		saved = append(saved, Saved{Path: filepath.ToSlash(rel), Size: n})
	}
	return saved, nil
}

// relPathOf recovers the client-supplied filename with directory components
// intact. FileHeader.Filename has been through filepath.Base, which flattens
// a dropped directory tree, so the raw Content-Disposition parameter is the
// authoritative source.
func relPathOf(fh *multipart.FileHeader) string {
	if cd := fh.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	return fh.Filename
}

// writeOne copies the upload body into abs, overwriting any existing file.
func writeOne(abs string, fh *multipart.FileHeader) (int64, error) {
	src, err := fh.Open()
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", kind.ErrIO)
	}
	defer src.Close()
	dst, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, mapWrite(err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, mapWrite(err)
	}
	return n, nil
}

func mapWrite(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("upload target: %w", kind.ErrNotFound)
	}
	return fmt.Errorf("upload write: %w", kind.ErrIO)
}
