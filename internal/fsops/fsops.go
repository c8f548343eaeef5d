// Package fsops implements the filesystem operations the route layer exposes:
// listing, read, write, delete, rename. Every operation resolves its logical
// path through fsutil before touching the disk and maps failures onto the
// kind taxonomy.
package fsops

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"aird/internal/fsutil"
	"aird/internal/kind"
)

// Entry describes one child of a listed directory.
type Entry struct {
	Name    string `json:"name"`
	IsDir   bool   `json:"isDir"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
}

// Ops performs root-contained filesystem operations. Root must be canonical
// (config.Finalize). Ops is stateless and safe for concurrent use.
type Ops struct {
	Root string
}

// Resolve exposes the containment check for callers that only need the
// resolved path (tail sessions, downloads served via http.ServeContent).
func (o Ops) Resolve(logical string) (string, error) {
	return fsutil.Resolve(o.Root, logical)
}

// List returns the direct children of the directory at logical, sorted by
// name in ascending byte order. No recursion.
func (o Ops) List(logical string) ([]Entry, error) {
	abs, err := fsutil.Resolve(o.Root, logical)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, mapOS(err, logical)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", kind.ErrNotFound, fsutil.CleanRelPath(logical))
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return nil, mapOS(err, logical)
	}
	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		it := Entry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			it.Size = info.Size()
			it.ModTime = info.ModTime().Unix()
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadFileBytes returns the raw contents of the regular file at logical.
func (o Ops) ReadFileBytes(logical string) ([]byte, error) {
	abs, err := o.resolveRegular(logical)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, mapOS(err, logical)
	}
	return b, nil
}

// ReadFileText returns the file contents decoded as UTF-8 text, replacing
// undecodable byte sequences with U+FFFD instead of failing.
func (o Ops) ReadFileText(logical string) (string, error) {
	b, err := o.ReadFileBytes(logical)
	if err != nil {
		return "", err
	}
	if utf8.Valid(b) {
		return string(b), nil
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// WriteFile creates or overwrites the file at logical with the contents of r,
// creating intermediate directories as needed. The target need not exist.
func (o Ops) WriteFile(logical string, r io.Reader) (int64, error) {
	abs, err := fsutil.ResolveForWrite(o.Root, logical)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, mapOS(err, logical)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, mapOS(err, logical)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, mapOS(err, logical)
	}
	return n, nil
}

// Delete removes the file at logical, or the directory and everything
// beneath it. The target must exist.
func (o Ops) Delete(logical string) error {
	abs, err := fsutil.Resolve(o.Root, logical)
	if err != nil {
		return err
	}
	if abs == o.Root {
		// Deleting the root itself would take the whole share down.
		return kind.ErrContainment
	}
	st, err := os.Stat(abs)
	if err != nil {
		return mapOS(err, logical)
	}
	if st.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return mapOS(err, logical)
	}
	return nil
}

// Rename gives the entry at logical a new name inside its own parent
// directory. newName is validated as a full logical path, so a crafted name
// carrying separators or ".." cannot relocate the entry.
func (o Ops) Rename(logical, newName string) error {
	src, err := fsutil.Resolve(o.Root, logical)
	if err != nil {
		return err
	}
	if src == o.Root {
		return kind.ErrContainment
	}
	dstLogical := path.Join(path.Dir(fsutil.CleanRelPath(logical)), newName)
	dst, err := fsutil.ResolveForWrite(o.Root, dstLogical)
	if err != nil {
		return err
	}
	if filepath.Dir(dst) != filepath.Dir(src) {
		// newName smuggled in separators; rename never crosses directories.
		return kind.ErrContainment
	}
	if err := os.Rename(src, dst); err != nil {
		return mapOS(err, logical)
	}
	return nil
}

// MkdirAll creates the directory at logical and any missing parents.
// Idempotent.
func (o Ops) MkdirAll(logical string) error {
	abs, err := fsutil.ResolveForWrite(o.Root, logical)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return mapOS(err, logical)
	}
	return nil
}

func (o Ops) resolveRegular(logical string) (string, error) {
	abs, err := fsutil.Resolve(o.Root, logical)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", mapOS(err, logical)
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("%w: not a regular file: %s", kind.ErrNotFound, fsutil.CleanRelPath(logical))
	}
	return abs, nil
}

// mapOS folds an OS error into the taxonomy without leaking absolute paths.
func mapOS(err error, logical string) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", kind.ErrNotFound, fsutil.CleanRelPath(logical))
	}
	return fmt.Errorf("%s: %w", fsutil.CleanRelPath(logical), kind.ErrIO)
}
