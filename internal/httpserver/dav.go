package httpserver

import (
	"context"
	"io/fs"
	"os"

	"golang.org/x/net/webdav"

	"aird/internal/fsutil"
	"aird/internal/kind"
)

// davFS adapts the served root to webdav.FileSystem with the same
// containment rules as every HTTP route: webdav.Dir would follow a
// symlink out of the root, so every operation resolves through fsutil
// instead.
type davFS struct {
	root string
}

func (d davFS) resolve(name string) (string, error) {
	abs, err := fsutil.Resolve(d.root, name)
	if err != nil {
		return "", davError(name, err)
	}
	return abs, nil
}

func (d davFS) resolveWrite(name string) (string, error) {
	abs, err := fsutil.ResolveForWrite(d.root, name)
	if err != nil {
		return "", davError(name, err)
	}
	return abs, nil
}

func (d davFS) Mkdir(_ context.Context, name string, perm os.FileMode) error {
	abs, err := d.resolveWrite(name)
	if err != nil {
		return err
	}
	return os.Mkdir(abs, perm)
}

func (d davFS) OpenFile(_ context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	var abs string
	var err error
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
		abs, err = d.resolveWrite(name)
	} else {
		abs, err = d.resolve(name)
	}
	if err != nil {
		return nil, err
	}
	return os.OpenFile(abs, flag, perm)
}

func (d davFS) RemoveAll(_ context.Context, name string) error {
	abs, err := d.resolve(name)
	if err != nil {
		return err
	}
	if abs == d.root {
		return davError(name, kind.ErrContainment)
	}
	return os.RemoveAll(abs)
}

func (d davFS) Rename(_ context.Context, oldName, newName string) error {
	src, err := d.resolve(oldName)
	if err != nil {
		return err
	}
	if src == d.root {
		return davError(oldName, kind.ErrContainment)
	}
	dst, err := d.resolveWrite(newName)
	if err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (d davFS) Stat(_ context.Context, name string) (os.FileInfo, error) {
	abs, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// davError folds taxonomy errors into fs errors the webdav handler maps to
// sensible statuses (permission -> 403, not-exist -> 404). The logical name
// is safe to carry; absolute paths are not.
func davError(name string, err error) error {
	switch {
	case kind.IsContainment(err):
		return &fs.PathError{Op: "dav", Path: name, Err: fs.ErrPermission}
	case kind.IsNotFound(err):
		return &fs.PathError{Op: "dav", Path: name, Err: fs.ErrNotExist}
	default:
		return err
	}
}
