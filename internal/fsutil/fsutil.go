// Package fsutil resolves untrusted, client-supplied paths against the served
// root. Every other component goes through Resolve or ResolveForWrite before
// touching the filesystem.
package fsutil

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"aird/internal/kind"
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// safe, slash-based, no-leading-slash relative path ("" means root).
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Resolve canonicalizes rootAbs+logical and returns the absolute on-disk path
// iff it exists and sits at or under rootAbs with no symlink anywhere in its
// resolution chain. rootAbs must itself be canonical (filepath.EvalSymlinks
// applied once at startup).
//
// The containment test is separator-aware, so a sibling like "/data-evil"
// never passes for root "/data".
func Resolve(rootAbs, logical string) (string, error) {
	joined, err := join(rootAbs, logical)
	if err != nil {
		return "", err
	}
	// EvalSymlinks resolves every intermediate link and fails on absence,
	// so a successful return is fully canonical.
	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", kind.ErrNotFound, CleanRelPath(logical))
		}
		return "", fmt.Errorf("resolve: %w", kind.ErrIO)
	}
	if !contained(rootAbs, real) {
		return "", kind.ErrContainment
	}
	// The canonical path cannot itself be a link, but the lexically joined
	// one can: a final-component symlink must not be dereferenced and
	// served as if it were the link's own location.
	if isSymlink(joined) {
		return "", kind.ErrContainment
	}
	return real, nil
}

// ResolveForWrite is Resolve for targets that may not exist yet (uploads,
// rename destinations). The deepest existing ancestor is canonicalized and
// checked for containment; the not-yet-existing suffix is then re-appended.
// The suffix carries no ".." segments because join cleans the logical path
// before splitting.
func ResolveForWrite(rootAbs, logical string) (string, error) {
	joined, err := join(rootAbs, logical)
	if err != nil {
		return "", err
	}
	base := joined
	var suffix []string
	for {
		real, err := filepath.EvalSymlinks(base)
		if err == nil {
			if !contained(rootAbs, real) {
				return "", kind.ErrContainment
			}
			if len(suffix) == 0 && isSymlink(base) {
				return "", kind.ErrContainment
			}
			// Re-append the missing components in original order.
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve: %w", kind.ErrIO)
		}
		parent := filepath.Dir(base)
		if parent == base {
			// Walked off the top without finding anything existing;
			// the root itself is gone.
			return "", fmt.Errorf("resolve: %w", kind.ErrIO)
		}
		suffix = append(suffix, filepath.Base(base))
		base = parent
	}
}

// join produces the cleaned lexical join of rootAbs and logical. A logical
// path whose ".." segments climb out of root fails here, before any
// filesystem access; interior ".." that stays inside root is fine because
// only the final location matters.
func join(rootAbs, logical string) (string, error) {
	logical = strings.TrimSpace(logical)
	if strings.Contains(logical, "\x00") {
		return "", kind.ErrContainment
	}
	logical = strings.ReplaceAll(logical, "\\", "/")
	logical = strings.TrimPrefix(logical, "/")
	joined := filepath.Join(rootAbs, filepath.FromSlash(logical))
	if !contained(rootAbs, joined) {
		return "", kind.ErrContainment
	}
	return joined, nil
}

func contained(rootAbs, p string) bool {
	root := filepath.Clean(rootAbs)
	p = filepath.Clean(p)
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}

func isSymlink(p string) bool {
	fi, err := os.Lstat(p)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}
