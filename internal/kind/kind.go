// Package kind defines the error taxonomy shared by every aird component.
// All public operations wrap underlying failures into one of these sentinel
// kinds before returning, so the route layer can map errors to HTTP results
// without inspecting OS error strings.
package kind

import "errors"

var (
	// ErrContainment marks a path that escapes the configured root or
	// traverses a symbolic link. Messages never include resolved
	// absolute paths.
	ErrContainment = errors.New("path outside the served root")

	// ErrNotFound marks a missing file or directory.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCredential marks a failed login or a session credential
	// that does not verify.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrIO marks an OS-level failure (permission, disk full, handle
	// errors) that is neither containment nor absence.
	ErrIO = errors.New("i/o failure")
)

// IsContainment reports whether err is (or wraps) ErrContainment.
func IsContainment(err error) bool { return errors.Is(err, ErrContainment) }

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidCredential reports whether err is (or wraps) ErrInvalidCredential.
func IsInvalidCredential(err error) bool { return errors.Is(err, ErrInvalidCredential) }
