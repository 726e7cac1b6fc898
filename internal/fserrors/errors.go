// Package fserrors defines the error taxonomy shared by every layer of the
// core: string table, directory tree, extents, xattrs, WAL, recovery, and
// the persistent layout. Callers compare with errors.Is; the pkg/errors
// wrapping carries diagnostics (which rule fired, which path) without being
// required for semantics.
package fserrors

import "github.com/pkg/errors"

// Sentinel errors matching the taxonomy in spec.md §7. Every failure
// surfaced by the core wraps one of these.
var (
	ErrNotFound         = errors.New("not found")
	ErrExists           = errors.New("already exists")
	ErrNotADirectory    = errors.New("not a directory")
	ErrIsADirectory     = errors.New("is a directory")
	ErrNotEmpty         = errors.New("directory not empty")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNameTooLong      = errors.New("name too long")
	ErrBadName          = errors.New("bad name")
	ErrBadNamespace     = errors.New("bad xattr namespace")
	ErrValueTooBig      = errors.New("value too big")
	ErrNoSpace          = errors.New("no space")
	ErrLockTimeout      = errors.New("lock timeout")
	ErrCorrupted        = errors.New("corrupted")
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrIoError          = errors.New("io error")

	// ErrParentFull, ErrNoCapacity, ErrTableFull and ErrNoLogSpace are
	// finer-grained conditions the facade and callers may want to
	// distinguish from the coarser taxonomy above; they wrap ErrNoSpace, so
	// errors.Is still matches it. ErrBufferTooSmall is a standalone sentinel
	// that wraps nothing.
	ErrParentFull     = errors.Wrap(ErrNoSpace, "parent directory full")
	ErrNoCapacity     = errors.Wrap(ErrNoSpace, "node array at capacity")
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrTableFull      = errors.Wrap(ErrNoSpace, "string table full")
	ErrNoLogSpace     = errors.Wrap(ErrNoSpace, "wal full")
)

// Wrap attaches a rule/path diagnostic to a sentinel without changing what
// errors.Is sees.
func Wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
