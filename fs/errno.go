package fs

import (
	"github.com/pkg/errors"
	"github.com/vorteil/nfs/internal/fserrors"
	"golang.org/x/sys/unix"
)

// ToErrno translates a fserrors sentinel into the POSIX errno a caller
// embedding this facade behind a real mount (e.g. FUSE) would return,
// grounded on hanwen-go-fuse's nodefs.ToErrno — the same "compare against
// each sentinel with errors.Is, fall back to EIO" shape (spec.md §7).
func ToErrno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, fserrors.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, fserrors.ErrExists):
		return unix.EEXIST
	case errors.Is(err, fserrors.ErrNotADirectory):
		return unix.ENOTDIR
	case errors.Is(err, fserrors.ErrIsADirectory):
		return unix.EISDIR
	case errors.Is(err, fserrors.ErrNotEmpty):
		return unix.ENOTEMPTY
	case errors.Is(err, fserrors.ErrPermissionDenied):
		return unix.EACCES
	case errors.Is(err, fserrors.ErrNameTooLong):
		return unix.ENAMETOOLONG
	case errors.Is(err, fserrors.ErrBadName):
		return unix.EINVAL
	case errors.Is(err, fserrors.ErrBadNamespace):
		return unix.EOPNOTSUPP
	case errors.Is(err, fserrors.ErrValueTooBig):
		return unix.E2BIG
	case errors.Is(err, fserrors.ErrBufferTooSmall):
		return unix.ERANGE
	case errors.Is(err, fserrors.ErrNoSpace):
		return unix.ENOSPC
	case errors.Is(err, fserrors.ErrLockTimeout):
		return unix.ETIMEDOUT
	case errors.Is(err, fserrors.ErrCorrupted):
		return unix.EIO
	case errors.Is(err, fserrors.ErrVersionMismatch):
		return unix.EIO
	case errors.Is(err, fserrors.ErrIoError):
		return unix.EIO
	default:
		return unix.EIO
	}
}
