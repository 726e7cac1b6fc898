package fs

import "github.com/vorteil/nfs/internal/fserrors"

// Access bits for CheckAccess, matching the low three bits of a POSIX
// permission triad (read/write/execute).
const (
	AccessRead    = 0x4
	AccessWrite   = 0x2
	AccessExecute = 0x1
)

// CheckAccess reports whether mode's permission bits grant every bit set
// in want. Node carries no uid/gid (spec.md's data model has no owner
// concept — SPEC_FULL.md §5), so this checks against the "other" triad,
// the only one that applies uniformly regardless of caller identity.
func CheckAccess(mode uint16, want int) error {
	perm := int(mode & 0x7)
	if perm&want != want {
		return fserrors.Wrap(fserrors.ErrPermissionDenied, "mode %#o does not grant %#o", mode&0xFFF, want)
	}
	return nil
}

// CheckAccessPath resolves path and checks its permission bits against
// want, a convenience wrapper around Lookup+CheckAccess for callers that
// don't already hold the node's Attr; nothing in this module calls it.
//
// The facade's own operations (Create, Write, Unlink, SetMode, ...) do not
// call this: the root directory is spec-fixed at ModeDir|0755 (tree.New),
// whose "other" triad has no write bit, so enforcing CheckAccess against
// it on the facade's own mutating ops would make the facade unable to
// create anything under root or even chmod root to recover, with no
// owner identity to fall back to. DESIGN.md records this as a deferred
// decision: access enforcement belongs to the kernel/FUSE adapter that
// sits in front of this facade and knows the calling uid, which is why
// CheckAccess/CheckAccessPath are exported rather than unexported.
func (f *Facade) CheckAccessPath(path string, want int) error {
	attr, err := f.Lookup(path)
	if err != nil {
		return err
	}
	return CheckAccess(attr.Mode, want)
}
