// Package strtab implements the append-only, offset-addressable name store
// backing the directory tree (spec.md C1). It is grounded on the teacher
// pack's "grow a byte buffer, remember offsets" idiom used throughout
// pkg/ext4's compiler.go, generalized here with hash-based deduplication
// instead of ext4's fixed-layout metadata.
//
// Thread-safety is delegated to the owning tree's topology lock, per
// spec.md §4.1.
package strtab

import (
	"github.com/vorteil/nfs/internal/fserrors"
)

// Table is a monotonic buffer of NUL-terminated names addressed by byte
// offset. Offsets are stable for the table's lifetime: once intern returns
// an offset, that offset's name never changes.
type Table struct {
	buf     []byte
	index   map[string]uint32 // name -> offset, for dedup
	maxName int
	maxSize int64
}

// New creates an empty table enforcing maxNameLength and maxTableSize.
func New(maxNameLength int, maxTableSize int64) *Table {
	return &Table{
		buf:     make([]byte, 0, 4096),
		index:   make(map[string]uint32),
		maxName: maxNameLength,
		maxSize: maxTableSize,
	}
}

// Intern stores name if not already present and returns its offset.
// Idempotent: repeated calls with an equal name return an equal offset.
func (t *Table) Intern(name string) (uint32, error) {
	if len(name) == 0 {
		return 0, fserrors.Wrap(fserrors.ErrBadName, "empty name")
	}
	if len(name) > t.maxName {
		return 0, fserrors.Wrap(fserrors.ErrNameTooLong, "name %q exceeds %d bytes", name, t.maxName)
	}
	if off, ok := t.index[name]; ok {
		return off, nil
	}

	needed := int64(len(t.buf) + len(name) + 1)
	if needed > t.maxSize {
		return 0, fserrors.Wrap(fserrors.ErrTableFull, "table at %d bytes, cap %d", len(t.buf), t.maxSize)
	}

	off := uint32(len(t.buf))
	t.buf = append(t.buf, name...)
	t.buf = append(t.buf, 0)
	t.index[name] = off
	return off, nil
}

// Get returns a read-only view of the name stored at off.
func (t *Table) Get(off uint32) (string, error) {
	if int(off) >= len(t.buf) {
		return "", fserrors.Wrap(fserrors.ErrCorrupted, "string offset %d out of range", off)
	}
	end := off
	for end < uint32(len(t.buf)) && t.buf[end] != 0 {
		end++
	}
	if end >= uint32(len(t.buf)) {
		return "", fserrors.Wrap(fserrors.ErrCorrupted, "unterminated name at offset %d", off)
	}
	return string(t.buf[off:end]), nil
}

// Size returns the number of bytes currently stored.
func (t *Table) Size() int64 {
	return int64(len(t.buf))
}

// Bytes exposes the raw backing buffer, used by internal/layout when
// persisting the string-table section.
func (t *Table) Bytes() []byte {
	return t.buf
}

// LoadFrom rebuilds a table (including its dedup index) from raw bytes
// previously produced by Bytes, used when attaching a persisted layout.
func LoadFrom(raw []byte, maxNameLength int, maxTableSize int64) (*Table, error) {
	t := New(maxNameLength, maxTableSize)
	t.buf = append(t.buf[:0], raw...)
	start := 0
	for i, b := range t.buf {
		if b == 0 {
			name := string(t.buf[start:i])
			if name != "" {
				t.index[name] = uint32(start)
			}
			start = i + 1
		}
	}
	return t, nil
}
