// Package layout implements the memory-mapped persistent layout of
// spec.md C10: a single file holding a magic-versioned header, the
// string-table section, the inode-table section, the extent-directory
// section, the xattr-pool section, the file-data section, and the WAL
// section, attached or created following the same
// O_CREAT|O_EXCL-tmp-file-then-rename discipline as the pack's
// other_examples slotcache (1d851c96_calvinalkan-agent-task), adapted
// from raw syscall onto golang.org/x/sys/unix (the same package
// hanwen-go-fuse and distr1-distri reach for to do mmap/msync).
package layout

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/vorteil/nfs/internal/fserrors"
)

// Magic identifies a persistent layout file.
const Magic = 0x53465650 // "PVFS" packed little-endian-ish

// VersionMajor/VersionMinor are the current on-disk format version.
// A major mismatch fails mount outright (spec.md §4.9); a minor mismatch
// is acceptable so long as forward-compatible fields are zero-filled.
const (
	VersionMajor = 1
	VersionMinor = 0
)

const headerSize = 4 + 2 + 2 + 8 + 4 + 16 + 12*8 + 4 + 148

// Header is the first block of a persistent layout file (spec.md §3/§6).
type Header struct {
	Magic        uint32
	VersionMajor uint16
	VersionMinor uint16
	CreatedAt    uint64
	NextInode    uint32
	InstanceID   [16]byte

	StringTableOffset uint64
	StringTableSize   uint64
	InodeTableOffset  uint64
	InodeTableSize    uint64
	ExtentDirOffset   uint64
	ExtentDirSize     uint64
	XattrPoolOffset   uint64
	XattrPoolSize     uint64
	DataOffset        uint64
	DataSize          uint64
	WALOffset         uint64
	WALSize           uint64

	FileCRC  uint32
	Reserved [148]byte
}

// NewHeader builds a fresh header for a newly created file, stamping a
// random instance id that identifies the file; nothing in the core reads
// it back.
func NewHeader(now uint64, stringTableOff, stringTableSize, inodeTableOff, inodeTableSize,
	extentDirOff, extentDirSize, xattrPoolOff, xattrPoolSize, dataOff, dataSize, walOff, walSize uint64) Header {
	id, _ := uuid.NewRandom()
	var raw [16]byte
	copy(raw[:], id[:])
	return Header{
		Magic:             Magic,
		VersionMajor:      VersionMajor,
		VersionMinor:      VersionMinor,
		CreatedAt:         now,
		NextInode:         1,
		InstanceID:        raw,
		StringTableOffset: stringTableOff,
		StringTableSize:   stringTableSize,
		InodeTableOffset:  inodeTableOff,
		InodeTableSize:    inodeTableSize,
		ExtentDirOffset:   extentDirOff,
		ExtentDirSize:     extentDirSize,
		XattrPoolOffset:   xattrPoolOff,
		XattrPoolSize:     xattrPoolSize,
		DataOffset:        dataOff,
		DataSize:          dataSize,
		WALOffset:         walOff,
		WALSize:           walSize,
	}
}

// Encode serializes h with its whole-header CRC-32 computed over every
// other field.
func (h Header) Encode() []byte {
	h.FileCRC = 0
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h)
	h.FileCRC = crc32.ChecksumIEEE(buf.Bytes())
	buf.Reset()
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// DecodeHeader validates and parses a header block. A CRC or magic
// mismatch fails mount outright per spec.md §4.9/§7 — it is never
// silently reformatted.
func DecodeHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < headerSize {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "short layout header: %d bytes", len(raw))
	}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &h); err != nil {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "decoding layout header: %v", err)
	}
	if h.Magic != Magic {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "bad layout magic")
	}
	want := h.FileCRC
	check := h
	check.FileCRC = 0
	cbuf := new(bytes.Buffer)
	binary.Write(cbuf, binary.LittleEndian, check)
	if crc32.ChecksumIEEE(cbuf.Bytes()) != want {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "layout header CRC mismatch")
	}
	if h.VersionMajor != VersionMajor {
		return h, fserrors.Wrap(fserrors.ErrVersionMismatch, "layout major version %d != supported %d", h.VersionMajor, VersionMajor)
	}
	return h, nil
}

// InodeRecordSize is the fixed on-disk size of InodeRecord (spec.md §6).
const InodeRecordSize = 8 + 8 + 4 + 2 + 2 + 8 + 8 + 4 + 4 + 4

// InodeRecord is one persisted directory-tree node, addressed by inode
// number (not array index — indices never survive a restart, per the
// glossary's "Node index" entry).
type InodeRecord struct {
	Inode       uint64
	ParentInode uint64
	NameOffset  uint32
	Mode        uint16
	Flags       uint16
	Size        uint64
	Timestamp   uint64
	DataOffset  uint32
	DataSize    uint32
	RecordCRC   uint32
}

// Encode serializes r with its per-record CRC-32.
func (r InodeRecord) Encode() []byte {
	r.RecordCRC = 0
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, r)
	r.RecordCRC = crc32.ChecksumIEEE(buf.Bytes())
	buf.Reset()
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

// DecodeInodeRecord parses and validates one inode record.
func DecodeInodeRecord(raw []byte) (InodeRecord, error) {
	var r InodeRecord
	if len(raw) < InodeRecordSize {
		return r, fserrors.Wrap(fserrors.ErrCorrupted, "short inode record")
	}
	if err := binary.Read(bytes.NewReader(raw[:InodeRecordSize]), binary.LittleEndian, &r); err != nil {
		return r, fserrors.Wrap(fserrors.ErrCorrupted, "decoding inode record: %v", err)
	}
	want := r.RecordCRC
	check := r
	check.RecordCRC = 0
	cbuf := new(bytes.Buffer)
	binary.Write(cbuf, binary.LittleEndian, check)
	if crc32.ChecksumIEEE(cbuf.Bytes()) != want {
		return r, fserrors.Wrap(fserrors.ErrCorrupted, "inode record CRC mismatch for inode %d", r.Inode)
	}
	return r, nil
}
