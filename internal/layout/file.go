package layout

import (
	"os"
	"time"

	"github.com/vorteil/nfs/internal/corelog"
	"github.com/vorteil/nfs/internal/fserrors"
	"golang.org/x/sys/unix"
)

// Sizing knobs for a new layout file. The header occupies a fixed
// headerSize block; everything after it is laid out in the order
// string-table, inode-table, extent-directory, xattr-pool, data, WAL.
type Sizing struct {
	StringTableSize int64
	InodeTableSlots int64 // each slot is InodeRecordSize bytes
	ExtentDirSize   int64 // per-inode extent-list directory, rewritten wholesale each checkpoint
	XattrPoolSize   int64 // xattr entry+value pool, rewritten wholesale each checkpoint
	DataSize        int64 // block-addressed file-data region
	WALSize         int64
}

// File is a memory-mapped persistent layout file (spec.md C10).
type File struct {
	path   string
	fh     *os.File
	data   []byte // mmap'd region covering the whole file
	hdr    Header
	log    corelog.Logger
}

func sectionOffsets(s Sizing) (stringOff, inodeOff, extentDirOff, xattrPoolOff, dataOff, walOff, total int64) {
	stringOff = int64(headerSize)
	inodeOff = stringOff + s.StringTableSize
	extentDirOff = inodeOff + s.InodeTableSlots*int64(InodeRecordSize)
	xattrPoolOff = extentDirOff + s.ExtentDirSize
	dataOff = xattrPoolOff + s.XattrPoolSize
	walOff = dataOff + s.DataSize
	total = walOff + s.WALSize
	return
}

// Create makes a brand-new layout file at path, sized per s, with its
// header written and every other section zero-filled. It writes no inode
// records: the root directory record (inode 1; ino 0 is reserved to mark a
// free slot per spec.md invariant 4) is written by the first SaveState,
// which fs.Mount performs right after creating the file.
//
// Creation follows the teacher pack's attach-or-create idiom (seen in
// other_examples' slotcache): write to a temp path, fsync, then atomically
// rename into place, so a crash during creation never leaves a
// half-written file at the real path.
func Create(path string, s Sizing) (*File, error) {
	stringOff, inodeOff, extentDirOff, xattrPoolOff, dataOff, walOff, total := sectionOffsets(s)

	tmp := path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrIoError, "creating %q: %v", tmp, err)
	}
	if err := fh.Truncate(total); err != nil {
		fh.Close()
		os.Remove(tmp)
		return nil, fserrors.Wrap(fserrors.ErrIoError, "truncating %q: %v", tmp, err)
	}

	hdr := NewHeader(uint64(time.Now().Unix()), uint64(stringOff), uint64(s.StringTableSize),
		uint64(inodeOff), uint64(s.InodeTableSlots*int64(InodeRecordSize)),
		uint64(extentDirOff), uint64(s.ExtentDirSize),
		uint64(xattrPoolOff), uint64(s.XattrPoolSize),
		uint64(dataOff), uint64(s.DataSize), uint64(walOff), uint64(s.WALSize))

	if _, err := fh.WriteAt(hdr.Encode(), 0); err != nil {
		fh.Close()
		os.Remove(tmp)
		return nil, fserrors.Wrap(fserrors.ErrIoError, "writing header to %q: %v", tmp, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		os.Remove(tmp)
		return nil, fserrors.Wrap(fserrors.ErrIoError, "fsyncing %q: %v", tmp, err)
	}
	fh.Close()

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fserrors.Wrap(fserrors.ErrIoError, "renaming %q into place: %v", tmp, err)
	}

	return Attach(path)
}

// Attach opens an existing layout file, maps it, and validates the
// header. An invalid header fails mount outright (spec.md §4.9) — it is
// never silently reformatted.
func Attach(path string) (*File, error) {
	fh, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ErrIoError, "opening %q: %v", path, err)
	}

	stat, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, fserrors.Wrap(fserrors.ErrIoError, "stat %q: %v", path, err)
	}

	data, err := unix.Mmap(int(fh.Fd()), 0, int(stat.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		fh.Close()
		return nil, fserrors.Wrap(fserrors.ErrIoError, "mmap %q: %v", path, err)
	}

	hdr, err := DecodeHeader(data)
	if err != nil {
		unix.Munmap(data)
		fh.Close()
		return nil, err
	}

	return &File{
		path: path,
		fh:   fh,
		data: data,
		hdr:  hdr,
		log:  corelog.New("layout"),
	}, nil
}

// Exists reports whether a layout file is present at path (used to decide
// attach-vs-create on mount, spec.md §4.9).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Header returns a copy of the current header.
func (f *File) Header() Header { return f.hdr }

// StringTableBytes / InodeTableBytes / DataBytes / WALBytes return direct
// slices into the mmap'd regions for each section, so callers can read or
// write in place without an intermediate copy.
func (f *File) StringTableBytes() []byte {
	return f.data[f.hdr.StringTableOffset : f.hdr.StringTableOffset+f.hdr.StringTableSize]
}
func (f *File) InodeTableBytes() []byte {
	return f.data[f.hdr.InodeTableOffset : f.hdr.InodeTableOffset+f.hdr.InodeTableSize]
}
func (f *File) ExtentDirBytes() []byte {
	return f.data[f.hdr.ExtentDirOffset : f.hdr.ExtentDirOffset+f.hdr.ExtentDirSize]
}
func (f *File) XattrPoolBytes() []byte {
	return f.data[f.hdr.XattrPoolOffset : f.hdr.XattrPoolOffset+f.hdr.XattrPoolSize]
}
func (f *File) DataBytes() []byte {
	return f.data[f.hdr.DataOffset : f.hdr.DataOffset+f.hdr.DataSize]
}
func (f *File) WALBytes() []byte {
	return f.data[f.hdr.WALOffset : f.hdr.WALOffset+f.hdr.WALSize]
}

// WriteHeader re-stamps the header block, e.g. after NextInode advances.
func (f *File) WriteHeader(h Header) {
	f.hdr = h
	copy(f.data[:headerSize], h.Encode())
}

// Msync flushes the byte range [offset, offset+length) to stable storage,
// implementing internal/wal.Sink so every WAL append is durable before it
// is observable through a subsequent fsync (spec.md §5).
func (f *File) Msync(offset, length int) error {
	if offset < 0 || length <= 0 || offset+length > len(f.data) {
		return fserrors.Wrap(fserrors.ErrIoError, "msync range [%d,%d) out of bounds", offset, offset+length)
	}
	// msync operates on whole pages; round down/up to the page boundary.
	const pageSize = 4096
	start := (offset / pageSize) * pageSize
	end := offset + length
	if rem := end % pageSize; rem != 0 {
		end += pageSize - rem
	}
	if end > len(f.data) {
		end = len(f.data)
	}
	return unix.Msync(f.data[start:end], unix.MS_SYNC)
}

// Sync flushes the entire mapped region.
func (f *File) Sync() error {
	return unix.Msync(f.data, unix.MS_SYNC)
}

// Close unmaps and closes the underlying file.
func (f *File) Close() error {
	if err := unix.Munmap(f.data); err != nil {
		return fserrors.Wrap(fserrors.ErrIoError, "munmap: %v", err)
	}
	return f.fh.Close()
}
