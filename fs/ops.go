package fs

import (
	"github.com/vorteil/nfs/internal/compress"
	"github.com/vorteil/nfs/internal/extent"
	"github.com/vorteil/nfs/internal/fserrors"
	"github.com/vorteil/nfs/internal/tree"
	"github.com/vorteil/nfs/internal/wal"
	"github.com/vorteil/nfs/internal/xattr"
)

// Lookup resolves an absolute path to its attributes (spec.md §4.2/§6).
func (f *Facade) Lookup(path string) (Attr, error) {
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return Attr{}, err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return Attr{}, err
	}
	return toAttr(n), nil
}

// GetAttr is Lookup under another name, kept distinct because a FUSE-style
// caller addresses getattr by an already-resolved handle in the general
// case; here both take a path since no handle table exists yet.
func (f *Facade) GetAttr(path string) (Attr, error) { return f.Lookup(path) }

// Readdir lists the children of a directory in child-slot order (spec.md
// §4.2: insertion order, not sorted — matching the packed array's layout).
func (f *Facade) Readdir(path string) ([]DirEntry, error) {
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return nil, err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, fserrors.ErrNotADirectory
	}
	children, err := f.tree.Children(idx)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(children))
	for _, ci := range children {
		cn, err := f.tree.Node(ci)
		if err != nil {
			continue
		}
		name, err := f.tree.Name(ci)
		if err != nil {
			continue
		}
		out = append(out, DirEntry{Name: name, Attr: toAttr(cn)})
	}
	return out, nil
}

func (f *Facade) beginLoggedOp() (uint64, error) {
	return f.log.BeginTx()
}

func (f *Facade) commitLoggedOp(tx uint64, op wal.OpKind) {
	if err := f.log.CommitTx(tx); err != nil {
		f.lg.Warnf("commit tx %d failed: %v", tx, err)
		return
	}
	f.ring.Record(tx, op, f.log.HeaderSnapshot().NextLSN)
}

// create is the shared implementation of Create/Mkdir: insert a node,
// then durably log it. Since ApplyInsert is existence-checked (idempotent)
// redo never double-inserts, the mutation is applied before the log
// record is written.
func (f *Facade) create(path string, mode uint16) (Attr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentPath, name, err := tree.SplitPath(path)
	if err != nil {
		return Attr{}, err
	}
	parentIdx, err := f.tree.PathLookup(parentPath)
	if err != nil {
		return Attr{}, err
	}
	parent, err := f.tree.Node(parentIdx)
	if err != nil {
		return Attr{}, err
	}

	idx, err := f.tree.InsertAt(parentIdx, name, mode, 0)
	if err != nil {
		return Attr{}, err
	}
	node, err := f.tree.Node(idx)
	if err != nil {
		return Attr{}, err
	}

	tx, err := f.beginLoggedOp()
	if err != nil {
		f.tree.Delete(idx)
		return Attr{}, err
	}
	payload := wal.EncodeInsert(wal.InsertPayload{Parent: parent.Inode, Inode: node.Inode, Mode: mode, Name: name})
	if err := f.log.LogInsert(tx, payload); err != nil {
		f.log.AbortTx(tx)
		f.tree.Delete(idx)
		return Attr{}, err
	}
	f.commitLoggedOp(tx, wal.OpInsert)
	return toAttr(node), nil
}

// Create makes a new regular file at path (spec.md §6).
func (f *Facade) Create(path string, mode uint16) (Attr, error) {
	return f.create(path, (mode&tree.ModePermMask)|tree.ModeRegular)
}

// Mkdir makes a new directory at path.
func (f *Facade) Mkdir(path string, mode uint16) (Attr, error) {
	return f.create(path, (mode&tree.ModePermMask)|tree.ModeDir)
}

// Symlink makes a new symlink at path whose target is stored as the file's
// content, following the usual POSIX convention.
func (f *Facade) Symlink(path, target string) (Attr, error) {
	attr, err := f.create(path, 0777|tree.ModeSymlink)
	if err != nil {
		return Attr{}, err
	}
	if err := f.Write(path, 0, []byte(target)); err != nil {
		return Attr{}, err
	}
	return f.Lookup(path)
}

func (f *Facade) remove(path string, wantDir bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parentPath, name, err := tree.SplitPath(path)
	if err != nil {
		return err
	}
	parentIdx, err := f.tree.PathLookup(parentPath)
	if err != nil {
		return err
	}
	parent, err := f.tree.Node(parentIdx)
	if err != nil {
		return err
	}
	idx, err := f.tree.FindChild(parentIdx, name)
	if err != nil {
		return err
	}
	node, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	if wantDir && !node.IsDir() {
		return fserrors.ErrNotADirectory
	}
	if !wantDir && node.IsDir() {
		return fserrors.ErrIsADirectory
	}

	if err := f.tree.Delete(idx); err != nil {
		return err
	}
	f.freeInodeStorage(node.Inode)

	tx, err := f.beginLoggedOp()
	if err != nil {
		return err
	}
	payload := wal.EncodeDelete(wal.DeletePayload{Parent: parent.Inode, Inode: node.Inode, Mode: node.Mode, Name: name})
	if err := f.log.LogDelete(tx, payload); err != nil {
		f.log.AbortTx(tx)
		return err
	}
	f.commitLoggedOp(tx, wal.OpDelete)
	return nil
}

// Unlink removes a regular file.
func (f *Facade) Unlink(path string) error { return f.remove(path, false) }

// Rmdir removes an empty directory (tree.Delete itself enforces NotEmpty).
func (f *Facade) Rmdir(path string) error { return f.remove(path, true) }

func (f *Facade) freeInodeStorage(inode uint32) {
	if m, ok := f.extents[inode]; ok {
		m.Truncate(0)
		delete(f.extents, inode)
	}
	f.xattrs.FreeAll(xattrHeadOf(f, inode))
}

// xattrHeadOf is a best-effort lookup used only during teardown, after the
// tree node has already been deleted; a missing node yields HeadNone
// (nothing to free) rather than an error.
func xattrHeadOf(f *Facade, inode uint32) uint32 {
	idx, err := f.tree.InodeIndex(inode)
	if err != nil {
		return 0xFFFFFFFF
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return 0xFFFFFFFF
	}
	return n.XattrHead
}

// Read returns up to length bytes starting at offset, never exceeding the
// file's logical size (spec.md §4.4 hole-as-zero-read semantics apply only
// to sparse regions within a single extent map; here whole-file blobs have
// no internal holes since Write always rewrites the full blob).
func (f *Facade) Read(path string, offset int64, length int) ([]byte, error) {
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return nil, err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, fserrors.ErrIsADirectory
	}
	if offset >= n.Size || length <= 0 {
		return nil, nil
	}

	f.mu.Lock()
	m, ok := f.extents[n.Inode]
	var content []byte
	if ok {
		content, err = f.decodeBlob(m)
	}
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	end := offset + int64(length)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	if offset > end {
		return nil, nil
	}
	out := make([]byte, end-offset)
	copy(out, content[offset:end])
	return out, nil
}

func (f *Facade) decodeBlob(m *extent.Map) ([]byte, error) {
	es := m.Iter()
	if len(es) == 0 {
		return nil, nil
	}
	e := es[0]
	start := int64(e.BlockNum) * int64(f.blocks.BlockSize())
	physical := f.file.DataBytes()[start : start+m.BlobLen()]
	if m.Compressed() {
		return compress.Decompress(physical)
	}
	out := make([]byte, len(physical))
	copy(out, physical)
	return out, nil
}

// Write splices data into the file's content at offset and durably logs
// the result as a whole-file replacement. Compression is applied
// transparently above the configured threshold (spec.md §4.5); the
// physical blocks backing the previous content are freed and replaced.
func (f *Facade) Write(path string, offset int64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return err
	}
	node, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	if node.IsDir() {
		return fserrors.ErrIsADirectory
	}
	if offset < 0 {
		return fserrors.Wrap(fserrors.ErrBadName, "negative offset")
	}

	var oldContent []byte
	if m, ok := f.extents[node.Inode]; ok {
		if oldContent, err = f.decodeBlob(m); err != nil {
			return err
		}
	}

	newLen := offset + int64(len(data))
	if newLen < int64(len(oldContent)) {
		newLen = int64(len(oldContent))
	}
	newContent := make([]byte, newLen)
	copy(newContent, oldContent)
	copy(newContent[offset:], data)

	if err := f.storeBlob(node.Inode, newContent); err != nil {
		return err
	}
	if err := f.tree.SetMeta(idx, int64(len(newContent)), now(), node.XattrHead); err != nil {
		return err
	}

	tx, err := f.beginLoggedOp()
	if err != nil {
		return err
	}
	payload := wal.EncodeWrite(wal.WritePayload{Inode: node.Inode, Offset: 0, NewBytes: newContent, OldBytes: oldContent})
	if err := f.log.LogWrite(tx, payload); err != nil {
		f.log.AbortTx(tx)
		return err
	}
	f.commitLoggedOp(tx, wal.OpWrite)
	return nil
}

// Truncate changes a file's logical size, padding with zero bytes when
// growing and discarding bytes (and their backing blocks) when shrinking.
func (f *Facade) Truncate(path string, size int64) error {
	if size < 0 {
		return fserrors.Wrap(fserrors.ErrBadName, "negative size")
	}

	f.mu.Lock()
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	node, err := f.tree.Node(idx)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if node.IsDir() {
		f.mu.Unlock()
		return fserrors.ErrIsADirectory
	}
	var content []byte
	if m, ok := f.extents[node.Inode]; ok {
		content, err = f.decodeBlob(m)
		if err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Unlock()

	out := make([]byte, size)
	copy(out, content)
	return f.overwrite(path, out)
}

// overwrite replaces a file's full content without reading it back first,
// used by Truncate once the target bytes are already computed.
func (f *Facade) overwrite(path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return err
	}
	node, err := f.tree.Node(idx)
	if err != nil {
		return err
	}

	var oldContent []byte
	if m, ok := f.extents[node.Inode]; ok {
		if oldContent, err = f.decodeBlob(m); err != nil {
			return err
		}
	}

	if err := f.storeBlob(node.Inode, content); err != nil {
		return err
	}
	if err := f.tree.SetMeta(idx, int64(len(content)), now(), node.XattrHead); err != nil {
		return err
	}

	tx, err := f.beginLoggedOp()
	if err != nil {
		return err
	}
	payload := wal.EncodeWrite(wal.WritePayload{Inode: node.Inode, Offset: 0, NewBytes: content, OldBytes: oldContent})
	if err := f.log.LogWrite(tx, payload); err != nil {
		f.log.AbortTx(tx)
		return err
	}
	f.commitLoggedOp(tx, wal.OpWrite)
	return nil
}

// storeBlob compresses content when it clears the configured threshold and
// actually shrinks, allocates fresh physical blocks, writes the bytes, and
// frees whatever blocks the inode previously held. Caller holds f.mu.
func (f *Facade) storeBlob(inode uint32, content []byte) error {
	old, hadOld := f.extents[inode]

	wire := content
	compressed := false
	if c, ok := compress.Compress(content, f.cfg.CompressionThreshold); ok {
		wire = c
		compressed = true
	}

	blockSize := f.blocks.BlockSize()
	var nBlocks uint32
	var blockNum uint32
	var err error
	if len(wire) > 0 {
		nBlocks = uint32((int64(len(wire)) + int64(blockSize) - 1) / int64(blockSize))
		blockNum, err = f.blocks.Alloc(nBlocks)
		if err != nil {
			return err
		}
		start := int64(blockNum) * int64(blockSize)
		dst := f.file.DataBytes()
		copy(dst[start:start+int64(len(wire))], wire)
		for i := start + int64(len(wire)); i < start+int64(nBlocks)*int64(blockSize); i++ {
			dst[i] = 0
		}
	}

	if hadOld {
		for _, e := range old.Iter() {
			f.blocks.Free(e.BlockNum, e.NumBlocks)
		}
	}

	m := extent.New(blockSize, f.cfg.InlineExtents, f.cfg.SpillExtents, f.blocks)
	if nBlocks > 0 {
		if err := m.Add(0, blockNum, nBlocks); err != nil {
			return err
		}
	}
	m.SetBlob(compressed, int64(len(wire)))
	f.extents[inode] = m
	return nil
}

// SetMode changes a node's permission/type bits (spec.md §4.10 chmod).
func (f *Facade) SetMode(path string, mode uint16) error {
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return err
	}
	return f.tree.SetMode(idx, mode)
}

// Chown is a documented no-op: the packed 64-byte tree.Node (spec.md §4.2)
// carries no uid/gid fields, so there is no ownership state to change. It
// still resolves path so a caller asking to chown a nonexistent node sees
// ErrNotFound rather than silent success, matching §4.10/§6's listing of
// chown alongside the other attribute setters.
func (f *Facade) Chown(path string, uid, gid uint32) error {
	_, err := f.tree.PathLookup(path)
	return err
}

// GetXattr reads an extended attribute value (spec.md §4.6).
func (f *Facade) GetXattr(path, name string, buf []byte) (int, error) {
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return 0, err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xattrs.Get(n.XattrHead, name, buf)
}

// SetXattr creates or updates an extended attribute. flag selects
// create-only, replace-only, or either (xattr.SetFlagNone).
func (f *Facade) SetXattr(path, name string, value []byte, flag xattr.SetFlag) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	newHead, err := f.xattrs.Set(n.XattrHead, name, value, flag)
	if err != nil {
		return err
	}
	return f.tree.SetMeta(idx, n.Size, now(), newHead)
}

// RemoveXattr deletes an extended attribute.
func (f *Facade) RemoveXattr(path, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	newHead, err := f.xattrs.Remove(n.XattrHead, name)
	if err != nil {
		return err
	}
	return f.tree.SetMeta(idx, n.Size, now(), newHead)
}

// ListXattr writes the NUL-separated attribute name list into buf.
func (f *Facade) ListXattr(path string, buf []byte) (int, error) {
	idx, err := f.tree.PathLookup(path)
	if err != nil {
		return 0, err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xattrs.List(n.XattrHead, buf), nil
}

// Fsync flushes the checkpoint and the mapping to stable storage without
// unmounting.
func (f *Facade) Fsync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpointDataPlane(f.log.Buffer())
}
