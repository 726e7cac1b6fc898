// persist.go bridges the in-memory working set (internal/tree,
// internal/alloc, internal/extent, internal/xattr) to the mmap'd sections
// of a File. The inode table, extent directory, and xattr pool are each
// rewritten wholesale on SaveState rather than journaled incrementally —
// the WAL (internal/wal) is what survives a mid-write crash; these
// sections only need to be consistent as of the last clean checkpoint,
// mirroring the pack's ClusterCockpit WAL checkpoint idiom of "replay from
// the log, don't journal the checkpoint itself."
package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/vorteil/nfs/internal/alloc"
	"github.com/vorteil/nfs/internal/extent"
	"github.com/vorteil/nfs/internal/fserrors"
	"github.com/vorteil/nfs/internal/strtab"
	"github.com/vorteil/nfs/internal/tree"
	"github.com/vorteil/nfs/internal/xattr"
)

// ExtentConfig carries the block geometry needed to reconstruct per-inode
// extent.Map values on attach; it is not itself persisted since it is
// expected to be stable for the lifetime of a given layout file (spec.md
// §6 treats block size as fixed at creation).
type ExtentConfig struct {
	BlockSize uint32
	InlineK   int
	SpillM    int
}

// SaveState serializes the tree, block allocator, per-inode extent maps,
// and xattr pool into f's string-table, inode-table, extent-directory, and
// xattr-pool sections, then re-stamps the header (NextInode may have
// advanced).
func SaveState(f *File, t *tree.Tree, blocks *alloc.Allocator, extents map[uint32]*extent.Map, xp *xattr.Pool) error {
	if err := saveStrings(f, t.Strings()); err != nil {
		return err
	}
	if err := saveInodeTable(f, t); err != nil {
		return err
	}
	if err := saveExtentDir(f, blocks, extents); err != nil {
		return err
	}
	if err := saveXattrPool(f, xp); err != nil {
		return err
	}
	hdr := f.Header()
	hdr.NextInode = t.NextInode()
	f.WriteHeader(hdr)
	return nil
}

func saveStrings(f *File, strs *strtab.Table) error {
	dst := f.StringTableBytes()
	raw := strs.Bytes()
	if int64(len(raw)) > int64(len(dst)) {
		return fserrors.Wrap(fserrors.ErrNoSpace, "string table needs %d bytes, have %d", len(raw), len(dst))
	}
	copy(dst, raw)
	for i := len(raw); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func saveInodeTable(f *File, t *tree.Tree) error {
	nodes := t.Nodes()

	buf := new(bytes.Buffer)
	var count uint32
	for i := range nodes {
		if !nodes[i].IsFree() {
			count++
		}
	}
	binary.Write(buf, binary.LittleEndian, count)

	for i := range nodes {
		n := &nodes[i]
		if n.IsFree() {
			continue
		}
		var parentInode uint64
		if uint32(i) != tree.RootIndex && n.ParentIdx != tree.InvalidParent {
			parentInode = uint64(nodes[n.ParentIdx].Inode)
		}
		rec := InodeRecord{
			Inode:       uint64(n.Inode),
			ParentInode: parentInode,
			NameOffset:  n.NameOffset,
			Mode:        n.Mode,
			Size:        uint64(n.Size),
			Timestamp:   uint64(n.Mtime),
			DataOffset:  0,
			DataSize:    0,
		}
		// XattrHead has no field of its own in InodeRecord, so it is
		// stored in DataOffset, which file content never uses on a
		// directory-tree node (data lives in per-inode extent maps,
		// addressed separately).
		rec.DataOffset = n.XattrHead
		buf.Write(rec.Encode())
	}

	dst := f.InodeTableBytes()
	if buf.Len() > len(dst) {
		return fserrors.Wrap(fserrors.ErrNoSpace, "inode table needs %d bytes, have %d", buf.Len(), len(dst))
	}
	copy(dst, buf.Bytes())
	for i := buf.Len(); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func saveExtentDir(f *File, blocks *alloc.Allocator, extents map[uint32]*extent.Map) error {
	buf := new(bytes.Buffer)

	runs := blocks.FreeRuns()
	binary.Write(buf, binary.LittleEndian, uint32(len(runs)))
	for _, r := range runs {
		binary.Write(buf, binary.LittleEndian, r[0])
		binary.Write(buf, binary.LittleEndian, r[1])
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(extents)))
	for inode, m := range extents {
		binary.Write(buf, binary.LittleEndian, inode)
		flags := uint8(0)
		if m.IsSpilled() {
			flags |= 0x1
		}
		if m.Compressed() {
			flags |= 0x2
		}
		buf.WriteByte(flags)
		binary.Write(buf, binary.LittleEndian, m.SpillAddr())
		binary.Write(buf, binary.LittleEndian, m.BlobLen())
		es := m.Iter()
		binary.Write(buf, binary.LittleEndian, uint32(len(es)))
		for _, e := range es {
			binary.Write(buf, binary.LittleEndian, e.LogicalOffset)
			binary.Write(buf, binary.LittleEndian, e.BlockNum)
			binary.Write(buf, binary.LittleEndian, e.NumBlocks)
		}
	}

	dst := f.ExtentDirBytes()
	if buf.Len() > len(dst) {
		return fserrors.Wrap(fserrors.ErrNoSpace, "extent directory needs %d bytes, have %d", buf.Len(), len(dst))
	}
	copy(dst, buf.Bytes())
	for i := buf.Len(); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

func saveXattrPool(f *File, xp *xattr.Pool) error {
	buf := new(bytes.Buffer)
	exported := xp.Export()
	binary.Write(buf, binary.LittleEndian, uint32(len(exported)))
	for _, e := range exported {
		free := uint8(0)
		if e.Free {
			free = 1
		}
		buf.WriteByte(free)
		buf.WriteByte(uint8(e.Namespace))
		binary.Write(buf, binary.LittleEndian, e.NextOffset)
		binary.Write(buf, binary.LittleEndian, uint16(len(e.Name)))
		buf.WriteString(e.Name)
		binary.Write(buf, binary.LittleEndian, uint32(len(e.Value)))
		buf.Write(e.Value)
	}

	dst := f.XattrPoolBytes()
	if buf.Len() > len(dst) {
		return fserrors.Wrap(fserrors.ErrNoSpace, "xattr pool needs %d bytes, have %d", buf.Len(), len(dst))
	}
	copy(dst, buf.Bytes())
	for i := buf.Len(); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// inodeTableEntry is a decoded row from the inode table, still addressed
// by inode number (ParentInode 0 marks the root).
type inodeTableEntry struct {
	rec  InodeRecord
	name string
}

// LoadState reconstructs the tree, block allocator, per-inode extent maps,
// and xattr pool from f's sections. totalBlocks sizes the allocator; ec
// carries the block geometry for extent.Map reconstruction.
func LoadState(f *File, treeOpts tree.Options, totalBlocks uint32, ec ExtentConfig) (*tree.Tree, *alloc.Allocator, map[uint32]*extent.Map, *xattr.Pool, error) {
	strs, err := strtab.LoadFrom(f.StringTableBytes(), treeOpts.MaxNameLength, treeOpts.MaxTableSize)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	entries, err := decodeInodeTable(f, strs)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	t := tree.New(treeOpts)
	if err := rebuildTree(t, entries); err != nil {
		return nil, nil, nil, nil, err
	}
	t.SetNextInode(f.Header().NextInode)

	blocks := alloc.New(ec.BlockSize, totalBlocks)
	extents, err := loadExtentDir(f, blocks, ec)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	xp, err := loadXattrPool(f)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	return t, blocks, extents, xp, nil
}

func decodeInodeTable(f *File, strs *strtab.Table) ([]inodeTableEntry, error) {
	raw := f.InodeTableBytes()
	if len(raw) < 4 {
		return nil, fserrors.Wrap(fserrors.ErrCorrupted, "inode table too short")
	}
	count := binary.LittleEndian.Uint32(raw[:4])
	pos := 4
	out := make([]inodeTableEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+InodeRecordSize > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "inode table truncated at record %d", i)
		}
		rec, err := DecodeInodeRecord(raw[pos : pos+InodeRecordSize])
		if err != nil {
			return nil, err
		}
		pos += InodeRecordSize
		name := ""
		if rec.ParentInode != 0 || rec.Inode != 1 {
			name, err = strs.Get(rec.NameOffset)
			if err != nil {
				return nil, fserrors.Wrap(fserrors.ErrCorrupted, "resolving name for inode %d: %v", rec.Inode, err)
			}
		}
		out = append(out, inodeTableEntry{rec: rec, name: name})
	}
	return out, nil
}

// rebuildTree reinserts every persisted node under its parent in
// parent-first (BFS) order, since InsertAt requires the parent to already
// exist. The root (inode 1, no parent) is assumed already created by
// tree.New and only has its metadata overwritten.
func rebuildTree(t *tree.Tree, entries []inodeTableEntry) error {
	byInode := make(map[uint64]inodeTableEntry, len(entries))
	var root *inodeTableEntry
	for i := range entries {
		e := entries[i]
		byInode[e.rec.Inode] = e
		if e.rec.ParentInode == 0 {
			root = &entries[i]
		}
	}
	if root == nil {
		return fserrors.Wrap(fserrors.ErrCorrupted, "inode table has no root record")
	}
	if err := t.SetMeta(tree.RootIndex, int64(root.rec.Size), uint32(root.rec.Timestamp), root.rec.DataOffset); err != nil {
		return err
	}
	if err := t.SetMode(tree.RootIndex, root.rec.Mode); err != nil {
		return err
	}

	inodeToIdx := map[uint64]uint32{root.rec.Inode: tree.RootIndex}
	queue := []uint64{root.rec.Inode}
	children := make(map[uint64][]inodeTableEntry)
	for _, e := range entries {
		if e.rec.ParentInode == 0 {
			continue
		}
		children[e.rec.ParentInode] = append(children[e.rec.ParentInode], e)
	}

	for len(queue) > 0 {
		parentInode := queue[0]
		queue = queue[1:]
		parentIdx := inodeToIdx[parentInode]
		for _, child := range children[parentInode] {
			idx, err := t.InsertAt(parentIdx, child.name, child.rec.Mode, uint32(child.rec.Inode))
			if err != nil {
				return fserrors.Wrap(fserrors.ErrCorrupted, "reinserting inode %d under %d: %v", child.rec.Inode, parentInode, err)
			}
			if err := t.SetMeta(idx, int64(child.rec.Size), uint32(child.rec.Timestamp), child.rec.DataOffset); err != nil {
				return err
			}
			inodeToIdx[child.rec.Inode] = idx
			queue = append(queue, child.rec.Inode)
		}
	}
	return nil
}

func loadExtentDir(f *File, blocks *alloc.Allocator, ec ExtentConfig) (map[uint32]*extent.Map, error) {
	raw := f.ExtentDirBytes()
	pos := 0
	readU32 := func() (uint32, error) {
		if pos+4 > len(raw) {
			return 0, fserrors.Wrap(fserrors.ErrCorrupted, "extent directory truncated")
		}
		v := binary.LittleEndian.Uint32(raw[pos:])
		pos += 4
		return v, nil
	}

	runCount, err := readU32()
	if err != nil {
		return nil, err
	}
	var runs [][2]uint32
	for i := uint32(0); i < runCount; i++ {
		start, err := readU32()
		if err != nil {
			return nil, err
		}
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		runs = append(runs, [2]uint32{start, n})
	}
	if len(runs) > 0 {
		blocks.LoadFreeRuns(runs)
	}

	inodeCount, err := readU32()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]*extent.Map, inodeCount)
	for i := uint32(0); i < inodeCount; i++ {
		inode, err := readU32()
		if err != nil {
			return nil, err
		}
		if pos+1 > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "extent directory truncated at flags byte")
		}
		flags := raw[pos]
		spilled := flags&0x1 != 0
		compressed := flags&0x2 != 0
		pos++
		spillAddr, err := readU32()
		if err != nil {
			return nil, err
		}
		if pos+8 > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "extent directory truncated at blob length")
		}
		blobLen := int64(binary.LittleEndian.Uint64(raw[pos:]))
		pos += 8
		extentCount, err := readU32()
		if err != nil {
			return nil, err
		}
		extents := make([]extent.Extent, 0, extentCount)
		for j := uint32(0); j < extentCount; j++ {
			if pos+16 > len(raw) {
				return nil, fserrors.Wrap(fserrors.ErrCorrupted, "extent directory truncated at extent record")
			}
			logicalOffset := int64(binary.LittleEndian.Uint64(raw[pos:]))
			pos += 8
			blockNum := binary.LittleEndian.Uint32(raw[pos:])
			pos += 4
			numBlocks := binary.LittleEndian.Uint32(raw[pos:])
			pos += 4
			extents = append(extents, extent.Extent{LogicalOffset: logicalOffset, BlockNum: blockNum, NumBlocks: numBlocks})
		}
		out[inode] = extent.Load(ec.BlockSize, ec.InlineK, ec.SpillM, blocks, spilled, spillAddr, extents, compressed, blobLen)
	}
	return out, nil
}

func loadXattrPool(f *File) (*xattr.Pool, error) {
	raw := f.XattrPoolBytes()
	if len(raw) < 4 {
		return xattr.Import(nil), nil
	}
	pos := 0
	count := binary.LittleEndian.Uint32(raw[:4])
	pos += 4
	entries := make([]xattr.ExportedEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+1+1+4+2 > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "xattr pool truncated at entry %d", i)
		}
		free := raw[pos] == 1
		pos++
		ns := xattr.Namespace(raw[pos])
		pos++
		nextOffset := binary.LittleEndian.Uint32(raw[pos:])
		pos += 4
		nameLen := binary.LittleEndian.Uint16(raw[pos:])
		pos += 2
		if pos+int(nameLen) > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "xattr pool truncated at name %d", i)
		}
		name := string(raw[pos : pos+int(nameLen)])
		pos += int(nameLen)
		if pos+4 > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "xattr pool truncated at value length %d", i)
		}
		valueLen := binary.LittleEndian.Uint32(raw[pos:])
		pos += 4
		if pos+int(valueLen) > len(raw) {
			return nil, fserrors.Wrap(fserrors.ErrCorrupted, "xattr pool truncated at value %d", i)
		}
		value := append([]byte{}, raw[pos:pos+int(valueLen)]...)
		pos += int(valueLen)
		entries = append(entries, xattr.ExportedEntry{Name: name, Namespace: ns, Value: value, NextOffset: nextOffset, Free: free})
	}
	return xattr.Import(entries), nil
}
