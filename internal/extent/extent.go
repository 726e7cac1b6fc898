// Package extent implements the per-inode logical->physical extent map
// (spec.md C5): inline representation up to K extents, spilling to a
// dedicated extent-tree block past that. Grounded on pkg/ext4's extent-tree
// concept (real ext4 keeps an inline 4-extent array in the inode and
// spills to an external extent-tree block past that, mirrored here almost
// exactly) and pkg/xfs's structures.go for the "extent descriptor" shape.
package extent

import (
	"sort"

	"github.com/vorteil/nfs/internal/alloc"
	"github.com/vorteil/nfs/internal/fserrors"
)

// Extent is a contiguous logical-to-physical mapping.
type Extent struct {
	LogicalOffset int64
	BlockNum      uint32
	NumBlocks     uint32
}

func (e Extent) isHole() bool { return e.BlockNum == alloc.HoleBlock }

func (e Extent) logicalEnd(blockSize uint32) int64 {
	return e.LogicalOffset + int64(e.NumBlocks)*int64(blockSize)
}

// Map is the per-inode extent map. Representation switches from inline to
// spilled transparently once more than K distinct non-mergeable extents
// accumulate.
type Map struct {
	blockSize  uint32
	k          int // inline capacity
	m          int // spilled capacity
	spilled    bool
	spillAddr  uint32 // valid only when spilled
	extents    []Extent
	blocks     *alloc.Allocator
	compressed bool // whether the stored physical bytes are a compress.Envelope
	blobLen    int64 // exact physical byte length actually stored (blocks are padded)
}

// New creates an empty extent map over the given allocator.
func New(blockSize uint32, inlineK, spillM int, blocks *alloc.Allocator) *Map {
	return &Map{blockSize: blockSize, k: inlineK, m: spillM, blocks: blocks}
}

// IsSpilled reports whether the map has converted to the spilled
// representation.
func (m *Map) IsSpilled() bool { return m.spilled }

// Iter returns the extents in logical order (canonical: sorted,
// non-overlapping, no two adjacent extents mergeable).
func (m *Map) Iter() []Extent {
	out := make([]Extent, len(m.extents))
	copy(out, m.extents)
	return out
}

// MapOffset resolves a logical offset to a physical block and in-block offset.
func (m *Map) MapOffset(logicalOffset int64) (blockNum uint32, offInBlock uint32, err error) {
	for _, e := range m.extents {
		if logicalOffset >= e.LogicalOffset && logicalOffset < e.logicalEnd(m.blockSize) {
			if e.isHole() {
				return alloc.HoleBlock, 0, nil
			}
			delta := logicalOffset - e.LogicalOffset
			blk := e.BlockNum + uint32(delta/int64(m.blockSize))
			return blk, uint32(delta % int64(m.blockSize)), nil
		}
	}
	return 0, 0, fserrors.ErrNotFound
}

// mergeable reports whether a directly precedes b with contiguous physical
// blocks (right-append merge rule of §4.4), neither being a hole.
func mergeable(a, b Extent, blockSize uint32) bool {
	if a.isHole() || b.isHole() {
		return false
	}
	if a.logicalEnd(blockSize) == b.LogicalOffset && a.BlockNum+a.NumBlocks == b.BlockNum {
		return true
	}
	return false
}

// Add inserts a new extent, merging with neighbors per the §4.4 merge
// rule, and converts the representation from inline to spilled once the
// K+1-th distinct non-mergeable extent would be added.
func (m *Map) Add(logicalOffset int64, blockNum uint32, numBlocks uint32) error {
	if numBlocks == 0 {
		return fserrors.Wrap(fserrors.ErrBadName, "zero-length extent")
	}
	ne := Extent{LogicalOffset: logicalOffset, BlockNum: blockNum, NumBlocks: numBlocks}

	merged := append([]Extent{}, m.extents...)
	merged = append(merged, ne)
	sort.Slice(merged, func(i, j int) bool { return merged[i].LogicalOffset < merged[j].LogicalOffset })

	canon := merged[:0]
	for _, e := range merged {
		if len(canon) > 0 && mergeable(canon[len(canon)-1], e, m.blockSize) {
			canon[len(canon)-1].NumBlocks += e.NumBlocks
			continue
		}
		canon = append(canon, e)
	}

	if len(canon) > m.k && !m.spilled {
		if len(canon) > m.m {
			return fserrors.Wrap(fserrors.ErrNoSpace, "extent count %d exceeds spill capacity %d", len(canon), m.m)
		}
		addr, err := m.blocks.Alloc(1)
		if err != nil {
			return fserrors.Wrap(err, "allocating spill block")
		}
		m.spilled = true
		m.spillAddr = addr
	} else if m.spilled && len(canon) > m.m {
		return fserrors.Wrap(fserrors.ErrNoSpace, "extent count %d exceeds spill capacity %d", len(canon), m.m)
	}

	m.extents = canon
	return nil
}

// Truncate drops (or shortens) extents beyond newSize, freeing blocks that
// fall entirely outside the new size.
func (m *Map) Truncate(newSize int64) {
	var kept []Extent
	for _, e := range m.extents {
		if e.LogicalOffset >= newSize {
			if !e.isHole() {
				m.blocks.Free(e.BlockNum, e.NumBlocks)
			}
			continue
		}
		if e.logicalEnd(m.blockSize) > newSize {
			keepBlocks := uint32((newSize - e.LogicalOffset + int64(m.blockSize) - 1) / int64(m.blockSize))
			if !e.isHole() && keepBlocks < e.NumBlocks {
				m.blocks.Free(e.BlockNum+keepBlocks, e.NumBlocks-keepBlocks)
			}
			e.NumBlocks = keepBlocks
		}
		if e.NumBlocks > 0 {
			kept = append(kept, e)
		}
	}
	m.extents = kept
	if newSize == 0 {
		m.spilled = false
		m.spillAddr = 0
	}
}

// SpillAddr returns the spill block number; only meaningful if IsSpilled.
func (m *Map) SpillAddr() uint32 { return m.spillAddr }

// SetBlob records that this inode's physical storage is a single opaque
// blob of exactly blobLen bytes (compress.Envelope-wrapped if compressed),
// occupying the blocks already added via Add. fs.Facade uses this for
// whole-file compressed writes, where the logical/physical length only
// agree when compression was skipped.
func (m *Map) SetBlob(compressed bool, blobLen int64) {
	m.compressed = compressed
	m.blobLen = blobLen
}

// Compressed reports whether the stored physical bytes are a
// compress.Envelope rather than raw file content.
func (m *Map) Compressed() bool { return m.compressed }

// BlobLen returns the exact physical byte length recorded by SetBlob.
func (m *Map) BlobLen() int64 { return m.blobLen }

// Load reconstructs a Map from a previously persisted extent list, used by
// internal/layout when attaching a persisted extent directory section. The
// extents are trusted as already canonical (sorted, merged) since they were
// written by a prior Add sequence.
func Load(blockSize uint32, inlineK, spillM int, blocks *alloc.Allocator, spilled bool, spillAddr uint32, extents []Extent, compressed bool, blobLen int64) *Map {
	m := &Map{blockSize: blockSize, k: inlineK, m: spillM, blocks: blocks, spilled: spilled, spillAddr: spillAddr, compressed: compressed, blobLen: blobLen}
	m.extents = append(m.extents, extents...)
	return m
}
