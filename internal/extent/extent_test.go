package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/alloc"
	"github.com/vorteil/nfs/internal/fserrors"
)

const blockSize = 4096

func TestAddMergesAdjacentExtents(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 4, 256, blocks)

	assert.NoError(t, m.Add(0, 10, 2))
	assert.NoError(t, m.Add(2*blockSize, 12, 3))

	iter := m.Iter()
	assert.Len(t, iter, 1, "contiguous blocks at adjacent logical offsets must merge")
	assert.Equal(t, uint32(10), iter[0].BlockNum)
	assert.Equal(t, uint32(5), iter[0].NumBlocks)
}

func TestAddDoesNotMergeNonContiguous(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 4, 256, blocks)

	assert.NoError(t, m.Add(0, 10, 1))
	assert.NoError(t, m.Add(blockSize, 99, 1))

	assert.Len(t, m.Iter(), 2)
}

func TestMapOffset(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 4, 256, blocks)
	assert.NoError(t, m.Add(0, 50, 2))

	blk, off, err := m.MapOffset(blockSize + 100)
	assert.NoError(t, err)
	assert.Equal(t, uint32(51), blk)
	assert.Equal(t, uint32(100), off)

	_, _, err = m.MapOffset(10 * blockSize)
	assert.ErrorIs(t, err, fserrors.ErrNotFound)
}

func TestSpillsPastInlineCapacity(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 2, 256, blocks)

	// Three non-mergeable extents, each separated by a gap, exceeds K=2.
	assert.NoError(t, m.Add(0, 0, 1))
	assert.NoError(t, m.Add(2*blockSize, 10, 1))
	assert.False(t, m.IsSpilled())

	assert.NoError(t, m.Add(4*blockSize, 20, 1))
	assert.True(t, m.IsSpilled())
	// The extents above were added directly, not allocated, so the spill
	// block is the allocator's first free block.
	assert.Equal(t, uint32(0), m.SpillAddr())
}

func TestAddBeyondSpillCapacityFails(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 1, 2, blocks)

	assert.NoError(t, m.Add(0, 0, 1))
	assert.NoError(t, m.Add(2*blockSize, 10, 1))
	err := m.Add(4*blockSize, 20, 1)
	assert.ErrorIs(t, err, fserrors.ErrNoSpace)
}

func TestTruncateFreesTrailingBlocks(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 4, 256, blocks)
	assert.NoError(t, m.Add(0, 10, 4))

	free := blocks.FreeBlocks()
	m.Truncate(2 * blockSize)

	assert.Equal(t, free+2, blocks.FreeBlocks())
	iter := m.Iter()
	assert.Len(t, iter, 1)
	assert.Equal(t, uint32(2), iter[0].NumBlocks)
}

func TestSetBlobAndLoadRoundTrip(t *testing.T) {
	blocks := alloc.New(blockSize, 1024)
	m := New(blockSize, 4, 256, blocks)
	assert.NoError(t, m.Add(0, 5, 1))
	m.SetBlob(true, 1234)

	loaded := Load(blockSize, 4, 256, blocks, m.IsSpilled(), m.SpillAddr(), m.Iter(), m.Compressed(), m.BlobLen())
	assert.True(t, loaded.Compressed())
	assert.Equal(t, int64(1234), loaded.BlobLen())
	assert.Equal(t, m.Iter(), loaded.Iter())
}
