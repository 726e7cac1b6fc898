package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/fserrors"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	a := New(4096, 100)
	assert.Equal(t, uint32(100), a.FreeBlocks())

	first, err := a.Alloc(10)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), first)
	assert.Equal(t, uint32(90), a.FreeBlocks())

	a.Free(first, 10)
	assert.Equal(t, uint32(100), a.FreeBlocks())
}

func TestAllocNoSpace(t *testing.T) {
	a := New(4096, 4)
	_, err := a.Alloc(5)
	assert.ErrorIs(t, err, fserrors.ErrNoSpace)
}

func TestFreeMergesAdjacentRuns(t *testing.T) {
	a := New(4096, 100)
	first, err := a.Alloc(100)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), a.FreeBlocks())

	a.Free(first, 40)
	a.Free(first+40, 60)

	runs := a.FreeRuns()
	assert.Len(t, runs, 1, "adjacent freed runs should coalesce into one")
	assert.Equal(t, [2]uint32{0, 100}, runs[0])
}

func TestReserveCarvesOutOfFreeRun(t *testing.T) {
	a := New(4096, 100)
	assert.NoError(t, a.Reserve(10, 5))
	assert.Equal(t, uint32(95), a.FreeBlocks())

	err := a.Reserve(10, 5)
	assert.ErrorIs(t, err, fserrors.ErrCorrupted)
}

func TestFreeRunsRoundTrip(t *testing.T) {
	a := New(4096, 100)
	_, err := a.Alloc(10)
	assert.NoError(t, err)

	runs := a.FreeRuns()
	b := New(4096, 0)
	b.LoadFreeRuns(runs)
	assert.Equal(t, a.FreeBlocks(), b.FreeBlocks())
}
