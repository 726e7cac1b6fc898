package fserrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesSentinelForErrorsIs(t *testing.T) {
	err := Wrap(ErrNotFound, "inode %d", 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "inode 7")
}

func TestFinerGrainedSentinelsMatchCoarseOne(t *testing.T) {
	assert.ErrorIs(t, ErrParentFull, ErrNoSpace)
	assert.ErrorIs(t, ErrNoCapacity, ErrNoSpace)
	assert.ErrorIs(t, ErrTableFull, ErrNoSpace)
	assert.ErrorIs(t, ErrNoLogSpace, ErrNoSpace)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "anything"))
}
