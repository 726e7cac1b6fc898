package strtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/fserrors"
)

func TestInternDedups(t *testing.T) {
	tbl := New(255, 4096)
	off1, err := tbl.Intern("hello")
	assert.NoError(t, err)
	off2, err := tbl.Intern("hello")
	assert.NoError(t, err)
	assert.Equal(t, off1, off2)

	name, err := tbl.Get(off1)
	assert.NoError(t, err)
	assert.Equal(t, "hello", name)
}

func TestInternRejectsEmptyAndOversizedNames(t *testing.T) {
	tbl := New(4, 4096)
	_, err := tbl.Intern("")
	assert.ErrorIs(t, err, fserrors.ErrBadName)

	_, err = tbl.Intern("toolong")
	assert.ErrorIs(t, err, fserrors.ErrNameTooLong)
}

func TestInternRejectsTableFull(t *testing.T) {
	tbl := New(255, 8)
	_, err := tbl.Intern("abcdef") // 6 + NUL = 7 bytes, fits
	assert.NoError(t, err)
	_, err = tbl.Intern("xyz") // would push past the 8 byte cap
	assert.ErrorIs(t, err, fserrors.ErrTableFull)
}

func TestLoadFromRoundTrip(t *testing.T) {
	tbl := New(255, 4096)
	off, err := tbl.Intern("a/b/c")
	assert.NoError(t, err)
	_, err = tbl.Intern("another")
	assert.NoError(t, err)

	loaded, err := LoadFrom(tbl.Bytes(), 255, 4096)
	assert.NoError(t, err)

	name, err := loaded.Get(off)
	assert.NoError(t, err)
	assert.Equal(t, "a/b/c", name)

	// Interning the same name again on the reloaded table should dedup to
	// the same offset, proving the index was rebuilt, not just the buffer.
	off2, err := loaded.Intern("a/b/c")
	assert.NoError(t, err)
	assert.Equal(t, off, off2)
}
