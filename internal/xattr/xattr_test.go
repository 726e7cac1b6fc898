package xattr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/fserrors"
)

func TestSetGetRemove(t *testing.T) {
	p := NewPool()
	head := HeadNone

	head, err := p.Set(head, "user.a", []byte("1"), SetFlagNone)
	assert.NoError(t, err)
	head, err = p.Set(head, "user.b", []byte("2"), SetFlagNone)
	assert.NoError(t, err)

	buf := make([]byte, 8)
	n, err := p.Get(head, "user.a", buf)
	assert.NoError(t, err)
	assert.Equal(t, "1", string(buf[:n]))

	head, err = p.Remove(head, "user.a")
	assert.NoError(t, err)

	_, err = p.Get(head, "user.a", buf)
	assert.ErrorIs(t, err, fserrors.ErrNotFound)

	n, err = p.Get(head, "user.b", buf)
	assert.NoError(t, err)
	assert.Equal(t, "2", string(buf[:n]))
}

func TestSetCreateFlagRejectsExisting(t *testing.T) {
	p := NewPool()
	head, err := p.Set(HeadNone, "user.a", []byte("1"), SetFlagNone)
	assert.NoError(t, err)

	_, err = p.Set(head, "user.a", []byte("2"), SetFlagCreate)
	assert.ErrorIs(t, err, fserrors.ErrExists)
}

func TestSetReplaceFlagRequiresExisting(t *testing.T) {
	p := NewPool()
	_, err := p.Set(HeadNone, "user.a", []byte("1"), SetFlagReplace)
	assert.ErrorIs(t, err, fserrors.ErrNotFound)
}

func TestSetRejectsUnknownNamespace(t *testing.T) {
	p := NewPool()
	_, err := p.Set(HeadNone, "bogus.a", []byte("1"), SetFlagNone)
	assert.ErrorIs(t, err, fserrors.ErrBadNamespace)
}

func TestSetRejectsOversizedValue(t *testing.T) {
	p := NewPool()
	_, err := p.Set(HeadNone, "user.a", make([]byte, MaxValueLen+1), SetFlagNone)
	assert.ErrorIs(t, err, fserrors.ErrValueTooBig)
}

func TestListNamesNulSeparated(t *testing.T) {
	p := NewPool()
	head, err := p.Set(HeadNone, "user.a", []byte("1"), SetFlagNone)
	assert.NoError(t, err)
	head, err = p.Set(head, "user.b", []byte("2"), SetFlagNone)
	assert.NoError(t, err)

	total := p.List(head, nil)
	buf := make([]byte, total)
	n := p.List(head, buf)
	assert.Equal(t, total, n)
	assert.Contains(t, string(buf), "user.a\x00")
	assert.Contains(t, string(buf), "user.b\x00")
}

func TestFreeAllReclaimsSlots(t *testing.T) {
	p := NewPool()
	head, err := p.Set(HeadNone, "user.a", []byte("1"), SetFlagNone)
	assert.NoError(t, err)
	head, err = p.Set(head, "user.b", []byte("2"), SetFlagNone)
	assert.NoError(t, err)

	p.FreeAll(head)
	assert.Len(t, p.freeList, 2)

	// A freed slot should be reused rather than growing the arena.
	before := len(p.entries)
	_, err = p.Set(HeadNone, "user.c", []byte("3"), SetFlagNone)
	assert.NoError(t, err)
	assert.Equal(t, before, len(p.entries))
}

func TestExportImportRoundTrip(t *testing.T) {
	p := NewPool()
	head, err := p.Set(HeadNone, "user.a", []byte("1"), SetFlagNone)
	assert.NoError(t, err)
	head, err = p.Set(head, "security.b", []byte("2"), SetFlagNone)
	assert.NoError(t, err)
	head, err = p.Remove(head, "user.a")
	assert.NoError(t, err)

	exported := p.Export()
	restored := Import(exported)

	buf := make([]byte, 8)
	n, err := restored.Get(head, "security.b", buf)
	assert.NoError(t, err)
	assert.Equal(t, "2", string(buf[:n]))

	_, err = restored.Get(head, "user.a", buf)
	assert.ErrorIs(t, err, fserrors.ErrNotFound)

	// The reclaimed slot must still be free after a round trip so future
	// Sets reuse it instead of growing the arena.
	assert.NotEmpty(t, restored.freeList)
}
