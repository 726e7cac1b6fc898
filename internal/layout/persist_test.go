package layout

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/alloc"
	"github.com/vorteil/nfs/internal/extent"
	"github.com/vorteil/nfs/internal/tree"
	"github.com/vorteil/nfs/internal/xattr"
)

func testSizing() Sizing {
	return Sizing{
		StringTableSize: 64 << 10,
		InodeTableSlots: 256,
		ExtentDirSize:   64 << 10,
		XattrPoolSize:   64 << 10,
		DataSize:        int64(256) * 4096,
		WALSize:         64 << 10,
	}
}

func testTreeOptions() tree.Options {
	return tree.Options{
		BranchingFactor:    tree.BranchingFactor,
		RebalanceThreshold: 1000,
		SoftLockTimeout:    time.Second,
		MaxNameLength:      255,
		MaxTableSize:       64 << 10,
	}
}

func TestCreateAttachRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.img")

	f, err := Create(path, testSizing())
	assert.NoError(t, err)
	assert.Equal(t, uint32(Magic), f.Header().Magic)
	assert.NoError(t, f.Close())

	f2, err := Attach(path)
	assert.NoError(t, err)
	assert.Equal(t, f.Header().InstanceID, f2.Header().InstanceID)
	assert.NoError(t, f2.Close())
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.img")
	f, err := Create(path, testSizing())
	assert.NoError(t, err)
	defer f.Close()

	tr := tree.New(testTreeOptions())
	dirIdx, err := tr.Insert(tree.RootIndex, "etc", tree.ModeDir|0755)
	assert.NoError(t, err)
	fileIdx, err := tr.Insert(dirIdx, "hosts", tree.ModeRegular|0644)
	assert.NoError(t, err)
	assert.NoError(t, tr.SetMeta(fileIdx, 11, 99, 0))

	blocks := alloc.New(4096, 256)
	extents := make(map[uint32]*extent.Map)
	fileNode, err := tr.Node(fileIdx)
	assert.NoError(t, err)
	m := extent.New(4096, 4, 64, blocks)
	blk, err := blocks.Alloc(1)
	assert.NoError(t, err)
	assert.NoError(t, m.Add(0, blk, 1))
	m.SetBlob(false, 11)
	extents[fileNode.Inode] = m

	xp := xattr.NewPool()
	head, err := xp.Set(xattr.HeadNone, "user.tag", []byte("v1"), xattr.SetFlagNone)
	assert.NoError(t, err)
	assert.NoError(t, tr.SetMeta(fileIdx, 11, 99, head))

	ec := ExtentConfig{BlockSize: 4096, InlineK: 4, SpillM: 64}
	assert.NoError(t, SaveState(f, tr, blocks, extents, xp))

	tr2, blocks2, extents2, xp2, err := LoadState(f, testTreeOptions(), 256, ec)
	assert.NoError(t, err)

	idx2, err := tr2.PathLookup("/etc/hosts")
	assert.NoError(t, err)
	n2, err := tr2.Node(idx2)
	assert.NoError(t, err)
	assert.Equal(t, int64(11), n2.Size)
	assert.Equal(t, uint32(99), n2.Mtime)

	m2, ok := extents2[n2.Inode]
	assert.True(t, ok)
	assert.Equal(t, m.Iter(), m2.Iter())

	buf := make([]byte, 8)
	nRead, err := xp2.Get(n2.XattrHead, "user.tag", buf)
	assert.NoError(t, err)
	assert.Equal(t, "v1", string(buf[:nRead]))

	assert.Equal(t, blocks.FreeBlocks(), blocks2.FreeBlocks())
	assert.NoError(t, tr2.Validate())
}
