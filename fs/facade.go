// Package fs implements C11, the filesystem facade of spec.md/SPEC_FULL.md:
// the single entry point that wires the directory tree (internal/tree),
// block allocator (internal/alloc), per-inode extent maps (internal/extent),
// compression (internal/compress), extended attributes (internal/xattr),
// the write-ahead log (internal/wal), ARIES recovery (internal/recovery),
// and the memory-mapped persistent layout (internal/layout) into the POSIX
// operations a caller actually wants: lookup, getattr/setattr, readdir,
// create/mkdir, unlink/rmdir, read/write/truncate, and the xattr family.
//
// Mount/unmount orchestration follows the attach-or-create discipline the
// teacher pack uses throughout its provisioning paths: a fresh file is
// built with Create, an existing one is Attach-ed and replayed through
// recovery.Run before any caller-visible operation is accepted.
package fs

import (
	"sync"
	"time"

	"github.com/vorteil/nfs/internal/alloc"
	"github.com/vorteil/nfs/internal/compress"
	"github.com/vorteil/nfs/internal/config"
	"github.com/vorteil/nfs/internal/corelog"
	"github.com/vorteil/nfs/internal/extent"
	"github.com/vorteil/nfs/internal/fserrors"
	"github.com/vorteil/nfs/internal/layout"
	"github.com/vorteil/nfs/internal/recovery"
	"github.com/vorteil/nfs/internal/tree"
	"github.com/vorteil/nfs/internal/wal"
	"github.com/vorteil/nfs/internal/walring"
	"github.com/vorteil/nfs/internal/xattr"
)

// Attr is the caller-facing metadata view of a node, translated out of
// tree.Node's packed representation.
type Attr struct {
	Inode uint32
	Mode  uint16
	Size  int64
	Mtime uint32
}

// DirEntry is one row of a Readdir result.
type DirEntry struct {
	Name string
	Attr Attr
}

// Facade is the mounted filesystem: one tree, one block allocator, one
// extent map per regular file, one xattr pool, one WAL, and the mmap'd
// file backing all of them.
//
// mu serializes the compound "mutate in memory, then log" step of every
// write operation; the tree's own per-node locks still govern concurrent
// read access that never touches mu.
type Facade struct {
	mu sync.Mutex

	file    *layout.File
	tree    *tree.Tree
	blocks  *alloc.Allocator
	extents map[uint32]*extent.Map // keyed by inode number
	xattrs  *xattr.Pool
	log     *wal.Log
	ring    *walring.Ring

	cfg *config.Config
	lg  corelog.Logger
}

func extentConfig(cfg *config.Config) layout.ExtentConfig {
	return layout.ExtentConfig{BlockSize: cfg.BlockSize, InlineK: cfg.InlineExtents, SpillM: cfg.SpillExtents}
}

func treeOptions(cfg *config.Config) tree.Options {
	return tree.Options{
		BranchingFactor:    cfg.BranchingFactor,
		RebalanceThreshold: cfg.RebalanceThreshold,
		SoftLockTimeout:    cfg.SoftLockTimeout,
		MaxNameLength:      cfg.MaxNameLength,
		MaxTableSize:       cfg.MaxTableSize,
	}
}

// walSink adapts a *layout.File to wal.Sink: the log only ever knows
// offsets relative to its own buffer (0..WALSize), but the mapped file's
// Msync takes file-absolute offsets, so every call is translated by the
// WAL section's start offset before reaching the mapping.
type walSink struct{ file *layout.File }

func (w walSink) Msync(offset, length int) error {
	return w.file.Msync(int(w.file.Header().WALOffset)+offset, length)
}

func sizing(cfg *config.Config) layout.Sizing {
	return layout.Sizing{
		StringTableSize: cfg.MaxTableSize,
		InodeTableSlots: cfg.MaxInodes,
		ExtentDirSize:   cfg.ExtentDirSize,
		XattrPoolSize:   cfg.XattrPoolSize,
		DataSize:        cfg.DataSize,
		WALSize:         cfg.WALSize,
	}
}

// Mount attaches the layout file at path, creating it fresh if
// absent, and runs crash recovery against any WAL records left over from
// an unclean shutdown (spec.md §4.9) before returning.
func Mount(path string, cfg *config.Config) (*Facade, error) {
	lg := corelog.New("facade")
	f := &Facade{cfg: cfg, lg: lg, ring: walring.New(64 << 10)}

	fresh := !layout.Exists(path)
	if fresh {
		lf, err := layout.Create(path, sizing(cfg))
		if err != nil {
			return nil, err
		}
		f.file = lf
		f.tree = tree.New(treeOptions(cfg))
		f.blocks = alloc.New(cfg.BlockSize, cfg.TotalBlocks)
		f.extents = make(map[uint32]*extent.Map)
		f.xattrs = xattr.NewPool()
	} else {
		lf, err := layout.Attach(path)
		if err != nil {
			return nil, err
		}
		f.file = lf
		t, blocks, extents, xp, err := layout.LoadState(lf, treeOptions(cfg), cfg.TotalBlocks, extentConfig(cfg))
		if err != nil {
			return nil, err
		}
		f.tree = t
		f.blocks = blocks
		f.extents = extents
		f.xattrs = xp
	}

	logOpts := wal.Options{
		Capacity:             int(cfg.WALSize),
		AutoCheckpoint:       cfg.AutoCheckpoint,
		CheckpointEntryCount: cfg.CheckpointEntryCount,
		CheckpointFillFactor: cfg.CheckpointFillFactor,
		CheckpointInterval:   cfg.CheckpointInterval,
		Sink:                 walSink{f.file},
		OnCheckpoint:         func(buf []byte) error { return f.checkpointDataPlane(buf) },
	}
	if fresh {
		log, err := wal.New(logOpts)
		if err != nil {
			return nil, err
		}
		f.log = log
		// Persist the empty tree (root record, NextInode) and the fresh WAL
		// so a later Attach finds a loadable image even without an Unmount.
		if err := f.checkpointDataPlane(log.Buffer()); err != nil {
			return nil, err
		}
	} else {
		log, err := wal.Attach(f.file.WALBytes(), logOpts)
		if err != nil {
			return nil, err
		}
		f.log = log
		res, err := recovery.Run(log, f)
		if err != nil {
			return nil, fserrors.Wrap(err, "recovery failed")
		}
		lg.Infof("recovery: %+v", res)
		if err := f.checkpointDataPlane(log.Buffer()); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Unmount performs a final checkpoint, syncs the mapping, and releases
// resources. Per spec.md §4.9, a clean unmount leaves the WAL holding
// nothing but its own CHECKPOINT marker.
func (f *Facade) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.log.Checkpoint(); err != nil {
		return err
	}
	copy(f.file.WALBytes(), f.log.Buffer())
	if err := f.file.Sync(); err != nil {
		return err
	}
	return f.file.Close()
}

// checkpointDataPlane flushes the in-memory tree/allocator/extent/xattr
// state to the mapping and stamps the WAL region with walBuf, the buffer
// the caller already holds. It must never fetch that buffer itself via
// f.log.Buffer(): when called from wal.Log's onCheckpoint hook, l.mu is
// already held by the caller and Buffer() would deadlock re-acquiring it.
func (f *Facade) checkpointDataPlane(walBuf []byte) error {
	if err := layout.SaveState(f.file, f.tree, f.blocks, f.extents, f.xattrs); err != nil {
		return err
	}
	copy(f.file.WALBytes(), walBuf)
	return f.file.Sync()
}

// RecentActivity returns a human-readable log of recently resolved
// transactions, for operator diagnostics (SPEC_FULL.md §4).
func (f *Facade) RecentActivity() string {
	return f.ring.String()
}

func now() uint32 { return uint32(time.Now().Unix()) }

func toAttr(n tree.Node) Attr {
	return Attr{Inode: n.Inode, Mode: n.Mode, Size: n.Size, Mtime: n.Mtime}
}
