package fs

import "github.com/vorteil/nfs/internal/fserrors"

// FsckReport summarizes the result of a consistency pass, for cmd/nfsmount's
// fsck subcommand.
type FsckReport struct {
	FilesChecked int
	FreeBlocks   uint32
}

// Fsck validates the directory tree's structural invariants (spec.md §3,
// tree.Validate) and that every regular file's extent map addresses blocks
// within the allocator's range, without mutating anything.
func (f *Facade) Fsck() (FsckReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.tree.Validate(); err != nil {
		return FsckReport{}, err
	}

	report := FsckReport{FreeBlocks: f.blocks.FreeBlocks()}
	for inode, m := range f.extents {
		report.FilesChecked++
		for _, ext := range m.Iter() {
			if ext.NumBlocks == 0 {
				return report, fserrors.Wrap(fserrors.ErrCorrupted, "inode %d has a zero-length extent", inode)
			}
			if uint64(ext.BlockNum)+uint64(ext.NumBlocks) > uint64(f.cfg.TotalBlocks) {
				return report, fserrors.Wrap(fserrors.ErrCorrupted, "inode %d extent at block %d (+%d) lies beyond the %d-block range", inode, ext.BlockNum, ext.NumBlocks, f.cfg.TotalBlocks)
			}
		}
	}
	return report, nil
}
