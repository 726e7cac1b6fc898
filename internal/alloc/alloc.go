// Package alloc implements the fixed-size block pool backing file extents
// (spec.md C4). Free space is tracked as a run-length index of free
// extents (grounded on pkg/ext4's block-group bitmap bookkeeping, which
// tracks contiguous free runs per group rather than scanning bit-by-bit).
// Every allocation, single-block ones included, is served from that sorted
// run list; there is no separate flat free list.
package alloc

import (
	"sort"

	"github.com/vorteil/nfs/internal/fserrors"
)

// HoleBlock is the sentinel block number meaning "no storage, reads as
// zero" per spec.md §3.
const HoleBlock uint32 = 0xFFFFFFFF

type run struct {
	start uint32
	n     uint32
}

// Allocator manages a fixed-size array of blocks.
type Allocator struct {
	blockSize uint32
	total     uint32
	free      []run // sorted, non-overlapping, ascending by start
}

// New creates an allocator over total blocks of blockSize bytes each, all
// initially free.
func New(blockSize uint32, total uint32) *Allocator {
	a := &Allocator{blockSize: blockSize, total: total}
	if total > 0 {
		a.free = []run{{start: 0, n: total}}
	}
	return a
}

// BlockSize returns the configured block size B.
func (a *Allocator) BlockSize() uint32 { return a.blockSize }

// FreeBlocks returns the total number of currently free blocks.
func (a *Allocator) FreeBlocks() uint32 {
	var n uint32
	for _, r := range a.free {
		n += r.n
	}
	return n
}

// Alloc returns the first block number of a contiguous run of n blocks, or
// ErrNoSpace if no run of that length exists.
func (a *Allocator) Alloc(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fserrors.Wrap(fserrors.ErrBadName, "alloc of zero blocks")
	}
	for i, r := range a.free {
		if r.n < n {
			continue
		}
		first := r.start
		if r.n == n {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = run{start: r.start + n, n: r.n - n}
		}
		return first, nil
	}
	return 0, fserrors.Wrap(fserrors.ErrNoSpace, "no contiguous run of %d blocks", n)
}

// Free returns n blocks starting at first to the pool, merging with
// adjacent free runs.
func (a *Allocator) Free(first uint32, n uint32) {
	if n == 0 {
		return
	}
	a.free = append(a.free, run{start: first, n: n})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].start < a.free[j].start })

	merged := a.free[:0]
	for _, r := range a.free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.start+last.n == r.start {
				last.n += r.n
				continue
			}
		}
		merged = append(merged, r)
	}
	a.free = merged
}

// Reserve marks blocks [first, first+n) as allocated, carving them out of
// the free run that contains them. internal/layout does not use it: it
// restores persisted state through LoadFreeRuns.
func (a *Allocator) Reserve(first, n uint32) error {
	for i, r := range a.free {
		if first >= r.start && first+n <= r.start+r.n {
			var rest []run
			if first > r.start {
				rest = append(rest, run{start: r.start, n: first - r.start})
			}
			if first+n < r.start+r.n {
				rest = append(rest, run{start: first + n, n: r.start + r.n - (first + n)})
			}
			a.free = append(append(append([]run{}, a.free[:i]...), rest...), a.free[i+1:]...)
			return nil
		}
	}
	return fserrors.Wrap(fserrors.ErrCorrupted, "reserve range [%d,%d) not free", first, first+n)
}

// FreeRuns returns a snapshot of the free-run list for persistence.
func (a *Allocator) FreeRuns() [][2]uint32 {
	out := make([][2]uint32, len(a.free))
	for i, r := range a.free {
		out[i] = [2]uint32{r.start, r.n}
	}
	return out
}

// LoadFreeRuns replaces the allocator's free-run list, used when attaching
// persisted state.
func (a *Allocator) LoadFreeRuns(runs [][2]uint32) {
	a.free = a.free[:0]
	for _, r := range runs {
		a.free = append(a.free, run{start: r[0], n: r[1]})
	}
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].start < a.free[j].start })
}
