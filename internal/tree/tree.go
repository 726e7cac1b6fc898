package tree

import (
	"strings"
	"time"

	"github.com/vorteil/nfs/internal/corelog"
	"github.com/vorteil/nfs/internal/fserrors"
	"github.com/vorteil/nfs/internal/strtab"
)

// Options configures a new Tree, mirroring the tunables of
// SPEC_FULL.md's internal/config.
type Options struct {
	BranchingFactor    int // informational only; array is fixed at BranchingFactor
	RebalanceThreshold int
	SoftLockTimeout    time.Duration
	MaxNameLength      int
	MaxTableSize       int64
}

// Tree is the in-memory packed n-ary directory tree of spec.md C2, with
// its locking layer (C3) integrated: every node index has a matching
// *nodeLock, and structural mutation is serialized through a single
// topologyLock.
type Tree struct {
	topology topologyLock
	lockTimeout time.Duration

	nodes    []Node
	locks    []*nodeLock
	strings  *strtab.Table
	freeList []uint32
	nextInode uint32

	modCount           int
	rebalanceThreshold int

	log corelog.Logger
}

// New creates a tree containing only the root directory at index 0, mode
// DIR|0755, mtime = now (spec.md §4.2 init()).
func New(opts Options) *Tree {
	t := &Tree{
		strings:            strtab.New(opts.MaxNameLength, opts.MaxTableSize),
		lockTimeout:        opts.SoftLockTimeout,
		rebalanceThreshold: opts.RebalanceThreshold,
		nextInode:          1,
		log:                corelog.New("tree"),
	}
	root := Node{
		Inode:     t.allocInode(),
		ParentIdx: InvalidParent,
		Mode:      ModeDir | 0755,
		Mtime:     uint32(time.Now().Unix()),
		XattrHead: 0xFFFFFFFF,
	}
	for i := range root.Children {
		root.Children[i] = InvalidIndex
	}
	t.nodes = append(t.nodes, root)
	t.locks = append(t.locks, &nodeLock{})
	return t
}

func (t *Tree) allocInode() uint32 {
	in := t.nextInode
	t.nextInode++
	return in
}

// NodeCount returns the number of live (non-free) nodes.
func (t *Tree) NodeCount() int {
	n := 0
	for i := range t.nodes {
		if !t.nodes[i].IsFree() {
			n++
		}
	}
	return n
}

// Node returns a copy of the node at idx under its own read lock.
func (t *Tree) Node(idx uint32) (Node, error) {
	if int(idx) >= len(t.nodes) {
		return Node{}, fserrors.ErrNotFound
	}
	lk := t.locks[idx]
	if err := lk.rlock(t.lockTimeout); err != nil {
		return Node{}, err
	}
	defer lk.runlock()
	n := t.nodes[idx]
	if n.IsFree() {
		return Node{}, fserrors.ErrNotFound
	}
	return n, nil
}

// Name resolves a node's name through the string table.
func (t *Tree) Name(idx uint32) (string, error) {
	n, err := t.Node(idx)
	if err != nil {
		return "", err
	}
	if idx == RootIndex {
		return "/", nil
	}
	return t.strings.Get(n.NameOffset)
}

// FindChild performs a linear scan of parent's children (spec.md §4.2):
// the branching factor is small and cache-line friendly by design, so a
// scan beats a hash lookup here.
func (t *Tree) FindChild(parent uint32, name string) (uint32, error) {
	if err := t.topology.rlock(t.lockTimeout); err != nil {
		return 0, err
	}
	defer t.topology.runlock()
	return t.findChildLocked(parent, name)
}

func (t *Tree) findChildLocked(parent uint32, name string) (uint32, error) {
	if int(parent) >= len(t.nodes) {
		return 0, fserrors.ErrNotFound
	}
	plk := t.locks[parent]
	if err := plk.rlock(t.lockTimeout); err != nil {
		return 0, err
	}
	defer plk.runlock()

	pn := &t.nodes[parent]
	for i := uint16(0); i < pn.ChildCount; i++ {
		ci := pn.Children[i]
		if ci == InvalidIndex {
			continue
		}
		cn := &t.nodes[ci]
		cname, err := t.strings.Get(cn.NameOffset)
		if err != nil {
			continue
		}
		if cname == name {
			return uint32(ci), nil
		}
	}
	return 0, fserrors.ErrNotFound
}

// Insert creates a new child named name under parent with the given mode,
// acquiring the topology lock, parent lock, and (once allocated) the new
// node's lock in that order (spec.md §4.3).
func (t *Tree) Insert(parent uint32, name string, mode uint16) (uint32, error) {
	return t.InsertAt(parent, name, mode, 0)
}

// InsertAt is like Insert but assigns a specific inode number, used by
// recovery's redo/undo to reconstruct exactly the inode that was logged.
// inode == 0 means "allocate the next one."
func (t *Tree) InsertAt(parent uint32, name string, mode uint16, inode uint32) (uint32, error) {
	if err := t.topology.lock(t.lockTimeout); err != nil {
		return 0, err
	}
	defer t.topology.unlock()

	if int(parent) >= len(t.nodes) {
		return 0, fserrors.ErrNotFound
	}
	// The duplicate-name scan runs before the parent's write lock is taken,
	// since findChildLocked read-locks the parent itself; the exclusive
	// topology lock keeps the child list unchanged until the insert is done.
	if _, err := t.findChildLocked(parent, name); err == nil {
		return 0, fserrors.Wrap(fserrors.ErrExists, "%q", name)
	}
	plk := t.locks[parent]
	if err := plk.lock(t.lockTimeout); err != nil {
		return 0, err
	}
	defer plk.unlock()

	pn := &t.nodes[parent]
	if pn.IsFree() {
		return 0, fserrors.ErrNotFound
	}
	if !pn.IsDir() {
		return 0, fserrors.ErrNotADirectory
	}
	if int(pn.ChildCount) >= BranchingFactor {
		return 0, fserrors.ErrParentFull
	}

	nameOff, err := t.strings.Intern(name)
	if err != nil {
		return 0, err
	}

	idx, err := t.allocSlot()
	if err != nil {
		return 0, err
	}
	nlk := t.locks[idx]
	if err := nlk.lock(t.lockTimeout); err != nil {
		t.freeList = append(t.freeList, idx)
		return 0, err
	}
	defer nlk.unlock()

	in := inode
	if in == 0 {
		in = t.allocInode()
	}

	node := &t.nodes[idx]
	*node = Node{
		Inode:      in,
		ParentIdx:  parent,
		Mode:       mode,
		NameOffset: nameOff,
		Mtime:      uint32(time.Now().Unix()),
		XattrHead:  0xFFFFFFFF,
	}
	for i := range node.Children {
		node.Children[i] = InvalidIndex
	}

	pn.Children[pn.ChildCount] = uint16(idx)
	pn.ChildCount++
	pn.Mtime = uint32(time.Now().Unix())

	t.bumpModCount()
	return idx, nil
}

// Delete removes the node at idx from its parent's child list. Fails with
// NotEmpty for non-empty directories; the root is undeletable (spec.md
// §4.2).
func (t *Tree) Delete(idx uint32) error {
	if err := t.topology.lock(t.lockTimeout); err != nil {
		return err
	}
	defer t.topology.unlock()
	return t.deleteLocked(idx)
}

func (t *Tree) deleteLocked(idx uint32) error {
	if idx == RootIndex {
		return fserrors.Wrap(fserrors.ErrPermissionDenied, "cannot delete root")
	}
	if int(idx) >= len(t.nodes) {
		return fserrors.ErrNotFound
	}

	nlk := t.locks[idx]
	if err := nlk.lock(t.lockTimeout); err != nil {
		return err
	}
	n := &t.nodes[idx]
	if n.IsFree() {
		nlk.unlock()
		return fserrors.ErrNotFound
	}
	if n.IsDir() && n.ChildCount > 0 {
		nlk.unlock()
		return fserrors.ErrNotEmpty
	}
	parent := n.ParentIdx
	nlk.unlock()

	if parent == InvalidParent {
		return fserrors.Wrap(fserrors.ErrPermissionDenied, "cannot delete root")
	}

	plk := t.locks[parent]
	if err := plk.lock(t.lockTimeout); err != nil {
		return err
	}
	defer plk.unlock()

	pn := &t.nodes[parent]
	found := -1
	for i := uint16(0); i < pn.ChildCount; i++ {
		if pn.Children[i] == uint16(idx) {
			found = int(i)
			break
		}
	}
	if found == -1 {
		return fserrors.Wrap(fserrors.ErrCorrupted, "node %d not listed in parent %d's children", idx, parent)
	}
	for i := found; i < int(pn.ChildCount)-1; i++ {
		pn.Children[i] = pn.Children[i+1]
	}
	pn.Children[pn.ChildCount-1] = InvalidIndex
	pn.ChildCount--
	pn.Mtime = uint32(time.Now().Unix())

	nlk.lock(t.lockTimeout)
	t.nodes[idx] = Node{Inode: 0, ParentIdx: InvalidParent}
	for i := range t.nodes[idx].Children {
		t.nodes[idx].Children[i] = InvalidIndex
	}
	nlk.unlock()
	t.freeList = append(t.freeList, idx)

	t.bumpModCount()
	return nil
}

// allocSlot pops a slot from the free list or grows the array. Caller
// must hold the topology lock.
func (t *Tree) allocSlot() (uint32, error) {
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		return idx, nil
	}
	idx := uint32(len(t.nodes))
	t.nodes = append(t.nodes, Node{})
	t.locks = append(t.locks, &nodeLock{})
	return idx, nil
}

func (t *Tree) bumpModCount() {
	t.modCount++
	if t.rebalanceThreshold > 0 && t.modCount >= t.rebalanceThreshold {
		t.modCount = 0
		if err := t.rebalanceLocked(); err != nil {
			t.log.Warnf("rebalance skipped: %v", err)
		}
	}
}

// SplitPath splits an absolute path into its parent path and final
// component, a pure helper (spec.md §4.2).
func SplitPath(path string) (string, string, error) {
	if len(path) == 0 || path[0] != '/' {
		return "", "", fserrors.Wrap(fserrors.ErrBadName, "path %q must start with /", path)
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "", "", fserrors.Wrap(fserrors.ErrBadName, "path %q has no final component", path)
	}
	i := strings.LastIndex(trimmed, "/")
	parent := trimmed[:i]
	if parent == "" {
		parent = "/"
	}
	final := trimmed[i+1:]
	return parent, final, nil
}

// PathLookup resolves an absolute path to a node index (spec.md §4.2):
// rejects ".." (path-traversal guard), skips ".", rejects names with NUL
// or control bytes, and rejects anything not starting with "/".
func (t *Tree) PathLookup(path string) (uint32, error) {
	if len(path) == 0 || path[0] != '/' {
		return 0, fserrors.Wrap(fserrors.ErrBadName, "path %q must start with /", path)
	}
	if path == "/" {
		return RootIndex, nil
	}

	cur := uint32(RootIndex)
	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if comp == ".." {
			return 0, fserrors.Wrap(fserrors.ErrBadName, "path traversal component '..' rejected")
		}
		if err := validateComponent(comp); err != nil {
			return 0, err
		}
		idx, err := t.FindChild(cur, comp)
		if err != nil {
			return 0, err
		}
		cur = idx
	}
	return cur, nil
}

func validateComponent(name string) error {
	for _, r := range name {
		if r == 0 || r < 0x20 {
			return fserrors.Wrap(fserrors.ErrBadName, "name %q contains NUL or control byte", name)
		}
	}
	return nil
}

// Validate checks invariants (1)-(5) of spec.md §3 and returns a
// descriptive error on the first violation, for use by property tests
// (§8's nary_validate).
func (t *Tree) Validate() error {
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.IsFree() {
			continue
		}
		if uint32(i) != RootIndex {
			if n.ParentIdx == InvalidParent || int(n.ParentIdx) >= len(t.nodes) {
				return fserrors.Wrap(fserrors.ErrCorrupted, "node %d has invalid parent", i)
			}
			p := &t.nodes[n.ParentIdx]
			found := 0
			for c := uint16(0); c < p.ChildCount; c++ {
				if p.Children[c] == uint16(i) {
					found++
				}
			}
			if found != 1 {
				return fserrors.Wrap(fserrors.ErrCorrupted, "node %d listed %d times in parent %d", i, found, n.ParentIdx)
			}
		}
		if !n.IsDir() && n.ChildCount != 0 {
			return fserrors.Wrap(fserrors.ErrCorrupted, "non-directory node %d has children", i)
		}
		seen := map[string]bool{}
		for c := uint16(0); c < n.ChildCount; c++ {
			ci := n.Children[c]
			if ci == InvalidIndex || int(ci) >= len(t.nodes) {
				return fserrors.Wrap(fserrors.ErrCorrupted, "node %d has invalid child slot", i)
			}
			cn := &t.nodes[ci]
			if cn.ParentIdx != uint32(i) {
				return fserrors.Wrap(fserrors.ErrCorrupted, "child %d of %d does not point back", ci, i)
			}
			name, err := t.strings.Get(cn.NameOffset)
			if err != nil {
				return err
			}
			if seen[name] {
				return fserrors.Wrap(fserrors.ErrCorrupted, "duplicate child name %q under %d", name, i)
			}
			seen[name] = true
		}
	}
	return nil
}

// Strings exposes the backing string table, used by internal/layout for
// persistence.
func (t *Tree) Strings() *strtab.Table { return t.strings }

// Nodes returns a snapshot copy of the live node array order, used by
// internal/layout to serialize the inode table section.
func (t *Tree) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// SetNextInode restores the inode allocation counter, used when attaching
// persisted state.
func (t *Tree) SetNextInode(n uint32) { t.nextInode = n }

// NextInode returns the next inode number that would be allocated.
func (t *Tree) NextInode() uint32 { return t.nextInode }

// SetMeta overwrites the size, mtime, and xattr-head fields of the node at
// idx, used by internal/layout to restore persisted metadata InsertAt does
// not itself carry, and by the facade's setattr/write/truncate paths.
func (t *Tree) SetMeta(idx uint32, size int64, mtime uint32, xattrHead uint32) error {
	if int(idx) >= len(t.nodes) {
		return fserrors.ErrNotFound
	}
	lk := t.locks[idx]
	if err := lk.lock(t.lockTimeout); err != nil {
		return err
	}
	defer lk.unlock()
	n := &t.nodes[idx]
	if n.IsFree() {
		return fserrors.ErrNotFound
	}
	n.Size = size
	n.Mtime = mtime
	n.XattrHead = xattrHead
	return nil
}

// SetMode updates the permission/type bits of the node at idx.
func (t *Tree) SetMode(idx uint32, mode uint16) error {
	if int(idx) >= len(t.nodes) {
		return fserrors.ErrNotFound
	}
	lk := t.locks[idx]
	if err := lk.lock(t.lockTimeout); err != nil {
		return err
	}
	defer lk.unlock()
	n := &t.nodes[idx]
	if n.IsFree() {
		return fserrors.ErrNotFound
	}
	n.Mode = mode
	return nil
}

// InodeIndex performs a linear scan for the array index currently holding
// inode. Used only off the hot path (recovery replay, persistence load)
// where an inode->index map has not been built yet.
func (t *Tree) InodeIndex(inode uint32) (uint32, error) {
	for i := range t.nodes {
		if !t.nodes[i].IsFree() && t.nodes[i].Inode == inode {
			return uint32(i), nil
		}
	}
	return 0, fserrors.ErrNotFound
}

// Children returns the live child indices of parent, for directory
// listing and persistence traversal.
func (t *Tree) Children(parent uint32) ([]uint32, error) {
	if err := t.topology.rlock(t.lockTimeout); err != nil {
		return nil, err
	}
	defer t.topology.runlock()
	if int(parent) >= len(t.nodes) {
		return nil, fserrors.ErrNotFound
	}
	plk := t.locks[parent]
	if err := plk.rlock(t.lockTimeout); err != nil {
		return nil, err
	}
	defer plk.runlock()
	pn := &t.nodes[parent]
	out := make([]uint32, 0, pn.ChildCount)
	for c := uint16(0); c < pn.ChildCount; c++ {
		if pn.Children[c] != InvalidIndex {
			out = append(out, uint32(pn.Children[c]))
		}
	}
	return out, nil
}
