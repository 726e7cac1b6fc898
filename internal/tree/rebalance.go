package tree

// rebalance.go implements the optional breadth-first re-layout of
// spec.md §4.2: allocate a fresh node array, walk the tree breadth-first,
// copy each visited node into the next slot, build an old->new index map,
// rewrite every parent_idx and child slot through the map, swap arrays,
// and rebuild the free list from the trailing unused slots. Rebalance is
// semantics-preserving: inode numbers are unchanged, only indices move.
// Caller must hold the topology lock exclusively.
func (t *Tree) rebalanceLocked() error {
	n := len(t.nodes)
	oldToNew := make([]uint32, n)
	for i := range oldToNew {
		oldToNew[i] = InvalidParent
	}

	newNodes := make([]Node, 0, n)
	queue := []uint32{RootIndex}
	oldToNew[RootIndex] = 0

	for len(queue) > 0 {
		old := queue[0]
		queue = queue[1:]

		newIdx := uint32(len(newNodes))
		oldToNew[old] = newIdx
		newNodes = append(newNodes, t.nodes[old])

		on := &t.nodes[old]
		for c := uint16(0); c < on.ChildCount; c++ {
			ci := on.Children[c]
			if ci == InvalidIndex {
				continue
			}
			queue = append(queue, uint32(ci))
		}
	}

	// Rewrite parent/child references through the map.
	for i := range newNodes {
		nn := &newNodes[i]
		if uint32(i) != RootIndex && nn.ParentIdx != InvalidParent {
			nn.ParentIdx = oldToNew[nn.ParentIdx]
		}
		for c := uint16(0); c < nn.ChildCount; c++ {
			if nn.Children[c] != InvalidIndex {
				nn.Children[c] = uint16(oldToNew[nn.Children[c]])
			}
		}
	}

	newLocks := make([]*nodeLock, len(newNodes))
	for i := range newLocks {
		newLocks[i] = &nodeLock{}
	}

	t.nodes = newNodes
	t.locks = newLocks
	t.freeList = t.freeList[:0]

	t.log.Debugf("rebalance: %d live nodes, array compacted to breadth-first order", len(newNodes))
	return nil
}

// Rebalance triggers an out-of-schedule breadth-first rebuild; within the
// module, rebuilds otherwise happen only on the modification-count
// schedule.
func (t *Tree) Rebalance() error {
	if err := t.topology.lock(t.lockTimeout); err != nil {
		return err
	}
	defer t.topology.unlock()
	return t.rebalanceLocked()
}
