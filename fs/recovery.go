package fs

// ApplyInsert implements recovery.DataPlane. parent is the parent's inode
// number (not a tree index — indices never survive a restart). The
// operation is idempotent: if the child already exists, redo has nothing
// to do.
func (f *Facade) ApplyInsert(parent uint32, inode uint32, name string, mode uint16) error {
	parentIdx, err := f.tree.InodeIndex(parent)
	if err != nil {
		return err
	}
	if _, err := f.tree.FindChild(parentIdx, name); err == nil {
		return nil
	}
	_, err = f.tree.InsertAt(parentIdx, name, mode, inode)
	return err
}

// ApplyDelete implements recovery.DataPlane, idempotently: a missing child
// means a previous pass (or the original operation) already removed it.
func (f *Facade) ApplyDelete(parent uint32, name string) error {
	parentIdx, err := f.tree.InodeIndex(parent)
	if err != nil {
		return err
	}
	idx, err := f.tree.FindChild(parentIdx, name)
	if err != nil {
		return nil
	}
	node, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	if err := f.tree.Delete(idx); err != nil {
		return err
	}
	f.freeInodeStorage(node.Inode)
	return nil
}

// ApplyUpdate implements recovery.DataPlane.
func (f *Facade) ApplyUpdate(inode uint32, size int64, mtime uint32, mode uint16) error {
	idx, err := f.tree.InodeIndex(inode)
	if err != nil {
		return err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	if err := f.tree.SetMeta(idx, size, mtime, n.XattrHead); err != nil {
		return err
	}
	return f.tree.SetMode(idx, mode)
}

// ApplyWrite implements recovery.DataPlane. Per the facade's whole-file
// write model, data already carries the entire post-write content; offset
// is unused beyond the interface contract (always 0 for writes this
// facade itself produced).
func (f *Facade) ApplyWrite(inode uint32, offset int64, data []byte) error {
	idx, err := f.tree.InodeIndex(inode)
	if err != nil {
		return err
	}
	n, err := f.tree.Node(idx)
	if err != nil {
		return err
	}
	if err := f.storeBlob(inode, data); err != nil {
		return err
	}
	return f.tree.SetMeta(idx, int64(len(data)), n.Mtime, n.XattrHead)
}
