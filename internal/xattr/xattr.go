// Package xattr implements extended attributes: a per-inode linked list of
// (namespace, name, value) triples backed by one pooled entry arena
// (spec.md C7). Entries live in a global pool whose free slots are kept
// on a free list; each entry holds its own copy of its value as a byte
// slice, and there is no separate value pool. Grounded on
// pkg/ext4/inode.go's inline-attribute layout idea, generalized into a
// standalone pool since the spec requires pooled (not inline) storage.
package xattr

import (
	"strings"

	"github.com/vorteil/nfs/internal/fserrors"
)

// Namespace tags recognized by spec.md §4.6.
type Namespace uint8

const (
	NamespaceSecurity Namespace = iota
	NamespaceSystem
	NamespaceUser
	NamespaceTrusted
)

var prefixes = map[string]Namespace{
	"security.": NamespaceSecurity,
	"system.":   NamespaceSystem,
	"user.":     NamespaceUser,
	"trusted.":  NamespaceTrusted,
}

const (
	// MaxNameLen and MaxValueLen match spec.md §4.6.
	MaxNameLen  = 255
	MaxValueLen = 65536

	// HeadNone is the sentinel xattr_head value meaning "no attributes".
	HeadNone uint32 = 0xFFFFFFFF
)

// SetFlag controls create-vs-replace semantics for Set.
type SetFlag int

const (
	SetFlagNone SetFlag = iota
	SetFlagCreate
	SetFlagReplace
)

func classify(name string) (Namespace, error) {
	for prefix, ns := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return ns, nil
		}
	}
	return 0, fserrors.Wrap(fserrors.ErrBadNamespace, "xattr name %q has no recognized namespace prefix", name)
}

type entry struct {
	name       string
	namespace  Namespace
	value      []byte
	nextOffset uint32 // index into pool.entries, or HeadNone
}

// Pool is the global xattr storage: a free-listed entry arena. Values are
// not pooled; each entry owns a copy of its value.
type Pool struct {
	entries  []entry
	freeList []uint32
}

// NewPool creates an empty xattr pool.
func NewPool() *Pool {
	return &Pool{}
}

func (p *Pool) alloc() uint32 {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return idx
	}
	p.entries = append(p.entries, entry{})
	return uint32(len(p.entries) - 1)
}

// Get copies the value of name into buf, returning the required length.
// Passing a zero-length buf returns the required length without copying
// (matching spec.md §4.6).
func (p *Pool) Get(head uint32, name string, buf []byte) (int, error) {
	e, _, err := p.find(head, name)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return len(e.value), nil
	}
	if len(buf) < len(e.value) {
		return len(e.value), fserrors.ErrBufferTooSmall
	}
	return copy(buf, e.value), nil
}

func (p *Pool) find(head uint32, name string) (*entry, uint32, error) {
	idx := head
	for idx != HeadNone {
		e := &p.entries[idx]
		if e.name == name {
			return e, idx, nil
		}
		idx = e.nextOffset
	}
	return nil, HeadNone, fserrors.ErrNotFound
}

// Set creates or updates name=value on the list rooted at head, returning
// the (possibly unchanged) new head.
func (p *Pool) Set(head uint32, name string, value []byte, flag SetFlag) (uint32, error) {
	ns, err := classify(name)
	if err != nil {
		return head, err
	}
	if len(name) > MaxNameLen {
		return head, fserrors.Wrap(fserrors.ErrNameTooLong, "xattr name %q", name)
	}
	if len(value) > MaxValueLen {
		return head, fserrors.Wrap(fserrors.ErrValueTooBig, "xattr value for %q is %d bytes", name, len(value))
	}

	if e, _, err := p.find(head, name); err == nil {
		if flag == SetFlagCreate {
			return head, fserrors.Wrap(fserrors.ErrExists, "xattr %q", name)
		}
		e.value = append([]byte{}, value...)
		return head, nil
	}
	if flag == SetFlagReplace {
		return head, fserrors.Wrap(fserrors.ErrNotFound, "xattr %q", name)
	}

	idx := p.alloc()
	p.entries[idx] = entry{name: name, namespace: ns, value: append([]byte{}, value...), nextOffset: head}
	return idx, nil
}

// Remove deletes name from the list rooted at head, returning the new
// head.
func (p *Pool) Remove(head uint32, name string) (uint32, error) {
	var prev uint32 = HeadNone
	idx := head
	for idx != HeadNone {
		e := &p.entries[idx]
		if e.name == name {
			next := e.nextOffset
			p.entries[idx] = entry{}
			p.freeList = append(p.freeList, idx)
			if prev == HeadNone {
				return next, nil
			}
			p.entries[prev].nextOffset = next
			return head, nil
		}
		prev = idx
		idx = e.nextOffset
	}
	return head, fserrors.Wrap(fserrors.ErrNotFound, "xattr %q", name)
}

// List writes a NUL-separated list of attribute names into buf and returns
// the total length required; buf of size 0 returns only the total.
func (p *Pool) List(head uint32, buf []byte) int {
	var names []string
	idx := head
	for idx != HeadNone {
		e := &p.entries[idx]
		names = append(names, e.name)
		idx = e.nextOffset
	}
	total := 0
	for _, n := range names {
		total += len(n) + 1
	}
	if len(buf) == 0 {
		return total
	}
	pos := 0
	for _, n := range names {
		if pos+len(n)+1 > len(buf) {
			break
		}
		pos += copy(buf[pos:], n)
		buf[pos] = 0
		pos++
	}
	return total
}

// FreeAll releases every entry in the list rooted at head, used during
// inode deletion.
func (p *Pool) FreeAll(head uint32) {
	idx := head
	for idx != HeadNone {
		next := p.entries[idx].nextOffset
		p.entries[idx] = entry{}
		p.freeList = append(p.freeList, idx)
		idx = next
	}
}

// ExportedEntry is the persisted shape of one pool slot, exposed for
// internal/layout's xattr-pool section (de)serialization.
type ExportedEntry struct {
	Name       string
	Namespace  Namespace
	Value      []byte
	NextOffset uint32
	Free       bool
}

// Export snapshots the pool's entry arena and free list for persistence.
func (p *Pool) Export() []ExportedEntry {
	free := make(map[uint32]bool, len(p.freeList))
	for _, idx := range p.freeList {
		free[idx] = true
	}
	out := make([]ExportedEntry, len(p.entries))
	for i, e := range p.entries {
		out[i] = ExportedEntry{Name: e.name, Namespace: e.namespace, Value: e.value, NextOffset: e.nextOffset, Free: free[uint32(i)]}
	}
	return out
}

// Import rebuilds a pool from a previously exported entry arena, used when
// attaching persisted state.
func Import(entries []ExportedEntry) *Pool {
	p := &Pool{entries: make([]entry, len(entries))}
	for i, e := range entries {
		if e.Free {
			p.freeList = append(p.freeList, uint32(i))
			continue
		}
		p.entries[i] = entry{name: e.Name, namespace: e.Namespace, value: e.Value, nextOffset: e.NextOffset}
	}
	return p
}
