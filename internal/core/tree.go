package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry is one (name -> inode) binding within a parent directory.
type Entry struct {
	Name string
	Ino  uint64
	Kind Kind
}

// dirNode holds the live entry set of one directory. The embedded mutex
// gives a racing lookup either the pre- or the post-state of a concurrent
// insert or remove, never a partial one.
type dirNode struct {
	mu      sync.RWMutex
	parent  uint64
	entries map[string]Entry
}

// Tree maintains the parent/child relationships of the filesystem and
// resolves name lookups to inode numbers. Name matching is exact-match,
// case-sensitive and byte-wise; "." and ".." are synthesized at
// resolution time, never stored.
//
// Lock discipline: the tree mutex guards the directory map and is always
// acquired before any directory mutex. Entry-level operations share it
// (RLock), so operations on unrelated directories proceed in parallel;
// operations that add, drop or move a directory hold it exclusively.
// When two directory mutexes are needed they are acquired in increasing
// inode-number order.
type Tree struct {
	mu   sync.RWMutex
	dirs map[uint64]*dirNode
}

// NewTree returns a pointer to a new [Tree] holding only the root
// directory, which is its own parent.
func NewTree() *Tree {
	return &Tree{
		dirs: map[uint64]*dirNode{
			RootIno: {parent: RootIno, entries: make(map[string]Entry)},
		},
	}
}

// ValidName reports whether name is usable as a directory entry name.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\x00")
}

// Resolve looks up name within the parent directory.
func (t *Tree) Resolve(parent uint64, name string) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.dirs[parent]
	if !ok {
		return Entry{}, fmt.Errorf("%w: directory inode %d", ErrNotFound, parent)
	}

	// Synthesized, never stored.
	switch name {
	case ".":
		return Entry{Name: ".", Ino: parent, Kind: KindDir}, nil
	case "..":
		return Entry{Name: "..", Ino: d.parent, Kind: KindDir}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q in directory inode %d", ErrNotFound, name, parent)
	}

	return e, nil
}

// Insert binds name to the entry's inode within the parent directory.
// Inserting a directory also registers its (empty) entry set.
func (t *Tree) Insert(parent uint64, e Entry) error {
	if !ValidName(e.Name) {
		return fmt.Errorf("%w: entry name %q", ErrInvalid, e.Name)
	}

	if e.Kind == KindDir {
		t.mu.Lock()
		defer t.mu.Unlock()
	} else {
		t.mu.RLock()
		defer t.mu.RUnlock()
	}

	d, ok := t.dirs[parent]
	if !ok {
		return fmt.Errorf("%w: directory inode %d", ErrNotFound, parent)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.entries[e.Name]; ok {
		return fmt.Errorf("%w: %q in directory inode %d", ErrExist, e.Name, parent)
	}
	d.entries[e.Name] = e

	if e.Kind == KindDir {
		t.dirs[e.Ino] = &dirNode{parent: parent, entries: make(map[string]Entry)}
	}

	return nil
}

// Remove unbinds name from the parent directory and returns the removed
// entry. The dir flag selects the expected entry kind: removing a
// directory without it fails with [ErrIsDir], removing a non-directory
// with it fails with [ErrNotDir]. Removing a non-empty directory fails
// with [ErrNotEmpty]. The kind check happens under the tree lock, so
// callers act on exactly the entry that was removed even when the name
// is concurrently recycled.
func (t *Tree) Remove(parent uint64, name string, dir bool) (Entry, error) {
	if !ValidName(name) {
		return Entry{}, fmt.Errorf("%w: entry name %q", ErrInvalid, name)
	}

	// Exclusive: a removed directory drops out of the directory map.
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.dirs[parent]
	if !ok {
		return Entry{}, fmt.Errorf("%w: directory inode %d", ErrNotFound, parent)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q in directory inode %d", ErrNotFound, name, parent)
	}
	if dir && e.Kind != KindDir {
		return Entry{}, fmt.Errorf("%w: rmdir non-directory %q", ErrNotDir, name)
	}
	if !dir && e.Kind == KindDir {
		return Entry{}, fmt.Errorf("%w: unlink directory %q", ErrIsDir, name)
	}

	if e.Kind == KindDir {
		child, ok := t.dirs[e.Ino]
		if !ok {
			return Entry{}, fmt.Errorf("%w: directory inode %d has no entry set", ErrIO, e.Ino)
		}
		if len(child.entries) > 0 {
			return Entry{}, fmt.Errorf("%w: %q in directory inode %d", ErrNotEmpty, name, parent)
		}
		delete(t.dirs, e.Ino)
	}
	delete(d.entries, name)

	return e, nil
}

// Rename moves the binding (oldParent, oldName) to (newParent, newName).
// Both changes become visible atomically. An existing binding at the
// destination fails the move with [ErrExist]; moving a directory beneath
// itself fails with [ErrCycle].
func (t *Tree) Rename(oldParent uint64, oldName string, newParent uint64, newName string) (Entry, error) {
	if !ValidName(oldName) || !ValidName(newName) {
		return Entry{}, fmt.Errorf("%w: entry names %q -> %q", ErrInvalid, oldName, newName)
	}

	// Exclusive: the moved entry may be a directory, whose parent link in
	// the directory map changes. Holding the tree lock also makes the
	// ancestor walk for the cycle check stable.
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.dirs[oldParent]
	if !ok {
		return Entry{}, fmt.Errorf("%w: directory inode %d", ErrNotFound, oldParent)
	}
	dst, ok := t.dirs[newParent]
	if !ok {
		return Entry{}, fmt.Errorf("%w: directory inode %d", ErrNotFound, newParent)
	}

	lockPair(oldParent, src, newParent, dst)
	defer unlockPair(src, dst)

	e, ok := src.entries[oldName]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q in directory inode %d", ErrNotFound, oldName, oldParent)
	}
	if oldParent == newParent && oldName == newName {
		return e, nil
	}
	if _, ok := dst.entries[newName]; ok {
		return Entry{}, fmt.Errorf("%w: %q in directory inode %d", ErrExist, newName, newParent)
	}

	if e.Kind == KindDir {
		if err := t.checkCycle(e.Ino, newParent); err != nil {
			return Entry{}, err
		}
	}

	delete(src.entries, oldName)
	moved := Entry{Name: newName, Ino: e.Ino, Kind: e.Kind}
	dst.entries[newName] = moved

	if e.Kind == KindDir {
		t.dirs[e.Ino].parent = newParent
	}

	return moved, nil
}

// List returns the directory's entries ordered by name.
func (t *Tree) List(parent uint64) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.dirs[parent]
	if !ok {
		return nil, fmt.Errorf("%w: directory inode %d", ErrNotFound, parent)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// Parent returns the parent directory inode of the given directory.
func (t *Tree) Parent(ino uint64) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.dirs[ino]
	if !ok {
		return 0, fmt.Errorf("%w: directory inode %d", ErrNotFound, ino)
	}

	return d.parent, nil
}

// Len returns the number of entries in the given directory.
func (t *Tree) Len(ino uint64) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.dirs[ino]
	if !ok {
		return 0, fmt.Errorf("%w: directory inode %d", ErrNotFound, ino)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.entries), nil
}

// checkCycle rejects moving directory ino beneath itself. Callers hold
// the tree lock exclusively, which keeps the parent chain stable.
func (t *Tree) checkCycle(ino uint64, newParent uint64) error {
	for cur := newParent; ; {
		if cur == ino {
			return fmt.Errorf("%w: directory inode %d", ErrCycle, ino)
		}
		if cur == RootIno {
			return nil
		}

		d, ok := t.dirs[cur]
		if !ok {
			return fmt.Errorf("%w: directory inode %d has no entry set", ErrIO, cur)
		}
		cur = d.parent
	}
}

// lockPair acquires two directory mutexes in increasing inode-number
// order, preventing deadlock under concurrent renames.
func lockPair(aIno uint64, a *dirNode, bIno uint64, b *dirNode) {
	switch {
	case a == b:
		a.mu.Lock()
	case aIno < bIno:
		a.mu.Lock()
		b.mu.Lock()
	default:
		b.mu.Lock()
		a.mu.Lock()
	}
}

func unlockPair(a *dirNode, b *dirNode) {
	if a == b {
		a.mu.Unlock()

		return
	}
	a.mu.Unlock()
	b.mu.Unlock()
}
