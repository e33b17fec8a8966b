// Package core implements the data model of the filesystem: the inode
// table, the directory tree, the handle table, the content stores and the
// session dispatching typed requests against them.
package core

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// RootIno is the fixed, well-known inode number of the root directory.
const RootIno uint64 = 1

// Kind is the kind of object an inode describes.
type Kind uint8

const (
	// KindFile is a regular file.
	KindFile Kind = iota

	// KindDir is a directory.
	KindDir

	// KindSymlink is a symbolic link.
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Attr is one atomic snapshot of an inode's metadata.
type Attr struct {
	Ino    uint64      // Inode number, stable for the process lifetime.
	Kind   Kind        // Object kind (file, directory, symlink).
	Size   uint64      // Content size in bytes (files and symlinks).
	Mode   os.FileMode // Permission bits only, no type bits.
	UID    uint32      // Owning user.
	GID    uint32      // Owning group.
	Nlink  uint32      // Directory entries naming this inode.
	Atime  time.Time   // Last access.
	Mtime  time.Time   // Last content modification.
	Ctime  time.Time   // Last metadata change.
	Crtime time.Time   // Creation.
	Target string      // Symlink target (KindSymlink only).
}

// AttrPatch is a partial update of an inode's metadata.
// Nil fields are left untouched.
type AttrPatch struct {
	Mode  *os.FileMode
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// inode is one table slot. The embedded mutex makes attribute snapshots
// and reference-count transitions atomic with respect to each other.
type inode struct {
	mu         sync.Mutex
	attr       Attr
	entryRefs  uint32 // directory entries naming this inode
	handleRefs uint32 // open handles referencing this inode
}

// InodeTable is the authoritative mapping from inode numbers to metadata.
// Numbers are allocated monotonically and never reused while the process
// runs, so a stale handle can never alias a newer object.
type InodeTable struct {
	mu     sync.RWMutex
	inodes map[uint64]*inode
	next   atomic.Uint64
	live   atomic.Int64
}

// NewInodeTable returns a pointer to a new [InodeTable] containing only
// the root directory inode.
func NewInodeTable(rootMode os.FileMode, uid, gid uint32) *InodeTable {
	t := &InodeTable{
		inodes: make(map[uint64]*inode),
	}

	now := time.Now()
	t.inodes[RootIno] = &inode{
		attr: Attr{
			Ino:    RootIno,
			Kind:   KindDir,
			Mode:   rootMode,
			UID:    uid,
			GID:    gid,
			Nlink:  1,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
			Crtime: now,
		},
		entryRefs: 1, // the root is its own anchor, never collected
	}
	t.next.Store(RootIno)
	t.live.Store(1)

	return t
}

// Allocate creates a new inode of the given kind and returns its initial
// attribute snapshot. The new inode starts with zero references; the
// caller links it into the tree or opens it before the next quiescent
// point.
func (t *InodeTable) Allocate(kind Kind, mode os.FileMode, uid, gid uint32, target string) Attr {
	ino := t.next.Add(1)
	now := time.Now()

	attr := Attr{
		Ino:    ino,
		Kind:   kind,
		Mode:   mode.Perm(),
		UID:    uid,
		GID:    gid,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
		Target: target,
	}
	if kind == KindSymlink {
		attr.Size = uint64(len(target))
	}

	t.mu.Lock()
	t.inodes[ino] = &inode{attr: attr}
	t.mu.Unlock()
	t.live.Add(1)

	return attr
}

// Lookup returns an atomic snapshot of the inode's attributes.
func (t *InodeTable) Lookup(ino uint64) (Attr, error) {
	n, err := t.get(ino)
	if err != nil {
		return Attr{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.attr, nil
}

// Update applies a partial attribute update and returns the new snapshot.
// Any applied change also advances the metadata-change timestamp.
func (t *InodeTable) Update(ino uint64, patch AttrPatch) (Attr, error) {
	n, err := t.get(ino)
	if err != nil {
		return Attr{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if patch.Mode != nil {
		n.attr.Mode = patch.Mode.Perm()
	}
	if patch.UID != nil {
		n.attr.UID = *patch.UID
	}
	if patch.GID != nil {
		n.attr.GID = *patch.GID
	}
	if patch.Size != nil {
		n.attr.Size = *patch.Size
	}
	if patch.Atime != nil {
		n.attr.Atime = *patch.Atime
	}
	if patch.Mtime != nil {
		n.attr.Mtime = *patch.Mtime
	}
	n.attr.Ctime = time.Now()

	return n.attr, nil
}

// SetSize records a new content size after a write or truncate,
// advancing the modification timestamps.
func (t *InodeTable) SetSize(ino uint64, size uint64) error {
	n, err := t.get(ino)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	n.attr.Size = size
	n.attr.Mtime = now
	n.attr.Ctime = now

	return nil
}

// TouchModified advances the modification timestamps after a mutating
// operation, consistent with POSIX metadata expectations.
func (t *InodeTable) TouchModified(ino uint64) error {
	n, err := t.get(ino)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	n.attr.Mtime = now
	n.attr.Ctime = now

	return nil
}

// TouchAccessed advances the access timestamp after a read.
func (t *InodeTable) TouchAccessed(ino uint64) error {
	n, err := t.get(ino)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.attr.Atime = time.Now()

	return nil
}

// RefEntry records one more directory entry naming the inode.
func (t *InodeTable) RefEntry(ino uint64) error {
	n, err := t.get(ino)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.entryRefs++
	n.attr.Nlink = n.entryRefs
	n.attr.Ctime = time.Now()

	return nil
}

// UnrefEntry records the removal of a directory entry naming the inode.
// It reports whether the inode reached zero references and was collected;
// a collected inode's content must be reclaimed by the caller.
func (t *InodeTable) UnrefEntry(ino uint64) (bool, error) {
	return t.unref(ino, true)
}

// RefHandle records one more open handle referencing the inode.
func (t *InodeTable) RefHandle(ino uint64) error {
	n, err := t.get(ino)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.handleRefs++

	return nil
}

// UnrefHandle records the release of an open handle referencing the inode.
// It reports whether the inode reached zero references and was collected.
func (t *InodeTable) UnrefHandle(ino uint64) (bool, error) {
	return t.unref(ino, false)
}

// Discard drops a freshly allocated inode that was never referenced,
// undoing an allocation whose directory insert failed.
func (t *InodeTable) Discard(ino uint64) {
	n, err := t.get(ino)
	if err != nil {
		return
	}

	n.mu.Lock()
	unreferenced := n.entryRefs == 0 && n.handleRefs == 0
	n.mu.Unlock()

	if unreferenced {
		t.mu.Lock()
		delete(t.inodes, ino)
		t.mu.Unlock()
		t.live.Add(-1)
	}
}

// Refs returns the current entry and handle reference counts.
func (t *InodeTable) Refs(ino uint64) (entries uint32, handles uint32, err error) {
	n, err := t.get(ino)
	if err != nil {
		return 0, 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.entryRefs, n.handleRefs, nil
}

// Live returns the number of live inodes in the table.
func (t *InodeTable) Live() int64 {
	return t.live.Load()
}

// NextIno returns the highest inode number handed out so far.
func (t *InodeTable) NextIno() uint64 {
	return t.next.Load()
}

func (t *InodeTable) unref(ino uint64, entry bool) (bool, error) {
	n, err := t.get(ino)
	if err != nil {
		return false, err
	}

	n.mu.Lock()
	if entry {
		if n.entryRefs == 0 {
			n.mu.Unlock()

			return false, fmt.Errorf("%w: entry unref of unreferenced inode %d", ErrInvalid, ino)
		}
		n.entryRefs--
		n.attr.Nlink = n.entryRefs
		n.attr.Ctime = time.Now()
	} else {
		if n.handleRefs == 0 {
			n.mu.Unlock()

			return false, fmt.Errorf("%w: handle unref of unreferenced inode %d", ErrInvalid, ino)
		}
		n.handleRefs--
	}
	collect := n.entryRefs == 0 && n.handleRefs == 0
	n.mu.Unlock()

	if collect {
		t.mu.Lock()
		delete(t.inodes, ino)
		t.mu.Unlock()
		t.live.Add(-1)
	}

	return collect, nil
}

func (t *InodeTable) get(ino uint64) (*inode, error) {
	t.mu.RLock()
	n, ok := t.inodes[ino]
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: inode %d", ErrNotFound, ino)
	}

	return n, nil
}
