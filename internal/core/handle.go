package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// OpenFlags carries the access mode of one open handle.
type OpenFlags struct {
	Read   bool
	Write  bool
	Append bool
	Trunc  bool
}

// Handle is one live reference to an open inode. Handle identifiers are
// only meaningful within the lifetime of one mount session.
//
// Directory handles carry a snapshot of the entry listing taken at open
// time: iteration through an open handle is undisturbed by concurrent
// create or unlink in the same directory. A fresh open observes the live
// state.
type Handle struct {
	ID    uint64
	Ino   uint64
	Flags OpenFlags

	mu      sync.Mutex
	offset  int64
	dirents []Entry
	cursor  int
}

// Offset returns the handle's current byte offset.
func (h *Handle) Offset() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.offset
}

// Advance moves the handle's byte offset to off+n, tracking sequential
// access through the handle.
func (h *Handle) Advance(off int64, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.offset = off + int64(n)
}

// NextDirent returns the next entry of the directory snapshot, or false
// when the iteration cursor reached the end of the stream.
func (h *Handle) NextDirent() (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor >= len(h.dirents) {
		return Entry{}, false
	}
	e := h.dirents[h.cursor]
	h.cursor++

	return e, true
}

// RewindDir resets the directory iteration cursor to the start of the
// snapshot taken at open time.
func (h *Handle) RewindDir() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cursor = 0
}

// Dirents returns the directory snapshot taken at open time.
func (h *Handle) Dirents() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.dirents))
	copy(out, h.dirents)

	return out
}

// HandleTable tracks the open handles of one mount session.
type HandleTable struct {
	mu      sync.RWMutex
	handles map[uint64]*Handle
	next    atomic.Uint64
}

// NewHandleTable returns a pointer to a new, empty [HandleTable].
func NewHandleTable() *HandleTable {
	return &HandleTable{
		handles: make(map[uint64]*Handle),
	}
}

// Open registers a new handle for the inode. For directories, dirents is
// the entry snapshot captured at open time; nil for files.
func (t *HandleTable) Open(ino uint64, flags OpenFlags, dirents []Entry) *Handle {
	h := &Handle{
		ID:      t.next.Add(1),
		Ino:     ino,
		Flags:   flags,
		dirents: dirents,
	}

	t.mu.Lock()
	t.handles[h.ID] = h
	t.mu.Unlock()

	return h
}

// Get returns the live handle with the given identifier.
func (t *HandleTable) Get(id uint64) (*Handle, error) {
	t.mu.RLock()
	h, ok := t.handles[id]
	t.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrStaleHandle, id)
	}

	return h, nil
}

// Close removes the handle from the table and returns it, so the caller
// can drop its inode reference.
func (t *HandleTable) Close(id uint64) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrStaleHandle, id)
	}
	delete(t.handles, id)

	return h, nil
}

// ForInode returns any live handle referencing the given inode.
func (t *HandleTable) ForInode(ino uint64) (*Handle, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, h := range t.handles {
		if h.Ino == ino {
			return h, nil
		}
	}

	return nil, fmt.Errorf("%w: no open handle for inode %d", ErrStaleHandle, ino)
}

// DrainAll removes and returns every open handle. Used on session
// teardown to correct reference counts before the process exits.
func (t *HandleTable) DrainAll() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h)
	}
	t.handles = make(map[uint64]*Handle)

	return out
}

// Len returns the number of open handles.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.handles)
}
