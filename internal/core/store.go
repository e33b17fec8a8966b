package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store is the backing storage for regular file bytes. Content is only
// ever mutated through the session's dispatch path; every implementation
// serializes writers per inode (single writer, multiple readers), so
// overlapping writes never interleave byte ranges — the last writer to
// complete wins.
type Store interface {
	// Create materializes empty content for a freshly allocated inode.
	Create(ino uint64) error

	// ReadAt returns up to n bytes at off. Reads past end-of-file return
	// a short (possibly empty) result, not an error.
	ReadAt(ino uint64, off int64, n int) ([]byte, error)

	// WriteAt stores p at off, zero-filling any gap past the current
	// end-of-file, and returns the bytes written and the new size.
	WriteAt(ino uint64, off int64, p []byte) (int, uint64, error)

	// Append stores p at the current end-of-file and returns the write
	// offset, the bytes written and the new size.
	Append(ino uint64, p []byte) (int64, int, uint64, error)

	// Truncate grows (zero-filled) or shrinks the content to size.
	Truncate(ino uint64, size uint64) error

	// Size returns the current content size.
	Size(ino uint64) (uint64, error)

	// Reclaim drops the content of a collected inode.
	Reclaim(ino uint64) error

	// Usage returns the total bytes held by the store.
	Usage() uint64

	// Close releases all store resources.
	Close() error
}

// memFile is one in-memory content block with its own reader/writer lock.
type memFile struct {
	mu   sync.RWMutex
	data []byte
}

// MemStore is the volatile content store: all bytes live on the heap and
// are lost when the process exits.
type MemStore struct {
	mu    sync.RWMutex
	files map[uint64]*memFile
	usage atomic.Int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a pointer to a new, empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[uint64]*memFile),
	}
}

// Create implements [Store].
func (s *MemStore) Create(ino uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[ino]; ok {
		return fmt.Errorf("%w: content for inode %d exists", ErrExist, ino)
	}
	s.files[ino] = &memFile{}

	return nil
}

// ReadAt implements [Store].
func (s *MemStore) ReadAt(ino uint64, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("%w: read %d bytes at offset %d", ErrInvalid, n, off)
	}

	f, err := s.file(ino)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if off >= int64(len(f.data)) {
		return nil, nil
	}
	end := off + int64(n)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}

	out := make([]byte, end-off)
	copy(out, f.data[off:end])

	return out, nil
}

// WriteAt implements [Store].
func (s *MemStore) WriteAt(ino uint64, off int64, p []byte) (int, uint64, error) {
	if off < 0 {
		return 0, 0, fmt.Errorf("%w: write at offset %d", ErrInvalid, off)
	}

	f, err := s.file(ino)
	if err != nil {
		return 0, 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	old := len(f.data)
	n, size := f.writeLocked(off, p)
	s.usage.Add(int64(size) - int64(old))

	return n, size, nil
}

// Append implements [Store].
func (s *MemStore) Append(ino uint64, p []byte) (int64, int, uint64, error) {
	f, err := s.file(ino)
	if err != nil {
		return 0, 0, 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	off := int64(len(f.data))
	n, size := f.writeLocked(off, p)
	s.usage.Add(int64(n))

	return off, n, size, nil
}

// Truncate implements [Store].
func (s *MemStore) Truncate(ino uint64, size uint64) error {
	f, err := s.file(ino)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	old := len(f.data)
	switch {
	case uint64(old) > size:
		f.data = f.data[:size]
	case uint64(old) < size:
		f.data = append(f.data, make([]byte, size-uint64(old))...)
	}
	s.usage.Add(int64(size) - int64(old))

	return nil
}

// Size implements [Store].
func (s *MemStore) Size(ino uint64) (uint64, error) {
	f, err := s.file(ino)
	if err != nil {
		return 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return uint64(len(f.data)), nil
}

// Reclaim implements [Store].
func (s *MemStore) Reclaim(ino uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[ino]
	if !ok {
		return fmt.Errorf("%w: content for inode %d", ErrNotFound, ino)
	}
	s.usage.Add(-int64(len(f.data)))
	delete(s.files, ino)

	return nil
}

// Usage implements [Store].
func (s *MemStore) Usage() uint64 {
	u := s.usage.Load()
	if u < 0 {
		return 0
	}

	return uint64(u)
}

// Close implements [Store].
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = make(map[uint64]*memFile)
	s.usage.Store(0)

	return nil
}

func (s *MemStore) file(ino uint64) (*memFile, error) {
	s.mu.RLock()
	f, ok := s.files[ino]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: content for inode %d", ErrNotFound, ino)
	}

	return f, nil
}

// writeLocked stores p at off under the held writer lock, zero-filling
// any gap, and returns the bytes written and the new size.
func (f *memFile) writeLocked(off int64, p []byte) (int, uint64) {
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], p)

	return len(p), uint64(len(f.data))
}
