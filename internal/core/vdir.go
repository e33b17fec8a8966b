package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sys/unix"
)

const (
	objectsSubdir = "sfs-objects"
	objectPerm    = 0o600

	defaultFDCacheTTL      = 60 * time.Second
	defaultFDCacheCapacity = 128
)

// vdirObject is one reference-counted open object file. The descriptor
// cache holds one reference; every in-flight operation holds another, so
// a TTL eviction never closes a descriptor mid-read.
type vdirObject struct {
	f    *os.File
	refs atomic.Int32
}

func (o *vdirObject) retain() {
	o.refs.Add(1)
}

func (o *vdirObject) release() {
	if o.refs.Add(-1) == 0 {
		_ = o.f.Close()
	}
}

// VdirStore is the persistent content store: file bytes live as one flat
// object file per inode beneath the backing host directory, so the host
// filesystem persists them. The namespace and all attributes remain
// in-memory; only content survives the process.
//
// Open descriptors are kept in a TTL cache and evicted (closed) when
// unused, keeping the store clear of the operating system descriptor
// limit under many live inodes.
type VdirStore struct {
	root    string
	objects string

	openMu sync.Mutex
	fds    *ttlcache.Cache[uint64, *vdirObject]
	locks  sync.Map // ino -> *sync.RWMutex
	usage  atomic.Int64
	done   chan struct{}
}

var _ Store = (*VdirStore)(nil)

// NewVdirStore returns a pointer to a new [VdirStore] rooted at the given
// backing directory, which must exist and be writable.
// You must call Close() once all work is complete.
func NewVdirStore(backing string) (*VdirStore, error) {
	info, err := os.Stat(backing)
	if err != nil {
		return nil, fmt.Errorf("%w: stat backing dir: %v", ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: backing path %q is not a directory", ErrInvalid, backing)
	}

	objects := filepath.Join(backing, objectsSubdir)
	if err := os.MkdirAll(objects, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create object dir: %v", ErrIO, err)
	}

	s := &VdirStore{
		root:    backing,
		objects: objects,
		done:    make(chan struct{}),
	}

	s.fds = ttlcache.New(
		ttlcache.WithTTL[uint64, *vdirObject](defaultFDCacheTTL),
		ttlcache.WithCapacity[uint64, *vdirObject](defaultFDCacheCapacity),
	)
	s.fds.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[uint64, *vdirObject]) {
		item.Value().release()
	})
	go func() {
		defer close(s.done)
		s.fds.Start()
	}()

	return s, nil
}

// Create implements [Store].
func (s *VdirStore) Create(ino uint64) error {
	f, err := os.OpenFile(s.objectPath(ino), os.O_RDWR|os.O_CREATE|os.O_EXCL, objectPerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: object for inode %d exists", ErrExist, ino)
		}

		return fmt.Errorf("%w: create object for inode %d: %v", ErrIO, ino, err)
	}

	obj := &vdirObject{f: f}
	obj.refs.Store(1) // cache reference

	s.openMu.Lock()
	s.fds.Set(ino, obj, ttlcache.DefaultTTL)
	s.openMu.Unlock()

	return nil
}

// ReadAt implements [Store].
func (s *VdirStore) ReadAt(ino uint64, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("%w: read %d bytes at offset %d", ErrInvalid, n, off)
	}

	lock := s.lock(ino)
	lock.RLock()
	defer lock.RUnlock()

	obj, err := s.object(ino)
	if err != nil {
		return nil, err
	}
	defer obj.release()

	buf := make([]byte, n)
	read, err := obj.f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read object for inode %d: %v", ErrIO, ino, err)
	}

	return buf[:read], nil
}

// WriteAt implements [Store]. A write past end-of-file leaves a hole
// which the host filesystem reads back zero-filled.
func (s *VdirStore) WriteAt(ino uint64, off int64, p []byte) (int, uint64, error) {
	if off < 0 {
		return 0, 0, fmt.Errorf("%w: write at offset %d", ErrInvalid, off)
	}

	lock := s.lock(ino)
	lock.Lock()
	defer lock.Unlock()

	return s.writeLocked(ino, off, p)
}

// Append implements [Store].
func (s *VdirStore) Append(ino uint64, p []byte) (int64, int, uint64, error) {
	lock := s.lock(ino)
	lock.Lock()
	defer lock.Unlock()

	obj, err := s.object(ino)
	if err != nil {
		return 0, 0, 0, err
	}
	old, err := objectSize(obj)
	obj.release()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: stat object for inode %d: %v", ErrIO, ino, err)
	}

	off := int64(old)
	n, size, err := s.writeLocked(ino, off, p)

	return off, n, size, err
}

// Truncate implements [Store].
func (s *VdirStore) Truncate(ino uint64, size uint64) error {
	lock := s.lock(ino)
	lock.Lock()
	defer lock.Unlock()

	obj, err := s.object(ino)
	if err != nil {
		return err
	}
	defer obj.release()

	old, err := objectSize(obj)
	if err != nil {
		return fmt.Errorf("%w: stat object for inode %d: %v", ErrIO, ino, err)
	}
	if err := obj.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("%w: truncate object for inode %d: %v", ErrIO, ino, err)
	}
	s.usage.Add(int64(size) - int64(old))

	return nil
}

// Size implements [Store].
func (s *VdirStore) Size(ino uint64) (uint64, error) {
	lock := s.lock(ino)
	lock.RLock()
	defer lock.RUnlock()

	obj, err := s.object(ino)
	if err != nil {
		return 0, err
	}
	defer obj.release()

	size, err := objectSize(obj)
	if err != nil {
		return 0, fmt.Errorf("%w: stat object for inode %d: %v", ErrIO, ino, err)
	}

	return size, nil
}

// Reclaim implements [Store].
func (s *VdirStore) Reclaim(ino uint64) error {
	lock := s.lock(ino)
	lock.Lock()
	defer lock.Unlock()

	if obj, err := s.object(ino); err == nil {
		if size, err := objectSize(obj); err == nil {
			s.usage.Add(-int64(size))
		}
		obj.release()
	}

	s.openMu.Lock()
	s.fds.Delete(ino) // eviction drops the cache reference
	s.openMu.Unlock()

	if err := os.Remove(s.objectPath(ino)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove object for inode %d: %v", ErrIO, ino, err)
	}
	s.locks.Delete(ino)

	return nil
}

// Usage implements [Store].
func (s *VdirStore) Usage() uint64 {
	u := s.usage.Load()
	if u < 0 {
		return 0
	}

	return uint64(u)
}

// Close implements [Store]. It stops the descriptor cache and closes all
// cached descriptors, blocking until the cache loop has exited.
func (s *VdirStore) Close() error {
	s.fds.Stop()
	<-s.done
	s.fds.DeleteAll()

	return nil
}

// Sync flushes the inode's object file to the host device.
func (s *VdirStore) Sync(ino uint64) error {
	lock := s.lock(ino)
	lock.Lock()
	defer lock.Unlock()

	obj, err := s.object(ino)
	if err != nil {
		return err
	}
	defer obj.release()

	if err := obj.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync object for inode %d: %v", ErrIO, ino, err)
	}

	return nil
}

// DeviceStats reports block usage of the host device beneath the backing
// directory, for statfs replies.
func (s *VdirStore) DeviceStats() (blocks, bfree, bavail uint64, bsize uint32, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("%w: statfs backing dir: %v", ErrIO, err)
	}

	return st.Blocks, st.Bfree, st.Bavail, uint32(st.Bsize), nil
}

// SweepStale removes object files left behind by a previous process,
// whose namespace did not survive. It returns the number of removed
// objects.
func (s *VdirStore) SweepStale() (int, error) {
	entries, err := os.ReadDir(s.objects)
	if err != nil {
		return 0, fmt.Errorf("%w: read object dir: %v", ErrIO, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.objects, e.Name())); err != nil {
			return removed, fmt.Errorf("%w: remove stale object %q: %v", ErrIO, e.Name(), err)
		}
		removed++
	}

	return removed, nil
}

func (s *VdirStore) writeLocked(ino uint64, off int64, p []byte) (int, uint64, error) {
	obj, err := s.object(ino)
	if err != nil {
		return 0, 0, err
	}
	defer obj.release()

	old, err := objectSize(obj)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: stat object for inode %d: %v", ErrIO, ino, err)
	}

	n, err := obj.f.WriteAt(p, off)
	if err != nil {
		return n, 0, fmt.Errorf("%w: write object for inode %d: %v", ErrIO, ino, err)
	}

	size := old
	if end := uint64(off) + uint64(n); end > size {
		size = end
	}
	s.usage.Add(int64(size) - int64(old))

	return n, size, nil
}

// object returns the cached open descriptor for the inode, opening and
// caching it on a miss. The returned object carries a caller reference
// which must be released after use.
func (s *VdirStore) object(ino uint64) (*vdirObject, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if item := s.fds.Get(ino); item != nil {
		obj := item.Value()
		obj.retain()

		return obj, nil
	}

	f, err := os.OpenFile(s.objectPath(ino), os.O_RDWR, objectPerm)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: object for inode %d", ErrNotFound, ino)
		}

		return nil, fmt.Errorf("%w: open object for inode %d: %v", ErrIO, ino, err)
	}

	obj := &vdirObject{f: f}
	obj.refs.Store(2) // cache reference + caller reference
	s.fds.Set(ino, obj, ttlcache.DefaultTTL)

	return obj, nil
}

func (s *VdirStore) lock(ino uint64) *sync.RWMutex {
	l, _ := s.locks.LoadOrStore(ino, &sync.RWMutex{})

	return l.(*sync.RWMutex)
}

func (s *VdirStore) objectPath(ino uint64) string {
	return filepath.Join(s.objects, fmt.Sprintf("%d.dat", ino))
}

func objectSize(obj *vdirObject) (uint64, error) {
	info, err := obj.f.Stat()
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	return uint64(info.Size()), nil
}
