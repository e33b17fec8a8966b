package core

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
)

const (
	accessRead  = 0b100
	accessWrite = 0b010
	accessExec  = 0b001

	statfsBsize = 4096

	// Synthetic free-space figure for the volatile store: the heap has
	// no fixed capacity, so statfs advertises this much headroom.
	memFreeBlocks = 1 << 18 // 1 GiB at 4 KiB blocks
)

// syncer is implemented by stores that can make an inode's content
// durable on request.
type syncer interface {
	Sync(ino uint64) error
}

// deviceStatser is implemented by stores backed by a real host device.
type deviceStatser interface {
	DeviceStats() (blocks, bfree, bavail uint64, bsize uint32, err error)
}

// Session is one mount session: it owns the inode table, the directory
// tree, the handle table and the content store, with init and teardown
// tied to the process lifetime. All kernel-level calls funnel through
// [Session.Dispatch].
type Session struct {
	Inodes  *InodeTable
	Dirs    *Tree
	Handles *HandleTable

	store    Store
	readOnly atomic.Bool
	closed   atomic.Bool
}

// NewSession returns a pointer to a new [Session] over the given content
// store, with the root directory owned by uid/gid.
// You must call Close() once all work is complete.
func NewSession(store Store, rootMode os.FileMode, uid, gid uint32) *Session {
	return &Session{
		Inodes:  NewInodeTable(rootMode.Perm(), uid, gid),
		Dirs:    NewTree(),
		Handles: NewHandleTable(),
		store:   store,
	}
}

// Store returns the session's content store.
func (s *Session) Store() Store {
	return s.store
}

// ReadOnly returns the runtime read-only switch. While set, every
// mutating operation fails with [ErrReadOnly].
func (s *Session) ReadOnly() *atomic.Bool {
	return &s.readOnly
}

// Close force-closes every open handle, corrects the reference counts
// and releases the content store. No inode is left with a dangling
// handle reference. Dispatching against a closed session fails with
// [ErrBusy].
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	for _, h := range s.Handles.DrainAll() {
		attr, lookupErr := s.Inodes.Lookup(h.Ino)

		collected, err := s.Inodes.UnrefHandle(h.Ino)
		if err != nil {
			continue
		}
		if collected && lookupErr == nil && attr.Kind == KindFile {
			_ = s.store.Reclaim(h.Ino)
		}
	}

	return s.store.Close()
}

// Dispatch runs one decoded kernel request to completion: it validates
// the arguments, executes against exactly one component and returns a
// typed reply or a typed error. Every request replies exactly once;
// there is no cancellation of in-flight calls, so ctx is accepted for
// interface symmetry but never aborts an operation.
func (s *Session) Dispatch(_ context.Context, req Request) (Response, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: session closed", ErrBusy)
	}

	switch r := req.(type) {
	case LookupRequest:
		return s.lookup(r)
	case GetattrRequest:
		return s.getattr(r)
	case SetattrRequest:
		return s.setattr(r)
	case MkdirRequest:
		return s.mkdir(r)
	case CreateRequest:
		return s.create(r)
	case SymlinkRequest:
		return s.symlink(r)
	case ReadlinkRequest:
		return s.readlink(r)
	case OpenRequest:
		return s.open(r)
	case ReadRequest:
		return s.read(r)
	case WriteRequest:
		return s.write(r)
	case ReaddirRequest:
		return s.readdir(r)
	case ReleaseRequest:
		return s.release(r)
	case FlushRequest:
		return s.flush(r)
	case FsyncRequest:
		return s.fsync(r)
	case UnlinkRequest:
		return s.unlink(r)
	case RmdirRequest:
		return s.rmdir(r)
	case RenameRequest:
		return s.rename(r)
	case StatfsRequest:
		return s.statfs()
	default:
		return nil, fmt.Errorf("%w: unknown request %T", ErrInvalid, req)
	}
}

func (s *Session) lookup(r LookupRequest) (Response, error) {
	parent, err := s.dir(r.Parent)
	if err != nil {
		return nil, err
	}
	if !canAccess(parent, r.Cred, accessExec) {
		return nil, fmt.Errorf("%w: traverse directory inode %d", ErrPermission, r.Parent)
	}

	e, err := s.Dirs.Resolve(r.Parent, r.Name)
	if err != nil {
		return nil, err
	}

	attr, err := s.Inodes.Lookup(e.Ino)
	if err != nil {
		return nil, err
	}

	return EntryResponse{Attr: attr}, nil
}

func (s *Session) getattr(r GetattrRequest) (Response, error) {
	attr, err := s.Inodes.Lookup(r.Ino)
	if err != nil {
		return nil, err
	}

	return AttrResponse{Attr: attr}, nil
}

func (s *Session) setattr(r SetattrRequest) (Response, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}

	attr, err := s.Inodes.Lookup(r.Ino)
	if err != nil {
		return nil, err
	}
	metadataPatch := r.Patch.Mode != nil || r.Patch.UID != nil || r.Patch.GID != nil ||
		r.Patch.Atime != nil || r.Patch.Mtime != nil
	if metadataPatch && !mayModify(attr, r.Cred) {
		return nil, fmt.Errorf("%w: setattr on inode %d", ErrPermission, r.Ino)
	}
	if r.Patch.Size != nil && !canAccess(attr, r.Cred, accessWrite) {
		return nil, fmt.Errorf("%w: truncate inode %d", ErrPermission, r.Ino)
	}

	if r.Patch.Size != nil {
		if attr.Kind == KindDir {
			return nil, fmt.Errorf("%w: truncate directory inode %d", ErrIsDir, r.Ino)
		}
		if attr.Kind != KindFile {
			return nil, fmt.Errorf("%w: truncate non-file inode %d", ErrInvalid, r.Ino)
		}
		if err := s.store.Truncate(r.Ino, *r.Patch.Size); err != nil {
			return nil, err
		}
	}

	updated, err := s.Inodes.Update(r.Ino, r.Patch)
	if err != nil {
		return nil, err
	}

	return AttrResponse{Attr: updated}, nil
}

func (s *Session) mkdir(r MkdirRequest) (Response, error) {
	if err := s.mayInsert(r.Parent, r.Name, r.Cred); err != nil {
		return nil, err
	}

	attr := s.Inodes.Allocate(KindDir, r.Mode, r.Cred.UID, r.Cred.GID, "")
	if err := s.link(r.Parent, Entry{Name: r.Name, Ino: attr.Ino, Kind: KindDir}); err != nil {
		s.Inodes.Discard(attr.Ino)

		return nil, err
	}

	return EntryResponse{Attr: attr}, nil
}

func (s *Session) create(r CreateRequest) (Response, error) {
	if err := s.mayInsert(r.Parent, r.Name, r.Cred); err != nil {
		return nil, err
	}

	attr := s.Inodes.Allocate(KindFile, r.Mode, r.Cred.UID, r.Cred.GID, "")
	if err := s.store.Create(attr.Ino); err != nil {
		s.Inodes.Discard(attr.Ino)

		return nil, err
	}
	if err := s.link(r.Parent, Entry{Name: r.Name, Ino: attr.Ino, Kind: KindFile}); err != nil {
		_ = s.store.Reclaim(attr.Ino)
		s.Inodes.Discard(attr.Ino)

		return nil, err
	}

	if err := s.Inodes.RefHandle(attr.Ino); err != nil {
		return nil, err
	}
	h := s.Handles.Open(attr.Ino, r.Flags, nil)

	return CreateResponse{Attr: attr, Handle: h.ID}, nil
}

func (s *Session) symlink(r SymlinkRequest) (Response, error) {
	if r.Target == "" {
		return nil, fmt.Errorf("%w: empty symlink target", ErrInvalid)
	}
	if err := s.mayInsert(r.Parent, r.Name, r.Cred); err != nil {
		return nil, err
	}

	attr := s.Inodes.Allocate(KindSymlink, 0o777, r.Cred.UID, r.Cred.GID, r.Target)
	if err := s.link(r.Parent, Entry{Name: r.Name, Ino: attr.Ino, Kind: KindSymlink}); err != nil {
		s.Inodes.Discard(attr.Ino)

		return nil, err
	}

	return EntryResponse{Attr: attr}, nil
}

func (s *Session) readlink(r ReadlinkRequest) (Response, error) {
	attr, err := s.Inodes.Lookup(r.Ino)
	if err != nil {
		return nil, err
	}
	if attr.Kind != KindSymlink {
		return nil, fmt.Errorf("%w: readlink of %s inode %d", ErrInvalid, attr.Kind, r.Ino)
	}

	return ReadlinkResponse{Target: attr.Target}, nil
}

func (s *Session) open(r OpenRequest) (Response, error) {
	attr, err := s.Inodes.Lookup(r.Ino)
	if err != nil {
		return nil, err
	}

	var dirents []Entry
	switch attr.Kind {
	case KindDir:
		if r.Flags.Write || r.Flags.Append || r.Flags.Trunc {
			return nil, fmt.Errorf("%w: write-open directory inode %d", ErrIsDir, r.Ino)
		}
		// Snapshot policy: the handle iterates the listing as of open.
		dirents, err = s.Dirs.List(r.Ino)
		if err != nil {
			return nil, err
		}
	case KindFile:
		// No state worth keeping.
	case KindSymlink:
		return nil, fmt.Errorf("%w: open symlink inode %d", ErrInvalid, r.Ino)
	}

	var want uint32
	if r.Flags.Read {
		want |= accessRead
	}
	if r.Flags.Write || r.Flags.Append || r.Flags.Trunc {
		want |= accessWrite
	}
	if !canAccess(attr, r.Cred, want) {
		return nil, fmt.Errorf("%w: open inode %d", ErrPermission, r.Ino)
	}
	if (r.Flags.Write || r.Flags.Append || r.Flags.Trunc) && s.readOnly.Load() {
		return nil, fmt.Errorf("%w: write-open inode %d", ErrReadOnly, r.Ino)
	}

	if r.Flags.Trunc && attr.Kind == KindFile {
		if err := s.store.Truncate(r.Ino, 0); err != nil {
			return nil, err
		}
		if err := s.Inodes.SetSize(r.Ino, 0); err != nil {
			return nil, err
		}
	}

	if err := s.Inodes.RefHandle(r.Ino); err != nil {
		return nil, err
	}
	h := s.Handles.Open(r.Ino, r.Flags, dirents)

	return OpenResponse{Handle: h.ID}, nil
}

func (s *Session) read(r ReadRequest) (Response, error) {
	h, err := s.Handles.Get(r.Handle)
	if err != nil {
		return nil, err
	}
	if !h.Flags.Read {
		return nil, fmt.Errorf("%w: handle %d not open for reading", ErrPermission, r.Handle)
	}
	if h.dirents != nil {
		return nil, fmt.Errorf("%w: byte read on directory handle %d", ErrIsDir, r.Handle)
	}

	data, err := s.store.ReadAt(h.Ino, r.Offset, r.Size)
	if err != nil {
		return nil, err
	}
	h.Advance(r.Offset, len(data))
	_ = s.Inodes.TouchAccessed(h.Ino)

	return ReadResponse{Data: data}, nil
}

func (s *Session) write(r WriteRequest) (Response, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}

	h, err := s.Handles.Get(r.Handle)
	if err != nil {
		return nil, err
	}
	if !h.Flags.Write && !h.Flags.Append {
		return nil, fmt.Errorf("%w: handle %d not open for writing", ErrPermission, r.Handle)
	}
	if h.dirents != nil {
		return nil, fmt.Errorf("%w: byte write on directory handle %d", ErrIsDir, r.Handle)
	}

	var (
		n    int
		size uint64
		off  = r.Offset
	)
	if h.Flags.Append {
		off, n, size, err = s.store.Append(h.Ino, r.Data)
	} else {
		n, size, err = s.store.WriteAt(h.Ino, r.Offset, r.Data)
	}
	if err != nil {
		return nil, err
	}

	h.Advance(off, n)
	if err := s.Inodes.SetSize(h.Ino, size); err != nil {
		return nil, err
	}

	return WriteResponse{N: n, Size: size}, nil
}

func (s *Session) readdir(r ReaddirRequest) (Response, error) {
	h, err := s.Handles.Get(r.Handle)
	if err != nil {
		return nil, err
	}
	if h.dirents == nil {
		return nil, fmt.Errorf("%w: readdir on file handle %d", ErrNotDir, r.Handle)
	}

	if r.Rewind {
		h.RewindDir()
	}

	var out []Entry
	for {
		e, ok := h.NextDirent()
		if !ok {
			break
		}
		out = append(out, e)
	}
	_ = s.Inodes.TouchAccessed(h.Ino)

	return ReaddirResponse{Entries: out}, nil
}

func (s *Session) release(r ReleaseRequest) (Response, error) {
	h, err := s.Handles.Close(r.Handle)
	if err != nil {
		return nil, err
	}

	attr, lookupErr := s.Inodes.Lookup(h.Ino)

	collected, err := s.Inodes.UnrefHandle(h.Ino)
	if err != nil {
		return nil, err
	}
	if collected && lookupErr == nil && attr.Kind == KindFile {
		if err := s.store.Reclaim(h.Ino); err != nil {
			return nil, err
		}
	}

	return EmptyResponse{}, nil
}

func (s *Session) flush(r FlushRequest) (Response, error) {
	if _, err := s.Handles.Get(r.Handle); err != nil {
		return nil, err
	}

	return EmptyResponse{}, nil
}

func (s *Session) fsync(r FsyncRequest) (Response, error) {
	h, err := s.Handles.Get(r.Handle)
	if err != nil {
		return nil, err
	}

	if sy, ok := s.store.(syncer); ok {
		if err := sy.Sync(h.Ino); err != nil {
			return nil, err
		}
	}

	return EmptyResponse{}, nil
}

func (s *Session) unlink(r UnlinkRequest) (Response, error) {
	if err := s.mayRemove(r.Parent, r.Cred); err != nil {
		return nil, err
	}

	// The removal and its kind check are one atomic step; acting on the
	// returned entry keeps the unref targeting the removed inode even
	// when the name is concurrently recycled.
	e, err := s.Dirs.Remove(r.Parent, r.Name, false)
	if err != nil {
		return nil, err
	}
	_ = s.Inodes.TouchModified(r.Parent)

	collected, err := s.Inodes.UnrefEntry(e.Ino)
	if err != nil {
		return nil, err
	}
	if collected && e.Kind == KindFile {
		// No handle still holds the inode open; reclaim the bytes now.
		// With open handles, the content stays readable until release.
		if err := s.store.Reclaim(e.Ino); err != nil {
			return nil, err
		}
	}

	return EmptyResponse{}, nil
}

func (s *Session) rmdir(r RmdirRequest) (Response, error) {
	if err := s.mayRemove(r.Parent, r.Cred); err != nil {
		return nil, err
	}

	e, err := s.Dirs.Remove(r.Parent, r.Name, true)
	if err != nil {
		return nil, err
	}
	_ = s.Inodes.TouchModified(r.Parent)

	if _, err := s.Inodes.UnrefEntry(e.Ino); err != nil {
		return nil, err
	}

	return EmptyResponse{}, nil
}

func (s *Session) rename(r RenameRequest) (Response, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}

	oldParent, err := s.dir(r.OldParent)
	if err != nil {
		return nil, err
	}
	newParent, err := s.dir(r.NewParent)
	if err != nil {
		return nil, err
	}
	if !canAccess(oldParent, r.Cred, accessWrite|accessExec) ||
		!canAccess(newParent, r.Cred, accessWrite|accessExec) {
		return nil, fmt.Errorf("%w: rename across directory inodes %d -> %d",
			ErrPermission, r.OldParent, r.NewParent)
	}

	if _, err := s.Dirs.Rename(r.OldParent, r.OldName, r.NewParent, r.NewName); err != nil {
		return nil, err
	}
	_ = s.Inodes.TouchModified(r.OldParent)
	if r.NewParent != r.OldParent {
		_ = s.Inodes.TouchModified(r.NewParent)
	}

	return EmptyResponse{}, nil
}

func (s *Session) statfs() (Response, error) {
	if ds, ok := s.store.(deviceStatser); ok {
		blocks, bfree, bavail, bsize, err := ds.DeviceStats()
		if err != nil {
			return nil, err
		}

		return StatfsResponse{
			Blocks: blocks,
			Bfree:  bfree,
			Bavail: bavail,
			Files:  uint64(s.Inodes.Live()),
			Bsize:  bsize,
		}, nil
	}

	used := (s.store.Usage() + statfsBsize - 1) / statfsBsize

	return StatfsResponse{
		Blocks: used + memFreeBlocks,
		Bfree:  memFreeBlocks,
		Bavail: memFreeBlocks,
		Files:  uint64(s.Inodes.Live()),
		Bsize:  statfsBsize,
	}, nil
}

// dir returns the attribute snapshot of an inode that must be a
// directory.
func (s *Session) dir(ino uint64) (Attr, error) {
	attr, err := s.Inodes.Lookup(ino)
	if err != nil {
		return Attr{}, err
	}
	if attr.Kind != KindDir {
		return Attr{}, fmt.Errorf("%w: inode %d is a %s", ErrNotDir, ino, attr.Kind)
	}

	return attr, nil
}

// mayInsert validates a pending entry creation in the parent directory.
func (s *Session) mayInsert(parent uint64, name string, cred Cred) error {
	if err := s.writable(); err != nil {
		return err
	}
	if !ValidName(name) {
		return fmt.Errorf("%w: entry name %q", ErrInvalid, name)
	}

	attr, err := s.dir(parent)
	if err != nil {
		return err
	}
	if !canAccess(attr, cred, accessWrite|accessExec) {
		return fmt.Errorf("%w: create in directory inode %d", ErrPermission, parent)
	}

	return nil
}

// mayRemove validates a pending entry removal from the parent directory.
func (s *Session) mayRemove(parent uint64, cred Cred) error {
	if err := s.writable(); err != nil {
		return err
	}

	attr, err := s.dir(parent)
	if err != nil {
		return err
	}
	if !canAccess(attr, cred, accessWrite|accessExec) {
		return fmt.Errorf("%w: remove from directory inode %d", ErrPermission, parent)
	}

	return nil
}

// link inserts the entry and records the reference, keeping the count
// transactional with the insert.
func (s *Session) link(parent uint64, e Entry) error {
	if err := s.Dirs.Insert(parent, e); err != nil {
		return err
	}
	if err := s.Inodes.RefEntry(e.Ino); err != nil {
		return err
	}
	_ = s.Inodes.TouchModified(parent)

	return nil
}

func (s *Session) writable() error {
	if s.readOnly.Load() {
		return ErrReadOnly
	}

	return nil
}

// canAccess checks the requested access against the permission bits,
// owner first, then group, then other. Uid 0 bypasses the check.
func canAccess(a Attr, c Cred, want uint32) bool {
	if want == 0 || c.UID == 0 {
		return true
	}

	mode := uint32(a.Mode.Perm())
	var bits uint32
	switch {
	case c.UID == a.UID:
		bits = mode >> 6
	case c.GID == a.GID:
		bits = mode >> 3
	default:
		bits = mode
	}

	return bits&want == want
}

// mayModify reports whether the caller may change the inode's metadata.
func mayModify(a Attr, c Cred) bool {
	return c.UID == 0 || c.UID == a.UID
}
