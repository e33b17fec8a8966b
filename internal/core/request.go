package core

import "os"

// Cred identifies the caller of a request, as reported by the kernel.
type Cred struct {
	UID uint32
	GID uint32
}

// Request is one decoded kernel-level filesystem call. The bridge layer
// turns raw protocol requests into these and feeds them through
// [Session.Dispatch]; the data model never sees the wire protocol.
type Request interface {
	op() string
}

// Response is the success reply to one [Request].
type Response interface {
	response()
}

// LookupRequest resolves a name within a parent directory.
type LookupRequest struct {
	Parent uint64
	Name   string
	Cred   Cred
}

// GetattrRequest reads the attributes of an inode.
type GetattrRequest struct {
	Ino uint64
}

// SetattrRequest applies a partial attribute update. A non-zero Size
// field in the patch truncates the file content.
type SetattrRequest struct {
	Ino   uint64
	Patch AttrPatch
	Cred  Cred
}

// MkdirRequest creates a directory.
type MkdirRequest struct {
	Parent uint64
	Name   string
	Mode   os.FileMode
	Cred   Cred
}

// CreateRequest creates a regular file and opens a handle to it.
type CreateRequest struct {
	Parent uint64
	Name   string
	Mode   os.FileMode
	Flags  OpenFlags
	Cred   Cred
}

// SymlinkRequest creates a symbolic link.
type SymlinkRequest struct {
	Parent uint64
	Name   string
	Target string
	Cred   Cred
}

// ReadlinkRequest reads a symbolic link's target.
type ReadlinkRequest struct {
	Ino uint64
}

// OpenRequest opens a handle to an existing inode. Opening a directory
// snapshots its entry listing into the handle.
type OpenRequest struct {
	Ino   uint64
	Flags OpenFlags
	Cred  Cred
}

// ReadRequest reads bytes through an open handle.
type ReadRequest struct {
	Handle uint64
	Offset int64
	Size   int
}

// WriteRequest writes bytes through an open handle.
type WriteRequest struct {
	Handle uint64
	Offset int64
	Data   []byte
}

// ReaddirRequest iterates the directory snapshot of an open handle.
type ReaddirRequest struct {
	Handle uint64
	Rewind bool
}

// ReleaseRequest closes an open handle.
type ReleaseRequest struct {
	Handle uint64
}

// FlushRequest is issued on close(2) of a file descriptor; content is
// already durable at this point, so it only validates the handle.
type FlushRequest struct {
	Handle uint64
}

// FsyncRequest requests durability for a handle's content.
type FsyncRequest struct {
	Handle uint64
}

// UnlinkRequest removes a non-directory entry.
type UnlinkRequest struct {
	Parent uint64
	Name   string
	Cred   Cred
}

// RmdirRequest removes an empty directory entry.
type RmdirRequest struct {
	Parent uint64
	Name   string
	Cred   Cred
}

// RenameRequest atomically moves an entry between directories.
type RenameRequest struct {
	OldParent uint64
	OldName   string
	NewParent uint64
	NewName   string
	Cred      Cred
}

// StatfsRequest reads filesystem-level usage figures.
type StatfsRequest struct{}

func (LookupRequest) op() string   { return "lookup" }
func (GetattrRequest) op() string  { return "getattr" }
func (SetattrRequest) op() string  { return "setattr" }
func (MkdirRequest) op() string    { return "mkdir" }
func (CreateRequest) op() string   { return "create" }
func (SymlinkRequest) op() string  { return "symlink" }
func (ReadlinkRequest) op() string { return "readlink" }
func (OpenRequest) op() string     { return "open" }
func (ReadRequest) op() string     { return "read" }
func (WriteRequest) op() string    { return "write" }
func (ReaddirRequest) op() string  { return "readdir" }
func (ReleaseRequest) op() string  { return "release" }
func (FlushRequest) op() string    { return "flush" }
func (FsyncRequest) op() string    { return "fsync" }
func (UnlinkRequest) op() string   { return "unlink" }
func (RmdirRequest) op() string    { return "rmdir" }
func (RenameRequest) op() string   { return "rename" }
func (StatfsRequest) op() string   { return "statfs" }

// EntryResponse carries the attributes of a resolved or created entry.
type EntryResponse struct {
	Attr Attr
}

// AttrResponse carries an attribute snapshot.
type AttrResponse struct {
	Attr Attr
}

// CreateResponse carries the new file's attributes and its open handle.
type CreateResponse struct {
	Attr   Attr
	Handle uint64
}

// OpenResponse carries the identifier of a freshly opened handle.
type OpenResponse struct {
	Handle uint64
}

// ReadResponse carries the bytes read; shorter than requested at
// end-of-file, empty past it.
type ReadResponse struct {
	Data []byte
}

// WriteResponse carries the bytes written and the resulting file size.
type WriteResponse struct {
	N    int
	Size uint64
}

// ReaddirResponse carries directory entries from the handle's snapshot.
type ReaddirResponse struct {
	Entries []Entry
}

// ReadlinkResponse carries a symbolic link's target.
type ReadlinkResponse struct {
	Target string
}

// StatfsResponse carries filesystem-level usage figures.
type StatfsResponse struct {
	Blocks uint64 // total data blocks
	Bfree  uint64 // free blocks
	Bavail uint64 // free blocks for unprivileged callers
	Files  uint64 // live inodes
	Bsize  uint32 // block size
}

// EmptyResponse is the success reply of operations with no payload.
type EmptyResponse struct{}

func (EntryResponse) response()    {}
func (AttrResponse) response()     {}
func (CreateResponse) response()   {}
func (OpenResponse) response()     {}
func (ReadResponse) response()     {}
func (WriteResponse) response()    {}
func (ReaddirResponse) response()  {}
func (ReadlinkResponse) response() {}
func (StatfsResponse) response()   {}
func (EmptyResponse) response()    {}
