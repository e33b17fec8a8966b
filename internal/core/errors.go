package core

import "errors"

// Typed outcomes for every component operation. The FUSE bridge maps these
// onto POSIX errnos; nothing in this package ever aborts the process for a
// recoverable fault.
var (
	// ErrNotFound is for a missing inode, entry or path component.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExist is for a name collision within one directory.
	ErrExist = errors.New("file already exists")

	// ErrNotEmpty is for removal of a directory that still has entries.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrPermission is for an access denied by the permission bits.
	ErrPermission = errors.New("permission denied")

	// ErrInvalid is for a malformed argument (offset, length, flags, name).
	ErrInvalid = errors.New("invalid argument")

	// ErrIO is for a backing-store fault.
	ErrIO = errors.New("input/output error")

	// ErrBusy is for a resource that is locked or cannot be detached.
	ErrBusy = errors.New("resource busy")

	// ErrNotDir is for a directory operation against a non-directory.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir is for a file operation against a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrStaleHandle is for an operation against an unknown or closed handle.
	ErrStaleHandle = errors.New("stale file handle")

	// ErrReadOnly is for a mutating operation while the session is read-only.
	ErrReadOnly = errors.New("read-only file system")

	// ErrCycle is for renaming a directory into one of its own descendants.
	ErrCycle = errors.New("rename would create a cycle")
)
