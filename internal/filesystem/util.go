package filesystem

import (
	"errors"
	"os"
	"syscall"

	"bazil.org/fuse"
	"github.com/desertwitch/sfs/internal/core"
)

// toFuseErr maps the typed outcomes of the data model onto the POSIX
// errno the kernel bridge reports to the calling process.
func toFuseErr(err error) error {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return fuse.ToErrno(syscall.ENOENT)

	case errors.Is(err, core.ErrExist):
		return fuse.ToErrno(syscall.EEXIST)

	case errors.Is(err, core.ErrNotEmpty):
		return fuse.ToErrno(syscall.ENOTEMPTY)

	case errors.Is(err, core.ErrPermission):
		return fuse.ToErrno(syscall.EACCES)

	case errors.Is(err, core.ErrReadOnly):
		return fuse.ToErrno(syscall.EROFS)

	case errors.Is(err, core.ErrNotDir):
		return fuse.ToErrno(syscall.ENOTDIR)

	case errors.Is(err, core.ErrIsDir):
		return fuse.ToErrno(syscall.EISDIR)

	case errors.Is(err, core.ErrCycle):
		return fuse.ToErrno(syscall.EINVAL)

	case errors.Is(err, core.ErrInvalid):
		return fuse.ToErrno(syscall.EINVAL)

	case errors.Is(err, core.ErrStaleHandle):
		return fuse.ToErrno(syscall.ESTALE)

	case errors.Is(err, core.ErrBusy):
		return fuse.ToErrno(syscall.EBUSY)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}

// fillAttr encodes a core attribute snapshot into a FUSE attribute reply.
func fillAttr(attr core.Attr, a *fuse.Attr) {
	a.Inode = attr.Ino
	a.Size = attr.Size
	a.Blocks = (attr.Size + 511) / 512
	a.Mode = attr.Mode
	a.Nlink = attr.Nlink
	a.Uid = attr.UID
	a.Gid = attr.GID
	a.Atime = attr.Atime
	a.Mtime = attr.Mtime
	a.Ctime = attr.Ctime
	a.Crtime = attr.Crtime

	switch attr.Kind {
	case core.KindDir:
		a.Mode |= os.ModeDir
		if a.Nlink < 2 {
			a.Nlink = 2 // "." and the parent entry
		}
	case core.KindSymlink:
		a.Mode |= os.ModeSymlink
	case core.KindFile:
	}
}

// toOpenFlags decodes kernel open flags into the core access mode.
func toOpenFlags(flags fuse.OpenFlags) core.OpenFlags {
	out := core.OpenFlags{
		Read:   flags.IsReadOnly() || flags.IsReadWrite(),
		Write:  flags.IsWriteOnly() || flags.IsReadWrite(),
		Append: flags&fuse.OpenAppend != 0,
		Trunc:  flags&fuse.OpenTruncate != 0,
	}

	return out
}

// toCred decodes the kernel-reported caller identity.
func toCred(h fuse.Header) core.Cred {
	return core.Cred{UID: h.Uid, GID: h.Gid}
}

// toDirentType maps a core entry kind onto the FUSE dirent type.
func toDirentType(kind core.Kind) fuse.DirentType {
	switch kind {
	case core.KindDir:
		return fuse.DT_Dir
	case core.KindSymlink:
		return fuse.DT_Link
	case core.KindFile:
		return fuse.DT_File
	default:
		return fuse.DT_Unknown
	}
}
