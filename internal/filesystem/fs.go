// Package filesystem implements the FUSE bridge: it decodes kernel
// requests into typed core requests, dispatches them through the mount
// session and encodes the replies.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/sfs/internal/core"
	"github.com/desertwitch/sfs/internal/logging"
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSStatfser       = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
)

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// TotalLookups is the amount of name lookups.
	TotalLookups atomic.Int64

	// TotalGetattrs is the amount of attribute reads.
	TotalGetattrs atomic.Int64

	// TotalSetattrs is the amount of attribute updates.
	TotalSetattrs atomic.Int64

	// TotalCreates is the amount of file creations.
	TotalCreates atomic.Int64

	// TotalMkdirs is the amount of directory creations.
	TotalMkdirs atomic.Int64

	// TotalSymlinks is the amount of symlink creations.
	TotalSymlinks atomic.Int64

	// TotalOpens is the amount of handle opens.
	TotalOpens atomic.Int64

	// TotalReleases is the amount of handle releases.
	TotalReleases atomic.Int64

	// TotalReads is the amount of byte reads.
	TotalReads atomic.Int64

	// TotalReadBytes is the amount of bytes served to readers.
	TotalReadBytes atomic.Int64

	// TotalWrites is the amount of byte writes.
	TotalWrites atomic.Int64

	// TotalWriteBytes is the amount of bytes accepted from writers.
	TotalWriteBytes atomic.Int64

	// TotalReaddirs is the amount of directory listings.
	TotalReaddirs atomic.Int64

	// TotalRemoves is the amount of unlink and rmdir operations.
	TotalRemoves atomic.Int64

	// TotalRenames is the amount of rename operations.
	TotalRenames atomic.Int64

	// TotalErrors is the amount of operations replied with an error.
	TotalErrors atomic.Int64
}

// FS is the kernel-facing implementation of the filesystem. All data
// model state lives in the owned [core.Session]; the FS itself only
// carries bridge concerns.
type FS struct {
	Session *core.Session
	Metrics *Metrics

	// MountTime is when the filesystem was mounted.
	MountTime time.Time

	rbuf *logging.RingBuffer
}

// NewFS returns a pointer to a new [FS] over the given session.
func NewFS(session *core.Session, rbuf *logging.RingBuffer) (*FS, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: need a session", errMissingArgument)
	}
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}

	return &FS{
		Session:   session,
		Metrics:   &Metrics{},
		MountTime: time.Now(),
		rbuf:      rbuf,
	}, nil
}

// ReadOnly returns the session's runtime read-only switch.
func (fsys *FS) ReadOnly() *atomic.Bool {
	return fsys.Session.ReadOnly()
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &node{fsys: fsys, ino: core.RootIno}, nil
}

// Statfs implements [fs.FSStatfser] with figures from the session.
func (fsys *FS) Statfs(ctx context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	r, err := fsys.dispatch(ctx, core.StatfsRequest{})
	if err != nil {
		return toFuseErr(err)
	}
	st := r.(core.StatfsResponse)

	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Bsize = st.Bsize
	resp.Namelen = 255
	resp.Frsize = st.Bsize

	return nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
//
// The inode table hands out every inode number, so dynamic generation
// within the FUSE library (being the fallback on encountering zero
// inodes) is a core violation of this very design principle. Calls to
// this method will panic, revealing where internal inode handling does
// not produce the valid inode.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}

// dispatch feeds one decoded request through the session, counting and
// tracing errors on the way out.
func (fsys *FS) dispatch(ctx context.Context, req core.Request) (core.Response, error) {
	resp, err := fsys.Session.Dispatch(ctx, req)
	if err != nil {
		fsys.Metrics.TotalErrors.Add(1)
		fsys.rbuf.Debugf("%T: %v", req, err)

		return nil, err
	}

	return resp, nil
}
