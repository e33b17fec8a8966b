package filesystem

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/sfs/internal/core"
)

var (
	_ fs.Node                = (*node)(nil)
	_ fs.NodeRequestLookuper = (*node)(nil)
	_ fs.NodeSetattrer       = (*node)(nil)
	_ fs.NodeCreater         = (*node)(nil)
	_ fs.NodeMkdirer         = (*node)(nil)
	_ fs.NodeSymlinker       = (*node)(nil)
	_ fs.NodeReadlinker      = (*node)(nil)
	_ fs.NodeRemover         = (*node)(nil)
	_ fs.NodeRenamer         = (*node)(nil)
	_ fs.NodeOpener          = (*node)(nil)
	_ fs.NodeFsyncer         = (*node)(nil)
)

// node is the kernel-facing view of one inode. It carries no state of
// its own; every operation is decoded into a core request and
// dispatched through the session.
type node struct {
	fsys *FS
	ino  uint64
}

func (n *node) Attr(ctx context.Context, a *fuse.Attr) error {
	n.fsys.Metrics.TotalGetattrs.Add(1)

	resp, err := n.fsys.dispatch(ctx, core.GetattrRequest{Ino: n.ino})
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(resp.(core.AttrResponse).Attr, a)

	return nil
}

func (n *node) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fs.Node, error) {
	n.fsys.Metrics.TotalLookups.Add(1)

	r, err := n.fsys.dispatch(ctx, core.LookupRequest{
		Parent: n.ino,
		Name:   req.Name,
		Cred:   toCred(req.Header),
	})
	if err != nil {
		return nil, toFuseErr(err)
	}
	attr := r.(core.EntryResponse).Attr

	resp.Node = fuse.NodeID(attr.Ino)
	fillAttr(attr, &resp.Attr)

	return &node{fsys: n.fsys, ino: attr.Ino}, nil
}

func (n *node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	n.fsys.Metrics.TotalSetattrs.Add(1)

	patch := core.AttrPatch{}
	if req.Valid.Mode() {
		mode := req.Mode
		patch.Mode = &mode
	}
	if req.Valid.Uid() {
		uid := req.Uid
		patch.UID = &uid
	}
	if req.Valid.Gid() {
		gid := req.Gid
		patch.GID = &gid
	}
	if req.Valid.Size() {
		size := req.Size
		patch.Size = &size
	}
	if req.Valid.Atime() {
		atime := req.Atime
		patch.Atime = &atime
	}
	if req.Valid.Mtime() {
		mtime := req.Mtime
		patch.Mtime = &mtime
	}

	r, err := n.fsys.dispatch(ctx, core.SetattrRequest{
		Ino:   n.ino,
		Patch: patch,
		Cred:  toCred(req.Header),
	})
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(r.(core.AttrResponse).Attr, &resp.Attr)

	return nil
}

func (n *node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	n.fsys.Metrics.TotalCreates.Add(1)

	r, err := n.fsys.dispatch(ctx, core.CreateRequest{
		Parent: n.ino,
		Name:   req.Name,
		Mode:   req.Mode,
		Flags:  toOpenFlags(req.Flags),
		Cred:   toCred(req.Header),
	})
	if err != nil {
		return nil, nil, toFuseErr(err)
	}
	created := r.(core.CreateResponse)

	fillAttr(created.Attr, &resp.Attr)
	resp.Node = fuse.NodeID(created.Attr.Ino)

	child := &node{fsys: n.fsys, ino: created.Attr.Ino}
	h := &handle{fsys: n.fsys, id: created.Handle, ino: created.Attr.Ino}

	return child, h, nil
}

func (n *node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	n.fsys.Metrics.TotalMkdirs.Add(1)

	r, err := n.fsys.dispatch(ctx, core.MkdirRequest{
		Parent: n.ino,
		Name:   req.Name,
		Mode:   req.Mode,
		Cred:   toCred(req.Header),
	})
	if err != nil {
		return nil, toFuseErr(err)
	}

	return &node{fsys: n.fsys, ino: r.(core.EntryResponse).Attr.Ino}, nil
}

func (n *node) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	n.fsys.Metrics.TotalSymlinks.Add(1)

	r, err := n.fsys.dispatch(ctx, core.SymlinkRequest{
		Parent: n.ino,
		Name:   req.NewName,
		Target: req.Target,
		Cred:   toCred(req.Header),
	})
	if err != nil {
		return nil, toFuseErr(err)
	}

	return &node{fsys: n.fsys, ino: r.(core.EntryResponse).Attr.Ino}, nil
}

func (n *node) Readlink(ctx context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	r, err := n.fsys.dispatch(ctx, core.ReadlinkRequest{Ino: n.ino})
	if err != nil {
		return "", toFuseErr(err)
	}

	return r.(core.ReadlinkResponse).Target, nil
}

func (n *node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	n.fsys.Metrics.TotalRemoves.Add(1)

	var creq core.Request
	if req.Dir {
		creq = core.RmdirRequest{Parent: n.ino, Name: req.Name, Cred: toCred(req.Header)}
	} else {
		creq = core.UnlinkRequest{Parent: n.ino, Name: req.Name, Cred: toCred(req.Header)}
	}

	if _, err := n.fsys.dispatch(ctx, creq); err != nil {
		return toFuseErr(err)
	}

	return nil
}

func (n *node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	n.fsys.Metrics.TotalRenames.Add(1)

	dst, ok := newDir.(*node)
	if !ok {
		return fuse.ToErrno(syscall.EINVAL)
	}

	if _, err := n.fsys.dispatch(ctx, core.RenameRequest{
		OldParent: n.ino,
		OldName:   req.OldName,
		NewParent: dst.ino,
		NewName:   req.NewName,
		Cred:      toCred(req.Header),
	}); err != nil {
		return toFuseErr(err)
	}

	return nil
}

func (n *node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	n.fsys.Metrics.TotalOpens.Add(1)

	flags := toOpenFlags(req.Flags)
	if req.Dir {
		flags = core.OpenFlags{Read: true}
	}

	r, err := n.fsys.dispatch(ctx, core.OpenRequest{
		Ino:   n.ino,
		Flags: flags,
		Cred:  toCred(req.Header),
	})
	if err != nil {
		return nil, toFuseErr(err)
	}

	resp.Flags |= fuse.OpenKeepCache

	return &handle{fsys: n.fsys, id: r.(core.OpenResponse).Handle, ino: n.ino}, nil
}

func (n *node) Fsync(ctx context.Context, _ *fuse.FsyncRequest) error {
	// The kernel addresses fsync at the node; durability is per inode
	// anyway, so any open handle of this inode serves.
	h, err := n.fsys.Session.Handles.ForInode(n.ino)
	if err != nil {
		return toFuseErr(err)
	}

	if _, err := n.fsys.dispatch(ctx, core.FsyncRequest{Handle: h.ID}); err != nil {
		return toFuseErr(err)
	}

	return nil
}
