package filesystem

import (
	"context"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/sfs/internal/core"
)

var (
	_ fs.Handle             = (*handle)(nil)
	_ fs.HandleReader       = (*handle)(nil)
	_ fs.HandleWriter       = (*handle)(nil)
	_ fs.HandleFlusher      = (*handle)(nil)
	_ fs.HandleReleaser     = (*handle)(nil)
	_ fs.HandleReadDirAller = (*handle)(nil)
)

// handle is the kernel-facing view of one open core handle.
type handle struct {
	fsys *FS
	id   uint64
	ino  uint64
}

func (h *handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.fsys.Metrics.TotalReads.Add(1)

	r, err := h.fsys.dispatch(ctx, core.ReadRequest{
		Handle: h.id,
		Offset: req.Offset,
		Size:   req.Size,
	})
	if err != nil {
		return toFuseErr(err)
	}

	resp.Data = r.(core.ReadResponse).Data
	h.fsys.Metrics.TotalReadBytes.Add(int64(len(resp.Data)))

	return nil
}

func (h *handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.fsys.Metrics.TotalWrites.Add(1)

	r, err := h.fsys.dispatch(ctx, core.WriteRequest{
		Handle: h.id,
		Offset: req.Offset,
		Data:   req.Data,
	})
	if err != nil {
		return toFuseErr(err)
	}

	resp.Size = r.(core.WriteResponse).N
	h.fsys.Metrics.TotalWriteBytes.Add(int64(resp.Size))

	return nil
}

func (h *handle) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	h.fsys.Metrics.TotalReaddirs.Add(1)

	// The kernel may re-list through the same handle; rewinding serves
	// the snapshot taken at open time again.
	r, err := h.fsys.dispatch(ctx, core.ReaddirRequest{Handle: h.id, Rewind: true})
	if err != nil {
		return nil, toFuseErr(err)
	}
	entries := r.(core.ReaddirResponse).Entries

	out := make([]fuse.Dirent, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.Dirent{
			Inode: e.Ino,
			Type:  toDirentType(e.Kind),
			Name:  e.Name,
		})
	}

	return out, nil
}

func (h *handle) Flush(ctx context.Context, _ *fuse.FlushRequest) error {
	if _, err := h.fsys.dispatch(ctx, core.FlushRequest{Handle: h.id}); err != nil {
		return toFuseErr(err)
	}

	return nil
}

func (h *handle) Release(ctx context.Context, _ *fuse.ReleaseRequest) error {
	h.fsys.Metrics.TotalReleases.Add(1)

	if _, err := h.fsys.dispatch(ctx, core.ReleaseRequest{Handle: h.id}); err != nil {
		return toFuseErr(err)
	}

	return nil
}
