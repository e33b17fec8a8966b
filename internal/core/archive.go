package core

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/klauspost/compress/zip"
)

const archiveChunkSize = 128 * 1024

// WriteArchive streams the live virtual tree as a ZIP archive, one entry
// per reachable object. The walk observes each directory atomically but
// not the tree as a whole: entries created or removed mid-walk may or
// may not appear.
func (s *Session) WriteArchive(w io.Writer) error {
	zw := zip.NewWriter(w)

	if err := s.archiveDir(zw, RootIno, ""); err != nil {
		_ = zw.Close()

		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finalize archive: %v", ErrIO, err)
	}

	return nil
}

func (s *Session) archiveDir(zw *zip.Writer, ino uint64, prefix string) error {
	entries, err := s.Dirs.List(ino)
	if err != nil {
		return err
	}

	for _, e := range entries {
		attr, err := s.Inodes.Lookup(e.Ino)
		if err != nil {
			// Entry vanished mid-walk; skip it.
			continue
		}
		name := path.Join(prefix, e.Name)

		switch attr.Kind {
		case KindDir:
			hdr := &zip.FileHeader{
				Name:     name + "/",
				Modified: attr.Mtime,
			}
			hdr.SetMode(os.ModeDir | attr.Mode)
			if _, err := zw.CreateHeader(hdr); err != nil {
				return fmt.Errorf("%w: archive dir %q: %v", ErrIO, name, err)
			}
			if err := s.archiveDir(zw, e.Ino, name); err != nil {
				return err
			}

		case KindFile:
			hdr := &zip.FileHeader{
				Name:     name,
				Method:   zip.Deflate,
				Modified: attr.Mtime,
			}
			hdr.SetMode(attr.Mode)
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return fmt.Errorf("%w: archive file %q: %v", ErrIO, name, err)
			}
			if err := s.archiveFile(fw, e.Ino); err != nil {
				return err
			}

		case KindSymlink:
			hdr := &zip.FileHeader{
				Name:     name,
				Modified: attr.Mtime,
			}
			hdr.SetMode(os.ModeSymlink | attr.Mode)
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return fmt.Errorf("%w: archive symlink %q: %v", ErrIO, name, err)
			}
			if _, err := fw.Write([]byte(attr.Target)); err != nil {
				return fmt.Errorf("%w: archive symlink %q: %v", ErrIO, name, err)
			}
		}
	}

	return nil
}

func (s *Session) archiveFile(w io.Writer, ino uint64) error {
	for off := int64(0); ; {
		chunk, err := s.store.ReadAt(ino, off, archiveChunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("%w: archive inode %d: %v", ErrIO, ino, err)
		}
		off += int64(len(chunk))
	}
}
