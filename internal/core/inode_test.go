package core

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: A new table should contain only the root directory inode.
func Test_NewInodeTable_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 1000, 1000)

	attr, err := tbl.Lookup(RootIno)
	require.NoError(t, err)
	require.Equal(t, RootIno, attr.Ino)
	require.Equal(t, KindDir, attr.Kind)
	require.Equal(t, os.FileMode(0o755), attr.Mode)
	require.Equal(t, uint32(1000), attr.UID)
	require.Equal(t, uint32(1000), attr.GID)
	require.Equal(t, int64(1), tbl.Live())
}

// Expectation: Allocate should hand out strictly increasing inode numbers.
func Test_InodeTable_Allocate_MonotonicNumbers_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)

	a := tbl.Allocate(KindFile, 0o644, 0, 0, "")
	b := tbl.Allocate(KindDir, 0o755, 0, 0, "")
	c := tbl.Allocate(KindSymlink, 0o777, 0, 0, "/target")

	require.Greater(t, a.Ino, RootIno)
	require.Greater(t, b.Ino, a.Ino)
	require.Greater(t, c.Ino, b.Ino)
	require.Equal(t, int64(4), tbl.Live())
}

// Expectation: Allocate should strip any type bits from the given mode.
func Test_InodeTable_Allocate_PermOnly_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)

	attr := tbl.Allocate(KindFile, os.ModeDir|0o640, 0, 0, "")
	require.Equal(t, os.FileMode(0o640), attr.Mode)
}

// Expectation: A symlink allocation should size to its target length.
func Test_InodeTable_Allocate_SymlinkSize_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)

	attr := tbl.Allocate(KindSymlink, 0o777, 0, 0, "/some/target")
	require.Equal(t, uint64(len("/some/target")), attr.Size)
	require.Equal(t, "/some/target", attr.Target)
}

// Expectation: Lookup of an unknown inode should fail with ErrNotFound.
func Test_InodeTable_Lookup_Unknown_Error(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)

	_, err := tbl.Lookup(999)
	require.ErrorIs(t, err, ErrNotFound)
}

// Expectation: Update should apply only the non-nil patch fields.
func Test_InodeTable_Update_PartialPatch_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 5, 5, "")

	mode := os.FileMode(0o600)
	uid := uint32(7)

	updated, err := tbl.Update(attr.Ino, AttrPatch{Mode: &mode, UID: &uid})
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), updated.Mode)
	require.Equal(t, uint32(7), updated.UID)
	require.Equal(t, uint32(5), updated.GID)
	require.False(t, updated.Ctime.Before(attr.Ctime))
}

// Expectation: SetSize should record the size and advance mtime.
func Test_InodeTable_SetSize_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")

	require.NoError(t, tbl.SetSize(attr.Ino, 4096))

	after, err := tbl.Lookup(attr.Ino)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), after.Size)
	require.False(t, after.Mtime.Before(attr.Mtime))
}

// Expectation: RefEntry should track the link count in the attributes.
func Test_InodeTable_RefEntry_Nlink_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")

	require.NoError(t, tbl.RefEntry(attr.Ino))

	after, err := tbl.Lookup(attr.Ino)
	require.NoError(t, err)
	require.Equal(t, uint32(1), after.Nlink)

	entries, handles, err := tbl.Refs(attr.Ino)
	require.NoError(t, err)
	require.Equal(t, uint32(1), entries)
	require.Equal(t, uint32(0), handles)
}

// Expectation: The inode should survive until both reference kinds drop.
func Test_InodeTable_Unref_CollectOnLastReference_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")

	require.NoError(t, tbl.RefEntry(attr.Ino))
	require.NoError(t, tbl.RefHandle(attr.Ino))

	// Entry removed while the handle is still open: not collected yet.
	collected, err := tbl.UnrefEntry(attr.Ino)
	require.NoError(t, err)
	require.False(t, collected)

	_, err = tbl.Lookup(attr.Ino)
	require.NoError(t, err)

	// Last handle closes: now collected.
	collected, err = tbl.UnrefHandle(attr.Ino)
	require.NoError(t, err)
	require.True(t, collected)

	_, err = tbl.Lookup(attr.Ino)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int64(1), tbl.Live())
}

// Expectation: Unref below zero should fail with ErrInvalid.
func Test_InodeTable_Unref_BelowZero_Error(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")
	require.NoError(t, tbl.RefEntry(attr.Ino))

	_, err := tbl.UnrefHandle(attr.Ino)
	require.ErrorIs(t, err, ErrInvalid)
}

// Expectation: Discard should drop an unreferenced allocation.
func Test_InodeTable_Discard_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")

	tbl.Discard(attr.Ino)

	_, err := tbl.Lookup(attr.Ino)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int64(1), tbl.Live())
}

// Expectation: Discard should leave a referenced inode untouched.
func Test_InodeTable_Discard_Referenced_Noop(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)
	attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")
	require.NoError(t, tbl.RefEntry(attr.Ino))

	tbl.Discard(attr.Ino)

	_, err := tbl.Lookup(attr.Ino)
	require.NoError(t, err)
}

// Expectation: Concurrent allocations should never hand out duplicates.
func Test_InodeTable_Allocate_Concurrency_Success(t *testing.T) {
	t.Parallel()

	tbl := NewInodeTable(0o755, 0, 0)

	const workers = 8
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[uint64]struct{})

	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for range perWorker {
				attr := tbl.Allocate(KindFile, 0o644, 0, 0, "")
				mu.Lock()
				_, dup := seen[attr.Ino]
				seen[attr.Ino] = struct{}{}
				mu.Unlock()
				require.False(t, dup)
			}
		})
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	require.Equal(t, int64(workers*perWorker+1), tbl.Live())
}
