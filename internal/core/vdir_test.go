package core

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testVdirStore(t *testing.T) *VdirStore {
	t.Helper()

	s, err := NewVdirStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// Expectation: The store should create its object directory beneath the backing.
func Test_NewVdirStore_Success(t *testing.T) {
	t.Parallel()

	backing := t.TempDir()
	s, err := NewVdirStore(backing)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(filepath.Join(backing, "sfs-objects"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

// Expectation: A missing backing directory should fail construction.
func Test_NewVdirStore_MissingBacking_Error(t *testing.T) {
	t.Parallel()

	_, err := NewVdirStore(filepath.Join(t.TempDir(), "nonexistent"))
	require.ErrorIs(t, err, ErrIO)
}

// Expectation: A backing path that is a regular file should fail construction.
func Test_NewVdirStore_BackingNotDir_Error(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := NewVdirStore(path)
	require.ErrorIs(t, err, ErrInvalid)
}

// Expectation: Created content should read back from the object file.
func Test_VdirStore_WriteAt_ReadAt_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)
	require.NoError(t, s.Create(2))

	n, size, err := s.WriteAt(2, 0, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, uint64(11), size)

	data, err := s.ReadAt(2, 6, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), data)

	data, err = s.ReadAt(2, 11, 10)
	require.NoError(t, err)
	require.Empty(t, data)
}

// Expectation: Create should refuse an already existing object.
func Test_VdirStore_Create_Duplicate_Error(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)
	require.NoError(t, s.Create(2))
	require.ErrorIs(t, s.Create(2), ErrExist)
}

// Expectation: Operations on unknown content should fail with ErrNotFound.
func Test_VdirStore_UnknownInode_Error(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)

	_, err := s.ReadAt(9, 0, 10)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Size(9)
	require.ErrorIs(t, err, ErrNotFound)
}

// Expectation: Append should write at the current end of the object file.
func Test_VdirStore_Append_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)
	require.NoError(t, s.Create(2))
	_, _, err := s.WriteAt(2, 0, []byte("abc"))
	require.NoError(t, err)

	off, n, size, err := s.Append(2, []byte("def"))
	require.NoError(t, err)
	require.Equal(t, int64(3), off)
	require.Equal(t, 3, n)
	require.Equal(t, uint64(6), size)

	data, err := s.ReadAt(2, 0, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), data)
}

// Expectation: Truncate should shrink or zero-fill grow the object file.
func Test_VdirStore_Truncate_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)
	require.NoError(t, s.Create(2))
	_, _, err := s.WriteAt(2, 0, []byte("abcdef"))
	require.NoError(t, err)

	require.NoError(t, s.Truncate(2, 3))
	size, err := s.Size(2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), size)

	require.NoError(t, s.Truncate(2, 5))
	data, err := s.ReadAt(2, 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{'a', 'b', 'c', 0, 0}, data)
}

// Expectation: Usage should track bytes across writes, truncates and reclaims.
func Test_VdirStore_Usage_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)
	require.NoError(t, s.Create(2))

	_, _, err := s.WriteAt(2, 0, bytes.Repeat([]byte{'x'}, 100))
	require.NoError(t, err)
	require.Equal(t, uint64(100), s.Usage())

	require.NoError(t, s.Truncate(2, 40))
	require.Equal(t, uint64(40), s.Usage())

	require.NoError(t, s.Reclaim(2))
	require.Equal(t, uint64(0), s.Usage())
}

// Expectation: Reclaim should remove the object file from the host.
func Test_VdirStore_Reclaim_RemovesObject_Success(t *testing.T) {
	t.Parallel()

	backing := t.TempDir()
	s, err := NewVdirStore(backing)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(2))
	_, _, err = s.WriteAt(2, 0, []byte("abc"))
	require.NoError(t, err)

	path := filepath.Join(backing, "sfs-objects", "2.dat")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Reclaim(2))

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	// Reclaim of already absent content is tolerated.
	require.NoError(t, s.Reclaim(2))
}

// Expectation: Sync should flush without error on live content.
func Test_VdirStore_Sync_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)
	require.NoError(t, s.Create(2))
	_, _, err := s.WriteAt(2, 0, []byte("abc"))
	require.NoError(t, err)

	require.NoError(t, s.Sync(2))
	require.ErrorIs(t, s.Sync(9), ErrNotFound)
}

// Expectation: DeviceStats should report the host device beneath the backing.
func Test_VdirStore_DeviceStats_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)

	blocks, bfree, bavail, bsize, err := s.DeviceStats()
	require.NoError(t, err)
	require.Positive(t, blocks)
	require.Positive(t, bsize)
	require.LessOrEqual(t, bavail, bfree)
}

// Expectation: SweepStale should remove leftover objects of a prior process.
func Test_VdirStore_SweepStale_Success(t *testing.T) {
	t.Parallel()

	backing := t.TempDir()

	objects := filepath.Join(backing, "sfs-objects")
	require.NoError(t, os.MkdirAll(objects, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(objects, "17.dat"), []byte("stale"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(objects, "18.dat"), []byte("stale"), 0o600))

	s, err := NewVdirStore(backing)
	require.NoError(t, err)
	defer s.Close()

	removed, err := s.SweepStale()
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	entries, err := os.ReadDir(objects)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Expectation: Content should remain readable after many distinct inodes
// cycled through the descriptor cache.
func Test_VdirStore_FDCache_Reopen_Success(t *testing.T) {
	t.Parallel()

	s := testVdirStore(t)

	// More inodes than the cache holds, forcing capacity evictions.
	const count = 200
	for i := range count {
		ino := uint64(i + 2)
		require.NoError(t, s.Create(ino))
		_, _, err := s.WriteAt(ino, 0, []byte{byte(i)})
		require.NoError(t, err)
	}

	for i := range count {
		ino := uint64(i + 2)
		data, err := s.ReadAt(ino, 0, 1)
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, data)
	}
}
