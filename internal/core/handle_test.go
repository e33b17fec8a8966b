package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Open should register handles with unique identifiers.
func Test_HandleTable_Open_UniqueIDs_Success(t *testing.T) {
	t.Parallel()

	tbl := NewHandleTable()

	h1 := tbl.Open(5, OpenFlags{Read: true}, nil)
	h2 := tbl.Open(5, OpenFlags{Write: true}, nil)

	require.NotEqual(t, h1.ID, h2.ID)
	require.Equal(t, uint64(5), h1.Ino)
	require.Equal(t, 2, tbl.Len())
}

// Expectation: Get should return the live handle, Close should retire it.
func Test_HandleTable_Get_Close_Success(t *testing.T) {
	t.Parallel()

	tbl := NewHandleTable()
	h := tbl.Open(5, OpenFlags{Read: true}, nil)

	got, err := tbl.Get(h.ID)
	require.NoError(t, err)
	require.Equal(t, h, got)

	closed, err := tbl.Close(h.ID)
	require.NoError(t, err)
	require.Equal(t, h.ID, closed.ID)
	require.Equal(t, 0, tbl.Len())

	_, err = tbl.Get(h.ID)
	require.ErrorIs(t, err, ErrStaleHandle)

	_, err = tbl.Close(h.ID)
	require.ErrorIs(t, err, ErrStaleHandle)
}

// Expectation: ForInode should find a live handle by its inode.
func Test_HandleTable_ForInode_Success(t *testing.T) {
	t.Parallel()

	tbl := NewHandleTable()
	h := tbl.Open(7, OpenFlags{Read: true}, nil)

	got, err := tbl.ForInode(7)
	require.NoError(t, err)
	require.Equal(t, h.ID, got.ID)

	_, err = tbl.ForInode(8)
	require.ErrorIs(t, err, ErrStaleHandle)
}

// Expectation: DrainAll should retire and return every open handle.
func Test_HandleTable_DrainAll_Success(t *testing.T) {
	t.Parallel()

	tbl := NewHandleTable()
	tbl.Open(1, OpenFlags{Read: true}, nil)
	tbl.Open(2, OpenFlags{Read: true}, nil)
	tbl.Open(3, OpenFlags{Read: true}, nil)

	drained := tbl.DrainAll()
	require.Len(t, drained, 3)
	require.Equal(t, 0, tbl.Len())
}

// Expectation: Advance should track the byte offset through the handle.
func Test_Handle_Advance_Success(t *testing.T) {
	t.Parallel()

	tbl := NewHandleTable()
	h := tbl.Open(5, OpenFlags{Read: true}, nil)

	require.Equal(t, int64(0), h.Offset())

	h.Advance(0, 512)
	require.Equal(t, int64(512), h.Offset())

	h.Advance(4096, 100)
	require.Equal(t, int64(4196), h.Offset())
}

// Expectation: The dirent cursor should iterate the open-time snapshot
// exactly once and support rewinding.
func Test_Handle_NextDirent_Rewind_Success(t *testing.T) {
	t.Parallel()

	snapshot := []Entry{
		{Name: "a", Ino: 2, Kind: KindFile},
		{Name: "b", Ino: 3, Kind: KindDir},
	}

	tbl := NewHandleTable()
	h := tbl.Open(1, OpenFlags{Read: true}, snapshot)

	e, ok := h.NextDirent()
	require.True(t, ok)
	require.Equal(t, "a", e.Name)

	e, ok = h.NextDirent()
	require.True(t, ok)
	require.Equal(t, "b", e.Name)

	_, ok = h.NextDirent()
	require.False(t, ok)

	h.RewindDir()

	e, ok = h.NextDirent()
	require.True(t, ok)
	require.Equal(t, "a", e.Name)
}

// Expectation: Dirents should return a copy of the snapshot.
func Test_Handle_Dirents_ReturnsCopy_Success(t *testing.T) {
	t.Parallel()

	snapshot := []Entry{{Name: "a", Ino: 2, Kind: KindFile}}

	tbl := NewHandleTable()
	h := tbl.Open(1, OpenFlags{Read: true}, snapshot)

	out := h.Dirents()
	require.Len(t, out, 1)

	out[0].Name = "MUTATED"

	again := h.Dirents()
	require.Equal(t, "a", again[0].Name)
}
