package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: ValidName should reject empty, dot and separator names.
func Test_ValidName_Success(t *testing.T) {
	t.Parallel()

	require.True(t, ValidName("file.txt"))
	require.True(t, ValidName("UPPER and lower"))
	require.True(t, ValidName("..."))

	require.False(t, ValidName(""))
	require.False(t, ValidName("."))
	require.False(t, ValidName(".."))
	require.False(t, ValidName("a/b"))
	require.False(t, ValidName("a\x00b"))
}

// Expectation: Resolve should find an inserted entry by exact name.
func Test_Tree_Resolve_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "file.txt", Ino: 2, Kind: KindFile}))

	e, err := tree.Resolve(RootIno, "file.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(2), e.Ino)
	require.Equal(t, KindFile, e.Kind)

	// Matching is case-sensitive.
	_, err = tree.Resolve(RootIno, "FILE.TXT")
	require.ErrorIs(t, err, ErrNotFound)
}

// Expectation: Resolve should synthesize "." and ".." without storing them.
func Test_Tree_Resolve_DotEntries_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "sub", Ino: 2, Kind: KindDir}))

	self, err := tree.Resolve(2, ".")
	require.NoError(t, err)
	require.Equal(t, uint64(2), self.Ino)

	up, err := tree.Resolve(2, "..")
	require.NoError(t, err)
	require.Equal(t, RootIno, up.Ino)

	// The root is its own parent.
	up, err = tree.Resolve(RootIno, "..")
	require.NoError(t, err)
	require.Equal(t, RootIno, up.Ino)

	entries, err := tree.List(2)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Expectation: Insert should reject a duplicate name with ErrExist.
func Test_Tree_Insert_Duplicate_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindFile}))

	err := tree.Insert(RootIno, Entry{Name: "a", Ino: 3, Kind: KindFile})
	require.ErrorIs(t, err, ErrExist)
}

// Expectation: Insert should reject invalid entry names.
func Test_Tree_Insert_InvalidName_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()

	err := tree.Insert(RootIno, Entry{Name: "a/b", Ino: 2, Kind: KindFile})
	require.ErrorIs(t, err, ErrInvalid)
}

// Expectation: Insert into an unknown directory should fail with ErrNotFound.
func Test_Tree_Insert_UnknownParent_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()

	err := tree.Insert(999, Entry{Name: "a", Ino: 2, Kind: KindFile})
	require.ErrorIs(t, err, ErrNotFound)
}

// Expectation: Remove should unbind the entry and return it.
func Test_Tree_Remove_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindFile}))

	e, err := tree.Remove(RootIno, "a", false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), e.Ino)

	_, err = tree.Resolve(RootIno, "a")
	require.ErrorIs(t, err, ErrNotFound)
}

// Expectation: Remove should reject a mismatch between the expected and
// the actual entry kind, leaving the binding in place.
func Test_Tree_Remove_KindMismatch_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "file", Ino: 2, Kind: KindFile}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "dir", Ino: 3, Kind: KindDir}))

	_, err := tree.Remove(RootIno, "file", true)
	require.ErrorIs(t, err, ErrNotDir)

	_, err = tree.Remove(RootIno, "dir", false)
	require.ErrorIs(t, err, ErrIsDir)

	_, err = tree.Resolve(RootIno, "file")
	require.NoError(t, err)
	_, err = tree.Resolve(RootIno, "dir")
	require.NoError(t, err)
}

// Expectation: Removing a non-empty directory should fail with ErrNotEmpty.
func Test_Tree_Remove_NotEmpty_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "sub", Ino: 2, Kind: KindDir}))
	require.NoError(t, tree.Insert(2, Entry{Name: "inner", Ino: 3, Kind: KindFile}))

	_, err := tree.Remove(RootIno, "sub", true)
	require.ErrorIs(t, err, ErrNotEmpty)

	// Empty it out; the removal then passes.
	_, err = tree.Remove(2, "inner", false)
	require.NoError(t, err)

	_, err = tree.Remove(RootIno, "sub", true)
	require.NoError(t, err)

	_, err = tree.List(2)
	require.ErrorIs(t, err, ErrNotFound)
}

// Expectation: Rename should move the binding atomically.
func Test_Tree_Rename_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "src", Ino: 2, Kind: KindDir}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "dst", Ino: 3, Kind: KindDir}))
	require.NoError(t, tree.Insert(2, Entry{Name: "file", Ino: 4, Kind: KindFile}))

	moved, err := tree.Rename(2, "file", 3, "renamed")
	require.NoError(t, err)
	require.Equal(t, uint64(4), moved.Ino)
	require.Equal(t, "renamed", moved.Name)

	_, err = tree.Resolve(2, "file")
	require.ErrorIs(t, err, ErrNotFound)

	e, err := tree.Resolve(3, "renamed")
	require.NoError(t, err)
	require.Equal(t, uint64(4), e.Ino)
}

// Expectation: Rename should not replace an existing destination binding.
func Test_Tree_Rename_TargetExists_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindFile}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "b", Ino: 3, Kind: KindFile}))

	_, err := tree.Rename(RootIno, "a", RootIno, "b")
	require.ErrorIs(t, err, ErrExist)

	// Both bindings are untouched.
	e, err := tree.Resolve(RootIno, "a")
	require.NoError(t, err)
	require.Equal(t, uint64(2), e.Ino)

	e, err = tree.Resolve(RootIno, "b")
	require.NoError(t, err)
	require.Equal(t, uint64(3), e.Ino)
}

// Expectation: Renaming an entry onto itself should be a no-op.
func Test_Tree_Rename_SamePlace_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindFile}))

	e, err := tree.Rename(RootIno, "a", RootIno, "a")
	require.NoError(t, err)
	require.Equal(t, uint64(2), e.Ino)

	_, err = tree.Resolve(RootIno, "a")
	require.NoError(t, err)
}

// Expectation: Moving a directory beneath itself should fail with ErrCycle.
func Test_Tree_Rename_Cycle_Error(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindDir}))
	require.NoError(t, tree.Insert(2, Entry{Name: "b", Ino: 3, Kind: KindDir}))
	require.NoError(t, tree.Insert(3, Entry{Name: "c", Ino: 4, Kind: KindDir}))

	// a -> a/b/c would make "a" its own ancestor.
	_, err := tree.Rename(RootIno, "a", 4, "a")
	require.ErrorIs(t, err, ErrCycle)

	// Moving a directory onto its own location is also a cycle.
	_, err = tree.Rename(RootIno, "a", 2, "a2")
	require.ErrorIs(t, err, ErrCycle)
}

// Expectation: A moved directory should resolve ".." to its new parent.
func Test_Tree_Rename_DirectoryReparent_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindDir}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "b", Ino: 3, Kind: KindDir}))

	_, err := tree.Rename(RootIno, "a", 3, "a")
	require.NoError(t, err)

	parent, err := tree.Parent(2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), parent)

	up, err := tree.Resolve(2, "..")
	require.NoError(t, err)
	require.Equal(t, uint64(3), up.Ino)
}

// Expectation: List should return the entries ordered by name.
func Test_Tree_List_Sorted_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "zulu", Ino: 2, Kind: KindFile}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "alpha", Ino: 3, Kind: KindFile}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "mike", Ino: 4, Kind: KindDir}))

	entries, err := tree.List(RootIno)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "alpha", entries[0].Name)
	require.Equal(t, "mike", entries[1].Name)
	require.Equal(t, "zulu", entries[2].Name)
}

// Expectation: Concurrent inserts into different directories should not
// interfere with each other.
func Test_Tree_Insert_Concurrency_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindDir}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "b", Ino: 3, Kind: KindDir}))

	const perDir = 100

	var wg sync.WaitGroup
	for _, dir := range []uint64{2, 3} {
		wg.Go(func() {
			for i := range perDir {
				ino := dir*1000 + uint64(i)
				err := tree.Insert(dir, Entry{
					Name: fmt.Sprintf("file-%04d", i),
					Ino:  ino,
					Kind: KindFile,
				})
				require.NoError(t, err)
			}
		})
	}
	wg.Wait()

	for _, dir := range []uint64{2, 3} {
		n, err := tree.Len(dir)
		require.NoError(t, err)
		require.Equal(t, perDir, n)
	}
}

// Expectation: Opposing concurrent renames between two directories should
// neither deadlock nor lose entries.
func Test_Tree_Rename_OpposingConcurrency_Success(t *testing.T) {
	t.Parallel()

	tree := NewTree()
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "a", Ino: 2, Kind: KindDir}))
	require.NoError(t, tree.Insert(RootIno, Entry{Name: "b", Ino: 3, Kind: KindDir}))
	require.NoError(t, tree.Insert(2, Entry{Name: "x", Ino: 4, Kind: KindFile}))
	require.NoError(t, tree.Insert(3, Entry{Name: "y", Ino: 5, Kind: KindFile}))

	var wg sync.WaitGroup
	wg.Go(func() {
		for range 100 {
			_, _ = tree.Rename(2, "x", 3, "x")
			_, _ = tree.Rename(3, "x", 2, "x")
		}
	})
	wg.Go(func() {
		for range 100 {
			_, _ = tree.Rename(3, "y", 2, "y")
			_, _ = tree.Rename(2, "y", 3, "y")
		}
	})
	wg.Wait()

	// Both files still exist exactly once, wherever they ended up.
	total := 0
	for _, dir := range []uint64{2, 3} {
		entries, err := tree.List(dir)
		require.NoError(t, err)
		total += len(entries)
	}
	require.Equal(t, 2, total)
}
