package fsops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aird/internal/kind"
)

func newOps(t *testing.T) Ops {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return Ops{Root: root}
}

func mustWrite(t *testing.T, root string, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestListSortedByByteOrder(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "b.txt", "")
	mustWrite(t, ops.Root, "a.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(ops.Root, "C"), 0o755))

	entries, err := ops.List("")
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	// Uppercase sorts before lowercase in byte order.
	assert.Equal(t, []string{"C", "a.txt", "b.txt"}, names)
	assert.True(t, entries[0].IsDir)
	assert.False(t, entries[1].IsDir)
}

func TestListRejectsFile(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "a.txt", "x")
	_, err := ops.List("a.txt")
	assert.ErrorIs(t, err, kind.ErrNotFound)
}

func TestListMissingDirectory(t *testing.T) {
	ops := newOps(t)
	_, err := ops.List("nope")
	assert.ErrorIs(t, err, kind.ErrNotFound)
}

func TestReadFileText(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "sub/hello.txt", "hello\nworld\n")

	got, err := ops.ReadFileText("sub/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", got)
}

func TestReadFileTextReplacesInvalidUTF8(t *testing.T) {
	ops := newOps(t)
	require.NoError(t, os.WriteFile(filepath.Join(ops.Root, "bin.dat"), []byte{'o', 'k', 0xff, 0xfe, '!'}, 0o644))

	got, err := ops.ReadFileText("bin.dat")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "ok"))
	assert.Contains(t, got, "�")
	assert.True(t, strings.HasSuffix(got, "!"))
}

func TestReadRejectsDirectory(t *testing.T) {
	ops := newOps(t)
	require.NoError(t, os.Mkdir(filepath.Join(ops.Root, "d"), 0o755))
	_, err := ops.ReadFileBytes("d")
	assert.ErrorIs(t, err, kind.ErrNotFound)
}

func TestWriteFileCreatesParents(t *testing.T) {
	ops := newOps(t)

	n, err := ops.WriteFile("deep/nested/out.txt", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	b, err := os.ReadFile(filepath.Join(ops.Root, "deep", "nested", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
}

func TestWriteFileOverwrites(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "f.txt", "old content that is longer")

	_, err := ops.WriteFile("f.txt", strings.NewReader("new"))
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(ops.Root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestWriteFileRejectsEscape(t *testing.T) {
	ops := newOps(t)
	_, err := ops.WriteFile("../stray.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, kind.ErrContainment)
}

func TestDeleteFile(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "gone.txt", "x")

	require.NoError(t, ops.Delete("gone.txt"))
	_, err := os.Stat(filepath.Join(ops.Root, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteDirectoryRecursive(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "d/inner/deep.txt", "x")

	require.NoError(t, ops.Delete("d"))
	_, err := os.Stat(filepath.Join(ops.Root, "d"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRootRejected(t *testing.T) {
	ops := newOps(t)
	for _, logical := range []string{"", ".", "/"} {
		assert.ErrorIs(t, ops.Delete(logical), kind.ErrContainment, "input %q", logical)
	}
}

func TestDeleteMissing(t *testing.T) {
	ops := newOps(t)
	assert.ErrorIs(t, ops.Delete("nope.txt"), kind.ErrNotFound)
}

func TestRename(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "sub/old.txt", "x")

	require.NoError(t, ops.Rename("sub/old.txt", "new.txt"))
	_, err := os.Stat(filepath.Join(ops.Root, "sub", "new.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(ops.Root, "sub", "old.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenameStaysInParent(t *testing.T) {
	ops := newOps(t)
	mustWrite(t, ops.Root, "sub/old.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(ops.Root, "other"), 0o755))

	for _, newName := range []string{
		"../moved.txt",
		"../../escaped.txt",
		"nested/moved.txt",
	} {
		err := ops.Rename("sub/old.txt", newName)
		assert.ErrorIs(t, err, kind.ErrContainment, "newName %q", newName)
	}
	// Source untouched after every rejected attempt.
	_, err := os.Stat(filepath.Join(ops.Root, "sub", "old.txt"))
	assert.NoError(t, err)
}

func TestRenameRootRejected(t *testing.T) {
	ops := newOps(t)
	assert.ErrorIs(t, ops.Rename("", "other"), kind.ErrContainment)
}

func TestMkdirAll(t *testing.T) {
	ops := newOps(t)
	require.NoError(t, ops.MkdirAll("a/b/c"))
	st, err := os.Stat(filepath.Join(ops.Root, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	// Idempotent.
	assert.NoError(t, ops.MkdirAll("a/b/c"))
}
