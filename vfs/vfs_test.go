package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_CreateAndRead(t *testing.T) {
	fsys := New()
	_, err := fsys.MkdirAll("/app/sub")
	require.NoError(t, err)

	id, err := fsys.CreateFile("/app/test.txt", []byte("File content!"))
	require.NoError(t, err)

	data, err := fsys.ReadFile("/app/test.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("File content!"), data)

	size, err := fsys.Size(id)
	require.NoError(t, err)
	require.Equal(t, uint64(13), size)

	t.Run("create over existing fails", func(t *testing.T) {
		_, err := fsys.CreateFile("/app/test.txt", nil)
		require.ErrorIs(t, err, ErrExist)
	})
	t.Run("missing parent fails", func(t *testing.T) {
		_, err := fsys.CreateFile("/nope/file", nil)
		require.ErrorIs(t, err, ErrNotExist)
	})
	t.Run("read of directory fails", func(t *testing.T) {
		_, err := fsys.ReadFile("/app")
		require.ErrorIs(t, err, ErrIsDir)
	})
}

func TestFS_PathNormalization(t *testing.T) {
	fsys := New()
	_, err := fsys.MkdirAll("/a/b")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/a/b/f", []byte("x"))
	require.NoError(t, err)

	// "." is a no-op, ".." pops, and popping at the root stays at the root.
	for _, path := range []string{
		"/a/./b/f",
		"/a/b/../b/f",
		"/../a/b/f",
		"a/b/f",
		"//a//b//f",
	} {
		_, err := fsys.Resolve(path)
		require.NoError(t, err, path)
	}
}

func TestFS_WriteAt(t *testing.T) {
	fsys := New()
	id, err := fsys.CreateFile("/f", []byte("hello"))
	require.NoError(t, err)

	n, err := fsys.WriteAt(id, 5, []byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	data, err := fsys.ReadFile("/f")
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), data)

	t.Run("gap is zero filled", func(t *testing.T) {
		id, err := fsys.CreateFile("/sparse", nil)
		require.NoError(t, err)
		_, err = fsys.WriteAt(id, 3, []byte("x"))
		require.NoError(t, err)
		data, err := fsys.ReadFile("/sparse")
		require.NoError(t, err)
		require.Equal(t, []byte{0, 0, 0, 'x'}, data)
	})

	t.Run("read at offset", func(t *testing.T) {
		buf := make([]byte, 5)
		n, err := fsys.ReadAt(id, 6, buf)
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.Equal(t, []byte("world"), buf)
	})

	t.Run("read past end is empty", func(t *testing.T) {
		buf := make([]byte, 4)
		n, err := fsys.ReadAt(id, 100, buf)
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestFS_Remove(t *testing.T) {
	fsys := New()
	_, err := fsys.MkdirAll("/d/sub")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/d/f", nil)
	require.NoError(t, err)

	t.Run("non-empty directory refuses", func(t *testing.T) {
		require.ErrorIs(t, fsys.Remove("/d"), ErrNotEmpty)
	})
	t.Run("file and empty directory unlink", func(t *testing.T) {
		require.NoError(t, fsys.Remove("/d/f"))
		require.NoError(t, fsys.Remove("/d/sub"))
		require.NoError(t, fsys.Remove("/d"))
		_, err := fsys.Resolve("/d")
		require.ErrorIs(t, err, ErrNotExist)
	})
	t.Run("missing name", func(t *testing.T) {
		require.ErrorIs(t, fsys.Remove("/nope"), ErrNotExist)
	})
}

func TestFS_Rename(t *testing.T) {
	fsys := New()
	_, err := fsys.MkdirAll("/a")
	require.NoError(t, err)
	_, err = fsys.MkdirAll("/b")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/a/f", []byte("payload"))
	require.NoError(t, err)

	t.Run("move across directories", func(t *testing.T) {
		require.NoError(t, fsys.Rename("/a/f", "/b/g"))
		data, err := fsys.ReadFile("/b/g")
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), data)
		_, err = fsys.Resolve("/a/f")
		require.ErrorIs(t, err, ErrNotExist)
	})

	t.Run("atomic replace of same kind", func(t *testing.T) {
		_, err := fsys.CreateFile("/b/h", []byte("old"))
		require.NoError(t, err)
		require.NoError(t, fsys.Rename("/b/g", "/b/h"))
		data, err := fsys.ReadFile("/b/h")
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), data)
	})

	t.Run("kind mismatch refuses", func(t *testing.T) {
		_, err := fsys.CreateFile("/b/file", nil)
		require.NoError(t, err)
		require.Error(t, fsys.Rename("/b/file", "/a"))
	})
}

func TestFS_ReaddirInsertionOrder(t *testing.T) {
	fsys := New()
	dir, err := fsys.MkdirAll("/dir")
	require.NoError(t, err)
	// Insertion order, deliberately not sorted.
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := fsys.CreateFile("/dir/"+name, nil)
		require.NoError(t, err)
	}
	entries, err := fsys.ReaddirAll(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	require.Equal(t, []string{"zeta", "alpha", "mid"}, names)

	t.Run("file is not a directory", func(t *testing.T) {
		id, err := fsys.Resolve("/dir/zeta")
		require.NoError(t, err)
		_, err = fsys.ReaddirAll(id)
		require.ErrorIs(t, err, ErrNotDir)
	})
}

func TestFS_Symlinks(t *testing.T) {
	fsys := New()
	_, err := fsys.MkdirAll("/app")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/app/real", []byte("data"))
	require.NoError(t, err)

	t.Run("relative target", func(t *testing.T) {
		_, err := fsys.Symlink("real", "/app/link")
		require.NoError(t, err)
		data, err := fsys.ReadFile("/app/link")
		require.NoError(t, err)
		require.Equal(t, []byte("data"), data)
	})

	t.Run("absolute target", func(t *testing.T) {
		_, err := fsys.Symlink("/app/real", "/app/abs")
		require.NoError(t, err)
		data, err := fsys.ReadFile("/app/abs")
		require.NoError(t, err)
		require.Equal(t, []byte("data"), data)
	})

	t.Run("no-follow resolves the link itself", func(t *testing.T) {
		id, err := fsys.ResolveNoFollow("/app/link")
		require.NoError(t, err)
		kind, err := fsys.Kind(id)
		require.NoError(t, err)
		require.Equal(t, KindSymlink, kind)
		target, err := fsys.LinkTarget(id)
		require.NoError(t, err)
		require.Equal(t, "real", target)
	})

	t.Run("loop is depth bounded", func(t *testing.T) {
		_, err := fsys.Symlink("/app/loop2", "/app/loop1")
		require.NoError(t, err)
		_, err = fsys.Symlink("/app/loop1", "/app/loop2")
		require.NoError(t, err)
		_, err = fsys.Resolve("/app/loop1")
		require.ErrorIs(t, err, ErrLoop)
	})
}

func TestFS_Stat(t *testing.T) {
	fsys := New()
	id, err := fsys.CreateFile("/f", []byte("12345"))
	require.NoError(t, err)
	st, err := fsys.Stat(id)
	require.NoError(t, err)
	require.Equal(t, KindFile, st.Kind)
	require.Equal(t, uint64(5), st.Size)
	require.Equal(t, uint64(1), st.Nlink)
	// Timestamps start at zero.
	require.Zero(t, st.Atim)
	require.Zero(t, st.Mtim)
	require.Zero(t, st.Ctim)

	dir, err := fsys.MkdirAll("/d")
	require.NoError(t, err)
	st, err = fsys.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, KindDirectory, st.Kind)
	require.Equal(t, uint64(2), st.Nlink)
}
