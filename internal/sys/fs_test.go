package sys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/vfs"
)

func newTestFS(t *testing.T) (*Context, uint32) {
	t.Helper()
	fsys := vfs.New()
	c, err := NewContext(fsys)
	require.NoError(t, err)
	fd, err := c.FS().Preopen("/app")
	require.NoError(t, err)
	return c, fd
}

func TestPreopen(t *testing.T) {
	c, fd := newTestFS(t)
	require.Equal(t, uint32(3), fd)
	e, ok := c.FS().Lookup(fd)
	require.True(t, ok)
	require.Equal(t, BackingPreopenDir, e.Kind)
	require.Equal(t, "/app", e.Name)
	require.Equal(t, wasip1.RightsAll, e.RightsBase)

	// stdio occupies 0..2.
	for fd := uint32(0); fd <= 2; fd++ {
		e, ok := c.FS().Lookup(fd)
		require.True(t, ok)
		require.Equal(t, BackingStdio, e.Kind)
	}
}

func TestPathOpen_Sandbox(t *testing.T) {
	c, dirfd := newTestFS(t)
	fsys := c.FS().VFS()
	_, err := fsys.CreateFile("/app/test.txt", []byte("File content!"))
	require.NoError(t, err)
	_, err = fsys.MkdirAll("/etc")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/etc/passwd", []byte("secret"))
	require.NoError(t, err)

	t.Run("plain open", func(t *testing.T) {
		fd, errno := c.FS().PathOpen(dirfd, 0, "test.txt", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint32(4), fd)
	})

	t.Run("leading slash is preopen-relative", func(t *testing.T) {
		_, errno := c.FS().PathOpen(dirfd, 0, "/test.txt", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
	})

	t.Run("dot prefix strips", func(t *testing.T) {
		_, errno := c.FS().PathOpen(dirfd, 0, "./test.txt", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
	})

	t.Run("dotdot cancels a prior segment only", func(t *testing.T) {
		_, err := fsys.MkdirAll("/app/sub")
		require.NoError(t, err)
		_, errno := c.FS().PathOpen(dirfd, 0, "sub/../test.txt", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
	})

	t.Run("escape via dotdot is EACCES", func(t *testing.T) {
		before, err := fsys.ReaddirAll(vfs.RootID)
		require.NoError(t, err)
		_, errno := c.FS().PathOpen(dirfd, 0, "../etc/passwd", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoAcces, errno)
		after, err := fsys.ReaddirAll(vfs.RootID)
		require.NoError(t, err)
		require.Equal(t, before, after)
	})

	t.Run("escape via symlink is EACCES", func(t *testing.T) {
		_, err := fsys.Symlink("/etc/passwd", "/app/evil")
		require.NoError(t, err)
		_, errno := c.FS().PathOpen(dirfd, wasip1.LookupSymlinkFollow, "evil", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoAcces, errno)
	})

	t.Run("symlink inside the root follows", func(t *testing.T) {
		_, err := fsys.Symlink("test.txt", "/app/alias")
		require.NoError(t, err)
		fd, errno := c.FS().PathOpen(dirfd, wasip1.LookupSymlinkFollow, "alias", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		buf := make([]byte, 32)
		n, errno := c.FS().Read(fd, buf)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, "File content!", string(buf[:n]))
	})

	t.Run("symlink loop is ELOOP", func(t *testing.T) {
		_, err := fsys.Symlink("l2", "/app/l1")
		require.NoError(t, err)
		_, err = fsys.Symlink("l1", "/app/l2")
		require.NoError(t, err)
		_, errno := c.FS().PathOpen(dirfd, wasip1.LookupSymlinkFollow, "l1", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoLoop, errno)
	})

	t.Run("missing file is ENOENT", func(t *testing.T) {
		_, errno := c.FS().PathOpen(dirfd, 0, "nope", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoNoent, errno)
	})

	t.Run("bad dirfd is EBADF", func(t *testing.T) {
		_, errno := c.FS().PathOpen(99, 0, "x", 0, 0, 0, 0)
		require.Equal(t, wasip1.ErrnoBadf, errno)
	})

	t.Run("file dirfd is ENOTDIR", func(t *testing.T) {
		fd, errno := c.FS().PathOpen(dirfd, 0, "test.txt", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		_, errno = c.FS().PathOpen(fd, 0, "x", 0, 0, 0, 0)
		require.Equal(t, wasip1.ErrnoNotdir, errno)
	})

	t.Run("unsatisfiable rights are ENOTCAPABLE", func(t *testing.T) {
		// Narrow the preopen's rights, then ask for more.
		e, _ := c.FS().Lookup(dirfd)
		saved := e.RightsBase
		e.RightsBase = wasip1.RightFdRead
		defer func() { e.RightsBase = saved }()
		_, errno := c.FS().PathOpen(dirfd, 0, "test.txt", 0, wasip1.RightFdWrite, 0, 0)
		require.Equal(t, wasip1.ErrnoNotcapable, errno)
	})
}

func TestPathOpen_CreateFlags(t *testing.T) {
	c, dirfd := newTestFS(t)

	t.Run("creat makes a new file", func(t *testing.T) {
		fd, errno := c.FS().PathOpen(dirfd, 0, "new.txt", wasip1.OflagCreat,
			wasip1.RightFdWrite|wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		n, errno := c.FS().Write(fd, []byte("out"))
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint32(3), n)
		data, err := c.FS().VFS().ReadFile("/app/new.txt")
		require.NoError(t, err)
		require.Equal(t, []byte("out"), data)
	})

	t.Run("creat+excl on existing is EEXIST", func(t *testing.T) {
		_, errno := c.FS().PathOpen(dirfd, 0, "new.txt",
			wasip1.OflagCreat|wasip1.OflagExcl, wasip1.RightFdWrite, 0, 0)
		require.Equal(t, wasip1.ErrnoExist, errno)
	})

	t.Run("trunc clears contents", func(t *testing.T) {
		fd, errno := c.FS().PathOpen(dirfd, 0, "new.txt", wasip1.OflagTrunc,
			wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		buf := make([]byte, 8)
		n, errno := c.FS().Read(fd, buf)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Zero(t, n)
	})

	t.Run("oflag directory on a file is ENOTDIR", func(t *testing.T) {
		_, errno := c.FS().PathOpen(dirfd, 0, "new.txt", wasip1.OflagDirectory,
			wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoNotdir, errno)
	})
}

func TestSeekSemantics(t *testing.T) {
	c, dirfd := newTestFS(t)
	_, err := c.FS().VFS().CreateFile("/app/f", []byte("0123456789"))
	require.NoError(t, err)
	fd, errno := c.FS().PathOpen(dirfd, 0, "f", 0, wasip1.RightsAll, 0, 0)
	require.Equal(t, wasip1.ErrnoSuccess, errno)

	t.Run("set cur end", func(t *testing.T) {
		off, errno := c.FS().Seek(fd, 4, wasip1.WhenceSet)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint64(4), off)

		off, errno = c.FS().Seek(fd, 2, wasip1.WhenceCur)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint64(6), off)

		off, errno = c.FS().Seek(fd, -1, wasip1.WhenceEnd)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint64(9), off)

		got, errno := c.FS().Tell(fd)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint64(9), got)
	})

	t.Run("negative destinations are EINVAL", func(t *testing.T) {
		_, errno := c.FS().Seek(fd, -1, wasip1.WhenceSet)
		require.Equal(t, wasip1.ErrnoInval, errno)
		_, errno = c.FS().Seek(fd, -100, wasip1.WhenceCur)
		require.Equal(t, wasip1.ErrnoInval, errno)
		_, errno = c.FS().Seek(fd, -11, wasip1.WhenceEnd)
		require.Equal(t, wasip1.ErrnoInval, errno)
	})

	t.Run("invalid whence is EINVAL", func(t *testing.T) {
		_, errno := c.FS().Seek(fd, 0, 42)
		require.Equal(t, wasip1.ErrnoInval, errno)
	})

	t.Run("streams are ESPIPE", func(t *testing.T) {
		_, errno := c.FS().Seek(1, 0, wasip1.WhenceSet)
		require.Equal(t, wasip1.ErrnoSpipe, errno)
		_, errno = c.FS().Tell(0)
		require.Equal(t, wasip1.ErrnoSpipe, errno)
	})
}

func TestPathDirectoryOps(t *testing.T) {
	c, dirfd := newTestFS(t)
	fsc := c.FS()

	require.Equal(t, wasip1.ErrnoSuccess, fsc.PathCreateDirectory(dirfd, "sub"))
	require.Equal(t, wasip1.ErrnoExist, fsc.PathCreateDirectory(dirfd, "sub"))

	_, err := fsc.VFS().CreateFile("/app/sub/f", []byte("z"))
	require.NoError(t, err)

	t.Run("remove refuses non-empty and files", func(t *testing.T) {
		require.Equal(t, wasip1.ErrnoNotempty, fsc.PathRemoveDirectory(dirfd, "sub"))
		require.Equal(t, wasip1.ErrnoNotdir, fsc.PathRemoveDirectory(dirfd, "sub/f"))
	})

	t.Run("unlink refuses directories", func(t *testing.T) {
		require.Equal(t, wasip1.ErrnoIsdir, fsc.PathUnlinkFile(dirfd, "sub"))
		require.Equal(t, wasip1.ErrnoSuccess, fsc.PathUnlinkFile(dirfd, "sub/f"))
		require.Equal(t, wasip1.ErrnoSuccess, fsc.PathRemoveDirectory(dirfd, "sub"))
	})

	t.Run("rename within the sandbox", func(t *testing.T) {
		_, err := fsc.VFS().CreateFile("/app/old", []byte("v"))
		require.NoError(t, err)
		require.Equal(t, wasip1.ErrnoSuccess, fsc.PathRename(dirfd, "old", dirfd, "new"))
		data, err := fsc.VFS().ReadFile("/app/new")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), data)
	})

	t.Run("filestat", func(t *testing.T) {
		st, errno := fsc.PathFilestat(dirfd, 0, "new")
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, vfs.KindFile, st.Kind)
		require.Equal(t, uint64(1), st.Size)

		_, errno = fsc.PathFilestat(dirfd, 0, "missing")
		require.Equal(t, wasip1.ErrnoNoent, errno)
	})
}

func TestReaddirAndFilestat(t *testing.T) {
	c, dirfd := newTestFS(t)
	fsc := c.FS()
	for _, name := range []string{"b", "a"} {
		_, err := fsc.VFS().CreateFile("/app/"+name, nil)
		require.NoError(t, err)
	}
	entries, errno := fsc.Readdir(dirfd)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].Name) // insertion order, not sorted

	t.Run("readdir of a file is ENOTDIR", func(t *testing.T) {
		fd, e := fsc.PathOpen(dirfd, 0, "a", 0, wasip1.RightFdRead, 0, 0)
		require.Equal(t, wasip1.ErrnoSuccess, e)
		_, e = fsc.Readdir(fd)
		require.Equal(t, wasip1.ErrnoNotdir, e)
	})

	t.Run("fd filestat", func(t *testing.T) {
		st, e := fsc.FdFilestat(dirfd)
		require.Equal(t, wasip1.ErrnoSuccess, e)
		require.Equal(t, vfs.KindDirectory, st.Kind)
	})
}

func TestContext_Misc(t *testing.T) {
	t.Run("args and environ sizes", func(t *testing.T) {
		c, err := NewContext(nil, WithArgs("app", "--flag"), WithEnviron("A=1"))
		require.NoError(t, err)
		require.Equal(t, uint32(11), c.ArgsSize()) // "app\0--flag\0"
		require.Equal(t, uint32(4), c.EnvironSize())
	})

	t.Run("invalid UTF-8 arg", func(t *testing.T) {
		_, err := NewContext(nil, WithArgs("\xff\xfe"))
		require.ErrorContains(t, err, "not a valid UTF-8 string")
	})

	t.Run("clocks", func(t *testing.T) {
		c, err := NewContext(nil,
			WithWalltime(func() uint64 { return 1234 }),
			WithNanotime(func() uint64 { return 5678 }))
		require.NoError(t, err)
		v, errno := c.ClockTime(wasip1.ClockRealtime)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint64(1234), v)
		v, errno = c.ClockTime(wasip1.ClockMonotonic)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		require.Equal(t, uint64(5678), v)
		_, errno = c.ClockTime(99)
		require.Equal(t, wasip1.ErrnoInval, errno)
	})

	t.Run("random is deterministic by default", func(t *testing.T) {
		c1, err := NewContext(nil)
		require.NoError(t, err)
		c2, err := NewContext(nil)
		require.NoError(t, err)
		b1, b2 := make([]byte, 16), make([]byte, 16)
		require.NoError(t, c1.RandomGet(b1))
		require.NoError(t, c2.RandomGet(b2))
		require.Equal(t, b1, b2)
		require.NotEqual(t, make([]byte, 16), b1)
	})

	t.Run("close releases fds", func(t *testing.T) {
		c, fd := newTestFS(t)
		require.Equal(t, wasip1.ErrnoSuccess, c.FS().Close(fd))
		require.Equal(t, wasip1.ErrnoBadf, c.FS().Close(fd))
	})
}
