package wasi

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kpio-os/wasmcore/internal/sys"
	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/vfs"
	"github.com/kpio-os/wasmcore/wasm"
)

// testCtx builds an executor context with one page of memory and a WASI
// context configured by opts.
func testCtx(t *testing.T, fsys *vfs.FS, opts ...sys.Option) *wasm.ExecutorContext {
	t.Helper()
	sysCtx, err := sys.NewContext(fsys, opts...)
	require.NoError(t, err)
	max := uint32(10)
	return &wasm.ExecutorContext{
		Memories: []*wasm.MemoryInstance{wasm.NewMemoryInstance(&wasm.MemoryType{Min: 1, Max: &max})},
		Sys:      sysCtx,
	}
}

func callErrno(t *testing.T, fn wasm.HostFunc, ctx *wasm.ExecutorContext, params ...uint64) Errno {
	t.Helper()
	results, err := fn(ctx, params)
	require.NoError(t, err)
	require.Len(t, results, 1)
	return Errno(results[0])
}

// maskMemory fills the start of memory with '?' so byte-layout assertions
// show exactly what a function wrote.
func maskMemory(ctx *wasm.ExecutorContext, size int) {
	for i := 0; i < size; i++ {
		ctx.Memory().Buffer[i] = '?'
	}
}

func TestHostModule_Catalog(t *testing.T) {
	hm := HostModule()
	for _, name := range []string{
		"args_get", "args_sizes_get", "environ_get", "environ_sizes_get",
		"clock_time_get", "random_get", "proc_exit",
		"fd_write", "fd_read", "fd_close", "fd_seek", "fd_tell",
		"fd_fdstat_get", "fd_filestat_get", "fd_prestat_get",
		"fd_prestat_dir_name", "fd_readdir",
		"path_open", "path_create_directory", "path_remove_directory",
		"path_unlink_file", "path_rename", "path_filestat_get",
	} {
		require.Contains(t, hm.Functions, name)
	}
	// fd_seek's offset is a native i64 in the frame, never two i32 halves.
	require.Equal(t, []wasm.ValueType{
		wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeI32, wasm.ValueTypeI32,
	}, hm.Functions["fd_seek"].Params)
	// proc_exit never returns a value.
	require.Empty(t, hm.Functions["proc_exit"].Results)
}

func TestArgsSizesGet(t *testing.T) {
	ctx := testCtx(t, nil, sys.WithArgs("a", "bc"))
	expectedMemory := []byte{
		'?',                // resultArgc is after this
		0x2, 0x0, 0x0, 0x0, // little-endian arg count
		'?',                // resultArgvBufSize is after this
		0x5, 0x0, 0x0, 0x0, // len("a\0bc\0")
		'?',
	}
	maskMemory(ctx, len(expectedMemory))

	errno := callErrno(t, argsSizesGet, ctx, 1, 6)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	require.Equal(t, expectedMemory, ctx.Memory().Buffer[:len(expectedMemory)])
}

func TestArgsGet(t *testing.T) {
	ctx := testCtx(t, nil, sys.WithArgs("a", "bc"))
	argv, argvBuf := uint64(7), uint64(1)
	expectedMemory := []byte{
		'?',                 // argvBuf is after this
		'a', 0, 'b', 'c', 0, // null terminated "a", "bc"
		'?',        // argv is after this
		1, 0, 0, 0, // offset of "a"
		3, 0, 0, 0, // offset of "bc"
		'?',
	}
	maskMemory(ctx, len(expectedMemory))

	errno := callErrno(t, argsGet, ctx, argv, argvBuf)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	require.Equal(t, expectedMemory, ctx.Memory().Buffer[:len(expectedMemory)])
}

func TestArgsGet_Fault(t *testing.T) {
	ctx := testCtx(t, nil, sys.WithArgs("a", "bc"))
	memSize := uint64(ctx.Memory().Size())
	for _, tc := range []struct {
		name          string
		argv, argvBuf uint64
	}{
		{"out-of-memory argv", memSize, 0},
		{"out-of-memory argvBuf", 0, memSize},
		{"argv exceeds by one", memSize - 4*2 + 1, 0},
		{"argvBuf exceeds by one", 0, memSize - 5 + 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			errno := callErrno(t, argsGet, ctx, tc.argv, tc.argvBuf)
			require.Equal(t, wasip1.ErrnoFault, errno)
		})
	}
}

func TestEnviron(t *testing.T) {
	ctx := testCtx(t, nil, sys.WithEnviron("A=1", "BB=2"))

	errno := callErrno(t, environSizesGet, ctx, 0, 4)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	count, _ := ctx.Memory().ReadUint32Le(0)
	size, _ := ctx.Memory().ReadUint32Le(4)
	require.Equal(t, uint32(2), count)
	require.Equal(t, uint32(9), size) // "A=1\0BB=2\0"

	errno = callErrno(t, environGet, ctx, 100, 200)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	b, _ := ctx.Memory().Read(200, 9)
	require.Equal(t, []byte("A=1\x00BB=2\x00"), b)
}

func TestClockTimeGet(t *testing.T) {
	ctx := testCtx(t, nil,
		sys.WithWalltime(func() uint64 { return 1690000000000000000 }),
		sys.WithNanotime(func() uint64 { return 42 }))

	errno := callErrno(t, clockTimeGet, ctx, uint64(wasip1.ClockRealtime), 0, 8)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	v, _ := ctx.Memory().ReadUint64Le(8)
	require.Equal(t, uint64(1690000000000000000), v)

	errno = callErrno(t, clockTimeGet, ctx, uint64(wasip1.ClockMonotonic), 0, 16)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	v, _ = ctx.Memory().ReadUint64Le(16)
	require.Equal(t, uint64(42), v)

	t.Run("unknown clock is EINVAL", func(t *testing.T) {
		errno := callErrno(t, clockTimeGet, ctx, 9, 0, 0)
		require.Equal(t, wasip1.ErrnoInval, errno)
	})
	t.Run("out-of-bounds pointer is EFAULT", func(t *testing.T) {
		errno := callErrno(t, clockTimeGet, ctx, 0, 0, uint64(ctx.Memory().Size())-7)
		require.Equal(t, wasip1.ErrnoFault, errno)
	})
}

func TestRandomGet(t *testing.T) {
	ctx := testCtx(t, nil, sys.WithRandSource(bytes.NewReader([]byte{1, 2, 3, 4})))
	errno := callErrno(t, randomGet, ctx, 16, 4)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	b, _ := ctx.Memory().Read(16, 4)
	require.Equal(t, []byte{1, 2, 3, 4}, b)

	t.Run("out-of-bounds buffer is EFAULT", func(t *testing.T) {
		errno := callErrno(t, randomGet, ctx, uint64(ctx.Memory().Size())-1, 2)
		require.Equal(t, wasip1.ErrnoFault, errno)
	})
}

func TestProcExit(t *testing.T) {
	ctx := testCtx(t, nil)
	_, err := procExit(ctx, []uint64{42})
	code, ok := wasm.ExitCodeOf(err)
	require.True(t, ok)
	require.Equal(t, uint32(42), code)
}

// TestFdWrite_Stdout is the canonical hello scenario: fd_write(1) with one
// iovec over "Hello, WASI!".
func TestFdWrite_Stdout(t *testing.T) {
	var stdout bytes.Buffer
	ctx := testCtx(t, nil, sys.WithStdio(nil, &stdout, nil))
	mem := ctx.Memory()

	msg := "Hello, WASI!"
	require.True(t, mem.Write(0, []byte(msg)))
	// iovec at 100: {buf_ptr=0, buf_len=12}
	require.True(t, mem.WriteUint32Le(100, 0))
	require.True(t, mem.WriteUint32Le(104, uint32(len(msg))))

	errno := callErrno(t, fdWrite, ctx, 1, 100, 1, 200)
	require.Equal(t, wasip1.ErrnoSuccess, errno)

	nwritten, _ := mem.ReadUint32Le(200)
	require.Equal(t, uint32(12), nwritten)
	require.Equal(t, msg, string(ctx.Stdout)) // capture buffer
	require.Equal(t, msg, stdout.String())    // configured writer
}

func TestFdWrite_GatherAndErrors(t *testing.T) {
	ctx := testCtx(t, nil)
	mem := ctx.Memory()
	require.True(t, mem.Write(0, []byte("abcdef")))
	// Two iovecs: [0,3) and [3,6).
	for i, iov := range [][2]uint32{{0, 3}, {3, 3}} {
		require.True(t, mem.WriteUint32Le(uint32(100+i*8), iov[0]))
		require.True(t, mem.WriteUint32Le(uint32(104+i*8), iov[1]))
	}
	errno := callErrno(t, fdWrite, ctx, 2, 100, 2, 200)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	require.Equal(t, "abcdef", string(ctx.Stderr))

	t.Run("bad fd", func(t *testing.T) {
		errno := callErrno(t, fdWrite, ctx, 17, 100, 1, 200)
		require.Equal(t, wasip1.ErrnoBadf, errno)
	})
	t.Run("iovec out of bounds is EFAULT", func(t *testing.T) {
		errno := callErrno(t, fdWrite, ctx, 1, uint64(mem.Size())-4, 1, 200)
		require.Equal(t, wasip1.ErrnoFault, errno)
	})
}

// TestFileReadUnderPreopen is the file-read scenario: open test.txt under
// the /app preopen and scatter-read its contents.
func TestFileReadUnderPreopen(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)
	require.Equal(t, uint32(3), dirfd)
	_, err = fsys.CreateFile("/app/test.txt", []byte("File content!"))
	require.NoError(t, err)

	mem := ctx.Memory()
	require.True(t, mem.Write(0, []byte("test.txt")))

	errno := callErrno(t, pathOpen, ctx,
		uint64(dirfd), 0, 0, 8, 0, wasip1.RightFdRead, 0, 0, 100)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	fd, _ := mem.ReadUint32Le(100)
	require.Equal(t, uint32(4), fd)

	// iovec at 200: {buf_ptr=300, buf_len=64}
	require.True(t, mem.WriteUint32Le(200, 300))
	require.True(t, mem.WriteUint32Le(204, 64))
	errno = callErrno(t, fdRead, ctx, uint64(fd), 200, 1, 400)
	require.Equal(t, wasip1.ErrnoSuccess, errno)

	nread, _ := mem.ReadUint32Le(400)
	require.Equal(t, uint32(13), nread)
	content, _ := mem.Read(300, 13)
	require.Equal(t, "File content!", string(content))

	t.Run("close then reuse is EBADF", func(t *testing.T) {
		errno := callErrno(t, fdClose, ctx, uint64(fd))
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		errno = callErrno(t, fdRead, ctx, uint64(fd), 200, 1, 400)
		require.Equal(t, wasip1.ErrnoBadf, errno)
	})
}

// TestSandboxEscapeRejected is the sandbox scenario: "../etc/passwd"
// under the /app preopen returns EACCES, allocates nothing, and leaves
// the filesystem unchanged.
func TestSandboxEscapeRejected(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)

	mem := ctx.Memory()
	path := "../etc/passwd"
	require.True(t, mem.Write(0, []byte(path)))

	errno := callErrno(t, pathOpen, ctx,
		uint64(dirfd), 0, 0, uint64(len(path)), 0, wasip1.RightFdRead, 0, 0, 100)
	require.Equal(t, wasip1.ErrnoAcces, errno)

	// No fd allocated: the next open still lands on fd 4.
	_, err = fsys.CreateFile("/app/ok", nil)
	require.NoError(t, err)
	require.True(t, mem.Write(0, []byte("ok")))
	errno = callErrno(t, pathOpen, ctx,
		uint64(dirfd), 0, 0, 2, 0, wasip1.RightFdRead, 0, 0, 100)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	fd, _ := mem.ReadUint32Le(100)
	require.Equal(t, uint32(4), fd)

	// The VFS grew only by the file this test created.
	entries, err := fsys.ReaddirAll(vfs.RootID)
	require.NoError(t, err)
	require.Len(t, entries, 1) // just /app
}

func TestFdSeekAndTell(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/app/f", []byte("0123456789"))
	require.NoError(t, err)

	mem := ctx.Memory()
	require.True(t, mem.Write(0, []byte("f")))
	errno := callErrno(t, pathOpen, ctx, uint64(dirfd), 0, 0, 1, 0, wasip1.RightsAll, 0, 0, 100)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	fd, _ := mem.ReadUint32Le(100)

	errno = callErrno(t, fdSeek, ctx, uint64(fd), uint64(4), uint64(wasip1.WhenceSet), 200)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	off, _ := mem.ReadUint64Le(200)
	require.Equal(t, uint64(4), off)

	// Negative displacement arrives as a two's-complement i64 slot.
	errno = callErrno(t, fdSeek, ctx, uint64(fd), uint64(0xffffffffffffffff), uint64(wasip1.WhenceCur), 200)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	off, _ = mem.ReadUint64Le(200)
	require.Equal(t, uint64(3), off)

	errno = callErrno(t, fdTell, ctx, uint64(fd), 208)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	off, _ = mem.ReadUint64Le(208)
	require.Equal(t, uint64(3), off)

	t.Run("negative set is EINVAL", func(t *testing.T) {
		errno := callErrno(t, fdSeek, ctx, uint64(fd), uint64(0xffffffffffffffff), uint64(wasip1.WhenceSet), 200)
		require.Equal(t, wasip1.ErrnoInval, errno)
	})
	t.Run("stdout is ESPIPE", func(t *testing.T) {
		errno := callErrno(t, fdSeek, ctx, 1, 0, uint64(wasip1.WhenceSet), 200)
		require.Equal(t, wasip1.ErrnoSpipe, errno)
	})
}

func TestFdFdstatGet_Layout(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)

	maskMemory(ctx, 32)
	errno := callErrno(t, fdFdstatGet, ctx, uint64(dirfd), 1)
	require.Equal(t, wasip1.ErrnoSuccess, errno)

	buf, _ := ctx.Memory().Read(1, wasip1.FdstatSize)
	require.Equal(t, wasip1.FiletypeDirectory, buf[0])
	require.Equal(t, byte(0), buf[1])
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(buf[2:]))
	require.Equal(t, wasip1.RightsAll, binary.LittleEndian.Uint64(buf[8:]))
	require.Equal(t, wasip1.RightsAll, binary.LittleEndian.Uint64(buf[16:]))

	t.Run("bad fd", func(t *testing.T) {
		errno := callErrno(t, fdFdstatGet, ctx, 55, 0)
		require.Equal(t, wasip1.ErrnoBadf, errno)
	})
}

func TestFdPrestat(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)

	expectedMemory := []byte{
		'?',
		0,       // tag: preopened directory
		0, 0, 0, // padding
		4, 0, 0, 0, // len("/app")
		'?',
	}
	maskMemory(ctx, len(expectedMemory))
	errno := callErrno(t, fdPrestatGet, ctx, uint64(dirfd), 1)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	require.Equal(t, expectedMemory, ctx.Memory().Buffer[:len(expectedMemory)])

	errno = callErrno(t, fdPrestatDirName, ctx, uint64(dirfd), 16, 4)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	name, _ := ctx.Memory().Read(16, 4)
	require.Equal(t, "/app", string(name))

	t.Run("short buffer", func(t *testing.T) {
		errno := callErrno(t, fdPrestatDirName, ctx, uint64(dirfd), 16, 2)
		require.Equal(t, wasip1.ErrnoNametoolong, errno)
	})
	t.Run("non-preopen fd", func(t *testing.T) {
		errno := callErrno(t, fdPrestatGet, ctx, 1, 0)
		require.Equal(t, wasip1.ErrnoBadf, errno)
	})
}

func TestFdReaddir(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/app/a.txt", []byte("1"))
	require.NoError(t, err)
	_, err = fsys.MkdirAll("/app/dir")
	require.NoError(t, err)

	errno := callErrno(t, fdReaddir, ctx, uint64(dirfd), 0, 256, 0, 500)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	used, _ := ctx.Memory().ReadUint32Le(500)
	require.Equal(t, uint32(2*wasip1.DirentSize+len("a.txt")+len("dir")), used)

	buf, _ := ctx.Memory().Read(0, used)
	// First record: d_next=1, namlen=5, type=regular file, name "a.txt".
	require.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[0:]))
	require.Equal(t, uint32(5), binary.LittleEndian.Uint32(buf[16:]))
	require.Equal(t, wasip1.FiletypeRegularFile, buf[20])
	require.Equal(t, "a.txt", string(buf[24:29]))
	// Second record follows immediately.
	second := buf[wasip1.DirentSize+5:]
	require.Equal(t, uint64(2), binary.LittleEndian.Uint64(second[0:]))
	require.Equal(t, wasip1.FiletypeDirectory, second[20])
	require.Equal(t, "dir", string(second[24:27]))

	t.Run("cookie resumes", func(t *testing.T) {
		errno := callErrno(t, fdReaddir, ctx, uint64(dirfd), 0, 256, 1, 500)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		used, _ := ctx.Memory().ReadUint32Le(500)
		require.Equal(t, uint32(wasip1.DirentSize+len("dir")), used)
	})
	t.Run("file fd is ENOTDIR", func(t *testing.T) {
		mem := ctx.Memory()
		require.True(t, mem.Write(600, []byte("a.txt")))
		errno := callErrno(t, pathOpen, ctx, uint64(dirfd), 0, 600, 5, 0, wasip1.RightFdRead, 0, 0, 608)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		fd, _ := mem.ReadUint32Le(608)
		errno = callErrno(t, fdReaddir, ctx, uint64(fd), 0, 256, 0, 500)
		require.Equal(t, wasip1.ErrnoNotdir, errno)
	})
}

func TestPathDirectoryFunctions(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)
	mem := ctx.Memory()

	write := func(off uint32, s string) (uint64, uint64) {
		require.True(t, mem.Write(off, []byte(s)))
		return uint64(off), uint64(len(s))
	}

	p, n := write(0, "sub")
	errno := callErrno(t, pathCreateDirectory, ctx, uint64(dirfd), p, n)
	require.Equal(t, wasip1.ErrnoSuccess, errno)

	p, n = write(16, "sub/file")
	errno = callErrno(t, pathOpen, ctx, uint64(dirfd), 0, p, n,
		uint64(wasip1.OflagCreat), wasip1.RightFdWrite, 0, 0, 64)
	require.Equal(t, wasip1.ErrnoSuccess, errno)

	t.Run("filestat layout", func(t *testing.T) {
		_, err := fsys.WriteAt(mustResolve(t, fsys, "/app/sub/file"), 0, []byte("xyz"))
		require.NoError(t, err)
		p, n := write(32, "sub/file")
		errno := callErrno(t, pathFilestatGet, ctx, uint64(dirfd), 0, p, n, 128)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		buf, _ := mem.Read(128, wasip1.FilestatSize)
		require.Equal(t, wasip1.FiletypeRegularFile, buf[16])
		require.Equal(t, uint64(3), binary.LittleEndian.Uint64(buf[32:])) // size
		require.Equal(t, uint64(1), binary.LittleEndian.Uint64(buf[24:])) // nlink
	})

	t.Run("rename", func(t *testing.T) {
		oldP, oldN := write(32, "sub/file")
		newP, newN := write(48, "sub/renamed")
		errno := callErrno(t, pathRename, ctx, uint64(dirfd), oldP, oldN, uint64(dirfd), newP, newN)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
		_, err := fsys.Resolve("/app/sub/renamed")
		require.NoError(t, err)
	})

	t.Run("unlink and remove", func(t *testing.T) {
		p, n := write(48, "sub/renamed")
		errno := callErrno(t, pathUnlinkFile, ctx, uint64(dirfd), p, n)
		require.Equal(t, wasip1.ErrnoSuccess, errno)

		p, n = write(0, "sub")
		errno = callErrno(t, pathRemoveDirectory, ctx, uint64(dirfd), p, n)
		require.Equal(t, wasip1.ErrnoSuccess, errno)
	})

	t.Run("path pointer out of bounds is EFAULT", func(t *testing.T) {
		errno := callErrno(t, pathCreateDirectory, ctx, uint64(dirfd), uint64(mem.Size()), 4)
		require.Equal(t, wasip1.ErrnoFault, errno)
	})
}

func mustResolve(t *testing.T, fsys *vfs.FS, path string) vfs.InodeID {
	t.Helper()
	id, err := fsys.Resolve(path)
	require.NoError(t, err)
	return id
}

func TestFdFilestatGet(t *testing.T) {
	fsys := vfs.New()
	ctx := testCtx(t, fsys)
	dirfd, err := ctx.Sys.FS().Preopen("/app")
	require.NoError(t, err)

	errno := callErrno(t, fdFilestatGet, ctx, uint64(dirfd), 0)
	require.Equal(t, wasip1.ErrnoSuccess, errno)
	buf, _ := ctx.Memory().Read(0, wasip1.FilestatSize)
	require.Equal(t, wasip1.FiletypeDirectory, buf[16])
}

// TestDeterminism: identical WASI state (frozen clock, fixed random
// source, preset filesystem) produces identical memory effects.
func TestDeterminism(t *testing.T) {
	run := func() []byte {
		fsys := vfs.New()
		ctx := testCtx(t, fsys,
			sys.WithArgs("app"),
			sys.WithWalltime(func() uint64 { return 1000 }),
			sys.WithRandSource(bytes.NewReader([]byte{9, 8, 7, 6, 5, 4, 3, 2})))
		require.Equal(t, wasip1.ErrnoSuccess, callErrno(t, clockTimeGet, ctx, 0, 0, 0))
		require.Equal(t, wasip1.ErrnoSuccess, callErrno(t, randomGet, ctx, 8, 8))
		require.Equal(t, wasip1.ErrnoSuccess, callErrno(t, argsSizesGet, ctx, 16, 20))
		out, _ := ctx.Memory().Read(0, 24)
		return append([]byte{}, out...)
	}
	require.Equal(t, run(), run())
}
