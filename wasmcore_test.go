package wasmcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	be "github.com/kpio-os/wasmcore/internal/testing/binaryencoding"
	"github.com/kpio-os/wasmcore/vfs"
	"github.com/kpio-os/wasmcore/wasi"
	"github.com/kpio-os/wasmcore/wasm"
	"github.com/kpio-os/wasmcore/wasm/binary"
)

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
)

// wasiImport encodes one function import from wasi_snapshot_preview1.
func wasiImport(name string, typeIdx uint32) []byte {
	return be.Cat(be.Name(wasi.ModuleName), be.Name(name), []byte{0x00}, be.U32(typeIdx))
}

// activeData encodes an active data segment for memory 0.
func activeData(offset int32, data []byte) []byte {
	return be.Cat(be.U32(0), []byte{0x41}, be.I32(offset), []byte{0x0b},
		be.U32(uint32(len(data))), data)
}

// helloModule imports fd_write and writes "Hello, WASI!" from memory[0]
// through one iovec at memory[100].
func helloModule() []byte {
	msg := "Hello, WASI!"
	iov := []byte{0, 0, 0, 0, 12, 0, 0, 0}
	start := be.Cat(
		[]byte{0x41}, be.I32(1), // fd: stdout
		[]byte{0x41}, be.I32(100), // iovs
		[]byte{0x41}, be.I32(1), // iovs count
		[]byte{0x41}, be.I32(200), // nwritten
		[]byte{0x10}, be.U32(0), // call fd_write
		[]byte{0x1a, 0x0b}, // drop errno, end
	)
	return be.Module(
		be.Section(binary.SectionIDType, be.Vec(
			be.FuncType([]byte{i32, i32, i32, i32}, []byte{i32}),
			be.FuncType(nil, nil),
		)),
		be.Section(binary.SectionIDImport, be.Vec(wasiImport("fd_write", 0))),
		be.Section(binary.SectionIDFunction, be.Vec(be.U32(1))),
		be.Section(binary.SectionIDMemory, be.Vec([]byte{0x00, 0x01})),
		be.Section(binary.SectionIDExport, be.Vec(be.Cat(be.Name("_start"), []byte{0x00}, be.U32(1)))),
		be.Section(binary.SectionIDCode, be.Vec(be.Body(nil, start))),
		be.Section(binary.SectionIDData, be.Vec(
			activeData(0, []byte(msg)),
			activeData(100, iov),
		)),
	)
}

// TestHelloWASI is the end-to-end hello scenario: stdout capture holds the
// message, errno was 0, nwritten is 12.
func TestHelloWASI(t *testing.T) {
	var stdout bytes.Buffer
	rt := NewRuntime(NewConfig().WithStdout(&stdout))
	m, err := rt.CompileModule(helloModule())
	require.NoError(t, err)
	ctx, err := rt.InstantiateModule(m)
	require.NoError(t, err)

	_, err = ctx.CallExport("_start")
	require.NoError(t, err)

	require.Equal(t, "Hello, WASI!", string(ctx.Stdout))
	require.Equal(t, "Hello, WASI!", stdout.String())
	nwritten, ok := ctx.Memory().ReadUint32Le(200)
	require.True(t, ok)
	require.Equal(t, uint32(12), nwritten)
}

// TestFileReadUnderPreopen: preopen /app as fd 3 with test.txt present;
// the guest opens it (fd 4) and scatter-reads 13 bytes to memory[300].
func TestFileReadUnderPreopen(t *testing.T) {
	fsys := vfs.New()
	_, err := fsys.MkdirAll("/app")
	require.NoError(t, err)
	_, err = fsys.CreateFile("/app/test.txt", []byte("File content!"))
	require.NoError(t, err)

	start := be.Cat(
		// path_open(3, 0, "test.txt"@0 len 8, 0, READ, 0, 0, &fd@100)
		[]byte{0x41}, be.I32(3),
		[]byte{0x41}, be.I32(0),
		[]byte{0x41}, be.I32(0),
		[]byte{0x41}, be.I32(8),
		[]byte{0x41}, be.I32(0),
		[]byte{0x42}, be.I64(2), // rights: fd_read
		[]byte{0x42}, be.I64(0),
		[]byte{0x41}, be.I32(0),
		[]byte{0x41}, be.I32(100),
		[]byte{0x10}, be.U32(0), // call path_open
		[]byte{0x1a},
		// fd_read(4, iovs@200, 1, &nread@400)
		[]byte{0x41}, be.I32(4),
		[]byte{0x41}, be.I32(200),
		[]byte{0x41}, be.I32(1),
		[]byte{0x41}, be.I32(400),
		[]byte{0x10}, be.U32(1), // call fd_read
		[]byte{0x1a, 0x0b},
	)
	bin := be.Module(
		be.Section(binary.SectionIDType, be.Vec(
			// path_open(i32,i32,i32,i32,i32,i64,i64,i32,i32) -> i32
			be.FuncType([]byte{i32, i32, i32, i32, i32, i64, i64, i32, i32}, []byte{i32}),
			// fd_read(i32,i32,i32,i32) -> i32
			be.FuncType([]byte{i32, i32, i32, i32}, []byte{i32}),
			be.FuncType(nil, nil),
		)),
		be.Section(binary.SectionIDImport, be.Vec(
			wasiImport("path_open", 0),
			wasiImport("fd_read", 1),
		)),
		be.Section(binary.SectionIDFunction, be.Vec(be.U32(2))),
		be.Section(binary.SectionIDMemory, be.Vec([]byte{0x00, 0x01})),
		be.Section(binary.SectionIDExport, be.Vec(be.Cat(be.Name("_start"), []byte{0x00}, be.U32(2)))),
		be.Section(binary.SectionIDCode, be.Vec(be.Body(nil, start))),
		be.Section(binary.SectionIDData, be.Vec(
			activeData(0, []byte("test.txt")),
			activeData(200, []byte{44, 1, 0, 0, 64, 0, 0, 0}), // iov {300, 64}
		)),
	)

	rt := NewRuntime(NewConfig().WithFS(fsys).WithPreopen("/app"))
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	ctx, err := rt.InstantiateModule(m)
	require.NoError(t, err)
	_, err = ctx.CallExport("_start")
	require.NoError(t, err)

	fd, _ := ctx.Memory().ReadUint32Le(100)
	require.Equal(t, uint32(4), fd)
	nread, _ := ctx.Memory().ReadUint32Le(400)
	require.Equal(t, uint32(13), nread)
	content, _ := ctx.Memory().Read(300, 13)
	require.Equal(t, "File content!", string(content))
}

// TestSandboxEscapeRejected: path_open("../etc/passwd") under /app stores
// EACCES and allocates no fd.
func TestSandboxEscapeRejected(t *testing.T) {
	path := "../etc/passwd"
	start := be.Cat(
		[]byte{0x41}, be.I32(500), // errno destination
		[]byte{0x41}, be.I32(3),
		[]byte{0x41}, be.I32(0),
		[]byte{0x41}, be.I32(0),
		[]byte{0x41}, be.I32(int32(len(path))),
		[]byte{0x41}, be.I32(0),
		[]byte{0x42}, be.I64(2),
		[]byte{0x42}, be.I64(0),
		[]byte{0x41}, be.I32(0),
		[]byte{0x41}, be.I32(100),
		[]byte{0x10}, be.U32(0),
		[]byte{0x36}, be.U32(2), be.U32(0), // i32.store errno at 500
		[]byte{0x0b},
	)
	bin := be.Module(
		be.Section(binary.SectionIDType, be.Vec(
			be.FuncType([]byte{i32, i32, i32, i32, i32, i64, i64, i32, i32}, []byte{i32}),
			be.FuncType(nil, nil),
		)),
		be.Section(binary.SectionIDImport, be.Vec(wasiImport("path_open", 0))),
		be.Section(binary.SectionIDFunction, be.Vec(be.U32(1))),
		be.Section(binary.SectionIDMemory, be.Vec([]byte{0x00, 0x01})),
		be.Section(binary.SectionIDExport, be.Vec(be.Cat(be.Name("_start"), []byte{0x00}, be.U32(1)))),
		be.Section(binary.SectionIDCode, be.Vec(be.Body(nil, start))),
		be.Section(binary.SectionIDData, be.Vec(activeData(0, []byte(path)))),
	)

	fsys := vfs.New()
	rt := NewRuntime(NewConfig().WithFS(fsys).WithPreopen("/app"))
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	ctx, err := rt.InstantiateModule(m)
	require.NoError(t, err)
	_, err = ctx.CallExport("_start")
	require.NoError(t, err)

	errno, _ := ctx.Memory().ReadUint32Le(500)
	require.Equal(t, uint32(2), errno) // EACCES
	// No fd was allocated and the filesystem is unchanged.
	entries, err := fsys.ReaddirAll(vfs.RootID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestProcExitPropagates: proc_exit(42) surfaces as a process-exit trap
// and no further guest instructions execute.
func TestProcExitPropagates(t *testing.T) {
	start := be.Cat(
		[]byte{0x41}, be.I32(42),
		[]byte{0x10}, be.U32(0), // proc_exit(42)
		[]byte{0x00}, // unreachable: must never execute
		[]byte{0x0b},
	)
	bin := be.Module(
		be.Section(binary.SectionIDType, be.Vec(
			be.FuncType([]byte{i32}, nil),
			be.FuncType(nil, nil),
		)),
		be.Section(binary.SectionIDImport, be.Vec(wasiImport("proc_exit", 0))),
		be.Section(binary.SectionIDFunction, be.Vec(be.U32(1))),
		be.Section(binary.SectionIDExport, be.Vec(be.Cat(be.Name("_start"), []byte{0x00}, be.U32(1)))),
		be.Section(binary.SectionIDCode, be.Vec(be.Body(nil, start))),
	)
	rt := NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	ctx, err := rt.InstantiateModule(m)
	require.NoError(t, err)

	_, err = ctx.CallExport("_start")
	code, ok := wasm.ExitCodeOf(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, uint32(42), code)
}

// TestDivisionTrap: [i32.const 10, i32.const 0, i32.div_s] traps with
// division by zero.
func TestDivisionTrap(t *testing.T) {
	bin := be.Module(
		be.Section(binary.SectionIDType, be.Vec(be.FuncType(nil, []byte{i32}))),
		be.Section(binary.SectionIDFunction, be.Vec(be.U32(0))),
		be.Section(binary.SectionIDExport, be.Vec(be.Cat(be.Name("f"), []byte{0x00}, be.U32(0)))),
		be.Section(binary.SectionIDCode, be.Vec(be.Body(nil, be.Cat(
			[]byte{0x41}, be.I32(10), []byte{0x41}, be.I32(0), []byte{0x6d, 0x0b},
		)))),
	)
	rt := NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	ctx, err := rt.InstantiateModule(m)
	require.NoError(t, err)

	_, err = ctx.CallExport("f")
	trap, ok := wasm.AsTrap(err)
	require.True(t, ok)
	require.Equal(t, wasm.TrapDivisionByZero, trap.Kind)
}

// TestMemoryGrowCeiling: memory(min=1, max=4), grow(10) returns -1,
// memory stays one page, and loads at offset 0 still succeed.
func TestMemoryGrowCeiling(t *testing.T) {
	bin := be.Module(
		be.Section(binary.SectionIDType, be.Vec(
			be.FuncType(nil, []byte{i32}),
		)),
		be.Section(binary.SectionIDFunction, be.Vec(be.U32(0), be.U32(0))),
		be.Section(binary.SectionIDMemory, be.Vec([]byte{0x01, 0x01, 0x04})),
		be.Section(binary.SectionIDExport, be.Vec(
			be.Cat(be.Name("grow10"), []byte{0x00}, be.U32(0)),
			be.Cat(be.Name("load0"), []byte{0x00}, be.U32(1)),
		)),
		be.Section(binary.SectionIDCode, be.Vec(
			be.Body(nil, be.Cat([]byte{0x41}, be.I32(10), []byte{0x40, 0x00, 0x0b})),
			be.Body(nil, be.Cat([]byte{0x41}, be.I32(0), []byte{0x28}, be.U32(2), be.U32(0), []byte{0x0b})),
		)),
	)
	rt := NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	ctx, err := rt.InstantiateModule(m)
	require.NoError(t, err)

	results, err := ctx.CallExport("grow10")
	require.NoError(t, err)
	require.Equal(t, uint64(0xffffffffffffffff), results[0]) // -1
	require.Equal(t, uint32(1), ctx.Memory().Pages())

	results, err = ctx.CallExport("load0")
	require.NoError(t, err)
	require.Equal(t, uint64(0), results[0])
}

func TestUnlistedWASIImportFailsAtLink(t *testing.T) {
	bin := be.Module(
		be.Section(binary.SectionIDType, be.Vec(be.FuncType(nil, nil))),
		be.Section(binary.SectionIDImport, be.Vec(wasiImport("fd_mystery", 0))),
	)
	rt := NewRuntime(nil)
	m, err := rt.CompileModule(bin)
	require.NoError(t, err)
	_, err = rt.InstantiateModule(m)
	require.ErrorContains(t, err, "not exported")
}

func TestCompileModule_Errors(t *testing.T) {
	rt := NewRuntime(nil)
	t.Run("parse error", func(t *testing.T) {
		_, err := rt.CompileModule([]byte{1, 2, 3})
		require.ErrorContains(t, err, "magic")
	})
	t.Run("validation error", func(t *testing.T) {
		bin := be.Module(
			be.Section(binary.SectionIDType, be.Vec(be.FuncType(nil, nil))),
			be.Section(binary.SectionIDFunction, be.Vec(be.U32(7))), // bad type idx
			be.Section(binary.SectionIDCode, be.Vec(be.Body(nil, []byte{0x0b}))),
		)
		_, err := rt.CompileModule(bin)
		require.ErrorContains(t, err, "out of range")
	})
}

func TestModuleCache(t *testing.T) {
	rt := NewRuntime(NewConfig().WithModuleCache(4))
	bin := helloModule()
	m1, err := rt.CompileModule(bin)
	require.NoError(t, err)
	m2, err := rt.CompileModule(bin)
	require.NoError(t, err)
	require.Same(t, m1, m2)
	require.Equal(t, 1, rt.cache.Len())

	// A different binary misses.
	other := be.Module()
	m3, err := rt.CompileModule(other)
	require.NoError(t, err)
	require.NotSame(t, m1, m3)
	require.Equal(t, 2, rt.cache.Len())
}

// TestDeterministicExecution: identical inputs and frozen WASI state give
// identical captures across two full runs.
func TestDeterministicExecution(t *testing.T) {
	run := func() string {
		cfg := NewConfig().
			WithArgs("hello").
			WithWalltime(func() uint64 { return 1 }).
			WithNanotime(func() uint64 { return 2 })
		rt := NewRuntime(cfg)
		m, err := rt.CompileModule(helloModule())
		require.NoError(t, err)
		ctx, err := rt.InstantiateModule(m)
		require.NoError(t, err)
		_, err = ctx.CallExport("_start")
		require.NoError(t, err)
		return string(ctx.Stdout)
	}
	require.Equal(t, run(), run())
}

func TestConfigIsImmutable(t *testing.T) {
	base := NewConfig().WithArgs("a")
	derived := base.WithArgs("b", "c").WithEnv("K", "V")
	require.NotEqual(t, base.args, derived.args)
	require.Empty(t, base.environ)
	require.Equal(t, []string{"b", "c"}, derived.args)
	require.Equal(t, []string{"K=V"}, derived.environ)
}
