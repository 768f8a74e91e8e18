// Package wasi implements the wasi_snapshot_preview1 host surface: a
// closed set of host functions a guest may import to reach the argument
// vector, environment, clocks, randomness, and the sandboxed filesystem.
//
// Each host function reads its typed arguments from the interpreter
// frame, reads structured inputs from guest memory at guest-supplied
// pointers (validating bounds), delegates to the WASI context, writes
// structured outputs back, and returns a single errno. Errors never trap;
// the one exception is proc_exit, which unwinds with a process-exit trap.
package wasi

import (
	"unicode/utf8"

	"github.com/kpio-os/wasmcore/internal/sys"
	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/wasm"
)

// ModuleName is the import module name guests use.
const ModuleName = wasip1.ModuleName

// Errno is re-exported for embedders inspecting results.
type Errno = wasip1.Errno

// ErrnoName returns the POSIX name of an errno.
func ErrnoName(errno Errno) string { return wasip1.ErrnoName(errno) }

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
)

// HostModule returns the wasi_snapshot_preview1 host module. Importing
// any name not listed here fails at link time.
func HostModule() *wasm.HostModule {
	functions := map[string]*wasm.HostFunction{}
	add := func(name string, fn wasm.HostFunc, params ...wasm.ValueType) {
		functions[name] = &wasm.HostFunction{
			Name:    name,
			Params:  params,
			Results: []wasm.ValueType{i32},
			Fn:      fn,
		}
	}
	add("args_get", argsGet, i32, i32)
	add("args_sizes_get", argsSizesGet, i32, i32)
	add("environ_get", environGet, i32, i32)
	add("environ_sizes_get", environSizesGet, i32, i32)
	add("clock_time_get", clockTimeGet, i32, i64, i32)
	add("random_get", randomGet, i32, i32)
	add("fd_write", fdWrite, i32, i32, i32, i32)
	add("fd_read", fdRead, i32, i32, i32, i32)
	add("fd_close", fdClose, i32)
	add("fd_seek", fdSeek, i32, i64, i32, i32)
	add("fd_tell", fdTell, i32, i32)
	add("fd_fdstat_get", fdFdstatGet, i32, i32)
	add("fd_filestat_get", fdFilestatGet, i32, i32)
	add("fd_prestat_get", fdPrestatGet, i32, i32)
	add("fd_prestat_dir_name", fdPrestatDirName, i32, i32, i32)
	add("fd_readdir", fdReaddir, i32, i32, i32, i64, i32)
	add("path_open", pathOpen, i32, i32, i32, i32, i32, i64, i64, i32, i32)
	add("path_create_directory", pathCreateDirectory, i32, i32, i32)
	add("path_remove_directory", pathRemoveDirectory, i32, i32, i32)
	add("path_unlink_file", pathUnlinkFile, i32, i32, i32)
	add("path_rename", pathRename, i32, i32, i32, i32, i32, i32)
	add("path_filestat_get", pathFilestatGet, i32, i32, i32, i32, i32)

	// proc_exit never returns; it unwinds with a process-exit trap.
	functions["proc_exit"] = &wasm.HostFunction{
		Name:   "proc_exit",
		Params: []wasm.ValueType{i32},
		Fn:     procExit,
	}
	return &wasm.HostModule{Functions: functions}
}

func errnoRet(errno Errno) ([]uint64, error) {
	return []uint64{uint64(errno)}, nil
}

// memory helpers: every guest pointer is bounds-checked; a failure
// returns EFAULT without partial I/O.

func readBytes(ctx *wasm.ExecutorContext, ptr, n uint32) ([]byte, bool) {
	mem := ctx.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(ptr, n)
}

func writeBytes(ctx *wasm.ExecutorContext, ptr uint32, b []byte) bool {
	mem := ctx.Memory()
	if mem == nil {
		return false
	}
	return mem.Write(ptr, b)
}

func writeUint32(ctx *wasm.ExecutorContext, ptr uint32, v uint32) bool {
	mem := ctx.Memory()
	if mem == nil {
		return false
	}
	return mem.WriteUint32Le(ptr, v)
}

func writeUint64(ctx *wasm.ExecutorContext, ptr uint32, v uint64) bool {
	mem := ctx.Memory()
	if mem == nil {
		return false
	}
	return mem.WriteUint64Le(ptr, v)
}

// readIovs gathers the iovec array at iovs into one contiguous buffer.
// Each iovec is {buf_ptr u32, buf_len u32} at 8-byte stride.
func readIovs(ctx *wasm.ExecutorContext, iovs, iovsCount uint32) ([]byte, bool) {
	mem := ctx.Memory()
	if mem == nil {
		return nil, false
	}
	var data []byte
	for i := uint32(0); i < iovsCount; i++ {
		bufPtr, ok := mem.ReadUint32Le(iovs + i*wasip1.IovecSize)
		if !ok {
			return nil, false
		}
		bufLen, ok := mem.ReadUint32Le(iovs + i*wasip1.IovecSize + 4)
		if !ok {
			return nil, false
		}
		chunk, ok := mem.Read(bufPtr, bufLen)
		if !ok {
			return nil, false
		}
		data = append(data, chunk...)
	}
	return data, true
}

// writeIovs scatters data into the iovec buffers in order, returning the
// number of bytes placed.
func writeIovs(ctx *wasm.ExecutorContext, iovs, iovsCount uint32, data []byte) (uint32, bool) {
	mem := ctx.Memory()
	if mem == nil {
		return 0, false
	}
	var written uint32
	for i := uint32(0); i < iovsCount && int(written) < len(data); i++ {
		bufPtr, ok := mem.ReadUint32Le(iovs + i*wasip1.IovecSize)
		if !ok {
			return 0, false
		}
		bufLen, ok := mem.ReadUint32Le(iovs + i*wasip1.IovecSize + 4)
		if !ok {
			return 0, false
		}
		n := uint32(len(data)) - written
		if bufLen < n {
			n = bufLen
		}
		if !mem.Write(bufPtr, data[written:written+n]) {
			return 0, false
		}
		written += n
	}
	return written, true
}

// iovsTotalLen sums the iovec buffer lengths without touching the data.
func iovsTotalLen(ctx *wasm.ExecutorContext, iovs, iovsCount uint32) (uint32, bool) {
	mem := ctx.Memory()
	if mem == nil {
		return 0, false
	}
	var total uint32
	for i := uint32(0); i < iovsCount; i++ {
		n, ok := mem.ReadUint32Le(iovs + i*wasip1.IovecSize + 4)
		if !ok {
			return 0, false
		}
		total += n
	}
	return total, true
}

func readPath(ctx *wasm.ExecutorContext, ptr, length uint32) (string, Errno) {
	b, ok := readBytes(ctx, ptr, length)
	if !ok {
		return "", wasip1.ErrnoFault
	}
	if !utf8.Valid(b) {
		return "", wasip1.ErrnoIlseq
	}
	return string(b), wasip1.ErrnoSuccess
}

func sysOf(ctx *wasm.ExecutorContext) *sys.Context { return ctx.Sys }

// args_sizes_get(argc*, argv_buf_size*) publishes the argument-vector
// sizes.
func argsSizesGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	argcPtr, bufSizePtr := uint32(p[0]), uint32(p[1])
	var argc, bufSize uint32
	if s := sysOf(ctx); s != nil {
		argc = uint32(len(s.Args()))
		bufSize = s.ArgsSize()
	}
	if !writeUint32(ctx, argcPtr, argc) || !writeUint32(ctx, bufSizePtr, bufSize) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// args_get(argv*, argv_buf*) writes the argv pointer table and the
// NUL-terminated argument strings.
func argsGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	argvPtr, bufPtr := uint32(p[0]), uint32(p[1])
	var args []string
	if s := sysOf(ctx); s != nil {
		args = s.Args()
	}
	return errnoRet(writeOffsetsAndNulTerminatedValues(ctx, args, argvPtr, bufPtr))
}

func environSizesGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	countPtr, bufSizePtr := uint32(p[0]), uint32(p[1])
	var count, bufSize uint32
	if s := sysOf(ctx); s != nil {
		count = uint32(len(s.Environ()))
		bufSize = s.EnvironSize()
	}
	if !writeUint32(ctx, countPtr, count) || !writeUint32(ctx, bufSizePtr, bufSize) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

func environGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	environPtr, bufPtr := uint32(p[0]), uint32(p[1])
	var environ []string
	if s := sysOf(ctx); s != nil {
		environ = s.Environ()
	}
	return errnoRet(writeOffsetsAndNulTerminatedValues(ctx, environ, environPtr, bufPtr))
}

// writeOffsetsAndNulTerminatedValues lays out a string vector the way
// args_get and environ_get share: a u32 offset table and a buffer of
// NUL-terminated values.
func writeOffsetsAndNulTerminatedValues(ctx *wasm.ExecutorContext, values []string, tablePtr, bufPtr uint32) Errno {
	offset := bufPtr
	for i, v := range values {
		if !writeUint32(ctx, tablePtr+uint32(i)*4, offset) {
			return wasip1.ErrnoFault
		}
		if !writeBytes(ctx, offset, append([]byte(v), 0)) {
			return wasip1.ErrnoFault
		}
		offset += uint32(len(v)) + 1
	}
	return wasip1.ErrnoSuccess
}

// clock_time_get(id, precision, time*) reads a clock in nanoseconds. The
// precision hint is accepted and ignored.
func clockTimeGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	id, timePtr := uint32(p[0]), uint32(p[2])
	var t uint64
	if s := sysOf(ctx); s != nil {
		var errno Errno
		if t, errno = s.ClockTime(id); errno != wasip1.ErrnoSuccess {
			return errnoRet(errno)
		}
	} else if id > wasip1.ClockThreadCputime {
		return errnoRet(wasip1.ErrnoInval)
	}
	if !writeUint64(ctx, timePtr, t) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// random_get(buf*, buf_len) fills guest memory from the random source.
func randomGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	bufPtr, bufLen := uint32(p[0]), uint32(p[1])
	buf, ok := readBytes(ctx, bufPtr, bufLen)
	if !ok {
		return errnoRet(wasip1.ErrnoFault)
	}
	if s := sysOf(ctx); s != nil {
		if err := s.RandomGet(buf); err != nil {
			return errnoRet(wasip1.ErrnoIo)
		}
	} else {
		// No context: a fixed-seed xorshift keeps the call total.
		state := uint64(0x123456789abcdef0)
		for i := range buf {
			state ^= state << 13
			state ^= state >> 7
			state ^= state << 17
			buf[i] = byte(state)
		}
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// proc_exit(code) terminates the guest: no further guest instructions
// execute.
func procExit(_ *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	return nil, wasm.ExitTrap(uint32(p[0]))
}

// fd_write(fd, iovs*, iovs_len, nwritten*) gathers the iovecs and writes
// through the descriptor. Writes to fds 1 and 2 are additionally captured
// on the executor context.
func fdWrite(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, iovs, iovsCount, nwrittenPtr := uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])
	data, ok := readIovs(ctx, iovs, iovsCount)
	if !ok {
		return errnoRet(wasip1.ErrnoFault)
	}
	if fd == 1 {
		ctx.Stdout = append(ctx.Stdout, data...)
	} else if fd == 2 {
		ctx.Stderr = append(ctx.Stderr, data...)
	}

	var n uint32
	if s := sysOf(ctx); s != nil {
		var errno Errno
		if n, errno = s.FS().Write(fd, data); errno != wasip1.ErrnoSuccess {
			return errnoRet(errno)
		}
	} else if fd == 1 || fd == 2 {
		n = uint32(len(data))
	}
	if !writeUint32(ctx, nwrittenPtr, n) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_read(fd, iovs*, iovs_len, nread*) reads through the descriptor and
// scatters into the iovec buffers.
func fdRead(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, iovs, iovsCount, nreadPtr := uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])
	s := sysOf(ctx)
	if s == nil {
		if !writeUint32(ctx, nreadPtr, 0) {
			return errnoRet(wasip1.ErrnoFault)
		}
		return errnoRet(wasip1.ErrnoSuccess)
	}
	total, ok := iovsTotalLen(ctx, iovs, iovsCount)
	if !ok {
		return errnoRet(wasip1.ErrnoFault)
	}
	buf := make([]byte, total)
	n, errno := s.FS().Read(fd, buf)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	written, ok := writeIovs(ctx, iovs, iovsCount, buf[:n])
	if !ok {
		return errnoRet(wasip1.ErrnoFault)
	}
	if !writeUint32(ctx, nreadPtr, written) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

func fdClose(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	if s := sysOf(ctx); s != nil {
		return errnoRet(s.FS().Close(uint32(p[0])))
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_seek(fd, offset, whence, newoffset*). The offset argument is a
// native i64 in the frame; it is never split into two i32 halves.
func fdSeek(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, offset, whence, newOffsetPtr := uint32(p[0]), int64(p[1]), uint32(p[2]), uint32(p[3])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	newOffset, errno := s.FS().Seek(fd, offset, whence)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	if !writeUint64(ctx, newOffsetPtr, newOffset) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

func fdTell(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, offsetPtr := uint32(p[0]), uint32(p[1])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	offset, errno := s.FS().Tell(fd)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	if !writeUint64(ctx, offsetPtr, offset) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_fdstat_get(fd, fdstat*) writes the 24-byte fdstat record.
func fdFdstatGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, statPtr := uint32(p[0]), uint32(p[1])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	e, ok := s.FS().Lookup(fd)
	if !ok {
		return errnoRet(wasip1.ErrnoBadf)
	}
	if !writeBytes(ctx, statPtr, encodeFdstat(e.Filetype, e.FdFlags, e.RightsBase, e.RightsInheriting)) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_filestat_get(fd, filestat*) writes the 64-byte filestat record.
func fdFilestatGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, statPtr := uint32(p[0]), uint32(p[1])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	st, errno := s.FS().FdFilestat(fd)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	if !writeBytes(ctx, statPtr, encodeFilestat(st)) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_prestat_get(fd, prestat*) describes a preopened directory.
func fdPrestatGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, prestatPtr := uint32(p[0]), uint32(p[1])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	e, ok := s.FS().Lookup(fd)
	if !ok || e.Kind != sys.BackingPreopenDir {
		return errnoRet(wasip1.ErrnoBadf)
	}
	if !writeBytes(ctx, prestatPtr, encodePrestat(uint32(len(e.Name)))) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_prestat_dir_name(fd, path*, path_len) writes the preopen path with
// no NUL terminator.
func fdPrestatDirName(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, pathPtr, pathLen := uint32(p[0]), uint32(p[1]), uint32(p[2])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	e, ok := s.FS().Lookup(fd)
	if !ok || e.Kind != sys.BackingPreopenDir {
		return errnoRet(wasip1.ErrnoBadf)
	}
	if uint32(len(e.Name)) > pathLen {
		return errnoRet(wasip1.ErrnoNametoolong)
	}
	if !writeBytes(ctx, pathPtr, []byte(e.Name)) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// fd_readdir(fd, buf*, buf_len, cookie, bufused*) writes packed dirent
// records beginning at the resumable cookie. A full buffer (bufused ==
// buf_len) tells the guest to come back with the next cookie.
func fdReaddir(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	fd, bufPtr, bufLen := uint32(p[0]), uint32(p[1]), uint32(p[2])
	cookie, bufUsedPtr := p[3], uint32(p[4])
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoBadf)
	}
	entries, errno := s.FS().Readdir(fd)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	var packed []byte
	for i := int(cookie); i < len(entries); i++ {
		e := entries[i]
		packed = appendDirent(packed, uint64(i)+1, uint64(e.ID), filetypeOf(e.Kind), e.Name)
		if uint32(len(packed)) >= bufLen {
			break
		}
	}
	if uint32(len(packed)) > bufLen {
		packed = packed[:bufLen]
	}
	if !writeBytes(ctx, bufPtr, packed) {
		return errnoRet(wasip1.ErrnoFault)
	}
	if !writeUint32(ctx, bufUsedPtr, uint32(len(packed))) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

// path_open(dirfd, dirflags, path*, path_len, oflags, rights_base,
// rights_inheriting, fdflags, fd*) opens a path under a preopen.
func pathOpen(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	dirfd, dirflags := uint32(p[0]), uint32(p[1])
	pathPtr, pathLen := uint32(p[2]), uint32(p[3])
	oflags := uint16(p[4])
	rightsBase, rightsInheriting := p[5], p[6]
	fdflags := uint16(p[7])
	fdPtr := uint32(p[8])

	path, errno := readPath(ctx, pathPtr, pathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoNosys)
	}
	fd, errno := s.FS().PathOpen(dirfd, dirflags, path, oflags, rightsBase, rightsInheriting, fdflags)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	if !writeUint32(ctx, fdPtr, fd) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}

func pathCreateDirectory(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	dirfd, pathPtr, pathLen := uint32(p[0]), uint32(p[1]), uint32(p[2])
	path, errno := readPath(ctx, pathPtr, pathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoNosys)
	}
	return errnoRet(s.FS().PathCreateDirectory(dirfd, path))
}

func pathRemoveDirectory(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	dirfd, pathPtr, pathLen := uint32(p[0]), uint32(p[1]), uint32(p[2])
	path, errno := readPath(ctx, pathPtr, pathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoNosys)
	}
	return errnoRet(s.FS().PathRemoveDirectory(dirfd, path))
}

func pathUnlinkFile(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	dirfd, pathPtr, pathLen := uint32(p[0]), uint32(p[1]), uint32(p[2])
	path, errno := readPath(ctx, pathPtr, pathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoNosys)
	}
	return errnoRet(s.FS().PathUnlinkFile(dirfd, path))
}

func pathRename(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	oldDirfd, oldPathPtr, oldPathLen := uint32(p[0]), uint32(p[1]), uint32(p[2])
	newDirfd, newPathPtr, newPathLen := uint32(p[3]), uint32(p[4]), uint32(p[5])
	oldPath, errno := readPath(ctx, oldPathPtr, oldPathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	newPath, errno := readPath(ctx, newPathPtr, newPathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoNosys)
	}
	return errnoRet(s.FS().PathRename(oldDirfd, oldPath, newDirfd, newPath))
}

// path_filestat_get(dirfd, flags, path*, path_len, filestat*) stats a
// path under a preopen.
func pathFilestatGet(ctx *wasm.ExecutorContext, p []uint64) ([]uint64, error) {
	dirfd, flags := uint32(p[0]), uint32(p[1])
	pathPtr, pathLen, statPtr := uint32(p[2]), uint32(p[3]), uint32(p[4])
	path, errno := readPath(ctx, pathPtr, pathLen)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	s := sysOf(ctx)
	if s == nil {
		return errnoRet(wasip1.ErrnoNosys)
	}
	st, errno := s.FS().PathFilestat(dirfd, flags, path)
	if errno != wasip1.ErrnoSuccess {
		return errnoRet(errno)
	}
	if !writeBytes(ctx, statPtr, encodeFilestat(st)) {
		return errnoRet(wasip1.ErrnoFault)
	}
	return errnoRet(wasip1.ErrnoSuccess)
}
