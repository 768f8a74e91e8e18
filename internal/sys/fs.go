package sys

import (
	"errors"
	"io"
	"strings"

	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/vfs"
)

// BackingKind discriminates what a file descriptor refers to.
type BackingKind uint8

const (
	BackingStdio BackingKind = iota
	BackingPreopenDir
	BackingFile
	BackingDir
)

// FileEntry is one row of the descriptor table. Rights bound what the
// descriptor may be used for; the backing says where I/O goes.
type FileEntry struct {
	Kind BackingKind

	// Name is the guest-visible name: the preopen path for preopens, the
	// sandboxed absolute path for files and directories.
	Name string

	// Stdio is 0, 1 or 2 for BackingStdio entries.
	Stdio uint32

	Inode    vfs.InodeID
	Filetype uint8

	RightsBase       uint64
	RightsInheriting uint64
	FdFlags          uint16

	// Offset is the file cursor for BackingFile entries.
	Offset uint64
}

// FSContext owns the descriptor table. fds 0..2 are the standard streams;
// preopens and opened files start at 3.
type FSContext struct {
	fs      *vfs.FS
	entries map[uint32]*FileEntry
	nextFD  uint32

	stdin          io.Reader
	stdout, stderr io.Writer
}

func newFSContext(fsys *vfs.FS) *FSContext {
	fsc := &FSContext{
		fs:      fsys,
		entries: map[uint32]*FileEntry{},
		nextFD:  3,
	}
	for fd := uint32(0); fd <= 2; fd++ {
		fsc.entries[fd] = &FileEntry{
			Kind:       BackingStdio,
			Stdio:      fd,
			Filetype:   wasip1.FiletypeCharacterDevice,
			RightsBase: wasip1.RightFdRead | wasip1.RightFdWrite,
		}
	}
	return fsc
}

// VFS returns the backing filesystem.
func (f *FSContext) VFS() *vfs.FS { return f.fs }

// Preopen publishes path as a preopened directory, creating it in the
// filesystem if needed, and returns the allocated fd.
func (f *FSContext) Preopen(path string) (uint32, error) {
	clean := "/" + strings.Join(splitSegments(path), "/")
	id, err := f.fs.MkdirAll(clean)
	if err != nil {
		return 0, err
	}
	fd := f.nextFD
	f.nextFD++
	f.entries[fd] = &FileEntry{
		Kind:             BackingPreopenDir,
		Name:             clean,
		Inode:            id,
		Filetype:         wasip1.FiletypeDirectory,
		RightsBase:       wasip1.RightsAll,
		RightsInheriting: wasip1.RightsAll,
	}
	return fd, nil
}

// Lookup returns the entry for fd.
func (f *FSContext) Lookup(fd uint32) (*FileEntry, bool) {
	e, ok := f.entries[fd]
	return e, ok
}

// Close releases fd.
func (f *FSContext) Close(fd uint32) wasip1.Errno {
	if _, ok := f.entries[fd]; !ok {
		return wasip1.ErrnoBadf
	}
	delete(f.entries, fd)
	return wasip1.ErrnoSuccess
}

// Write writes data through fd, returning the byte count.
func (f *FSContext) Write(fd uint32, data []byte) (uint32, wasip1.Errno) {
	e, ok := f.entries[fd]
	if !ok {
		return 0, wasip1.ErrnoBadf
	}
	switch e.Kind {
	case BackingStdio:
		var w io.Writer
		switch e.Stdio {
		case 1:
			w = f.stdout
		case 2:
			w = f.stderr
		default:
			return 0, wasip1.ErrnoBadf
		}
		if w != nil {
			if _, err := w.Write(data); err != nil {
				return 0, wasip1.ErrnoIo
			}
		}
		return uint32(len(data)), wasip1.ErrnoSuccess
	case BackingFile:
		if e.RightsBase&wasip1.RightFdWrite == 0 {
			return 0, wasip1.ErrnoNotcapable
		}
		off := e.Offset
		if e.FdFlags&wasip1.FdflagAppend != 0 {
			size, err := f.fs.Size(e.Inode)
			if err != nil {
				return 0, errnoFromFS(err)
			}
			off = size
		}
		n, err := f.fs.WriteAt(e.Inode, off, data)
		if err != nil {
			return 0, errnoFromFS(err)
		}
		e.Offset = off + uint64(n)
		return uint32(n), wasip1.ErrnoSuccess
	default:
		return 0, wasip1.ErrnoIsdir
	}
}

// Read reads through fd into p, returning the byte count.
func (f *FSContext) Read(fd uint32, p []byte) (uint32, wasip1.Errno) {
	e, ok := f.entries[fd]
	if !ok {
		return 0, wasip1.ErrnoBadf
	}
	switch e.Kind {
	case BackingStdio:
		if e.Stdio != 0 {
			return 0, wasip1.ErrnoBadf
		}
		if f.stdin == nil {
			return 0, wasip1.ErrnoSuccess
		}
		n, err := f.stdin.Read(p)
		if err != nil && err != io.EOF {
			return 0, wasip1.ErrnoIo
		}
		return uint32(n), wasip1.ErrnoSuccess
	case BackingFile:
		if e.RightsBase&wasip1.RightFdRead == 0 {
			return 0, wasip1.ErrnoNotcapable
		}
		n, err := f.fs.ReadAt(e.Inode, e.Offset, p)
		if err != nil {
			return 0, errnoFromFS(err)
		}
		e.Offset += uint64(n)
		return uint32(n), wasip1.ErrnoSuccess
	default:
		return 0, wasip1.ErrnoIsdir
	}
}

// Seek repositions a file cursor. Negative destinations are invalid, and
// streams are unseekable.
func (f *FSContext) Seek(fd uint32, offset int64, whence uint32) (uint64, wasip1.Errno) {
	e, ok := f.entries[fd]
	if !ok {
		return 0, wasip1.ErrnoBadf
	}
	if e.Kind == BackingStdio {
		return 0, wasip1.ErrnoSpipe
	}
	if e.Kind != BackingFile {
		return 0, wasip1.ErrnoBadf
	}
	size, err := f.fs.Size(e.Inode)
	if err != nil {
		return 0, errnoFromFS(err)
	}
	var next int64
	switch whence {
	case wasip1.WhenceSet:
		next = offset
	case wasip1.WhenceCur:
		next = int64(e.Offset) + offset
	case wasip1.WhenceEnd:
		next = int64(size) + offset
	default:
		return 0, wasip1.ErrnoInval
	}
	if next < 0 {
		return 0, wasip1.ErrnoInval
	}
	e.Offset = uint64(next)
	return e.Offset, wasip1.ErrnoSuccess
}

// Tell returns a file cursor.
func (f *FSContext) Tell(fd uint32) (uint64, wasip1.Errno) {
	e, ok := f.entries[fd]
	if !ok {
		return 0, wasip1.ErrnoBadf
	}
	if e.Kind == BackingStdio {
		return 0, wasip1.ErrnoSpipe
	}
	if e.Kind != BackingFile {
		return 0, wasip1.ErrnoBadf
	}
	return e.Offset, wasip1.ErrnoSuccess
}

// Readdir lists the directory behind fd in deterministic order.
func (f *FSContext) Readdir(fd uint32) ([]vfs.DirEntry, wasip1.Errno) {
	e, ok := f.entries[fd]
	if !ok {
		return nil, wasip1.ErrnoBadf
	}
	if e.Kind != BackingPreopenDir && e.Kind != BackingDir {
		return nil, wasip1.ErrnoNotdir
	}
	entries, err := f.fs.ReaddirAll(e.Inode)
	if err != nil {
		return nil, errnoFromFS(err)
	}
	return entries, wasip1.ErrnoSuccess
}

// FdFilestat stats the object behind fd.
func (f *FSContext) FdFilestat(fd uint32) (vfs.FileStat, wasip1.Errno) {
	e, ok := f.entries[fd]
	if !ok {
		return vfs.FileStat{}, wasip1.ErrnoBadf
	}
	if e.Kind == BackingStdio {
		return vfs.FileStat{Kind: vfs.KindFile, Nlink: 1}, wasip1.ErrnoSuccess
	}
	st, err := f.fs.Stat(e.Inode)
	if err != nil {
		return vfs.FileStat{}, errnoFromFS(err)
	}
	return st, wasip1.ErrnoSuccess
}

// sandboxBase returns the preopen entry a path operation resolves under.
func (f *FSContext) sandboxBase(dirfd uint32) (*FileEntry, wasip1.Errno) {
	e, ok := f.entries[dirfd]
	if !ok {
		return nil, wasip1.ErrnoBadf
	}
	switch e.Kind {
	case BackingPreopenDir:
		return e, wasip1.ErrnoSuccess
	case BackingFile, BackingStdio:
		return nil, wasip1.ErrnoNotdir
	default:
		// Derived directory handles carry no preopen root of their own.
		return nil, wasip1.ErrnoBadf
	}
}

// PathOpen opens path relative to a preopen, applying the sandbox rules,
// and returns the new fd.
func (f *FSContext) PathOpen(dirfd, dirflags uint32, path string, oflags uint16,
	rightsBase, rightsInheriting uint64, fdflags uint16) (uint32, wasip1.Errno) {
	base, errno := f.sandboxBase(dirfd)
	if errno != wasip1.ErrnoSuccess {
		return 0, errno
	}
	if rightsBase&^base.RightsBase != 0 {
		return 0, wasip1.ErrnoNotcapable
	}
	follow := dirflags&wasip1.LookupSymlinkFollow != 0
	abs, id, found, errno := f.canonicalize(base.Name, path, follow)
	if errno != wasip1.ErrnoSuccess {
		return 0, errno
	}

	if found && oflags&wasip1.OflagCreat != 0 && oflags&wasip1.OflagExcl != 0 {
		return 0, wasip1.ErrnoExist
	}
	if !found {
		if oflags&wasip1.OflagCreat == 0 {
			return 0, wasip1.ErrnoNoent
		}
		var err error
		id, err = f.fs.CreateFile(abs, nil)
		if err != nil {
			return 0, errnoFromFS(err)
		}
	}

	kind, err := f.fs.Kind(id)
	if err != nil {
		return 0, errnoFromFS(err)
	}
	newRights := base.RightsBase & rightsBase
	entry := &FileEntry{
		Name:             abs,
		Inode:            id,
		RightsBase:       newRights,
		RightsInheriting: base.RightsInheriting & rightsInheriting,
		FdFlags:          fdflags,
	}
	switch kind {
	case vfs.KindDirectory:
		entry.Kind = BackingDir
		entry.Filetype = wasip1.FiletypeDirectory
	case vfs.KindSymlink:
		entry.Kind = BackingFile
		entry.Filetype = wasip1.FiletypeSymbolicLink
	default:
		if oflags&wasip1.OflagDirectory != 0 {
			return 0, wasip1.ErrnoNotdir
		}
		entry.Kind = BackingFile
		entry.Filetype = wasip1.FiletypeRegularFile
		if oflags&wasip1.OflagTrunc != 0 {
			if err := f.fs.Truncate(id); err != nil {
				return 0, errnoFromFS(err)
			}
		}
	}
	fd := f.nextFD
	f.nextFD++
	f.entries[fd] = entry
	return fd, wasip1.ErrnoSuccess
}

// PathCreateDirectory creates a directory under a preopen.
func (f *FSContext) PathCreateDirectory(dirfd uint32, path string) wasip1.Errno {
	base, errno := f.sandboxBase(dirfd)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	abs, _, found, errno := f.canonicalize(base.Name, path, false)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	if found {
		return wasip1.ErrnoExist
	}
	if _, err := f.fs.Mkdir(abs); err != nil {
		return errnoFromFS(err)
	}
	return wasip1.ErrnoSuccess
}

// PathRemoveDirectory removes an empty directory under a preopen.
func (f *FSContext) PathRemoveDirectory(dirfd uint32, path string) wasip1.Errno {
	base, errno := f.sandboxBase(dirfd)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	abs, id, found, errno := f.canonicalize(base.Name, path, false)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	if !found {
		return wasip1.ErrnoNoent
	}
	if kind, err := f.fs.Kind(id); err != nil {
		return errnoFromFS(err)
	} else if kind != vfs.KindDirectory {
		return wasip1.ErrnoNotdir
	}
	if err := f.fs.Remove(abs); err != nil {
		return errnoFromFS(err)
	}
	return wasip1.ErrnoSuccess
}

// PathUnlinkFile removes a file or symlink under a preopen.
func (f *FSContext) PathUnlinkFile(dirfd uint32, path string) wasip1.Errno {
	base, errno := f.sandboxBase(dirfd)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	abs, id, found, errno := f.canonicalize(base.Name, path, false)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	if !found {
		return wasip1.ErrnoNoent
	}
	if kind, err := f.fs.Kind(id); err != nil {
		return errnoFromFS(err)
	} else if kind == vfs.KindDirectory {
		return wasip1.ErrnoIsdir
	}
	if err := f.fs.Remove(abs); err != nil {
		return errnoFromFS(err)
	}
	return wasip1.ErrnoSuccess
}

// PathRename moves oldPath (under oldDirfd) to newPath (under newDirfd).
func (f *FSContext) PathRename(oldDirfd uint32, oldPath string, newDirfd uint32, newPath string) wasip1.Errno {
	oldBase, errno := f.sandboxBase(oldDirfd)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	newBase, errno := f.sandboxBase(newDirfd)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	oldAbs, _, found, errno := f.canonicalize(oldBase.Name, oldPath, false)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	if !found {
		return wasip1.ErrnoNoent
	}
	newAbs, _, _, errno := f.canonicalize(newBase.Name, newPath, false)
	if errno != wasip1.ErrnoSuccess {
		return errno
	}
	if err := f.fs.Rename(oldAbs, newAbs); err != nil {
		return errnoFromFS(err)
	}
	return wasip1.ErrnoSuccess
}

// PathFilestat stats a path under a preopen.
func (f *FSContext) PathFilestat(dirfd, flags uint32, path string) (vfs.FileStat, wasip1.Errno) {
	base, errno := f.sandboxBase(dirfd)
	if errno != wasip1.ErrnoSuccess {
		return vfs.FileStat{}, errno
	}
	follow := flags&wasip1.LookupSymlinkFollow != 0
	_, id, found, errno := f.canonicalize(base.Name, path, follow)
	if errno != wasip1.ErrnoSuccess {
		return vfs.FileStat{}, errno
	}
	if !found {
		return vfs.FileStat{}, wasip1.ErrnoNoent
	}
	st, err := f.fs.Stat(id)
	if err != nil {
		return vfs.FileStat{}, errnoFromFS(err)
	}
	return st, wasip1.ErrnoSuccess
}

func splitSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, s)
	}
	return segs
}

// canonicalize resolves path under the preopen root, enforcing the
// sandbox: a leading "/" or "./" is stripped (paths are always
// root-relative), ".." may only cancel a prior segment of the supplied
// path, symlinks are expanded with a depth bound, and the final canonical
// path must remain inside the root. Returns the canonical absolute path,
// the inode when the target exists (found), and an errno. A missing final
// component with an existing parent is not an error: found is false.
func (f *FSContext) canonicalize(root, path string, followLast bool) (string, vfs.InodeID, bool, wasip1.Errno) {
	rootSegs := splitSegments(root)

	// Textual normalization of the supplied path first: ".." cancels a
	// prior segment and nothing else, per the sandbox contract.
	var rel []string
	for _, s := range splitSegments(path) {
		if s == ".." {
			if len(rel) == 0 {
				return "", 0, false, wasip1.ErrnoAcces
			}
			rel = rel[:len(rel)-1]
			continue
		}
		rel = append(rel, s)
	}

	stack := append([]string{}, rootSegs...)
	segs := rel
	depth := 0
	var id vfs.InodeID
	found := true
	for i := 0; i < len(segs); i++ {
		s := segs[i]
		if s == ".." {
			// Only reachable through a symlink target.
			if len(stack) == 0 {
				return "", 0, false, wasip1.ErrnoAcces
			}
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, s)
		cur := "/" + strings.Join(stack, "/")
		nid, err := f.fs.ResolveNoFollow(cur)
		if err != nil {
			if errors.Is(err, vfs.ErrNotExist) && i == len(segs)-1 {
				found = false
				break
			}
			return "", 0, false, errnoFromFS(err)
		}
		kind, _ := f.fs.Kind(nid)
		if kind == vfs.KindSymlink && (i < len(segs)-1 || followLast) {
			depth++
			if depth > vfs.MaxSymlinkDepth {
				return "", 0, false, wasip1.ErrnoLoop
			}
			target, err := f.fs.LinkTarget(nid)
			if err != nil {
				return "", 0, false, errnoFromFS(err)
			}
			stack = stack[:len(stack)-1]
			if strings.HasPrefix(target, "/") {
				stack = nil
			}
			rest := segs[i+1:]
			segs = append(append([]string{}, strings.Split(target, "/")...), rest...)
			// Re-filter: Split leaves empty and "." segments behind.
			filtered := segs[:0]
			for _, t := range segs {
				if t == "" || t == "." {
					continue
				}
				filtered = append(filtered, t)
			}
			segs = filtered
			i = -1
			continue
		}
		id = nid
	}
	canonical := "/" + strings.Join(stack, "/")
	rootPath := "/" + strings.Join(rootSegs, "/")
	if canonical != rootPath && !strings.HasPrefix(canonical, rootPath+"/") {
		return "", 0, false, wasip1.ErrnoAcces
	}
	if len(segs) == 0 {
		// Path resolved to the root itself, e.g. "." or "".
		rid, err := f.fs.Resolve(rootPath)
		if err != nil {
			return "", 0, false, errnoFromFS(err)
		}
		return canonical, rid, true, wasip1.ErrnoSuccess
	}
	return canonical, id, found, wasip1.ErrnoSuccess
}

// errnoFromFS maps vfs errors onto WASI errnos.
func errnoFromFS(err error) wasip1.Errno {
	switch {
	case errors.Is(err, vfs.ErrNotExist):
		return wasip1.ErrnoNoent
	case errors.Is(err, vfs.ErrExist):
		return wasip1.ErrnoExist
	case errors.Is(err, vfs.ErrNotDir):
		return wasip1.ErrnoNotdir
	case errors.Is(err, vfs.ErrIsDir):
		return wasip1.ErrnoIsdir
	case errors.Is(err, vfs.ErrNotEmpty):
		return wasip1.ErrnoNotempty
	case errors.Is(err, vfs.ErrLoop):
		return wasip1.ErrnoLoop
	case errors.Is(err, vfs.ErrInvalid):
		return wasip1.ErrnoInval
	}
	return wasip1.ErrnoIo
}
