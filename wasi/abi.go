package wasi

import (
	"encoding/binary"

	"github.com/kpio-os/wasmcore/internal/wasip1"
	"github.com/kpio-os/wasmcore/vfs"
)

// Struct layouts are written into guest memory with one explicit
// field-by-field little-endian encoder per struct. Layouts are bit-exact
// per snapshot-01; padding bytes are zero.

// encodeFdstat packs the 24-byte fdstat record:
// {filetype u8, pad u8, flags u16, reserved u32, rights_base u64,
// rights_inheriting u64}.
func encodeFdstat(filetype uint8, flags uint16, rightsBase, rightsInheriting uint64) []byte {
	buf := make([]byte, wasip1.FdstatSize)
	buf[0] = filetype
	binary.LittleEndian.PutUint16(buf[2:], flags)
	binary.LittleEndian.PutUint64(buf[8:], rightsBase)
	binary.LittleEndian.PutUint64(buf[16:], rightsInheriting)
	return buf
}

// encodePrestat packs the 8-byte prestat record:
// {tag u8, pad [3]u8, dir_name_len u32}.
func encodePrestat(dirNameLen uint32) []byte {
	buf := make([]byte, wasip1.PrestatSize)
	buf[0] = wasip1.PreopentypeDir
	binary.LittleEndian.PutUint32(buf[4:], dirNameLen)
	return buf
}

// encodeFilestat packs the 64-byte filestat record:
// {dev u64, ino u64, filetype u8, pad [7]u8, nlink u64, size u64,
// atim u64, mtim u64, ctim u64}.
func encodeFilestat(st vfs.FileStat) []byte {
	buf := make([]byte, wasip1.FilestatSize)
	binary.LittleEndian.PutUint64(buf[0:], st.Dev)
	binary.LittleEndian.PutUint64(buf[8:], st.Ino)
	buf[16] = filetypeOf(st.Kind)
	binary.LittleEndian.PutUint64(buf[24:], st.Nlink)
	binary.LittleEndian.PutUint64(buf[32:], st.Size)
	binary.LittleEndian.PutUint64(buf[40:], st.Atim)
	binary.LittleEndian.PutUint64(buf[48:], st.Mtim)
	binary.LittleEndian.PutUint64(buf[56:], st.Ctim)
	return buf
}

// appendDirent appends one packed dirent record:
// {d_next u64, d_ino u64, d_namlen u32, d_type u8, pad [3]u8, name...}.
func appendDirent(buf []byte, next, ino uint64, filetype uint8, name string) []byte {
	var rec [wasip1.DirentSize]byte
	binary.LittleEndian.PutUint64(rec[0:], next)
	binary.LittleEndian.PutUint64(rec[8:], ino)
	binary.LittleEndian.PutUint32(rec[16:], uint32(len(name)))
	rec[20] = filetype
	buf = append(buf, rec[:]...)
	return append(buf, name...)
}

func filetypeOf(kind vfs.Kind) uint8 {
	switch kind {
	case vfs.KindDirectory:
		return wasip1.FiletypeDirectory
	case vfs.KindSymlink:
		return wasip1.FiletypeSymbolicLink
	default:
		return wasip1.FiletypeRegularFile
	}
}
