package binary

import (
	"errors"
	"io"
	"unicode/utf8"

	"github.com/kpio-os/wasmcore/wasm/leb128"
)

// Reader is a byte cursor over an immutable slice. Sub-readers window a
// region of the parent so a section parser cannot over-read into the next
// section; positions always report relative to the original stream.
type Reader struct {
	data []byte
	pos  int

	// base is the absolute offset of data[0] within the outermost stream.
	base int
}

// NewReader wraps data at absolute offset zero.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// SubReader derives an independent cursor over [offset, offset+length) of
// this reader's window.
func (r *Reader) SubReader(offset, length int) (*Reader, error) {
	if offset+length > len(r.data) || offset < 0 || length < 0 {
		return nil, newError(KindSectionSizeExceedsInput, uint32(r.base+offset))
	}
	return &Reader{data: r.data[offset : offset+length], base: r.base + offset}, nil
}

// Position is the cursor offset within this reader's window.
func (r *Reader) Position() int { return r.pos }

// AbsolutePosition is the cursor offset within the original stream.
func (r *Reader) AbsolutePosition() uint32 { return uint32(r.base + r.pos) }

// Remaining returns how many bytes are left.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// IsEmpty reports whether the cursor reached the end.
func (r *Reader) IsEmpty() bool { return r.pos >= len(r.data) }

// Read implements io.Reader so the LEB128 and float decoders can consume
// the cursor directly.
func (r *Reader) Read(p []byte) (int, error) {
	if r.IsEmpty() {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// ReadByte returns the next byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.IsEmpty() {
		return 0, newError(KindUnexpectedEnd, r.AbsolutePosition())
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without advancing.
func (r *Reader) PeekByte() (byte, error) {
	if r.IsEmpty() {
		return 0, newError(KindUnexpectedEnd, r.AbsolutePosition())
	}
	return r.data[r.pos], nil
}

// ReadBytes returns the next n bytes as a view into the underlying slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, newError(KindUnexpectedEnd, r.AbsolutePosition())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Skip advances the cursor n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return newError(KindUnexpectedEnd, r.AbsolutePosition())
	}
	r.pos += n
	return nil
}

// ReadUint32LE reads a fixed-width little-endian uint32 (used only for the
// version word).
func (r *Reader) ReadUint32LE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *Reader) lebErr(start uint32, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(KindUnexpectedEnd, r.AbsolutePosition())
	}
	return newError(KindLeb128Overflow, start)
}

// ReadLeb128U32 reads an unsigned LEB128 u32.
func (r *Reader) ReadLeb128U32() (uint32, error) {
	start := r.AbsolutePosition()
	v, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, r.lebErr(start, err)
	}
	return v, nil
}

// ReadLeb128U64 reads an unsigned LEB128 u64.
func (r *Reader) ReadLeb128U64() (uint64, error) {
	start := r.AbsolutePosition()
	v, _, err := leb128.DecodeUint64(r)
	if err != nil {
		return 0, r.lebErr(start, err)
	}
	return v, nil
}

// ReadLeb128I32 reads a signed LEB128 i32.
func (r *Reader) ReadLeb128I32() (int32, error) {
	start := r.AbsolutePosition()
	v, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, r.lebErr(start, err)
	}
	return v, nil
}

// ReadLeb128I64 reads a signed LEB128 i64.
func (r *Reader) ReadLeb128I64() (int64, error) {
	start := r.AbsolutePosition()
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, r.lebErr(start, err)
	}
	return v, nil
}

// ReadLeb128I33 reads the signed 33-bit integer used by block types.
func (r *Reader) ReadLeb128I33() (int64, error) {
	start := r.AbsolutePosition()
	v, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return 0, r.lebErr(start, err)
	}
	return v, nil
}

// ReadName reads a length-prefixed UTF-8 string.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadLeb128U32()
	if err != nil {
		return "", err
	}
	start := r.AbsolutePosition()
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newError(KindInvalidUTF8Name, start)
	}
	return string(b), nil
}

// window returns the bytes between two cursor positions of this reader.
func (r *Reader) window(start, end int) []byte {
	return r.data[start:end]
}
