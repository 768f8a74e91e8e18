// Package leb128 implements the variable-length integer encoding used
// throughout the WebAssembly binary format.
package leb128

import (
	"errors"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen64 = 10
)

var (
	// ErrOverflow32 is returned when a decoded value does not fit in 32 bits.
	ErrOverflow32 = errors.New("overflows a 32-bit integer")
	// ErrOverflow33 is returned when a decoded value does not fit in 33 bits.
	ErrOverflow33 = errors.New("overflows a 33-bit integer")
	// ErrOverflow64 is returned when a decoded value does not fit in 64 bits.
	ErrOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeUint32 encodes the value into a buffer in LEB128 format.
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format.
func EncodeUint64(value uint64) (buf []byte) {
	// This is effectively a do/while loop: a zero value encodes as one byte.
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if value == 0 {
			return buf
		}
	}
}

// EncodeInt32 encodes the signed value into a buffer in LEB128 format.
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format.
func EncodeInt64(value int64) (buf []byte) {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if (value == 0 && b&0x40 == 0) || (value == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// DecodeUint32 decodes an unsigned 32-bit integer, returning the value and
// the number of bytes consumed.
func DecodeUint32(r io.Reader) (ret uint32, bytesRead uint64, err error) {
	// Derived from the canonical ULEB128 decode with a width guard on the
	// final byte: a u32 spans at most 5 bytes and bits 32..34 must be clear.
	b := make([]byte, 1)
	var shift uint32
	for i := 0; i < maxVarintLen32; i++ {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, 0, err
		}
		bytesRead++
		ret |= uint32(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			if i == maxVarintLen32-1 && b[0]&0xf0 != 0 {
				return 0, 0, ErrOverflow32
			}
			return ret, bytesRead, nil
		}
		shift += 7
	}
	return 0, 0, ErrOverflow32
}

// DecodeUint64 decodes an unsigned 64-bit integer, returning the value and
// the number of bytes consumed.
func DecodeUint64(r io.Reader) (ret uint64, bytesRead uint64, err error) {
	b := make([]byte, 1)
	var shift uint64
	for i := 0; i < maxVarintLen64; i++ {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, 0, err
		}
		bytesRead++
		ret |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			if i == maxVarintLen64-1 && b[0] > 1 {
				return 0, 0, ErrOverflow64
			}
			return ret, bytesRead, nil
		}
		shift += 7
	}
	return 0, 0, ErrOverflow64
}

// DecodeInt32 decodes a signed 32-bit integer, returning the value and the
// number of bytes consumed.
func DecodeInt32(r io.Reader) (ret int32, bytesRead uint64, err error) {
	b := make([]byte, 1)
	var shift uint32
	for i := 0; i < maxVarintLen32; i++ {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, 0, err
		}
		bytesRead++
		ret |= int32(b[0]&0x7f) << shift
		shift += 7
		if b[0]&0x80 == 0 {
			if i == maxVarintLen32-1 {
				// Bits 31..34 live in the final byte: they must all equal the
				// sign, i.e. the 0x78 group is either clear or fully set.
				if g := b[0] & 0x78; g != 0 && g != 0x78 {
					return 0, 0, ErrOverflow32
				}
			}
			if shift < 32 && b[0]&0x40 != 0 {
				ret |= ^0 << shift
			}
			return ret, bytesRead, nil
		}
	}
	return 0, 0, ErrOverflow32
}

// DecodeInt33AsInt64 decodes a signed 33-bit integer as used by block types,
// widening the result to int64.
func DecodeInt33AsInt64(r io.Reader) (ret int64, bytesRead uint64, err error) {
	b := make([]byte, 1)
	var shift uint64
	for i := 0; i < maxVarintLen32; i++ {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, 0, err
		}
		bytesRead++
		ret |= int64(b[0]&0x7f) << shift
		shift += 7
		if b[0]&0x80 == 0 {
			if i == maxVarintLen32-1 {
				if g := b[0] & 0x70; g != 0 && g != 0x70 {
					return 0, 0, ErrOverflow33
				}
			}
			if shift < 64 && b[0]&0x40 != 0 {
				ret |= ^0 << shift
			}
			return ret, bytesRead, nil
		}
	}
	return 0, 0, ErrOverflow33
}

// DecodeInt64 decodes a signed 64-bit integer, returning the value and the
// number of bytes consumed.
func DecodeInt64(r io.Reader) (ret int64, bytesRead uint64, err error) {
	b := make([]byte, 1)
	var shift uint64
	for i := 0; i < maxVarintLen64; i++ {
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, 0, err
		}
		bytesRead++
		ret |= int64(b[0]&0x7f) << shift
		shift += 7
		if b[0]&0x80 == 0 {
			if i == maxVarintLen64-1 && b[0] != 0 && b[0] != 0x7f {
				return 0, 0, ErrOverflow64
			}
			if shift < 64 && b[0]&0x40 != 0 {
				ret |= ^0 << shift
			}
			return ret, bytesRead, nil
		}
	}
	return 0, 0, ErrOverflow64
}
