// Package ieee754 decodes the little-endian IEEE 754 constants embedded in
// WebAssembly binaries.
package ieee754

import (
	"encoding/binary"
	"io"
	"math"
)

// DecodeFloat32 reads a binary32 value in little-endian byte order.
func DecodeFloat32(r io.Reader) (float32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

// DecodeFloat64 reads a binary64 value in little-endian byte order.
func DecodeFloat64(r io.Reader) (float64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
}

// EncodeFloat32 appends the little-endian encoding of v to buf.
func EncodeFloat32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

// EncodeFloat64 appends the little-endian encoding of v to buf.
func EncodeFloat64(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
}
