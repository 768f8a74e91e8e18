// Package binaryencoding builds WebAssembly binaries by hand for tests:
// the inverse of wasm/binary, kept deliberately primitive so fixtures stay
// readable as byte layouts.
package binaryencoding

import (
	"encoding/binary"
	"math"

	"github.com/kpio-os/wasmcore/wasm/leb128"
)

// Header is the magic and version preamble.
func Header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

// U32 encodes an unsigned LEB128 u32.
func U32(v uint32) []byte { return leb128.EncodeUint32(v) }

// I32 encodes a signed LEB128 i32.
func I32(v int32) []byte { return leb128.EncodeInt32(v) }

// I64 encodes a signed LEB128 i64.
func I64(v int64) []byte { return leb128.EncodeInt64(v) }

// F32 encodes a little-endian float32 constant.
func F32(v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return b[:]
}

// F64 encodes a little-endian float64 constant.
func F64(v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

// Name encodes a length-prefixed string.
func Name(s string) []byte {
	return append(U32(uint32(len(s))), s...)
}

// Cat concatenates byte slices.
func Cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Vec encodes a count-prefixed vector of already-encoded items.
func Vec(items ...[]byte) []byte {
	out := U32(uint32(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

// Section encodes (id, size, body).
func Section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, U32(uint32(len(body)))...)
	return append(out, body...)
}

// Module assembles a binary from the header and encoded sections.
func Module(sections ...[]byte) []byte {
	return Cat(append([][]byte{Header()}, sections...)...)
}

// FuncType encodes a function type: 0x60, params, results.
func FuncType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, U32(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, U32(uint32(len(results)))...)
	return append(out, results...)
}

// Body encodes one code entry: its size, a locals vector, and the
// expression (which must include the terminating end).
func Body(locals []byte, expr []byte) []byte {
	if locals == nil {
		locals = U32(0)
	}
	content := Cat(locals, expr)
	return Cat(U32(uint32(len(content))), content)
}

// Locals encodes a locals vector from (count, type) pairs.
func Locals(pairs ...[2]byte) []byte {
	out := U32(uint32(len(pairs)))
	for _, p := range pairs {
		out = append(out, U32(uint32(p[0]))...)
		out = append(out, p[1])
	}
	return out
}
