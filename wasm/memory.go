package wasm

import (
	"encoding/binary"
	"math"
)

const (
	// MemoryPageSize is the granularity of linear memory sizing.
	MemoryPageSize = 65536
	// MemoryLimitPages is the hard ceiling on memory size: 4 GiB.
	MemoryLimitPages = 65536
)

// MemoryInstance is one linear memory: a grow-only byte buffer sized in
// pages. All multi-byte accessors are little-endian, and every accessor
// bounds-checks, reporting failure with an ok bool rather than panicking.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	// Max is the page ceiling for Grow: the declared maximum if present,
	// MemoryLimitPages otherwise.
	Max uint32
}

// NewMemoryInstance allocates a memory sized to the type's minimum.
func NewMemoryInstance(mt *MemoryType) *MemoryInstance {
	max := uint32(MemoryLimitPages)
	if mt.Max != nil && *mt.Max < max {
		max = *mt.Max
	}
	return &MemoryInstance{
		Buffer: make([]byte, uint64(mt.Min)*MemoryPageSize),
		Min:    mt.Min,
		Max:    max,
	}
}

// Size returns the current size in bytes.
func (m *MemoryInstance) Size() uint32 {
	return uint32(len(m.Buffer))
}

// Pages returns the current size in pages.
func (m *MemoryInstance) Pages() uint32 {
	return uint32(len(m.Buffer) / MemoryPageSize)
}

// Grow appends delta zeroed pages, returning the previous page count, or
// false (leaving the buffer untouched) when the result would exceed Max.
func (m *MemoryInstance) Grow(delta uint32) (prevPages uint32, ok bool) {
	prevPages = m.Pages()
	newPages := uint64(prevPages) + uint64(delta)
	if newPages > uint64(m.Max) {
		return 0, false
	}
	m.Buffer = append(m.Buffer, make([]byte, uint64(delta)*MemoryPageSize)...)
	return prevPages, true
}

func (m *MemoryInstance) hasSize(offset uint32, count uint64) bool {
	return uint64(offset)+count <= uint64(len(m.Buffer))
}

// Read returns a view of count bytes at offset, or false if out of range.
func (m *MemoryInstance) Read(offset, count uint32) ([]byte, bool) {
	if !m.hasSize(offset, uint64(count)) {
		return nil, false
	}
	return m.Buffer[offset : uint64(offset)+uint64(count) : uint64(offset)+uint64(count)], true
}

// ReadByte returns the byte at offset.
func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	if !m.hasSize(offset, 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint16Le reads a little-endian uint16 at offset.
func (m *MemoryInstance) ReadUint16Le(offset uint32) (uint16, bool) {
	if !m.hasSize(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset:]), true
}

// ReadUint32Le reads a little-endian uint32 at offset.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

// ReadUint64Le reads a little-endian uint64 at offset.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

// ReadFloat32Le reads a little-endian float32 at offset.
func (m *MemoryInstance) ReadFloat32Le(offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(offset)
	return math.Float32frombits(v), ok
}

// ReadFloat64Le reads a little-endian float64 at offset.
func (m *MemoryInstance) ReadFloat64Le(offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(offset)
	return math.Float64frombits(v), ok
}

// Write copies b into memory at offset, or reports false without writing
// when any byte would land out of range.
func (m *MemoryInstance) Write(offset uint32, b []byte) bool {
	if !m.hasSize(offset, uint64(len(b))) {
		return false
	}
	copy(m.Buffer[offset:], b)
	return true
}

// WriteByte writes one byte at offset.
func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	if !m.hasSize(offset, 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint16Le writes a little-endian uint16 at offset.
func (m *MemoryInstance) WriteUint16Le(offset uint32, v uint16) bool {
	if !m.hasSize(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.Buffer[offset:], v)
	return true
}

// WriteUint32Le writes a little-endian uint32 at offset.
func (m *MemoryInstance) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le writes a little-endian uint64 at offset.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}
