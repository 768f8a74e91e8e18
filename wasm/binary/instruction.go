package binary

import (
	"math"

	"github.com/kpio-os/wasmcore/internal/ieee754"
	"github.com/kpio-os/wasmcore/wasm"
)

// decodeExpression decodes instructions until the reader is exhausted.
// Instruction offsets are relative to the expression start.
func decodeExpression(r *Reader) ([]wasm.Instruction, error) {
	var instrs []wasm.Instruction
	for !r.IsEmpty() {
		ins, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, ins)
	}
	return instrs, nil
}

// noImmediate reports whether the byte opcode carries no immediates. This
// covers everything from the parametric group through the reinterpret and
// sign-extension groups.
func noImmediate(op byte) bool {
	switch {
	case op == byte(wasm.OpcodeUnreachable), op == byte(wasm.OpcodeNop),
		op == byte(wasm.OpcodeElse), op == byte(wasm.OpcodeEnd),
		op == byte(wasm.OpcodeReturn), op == byte(wasm.OpcodeDrop),
		op == byte(wasm.OpcodeSelect), op == byte(wasm.OpcodeRefIsNull):
		return true
	case op >= byte(wasm.OpcodeI32Eqz) && op <= byte(wasm.OpcodeI64Extend32S):
		return true
	}
	return false
}

// decodeInstruction reads one instruction. The byte-to-opcode map is a
// flat dispatch; unknown bytes fail with the offset.
func decodeInstruction(r *Reader) (wasm.Instruction, error) {
	offset := uint32(r.Position())
	opOffset := r.AbsolutePosition()
	b, err := r.ReadByte()
	if err != nil {
		return wasm.Instruction{}, err
	}

	ins := wasm.Instruction{Opcode: wasm.Opcode(b), Offset: offset}
	if noImmediate(b) {
		return ins, nil
	}

	switch wasm.Opcode(b) {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		kind, payload, err := decodeBlockType(r)
		if err != nil {
			return ins, err
		}
		ins.U1, ins.U2 = uint64(kind), payload

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		depth, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		ins.U1 = uint64(depth)

	case wasm.OpcodeBrTable:
		count, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		targets := make([]uint32, 0, capHint(count))
		for i := uint32(0); i < count; i++ {
			t, err := r.ReadLeb128U32()
			if err != nil {
				return ins, err
			}
			targets = append(targets, t)
		}
		def, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		ins.Targets = targets
		ins.U1 = uint64(def)

	case wasm.OpcodeCall, wasm.OpcodeLocalGet, wasm.OpcodeLocalSet,
		wasm.OpcodeLocalTee, wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
		wasm.OpcodeTableGet, wasm.OpcodeTableSet, wasm.OpcodeRefFunc:
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		ins.U1 = uint64(idx)

	case wasm.OpcodeCallIndirect:
		typeIdx, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		tableIdx, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		ins.U1, ins.U2 = uint64(typeIdx), uint64(tableIdx)

	case wasm.OpcodeTypedSelect:
		// The type vector adds nothing for execution; read and discard.
		count, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		for i := uint32(0); i < count; i++ {
			if _, err := decodeValueType(r); err != nil {
				return ins, err
			}
		}
		ins.Opcode = wasm.OpcodeSelect

	case wasm.OpcodeRefNull:
		heapType, err := r.ReadByte()
		if err != nil {
			return ins, err
		}
		ins.U1 = uint64(heapType)

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if _, err := r.ReadByte(); err != nil { // reserved memory index
			return ins, err
		}

	case wasm.OpcodeI32Const:
		v, err := r.ReadLeb128I32()
		if err != nil {
			return ins, err
		}
		ins.U1 = uint64(int64(v))

	case wasm.OpcodeI64Const:
		v, err := r.ReadLeb128I64()
		if err != nil {
			return ins, err
		}
		ins.U1 = uint64(v)

	case wasm.OpcodeF32Const:
		v, err := ieee754.DecodeFloat32(r)
		if err != nil {
			return ins, newError(KindUnexpectedEnd, r.AbsolutePosition())
		}
		ins.U1 = uint64(math.Float32bits(v))

	case wasm.OpcodeF64Const:
		v, err := ieee754.DecodeFloat64(r)
		if err != nil {
			return ins, newError(KindUnexpectedEnd, r.AbsolutePosition())
		}
		ins.U1 = math.Float64bits(v)

	default:
		switch {
		case b >= byte(wasm.OpcodeI32Load) && b <= byte(wasm.OpcodeI64Store32):
			align, err := r.ReadLeb128U32()
			if err != nil {
				return ins, err
			}
			memOffset, err := r.ReadLeb128U32()
			if err != nil {
				return ins, err
			}
			ins.U1, ins.U2 = uint64(align), uint64(memOffset)

		case b == wasm.MiscPrefix:
			return decodeMiscInstruction(r, offset, opOffset)

		default:
			// 0xFD (vector) and 0xFE (atomic) prefixes land here too: the
			// corresponding proposals are unsupported.
			return ins, newByteError(KindUnknownOpcode, opOffset, b)
		}
	}
	return ins, nil
}

func decodeMiscInstruction(r *Reader, offset, opOffset uint32) (wasm.Instruction, error) {
	sub, err := r.ReadLeb128U32()
	if err != nil {
		return wasm.Instruction{}, err
	}
	if sub > 17 {
		return wasm.Instruction{}, newByteError(KindUnknownOpcode, opOffset, byte(sub))
	}
	ins := wasm.Instruction{Opcode: wasm.OpcodeI32TruncSatF32S + wasm.Opcode(sub), Offset: offset}
	switch ins.Opcode {
	case wasm.OpcodeMemoryInit:
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		if _, err := r.ReadByte(); err != nil { // reserved memory index
			return ins, err
		}
		ins.U1 = uint64(idx)
	case wasm.OpcodeDataDrop, wasm.OpcodeElemDrop,
		wasm.OpcodeTableGrow, wasm.OpcodeTableSize, wasm.OpcodeTableFill:
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		ins.U1 = uint64(idx)
	case wasm.OpcodeMemoryCopy:
		if _, err := r.ReadByte(); err != nil { // reserved dst
			return ins, err
		}
		if _, err := r.ReadByte(); err != nil { // reserved src
			return ins, err
		}
	case wasm.OpcodeMemoryFill:
		if _, err := r.ReadByte(); err != nil { // reserved memory index
			return ins, err
		}
	case wasm.OpcodeTableInit, wasm.OpcodeTableCopy:
		a, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		b, err := r.ReadLeb128U32()
		if err != nil {
			return ins, err
		}
		ins.U1, ins.U2 = uint64(a), uint64(b)
	}
	return ins, nil
}

// Block type encodings stored in Instruction.U1.
const (
	BlockTypeEmpty uint64 = iota
	BlockTypeValue
	BlockTypeIndex
)

// decodeBlockType reads a block type byte: 0x40 (empty), a value type
// (single result), or a signed LEB i33 type index. Negative indices are
// rejected.
func decodeBlockType(r *Reader) (kind uint64, payload uint64, err error) {
	b, err := r.PeekByte()
	if err != nil {
		return 0, 0, err
	}
	switch b {
	case 0x40:
		_, _ = r.ReadByte()
		return BlockTypeEmpty, 0, nil
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
		wasm.ValueTypeV128, wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		_, _ = r.ReadByte()
		return BlockTypeValue, uint64(b), nil
	}
	start := r.AbsolutePosition()
	idx, err := r.ReadLeb128I33()
	if err != nil {
		return 0, 0, err
	}
	if idx < 0 {
		return 0, 0, newError(KindInvalidBlockType, start)
	}
	return BlockTypeIndex, uint64(idx), nil
}
