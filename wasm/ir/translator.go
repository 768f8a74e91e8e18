package ir

import (
	"errors"
	"fmt"

	"github.com/kpio-os/wasmcore/wasm"
	"github.com/kpio-os/wasmcore/wasm/binary"
)

// ErrUnsupportedOpcode marks opcodes outside the supported set (the vector
// and threads prefixes in particular).
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// Translator lowers function bodies to IR. One Translator may be reused
// across functions; block identifiers restart per function.
type Translator struct {
	fn         *Function
	blockStack []BlockID
	nextBlock  uint32
}

// NewTranslator returns an empty translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// TranslateModule lowers every code entry of a validated module.
func TranslateModule(m *wasm.Module) ([]*Function, error) {
	t := NewTranslator()
	imported := m.ImportedFunctionCount()
	fns := make([]*Function, 0, len(m.CodeSection))
	for i, code := range m.CodeSection {
		sig := m.TypeSection[m.FunctionSection[i]]
		fn, err := t.TranslateFunction(imported+uint32(i), sig, code.LocalTypes, code.BodyBytes)
		if err != nil {
			return nil, fmt.Errorf("lowering func[%d]: %w", imported+uint32(i), err)
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

// TranslateFunction re-reads a function body's instruction bytes and emits
// the IR. The body must already have parsed; failures here are limited to
// unsupported opcodes and truncated immediates.
func (t *Translator) TranslateFunction(index uint32, sig *wasm.FunctionType,
	localTypes []wasm.ValueType, body []byte) (*Function, error) {
	t.fn = &Function{
		Index:   index,
		Params:  sig.Params,
		Results: sig.Results,
		Locals:  localTypes,
		Blocks:  map[BlockID]*BlockInfo{},
	}
	t.blockStack = t.blockStack[:0]
	t.nextBlock = 0

	r := binary.NewReader(body)
	for !r.IsEmpty() {
		if err := t.translateInstruction(r); err != nil {
			return nil, err
		}
	}
	return t.fn, nil
}

func (t *Translator) emit(op Opcode, imm uint64, offset uint32) {
	t.fn.Body = append(t.fn.Body, Instruction{Op: op, Imm: imm, Offset: offset})
}

func (t *Translator) newBlock(kind BlockKind, offset uint32) BlockID {
	id := BlockID(t.nextBlock)
	t.nextBlock++
	t.blockStack = append(t.blockStack, id)
	t.fn.Blocks[id] = &BlockInfo{Kind: kind, StartOffset: offset}
	return id
}

func (t *Translator) translateInstruction(r *binary.Reader) error {
	offset := uint32(r.Position())
	b, err := r.ReadByte()
	if err != nil {
		return err
	}

	if op, ok := plainOpcodes[b]; ok {
		t.emit(op, 0, offset)
		return nil
	}

	switch wasm.Opcode(b) {
	case wasm.OpcodeNop:
		// Erased: the IR has no use for it.
		return nil

	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		var kind BlockKind
		var op Opcode
		switch wasm.Opcode(b) {
		case wasm.OpcodeBlock:
			kind, op = BlockKindBlock, OpBlock
		case wasm.OpcodeLoop:
			kind, op = BlockKindLoop, OpLoop
		default:
			kind, op = BlockKindIf, OpIf
		}
		// The block type is read but discarded: result shapes are derived
		// from context during validation, and the IR's consumers do not
		// need them.
		if err := discardBlockType(r); err != nil {
			return err
		}
		t.emit(op, uint64(t.newBlock(kind, offset)), offset)

	case wasm.OpcodeEnd:
		if n := len(t.blockStack); n > 0 {
			id := t.blockStack[n-1]
			t.blockStack = t.blockStack[:n-1]
			t.fn.Blocks[id].EndOffset = offset
		}
		// The outermost end, the one closing the implicit function body,
		// emits as a plain End like any other.
		t.emit(OpEnd, 0, offset)

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		depth, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		if wasm.Opcode(b) == wasm.OpcodeBr {
			t.emit(OpBr, uint64(depth), offset)
		} else {
			t.emit(OpBrIf, uint64(depth), offset)
		}

	case wasm.OpcodeBrTable:
		count, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		// count branch depths plus the trailing default.
		targets := make([]uint32, 0, 16)
		for i := uint32(0); i <= count; i++ {
			d, err := r.ReadLeb128U32()
			if err != nil {
				return err
			}
			targets = append(targets, d)
		}
		t.emit(OpBrTable, uint64(t.fn.AddBranchTable(targets)), offset)

	case wasm.OpcodeCall:
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpCall, uint64(idx), offset)

	case wasm.OpcodeCallIndirect:
		typeIdx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		tableIdx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpCallIndirect, PackIndices(typeIdx, tableIdx), offset)

	case wasm.OpcodeTypedSelect:
		count, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		if err := r.Skip(int(count)); err != nil {
			return err
		}
		t.emit(OpSelect, 0, offset)

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
		wasm.OpcodeTableGet, wasm.OpcodeTableSet, wasm.OpcodeRefFunc:
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		var op Opcode
		switch wasm.Opcode(b) {
		case wasm.OpcodeLocalGet:
			op = OpLocalGet
		case wasm.OpcodeLocalSet:
			op = OpLocalSet
		case wasm.OpcodeLocalTee:
			op = OpLocalTee
		case wasm.OpcodeGlobalGet:
			op = OpGlobalGet
		case wasm.OpcodeGlobalSet:
			op = OpGlobalSet
		case wasm.OpcodeTableGet:
			op = OpTableGet
		case wasm.OpcodeTableSet:
			op = OpTableSet
		default:
			op = OpRefFunc
		}
		t.emit(op, uint64(idx), offset)

	case wasm.OpcodeRefNull:
		if _, err := r.ReadByte(); err != nil { // heap type, unused
			return err
		}
		t.emit(OpRefNull, 0, offset)

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if _, err := r.ReadByte(); err != nil { // reserved memory index
			return err
		}
		if wasm.Opcode(b) == wasm.OpcodeMemorySize {
			t.emit(OpMemorySize, 0, offset)
		} else {
			t.emit(OpMemoryGrow, 0, offset)
		}

	case wasm.OpcodeI32Const:
		v, err := r.ReadLeb128I32()
		if err != nil {
			return err
		}
		t.emit(OpConst32, uint64(int64(v)), offset)

	case wasm.OpcodeI64Const:
		v, err := r.ReadLeb128I64()
		if err != nil {
			return err
		}
		t.emit(OpConst64, uint64(v), offset)

	case wasm.OpcodeF32Const:
		b4, err := r.ReadBytes(4)
		if err != nil {
			return err
		}
		bits := uint64(b4[0]) | uint64(b4[1])<<8 | uint64(b4[2])<<16 | uint64(b4[3])<<24
		t.emit(OpConstF32, bits, offset)

	case wasm.OpcodeF64Const:
		b8, err := r.ReadBytes(8)
		if err != nil {
			return err
		}
		var bits uint64
		for i := 7; i >= 0; i-- {
			bits = bits<<8 | uint64(b8[i])
		}
		t.emit(OpConstF64, bits, offset)

	default:
		switch {
		case b >= byte(wasm.OpcodeI32Load) && b <= byte(wasm.OpcodeI64Store32):
			// The alignment hint is advisory; only the static offset is kept.
			if _, err := r.ReadLeb128U32(); err != nil {
				return err
			}
			memOffset, err := r.ReadLeb128U32()
			if err != nil {
				return err
			}
			t.emit(memoryOpcodes[b], uint64(memOffset), offset)

		case b == wasm.MiscPrefix:
			return t.translateMisc(r, offset)

		default:
			return fmt.Errorf("offset 0x%x: %w 0x%x", offset, ErrUnsupportedOpcode, b)
		}
	}
	return nil
}

func (t *Translator) translateMisc(r *binary.Reader, offset uint32) error {
	sub, err := r.ReadLeb128U32()
	if err != nil {
		return err
	}
	if sub <= 7 {
		t.emit(OpI32TruncSatF32S+Opcode(sub), 0, offset)
		return nil
	}
	switch sub {
	case 8: // memory.init
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		t.emit(OpMemoryInit, uint64(idx), offset)
	case 9: // data.drop
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpDataDrop, uint64(idx), offset)
	case 10: // memory.copy
		if err := r.Skip(2); err != nil {
			return err
		}
		t.emit(OpMemoryCopy, 0, offset)
	case 11: // memory.fill
		if err := r.Skip(1); err != nil {
			return err
		}
		t.emit(OpMemoryFill, 0, offset)
	case 12: // table.init
		elemIdx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		tableIdx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpTableInit, PackIndices(elemIdx, tableIdx), offset)
	case 13: // elem.drop
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpElemDrop, uint64(idx), offset)
	case 14: // table.copy
		dst, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		src, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpTableCopy, PackIndices(dst, src), offset)
	case 15, 16, 17: // table.grow, table.size, table.fill
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return err
		}
		t.emit(OpTableGrow+Opcode(sub-15), uint64(idx), offset)
	default:
		return fmt.Errorf("offset 0x%x: %w 0xfc %d", offset, ErrUnsupportedOpcode, sub)
	}
	return nil
}

func discardBlockType(r *binary.Reader) error {
	b, err := r.PeekByte()
	if err != nil {
		return err
	}
	switch b {
	case 0x40, wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32,
		wasm.ValueTypeF64, wasm.ValueTypeV128, wasm.ValueTypeFuncref,
		wasm.ValueTypeExternref:
		_, err := r.ReadByte()
		return err
	}
	_, err = r.ReadLeb128I33()
	return err
}

// memoryOpcodes maps the load/store byte range to IR opcodes. The float
// variants share the integer load/store widths: values are bit patterns in
// the 64-bit slot either way.
var memoryOpcodes = map[byte]Opcode{
	byte(wasm.OpcodeI32Load):    OpLoad32,
	byte(wasm.OpcodeI64Load):    OpLoad64,
	byte(wasm.OpcodeF32Load):    OpLoad32,
	byte(wasm.OpcodeF64Load):    OpLoad64,
	byte(wasm.OpcodeI32Load8S):  OpLoad8S,
	byte(wasm.OpcodeI32Load8U):  OpLoad8U,
	byte(wasm.OpcodeI32Load16S): OpLoad16S,
	byte(wasm.OpcodeI32Load16U): OpLoad16U,
	byte(wasm.OpcodeI64Load8S):  OpLoad8S,
	byte(wasm.OpcodeI64Load8U):  OpLoad8U,
	byte(wasm.OpcodeI64Load16S): OpLoad16S,
	byte(wasm.OpcodeI64Load16U): OpLoad16U,
	byte(wasm.OpcodeI64Load32S): OpLoad32S,
	byte(wasm.OpcodeI64Load32U): OpLoad32U,
	byte(wasm.OpcodeI32Store):   OpStore32,
	byte(wasm.OpcodeI64Store):   OpStore64,
	byte(wasm.OpcodeF32Store):   OpStore32,
	byte(wasm.OpcodeF64Store):   OpStore64,
	byte(wasm.OpcodeI32Store8):  OpStore8,
	byte(wasm.OpcodeI32Store16): OpStore16,
	byte(wasm.OpcodeI64Store8):  OpStore8,
	byte(wasm.OpcodeI64Store16): OpStore16,
	byte(wasm.OpcodeI64Store32): OpStore32,
}

// plainOpcodes maps immediate-free bytes 1:1 onto IR opcodes.
var plainOpcodes = map[byte]Opcode{
	byte(wasm.OpcodeUnreachable): OpUnreachable,
	byte(wasm.OpcodeElse):        OpElse,
	byte(wasm.OpcodeReturn):      OpReturn,
	byte(wasm.OpcodeDrop):        OpDrop,
	byte(wasm.OpcodeSelect):      OpSelect,
	byte(wasm.OpcodeRefIsNull):   OpRefIsNull,

	byte(wasm.OpcodeI32Eqz): OpI32Eqz,
	byte(wasm.OpcodeI32Eq):  OpI32Eq,
	byte(wasm.OpcodeI32Ne):  OpI32Ne,
	byte(wasm.OpcodeI32LtS): OpI32LtS,
	byte(wasm.OpcodeI32LtU): OpI32LtU,
	byte(wasm.OpcodeI32GtS): OpI32GtS,
	byte(wasm.OpcodeI32GtU): OpI32GtU,
	byte(wasm.OpcodeI32LeS): OpI32LeS,
	byte(wasm.OpcodeI32LeU): OpI32LeU,
	byte(wasm.OpcodeI32GeS): OpI32GeS,
	byte(wasm.OpcodeI32GeU): OpI32GeU,

	byte(wasm.OpcodeI64Eqz): OpI64Eqz,
	byte(wasm.OpcodeI64Eq):  OpI64Eq,
	byte(wasm.OpcodeI64Ne):  OpI64Ne,
	byte(wasm.OpcodeI64LtS): OpI64LtS,
	byte(wasm.OpcodeI64LtU): OpI64LtU,
	byte(wasm.OpcodeI64GtS): OpI64GtS,
	byte(wasm.OpcodeI64GtU): OpI64GtU,
	byte(wasm.OpcodeI64LeS): OpI64LeS,
	byte(wasm.OpcodeI64LeU): OpI64LeU,
	byte(wasm.OpcodeI64GeS): OpI64GeS,
	byte(wasm.OpcodeI64GeU): OpI64GeU,

	byte(wasm.OpcodeF32Eq): OpF32Eq,
	byte(wasm.OpcodeF32Ne): OpF32Ne,
	byte(wasm.OpcodeF32Lt): OpF32Lt,
	byte(wasm.OpcodeF32Gt): OpF32Gt,
	byte(wasm.OpcodeF32Le): OpF32Le,
	byte(wasm.OpcodeF32Ge): OpF32Ge,

	byte(wasm.OpcodeF64Eq): OpF64Eq,
	byte(wasm.OpcodeF64Ne): OpF64Ne,
	byte(wasm.OpcodeF64Lt): OpF64Lt,
	byte(wasm.OpcodeF64Gt): OpF64Gt,
	byte(wasm.OpcodeF64Le): OpF64Le,
	byte(wasm.OpcodeF64Ge): OpF64Ge,

	byte(wasm.OpcodeI32Clz):    OpI32Clz,
	byte(wasm.OpcodeI32Ctz):    OpI32Ctz,
	byte(wasm.OpcodeI32Popcnt): OpI32Popcnt,
	byte(wasm.OpcodeI32Add):    OpI32Add,
	byte(wasm.OpcodeI32Sub):    OpI32Sub,
	byte(wasm.OpcodeI32Mul):    OpI32Mul,
	byte(wasm.OpcodeI32DivS):   OpI32DivS,
	byte(wasm.OpcodeI32DivU):   OpI32DivU,
	byte(wasm.OpcodeI32RemS):   OpI32RemS,
	byte(wasm.OpcodeI32RemU):   OpI32RemU,
	byte(wasm.OpcodeI32And):    OpI32And,
	byte(wasm.OpcodeI32Or):     OpI32Or,
	byte(wasm.OpcodeI32Xor):    OpI32Xor,
	byte(wasm.OpcodeI32Shl):    OpI32Shl,
	byte(wasm.OpcodeI32ShrS):   OpI32ShrS,
	byte(wasm.OpcodeI32ShrU):   OpI32ShrU,
	byte(wasm.OpcodeI32Rotl):   OpI32Rotl,
	byte(wasm.OpcodeI32Rotr):   OpI32Rotr,

	byte(wasm.OpcodeI64Clz):    OpI64Clz,
	byte(wasm.OpcodeI64Ctz):    OpI64Ctz,
	byte(wasm.OpcodeI64Popcnt): OpI64Popcnt,
	byte(wasm.OpcodeI64Add):    OpI64Add,
	byte(wasm.OpcodeI64Sub):    OpI64Sub,
	byte(wasm.OpcodeI64Mul):    OpI64Mul,
	byte(wasm.OpcodeI64DivS):   OpI64DivS,
	byte(wasm.OpcodeI64DivU):   OpI64DivU,
	byte(wasm.OpcodeI64RemS):   OpI64RemS,
	byte(wasm.OpcodeI64RemU):   OpI64RemU,
	byte(wasm.OpcodeI64And):    OpI64And,
	byte(wasm.OpcodeI64Or):     OpI64Or,
	byte(wasm.OpcodeI64Xor):    OpI64Xor,
	byte(wasm.OpcodeI64Shl):    OpI64Shl,
	byte(wasm.OpcodeI64ShrS):   OpI64ShrS,
	byte(wasm.OpcodeI64ShrU):   OpI64ShrU,
	byte(wasm.OpcodeI64Rotl):   OpI64Rotl,
	byte(wasm.OpcodeI64Rotr):   OpI64Rotr,

	byte(wasm.OpcodeF32Abs):      OpF32Abs,
	byte(wasm.OpcodeF32Neg):      OpF32Neg,
	byte(wasm.OpcodeF32Ceil):     OpF32Ceil,
	byte(wasm.OpcodeF32Floor):    OpF32Floor,
	byte(wasm.OpcodeF32Trunc):    OpF32Trunc,
	byte(wasm.OpcodeF32Nearest):  OpF32Nearest,
	byte(wasm.OpcodeF32Sqrt):     OpF32Sqrt,
	byte(wasm.OpcodeF32Add):      OpF32Add,
	byte(wasm.OpcodeF32Sub):      OpF32Sub,
	byte(wasm.OpcodeF32Mul):      OpF32Mul,
	byte(wasm.OpcodeF32Div):      OpF32Div,
	byte(wasm.OpcodeF32Min):      OpF32Min,
	byte(wasm.OpcodeF32Max):      OpF32Max,
	byte(wasm.OpcodeF32Copysign): OpF32Copysign,

	byte(wasm.OpcodeF64Abs):      OpF64Abs,
	byte(wasm.OpcodeF64Neg):      OpF64Neg,
	byte(wasm.OpcodeF64Ceil):     OpF64Ceil,
	byte(wasm.OpcodeF64Floor):    OpF64Floor,
	byte(wasm.OpcodeF64Trunc):    OpF64Trunc,
	byte(wasm.OpcodeF64Nearest):  OpF64Nearest,
	byte(wasm.OpcodeF64Sqrt):     OpF64Sqrt,
	byte(wasm.OpcodeF64Add):      OpF64Add,
	byte(wasm.OpcodeF64Sub):      OpF64Sub,
	byte(wasm.OpcodeF64Mul):      OpF64Mul,
	byte(wasm.OpcodeF64Div):      OpF64Div,
	byte(wasm.OpcodeF64Min):      OpF64Min,
	byte(wasm.OpcodeF64Max):      OpF64Max,
	byte(wasm.OpcodeF64Copysign): OpF64Copysign,

	byte(wasm.OpcodeI32WrapI64):    OpI32WrapI64,
	byte(wasm.OpcodeI32TruncF32S):  OpI32TruncF32S,
	byte(wasm.OpcodeI32TruncF32U):  OpI32TruncF32U,
	byte(wasm.OpcodeI32TruncF64S):  OpI32TruncF64S,
	byte(wasm.OpcodeI32TruncF64U):  OpI32TruncF64U,
	byte(wasm.OpcodeI64ExtendI32S): OpI64ExtendI32S,
	byte(wasm.OpcodeI64ExtendI32U): OpI64ExtendI32U,
	byte(wasm.OpcodeI64TruncF32S):  OpI64TruncF32S,
	byte(wasm.OpcodeI64TruncF32U):  OpI64TruncF32U,
	byte(wasm.OpcodeI64TruncF64S):  OpI64TruncF64S,
	byte(wasm.OpcodeI64TruncF64U):  OpI64TruncF64U,

	byte(wasm.OpcodeF32ConvertI32S): OpF32ConvertI32S,
	byte(wasm.OpcodeF32ConvertI32U): OpF32ConvertI32U,
	byte(wasm.OpcodeF32ConvertI64S): OpF32ConvertI64S,
	byte(wasm.OpcodeF32ConvertI64U): OpF32ConvertI64U,
	byte(wasm.OpcodeF32DemoteF64):   OpF32DemoteF64,
	byte(wasm.OpcodeF64ConvertI32S): OpF64ConvertI32S,
	byte(wasm.OpcodeF64ConvertI32U): OpF64ConvertI32U,
	byte(wasm.OpcodeF64ConvertI64S): OpF64ConvertI64S,
	byte(wasm.OpcodeF64ConvertI64U): OpF64ConvertI64U,
	byte(wasm.OpcodeF64PromoteF32):  OpF64PromoteF32,

	byte(wasm.OpcodeI32ReinterpretF32): OpI32ReinterpretF32,
	byte(wasm.OpcodeI64ReinterpretF64): OpI64ReinterpretF64,
	byte(wasm.OpcodeF32ReinterpretI32): OpF32ReinterpretI32,
	byte(wasm.OpcodeF64ReinterpretI64): OpF64ReinterpretI64,

	byte(wasm.OpcodeI32Extend8S):  OpI32Extend8S,
	byte(wasm.OpcodeI32Extend16S): OpI32Extend16S,
	byte(wasm.OpcodeI64Extend8S):  OpI64Extend8S,
	byte(wasm.OpcodeI64Extend16S): OpI64Extend16S,
	byte(wasm.OpcodeI64Extend32S): OpI64Extend32S,
}
