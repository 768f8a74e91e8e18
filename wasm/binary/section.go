package binary

import (
	"github.com/kpio-os/wasmcore/wasm"
)

// capHint bounds slice preallocation: counts are attacker-controlled and
// must not drive allocation before their elements parse.
func capHint(count uint32) int {
	if count > 128 {
		return 128
	}
	return int(count)
}

func decodeTypeSection(r *Reader) ([]*wasm.FunctionType, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	types := make([]*wasm.FunctionType, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		ft, err := decodeFunctionType(r)
		if err != nil {
			return nil, err
		}
		types = append(types, ft)
	}
	return types, nil
}

func decodeFunctionType(r *Reader) (*wasm.FunctionType, error) {
	form, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if form != 0x60 {
		return nil, newByteError(KindInvalidValueType, r.AbsolutePosition()-1, form)
	}
	params, err := decodeValueTypes(r)
	if err != nil {
		return nil, err
	}
	results, err := decodeValueTypes(r)
	if err != nil {
		return nil, err
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func decodeValueTypes(r *Reader) ([]wasm.ValueType, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	types := make([]wasm.ValueType, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		vt, err := decodeValueType(r)
		if err != nil {
			return nil, err
		}
		types = append(types, vt)
	}
	return types, nil
}

func decodeValueType(r *Reader) (wasm.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
		wasm.ValueTypeV128, wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return b, nil
	}
	return 0, newByteError(KindInvalidValueType, r.AbsolutePosition()-1, b)
}

func decodeImportSection(r *Reader) ([]*wasm.Import, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	imports := make([]*wasm.Import, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		imp := &wasm.Import{Module: module, Name: name, Type: kind}
		switch kind {
		case wasm.ExternTypeFunc:
			if imp.DescFunc, err = r.ReadLeb128U32(); err != nil {
				return nil, err
			}
		case wasm.ExternTypeTable:
			if imp.DescTable, err = decodeTableType(r); err != nil {
				return nil, err
			}
		case wasm.ExternTypeMemory:
			if imp.DescMem, err = decodeMemoryType(r); err != nil {
				return nil, err
			}
		case wasm.ExternTypeGlobal:
			if imp.DescGlobal, err = decodeGlobalType(r); err != nil {
				return nil, err
			}
		default:
			return nil, newByteError(KindInvalidImportKind, r.AbsolutePosition()-1, kind)
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

func decodeFunctionSection(r *Reader) ([]wasm.Index, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	indices := make([]wasm.Index, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func decodeTableSection(r *Reader) ([]*wasm.TableType, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	tables := make([]*wasm.TableType, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		tt, err := decodeTableType(r)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tt)
	}
	return tables, nil
}

func decodeTableType(r *Reader) (*wasm.TableType, error) {
	elemType, err := decodeValueType(r)
	if err != nil {
		return nil, err
	}
	min, max, _, err := decodeLimits(r)
	if err != nil {
		return nil, err
	}
	return &wasm.TableType{ElemType: elemType, Min: min, Max: max}, nil
}

func decodeMemorySection(r *Reader) ([]*wasm.MemoryType, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	memories := make([]*wasm.MemoryType, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		mt, err := decodeMemoryType(r)
		if err != nil {
			return nil, err
		}
		memories = append(memories, mt)
	}
	return memories, nil
}

func decodeMemoryType(r *Reader) (*wasm.MemoryType, error) {
	min, max, shared, err := decodeLimits(r)
	if err != nil {
		return nil, err
	}
	if shared && max == nil {
		return nil, newError(KindInvalidValueType, r.AbsolutePosition())
	}
	return &wasm.MemoryType{Min: min, Max: max, Shared: shared}, nil
}

// decodeLimits reads (flags, min, ?max). Flag bit 0x01 means max present,
// bit 0x02 means shared.
func decodeLimits(r *Reader) (min uint32, max *uint32, shared bool, err error) {
	flags, err := r.ReadByte()
	if err != nil {
		return 0, nil, false, err
	}
	if min, err = r.ReadLeb128U32(); err != nil {
		return 0, nil, false, err
	}
	if flags&0x01 != 0 {
		m, err := r.ReadLeb128U32()
		if err != nil {
			return 0, nil, false, err
		}
		max = &m
	}
	return min, max, flags&0x02 != 0, nil
}

func decodeGlobalSection(r *Reader) ([]*wasm.Global, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	globals := make([]*wasm.Global, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, err
		}
		init, err := decodeConstantExpression(r)
		if err != nil {
			return nil, err
		}
		globals = append(globals, &wasm.Global{Type: gt, Init: init})
	}
	return globals, nil
}

func decodeGlobalType(r *Reader) (*wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return nil, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if mut > 1 {
		return nil, newByteError(KindInvalidValueType, r.AbsolutePosition()-1, mut)
	}
	return &wasm.GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func decodeExportSection(r *Reader) ([]*wasm.Export, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	exports := make([]*wasm.Export, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if kind > wasm.ExternTypeGlobal {
			return nil, newByteError(KindInvalidExportKind, r.AbsolutePosition()-1, kind)
		}
		idx, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		exports = append(exports, &wasm.Export{Name: name, Type: kind, Index: idx})
	}
	return exports, nil
}

func decodeElementSection(r *Reader) ([]*wasm.ElementSegment, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	segments := make([]*wasm.ElementSegment, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		flagsOffset := r.AbsolutePosition()
		flags, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		seg := &wasm.ElementSegment{}
		switch flags {
		case 0: // active, table 0, offset expression
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		case 1: // passive, element-kind byte
			if _, err = r.ReadByte(); err != nil {
				return nil, err
			}
			seg.Passive = true
		case 2: // active with explicit table index
			if seg.TableIndex, err = r.ReadLeb128U32(); err != nil {
				return nil, err
			}
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
			if _, err = r.ReadByte(); err != nil {
				return nil, err
			}
		default:
			return nil, newByteError(KindUnsupportedSegmentFlavor, flagsOffset, byte(flags))
		}
		n, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		seg.Init = make([]wasm.Index, 0, capHint(n))
		for j := uint32(0); j < n; j++ {
			idx, err := r.ReadLeb128U32()
			if err != nil {
				return nil, err
			}
			seg.Init = append(seg.Init, idx)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func decodeCodeSection(r *Reader) ([]*wasm.Code, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	bodies := make([]*wasm.Code, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		c, err := decodeCode(r)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, c)
	}
	return bodies, nil
}

func decodeCode(r *Reader) (*wasm.Code, error) {
	bodySize, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	bodyStart := r.Position()
	if int(bodySize) > r.Remaining() {
		return nil, newError(KindSectionSizeExceedsInput, r.AbsolutePosition())
	}

	declCount, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	var localTypes []wasm.ValueType
	for i := uint32(0); i < declCount; i++ {
		n, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		vt, err := decodeValueType(r)
		if err != nil {
			return nil, err
		}
		// Guard against a bogus count exploding the expansion.
		if uint64(len(localTypes))+uint64(n) > uint64(bodySize)*8+8 {
			return nil, newError(KindSectionSizeExceedsInput, r.AbsolutePosition())
		}
		for j := uint32(0); j < n; j++ {
			localTypes = append(localTypes, vt)
		}
	}

	exprLen := int(bodySize) - (r.Position() - bodyStart)
	if exprLen < 0 {
		return nil, newError(KindSectionSizeExceedsInput, r.AbsolutePosition())
	}
	er, err := r.SubReader(r.Position(), exprLen)
	if err != nil {
		return nil, err
	}
	if err := r.Skip(exprLen); err != nil {
		return nil, err
	}
	body, err := decodeExpression(er)
	if err != nil {
		return nil, err
	}
	return &wasm.Code{
		LocalTypes: localTypes,
		Body:       body,
		BodyBytes:  er.window(0, len(er.data)),
	}, nil
}

func decodeDataSection(r *Reader) ([]*wasm.DataSegment, error) {
	count, err := r.ReadLeb128U32()
	if err != nil {
		return nil, err
	}
	segments := make([]*wasm.DataSegment, 0, capHint(count))
	for i := uint32(0); i < count; i++ {
		flagsOffset := r.AbsolutePosition()
		flags, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		seg := &wasm.DataSegment{}
		switch flags {
		case 0: // active, memory 0
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		case 1: // passive
			seg.Passive = true
		case 2: // active with explicit memory index
			if seg.MemoryIndex, err = r.ReadLeb128U32(); err != nil {
				return nil, err
			}
			if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
				return nil, err
			}
		default:
			return nil, newByteError(KindUnsupportedSegmentFlavor, flagsOffset, byte(flags))
		}
		n, err := r.ReadLeb128U32()
		if err != nil {
			return nil, err
		}
		data, err := r.ReadBytes(int(n))
		if err != nil {
			return nil, err
		}
		seg.Init = data
		segments = append(segments, seg)
	}
	return segments, nil
}

// decodeConstantExpression reads a single-instruction init expression
// terminated by end, capturing the raw immediate bytes.
func decodeConstantExpression(r *Reader) (*wasm.ConstantExpression, error) {
	opOffset := r.AbsolutePosition()
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var op wasm.Opcode
	dataStart := r.Position()
	switch wasm.Opcode(b) {
	case wasm.OpcodeI32Const:
		op = wasm.OpcodeI32Const
		if _, err = r.ReadLeb128I32(); err != nil {
			return nil, err
		}
	case wasm.OpcodeI64Const:
		op = wasm.OpcodeI64Const
		if _, err = r.ReadLeb128I64(); err != nil {
			return nil, err
		}
	case wasm.OpcodeF32Const:
		op = wasm.OpcodeF32Const
		if _, err = r.ReadBytes(4); err != nil {
			return nil, err
		}
	case wasm.OpcodeF64Const:
		op = wasm.OpcodeF64Const
		if _, err = r.ReadBytes(8); err != nil {
			return nil, err
		}
	case wasm.OpcodeGlobalGet:
		op = wasm.OpcodeGlobalGet
		if _, err = r.ReadLeb128U32(); err != nil {
			return nil, err
		}
	case wasm.OpcodeRefNull:
		op = wasm.OpcodeRefNull
		if _, err = r.ReadByte(); err != nil { // heap type
			return nil, err
		}
		dataStart = r.Position()
	case wasm.OpcodeRefFunc:
		op = wasm.OpcodeRefFunc
		if _, err = r.ReadLeb128U32(); err != nil {
			return nil, err
		}
	default:
		return nil, newByteError(KindInvalidConstExpression, opOffset, b)
	}
	data := r.window(dataStart, r.Position())
	end, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if wasm.Opcode(end) != wasm.OpcodeEnd {
		return nil, newByteError(KindInvalidConstExpression, r.AbsolutePosition()-1, end)
	}
	return &wasm.ConstantExpression{Opcode: op, Data: data}, nil
}
