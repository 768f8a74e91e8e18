package wasm

import (
	"fmt"
	"strings"
)

// Index is an index into one of the module index spaces. Function indices
// count imports first, then module-defined functions.
type Index = uint32

// ValueType describes a parameter, result, local, global or table element
// type. The byte values are the ones used in the binary format.
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the type name as it appears in the text format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// ExternType classifies imports and exports.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the name used in error messages, e.g. "func".
func ExternTypeName(t ExternType) string {
	switch t {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("0x%x", t)
}

// FunctionType is a function signature.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType

	// string is a cache of String, which is used for type identity checks.
	string string
}

// String returns a unique textual representation, e.g. "i32i64_f64". Two
// types with the same String are the same type.
func (f *FunctionType) String() string {
	if f.string != "" {
		return f.string
	}
	var sb strings.Builder
	for _, t := range f.Params {
		sb.WriteString(ValueTypeName(t))
	}
	sb.WriteByte('_')
	for _, t := range f.Results {
		sb.WriteString(ValueTypeName(t))
	}
	f.string = sb.String()
	return f.string
}

// EqualsSignature reports whether the type has exactly these params and
// results.
func (f *FunctionType) EqualsSignature(params, results []ValueType) bool {
	if len(f.Params) != len(params) || len(f.Results) != len(results) {
		return false
	}
	for i := range params {
		if f.Params[i] != params[i] {
			return false
		}
	}
	for i := range results {
		if f.Results[i] != results[i] {
			return false
		}
	}
	return true
}

// TableType describes a table: its element reference type and limits.
type TableType struct {
	ElemType ValueType
	Min      uint32
	Max      *uint32
}

// MemoryType describes a linear memory in units of 64 KiB pages.
type MemoryType struct {
	Min    uint32
	Max    *uint32
	Shared bool
}

// GlobalType pairs a value type with mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a module-defined global with its initialization expression.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is an init expression: a single constant instruction
// terminated by end. Data holds the undecoded immediate bytes.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Import targets a (module, name) pair; exactly one Desc field is set
// according to Type.
type Import struct {
	Module string
	Name   string
	Type   ExternType

	DescFunc   Index
	DescTable  *TableType
	DescMem    *MemoryType
	DescGlobal *GlobalType
}

// Export publishes an index under a name.
type Export struct {
	Name  string
	Type  ExternType
	Index Index
}

// Code is one function body: its expanded local types, the decoded flat
// instruction sequence, and the raw expression bytes the IR translator
// re-reads.
type Code struct {
	LocalTypes []ValueType
	Body       []Instruction
	BodyBytes  []byte
}

// ElementSegment initializes a table region (active) or provides function
// references for table.init (passive).
type ElementSegment struct {
	TableIndex Index
	// OffsetExpr is nil for passive segments.
	OffsetExpr *ConstantExpression
	Init       []Index
	Passive    bool
}

// DataSegment initializes a memory region (active) or provides bytes for
// memory.init (passive).
type DataSegment struct {
	MemoryIndex Index
	// OffsetExpr is nil for passive segments.
	OffsetExpr *ConstantExpression
	Init       []byte
	Passive    bool
}
