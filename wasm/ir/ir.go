// Package ir defines the typed intermediate representation produced from
// WebAssembly function bodies, the translator that emits it, and a
// reference interpreter over it.
//
// The IR differs from the flat bytecode in two ways: operations are
// grouped by type-specialized semantic family (I32DivS vs I64DivS are
// distinct opcodes rather than one byte re-read in context), and
// structured control carries resolvable block identifiers. It is the
// input contract of the native-code emitter and of both interpreters.
package ir

import (
	"github.com/kpio-os/wasmcore/wasm"
)

// Opcode is a typed IR operation.
type Opcode uint16

const (
	// Constants. Imm holds the value: sign-extended for Const32, the raw
	// bit pattern for the float variants.

	OpConst32 Opcode = iota
	OpConst64
	OpConstF32
	OpConstF64

	// Locals and globals. Imm is the index.

	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	// Memory access. Imm is the static offset; the alignment hint is
	// discarded at translation. Loads widen into the 64-bit slot with the
	// signedness their name says; Load32 sign-extends (it carries i32 and
	// f32 values, whose consumers only read the low half).

	OpLoad32
	OpLoad64
	OpLoad8S
	OpLoad8U
	OpLoad16S
	OpLoad16U
	OpLoad32S
	OpLoad32U
	OpStore8
	OpStore16
	OpStore32
	OpStore64

	// i32 arithmetic.

	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr
	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Eqz

	// i64 arithmetic.

	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr
	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Eqz

	// f32 arithmetic.

	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Sqrt
	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Min
	OpF32Max
	OpF32Copysign

	// f64 arithmetic.

	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Sqrt
	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Min
	OpF64Max
	OpF64Copysign

	// i32 comparisons.

	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU

	// i64 comparisons.

	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU

	// f32 comparisons.

	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge

	// f64 comparisons.

	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	// Conversions.

	OpI32WrapI64
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF32DemoteF64
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64
	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S

	// Saturating truncations: clamp instead of trapping.

	OpI32TruncSatF32S
	OpI32TruncSatF32U
	OpI32TruncSatF64S
	OpI32TruncSatF64U
	OpI64TruncSatF32S
	OpI64TruncSatF32U
	OpI64TruncSatF64S
	OpI64TruncSatF64U

	// Control flow. Block/Loop/If carry a BlockID in Imm; Br/BrIf carry a
	// depth; BrTable carries an index into Function.BranchTables.

	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpUnreachable

	// Calls. Call carries the function index; CallIndirect packs the type
	// index in the low half of Imm and the table index in the high half.

	OpCall
	OpCallIndirect

	// Stack operations.

	OpDrop
	OpSelect

	// Memory size management.

	OpMemorySize
	OpMemoryGrow

	// Reference types.

	OpRefNull
	OpRefIsNull
	OpRefFunc

	// Bulk memory and table operations (0xFC group). Two-index forms pack
	// (first | second<<32) into Imm.

	OpMemoryInit
	OpDataDrop
	OpMemoryCopy
	OpMemoryFill
	OpTableInit
	OpElemDrop
	OpTableCopy
	OpTableGrow
	OpTableSize
	OpTableFill
	OpTableGet
	OpTableSet
)

// BlockID identifies one structured control region within a function.
type BlockID uint32

// BlockKind says how a region was opened.
type BlockKind uint8

const (
	BlockKindBlock BlockKind = iota
	BlockKindLoop
	BlockKindIf
)

// BlockInfo records where a region starts and ends in the source bytes.
type BlockInfo struct {
	Kind        BlockKind
	StartOffset uint32
	EndOffset   uint32
}

// Instruction is one IR operation with its immediate and the byte offset
// of the source instruction, for diagnostics and map-back.
type Instruction struct {
	Op     Opcode
	Imm    uint64
	Offset uint32
}

// PackIndices packs two u32 immediates into one Imm.
func PackIndices(first, second uint32) uint64 {
	return uint64(first) | uint64(second)<<32
}

// UnpackIndices splits an Imm packed by PackIndices.
func UnpackIndices(imm uint64) (first, second uint32) {
	return uint32(imm), uint32(imm >> 32)
}

// Function is one translated function body.
type Function struct {
	// Index is the function's position in the module index space.
	Index uint32

	Params  []wasm.ValueType
	Results []wasm.ValueType
	// Locals are the declared locals, expanded, excluding params.
	Locals []wasm.ValueType

	Body []Instruction

	// BranchTables holds interned br_table target vectors; the last entry
	// of each is the default depth.
	BranchTables [][]uint32

	// Blocks maps every allocated BlockID to its region info.
	Blocks map[BlockID]*BlockInfo
}

// TotalLocals is the local slot count: params plus declared locals.
func (f *Function) TotalLocals() int {
	return len(f.Params) + len(f.Locals)
}

// AddBranchTable interns a target vector and returns its index.
func (f *Function) AddBranchTable(targets []uint32) uint32 {
	f.BranchTables = append(f.BranchTables, targets)
	return uint32(len(f.BranchTables) - 1)
}
