package wasm

import (
	"fmt"
)

// Module is a parsed WebAssembly program. It is immutable after decoding:
// instantiation copies everything mutable into an ExecutorContext.
//
// Fields mirror the binary sections. Function index space counts imported
// functions first, then FunctionSection entries; CodeSection is index-
// correlated with FunctionSection.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment
	DataCountSection *uint32

	// ModuleName comes from subsection 0 of the "name" custom section, when
	// present.
	ModuleName string
}

// ImportedFunctionCount returns how many entries of the function index
// space are imports.
func (m *Module) ImportedFunctionCount() uint32 {
	var n uint32
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			n++
		}
	}
	return n
}

// ImportedGlobalCount returns how many entries of the global index space
// are imports.
func (m *Module) ImportedGlobalCount() uint32 {
	var n uint32
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeGlobal {
			n++
		}
	}
	return n
}

// FunctionCount returns the size of the function index space.
func (m *Module) FunctionCount() uint32 {
	return m.ImportedFunctionCount() + uint32(len(m.FunctionSection))
}

// FunctionTypeOf resolves the signature of a function index, imports
// included.
func (m *Module) FunctionTypeOf(idx Index) (*FunctionType, error) {
	imported := m.ImportedFunctionCount()
	if idx < imported {
		var n uint32
		for _, imp := range m.ImportSection {
			if imp.Type != ExternTypeFunc {
				continue
			}
			if n == idx {
				if int(imp.DescFunc) >= len(m.TypeSection) {
					return nil, fmt.Errorf("import func[%d]: type index %d out of range", idx, imp.DescFunc)
				}
				return m.TypeSection[imp.DescFunc], nil
			}
			n++
		}
	}
	defined := idx - imported
	if int(defined) >= len(m.FunctionSection) {
		return nil, fmt.Errorf("function index %d out of range", idx)
	}
	typeIdx := m.FunctionSection[defined]
	if int(typeIdx) >= len(m.TypeSection) {
		return nil, fmt.Errorf("func[%d]: type index %d out of range", idx, typeIdx)
	}
	return m.TypeSection[typeIdx], nil
}

// Validate enforces the structural invariants that must hold before a
// module may be translated or instantiated. Parsing guarantees shape;
// this guarantees cross-section consistency.
func (m *Module) Validate() error {
	if len(m.FunctionSection) != len(m.CodeSection) {
		return fmt.Errorf("function and code section length mismatch: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	for i, typeIdx := range m.FunctionSection {
		if int(typeIdx) >= len(m.TypeSection) {
			return fmt.Errorf("func[%d]: type index %d out of range", i, typeIdx)
		}
	}
	for i, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc && int(imp.DescFunc) >= len(m.TypeSection) {
			return fmt.Errorf("import[%d]: type index %d out of range", i, imp.DescFunc)
		}
	}
	if err := m.validateLimits(); err != nil {
		return err
	}
	if err := m.validateInitExpressions(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	funcCount := m.FunctionCount()
	for i, c := range m.CodeSection {
		sig := m.TypeSection[m.FunctionSection[i]]
		if err := m.validateBody(sig, c, funcCount); err != nil {
			return fmt.Errorf("func[%d]: %w", m.ImportedFunctionCount()+uint32(i), err)
		}
	}
	for i, e := range m.ElementSection {
		if int(e.TableIndex) >= len(m.TableSection) && !e.Passive {
			return fmt.Errorf("element[%d]: table index %d out of range", i, e.TableIndex)
		}
		for _, fidx := range e.Init {
			if fidx >= funcCount {
				return fmt.Errorf("element[%d]: function index %d out of range", i, fidx)
			}
		}
	}
	for i, d := range m.DataSection {
		if !d.Passive && d.MemoryIndex != 0 {
			return fmt.Errorf("data[%d]: memory index %d out of range", i, d.MemoryIndex)
		}
	}
	if m.DataCountSection != nil && int(*m.DataCountSection) != len(m.DataSection) {
		return fmt.Errorf("data count section %d does not match data section length %d",
			*m.DataCountSection, len(m.DataSection))
	}
	return nil
}

func (m *Module) validateLimits() error {
	check := func(what string, min uint32, max *uint32, ceil uint32) error {
		if min > ceil {
			return fmt.Errorf("%s: min %d exceeds limit %d", what, min, ceil)
		}
		if max != nil {
			if *max > ceil {
				return fmt.Errorf("%s: max %d exceeds limit %d", what, *max, ceil)
			}
			if min > *max {
				return fmt.Errorf("%s: min %d exceeds max %d", what, min, *max)
			}
		}
		return nil
	}
	for i, mem := range m.MemorySection {
		if err := check(fmt.Sprintf("memory[%d]", i), mem.Min, mem.Max, MemoryLimitPages); err != nil {
			return err
		}
		if mem.Shared && mem.Max == nil {
			return fmt.Errorf("memory[%d]: shared memory requires a max", i)
		}
	}
	for i, t := range m.TableSection {
		if err := check(fmt.Sprintf("table[%d]", i), t.Min, t.Max, 1<<27); err != nil {
			return err
		}
	}
	return nil
}

// validateInitExpressions enforces the constant-expression restriction:
// only constants, ref.null, ref.func, and global.get of an imported
// immutable global.
func (m *Module) validateInitExpressions() error {
	importedGlobals := make([]*GlobalType, 0, len(m.ImportSection))
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeGlobal {
			importedGlobals = append(importedGlobals, imp.DescGlobal)
		}
	}
	checkExpr := func(what string, expr *ConstantExpression) error {
		if expr == nil {
			return nil
		}
		switch expr.Opcode {
		case OpcodeI32Const, OpcodeI64Const, OpcodeF32Const, OpcodeF64Const,
			OpcodeRefNull, OpcodeRefFunc:
			return nil
		case OpcodeGlobalGet:
			idx, err := decodeGlobalGetIndex(expr.Data)
			if err != nil {
				return fmt.Errorf("%s: %w", what, err)
			}
			if int(idx) >= len(importedGlobals) {
				return fmt.Errorf("%s: global.get %d does not reference an imported global", what, idx)
			}
			if importedGlobals[idx].Mutable {
				return fmt.Errorf("%s: global.get %d references a mutable global", what, idx)
			}
			return nil
		}
		return fmt.Errorf("%s: opcode %s is not constant", what, InstructionName(expr.Opcode))
	}
	for i, g := range m.GlobalSection {
		if err := checkExpr(fmt.Sprintf("global[%d]", i), g.Init); err != nil {
			return err
		}
	}
	for i, e := range m.ElementSection {
		if err := checkExpr(fmt.Sprintf("element[%d] offset", i), e.OffsetExpr); err != nil {
			return err
		}
	}
	for i, d := range m.DataSection {
		if err := checkExpr(fmt.Sprintf("data[%d] offset", i), d.OffsetExpr); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	funcCount := m.FunctionCount()
	seen := make(map[string]struct{}, len(m.ExportSection))
	for i, e := range m.ExportSection {
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("export[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}
		switch e.Type {
		case ExternTypeFunc:
			if e.Index >= funcCount {
				return fmt.Errorf("export[%d] %q: function index %d out of range", i, e.Name, e.Index)
			}
		case ExternTypeTable:
			if int(e.Index) >= len(m.TableSection) {
				return fmt.Errorf("export[%d] %q: table index %d out of range", i, e.Name, e.Index)
			}
		case ExternTypeMemory:
			if int(e.Index) >= len(m.MemorySection) {
				return fmt.Errorf("export[%d] %q: memory index %d out of range", i, e.Name, e.Index)
			}
		case ExternTypeGlobal:
			if e.Index >= m.ImportedGlobalCount()+uint32(len(m.GlobalSection)) {
				return fmt.Errorf("export[%d] %q: global index %d out of range", i, e.Name, e.Index)
			}
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.StartSection == nil {
		return nil
	}
	sig, err := m.FunctionTypeOf(*m.StartSection)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if len(sig.Params) != 0 || len(sig.Results) != 0 {
		return fmt.Errorf("start function %d must have an empty signature", *m.StartSection)
	}
	return nil
}

// validateBody checks the per-instruction invariants: local indices, call
// targets, and branch depths.
func (m *Module) validateBody(sig *FunctionType, c *Code, funcCount uint32) error {
	localCount := uint32(len(sig.Params) + len(c.LocalTypes))
	// The implicit function block counts as nesting level 1.
	depth := 1
	for _, ins := range c.Body {
		switch ins.Opcode {
		case OpcodeBlock, OpcodeLoop, OpcodeIf:
			depth++
		case OpcodeEnd:
			depth--
		case OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee:
			if uint32(ins.U1) >= localCount {
				return fmt.Errorf("%s: local index %d out of range (%d locals)",
					InstructionName(ins.Opcode), ins.U1, localCount)
			}
		case OpcodeCall:
			if uint32(ins.U1) >= funcCount {
				return fmt.Errorf("call: function index %d out of range", ins.U1)
			}
		case OpcodeCallIndirect:
			if int(ins.U1) >= len(m.TypeSection) {
				return fmt.Errorf("call_indirect: type index %d out of range", ins.U1)
			}
			if int(ins.U2) >= len(m.TableSection) {
				return fmt.Errorf("call_indirect: table index %d out of range", ins.U2)
			}
		case OpcodeBr, OpcodeBrIf:
			if int(ins.U1) >= depth {
				return fmt.Errorf("%s: depth %d exceeds block nesting %d",
					InstructionName(ins.Opcode), ins.U1, depth)
			}
		case OpcodeBrTable:
			for _, target := range ins.Targets {
				if int(target) >= depth {
					return fmt.Errorf("br_table: depth %d exceeds block nesting %d", target, depth)
				}
			}
			if int(ins.U1) >= depth {
				return fmt.Errorf("br_table: default depth %d exceeds block nesting %d", ins.U1, depth)
			}
		}
		if depth < 0 {
			return fmt.Errorf("unbalanced end at offset %d", ins.Offset)
		}
	}
	return nil
}

// decodeGlobalGetIndex reads the LEB128 global index from a global.get
// constant expression payload.
func decodeGlobalGetIndex(data []byte) (Index, error) {
	var result uint32
	var shift uint
	for i, b := range data {
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if i == 4 {
			break
		}
	}
	return 0, fmt.Errorf("malformed global index")
}
