package wasm

import (
	"bytes"
	"fmt"
	"math"

	"github.com/kpio-os/wasmcore/internal/ieee754"
	"github.com/kpio-os/wasmcore/internal/sys"
	"github.com/kpio-os/wasmcore/wasm/leb128"
)

// FunctionKind says how a function instance is invoked.
type FunctionKind byte

const (
	// FunctionKindWasm runs a decoded body on the engine.
	FunctionKindWasm FunctionKind = iota
	// FunctionKindHost calls through to a Go function.
	FunctionKindHost
)

// HostFunc is the Go shape of a host function: typed arguments arrive as
// 64-bit slots in signature order; results return the same way. Errors are
// reserved for traps (proc_exit and host bugs); recoverable conditions are
// returned to the guest as values.
type HostFunc func(ctx *ExecutorContext, params []uint64) ([]uint64, error)

// HostFunction is a named host function with its WASM-visible signature.
type HostFunction struct {
	Name    string
	Params  []ValueType
	Results []ValueType
	Fn      HostFunc
}

// HostGlobal is an importable immutable global.
type HostGlobal struct {
	Type *GlobalType
	Val  uint64
}

// HostModule is a bundle of importable host objects under one module name.
type HostModule struct {
	Functions map[string]*HostFunction
	Globals   map[string]*HostGlobal
}

// Imports resolves import module names to host modules.
type Imports map[string]*HostModule

// FunctionInstance is one callable function of an instance: either a
// module-defined body or a host function.
type FunctionInstance struct {
	Kind       FunctionKind
	Type       *FunctionType
	LocalTypes []ValueType
	Body       []Instruction
	BodyBytes  []byte
	GoFunc     HostFunc

	// Idx is this function's position in the instance's function index
	// space, imports first.
	Idx Index

	// DebugName augments error messages, e.g. "wasi_snapshot_preview1.fd_write".
	DebugName string
}

// GlobalInstance is a typed mutable cell holding a 64-bit representation
// of the value.
type GlobalInstance struct {
	Type *GlobalType
	Val  uint64
}

// Table references are encoded as 0 for null and 1+funcIdx otherwise, so a
// zeroed table is all-null.
type Reference = uint64

// FuncRefValue encodes a function index as a table reference.
func FuncRefValue(idx Index) Reference { return uint64(idx) + 1 }

// TableInstance is a resizable vector of function references.
type TableInstance struct {
	Refs []Reference
	Min  uint32
	Max  *uint32
}

// Grow appends delta copies of initial, returning the previous length, or
// false when the result would exceed the declared max or 1<<27 entries.
func (t *TableInstance) Grow(delta uint32, initial Reference) (prev uint32, ok bool) {
	prev = uint32(len(t.Refs))
	newLen := uint64(prev) + uint64(delta)
	if t.Max != nil && newLen > uint64(*t.Max) {
		return 0, false
	}
	if newLen > 1<<27 {
		return 0, false
	}
	for i := uint32(0); i < delta; i++ {
		t.Refs = append(t.Refs, initial)
	}
	return prev, true
}

// Engine executes function instances against an ExecutorContext. The
// interpreter engine is the in-tree implementation; a native backend would
// satisfy the same interface.
type Engine interface {
	// CompileModule prepares every body of m for execution.
	CompileModule(m *Module) error
	// Call invokes f with params, returning result slots or a trap.
	Call(ctx *ExecutorContext, f *FunctionInstance, params []uint64) ([]uint64, error)
}

// ExecutorContext is the stateful realization of a module: its memories,
// globals, tables, passive segments, captured stdio, and WASI state. It is
// single-threaded; nothing here is safe for concurrent use.
type ExecutorContext struct {
	Module *Module

	Functions []*FunctionInstance
	Globals   []*GlobalInstance
	Memories  []*MemoryInstance
	Tables    []*TableInstance

	// DataInstances holds passive data segment bytes for memory.init; a
	// dropped segment becomes nil.
	DataInstances [][]byte

	// ElementInstances holds passive element segments as references for
	// table.init; a dropped segment becomes nil.
	ElementInstances [][]Reference

	exports map[string]*Export

	// Stdout and Stderr capture everything the guest writes to fds 1 and 2,
	// independent of where the WASI context routes it.
	Stdout, Stderr []byte

	// Sys is the WASI context passed to Instantiate; nil when none was
	// passed.
	Sys *sys.Context

	engine Engine
	closed bool
}

// Memory returns linear memory 0, or nil when the module has none.
func (ctx *ExecutorContext) Memory() *MemoryInstance {
	if len(ctx.Memories) == 0 {
		return nil
	}
	return ctx.Memories[0]
}

// Close tears the instance down. Further guest calls fail.
func (ctx *ExecutorContext) Close() {
	ctx.closed = true
}

// Closed reports whether the instance was torn down or trapped.
func (ctx *ExecutorContext) Closed() bool { return ctx.closed }

// CallExport invokes an exported function by name.
func (ctx *ExecutorContext) CallExport(name string, params ...uint64) ([]uint64, error) {
	if ctx.closed {
		return nil, fmt.Errorf("module instance is closed")
	}
	exp, ok := ctx.exports[name]
	if !ok || exp.Type != ExternTypeFunc {
		return nil, fmt.Errorf("%q is not an exported function", name)
	}
	f := ctx.Functions[exp.Index]
	if len(params) != len(f.Type.Params) {
		return nil, fmt.Errorf("%q expects %d params, got %d", name, len(f.Type.Params), len(params))
	}
	results, err := ctx.engine.Call(ctx, f, params)
	if err != nil {
		// A trap leaves the instance in a defined but unspecified state: it
		// must not be reused.
		ctx.closed = true
		return nil, err
	}
	return results, nil
}

// ExportedFunction looks up an exported function instance.
func (ctx *ExecutorContext) ExportedFunction(name string) (*FunctionInstance, bool) {
	exp, ok := ctx.exports[name]
	if !ok || exp.Type != ExternTypeFunc {
		return nil, false
	}
	return ctx.Functions[exp.Index], true
}

// Instantiate realizes a module: imports are resolved, globals are
// initialized, memories are sized and data copied in, tables are sized and
// elements applied, then the start function (if any) runs.
func Instantiate(module *Module, imports Imports, sysCtx *sys.Context, engine Engine) (*ExecutorContext, error) {
	if err := module.Validate(); err != nil {
		return nil, fmt.Errorf("invalid module: %w", err)
	}
	if err := engine.CompileModule(module); err != nil {
		return nil, fmt.Errorf("compilation failed: %w", err)
	}

	ctx := &ExecutorContext{
		Module:  module,
		exports: map[string]*Export{},
		Sys:     sysCtx,
		engine:  engine,
	}

	importedFuncs, importedGlobals, err := resolveImports(module, imports)
	if err != nil {
		return nil, err
	}
	ctx.Functions = importedFuncs
	ctx.Globals = importedGlobals

	// Defined globals, initialized against the imported globals only.
	for i, g := range module.GlobalSection {
		val, err := evalConstExpr(g.Init, importedGlobals)
		if err != nil {
			return nil, fmt.Errorf("global[%d]: %w", i, err)
		}
		ctx.Globals = append(ctx.Globals, &GlobalInstance{Type: g.Type, Val: val})
	}

	// Defined functions follow imports in the index space.
	importedCount := uint32(len(importedFuncs))
	for i, typeIdx := range module.FunctionSection {
		code := module.CodeSection[i]
		ctx.Functions = append(ctx.Functions, &FunctionInstance{
			Kind:       FunctionKindWasm,
			Type:       module.TypeSection[typeIdx],
			LocalTypes: code.LocalTypes,
			Body:       code.Body,
			BodyBytes:  code.BodyBytes,
			Idx:        importedCount + uint32(i),
		})
	}

	for _, mt := range module.MemorySection {
		ctx.Memories = append(ctx.Memories, NewMemoryInstance(mt))
	}
	if err := ctx.applyData(module.DataSection); err != nil {
		return nil, err
	}

	for _, tt := range module.TableSection {
		ctx.Tables = append(ctx.Tables, &TableInstance{
			Refs: make([]Reference, tt.Min),
			Min:  tt.Min,
			Max:  tt.Max,
		})
	}
	if err := ctx.applyElements(module.ElementSection); err != nil {
		return nil, err
	}

	for _, exp := range module.ExportSection {
		ctx.exports[exp.Name] = exp
	}

	if module.StartSection != nil {
		f := ctx.Functions[*module.StartSection]
		if _, err := engine.Call(ctx, f, nil); err != nil {
			return nil, fmt.Errorf("start function failed: %w", err)
		}
	}
	return ctx, nil
}

func resolveImports(module *Module, imports Imports) ([]*FunctionInstance, []*GlobalInstance, error) {
	var funcs []*FunctionInstance
	var globals []*GlobalInstance
	for idx, imp := range module.ImportSection {
		hm := imports[imp.Module]
		if hm == nil {
			return nil, nil, fmt.Errorf("import[%d]: module %q not provided", idx, imp.Module)
		}
		switch imp.Type {
		case ExternTypeFunc:
			hf := hm.Functions[imp.Name]
			if hf == nil {
				return nil, nil, fmt.Errorf("import[%d]: %q.%q is not exported", idx, imp.Module, imp.Name)
			}
			expected := module.TypeSection[imp.DescFunc]
			if !expected.EqualsSignature(hf.Params, hf.Results) {
				return nil, nil, fmt.Errorf("import[%d] %q.%q: signature mismatch", idx, imp.Module, imp.Name)
			}
			funcs = append(funcs, &FunctionInstance{
				Kind:      FunctionKindHost,
				Type:      expected,
				GoFunc:    hf.Fn,
				Idx:       uint32(len(funcs)),
				DebugName: imp.Module + "." + imp.Name,
			})
		case ExternTypeGlobal:
			hg := hm.Globals[imp.Name]
			if hg == nil {
				return nil, nil, fmt.Errorf("import[%d]: %q.%q is not exported", idx, imp.Module, imp.Name)
			}
			if hg.Type.ValType != imp.DescGlobal.ValType || hg.Type.Mutable != imp.DescGlobal.Mutable {
				return nil, nil, fmt.Errorf("import[%d] %q.%q: global type mismatch", idx, imp.Module, imp.Name)
			}
			globals = append(globals, &GlobalInstance{Type: hg.Type, Val: hg.Val})
		default:
			return nil, nil, fmt.Errorf("import[%d] %q.%q: %s imports are not supported",
				idx, imp.Module, imp.Name, ExternTypeName(imp.Type))
		}
	}
	return funcs, globals, nil
}

func (ctx *ExecutorContext) applyData(segments []*DataSegment) error {
	for i, d := range segments {
		if d.Passive {
			ctx.DataInstances = append(ctx.DataInstances, d.Init)
			continue
		}
		ctx.DataInstances = append(ctx.DataInstances, nil)
		mem := ctx.Memory()
		if mem == nil {
			return fmt.Errorf("data[%d]: no memory to initialize", i)
		}
		offVal, err := evalConstExpr(d.OffsetExpr, ctx.Globals)
		if err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
		offset := uint32(offVal)
		if uint64(offset)+uint64(len(d.Init)) > uint64(len(mem.Buffer)) {
			return fmt.Errorf("data[%d]: out of bounds memory access", i)
		}
		copy(mem.Buffer[offset:], d.Init)
	}
	return nil
}

func (ctx *ExecutorContext) applyElements(segments []*ElementSegment) error {
	for i, e := range segments {
		if e.Passive {
			refs := make([]Reference, len(e.Init))
			for j, fidx := range e.Init {
				refs[j] = FuncRefValue(fidx)
			}
			ctx.ElementInstances = append(ctx.ElementInstances, refs)
			continue
		}
		ctx.ElementInstances = append(ctx.ElementInstances, nil)
		if int(e.TableIndex) >= len(ctx.Tables) {
			return fmt.Errorf("element[%d]: table %d not defined", i, e.TableIndex)
		}
		table := ctx.Tables[e.TableIndex]
		offVal, err := evalConstExpr(e.OffsetExpr, ctx.Globals)
		if err != nil {
			return fmt.Errorf("element[%d]: %w", i, err)
		}
		offset := uint32(offVal)
		if uint64(offset)+uint64(len(e.Init)) > uint64(len(table.Refs)) {
			return fmt.Errorf("element[%d]: out of bounds table access", i)
		}
		for j, fidx := range e.Init {
			table.Refs[offset+uint32(j)] = FuncRefValue(fidx)
		}
	}
	return nil
}

// evalConstExpr evaluates an init expression against the imported globals,
// returning the 64-bit representation of the value.
func evalConstExpr(expr *ConstantExpression, globals []*GlobalInstance) (uint64, error) {
	if expr == nil {
		return 0, fmt.Errorf("missing init expression")
	}
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return 0, err
		}
		return uint64(int64(v)), nil
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	case OpcodeF32Const:
		v, err := ieee754.DecodeFloat32(r)
		if err != nil {
			return 0, err
		}
		return uint64(math.Float32bits(v)), nil
	case OpcodeF64Const:
		v, err := ieee754.DecodeFloat64(r)
		if err != nil {
			return 0, err
		}
		return math.Float64bits(v), nil
	case OpcodeGlobalGet:
		id, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, err
		}
		if int(id) >= len(globals) {
			return 0, fmt.Errorf("global.get %d does not reference an imported global", id)
		}
		return globals[id].Val, nil
	case OpcodeRefNull:
		return 0, nil
	case OpcodeRefFunc:
		id, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, err
		}
		return FuncRefValue(id), nil
	}
	return 0, fmt.Errorf("opcode %s is not constant", InstructionName(expr.Opcode))
}
