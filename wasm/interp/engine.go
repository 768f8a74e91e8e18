// Package interp is the module-aware executor: it runs translated IR
// against an ExecutorContext, giving function bodies their calls, globals,
// tables, shared linear memory, and host functions. The standalone IR
// interpreter in wasm/ir stays the reference this engine is differentially
// tested against.
package interp

import (
	"fmt"
	"sync"

	"github.com/kpio-os/wasmcore/wasm"
	"github.com/kpio-os/wasmcore/wasm/ir"
)

const (
	// callStackCeiling bounds recursion depth; crafted modules trap with
	// CallStackExhausted instead of exhausting the host stack.
	callStackCeiling = 2048

	valueStackCeiling   = 10000
	blockNestingCeiling = 1024
)

// Engine compiles modules to IR once and executes their functions. It is
// safe to share one Engine across instances.
type Engine struct {
	mu    sync.RWMutex
	codes map[*wasm.Module][]*ir.Function
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{codes: map[*wasm.Module][]*ir.Function{}}
}

// CompileModule translates every function body of m to IR. Compiling the
// same module twice is a no-op.
func (e *Engine) CompileModule(m *wasm.Module) error {
	e.mu.RLock()
	_, done := e.codes[m]
	e.mu.RUnlock()
	if done {
		return nil
	}
	fns, err := ir.TranslateModule(m)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.codes[m] = fns
	e.mu.Unlock()
	return nil
}

// CompiledFunctions returns the IR of a compiled module, for differential
// testing against the reference interpreter.
func (e *Engine) CompiledFunctions(m *wasm.Module) ([]*ir.Function, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fns, ok := e.codes[m]
	return fns, ok
}

// Call implements wasm.Engine.
func (e *Engine) Call(ctx *wasm.ExecutorContext, f *wasm.FunctionInstance, params []uint64) ([]uint64, error) {
	e.mu.RLock()
	codes := e.codes[ctx.Module]
	e.mu.RUnlock()
	if codes == nil && f.Kind == wasm.FunctionKindWasm {
		return nil, fmt.Errorf("module is not compiled")
	}
	ce := &callEngine{ctx: ctx, codes: codes}
	results, trap := ce.call(f, params)
	if trap != nil {
		return nil, trap
	}
	return results, nil
}

// callEngine is the per-invocation state: the context, the compiled code,
// and the recursion depth.
type callEngine struct {
	ctx   *wasm.ExecutorContext
	codes []*ir.Function
	depth int
}

// frame is one activation: its value stack, locals, and open blocks.
type frame struct {
	stack  []uint64
	locals []uint64
	blocks []blockFrame
}

type blockFrame struct {
	kind       ir.BlockKind
	startPC    int
	stackDepth int
}

// returnSentinel unwinds the dispatch loop on Return and function-level
// branches; it never escapes a call.
const trapReturnKind wasm.TrapKind = 0xff

var returnSentinel = &wasm.Trap{Kind: trapReturnKind}

func (ce *callEngine) call(f *wasm.FunctionInstance, params []uint64) ([]uint64, *wasm.Trap) {
	if f.Kind == wasm.FunctionKindHost {
		results, err := f.GoFunc(ce.ctx, params)
		if err != nil {
			if t, ok := wasm.AsTrap(err); ok {
				return nil, t
			}
			return nil, &wasm.Trap{Kind: wasm.TrapUnreachable}
		}
		return results, nil
	}

	ce.depth++
	defer func() { ce.depth-- }()
	if ce.depth > callStackCeiling {
		return nil, wasm.NewTrap(wasm.TrapCallStackExhausted)
	}

	imported := ce.ctx.Module.ImportedFunctionCount()
	fn := ce.codes[f.Idx-imported]

	fr := &frame{locals: make([]uint64, fn.TotalLocals())}
	copy(fr.locals, params)

	if trap := ce.run(fn, fr); trap != nil {
		trap.FuncIndices = append(trap.FuncIndices, f.Idx)
		return nil, trap
	}

	n := len(f.Type.Results)
	if n > len(fr.stack) {
		n = len(fr.stack)
	}
	results := make([]uint64, n)
	for i := n - 1; i >= 0; i-- {
		results[i] = fr.stack[len(fr.stack)-1]
		fr.stack = fr.stack[:len(fr.stack)-1]
	}
	return results, nil
}

func (fr *frame) push(v uint64) *wasm.Trap {
	if len(fr.stack) >= valueStackCeiling {
		return wasm.NewTrap(wasm.TrapStackOverflow)
	}
	fr.stack = append(fr.stack, v)
	return nil
}

func (fr *frame) pop() (uint64, *wasm.Trap) {
	if len(fr.stack) == 0 {
		return 0, wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	v := fr.stack[len(fr.stack)-1]
	fr.stack = fr.stack[:len(fr.stack)-1]
	return v, nil
}

func (fr *frame) pop2() (a, b uint64, trap *wasm.Trap) {
	b, trap = fr.pop()
	if trap != nil {
		return
	}
	a, trap = fr.pop()
	return
}

func (ce *callEngine) run(fn *ir.Function, fr *frame) *wasm.Trap {
	body := fn.Body
	pc := 0
	for pc < len(body) {
		inst := &body[pc]
		pc++
		trap := ce.step(fn, fr, inst, &pc)
		if trap != nil {
			if trap.Kind == trapReturnKind {
				return nil
			}
			if trap.Offset == 0 {
				trap.Offset = inst.Offset
			}
			return trap
		}
	}
	return nil
}

func (ce *callEngine) step(fn *ir.Function, fr *frame, inst *ir.Instruction, pc *int) *wasm.Trap {
	op := inst.Op

	// Scalar opcodes go through the evaluators shared with the reference
	// interpreter.
	if n := len(fr.stack); n >= 2 {
		if v, handled, trap := ir.EvalBinary(op, fr.stack[n-2], fr.stack[n-1]); handled {
			if trap != nil {
				return trap
			}
			fr.stack = fr.stack[:n-2]
			return fr.push(v)
		}
	} else if ir.IsBinaryOp(op) {
		return wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	if n := len(fr.stack); n >= 1 {
		if v, handled, trap := ir.EvalUnary(op, fr.stack[n-1]); handled {
			if trap != nil {
				return trap
			}
			fr.stack = fr.stack[:n-1]
			return fr.push(v)
		}
	} else if ir.IsUnaryOp(op) {
		return wasm.NewTrap(wasm.TrapStackUnderflow)
	}

	switch op {
	case ir.OpConst32, ir.OpConst64, ir.OpConstF32, ir.OpConstF64:
		return fr.push(inst.Imm)

	case ir.OpLocalGet:
		idx := uint32(inst.Imm)
		if int(idx) >= len(fr.locals) {
			return &wasm.Trap{Kind: wasm.TrapInvalidLocal, Index: idx}
		}
		return fr.push(fr.locals[idx])
	case ir.OpLocalSet:
		v, trap := fr.pop()
		if trap != nil {
			return trap
		}
		idx := uint32(inst.Imm)
		if int(idx) >= len(fr.locals) {
			return &wasm.Trap{Kind: wasm.TrapInvalidLocal, Index: idx}
		}
		fr.locals[idx] = v
	case ir.OpLocalTee:
		if len(fr.stack) == 0 {
			return wasm.NewTrap(wasm.TrapStackUnderflow)
		}
		idx := uint32(inst.Imm)
		if int(idx) >= len(fr.locals) {
			return &wasm.Trap{Kind: wasm.TrapInvalidLocal, Index: idx}
		}
		fr.locals[idx] = fr.stack[len(fr.stack)-1]

	case ir.OpGlobalGet:
		idx := uint32(inst.Imm)
		if int(idx) >= len(ce.ctx.Globals) {
			return wasm.NewTrap(wasm.TrapInvalidBranch)
		}
		return fr.push(ce.ctx.Globals[idx].Val)
	case ir.OpGlobalSet:
		v, trap := fr.pop()
		if trap != nil {
			return trap
		}
		idx := uint32(inst.Imm)
		if int(idx) >= len(ce.ctx.Globals) {
			return wasm.NewTrap(wasm.TrapInvalidBranch)
		}
		ce.ctx.Globals[idx].Val = v

	case ir.OpBlock:
		return fr.pushBlock(ir.BlockKindBlock, *pc)
	case ir.OpLoop:
		return fr.pushBlock(ir.BlockKindLoop, *pc)
	case ir.OpIf:
		cond, trap := fr.pop()
		if trap != nil {
			return trap
		}
		if trap := fr.pushBlock(ir.BlockKindIf, *pc); trap != nil {
			return trap
		}
		if cond == 0 {
			ir.SkipToElseOrEnd(fn.Body, pc)
		}
	case ir.OpElse:
		ir.SkipToEnd(fn.Body, pc)
		fr.popBlock()
	case ir.OpEnd:
		fr.popBlock()
	case ir.OpBr:
		return fr.branch(uint32(inst.Imm), fn.Body, pc)
	case ir.OpBrIf:
		cond, trap := fr.pop()
		if trap != nil {
			return trap
		}
		if cond != 0 {
			return fr.branch(uint32(inst.Imm), fn.Body, pc)
		}
	case ir.OpBrTable:
		sel, trap := fr.pop()
		if trap != nil {
			return trap
		}
		tableIdx := int(inst.Imm)
		if tableIdx >= len(fn.BranchTables) || len(fn.BranchTables[tableIdx]) == 0 {
			return wasm.NewTrap(wasm.TrapInvalidBranch)
		}
		targets := fn.BranchTables[tableIdx]
		i := int(uint32(sel))
		if i >= len(targets)-1 {
			i = len(targets) - 1
		}
		return fr.branch(targets[i], fn.Body, pc)
	case ir.OpReturn:
		return returnSentinel
	case ir.OpUnreachable:
		return wasm.NewTrap(wasm.TrapUnreachable)

	case ir.OpCall:
		return ce.invoke(fr, uint32(inst.Imm))
	case ir.OpCallIndirect:
		typeIdx, tableIdx := ir.UnpackIndices(inst.Imm)
		sel, trap := fr.pop()
		if trap != nil {
			return trap
		}
		if int(tableIdx) >= len(ce.ctx.Tables) {
			return wasm.NewTrap(wasm.TrapUndefinedElement)
		}
		table := ce.ctx.Tables[tableIdx]
		i := uint32(sel)
		if int(i) >= len(table.Refs) {
			return &wasm.Trap{Kind: wasm.TrapUndefinedElement, Index: i}
		}
		ref := table.Refs[i]
		if ref == 0 {
			return &wasm.Trap{Kind: wasm.TrapUndefinedElement, Index: i}
		}
		funcIdx := uint32(ref - 1)
		if int(funcIdx) >= len(ce.ctx.Functions) {
			return &wasm.Trap{Kind: wasm.TrapUndefinedElement, Index: i}
		}
		callee := ce.ctx.Functions[funcIdx]
		expected := ce.ctx.Module.TypeSection[typeIdx]
		if callee.Type.String() != expected.String() {
			return wasm.NewTrap(wasm.TrapIndirectCallTypeMismatch)
		}
		return ce.invoke(fr, funcIdx)

	case ir.OpDrop:
		_, trap := fr.pop()
		return trap
	case ir.OpSelect:
		c, b, a := uint64(0), uint64(0), uint64(0)
		var trap *wasm.Trap
		if c, trap = fr.pop(); trap != nil {
			return trap
		}
		if a, b, trap = fr.pop2(); trap != nil {
			return trap
		}
		if c != 0 {
			return fr.push(a)
		}
		return fr.push(b)

	case ir.OpLoad32, ir.OpLoad64, ir.OpLoad8S, ir.OpLoad8U,
		ir.OpLoad16S, ir.OpLoad16U, ir.OpLoad32S, ir.OpLoad32U:
		addr, trap := fr.pop()
		if trap != nil {
			return trap
		}
		mem := ce.ctx.Memory()
		if mem == nil {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		effective := uint32(addr) + uint32(inst.Imm) // wrapping
		buf, ok := mem.Read(effective, loadWidth(op))
		if !ok {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		return fr.push(ir.LoadSlot(op, buf))

	case ir.OpStore8, ir.OpStore16, ir.OpStore32, ir.OpStore64:
		val, trap := fr.pop()
		if trap != nil {
			return trap
		}
		base, trap := fr.pop()
		if trap != nil {
			return trap
		}
		mem := ce.ctx.Memory()
		if mem == nil {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		effective := uint32(base) + uint32(inst.Imm)
		buf, ok := mem.Read(effective, storeWidth(op))
		if !ok {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		ir.StoreSlot(op, buf, val)

	case ir.OpMemorySize:
		mem := ce.ctx.Memory()
		if mem == nil {
			return fr.push(0)
		}
		return fr.push(uint64(int64(int32(mem.Pages()))))
	case ir.OpMemoryGrow:
		delta, trap := fr.pop()
		if trap != nil {
			return trap
		}
		mem := ce.ctx.Memory()
		if mem == nil {
			return fr.push(uint64(int64(int32(-1))))
		}
		if prev, ok := mem.Grow(uint32(delta)); ok {
			return fr.push(uint64(int64(int32(prev))))
		}
		return fr.push(uint64(int64(int32(-1))))

	case ir.OpMemoryInit:
		n, src, dst, trap := popInitOperands(fr)
		if trap != nil {
			return trap
		}
		if int(inst.Imm) >= len(ce.ctx.DataInstances) {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		data := ce.ctx.DataInstances[inst.Imm]
		mem := ce.ctx.Memory()
		if mem == nil || uint64(src)+uint64(n) > uint64(len(data)) {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		buf, ok := mem.Read(dst, n)
		if !ok {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		copy(buf, data[src:src+n])
	case ir.OpDataDrop:
		if int(inst.Imm) < len(ce.ctx.DataInstances) {
			ce.ctx.DataInstances[inst.Imm] = nil
		}
	case ir.OpMemoryCopy:
		n, src, dst, trap := popInitOperands(fr)
		if trap != nil {
			return trap
		}
		mem := ce.ctx.Memory()
		if mem == nil {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		srcBuf, okS := mem.Read(src, n)
		dstBuf, okD := mem.Read(dst, n)
		if !okS || !okD {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		copy(dstBuf, srcBuf)
	case ir.OpMemoryFill:
		n, val, dst, trap := popInitOperands(fr)
		if trap != nil {
			return trap
		}
		mem := ce.ctx.Memory()
		if mem == nil {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		buf, ok := mem.Read(dst, n)
		if !ok {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		for i := range buf {
			buf[i] = byte(val)
		}

	case ir.OpTableInit:
		elemIdx, tableIdx := ir.UnpackIndices(inst.Imm)
		n, src, dst, trap := popInitOperands(fr)
		if trap != nil {
			return trap
		}
		if int(tableIdx) >= len(ce.ctx.Tables) || int(elemIdx) >= len(ce.ctx.ElementInstances) {
			return wasm.NewTrap(wasm.TrapUndefinedElement)
		}
		elem := ce.ctx.ElementInstances[elemIdx]
		table := ce.ctx.Tables[tableIdx]
		if uint64(src)+uint64(n) > uint64(len(elem)) ||
			uint64(dst)+uint64(n) > uint64(len(table.Refs)) {
			return wasm.NewTrap(wasm.TrapUndefinedElement)
		}
		copy(table.Refs[dst:dst+n], elem[src:src+n])
	case ir.OpElemDrop:
		if int(inst.Imm) < len(ce.ctx.ElementInstances) {
			ce.ctx.ElementInstances[inst.Imm] = nil
		}
	case ir.OpTableCopy:
		dstIdx, srcIdx := ir.UnpackIndices(inst.Imm)
		n, src, dst, trap := popInitOperands(fr)
		if trap != nil {
			return trap
		}
		if int(dstIdx) >= len(ce.ctx.Tables) || int(srcIdx) >= len(ce.ctx.Tables) {
			return wasm.NewTrap(wasm.TrapUndefinedElement)
		}
		srcT, dstT := ce.ctx.Tables[srcIdx], ce.ctx.Tables[dstIdx]
		if uint64(src)+uint64(n) > uint64(len(srcT.Refs)) ||
			uint64(dst)+uint64(n) > uint64(len(dstT.Refs)) {
			return wasm.NewTrap(wasm.TrapUndefinedElement)
		}
		copy(dstT.Refs[dst:dst+n], srcT.Refs[src:src+n])
	case ir.OpTableGrow:
		// Operand order: init value then delta.
		ref, delta, trap := fr.pop2()
		if trap != nil {
			return trap
		}
		table, trapT := ce.table(uint32(inst.Imm))
		if trapT != nil {
			return trapT
		}
		if prev, ok := table.Grow(uint32(delta), ref); ok {
			return fr.push(uint64(int64(int32(prev))))
		}
		return fr.push(uint64(int64(int32(-1))))
	case ir.OpTableSize:
		table, trap := ce.table(uint32(inst.Imm))
		if trap != nil {
			return trap
		}
		return fr.push(uint64(len(table.Refs)))
	case ir.OpTableFill:
		n, val, dst, trap := popInitOperands(fr)
		if trap != nil {
			return trap
		}
		table, trapT := ce.table(uint32(inst.Imm))
		if trapT != nil {
			return trapT
		}
		if uint64(dst)+uint64(n) > uint64(len(table.Refs)) {
			return wasm.NewTrap(wasm.TrapUndefinedElement)
		}
		for i := uint32(0); i < n; i++ {
			table.Refs[dst+i] = val
		}
	case ir.OpTableGet:
		idx, trap := fr.pop()
		if trap != nil {
			return trap
		}
		table, trapT := ce.table(uint32(inst.Imm))
		if trapT != nil {
			return trapT
		}
		if int(uint32(idx)) >= len(table.Refs) {
			return &wasm.Trap{Kind: wasm.TrapUndefinedElement, Index: uint32(idx)}
		}
		return fr.push(table.Refs[uint32(idx)])
	case ir.OpTableSet:
		ref, trap := fr.pop()
		if trap != nil {
			return trap
		}
		idx, trap := fr.pop()
		if trap != nil {
			return trap
		}
		table, trapT := ce.table(uint32(inst.Imm))
		if trapT != nil {
			return trapT
		}
		if int(uint32(idx)) >= len(table.Refs) {
			return &wasm.Trap{Kind: wasm.TrapUndefinedElement, Index: uint32(idx)}
		}
		table.Refs[uint32(idx)] = ref

	case ir.OpRefNull:
		return fr.push(0)
	case ir.OpRefFunc:
		return fr.push(wasm.FuncRefValue(uint32(inst.Imm)))
	}
	return nil
}

// invoke pops the callee's arguments, recurses, and pushes the results.
func (ce *callEngine) invoke(fr *frame, funcIdx uint32) *wasm.Trap {
	if int(funcIdx) >= len(ce.ctx.Functions) {
		return &wasm.Trap{Kind: wasm.TrapUndefinedElement, Index: funcIdx}
	}
	callee := ce.ctx.Functions[funcIdx]
	argc := len(callee.Type.Params)
	if len(fr.stack) < argc {
		return wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	args := make([]uint64, argc)
	copy(args, fr.stack[len(fr.stack)-argc:])
	fr.stack = fr.stack[:len(fr.stack)-argc]

	results, trap := ce.call(callee, args)
	if trap != nil {
		return trap
	}
	for _, v := range results {
		if t := fr.push(v); t != nil {
			return t
		}
	}
	return nil
}

func (ce *callEngine) table(idx uint32) (*wasm.TableInstance, *wasm.Trap) {
	if int(idx) >= len(ce.ctx.Tables) {
		return nil, wasm.NewTrap(wasm.TrapUndefinedElement)
	}
	return ce.ctx.Tables[idx], nil
}

// popInitOperands pops the (dst, val/src, n) triple shared by the bulk
// operations, returning them as (n, middle, dst).
func popInitOperands(fr *frame) (n, middle, dst uint32, trap *wasm.Trap) {
	nv, trap := fr.pop()
	if trap != nil {
		return
	}
	d, m, trap := fr.pop2()
	if trap != nil {
		return
	}
	return uint32(nv), uint32(m), uint32(d), nil
}

func (fr *frame) pushBlock(kind ir.BlockKind, startPC int) *wasm.Trap {
	if len(fr.blocks) >= blockNestingCeiling {
		return wasm.NewTrap(wasm.TrapStackOverflow)
	}
	fr.blocks = append(fr.blocks, blockFrame{kind: kind, startPC: startPC, stackDepth: len(fr.stack)})
	return nil
}

func (fr *frame) popBlock() {
	if n := len(fr.blocks); n > 0 {
		fr.blocks = fr.blocks[:n-1]
	}
}

func (fr *frame) branch(depth uint32, body []ir.Instruction, pc *int) *wasm.Trap {
	if int(depth) == len(fr.blocks) {
		return returnSentinel
	}
	if int(depth) > len(fr.blocks) {
		return wasm.NewTrap(wasm.TrapInvalidBranch)
	}
	targetIdx := len(fr.blocks) - 1 - int(depth)
	target := fr.blocks[targetIdx]
	fr.blocks = fr.blocks[:targetIdx+1]
	if target.kind == ir.BlockKindLoop {
		*pc = target.startPC
		return nil
	}
	fr.blocks = fr.blocks[:targetIdx]
	ir.SkipToEndN(body, pc, int(depth)+1)
	return nil
}

func loadWidth(op ir.Opcode) uint32 {
	switch op {
	case ir.OpLoad8S, ir.OpLoad8U:
		return 1
	case ir.OpLoad16S, ir.OpLoad16U:
		return 2
	case ir.OpLoad32, ir.OpLoad32S, ir.OpLoad32U:
		return 4
	default:
		return 8
	}
}

func storeWidth(op ir.Opcode) uint32 {
	switch op {
	case ir.OpStore8:
		return 1
	case ir.OpStore16:
		return 2
	case ir.OpStore32:
		return 4
	default:
		return 8
	}
}
