package ir

import (
	"encoding/binary"

	"github.com/kpio-os/wasmcore/wasm"
)

const (
	// InterpreterGrowLimitPages caps MemoryGrow in the standalone
	// interpreter. The full executor uses the module-declared max instead;
	// differential tests stay below both ceilings.
	InterpreterGrowLimitPages = 256

	// Stack discipline: crafted modules must not be able to exhaust host
	// memory through the value or control stacks.
	valueStackCeiling   = 10000
	blockNestingCeiling = 1024
)

// Interpreter executes IR functions directly over a flat 64-bit slot
// stack. It brings no module instance: calls are no-ops, globals read as
// zero, and loads and stores hit a private linear memory. Its purpose is
// differential verification of the translation, and pre-JIT execution of
// leaf functions.
type Interpreter struct {
	stack  []uint64
	locals []uint64
	blocks []blockFrame
	memory []byte
}

type blockFrame struct {
	kind       BlockKind
	id         BlockID
	startPC    int
	stackDepth int
}

// NewInterpreter returns an interpreter without linear memory: any load or
// store traps.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// NewInterpreterWithMemory returns an interpreter with a private zeroed
// linear memory of the given byte size.
func NewInterpreterWithMemory(size int) *Interpreter {
	return &Interpreter{memory: make([]byte, size)}
}

// MemoryBytes exposes the private memory for test setup.
func (it *Interpreter) MemoryBytes() []byte { return it.memory }

func (it *Interpreter) push(v uint64) *wasm.Trap {
	if len(it.stack) >= valueStackCeiling {
		return wasm.NewTrap(wasm.TrapStackOverflow)
	}
	it.stack = append(it.stack, v)
	return nil
}

func (it *Interpreter) pop() (uint64, *wasm.Trap) {
	if len(it.stack) == 0 {
		return 0, wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	v := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	return v, nil
}

func (it *Interpreter) pop2() (a, b uint64, trap *wasm.Trap) {
	b, trap = it.pop()
	if trap != nil {
		return
	}
	a, trap = it.pop()
	return
}

func (it *Interpreter) peek() (uint64, *wasm.Trap) {
	if len(it.stack) == 0 {
		return 0, wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	return it.stack[len(it.stack)-1], nil
}

// Execute runs fn with args in slot form, returning result slots or a
// trap. The interpreter may be reused; each call resets its state.
func (it *Interpreter) Execute(fn *Function, args []uint64) ([]uint64, error) {
	it.stack = it.stack[:0]
	it.blocks = it.blocks[:0]

	it.locals = make([]uint64, fn.TotalLocals())
	for i, a := range args {
		if i < len(it.locals) {
			it.locals[i] = a
		}
	}

	if trap := it.run(fn); trap != nil {
		return nil, trap
	}

	// Pop results in reverse: the bottom-most popped is the first result.
	// A short stack yields fewer results; that is a validation bug in the
	// input, not a runtime event.
	n := len(fn.Results)
	if n > len(it.stack) {
		n = len(it.stack)
	}
	results := make([]uint64, n)
	for i := n - 1; i >= 0; i-- {
		results[i], _ = it.pop()
	}
	return results, nil
}

func (it *Interpreter) run(fn *Function) *wasm.Trap {
	body := fn.Body
	pc := 0
	for pc < len(body) {
		inst := &body[pc]
		pc++
		trap := it.step(fn, inst, &pc)
		if trap != nil {
			if trap.Kind == trapReturnSentinel {
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

// trapReturnSentinel is an out-of-band kind used internally to unwind on
// Return; it never escapes.
const trapReturnSentinel wasm.TrapKind = 0xff

var returnSentinel = &wasm.Trap{Kind: trapReturnSentinel}

func (it *Interpreter) step(fn *Function, inst *Instruction, pc *int) *wasm.Trap {
	op := inst.Op

	// Scalar fast paths shared with the full executor.
	if v, handled, trap := it.tryScalar(op); handled {
		if trap != nil {
			return trap
		}
		return it.push(v)
	}

	switch op {
	case OpConst32, OpConst64, OpConstF32, OpConstF64:
		return it.push(inst.Imm)

	case OpLocalGet:
		idx := uint32(inst.Imm)
		if int(idx) >= len(it.locals) {
			return &wasm.Trap{Kind: wasm.TrapInvalidLocal, Index: idx}
		}
		return it.push(it.locals[idx])
	case OpLocalSet:
		v, trap := it.pop()
		if trap != nil {
			return trap
		}
		idx := uint32(inst.Imm)
		if int(idx) >= len(it.locals) {
			return &wasm.Trap{Kind: wasm.TrapInvalidLocal, Index: idx}
		}
		it.locals[idx] = v
	case OpLocalTee:
		v, trap := it.peek()
		if trap != nil {
			return trap
		}
		idx := uint32(inst.Imm)
		if int(idx) >= len(it.locals) {
			return &wasm.Trap{Kind: wasm.TrapInvalidLocal, Index: idx}
		}
		it.locals[idx] = v

	// No module instance: globals read as zero and writes vanish, keeping
	// stack discipline intact for bodies that stray outside the
	// differential contract.
	case OpGlobalGet:
		return it.push(0)
	case OpGlobalSet:
		_, trap := it.pop()
		return trap

	case OpBlock:
		return it.pushBlock(BlockKindBlock, BlockID(inst.Imm), *pc)
	case OpLoop:
		return it.pushBlock(BlockKindLoop, BlockID(inst.Imm), *pc)
	case OpIf:
		cond, trap := it.pop()
		if trap != nil {
			return trap
		}
		if trap := it.pushBlock(BlockKindIf, BlockID(inst.Imm), *pc); trap != nil {
			return trap
		}
		if cond == 0 {
			SkipToElseOrEnd(fn.Body, pc)
		}
	case OpElse:
		// Reached by falling through the taken branch: skip to matching End.
		SkipToEnd(fn.Body, pc)
		it.popBlock()
	case OpEnd:
		it.popBlock()
	case OpBr:
		return it.branch(uint32(inst.Imm), fn.Body, pc)
	case OpBrIf:
		cond, trap := it.pop()
		if trap != nil {
			return trap
		}
		if cond != 0 {
			return it.branch(uint32(inst.Imm), fn.Body, pc)
		}
	case OpBrTable:
		sel, trap := it.pop()
		if trap != nil {
			return trap
		}
		tableIdx := int(inst.Imm)
		if tableIdx >= len(fn.BranchTables) {
			return wasm.NewTrap(wasm.TrapInvalidBranch)
		}
		targets := fn.BranchTables[tableIdx]
		if len(targets) == 0 {
			return wasm.NewTrap(wasm.TrapInvalidBranch)
		}
		// The last entry is the default.
		i := int(uint32(sel))
		if i >= len(targets)-1 {
			i = len(targets) - 1
		}
		return it.branch(targets[i], fn.Body, pc)
	case OpReturn:
		return returnSentinel
	case OpUnreachable:
		return wasm.NewTrap(wasm.TrapUnreachable)

	// Calls need a module instance the standalone interpreter does not
	// have; the full runtime routes calls through its own executor.
	case OpCall, OpCallIndirect:
		// no-op

	case OpDrop:
		_, trap := it.pop()
		return trap
	case OpSelect:
		c, trap := it.pop()
		if trap != nil {
			return trap
		}
		b, trap := it.pop()
		if trap != nil {
			return trap
		}
		a, trap := it.pop()
		if trap != nil {
			return trap
		}
		if c != 0 {
			return it.push(a)
		}
		return it.push(b)

	case OpLoad32, OpLoad64, OpLoad8S, OpLoad8U, OpLoad16S, OpLoad16U,
		OpLoad32S, OpLoad32U:
		addr, trap := it.pop()
		if trap != nil {
			return trap
		}
		v, trap := it.load(op, uint32(addr), uint32(inst.Imm))
		if trap != nil {
			return trap
		}
		return it.push(v)

	case OpStore8, OpStore16, OpStore32, OpStore64:
		val, base, trap := func() (uint64, uint64, *wasm.Trap) {
			v, t := it.pop()
			if t != nil {
				return 0, 0, t
			}
			b, t := it.pop()
			return v, b, t
		}()
		if trap != nil {
			return trap
		}
		return it.store(op, uint32(base), uint32(inst.Imm), val)

	case OpMemorySize:
		return it.push(retI32(int32(len(it.memory) / wasm.MemoryPageSize)))
	case OpMemoryGrow:
		delta, trap := it.pop()
		if trap != nil {
			return trap
		}
		oldPages := len(it.memory) / wasm.MemoryPageSize
		newPages := uint64(oldPages) + uint64(uint32(delta))
		if newPages > InterpreterGrowLimitPages {
			return it.push(retI32(-1))
		}
		it.memory = append(it.memory, make([]byte, uint64(uint32(delta))*wasm.MemoryPageSize)...)
		return it.push(retI32(int32(oldPages)))

	case OpMemoryCopy:
		n, trap := it.pop()
		if trap != nil {
			return trap
		}
		dst, src, trap := it.pop2()
		if trap != nil {
			return trap
		}
		if !it.inBounds(uint32(src), uint32(n)) || !it.inBounds(uint32(dst), uint32(n)) {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		copy(it.memory[uint32(dst):uint32(dst)+uint32(n)], it.memory[uint32(src):uint32(src)+uint32(n)])
	case OpMemoryFill:
		n, trap := it.pop()
		if trap != nil {
			return trap
		}
		dst, val, trap := it.pop2()
		if trap != nil {
			return trap
		}
		if !it.inBounds(uint32(dst), uint32(n)) {
			return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
		}
		region := it.memory[uint32(dst) : uint32(dst)+uint32(n)]
		for i := range region {
			region[i] = byte(val)
		}

	case OpRefNull:
		return it.push(0)
	case OpRefFunc:
		return it.push(inst.Imm + 1)

	case OpTableGet:
		if _, trap := it.pop(); trap != nil {
			return trap
		}
		return it.push(0)
	case OpTableSet:
		if _, _, trap := it.pop2(); trap != nil {
			return trap
		}

	// The remaining bulk operations need segment state the standalone
	// interpreter does not carry.
	case OpMemoryInit, OpTableInit, OpTableCopy, OpTableFill:
		if _, trap := it.pop(); trap != nil {
			return trap
		}
		if _, _, trap := it.pop2(); trap != nil {
			return trap
		}
	case OpDataDrop, OpElemDrop:
		// no-op
	case OpTableGrow:
		if _, _, trap := it.pop2(); trap != nil {
			return trap
		}
		return it.push(retI32(-1))
	case OpTableSize:
		return it.push(0)
	}
	return nil
}

// tryScalar dispatches pure scalar opcodes through the shared evaluators.
func (it *Interpreter) tryScalar(op Opcode) (uint64, bool, *wasm.Trap) {
	if n := len(it.stack); n >= 2 {
		if v, handled, trap := EvalBinary(op, it.stack[n-2], it.stack[n-1]); handled {
			it.stack = it.stack[:n-2]
			return v, true, trap
		}
	} else if IsBinaryOp(op) {
		return 0, true, wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	if n := len(it.stack); n >= 1 {
		if v, handled, trap := EvalUnary(op, it.stack[n-1]); handled {
			it.stack = it.stack[:n-1]
			return v, true, trap
		}
	} else if IsUnaryOp(op) {
		return 0, true, wasm.NewTrap(wasm.TrapStackUnderflow)
	}
	return 0, false, nil
}

// IsBinaryOp reports whether op is a two-operand scalar operation.
func IsBinaryOp(op Opcode) bool {
	_, handled, _ := EvalBinary(op, 0, 1)
	return handled
}

// IsUnaryOp reports whether op is a one-operand scalar operation.
func IsUnaryOp(op Opcode) bool {
	_, handled, _ := EvalUnary(op, 0)
	return handled
}

func (it *Interpreter) pushBlock(kind BlockKind, id BlockID, startPC int) *wasm.Trap {
	if len(it.blocks) >= blockNestingCeiling {
		return wasm.NewTrap(wasm.TrapStackOverflow)
	}
	it.blocks = append(it.blocks, blockFrame{
		kind:       kind,
		id:         id,
		startPC:    startPC,
		stackDepth: len(it.stack),
	})
	return nil
}

func (it *Interpreter) popBlock() {
	if n := len(it.blocks); n > 0 {
		it.blocks = it.blocks[:n-1]
	}
}

// branch pops depth frames and transfers control: to the loop header for
// loops, past the matching End otherwise.
func (it *Interpreter) branch(depth uint32, body []Instruction, pc *int) *wasm.Trap {
	if int(depth) == len(it.blocks) {
		// Branching past every open block targets the implicit function
		// body: equivalent to Return.
		return returnSentinel
	}
	if int(depth) > len(it.blocks) {
		return wasm.NewTrap(wasm.TrapInvalidBranch)
	}
	targetIdx := len(it.blocks) - 1 - int(depth)
	target := it.blocks[targetIdx]
	it.blocks = it.blocks[:targetIdx+1]

	if target.kind == BlockKindLoop {
		*pc = target.startPC
		return nil
	}
	// Block/If: pop the target frame too and scan to the End that closes
	// the target, which is the (depth+1)-th unmatched End from here.
	it.blocks = it.blocks[:targetIdx]
	SkipToEndN(body, pc, int(depth)+1)
	return nil
}

// SkipToElseOrEnd advances pc past the matching Else (resuming inside the
// false arm) or to the matching End when there is no Else.
func SkipToElseOrEnd(body []Instruction, pc *int) {
	depth := 1
	for *pc < len(body) && depth > 0 {
		switch body[*pc].Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			depth--
		case OpElse:
			if depth == 1 {
				*pc++
				return
			}
		}
		if depth > 0 {
			*pc++
		}
	}
}

// SkipToEnd advances pc past the matching End.
func SkipToEnd(body []Instruction, pc *int) {
	SkipToEndN(body, pc, 1)
}

// SkipToEndN advances pc past the n-th unmatched End.
func SkipToEndN(body []Instruction, pc *int, n int) {
	depth := n
	for *pc < len(body) && depth > 0 {
		switch body[*pc].Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			depth--
		}
		if depth > 0 {
			*pc++
		}
	}
	if *pc < len(body) {
		*pc++ // past the End itself
	}
}

func (it *Interpreter) inBounds(offset, n uint32) bool {
	return uint64(offset)+uint64(n) <= uint64(len(it.memory))
}

func (it *Interpreter) load(op Opcode, base, staticOffset uint32) (uint64, *wasm.Trap) {
	addr := base + staticOffset // wrapping, bounds-checked below
	var n uint32
	switch op {
	case OpLoad8S, OpLoad8U:
		n = 1
	case OpLoad16S, OpLoad16U:
		n = 2
	case OpLoad32, OpLoad32S, OpLoad32U:
		n = 4
	default:
		n = 8
	}
	if !it.inBounds(addr, n) {
		return 0, wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
	}
	return LoadSlot(op, it.memory[addr:]), nil
}

// LoadSlot widens n little-endian bytes into a slot per the opcode's
// signedness.
func LoadSlot(op Opcode, mem []byte) uint64 {
	switch op {
	case OpLoad8S:
		return uint64(int64(int8(mem[0])))
	case OpLoad8U:
		return uint64(mem[0])
	case OpLoad16S:
		return uint64(int64(int16(binary.LittleEndian.Uint16(mem))))
	case OpLoad16U:
		return uint64(binary.LittleEndian.Uint16(mem))
	case OpLoad32, OpLoad32S:
		return uint64(int64(int32(binary.LittleEndian.Uint32(mem))))
	case OpLoad32U:
		return uint64(binary.LittleEndian.Uint32(mem))
	default:
		return binary.LittleEndian.Uint64(mem)
	}
}

func (it *Interpreter) store(op Opcode, base, staticOffset uint32, val uint64) *wasm.Trap {
	addr := base + staticOffset
	var n uint32
	switch op {
	case OpStore8:
		n = 1
	case OpStore16:
		n = 2
	case OpStore32:
		n = 4
	default:
		n = 8
	}
	if !it.inBounds(addr, n) {
		return wasm.NewTrap(wasm.TrapMemoryBoundsViolation)
	}
	StoreSlot(op, it.memory[addr:], val)
	return nil
}

// StoreSlot truncates val to the opcode's width and writes little-endian.
func StoreSlot(op Opcode, mem []byte, val uint64) {
	switch op {
	case OpStore8:
		mem[0] = byte(val)
	case OpStore16:
		binary.LittleEndian.PutUint16(mem, uint16(val))
	case OpStore32:
		binary.LittleEndian.PutUint32(mem, uint32(val))
	default:
		binary.LittleEndian.PutUint64(mem, val)
	}
}
