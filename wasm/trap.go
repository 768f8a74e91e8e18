package wasm

import (
	"errors"
	"fmt"
)

// TrapKind classifies runtime aborts of guest execution. A trap terminates
// the current call and is not recoverable by the guest.
type TrapKind uint8

const (
	TrapUnreachable TrapKind = iota
	TrapDivisionByZero
	TrapIntegerOverflow
	TrapInvalidConversionToInteger
	TrapMemoryBoundsViolation
	TrapStackUnderflow
	TrapStackOverflow
	TrapCallStackExhausted
	TrapInvalidLocal
	TrapInvalidBranch
	TrapIndirectCallTypeMismatch
	TrapUndefinedElement
	TrapProcessExit
)

func (k TrapKind) String() string {
	switch k {
	case TrapUnreachable:
		return "unreachable executed"
	case TrapDivisionByZero:
		return "integer division by zero"
	case TrapIntegerOverflow:
		return "integer overflow"
	case TrapInvalidConversionToInteger:
		return "invalid conversion to integer"
	case TrapMemoryBoundsViolation:
		return "out of bounds memory access"
	case TrapStackUnderflow:
		return "value stack underflow"
	case TrapStackOverflow:
		return "value stack overflow"
	case TrapCallStackExhausted:
		return "call stack exhausted"
	case TrapInvalidLocal:
		return "invalid local index"
	case TrapInvalidBranch:
		return "invalid branch depth"
	case TrapIndirectCallTypeMismatch:
		return "indirect call type mismatch"
	case TrapUndefinedElement:
		return "undefined table element"
	case TrapProcessExit:
		return "process exit"
	}
	return "unknown trap"
}

// Trap is the error value produced when guest execution aborts. Offset and
// FuncIndices are best-effort diagnostics.
type Trap struct {
	Kind TrapKind

	// Index is the offending local index for TrapInvalidLocal and the
	// element index for TrapUndefinedElement.
	Index uint32

	// ExitCode is set for TrapProcessExit.
	ExitCode uint32

	// Offset is the byte offset of the faulting instruction within its
	// function body, when known.
	Offset uint32

	// FuncIndices is the call stack at the point of the trap, innermost
	// first, when known.
	FuncIndices []uint32
}

func (t *Trap) Error() string {
	switch t.Kind {
	case TrapProcessExit:
		return fmt.Sprintf("module closed with exit_code(%d)", t.ExitCode)
	case TrapInvalidLocal:
		return fmt.Sprintf("wasm trap: %s %d", t.Kind, t.Index)
	case TrapUndefinedElement:
		return fmt.Sprintf("wasm trap: %s (element %d)", t.Kind, t.Index)
	}
	return "wasm trap: " + t.Kind.String()
}

// NewTrap returns a Trap of the given kind.
func NewTrap(kind TrapKind) *Trap {
	return &Trap{Kind: kind}
}

// ExitTrap returns the trap raised by proc_exit.
func ExitTrap(code uint32) *Trap {
	return &Trap{Kind: TrapProcessExit, ExitCode: code}
}

// AsTrap returns the Trap wrapped in err, if any.
func AsTrap(err error) (*Trap, bool) {
	var t *Trap
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// ExitCodeOf reports the proc_exit code carried by err, if it is a
// process-exit trap.
func ExitCodeOf(err error) (uint32, bool) {
	if t, ok := AsTrap(err); ok && t.Kind == TrapProcessExit {
		return t.ExitCode, true
	}
	return 0, false
}
