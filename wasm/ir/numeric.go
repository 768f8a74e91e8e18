package ir

import (
	"math"
	"math/bits"

	"github.com/kpio-os/wasmcore/internal/moremath"
	"github.com/kpio-os/wasmcore/wasm"
)

// Scalar evaluation shared by the reference interpreter and the full
// executor: keeping one implementation makes the differential contract
// between the two engines structural rather than aspirational.
//
// Slot convention: i32 values ride sign-extended in the 64-bit slot; f32
// values occupy the low half; consumers only read the width the opcode
// names.

func asI32(v uint64) int32    { return int32(uint32(v)) }
func asU32(v uint64) uint32   { return uint32(v) }
func asF32(v uint64) float32  { return math.Float32frombits(uint32(v)) }
func asF64(v uint64) float64  { return math.Float64frombits(v) }
func retI32(v int32) uint64   { return uint64(int64(v)) }
func retU32(v uint32) uint64  { return uint64(int64(int32(v))) }
func retF32(f float32) uint64 { return uint64(math.Float32bits(f)) }
func retF64(f float64) uint64 { return math.Float64bits(f) }

func retBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// EvalBinary evaluates a two-operand scalar opcode. handled is false when
// the opcode is not a binary scalar operation.
func EvalBinary(op Opcode, a, b uint64) (ret uint64, handled bool, trap *wasm.Trap) {
	handled = true
	switch op {
	// i32 arithmetic: two's-complement wrapping, shift counts mod 32.
	case OpI32Add:
		ret = retI32(asI32(a) + asI32(b))
	case OpI32Sub:
		ret = retI32(asI32(a) - asI32(b))
	case OpI32Mul:
		ret = retI32(asI32(a) * asI32(b))
	case OpI32DivS:
		x, y := asI32(a), asI32(b)
		if y == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		if x == math.MinInt32 && y == -1 {
			return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
		}
		ret = retI32(x / y)
	case OpI32DivU:
		if asU32(b) == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		ret = retU32(asU32(a) / asU32(b))
	case OpI32RemS:
		if asI32(b) == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		ret = retI32(asI32(a) % asI32(b))
	case OpI32RemU:
		if asU32(b) == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		ret = retU32(asU32(a) % asU32(b))
	case OpI32And:
		ret = retU32(asU32(a) & asU32(b))
	case OpI32Or:
		ret = retU32(asU32(a) | asU32(b))
	case OpI32Xor:
		ret = retU32(asU32(a) ^ asU32(b))
	case OpI32Shl:
		ret = retU32(asU32(a) << (asU32(b) % 32))
	case OpI32ShrS:
		ret = retI32(asI32(a) >> (asU32(b) % 32))
	case OpI32ShrU:
		ret = retU32(asU32(a) >> (asU32(b) % 32))
	case OpI32Rotl:
		ret = retU32(bits.RotateLeft32(asU32(a), int(asU32(b)%32)))
	case OpI32Rotr:
		ret = retU32(bits.RotateLeft32(asU32(a), -int(asU32(b)%32)))

	// i64 arithmetic.
	case OpI64Add:
		ret = a + b
	case OpI64Sub:
		ret = a - b
	case OpI64Mul:
		ret = a * b
	case OpI64DivS:
		x, y := int64(a), int64(b)
		if y == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		if x == math.MinInt64 && y == -1 {
			return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
		}
		ret = uint64(x / y)
	case OpI64DivU:
		if b == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		ret = a / b
	case OpI64RemS:
		if b == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		ret = uint64(int64(a) % int64(b))
	case OpI64RemU:
		if b == 0 {
			return 0, true, wasm.NewTrap(wasm.TrapDivisionByZero)
		}
		ret = a % b
	case OpI64And:
		ret = a & b
	case OpI64Or:
		ret = a | b
	case OpI64Xor:
		ret = a ^ b
	case OpI64Shl:
		ret = a << (b % 64)
	case OpI64ShrS:
		ret = uint64(int64(a) >> (b % 64))
	case OpI64ShrU:
		ret = a >> (b % 64)
	case OpI64Rotl:
		ret = bits.RotateLeft64(a, int(b%64))
	case OpI64Rotr:
		ret = bits.RotateLeft64(a, -int(b%64))

	// i32 comparisons.
	case OpI32Eq:
		ret = retBool(asI32(a) == asI32(b))
	case OpI32Ne:
		ret = retBool(asI32(a) != asI32(b))
	case OpI32LtS:
		ret = retBool(asI32(a) < asI32(b))
	case OpI32LtU:
		ret = retBool(asU32(a) < asU32(b))
	case OpI32GtS:
		ret = retBool(asI32(a) > asI32(b))
	case OpI32GtU:
		ret = retBool(asU32(a) > asU32(b))
	case OpI32LeS:
		ret = retBool(asI32(a) <= asI32(b))
	case OpI32LeU:
		ret = retBool(asU32(a) <= asU32(b))
	case OpI32GeS:
		ret = retBool(asI32(a) >= asI32(b))
	case OpI32GeU:
		ret = retBool(asU32(a) >= asU32(b))

	// i64 comparisons.
	case OpI64Eq:
		ret = retBool(a == b)
	case OpI64Ne:
		ret = retBool(a != b)
	case OpI64LtS:
		ret = retBool(int64(a) < int64(b))
	case OpI64LtU:
		ret = retBool(a < b)
	case OpI64GtS:
		ret = retBool(int64(a) > int64(b))
	case OpI64GtU:
		ret = retBool(a > b)
	case OpI64LeS:
		ret = retBool(int64(a) <= int64(b))
	case OpI64LeU:
		ret = retBool(a <= b)
	case OpI64GeS:
		ret = retBool(int64(a) >= int64(b))
	case OpI64GeU:
		ret = retBool(a >= b)

	// f32 arithmetic and comparisons. IEEE exceptions never trap.
	case OpF32Add:
		ret = retF32(asF32(a) + asF32(b))
	case OpF32Sub:
		ret = retF32(asF32(a) - asF32(b))
	case OpF32Mul:
		ret = retF32(asF32(a) * asF32(b))
	case OpF32Div:
		ret = retF32(asF32(a) / asF32(b))
	case OpF32Min:
		ret = retF32(float32(moremath.WasmCompatMin(float64(asF32(a)), float64(asF32(b)))))
	case OpF32Max:
		ret = retF32(float32(moremath.WasmCompatMax(float64(asF32(a)), float64(asF32(b)))))
	case OpF32Copysign:
		ret = retF32(float32(math.Copysign(float64(asF32(a)), float64(asF32(b)))))
	case OpF32Eq:
		ret = retBool(asF32(a) == asF32(b))
	case OpF32Ne:
		ret = retBool(asF32(a) != asF32(b))
	case OpF32Lt:
		ret = retBool(asF32(a) < asF32(b))
	case OpF32Gt:
		ret = retBool(asF32(a) > asF32(b))
	case OpF32Le:
		ret = retBool(asF32(a) <= asF32(b))
	case OpF32Ge:
		ret = retBool(asF32(a) >= asF32(b))

	// f64 arithmetic and comparisons.
	case OpF64Add:
		ret = retF64(asF64(a) + asF64(b))
	case OpF64Sub:
		ret = retF64(asF64(a) - asF64(b))
	case OpF64Mul:
		ret = retF64(asF64(a) * asF64(b))
	case OpF64Div:
		ret = retF64(asF64(a) / asF64(b))
	case OpF64Min:
		ret = retF64(moremath.WasmCompatMin(asF64(a), asF64(b)))
	case OpF64Max:
		ret = retF64(moremath.WasmCompatMax(asF64(a), asF64(b)))
	case OpF64Copysign:
		ret = retF64(math.Copysign(asF64(a), asF64(b)))
	case OpF64Eq:
		ret = retBool(asF64(a) == asF64(b))
	case OpF64Ne:
		ret = retBool(asF64(a) != asF64(b))
	case OpF64Lt:
		ret = retBool(asF64(a) < asF64(b))
	case OpF64Gt:
		ret = retBool(asF64(a) > asF64(b))
	case OpF64Le:
		ret = retBool(asF64(a) <= asF64(b))
	case OpF64Ge:
		ret = retBool(asF64(a) >= asF64(b))

	default:
		handled = false
	}
	return
}

// EvalUnary evaluates a one-operand scalar opcode. handled is false when
// the opcode is not a unary scalar operation.
func EvalUnary(op Opcode, v uint64) (ret uint64, handled bool, trap *wasm.Trap) {
	handled = true
	switch op {
	case OpI32Eqz:
		ret = retBool(asU32(v) == 0)
	case OpI64Eqz:
		ret = retBool(v == 0)
	case OpI32Clz:
		ret = retU32(uint32(bits.LeadingZeros32(asU32(v))))
	case OpI32Ctz:
		ret = retU32(uint32(bits.TrailingZeros32(asU32(v))))
	case OpI32Popcnt:
		ret = retU32(uint32(bits.OnesCount32(asU32(v))))
	case OpI64Clz:
		ret = uint64(bits.LeadingZeros64(v))
	case OpI64Ctz:
		ret = uint64(bits.TrailingZeros64(v))
	case OpI64Popcnt:
		ret = uint64(bits.OnesCount64(v))

	case OpF32Abs:
		ret = retF32(float32(math.Abs(float64(asF32(v)))))
	case OpF32Neg:
		ret = retF32(-asF32(v))
	case OpF32Ceil:
		ret = retF32(float32(math.Ceil(float64(asF32(v)))))
	case OpF32Floor:
		ret = retF32(float32(math.Floor(float64(asF32(v)))))
	case OpF32Trunc:
		ret = retF32(float32(math.Trunc(float64(asF32(v)))))
	case OpF32Nearest:
		ret = retF32(moremath.WasmCompatNearestF32(asF32(v)))
	case OpF32Sqrt:
		ret = retF32(float32(math.Sqrt(float64(asF32(v)))))
	case OpF64Abs:
		ret = retF64(math.Abs(asF64(v)))
	case OpF64Neg:
		ret = retF64(-asF64(v))
	case OpF64Ceil:
		ret = retF64(math.Ceil(asF64(v)))
	case OpF64Floor:
		ret = retF64(math.Floor(asF64(v)))
	case OpF64Trunc:
		ret = retF64(math.Trunc(asF64(v)))
	case OpF64Nearest:
		ret = retF64(moremath.WasmCompatNearestF64(asF64(v)))
	case OpF64Sqrt:
		ret = retF64(math.Sqrt(asF64(v)))

	case OpI32WrapI64:
		ret = retI32(int32(v))
	case OpI64ExtendI32S:
		ret = uint64(int64(asI32(v)))
	case OpI64ExtendI32U:
		ret = uint64(asU32(v))
	case OpI32Extend8S:
		ret = retI32(int32(int8(v)))
	case OpI32Extend16S:
		ret = retI32(int32(int16(v)))
	case OpI64Extend8S:
		ret = uint64(int64(int8(v)))
	case OpI64Extend16S:
		ret = uint64(int64(int16(v)))
	case OpI64Extend32S:
		ret = uint64(int64(int32(v)))

	case OpI32TruncF32S:
		return truncToI32(float64(asF32(v)), true, false)
	case OpI32TruncF32U:
		return truncToI32(float64(asF32(v)), false, false)
	case OpI32TruncF64S:
		return truncToI32(asF64(v), true, false)
	case OpI32TruncF64U:
		return truncToI32(asF64(v), false, false)
	case OpI64TruncF32S:
		return truncToI64(float64(asF32(v)), true, false)
	case OpI64TruncF32U:
		return truncToI64(float64(asF32(v)), false, false)
	case OpI64TruncF64S:
		return truncToI64(asF64(v), true, false)
	case OpI64TruncF64U:
		return truncToI64(asF64(v), false, false)

	case OpI32TruncSatF32S:
		return truncToI32(float64(asF32(v)), true, true)
	case OpI32TruncSatF32U:
		return truncToI32(float64(asF32(v)), false, true)
	case OpI32TruncSatF64S:
		return truncToI32(asF64(v), true, true)
	case OpI32TruncSatF64U:
		return truncToI32(asF64(v), false, true)
	case OpI64TruncSatF32S:
		return truncToI64(float64(asF32(v)), true, true)
	case OpI64TruncSatF32U:
		return truncToI64(float64(asF32(v)), false, true)
	case OpI64TruncSatF64S:
		return truncToI64(asF64(v), true, true)
	case OpI64TruncSatF64U:
		return truncToI64(asF64(v), false, true)

	case OpF32ConvertI32S:
		ret = retF32(float32(asI32(v)))
	case OpF32ConvertI32U:
		ret = retF32(float32(asU32(v)))
	case OpF32ConvertI64S:
		ret = retF32(float32(int64(v)))
	case OpF32ConvertI64U:
		ret = retF32(float32(v))
	case OpF64ConvertI32S:
		ret = retF64(float64(asI32(v)))
	case OpF64ConvertI32U:
		ret = retF64(float64(asU32(v)))
	case OpF64ConvertI64S:
		ret = retF64(float64(int64(v)))
	case OpF64ConvertI64U:
		ret = retF64(float64(v))
	case OpF32DemoteF64:
		ret = retF32(float32(asF64(v)))
	case OpF64PromoteF32:
		ret = retF64(float64(asF32(v)))

	case OpI32ReinterpretF32:
		ret = retU32(asU32(v))
	case OpI64ReinterpretF64, OpF64ReinterpretI64:
		ret = v
	case OpF32ReinterpretI32:
		ret = uint64(asU32(v))

	case OpRefIsNull:
		ret = retBool(v == 0)

	default:
		handled = false
	}
	return
}

func truncToI32(f float64, signed, sat bool) (uint64, bool, *wasm.Trap) {
	if math.IsNaN(f) {
		if sat {
			return 0, true, nil
		}
		return 0, true, wasm.NewTrap(wasm.TrapInvalidConversionToInteger)
	}
	f = math.Trunc(f)
	if signed {
		if f < math.MinInt32 {
			if sat {
				return retI32(math.MinInt32), true, nil
			}
			return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
		}
		if f > math.MaxInt32 {
			if sat {
				return retI32(math.MaxInt32), true, nil
			}
			return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
		}
		return retI32(int32(f)), true, nil
	}
	if f < 0 {
		if sat {
			return 0, true, nil
		}
		return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
	}
	if f > math.MaxUint32 {
		if sat {
			return retU32(math.MaxUint32), true, nil
		}
		return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
	}
	return retU32(uint32(f)), true, nil
}

func truncToI64(f float64, signed, sat bool) (uint64, bool, *wasm.Trap) {
	if math.IsNaN(f) {
		if sat {
			return 0, true, nil
		}
		return 0, true, wasm.NewTrap(wasm.TrapInvalidConversionToInteger)
	}
	f = math.Trunc(f)
	if signed {
		// The positive bound is exclusive: 2^63 is not representable.
		if f < math.MinInt64 {
			if sat {
				return uint64(math.MinInt64), true, nil
			}
			return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
		}
		if f >= 9223372036854775808.0 { // 2^63 is not representable
			if sat {
				return uint64(math.MaxInt64), true, nil
			}
			return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
		}
		return uint64(int64(f)), true, nil
	}
	if f < 0 {
		if sat {
			return 0, true, nil
		}
		return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
	}
	if f >= 18446744073709551616.0 {
		if sat {
			return math.MaxUint64, true, nil
		}
		return 0, true, wasm.NewTrap(wasm.TrapIntegerOverflow)
	}
	return uint64(f), true, nil
}
