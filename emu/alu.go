// Package emu provides functional emulation of lifted IL.
package emu

import (
	"github.com/sarchlab/emilator/il"
)

// binaryFunc computes a binary operation on operands already evaluated;
// size is the result width in bytes.
type binaryFunc func(a, b uint64, size int) uint64

// unaryFunc computes a unary operation; srcSize is the operand width.
type unaryFunc func(v uint64, srcSize, size int) uint64

var binaryOps = map[il.Op]binaryFunc{
	il.OpAdd: func(a, b uint64, _ int) uint64 { return a + b },
	il.OpSub: func(a, b uint64, _ int) uint64 { return a - b },
	il.OpAnd: func(a, b uint64, _ int) uint64 { return a & b },
	il.OpOr:  func(a, b uint64, _ int) uint64 { return a | b },
	il.OpXor: func(a, b uint64, _ int) uint64 { return a ^ b },
	il.OpMul: func(a, b uint64, _ int) uint64 { return a * b },
	il.OpLsl: lsl,
	il.OpLsr: lsr,
	il.OpAsr: asr,
}

var unaryOps = map[il.Op]unaryFunc{
	il.OpNeg: func(v uint64, _, _ int) uint64 { return -v },
	il.OpNot: func(v uint64, _, _ int) uint64 { return ^v },
	il.OpZx: func(v uint64, srcSize, _ int) uint64 {
		return Mask(v, srcSize)
	},
	il.OpSx: func(v uint64, srcSize, _ int) uint64 {
		if srcSize <= 0 {
			return v
		}
		return uint64(SignExtend(v, srcSize))
	},
	il.OpLowPart: func(v uint64, _, _ int) uint64 { return v },
}

func registerALUHandlers() {
	for op, fn := range binaryOps {
		RegisterHandler(op, binaryHandler(fn))
	}

	for op, fn := range unaryOps {
		RegisterHandler(op, unaryHandler(fn))
	}
}

// bits returns the result width in bits; unsized expressions are 64-bit.
func bits(size int) uint64 {
	if size <= 0 || size >= 8 {
		return 64
	}
	return uint64(size) * 8
}

// lsl shifts left; shifting by the width or more yields 0.
func lsl(a, b uint64, size int) uint64 {
	if b >= bits(size) {
		return 0
	}
	return a << b
}

// lsr shifts right logically within the result width.
func lsr(a, b uint64, size int) uint64 {
	if b >= bits(size) {
		return 0
	}
	return Mask(a, size) >> b
}

// asr shifts right arithmetically within the result width.
func asr(a, b uint64, size int) uint64 {
	signed := int64(a)
	if size > 0 && size < 8 {
		signed = SignExtend(a, size)
	}
	if b >= bits(size) {
		b = bits(size) - 1
	}
	return uint64(signed >> b)
}

// binaryHandler evaluates Left then Right and masks the result to Size.
func binaryHandler(fn binaryFunc) Handler {
	return func(expr *il.Expression, e *Emulator) (Result, error) {
		a, err := e.EvaluateValue(expr.Left)
		if err != nil {
			return Result{}, err
		}

		b, err := e.EvaluateValue(expr.Right)
		if err != nil {
			return Result{}, err
		}

		return Defined(Mask(fn(a, b, expr.Size), expr.Size)), nil
	}
}

// unaryHandler evaluates Src and masks the result to Size.
func unaryHandler(fn unaryFunc) Handler {
	return func(expr *il.Expression, e *Emulator) (Result, error) {
		v, err := e.EvaluateValue(expr.Src)
		if err != nil {
			return Result{}, err
		}

		return Defined(Mask(fn(v, expr.Src.Size, expr.Size), expr.Size)), nil
	}
}
