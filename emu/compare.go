// Package emu provides functional emulation of lifted IL.
package emu

import (
	"github.com/sarchlab/emilator/il"
)

// compareFunc decides a comparison. Operands are truncated to the operand
// width; s and t are their sign-extended forms.
type compareFunc func(a, b uint64, s, t int64) bool

var compareOps = map[il.Op]compareFunc{
	il.OpCmpE:   func(a, b uint64, _, _ int64) bool { return a == b },
	il.OpCmpNE:  func(a, b uint64, _, _ int64) bool { return a != b },
	il.OpCmpULT: func(a, b uint64, _, _ int64) bool { return a < b },
	il.OpCmpULE: func(a, b uint64, _, _ int64) bool { return a <= b },
	il.OpCmpUGE: func(a, b uint64, _, _ int64) bool { return a >= b },
	il.OpCmpUGT: func(a, b uint64, _, _ int64) bool { return a > b },
	il.OpCmpSLT: func(_, _ uint64, s, t int64) bool { return s < t },
	il.OpCmpSLE: func(_, _ uint64, s, t int64) bool { return s <= t },
	il.OpCmpSGE: func(_, _ uint64, s, t int64) bool { return s >= t },
	il.OpCmpSGT: func(_, _ uint64, s, t int64) bool { return s > t },
}

func registerCompareHandlers() {
	for op, fn := range compareOps {
		RegisterHandler(op, compareHandler(fn))
	}
}

// operandSize is the width comparisons are performed at: the left operand's
// size, falling back to the expression's.
func operandSize(expr *il.Expression) int {
	if expr.Left != nil && expr.Left.Size > 0 {
		return expr.Left.Size
	}
	if expr.Size > 0 {
		return expr.Size
	}
	return 8
}

// compareHandler evaluates Left then Right and yields 1 or 0.
func compareHandler(fn compareFunc) Handler {
	return func(expr *il.Expression, e *Emulator) (Result, error) {
		a, err := e.EvaluateValue(expr.Left)
		if err != nil {
			return Result{}, err
		}

		b, err := e.EvaluateValue(expr.Right)
		if err != nil {
			return Result{}, err
		}

		size := operandSize(expr)
		a, b = Mask(a, size), Mask(b, size)

		if fn(a, b, SignExtend(a, size), SignExtend(b, size)) {
			return Defined(1), nil
		}
		return Defined(0), nil
	}
}
