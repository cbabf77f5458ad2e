// Package emu provides functional emulation of lifted IL.
package emu

import (
	"github.com/sarchlab/emilator/il"
)

func registerCoreHandlers() {
	RegisterHandler(il.OpNop, evalNop)
	RegisterHandler(il.OpConst, evalConst)
	RegisterHandler(il.OpConstPtr, evalConst)
	RegisterHandler(il.OpReg, evalReg)
	RegisterHandler(il.OpSetReg, evalSetReg)
}

func evalNop(_ *il.Expression, _ *Emulator) (Result, error) {
	return Result{}, nil
}

// evalConst returns the literal verbatim.
func evalConst(expr *il.Expression, _ *Emulator) (Result, error) {
	return Defined(expr.Value), nil
}

func evalReg(expr *il.Expression, e *Emulator) (Result, error) {
	v, err := e.GetRegisterValue(expr.Reg)
	if err != nil {
		return Result{}, err
	}
	return Defined(v), nil
}

func evalSetReg(expr *il.Expression, e *Emulator) (Result, error) {
	v, err := e.EvaluateValue(expr.Src)
	if err != nil {
		return Result{}, err
	}

	return Result{}, e.SetRegisterValue(expr.Reg, v)
}
