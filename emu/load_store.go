// Package emu provides functional emulation of lifted IL.
package emu

import (
	"github.com/sarchlab/emilator/il"
)

func registerLoadStoreHandlers() {
	RegisterHandler(il.OpLoad, evalLoad)
	RegisterHandler(il.OpStore, evalStore)
	RegisterHandler(il.OpPush, evalPush)
	RegisterHandler(il.OpPop, evalPop)
}

// evalLoad reads a Size-byte value at the address computed by Src.
func evalLoad(expr *il.Expression, e *Emulator) (Result, error) {
	addr, err := e.EvaluateValue(expr.Src)
	if err != nil {
		return Result{}, err
	}

	if err := CheckWidth(expr.Size); err != nil {
		return Result{}, err
	}

	v, err := e.ReadMemory(addr, expr.Size)
	if err != nil {
		return Result{}, err
	}

	return Defined(v), nil
}

// evalStore writes Src to the address computed by Dest. The address is
// evaluated before the value.
func evalStore(expr *il.Expression, e *Emulator) (Result, error) {
	addr, err := e.EvaluateValue(expr.Dest)
	if err != nil {
		return Result{}, err
	}

	value, err := e.EvaluateValue(expr.Src)
	if err != nil {
		return Result{}, err
	}

	data, err := Encode(value, expr.Size, e.Endianness())
	if err != nil {
		return Result{}, err
	}

	return Result{}, e.WriteMemory(addr, data)
}

func (e *Emulator) stackPointer() (il.Register, uint64, error) {
	sp := e.arch.StackPointer
	if sp == "" {
		return "", 0, ErrNoStackPointer
	}

	v, err := e.GetRegisterValue(sp)
	if err != nil {
		return "", 0, err
	}

	return sp, v, nil
}

// evalPush decrements the stack pointer by Size and stores Src there.
func evalPush(expr *il.Expression, e *Emulator) (Result, error) {
	value, err := e.EvaluateValue(expr.Src)
	if err != nil {
		return Result{}, err
	}

	data, err := Encode(value, expr.Size, e.Endianness())
	if err != nil {
		return Result{}, err
	}

	sp, spValue, err := e.stackPointer()
	if err != nil {
		return Result{}, err
	}

	spValue = Mask(spValue-uint64(expr.Size), e.arch.AddressSize)
	if err := e.WriteMemory(spValue, data); err != nil {
		return Result{}, err
	}

	return Result{}, e.SetRegisterValue(sp, spValue)
}

// evalPop loads a Size-byte value from the stack pointer and increments it.
func evalPop(expr *il.Expression, e *Emulator) (Result, error) {
	if err := CheckWidth(expr.Size); err != nil {
		return Result{}, err
	}

	sp, spValue, err := e.stackPointer()
	if err != nil {
		return Result{}, err
	}

	v, err := e.ReadMemory(spValue, expr.Size)
	if err != nil {
		return Result{}, err
	}

	spValue = Mask(spValue+uint64(expr.Size), e.arch.AddressSize)
	if err := e.SetRegisterValue(sp, spValue); err != nil {
		return Result{}, err
	}

	return Defined(v), nil
}
