// Package emu provides functional emulation of lifted IL.
package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/emilator/il"
)

// Sentinel errors.
var (
	// ErrNilExpression is returned when asked to evaluate a nil expression.
	ErrNilExpression = errors.New("nil expression")

	// ErrMaxInstructions is returned by Step once the instruction limit is hit.
	ErrMaxInstructions = errors.New("max instructions reached")

	// ErrNoStackPointer is returned by PUSH and POP when the architecture
	// declares no stack pointer.
	ErrNoStackPointer = errors.New("architecture has no stack pointer")

	// ErrSegmentOverlap is returned when mapping over an existing segment.
	ErrSegmentOverlap = errors.New("segment overlaps an existing mapping")

	// ErrNoFreeSegment is returned when no gap in the address space is
	// large enough for a requested mapping.
	ErrNoFreeSegment = errors.New("no free address range")

	// ErrShortBuffer is returned by Decode when fewer bytes than the width
	// are given.
	ErrShortBuffer = errors.New("short buffer")
)

// UnimplementedOperationError reports an operation kind that has no handler
// and no hook to absorb it.
type UnimplementedOperationError struct {
	Op il.Op
}

func (e *UnimplementedOperationError) Error() string {
	return fmt.Sprintf("unimplemented operation %s", e.Op)
}

// UnsupportedWidthError reports an access width outside {1, 2, 4, 8}.
type UnsupportedWidthError struct {
	Size int
}

func (e *UnsupportedWidthError) Error() string {
	return fmt.Sprintf("unsupported width %d", e.Size)
}

// UnknownRegisterError reports a read of a register the state does not hold.
type UnknownRegisterError struct {
	Reg il.Register
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register %q", e.Reg)
}

// MemoryAccessError reports an access to an unmapped address or one the
// segment permissions forbid.
type MemoryAccessError struct {
	Address uint64
	Size    int
	Reason  string
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access error at 0x%X (%d bytes): %s",
		e.Address, e.Size, e.Reason)
}

// UndefinedValueError reports that a sub-expression produced no value where
// one was required, e.g. the source of SET_REG was absorbed by a hook.
type UndefinedValueError struct {
	Op il.Op
}

func (e *UndefinedValueError) Error() string {
	return fmt.Sprintf("%s produced no value", e.Op)
}

// IsUnimplemented reports whether err is, or wraps, an
// UnimplementedOperationError.
func IsUnimplemented(err error) bool {
	var target *UnimplementedOperationError
	return errors.As(err, &target)
}
