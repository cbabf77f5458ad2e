// Package emu provides functional emulation of lifted IL.
package emu

import (
	"sort"

	"github.com/sarchlab/emilator/il"
)

// Result is the outcome of evaluating an expression. Operations evaluated
// only for their side effects, and operations absorbed by hooks, produce a
// Result with Defined set to false.
type Result struct {
	Value   uint64
	Defined bool
}

// Defined wraps a value in a defined Result.
func Defined(v uint64) Result {
	return Result{Value: v, Defined: true}
}

// Handler evaluates one operation kind. Handlers evaluate sub-expressions
// through e.Evaluate.
type Handler func(expr *il.Expression, e *Emulator) (Result, error)

// handlers is shared by every Emulator. It is written by init functions and
// by RegisterHandler calls made before the first evaluation, and only read
// afterwards, so it carries no lock.
var handlers = make(map[il.Op]Handler)

func init() {
	registerCoreHandlers()
	registerLoadStoreHandlers()
	registerALUHandlers()
	registerCompareHandlers()
}

// RegisterHandler sets the handler for op, replacing any previous one.
// Registering a nil handler removes the registration. It must not be called
// concurrently with evaluation.
func RegisterHandler(op il.Op, h Handler) {
	if h == nil {
		delete(handlers, op)
		return
	}
	handlers[op] = h
}

// LookupHandler returns the handler registered for op. Kinds without a
// handler get one that fails with UnimplementedOperationError.
func LookupHandler(op il.Op) Handler {
	if h, ok := handlers[op]; ok {
		return h
	}
	return unimplementedHandler
}

// HasHandler reports whether a handler is registered for op.
func HasHandler(op il.Op) bool {
	_, ok := handlers[op]
	return ok
}

// RegisteredOps returns the kinds with a handler, in ascending order.
func RegisteredOps() []il.Op {
	ops := make([]il.Op, 0, len(handlers))
	for op := range handlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

func unimplementedHandler(expr *il.Expression, _ *Emulator) (Result, error) {
	return Result{}, &UnimplementedOperationError{Op: expr.Op}
}
