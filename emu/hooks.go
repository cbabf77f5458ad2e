// Package emu provides functional emulation of lifted IL.
package emu

import (
	"github.com/sarchlab/emilator/il"
)

// Hook observes every evaluation of one operation kind. Hooks run before the
// kind's handler, in the order they were added. A non-nil error aborts the
// evaluation.
type Hook func(expr *il.Expression, e *Emulator) error

// AddHook appends h to the hooks of op. Existing hooks are kept.
func (e *Emulator) AddHook(op il.Op, h Hook) {
	e.hooks[op] = append(e.hooks[op], h)
}

// HooksFor returns the hooks of op in invocation order.
func (e *Emulator) HooksFor(op il.Op) []Hook {
	hooks := e.hooks[op]
	out := make([]Hook, len(hooks))
	copy(out, hooks)
	return out
}

// ClearHooks removes every hook of op.
func (e *Emulator) ClearHooks(op il.Op) {
	delete(e.hooks, op)
}
