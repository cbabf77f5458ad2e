// Package emu provides functional emulation of lifted IL.
package emu

import (
	"sort"

	"github.com/sarchlab/emilator/il"
)

// RegFile holds register values by name.
//
// A register exists once it has been declared or written. Declared widths
// truncate written values; registers created by a write are 8 bytes wide.
type RegFile struct {
	values map[il.Register]uint64
	widths map[il.Register]int
}

// NewRegFile creates an empty register file.
func NewRegFile() *RegFile {
	return &RegFile{
		values: make(map[il.Register]uint64),
		widths: make(map[il.Register]int),
	}
}

// Declare adds a register of the given width in bytes, initialized to 0.
// Redeclaring a register keeps its value, truncated to the new width.
func (r *RegFile) Declare(reg il.Register, size int) {
	r.widths[reg] = size
	r.values[reg] = Mask(r.values[reg], size)
}

// Has reports whether the register exists.
func (r *RegFile) Has(reg il.Register) bool {
	_, ok := r.values[reg]
	return ok
}

// Width returns the register width in bytes, or 0 if it does not exist.
func (r *RegFile) Width(reg il.Register) int {
	if !r.Has(reg) {
		return 0
	}
	if w, ok := r.widths[reg]; ok {
		return w
	}
	return 8
}

// ReadReg reads a register value.
func (r *RegFile) ReadReg(reg il.Register) (uint64, error) {
	v, ok := r.values[reg]
	if !ok {
		return 0, &UnknownRegisterError{Reg: reg}
	}
	return v, nil
}

// WriteReg writes a register value, truncated to the register width.
func (r *RegFile) WriteReg(reg il.Register, value uint64) {
	if w, ok := r.widths[reg]; ok {
		value = Mask(value, w)
	}
	r.values[reg] = value
}

// Names returns the names of all registers in lexical order.
func (r *RegFile) Names() []il.Register {
	names := make([]il.Register, 0, len(r.values))
	for reg := range r.values {
		names = append(names, reg)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Snapshot returns a copy of all register values.
func (r *RegFile) Snapshot() map[il.Register]uint64 {
	out := make(map[il.Register]uint64, len(r.values))
	for reg, v := range r.values {
		out[reg] = v
	}
	return out
}
