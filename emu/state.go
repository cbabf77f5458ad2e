// Package emu provides functional emulation of lifted IL.
package emu

import (
	"github.com/sarchlab/emilator/il"
)

// State is the register and memory storage an Emulator evaluates against.
// Hosts that keep their own machine state implement it; Machine is the
// built-in implementation.
type State interface {
	// GetRegisterValue returns the value of reg, or an error if reg is
	// unknown.
	GetRegisterValue(reg il.Register) (uint64, error)

	// SetRegisterValue stores value in reg.
	SetRegisterValue(reg il.Register, value uint64) error

	// ReadMemory reads a size-byte value at addr, decoded in the state's
	// byte order.
	ReadMemory(addr uint64, size int) (uint64, error)

	// WriteMemory writes raw bytes at addr.
	WriteMemory(addr uint64, data []byte) error

	// Endianness returns the byte order of the emulated architecture.
	Endianness() il.Endianness
}

// Machine is a State backed by a RegFile and a segmented Memory.
type Machine struct {
	arch    il.Arch
	regFile *RegFile
	memory  *Memory
}

// NewMachine creates an empty machine for the given architecture.
func NewMachine(arch il.Arch) *Machine {
	return &Machine{
		arch:    arch,
		regFile: NewRegFile(),
		memory:  NewMemory(arch.AddressSize),
	}
}

// Arch returns the machine's architecture.
func (m *Machine) Arch() il.Arch {
	return m.arch
}

// RegFile returns the machine's register file.
func (m *Machine) RegFile() *RegFile {
	return m.regFile
}

// Memory returns the machine's memory.
func (m *Machine) Memory() *Memory {
	return m.memory
}

// GetRegisterValue implements State.
func (m *Machine) GetRegisterValue(reg il.Register) (uint64, error) {
	return m.regFile.ReadReg(reg)
}

// SetRegisterValue implements State.
func (m *Machine) SetRegisterValue(reg il.Register, value uint64) error {
	m.regFile.WriteReg(reg, value)
	return nil
}

// ReadMemory implements State.
func (m *Machine) ReadMemory(addr uint64, size int) (uint64, error) {
	if err := CheckWidth(size); err != nil {
		return 0, err
	}

	data, err := m.memory.Read(addr, size)
	if err != nil {
		return 0, err
	}

	return Decode(data, size, m.arch.Endianness)
}

// WriteMemory implements State.
func (m *Machine) WriteMemory(addr uint64, data []byte) error {
	return m.memory.Write(addr, data)
}

// Endianness implements State.
func (m *Machine) Endianness() il.Endianness {
	return m.arch.Endianness
}
