// Package il provides low-level IL definitions and decoding.
package il

import (
	"fmt"
	"strings"
)

// Register names a machine register. It is opaque to the emulator beyond
// being a lookup key.
type Register string

// Endianness is the byte order of an architecture.
type Endianness uint8

// Byte orders.
const (
	LittleEndian Endianness = iota
	BigEndian
)

// String returns "little" or "big".
func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// MarshalText implements encoding.TextMarshaler.
func (e Endianness) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Endianness) UnmarshalText(text []byte) error {
	v, err := ParseEndianness(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// ParseEndianness accepts "little", "big" and the host's "LittleEndian" and
// "BigEndian" spellings.
func ParseEndianness(s string) (Endianness, error) {
	switch strings.ToLower(s) {
	case "little", "le", "littleendian":
		return LittleEndian, nil
	case "big", "be", "bigendian":
		return BigEndian, nil
	default:
		return LittleEndian, fmt.Errorf("unknown endianness %q", s)
	}
}

// Arch holds the architecture metadata the emulator needs.
type Arch struct {
	Name       string     `json:"name"`
	Endianness Endianness `json:"endianness"`

	// AddressSize is the pointer width in bytes.
	AddressSize int `json:"address_size"`

	// StackPointer is the register used by PUSH and POP. Empty if the
	// architecture has none.
	StackPointer Register `json:"stack_pointer,omitempty"`
}

// DefaultArch is a little-endian 64-bit architecture with an "sp" register.
func DefaultArch() Arch {
	return Arch{
		Name:         "generic64",
		Endianness:   LittleEndian,
		AddressSize:  8,
		StackPointer: "sp",
	}
}

// Expression is a node of an IL expression tree.
type Expression struct {
	Op   Op  // Operation kind
	Size int // Result width in bytes (1, 2, 4 or 8)

	// Register operand: source for REG, destination for SET_REG.
	Reg Register

	// Literal for CONST and CONST_PTR.
	Value uint64

	// Sub-expressions
	Src   *Expression // Value, address (LOAD) or unary operand
	Dest  *Expression // Address for STORE, target for JUMP/CALL
	Left  *Expression // First operand of binary operations
	Right *Expression // Second operand of binary operations

	// Instruction index for GOTO, and the true branch of IF.
	Target int
	// Instruction index for the false branch of IF.
	FalseTarget int

	// Address is the native address the instruction was lifted from.
	Address uint64
}

// String renders the expression in a compact prefix form.
func (e *Expression) String() string {
	if e == nil {
		return "<nil>"
	}

	switch e.Op {
	case OpConst, OpConstPtr:
		return fmt.Sprintf("0x%x", e.Value)
	case OpReg:
		return string(e.Reg)
	case OpSetReg:
		return fmt.Sprintf("%s = %s", e.Reg, e.Src)
	case OpLoad:
		return fmt.Sprintf("[%s].%d", e.Src, e.Size)
	case OpStore:
		return fmt.Sprintf("[%s].%d = %s", e.Dest, e.Size, e.Src)
	case OpGoto:
		return fmt.Sprintf("goto %d", e.Target)
	}

	var args []string
	for _, sub := range []*Expression{e.Left, e.Right, e.Src, e.Dest} {
		if sub != nil {
			args = append(args, sub.String())
		}
	}

	return fmt.Sprintf("%s.%d(%s)", e.Op, e.Size, strings.Join(args, ", "))
}

// Function is a lifted function: an architecture and its instruction list.
type Function struct {
	Name         string
	Arch         Arch
	Instructions []*Expression
}

// Const builds a CONST expression.
func Const(size int, value uint64) *Expression {
	return &Expression{Op: OpConst, Size: size, Value: value}
}

// Reg builds a REG expression.
func Reg(size int, reg Register) *Expression {
	return &Expression{Op: OpReg, Size: size, Reg: reg}
}

// SetReg builds a SET_REG expression.
func SetReg(size int, reg Register, src *Expression) *Expression {
	return &Expression{Op: OpSetReg, Size: size, Reg: reg, Src: src}
}

// Load builds a LOAD expression.
func Load(size int, addr *Expression) *Expression {
	return &Expression{Op: OpLoad, Size: size, Src: addr}
}

// Store builds a STORE expression.
func Store(size int, addr, value *Expression) *Expression {
	return &Expression{Op: OpStore, Size: size, Dest: addr, Src: value}
}

// Binary builds a two-operand expression such as ADD or CMP_E.
func Binary(op Op, size int, left, right *Expression) *Expression {
	return &Expression{Op: op, Size: size, Left: left, Right: right}
}

// Unary builds a one-operand expression such as NEG or ZX.
func Unary(op Op, size int, src *Expression) *Expression {
	return &Expression{Op: op, Size: size, Src: src}
}
