// Package il provides low-level IL definitions and decoding.
package il

import (
	"fmt"
	"sort"
)

// Op identifies the kind of an IL expression. The set of kinds is open:
// any Op value may be used as a handler or hook key.
type Op uint16

// Predefined IL operation kinds.
const (
	OpUnknown Op = iota
	OpNop
	OpConst
	OpConstPtr
	OpReg
	OpSetReg
	OpLoad
	OpStore
	OpPush
	OpPop

	// Arithmetic and logic
	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpLsl
	OpLsr
	OpAsr
	OpMul
	OpNeg
	OpNot
	OpSx
	OpZx
	OpLowPart

	// Comparisons
	OpCmpE
	OpCmpNE
	OpCmpSLT
	OpCmpULT
	OpCmpSLE
	OpCmpULE
	OpCmpSGE
	OpCmpUGE
	OpCmpSGT
	OpCmpUGT

	// Control flow
	OpJump
	OpCall
	OpRet
	OpNoRet
	OpIf
	OpGoto
	OpSyscall
	OpBp
	OpTrap
	OpUndef
	OpUnimpl

	// OpFirstCustom is the first kind value free for extensions.
	OpFirstCustom Op = 0x100
)

var opNames = map[Op]string{
	OpUnknown:  "UNKNOWN",
	OpNop:      "NOP",
	OpConst:    "CONST",
	OpConstPtr: "CONST_PTR",
	OpReg:      "REG",
	OpSetReg:   "SET_REG",
	OpLoad:     "LOAD",
	OpStore:    "STORE",
	OpPush:     "PUSH",
	OpPop:      "POP",
	OpAdd:      "ADD",
	OpSub:      "SUB",
	OpAnd:      "AND",
	OpOr:       "OR",
	OpXor:      "XOR",
	OpLsl:      "LSL",
	OpLsr:      "LSR",
	OpAsr:      "ASR",
	OpMul:      "MUL",
	OpNeg:      "NEG",
	OpNot:      "NOT",
	OpSx:       "SX",
	OpZx:       "ZX",
	OpLowPart:  "LOW_PART",
	OpCmpE:     "CMP_E",
	OpCmpNE:    "CMP_NE",
	OpCmpSLT:   "CMP_SLT",
	OpCmpULT:   "CMP_ULT",
	OpCmpSLE:   "CMP_SLE",
	OpCmpULE:   "CMP_ULE",
	OpCmpSGE:   "CMP_SGE",
	OpCmpUGE:   "CMP_UGE",
	OpCmpSGT:   "CMP_SGT",
	OpCmpUGT:   "CMP_UGT",
	OpJump:     "JUMP",
	OpCall:     "CALL",
	OpRet:      "RET",
	OpNoRet:    "NORET",
	OpIf:       "IF",
	OpGoto:     "GOTO",
	OpSyscall:  "SYSCALL",
	OpBp:       "BP",
	OpTrap:     "TRAP",
	OpUndef:    "UNDEF",
	OpUnimpl:   "UNIMPL",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

// RegisterOpName gives an extension kind a name so that it can be printed
// and decoded. It must be called before any function is decoded.
func RegisterOpName(op Op, name string) {
	if old, ok := opNames[op]; ok {
		delete(opsByName, old)
	}
	opNames[op] = name
	opsByName[name] = op
}

// ParseOp returns the kind with the given name. The "LLIL_" prefix used by
// the analysis host is accepted.
func ParseOp(name string) (Op, error) {
	if len(name) > 5 && name[:5] == "LLIL_" {
		name = name[5:]
	}

	op, ok := opsByName[name]
	if !ok {
		return OpUnknown, fmt.Errorf("unknown IL operation %q", name)
	}

	return op, nil
}

// Ops returns every named kind in ascending order.
func Ops() []Op {
	ops := make([]Op, 0, len(opNames))
	for op := range opNames {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// String returns the IL name of the kind.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint16(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// IsComparison reports whether the kind is one of the CMP_* kinds.
func (o Op) IsComparison() bool {
	return o >= OpCmpE && o <= OpCmpUGT
}

// IsControlFlow reports whether the kind transfers control.
func (o Op) IsControlFlow() bool {
	return o >= OpJump && o <= OpTrap
}
