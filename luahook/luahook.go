// Package luahook attaches Lua-scripted hooks to an emulator.
//
// A script registers hooks through the global emilator table:
//
//	emilator.hook("IF", function(expr)
//	  if emilator.reg("zf") == 1 then
//	    emilator.jump(expr.target)
//	  end
//	end)
//
// Hook functions receive a table with the fields op, size, reg, value,
// target, false_target, address and index. The table also provides
// reg(name), set_reg(name, v), read(addr, size), write(addr, size, v),
// jump(i), halt(), index() and log(msg).
//
// Lua numbers are float64, so values above 2^53 lose precision.
package luahook

import (
	"fmt"
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/sarchlab/emilator/emu"
	"github.com/sarchlab/emilator/il"
)

// GlobalName is the name of the table exposed to scripts.
const GlobalName = "emilator"

type registration struct {
	op il.Op
	fn *lua.LFunction
}

// Script is a Lua state holding hook registrations. A Script must be used
// from the goroutine running its emulator.
type Script struct {
	L      *lua.LState
	logger *slog.Logger

	registrations []registration
	em            *emu.Emulator
}

// Option configures a Script.
type Option func(*Script)

// WithLogger sets the logger behind emilator.log. It defaults to
// slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Script) {
		s.logger = logger
	}
}

// New creates a Script with a fresh Lua state.
func New(opts ...Option) *Script {
	s := &Script{
		L:      lua.NewState(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	tbl := s.L.NewTable()
	s.L.SetFuncs(tbl, map[string]lua.LGFunction{
		"hook":    s.luaHook,
		"reg":     s.luaReg,
		"set_reg": s.luaSetReg,
		"read":    s.luaRead,
		"write":   s.luaWrite,
		"jump":    s.luaJump,
		"halt":    s.luaHalt,
		"index":   s.luaIndex,
		"log":     s.luaLog,
	})
	s.L.SetGlobal(GlobalName, tbl)

	return s
}

// LoadFile runs the script at path.
func (s *Script) LoadFile(path string) error {
	if err := s.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load lua script: %w", err)
	}
	return nil
}

// LoadString runs src.
func (s *Script) LoadString(src string) error {
	if err := s.L.DoString(src); err != nil {
		return fmt.Errorf("failed to load lua script: %w", err)
	}
	return nil
}

// Ops returns the operation kinds the script hooks, in registration order.
func (s *Script) Ops() []il.Op {
	ops := make([]il.Op, 0, len(s.registrations))
	for _, r := range s.registrations {
		ops = append(ops, r.op)
	}
	return ops
}

// Attach adds the script's hooks to e. Hooks the script registers later
// are added to e as they are registered. A Script attaches to one
// emulator only.
func (s *Script) Attach(e *emu.Emulator) error {
	if s.em != nil {
		return fmt.Errorf("lua script is already attached")
	}

	s.em = e
	for _, r := range s.registrations {
		e.AddHook(r.op, s.wrap(r))
	}

	return nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.L.Close()
}

func (s *Script) wrap(r registration) emu.Hook {
	return func(expr *il.Expression, e *emu.Emulator) error {
		err := s.L.CallByParam(lua.P{
			Fn:      r.fn,
			NRet:    0,
			Protect: true,
		}, s.exprTable(expr, e))
		if err != nil {
			return fmt.Errorf("lua hook for %s: %w", r.op, err)
		}
		return nil
	}
}

func (s *Script) exprTable(expr *il.Expression, e *emu.Emulator) *lua.LTable {
	t := s.L.NewTable()
	t.RawSetString("op", lua.LString(expr.Op.String()))
	t.RawSetString("size", lua.LNumber(expr.Size))
	t.RawSetString("value", lua.LNumber(expr.Value))
	t.RawSetString("target", lua.LNumber(expr.Target))
	t.RawSetString("false_target", lua.LNumber(expr.FalseTarget))
	t.RawSetString("address", lua.LNumber(expr.Address))
	t.RawSetString("index", lua.LNumber(e.InstructionIndex()))
	if expr.Reg != "" {
		t.RawSetString("reg", lua.LString(expr.Reg))
	}
	return t
}

func (s *Script) emulator(L *lua.LState) *emu.Emulator {
	if s.em == nil {
		L.RaiseError("no emulator attached")
	}
	return s.em
}

func (s *Script) luaHook(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)

	op, err := il.ParseOp(name)
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	r := registration{op: op, fn: fn}
	s.registrations = append(s.registrations, r)
	if s.em != nil {
		s.em.AddHook(op, s.wrap(r))
	}

	return 0
}

func (s *Script) luaReg(L *lua.LState) int {
	e := s.emulator(L)

	v, err := e.GetRegisterValue(il.Register(L.CheckString(1)))
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	L.Push(lua.LNumber(v))
	return 1
}

func (s *Script) luaSetReg(L *lua.LState) int {
	e := s.emulator(L)

	reg := il.Register(L.CheckString(1))
	if err := e.SetRegisterValue(reg, uint64(L.CheckNumber(2))); err != nil {
		L.RaiseError("%s", err.Error())
	}

	return 0
}

func (s *Script) luaRead(L *lua.LState) int {
	e := s.emulator(L)

	v, err := e.ReadMemory(uint64(L.CheckNumber(1)), L.CheckInt(2))
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	L.Push(lua.LNumber(v))
	return 1
}

func (s *Script) luaWrite(L *lua.LState) int {
	e := s.emulator(L)

	addr := uint64(L.CheckNumber(1))
	data, err := emu.Encode(uint64(L.CheckNumber(3)), L.CheckInt(2), e.Endianness())
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	if err := e.WriteMemory(addr, data); err != nil {
		L.RaiseError("%s", err.Error())
	}

	return 0
}

func (s *Script) luaJump(L *lua.LState) int {
	if err := s.emulator(L).SetNextInstruction(L.CheckInt(1)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (s *Script) luaHalt(L *lua.LState) int {
	s.emulator(L).Halt()
	return 0
}

func (s *Script) luaIndex(L *lua.LState) int {
	L.Push(lua.LNumber(s.emulator(L).InstructionIndex()))
	return 1
}

func (s *Script) luaLog(L *lua.LState) int {
	s.logger.Info(L.CheckString(1), slog.String("source", "lua"))
	return 0
}
