// Package emu provides functional emulation of lifted IL.
package emu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/emilator/il"
)

// ErrNoFunction is returned by Step when no function has been loaded.
var ErrNoFunction = errors.New("no function loaded")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Done is true once the function has run off its end or was halted.
	Done bool

	// Result is the value of the executed instruction, if any.
	Result Result

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator evaluates IL expressions against a State.
//
// Each Emulator owns its hooks and, unless WithState is given, its machine
// state. An Emulator must not be used from more than one goroutine.
type Emulator struct {
	*sim.HookableBase

	arch    il.Arch
	archSet bool
	state   State
	machine *Machine
	hooks   map[il.Op][]Hook
	logger  *slog.Logger

	// Execution state
	fn               *il.Function
	index            int
	nextIndex        int
	halted           bool
	depth            int
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithArch sets the architecture. It defaults to the loaded function's
// architecture, or il.DefaultArch.
func WithArch(arch il.Arch) EmulatorOption {
	return func(e *Emulator) {
		e.arch = arch
		e.archSet = true
	}
}

// WithState evaluates against a host-provided state instead of a Machine.
func WithState(state State) EmulatorOption {
	return func(e *Emulator) {
		e.state = state
	}
}

// WithLogger sets the logger used for tracing. It defaults to slog.Default.
func WithLogger(logger *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithFunction loads fn for Step and Run. Unless WithArch is also given,
// the emulator takes fn's architecture.
func WithFunction(fn *il.Function) EmulatorOption {
	return func(e *Emulator) {
		e.fn = fn
	}
}

// NewEmulator creates a new IL emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		HookableBase: sim.NewHookableBase(),
		hooks:        make(map[il.Op][]Hook),
	}

	for _, opt := range opts {
		opt(e)
	}

	if !e.archSet {
		e.arch = il.DefaultArch()
		if e.fn != nil {
			e.arch = e.fn.Arch
		}
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.state == nil {
		e.machine = NewMachine(e.arch)
		e.state = e.machine
	}

	return e
}

// Arch returns the emulated architecture.
func (e *Emulator) Arch() il.Arch {
	return e.arch
}

// State returns the state the emulator evaluates against.
func (e *Emulator) State() State {
	return e.state
}

// Machine returns the built-in machine, or nil if WithState was used.
func (e *Emulator) Machine() *Machine {
	return e.machine
}

// Logger returns the emulator's logger.
func (e *Emulator) Logger() *slog.Logger {
	return e.logger
}

// Function returns the loaded function.
func (e *Emulator) Function() *il.Function {
	return e.fn
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// GetRegisterValue reads a register from the state.
func (e *Emulator) GetRegisterValue(reg il.Register) (uint64, error) {
	return e.state.GetRegisterValue(reg)
}

// SetRegisterValue writes a register in the state.
func (e *Emulator) SetRegisterValue(reg il.Register, value uint64) error {
	return e.state.SetRegisterValue(reg, value)
}

// ReadMemory reads a size-byte value from the state.
func (e *Emulator) ReadMemory(addr uint64, size int) (uint64, error) {
	return e.state.ReadMemory(addr, size)
}

// WriteMemory writes bytes to the state.
func (e *Emulator) WriteMemory(addr uint64, data []byte) error {
	return e.state.WriteMemory(addr, data)
}

// Endianness returns the state's byte order.
func (e *Emulator) Endianness() il.Endianness {
	return e.state.Endianness()
}

// Evaluate evaluates expr. The hooks of expr's kind run first, in the order
// they were added; then the kind's handler runs. When the handler fails
// with an UnimplementedOperationError, its own or one raised by a
// sub-expression, and at least one hook ran, the evaluation succeeds with
// an undefined Result.
func (e *Emulator) Evaluate(expr *il.Expression) (Result, error) {
	if expr == nil {
		return Result{}, ErrNilExpression
	}

	e.invokeHook(HookPosBeforeEvaluate, expr, nil)

	e.depth++
	res, err := e.dispatch(expr)
	e.depth--

	e.invokeHook(HookPosAfterEvaluate, expr, &EvaluationDetail{Result: res, Err: err})

	return res, err
}

func (e *Emulator) dispatch(expr *il.Expression) (Result, error) {
	hooks := e.hooks[expr.Op]
	for _, hook := range hooks {
		if err := hook(expr, e); err != nil {
			return Result{}, err
		}
	}

	res, err := LookupHandler(expr.Op)(expr, e)
	if err == nil {
		e.trace("eval", expr, res)
		return res, nil
	}

	var unimpl *UnimplementedOperationError
	if len(hooks) > 0 && errors.As(err, &unimpl) {
		e.trace("absorbed by hooks", expr, Result{})
		return Result{}, nil
	}

	return Result{}, err
}

// EvaluateValue evaluates expr and requires a defined value.
func (e *Emulator) EvaluateValue(expr *il.Expression) (uint64, error) {
	res, err := e.Evaluate(expr)
	if err != nil {
		return 0, err
	}

	if !res.Defined {
		return 0, &UndefinedValueError{Op: expr.Op}
	}

	return res.Value, nil
}

func (e *Emulator) trace(msg string, expr *il.Expression, res Result) {
	ctx := context.Background()
	if !e.logger.Enabled(ctx, LevelTrace) {
		return
	}

	e.logger.Log(ctx, LevelTrace, msg,
		slog.String("op", expr.Op.String()),
		slog.Int("size", expr.Size),
		slog.Int("depth", e.depth),
		slog.Bool("defined", res.Defined),
		slog.Uint64("value", res.Value),
	)
}

func (e *Emulator) invokeHook(pos *sim.HookPos, expr *il.Expression, detail interface{}) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    pos,
		Item:   expr,
		Detail: detail,
	})
}

// LoadFunction loads fn and rewinds execution to its first instruction.
func (e *Emulator) LoadFunction(fn *il.Function) {
	e.fn = fn
	e.Rewind()
}

// Rewind resets the instruction index, halt flag and instruction count.
// Register and memory contents are kept.
func (e *Emulator) Rewind() {
	e.index = 0
	e.nextIndex = 0
	e.halted = false
	e.instructionCount = 0
}

// Reset rewinds execution and, for a built-in machine, discards all
// register and memory contents. Hooks are kept.
func (e *Emulator) Reset() {
	e.Rewind()

	if e.machine != nil {
		e.machine = NewMachine(e.arch)
		e.state = e.machine
	}
}

// InstructionIndex returns the index of the instruction being executed, or
// of the next one to execute between steps.
func (e *Emulator) InstructionIndex() int {
	return e.index
}

// SetNextInstruction makes execution continue at instruction i after the
// current one. Hooks use it to implement control flow.
func (e *Emulator) SetNextInstruction(i int) error {
	if e.fn == nil {
		return ErrNoFunction
	}

	if i < 0 || i > len(e.fn.Instructions) {
		return fmt.Errorf("instruction index %d out of range [0, %d]",
			i, len(e.fn.Instructions))
	}

	e.nextIndex = i
	return nil
}

// Halt stops execution after the current instruction.
func (e *Emulator) Halt() {
	e.halted = true
}

// Halted reports whether Halt was called.
func (e *Emulator) Halted() bool {
	return e.halted
}

func (e *Emulator) done() bool {
	return e.halted || e.index >= len(e.fn.Instructions)
}

// Step executes a single instruction of the loaded function.
// Returns a StepResult indicating whether execution should continue.
func (e *Emulator) Step() StepResult {
	if e.fn == nil {
		return StepResult{Err: ErrNoFunction}
	}

	if e.done() {
		return StepResult{Done: true}
	}

	// Check instruction limit before executing
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	inst := e.fn.Instructions[e.index]
	e.nextIndex = e.index + 1

	res, err := e.Evaluate(inst)
	e.instructionCount++

	if err != nil {
		return StepResult{
			Err: fmt.Errorf("instruction %d (%s) at 0x%X: %w",
				e.index, inst.Op, inst.Address, err),
		}
	}

	e.index = e.nextIndex

	return StepResult{
		Done:   e.done(),
		Result: res,
	}
}

// Run executes instructions until the function ends, a hook halts it, or
// an error occurs. State changes made before an error are kept.
func (e *Emulator) Run() error {
	for {
		result := e.Step()
		if result.Err != nil {
			e.logger.Error("Emulation error",
				slog.Int("instruction", e.index),
				slog.String("error", result.Err.Error()))
			return result.Err
		}
		if result.Done {
			return nil
		}
	}
}
