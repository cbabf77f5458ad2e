// Package emu provides functional emulation of lifted IL.
package emu

import (
	"context"
	"log/slog"
	"sort"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/emilator/il"
)

// LevelTrace is the slog level of per-expression dispatch records. It sits
// below Debug so that it is only emitted when explicitly enabled.
const LevelTrace slog.Level = slog.LevelDebug - 4

// HookPosBeforeEvaluate marks the start of an expression evaluation, before
// the kind's hooks run.
var HookPosBeforeEvaluate = &sim.HookPos{Name: "Before Evaluate"}

// HookPosAfterEvaluate marks the end of an expression evaluation. The
// HookCtx Detail is an *EvaluationDetail.
var HookPosAfterEvaluate = &sim.HookPos{Name: "After Evaluate"}

// EvaluationDetail is attached to HookPosAfterEvaluate events.
type EvaluationDetail struct {
	Result Result
	Err    error
}

// TraceHook logs every top-level instruction evaluation. Attach it with
// AcceptHook.
type TraceHook struct {
	logger *slog.Logger
	level  slog.Level
}

// NewTraceHook creates a TraceHook logging at level.
func NewTraceHook(logger *slog.Logger, level slog.Level) *TraceHook {
	return &TraceHook{logger: logger, level: level}
}

// Func implements sim.Hook.
func (h *TraceHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosAfterEvaluate {
		return
	}

	e, ok := ctx.Domain.(*Emulator)
	if !ok || e.depth != 0 {
		return
	}

	expr := ctx.Item.(*il.Expression)
	detail := ctx.Detail.(*EvaluationDetail)

	attrs := []slog.Attr{
		slog.Int("index", e.InstructionIndex()),
		slog.String("inst", expr.String()),
	}
	if detail.Result.Defined {
		attrs = append(attrs, slog.Uint64("value", detail.Result.Value))
	}
	if detail.Err != nil {
		attrs = append(attrs, slog.String("error", detail.Err.Error()))
	}

	h.logger.LogAttrs(context.Background(), h.level, "Instruction", attrs...)
}

// OpCounter counts evaluations per operation kind, nested ones included.
type OpCounter struct {
	counts map[il.Op]uint64
}

// NewOpCounter creates an empty OpCounter.
func NewOpCounter() *OpCounter {
	return &OpCounter{counts: make(map[il.Op]uint64)}
}

// Func implements sim.Hook.
func (c *OpCounter) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosBeforeEvaluate {
		return
	}

	if expr, ok := ctx.Item.(*il.Expression); ok {
		c.counts[expr.Op]++
	}
}

// Count returns the number of evaluations of op.
func (c *OpCounter) Count(op il.Op) uint64 {
	return c.counts[op]
}

// Ops returns the counted kinds in ascending order.
func (c *OpCounter) Ops() []il.Op {
	ops := make([]il.Op, 0, len(c.counts))
	for op := range c.counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}
