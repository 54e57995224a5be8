package actions

import (
	"fmt"

	"aotlift/internal/analysis"
	"aotlift/internal/il"
	"aotlift/internal/isa"
)

// AddConstant is "x += n" on a recognized local.
type AddConstant struct {
	analysis.Base
	Target *analysis.Local
	Amount int64
}

func NewAddConstant(in isa.Instruction, target *analysis.Local, n int64) *AddConstant {
	return &AddConstant{Base: analysis.At(in), Target: target, Amount: n}
}

func (a *AddConstant) Pseudocode() string { return fmt.Sprintf("%s += %d;", a.Target, a.Amount) }

func (a *AddConstant) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	return arithConst(ctx, a, a.Target, a.Amount, il.Add)
}

// SubtractConstant is "x -= n" on a recognized local.
type SubtractConstant struct {
	analysis.Base
	Target *analysis.Local
	Amount int64
}

func NewSubtractConstant(in isa.Instruction, target *analysis.Local, n int64) *SubtractConstant {
	return &SubtractConstant{Base: analysis.At(in), Target: target, Amount: n}
}

func (a *SubtractConstant) Pseudocode() string { return fmt.Sprintf("%s -= %d;", a.Target, a.Amount) }

func (a *SubtractConstant) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	return arithConst(ctx, a, a.Target, a.Amount, il.Sub)
}

func arithConst(ctx *analysis.EmitContext, a analysis.Action, l *analysis.Local, n int64, op il.OpCode) ([]il.Instruction, error) {
	out, err := load(ctx, a, l)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.LdcI4, n), il.I(op), ctx.Store(l)), nil
}

var arithOps = map[string]il.OpCode{"+": il.Add, "-": il.Sub, "*": il.Mul, "/": il.Div}

// RegisterArithmetic is a binary operation between two known operands.
type RegisterArithmetic struct {
	analysis.Base
	Op          string
	Left, Right analysis.Operand
	Dest        *analysis.Local
}

func NewRegisterArithmetic(in isa.Instruction, op string, left, right analysis.Operand, dest *analysis.Local) *RegisterArithmetic {
	return &RegisterArithmetic{Base: analysis.At(in), Op: op, Left: left, Right: right, Dest: dest}
}

func (a *RegisterArithmetic) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("%s %s %s", show(a.Left), a.Op, show(a.Right)))
}

func (a *RegisterArithmetic) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	op, ok := arithOps[a.Op]
	if !ok {
		return nil, analysis.ErrNotImplemented
	}
	out, err := load(ctx, a, a.Left, a.Right)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(op), store(ctx, a.Dest)), nil
}

// MultiplyConstant is "dest = src * n".
type MultiplyConstant struct {
	analysis.Base
	Source analysis.Operand
	Factor int64
	Dest   *analysis.Local
}

func NewMultiplyConstant(in isa.Instruction, src analysis.Operand, n int64, dest *analysis.Local) *MultiplyConstant {
	return &MultiplyConstant{Base: analysis.At(in), Source: src, Factor: n, Dest: dest}
}

func (a *MultiplyConstant) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("%s * %d", show(a.Source), a.Factor))
}

func (a *MultiplyConstant) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Source)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.LdcI4, a.Factor), il.I(il.Mul), store(ctx, a.Dest)), nil
}

// MagicDivideStart is the "imul by magic number" half of a signed division
// by a constant. It is unimportant: the matching shift renders the result.
type MagicDivideStart struct {
	analysis.Base
	Dividend analysis.Operand
	Magic    int64
}

func NewMagicDivideStart(in isa.Instruction, dividend analysis.Operand, magic int64) *MagicDivideStart {
	return &MagicDivideStart{Base: analysis.Marker(in), Dividend: dividend, Magic: magic}
}

func (a *MagicDivideStart) Pseudocode() string { return "" }

// DivideByConstant is the completed magic-number division.
type DivideByConstant struct {
	analysis.Base
	Dividend analysis.Operand
	Divisor  int64
	Dest     *analysis.Local
}

func NewDivideByConstant(in isa.Instruction, dividend analysis.Operand, divisor int64, dest *analysis.Local) *DivideByConstant {
	return &DivideByConstant{Base: analysis.At(in), Dividend: dividend, Divisor: divisor, Dest: dest}
}

func (a *DivideByConstant) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("%s / %d", show(a.Dividend), a.Divisor))
}

func (a *DivideByConstant) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Divisor == 0 {
		return nil, analysis.Taint(a, "division by zero")
	}
	out, err := load(ctx, a, a.Dividend)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.LdcI4, a.Divisor), il.I(il.Div), store(ctx, a.Dest)), nil
}

// ShiftConstant is "dest = src << n" or "dest = src >> n".
type ShiftConstant struct {
	analysis.Base
	Source analysis.Operand
	Amount int64
	Left   bool
	Dest   *analysis.Local
}

func NewShiftConstant(in isa.Instruction, src analysis.Operand, n int64, left bool, dest *analysis.Local) *ShiftConstant {
	return &ShiftConstant{Base: analysis.At(in), Source: src, Amount: n, Left: left, Dest: dest}
}

func (a *ShiftConstant) Pseudocode() string {
	op := ">>"
	if a.Left {
		op = "<<"
	}
	return assign(a.Dest, fmt.Sprintf("%s %s %d", show(a.Source), op, a.Amount))
}

func (a *ShiftConstant) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Source)
	if err != nil {
		return nil, err
	}
	op := il.Shr
	if a.Left {
		op = il.Shl
	}
	return append(out, il.I(il.LdcI4, a.Amount), il.I(op), store(ctx, a.Dest)), nil
}
