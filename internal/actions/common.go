// Package actions holds the concrete semantic operations the lifter
// appends to a function's action list. Actions are plain data plus
// rendering: the rules in package lifter decide when to build them and
// perform the state updates.
package actions

import (
	"fmt"
	"strings"

	"aotlift/internal/analysis"
	"aotlift/internal/il"
	"aotlift/internal/metadata"
)

// typeName renders a declaration type, "var" when unknown.
func typeName(t *metadata.Type) string {
	if t == nil {
		return "var"
	}
	return t.FullName()
}

func declare(l *analysis.Local) string {
	return typeName(l.Type) + " " + l.Name
}

// assign renders "T dest = rhs;" or "rhs;" when the result is discarded.
func assign(dest *analysis.Local, rhs string) string {
	if dest == nil {
		return rhs + ";"
	}
	return declare(dest) + " = " + rhs + ";"
}

func operands(ops []analysis.Operand) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		if op == nil {
			parts[i] = "?"
			continue
		}
		parts[i] = op.String()
	}
	return strings.Join(parts, ", ")
}

func show(op analysis.Operand) string {
	if op == nil {
		return "?"
	}
	return op.String()
}

// load pushes ops in order, tainting a when any of them has no managed form.
func load(ctx *analysis.EmitContext, a analysis.Action, ops ...analysis.Operand) ([]il.Instruction, error) {
	var out []il.Instruction
	for _, op := range ops {
		ins, why := ctx.Load(op)
		if why != "" {
			return nil, analysis.Taint(a, "%s", why)
		}
		out = append(out, ins...)
	}
	return out, nil
}

// store consumes the stack top into dest, or pops it when discarded.
func store(ctx *analysis.EmitContext, dest *analysis.Local) il.Instruction {
	if dest == nil {
		return il.I(il.Pop)
	}
	return ctx.Store(dest)
}

// Conditions.

var negations = map[string]string{
	"==": "!=", "!=": "==",
	"<": ">=", ">=": "<",
	">": "<=", "<=": ">",
}

// Negate returns the opposite comparison operator.
func Negate(op string) string {
	if n, ok := negations[op]; ok {
		return n
	}
	return "!(" + op + ")"
}

var conditionOps = map[string]string{
	"je": "==", "jz": "==", "jne": "!=", "jnz": "!=",
	"jl": "<", "jnge": "<", "jle": "<=", "jng": "<=",
	"jg": ">", "jnle": ">", "jge": ">=", "jnl": ">=",
	"jb": "<", "jc": "<", "jnae": "<", "jbe": "<=", "jna": "<=",
	"ja": ">", "jnbe": ">", "jae": ">=", "jnb": ">=", "jnc": ">=",
	"js": "<", "jns": ">=",
	"b.eq": "==", "b.ne": "!=", "b.lt": "<", "b.le": "<=", "b.gt": ">", "b.ge": ">=",
	"b.lo": "<", "b.cc": "<", "b.ls": "<=", "b.hi": ">", "b.hs": ">=", "b.cs": ">=",
	"b.mi": "<", "b.pl": ">=",
	"beq": "==", "bne": "!=", "blt": "<", "ble": "<=", "bgt": ">", "bge": ">=",
	"cbz": "==", "cbnz": "!=", "tbz": "==", "tbnz": "!=",
}

// ConditionFor returns the operator under which a conditional branch with
// the given mnemonic is taken.
func ConditionFor(mnemonic string) (string, bool) {
	op, ok := conditionOps[strings.ToLower(mnemonic)]
	return op, ok
}

// Condition is a rendered branch condition.
type Condition struct {
	Left, Right analysis.Operand
	Op          string
	Bitwise     bool // test a, b
}

func (c Condition) String() string {
	left := show(c.Left)
	right := show(c.Right)
	if c.Bitwise {
		if c.Left != nil && c.Left == c.Right {
			return fmt.Sprintf("%s %s 0", left, c.Op)
		}
		return fmt.Sprintf("(%s & %s) %s 0", left, right, c.Op)
	}
	if c.Right == nil {
		return fmt.Sprintf("%s %s 0", left, c.Op)
	}
	return fmt.Sprintf("%s %s %s", left, c.Op, right)
}

// Negated returns the condition under which the branch falls through.
func (c Condition) Negated() Condition {
	c.Op = Negate(c.Op)
	return c
}
