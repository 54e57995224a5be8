package actions

import (
	"fmt"

	"aotlift/internal/analysis"
	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// Compare records a flag-setting cmp or test.
type Compare struct {
	analysis.Base
	Left, Right analysis.Operand
	Bitwise     bool
}

func NewCompare(in isa.Instruction, left, right analysis.Operand, bitwise bool) *Compare {
	return &Compare{Base: analysis.Marker(in), Left: left, Right: right, Bitwise: bitwise}
}

func (a *Compare) Pseudocode() string { return "" }

// Jump is an unconditional branch inside the function. Structural jumps
// (the skip over an else body, a loop back-edge) render nothing.
type Jump struct {
	analysis.Base
	Target     uint64
	Structural bool
}

func NewJump(in isa.Instruction, target uint64, structural bool) *Jump {
	a := &Jump{Base: analysis.At(in), Target: target, Structural: structural}
	a.Unimportant = structural
	return a
}

func (a *Jump) Pseudocode() string {
	if a.Structural {
		return ""
	}
	return fmt.Sprintf("goto %s;", LabelName(a.Target))
}

// ConditionalJump is a forward conditional branch. As an if it opens a
// block holding the fall-through path; otherwise it is a goto.
type ConditionalJump struct {
	analysis.Base
	Cond   Condition // condition under which the branch is taken
	Target uint64
	If     bool
}

func NewConditionalJump(in isa.Instruction, cond Condition, target uint64, asIf bool) *ConditionalJump {
	return &ConditionalJump{Base: analysis.At(in), Cond: cond, Target: target, If: asIf}
}

func (a *ConditionalJump) Pseudocode() string {
	if a.If {
		return fmt.Sprintf("if (%s) {", a.Cond.Negated())
	}
	return fmt.Sprintf("if (%s) goto %s;", a.Cond, LabelName(a.Target))
}

// LoopCondition is the conditional back-edge closing a loop body.
type LoopCondition struct {
	analysis.Base
	Cond Condition
	Head uint64
}

func NewLoopCondition(in isa.Instruction, cond Condition, head uint64) *LoopCondition {
	return &LoopCondition{Base: analysis.At(in), Cond: cond, Head: head}
}

func (a *LoopCondition) Pseudocode() string {
	return fmt.Sprintf("if (%s) break;", a.Cond.Negated())
}

// Return leaves the function, optionally with a value.
type Return struct {
	analysis.Base
	Value    analysis.Operand
	Implicit bool // after a tail call
}

func NewReturn(in isa.Instruction, v analysis.Operand, implicit bool) *Return {
	a := &Return{Base: analysis.At(in), Value: v, Implicit: implicit}
	a.BlankLine = !implicit
	return a
}

func (a *Return) Pseudocode() string {
	if a.Value == nil {
		return "return;"
	}
	return "return " + a.Value.String() + ";"
}

func (a *Return) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Value == nil {
		return []il.Instruction{il.I(il.Ret)}, nil
	}
	out, err := load(ctx, a, a.Value)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Ret)), nil
}

// ReturnValue returns the operand a method with return type t leaves in
// its return register, or nil for void methods.
func ReturnValue(t *metadata.Type, bound analysis.Operand) analysis.Operand {
	if t == nil || t == metadata.Void {
		return nil
	}
	return bound
}

// ElseMarker closes an if body and opens its else body.
type ElseMarker struct {
	analysis.Base
	End uint64
}

func NewElseMarker(in isa.Instruction, end uint64) *ElseMarker {
	return &ElseMarker{Base: analysis.At(in), End: end}
}

func (a *ElseMarker) Pseudocode() string { return "} else {" }

// EndIfMarker closes an if or else body.
type EndIfMarker struct{ analysis.Base }

func NewEndIfMarker(in isa.Instruction) *EndIfMarker {
	return &EndIfMarker{Base: analysis.At(in)}
}

func (a *EndIfMarker) Pseudocode() string { return "}" }

// LoopStartMarker opens a loop at the back-edge target.
type LoopStartMarker struct {
	analysis.Base
	BackEdge uint64
}

func NewLoopStartMarker(in isa.Instruction, backEdge uint64) *LoopStartMarker {
	a := &LoopStartMarker{Base: analysis.At(in), BackEdge: backEdge}
	a.BlankLine = true
	return a
}

func (a *LoopStartMarker) Pseudocode() string { return "while (true) {" }

// LoopEndMarker closes a loop after its back-edge.
type LoopEndMarker struct {
	analysis.Base
	Head uint64
}

func NewLoopEndMarker(in isa.Instruction, head uint64) *LoopEndMarker {
	return &LoopEndMarker{Base: analysis.At(in), Head: head}
}

func (a *LoopEndMarker) Pseudocode() string { return "}" }

// GotoMarker is an explicit jump to a post-loop target that is not the
// instruction after the loop.
type GotoMarker struct {
	analysis.Base
	Target uint64
}

func NewGotoMarker(in isa.Instruction, target uint64) *GotoMarker {
	return &GotoMarker{Base: analysis.At(in), Target: target}
}

func (a *GotoMarker) Pseudocode() string { return fmt.Sprintf("goto %s;", LabelName(a.Target)) }

// Label marks an unstructured jump target.
type Label struct {
	analysis.Base
	Addr uint64
}

func NewLabel(in isa.Instruction) *Label {
	a := &Label{Base: analysis.At(in), Addr: in.Addr}
	a.BlankLine = true
	return a
}

func (a *Label) Pseudocode() string { return LabelName(a.Addr) + ":" }

// LabelName is the rendered name of a jump target.
func LabelName(addr uint64) string { return fmt.Sprintf("label_%x", addr) }
