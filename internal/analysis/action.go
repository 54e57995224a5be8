package analysis

import (
	"errors"
	"fmt"
	"strings"

	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// ErrNotImplemented is returned by ManagedInstructions for actions that have
// no managed-instruction form. It is not a failure of the action.
var ErrNotImplemented = errors.New("analysis: managed emission not implemented")

// TaintedError reports an action whose recorded data is internally
// inconsistent. It aborts the current rendering pass of the function.
type TaintedError struct {
	Addr   uint64
	Action string
	Reason string
}

func (e *TaintedError) Error() string {
	return fmt.Sprintf("analysis: tainted %s at 0x%x: %s", e.Action, e.Addr, e.Reason)
}

// Taint builds a TaintedError for a.
func Taint(a Action, format string, args ...any) *TaintedError {
	return &TaintedError{
		Addr:   a.Instruction().Addr,
		Action: fmt.Sprintf("%T", a),
		Reason: fmt.Sprintf(format, args...),
	}
}

// Action is one recognized semantic operation.
type Action interface {
	Instruction() isa.Instruction
	Indent() int
	SetIndent(n int)
	IsImportant() bool
	NeedsBlankLine() bool
	// Pseudocode returns "" when the action has no textual form.
	Pseudocode() string
	// ManagedInstructions returns ErrNotImplemented or a *TaintedError on
	// failure.
	ManagedInstructions(ctx *EmitContext) ([]il.Instruction, error)
}

// Base carries the bookkeeping shared by every action. Concrete actions
// embed it and implement Pseudocode.
type Base struct {
	Inst        isa.Instruction
	Unimportant bool
	BlankLine   bool
	indent      int
}

// At builds a Base for in.
func At(in isa.Instruction) Base { return Base{Inst: in} }

// Marker builds an unimportant Base for bookkeeping actions.
func Marker(in isa.Instruction) Base { return Base{Inst: in, Unimportant: true} }

func (b *Base) Instruction() isa.Instruction { return b.Inst }
func (b *Base) Indent() int                  { return b.indent }
func (b *Base) SetIndent(n int)              { b.indent = n }
func (b *Base) IsImportant() bool            { return !b.Unimportant }
func (b *Base) NeedsBlankLine() bool         { return b.BlankLine }

func (b *Base) ManagedInstructions(*EmitContext) ([]il.Instruction, error) {
	return nil, ErrNotImplemented
}

// Calling is implemented by actions that transfer control to another
// function; the call graph is built from it.
type Calling interface {
	Callee() string
}

// EmitContext tracks the managed locals and arguments allocated while
// emitting one function's body.
type EmitContext struct {
	args   map[*Local]int
	locals map[*Local]int
	order  []*Local
}

// NewEmitContext prepares emission for a function with the given
// parameters (receiver first).
func NewEmitContext(params []*Local) *EmitContext {
	ctx := &EmitContext{args: make(map[*Local]int), locals: make(map[*Local]int)}
	for i, p := range params {
		ctx.args[p] = i
	}
	return ctx
}

// Locals returns the managed locals allocated so far, in index order.
func (c *EmitContext) Locals() []*Local { return c.order }

func (c *EmitContext) localIndex(l *Local) int {
	if i, ok := c.locals[l]; ok {
		return i
	}
	i := len(c.order)
	c.locals[l] = i
	c.order = append(c.order, l)
	return i
}

// Load returns the instructions pushing op, or a reason it cannot be loaded.
func (c *EmitContext) Load(op Operand) ([]il.Instruction, string) {
	switch v := op.(type) {
	case nil:
		return nil, "missing operand"
	case *Local:
		if i, ok := c.args[v]; ok {
			return []il.Instruction{il.I(il.Ldarg, i)}, ""
		}
		return []il.Instruction{il.I(il.Ldloc, c.localIndex(v))}, ""
	case *Constant:
		return loadConstant(v)
	case StackPointer:
		return nil, "stack pointer has no managed form"
	case Unresolved:
		return nil, "value is unresolved"
	}
	return nil, fmt.Sprintf("unknown operand %T", op)
}

func loadConstant(c *Constant) ([]il.Instruction, string) {
	switch v := c.Value.(type) {
	case nil:
		return []il.Instruction{il.I(il.Ldnull)}, ""
	case int64:
		if c.Type == nil || !c.Type.IsPrimitive() && !c.Type.IsEnum() {
			if v == 0 {
				return []il.Instruction{il.I(il.Ldnull)}, ""
			}
		}
		switch c.Type {
		case metadata.Int64, metadata.UInt64, metadata.IntPtr, metadata.UIntPtr:
			return []il.Instruction{il.I(il.LdcI8, v)}, ""
		case metadata.Single:
			f, _ := c.Float(true)
			return []il.Instruction{il.I(il.LdcR4, f)}, ""
		case metadata.Double:
			f, _ := c.Float(false)
			return []il.Instruction{il.I(il.LdcR8, f)}, ""
		}
		return []il.Instruction{il.I(il.LdcI4, v)}, ""
	case float64:
		if c.Type == metadata.Single {
			return []il.Instruction{il.I(il.LdcR4, v)}, ""
		}
		return []il.Instruction{il.I(il.LdcR8, v)}, ""
	case string:
		return []il.Instruction{il.I(il.Ldstr, v)}, ""
	case *metadata.Type:
		if c.Provenance == ProvTypeToken {
			return []il.Instruction{il.I(il.Ldtoken, v)}, ""
		}
	case *metadata.Method:
		return []il.Instruction{il.I(il.Ldtoken, v)}, ""
	case *metadata.Field:
		return []il.Instruction{il.I(il.Ldtoken, v)}, ""
	}
	return nil, fmt.Sprintf("constant %s (%s) has no managed form", c, c.Provenance)
}

// Address returns the instruction loading the address of local l.
func (c *EmitContext) Address(l *Local) il.Instruction {
	return il.I(il.Ldloca, c.localIndex(l))
}

// Store returns the instruction storing the stack top into l.
func (c *EmitContext) Store(l *Local) il.Instruction {
	return il.I(il.Stloc, c.localIndex(l))
}

// Render produces the pseudocode of an action list. Unimportant actions and
// actions without a textual form are skipped.
func Render(actions []Action) string {
	var b strings.Builder
	for _, a := range actions {
		if !a.IsImportant() {
			continue
		}
		line := a.Pseudocode()
		if line == "" {
			continue
		}
		if a.NeedsBlankLine() && b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Repeat("    ", a.Indent()))
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// EmitManaged synthesizes a managed body from an action list. Actions that
// do not implement emission are skipped and counted; the first tainted
// action aborts the pass.
func EmitManaged(actions []Action, params []*Local) (body []il.Instruction, skipped int, err error) {
	ctx := NewEmitContext(params)
	for _, a := range actions {
		ins, err := a.ManagedInstructions(ctx)
		switch {
		case errors.Is(err, ErrNotImplemented):
			skipped++
			continue
		case err != nil:
			return nil, skipped, err
		}
		body = append(body, ins...)
	}
	return body, skipped, nil
}
