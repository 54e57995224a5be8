package actions

import (
	"fmt"
	"strconv"

	"aotlift/internal/analysis"
	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// GlobalTypeRef loads a type token (class pointer) from a metadata usage.
type GlobalTypeRef struct {
	analysis.Base
	Reg  string
	Type *metadata.Type
}

func NewGlobalTypeRef(in isa.Instruction, reg string, t *metadata.Type) *GlobalTypeRef {
	return &GlobalTypeRef{Base: analysis.Marker(in), Reg: reg, Type: t}
}

func (a *GlobalTypeRef) Pseudocode() string { return "" }

// GlobalMethodRef loads a method token or generic method spec.
type GlobalMethodRef struct {
	analysis.Base
	Reg    string
	Method *metadata.Method
	Spec   bool
}

func NewGlobalMethodRef(in isa.Instruction, reg string, m *metadata.Method, spec bool) *GlobalMethodRef {
	return &GlobalMethodRef{Base: analysis.Marker(in), Reg: reg, Method: m, Spec: spec}
}

func (a *GlobalMethodRef) Pseudocode() string { return "" }

// GlobalFieldRef loads a field token.
type GlobalFieldRef struct {
	analysis.Base
	Reg   string
	Field *metadata.Field
}

func NewGlobalFieldRef(in isa.Instruction, reg string, f *metadata.Field) *GlobalFieldRef {
	return &GlobalFieldRef{Base: analysis.Marker(in), Reg: reg, Field: f}
}

func (a *GlobalFieldRef) Pseudocode() string { return "" }

// GlobalStringLiteral loads a managed string literal into a new local.
type GlobalStringLiteral struct {
	analysis.Base
	Value string
	Dest  *analysis.Local
}

func NewGlobalStringLiteral(in isa.Instruction, v string, dest *analysis.Local) *GlobalStringLiteral {
	return &GlobalStringLiteral{Base: analysis.At(in), Value: v, Dest: dest}
}

func (a *GlobalStringLiteral) Pseudocode() string {
	return assign(a.Dest, strconv.Quote(a.Value))
}

func (a *GlobalStringLiteral) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	return []il.Instruction{il.I(il.Ldstr, a.Value), store(ctx, a.Dest)}, nil
}

// UnmanagedLiteral is a NUL-terminated literal found by scanning raw bytes
// at an address with no registered global.
type UnmanagedLiteral struct {
	analysis.Base
	Reg   string
	Addr  uint64
	Value string
}

func NewUnmanagedLiteral(in isa.Instruction, reg string, addr uint64, v string) *UnmanagedLiteral {
	return &UnmanagedLiteral{Base: analysis.At(in), Reg: reg, Addr: addr, Value: v}
}

func (a *UnmanagedLiteral) Pseudocode() string {
	return fmt.Sprintf("// %s = %q (unmanaged literal at 0x%x)", a.Reg, a.Value, a.Addr)
}

// UnknownGlobal is a pointer-sized load from an address nothing is known
// about.
type UnknownGlobal struct {
	analysis.Base
	Reg  string
	Addr uint64
}

func NewUnknownGlobal(in isa.Instruction, reg string, addr uint64) *UnknownGlobal {
	return &UnknownGlobal{Base: analysis.Marker(in), Reg: reg, Addr: addr}
}

func (a *UnknownGlobal) Pseudocode() string { return "" }
