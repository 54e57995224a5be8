package actions

import (
	"fmt"
	"strings"

	"aotlift/internal/analysis"
	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// AllocateInstance is a call to the object allocator. Synthesized
// instances come from struct reconstruction in the stack convention.
type AllocateInstance struct {
	analysis.Base
	Type        *metadata.Type
	Dest        *analysis.Local
	Synthesized bool
}

func NewAllocateInstance(in isa.Instruction, t *metadata.Type, dest *analysis.Local) *AllocateInstance {
	return &AllocateInstance{Base: analysis.At(in), Type: t, Dest: dest}
}

func (a *AllocateInstance) Pseudocode() string {
	return assign(a.Dest, "new "+typeName(a.Type)+"()")
}

func (a *AllocateInstance) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Type == nil {
		return nil, analysis.Taint(a, "allocated type is unknown")
	}
	if a.Type.IsValueType() {
		if a.Dest == nil {
			return nil, analysis.Taint(a, "value-type allocation without a destination")
		}
		return []il.Instruction{ctx.Address(a.Dest), il.I(il.Initobj, a.Type)}, nil
	}
	return []il.Instruction{il.I(il.Newobj, a.Type), store(ctx, a.Dest)}, nil
}

func (a *AllocateInstance) Callee() string { return metadata.RuntimeObjectNew.String() }

// AllocateArray is a call to the array allocator.
type AllocateArray struct {
	analysis.Base
	Element *metadata.Type
	Length  analysis.Operand
	Dest    *analysis.Local
}

func NewAllocateArray(in isa.Instruction, el *metadata.Type, n analysis.Operand, dest *analysis.Local) *AllocateArray {
	return &AllocateArray{Base: analysis.At(in), Element: el, Length: n, Dest: dest}
}

func (a *AllocateArray) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("new %s[%s]", typeName(a.Element), show(a.Length)))
}

func (a *AllocateArray) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Element == nil {
		return nil, analysis.Taint(a, "array element type is unknown")
	}
	out, err := load(ctx, a, a.Length)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Newarr, a.Element), store(ctx, a.Dest)), nil
}

func (a *AllocateArray) Callee() string { return metadata.RuntimeArrayNew.String() }

// BoxValue boxes a value type.
type BoxValue struct {
	analysis.Base
	Type  *metadata.Type
	Value analysis.Operand
	Dest  *analysis.Local
}

func NewBoxValue(in isa.Instruction, t *metadata.Type, v analysis.Operand, dest *analysis.Local) *BoxValue {
	return &BoxValue{Base: analysis.At(in), Type: t, Value: v, Dest: dest}
}

func (a *BoxValue) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("(object) %s", show(a.Value)))
}

func (a *BoxValue) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Value)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Box, a.Type), store(ctx, a.Dest)), nil
}

// UnboxValue unboxes an object to a value type.
type UnboxValue struct {
	analysis.Base
	Type   *metadata.Type
	Object analysis.Operand
	Dest   *analysis.Local
}

func NewUnboxValue(in isa.Instruction, t *metadata.Type, obj analysis.Operand, dest *analysis.Local) *UnboxValue {
	return &UnboxValue{Base: analysis.At(in), Type: t, Object: obj, Dest: dest}
}

func (a *UnboxValue) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("(%s) %s", typeName(a.Type), show(a.Object)))
}

func (a *UnboxValue) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Object)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.UnboxAny, a.Type), store(ctx, a.Dest)), nil
}

// SafeCast is "obj as T" (isinst) or "(T) obj" (castclass).
type SafeCast struct {
	analysis.Base
	Type     *metadata.Type
	Object   analysis.Operand
	Dest     *analysis.Local
	Throwing bool
}

func NewSafeCast(in isa.Instruction, t *metadata.Type, obj analysis.Operand, dest *analysis.Local, throwing bool) *SafeCast {
	return &SafeCast{Base: analysis.At(in), Type: t, Object: obj, Dest: dest, Throwing: throwing}
}

func (a *SafeCast) Pseudocode() string {
	if a.Throwing {
		return assign(a.Dest, fmt.Sprintf("(%s) %s", typeName(a.Type), show(a.Object)))
	}
	return assign(a.Dest, fmt.Sprintf("%s as %s", show(a.Object), typeName(a.Type)))
}

func (a *SafeCast) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Object)
	if err != nil {
		return nil, err
	}
	op := il.Isinst
	if a.Throwing {
		op = il.Castclass
	}
	return append(out, il.I(op, a.Type), store(ctx, a.Dest)), nil
}

// Throw raises an exception object.
type Throw struct {
	analysis.Base
	Exception analysis.Operand
}

func NewThrow(in isa.Instruction, ex analysis.Operand) *Throw {
	return &Throw{Base: analysis.At(in), Exception: ex}
}

func (a *Throw) Pseudocode() string { return "throw " + show(a.Exception) + ";" }

func (a *Throw) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Exception)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Throw)), nil
}

// ResolveICall resolves an internal call by name into a function pointer.
type ResolveICall struct {
	analysis.Base
	Name string
	Reg  string
}

func NewResolveICall(in isa.Instruction, name, reg string) *ResolveICall {
	return &ResolveICall{Base: analysis.Marker(in), Name: name, Reg: reg}
}

func (a *ResolveICall) Pseudocode() string { return "" }

// CallICall calls a previously resolved internal call.
type CallICall struct {
	analysis.Base
	Name string
	Args []analysis.Operand
	Dest *analysis.Local
}

func NewCallICall(in isa.Instruction, name string, args []analysis.Operand, dest *analysis.Local) *CallICall {
	return &CallICall{Base: analysis.At(in), Name: name, Args: args, Dest: dest}
}

func (a *CallICall) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("%s(%s)", a.Name, operands(a.Args)))
}

func (a *CallICall) Callee() string { return a.Name }

// StringConstruct builds a managed string from an unmanaged literal.
type StringConstruct struct {
	analysis.Base
	Source analysis.Operand
	Dest   *analysis.Local
}

func NewStringConstruct(in isa.Instruction, src analysis.Operand, dest *analysis.Local) *StringConstruct {
	return &StringConstruct{Base: analysis.At(in), Source: src, Dest: dest}
}

func (a *StringConstruct) Pseudocode() string { return assign(a.Dest, show(a.Source)) }

func (a *StringConstruct) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	c, ok := a.Source.(*analysis.Constant)
	if !ok {
		return nil, analysis.ErrNotImplemented
	}
	s, ok := c.Value.(string)
	if !ok {
		return nil, analysis.Taint(a, "string source %s is not a literal", c)
	}
	return []il.Instruction{il.I(il.Ldstr, s), store(ctx, a.Dest)}, nil
}

func (a *StringConstruct) Callee() string { return metadata.RuntimeStringNew.String() }

// StaticInit is the class-constructor guard emitted before static access.
type StaticInit struct {
	analysis.Base
	Type *metadata.Type
}

func NewStaticInit(in isa.Instruction, t *metadata.Type) *StaticInit {
	return &StaticInit{Base: analysis.Marker(in), Type: t}
}

func (a *StaticInit) Pseudocode() string { return "" }

// MethodInit is the lazy metadata initialization call in a prologue.
type MethodInit struct {
	analysis.Base
	Token analysis.Operand
}

func NewMethodInit(in isa.Instruction, token analysis.Operand) *MethodInit {
	return &MethodInit{Base: analysis.Marker(in), Token: token}
}

func (a *MethodInit) Pseudocode() string { return "" }

// CallManaged is a direct call into another managed method. Args holds the
// receiver first for instance calls.
type CallManaged struct {
	analysis.Base
	Target   *metadata.Method
	Args     []analysis.Operand
	Dest     *analysis.Local
	Instance bool
}

func NewCallManaged(in isa.Instruction, m *metadata.Method, args []analysis.Operand, dest *analysis.Local) *CallManaged {
	a := &CallManaged{Base: analysis.At(in), Target: m, Args: args, Dest: dest, Instance: !m.Static}
	a.BlankLine = true
	return a
}

func (a *CallManaged) Pseudocode() string {
	return assign(a.Dest, callText(a.Target, a.Args, a.Instance))
}

func (a *CallManaged) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	return emitCall(ctx, a, il.Call, a.Target, a.Args, a.Dest)
}

func (a *CallManaged) Callee() string { return a.Target.QualifiedName() }

// CallVirtual is a call through a vtable slot, an interface slot or a
// generic method spec.
type CallVirtual struct {
	analysis.Base
	Target *metadata.Method
	Slot   int
	Args   []analysis.Operand
	Dest   *analysis.Local
}

func NewCallVirtual(in isa.Instruction, m *metadata.Method, slot int, args []analysis.Operand, dest *analysis.Local) *CallVirtual {
	a := &CallVirtual{Base: analysis.At(in), Target: m, Slot: slot, Args: args, Dest: dest}
	a.BlankLine = true
	return a
}

func (a *CallVirtual) Pseudocode() string { return assign(a.Dest, callText(a.Target, a.Args, true)) }

func (a *CallVirtual) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	return emitCall(ctx, a, il.Callvirt, a.Target, a.Args, a.Dest)
}

func (a *CallVirtual) Callee() string { return a.Target.QualifiedName() }

// TailCall is an unconditional jump into another function. It is followed
// by an implicit Return.
type TailCall struct {
	analysis.Base
	Target *metadata.Method
	Addr   uint64
	Args   []analysis.Operand
}

func NewTailCall(in isa.Instruction, m *metadata.Method, addr uint64, args []analysis.Operand) *TailCall {
	return &TailCall{Base: analysis.At(in), Target: m, Addr: addr, Args: args}
}

func (a *TailCall) Pseudocode() string {
	if a.Target == nil {
		return fmt.Sprintf("sub_%x();", a.Addr)
	}
	return callText(a.Target, a.Args, !a.Target.Static) + ";"
}

func (a *TailCall) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Target == nil {
		return nil, analysis.ErrNotImplemented
	}
	out, err := load(ctx, a, a.Args...)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Call, a.Target)), nil
}

func (a *TailCall) Callee() string {
	if a.Target == nil {
		return fmt.Sprintf("sub_%x", a.Addr)
	}
	return a.Target.QualifiedName()
}

func callText(m *metadata.Method, args []analysis.Operand, instance bool) string {
	var b strings.Builder
	if instance && len(args) > 0 {
		b.WriteString(show(args[0]))
		args = args[1:]
	} else if m.Declaring != nil {
		b.WriteString(m.Declaring.FullName())
	}
	b.WriteString(".")
	b.WriteString(m.Name)
	b.WriteString("(")
	b.WriteString(operands(args))
	b.WriteString(")")
	return b.String()
}

func emitCall(ctx *analysis.EmitContext, a analysis.Action, op il.OpCode, m *metadata.Method, args []analysis.Operand, dest *analysis.Local) ([]il.Instruction, error) {
	if m == nil {
		return nil, analysis.Taint(a, "call target is unknown")
	}
	want := len(m.Params)
	if !m.Static {
		want++
	}
	if len(args) != want {
		return nil, analysis.Taint(a, "%s takes %d arguments, %d bound", m, want, len(args))
	}
	out, err := load(ctx, a, args...)
	if err != nil {
		return nil, err
	}
	out = append(out, il.I(op, m))
	if m.ReturnsValue() {
		out = append(out, store(ctx, dest))
	}
	return out, nil
}
