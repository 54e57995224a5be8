package actions

import (
	"fmt"

	"aotlift/internal/analysis"
	"aotlift/internal/fields"
	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// RegisterAlias copies a known operand from one register to another.
type RegisterAlias struct {
	analysis.Base
	Dest, Src string
	Value     analysis.Operand
}

func NewRegisterAlias(in isa.Instruction, dest, src string, v analysis.Operand) *RegisterAlias {
	return &RegisterAlias{Base: analysis.Marker(in), Dest: dest, Src: src, Value: v}
}

func (a *RegisterAlias) Pseudocode() string { return "" }

// ConstantToRegister binds an immediate to a register. When the immediate
// is suspected to seed a loop variable it materializes a local instead.
type ConstantToRegister struct {
	analysis.Base
	Reg   string
	Value *analysis.Constant
	Dest  *analysis.Local // set when the constant became a local
}

func NewConstantToRegister(in isa.Instruction, reg string, v *analysis.Constant, dest *analysis.Local) *ConstantToRegister {
	a := &ConstantToRegister{Base: analysis.At(in), Reg: reg, Value: v, Dest: dest}
	a.Unimportant = dest == nil
	return a
}

func (a *ConstantToRegister) Pseudocode() string {
	if a.Dest == nil {
		return ""
	}
	return assign(a.Dest, a.Value.String())
}

func (a *ConstantToRegister) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Dest == nil {
		return nil, analysis.ErrNotImplemented
	}
	out, err := load(ctx, a, a.Value)
	if err != nil {
		return nil, err
	}
	return append(out, ctx.Store(a.Dest)), nil
}

// ZeroRegister is "xor r, r" and friends.
type ZeroRegister struct {
	analysis.Base
	Reg string
}

func NewZeroRegister(in isa.Instruction, reg string) *ZeroRegister {
	return &ZeroRegister{Base: analysis.Marker(in), Reg: reg}
}

func (a *ZeroRegister) Pseudocode() string { return "" }

// StackToRegister reloads a spilled value from a frame slot.
type StackToRegister struct {
	analysis.Base
	Offset int64
	Reg    string
	Value  analysis.Operand
}

func NewStackToRegister(in isa.Instruction, off int64, reg string, v analysis.Operand) *StackToRegister {
	return &StackToRegister{Base: analysis.Marker(in), Offset: off, Reg: reg, Value: v}
}

func (a *StackToRegister) Pseudocode() string { return "" }

// RegisterToStack spills a register to a frame slot.
type RegisterToStack struct {
	analysis.Base
	Reg    string
	Offset int64
	Value  analysis.Operand
}

func NewRegisterToStack(in isa.Instruction, reg string, off int64, v analysis.Operand) *RegisterToStack {
	return &RegisterToStack{Base: analysis.Marker(in), Reg: reg, Offset: off, Value: v}
}

func (a *RegisterToStack) Pseudocode() string { return "" }

// ConstantToStack writes an immediate into a frame slot.
type ConstantToStack struct {
	analysis.Base
	Offset int64
	Value  *analysis.Constant
}

func NewConstantToStack(in isa.Instruction, off int64, v *analysis.Constant) *ConstantToStack {
	return &ConstantToStack{Base: analysis.Marker(in), Offset: off, Value: v}
}

func (a *ConstantToStack) Pseudocode() string { return "" }

// Push records a 32-bit push onto the explicit operand stack.
type Push struct {
	analysis.Base
	Value analysis.Operand
}

func NewPush(in isa.Instruction, v analysis.Operand) *Push {
	return &Push{Base: analysis.Marker(in), Value: v}
}

func (a *Push) Pseudocode() string { return "" }

// StackCleanup is "add esp, n" after a call.
type StackCleanup struct {
	analysis.Base
	Bytes   int64
	Entries int
}

func NewStackCleanup(in isa.Instruction, bytes int64, entries int) *StackCleanup {
	return &StackCleanup{Base: analysis.Marker(in), Bytes: bytes, Entries: entries}
}

func (a *StackCleanup) Pseudocode() string { return "" }

// StackAddress takes the address of a frame slot.
type StackAddress struct {
	analysis.Base
	Reg    string
	Offset int64
}

func NewStackAddress(in isa.Instruction, reg string, off int64) *StackAddress {
	return &StackAddress{Base: analysis.Marker(in), Reg: reg, Offset: off}
}

func (a *StackAddress) Pseudocode() string { return "" }

// FieldRead loads obj.chain into a new local.
type FieldRead struct {
	analysis.Base
	Object analysis.Operand
	Chain  *fields.Chain
	Dest   *analysis.Local
}

func NewFieldRead(in isa.Instruction, obj analysis.Operand, chain *fields.Chain, dest *analysis.Local) *FieldRead {
	return &FieldRead{Base: analysis.At(in), Object: obj, Chain: chain, Dest: dest}
}

func (a *FieldRead) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("%s.%s", show(a.Object), a.Chain))
}

func (a *FieldRead) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Chain == nil {
		return nil, analysis.Taint(a, "no field chain")
	}
	out, err := load(ctx, a, a.Object)
	if err != nil {
		return nil, err
	}
	for _, f := range a.Chain.Fields() {
		out = append(out, il.I(il.Ldfld, f))
	}
	return append(out, store(ctx, a.Dest)), nil
}

// FieldWrite stores a value into obj.chain.
type FieldWrite struct {
	analysis.Base
	Object analysis.Operand
	Chain  *fields.Chain
	Value  analysis.Operand
}

func NewFieldWrite(in isa.Instruction, obj analysis.Operand, chain *fields.Chain, v analysis.Operand) *FieldWrite {
	return &FieldWrite{Base: analysis.At(in), Object: obj, Chain: chain, Value: v}
}

func (a *FieldWrite) Pseudocode() string {
	return fmt.Sprintf("%s.%s = %s;", show(a.Object), a.Chain, show(a.Value))
}

func (a *FieldWrite) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	if a.Chain == nil {
		return nil, analysis.Taint(a, "no field chain")
	}
	out, err := load(ctx, a, a.Object)
	if err != nil {
		return nil, err
	}
	for _, f := range a.Chain.Implied {
		out = append(out, il.I(il.Ldfld, f))
	}
	v, err := load(ctx, a, a.Value)
	if err != nil {
		return nil, err
	}
	out = append(out, v...)
	return append(out, il.I(il.Stfld, a.Chain.Final)), nil
}

// FieldPairRead is one 64-bit load that covers two adjacent 32-bit fields.
type FieldPairRead struct {
	analysis.Base
	Object    analysis.Operand
	Low, High *fields.Chain
	Dest      *analysis.Local
}

func NewFieldPairRead(in isa.Instruction, obj analysis.Operand, low, high *fields.Chain, dest *analysis.Local) *FieldPairRead {
	return &FieldPairRead{Base: analysis.At(in), Object: obj, Low: low, High: high, Dest: dest}
}

func (a *FieldPairRead) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("(%s.%s, %s.%s)", show(a.Object), a.Low, show(a.Object), a.High))
}

// FieldPairWrite is one 64-bit store that covers two adjacent 32-bit fields.
type FieldPairWrite struct {
	analysis.Base
	Object    analysis.Operand
	Low, High *fields.Chain
	Value     analysis.Operand
}

func NewFieldPairWrite(in isa.Instruction, obj analysis.Operand, low, high *fields.Chain, v analysis.Operand) *FieldPairWrite {
	return &FieldPairWrite{Base: analysis.At(in), Object: obj, Low: low, High: high, Value: v}
}

func (a *FieldPairWrite) Pseudocode() string {
	return fmt.Sprintf("(%s.%s, %s.%s) = %s;", show(a.Object), a.Low, show(a.Object), a.High, show(a.Value))
}

// StaticFieldRead loads Type.Field.
type StaticFieldRead struct {
	analysis.Base
	Field *metadata.Field
	Dest  *analysis.Local
}

func NewStaticFieldRead(in isa.Instruction, f *metadata.Field, dest *analysis.Local) *StaticFieldRead {
	return &StaticFieldRead{Base: analysis.At(in), Field: f, Dest: dest}
}

func (a *StaticFieldRead) Pseudocode() string {
	return assign(a.Dest, staticName(a.Field))
}

func (a *StaticFieldRead) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	return []il.Instruction{il.I(il.Ldsfld, a.Field), store(ctx, a.Dest)}, nil
}

// StaticFieldWrite stores into Type.Field.
type StaticFieldWrite struct {
	analysis.Base
	Field *metadata.Field
	Value analysis.Operand
}

func NewStaticFieldWrite(in isa.Instruction, f *metadata.Field, v analysis.Operand) *StaticFieldWrite {
	return &StaticFieldWrite{Base: analysis.At(in), Field: f, Value: v}
}

func (a *StaticFieldWrite) Pseudocode() string {
	return fmt.Sprintf("%s = %s;", staticName(a.Field), show(a.Value))
}

func (a *StaticFieldWrite) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Value)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Stsfld, a.Field)), nil
}

func staticName(f *metadata.Field) string {
	if f.Declaring != nil {
		return f.Declaring.FullName() + "." + f.Name
	}
	return f.Name
}

// ArrayElementRead loads arr[index].
type ArrayElementRead struct {
	analysis.Base
	Array analysis.Operand
	Index analysis.Operand
	Dest  *analysis.Local
}

func NewArrayElementRead(in isa.Instruction, arr, index analysis.Operand, dest *analysis.Local) *ArrayElementRead {
	return &ArrayElementRead{Base: analysis.At(in), Array: arr, Index: index, Dest: dest}
}

func (a *ArrayElementRead) Pseudocode() string {
	return assign(a.Dest, fmt.Sprintf("%s[%s]", show(a.Array), show(a.Index)))
}

func (a *ArrayElementRead) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Array, a.Index)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Ldelem, elementType(a.Array)), store(ctx, a.Dest)), nil
}

// ArrayElementWrite stores into arr[index].
type ArrayElementWrite struct {
	analysis.Base
	Array analysis.Operand
	Index analysis.Operand
	Value analysis.Operand
}

func NewArrayElementWrite(in isa.Instruction, arr, index, v analysis.Operand) *ArrayElementWrite {
	return &ArrayElementWrite{Base: analysis.At(in), Array: arr, Index: index, Value: v}
}

func (a *ArrayElementWrite) Pseudocode() string {
	return fmt.Sprintf("%s[%s] = %s;", show(a.Array), show(a.Index), show(a.Value))
}

func (a *ArrayElementWrite) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Array, a.Index, a.Value)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Stelem, elementType(a.Array))), nil
}

func elementType(arr analysis.Operand) *metadata.Type {
	if t := analysis.TypeOf(arr); t != nil && t.IsArray() {
		return t.ElementType
	}
	return metadata.Object
}

// ArrayLength loads arr.Length.
type ArrayLength struct {
	analysis.Base
	Array analysis.Operand
	Dest  *analysis.Local
}

func NewArrayLength(in isa.Instruction, arr analysis.Operand, dest *analysis.Local) *ArrayLength {
	return &ArrayLength{Base: analysis.At(in), Array: arr, Dest: dest}
}

func (a *ArrayLength) Pseudocode() string {
	return assign(a.Dest, show(a.Array)+".Length")
}

func (a *ArrayLength) ManagedInstructions(ctx *analysis.EmitContext) ([]il.Instruction, error) {
	out, err := load(ctx, a, a.Array)
	if err != nil {
		return nil, err
	}
	return append(out, il.I(il.Ldlen), store(ctx, a.Dest)), nil
}

// LoadClassPointer reads the class pointer from an object header.
type LoadClassPointer struct {
	analysis.Base
	Object analysis.Operand
	Class  *metadata.Type
	Reg    string
}

func NewLoadClassPointer(in isa.Instruction, obj analysis.Operand, class *metadata.Type, reg string) *LoadClassPointer {
	return &LoadClassPointer{Base: analysis.Marker(in), Object: obj, Class: class, Reg: reg}
}

func (a *LoadClassPointer) Pseudocode() string { return "" }

// LoadVtablePointer reads a method pointer (or its method info) out of a
// class's vtable.
type LoadVtablePointer struct {
	analysis.Base
	Class      *metadata.Type
	Slot       int
	Method     *metadata.Method
	MethodInfo bool
	Reg        string
}

func NewLoadVtablePointer(in isa.Instruction, class *metadata.Type, slot int, m *metadata.Method, info bool, reg string) *LoadVtablePointer {
	return &LoadVtablePointer{Base: analysis.Marker(in), Class: class, Slot: slot, Method: m, MethodInfo: info, Reg: reg}
}

func (a *LoadVtablePointer) Pseudocode() string { return "" }
