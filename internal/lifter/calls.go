package lifter

import (
	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/callconv"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// bindCall tries each candidate in order and commits the first binding
// that fits the state. Rejections are routine and only logged.
func bindCall(f *Facts, cands []*metadata.Method) (*metadata.Method, *callconv.Binding) {
	conv := f.Arch.Convention()
	for _, m := range cands {
		b, err := conv.Bind(m, f.State, !m.Static)
		if err != nil {
			f.e.opts.Logger.WithField("addr", f.In.Addr).Debugf("candidate rejected: %v", err)
			continue
		}
		b.Commit(f.State)
		return m, b
	}
	return nil, nil
}

// afterCall kills the volatile registers and binds the return register to
// dest.
func afterCall(f *Facts, dest *analysis.Local) {
	for _, r := range f.Arch.VolatileRegisters() {
		f.State.Clear(r)
	}
	f.State.LastComparison = nil
	if dest == nil {
		return
	}
	reg := f.Arch.ReturnRegister()
	if dest.Type.IsFloatingPointShaped() {
		reg = f.Arch.FloatReturnRegister()
	}
	f.Bind(reg, dest)
}

// result creates the destination local of a call returning t.
func result(f *Facts, m *metadata.Method, t *metadata.Type) *analysis.Local {
	if m == nil || !m.ReturnsValue() {
		return nil
	}
	return f.local(t)
}

// directCallTarget reports a call to an immediate address the index knows.
func directCallTarget(f *Facts) (uint64, bool) {
	if !isa.IsCall(f.Mnemonic) || !f.isImm(0) {
		return 0, false
	}
	return uint64(f.Op(0).Imm), true
}

func isRuntimeCall(f *Facts) bool {
	t, ok := directCallTarget(f)
	return ok && f.Index.Runtime(t) != metadata.RuntimeNone
}

func isManagedCall(f *Facts) bool {
	t, ok := directCallTarget(f)
	return ok && len(f.Index.MethodsAt(t)) > 0
}

func lowerRuntimeCall(f *Facts) error {
	t, _ := directCallTarget(f)
	return runtimeCall(f, f.Index.Runtime(t))
}

// lowerManagedCall binds the call against every method compiled at the
// target. When none fits the first candidate is kept unbound so the call
// still shows up in the listing.
func lowerManagedCall(f *Facts) error {
	t, _ := directCallTarget(f)
	cands := f.Index.MethodsAt(t)
	m, b := bindCall(f, cands)
	var args []analysis.Operand
	var ret *metadata.Type
	if b != nil {
		args, ret = b.Args, b.ReturnType()
	} else {
		m = cands[0]
		ret = metadata.Substitute(m.Return, m.Declaring)
	}
	dest := result(f, m, ret)
	f.Emit(actions.NewCallManaged(f.In, m, args, dest))
	afterCall(f, dest)
	return nil
}

// runtimeArgs returns the first n arguments of a runtime call. Stack
// conventions pop them from the explicit stack.
func runtimeArgs(f *Facts, n int) []analysis.Operand {
	args := make([]analysis.Operand, n)
	regs := f.Arch.ArgumentRegisters()
	if len(regs) == 0 {
		popped := 0
		for i := range args {
			op, ok := f.State.Pop()
			if !ok {
				break
			}
			args[i] = op
			popped++
		}
		f.State.CallPopped = popped
		return args
	}
	for i := range args {
		if i >= len(regs) {
			break
		}
		if op, ok := f.State.Get(regs[i]); ok {
			args[i] = op
		}
	}
	return args
}

// typeArg returns the managed type carried by a runtime call's class
// argument.
func typeArg(op analysis.Operand) *metadata.Type {
	c, ok := op.(*analysis.Constant)
	if !ok {
		return nil
	}
	switch c.Provenance {
	case analysis.ProvTypeToken, analysis.ProvClassPointer:
		t, _ := c.Value.(*metadata.Type)
		return t
	}
	return nil
}

func stringArg(op analysis.Operand) (string, bool) {
	switch v := op.(type) {
	case *analysis.Constant:
		s, ok := v.Value.(string)
		return s, ok
	case *analysis.Local:
		s, ok := v.KnownValue.(string)
		return s, ok && v.HasKnownValue
	}
	return "", false
}

// runtimeCall lowers a call to a well-known runtime entry point.
func runtimeCall(f *Facts, rf metadata.RuntimeFunction) error {
	in := f.In
	var dest *analysis.Local
	switch rf {
	case metadata.RuntimeObjectNew:
		args := runtimeArgs(f, 1)
		t := typeArg(args[0])
		dest = f.local(t)
		f.Emit(actions.NewAllocateInstance(in, t, dest))
	case metadata.RuntimeArrayNew:
		args := runtimeArgs(f, 2)
		el := typeArg(args[0])
		if el.IsArray() {
			el = el.ElementType
		}
		var at *metadata.Type
		if el != nil {
			at = metadata.ArrayOf(el)
		}
		dest = f.local(at)
		f.Emit(actions.NewAllocateArray(in, el, args[1], dest))
	case metadata.RuntimeBox:
		args := runtimeArgs(f, 2)
		v := args[1]
		if sp, ok := v.(analysis.StackPointer); ok {
			if slot, ok := f.State.Slot(sp.Offset); ok {
				v = slot
			}
		}
		dest = f.local(metadata.Object)
		f.Emit(actions.NewBoxValue(in, typeArg(args[0]), v, dest))
	case metadata.RuntimeUnbox:
		args := runtimeArgs(f, 2)
		t := typeArg(args[1])
		dest = f.local(t)
		f.Emit(actions.NewUnboxValue(in, t, args[0], dest))
	case metadata.RuntimeIsInst, metadata.RuntimeCastClass:
		args := runtimeArgs(f, 2)
		t := typeArg(args[1])
		dest = f.local(t)
		f.Emit(actions.NewSafeCast(in, t, args[0], dest, rf == metadata.RuntimeCastClass))
	case metadata.RuntimeRaise, metadata.RuntimeThrow:
		args := runtimeArgs(f, 1)
		f.Emit(actions.NewThrow(in, args[0]))
	case metadata.RuntimeResolveICall:
		args := runtimeArgs(f, 1)
		name, _ := stringArg(args[0])
		reg := f.Arch.ReturnRegister()
		f.Emit(actions.NewResolveICall(in, name, reg))
		afterCall(f, nil)
		f.Bind(reg, &analysis.Constant{Value: name, Provenance: analysis.ProvICallPointer})
		return nil
	case metadata.RuntimeStringNew:
		args := runtimeArgs(f, 1)
		dest = f.local(metadata.String)
		if s, ok := stringArg(args[0]); ok {
			dest.KnownValue, dest.HasKnownValue = s, true
		}
		f.Emit(actions.NewStringConstruct(in, args[0], dest))
	case metadata.RuntimeClassInit:
		args := runtimeArgs(f, 1)
		f.Emit(actions.NewStaticInit(in, typeArg(args[0])))
	case metadata.RuntimeMethodInit:
		args := runtimeArgs(f, 1)
		f.Emit(actions.NewMethodInit(in, args[0]))
	}
	afterCall(f, dest)
	return nil
}

// vtableEntry decodes a displacement into a class as a vtable slot. info
// reports the MethodInfo half of the entry rather than the code pointer.
func vtableEntry(f *Facts, disp int64) (slot int, info bool, ok bool) {
	l := f.layout()
	rel := disp - int64(l.VtableStart)
	if rel < 0 || l.VtableEntrySize <= 0 {
		return 0, false, false
	}
	slot = int(rel / int64(l.VtableEntrySize))
	switch rel % int64(l.VtableEntrySize) {
	case 0:
		return slot, false, true
	case int64(f.ptr()):
		return slot, true, true
	}
	return 0, false, false
}

// classOf returns the type behind a class-pointer or type-token constant.
func classOf(f *Facts, i int) (*metadata.Type, bool) {
	c, ok := f.constant(i, analysis.ProvClassPointer, analysis.ProvTypeToken)
	if !ok {
		return nil, false
	}
	t, ok := c.Value.(*metadata.Type)
	return t, ok && t != nil
}

// methodOf returns the method behind a constant of one of provs.
func methodOf(f *Facts, i int, provs ...analysis.Provenance) (*metadata.Method, bool) {
	c, ok := f.constant(i, provs...)
	if !ok {
		return nil, false
	}
	m, ok := c.Value.(*metadata.Method)
	return m, ok && m != nil
}

// callThroughSlot lowers a call of m reached through a vtable or code
// pointer.
func callThroughSlot(f *Facts, m *metadata.Method, slot int) error {
	var args []analysis.Operand
	ret := metadata.Substitute(m.Return, m.Declaring)
	if b, err := f.Arch.Convention().Bind(m, f.State, !m.Static); err == nil {
		b.Commit(f.State)
		args, ret = b.Args, b.ReturnType()
	}
	dest := result(f, m, ret)
	if m.Static {
		f.Emit(actions.NewCallManaged(f.In, m, args, dest))
	} else {
		f.Emit(actions.NewCallVirtual(f.In, m, slot, args, dest))
	}
	afterCall(f, dest)
	return nil
}

// isVirtualCall matches "call [class + vtable offset]".
func isVirtualCall(f *Facts) bool {
	if !isa.IsCall(f.Mnemonic) || !f.isMem(0) || f.Op(0).Mem.Index != "" {
		return false
	}
	t, ok := classOf(f, 0)
	if !ok {
		return false
	}
	slot, info, ok := vtableEntry(f, f.Op(0).Mem.Disp)
	return ok && !info && f.Index.VtableSlot(t, slot) != nil
}

func lowerVirtualCall(f *Facts) error {
	t, _ := classOf(f, 0)
	slot, _, _ := vtableEntry(f, f.Op(0).Mem.Disp)
	return callThroughSlot(f, f.Index.VtableSlot(t, slot), slot)
}

// isMethodPointerCall matches "call [methodinfo + methodPointer]", the
// shape of shared generic and method-spec dispatch.
func isMethodPointerCall(f *Facts) bool {
	if !isa.IsCall(f.Mnemonic) || !f.isMem(0) || f.Op(0).Mem.Index != "" {
		return false
	}
	_, ok := methodOf(f, 0, analysis.ProvMethodToken, analysis.ProvMethodSpec)
	return ok && f.Op(0).Mem.Disp == int64(f.layout().MethodPointer)
}

func lowerMethodPointerCall(f *Facts) error {
	m, _ := methodOf(f, 0, analysis.ProvMethodToken, analysis.ProvMethodSpec)
	return callThroughSlot(f, m, m.Slot)
}

// isCodePointerCall matches "call reg" where reg holds a loaded method
// code pointer.
func isCodePointerCall(f *Facts) bool {
	if !isa.IsCall(f.Mnemonic) || !f.isReg(0) {
		return false
	}
	_, ok := methodOf(f, 0, analysis.ProvVtablePointer)
	return ok
}

func lowerCodePointerCall(f *Facts) error {
	m, _ := methodOf(f, 0, analysis.ProvVtablePointer)
	return callThroughSlot(f, m, m.Slot)
}

// isICall matches "call reg" where reg holds a resolved internal call.
func isICall(f *Facts) bool {
	if !isa.IsCall(f.Mnemonic) || !f.isReg(0) {
		return false
	}
	_, ok := f.constant(0, analysis.ProvICallPointer)
	return ok
}

// lowerICall passes every leading bound argument register; the signature
// of an internal call is not in the metadata.
func lowerICall(f *Facts) error {
	c, _ := f.constant(0, analysis.ProvICallPointer)
	name, _ := c.Value.(string)
	var args []analysis.Operand
	for _, r := range f.Arch.ArgumentRegisters() {
		op, ok := f.State.Get(r)
		if !ok {
			break
		}
		args = append(args, op)
	}
	f.Emit(actions.NewCallICall(f.In, name, args, nil))
	afterCall(f, nil)
	f.Bind(f.Arch.ReturnRegister(), analysis.Unresolved{At: f.In.Addr})
	return nil
}

// callRules are shared by every architecture; the guards only look at the
// call shape and the bound operands.
func callRules() []Rule {
	return []Rule{
		{Name: "call-runtime", Match: isRuntimeCall, Build: lowerRuntimeCall},
		{Name: "call-managed", Match: isManagedCall, Build: lowerManagedCall},
		{Name: "call-virtual", Match: isVirtualCall, Build: lowerVirtualCall},
		{Name: "call-method-pointer", Match: isMethodPointerCall, Build: lowerMethodPointerCall},
		{Name: "call-code-pointer", Match: isCodePointerCall, Build: lowerCodePointerCall},
		{Name: "call-icall", Match: isICall, Build: lowerICall},
	}
}
