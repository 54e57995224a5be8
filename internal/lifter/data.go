package lifter

import (
	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/fields"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// Bounds for the raw literal scan behind an unregistered global.
const (
	minLiteral = 4
	maxLiteral = 1024
)

// loadGlobal binds reg to whatever lives at addr: a metadata usage, a raw
// C string, or an unknown global placeholder.
func loadGlobal(f *Facts, reg string, addr uint64) {
	in := f.In
	if g, ok := f.Index.Global(addr); ok {
		switch g.Kind {
		case metadata.GlobalType:
			f.Emit(actions.NewGlobalTypeRef(in, reg, g.Type))
			f.Bind(reg, &analysis.Constant{Value: g.Type, Provenance: analysis.ProvTypeToken})
		case metadata.GlobalMethod, metadata.GlobalMethodSpec:
			spec := g.Kind == metadata.GlobalMethodSpec
			prov := analysis.ProvMethodToken
			if spec {
				prov = analysis.ProvMethodSpec
			}
			f.Emit(actions.NewGlobalMethodRef(in, reg, g.Method, spec))
			f.Bind(reg, &analysis.Constant{Value: g.Method, Provenance: prov})
		case metadata.GlobalField:
			f.Emit(actions.NewGlobalFieldRef(in, reg, g.Field))
			f.Bind(reg, &analysis.Constant{Value: g.Field, Provenance: analysis.ProvFieldToken})
		case metadata.GlobalString:
			l := f.local(metadata.String)
			l.KnownValue, l.HasKnownValue = g.String, true
			f.Emit(actions.NewGlobalStringLiteral(in, g.String, l))
			f.Bind(reg, l)
		}
		return
	}
	if s, err := f.Index.ReadCString(addr, minLiteral, maxLiteral); err == nil {
		f.Emit(actions.NewUnmanagedLiteral(in, reg, addr, s))
		f.Bind(reg, &analysis.Constant{Value: s, Provenance: analysis.ProvUnmanagedLiteral})
		return
	}
	f.Emit(actions.NewUnknownGlobal(in, reg, addr))
	f.Bind(reg, &analysis.Constant{Value: addr, Provenance: analysis.ProvUnknownGlobal})
}

// pageOf returns the address held by an ADRP-style page constant.
func pageOf(f *Facts, i int) (uint64, bool) {
	c, ok := f.constant(i, analysis.ProvFieldOffset)
	if !ok {
		return 0, false
	}
	v, ok := c.Value.(uint64)
	return v, ok
}

// simpleMem reports a memory operand with a base register and no index.
func (f *Facts) simpleMem(i int) bool {
	o := f.Op(i)
	return o.Kind == isa.KindMem && o.Mem.Base != "" && o.Mem.Index == ""
}

func (f *Facts) disp(i int) int64 { return f.Op(i).Mem.Disp }

// staticsOf returns the type whose static-field block operand i's base
// points at.
func staticsOf(f *Facts, i int) (*metadata.Type, bool) {
	c, ok := f.constant(i, analysis.ProvStaticFields)
	if !ok {
		return nil, false
	}
	t, ok := c.Value.(*metadata.Type)
	return t, ok && t != nil
}

// arrayOf returns the array local bound to operand i's base.
func arrayOf(f *Facts, i int) (*analysis.Local, bool) {
	l, ok := f.object(i)
	return l, ok && l.Type.IsArray() && l.Type.ElementType != nil
}

// elementIndex decodes an array element access at operand i into the
// index operand.
func elementIndex(f *Facts, i int) (analysis.Operand, bool) {
	arr, ok := arrayOf(f, i)
	if !ok {
		return nil, false
	}
	o := f.Op(i)
	data := int64(f.layout().ArrayData)
	if o.Mem.Index != "" {
		if o.Mem.Disp != data {
			return nil, false
		}
		if o.IndexBound {
			return o.IndexValue, true
		}
		return analysis.Unresolved{At: f.In.Addr}, true
	}
	size := int64(arr.Type.ElementType.Size(f.ptr()))
	rel := o.Mem.Disp - data
	if size <= 0 || rel < 0 || rel%size != 0 {
		return nil, false
	}
	return analysis.Literal(metadata.Int32, rel/size), true
}

// fieldAt resolves the field chain of a plain object access at operand i.
// A resolver error is returned so the rule can raise it.
func fieldAt(f *Facts, i int, preferFloat bool) (*analysis.Local, *fields.Chain, error) {
	if !f.simpleMem(i) {
		return nil, nil, nil
	}
	obj, ok := f.object(i)
	if !ok || obj.Type.IsArray() || obj.Type.IsPrimitive() {
		return nil, nil, nil
	}
	chain, err := f.e.fields.Resolve(obj.Type, int(f.disp(i)), preferFloat)
	return obj, chain, err
}

func hasField(f *Facts, i int, preferFloat bool) bool {
	_, chain, err := fieldAt(f, i, preferFloat)
	return chain != nil || err != nil
}

// fieldPair resolves a 64-bit access at operand i that spans two adjacent
// 4-byte fields.
func fieldPair(f *Facts, i int) (obj *analysis.Local, low, high *fields.Chain) {
	if !f.is64() || f.Op(i).Size != 8 || !f.simpleMem(i) {
		return nil, nil, nil
	}
	obj, ok := f.object(i)
	if !ok || obj.Type.IsArray() {
		return nil, nil, nil
	}
	off := int(f.disp(i))
	low, err := f.e.fields.Resolve(obj.Type, off, false)
	if err != nil || low == nil || low.Type().Size(f.ptr()) != 4 {
		return nil, nil, nil
	}
	high, err = f.e.fields.Resolve(obj.Type, off+4, false)
	if err != nil || high == nil || high.Final == low.Final {
		return nil, nil, nil
	}
	return obj, low, high
}

// loadRules lowers "dst <- [mem]" for every mnemonic accepted by isLoad,
// destination first. Order matters: the metadata-shaped accesses are tried
// before the plain field read that would otherwise claim them.
func loadRules(isLoad func(string) bool) []Rule {
	shape := func(f *Facts) bool { return isLoad(f.Mnemonic) && f.isReg(0) && f.isMem(1) }
	return []Rule{
		{
			Name:  "global-load",
			Match: func(f *Facts) bool { return shape(f) && f.isAbs(1) },
			Build: func(f *Facts) error {
				loadGlobal(f, f.reg(0), uint64(f.disp(1)))
				return nil
			},
		},
		{
			Name: "page-offset-load",
			Match: func(f *Facts) bool {
				_, ok := pageOf(f, 1)
				return shape(f) && f.simpleMem(1) && ok
			},
			Build: func(f *Facts) error {
				page, _ := pageOf(f, 1)
				loadGlobal(f, f.reg(0), page+uint64(f.disp(1)))
				return nil
			},
		},
		{
			Name: "static-fields-pointer",
			Match: func(f *Facts) bool {
				_, ok := classOf(f, 1)
				return shape(f) && f.simpleMem(1) && ok && f.disp(1) == int64(f.layout().StaticFields)
			},
			Build: func(f *Facts) error {
				t, _ := classOf(f, 1)
				f.Bind(f.reg(0), &analysis.Constant{Value: t, Provenance: analysis.ProvStaticFields})
				return nil
			},
		},
		{
			Name: "static-field-read",
			Match: func(f *Facts) bool {
				t, ok := staticsOf(f, 1)
				return shape(f) && f.simpleMem(1) && ok && fields.Static(t, int(f.disp(1))) != nil
			},
			Build: func(f *Facts) error {
				t, _ := staticsOf(f, 1)
				fld := fields.Static(t, int(f.disp(1)))
				dest := f.local(fld.Type)
				f.Emit(actions.NewStaticFieldRead(f.In, fld, dest))
				f.Bind(f.reg(0), dest)
				return nil
			},
		},
		{
			Name: "vtable-load",
			Match: func(f *Facts) bool {
				_, ok := classOf(f, 1)
				if !shape(f) || !f.simpleMem(1) || !ok {
					return false
				}
				_, _, ok = vtableEntry(f, f.disp(1))
				return ok
			},
			Build: func(f *Facts) error {
				t, _ := classOf(f, 1)
				slot, info, _ := vtableEntry(f, f.disp(1))
				m := f.Index.VtableSlot(t, slot)
				reg := f.reg(0)
				f.Emit(actions.NewLoadVtablePointer(f.In, t, slot, m, info, reg))
				switch {
				case m == nil:
					f.Bind(reg, analysis.Unresolved{At: f.In.Addr})
				case info:
					f.Bind(reg, &analysis.Constant{Value: m, Provenance: analysis.ProvMethodToken})
				default:
					f.Bind(reg, &analysis.Constant{Value: m, Provenance: analysis.ProvVtablePointer})
				}
				return nil
			},
		},
		{
			Name: "method-code-pointer",
			Match: func(f *Facts) bool {
				_, ok := methodOf(f, 1, analysis.ProvMethodToken, analysis.ProvMethodSpec)
				return shape(f) && f.simpleMem(1) && ok && f.disp(1) == int64(f.layout().MethodPointer)
			},
			Build: func(f *Facts) error {
				m, _ := methodOf(f, 1, analysis.ProvMethodToken, analysis.ProvMethodSpec)
				f.Bind(f.reg(0), &analysis.Constant{Value: m, Provenance: analysis.ProvVtablePointer})
				return nil
			},
		},
		{
			Name: "class-pointer",
			Match: func(f *Facts) bool {
				obj, ok := f.object(1)
				return shape(f) && f.simpleMem(1) && ok && f.disp(1) == 0 && obj.Type.IsReference()
			},
			Build: func(f *Facts) error {
				obj, _ := f.object(1)
				reg := f.reg(0)
				f.Emit(actions.NewLoadClassPointer(f.In, obj, obj.Type, reg))
				f.Bind(reg, &analysis.Constant{Value: obj.Type, Provenance: analysis.ProvClassPointer})
				return nil
			},
		},
		{
			Name: "array-length",
			Match: func(f *Facts) bool {
				_, ok := arrayOf(f, 1)
				return shape(f) && f.simpleMem(1) && ok && f.disp(1) == int64(f.layout().ArrayLength)
			},
			Build: func(f *Facts) error {
				arr, _ := arrayOf(f, 1)
				dest := f.local(metadata.Int32)
				f.Emit(actions.NewArrayLength(f.In, arr, dest))
				f.Bind(f.reg(0), dest)
				return nil
			},
		},
		{
			Name: "array-element-read",
			Match: func(f *Facts) bool {
				_, ok := elementIndex(f, 1)
				return shape(f) && ok
			},
			Build: func(f *Facts) error {
				arr, _ := arrayOf(f, 1)
				idx, _ := elementIndex(f, 1)
				dest := f.local(arr.Type.ElementType)
				f.Emit(actions.NewArrayElementRead(f.In, arr, idx, dest))
				f.Bind(f.reg(0), dest)
				return nil
			},
		},
		{
			Name: "field-pair-read",
			Match: func(f *Facts) bool {
				obj, _, _ := fieldPair(f, 1)
				return shape(f) && !isa.IsVector(f.reg(0)) && obj != nil
			},
			Build: func(f *Facts) error {
				obj, low, high := fieldPair(f, 1)
				dest := f.local(nil)
				f.Emit(actions.NewFieldPairRead(f.In, obj, low, high, dest))
				f.Bind(f.reg(0), dest)
				return nil
			},
		},
		{
			Name:  "field-read",
			Match: func(f *Facts) bool { return shape(f) && hasField(f, 1, isa.IsVector(f.reg(0))) },
			Build: func(f *Facts) error {
				obj, chain, err := fieldAt(f, 1, isa.IsVector(f.reg(0)))
				if err != nil {
					return err
				}
				dest := f.local(chain.Type())
				f.Emit(actions.NewFieldRead(f.In, obj, chain, dest))
				f.Bind(f.reg(0), dest)
				return nil
			},
		},
		{
			Name:  "stack-read",
			Match: func(f *Facts) bool { return shape(f) && f.Op(1).OnStack },
			Build: func(f *Facts) error {
				v := f.value(1)
				f.Emit(actions.NewStackToRegister(f.In, f.Op(1).Slot, f.reg(0), v))
				f.Bind(f.reg(0), v)
				return nil
			},
		},
	}
}

// storeRules lowers "[mem] <- value" for every mnemonic accepted by
// isStore; mem and val are the operand positions, which differ between
// x86 (mov [m], v) and ARM (str v, [m]).
func storeRules(isStore func(string) bool, mem, val int) []Rule {
	shape := func(f *Facts) bool {
		return isStore(f.Mnemonic) && f.isMem(mem) && (f.isReg(val) || f.isImm(val))
	}
	// typed renders an immediate as a literal of the destination type.
	typed := func(f *Facts, t *metadata.Type) analysis.Operand {
		if f.isImm(val) && t != nil && (t.IsPrimitive() || t.IsEnum()) {
			return analysis.Literal(t, f.Op(val).Imm)
		}
		return f.value(val)
	}
	return []Rule{
		{
			Name: "static-field-write",
			Match: func(f *Facts) bool {
				t, ok := staticsOf(f, mem)
				return shape(f) && f.simpleMem(mem) && ok && fields.Static(t, int(f.disp(mem))) != nil
			},
			Build: func(f *Facts) error {
				t, _ := staticsOf(f, mem)
				fld := fields.Static(t, int(f.disp(mem)))
				f.Emit(actions.NewStaticFieldWrite(f.In, fld, typed(f, fld.Type)))
				return nil
			},
		},
		{
			Name: "array-element-write",
			Match: func(f *Facts) bool {
				_, ok := elementIndex(f, mem)
				return shape(f) && ok
			},
			Build: func(f *Facts) error {
				arr, _ := arrayOf(f, mem)
				idx, _ := elementIndex(f, mem)
				f.Emit(actions.NewArrayElementWrite(f.In, arr, idx, typed(f, arr.Type.ElementType)))
				return nil
			},
		},
		{
			Name: "field-pair-write",
			Match: func(f *Facts) bool {
				obj, _, _ := fieldPair(f, mem)
				return shape(f) && f.isReg(val) && !isa.IsVector(f.reg(val)) && obj != nil
			},
			Build: func(f *Facts) error {
				obj, low, high := fieldPair(f, mem)
				f.Emit(actions.NewFieldPairWrite(f.In, obj, low, high, f.value(val)))
				return nil
			},
		},
		{
			Name: "field-write",
			Match: func(f *Facts) bool {
				return shape(f) && hasField(f, mem, f.isReg(val) && isa.IsVector(f.reg(val)))
			},
			Build: func(f *Facts) error {
				obj, chain, err := fieldAt(f, mem, f.isReg(val) && isa.IsVector(f.reg(val)))
				if err != nil {
					return err
				}
				f.Emit(actions.NewFieldWrite(f.In, obj, chain, typed(f, chain.Type())))
				return nil
			},
		},
		{
			Name:  "stack-write",
			Match: func(f *Facts) bool { return shape(f) && f.Op(mem).OnStack },
			Build: func(f *Facts) error {
				key := f.Op(mem).Slot
				v := f.value(val)
				if c, ok := v.(*analysis.Constant); ok && f.isImm(val) {
					f.Emit(actions.NewConstantToStack(f.In, key, c))
				} else {
					f.Emit(actions.NewRegisterToStack(f.In, f.reg(val), key, v))
				}
				f.State.SetSlot(key, v)
				return nil
			},
		},
	}
}

// aliasRule copies a register binding: property of every plain move.
func aliasRule(isMove func(string) bool) Rule {
	return Rule{
		Name:  "register-alias",
		Match: func(f *Facts) bool { return isMove(f.Mnemonic) && f.isReg(0) && f.isReg(1) },
		Build: func(f *Facts) error {
			v := f.value(1)
			f.Emit(actions.NewRegisterAlias(f.In, f.reg(0), f.reg(1), v))
			f.Bind(f.reg(0), v)
			return nil
		},
	}
}

// constantRule binds an immediate to a register. Immediates the prepass
// flagged become locals so later arithmetic has something to update.
func constantRule(isMove func(string) bool) Rule {
	return Rule{
		Name:  "constant-to-register",
		Match: func(f *Facts) bool { return isMove(f.Mnemonic) && f.isReg(0) && f.isImm(1) },
		Build: func(f *Facts) error {
			reg := f.reg(0)
			c := analysis.Literal(literalType(f.Op(0).Size, f.ptr()), f.Op(1).Imm)
			if !f.State.Suspect[f.In.Addr] {
				f.Emit(actions.NewConstantToRegister(f.In, reg, c, nil))
				f.Bind(reg, c)
				return nil
			}
			c.MaybeNotConstant = true
			dest := f.local(c.Type)
			f.Emit(actions.NewConstantToRegister(f.In, reg, c, dest))
			f.Bind(reg, dest)
			return nil
		},
	}
}

// compareRule records a flag-setting comparison.
func compareRule(isCompare func(string) bool) Rule {
	return Rule{
		Name:  "compare",
		Match: func(f *Facts) bool { return isCompare(f.Mnemonic) && len(f.Ops) == 2 },
		Build: func(f *Facts) error {
			bitwise := f.Mnemonic == "test" || f.Mnemonic == "tst"
			left, right := f.comparand(0), f.comparand(1)
			f.Emit(actions.NewCompare(f.In, left, right, bitwise))
			f.State.LastComparison = &analysis.Comparison{Left: left, Right: right, Test: bitwise, At: f.In.Addr}
			return nil
		},
	}
}
