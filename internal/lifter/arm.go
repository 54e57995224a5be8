package lifter

import (
	"strings"

	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/isa"
)

func armIsLoad(mn string) bool {
	switch mn {
	case "ldr", "ldrb", "ldrh", "ldrsb", "ldrsh", "ldrsw",
		"ldur", "ldurb", "ldurh", "ldursb", "ldursh", "ldursw", "ldar", "ldapr":
		return true
	}
	return false
}

func armIsStore(mn string) bool {
	switch mn {
	case "str", "strb", "strh", "stur", "sturb", "sturh", "stlr":
		return true
	}
	return false
}

func armIsMove(mn string) bool {
	switch mn {
	case "mov", "fmov", "sxtw", "uxtw":
		return true
	}
	return false
}

func armIsConstantMove(mn string) bool { return mn == "mov" || mn == "movz" || mn == "movw" }

func armIsCompare(mn string) bool {
	switch mn {
	case "cmp", "tst", "fcmp", "fcmpe":
		return true
	}
	return false
}

func armIsBarrier(mn string) bool {
	switch mn {
	case "nop", "hint", "bti", "paciasp", "autiasp", "pacibsp", "autibsp",
		"isb", "dmb", "dsb", "yield", "prfm", "prfum":
		return true
	}
	return false
}

// pairSingle maps a register-pair access to its single-register form.
var pairSingle = map[string]string{
	"ldp": "ldr", "ldnp": "ldr", "ldpsw": "ldrsw",
	"stp": "str", "stnp": "str",
}

// synth copies in with a new mnemonic and operands. The text is cleared so
// diagnostics show the synthesized form.
func synth(in isa.Instruction, mn string, ops ...isa.Operand) isa.Instruction {
	in.Mnemonic = mn
	in.Operands = ops
	in.Text = ""
	return in
}

func writeback(o isa.Operand) bool {
	return o.Kind == isa.KindMem && (o.Mem.PreIndex || o.Mem.PostIndex)
}

// withoutWriteback returns in with the writeback memory operand at mem
// replaced by the plain access it performs. Pre-index reads base+disp,
// post-index reads base.
func withoutWriteback(in isa.Instruction, mem int) isa.Instruction {
	ops := append([]isa.Operand(nil), in.Operands...)
	m := ops[mem]
	if m.Mem.PostIndex {
		m.Mem.Disp = 0
	}
	m.Mem.PreIndex, m.Mem.PostIndex = false, false
	ops[mem] = m
	return synth(in, in.Mnemonic, ops...)
}

// splitPair lowers ldp/stp into two single accesses of the same width.
func splitPair(f *Facts, in isa.Instruction) (isa.Instruction, isa.Instruction) {
	a, b, m := in.Operands[0], in.Operands[1], in.Operands[2]
	size := a.Size
	switch {
	case f.Mnemonic == "ldpsw":
		size = 4
	case size == 0:
		size = f.ptr()
	}
	m.Size = size
	m2 := m
	m2.Mem.Disp += int64(size)
	mn := pairSingle[in.Mnemonic]
	return synth(in, mn, a, m), synth(in, mn, b, m2)
}

func writebackRule(arch isa.Arch, arity int) Rule {
	mem := arity - 1
	return Rule{
		Name: "writeback",
		Match: func(f *Facts) bool {
			return len(f.Ops) == arity && writeback(f.In.Op(mem)) && f.handles(withoutWriteback(f.In, mem))
		},
		Build: func(f *Facts) error {
			if err := f.dispatch(withoutWriteback(f.In, mem)); err != nil {
				return err
			}
			o := f.Op(mem)
			disp := o.Mem.Disp
			if o.Mem.Base == isa.StackPointer(arch) {
				f.State.FrameAdjust -= disp
				return nil
			}
			if sp, ok := o.Value.(analysis.StackPointer); ok && o.Bound {
				f.Bind(o.Mem.Base, analysis.StackPointer{Offset: sp.Offset + disp})
				return nil
			}
			f.Bind(o.Mem.Base, analysis.Unresolved{At: f.In.Addr})
			return nil
		},
	}
}

// armRules builds the rule table shared by AArch64 and 32-bit ARM. The
// decoder gives both the same mnemonics; only the frame registers differ.
func armRules(arch isa.Arch) *RuleTable {
	t := NewRuleTable()
	sp, fp := isa.StackPointer(arch), isa.FramePointer(arch)

	t.Add(0,
		Rule{
			Name:  "return",
			Match: func(f *Facts) bool { return f.Mnemonic == "ret" },
			Build: lowerReturn,
		},
		Rule{
			Name:  "nop",
			Match: func(f *Facts) bool { return armIsBarrier(f.Mnemonic) },
			Build: func(f *Facts) error { return nil },
		},
	)

	t.Add(1, callRules()...)
	t.Add(1,
		Rule{
			Name:  "jump",
			Match: func(f *Facts) bool { return f.Mnemonic == "b" && f.isImm(0) },
			Build: func(f *Facts) error { return unconditionalBranch(f, uint64(f.Op(0).Imm)) },
		},
		Rule{
			Name:  "conditional-jump",
			Match: func(f *Facts) bool { return strings.HasPrefix(f.Mnemonic, "b.") && f.isImm(0) },
			Build: func(f *Facts) error { return conditionalBranch(f, uint64(f.Op(0).Imm), f.condition()) },
		},
		Rule{
			// push/pop carry the byte count of the register list.
			Name:  "push-pop",
			Match: func(f *Facts) bool { return (f.Mnemonic == "push" || f.Mnemonic == "pop") && f.isImm(0) },
			Build: func(f *Facts) error {
				if f.Mnemonic == "push" {
					f.State.FrameAdjust += f.Op(0).Imm
				} else {
					f.State.FrameAdjust -= f.Op(0).Imm
				}
				return nil
			},
		},
		Rule{
			Name:  "return-register",
			Match: func(f *Facts) bool { return f.Mnemonic == "ret" },
			Build: lowerReturn,
		},
		Rule{
			Name:  "nop",
			Match: func(f *Facts) bool { return armIsBarrier(f.Mnemonic) },
			Build: func(f *Facts) error { return nil },
		},
	)

	t.Add(2,
		writebackRule(arch, 2),
		Rule{
			Name: "compare-branch",
			Match: func(f *Facts) bool {
				return (f.Mnemonic == "cbz" || f.Mnemonic == "cbnz") && f.isReg(0) && f.isImm(1)
			},
			Build: func(f *Facts) error {
				op, _ := actions.ConditionFor(f.Mnemonic)
				cond := actions.Condition{Left: f.comparand(0), Op: op}
				return conditionalBranch(f, uint64(f.Op(1).Imm), cond)
			},
		},
		compareRule(armIsCompare),
		Rule{
			// cmn a, #n sets the flags of cmp a, #-n.
			Name:  "compare-negated",
			Match: func(f *Facts) bool { return f.Mnemonic == "cmn" && f.isReg(0) && f.isImm(1) },
			Build: func(f *Facts) error {
				left := f.comparand(0)
				right := analysis.Literal(literalType(f.Op(0).Size, f.ptr()), -f.Op(1).Imm)
				f.Emit(actions.NewCompare(f.In, left, right, false))
				f.State.LastComparison = &analysis.Comparison{Left: left, Right: right, At: f.In.Addr}
				return nil
			},
		},
		Rule{
			Name:  "page-address",
			Match: func(f *Facts) bool { return f.Mnemonic == "adrp" && f.isReg(0) && f.isImm(1) },
			Build: func(f *Facts) error {
				f.Bind(f.reg(0), &analysis.Constant{Value: uint64(f.Op(1).Imm), Provenance: analysis.ProvFieldOffset})
				return nil
			},
		},
		Rule{
			Name:  "address-of-global",
			Match: func(f *Facts) bool { return f.Mnemonic == "adr" && f.isReg(0) && f.isImm(1) },
			Build: func(f *Facts) error {
				addressOf(f, f.reg(0), uint64(f.Op(1).Imm))
				return nil
			},
		},
		Rule{
			Name: "frame-anchor",
			Match: func(f *Facts) bool {
				return f.Mnemonic == "mov" && f.isReg(0) && f.isReg(1) &&
					f.reg(0) == fp && f.reg(1) == sp
			},
			Build: func(f *Facts) error {
				f.State.AnchorFramePointer(0)
				return nil
			},
		},
	)
	t.Add(2, loadRules(armIsLoad)...)
	t.Add(2, storeRules(armIsStore, 1, 0)...)
	t.Add(2,
		aliasRule(armIsMove),
		constantRule(armIsConstantMove),
	)

	t.Add(3,
		writebackRule(arch, 3),
		Rule{
			Name: "register-pair",
			Match: func(f *Facts) bool {
				if _, ok := pairSingle[f.Mnemonic]; !ok {
					return false
				}
				if !f.isReg(0) || !f.isReg(1) || !f.isMem(2) || writeback(f.In.Op(2)) {
					return false
				}
				a, b := splitPair(f, f.In)
				return f.handles(a) && f.handles(b)
			},
			Build: func(f *Facts) error {
				a, b := splitPair(f, f.In)
				return f.dispatch(a, b)
			},
		},
		Rule{
			Name: "test-bit-branch",
			Match: func(f *Facts) bool {
				return (f.Mnemonic == "tbz" || f.Mnemonic == "tbnz") && f.isReg(0) && f.isImm(1) && f.isImm(2)
			},
			Build: func(f *Facts) error {
				op, _ := actions.ConditionFor(f.Mnemonic)
				bit := analysis.Literal(literalType(f.Op(0).Size, f.ptr()), int64(1)<<uint(f.Op(1).Imm))
				cond := actions.Condition{Left: f.comparand(0), Right: bit, Op: op, Bitwise: true}
				return conditionalBranch(f, uint64(f.Op(2).Imm), cond)
			},
		},
		Rule{
			Name: "stack-pointer-adjust",
			Match: func(f *Facts) bool {
				return (f.Mnemonic == "add" || f.Mnemonic == "sub") &&
					f.reg(0) == sp && f.reg(1) == sp && f.isImm(2)
			},
			Build: func(f *Facts) error {
				if f.Mnemonic == "sub" {
					f.State.FrameAdjust += f.Op(2).Imm
				} else {
					f.State.FrameAdjust -= f.Op(2).Imm
				}
				return nil
			},
		},
		Rule{
			Name: "frame-anchor",
			Match: func(f *Facts) bool {
				return f.Mnemonic == "add" && f.reg(0) == fp &&
					f.reg(1) == sp && f.isImm(2)
			},
			Build: func(f *Facts) error {
				f.State.AnchorFramePointer(f.Op(2).Imm)
				return nil
			},
		},
		Rule{
			Name: "stack-address",
			Match: func(f *Facts) bool {
				if f.Mnemonic != "add" || !f.isReg(0) || !f.isReg(1) || !f.isImm(2) {
					return false
				}
				_, ok := f.State.SlotKey(f.reg(1), f.Op(2).Imm)
				return ok
			},
			Build: func(f *Facts) error {
				key, _ := f.State.SlotKey(f.reg(1), f.Op(2).Imm)
				f.Emit(actions.NewStackAddress(f.In, f.reg(0), key))
				f.Bind(f.reg(0), analysis.StackPointer{Offset: key})
				return nil
			},
		},
		Rule{
			Name: "page-offset",
			Match: func(f *Facts) bool {
				_, ok := pageOf(f, 1)
				return f.Mnemonic == "add" && f.isReg(0) && ok && f.isImm(2)
			},
			Build: func(f *Facts) error {
				page, _ := pageOf(f, 1)
				addressOf(f, f.reg(0), page+uint64(f.Op(2).Imm))
				return nil
			},
		},
		Rule{
			Name: "move-keep",
			Match: func(f *Facts) bool {
				c, ok := f.constant(0, analysis.ProvLiteral)
				_, lit := literalInt(c)
				return f.Mnemonic == "movk" && ok && lit && f.isImm(1) && f.isImm(2)
			},
			Build: func(f *Facts) error {
				c, _ := f.constant(0, analysis.ProvLiteral)
				old, _ := literalInt(c)
				shift := uint(f.Op(2).Imm)
				v := old&^(0xffff<<shift) | (f.Op(1).Imm&0xffff)<<shift
				nc := analysis.Literal(c.Type, v)
				nc.MaybeNotConstant = c.MaybeNotConstant
				f.Bind(f.reg(0), nc)
				return nil
			},
		},
		Rule{
			Name: "add-constant",
			Match: func(f *Facts) bool {
				return (f.Mnemonic == "add" || f.Mnemonic == "sub") && f.isReg(0) && f.isImm(2) &&
					f.Op(1).Bound && adjustable(f.Op(1).Value)
			},
			Build: func(f *Facts) error {
				n := f.Op(2).Imm
				if f.Mnemonic == "sub" {
					n = -n
				}
				adjustConstant(f, f.reg(0), f.Op(1).Value, n, f.reg(0) == f.reg(1))
				return nil
			},
		},
		Rule{
			Name: "shift-constant",
			Match: func(f *Facts) bool {
				switch f.Mnemonic {
				case "lsl", "lsr", "asr":
					return f.isReg(0) && f.Op(1).Bound && f.isImm(2)
				}
				return false
			},
			Build: func(f *Facts) error {
				shiftConstant(f, f.reg(0), f.Op(1).Value, f.Op(2).Imm, f.Mnemonic == "lsl", f.Op(0).Size)
				return nil
			},
		},
		Rule{
			Name: "register-arithmetic",
			Match: func(f *Facts) bool {
				_, ok := arithSymbols[f.Mnemonic]
				return ok && f.isReg(0) && f.isReg(1) && f.Op(1).Bound && (f.isReg(2) || f.isImm(2))
			},
			Build: func(f *Facts) error {
				arithmetic(f, f.reg(0), arithSymbols[f.Mnemonic], f.Op(1).Value, f.value(2), f.Op(0).Size)
				return nil
			},
		},
	)
	return t
}
