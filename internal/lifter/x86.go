package lifter

import (
	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

func x86IsMove(mn string) bool {
	switch mn {
	case "mov", "movzx", "movsx", "movsxd", "movss", "movsd", "movq", "movd",
		"movaps", "movups", "movapd", "movupd", "movdqa", "movdqu":
		return true
	}
	return false
}

func x86IsCompare(mn string) bool {
	switch mn {
	case "cmp", "test", "ucomiss", "ucomisd", "comiss", "comisd":
		return true
	}
	return false
}

func x86IsZeroIdiom(mn string) bool {
	switch mn {
	case "xor", "sub", "pxor", "xorps", "xorpd":
		return true
	}
	return false
}

// x86Rules builds the rule table shared by 32- and 64-bit x86. Register
// names reaching the guards are already normalized for the bitness.
func x86Rules() *RuleTable {
	t := NewRuleTable()

	t.Add(0,
		Rule{
			Name:  "return",
			Match: func(f *Facts) bool { return isa.IsReturn(f.Mnemonic) },
			Build: lowerReturn,
		},
		Rule{
			Name: "nop",
			Match: func(f *Facts) bool {
				switch f.Mnemonic {
				case "nop", "int3", "endbr64", "endbr32", "pause", "fwait", "leave":
					return true
				}
				return false
			},
			Build: func(f *Facts) error { return nil },
		},
		Rule{
			Name:  "sign-extend-accumulator",
			Match: func(f *Facts) bool { return f.Mnemonic == "cdq" || f.Mnemonic == "cqo" },
			Build: func(f *Facts) error {
				f.Bind(f.Arch.Normalize("edx"), analysis.Unresolved{At: f.In.Addr})
				return nil
			},
		},
	)

	t.Add(1,
		Rule{
			Name:  "push",
			Match: func(f *Facts) bool { return f.Mnemonic == "push" },
			Build: func(f *Facts) error {
				v := f.value(0)
				f.Emit(actions.NewPush(f.In, v))
				f.State.Push(v)
				f.State.FrameAdjust += int64(f.ptr())
				f.State.SetSlot(-f.State.FrameAdjust, v)
				return nil
			},
		},
		Rule{
			Name:  "pop",
			Match: func(f *Facts) bool { return f.Mnemonic == "pop" && f.isReg(0) },
			Build: func(f *Facts) error {
				key := -f.State.FrameAdjust
				v, ok := f.State.Pop()
				if !ok {
					if v, ok = f.State.Slot(key); !ok {
						v = analysis.Unresolved{At: f.In.Addr}
					}
				}
				f.State.ClearSlot(key)
				f.State.FrameAdjust -= int64(f.ptr())
				f.Bind(f.reg(0), v)
				return nil
			},
		},
	)
	t.Add(1, callRules()...)
	t.Add(1,
		Rule{
			Name:  "jump",
			Match: func(f *Facts) bool { return f.Mnemonic == "jmp" && f.isImm(0) },
			Build: func(f *Facts) error { return unconditionalBranch(f, uint64(f.Op(0).Imm)) },
		},
		Rule{
			Name:  "conditional-jump",
			Match: func(f *Facts) bool { return isa.IsConditionalJump(f.Mnemonic) && f.isImm(0) },
			Build: func(f *Facts) error { return conditionalBranch(f, uint64(f.Op(0).Imm), f.condition()) },
		},
		Rule{
			// Callee-cleanup return of 32-bit code.
			Name:  "return-pop",
			Match: func(f *Facts) bool { return isa.IsReturn(f.Mnemonic) && f.isImm(0) },
			Build: lowerReturn,
		},
		Rule{
			Name: ruleDivideStart,
			Match: func(f *Facts) bool {
				if f.Mnemonic != "imul" {
					return false
				}
				acc, ok := f.State.Get(f.Arch.ReturnRegister())
				c, isConst := acc.(*analysis.Constant)
				_, lit := literalInt(c)
				return ok && isConst && lit
			},
			Build: func(f *Facts) error {
				acc, _ := f.State.Get(f.Arch.ReturnRegister())
				magic, _ := literalInt(acc.(*analysis.Constant))
				startDivision(f, f.value(0), int64(uint32(magic)))
				f.Bind(f.Arch.ReturnRegister(), analysis.Unresolved{At: f.In.Addr})
				f.Bind(f.Arch.Normalize("edx"), analysis.Unresolved{At: f.In.Addr})
				return nil
			},
		},
		Rule{
			Name: "increment",
			Match: func(f *Facts) bool {
				if f.Mnemonic != "inc" && f.Mnemonic != "dec" {
					return false
				}
				return (f.isReg(0) && f.Op(0).Bound && adjustable(f.Op(0).Value)) || stackLocal(f, 0) != nil
			},
			Build: func(f *Facts) error {
				n := int64(1)
				if f.Mnemonic == "dec" {
					n = -1
				}
				if l := stackLocal(f, 0); l != nil {
					adjustConstant(f, "", l, n, true)
					return nil
				}
				adjustConstant(f, f.reg(0), f.Op(0).Value, n, true)
				return nil
			},
		},
	)

	t.Add(2,
		Rule{
			Name: "zero-register",
			Match: func(f *Facts) bool {
				return x86IsZeroIdiom(f.Mnemonic) && f.isReg(0) && f.isReg(1) && f.reg(0) == f.reg(1)
			},
			Build: func(f *Facts) error {
				reg := f.reg(0)
				t := literalType(f.Op(0).Size, f.ptr())
				if isa.IsVector(reg) {
					t = metadata.Double
				}
				f.Emit(actions.NewZeroRegister(f.In, reg))
				f.Bind(reg, analysis.Literal(t, 0))
				return nil
			},
		},
		compareRule(x86IsCompare),
		Rule{
			Name: "stack-pointer-adjust",
			Match: func(f *Facts) bool {
				return (f.Mnemonic == "add" || f.Mnemonic == "sub") &&
					f.isReg(0) && f.reg(0) == isa.StackPointer(f.Arch.Arch()) && f.isImm(1)
			},
			Build: func(f *Facts) error {
				n := f.Op(1).Imm
				if f.Mnemonic == "sub" {
					f.State.FrameAdjust += n
					return nil
				}
				f.State.FrameAdjust -= n
				if f.Arch.Arch() == isa.X86_32 {
					entries := int(n)/4 - f.State.CallPopped
					if entries < 0 {
						entries = 0
					}
					f.State.Drop(entries)
					f.State.CallPopped = 0
					f.Emit(actions.NewStackCleanup(f.In, n, entries))
				}
				return nil
			},
		},
		Rule{
			Name: "frame-anchor",
			Match: func(f *Facts) bool {
				a := f.Arch.Arch()
				return f.Mnemonic == "mov" && f.isReg(0) && f.isReg(1) &&
					f.reg(0) == isa.FramePointer(a) && f.reg(1) == isa.StackPointer(a)
			},
			Build: func(f *Facts) error {
				f.State.AnchorFramePointer(0)
				return nil
			},
		},
		Rule{
			Name:  "stack-address",
			Match: func(f *Facts) bool { return f.Mnemonic == "lea" && f.isReg(0) && f.Op(1).OnStack },
			Build: func(f *Facts) error {
				key := f.Op(1).Slot
				f.Emit(actions.NewStackAddress(f.In, f.reg(0), key))
				f.Bind(f.reg(0), analysis.StackPointer{Offset: key})
				return nil
			},
		},
		Rule{
			Name:  "address-of-global",
			Match: func(f *Facts) bool { return f.Mnemonic == "lea" && f.isReg(0) && f.isAbs(1) },
			Build: func(f *Facts) error {
				addressOf(f, f.reg(0), uint64(f.disp(1)))
				return nil
			},
		},
	)
	t.Add(2, loadRules(x86IsMove)...)
	t.Add(2, storeRules(x86IsMove, 0, 1)...)
	t.Add(2,
		aliasRule(x86IsMove),
		constantRule(x86IsMove),
		Rule{
			Name: ruleDivideFinish,
			Match: func(f *Facts) bool {
				return f.Mnemonic == "sar" && f.State.Division != nil &&
					f.isReg(0) && f.reg(0) == f.Arch.Normalize("edx") && f.isImm(1)
			},
			Build: func(f *Facts) error {
				finishDivision(f, f.reg(0), f.Op(1).Imm)
				return nil
			},
		},
		Rule{
			Name: "add-constant",
			Match: func(f *Facts) bool {
				return (f.Mnemonic == "add" || f.Mnemonic == "sub") && f.isImm(1) &&
					((f.isReg(0) && f.Op(0).Bound && adjustable(f.Op(0).Value)) || stackLocal(f, 0) != nil)
			},
			Build: func(f *Facts) error {
				n := f.Op(1).Imm
				if f.Mnemonic == "sub" {
					n = -n
				}
				if l := stackLocal(f, 0); l != nil {
					adjustConstant(f, "", l, n, true)
					return nil
				}
				adjustConstant(f, f.reg(0), f.Op(0).Value, n, true)
				return nil
			},
		},
		Rule{
			Name: "shift-constant",
			Match: func(f *Facts) bool {
				switch f.Mnemonic {
				case "shl", "sal", "shr", "sar":
					return f.isReg(0) && f.Op(0).Bound && f.isImm(1)
				}
				return false
			},
			Build: func(f *Facts) error {
				left := f.Mnemonic == "shl" || f.Mnemonic == "sal"
				shiftConstant(f, f.reg(0), f.Op(0).Value, f.Op(1).Imm, left, f.Op(0).Size)
				return nil
			},
		},
		Rule{
			Name: "register-arithmetic",
			Match: func(f *Facts) bool {
				_, ok := arithSymbols[f.Mnemonic]
				return ok && f.isReg(0) && f.Op(0).Bound && (f.isReg(1) || f.isImm(1) || f.Op(1).OnStack)
			},
			Build: func(f *Facts) error {
				arithmetic(f, f.reg(0), arithSymbols[f.Mnemonic], f.Op(0).Value, f.value(1), f.Op(0).Size)
				return nil
			},
		},
	)

	t.Add(3,
		Rule{
			Name: "multiply-constant",
			Match: func(f *Facts) bool {
				return f.Mnemonic == "imul" && f.isReg(0) && (f.isReg(1) || f.isMem(1)) && f.isImm(2)
			},
			Build: func(f *Facts) error {
				src := f.value(1)
				t := analysis.TypeOf(src)
				if t == nil || !t.IsIntegral() {
					t = literalType(f.Op(0).Size, f.ptr())
				}
				dest := f.local(t)
				f.Emit(actions.NewMultiplyConstant(f.In, src, f.Op(2).Imm, dest))
				f.Bind(f.reg(0), dest)
				return nil
			},
		},
	)
	return t
}

// stackLocal returns the local held by the stack slot of operand i.
func stackLocal(f *Facts, i int) *analysis.Local {
	o := f.Op(i)
	if !o.OnStack {
		return nil
	}
	l, _ := f.State.SlotLocal(o.Slot)
	return l
}

// addressOf binds reg to the address of a global: a literal when a C
// string sits there, otherwise an address constant later loads can use.
func addressOf(f *Facts, reg string, addr uint64) {
	if _, ok := f.Index.Global(addr); !ok {
		if s, err := f.Index.ReadCString(addr, minLiteral, maxLiteral); err == nil {
			f.Emit(actions.NewUnmanagedLiteral(f.In, reg, addr, s))
			f.Bind(reg, &analysis.Constant{Value: s, Provenance: analysis.ProvUnmanagedLiteral})
			return
		}
	}
	f.Bind(reg, &analysis.Constant{Value: addr, Provenance: analysis.ProvFieldOffset})
}
