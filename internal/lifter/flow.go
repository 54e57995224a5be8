package lifter

import (
	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// prepass marks loop heads from backward branches and flags immediates
// that may seed loop variables. It runs once before the main walk.
func prepass(s *analysis.State, arch Architecture) {
	start, _ := s.Bounds()
	insts := s.Instructions()

	var backward []isa.Instruction
	for _, in := range insts {
		if !isa.IsBranch(in.Mnemonic) {
			continue
		}
		t, ok := in.Target()
		if !ok || t >= in.Addr || !s.InBounds(t) {
			continue
		}
		backward = append(backward, in)
		if t <= start {
			continue
		}
		// The outermost back-edge of a head closes the loop.
		if prev, ok := s.LoopStarts[t]; !ok || in.Addr > prev {
			s.LoopStarts[t] = in.Addr
		}
	}
	for head, back := range s.LoopStarts {
		s.LoopEnds[s.NextAddress(back)] = head
	}
	// Other backward branches render as gotos to a label at the target.
	for _, in := range backward {
		t, _ := in.Target()
		if s.LoopStarts[t] != in.Addr {
			s.Gotos[t] = true
		}
	}

	markSuspects(s, arch, insts)
}

// markSuspects flags "mov reg, imm" whose register is later the target of
// arithmetic anywhere in the function. Best effort by construction: it
// ignores intervening writes.
func markSuspects(s *analysis.State, arch Architecture, insts []isa.Instruction) {
	lastArith := make(map[string]uint64)
	for _, in := range insts {
		if !isArithmetic(in.Mnemonic) || len(in.Operands) == 0 || in.Operands[0].Kind != isa.KindReg {
			continue
		}
		lastArith[arch.Normalize(in.Operands[0].Reg)] = in.Addr
	}
	for _, in := range insts {
		if len(in.Operands) != 2 || !isConstantMove(in.Mnemonic) {
			continue
		}
		dst, src := in.Operands[0], in.Operands[1]
		if dst.Kind != isa.KindReg || src.Kind != isa.KindImm {
			continue
		}
		if at, ok := lastArith[arch.Normalize(dst.Reg)]; ok && at > in.Addr {
			s.Suspect[in.Addr] = true
		}
	}
}

func isArithmetic(mn string) bool {
	switch mn {
	case "add", "sub", "inc", "dec", "imul", "mul", "adc", "sbb", "shl", "sal", "shr", "sar",
		"adds", "subs", "lsl", "lsr", "asr", "madd", "msub":
		return true
	}
	return false
}

func isConstantMove(mn string) bool { return mn == "mov" || mn == "movz" }

// controlFlow inserts the block markers owed at in's address. It runs
// before rule dispatch so that the instruction's own actions land inside
// the right block.
func controlFlow(s *analysis.State, in isa.Instruction) {
	addr := in.Addr
	// Inner ifs closing here end before an enclosing else opens.
	for n := s.IfEnds[addr]; n > 0; n-- {
		s.Unnest()
		s.Add(actions.NewEndIfMarker(in))
	}
	delete(s.IfEnds, addr)
	if end, ok := s.ElseStarts[addr]; ok {
		s.Unnest()
		s.Add(actions.NewElseMarker(in, end))
		s.Nest()
		s.IfEnds[end]++
	}
	if head, ok := s.LoopEnds[addr]; ok {
		s.Unnest()
		s.Add(actions.NewLoopEndMarker(in, head))
		back, _ := s.InstructionBefore(addr)
		if exit, ok := s.LoopExits[head]; ok && exit != addr && isa.IsUnconditionalJump(back.Mnemonic) {
			s.Add(actions.NewGotoMarker(in, exit))
		}
	}
	if back, ok := s.LoopStarts[addr]; ok {
		s.Add(actions.NewLoopStartMarker(in, back))
		s.Nest()
	}
	if s.Gotos[addr] {
		s.Add(actions.NewLabel(in))
	}
}

// condition builds the branch condition of f from the last comparison.
func (f *Facts) condition() actions.Condition {
	op, ok := actions.ConditionFor(f.Mnemonic)
	if !ok {
		op = f.Mnemonic
	}
	c := actions.Condition{Op: op}
	if lc := f.State.LastComparison; lc != nil {
		c.Left, c.Right, c.Bitwise = lc.Left, lc.Right, lc.Test
	}
	return c
}

// loopAround returns the innermost loop whose body contains addr and whose
// back-edge precedes target: the latest head, then the earliest back-edge.
func loopAround(s *analysis.State, addr, target uint64) (uint64, bool) {
	var best, bestBack uint64
	found := false
	for head, back := range s.LoopStarts {
		if head > addr || addr > back || target <= back {
			continue
		}
		if !found || head > best || (head == best && back < bestBack) {
			best, bestBack, found = head, back, true
		}
	}
	return best, found
}

// expand grows the function to cover a forward target past its end. It
// refuses when the target or the bytes after the end belong to another
// function, or the target is further than MaxExpansion.
func (f *Facts) expand(target uint64) bool {
	s := f.State
	if s.InBounds(target) {
		return true
	}
	start, end := s.Bounds()
	if target < start || target-end > f.e.opts.MaxExpansion {
		return false
	}
	if f.Index.IsFunctionStart(end) || f.Index.IsFunctionStart(target) {
		return false
	}
	if _, err := s.RequestExpansion(target); err != nil {
		f.e.opts.Logger.WithField("target", target).Debugf("no expansion: %v", err)
		return false
	}
	return s.InBounds(target)
}

// conditionalBranch lowers a branch to target taken under cond.
func conditionalBranch(f *Facts, target uint64, cond actions.Condition) error {
	s, in := f.State, f.In
	s.JumpDests[target] = true
	switch {
	case target < in.Addr && s.LoopStarts[target] == in.Addr:
		f.Emit(actions.NewLoopCondition(in, cond, target))
		return nil
	case target < in.Addr || !f.expand(target):
		f.Emit(actions.NewConditionalJump(in, cond, target, false))
		return nil
	}
	if head, ok := loopAround(s, in.Addr, target); ok {
		s.LoopExits[head] = target
		s.Gotos[target] = true
		f.Emit(actions.NewConditionalJump(in, cond, target, false))
		return nil
	}
	f.Emit(actions.NewConditionalJump(in, cond, target, true))
	if end, ok := elseEnd(f, in, target); ok {
		s.ElseStarts[target] = end
	} else {
		s.IfEnds[target]++
	}
	s.Nest()
	return nil
}

// elseEnd detects an if body that ends by jumping over an else body: the
// instruction before the if target is a forward jump within the function.
func elseEnd(f *Facts, in isa.Instruction, target uint64) (uint64, bool) {
	prev, ok := f.State.InstructionBefore(target)
	if !ok || prev.Addr <= in.Addr || !isa.IsUnconditionalJump(prev.Mnemonic) {
		return 0, false
	}
	end, ok := prev.Target()
	if !ok || end <= target {
		return 0, false
	}
	if _, open := f.State.ElseStarts[target]; open {
		return 0, false
	}
	return end, f.expand(end)
}

// unconditionalBranch lowers a jump to target: a loop back-edge, the jump
// over an else body, a goto, or a tail call out of the function.
func unconditionalBranch(f *Facts, target uint64) error {
	s, in := f.State, f.In
	s.JumpDests[target] = true
	switch {
	case target <= in.Addr && s.InBounds(target):
		f.Emit(actions.NewJump(in, target, s.LoopStarts[target] == in.Addr))
	case s.ElseStarts[in.Next] == target:
		f.Emit(actions.NewJump(in, target, true))
	case target > in.Addr && f.expand(target):
		if head, ok := loopAround(s, in.Addr, target); ok {
			s.LoopExits[head] = target
		}
		s.Gotos[target] = true
		f.Emit(actions.NewJump(in, target, false))
	default:
		return tailCall(f, target)
	}
	return nil
}

// tailCall lowers a jump into another function followed by an implicit
// return.
func tailCall(f *Facts, target uint64) error {
	if rf := f.Index.Runtime(target); rf != metadata.RuntimeNone {
		if err := runtimeCall(f, rf); err != nil {
			return err
		}
		f.Emit(actions.NewReturn(f.In, nil, true))
		return nil
	}
	cands := f.Index.MethodsAt(target)
	m, b := bindCall(f, cands)
	var args []analysis.Operand
	switch {
	case b != nil:
		args = b.Args
	case len(cands) > 0:
		m = cands[0]
	}
	f.Emit(actions.NewTailCall(f.In, m, target, args))
	f.Emit(actions.NewReturn(f.In, nil, true))
	return nil
}

// lowerReturn emits the return of the function, reading the return
// register when the method returns a value.
func lowerReturn(f *Facts) error {
	var v analysis.Operand
	if m := f.State.Method; m != nil && m.ReturnsValue() {
		reg := f.Arch.ReturnRegister()
		if m.Return.IsFloatingPointShaped() {
			reg = f.Arch.FloatReturnRegister()
		}
		bound, ok := f.State.Get(reg)
		if !ok {
			bound = analysis.Unresolved{At: f.In.Addr}
		}
		v = actions.ReturnValue(m.Return, bound)
	}
	f.Emit(actions.NewReturn(f.In, v, false))
	return nil
}
