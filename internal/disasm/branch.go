package disasm

import "aotlift/internal/isa"

// Branch detection works on decoded mnemonics for every architecture. ARM
// words that arrive without a mnemonic are decoded first.

// BranchInfo describes a decoded branch instruction.
type BranchInfo struct {
	Target uint64 // absolute target address (0 if RET)
	Cond   bool   // true if conditional (has fallthrough)
	IsRet  bool   // true if RET
	// Indirect is set for register jumps (br xN, jmp rax); Target is 0.
	Indirect bool
}

// IsBranchTerminator returns true if the instruction terminates a basic block.
// This includes all branches and returns but NOT calls (calls return to the
// next instruction).
func IsBranchTerminator(arch isa.Arch, in isa.Instruction) bool {
	return BranchOf(arch, in) != nil
}

// BranchOf classifies a decoded instruction. Returns nil if the instruction
// is not a branch/ret.
func BranchOf(arch isa.Arch, in isa.Instruction) *BranchInfo {
	if in.Mnemonic == "" && len(in.Raw) == 4 {
		switch arch {
		case isa.ARM64:
			in = decodeARM64One(in.Raw, in.Addr)
		case isa.ARMv7:
			in = decodeARM32One(in.Raw, in.Addr)
		}
	}
	cond := isa.IsConditionalJump(in.Mnemonic)
	switch {
	case isa.IsReturn(in.Mnemonic):
		return &BranchInfo{IsRet: true}
	case cond || isa.IsUnconditionalJump(in.Mnemonic):
		target, ok := in.Target()
		return &BranchInfo{Target: target, Cond: cond, Indirect: !ok}
	}
	return nil
}
