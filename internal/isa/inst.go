// Package isa defines the architecture-neutral instruction contract consumed by
// the lifter. Decoders in internal/disasm produce these values; the lifter only
// reads them.
package isa

import (
	"fmt"
	"strings"
)

// Arch identifies the target architecture. It is fixed for the lifetime of
// one engine.
type Arch int

const (
	ArchUnknown Arch = iota
	X86_32
	X86_64
	ARM64
	ARMv7
)

func (a Arch) String() string {
	switch a {
	case X86_32:
		return "x86"
	case X86_64:
		return "x86_64"
	case ARM64:
		return "arm64"
	case ARMv7:
		return "armv7"
	}
	return "unknown"
}

// PointerSize returns the native pointer width in bytes.
func (a Arch) PointerSize() int {
	switch a {
	case X86_64, ARM64:
		return 8
	}
	return 4
}

// IsX86 reports whether a is either x86 flavour.
func (a Arch) IsX86() bool { return a == X86_32 || a == X86_64 }

// ParseArch maps a config/CLI spelling to an Arch.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x86", "i386", "386", "x86_32":
		return X86_32, nil
	case "x86_64", "amd64", "x64":
		return X86_64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	case "arm", "armv7":
		return ARMv7, nil
	}
	return ArchUnknown, fmt.Errorf("isa: unknown architecture %q", s)
}

// OperandKind classifies an instruction operand.
type OperandKind uint8

const (
	KindNone OperandKind = iota
	KindReg
	KindMem
	KindImm
)

func (k OperandKind) String() string {
	switch k {
	case KindReg:
		return "reg"
	case KindMem:
		return "mem"
	case KindImm:
		return "imm"
	}
	return "none"
}

// Mem is a base + index*scale + disp memory reference. Empty register names
// mean the component is absent. A base of "rip"/"pc" has already been folded
// into Disp as an absolute address by the decoder (Base is cleared).
type Mem struct {
	Base    string
	Index   string
	Scale   uint8
	Disp    int64
	Segment string

	// PreIndex and PostIndex mark ARM writeback addressing: the base is
	// advanced by Disp before or after the access.
	PreIndex  bool
	PostIndex bool
}

// Operand is one decoded operand.
type Operand struct {
	Kind OperandKind
	Reg  string // normalized register name for KindReg
	Mem  Mem
	Imm  int64
	Size int // access width in bytes, 0 if unknown
}

// Reg builds a register operand.
func Reg(name string) Operand { return Operand{Kind: KindReg, Reg: name} }

// Imm builds an immediate operand.
func Imm(v int64) Operand { return Operand{Kind: KindImm, Imm: v} }

// MemOp builds a memory operand with base and displacement.
func MemOp(base string, disp int64) Operand {
	return Operand{Kind: KindMem, Mem: Mem{Base: base, Disp: disp}}
}

// Abs builds an absolute memory operand (no base register).
func Abs(addr uint64) Operand {
	return Operand{Kind: KindMem, Mem: Mem{Disp: int64(addr)}}
}

// Indexed builds a memory operand with base, index and scale.
func Indexed(base, index string, scale uint8, disp int64) Operand {
	return Operand{Kind: KindMem, Mem: Mem{Base: base, Index: index, Scale: scale, Disp: disp}}
}

func (o Operand) String() string {
	switch o.Kind {
	case KindReg:
		return o.Reg
	case KindImm:
		return fmt.Sprintf("0x%x", o.Imm)
	case KindMem:
		var parts []string
		if o.Mem.Base != "" {
			parts = append(parts, o.Mem.Base)
		}
		if o.Mem.Index != "" {
			parts = append(parts, fmt.Sprintf("%s*%d", o.Mem.Index, o.Mem.Scale))
		}
		if o.Mem.Disp != 0 || len(parts) == 0 {
			if o.Mem.Disp < 0 {
				parts = append(parts, fmt.Sprintf("-0x%x", -o.Mem.Disp))
			} else {
				parts = append(parts, fmt.Sprintf("0x%x", o.Mem.Disp))
			}
		}
		s := "[" + strings.Join(parts, "+") + "]"
		switch {
		case o.Mem.PreIndex:
			s += "!"
		case o.Mem.PostIndex:
			s = fmt.Sprintf("[%s], 0x%x", o.Mem.Base, o.Mem.Disp)
		}
		return s
	}
	return ""
}

// Instruction is one decoded instruction.
type Instruction struct {
	Addr     uint64
	Next     uint64
	Mnemonic string // lower case, e.g. "mov", "call", "ldr", "b.eq"
	Operands []Operand
	Text     string // decoder rendering, for listings and diagnostics
	Raw      []byte
}

// Arity returns the operand count used for rule dispatch.
func (in Instruction) Arity() int { return len(in.Operands) }

// Op returns operand i, or a KindNone operand when out of range.
func (in Instruction) Op(i int) Operand {
	if i < 0 || i >= len(in.Operands) {
		return Operand{}
	}
	return in.Operands[i]
}

// Target returns the absolute target of a branch or call whose last operand
// is an immediate.
func (in Instruction) Target() (uint64, bool) {
	if len(in.Operands) == 0 {
		return 0, false
	}
	last := in.Operands[len(in.Operands)-1]
	if last.Kind != KindImm {
		return 0, false
	}
	return uint64(last.Imm), true
}

func (in Instruction) String() string {
	if in.Text != "" {
		return fmt.Sprintf("0x%x: %s", in.Addr, in.Text)
	}
	ops := make([]string, len(in.Operands))
	for i, o := range in.Operands {
		ops[i] = o.String()
	}
	return fmt.Sprintf("0x%x: %s %s", in.Addr, in.Mnemonic, strings.Join(ops, ", "))
}

// Branch classes shared by the decoders and the lifter.

// IsCall reports whether the mnemonic is a call with link.
func IsCall(mnemonic string) bool {
	switch mnemonic {
	case "call", "bl", "blr":
		return true
	}
	return false
}

// IsReturn reports whether the mnemonic returns from the function.
func IsReturn(mnemonic string) bool {
	return mnemonic == "ret" || mnemonic == "retn"
}

// IsUnconditionalJump reports whether the mnemonic is a plain jump.
func IsUnconditionalJump(mnemonic string) bool {
	return mnemonic == "jmp" || mnemonic == "b" || mnemonic == "br"
}

// IsConditionalJump reports whether the mnemonic is a conditional branch.
func IsConditionalJump(mnemonic string) bool {
	switch {
	case strings.HasPrefix(mnemonic, "b."):
		return true
	case mnemonic == "cbz", mnemonic == "cbnz", mnemonic == "tbz", mnemonic == "tbnz":
		return true
	case mnemonic == "jmp":
		return false
	case len(mnemonic) >= 2 && mnemonic[0] == 'j':
		return true
	}
	return false
}

// IsBranch reports whether the mnemonic transfers control without linking.
func IsBranch(mnemonic string) bool {
	return IsUnconditionalJump(mnemonic) || IsConditionalJump(mnemonic)
}
