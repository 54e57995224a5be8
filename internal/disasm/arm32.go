package disasm

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"golang.org/x/arch/arm/armasm"

	"aotlift/internal/isa"
)

// DecodeARM32 decodes 32-bit ARM (A32) instructions from a byte region.
// Thumb code is not handled.
func DecodeARM32(data []byte, opts Options) []isa.Instruction {
	maxSteps := opts.effectiveMax()
	n := len(data) / 4
	if n > maxSteps {
		n = maxSteps
	}

	result := make([]isa.Instruction, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		addr := opts.BaseAddr + uint64(off)
		result = append(result, decodeARM32One(data[off:off+4], addr))
	}
	return result
}

func decodeARM32One(word []byte, addr uint64) isa.Instruction {
	raw := append([]byte(nil), word...)
	out := isa.Instruction{Addr: addr, Next: addr + 4, Raw: raw}

	inst, err := armasm.Decode(word, armasm.ModeARM)
	if err != nil {
		out.Mnemonic = ".word"
		out.Text = fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(word))
		return out
	}
	out.Text = armasm.GNUSyntax(inst)
	out.Mnemonic = arm32Mnemonic(inst.Op)

	switch out.Mnemonic {
	case "bx":
		if r, ok := inst.Args[0].(armasm.Reg); ok && r == armasm.LR {
			out.Mnemonic = "ret"
			return out
		}
		out.Mnemonic = "br"
	case "blx":
		if _, ok := inst.Args[0].(armasm.Reg); ok {
			out.Mnemonic = "blr"
		}
	case "push", "pop":
		list, ok := inst.Args[0].(armasm.RegList)
		if !ok {
			break
		}
		if out.Mnemonic == "pop" && list&(1<<15) != 0 {
			out.Mnemonic = "ret"
			return out
		}
		// The lifter only tracks how far the stack pointer moves.
		out.Operands = []isa.Operand{isa.Imm(int64(4 * bits.OnesCount16(uint16(list))))}
		return out
	case "movt":
		// Same shape as an AArch64 movk of the top half.
		if r, ok := inst.Args[0].(armasm.Reg); ok {
			if v, ok := inst.Args[1].(armasm.Imm); ok {
				out.Mnemonic = "movk"
				out.Operands = []isa.Operand{arm32Reg(r), isa.Imm(int64(v)), isa.Imm(16)}
				return out
			}
		}
	}

	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		out.Operands = append(out.Operands, arm32Operand(arg, addr)...)
	}
	sizeMemory(out.Mnemonic, out.Operands)
	return out
}

// arm32Mnemonic lowers an armasm opcode name. The flag-setting form gets the
// "s" suffix and conditional branches use the "b.cond" spelling shared with
// AArch64. Other conditionally executed instructions keep their dotted form.
func arm32Mnemonic(op armasm.Op) string {
	parts := strings.Split(strings.ToLower(op.String()), ".")
	base, rest := parts[0], parts[1:]
	switch {
	case len(rest) == 0:
		return base
	case len(rest) == 1 && rest[0] == "s":
		return base + "s"
	case base == "b" && len(rest) == 1:
		return "b." + rest[0]
	}
	return strings.Join(parts, ".")
}

func arm32Operand(arg armasm.Arg, addr uint64) []isa.Operand {
	switch a := arg.(type) {
	case armasm.Reg:
		return []isa.Operand{arm32Reg(a)}
	case armasm.Imm:
		return []isa.Operand{isa.Imm(int64(a))}
	case armasm.ImmAlt:
		return []isa.Operand{isa.Imm(int64(a.Imm()))}
	case armasm.PCRel:
		// The PC reads two instructions ahead.
		return []isa.Operand{isa.Imm(int64(addr) + 8 + int64(a))}
	case armasm.RegShift:
		// Shifted register: an extra operand so no plain-register rule matches.
		return []isa.Operand{arm32Reg(a.Reg), isa.Imm(int64(a.Count))}
	case armasm.Mem:
		return []isa.Operand{arm32Memory(a, addr)}
	}
	return []isa.Operand{{}}
}

func arm32Memory(m armasm.Mem, addr uint64) isa.Operand {
	if m.Base == armasm.PC && m.Mode == armasm.AddrOffset && m.Sign == 0 {
		return isa.Abs(uint64(int64(addr) + 8 + int64(m.Offset)))
	}
	base := strings.ToLower(m.Base.String())
	if m.Sign != 0 {
		if m.Sign < 0 || m.Shift != armasm.ShiftLeft || m.Mode != armasm.AddrOffset {
			return isa.Operand{}
		}
		return isa.Indexed(base, strings.ToLower(m.Index.String()), uint8(1)<<m.Count, 0)
	}
	op := isa.Operand{Kind: isa.KindMem}
	op.Mem.Base = base
	op.Mem.Disp = int64(m.Offset)
	switch m.Mode {
	case armasm.AddrOffset:
	case armasm.AddrPreIndex:
		op.Mem.PreIndex = true
	case armasm.AddrPostIndex:
		op.Mem.PostIndex = true
	default:
		return isa.Operand{}
	}
	return op
}

// arm32Reg builds a register operand; core and single-precision registers
// are four bytes wide, double-precision eight.
func arm32Reg(r armasm.Reg) isa.Operand {
	op := isa.Reg(strings.ToLower(r.String()))
	op.Size = 4
	if armasm.D0 <= r && r <= armasm.D31 {
		op.Size = 8
	}
	return op
}
