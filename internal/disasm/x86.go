package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"aotlift/internal/isa"
)

// DecodeX86 decodes 32- or 64-bit x86 code in Intel operand order.
// Relative branch targets become absolute immediates and rip-relative
// memory operands become absolute addresses.
func DecodeX86(data []byte, bits int, opts Options) []isa.Instruction {
	maxSteps := opts.effectiveMax()
	var result []isa.Instruction
	for off := 0; off < len(data) && len(result) < maxSteps; {
		addr := opts.BaseAddr + uint64(off)
		in, n := decodeX86One(data[off:], addr, bits)
		result = append(result, in)
		off += n
	}
	return result
}

func decodeX86One(src []byte, addr uint64, bits int) (isa.Instruction, int) {
	inst, err := x86asm.Decode(src, bits)
	if err != nil || inst.Len == 0 {
		return isa.Instruction{
			Addr:     addr,
			Next:     addr + 1,
			Mnemonic: ".byte",
			Text:     fmt.Sprintf(".byte 0x%02x", src[0]),
			Raw:      []byte{src[0]},
		}, 1
	}
	next := addr + uint64(inst.Len)
	out := isa.Instruction{
		Addr:     addr,
		Next:     next,
		Mnemonic: x86Mnemonic(inst.Op),
		Text:     x86asm.IntelSyntax(inst, addr, nil),
		Raw:      append([]byte(nil), src[:inst.Len]...),
	}
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		out.Operands = append(out.Operands, x86Operand(inst, arg, next))
	}
	return out, inst.Len
}

// x86Mnemonic lower-cases the opcode and drops x86asm's disambiguating
// suffixes ("MOVSD_XMM" is the SSE movsd).
func x86Mnemonic(op x86asm.Op) string {
	s := strings.ToLower(op.String())
	if i := strings.IndexByte(s, '_'); i > 0 {
		s = s[:i]
	}
	return s
}

func x86Operand(inst x86asm.Inst, arg x86asm.Arg, next uint64) isa.Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		op := isa.Reg(x86RegName(a))
		op.Size = x86RegSize(a)
		return op
	case x86asm.Imm:
		return isa.Imm(int64(a))
	case x86asm.Rel:
		return isa.Imm(int64(next) + int64(a))
	case x86asm.Mem:
		op := isa.Operand{Kind: isa.KindMem, Size: inst.MemBytes}
		op.Mem.Disp = a.Disp
		op.Mem.Scale = a.Scale
		if a.Segment != 0 {
			op.Mem.Segment = x86RegName(a.Segment)
		}
		if a.Index != 0 {
			op.Mem.Index = x86RegName(a.Index)
		}
		switch a.Base {
		case 0:
		case x86asm.RIP, x86asm.EIP:
			op.Mem.Disp = int64(next) + a.Disp
		default:
			op.Mem.Base = x86RegName(a.Base)
		}
		if op.Mem.Base == "" && op.Mem.Index == "" && inst.Mode == 32 {
			op.Mem.Disp = int64(uint32(op.Mem.Disp))
		}
		return op
	}
	return isa.Operand{}
}

// x86asm spells the low bytes of sp/bp/si/di differently from assemblers.
var x86ByteRegs = map[x86asm.Reg]string{
	x86asm.SPB: "spl",
	x86asm.BPB: "bpl",
	x86asm.SIB: "sil",
	x86asm.DIB: "dil",
}

func x86RegName(r x86asm.Reg) string {
	if s, ok := x86ByteRegs[r]; ok {
		return s
	}
	if r >= x86asm.X0 && r <= x86asm.X15 {
		return fmt.Sprintf("xmm%d", int(r-x86asm.X0))
	}
	return strings.ToLower(r.String())
}

func x86RegSize(r x86asm.Reg) int {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return 1
	case r >= x86asm.AX && r <= x86asm.R15W:
		return 2
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return 4
	case r >= x86asm.RAX && r <= x86asm.R15:
		return 8
	case r >= x86asm.X0 && r <= x86asm.X15:
		return 16
	}
	return 0
}
