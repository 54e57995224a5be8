package disasm

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"aotlift/internal/isa"
)

// DecodeARM64 decodes AArch64 instructions from a byte region.
// Returns decoded instructions up to MaxSteps or end of data.
func DecodeARM64(data []byte, opts Options) []isa.Instruction {
	maxSteps := opts.effectiveMax()
	n := len(data) / 4
	if n > maxSteps {
		n = maxSteps
	}

	result := make([]isa.Instruction, 0, n)
	for i := 0; i < n; i++ {
		off := i * 4
		addr := opts.BaseAddr + uint64(off)
		result = append(result, decodeARM64One(data[off:off+4], addr))
	}
	return result
}

// DisasmOne decodes a single ARM64 instruction from its raw encoding.
// Returns the disassembly text, or "" if decoding fails.
func DisasmOne(raw uint32, addr uint64) string {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, raw)
	inst, err := arm64asm.Decode(buf)
	if err != nil {
		return ""
	}
	return arm64asm.GNUSyntax(inst)
}

func decodeARM64One(word []byte, addr uint64) isa.Instruction {
	raw := append([]byte(nil), word...)
	out := isa.Instruction{Addr: addr, Next: addr + 4, Raw: raw}

	inst, err := arm64asm.Decode(word)
	if err != nil {
		out.Mnemonic = ".word"
		out.Text = fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(word))
		return out
	}
	out.Text = arm64asm.GNUSyntax(inst)
	out.Mnemonic = strings.ToLower(inst.Op.String())

	switch inst.Op {
	case arm64asm.RET:
		if r, ok := inst.Args[0].(arm64asm.Reg); ok && r == arm64asm.X30 {
			return out
		}
	case arm64asm.B:
		if c, ok := inst.Args[0].(arm64asm.Cond); ok {
			out.Mnemonic = "b." + strings.ToLower(c.String())
			if rel, ok := inst.Args[1].(arm64asm.PCRel); ok {
				out.Operands = []isa.Operand{isa.Imm(int64(addr) + int64(rel))}
			}
			return out
		}
	}

	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		out.Operands = append(out.Operands, arm64Operand(inst, arg, addr)...)
	}
	sizeMemory(out.Mnemonic, out.Operands)
	return out
}

func arm64Operand(inst arm64asm.Inst, arg arm64asm.Arg, addr uint64) []isa.Operand {
	switch a := arg.(type) {
	case arm64asm.Reg:
		return []isa.Operand{arm64Reg(a.String())}
	case arm64asm.RegSP:
		return []isa.Operand{arm64Reg(a.String())}
	case arm64asm.RegisterWithArrangement:
		return []isa.Operand{arm64Reg(a.String())}
	case arm64asm.RegisterWithArrangementAndIndex:
		return []isa.Operand{arm64Reg(a.String())}
	case arm64asm.Imm:
		return []isa.Operand{isa.Imm(int64(a.Imm))}
	case arm64asm.Imm64:
		return []isa.Operand{isa.Imm(int64(a.Imm))}
	case arm64asm.ImmShift:
		v, shift, ok := parseImmShift(a.String())
		if !ok {
			return []isa.Operand{{}}
		}
		if inst.Op == arm64asm.MOVK {
			return []isa.Operand{isa.Imm(v), isa.Imm(shift)}
		}
		return []isa.Operand{isa.Imm(v << uint(shift))}
	case arm64asm.RegExtshiftAmount:
		// "X1, LSL #3": the register alone when nothing is applied to it,
		// otherwise an extra operand so no plain-register rule matches.
		s := a.String()
		name, rest, shifted := strings.Cut(s, ",")
		op := arm64Reg(name)
		if !shifted {
			return []isa.Operand{op}
		}
		n, _ := lastImmediate(rest)
		return []isa.Operand{op, isa.Imm(n)}
	case arm64asm.PCRel:
		switch inst.Op {
		case arm64asm.ADRP:
			return []isa.Operand{isa.Imm(int64(addr&^0xfff) + int64(a))}
		case arm64asm.LDR, arm64asm.LDRSW:
			// Literal load: the pc-relative word is an absolute memory read.
			return []isa.Operand{isa.Abs(uint64(int64(addr) + int64(a)))}
		}
		return []isa.Operand{isa.Imm(int64(addr) + int64(a))}
	case arm64asm.MemImmediate:
		m := isa.Operand{Kind: isa.KindMem}
		m.Mem.Base = strings.ToLower(a.Base.String())
		switch a.Mode {
		case arm64asm.AddrPostReg:
			return []isa.Operand{m}
		case arm64asm.AddrPreIndex:
			m.Mem.PreIndex = true
		case arm64asm.AddrPostIndex:
			m.Mem.PostIndex = true
		}
		m.Mem.Disp, _ = lastImmediate(a.String())
		return []isa.Operand{m}
	case arm64asm.MemExtend:
		scale := uint8(1)
		if a.Amount != 0 {
			scale = 1 << a.Amount
		}
		return []isa.Operand{isa.Indexed(strings.ToLower(a.Base.String()), strings.ToLower(a.Index.String()), scale, 0)}
	}
	return []isa.Operand{{}}
}

// arm64Reg builds a register operand with its width taken from the name.
func arm64Reg(s string) isa.Operand {
	name := strings.ToLower(s)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	op := isa.Reg(name)
	switch {
	case name == "sp" || name == "xzr":
		op.Size = 8
	case name == "wsp" || name == "wzr":
		op.Size = 4
	case len(name) > 1:
		switch name[0] {
		case 'x', 'd':
			op.Size = 8
		case 'w', 's':
			op.Size = 4
		case 'q', 'v':
			op.Size = 16
		case 'h':
			op.Size = 2
		case 'b':
			op.Size = 1
		}
	}
	return op
}

// sizeMemory sets the access width of the memory operand of a load/store.
func sizeMemory(mnemonic string, ops []isa.Operand) {
	size := 0
	switch {
	case strings.HasSuffix(mnemonic, "sw"):
		size = 4
	case strings.HasPrefix(mnemonic, "ld") && strings.HasSuffix(mnemonic, "b"),
		strings.HasPrefix(mnemonic, "st") && strings.HasSuffix(mnemonic, "b"):
		size = 1
	case strings.HasPrefix(mnemonic, "ld") && strings.HasSuffix(mnemonic, "h"),
		strings.HasPrefix(mnemonic, "st") && strings.HasSuffix(mnemonic, "h"):
		size = 2
	case len(ops) > 0 && ops[0].Kind == isa.KindReg:
		size = ops[0].Size
	}
	for i := range ops {
		if ops[i].Kind == isa.KindMem {
			ops[i].Size = size
		}
	}
}

var immPattern = regexp.MustCompile(`#(-?(?:0x[0-9a-fA-F]+|\d+))`)

// lastImmediate returns the last "#n" in arm64asm operand text.
func lastImmediate(s string) (int64, bool) {
	m := immPattern.FindAllStringSubmatch(s, -1)
	if len(m) == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(m[len(m)-1][1], 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseImmShift reads "#0x10" or "#0x10, LSL #12". The shift fields of
// arm64asm.ImmShift are unexported, so the rendering is the only source.
func parseImmShift(s string) (v, shift int64, ok bool) {
	m := immPattern.FindAllStringSubmatch(s, -1)
	if len(m) == 0 {
		return 0, 0, false
	}
	v, err := strconv.ParseInt(m[0][1], 0, 64)
	if err != nil {
		return 0, 0, false
	}
	if len(m) > 1 && strings.Contains(s, "LSL") {
		shift, err = strconv.ParseInt(m[1][1], 0, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	return v, shift, true
}
