package disasm

import (
	"fmt"
	"strconv"

	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(in isa.Instruction) string

// describeGlobal renders what the metadata knows about addr, or "".
func describeGlobal(idx *metadata.Index, addr uint64) string {
	if g, ok := idx.Global(addr); ok {
		switch g.Kind {
		case metadata.GlobalType:
			return "type " + g.Type.FullName()
		case metadata.GlobalMethod, metadata.GlobalMethodSpec:
			return "method " + g.Method.String()
		case metadata.GlobalField:
			if g.Field.Declaring != nil {
				return fmt.Sprintf("field %s.%s", g.Field.Declaring.FullName(), g.Field.Name)
			}
			return "field " + g.Field.Name
		case metadata.GlobalString:
			return "string " + strconv.Quote(g.String)
		}
	}
	if rf := idx.Runtime(addr); rf != metadata.RuntimeNone {
		return "runtime " + rf.String()
	}
	if ms := idx.MethodsAt(addr); len(ms) > 0 {
		return ms[0].String()
	}
	return ""
}

// GlobalAnnotator annotates absolute memory references and direct call
// targets that the metadata index can name.
func GlobalAnnotator(idx *metadata.Index) Annotator {
	return func(in isa.Instruction) string {
		if isa.IsCall(in.Mnemonic) || isa.IsBranch(in.Mnemonic) {
			if t, ok := in.Target(); ok {
				return describeGlobal(idx, t)
			}
			return ""
		}
		for _, op := range in.Operands {
			if op.Kind == isa.KindMem && op.Mem.Base == "" && op.Mem.Index == "" {
				if s := describeGlobal(idx, uint64(op.Mem.Disp)); s != "" {
					return s
				}
			}
		}
		return ""
	}
}

// PageAnnotator recognizes the AArch64 "adrp xN, page" followed by
// "ldr/add xM, xN, #off" pair and annotates the second instruction with the
// global at page+off. It is stateful and must see instructions in order.
func PageAnnotator(idx *metadata.Index) Annotator {
	pages := make(map[string]uint64)
	return func(in isa.Instruction) string {
		switch {
		case in.Mnemonic == "adrp" && len(in.Operands) == 2:
			pages[isa.Normalize(isa.ARM64, in.Operands[0].Reg)] = uint64(in.Operands[1].Imm)
			return ""
		case in.Mnemonic == "add" && len(in.Operands) == 3 && in.Operands[2].Kind == isa.KindImm:
			src := isa.Normalize(isa.ARM64, in.Operands[1].Reg)
			page, ok := pages[src]
			delete(pages, isa.Normalize(isa.ARM64, in.Operands[0].Reg))
			if !ok {
				return ""
			}
			return describeGlobal(idx, page+uint64(in.Operands[2].Imm))
		case len(in.Operands) == 2 && in.Operands[1].Kind == isa.KindMem:
			base := isa.Normalize(isa.ARM64, in.Operands[1].Mem.Base)
			page, ok := pages[base]
			delete(pages, isa.Normalize(isa.ARM64, in.Operands[0].Reg))
			if !ok || in.Operands[1].Mem.Index != "" {
				return ""
			}
			return describeGlobal(idx, page+uint64(in.Operands[1].Mem.Disp))
		}
		if len(in.Operands) > 0 && in.Operands[0].Kind == isa.KindReg {
			delete(pages, isa.Normalize(isa.ARM64, in.Operands[0].Reg))
		}
		return ""
	}
}
