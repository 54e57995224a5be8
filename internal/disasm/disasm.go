// Package disasm decodes native code into the architecture-neutral
// instruction stream consumed by the lifter, and renders listings of it.
package disasm

import (
	"errors"
	"fmt"
	"strings"

	"aotlift/internal/isa"
)

var (
	ErrUnsupportedArch = errors.New("disasm: unsupported architecture")
	ErrTruncated       = errors.New("disasm: truncated instruction")
)

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls decoding.
type Options struct {
	BaseAddr uint64 // VA of the first byte in data
	MaxSteps int    // maximum instructions to decode; 0 = 10M
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// Decode dispatches to the decoder for arch. Undecodable words are kept as
// ".word"/".byte" pseudo instructions so addresses stay contiguous.
func Decode(arch isa.Arch, data []byte, opts Options) ([]isa.Instruction, error) {
	switch arch {
	case isa.ARM64:
		return DecodeARM64(data, opts), nil
	case isa.ARMv7:
		return DecodeARM32(data, opts), nil
	case isa.X86_32:
		return DecodeX86(data, 32, opts), nil
	case isa.X86_64:
		return DecodeX86(data, 64, opts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []isa.Instruction, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, in := range insts {
		fmt.Fprintf(&b, "0x%08x  ", in.Addr)
		b.WriteString(hexBytes(in.Raw))
		b.WriteString("  ")
		if in.Text != "" {
			b.WriteString(in.Text)
		} else {
			b.WriteString(strings.TrimPrefix(in.String(), fmt.Sprintf("0x%x: ", in.Addr)))
		}
		commented := false
		if lookup != nil {
			if name, ok := lookup(in.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
				commented = true
			}
		}
		if !commented {
			for _, ann := range annotators {
				if s := ann(in); s != "" {
					fmt.Fprintf(&b, "  ; %s", s)
					break
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// hexBytes pads x86 encodings to a fixed column so listings stay aligned.
func hexBytes(raw []byte) string {
	const width = 8
	parts := make([]string, 0, width)
	for i, c := range raw {
		if i == width {
			parts[width-1] = ".."
			break
		}
		parts = append(parts, fmt.Sprintf("%02x", c))
	}
	s := strings.Join(parts, " ")
	if len(raw) > 4 || len(raw) == 0 {
		if pad := width*3 - 1 - len(s); pad > 0 {
			s += strings.Repeat(" ", pad)
		}
	}
	return s
}

// PlaceholderLookup returns a SymbolLookup over a fixed set of entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}
