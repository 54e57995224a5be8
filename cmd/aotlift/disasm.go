package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"aotlift/internal/disasm"
	"aotlift/internal/elfx"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
	"aotlift/internal/output"
)

var disasmFlags struct {
	symbol   string
	addr     string
	size     uint64
	metadata string
	arch     string
	out      string
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <binary>",
	Short: "Print an annotated listing of one function",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ef, err := elfx.Open(args[0])
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer ef.Close()

		arch := ef.Arch()
		if disasmFlags.arch != "" {
			if arch, err = isa.ParseArch(disasmFlags.arch); err != nil {
				return err
			}
		}

		name, addr, size, err := disasmTarget(ef)
		if err != nil {
			return err
		}
		insts, err := disasm.NewSource(arch, ef).Function(addr, size)
		if err != nil {
			return err
		}

		names := make(map[uint64]string)
		for _, s := range ef.Symbols() {
			names[s.Addr] = s.Name
		}
		var annotators []disasm.Annotator
		if disasmFlags.metadata != "" {
			idx, err := metadata.LoadYAML(disasmFlags.metadata, ef)
			if err != nil {
				return err
			}
			for _, m := range idx.Methods() {
				if m.Address != 0 {
					names[m.Address] = m.QualifiedName()
				}
			}
			if arch == isa.ARM64 {
				annotators = append(annotators, disasm.PageAnnotator(idx))
			}
			annotators = append(annotators, disasm.GlobalAnnotator(idx))
		}
		lookup := disasm.PlaceholderLookup(names)

		if disasmFlags.out != "" {
			return output.WriteASM(disasmFlags.out, name, insts, lookup, annotators...)
		}
		_, err = fmt.Fprint(os.Stdout, disasm.Format(insts, lookup, annotators...))
		return err
	},
}

func init() {
	f := disasmCmd.Flags()
	f.StringVarP(&disasmFlags.symbol, "symbol", "s", "", "function symbol name")
	f.StringVarP(&disasmFlags.addr, "addr", "a", "", "function virtual address (0x...)")
	f.Uint64Var(&disasmFlags.size, "size", 0, "bytes to decode (default: symbol size or 0x400)")
	f.StringVarP(&disasmFlags.metadata, "metadata", "m", "", "metadata YAML for annotations")
	f.StringVar(&disasmFlags.arch, "arch", "", "override the ELF machine")
	f.StringVarP(&disasmFlags.out, "out", "o", "", "write asm/<name>.txt under this directory")
}

func disasmTarget(ef *elfx.File) (name string, addr, size uint64, err error) {
	size = disasmFlags.size
	switch {
	case disasmFlags.symbol != "":
		var symSize uint64
		addr, symSize, err = ef.Symbol(disasmFlags.symbol)
		if err != nil {
			return "", 0, 0, err
		}
		if size == 0 {
			size = symSize
		}
		name = disasmFlags.symbol
	case disasmFlags.addr != "":
		addr, err = strconv.ParseUint(disasmFlags.addr, 0, 64)
		if err != nil {
			return "", 0, 0, fmt.Errorf("bad --addr %q: %w", disasmFlags.addr, err)
		}
		name = fmt.Sprintf("sub_%x", addr)
	default:
		return "", 0, 0, fmt.Errorf("--symbol or --addr is required")
	}
	if size == 0 {
		size = defaultFuncSize
	}
	return name, addr, size, nil
}
