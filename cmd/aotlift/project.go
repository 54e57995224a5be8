package main

import (
	"fmt"
	"sort"

	"github.com/apex/log"
	"github.com/samber/lo"

	"aotlift/internal/config"
	"aotlift/internal/disasm"
	"aotlift/internal/elfx"
	"aotlift/internal/isa"
	"aotlift/internal/lifter"
	"aotlift/internal/metadata"
)

// defaultFuncSize bounds the initial decode window of a function whose
// extent is known from neither the symbol table nor a following method.
const defaultFuncSize = 0x400

// project is an opened binary with its metadata and a configured engine.
type project struct {
	cfg    *config.Config
	elf    *elfx.File
	arch   isa.Arch
	index  *metadata.Index
	source *disasm.Source
	engine *lifter.Engine

	symSize map[uint64]uint64
	starts  []uint64 // sorted distinct known function starts
}

func openProject(cfg *config.Config) (*project, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ef, err := elfx.Open(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	arch := ef.Arch()
	if cfg.Arch != "" {
		if arch, err = isa.ParseArch(cfg.Arch); err != nil {
			ef.Close()
			return nil, err
		}
	}
	idx, err := metadata.LoadYAML(cfg.Metadata, ef)
	if err != nil {
		ef.Close()
		return nil, err
	}
	la, err := lifter.ForArch(arch)
	if err != nil {
		ef.Close()
		return nil, err
	}
	opts, err := cfg.LifterOptions()
	if err != nil {
		ef.Close()
		return nil, err
	}

	p := &project{
		cfg:     cfg,
		elf:     ef,
		arch:    arch,
		index:   idx,
		source:  disasm.NewSource(arch, ef),
		engine:  lifter.New(la, idx, opts),
		symSize: make(map[uint64]uint64),
	}
	for _, s := range ef.Symbols() {
		p.symSize[s.Addr] = s.Size
		p.starts = append(p.starts, s.Addr)
	}
	for _, m := range idx.Methods() {
		if m.Address != 0 {
			p.starts = append(p.starts, m.Address)
		}
	}
	sort.Slice(p.starts, func(i, j int) bool { return p.starts[i] < p.starts[j] })
	p.starts = lo.Uniq(p.starts)

	log.WithFields(log.Fields{
		"binary":  cfg.Binary,
		"arch":    arch,
		"methods": len(idx.Methods()),
		"symbols": len(p.symSize),
	}).Info("project opened")
	return p, nil
}

func (p *project) Close() error { return p.elf.Close() }

// extent picks the decode window of the function at addr: the symbol size
// when known, else the distance to the next known start, else the default.
func (p *project) extent(addr uint64) uint64 {
	if n := p.symSize[addr]; n > 0 {
		return n
	}
	i := sort.Search(len(p.starts), func(i int) bool { return p.starts[i] > addr })
	if i < len(p.starts) {
		if n := p.starts[i] - addr; n < 4*defaultFuncSize {
			return n
		}
	}
	return defaultFuncSize
}

// function decodes the body at addr. m may be nil.
func (p *project) function(name string, addr, size uint64, m *metadata.Method) (*lifter.Function, error) {
	if size == 0 {
		size = p.extent(addr)
	}
	insts, err := p.source.Function(addr, size)
	if err != nil {
		return nil, err
	}
	return &lifter.Function{
		Name:         name,
		Addr:         addr,
		Method:       m,
		Instructions: insts,
		Source:       p.source,
	}, nil
}

// methodByName finds a method by its qualified name.
func (p *project) methodByName(name string) (*metadata.Method, bool) {
	return lo.Find(p.index.Methods(), func(m *metadata.Method) bool {
		return m.QualifiedName() == name
	})
}

// resolve maps one configured function to an address and method.
func (p *project) resolve(f config.Function) (string, uint64, *metadata.Method, error) {
	addr := uint64(f.Address)
	var m *metadata.Method
	if f.Name != "" {
		if mm, ok := p.methodByName(f.Name); ok && mm.Address != 0 {
			m, addr = mm, mm.Address
		} else if addr == 0 {
			a, _, err := p.elf.Symbol(f.Name)
			if err != nil {
				return "", 0, nil, err
			}
			addr = a
		}
	}
	if m == nil {
		if ms := p.index.MethodsAt(addr); len(ms) > 0 {
			m = ms[0]
		}
	}
	return f.Name, addr, m, nil
}

// functions builds the work list: the configured functions, or every
// method with a body, one per address.
func (p *project) functions() ([]*lifter.Function, error) {
	var out []*lifter.Function
	if len(p.cfg.Functions) > 0 {
		for _, f := range p.cfg.Functions {
			name, addr, m, err := p.resolve(f)
			if err != nil {
				return nil, fmt.Errorf("function %q: %w", f.Name, err)
			}
			fn, err := p.function(name, addr, f.Size, m)
			if err != nil {
				return nil, fmt.Errorf("function 0x%x: %w", addr, err)
			}
			out = append(out, fn)
		}
		return out, nil
	}

	seen := make(map[uint64]bool)
	for _, m := range p.index.Methods() {
		if m.Address == 0 || seen[m.Address] {
			continue
		}
		seen[m.Address] = true
		fn, err := p.function("", m.Address, 0, m)
		if err != nil {
			log.WithError(err).WithField("func", m.QualifiedName()).Warn("skipping undecodable function")
			continue
		}
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}
