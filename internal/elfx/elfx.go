// Package elfx provides ELF loading helpers for compiled managed binaries.
package elfx

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"aotlift/internal/isa"
)

var (
	ErrNotELF       = errors.New("elfx: not an ELF file")
	ErrUnsupported  = errors.New("elfx: unsupported machine")
	ErrNoSymbol     = errors.New("elfx: symbol not found")
	ErrNoSegment    = errors.New("elfx: no PT_LOAD segment covers address")
	ErrSymbolNoSize = errors.New("elfx: symbol has zero size")
)

// File wraps a debug/elf.File with virtual-address reads.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
	arch isa.Arch
}

// Open opens an ELF file of a supported machine (x86, x86-64, ARM, AArch64).
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	arch, err := machineArch(ef.Machine)
	if err != nil {
		ef.Close()
		return nil, err
	}

	return &File{ELF: ef, raw: f, size: info.Size(), arch: arch}, nil
}

func machineArch(m elf.Machine) (isa.Arch, error) {
	switch m {
	case elf.EM_386:
		return isa.X86_32, nil
	case elf.EM_X86_64:
		return isa.X86_64, nil
	case elf.EM_AARCH64:
		return isa.ARM64, nil
	case elf.EM_ARM:
		return isa.ARMv7, nil
	}
	return isa.ArchUnknown, fmt.Errorf("%w: %s", ErrUnsupported, m)
}

// Close releases resources.
func (f *File) Close() error {
	return f.ELF.Close()
}

// Arch returns the architecture named by the ELF header.
func (f *File) Arch() isa.Arch { return f.arch }

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Symbol is a sized function or object symbol.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Symbols returns the static and dynamic function symbols with a nonzero
// address, ordered by address. Duplicate addresses keep the first name.
func (f *File) Symbols() []Symbol {
	var all []elf.Symbol
	if syms, err := f.ELF.Symbols(); err == nil {
		all = append(all, syms...)
	}
	if syms, err := f.ELF.DynamicSymbols(); err == nil {
		all = append(all, syms...)
	}
	seen := make(map[uint64]bool)
	var out []Symbol
	for _, s := range all {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || seen[s.Value] {
			continue
		}
		seen[s.Value] = true
		out = append(out, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Symbol looks up a static or dynamic symbol by exact name.
// Returns the symbol's virtual address and size.
func (f *File) Symbol(name string) (addr, size uint64, err error) {
	for _, load := range []func() ([]elf.Symbol, error){f.ELF.Symbols, f.ELF.DynamicSymbols} {
		syms, err := load()
		if err != nil {
			continue
		}
		for _, s := range syms {
			if s.Name == name {
				return s.Value, s.Size, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadAt reads up to n bytes starting at the given virtual address. The
// read is clamped to the end of the file.
func (f *File) ReadAt(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	avail := f.size - int64(off)
	if avail <= 0 {
		return nil, fmt.Errorf("elfx: offset 0x%x at or past end of file", off)
	}
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	_, err = f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// FunctionBytes reads the body of a sized symbol.
func (f *File) FunctionBytes(name string) (addr uint64, data []byte, err error) {
	addr, size, err := f.Symbol(name)
	if err != nil {
		return 0, nil, err
	}
	if size == 0 {
		return 0, nil, fmt.Errorf("%w: %s", ErrSymbolNoSize, name)
	}
	data, err = f.ReadAt(addr, int(size))
	return addr, data, err
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint64
	Memsz  uint64
	Filesz uint64
	Offset uint64
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  p.Vaddr,
			Memsz:  p.Memsz,
			Filesz: p.Filesz,
			Offset: p.Off,
			Flags:  p.Flags,
		})
	}
	return segs
}

// ByteOrder returns the ELF byte order.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ELF.ByteOrder
}
