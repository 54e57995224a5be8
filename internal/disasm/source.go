package disasm

import (
	"fmt"

	"aotlift/internal/isa"
)

// Reader reads raw image bytes by virtual address. elfx.File implements it.
type Reader interface {
	ReadAt(addr uint64, n int) ([]byte, error)
}

// maxX86Len is the longest legal x86 encoding; reads for x86 overshoot by
// this much so the instruction covering until is decoded whole.
const maxX86Len = 15

// Source decodes instructions of one image on demand. It serves both the
// initial function body and later expansion requests.
type Source struct {
	Arch   isa.Arch
	Reader Reader
}

// NewSource returns a Source for arch over r.
func NewSource(arch isa.Arch, r Reader) *Source {
	return &Source{Arch: arch, Reader: r}
}

// Function decodes the size bytes at addr.
func (s *Source) Function(addr, size uint64) ([]isa.Instruction, error) {
	if size == 0 {
		return nil, nil
	}
	return s.DecodeFrom(addr, addr+size-1)
}

// DecodeFrom returns the instructions starting at from up to and including
// the one that covers until.
func (s *Source) DecodeFrom(from, until uint64) ([]isa.Instruction, error) {
	if until < from {
		return nil, nil
	}
	n := int(until-from) + 1
	if s.Arch.IsX86() {
		n += maxX86Len
	} else {
		// Fixed-width code: round up to whole words.
		n = (n + 3) &^ 3
	}
	data, err := s.Reader.ReadAt(from, n)
	if err != nil {
		return nil, fmt.Errorf("disasm: read 0x%x: %w", from, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("disasm: read 0x%x: %w", from, ErrTruncated)
	}
	insts, err := Decode(s.Arch, data, Options{BaseAddr: from})
	if err != nil {
		return nil, err
	}
	for i, in := range insts {
		if in.Addr > until {
			return insts[:i], nil
		}
	}
	return insts, nil
}
