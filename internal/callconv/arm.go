package callconv

import (
	"fmt"

	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// ARM is the register convention of ARM64 and ARMv7: integer and vector
// parameters are drawn from independent counters, the receiver taking the
// first integer register. Stack spill is not supported; a signature that
// runs past the register budget does not bind.
type ARM struct {
	arch   isa.Arch
	budget int
}

// NewARM returns the convention for arch (ARM64 or ARMv7).
func NewARM(arch isa.Arch) ARM {
	if arch == isa.ARMv7 {
		return ARM{arch: arch, budget: 4}
	}
	return ARM{arch: isa.ARM64, budget: 8}
}

func (c ARM) Name() string { return "arm-" + c.arch.String() }

func (c ARM) intReg(n int) string {
	if c.arch == isa.ARMv7 {
		return fmt.Sprintf("r%d", n)
	}
	return fmt.Sprintf("x%d", n)
}

// vecReg returns the vector register for ordinal n holding a value of t.
// ARMv7 passes singles in s registers and doubles in d registers.
func (c ARM) vecReg(n int, t *metadata.Type) string {
	if c.arch == isa.ARMv7 {
		if t == metadata.Double {
			return fmt.Sprintf("d%d", n)
		}
		return fmt.Sprintf("s%d", n)
	}
	return fmt.Sprintf("v%d", n)
}

func (c ARM) ArgumentRegisters() []string {
	var out []string
	for i := 0; i < c.budget; i++ {
		out = append(out, c.intReg(i))
	}
	for i := 0; i < c.budget; i++ {
		if c.arch == isa.ARMv7 {
			out = append(out, c.vecReg(i, metadata.Single), c.vecReg(i, metadata.Double))
			continue
		}
		out = append(out, c.vecReg(i, nil))
	}
	return out
}

// assign walks the parameter list and returns the register of each
// position, failing once either counter runs out.
func (c ARM) assign(types []*metadata.Type) ([]string, int) {
	regs := make([]string, len(types))
	ints, vecs := 0, 0
	for pos, t := range types {
		if t.IsFloatingPointShaped() {
			if vecs >= c.budget {
				return nil, pos
			}
			regs[pos] = c.vecReg(vecs, t)
			vecs++
			continue
		}
		if ints >= c.budget {
			return nil, pos
		}
		regs[pos] = c.intReg(ints)
		ints++
	}
	return regs, -1
}

func (c ARM) Bind(m *metadata.Method, s *analysis.State, instance bool) (*Binding, error) {
	types := paramTypes(m, instance)
	regs, over := c.assign(types)
	if regs == nil {
		return nil, mismatch(m, paramIndex(over, instance), "register budget of %d exhausted", c.budget)
	}
	bd := newBinder(m)
	for pos, pt := range types {
		if err := bd.fromRegister(s, paramIndex(pos, instance), regs[pos], pt); err != nil {
			return nil, err
		}
	}
	return bd.b, nil
}

func (c ARM) Seed(s *analysis.State) {
	ps := s.Params()
	types := make([]*metadata.Type, len(ps))
	for i, p := range ps {
		types[i] = p.Type
	}
	regs, over := c.assign(types)
	if regs == nil {
		regs, _ = c.assign(types[:over])
	}
	for i, r := range regs {
		s.Set(r, ps[i])
	}
}
