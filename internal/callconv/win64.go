package callconv

import (
	"aotlift/internal/analysis"
	"aotlift/internal/metadata"
)

var (
	win64Int   = []string{"rcx", "rdx", "r8", "r9"}
	win64Float = []string{"xmm0", "xmm1", "xmm2", "xmm3"}
)

// win64Shadow is the home area the caller reserves above the return
// address; stack parameters start after it.
const win64Shadow = 0x20

// Win64 is the 64-bit register convention: the first four positions come
// from rcx, rdx, r8, r9 or the xmm register of the same ordinal, the rest
// from [rsp+0x20+8*i].
type Win64 struct{}

func (Win64) Name() string { return "win64" }

func (Win64) ArgumentRegisters() []string {
	return append(append([]string(nil), win64Int...), win64Float...)
}

func (Win64) Bind(m *metadata.Method, s *analysis.State, instance bool) (*Binding, error) {
	bd := newBinder(m)
	for pos, pt := range paramTypes(m, instance) {
		idx := paramIndex(pos, instance)
		if pos < len(win64Int) {
			reg := win64Int[pos]
			if pt.IsFloatingPointShaped() {
				reg = win64Float[pos]
			}
			if err := bd.fromRegister(s, idx, reg, pt); err != nil {
				return nil, err
			}
			continue
		}
		key, _ := s.SlotKey("rsp", win64Shadow+8*int64(pos-len(win64Int)))
		op, ok := s.Slot(key)
		if !ok {
			return nil, mismatch(m, idx, "nothing at stack offset 0x%x", win64Shadow+8*(pos-len(win64Int)))
		}
		if err := bd.accept(idx, op, pt); err != nil {
			return nil, err
		}
	}
	if err := bd.checkResidual(s, Win64{}.ArgumentRegisters()); err != nil {
		return nil, err
	}
	return bd.b, nil
}

// checkResidual rejects bindings that leave argument registers holding
// values the signature does not explain. Unbound and zero registers are
// tolerated, as is a single token of the method itself (the hidden
// method-info argument). An Unresolved leftover is still a value.
func (bd *binder) checkResidual(s *analysis.State, regs []string) error {
	var unexplained []string
	selfToken := 0
	for _, r := range regs {
		if bd.consumed[r] {
			continue
		}
		op, ok := s.Get(r)
		if !ok {
			continue
		}
		if v, ok := op.(*analysis.Constant); ok {
			if v.IsZero() {
				continue
			}
			if (v.Provenance == analysis.ProvMethodToken || v.Provenance == analysis.ProvMethodSpec) && v.Value == bd.m {
				selfToken++
			}
		}
		unexplained = append(unexplained, r)
	}
	if len(unexplained) == 0 || len(unexplained) == 1 && selfToken == 1 {
		return nil
	}
	return mismatch(bd.m, -1, "unconsumed argument registers %v", unexplained)
}

func (Win64) Seed(s *analysis.State) {
	for pos, p := range s.Params() {
		if pos < len(win64Int) {
			reg := win64Int[pos]
			if p.Type.IsFloatingPointShaped() {
				reg = win64Float[pos]
			}
			s.Set(reg, p)
			continue
		}
		// The return address sits between the caller's frame and ours.
		key, _ := s.SlotKey("rsp", 8+win64Shadow+8*int64(pos-len(win64Int)))
		s.SetSlot(key, p)
	}
}
