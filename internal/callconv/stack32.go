package callconv

import (
	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/fields"
	"aotlift/internal/metadata"
)

// Stack32 is the 32-bit stack convention: arguments are popped from the
// explicit operand stack, receiver first. Struct arguments passed as their
// scalar fields are reconstructed into a synthesized local.
type Stack32 struct{}

func (Stack32) Name() string { return "stack32" }

func (Stack32) ArgumentRegisters() []string { return nil }

// Bind pops one entry per parameter. On any failure the explicit stack is
// restored to exactly what it held before the call, and local numbers taken
// by a discarded struct reconstruction are given back.
func (Stack32) Bind(m *metadata.Method, s *analysis.State, instance bool) (*Binding, error) {
	snap, seq := s.StackSnapshot(), s.LocalSeq()
	b, err := bindStack(m, s, instance)
	if err != nil {
		s.RestoreStack(snap)
		s.RewindLocals(seq)
		return nil, err
	}
	b.Popped = len(snap) - s.StackLen()
	return b, nil
}

func bindStack(m *metadata.Method, s *analysis.State, instance bool) (*Binding, error) {
	bd := newBinder(m)
	for pos, pt := range paramTypes(m, instance) {
		idx := paramIndex(pos, instance)
		op, ok := s.Pop()
		if !ok {
			return nil, mismatch(m, idx, "operand stack exhausted")
		}
		err := bd.accept(idx, op, pt)
		if err == nil {
			continue
		}
		if !reconstructible(pt) {
			return nil, err
		}
		s.Push(op)
		l, err := bd.reconstruct(s, idx, pt)
		if err != nil {
			return nil, err
		}
		bd.b.Args = append(bd.b.Args, l)
	}
	return bd.b, nil
}

func reconstructible(t *metadata.Type) bool {
	return t.IsValueType() && !t.IsPrimitive() && !t.IsEnum() && len(t.InstanceFields()) > 0
}

// reconstruct pops one entry per instance field of t and synthesizes the
// struct they were scalarized from.
func (bd *binder) reconstruct(s *analysis.State, idx int, t *metadata.Type) (*analysis.Local, error) {
	fs := t.InstanceFields()
	if s.StackLen() < len(fs) {
		return nil, mismatch(bd.m, idx, "%d stack entries for %d fields of %s", s.StackLen(), len(fs), t.FullName())
	}
	vals := make([]analysis.Operand, len(fs))
	for i, f := range fs {
		op, _ := s.Pop()
		if !Compatible(op, f.Type) {
			return nil, mismatch(bd.m, idx, "%s does not fit field %s (%s)", op, f.Name, f.Type.FullName())
		}
		vals[i] = op
	}
	l := s.MakeLocal(t, analysis.StorageSynthesized)
	bd.b.Locals = append(bd.b.Locals, l)
	alloc := actions.NewAllocateInstance(s.Cursor, t, l)
	alloc.Synthesized = true
	bd.b.Synthesized = append(bd.b.Synthesized, alloc)
	for i, f := range fs {
		bd.b.Synthesized = append(bd.b.Synthesized, actions.NewFieldWrite(s.Cursor, l, &fields.Chain{Final: f}, vals[i]))
	}
	return l, nil
}

func (Stack32) Seed(s *analysis.State) {
	off := int64(4) // return address
	for _, p := range s.Params() {
		key, _ := s.SlotKey("esp", off)
		s.SetSlot(key, p)
		size := int64(p.Type.Size(4))
		if size < 4 {
			size = 4
		}
		off += (size + 3) &^ 3
	}
}
