package lifter

import (
	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// maxArity is the largest operand count with a rule table.
const maxArity = 3

// Rule is one guarded pattern. Match must not mutate anything; Build
// appends actions and updates the state.
type Rule struct {
	Name  string
	Match func(f *Facts) bool
	Build func(f *Facts) error
}

// RuleTable holds one ordered rule list per operand arity. The first rule
// whose guard matches wins, so more specific rules must come first.
type RuleTable struct {
	byArity [maxArity + 1][]Rule
}

// NewRuleTable returns an empty table.
func NewRuleTable() *RuleTable { return &RuleTable{} }

// Add appends rules to the table for arity.
func (t *RuleTable) Add(arity int, rules ...Rule) *RuleTable {
	if arity < 0 || arity > maxArity {
		panic("lifter: rule arity out of range")
	}
	t.byArity[arity] = append(t.byArity[arity], rules...)
	return t
}

// Rules returns the ordered rules for arity.
func (t *RuleTable) Rules(arity int) []Rule {
	if arity < 0 || arity > maxArity {
		return nil
	}
	return t.byArity[arity]
}

// Lookup returns the first rule whose guard accepts f.
func (t *RuleTable) Lookup(f *Facts) (Rule, bool) {
	for _, r := range t.Rules(len(f.Ops)) {
		if r.Match(f) {
			return r, true
		}
	}
	return Rule{}, false
}

// Explain returns the name of the rule that would handle f, or "".
func (t *RuleTable) Explain(f *Facts) string {
	r, ok := t.Lookup(f)
	if !ok {
		return ""
	}
	return r.Name
}

// OperandFacts is one operand with what the state knows about it.
type OperandFacts struct {
	isa.Operand

	// Value is the operand bound to the register, or to the memory base.
	Value analysis.Operand
	Bound bool

	// IndexValue is the operand bound to the memory index register.
	IndexValue analysis.Operand
	IndexBound bool

	// Slot is the entry-relative frame key of a stack memory operand.
	Slot    int64
	OnStack bool
}

// Facts is everything a rule guard may look at for one instruction.
type Facts struct {
	In       isa.Instruction
	Mnemonic string
	Ops      []OperandFacts

	State *analysis.State
	Index *metadata.Index
	Arch  Architecture

	e *Engine
}

func newFacts(e *Engine, s *analysis.State, in isa.Instruction) *Facts {
	f := &Facts{
		In:       in,
		Mnemonic: in.Mnemonic,
		State:    s,
		Index:    e.index,
		Arch:     e.arch,
		e:        e,
	}
	f.Ops = make([]OperandFacts, len(in.Operands))
	for i, op := range in.Operands {
		of := OperandFacts{Operand: op}
		switch op.Kind {
		case isa.KindReg:
			of.Reg = e.arch.Normalize(op.Reg)
			of.Value, of.Bound = s.Get(of.Reg)
		case isa.KindMem:
			of.Mem.Base = e.arch.Normalize(op.Mem.Base)
			of.Mem.Index = e.arch.Normalize(op.Mem.Index)
			if of.Mem.Base != "" {
				of.Value, of.Bound = s.Get(of.Mem.Base)
				if of.Mem.Index == "" {
					of.Slot, of.OnStack = s.SlotKey(of.Mem.Base, of.Mem.Disp)
				}
			}
			if of.Mem.Index != "" {
				of.IndexValue, of.IndexBound = s.Get(of.Mem.Index)
			}
		}
		f.Ops[i] = of
	}
	return f
}

// Op returns operand i, or a KindNone operand when out of range.
func (f *Facts) Op(i int) OperandFacts {
	if i < 0 || i >= len(f.Ops) {
		return OperandFacts{}
	}
	return f.Ops[i]
}

func (f *Facts) isReg(i int) bool { return f.Op(i).Kind == isa.KindReg }
func (f *Facts) isImm(i int) bool { return f.Op(i).Kind == isa.KindImm }
func (f *Facts) isMem(i int) bool { return f.Op(i).Kind == isa.KindMem }

// isAbs reports whether operand i is a memory operand with no registers.
func (f *Facts) isAbs(i int) bool {
	o := f.Op(i)
	return o.Kind == isa.KindMem && o.Mem.Base == "" && o.Mem.Index == ""
}

// reg returns the normalized register of operand i.
func (f *Facts) reg(i int) string { return f.Op(i).Reg }

// value returns the operand for operand i: the binding of a register, a
// literal for an immediate, or Unresolved when nothing better is known.
func (f *Facts) value(i int) analysis.Operand {
	o := f.Op(i)
	switch o.Kind {
	case isa.KindReg:
		if o.Bound {
			return o.Value
		}
	case isa.KindImm:
		return analysis.Literal(literalType(o.Size, f.Index.PointerSize()), o.Imm)
	case isa.KindMem:
		if o.OnStack {
			if v, ok := f.State.Slot(o.Slot); ok {
				return v
			}
		}
	}
	return analysis.Unresolved{At: f.In.Addr}
}

// comparand is value without the Unresolved fallback; nil renders as "?".
func (f *Facts) comparand(i int) analysis.Operand {
	v := f.value(i)
	if _, ok := v.(analysis.Unresolved); ok {
		return nil
	}
	return v
}

// constant returns operand i's binding as a Constant of one of provs.
func (f *Facts) constant(i int, provs ...analysis.Provenance) (*analysis.Constant, bool) {
	o := f.Op(i)
	if !o.Bound {
		return nil, false
	}
	c, ok := o.Value.(*analysis.Constant)
	if !ok {
		return nil, false
	}
	if len(provs) == 0 {
		return c, true
	}
	for _, p := range provs {
		if c.Provenance == p {
			return c, true
		}
	}
	return nil, false
}

// object returns the typed local bound to operand i (register or memory
// base).
func (f *Facts) object(i int) (*analysis.Local, bool) {
	o := f.Op(i)
	if !o.Bound {
		return nil, false
	}
	l, ok := o.Value.(*analysis.Local)
	if !ok || l.Type == nil {
		return nil, false
	}
	return l, true
}

// handles reports whether some rule accepts in under the current state.
func (f *Facts) handles(in isa.Instruction) bool {
	_, ok := f.Arch.Rules().Lookup(newFacts(f.e, f.State, in))
	return ok
}

// dispatch runs the rule table on synthesized instructions, used to lower a
// compound instruction (a register pair, a writeback access) into its
// single-register parts. Facts for every part are taken before any part is
// built, so a pair that overwrites its own base still reads the old value.
func (f *Facts) dispatch(ins ...isa.Instruction) error {
	subs := make([]*Facts, len(ins))
	for i, in := range ins {
		subs[i] = newFacts(f.e, f.State, in)
	}
	for _, sub := range subs {
		r, ok := f.Arch.Rules().Lookup(sub)
		if !ok {
			f.e.clobber(sub)
			continue
		}
		if err := r.Build(sub); err != nil {
			return err
		}
	}
	return nil
}

// Emit appends a at the current indent.
func (f *Facts) Emit(a analysis.Action) { f.State.Add(a) }

// Bind sets reg to op.
func (f *Facts) Bind(reg string, op analysis.Operand) { f.State.Set(reg, op) }

// local creates a register-hinted local of type t.
func (f *Facts) local(t *metadata.Type) *analysis.Local {
	return f.State.NewLocal(t, analysis.StorageRegister)
}

func (f *Facts) layout() metadata.Layout { return f.Index.Layout() }

func (f *Facts) ptr() int { return f.Index.PointerSize() }

func (f *Facts) is64() bool { return f.ptr() == 8 }

func literalType(size, ptr int) *metadata.Type {
	switch size {
	case 8:
		return metadata.Int64
	case 1, 2, 4:
		return metadata.Int32
	}
	if ptr == 8 {
		return metadata.Int64
	}
	return metadata.Int32
}
