package analysis

import (
	"errors"
	"fmt"
	"sort"

	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// ErrNoSource is returned by RequestExpansion when the state was built
// without an instruction source.
var ErrNoSource = errors.New("analysis: no instruction source for expansion")

// InstructionSource decodes more instructions on demand. DecodeFrom returns
// instructions starting at from and covering at least through until.
type InstructionSource interface {
	DecodeFrom(from, until uint64) ([]isa.Instruction, error)
}

// Comparison is the most recent flag-setting compare/test.
type Comparison struct {
	Left, Right Operand
	Test        bool // test a, b (bitwise) rather than cmp a, b
	At          uint64
}

// State is the AnalysisState of one function. It is created per analysis,
// mutated by a single goroutine, and discarded after rendering.
type State struct {
	Arch   isa.Arch
	Index  *metadata.Index
	Method *metadata.Method // nil when the function has no known method
	Name   string

	regs    map[string]Operand
	slots   map[int64]Operand
	stack   []Operand
	params  []*Local
	locals  []*Local
	actions []Action
	indent  int
	seq     int

	insts  []isa.Instruction
	start  uint64
	end    uint64
	source InstructionSource

	// Control-flow bookkeeping, keyed by instruction address.
	JumpDests  map[uint64]bool   // every identified branch destination
	IfEnds     map[uint64]int    // open if-blocks closing at address
	ElseStarts map[uint64]uint64 // else body start -> else end
	LoopStarts map[uint64]uint64 // loop head -> backward branch address
	LoopEnds   map[uint64]uint64 // address after backward branch -> loop head
	LoopExits  map[uint64]uint64 // loop head -> post-loop control target
	Gotos      map[uint64]bool   // unstructured targets needing a label

	// Suspect holds addresses of immediates that may not be constants.
	Suspect map[uint64]bool

	LastComparison *Comparison

	// Cursor is the instruction currently being lifted.
	Cursor isa.Instruction

	// FrameAdjust is how far the stack pointer has moved below its entry
	// value. Slots are keyed by entry-relative offset so that spills and
	// incoming stack parameters agree across prologue adjustments.
	FrameAdjust int64
	fpAdjust    int64
	fpAnchored  bool

	// CallPopped is the number of explicit stack entries the last bound call
	// consumed; the caller's stack cleanup only drops the remainder.
	CallPopped int

	// Division is set by the first half of the signed magic-number division
	// idiom and consumed by the shift that completes it.
	Division *PendingDivision
}

// PendingDivision is the state between "imul by magic" and the final shift.
type PendingDivision struct {
	Magic    int64
	Dividend Operand
	At       uint64
}

// Config seeds a State.
type Config struct {
	Arch         isa.Arch
	Index        *metadata.Index
	Method       *metadata.Method
	Name         string
	Instructions []isa.Instruction
	Source       InstructionSource
}

// NewState builds a fresh state. Registers start empty; the calling
// convention seeds incoming arguments afterwards.
func NewState(cfg Config) *State {
	s := &State{
		Arch:       cfg.Arch,
		Index:      cfg.Index,
		Method:     cfg.Method,
		Name:       cfg.Name,
		regs:       make(map[string]Operand),
		slots:      make(map[int64]Operand),
		insts:      cfg.Instructions,
		source:     cfg.Source,
		JumpDests:  make(map[uint64]bool),
		IfEnds:     make(map[uint64]int),
		ElseStarts: make(map[uint64]uint64),
		LoopStarts: make(map[uint64]uint64),
		LoopEnds:   make(map[uint64]uint64),
		LoopExits:  make(map[uint64]uint64),
		Gotos:      make(map[uint64]bool),
		Suspect:    make(map[uint64]bool),
	}
	if n := len(cfg.Instructions); n > 0 {
		s.start = cfg.Instructions[0].Addr
		s.end = cfg.Instructions[n-1].Next
	}
	if s.Name == "" && s.Method != nil {
		s.Name = s.Method.String()
	}
	if s.Method != nil {
		if !s.Method.Static {
			s.params = append(s.params, &Local{Name: "this", Type: s.Method.Declaring, IsParameter: true, Storage: StorageParameter})
		}
		for i, p := range s.Method.Params {
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("arg%d", i)
			}
			s.params = append(s.params, &Local{Name: name, Type: p.Type, IsParameter: true, Storage: StorageParameter})
		}
	}
	return s
}

// Registers.

// Get returns the operand bound to reg. ok is false when nothing is bound,
// which is weaker evidence than an Unresolved binding.
func (s *State) Get(reg string) (Operand, bool) {
	if isa.IsZeroRegister(reg) {
		return Literal(metadata.Int64, 0), true
	}
	op, ok := s.regs[reg]
	return op, ok
}

// Set replaces any previous binding of reg.
func (s *State) Set(reg string, op Operand) {
	if reg == "" || isa.IsZeroRegister(reg) {
		return
	}
	if op == nil {
		delete(s.regs, reg)
		return
	}
	s.regs[reg] = op
}

// Clear unbinds reg.
func (s *State) Clear(reg string) { delete(s.regs, reg) }

// BoundRegisters returns the names of all bound registers, sorted.
func (s *State) BoundRegisters() []string {
	out := make([]string, 0, len(s.regs))
	for r := range s.regs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Stack slots, keyed by frame offset.

// Slot returns the operand stored at a frame offset.
func (s *State) Slot(off int64) (Operand, bool) {
	op, ok := s.slots[off]
	return op, ok
}

// SetSlot replaces the binding of a frame offset.
func (s *State) SetSlot(off int64, op Operand) {
	if op == nil {
		delete(s.slots, off)
		return
	}
	s.slots[off] = op
}

// ClearSlot unbinds a frame offset.
func (s *State) ClearSlot(off int64) { delete(s.slots, off) }

// SlotLocal returns the Local stored at off, if the slot holds one.
func (s *State) SlotLocal(off int64) (*Local, bool) {
	l, ok := s.slots[off].(*Local)
	return l, ok
}

// SlotKey maps a stack- or frame-pointer-relative displacement to the
// entry-relative slot key. ok is false for any other base register.
func (s *State) SlotKey(base string, disp int64) (int64, bool) {
	switch base {
	case isa.StackPointer(s.Arch):
		return disp - s.FrameAdjust, true
	case isa.FramePointer(s.Arch):
		if s.fpAnchored {
			return disp - s.fpAdjust, true
		}
	}
	return 0, false
}

// AnchorFramePointer records that the frame pointer now equals the stack
// pointer plus delta.
func (s *State) AnchorFramePointer(delta int64) {
	s.fpAdjust = s.FrameAdjust - delta
	s.fpAnchored = true
}

// Explicit operand stack (32-bit push/pop).

// Push pushes op onto the explicit stack.
func (s *State) Push(op Operand) { s.stack = append(s.stack, op) }

// Pop removes and returns the top of the explicit stack.
func (s *State) Pop() (Operand, bool) {
	if len(s.stack) == 0 {
		return nil, false
	}
	op := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return op, true
}

// Peek returns the entry depth places below the top (0 is the top).
func (s *State) Peek(depth int) (Operand, bool) {
	i := len(s.stack) - 1 - depth
	if i < 0 || depth < 0 {
		return nil, false
	}
	return s.stack[i], true
}

// StackLen returns the number of explicit stack entries.
func (s *State) StackLen() int { return len(s.stack) }

// StackSnapshot copies the explicit stack, bottom first.
func (s *State) StackSnapshot() []Operand {
	return append([]Operand(nil), s.stack...)
}

// RestoreStack replaces the explicit stack with a snapshot.
func (s *State) RestoreStack(snap []Operand) {
	s.stack = append(s.stack[:0:0], snap...)
}

// Drop discards n entries from the top of the explicit stack.
func (s *State) Drop(n int) {
	if n > len(s.stack) {
		n = len(s.stack)
	}
	s.stack = s.stack[:len(s.stack)-n]
}

// Locals and parameters.

// Params returns the parameter locals, receiver first.
func (s *State) Params() []*Local { return s.params }

// Locals returns every local created so far, in creation order.
func (s *State) Locals() []*Local { return s.locals }

// NewLocal creates and registers a local of type t.
func (s *State) NewLocal(t *metadata.Type, hint StorageHint) *Local {
	l := s.MakeLocal(t, hint)
	s.RegisterLocal(l)
	return l
}

// MakeLocal creates a local without registering it; used for speculative
// values that are only kept if a binding succeeds.
func (s *State) MakeLocal(t *metadata.Type, hint StorageHint) *Local {
	name := fmt.Sprintf("local%d", s.seq)
	s.seq++
	return &Local{Name: name, Type: t, Storage: hint}
}

// LocalSeq returns the number the next MakeLocal will use.
func (s *State) LocalSeq() int { return s.seq }

// RewindLocals gives back the numbers of locals made after LocalSeq
// returned seq. Only speculative locals that never reached the state may be
// rewound.
func (s *State) RewindLocals(seq int) {
	if seq < s.seq {
		s.seq = seq
	}
}

// RegisterLocal records l as a local of this function.
func (s *State) RegisterLocal(l *Local) { s.locals = append(s.locals, l) }

// Actions.

// Add appends a at the current indent. The list is append-only.
func (s *State) Add(a Action) {
	a.SetIndent(s.indent)
	s.actions = append(s.actions, a)
}

// Actions returns the action list.
func (s *State) Actions() []Action { return s.actions }

// LastAction returns the most recently appended action, or nil.
func (s *State) LastAction() Action {
	if len(s.actions) == 0 {
		return nil
	}
	return s.actions[len(s.actions)-1]
}

// Indent returns the current indent depth.
func (s *State) Indent() int { return s.indent }

// Nest increases the indent depth.
func (s *State) Nest() { s.indent++ }

// Unnest decreases the indent depth, never below zero.
func (s *State) Unnest() {
	if s.indent > 0 {
		s.indent--
	}
}

// Bounds and expansion.

// Bounds returns the current [start, end) address range.
func (s *State) Bounds() (start, end uint64) { return s.start, s.end }

// InBounds reports whether addr lies within the current function range.
func (s *State) InBounds(addr uint64) bool { return addr >= s.start && addr < s.end }

// Instructions returns the instruction stream, including expansions.
func (s *State) Instructions() []isa.Instruction { return s.insts }

// RequestExpansion extends the function past its assumed end so that target
// is covered. It is idempotent and the end address only grows. It reports
// whether new instructions were appended.
func (s *State) RequestExpansion(target uint64) (bool, error) {
	if target < s.end {
		return false, nil
	}
	if s.source == nil {
		return false, ErrNoSource
	}
	more, err := s.source.DecodeFrom(s.end, target)
	if err != nil {
		return false, fmt.Errorf("analysis: expand %s to 0x%x: %w", s.Name, target, err)
	}
	added := false
	for _, in := range more {
		if in.Addr < s.end {
			continue
		}
		s.insts = append(s.insts, in)
		s.end = in.Next
		added = true
	}
	return added, nil
}

// NextAddress returns the address after the instruction at addr, or 0.
func (s *State) NextAddress(addr uint64) uint64 {
	i := sort.Search(len(s.insts), func(i int) bool { return s.insts[i].Addr >= addr })
	if i < len(s.insts) && s.insts[i].Addr == addr {
		return s.insts[i].Next
	}
	return 0
}

// InstructionBefore returns the instruction immediately preceding addr.
func (s *State) InstructionBefore(addr uint64) (isa.Instruction, bool) {
	i := sort.Search(len(s.insts), func(i int) bool { return s.insts[i].Addr >= addr })
	if i == 0 || i > len(s.insts) {
		return isa.Instruction{}, false
	}
	return s.insts[i-1], true
}
