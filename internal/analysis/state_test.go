package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aotlift/internal/il"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

func inst(addr uint64, n uint64, mn string) isa.Instruction {
	return isa.Instruction{Addr: addr, Next: addr + n, Mnemonic: mn}
}

func TestRegisterBindings(t *testing.T) {
	s := NewState(Config{Arch: isa.X86_64})
	x := &Local{Name: "x", Type: metadata.Int32}

	_, ok := s.Get("rax")
	assert.False(t, ok, "fresh registers are absent, not unresolved")

	s.Set("rax", x)
	op, ok := s.Get("rax")
	require.True(t, ok)
	assert.Same(t, x, op)

	s.Set("rax", Unresolved{At: 0x10})
	op, _ = s.Get("rax")
	assert.Equal(t, Unresolved{At: 0x10}, op, "set replaces the previous binding")

	s.Set("rax", nil)
	_, ok = s.Get("rax")
	assert.False(t, ok)

	s.Set("rbx", x)
	s.Clear("rbx")
	assert.Empty(t, s.BoundRegisters())
}

func TestZeroRegister(t *testing.T) {
	s := NewState(Config{Arch: isa.ARM64})
	s.Set("xzr", &Local{Name: "nope"})
	op, ok := s.Get("xzr")
	require.True(t, ok)
	c, isConst := op.(*Constant)
	require.True(t, isConst)
	assert.True(t, c.IsZero())
}

func TestSlotsAndStack(t *testing.T) {
	s := NewState(Config{Arch: isa.X86_32})
	l := s.NewLocal(metadata.Int32, StorageStack)
	s.SetSlot(-8, l)
	got, ok := s.SlotLocal(-8)
	require.True(t, ok)
	assert.Same(t, l, got)
	s.ClearSlot(-8)
	_, ok = s.Slot(-8)
	assert.False(t, ok)

	one, two := Literal(metadata.Int32, 1), Literal(metadata.Int32, 2)
	s.Push(one)
	s.Push(two)
	snap := s.StackSnapshot()

	top, ok := s.Peek(0)
	require.True(t, ok)
	assert.Same(t, two, top)
	_, ok = s.Peek(2)
	assert.False(t, ok)

	popped, _ := s.Pop()
	assert.Same(t, two, popped)
	s.Drop(5)
	assert.Equal(t, 0, s.StackLen())

	s.RestoreStack(snap)
	require.Equal(t, 2, s.StackLen())
	top, _ = s.Peek(0)
	assert.Same(t, two, top)
	_, ok = s.Pop()
	assert.True(t, ok)
	_, ok = s.Pop()
	assert.True(t, ok)
	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestParamsSeeded(t *testing.T) {
	owner := &metadata.Type{Name: "Owner", Kind: metadata.KindClass}
	m := &metadata.Method{Name: "M", Declaring: owner, Params: []metadata.Param{{Name: "a", Type: metadata.Int32}, {Type: metadata.Single}}}
	s := NewState(Config{Arch: isa.X86_64, Method: m})

	ps := s.Params()
	require.Len(t, ps, 3)
	assert.Equal(t, "this", ps[0].Name)
	assert.Same(t, owner, ps[0].Type)
	assert.Equal(t, "a", ps[1].Name)
	assert.Equal(t, "arg1", ps[2].Name)
	assert.True(t, ps[2].IsParameter)
	assert.Equal(t, "Owner::M(System.Int32, System.Single)", s.Name)

	m.Static = true
	assert.Len(t, NewState(Config{Method: m}).Params(), 2)
}

type fakeSource struct {
	calls int
	step  uint64
}

func (f *fakeSource) DecodeFrom(from, until uint64) ([]isa.Instruction, error) {
	f.calls++
	var out []isa.Instruction
	for a := from; a <= until; a += f.step {
		out = append(out, inst(a, f.step, "nop"))
	}
	return out, nil
}

func TestRequestExpansion(t *testing.T) {
	src := &fakeSource{step: 4}
	s := NewState(Config{
		Arch:         isa.ARM64,
		Instructions: []isa.Instruction{inst(0x100, 4, "nop"), inst(0x104, 4, "nop")},
		Source:       src,
	})
	start, end := s.Bounds()
	assert.Equal(t, uint64(0x100), start)
	assert.Equal(t, uint64(0x108), end)

	added, err := s.RequestExpansion(0x104)
	require.NoError(t, err)
	assert.False(t, added, "target already covered")
	assert.Zero(t, src.calls)

	added, err = s.RequestExpansion(0x110)
	require.NoError(t, err)
	assert.True(t, added)
	_, end = s.Bounds()
	assert.Equal(t, uint64(0x114), end)
	assert.True(t, s.InBounds(0x110))

	added, err = s.RequestExpansion(0x110)
	require.NoError(t, err)
	assert.False(t, added, "expansion is idempotent")
	_, again := s.Bounds()
	assert.Equal(t, end, again)
	assert.Len(t, s.Instructions(), 5)

	assert.Equal(t, uint64(0x10c), s.NextAddress(0x108))
	prev, ok := s.InstructionBefore(0x108)
	require.True(t, ok)
	assert.Equal(t, uint64(0x104), prev.Addr)
}

func TestRequestExpansionWithoutSource(t *testing.T) {
	s := NewState(Config{Instructions: []isa.Instruction{inst(0, 1, "ret")}})
	_, err := s.RequestExpansion(0x40)
	assert.ErrorIs(t, err, ErrNoSource)
}

type textAction struct {
	Base
	text string
	emit []il.Instruction
	err  error
}

func (a *textAction) Pseudocode() string { return a.text }

func (a *textAction) ManagedInstructions(*EmitContext) ([]il.Instruction, error) {
	if a.emit == nil && a.err == nil {
		return nil, ErrNotImplemented
	}
	return a.emit, a.err
}

func TestRenderIndentation(t *testing.T) {
	s := NewState(Config{})
	s.Add(&textAction{Base: At(inst(0, 1, "cmp")), text: "if (x) {"})
	s.Nest()
	s.Add(&textAction{Base: At(inst(1, 1, "mov")), text: "y = 1;"})
	s.Add(&textAction{Base: Marker(inst(2, 1, "nop")), text: "hidden"})
	s.Unnest()
	s.Unnest()
	s.Add(&textAction{Base: At(inst(3, 1, "ret")), text: "}"})
	last := &textAction{Base: Base{Inst: inst(4, 1, "ret"), BlankLine: true}, text: "return;"}
	s.Add(last)

	assert.Equal(t, 0, s.Indent())
	assert.Same(t, last, s.LastAction())
	assert.Equal(t, "if (x) {\n    y = 1;\n}\n\nreturn;\n", Render(s.Actions()))
}

func TestEmitManaged(t *testing.T) {
	ok := &textAction{Base: At(inst(0, 1, "mov")), emit: []il.Instruction{il.I(il.LdcI4, int64(1))}}
	skip := &textAction{Base: At(inst(1, 1, "nop"))}
	body, skipped, err := EmitManaged([]Action{ok, skip, ok}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, body, 2)

	bad := &textAction{Base: At(inst(2, 1, "mov"))}
	bad.err = Taint(bad, "field %s missing", "y")
	_, _, err = EmitManaged([]Action{ok, bad, ok}, nil)
	var te *TaintedError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, uint64(2), te.Addr)
	assert.Contains(t, te.Error(), "field y missing")
	assert.False(t, errors.Is(err, ErrNotImplemented))
}

func TestEmitContextLoad(t *testing.T) {
	this := &Local{Name: "this", IsParameter: true}
	ctx := NewEmitContext([]*Local{this})
	tmp := &Local{Name: "local0", Type: metadata.Int32}

	ins, why := ctx.Load(this)
	require.Empty(t, why)
	assert.Equal(t, []il.Instruction{il.I(il.Ldarg, 0)}, ins)

	ins, _ = ctx.Load(tmp)
	assert.Equal(t, il.I(il.Ldloc, 0), ins[0])
	assert.Equal(t, il.I(il.Stloc, 0), ctx.Store(tmp), "same local keeps its index")

	ins, _ = ctx.Load(&Constant{Type: metadata.String, Value: "hi", Provenance: ProvStringLiteral})
	assert.Equal(t, il.I(il.Ldstr, "hi"), ins[0])

	ins, _ = ctx.Load(Literal(metadata.Object, 0))
	assert.Equal(t, il.I(il.Ldnull), ins[0])

	_, why = ctx.Load(Unresolved{At: 4})
	assert.NotEmpty(t, why)
	_, why = ctx.Load(StackPointer{Offset: -8})
	assert.NotEmpty(t, why)
}

func TestConstantString(t *testing.T) {
	assert.Equal(t, "10", Literal(metadata.Int32, 10).String())
	assert.Equal(t, "0x10000", Literal(metadata.Int64, 0x10000).String())
	assert.Equal(t, "true", Literal(metadata.Boolean, 1).String())
	assert.Equal(t, "System.String.klass", (&Constant{Value: metadata.String, Provenance: ProvClassPointer}).String())
	assert.Equal(t, "global_9000", (&Constant{Value: uint64(0x9000), Provenance: ProvUnknownGlobal}).String())
	f, ok := Literal(metadata.Single, 0x3f800000).Float(true)
	require.True(t, ok)
	assert.Equal(t, 1.0, f)
	assert.Equal(t, "&stack[-0x8]", StackPointer{Offset: -8}.String())
}

func TestSlotKeys(t *testing.T) {
	s := NewState(Config{Arch: isa.X86_32})
	k, ok := s.SlotKey("esp", 4)
	require.True(t, ok)
	assert.Equal(t, int64(4), k)

	_, ok = s.SlotKey("ebp", 8)
	assert.False(t, ok, "frame pointer not anchored yet")

	// push ebp; mov ebp, esp; sub esp, 0x10
	s.FrameAdjust += 4
	s.AnchorFramePointer(0)
	s.FrameAdjust += 0x10

	k, _ = s.SlotKey("ebp", 8)
	assert.Equal(t, int64(4), k, "first parameter")
	k, _ = s.SlotKey("esp", 0x18)
	assert.Equal(t, int64(4), k, "same slot through the stack pointer")
	k, _ = s.SlotKey("ebp", -4)
	assert.Equal(t, int64(-8), k)

	_, ok = s.SlotKey("eax", 0)
	assert.False(t, ok)
}
