package callconv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

func owner() *metadata.Type {
	return &metadata.Type{Name: "Owner", Namespace: "Game", Kind: metadata.KindClass, Base: metadata.Object}
}

func method(decl *metadata.Type, static bool, params ...*metadata.Type) *metadata.Method {
	m := &metadata.Method{Name: "M", Declaring: decl, Static: static, Return: metadata.Void}
	for _, p := range params {
		m.Params = append(m.Params, metadata.Param{Type: p})
	}
	return m
}

func TestWin64InstanceCall(t *testing.T) {
	decl := owner()
	m := method(decl, false, metadata.Int32, metadata.Int32)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64})
	this := &analysis.Local{Name: "this", Type: decl, IsParameter: true}
	ten, twenty := analysis.Literal(metadata.Int32, 10), analysis.Literal(metadata.Int32, 20)
	s.Set("rcx", this)
	s.Set("rdx", ten)
	s.Set("r8", twenty)

	b, err := Win64{}.Bind(m, s, true)
	require.NoError(t, err)
	assert.Equal(t, []analysis.Operand{this, ten, twenty}, b.Args)
	assert.Empty(t, b.Synthesized)
}

func TestWin64FloatAndStackParams(t *testing.T) {
	m := method(owner(), true, metadata.Single, metadata.Int32, metadata.Double, metadata.Int64, metadata.Int32)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64})
	f := &analysis.Local{Name: "f", Type: metadata.Single}
	d := &analysis.Local{Name: "d", Type: metadata.Double}
	s.Set("xmm0", f)
	s.Set("rdx", analysis.Literal(metadata.Int32, 1))
	s.Set("xmm2", d)
	s.Set("r9", analysis.Literal(metadata.Int64, 2))
	s.FrameAdjust = 0x38
	key, _ := s.SlotKey("rsp", 0x20)
	s.SetSlot(key, analysis.Literal(metadata.Int32, 3))

	b, err := Win64{}.Bind(m, s, false)
	require.NoError(t, err)
	require.Len(t, b.Args, 5)
	assert.Same(t, f, b.Args[0])
	assert.Same(t, d, b.Args[2])

	s.ClearSlot(key)
	_, err = Win64{}.Bind(m, s, false)
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 4, me.Param)
}

func TestWin64Residual(t *testing.T) {
	m := method(owner(), true, metadata.Int32)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64})
	s.Set("rcx", analysis.Literal(metadata.Int32, 1))

	s.Set("rdx", &analysis.Constant{Value: m, Provenance: analysis.ProvMethodToken})
	_, err := Win64{}.Bind(m, s, false)
	require.NoError(t, err, "a token of the method itself is the hidden method-info argument")

	s.Set("r8", analysis.Literal(metadata.Int32, 0))
	_, err = Win64{}.Bind(m, s, false)
	require.NoError(t, err, "zero leftovers are tolerated")

	s.Set("r9", analysis.Unresolved{At: 0x10})
	_, err = Win64{}.Bind(m, s, false)
	assert.ErrorIs(t, err, ErrMismatch, "an unresolved leftover is an unexplained value")
	s.Clear("r9")

	other := method(owner(), true)
	s.Set("rdx", &analysis.Constant{Value: other, Provenance: analysis.ProvMethodToken})
	_, err = Win64{}.Bind(m, s, false)
	assert.ErrorIs(t, err, ErrMismatch)

	s.Set("rdx", &analysis.Local{Name: "stale", Type: metadata.String})
	_, err = Win64{}.Bind(m, s, false)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestWin64AbsentRegister(t *testing.T) {
	m := method(owner(), true, metadata.Int32)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64})
	_, err := Win64{}.Bind(m, s, false)
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 0, me.Param)
}

func pair(second *metadata.Type) *metadata.Type {
	t := &metadata.Type{Name: "Pair", Kind: metadata.KindStruct}
	t.Fields = []*metadata.Field{
		{Name: "a", Type: metadata.Int32, Offset: 0, Declaring: t},
		{Name: "b", Type: second, Offset: 4, Declaring: t},
	}
	return t
}

func TestStack32StructReconstruction(t *testing.T) {
	p := pair(metadata.Int32)
	m := method(owner(), true, p)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_32})
	below := &analysis.Local{Name: "saved"}
	s.Push(below)
	s.Push(analysis.Literal(metadata.Int32, 1))
	s.Push(analysis.Literal(metadata.Int32, 2))

	b, err := Stack32{}.Bind(m, s, false)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Popped)
	assert.Equal(t, 1, s.StackLen(), "exactly two entries consumed")

	require.Len(t, b.Args, 1)
	l, ok := b.Args[0].(*analysis.Local)
	require.True(t, ok)
	assert.Same(t, p, l.Type)

	require.Len(t, b.Synthesized, 3)
	alloc, ok := b.Synthesized[0].(*actions.AllocateInstance)
	require.True(t, ok)
	assert.True(t, alloc.Synthesized)
	set, ok := b.Synthesized[1].(*actions.FieldWrite)
	require.True(t, ok)
	assert.Equal(t, "a", set.Chain.Final.Name)
	assert.Equal(t, "2", set.Value.String())

	assert.Empty(t, s.Actions(), "nothing enters the state before commit")
	b.Commit(s)
	assert.Len(t, s.Actions(), 3)
	assert.Contains(t, s.Locals(), l)
	assert.Equal(t, 2, s.CallPopped)
}

func TestStack32MismatchRestoresStack(t *testing.T) {
	m := method(owner(), true, pair(metadata.String))
	s := analysis.NewState(analysis.Config{Arch: isa.X86_32})
	one, two := analysis.Literal(metadata.Int32, 1), analysis.Literal(metadata.Int32, 2)
	s.Push(one)
	s.Push(two)
	before := s.StackSnapshot()

	_, err := Stack32{}.Bind(m, s, false)
	require.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, before, s.StackSnapshot())
	assert.Empty(t, s.Actions())
	assert.Empty(t, s.Locals())
}

func TestStack32MismatchKeepsLocalNumbering(t *testing.T) {
	m := method(owner(), true, pair(metadata.Int32), metadata.String)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_32})
	s.Push(analysis.Literal(metadata.Int32, 9))
	s.Push(analysis.Literal(metadata.Int32, 1))
	s.Push(analysis.Literal(metadata.Int32, 2))

	_, err := Stack32{}.Bind(m, s, false)
	require.ErrorIs(t, err, ErrMismatch, "the struct fits but the string parameter does not")
	assert.Equal(t, 3, s.StackLen())
	assert.Equal(t, 0, s.LocalSeq())
	assert.Equal(t, "local0", s.MakeLocal(metadata.Int32, analysis.StorageRegister).Name)
}

func TestStack32Exhausted(t *testing.T) {
	decl := owner()
	m := method(decl, false, metadata.Int32)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_32})
	this := &analysis.Local{Name: "this", Type: decl}
	s.Push(this)

	_, err := Stack32{}.Bind(m, s, true)
	require.ErrorIs(t, err, ErrMismatch)
	top, ok := s.Peek(0)
	require.True(t, ok)
	assert.Same(t, this, top)
}

func TestARMCounters(t *testing.T) {
	decl := owner()
	m := method(decl, false, metadata.Single, metadata.Int32, metadata.Double)
	s := analysis.NewState(analysis.Config{Arch: isa.ARM64})
	this := &analysis.Local{Name: "this", Type: decl}
	f := &analysis.Local{Name: "f", Type: metadata.Single}
	d := &analysis.Local{Name: "d", Type: metadata.Double}
	s.Set("x0", this)
	s.Set("v0", f)
	s.Set("x1", analysis.Literal(metadata.Int32, 4))
	s.Set("v1", d)

	b, err := NewARM(isa.ARM64).Bind(m, s, true)
	require.NoError(t, err)
	require.Len(t, b.Args, 4)
	assert.Same(t, this, b.Args[0])
	assert.Same(t, f, b.Args[1])
	assert.Same(t, d, b.Args[3])
}

func TestARMBudget(t *testing.T) {
	ints := make([]*metadata.Type, 5)
	for i := range ints {
		ints[i] = metadata.Int32
	}
	m := method(owner(), true, ints...)
	s := analysis.NewState(analysis.Config{Arch: isa.ARMv7})
	for i := 0; i < 4; i++ {
		s.Set(NewARM(isa.ARMv7).intReg(i), analysis.Literal(metadata.Int32, int64(i)))
	}
	_, err := NewARM(isa.ARMv7).Bind(m, s, false)
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 4, me.Param)

	_, err = NewARM(isa.ARMv7).Bind(method(owner(), true, ints[:4]...), s, false)
	assert.NoError(t, err)
}

func TestSeed(t *testing.T) {
	decl := owner()
	m := method(decl, false, metadata.Single, metadata.Int32)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64, Method: m})
	Win64{}.Seed(s)
	this, _ := s.Get("rcx")
	assert.Equal(t, "this", this.String())
	_, ok := s.Get("xmm1")
	assert.True(t, ok, "float parameter in the vector register of its ordinal")
	_, ok = s.Get("r8")
	assert.True(t, ok)

	s32 := analysis.NewState(analysis.Config{Arch: isa.X86_32, Method: m})
	Stack32{}.Seed(s32)
	first, ok := s32.SlotLocal(4)
	require.True(t, ok)
	assert.Equal(t, "this", first.Name)
	_, ok = s32.SlotLocal(8)
	assert.True(t, ok)

	arm := analysis.NewState(analysis.Config{Arch: isa.ARM64, Method: m})
	NewARM(isa.ARM64).Seed(arm)
	_, ok = arm.Get("v0")
	assert.True(t, ok)
	_, ok = arm.Get("x1")
	assert.True(t, ok)
}

func TestCompatible(t *testing.T) {
	color := &metadata.Type{Name: "Color", Kind: metadata.KindEnum, EnumUnderlying: metadata.Int32}
	node := owner()
	list := &metadata.Type{Name: "IEnumerable`1", Namespace: "System.Collections.Generic", Kind: metadata.KindInterface, GenericParams: []string{"T"}}

	cases := []struct {
		name string
		op   analysis.Operand
		want *metadata.Type
		ok   bool
	}{
		{"primitive coercion", analysis.Literal(metadata.Int64, 1), metadata.Byte, true},
		{"enum of primitive", analysis.Literal(metadata.Int32, 2), color, true},
		{"enum of other primitive", analysis.Literal(metadata.Int64, 2), color, false},
		{"enum without underlying", analysis.Literal(metadata.Int32, 2), &metadata.Type{Name: "Mode", Kind: metadata.KindEnum}, true},
		{"unmanaged literal as string", &analysis.Constant{Value: "hi", Provenance: analysis.ProvUnmanagedLiteral}, metadata.String, true},
		{"unmanaged literal as object", &analysis.Constant{Value: "hi", Provenance: analysis.ProvUnmanagedLiteral}, metadata.Object, true},
		{"unmanaged literal as int", &analysis.Constant{Value: "hi", Provenance: analysis.ProvUnmanagedLiteral}, metadata.Int32, false},
		{"null constant", analysis.Literal(metadata.Int64, 0), node, true},
		{"null local", &analysis.Local{Type: metadata.String, HasKnownValue: true}, node, true},
		{"array as enumerable", &analysis.Local{Type: metadata.ArrayOf(metadata.Int32)}, metadata.IEnumerable, true},
		{"array as generic enumerable", &analysis.Local{Type: metadata.ArrayOf(metadata.Int32)}, metadata.Instantiate(list, metadata.Int32), true},
		{"generic by name", &analysis.Local{Type: metadata.GenericParam("T")}, metadata.GenericParam("T"), true},
		{"generic name differs", &analysis.Local{Type: metadata.GenericParam("T")}, metadata.GenericParam("U"), false},
		{"string to int", &analysis.Local{Type: metadata.String}, metadata.Int32, false},
		{"int to string", analysis.Literal(metadata.Int32, 5), metadata.String, false},
		{"subclass", &analysis.Local{Type: node}, metadata.Object, true},
		{"unrelated classes", &analysis.Local{Type: node}, metadata.String, false},
		{"untyped local", &analysis.Local{Name: "v"}, metadata.String, true},
		{"unresolved", analysis.Unresolved{At: 1}, metadata.String, false},
		{"unresolved as int", analysis.Unresolved{At: 1}, metadata.Int32, false},
		{"stack address as struct", analysis.StackPointer{Offset: 0x20}, pair(metadata.Int32), true},
		{"stack address as intptr", analysis.StackPointer{Offset: 0x20}, metadata.IntPtr, true},
		{"stack address as string", analysis.StackPointer{Offset: 0x20}, metadata.String, false},
		{"type token", &analysis.Constant{Value: node, Provenance: analysis.ProvTypeToken}, metadata.Int32, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.ok, Compatible(c.op, c.want))
		})
	}
}

func TestGenericInference(t *testing.T) {
	def := &metadata.Type{Name: "Box", Kind: metadata.KindClass, Base: metadata.Object, GenericParams: []string{"T"}}
	tp := metadata.GenericParam("U")
	m := &metadata.Method{Name: "Wrap", Declaring: def, Static: true, Params: []metadata.Param{{Type: tp}, {Type: tp}}, Return: tp}
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64})
	s.Set("rcx", &analysis.Local{Name: "a", Type: metadata.String})
	s.Set("rdx", &analysis.Local{Name: "b", Type: metadata.String})

	b, err := Win64{}.Bind(m, s, false)
	require.NoError(t, err)
	assert.Same(t, metadata.String, b.Inferred["U"])
	assert.Same(t, metadata.String, b.ReturnType())

	s.Set("rdx", analysis.Literal(metadata.Int32, 3))
	_, err = Win64{}.Bind(m, s, false)
	assert.ErrorIs(t, err, ErrMismatch, "second use must agree with the inferred type")

	_, err = ForArch(isa.ArchUnknown)
	assert.Error(t, err)
	conv, err := ForArch(isa.ARMv7)
	require.NoError(t, err)
	assert.Equal(t, "arm-armv7", conv.Name())
}
