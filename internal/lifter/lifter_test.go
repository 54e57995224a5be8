package lifter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aotlift/internal/actions"
	"aotlift/internal/analysis"
	"aotlift/internal/fields"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

type fixture struct {
	idx    *metadata.Index
	player *metadata.Type
	tick   *metadata.Method
	heal   *metadata.Method
	set    *metadata.Method
	run    *metadata.Method
	div    *metadata.Method
}

func newFixture(ptr int) *fixture {
	player := &metadata.Type{Name: "Player", Namespace: "Game", Kind: metadata.KindClass, Base: metadata.Object}
	player.Fields = []*metadata.Field{
		{Name: "health", Type: metadata.Int32, Offset: 0x10},
		{Name: "speed", Type: metadata.Single, Offset: 0x14},
		{Name: "name", Type: metadata.String, Offset: 0x18},
	}
	util := &metadata.Type{Name: "Util", Namespace: "Game", Kind: metadata.KindClass, Base: metadata.Object}

	fx := &fixture{player: player}
	fx.tick = &metadata.Method{Name: "Tick", Declaring: player, Return: metadata.Void, Address: 0x2000}
	fx.heal = &metadata.Method{
		Name: "Heal", Declaring: player, Return: metadata.Int32, Address: 0x2100,
		Params: []metadata.Param{{Name: "amount", Type: metadata.Int32}},
	}
	fx.set = &metadata.Method{
		Name: "SetHealth", Declaring: player, Return: metadata.Void,
		Params: []metadata.Param{{Name: "amount", Type: metadata.Int32}},
	}
	fx.run = &metadata.Method{Name: "Run", Declaring: util, Static: true, Return: metadata.Void}
	fx.div = &metadata.Method{
		Name: "Fifth", Declaring: util, Static: true, Return: metadata.Int32,
		Params: []metadata.Param{{Name: "x", Type: metadata.Int32}},
	}
	player.Vtable = []*metadata.Method{fx.tick}

	fx.idx = metadata.NewBuilder(ptr).
		AddType(player).
		AddType(util).
		AddMethod(fx.tick).
		AddMethod(fx.heal).
		AddMethod(fx.set).
		AddMethod(fx.run).
		AddMethod(fx.div).
		AddGlobal(&metadata.Global{Kind: metadata.GlobalType, Addr: 0x9000, Type: player}).
		AddRuntime(0x500, metadata.RuntimeObjectNew).
		Freeze()
	return fx
}

func (fx *fixture) engine(t *testing.T, arch isa.Arch, mode Mode) *Engine {
	t.Helper()
	a, err := ForArch(arch)
	require.NoError(t, err)
	return New(a, fx.idx, Options{Mode: mode})
}

func op(mn string, ops ...isa.Operand) isa.Instruction {
	return isa.Instruction{Mnemonic: mn, Operands: ops}
}

// at lays instructions out four bytes apart from base.
func at(base uint64, ins ...isa.Instruction) []isa.Instruction {
	for i := range ins {
		ins[i].Addr = base + uint64(4*i)
		ins[i].Next = ins[i].Addr + 4
	}
	return ins
}

func reg32(name string) isa.Operand {
	o := isa.Reg(name)
	o.Size = 4
	return o
}

func lift(t *testing.T, e *Engine, m *metadata.Method, ins []isa.Instruction) *Result {
	t.Helper()
	return e.Analyze(context.Background(), &Function{Addr: ins[0].Addr, Method: m, Instructions: ins})
}

func TestRegisterAlias(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.heal, at(0x1000,
		op("mov", reg32("eax"), reg32("edx")),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, Full, res.Outcome)
	assert.Equal(t, "return amount;\n", res.Pseudocode())
}

func TestRegisterAliasChain(t *testing.T) {
	fx := newFixture(8)
	e := fx.engine(t, isa.X86_64, Strict)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64, Index: fx.idx, Method: fx.heal})
	e.arch.Convention().Seed(s)
	amount, ok := s.Get("rdx")
	require.True(t, ok)
	s.Set("rbx", amount)

	step := func(in isa.Instruction) {
		t.Helper()
		_, matched, err := e.step(s, in)
		require.NoError(t, err)
		require.True(t, matched, in.String())
	}
	get := func(reg string) analysis.Operand {
		t.Helper()
		v, ok := s.Get(reg)
		require.True(t, ok, reg)
		return v
	}

	ins := at(0x1000,
		op("mov", isa.Reg("rax"), isa.Reg("rbx")),
		op("mov", isa.Reg("rcx"), isa.Reg("rax")),
		op("mov", reg32("eax"), isa.Imm(7)),
	)
	step(ins[0])
	step(ins[1])
	assert.Same(t, amount, get("rbx"))
	assert.Same(t, amount, get("rax"))
	assert.Same(t, amount, get("rcx"))

	step(ins[2])
	assert.Same(t, amount, get("rbx"))
	assert.Same(t, amount, get("rcx"))
	_, isConst := get("rax").(*analysis.Constant)
	assert.True(t, isConst, "%T", get("rax"))
}

func TestFieldReadWrite(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.heal, at(0x1000,
		op("mov", reg32("eax"), isa.MemOp("rcx", 0x10)),
		op("mov", isa.MemOp("rcx", 0x10), reg32("edx")),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "System.Int32 local0 = this.health;\nthis.health = amount;\n\nreturn local0;\n", res.Pseudocode())
}

func TestRuleOrdering(t *testing.T) {
	fx := newFixture(8)
	e := fx.engine(t, isa.X86_64, BestEffort)
	s := analysis.NewState(analysis.Config{Arch: isa.X86_64, Index: fx.idx, Method: fx.heal})
	e.arch.Convention().Seed(s)
	s.Set("rax", analysis.Literal(metadata.Int32, 3))

	explain := func(in isa.Instruction) string {
		return e.arch.Rules().Explain(newFacts(e, s, in))
	}
	assert.Equal(t, "zero-register", explain(op("xor", reg32("eax"), reg32("eax"))))
	assert.Equal(t, "register-arithmetic", explain(op("xor", reg32("eax"), reg32("edx"))))
	assert.Equal(t, "field-read", explain(op("mov", reg32("eax"), isa.MemOp("rcx", 0x10))))
	assert.Equal(t, "class-pointer", explain(op("mov", isa.Reg("rax"), isa.MemOp("rcx", 0))))
	assert.Equal(t, "stack-read", explain(op("mov", reg32("eax"), isa.MemOp("rsp", 0x28))))
	assert.Equal(t, "stack-write", explain(op("mov", isa.MemOp("rsp", 0x28), isa.Imm(5))))
	assert.Equal(t, "stack-pointer-adjust", explain(op("sub", isa.Reg("rsp"), isa.Imm(0x28))))
	assert.Equal(t, "global-load", explain(op("mov", isa.Reg("rcx"), isa.Abs(0x9000))))
	assert.Equal(t, "call-managed", explain(op("call", isa.Imm(0x2000))))
	assert.Equal(t, "call-runtime", explain(op("call", isa.Imm(0x500))))
	assert.Empty(t, explain(op("cpuid")))
}

func TestDivisionIdiom(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.div, at(0x1000,
		op("mov", reg32("eax"), isa.Imm(0x66666667)),
		op("imul", reg32("ecx")),
		op("sar", reg32("edx"), isa.Imm(1)),
		op("mov", reg32("eax"), reg32("edx")),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "System.Int32 local0 = x / 5;\n\nreturn local0;\n", res.Pseudocode())
}

func TestDivisionNeedsAdjacentShift(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.div, at(0x1000,
		op("mov", reg32("eax"), isa.Imm(0x66666667)),
		op("imul", reg32("ecx")),
		op("mov", reg32("edx"), reg32("ecx")),
		op("sar", reg32("edx"), isa.Imm(1)),
		op("mov", reg32("eax"), reg32("edx")),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "System.Int32 local0 = x >> 1;\n\nreturn local0;\n", res.Pseudocode())
}

func TestMagicDivisor(t *testing.T) {
	assert.Equal(t, int64(3), magicDivisor(0x55555556, 0))
	assert.Equal(t, int64(5), magicDivisor(0x66666667, 1))
	assert.Equal(t, int64(7), magicDivisor(0x92492493, 2))
	assert.Equal(t, int64(0), magicDivisor(0, 3))
}

func TestIfElse(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.set, at(0x1000,
		op("cmp", reg32("edx"), isa.Imm(0)),
		op("jle", isa.Imm(0x1010)),
		op("mov", isa.MemOp("rcx", 0x10), reg32("edx")),
		op("jmp", isa.Imm(0x1014)),
		op("mov", isa.MemOp("rcx", 0x10), isa.Imm(0)),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "if (amount > 0) {\n" +
		"    this.health = amount;\n" +
		"} else {\n" +
		"    this.health = 0;\n" +
		"}\n" +
		"\n" +
		"return;\n"
	assert.Equal(t, want, res.Pseudocode())
}

func TestNestedIfClosesBeforeElse(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.set, at(0x1000,
		op("cmp", reg32("edx"), isa.Imm(0)),
		op("jle", isa.Imm(0x1018)),
		op("cmp", reg32("edx"), isa.Imm(5)),
		op("je", isa.Imm(0x1018)),
		op("mov", isa.MemOp("rcx", 0x10), reg32("edx")),
		op("jmp", isa.Imm(0x101c)),
		op("mov", isa.MemOp("rcx", 0x10), isa.Imm(0)),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "if (amount > 0) {\n" +
		"    if (amount != 5) {\n" +
		"        this.health = amount;\n" +
		"    }\n" +
		"} else {\n" +
		"    this.health = 0;\n" +
		"}\n" +
		"\n" +
		"return;\n"
	assert.Equal(t, want, res.Pseudocode())
}

func TestNestedLoopExit(t *testing.T) {
	fx := newFixture(8)
	e := fx.engine(t, isa.X86_64, Strict)
	body := func() []isa.Instruction {
		return at(0x1000,
			op("mov", reg32("eax"), isa.Imm(0)),
			op("mov", isa.MemOp("rcx", 0x10), reg32("eax")),
			op("cmp", reg32("edx"), isa.Imm(0)),
			op("je", isa.Imm(0x1020)),
			op("jmp", isa.Imm(0x1008)),
			op("jmp", isa.Imm(0x1004)),
			op("mov", isa.MemOp("rcx", 0x10), reg32("edx")),
			op("mov", isa.MemOp("rcx", 0x10), reg32("eax")),
			op("ret"),
		)
	}

	first := lift(t, e, fx.set, body())
	require.NoError(t, first.Err)
	for i := 0; i < 50; i++ {
		res := lift(t, e, fx.set, body())
		require.NoError(t, res.Err)
		require.Equal(t, first.Pseudocode(), res.Pseudocode(), "run %d", i)
	}

	// The exit belongs to the inner loop: its end is followed by the goto,
	// the outer end is not.
	var gotos []uint64
	for i, a := range first.Actions {
		end, ok := a.(*actions.LoopEndMarker)
		if !ok {
			continue
		}
		if i+1 < len(first.Actions) {
			if g, ok := first.Actions[i+1].(*actions.GotoMarker); ok {
				gotos = append(gotos, end.Head)
				assert.Equal(t, uint64(0x1020), g.Target)
			}
		}
	}
	assert.Equal(t, []uint64{0x1008}, gotos)
}

func TestLoopMarkers(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.set, at(0x1000,
		op("mov", reg32("eax"), isa.Imm(0)),
		op("mov", isa.MemOp("rcx", 0x10), reg32("eax")),
		op("add", reg32("eax"), isa.Imm(1)),
		op("cmp", reg32("eax"), reg32("edx")),
		op("jl", isa.Imm(0x1004)),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "System.Int32 local0 = 0;\n" +
		"\n" +
		"while (true) {\n" +
		"    this.health = local0;\n" +
		"    local0 += 1;\n" +
		"    if (local0 >= amount) break;\n" +
		"}\n" +
		"\n" +
		"return;\n"
	assert.Equal(t, want, res.Pseudocode())

	var start, end int
	for i, a := range res.Actions {
		switch a.(type) {
		case *actions.LoopStartMarker:
			start = i
		case *actions.LoopEndMarker:
			end = i
		}
	}
	require.Less(t, start, end)
	for _, a := range res.Actions[start+1 : end] {
		assert.Equal(t, 1, a.Indent(), "%T", a)
	}
}

func TestManagedCall(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.run, at(0x1000,
		op("mov", isa.Reg("rcx"), isa.Abs(0x9000)),
		op("call", isa.Imm(0x500)),
		op("mov", isa.Reg("rcx"), isa.Reg("rax")),
		op("mov", reg32("edx"), isa.Imm(5)),
		op("call", isa.Imm(0x2100)),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "Game.Player local0 = new Game.Player();\n" +
		"\n" +
		"System.Int32 local1 = local0.Heal(5);\n" +
		"\n" +
		"return;\n"
	assert.Equal(t, want, res.Pseudocode())

	var callees []string
	for _, a := range res.Actions {
		if c, ok := a.(analysis.Calling); ok {
			callees = append(callees, c.Callee())
		}
	}
	assert.Equal(t, []string{"object_new", "Game.Player::Heal"}, callees)
}

func TestVirtualCall(t *testing.T) {
	fx := newFixture(8)
	l := fx.idx.Layout()
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.tick, at(0x1000,
		op("mov", isa.Reg("rax"), isa.MemOp("rcx", 0)),
		op("call", isa.MemOp("rax", int64(l.VtableStart))),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "this.Tick();\n\nreturn;\n", res.Pseudocode())
}

func TestTailCall(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.tick, at(0x1000,
		op("jmp", isa.Imm(0x2000)),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "this.Tick();\nreturn;\n", res.Pseudocode())
	require.Len(t, res.Actions, 2)
	ret, ok := res.Actions[1].(*actions.Return)
	require.True(t, ok)
	assert.True(t, ret.Implicit)
}

func TestStrictAndBestEffort(t *testing.T) {
	fx := newFixture(8)
	ins := at(0x1000, op("cpuid"), op("ret"))

	res := lift(t, fx.engine(t, isa.X86_64, BestEffort), fx.tick, ins)
	assert.Equal(t, Partial, res.Outcome)
	assert.NoError(t, res.Err)
	require.Len(t, res.Unrecognized, 1)
	assert.Equal(t, uint64(0x1000), res.Unrecognized[0].Addr)

	res = lift(t, fx.engine(t, isa.X86_64, Strict), fx.tick, ins)
	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrUnrecognized)
	var ae *AnalysisError
	require.True(t, errors.As(res.Err, &ae))
	assert.Equal(t, uint64(0x1000), ae.Addr)
}

func TestSelfReferenceAborts(t *testing.T) {
	loop := &metadata.Type{Name: "Loop", Namespace: "Game", Kind: metadata.KindStruct}
	loop.Fields = []*metadata.Field{{Name: "self", Type: loop, Offset: 0, Declaring: loop}}
	m := &metadata.Method{Name: "Get", Declaring: loop, Return: metadata.Void}
	idx := metadata.NewBuilder(8).AddType(loop).AddMethod(m).Freeze()
	a, err := ForArch(isa.X86_64)
	require.NoError(t, err)

	res := New(a, idx, Options{}).Analyze(context.Background(), &Function{
		Method:       m,
		Instructions: at(0x1000, op("mov", reg32("eax"), isa.MemOp("rcx", 0)), op("ret")),
	})
	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, fields.ErrSelfReference)
	var ae *AnalysisError
	require.True(t, errors.As(res.Err, &ae))
	assert.Equal(t, "field-read", ae.Rule)
}

type sliceSource []isa.Instruction

func (s sliceSource) DecodeFrom(from, until uint64) ([]isa.Instruction, error) {
	var out []isa.Instruction
	for _, in := range s {
		if in.Addr >= from {
			out = append(out, in)
		}
	}
	return out, nil
}

func TestExpansion(t *testing.T) {
	fx := newFixture(8)
	all := at(0x1000,
		op("cmp", reg32("edx"), isa.Imm(0)),
		op("je", isa.Imm(0x100c)),
		op("mov", isa.MemOp("rcx", 0x10), reg32("edx")),
		op("ret"),
	)
	e := fx.engine(t, isa.X86_64, Strict)

	head := func() []isa.Instruction { return append([]isa.Instruction(nil), all[:2]...) }

	res := e.Analyze(context.Background(), &Function{Method: fx.set, Instructions: head(), Source: sliceSource(all)})
	require.NoError(t, res.Err)
	assert.Len(t, res.Instructions, 4)
	assert.Equal(t, "if (amount != 0) {\n    this.health = amount;\n}\n\nreturn;\n", res.Pseudocode())

	res = e.Analyze(context.Background(), &Function{Method: fx.set, Instructions: head()})
	require.NoError(t, res.Err)
	assert.Len(t, res.Instructions, 2)
	assert.Equal(t, "if (amount == 0) goto label_100c;\n", res.Pseudocode())
}

func TestAnalyzeEdges(t *testing.T) {
	fx := newFixture(8)
	e := fx.engine(t, isa.X86_64, BestEffort)

	res := e.Analyze(context.Background(), &Function{Addr: 0x1000})
	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrEmpty)
	assert.Equal(t, "sub_1000", res.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = e.Analyze(ctx, &Function{Method: fx.tick, Instructions: at(0x1000, op("ret"))})
	assert.Equal(t, Aborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "Game.Player::Tick", res.Name)
}

func TestStackSlotsAcrossPrologue(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.X86_64, Strict), fx.heal, at(0x1000,
		op("push", isa.Reg("rbx")),
		op("sub", isa.Reg("rsp"), isa.Imm(0x20)),
		op("mov", isa.MemOp("rsp", 0x8), reg32("edx")),
		op("add", isa.Reg("rsp"), isa.Imm(0x10)),
		op("mov", reg32("eax"), isa.MemOp("rsp", -0x8)),
		op("add", isa.Reg("rsp"), isa.Imm(0x10)),
		op("pop", isa.Reg("rbx")),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "return amount;\n", res.Pseudocode())
}

func TestARM64Frame(t *testing.T) {
	fx := newFixture(8)
	pre := isa.MemOp("sp", -16)
	pre.Mem.PreIndex = true
	post := isa.MemOp("sp", 16)
	post.Mem.PostIndex = true

	res := lift(t, fx.engine(t, isa.ARM64, Strict), fx.heal, at(0x1000,
		op("stp", isa.Reg("x29"), isa.Reg("x30"), pre),
		op("mov", isa.Reg("x29"), isa.Reg("sp")),
		op("ldr", reg32("w8"), isa.MemOp("x0", 0x10)),
		op("add", reg32("w8"), reg32("w8"), reg32("w1")),
		op("str", reg32("w8"), isa.MemOp("x0", 0x10)),
		op("mov", reg32("w0"), reg32("w8")),
		op("ldp", isa.Reg("x29"), isa.Reg("x30"), post),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "System.Int32 local0 = this.health;\n" +
		"System.Int32 local1 = local0 + amount;\n" +
		"this.health = local1;\n" +
		"\n" +
		"return local1;\n"
	assert.Equal(t, want, res.Pseudocode())
}

func TestARM64PageLoad(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.ARM64, Strict), fx.run, at(0x1000,
		op("adrp", isa.Reg("x0"), isa.Imm(0x9000)),
		op("ldr", isa.Reg("x0"), isa.MemOp("x0", 0)),
		op("bl", isa.Imm(0x500)),
		op("ret"),
	))
	require.NoError(t, res.Err)
	assert.Equal(t, "Game.Player local0 = new Game.Player();\n\nreturn;\n", res.Pseudocode())
}

func TestARM64TestBitBranch(t *testing.T) {
	fx := newFixture(8)
	res := lift(t, fx.engine(t, isa.ARM64, Strict), fx.set, at(0x1000,
		op("tbz", reg32("w1"), isa.Imm(3), isa.Imm(0x100c)),
		op("str", isa.Reg("wzr"), isa.MemOp("x0", 0x10)),
		op("b", isa.Imm(0x100c)),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "if ((amount & 8) != 0) {\n" +
		"    this.health = 0;\n" +
		"    goto label_100c;\n" +
		"}\n" +
		"\n" +
		"label_100c:\n" +
		"\n" +
		"return;\n"
	assert.Equal(t, want, res.Pseudocode())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("strict")
	require.NoError(t, err)
	assert.Equal(t, Strict, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, m)
	_, err = ParseMode("yolo")
	assert.Error(t, err)
}

func TestARMv7Frame(t *testing.T) {
	fx := newFixture(4)
	e := fx.engine(t, isa.ARMv7, Strict)
	assert.Equal(t, "r0", e.arch.ReturnRegister())
	assert.Equal(t, []string{"r0", "r1", "r2", "r3"}, e.arch.ArgumentRegisters())

	res := lift(t, e, fx.heal, at(0x1000,
		op("push", isa.Imm(8)),
		op("ldr", reg32("r2"), isa.MemOp("r0", 0x10)),
		op("add", reg32("r2"), reg32("r2"), reg32("r1")),
		op("str", reg32("r2"), isa.MemOp("r0", 0x10)),
		op("mov", reg32("r0"), reg32("r2")),
		op("ret"),
	))
	require.NoError(t, res.Err)
	want := "System.Int32 local0 = this.health;\n" +
		"System.Int32 local1 = local0 + amount;\n" +
		"this.health = local1;\n" +
		"\n" +
		"return local1;\n"
	assert.Equal(t, want, res.Pseudocode())
}

func TestARMv7ConstantPair(t *testing.T) {
	fx := newFixture(4)
	e := fx.engine(t, isa.ARMv7, Strict)
	s := analysis.NewState(analysis.Config{Arch: isa.ARMv7, Index: fx.idx, Method: fx.run})
	e.arch.Convention().Seed(s)

	for _, in := range at(0x1000,
		op("movw", reg32("r3"), isa.Imm(0x5678)),
		op("movk", reg32("r3"), isa.Imm(0x1234), isa.Imm(16)),
	) {
		_, matched, err := e.step(s, in)
		require.NoError(t, err)
		require.True(t, matched, in.Mnemonic)
	}
	v, ok := s.Get("r3")
	require.True(t, ok)
	c, ok := v.(*analysis.Constant)
	require.True(t, ok, "%T", v)
	n, _ := literalInt(c)
	assert.Equal(t, int64(0x12345678), n)
}

func TestForArchUnsupported(t *testing.T) {
	_, err := ForArch(isa.ArchUnknown)
	assert.Error(t, err)
}
