// Package callconv reconstructs the actual-argument list of a call from the
// current analysis state under the calling convention of the binary.
package callconv

import (
	"errors"
	"fmt"
	"strings"

	"aotlift/internal/analysis"
	"aotlift/internal/isa"
	"aotlift/internal/metadata"
)

// ErrMismatch is wrapped by every MismatchError.
var ErrMismatch = errors.New("callconv: signature does not fit call site")

// MismatchError explains why a candidate method does not fit the state.
// It is a routine outcome of overload search, not an analysis failure.
type MismatchError struct {
	Method *metadata.Method
	Param  int // -1 for the receiver or the call as a whole
	Reason string
}

func (e *MismatchError) Error() string {
	if e.Param < 0 {
		return fmt.Sprintf("callconv: %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("callconv: %s: parameter %d: %s", e.Method, e.Param, e.Reason)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

func mismatch(m *metadata.Method, param int, format string, args ...any) *MismatchError {
	return &MismatchError{Method: m, Param: param, Reason: fmt.Sprintf(format, args...)}
}

// Binding is a successful argument reconstruction.
type Binding struct {
	Method *metadata.Method
	// Args holds the receiver first for instance calls.
	Args []analysis.Operand
	// Synthesized actions and locals are produced by struct reconstruction
	// and only enter the state through Commit.
	Synthesized []analysis.Action
	Locals      []*analysis.Local
	// Inferred maps generic parameter names resolved from argument types.
	Inferred map[string]*metadata.Type
	// Popped is the number of explicit stack entries consumed.
	Popped int
}

// Commit registers the synthesized locals and appends the synthesized
// actions to the state.
func (b *Binding) Commit(s *analysis.State) {
	for _, l := range b.Locals {
		s.RegisterLocal(l)
	}
	for _, a := range b.Synthesized {
		s.Add(a)
	}
	s.CallPopped = b.Popped
}

// ReturnType returns the method's return type with generic parameters
// resolved through the declaring type and the inferred map.
func (b *Binding) ReturnType() *metadata.Type {
	return b.resolve(b.Method.Return)
}

func (b *Binding) resolve(t *metadata.Type) *metadata.Type {
	t = metadata.Substitute(t, b.Method.Declaring)
	if t.IsGenericParameter() {
		if c, ok := b.Inferred[t.Name]; ok {
			return c
		}
	}
	return t
}

// Convention is one calling-convention strategy. Exactly one is active per
// binary.
type Convention interface {
	Name() string
	// Bind reconstructs the arguments of a call to m. Failures are
	// *MismatchError and leave the state unchanged.
	Bind(m *metadata.Method, s *analysis.State, instance bool) (*Binding, error)
	// Seed binds the incoming parameters of the function being analyzed
	// to their entry registers and stack slots.
	Seed(s *analysis.State)
	// ArgumentRegisters lists the registers a call may read.
	ArgumentRegisters() []string
}

// ForArch selects the convention for arch.
func ForArch(arch isa.Arch) (Convention, error) {
	switch arch {
	case isa.X86_64:
		return Win64{}, nil
	case isa.X86_32:
		return Stack32{}, nil
	case isa.ARM64:
		return NewARM(isa.ARM64), nil
	case isa.ARMv7:
		return NewARM(isa.ARMv7), nil
	}
	return nil, fmt.Errorf("callconv: no convention for %s", arch)
}

// Compatible reports whether op may be passed where expected is declared.
// Locals and constants of unknown type are accepted; an Unresolved value is
// not, and a stack address only fits pointer-shaped or by-reference struct
// parameters. Generic parameters that are still unresolved are matched by
// name against other generic parameters; binding to a concrete type is the
// caller's inference step.
func Compatible(op analysis.Operand, expected *metadata.Type) bool {
	if expected == nil {
		return true
	}
	switch op.(type) {
	case analysis.Unresolved:
		return false
	case analysis.StackPointer:
		return expected.Kind == metadata.KindPointer || expected.Kind == metadata.KindStruct ||
			expected == metadata.IntPtr || expected == metadata.UIntPtr
	}
	if c, ok := op.(*analysis.Constant); ok {
		switch c.Provenance {
		case analysis.ProvUnmanagedLiteral:
			return expected == metadata.String || expected == metadata.Object
		case analysis.ProvTypeToken, analysis.ProvMethodToken, analysis.ProvFieldToken,
			analysis.ProvMethodSpec, analysis.ProvClassPointer, analysis.ProvStaticFields,
			analysis.ProvVtablePointer, analysis.ProvICallPointer, analysis.ProvUnknownGlobal:
			return expected == metadata.IntPtr || expected == metadata.UIntPtr || expected == metadata.Object
		}
	}
	if analysis.IsNullish(op) && expected.IsReference() {
		return true
	}
	actual := analysis.TypeOf(op)
	if actual == nil {
		return true
	}
	if actual == expected {
		return true
	}
	switch {
	case expected.IsGenericParameter():
		return !actual.IsGenericParameter() || actual.Name == expected.Name
	case actual.IsPrimitive() && expected.IsPrimitive():
		return true
	case actual.IsPrimitive() && expected.IsEnum():
		return actual == enumUnderlying(expected)
	case actual.IsArray() && isEnumerable(expected):
		return true
	}
	if actual.IsReference() && expected.IsReference() {
		return actual.IsSubclassOf(expected) || actual.Implements(expected) || expected == metadata.Object
	}
	if actual.IsValueType() && expected.IsValueType() {
		return sameDefinition(actual, expected)
	}
	return false
}

// enumUnderlying returns the primitive an enum is stored as; Int32 when
// the metadata does not say.
func enumUnderlying(t *metadata.Type) *metadata.Type {
	if t.EnumUnderlying != nil {
		return t.EnumUnderlying
	}
	return metadata.Int32
}

func isEnumerable(t *metadata.Type) bool {
	if t == metadata.IEnumerable {
		return true
	}
	def := t
	if t.Definition != nil {
		def = t.Definition
	}
	return def.Kind == metadata.KindInterface && strings.HasPrefix(def.Name, "IEnumerable")
}

func sameDefinition(a, b *metadata.Type) bool {
	da, db := a, b
	if a.Definition != nil {
		da = a.Definition
	}
	if b.Definition != nil {
		db = b.Definition
	}
	return da == db
}

// binder accumulates one Bind attempt.
type binder struct {
	m        *metadata.Method
	b        *Binding
	consumed map[string]bool
}

func newBinder(m *metadata.Method) *binder {
	return &binder{
		m:        m,
		b:        &Binding{Method: m, Inferred: make(map[string]*metadata.Type)},
		consumed: make(map[string]bool),
	}
}

// paramTypes returns the declared parameter types with the receiver first
// and generic parameters substituted through the declaring type.
func paramTypes(m *metadata.Method, instance bool) []*metadata.Type {
	var out []*metadata.Type
	if instance {
		out = append(out, m.Declaring)
	}
	for _, p := range m.Params {
		out = append(out, metadata.Substitute(p.Type, m.Declaring))
	}
	return out
}

// accept type-checks op against expected and records generic inference.
func (bd *binder) accept(i int, op analysis.Operand, expected *metadata.Type) error {
	if expected.IsGenericParameter() {
		if prev, ok := bd.b.Inferred[expected.Name]; ok {
			expected = prev
		}
	}
	if !Compatible(op, expected) {
		return mismatch(bd.m, i, "%s (%s) is not a %s", op, typeLabel(op), expected.FullName())
	}
	if expected.IsGenericParameter() {
		if t := analysis.TypeOf(op); t != nil && !t.IsGenericParameter() {
			bd.b.Inferred[expected.Name] = t
		}
	}
	bd.b.Args = append(bd.b.Args, op)
	return nil
}

func typeLabel(op analysis.Operand) string {
	if t := analysis.TypeOf(op); t != nil {
		return t.FullName()
	}
	return "untyped"
}

// fromRegister binds parameter i from reg.
func (bd *binder) fromRegister(s *analysis.State, i int, reg string, expected *metadata.Type) error {
	op, ok := s.Get(reg)
	if !ok {
		return mismatch(bd.m, i, "nothing in %s", reg)
	}
	bd.consumed[reg] = true
	return bd.accept(i, op, expected)
}

// paramIndex converts a position in paramTypes to the MismatchError index.
func paramIndex(pos int, instance bool) int {
	if instance {
		return pos - 1
	}
	return pos
}
