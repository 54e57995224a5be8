// Package analysis holds the per-function abstract machine the lifter
// mutates while walking instructions: the operand model, the AnalysisState
// and the Action contract.
package analysis

import (
	"fmt"
	"math"
	"strconv"

	"aotlift/internal/metadata"
)

// Operand is what is currently known to be in a register, stack slot or
// stack entry. The set of implementations is closed: *Constant, *Local,
// StackPointer and Unresolved.
type Operand interface {
	fmt.Stringer
	operand()
}

// Provenance records where a Constant came from.
type Provenance int

const (
	ProvLiteral Provenance = iota
	ProvTypeToken
	ProvMethodToken
	ProvFieldToken
	ProvStringLiteral
	ProvUnmanagedLiteral
	ProvFieldOffset
	ProvClassPointer
	ProvStaticFields
	ProvVtablePointer
	ProvICallPointer
	ProvMethodSpec
	ProvUnknownGlobal
)

var provNames = map[Provenance]string{
	ProvLiteral:          "literal",
	ProvTypeToken:        "type_token",
	ProvMethodToken:      "method_token",
	ProvFieldToken:       "field_token",
	ProvStringLiteral:    "string_literal",
	ProvUnmanagedLiteral: "unmanaged_literal",
	ProvFieldOffset:      "field_offset",
	ProvClassPointer:     "class_pointer",
	ProvStaticFields:     "static_fields",
	ProvVtablePointer:    "vtable_pointer",
	ProvICallPointer:     "icall",
	ProvMethodSpec:       "method_spec",
	ProvUnknownGlobal:    "unknown_global",
}

func (p Provenance) String() string {
	if s, ok := provNames[p]; ok {
		return s
	}
	return "provenance(" + strconv.Itoa(int(p)) + ")"
}

// Constant is a compile-time-known value. Value holds int64/float64 for
// literals, *metadata.Type for type tokens, class and static-field pointers,
// *metadata.Method for method tokens and specs, *metadata.Field for field
// tokens, string for literals and icall names, and uint64 for unknown
// globals and offset intermediates.
type Constant struct {
	Type       *metadata.Type
	Value      any
	Provenance Provenance

	// MaybeNotConstant is the best-effort heuristic flag: the immediate was
	// moved into a register that later takes part in arithmetic, so it may
	// be a loop counter seed rather than a constant argument.
	MaybeNotConstant bool
}

func (*Constant) operand() {}

// Literal builds an integer literal constant of type t.
func Literal(t *metadata.Type, v int64) *Constant {
	return &Constant{Type: t, Value: v, Provenance: ProvLiteral}
}

// Int returns the integer value of a literal or offset constant.
func (c *Constant) Int() (int64, bool) {
	switch v := c.Value.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// IsZero reports whether c is a literal zero (also used for null).
func (c *Constant) IsZero() bool {
	if c.Provenance != ProvLiteral {
		return false
	}
	switch v := c.Value.(type) {
	case int64:
		return v == 0
	case float64:
		return v == 0
	case nil:
		return true
	}
	return false
}

func (c *Constant) String() string {
	switch v := c.Value.(type) {
	case string:
		return strconv.Quote(v)
	case int64:
		if c.Type == metadata.Boolean {
			return strconv.FormatBool(v != 0)
		}
		if v > 0xffff || v < -0xffff {
			return fmt.Sprintf("0x%x", v)
		}
		return strconv.FormatInt(v, 10)
	case float64:
		if c.Type == metadata.Single {
			return strconv.FormatFloat(v, 'g', -1, 32) + "f"
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case *metadata.Type:
		switch c.Provenance {
		case ProvClassPointer:
			return v.FullName() + ".klass"
		case ProvStaticFields:
			return v.FullName() + ".statics"
		}
		return "typeof(" + v.FullName() + ")"
	case *metadata.Method:
		return v.String()
	case *metadata.Field:
		return v.String()
	case uint64:
		if c.Provenance == ProvUnknownGlobal {
			return fmt.Sprintf("global_%x", v)
		}
		return fmt.Sprintf("0x%x", v)
	case nil:
		return "null"
	}
	return fmt.Sprint(c.Value)
}

// Float returns a float interpretation of an integer bit pattern loaded into
// a vector register.
func (c *Constant) Float(single bool) (float64, bool) {
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case int64:
		if single {
			return float64(math.Float32frombits(uint32(v))), true
		}
		return math.Float64frombits(uint64(v)), true
	}
	return 0, false
}

// StorageHint says where a Local was first observed.
type StorageHint int

const (
	StorageRegister StorageHint = iota
	StorageStack
	StorageParameter
	StorageSynthesized
)

// Local is a recognized managed value. Type may be nil when only the
// existence of the value is known.
type Local struct {
	Name          string
	Type          *metadata.Type
	IsParameter   bool
	KnownValue    any
	HasKnownValue bool
	Storage       StorageHint
}

func (*Local) operand() {}

func (l *Local) String() string { return l.Name }

// IsNull reports whether the local is known to hold null.
func (l *Local) IsNull() bool { return l.HasKnownValue && l.KnownValue == nil }

// StackPointer is a symbolic pointer into the current stack frame.
type StackPointer struct {
	Offset int64
}

func (StackPointer) operand() {}

func (s StackPointer) String() string {
	if s.Offset < 0 {
		return fmt.Sprintf("&stack[-0x%x]", -s.Offset)
	}
	return fmt.Sprintf("&stack[0x%x]", s.Offset)
}

// Unresolved marks a definite write that could not be classified. It is
// stronger evidence than an absent binding.
type Unresolved struct {
	At uint64 // address of the write
}

func (Unresolved) operand() {}

func (u Unresolved) String() string { return fmt.Sprintf("unknown@0x%x", u.At) }

// TypeOf returns the managed type carried by op, or nil.
func TypeOf(op Operand) *metadata.Type {
	switch v := op.(type) {
	case *Local:
		return v.Type
	case *Constant:
		return v.Type
	}
	return nil
}

// IsNullish reports whether op is known to be null: a zero literal or a
// local with a null known value.
func IsNullish(op Operand) bool {
	switch v := op.(type) {
	case *Constant:
		return v.IsZero()
	case *Local:
		return v.IsNull()
	}
	return false
}
