// Package metadata is the managed type model the lifter queries: types,
// fields, methods, and the read-only address index built from a metadata
// dump. Nothing in this package knows about machine instructions.
package metadata

import (
	"fmt"
	"strings"
)

// Kind classifies a managed type.
type Kind int

const (
	KindClass Kind = iota
	KindStruct
	KindEnum
	KindInterface
	KindPrimitive
	KindArray
	KindGenericParam
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindInterface:
		return "interface"
	case KindPrimitive:
		return "primitive"
	case KindArray:
		return "array"
	case KindGenericParam:
		return "generic_param"
	case KindPointer:
		return "pointer"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Type is a managed type definition or instantiation.
type Type struct {
	Name      string
	Namespace string
	Kind      Kind

	Base       *Type
	Interfaces []*Type
	Fields     []*Field
	Methods    []*Method
	Vtable     []*Method

	// Generic definitions carry GenericParams; instantiations carry
	// Definition and GenericArgs and no Fields of their own.
	GenericParams []string
	Definition    *Type
	GenericArgs   []*Type

	ElementType    *Type // arrays and pointers
	EnumUnderlying *Type

	primSize int // primitives only
}

// Field is a field of a managed type.
type Field struct {
	Name      string
	Type      *Type
	Offset    int
	Static    bool
	Const     bool
	Declaring *Type
}

func (f *Field) String() string {
	if f == nil {
		return "<nil field>"
	}
	if f.Declaring != nil {
		return f.Declaring.Name + "." + f.Name
	}
	return f.Name
}

// Param is one declared method parameter.
type Param struct {
	Name string
	Type *Type
}

// Method is a managed method. Address is the native entry point (0 when the
// method has no compiled body, e.g. abstract or interface methods).
type Method struct {
	Name        string
	Declaring   *Type
	Params      []Param
	Return      *Type
	Static      bool
	Address     uint64
	Slot        int // vtable slot, -1 when not virtual
	GenericArgs []*Type
}

// QualifiedName is "Type::Name" with generic arguments but without the
// parameter list. Call graph nodes and function names use it.
func (m *Method) QualifiedName() string {
	if m == nil {
		return "<nil method>"
	}
	var b strings.Builder
	if m.Declaring != nil {
		b.WriteString(m.Declaring.FullName())
		b.WriteString("::")
	}
	b.WriteString(m.Name)
	if len(m.GenericArgs) > 0 {
		b.WriteString("<")
		for i, a := range m.GenericArgs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.FullName())
		}
		b.WriteString(">")
	}
	return b.String()
}

func (m *Method) String() string {
	if m == nil {
		return "<nil method>"
	}
	var b strings.Builder
	b.WriteString(m.QualifiedName())
	b.WriteString("(")
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type.FullName())
	}
	b.WriteString(")")
	return b.String()
}

// ReturnsValue reports whether the method has a non-void return type.
func (m *Method) ReturnsValue() bool {
	return m.Return != nil && m.Return != Void
}

// FullName returns Namespace.Name with generic arguments.
func (t *Type) FullName() string {
	if t == nil {
		return "?"
	}
	if t.Kind == KindArray && t.ElementType != nil {
		return t.ElementType.FullName() + "[]"
	}
	if t.Kind == KindPointer && t.ElementType != nil {
		return t.ElementType.FullName() + "*"
	}
	name := t.Name
	if t.Namespace != "" {
		name = t.Namespace + "." + name
	}
	if len(t.GenericArgs) > 0 {
		args := make([]string, len(t.GenericArgs))
		for i, a := range t.GenericArgs {
			args[i] = a.FullName()
		}
		name += "<" + strings.Join(args, ",") + ">"
	}
	return name
}

func (t *Type) String() string { return t.FullName() }

// IsValueType reports whether values of t are stored inline.
func (t *Type) IsValueType() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindStruct, KindEnum, KindPrimitive:
		return true
	}
	if t.Definition != nil {
		return t.Definition.IsValueType()
	}
	return false
}

// IsPrimitive reports whether t is a built-in numeric/bool/char type.
func (t *Type) IsPrimitive() bool { return t != nil && t.Kind == KindPrimitive }

// IsEnum reports whether t is an enum.
func (t *Type) IsEnum() bool { return t != nil && t.Kind == KindEnum }

// IsReference reports whether t is a reference type (including unresolved
// generic parameters, which are treated as object-shaped).
func (t *Type) IsReference() bool {
	return t != nil && !t.IsValueType() && t.Kind != KindPointer
}

// IsGenericParameter reports whether t is an unresolved generic parameter.
func (t *Type) IsGenericParameter() bool { return t != nil && t.Kind == KindGenericParam }

// IsArray reports whether t is a single-dimensional array.
func (t *Type) IsArray() bool { return t != nil && t.Kind == KindArray }

// IsFloatingPoint reports whether t is float or double.
func (t *Type) IsFloatingPoint() bool { return t == Single || t == Double }

// IsFloatingPointShaped reports whether a value of t travels in a vector
// register: float, double, or a struct wrapping exactly one such field.
func (t *Type) IsFloatingPointShaped() bool {
	if t.IsFloatingPoint() {
		return true
	}
	if t == nil || t.Kind != KindStruct {
		return false
	}
	inst := t.InstanceFields()
	return len(inst) == 1 && inst[0].Type != t && inst[0].Type.IsFloatingPointShaped()
}

// InstanceFields returns the non-static, non-const fields declared on t
// itself (not its bases), in declaration order. Instantiations return the
// definition's fields with generic parameters substituted.
func (t *Type) InstanceFields() []*Field {
	if t == nil {
		return nil
	}
	src := t
	if t.Definition != nil {
		src = t.Definition
	}
	var out []*Field
	for _, f := range src.Fields {
		if f.Static || f.Const {
			continue
		}
		if t.Definition != nil {
			f = &Field{Name: f.Name, Type: Substitute(f.Type, t), Offset: f.Offset, Declaring: t}
		}
		out = append(out, f)
	}
	return out
}

// IsSubclassOf reports whether t is base or derives from it.
func (t *Type) IsSubclassOf(base *Type) bool {
	for c := t; c != nil; c = c.Base {
		if c == base {
			return true
		}
		if c.Definition != nil && c.Definition == base {
			return true
		}
	}
	return false
}

// Implements reports whether t (or a base) lists iface as an interface.
func (t *Type) Implements(iface *Type) bool {
	for c := t; c != nil; c = c.Base {
		for _, i := range c.Interfaces {
			if i == iface || (i.Definition != nil && i.Definition == iface) ||
				(iface.Definition != nil && i == iface.Definition) {
				return true
			}
		}
	}
	return false
}

// Size returns the inline storage size of a value of t. Reference types
// occupy one pointer.
func (t *Type) Size(ptrSize int) int {
	return t.size(ptrSize, map[*Type]bool{})
}

func (t *Type) size(ptrSize int, seen map[*Type]bool) int {
	if t == nil {
		return ptrSize
	}
	switch t.Kind {
	case KindPrimitive:
		if t.primSize == 0 {
			return ptrSize
		}
		return t.primSize
	case KindEnum:
		if t.EnumUnderlying != nil {
			return t.EnumUnderlying.size(ptrSize, seen)
		}
		return 4
	case KindStruct:
		if seen[t] {
			return 0
		}
		seen[t] = true
		total := 0
		for _, f := range t.InstanceFields() {
			total += f.Type.size(ptrSize, seen)
		}
		delete(seen, t)
		return total
	}
	if t.Definition != nil && t.Definition.Kind == KindStruct {
		if seen[t] {
			return 0
		}
		seen[t] = true
		total := 0
		for _, f := range t.InstanceFields() {
			total += f.Type.size(ptrSize, seen)
		}
		delete(seen, t)
		return total
	}
	return ptrSize
}

// Substitute replaces generic parameters in t using the arguments of ctx, an
// instantiated type. Unresolvable parameters are returned unchanged.
func Substitute(t, ctx *Type) *Type {
	if t == nil || ctx == nil {
		return t
	}
	switch {
	case t.Kind == KindGenericParam:
		def := ctx.Definition
		if def == nil {
			return t
		}
		for i, p := range def.GenericParams {
			if p == t.Name && i < len(ctx.GenericArgs) {
				return ctx.GenericArgs[i]
			}
		}
		return t
	case t.Kind == KindArray && t.ElementType != nil:
		el := Substitute(t.ElementType, ctx)
		if el == t.ElementType {
			return t
		}
		return ArrayOf(el)
	case len(t.GenericArgs) > 0:
		changed := false
		args := make([]*Type, len(t.GenericArgs))
		for i, a := range t.GenericArgs {
			args[i] = Substitute(a, ctx)
			changed = changed || args[i] != a
		}
		if !changed {
			return t
		}
		return Instantiate(t.Definition, args...)
	}
	return t
}

// Instantiate builds a generic instantiation of def.
func Instantiate(def *Type, args ...*Type) *Type {
	return &Type{
		Name:        def.Name,
		Namespace:   def.Namespace,
		Kind:        def.Kind,
		Base:        def.Base,
		Interfaces:  def.Interfaces,
		Definition:  def,
		GenericArgs: args,
		Vtable:      def.Vtable,
	}
}

// GenericParam builds an unresolved generic parameter type named name.
func GenericParam(name string) *Type {
	return &Type{Name: name, Kind: KindGenericParam}
}

var arrayCache = map[*Type]*Type{}

// ArrayOf returns the single-dimensional array type of el. Builtin element
// types share one instance; other element types allocate a new one.
func ArrayOf(el *Type) *Type {
	if a, ok := arrayCache[el]; ok {
		return a
	}
	return &Type{Name: el.Name + "[]", Namespace: el.Namespace, Kind: KindArray, ElementType: el, Base: Array}
}

func primitive(name string, size int) *Type {
	return &Type{Name: name, Namespace: "System", Kind: KindPrimitive, primSize: size}
}

// Builtin types.
var (
	Object      = &Type{Name: "Object", Namespace: "System", Kind: KindClass}
	ValueType   = &Type{Name: "ValueType", Namespace: "System", Kind: KindClass, Base: Object}
	EnumBase    = &Type{Name: "Enum", Namespace: "System", Kind: KindClass, Base: ValueType}
	String      = &Type{Name: "String", Namespace: "System", Kind: KindClass, Base: Object}
	Array       = &Type{Name: "Array", Namespace: "System", Kind: KindClass, Base: Object}
	IEnumerable = &Type{Name: "IEnumerable", Namespace: "System.Collections", Kind: KindInterface}
	Exception   = &Type{Name: "Exception", Namespace: "System", Kind: KindClass, Base: Object}
	Void        = &Type{Name: "Void", Namespace: "System", Kind: KindStruct}

	Boolean = primitive("Boolean", 1)
	Char    = primitive("Char", 2)
	SByte   = primitive("SByte", 1)
	Byte    = primitive("Byte", 1)
	Int16   = primitive("Int16", 2)
	UInt16  = primitive("UInt16", 2)
	Int32   = primitive("Int32", 4)
	UInt32  = primitive("UInt32", 4)
	Int64   = primitive("Int64", 8)
	UInt64  = primitive("UInt64", 8)
	IntPtr  = primitive("IntPtr", 0)
	UIntPtr = primitive("UIntPtr", 0)
	Single  = primitive("Single", 4)
	Double  = primitive("Double", 8)
)

// Builtins lists every builtin type, keyed by full name in the index.
var Builtins = []*Type{
	Object, ValueType, EnumBase, String, Array, IEnumerable, Exception, Void,
	Boolean, Char, SByte, Byte, Int16, UInt16, Int32, UInt32, Int64, UInt64,
	IntPtr, UIntPtr, Single, Double,
}

func init() {
	Array.Interfaces = []*Type{IEnumerable}
	String.Interfaces = []*Type{IEnumerable}
	for _, b := range []*Type{Boolean, Char, SByte, Byte, Int16, UInt16, Int32, UInt32, Int64, UInt64, IntPtr, UIntPtr, Single, Double, String, Object} {
		arrayCache[b] = &Type{Name: b.Name + "[]", Namespace: b.Namespace, Kind: KindArray, ElementType: b, Base: Array}
	}
}

// IsIntegral reports whether t is an integer primitive (including char and
// bool, which the native code treats as integers).
func (t *Type) IsIntegral() bool {
	return t.IsPrimitive() && !t.IsFloatingPoint()
}
