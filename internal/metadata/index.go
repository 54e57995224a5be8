package metadata

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrFrozen   = errors.New("metadata: index is frozen")
	ErrNoMemory = errors.New("metadata: no memory reader attached")
)

// GlobalKind classifies a metadata usage slot.
type GlobalKind int

const (
	GlobalType GlobalKind = iota
	GlobalMethod
	GlobalField
	GlobalString
	GlobalMethodSpec
)

func (k GlobalKind) String() string {
	switch k {
	case GlobalType:
		return "type"
	case GlobalMethod:
		return "method"
	case GlobalField:
		return "field"
	case GlobalString:
		return "string"
	case GlobalMethodSpec:
		return "method_spec"
	}
	return "unknown"
}

// Global is a binary-embedded metadata reference keyed by address.
type Global struct {
	Kind   GlobalKind
	Addr   uint64
	Type   *Type
	Method *Method
	Field  *Field
	String string
}

// RuntimeFunction names a well-known runtime entry point.
type RuntimeFunction int

const (
	RuntimeNone RuntimeFunction = iota
	RuntimeObjectNew
	RuntimeArrayNew
	RuntimeBox
	RuntimeUnbox
	RuntimeIsInst
	RuntimeCastClass
	RuntimeRaise
	RuntimeThrow
	RuntimeResolveICall
	RuntimeStringNew
	RuntimeClassInit
	RuntimeMethodInit
)

var runtimeNames = map[RuntimeFunction]string{
	RuntimeObjectNew:    "object_new",
	RuntimeArrayNew:     "array_new",
	RuntimeBox:          "value_box",
	RuntimeUnbox:        "value_unbox",
	RuntimeIsInst:       "isinst",
	RuntimeCastClass:    "castclass",
	RuntimeRaise:        "raise_exception",
	RuntimeThrow:        "throw",
	RuntimeResolveICall: "resolve_icall",
	RuntimeStringNew:    "string_new",
	RuntimeClassInit:    "runtime_class_init",
	RuntimeMethodInit:   "initialize_method",
}

func (r RuntimeFunction) String() string {
	if s, ok := runtimeNames[r]; ok {
		return s
	}
	return "none"
}

// ParseRuntimeFunction maps a config key to a RuntimeFunction.
func ParseRuntimeFunction(s string) (RuntimeFunction, bool) {
	for k, v := range runtimeNames {
		if v == s {
			return k, true
		}
	}
	return RuntimeNone, false
}

// Memory reads raw image bytes by virtual address.
type Memory interface {
	ReadAt(addr uint64, n int) ([]byte, error)
}

// Layout holds the runtime object layout offsets the lifter needs to
// recognize header, array, class and vtable accesses.
type Layout struct {
	ObjectHeader    int `yaml:"object_header"` // first instance field of a reference type
	ArrayBounds     int `yaml:"array_bounds"`
	ArrayLength     int `yaml:"array_length"`
	ArrayData       int `yaml:"array_data"`
	StaticFields    int `yaml:"static_fields"`     // Il2CppClass::static_fields
	VtableStart     int `yaml:"vtable_start"`      // first VirtualInvokeData in Il2CppClass
	VtableEntrySize int `yaml:"vtable_entry_size"` // methodPtr + MethodInfo*
	MethodPointer   int `yaml:"method_pointer"`    // MethodInfo::methodPointer
	ElementClass    int `yaml:"element_class"`     // Il2CppClass::element_class
}

// DefaultLayout returns the layout for a pointer size.
func DefaultLayout(ptrSize int) Layout {
	if ptrSize == 4 {
		return Layout{
			ObjectHeader:    8,
			ArrayBounds:     8,
			ArrayLength:     0xc,
			ArrayData:       0x10,
			StaticFields:    0x5c,
			VtableStart:     0xa8,
			VtableEntrySize: 8,
			MethodPointer:   0,
			ElementClass:    0x20,
		}
	}
	return Layout{
		ObjectHeader:    0x10,
		ArrayBounds:     0x10,
		ArrayLength:     0x18,
		ArrayData:       0x20,
		StaticFields:    0xb8,
		VtableStart:     0x128,
		VtableEntrySize: 0x10,
		MethodPointer:   0,
		ElementClass:    0x40,
	}
}

// Index is the read-only MetadataIndex handed to every engine. It is built
// single-threaded through a Builder and never mutated after Freeze, so any
// number of function analyses may read it concurrently.
type Index struct {
	ptrSize int
	layout  Layout
	types   map[string]*Type
	globals map[uint64]*Global
	methods map[uint64][]*Method
	runtime map[uint64]RuntimeFunction
	all     []*Method
	mem     Memory
}

// Builder populates an Index. It is not safe for concurrent use.
type Builder struct {
	idx    *Index
	frozen bool
}

// NewBuilder starts an index for the given pointer size.
func NewBuilder(ptrSize int) *Builder {
	idx := &Index{
		ptrSize: ptrSize,
		layout:  DefaultLayout(ptrSize),
		types:   make(map[string]*Type),
		globals: make(map[uint64]*Global),
		methods: make(map[uint64][]*Method),
		runtime: make(map[uint64]RuntimeFunction),
	}
	for _, b := range Builtins {
		idx.types[b.FullName()] = b
	}
	return &Builder{idx: idx}
}

func (b *Builder) check() {
	if b.frozen {
		panic(ErrFrozen)
	}
}

// SetLayout overrides the default runtime layout.
func (b *Builder) SetLayout(l Layout) *Builder {
	b.check()
	b.idx.layout = l
	return b
}

// SetMemory attaches a raw memory reader for literal scans.
func (b *Builder) SetMemory(m Memory) *Builder {
	b.check()
	b.idx.mem = m
	return b
}

// AddType registers t under its full name. Fields get their Declaring set.
func (b *Builder) AddType(t *Type) *Builder {
	b.check()
	for _, f := range t.Fields {
		if f.Declaring == nil {
			f.Declaring = t
		}
	}
	b.idx.types[t.FullName()] = t
	return b
}

// AddMethod registers m; methods with an address become call targets.
// Several methods may share one address (shared generic code, identical
// code folding).
func (b *Builder) AddMethod(m *Method) *Builder {
	b.check()
	if m.Declaring != nil {
		found := false
		for _, x := range m.Declaring.Methods {
			if x == m {
				found = true
				break
			}
		}
		if !found {
			m.Declaring.Methods = append(m.Declaring.Methods, m)
		}
	}
	if m.Address != 0 {
		b.idx.methods[m.Address] = append(b.idx.methods[m.Address], m)
	}
	b.idx.all = append(b.idx.all, m)
	return b
}

// AddGlobal registers a metadata usage at g.Addr.
func (b *Builder) AddGlobal(g *Global) *Builder {
	b.check()
	b.idx.globals[g.Addr] = g
	return b
}

// AddRuntime registers a runtime entry point.
func (b *Builder) AddRuntime(addr uint64, fn RuntimeFunction) *Builder {
	b.check()
	b.idx.runtime[addr] = fn
	return b
}

// Lookup returns a type registered so far; used while loading dumps.
func (b *Builder) Lookup(fullName string) *Type { return b.idx.types[fullName] }

// Freeze finishes the index. The builder must not be used afterwards.
func (b *Builder) Freeze() *Index {
	b.check()
	b.frozen = true
	sort.SliceStable(b.idx.all, func(i, j int) bool { return b.idx.all[i].Address < b.idx.all[j].Address })
	return b.idx
}

// PointerSize returns the native pointer width of the indexed binary.
func (x *Index) PointerSize() int { return x.ptrSize }

// Layout returns the runtime layout offsets.
func (x *Index) Layout() Layout { return x.layout }

// Type returns a type by full name.
func (x *Index) Type(fullName string) *Type { return x.types[fullName] }

// Global returns the metadata usage at addr.
func (x *Index) Global(addr uint64) (*Global, bool) {
	g, ok := x.globals[addr]
	return g, ok
}

// MethodsAt returns every method whose body starts at addr.
func (x *Index) MethodsAt(addr uint64) []*Method { return x.methods[addr] }

// Methods returns all registered methods ordered by address.
func (x *Index) Methods() []*Method { return x.all }

// Runtime classifies addr as a well-known runtime entry point.
func (x *Index) Runtime(addr uint64) RuntimeFunction { return x.runtime[addr] }

// IsFunctionStart reports whether addr is a known method or runtime entry.
func (x *Index) IsFunctionStart(addr uint64) bool {
	return len(x.methods[addr]) > 0 || x.runtime[addr] != RuntimeNone
}

// VtableSlot returns the method in slot of t, searching instantiation
// definitions when the instantiation has no vtable of its own.
func (x *Index) VtableSlot(t *Type, slot int) *Method {
	for c := t; c != nil; c = c.Definition {
		if slot >= 0 && slot < len(c.Vtable) && c.Vtable[slot] != nil {
			return c.Vtable[slot]
		}
	}
	return nil
}

// ReadCString scans memory at addr for a printable NUL-terminated literal of
// at least minLen bytes.
func (x *Index) ReadCString(addr uint64, minLen, maxLen int) (string, error) {
	if x.mem == nil {
		return "", ErrNoMemory
	}
	buf, err := x.mem.ReadAt(addr, maxLen)
	if err != nil {
		return "", fmt.Errorf("metadata: read literal at 0x%x: %w", addr, err)
	}
	for i, c := range buf {
		if c == 0 {
			if i < minLen {
				return "", fmt.Errorf("metadata: literal at 0x%x too short", addr)
			}
			return string(buf[:i]), nil
		}
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' || c >= 0x7f {
			return "", fmt.Errorf("metadata: non-printable byte at 0x%x", addr+uint64(i))
		}
	}
	return "", fmt.Errorf("metadata: unterminated literal at 0x%x", addr)
}
