package metadata

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dump is the on-disk metadata exchange format produced by the external
// metadata reader.
type Dump struct {
	PointerSize int                `yaml:"pointer_size"`
	Layout      *Layout            `yaml:"layout,omitempty"`
	Types       []TypeDump         `yaml:"types"`
	Methods     []MethodDump       `yaml:"methods"`
	Globals     []GlobalDump       `yaml:"globals"`
	Runtime     map[string]Address `yaml:"runtime"`
}

// Address accepts both integer and "0x..." string YAML scalars.
type Address uint64

func (a *Address) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("metadata: bad address %q at line %d", n.Value, n.Line)
	}
	*a = Address(v)
	return nil
}

type TypeDump struct {
	Name           string      `yaml:"name"`
	Namespace      string      `yaml:"namespace"`
	Kind           string      `yaml:"kind"`
	Base           string      `yaml:"base"`
	Interfaces     []string    `yaml:"interfaces"`
	EnumUnderlying string      `yaml:"enum_underlying"`
	GenericParams  []string    `yaml:"generic_params"`
	Fields         []FieldDump `yaml:"fields"`
	Vtable         []string    `yaml:"vtable"` // method keys, "" for empty slots
}

type FieldDump struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Offset int    `yaml:"offset"`
	Static bool   `yaml:"static"`
	Const  bool   `yaml:"const"`
}

type MethodDump struct {
	Key     string      `yaml:"key"` // optional unique key for vtable/global refs
	Type    string      `yaml:"type"`
	Name    string      `yaml:"name"`
	Static  bool        `yaml:"static"`
	Address Address     `yaml:"address"`
	Return  string      `yaml:"return"`
	Params  []ParamDump `yaml:"params"`
	Slot    *int        `yaml:"slot"`
}

type ParamDump struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type GlobalDump struct {
	Address Address `yaml:"address"`
	Kind    string  `yaml:"kind"`
	Ref     string  `yaml:"ref"`   // type name, method key, or Type::field
	Value   string  `yaml:"value"` // string literal
}

// LoadYAML reads a metadata dump from path into a frozen Index.
func LoadYAML(path string, mem Memory) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: read %s: %w", path, err)
	}
	var d Dump
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("metadata: parse %s: %w", path, err)
	}
	return d.Build(mem)
}

// Build converts a dump into a frozen Index.
func (d *Dump) Build(mem Memory) (*Index, error) {
	ptr := d.PointerSize
	if ptr == 0 {
		ptr = 8
	}
	b := NewBuilder(ptr)
	if d.Layout != nil {
		b.SetLayout(*d.Layout)
	}
	if mem != nil {
		b.SetMemory(mem)
	}

	// Pass 1: shells, so fields may reference types declared later.
	shells := make([]*Type, len(d.Types))
	for i, td := range d.Types {
		k, err := parseKind(td.Kind)
		if err != nil {
			return nil, err
		}
		t := &Type{Name: td.Name, Namespace: td.Namespace, Kind: k, GenericParams: td.GenericParams}
		shells[i] = t
		b.AddType(t)
	}

	r := &typeResolver{b: b}
	// Pass 2: bases, interfaces, fields.
	for i, td := range d.Types {
		t := shells[i]
		var err error
		switch {
		case td.Base != "":
			if t.Base, err = r.resolve(td.Base); err != nil {
				return nil, err
			}
		case t.Kind == KindStruct:
			t.Base = ValueType
		case t.Kind == KindEnum:
			t.Base = EnumBase
		case t.Kind == KindClass:
			t.Base = Object
		}
		if td.EnumUnderlying != "" {
			if t.EnumUnderlying, err = r.resolve(td.EnumUnderlying); err != nil {
				return nil, err
			}
		} else if t.Kind == KindEnum {
			t.EnumUnderlying = Int32
		}
		for _, in := range td.Interfaces {
			it, err := r.resolve(in)
			if err != nil {
				return nil, err
			}
			t.Interfaces = append(t.Interfaces, it)
		}
		for _, fd := range td.Fields {
			ft, err := r.resolve(fd.Type)
			if err != nil {
				return nil, fmt.Errorf("metadata: field %s.%s: %w", t.FullName(), fd.Name, err)
			}
			t.Fields = append(t.Fields, &Field{
				Name: fd.Name, Type: ft, Offset: fd.Offset,
				Static: fd.Static, Const: fd.Const, Declaring: t,
			})
		}
	}

	// Pass 3: methods.
	byKey := make(map[string]*Method)
	for _, md := range d.Methods {
		decl, err := r.resolve(md.Type)
		if err != nil {
			return nil, fmt.Errorf("metadata: method %s: %w", md.Name, err)
		}
		m := &Method{Name: md.Name, Declaring: decl, Static: md.Static, Address: uint64(md.Address), Slot: -1, Return: Void}
		if md.Slot != nil {
			m.Slot = *md.Slot
		}
		if md.Return != "" {
			if m.Return, err = r.resolve(md.Return); err != nil {
				return nil, err
			}
		}
		for _, pd := range md.Params {
			pt, err := r.resolve(pd.Type)
			if err != nil {
				return nil, fmt.Errorf("metadata: param %s of %s: %w", pd.Name, md.Name, err)
			}
			m.Params = append(m.Params, Param{Name: pd.Name, Type: pt})
		}
		key := md.Key
		if key == "" {
			key = decl.FullName() + "::" + md.Name
		}
		byKey[key] = m
		b.AddMethod(m)
	}

	// Pass 4: vtables.
	for i, td := range d.Types {
		for slot, key := range td.Vtable {
			if key == "" {
				shells[i].Vtable = append(shells[i].Vtable, nil)
				continue
			}
			m, ok := byKey[key]
			if !ok {
				return nil, fmt.Errorf("metadata: vtable of %s slot %d: unknown method %q", shells[i].FullName(), slot, key)
			}
			shells[i].Vtable = append(shells[i].Vtable, m)
		}
	}

	// Pass 5: globals and runtime entries.
	for _, gd := range d.Globals {
		g := &Global{Addr: uint64(gd.Address)}
		switch gd.Kind {
		case "type":
			g.Kind = GlobalType
			t, err := r.resolve(gd.Ref)
			if err != nil {
				return nil, err
			}
			g.Type = t
		case "method", "method_spec":
			g.Kind = GlobalMethod
			if gd.Kind == "method_spec" {
				g.Kind = GlobalMethodSpec
			}
			m, ok := byKey[gd.Ref]
			if !ok {
				return nil, fmt.Errorf("metadata: global 0x%x: unknown method %q", g.Addr, gd.Ref)
			}
			g.Method = m
		case "field":
			g.Kind = GlobalField
			f, err := r.field(gd.Ref)
			if err != nil {
				return nil, err
			}
			g.Field = f
		case "string":
			g.Kind = GlobalString
			g.String = gd.Value
		default:
			return nil, fmt.Errorf("metadata: global 0x%x: unknown kind %q", g.Addr, gd.Kind)
		}
		b.AddGlobal(g)
	}
	for name, addr := range d.Runtime {
		fn, ok := ParseRuntimeFunction(name)
		if !ok {
			return nil, fmt.Errorf("metadata: unknown runtime function %q", name)
		}
		b.AddRuntime(uint64(addr), fn)
	}
	return b.Freeze(), nil
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "", "class":
		return KindClass, nil
	case "struct":
		return KindStruct, nil
	case "enum":
		return KindEnum, nil
	case "interface":
		return KindInterface, nil
	}
	return 0, fmt.Errorf("metadata: unknown type kind %q", s)
}

type typeResolver struct {
	b *Builder
}

// resolve parses a type reference: "Ns.Name", "Name[]", "!T" for a generic
// parameter, and "Ns.Name<Arg,Arg>" for an instantiation.
func (r *typeResolver) resolve(ref string) (*Type, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("metadata: empty type reference")
	case strings.HasPrefix(ref, "!"):
		return GenericParam(ref[1:]), nil
	case strings.HasSuffix(ref, "[]"):
		el, err := r.resolve(strings.TrimSuffix(ref, "[]"))
		if err != nil {
			return nil, err
		}
		return ArrayOf(el), nil
	case strings.HasSuffix(ref, ">"):
		open := strings.IndexByte(ref, '<')
		if open < 0 {
			return nil, fmt.Errorf("metadata: malformed type %q", ref)
		}
		def, err := r.resolve(ref[:open])
		if err != nil {
			return nil, err
		}
		var args []*Type
		for _, a := range splitArgs(ref[open+1 : len(ref)-1]) {
			at, err := r.resolve(a)
			if err != nil {
				return nil, err
			}
			args = append(args, at)
		}
		return Instantiate(def, args...), nil
	}
	if t := r.b.Lookup(ref); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("metadata: unknown type %q", ref)
}

func (r *typeResolver) field(ref string) (*Field, error) {
	i := strings.LastIndex(ref, "::")
	if i < 0 {
		return nil, fmt.Errorf("metadata: field reference %q needs Type::field", ref)
	}
	t, err := r.resolve(ref[:i])
	if err != nil {
		return nil, err
	}
	for _, f := range t.Fields {
		if f.Name == ref[i+2:] {
			return f, nil
		}
	}
	return nil, fmt.Errorf("metadata: %s has no field %q", t.FullName(), ref[i+2:])
}

// splitArgs splits a generic argument list at top-level commas.
func splitArgs(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
