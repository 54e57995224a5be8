// Package fields maps raw byte offsets into managed types to field-access
// chains, recursing through nested value-type fields.
package fields

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"aotlift/internal/metadata"
)

// ErrSelfReference is wrapped by every SelfReferenceError.
var ErrSelfReference = errors.New("fields: self-referential field at offset 0")

// SelfReferenceError reports a field whose type is its own declaring type
// sitting at offset 0. Resolving through it would never terminate, so the
// metadata is treated as corrupt.
type SelfReferenceError struct {
	Type  *metadata.Type
	Field *metadata.Field
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf("fields: %s.%s is a self-referential field at offset 0", e.Type.FullName(), e.Field.Name)
}

func (e *SelfReferenceError) Unwrap() error { return ErrSelfReference }

// Chain is an ordered list of implied field loads ending in Final.
type Chain struct {
	Implied []*metadata.Field
	Final   *metadata.Field
}

// Fields returns every field of the chain in load order.
func (c *Chain) Fields() []*metadata.Field {
	return append(append([]*metadata.Field(nil), c.Implied...), c.Final)
}

// Type returns the type of the final field.
func (c *Chain) Type() *metadata.Type { return c.Final.Type }

// Direct reports whether the chain is a single field.
func (c *Chain) Direct() bool { return len(c.Implied) == 0 }

func (c *Chain) String() string {
	parts := make([]string, 0, len(c.Implied)+1)
	for _, f := range c.Fields() {
		parts = append(parts, f.Name)
	}
	return strings.Join(parts, ".")
}

func (c *Chain) prepend(f *metadata.Field) *Chain {
	return &Chain{Implied: append([]*metadata.Field{f}, c.Implied...), Final: c.Final}
}

// Resolver resolves offsets for one pointer width.
type Resolver struct {
	PtrSize int
}

// New returns a Resolver for ptrSize-byte pointers.
func New(ptrSize int) *Resolver { return &Resolver{PtrSize: ptrSize} }

type placed struct {
	f      *metadata.Field
	offset int
}

// placeFields returns the instance fields of t and its bases with their
// effective offsets, sorted by offset. Generic instantiations anywhere in
// the hierarchy get their offsets recomputed from field sizes.
func (r *Resolver) placeFields(t *metadata.Type) []placed {
	var chain []*metadata.Type
	generic := false
	for c := t; c != nil; c = c.Base {
		chain = append(chain, c)
		generic = generic || c.Definition != nil
	}
	var out []placed
	if !generic {
		for _, c := range chain {
			for _, f := range c.InstanceFields() {
				out = append(out, placed{f, f.Offset})
			}
		}
	} else {
		off := 2 * r.PtrSize
		if t.IsValueType() {
			off = 0
		}
		for i := len(chain) - 1; i >= 0; i-- {
			for _, f := range chain[i].InstanceFields() {
				out = append(out, placed{f, off})
				off += f.Type.Size(r.PtrSize)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out
}

// Resolve maps offset into t to a field chain. A nil chain with a nil error
// means nothing lives at that offset. preferFloat is set for vector loads:
// a direct hit on a non-floating value type is then only used when no
// nested field matches.
func (r *Resolver) Resolve(t *metadata.Type, offset int, preferFloat bool) (*Chain, error) {
	return r.resolve(t, offset, preferFloat, 0)
}

const maxDepth = 32

func (r *Resolver) resolve(t *metadata.Type, offset int, preferFloat bool, depth int) (*Chain, error) {
	if t == nil || offset < 0 {
		return nil, nil
	}
	if depth > maxDepth {
		return nil, fmt.Errorf("fields: %s nests deeper than %d value types", t.FullName(), maxDepth)
	}
	layout := r.placeFields(t)
	for _, p := range layout {
		if p.offset == 0 && sameType(p.f.Type, declaring(p.f, t)) {
			return nil, &SelfReferenceError{Type: t, Field: p.f}
		}
	}

	var direct *metadata.Field
	for _, p := range layout {
		if p.offset == offset {
			direct = p.f
			break
		}
	}
	if direct != nil && preferFloat && direct.Type.IsValueType() && !direct.Type.IsFloatingPoint() {
		c, err := r.indirect(t, layout, offset, preferFloat, depth)
		if err != nil || c != nil {
			return c, err
		}
	}
	if direct != nil {
		return &Chain{Final: direct}, nil
	}
	return r.indirect(t, layout, offset, preferFloat, depth)
}

func (r *Resolver) indirect(t *metadata.Type, layout []placed, offset int, preferFloat bool, depth int) (*Chain, error) {
	var host *placed
	for i := range layout {
		p := &layout[i]
		if p.offset > offset {
			break
		}
		if isNestable(p.f.Type) {
			host = p
		}
	}
	if host == nil {
		return nil, nil
	}
	inner, err := r.resolve(host.f.Type, offset-host.offset, preferFloat, depth+1)
	if err != nil || inner == nil {
		return nil, err
	}
	return inner.prepend(host.f), nil
}

func isNestable(t *metadata.Type) bool {
	return t.IsValueType() && !t.IsPrimitive() && !t.IsEnum()
}

func declaring(f *metadata.Field, fallback *metadata.Type) *metadata.Type {
	if f.Declaring != nil {
		return f.Declaring
	}
	return fallback
}

func sameType(a, b *metadata.Type) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}
	da, db := a, b
	if a.Definition != nil {
		da = a.Definition
	}
	if b.Definition != nil {
		db = b.Definition
	}
	return da == db
}

// Static returns the static field of t stored at offset in its static
// field block.
func Static(t *metadata.Type, offset int) *metadata.Field {
	if t == nil {
		return nil
	}
	src := t
	if t.Definition != nil {
		src = t.Definition
	}
	for _, f := range src.Fields {
		if f.Static && !f.Const && f.Offset == offset {
			return f
		}
	}
	return nil
}
