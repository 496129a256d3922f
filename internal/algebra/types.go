// Package algebra implements the closed set of column types a table's
// product type may draw from, the typespace that resolves by-reference
// types, and the BSATN wire encoding used for keys and row payloads.
package algebra

import "github.com/spacetime-core/storage/pkg/storeerr"

// TypeKind tags the active variant of an AlgebraicType.
type TypeKind uint8

const (
	KindBool TypeKind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindI128
	KindU128
	KindI256
	KindU256
	KindF32
	KindF64
	KindString
	KindBytes
	KindProduct
	KindSum
	KindArray
	KindRef
)

// ProductElem is one named, typed field of a product type.
type ProductElem struct {
	Name string
	Type AlgebraicType
}

// SumVariant is one named, typed arm of a sum type.
type SumVariant struct {
	Name string
	Type AlgebraicType
}

// AlgebraicType is a closed-set type descriptor: a primitive, a product
// (ordered named fields), a sum (tagged union), an array, or a reference
// into a Typespace resolved later.
type AlgebraicType struct {
	Kind     TypeKind
	Elements []ProductElem // KindProduct
	Variants []SumVariant  // KindSum
	Elem     *AlgebraicType
	Ref      uint32 // KindRef: index into a Typespace
}

// IsPrimitive reports whether the type is a fixed-width or string/bytes
// leaf type with no nested structure.
func (t AlgebraicType) IsPrimitive() bool {
	switch t.Kind {
	case KindProduct, KindSum, KindArray, KindRef:
		return false
	default:
		return true
	}
}

// FixedWidth returns the in-memory byte width of a fixed-width primitive,
// and false for variable-width or non-primitive kinds.
func (t AlgebraicType) FixedWidth() (int, bool) {
	switch t.Kind {
	case KindBool, KindI8, KindU8:
		return 1, true
	case KindI16, KindU16:
		return 2, true
	case KindI32, KindU32, KindF32:
		return 4, true
	case KindI64, KindU64, KindF64:
		return 8, true
	case KindI128, KindU128:
		return 16, true
	case KindI256, KindU256:
		return 32, true
	default:
		return 0, false
	}
}

// Typespace is a flat table of types referenced by numeric index, allowing
// recursive types and type sharing across a schema.
type Typespace struct {
	types []AlgebraicType
}

// NewTypespace builds a Typespace over the given backing slice.
func NewTypespace(types []AlgebraicType) *Typespace {
	return &Typespace{types: types}
}

// Add appends a type and returns its reference index.
func (ts *Typespace) Add(t AlgebraicType) uint32 {
	ts.types = append(ts.types, t)
	return uint32(len(ts.types) - 1)
}

// Resolve follows Ref chains to a non-Ref type, detecting cycles with an
// explicit visited-set per the reference-resolution design note.
func (ts *Typespace) Resolve(t AlgebraicType) (AlgebraicType, error) {
	visited := make(map[uint32]bool)
	for t.Kind == KindRef {
		if visited[t.Ref] {
			return AlgebraicType{}, &storeerr.RecursiveTypeRef{Ref: t.Ref}
		}
		visited[t.Ref] = true
		if int(t.Ref) >= len(ts.types) {
			return AlgebraicType{}, storeerr.NewDecodeError("typespace", "valid ref", "out of range")
		}
		t = ts.types[t.Ref]
	}
	return t, nil
}

// At returns the type stored at index i without following references.
func (ts *Typespace) At(i uint32) (AlgebraicType, bool) {
	if int(i) >= len(ts.types) {
		return AlgebraicType{}, false
	}
	return ts.types[i], true
}
