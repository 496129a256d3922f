package algebra

import (
	"fmt"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// BlobRef is the in-row stand-in for a variable-width payload that spilled
// to the blob store because it exceeded the inline size threshold.
type BlobRef struct {
	Hash [32]byte
}

// AlgebraicValue is a runtime value of an AlgebraicType. Exactly one field
// group is meaningful, selected by Kind, mirroring the type-tagged
// conversion style the teacher uses for its own storage values.
type AlgebraicValue struct {
	Kind TypeKind

	Bool bool
	I64  int64
	U64  uint64
	// I128/U128/I256/U256 are carried as little-endian byte strings of their
	// fixed width, in the order BSATN writes them; arithmetic on them is out
	// of this core's scope.
	Wide   []byte
	F32    float32
	F64    float64
	Str    string
	Bytes  []byte
	Blob   *BlobRef
	Prod   []AlgebraicValue
	SumTag uint8
	SumVal *AlgebraicValue
	Arr    []AlgebraicValue
}

func Bool(b bool) AlgebraicValue   { return AlgebraicValue{Kind: KindBool, Bool: b} }
func I8(v int8) AlgebraicValue     { return AlgebraicValue{Kind: KindI8, I64: int64(v)} }
func U8(v uint8) AlgebraicValue    { return AlgebraicValue{Kind: KindU8, U64: uint64(v)} }
func I16(v int16) AlgebraicValue   { return AlgebraicValue{Kind: KindI16, I64: int64(v)} }
func U16(v uint16) AlgebraicValue  { return AlgebraicValue{Kind: KindU16, U64: uint64(v)} }
func I32(v int32) AlgebraicValue   { return AlgebraicValue{Kind: KindI32, I64: int64(v)} }
func U32(v uint32) AlgebraicValue  { return AlgebraicValue{Kind: KindU32, U64: uint64(v)} }
func I64(v int64) AlgebraicValue   { return AlgebraicValue{Kind: KindI64, I64: v} }
func U64(v uint64) AlgebraicValue  { return AlgebraicValue{Kind: KindU64, U64: v} }
func F32(v float32) AlgebraicValue { return AlgebraicValue{Kind: KindF32, F32: v} }
func F64(v float64) AlgebraicValue { return AlgebraicValue{Kind: KindF64, F64: v} }
func String(v string) AlgebraicValue {
	return AlgebraicValue{Kind: KindString, Str: v}
}
func BytesValue(v []byte) AlgebraicValue {
	return AlgebraicValue{Kind: KindBytes, Bytes: v}
}
func Product(elems []AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Kind: KindProduct, Prod: elems}
}
func Sum(tag uint8, val *AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Kind: KindSum, SumTag: tag, SumVal: val}
}
func Array(elems []AlgebraicValue) AlgebraicValue {
	return AlgebraicValue{Kind: KindArray, Arr: elems}
}

// AsInt64 returns the value as a signed 64-bit integer, converting from any
// integer-kinded variant.
func (v AlgebraicValue) AsInt64() (int64, error) {
	switch v.Kind {
	case KindI8, KindI16, KindI32, KindI64:
		return v.I64, nil
	case KindU8, KindU16, KindU32, KindU64:
		return int64(v.U64), nil
	default:
		return 0, fmt.Errorf("cannot convert kind %d to int64", v.Kind)
	}
}

// Equal reports whether two values have the same kind and equal contents.
// The table's pointer map does not use it; its tie-break within a hash
// bucket compares encoded row bytes directly.
func (v AlgebraicValue) Equal(other AlgebraicValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == other.Bool
	case KindI8, KindI16, KindI32, KindI64:
		return v.I64 == other.I64
	case KindU8, KindU16, KindU32, KindU64:
		return v.U64 == other.U64
	case KindI128, KindU128, KindI256, KindU256:
		return string(v.Wide) == string(other.Wide)
	case KindF32:
		return v.F32 == other.F32
	case KindF64:
		return v.F64 == other.F64
	case KindString:
		return v.Str == other.Str
	case KindBytes:
		if v.Blob != nil || other.Blob != nil {
			if v.Blob == nil || other.Blob == nil {
				return false
			}
			return v.Blob.Hash == other.Blob.Hash
		}
		return string(v.Bytes) == string(other.Bytes)
	case KindProduct, KindArray:
		a, b := v.elemsOf(), other.elemsOf()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindSum:
		if v.SumTag != other.SumTag {
			return false
		}
		if (v.SumVal == nil) != (other.SumVal == nil) {
			return false
		}
		if v.SumVal == nil {
			return true
		}
		return v.SumVal.Equal(*other.SumVal)
	default:
		return false
	}
}

func (v AlgebraicValue) elemsOf() []AlgebraicValue {
	if v.Kind == KindProduct {
		return v.Prod
	}
	return v.Arr
}

// validateAgainst checks v against t at the shape level, used before BSATN
// encoding to surface a DecodeError rather than panicking on malformed
// ingress.
func validateAgainst(v AlgebraicValue, t AlgebraicType, ts *Typespace) error {
	resolved := t
	if t.Kind == KindRef {
		var err error
		resolved, err = ts.Resolve(t)
		if err != nil {
			return err
		}
	}
	if v.Kind != resolved.Kind {
		return storeerr.NewDecodeError("value", fmt.Sprintf("kind %d", resolved.Kind), fmt.Sprintf("kind %d", v.Kind))
	}
	switch resolved.Kind {
	case KindProduct:
		if len(v.Prod) != len(resolved.Elements) {
			return storeerr.NewDecodeError("product", fmt.Sprintf("%d fields", len(resolved.Elements)), fmt.Sprintf("%d fields", len(v.Prod)))
		}
		for i, elem := range resolved.Elements {
			if err := validateAgainst(v.Prod[i], elem.Type, ts); err != nil {
				return err
			}
		}
	case KindSum:
		if int(v.SumTag) >= len(resolved.Variants) {
			return storeerr.NewDecodeError("sum", "valid tag", "out of range tag")
		}
		if v.SumVal != nil {
			if err := validateAgainst(*v.SumVal, resolved.Variants[v.SumTag].Type, ts); err != nil {
				return err
			}
		}
	case KindArray:
		for _, e := range v.Arr {
			if err := validateAgainst(e, *resolved.Elem, ts); err != nil {
				return err
			}
		}
	}
	return nil
}
