package algebra

import (
	"encoding/binary"
	"math"

	"github.com/spacetime-core/storage/pkg/storeerr"
)

// Encode writes v in BSATN form: little-endian fixed primitives,
// length-prefixed strings/bytes/arrays, and a one-byte tag ahead of a sum
// variant's active payload.
func Encode(v AlgebraicValue, t AlgebraicType, ts *Typespace) ([]byte, error) {
	if err := validateAgainst(v, t, ts); err != nil {
		return nil, err
	}
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v AlgebraicValue) ([]byte, error) {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case KindI8:
		return append(buf, byte(v.I64)), nil
	case KindU8:
		return append(buf, byte(v.U64)), nil
	case KindI16, KindU16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(selectWidth(v)))
		return append(buf, b[:]...), nil
	case KindI32, KindU32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(selectWidth(v)))
		return append(buf, b[:]...), nil
	case KindI64, KindU64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], selectWidth(v))
		return append(buf, b[:]...), nil
	case KindI128, KindU128, KindI256, KindU256:
		return append(buf, v.Wide...), nil
	case KindF32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v.F32))
		return append(buf, b[:]...), nil
	case KindF64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F64))
		return append(buf, b[:]...), nil
	case KindString:
		return appendLenPrefixed(buf, []byte(v.Str)), nil
	case KindBytes:
		if v.Blob != nil {
			buf = append(buf, blobRefTag)
			return append(buf, v.Blob.Hash[:]...), nil
		}
		buf = append(buf, inlineBytesTag)
		return appendLenPrefixed(buf, v.Bytes), nil
	case KindProduct:
		var err error
		for _, e := range v.Prod {
			buf, err = appendValue(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindSum:
		buf = append(buf, v.SumTag)
		if v.SumVal != nil {
			return appendValue(buf, *v.SumVal)
		}
		return buf, nil
	case KindArray:
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(v.Arr)))
		buf = append(buf, lb[:]...)
		var err error
		for _, e := range v.Arr {
			buf, err = appendValue(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, storeerr.NewDecodeError("encode", "known kind", "unknown kind")
	}
}

func selectWidth(v AlgebraicValue) uint64 {
	switch v.Kind {
	case KindI16, KindI32, KindI64:
		return uint64(v.I64)
	default:
		return v.U64
	}
}

// inlineBytesTag/blobRefTag mark a KindBytes encoding as either its raw
// length-prefixed bytes or a 32-byte blob hash standing in for a value that
// spilled to the blob store.
const (
	inlineBytesTag byte = 0
	blobRefTag     byte = 1
)

func appendLenPrefixed(buf []byte, data []byte) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(data)))
	buf = append(buf, lb[:]...)
	return append(buf, data...)
}

// Decode reads a BSATN encoding of t (resolved against ts) from data,
// returning the value and the number of bytes consumed.
func Decode(data []byte, t AlgebraicType, ts *Typespace) (AlgebraicValue, int, error) {
	resolved := t
	if t.Kind == KindRef {
		var err error
		resolved, err = ts.Resolve(t)
		if err != nil {
			return AlgebraicValue{}, 0, err
		}
	}
	return decodeValue(data, resolved, ts)
}

func decodeValue(data []byte, t AlgebraicType, ts *Typespace) (AlgebraicValue, int, error) {
	switch t.Kind {
	case KindBool:
		if len(data) < 1 {
			return AlgebraicValue{}, 0, shortRead("bool")
		}
		return AlgebraicValue{Kind: KindBool, Bool: data[0] != 0}, 1, nil
	case KindI8:
		if len(data) < 1 {
			return AlgebraicValue{}, 0, shortRead("i8")
		}
		return AlgebraicValue{Kind: KindI8, I64: int64(int8(data[0]))}, 1, nil
	case KindU8:
		if len(data) < 1 {
			return AlgebraicValue{}, 0, shortRead("u8")
		}
		return AlgebraicValue{Kind: KindU8, U64: uint64(data[0])}, 1, nil
	case KindI16:
		if len(data) < 2 {
			return AlgebraicValue{}, 0, shortRead("i16")
		}
		return AlgebraicValue{Kind: KindI16, I64: int64(int16(binary.LittleEndian.Uint16(data)))}, 2, nil
	case KindU16:
		if len(data) < 2 {
			return AlgebraicValue{}, 0, shortRead("u16")
		}
		return AlgebraicValue{Kind: KindU16, U64: uint64(binary.LittleEndian.Uint16(data))}, 2, nil
	case KindI32:
		if len(data) < 4 {
			return AlgebraicValue{}, 0, shortRead("i32")
		}
		return AlgebraicValue{Kind: KindI32, I64: int64(int32(binary.LittleEndian.Uint32(data)))}, 4, nil
	case KindU32:
		if len(data) < 4 {
			return AlgebraicValue{}, 0, shortRead("u32")
		}
		return AlgebraicValue{Kind: KindU32, U64: uint64(binary.LittleEndian.Uint32(data))}, 4, nil
	case KindI64:
		if len(data) < 8 {
			return AlgebraicValue{}, 0, shortRead("i64")
		}
		return AlgebraicValue{Kind: KindI64, I64: int64(binary.LittleEndian.Uint64(data))}, 8, nil
	case KindU64:
		if len(data) < 8 {
			return AlgebraicValue{}, 0, shortRead("u64")
		}
		return AlgebraicValue{Kind: KindU64, U64: binary.LittleEndian.Uint64(data)}, 8, nil
	case KindI128, KindU128:
		if len(data) < 16 {
			return AlgebraicValue{}, 0, shortRead("i128/u128")
		}
		w := make([]byte, 16)
		copy(w, data[:16])
		return AlgebraicValue{Kind: t.Kind, Wide: w}, 16, nil
	case KindI256, KindU256:
		if len(data) < 32 {
			return AlgebraicValue{}, 0, shortRead("i256/u256")
		}
		w := make([]byte, 32)
		copy(w, data[:32])
		return AlgebraicValue{Kind: t.Kind, Wide: w}, 32, nil
	case KindF32:
		if len(data) < 4 {
			return AlgebraicValue{}, 0, shortRead("f32")
		}
		return AlgebraicValue{Kind: KindF32, F32: math.Float32frombits(binary.LittleEndian.Uint32(data))}, 4, nil
	case KindF64:
		if len(data) < 8 {
			return AlgebraicValue{}, 0, shortRead("f64")
		}
		return AlgebraicValue{Kind: KindF64, F64: math.Float64frombits(binary.LittleEndian.Uint64(data))}, 8, nil
	case KindString:
		s, n, err := decodeLenPrefixed(data)
		if err != nil {
			return AlgebraicValue{}, 0, err
		}
		return AlgebraicValue{Kind: KindString, Str: string(s)}, n, nil
	case KindBytes:
		if len(data) < 1 {
			return AlgebraicValue{}, 0, shortRead("bytes tag")
		}
		switch data[0] {
		case blobRefTag:
			if len(data) < 1+32 {
				return AlgebraicValue{}, 0, shortRead("blob ref hash")
			}
			var h [32]byte
			copy(h[:], data[1:33])
			return AlgebraicValue{Kind: KindBytes, Blob: &BlobRef{Hash: h}}, 33, nil
		case inlineBytesTag:
			b, n, err := decodeLenPrefixed(data[1:])
			if err != nil {
				return AlgebraicValue{}, 0, err
			}
			return AlgebraicValue{Kind: KindBytes, Bytes: b}, 1 + n, nil
		default:
			return AlgebraicValue{}, 0, storeerr.NewDecodeError("bytes", "known tag", "unknown tag")
		}
	case KindProduct:
		elems := make([]AlgebraicValue, len(t.Elements))
		total := 0
		for i, elem := range t.Elements {
			v, n, err := Decode(data[total:], elem.Type, ts)
			if err != nil {
				return AlgebraicValue{}, 0, err
			}
			elems[i] = v
			total += n
		}
		return AlgebraicValue{Kind: KindProduct, Prod: elems}, total, nil
	case KindSum:
		if len(data) < 1 {
			return AlgebraicValue{}, 0, shortRead("sum tag")
		}
		tag := data[0]
		if int(tag) >= len(t.Variants) {
			return AlgebraicValue{}, 0, storeerr.NewDecodeError("sum", "valid tag", "out of range tag")
		}
		inner, n, err := Decode(data[1:], t.Variants[tag].Type, ts)
		if err != nil {
			return AlgebraicValue{}, 0, err
		}
		return AlgebraicValue{Kind: KindSum, SumTag: tag, SumVal: &inner}, 1 + n, nil
	case KindArray:
		if len(data) < 4 {
			return AlgebraicValue{}, 0, shortRead("array length")
		}
		count := binary.LittleEndian.Uint32(data)
		total := 4
		elems := make([]AlgebraicValue, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := Decode(data[total:], *t.Elem, ts)
			if err != nil {
				return AlgebraicValue{}, 0, err
			}
			elems[i] = v
			total += n
		}
		return AlgebraicValue{Kind: KindArray, Arr: elems}, total, nil
	default:
		return AlgebraicValue{}, 0, storeerr.NewDecodeError("decode", "known kind", "unknown kind")
	}
}

func decodeLenPrefixed(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, shortRead("length prefix")
	}
	l := binary.LittleEndian.Uint32(data)
	if uint32(len(data)-4) < l {
		return nil, 0, shortRead("length-prefixed body")
	}
	out := make([]byte, l)
	copy(out, data[4:4+l])
	return out, int(4 + l), nil
}

func shortRead(what string) error {
	return storeerr.NewDecodeError(what, "enough bytes", "short buffer")
}
