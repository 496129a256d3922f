package index

import (
	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/pkg/storeerr"
)

// PackBytes concatenates the little-endian BSATN encoding of each primitive
// column value and zero-pads the result on the high side to n bytes. n must
// be a power of two, or 0 for the unpadded, unbounded form. It returns a
// Despecialize error if the encodings do not fit in n bytes — the adapter
// must never shrink or truncate silently.
func PackBytes(cols []algebra.AlgebraicValue, n int) (string, error) {
	if n < 0 || n&(n-1) != 0 {
		return "", storeerr.NewDecodeError("bytes-packed key", "power-of-two width", "invalid width")
	}
	var packed []byte
	for _, c := range cols {
		colType := algebra.AlgebraicType{Kind: c.Kind}
		if !colType.IsPrimitive() {
			return "", &storeerr.Despecialize{Reason: "composite key column is not primitive"}
		}
		enc, err := algebra.Encode(c, colType, nil)
		if err != nil {
			return "", err
		}
		packed = append(packed, enc...)
	}
	if n == 0 {
		return string(packed), nil
	}
	if len(packed) > n {
		return "", &storeerr.Despecialize{Reason: "encoded columns exceed fixed key width"}
	}
	out := make([]byte, n)
	copy(out, packed) // zero-padded on the high side
	return string(out), nil
}

// BytesPackedUnique is the bytes-packed key adapter backing a unique
// composite index whose columns are all primitive and fit in N bytes.
type BytesPackedUnique struct {
	*UniqueBTree[string]
	Width int
}

// NewBytesPackedUnique builds an empty adapter over fixed-width keys of
// width n.
func NewBytesPackedUnique(n int) *BytesPackedUnique {
	return &BytesPackedUnique{
		UniqueBTree: NewUniqueBTree(func(a, b string) bool { return a < b }, func(k string) int { return len(k) }),
		Width:       n,
	}
}

// BytesPackedMulti is the multi-valued counterpart of BytesPackedUnique.
type BytesPackedMulti struct {
	*MultiBTree[string]
	Width int
}

// NewBytesPackedMulti builds an empty multi-valued adapter over fixed-width
// keys of width n.
func NewBytesPackedMulti(n int) *BytesPackedMulti {
	return &BytesPackedMulti{
		MultiBTree: NewMultiBTree(func(a, b string) bool { return a < b }, func(k string) int { return len(k) }),
		Width:      n,
	}
}
