package algebra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripPrimitives(t *testing.T) {
	ts := NewTypespace(nil)
	cases := []struct {
		name string
		val  AlgebraicValue
		typ  AlgebraicType
	}{
		{"bool", Bool(true), AlgebraicType{Kind: KindBool}},
		{"u32", U32(424242), AlgebraicType{Kind: KindU32}},
		{"i64", I64(-9001), AlgebraicType{Kind: KindI64}},
		{"f64", F64(3.14159), AlgebraicType{Kind: KindF64}},
		{"string", String("hello, row"), AlgebraicType{Kind: KindString}},
		{"bytes", BytesValue([]byte{1, 2, 3, 4}), AlgebraicType{Kind: KindBytes}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded, err := Encode(c.val, c.typ, ts)
			require.NoError(t, err)

			decoded, n, err := Decode(encoded, c.typ, ts)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), n)
			assert.True(t, c.val.Equal(decoded))
		})
	}
}

func TestEncodeDecodeRoundTripProduct(t *testing.T) {
	ts := NewTypespace(nil)
	rowType := AlgebraicType{Kind: KindProduct, Elements: []ProductElem{
		{Name: "a", Type: AlgebraicType{Kind: KindU64}},
		{Name: "b", Type: AlgebraicType{Kind: KindString}},
	}}
	row := Product([]AlgebraicValue{U64(1), String("x")})

	encoded, err := Encode(row, rowType, ts)
	require.NoError(t, err)

	decoded, n, err := Decode(encoded, rowType, ts)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	assert.True(t, row.Equal(decoded))
}

func TestEncodeDecodeSum(t *testing.T) {
	ts := NewTypespace(nil)
	sumType := AlgebraicType{Kind: KindSum, Variants: []SumVariant{
		{Name: "none", Type: AlgebraicType{Kind: KindBool}},
		{Name: "some", Type: AlgebraicType{Kind: KindI32}},
	}}
	inner := I32(7)
	val := Sum(1, &inner)

	encoded, err := Encode(val, sumType, ts)
	require.NoError(t, err)

	decoded, _, err := Decode(encoded, sumType, ts)
	require.NoError(t, err)
	assert.True(t, val.Equal(decoded))
}

func TestTypespaceResolveDetectsCycle(t *testing.T) {
	ts := NewTypespace(nil)
	a := ts.Add(AlgebraicType{Kind: KindRef, Ref: 1})
	ts.Add(AlgebraicType{Kind: KindRef, Ref: a})

	_, err := ts.Resolve(AlgebraicType{Kind: KindRef, Ref: a})
	require.Error(t, err)
}

func TestDecodeShortBufferReturnsDecodeError(t *testing.T) {
	ts := NewTypespace(nil)
	_, _, err := Decode([]byte{1, 2}, AlgebraicType{Kind: KindU64}, ts)
	require.Error(t, err)
}
