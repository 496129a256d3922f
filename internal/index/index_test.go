package index

import (
	"testing"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intLess(a, b int32) bool { return a < b }

func TestUniqueBTreeInsertRejectsDuplicateKey(t *testing.T) {
	u := NewUniqueBTree(intLess, nil)
	p1 := RowPointer{Page: 1, Offset: 1}
	p2 := RowPointer{Page: 1, Offset: 2}

	existing, inserted := u.Insert(1, p1)
	assert.True(t, inserted)
	assert.True(t, existing.Zero())

	existing, inserted = u.Insert(1, p2)
	assert.False(t, inserted)
	assert.Equal(t, p1, existing)

	assert.Equal(t, []RowPointer{p1}, u.SeekPoint(1))
}

func TestUniqueBTreeSeekRangeAscending(t *testing.T) {
	u := NewUniqueBTree(intLess, nil)
	values := []int32{3, 1, 2, 5, 4}
	ptrs := make(map[int32]RowPointer)
	for i, v := range values {
		p := RowPointer{Page: uint32(i + 1)}
		ptrs[v] = p
		u.Insert(v, p)
	}

	got := u.SeekRange(Bounds[int32]{
		Lower: IncludedBound[int32](2),
		Upper: IncludedBound[int32](4),
	})

	require.Len(t, got, 3)
	assert.Equal(t, []RowPointer{ptrs[2], ptrs[3], ptrs[4]}, got)
}

func TestMultiBTreeCountsDistinctKeysAndRows(t *testing.T) {
	m := NewMultiBTree(intLess, nil)
	p1 := RowPointer{Page: 1}
	p2 := RowPointer{Page: 2}
	p3 := RowPointer{Page: 3}

	m.Insert(1, p1)
	m.Insert(1, p2)
	m.Insert(2, p3)

	assert.Equal(t, 2, m.NumKeys())
	assert.Equal(t, 3, m.NumRows())
	assert.ElementsMatch(t, []RowPointer{p1, p2}, m.SeekPoint(1))

	assert.True(t, m.Delete(1, p1))
	assert.Equal(t, []RowPointer{p2}, m.SeekPoint(1))
}

func TestBytesPackedFitsWidthOrDespecializes(t *testing.T) {
	cols := []algebra.AlgebraicValue{algebra.U32(7), algebra.U32(9)}

	small, err := PackBytes(cols, 8)
	require.NoError(t, err)
	assert.Len(t, small, 8)

	_, err = PackBytes(cols, 4)
	require.Error(t, err, "columns exceeding N bytes must Despecialize, not truncate")
}

func TestHashIndexPointLookupAndDelete(t *testing.T) {
	h := NewHashIndex()
	p1 := RowPointer{Page: 1}
	p2 := RowPointer{Page: 2}

	h.Insert("k1", p1)
	h.Insert("k1", p2)
	h.Insert("k2", p1)

	assert.ElementsMatch(t, []RowPointer{p1, p2}, h.SeekPoint("k1"))
	assert.Equal(t, 2, h.NumKeys())
	assert.Equal(t, 3, h.NumRows())

	assert.True(t, h.Delete("k1", p1))
	assert.Equal(t, []RowPointer{p2}, h.SeekPoint("k1"))
}

func TestHashIndexGrowsUnderLoad(t *testing.T) {
	h := NewHashIndex()
	for i := 0; i < 200; i++ {
		h.Insert(string(rune('a'+i%26))+string(rune(i)), RowPointer{Page: uint32(i)})
	}
	assert.Equal(t, 200, h.NumRows())
}
