package table

import (
	"testing"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/blob"
	"github.com/spacetime-core/storage/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueAStringBSchema() *Schema {
	return &Schema{
		Name: "T",
		Columns: []ColumnSchema{
			{Name: "a", Type: algebra.AlgebraicType{Kind: algebra.KindU64}, Unique: true},
			{Name: "b", Type: algebra.AlgebraicType{Kind: algebra.KindString}},
		},
		Indexes: []IndexDef{
			{Name: "a_unique", Columns: []int{0}, Unique: true},
		},
	}
}

// Scenario A — unique index enforcement.
func TestScenarioAUniqueIndexEnforcement(t *testing.T) {
	tbl := NewTable(uniqueAStringBSchema(), blob.NewMemoryStore())

	p1, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U64(1), algebra.String("x")})
	require.NoError(t, err)

	_, err = tbl.Insert([]algebra.AlgebraicValue{algebra.U64(1), algebra.String("y")})
	require.Error(t, err)

	rows := tbl.Iter()
	require.Len(t, rows, 1)
	assert.Equal(t, p1, rows[0].Pointer)
	assert.Equal(t, "x", rows[0].Values[1].Str)
}

func TestInsertIgnoresByteEqualDuplicate(t *testing.T) {
	tbl := NewTable(uniqueAStringBSchema(), blob.NewMemoryStore())
	p1, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U64(2), algebra.String("z")})
	require.NoError(t, err)

	p2, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U64(2), algebra.String("z")})
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Len(t, tbl.Iter(), 1)
}

func TestDeleteInvalidatesPointerViaGeneration(t *testing.T) {
	tbl := NewTable(uniqueAStringBSchema(), blob.NewMemoryStore())
	p1, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U64(5), algebra.String("v")})
	require.NoError(t, err)

	assert.True(t, tbl.Delete(p1))
	assert.False(t, tbl.Delete(p1), "deleting an already-free slot must fail")
	assert.Empty(t, tbl.Iter())
}

// Scenario C — range scan ordering.
func TestScenarioCRangeScanOrdering(t *testing.T) {
	schema := &Schema{
		Name: "R",
		Columns: []ColumnSchema{
			{Name: "a", Type: algebra.AlgebraicType{Kind: algebra.KindI32}},
		},
		Indexes: []IndexDef{
			{Name: "a_idx", Columns: []int{0}},
		},
	}
	tbl := NewTable(schema, blob.NewMemoryStore())
	for _, v := range []int32{3, 1, 2, 5, 4} {
		_, err := tbl.Insert([]algebra.AlgebraicValue{algebra.I32(v)})
		require.NoError(t, err)
	}

	ptrs, err := tbl.SeekIndexRange("a_idx",
		[]algebra.AlgebraicValue{algebra.I32(2)},
		[]algebra.AlgebraicValue{algebra.I32(4)},
		index.Included, index.Included)
	require.NoError(t, err)
	require.Len(t, ptrs, 3)

	var got []int32
	for _, p := range ptrs {
		vals, err := tbl.Project(p, []int{0})
		require.NoError(t, err)
		got = append(got, int32(vals[0].I64))
	}
	assert.Equal(t, []int32{2, 3, 4}, got)
}

// Scenario F — bytes-packed key: a composite key that fits in N bytes stays
// on the specialized adapter.
func TestScenarioFBytesPackedKeyStaysSpecializedWhenItFits(t *testing.T) {
	schema := &Schema{
		Name: "C",
		Columns: []ColumnSchema{
			{Name: "a", Type: algebra.AlgebraicType{Kind: algebra.KindU32}},
			{Name: "b", Type: algebra.AlgebraicType{Kind: algebra.KindU32}},
		},
		Indexes: []IndexDef{
			{Name: "ab", Columns: []int{0, 1}, Unique: true, PackWidth: 8},
		},
	}
	tbl := NewTable(schema, blob.NewMemoryStore())

	p1, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U32(1), algebra.U32(2)})
	require.NoError(t, err)

	ptrs, err := tbl.SeekIndexPoint("ab", []algebra.AlgebraicValue{algebra.U32(1), algebra.U32(2)})
	require.NoError(t, err)
	require.Equal(t, []index.RowPointer{p1}, ptrs)

	comp := tbl.indexes[0].(*compositeIndex)
	assert.False(t, comp.despecialized)
}

func TestBlobSpillAndDedupThroughTable(t *testing.T) {
	schema := &Schema{
		Name: "B",
		Columns: []ColumnSchema{
			{Name: "id", Type: algebra.AlgebraicType{Kind: algebra.KindU32}},
			{Name: "payload", Type: algebra.AlgebraicType{Kind: algebra.KindBytes}},
		},
	}
	store := blob.NewMemoryStore()
	tbl := NewTable(schema, store)

	big := make([]byte, 10*1024)
	for i := range big {
		big[i] = byte(i)
	}

	p1, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U32(1), algebra.BytesValue(big)})
	require.NoError(t, err)
	h := blob.HashOf(big)
	assert.Equal(t, 1, store.Count(h))

	stored, ok := tbl.pages[p1.Page].get(p1.Offset, p1.Generation)
	require.True(t, ok)
	assert.Less(t, len(stored), len(big), "row bytes should shrink once the payload spills")

	vals, err := tbl.Project(p1, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, big, vals[1].Bytes, "Project must dereference the spilled payload back through the blob store")

	rows := tbl.Iter()
	require.Len(t, rows, 1)
	assert.Equal(t, big, rows[0].Values[1].Bytes, "Iter must also inflate spilled columns")

	p2, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U32(2), algebra.BytesValue(append([]byte{}, big...))})
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, 2, store.Count(h))

	tbl.Delete(p1)
	assert.Equal(t, 1, store.Count(h))
	tbl.Delete(p2)
	assert.Equal(t, 0, store.Count(h))
}

func TestIterAsOfHidesRowsInsertedAfterSnapshot(t *testing.T) {
	tbl := NewTable(uniqueAStringBSchema(), blob.NewMemoryStore())

	p1, err := tbl.InsertAt([]algebra.AlgebraicValue{algebra.U64(1), algebra.String("x")}, 1)
	require.NoError(t, err)

	rows := tbl.IterAsOf(0)
	assert.Empty(t, rows, "a reader snapshotted before offset 1 must not see a row inserted at offset 1")

	rows = tbl.IterAsOf(1)
	require.Len(t, rows, 1)
	assert.Equal(t, p1, rows[0].Pointer)
}

func TestIterAsOfStillSeesRowsTombstonedAfterSnapshot(t *testing.T) {
	tbl := NewTable(uniqueAStringBSchema(), blob.NewMemoryStore())

	p1, err := tbl.InsertAt([]algebra.AlgebraicValue{algebra.U64(2), algebra.String("y")}, 1)
	require.NoError(t, err)

	// minOpenSnapshot of 1 means an open reader at offset 1 still needs the
	// pre-delete row, so this tombstones instead of reclaiming.
	assert.True(t, tbl.DeleteAt(p1, 2, 1))

	assert.Empty(t, tbl.Iter(), "the current view excludes a tombstoned row")
	rowsAsOf1 := tbl.IterAsOf(1)
	require.Len(t, rowsAsOf1, 1, "a reader snapshotted before the delete still sees the row")
	rowsAsOf2 := tbl.IterAsOf(2)
	assert.Empty(t, rowsAsOf2, "a reader snapshotted at or after the delete does not")
}

func TestSweepTombstonesReclaimsOnceNoReaderCanNeedThem(t *testing.T) {
	schema := &Schema{
		Name: "B",
		Columns: []ColumnSchema{
			{Name: "id", Type: algebra.AlgebraicType{Kind: algebra.KindU32}},
			{Name: "payload", Type: algebra.AlgebraicType{Kind: algebra.KindBytes}},
		},
	}
	store := blob.NewMemoryStore()
	tbl := NewTable(schema, store)

	big := make([]byte, 1024)
	for i := range big {
		big[i] = byte(i * 3)
	}
	h := blob.HashOf(big)

	p1, err := tbl.InsertAt([]algebra.AlgebraicValue{algebra.U32(1), algebra.BytesValue(big)}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count(h))

	assert.True(t, tbl.DeleteAt(p1, 2, 1))
	assert.Equal(t, 1, store.Count(h), "tombstoning must not free a blob an older reader might still need")

	tbl.SweepTombstones(1)
	assert.Equal(t, 1, store.Count(h), "nothing is reclaimable yet: the delete happened at offset 2")

	tbl.SweepTombstones(2)
	assert.Equal(t, 0, store.Count(h), "once no open reader predates the delete, the blob ref is freed")
}

func TestBlobSpillDuplicateInsertDoesNotLeakRefcount(t *testing.T) {
	schema := &Schema{
		Name: "B",
		Columns: []ColumnSchema{
			{Name: "id", Type: algebra.AlgebraicType{Kind: algebra.KindU32}},
			{Name: "payload", Type: algebra.AlgebraicType{Kind: algebra.KindBytes}},
		},
	}
	store := blob.NewMemoryStore()
	tbl := NewTable(schema, store)

	big := make([]byte, 1024)
	for i := range big {
		big[i] = byte(i * 7)
	}
	h := blob.HashOf(big)

	p1, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U32(9), algebra.BytesValue(big)})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count(h))

	// byte-identical row: Insert returns the existing pointer and must not
	// leave a dangling reference behind on the discarded encode's spill.
	p2, err := tbl.Insert([]algebra.AlgebraicValue{algebra.U32(9), algebra.BytesValue(append([]byte{}, big...))})
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, store.Count(h))

	tbl.Delete(p1)
	assert.Equal(t, 0, store.Count(h))
}
