package mvcc

import (
	"testing"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/blob"
	"github.com/spacetime-core/storage/internal/commitlog"
	"github.com/spacetime-core/storage/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatastore() (*Datastore, TableId) {
	ds := NewDatastore(DefaultConfig(), blob.NewMemoryStore())
	id := ds.CreateTable(&table.Schema{
		Name: "widgets",
		Columns: []table.ColumnSchema{
			{Name: "id", Type: algebra.AlgebraicType{Kind: algebra.KindU64}, Unique: true},
			{Name: "name", Type: algebra.AlgebraicType{Kind: algebra.KindString}},
		},
		Indexes: []table.IndexDef{
			{Name: "id_unique", Columns: []int{0}, Unique: true},
		},
	})
	return ds, id
}

func TestMutTxInsertNotVisibleUntilCommit(t *testing.T) {
	ds, id := newTestDatastore()

	mt := ds.BeginWrite()
	_, err := mt.Insert(id, []algebra.AlgebraicValue{algebra.U64(1), algebra.String("a")})
	require.NoError(t, err)

	rows, err := mt.Iter(id)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "the writer's own tx sees its pending insert")

	readBeforeCommit := ds.BeginRead()
	committedRows, err := readBeforeCommit.Iter(id)
	require.NoError(t, err)
	assert.Empty(t, committedRows, "readers never see an uncommitted delta")

	txdata, err := mt.Commit()
	require.NoError(t, err)
	assert.Equal(t, 1, txdata.Inserts[id])

	readAfterCommit := ds.BeginRead()
	after, err := readAfterCommit.Iter(id)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "a", after[0].Values[1].Str)
}

func TestMutTxRollbackDiscardsDelta(t *testing.T) {
	ds, id := newTestDatastore()

	mt := ds.BeginWrite()
	_, err := mt.Insert(id, []algebra.AlgebraicValue{algebra.U64(2), algebra.String("b")})
	require.NoError(t, err)
	mt.Rollback()

	tx := ds.BeginRead()
	rows, err := tx.Iter(id)
	require.NoError(t, err)
	assert.Empty(t, rows)

	mt2 := ds.BeginWrite()
	_, err = mt2.Insert(id, []algebra.AlgebraicValue{algebra.U64(2), algebra.String("c")})
	require.NoError(t, err)
	_, err = mt2.Commit()
	require.NoError(t, err, "rollback must not have consumed the id=2 unique slot")
}

func TestWriterLockSerializesMutTx(t *testing.T) {
	ds, id := newTestDatastore()

	mt1 := ds.BeginWrite()
	_, err := mt1.Insert(id, []algebra.AlgebraicValue{algebra.U64(3), algebra.String("x")})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		mt2 := ds.BeginWrite()
		close(acquired)
		mt2.Rollback()
	}()

	select {
	case <-acquired:
		t.Fatal("second BeginWrite must block while the first MutTx is open")
	default:
	}

	_, err = mt1.Commit()
	require.NoError(t, err)
	<-acquired
}

func TestMutTxDeleteRemovesPendingInsertWithoutTouchingTable(t *testing.T) {
	ds, id := newTestDatastore()

	mt := ds.BeginWrite()
	ptr, err := mt.Insert(id, []algebra.AlgebraicValue{algebra.U64(4), algebra.String("d")})
	require.NoError(t, err)

	ok, err := mt.Delete(id, ptr)
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := mt.Iter(id)
	require.NoError(t, err)
	assert.Empty(t, rows)

	txdata, err := mt.Commit()
	require.NoError(t, err)
	assert.Equal(t, 0, txdata.Inserts[id])
	assert.Equal(t, 0, txdata.Deletes[id])
}

func TestMutTxDeleteCommittedRowAppliesAtCommit(t *testing.T) {
	ds, id := newTestDatastore()

	mt := ds.BeginWrite()
	ptr, err := mt.Insert(id, []algebra.AlgebraicValue{algebra.U64(5), algebra.String("e")})
	require.NoError(t, err)
	_, err = mt.Commit()
	require.NoError(t, err)

	mt2 := ds.BeginWrite()
	ok, err := mt2.Delete(id, ptr)
	require.NoError(t, err)
	assert.True(t, ok)
	txdata, err := mt2.Commit()
	require.NoError(t, err)
	assert.Equal(t, 1, txdata.Deletes[id])

	tx := ds.BeginRead()
	rows, err := tx.Iter(id)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCommitRejectsUniqueViolationAndLeavesCommittedStateIntact(t *testing.T) {
	ds, id := newTestDatastore()

	mt1 := ds.BeginWrite()
	_, err := mt1.Insert(id, []algebra.AlgebraicValue{algebra.U64(6), algebra.String("f")})
	require.NoError(t, err)
	_, err = mt1.Commit()
	require.NoError(t, err)

	mt2 := ds.BeginWrite()
	_, err = mt2.Insert(id, []algebra.AlgebraicValue{algebra.U64(6), algebra.String("g")})
	require.NoError(t, err)
	_, err = mt2.Commit()
	require.Error(t, err)

	tx := ds.BeginRead()
	rows, err := tx.Iter(id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "f", rows[0].Values[1].Str)
}

func TestReadTxDoesNotObserveACommitAfterItsSnapshot(t *testing.T) {
	ds, id := newTestDatastore()

	mt1 := ds.BeginWrite()
	_, err := mt1.Insert(id, []algebra.AlgebraicValue{algebra.U64(10), algebra.String("p")})
	require.NoError(t, err)
	_, err = mt1.Commit()
	require.NoError(t, err)

	tx := ds.BeginRead()

	mt2 := ds.BeginWrite()
	_, err = mt2.Insert(id, []algebra.AlgebraicValue{algebra.U64(11), algebra.String("q")})
	require.NoError(t, err)
	_, err = mt2.Commit()
	require.NoError(t, err)

	rows, err := tx.Iter(id)
	require.NoError(t, err)
	require.Len(t, rows, 1, "tx's snapshot predates the second commit")
	assert.Equal(t, "p", rows[0].Values[1].Str)
	tx.Close()

	fresh := ds.BeginRead()
	freshRows, err := fresh.Iter(id)
	require.NoError(t, err)
	assert.Len(t, freshRows, 2, "a tx begun after both commits sees both rows")
	fresh.Close()
}

func TestReadTxStillSeesRowDeletedAfterItsSnapshot(t *testing.T) {
	ds, id := newTestDatastore()

	mt1 := ds.BeginWrite()
	ptr, err := mt1.Insert(id, []algebra.AlgebraicValue{algebra.U64(12), algebra.String("r")})
	require.NoError(t, err)
	_, err = mt1.Commit()
	require.NoError(t, err)

	tx := ds.BeginRead()
	defer tx.Close()

	mt2 := ds.BeginWrite()
	ok, err := mt2.Delete(id, ptr)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = mt2.Commit()
	require.NoError(t, err)

	rows, err := tx.Iter(id)
	require.NoError(t, err)
	require.Len(t, rows, 1, "a reader snapshotted before the delete still sees the row")

	after := ds.BeginRead()
	defer after.Close()
	afterRows, err := after.Iter(id)
	require.NoError(t, err)
	assert.Empty(t, afterRows, "a reader snapshotted after the delete does not")
}

func TestCommitWritesDurableRecordsReplayableAfterRestart(t *testing.T) {
	dir := t.TempDir()

	ds, id := newTestDatastore()
	w, err := commitlog.NewWriter(dir, 0, commitlog.DefaultWriterConfig())
	require.NoError(t, err)
	ds.AttachWAL(w)

	mt := ds.BeginWrite()
	_, err = mt.Insert(id, []algebra.AlgebraicValue{algebra.U64(9), algebra.String("h")})
	require.NoError(t, err)
	_, err = mt.Commit()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ds2, id2 := newTestDatastore()
	result, err := commitlog.Recover(dir, 0, ds2.ReplayCommit)
	require.NoError(t, err)
	assert.False(t, result.TruncatedSegment)

	tx := ds2.BeginRead()
	rows, err := tx.Iter(id2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "h", rows[0].Values[1].Str)
}
