package mvcc

import (
	"sync/atomic"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/index"
	"github.com/spacetime-core/storage/internal/table"
	"github.com/spacetime-core/storage/pkg/storeerr"
)

// MutTx is a mutable transaction holding the writer lock and a tx-local
// delta until commit or rollback. Within it, reads see committed ∪ delta;
// writes land in the delta only, per §4.6.
type MutTx struct {
	ds             *Datastore
	snapshotOffset uint64
	delta          *delta
	done           int32
}

// Insert stages a row into the delta and returns a tx-local pointer. The
// row is not visible to other transactions until Commit.
func (tx *MutTx) Insert(tableId TableId, vals []algebra.AlgebraicValue) (index.RowPointer, error) {
	if _, err := tx.ds.table(tableId); err != nil {
		return index.RowPointer{}, err
	}
	return tx.delta.stageInsert(tableId, vals), nil
}

// Delete stages a delete. If ptr names a pending insert in this same
// MutTx's delta, the staged insert is simply discarded; otherwise the
// delete is recorded against the committed row and applied at commit.
func (tx *MutTx) Delete(tableId TableId, ptr index.RowPointer) (bool, error) {
	if _, err := tx.ds.table(tableId); err != nil {
		return false, err
	}
	if ptr.Squashed == deltaSquashTag {
		return tx.delta.removePendingInsert(tableId, ptr), nil
	}
	tx.delta.stageDelete(tableId, ptr)
	return true, nil
}

// Iter visits committed rows not deleted in this delta, plus this delta's
// own pending inserts.
func (tx *MutTx) Iter(tableId TableId) ([]table.RowRef, error) {
	t, err := tx.ds.table(tableId)
	if err != nil {
		return nil, err
	}
	var out []table.RowRef
	for _, r := range t.Iter() {
		if tx.delta.isDeleted(tableId, r.Pointer) {
			continue
		}
		out = append(out, r)
	}
	for _, p := range tx.delta.inserts[tableId] {
		out = append(out, table.RowRef{Pointer: p.localPtr, Values: p.values})
	}
	return out, nil
}

// Txdata summarizes a successful commit: the offset it committed at and the
// number of rows inserted and deleted per table. The commitlog records
// themselves are built and appended by appendToWAL; Tables is not filled
// in by Commit.
type Txdata struct {
	Offset  uint64
	Tables  []TableId
	Inserts map[TableId]int
	Deletes map[TableId]int
}

// Commit validates unique constraints against committed ∪ delta by
// attempting each staged insert against the real table, applies staged
// deletes, re-tags delta rows as committed in place, and advances the
// durable offset. On any error the inserts this commit already applied are
// removed again. Either way the MutTx is finished: the writer lock is
// released, a second Commit returns an error, and Rollback does nothing.
func (tx *MutTx) Commit() (*Txdata, error) {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return nil, storeerr.NewIOError("commit", errAlreadyFinished)
	}
	defer tx.ds.writerMu.Unlock()

	txdata := &Txdata{Inserts: make(map[TableId]int), Deletes: make(map[TableId]int)}
	var applied []appliedInsert
	var deletedPtrs []deletedPointer

	// candidateOffset is the offset this commit will publish if it succeeds.
	// Computing it now (rather than atomically incrementing) is safe because
	// writerMu is held for the whole commit, so no other MutTx can race this
	// read; rows are tagged with it below but it is only published at the end.
	candidateOffset := atomic.LoadUint64(&tx.ds.committedOffset) + 1
	minOpen := tx.ds.minOpenSnapshot()

	for tableId, deletions := range tx.delta.deletes {
		t, err := tx.ds.table(tableId)
		if err != nil {
			tx.rollbackApplied(applied)
			return nil, err
		}
		for ptr := range deletions {
			t.DeleteAt(ptr, candidateOffset, minOpen)
			deletedPtrs = append(deletedPtrs, deletedPointer{tableId: tableId, ptr: ptr})
			txdata.Deletes[tableId]++
		}
	}

	for tableId, rows := range tx.delta.inserts {
		t, err := tx.ds.table(tableId)
		if err != nil {
			tx.rollbackApplied(applied)
			return nil, err
		}
		for _, r := range rows {
			ptr, err := t.InsertAt(r.values, candidateOffset)
			if err != nil {
				tx.rollbackApplied(applied)
				return nil, err
			}
			applied = append(applied, appliedInsert{tableId: tableId, ptr: ptr, values: r.values})
			txdata.Inserts[tableId]++
		}
	}

	if tx.ds.wal != nil {
		if err := tx.appendToWAL(deletedPtrs, applied); err != nil {
			tx.rollbackApplied(applied)
			return nil, err
		}
	}

	atomic.StoreUint64(&tx.ds.committedOffset, candidateOffset)
	txdata.Offset = candidateOffset
	tx.ds.cfg.Logger.Debug().Uint64("offset", candidateOffset).Msg("transaction committed")
	return txdata, nil
}

// appendToWAL flattens this commit's mutations into commitlog records and
// durably commits them before the offset is advanced, per §4.4: a commit is
// only acknowledged once its records are fsynced.
func (tx *MutTx) appendToWAL(deletedPtrs []deletedPointer, applied []appliedInsert) error {
	var records [][]byte
	for _, d := range deletedPtrs {
		data, err := encodeWALRecord(walRecord{Op: walDelete, Table: d.tableId, Ptr: d.ptr})
		if err != nil {
			return err
		}
		records = append(records, data)
	}
	for _, a := range applied {
		data, err := encodeWALRecord(walRecord{Op: walInsert, Table: a.tableId, Ptr: a.ptr, Values: a.values})
		if err != nil {
			return err
		}
		records = append(records, data)
	}
	if len(records) == 0 {
		return nil
	}
	if err := tx.ds.wal.Append(records); err != nil {
		return err
	}
	if _, err := tx.ds.wal.Commit(); err != nil {
		return err
	}
	return nil
}

type appliedInsert struct {
	tableId TableId
	ptr     index.RowPointer
	values  []algebra.AlgebraicValue
}

type deletedPointer struct {
	tableId TableId
	ptr     index.RowPointer
}

func (tx *MutTx) rollbackApplied(applied []appliedInsert) {
	for _, a := range applied {
		if t, err := tx.ds.table(a.tableId); err == nil {
			t.Delete(a.ptr)
		}
	}
}

// Rollback discards the delta; it has no durable effect.
func (tx *MutTx) Rollback() {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return
	}
	tx.ds.writerMu.Unlock()
}

var errAlreadyFinished = &finishedError{}

type finishedError struct{}

func (*finishedError) Error() string { return "transaction already committed or rolled back" }
