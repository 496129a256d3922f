package mvcc

import (
	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/index"
)

// deltaSquashTag marks a RowPointer as naming a tx-local pending insert
// rather than a row already materialized in the table's page arena, per
// §3's "distinct squashed-offset tags" invariant.
const deltaSquashTag = 1

// pendingInsert is one row staged in a MutTx's delta, not yet applied to
// the table's real page arena.
type pendingInsert struct {
	localPtr index.RowPointer
	values   []algebra.AlgebraicValue
}

// delta is the tx-local accumulation of inserts and deletes a MutTx
// gathers before commit. Reads inside the MutTx observe committed ∪ delta;
// writes land only here until commit.
type delta struct {
	inserts      map[TableId][]pendingInsert
	deletes      map[TableId]map[index.RowPointer]bool
	nextLocalPtr uint32
}

func newDelta() *delta {
	return &delta{
		inserts: make(map[TableId][]pendingInsert),
		deletes: make(map[TableId]map[index.RowPointer]bool),
	}
}

func (d *delta) stageInsert(tableId TableId, vals []algebra.AlgebraicValue) index.RowPointer {
	d.nextLocalPtr++
	ptr := index.RowPointer{Page: 0, Offset: uint16(d.nextLocalPtr), Squashed: deltaSquashTag, Generation: d.nextLocalPtr}
	d.inserts[tableId] = append(d.inserts[tableId], pendingInsert{localPtr: ptr, values: vals})
	return ptr
}

// removePendingInsert removes a staged insert by its local pointer,
// returning whether one was found.
func (d *delta) removePendingInsert(tableId TableId, ptr index.RowPointer) bool {
	rows := d.inserts[tableId]
	for i, r := range rows {
		if r.localPtr == ptr {
			d.inserts[tableId] = append(rows[:i], rows[i+1:]...)
			return true
		}
	}
	return false
}

func (d *delta) stageDelete(tableId TableId, ptr index.RowPointer) {
	if d.deletes[tableId] == nil {
		d.deletes[tableId] = make(map[index.RowPointer]bool)
	}
	d.deletes[tableId][ptr] = true
}

func (d *delta) isDeleted(tableId TableId, ptr index.RowPointer) bool {
	return d.deletes[tableId] != nil && d.deletes[tableId][ptr]
}
