package mvcc

import (
	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/index"
	"github.com/spacetime-core/storage/internal/table"
)

// Tx is a read-only transaction observing the committed state as of the
// moment it began. It never blocks, and never observes a commit that
// happened after it started, matching the ordering guarantee in §5.
type Tx struct {
	ds             *Datastore
	snapshotOffset uint64
}

// Iter visits every row of tableId live at this Tx's snapshot, excluding
// rows inserted and rows already reclaimed (tombstoned-and-swept) after it.
func (tx *Tx) Iter(tableId TableId) ([]table.RowRef, error) {
	t, err := tx.ds.table(tableId)
	if err != nil {
		return nil, err
	}
	return t.IterAsOf(tx.snapshotOffset), nil
}

// SeekIndexPoint performs a point lookup against a named index, filtered to
// this Tx's snapshot.
func (tx *Tx) SeekIndexPoint(tableId TableId, indexName string, key []algebra.AlgebraicValue) ([]index.RowPointer, error) {
	t, err := tx.ds.table(tableId)
	if err != nil {
		return nil, err
	}
	return t.SeekIndexPointAsOf(indexName, key, tx.snapshotOffset)
}

// SeekIndexRange performs a range lookup against a range-capable index,
// filtered to this Tx's snapshot.
func (tx *Tx) SeekIndexRange(tableId TableId, indexName string, lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind) ([]index.RowPointer, error) {
	t, err := tx.ds.table(tableId)
	if err != nil {
		return nil, err
	}
	return t.SeekIndexRangeAsOf(indexName, lower, upper, lowerKind, upperKind, tx.snapshotOffset)
}

// Project reads the given columns of a row as it stood at this Tx's
// snapshot.
func (tx *Tx) Project(tableId TableId, ptr index.RowPointer, columns []int) ([]algebra.AlgebraicValue, error) {
	t, err := tx.ds.table(tableId)
	if err != nil {
		return nil, err
	}
	return t.ProjectAsOf(ptr, columns, tx.snapshotOffset)
}

// Close releases this Tx's hold on its snapshot offset, letting the
// datastore reclaim tombstoned rows no earlier reader still needs.
func (tx *Tx) Close() {
	tx.ds.untrackReader(tx.snapshotOffset)
}
