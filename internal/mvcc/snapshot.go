package mvcc

import (
	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/index"
	"github.com/spacetime-core/storage/internal/snapshot"
)

// DumpForSnapshot captures every table's live rows for the snapshot
// worker's trigger(offset), per §4.5: "persist the live state of the
// datastore periodically". It takes only the table-map read lock, not the
// writer lock, so it reflects a single consistent offset only while the
// caller holds the writer lock through an open MutTx, as cmd/storaged's
// snapshot loop does.
func (d *Datastore) DumpForSnapshot() []snapshot.TableDump {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dumps := make([]snapshot.TableDump, 0, len(d.tables))
	for id, t := range d.tables {
		rows := t.Iter()
		vals := make([][]algebra.AlgebraicValue, len(rows))
		ptrs := make([]index.RowPointer, len(rows))
		for i, r := range rows {
			vals[i] = r.Values
			ptrs[i] = r.Pointer
		}
		dumps = append(dumps, snapshot.TableDump{Name: d.schemas[id].Name, Rows: vals, Pointers: ptrs})
	}
	return dumps
}

// RestoreFromSnapshot replays a snapshot manifest's row dumps into the
// matching already-created tables (by name), used at startup before
// commitlog replay resumes from the snapshot's offset, per §4.4 step 4.
// Every row is restored at its original RowPointer, not a freshly allocated
// one, so any WAL record replayed afterward (addressed by pointer) still
// resolves to the row it was recorded against.
func (d *Datastore) RestoreFromSnapshot(m snapshot.Manifest) error {
	d.mu.RLock()
	byName := make(map[string]*TableId)
	for id, schema := range d.schemas {
		idCopy := id
		byName[schema.Name] = &idCopy
	}
	d.mu.RUnlock()

	for _, td := range m.Tables {
		idPtr, ok := byName[td.Name]
		if !ok {
			continue
		}
		t, err := d.table(*idPtr)
		if err != nil {
			return err
		}
		for i, row := range td.Rows {
			ptr := index.RowPointer{}
			if i < len(td.Pointers) {
				ptr = td.Pointers[i]
			}
			if err := t.InsertAtPointer(row, ptr, 0); err != nil {
				return err
			}
		}
	}
	d.committedOffset = m.Offset
	return nil
}
