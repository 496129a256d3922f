package table

import (
	"sync"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/blob"
	"github.com/spacetime-core/storage/internal/index"
	"github.com/spacetime-core/storage/pkg/storeerr"
)

// defaultPackWidth is the bytes-packed composite key width used when an
// IndexDef does not request one explicitly.
const defaultPackWidth = 16

// RowRef is a handle to a live row yielded by Iter: its pointer plus its
// decoded column values in declaration order.
type RowRef struct {
	Pointer index.RowPointer
	Values  []algebra.AlgebraicValue
}

// Table owns one schema's page arena, pointer map, and indexes. All
// mutation happens under mu, matching the spec's "owned by the database
// and mutated only under the writer lock" resource policy; Table itself
// additionally guards its own structures so it can be driven directly in
// tests without a surrounding MVCC layer.
type Table struct {
	mu sync.RWMutex

	schema    *Schema
	typespace *algebra.Typespace
	pages     []*page
	blobs     blob.Store

	pointerMap map[uint64][]index.RowPointer
	indexes    []tableIndex

	autoInc map[int]uint64 // column index -> next value, for AutoInc columns

	stats Stats
}

// Stats exposes read-only table statistics through Table.Stats().
// BlobBytesReferenced is not updated by any table operation and stays 0.
type Stats struct {
	RowCount            int
	PageCount           int
	BlobBytesReferenced int64
}

// NewTable constructs an empty table over schema, backed by the given blob
// store for oversize var-len columns.
func NewTable(schema *Schema, blobs blob.Store) *Table {
	t := &Table{
		schema:     schema,
		typespace:  algebra.NewTypespace(nil),
		pointerMap: make(map[uint64][]index.RowPointer),
		autoInc:    make(map[int]uint64),
		blobs:      blobs,
	}
	for _, def := range schema.Indexes {
		t.indexes = append(t.indexes, t.buildIndex(def))
	}
	return t
}

func (t *Table) buildIndex(def IndexDef) tableIndex {
	width := def.PackWidth
	if width == 0 {
		width = defaultPackWidth
	}
	if def.Realize == RealizeHash {
		return newHashIndex(def.Columns, def.Unique)
	}
	if len(def.Columns) > 1 {
		if def.Unique {
			return newCompositeUnique(def.Columns, width)
		}
		return newCompositeMulti(def.Columns, width)
	}
	col := def.Columns[0]
	kind := t.schema.Columns[col].Type.Kind
	return t.buildScalarIndex(col, kind, def.Unique)
}

func (t *Table) buildScalarIndex(col int, kind algebra.TypeKind, unique bool) tableIndex {
	intLess := func(a, b int64) bool { return a < b }
	intProject := func(v algebra.AlgebraicValue) (int64, error) { return v.AsInt64() }
	strLess := func(a, b string) bool { return a < b }
	strProject := func(v algebra.AlgebraicValue) (string, error) { return v.Str, nil }
	floatLess := func(a, b float64) bool { return a < b }
	floatProject := func(v algebra.AlgebraicValue) (float64, error) { return v.F64, nil }

	switch kind {
	case algebra.KindString, algebra.KindBytes:
		if unique {
			return newScalarUnique(col, strLess, strProject)
		}
		return newScalarMulti(col, strLess, strProject)
	case algebra.KindF32, algebra.KindF64:
		if unique {
			return newScalarUnique(col, floatLess, floatProject)
		}
		return newScalarMulti(col, floatLess, floatProject)
	default:
		if unique {
			return newScalarUnique(col, intLess, intProject)
		}
		return newScalarMulti(col, intLess, intProject)
	}
}

// rowHash is the pointer map's bucket key: the FNV-1a hash of the row's
// canonical encoded bytes. It does not distinguish column projections.
func rowHash(encoded []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range encoded {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// encodeRow spills any oversize Bytes column to the blob store and encodes
// the resulting stored form, the same externalize-then-encode sequence
// snapshot.Write uses for manifest rows. It returns the hashes it freshly
// inserted so a caller that ends up discarding the row (duplicate, failed
// constraint) can free them back out.
func (t *Table) encodeRow(vals []algebra.AlgebraicValue) ([]byte, []blob.Hash, error) {
	order := t.schema.CanonicalOrder()
	reordered := make([]algebra.AlgebraicValue, len(order))
	for i, colIdx := range order {
		reordered[i] = vals[colIdx]
	}
	stored, spilled, err := t.spillBlobs(reordered)
	if err != nil {
		return nil, nil, err
	}
	encoded, err := algebra.Encode(algebra.Product(stored), t.schema.RowType(), t.typespace)
	if err != nil {
		t.freeHashes(spilled)
		return nil, nil, err
	}
	return encoded, spilled, nil
}

func (t *Table) decodeRow(data []byte) ([]algebra.AlgebraicValue, error) {
	v, _, err := algebra.Decode(data, t.schema.RowType(), t.typespace)
	if err != nil {
		return nil, err
	}
	order := t.schema.CanonicalOrder()
	out := make([]algebra.AlgebraicValue, len(t.schema.Columns))
	for physicalIdx, logicalIdx := range order {
		out[logicalIdx] = v.Prod[physicalIdx]
	}
	return t.inflateBlobs(out)
}

// spillBlobs returns a copy of vals with every Bytes column at or above
// blob.InlineThreshold replaced by a BlobRef into the blob store, mirroring
// snapshot.externalizeValue. Columns already carrying a BlobRef (a value
// decoded straight off another row) pass through untouched.
func (t *Table) spillBlobs(vals []algebra.AlgebraicValue) ([]algebra.AlgebraicValue, []blob.Hash, error) {
	if t.blobs == nil {
		return vals, nil, nil
	}
	out := make([]algebra.AlgebraicValue, len(vals))
	copy(out, vals)
	var spilled []blob.Hash
	for i, v := range out {
		if v.Kind != algebra.KindBytes || v.Blob != nil || len(v.Bytes) < blob.InlineThreshold {
			continue
		}
		h, err := t.blobs.Insert(v.Bytes)
		if err != nil {
			t.freeHashes(spilled)
			return nil, nil, err
		}
		spilled = append(spilled, h)
		out[i] = algebra.AlgebraicValue{Kind: algebra.KindBytes, Blob: &algebra.BlobRef{Hash: [32]byte(h)}}
	}
	return out, spilled, nil
}

// inflateBlobs is spillBlobs's inverse: it replaces every BlobRef column
// with its bytes fetched back from the blob store.
func (t *Table) inflateBlobs(vals []algebra.AlgebraicValue) ([]algebra.AlgebraicValue, error) {
	for i, v := range vals {
		if v.Kind != algebra.KindBytes || v.Blob == nil {
			continue
		}
		if t.blobs == nil {
			return nil, storeerr.NewNoSuchBlob(blob.Hash(v.Blob.Hash).String())
		}
		data, err := t.blobs.Retrieve(blob.Hash(v.Blob.Hash))
		if err != nil {
			return nil, err
		}
		vals[i] = algebra.AlgebraicValue{Kind: algebra.KindBytes, Bytes: data}
	}
	return vals, nil
}

func (t *Table) freeHashes(hashes []blob.Hash) {
	for _, h := range hashes {
		_ = t.blobs.Free(h)
	}
}

// applyAutoInc fills unset AutoInc columns from the table's per-column
// monotonic counter, mirroring the teacher's SequenceManager.
func (t *Table) applyAutoInc(vals []algebra.AlgebraicValue) {
	for i, c := range t.schema.Columns {
		if !c.AutoInc {
			continue
		}
		if iv, err := vals[i].AsInt64(); err == nil && iv != 0 {
			if uint64(iv) >= t.autoInc[i] {
				t.autoInc[i] = uint64(iv) + 1
			}
			continue
		}
		next := t.autoInc[i] + 1
		t.autoInc[i] = next
		vals[i] = algebra.U64(next)
	}
}

// Insert runs the unique-constraint check against every unique index
// before mutating anything, then atomically takes a free slot, writes the
// row, and updates every index plus the pointer map, per §4.2's algorithm.
// The row is tagged version 0: always visible, the right tag for data that
// predates any transaction (tests, demo seed data, replay, restore).
func (t *Table) Insert(vals []algebra.AlgebraicValue) (index.RowPointer, error) {
	return t.insertAt(vals, 0)
}

// InsertAt is Insert tagged with the commit offset the row becomes visible
// at, so a concurrent AsOf read can tell whether it predates the row.
func (t *Table) InsertAt(vals []algebra.AlgebraicValue, version uint64) (index.RowPointer, error) {
	return t.insertAt(vals, version)
}

func (t *Table) insertAt(vals []algebra.AlgebraicValue, version uint64) (index.RowPointer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]algebra.AlgebraicValue, len(vals))
	copy(cp, vals)
	t.applyAutoInc(cp)

	encoded, spilled, err := t.encodeRow(cp)
	if err != nil {
		return index.RowPointer{}, err
	}
	h := rowHash(encoded)
	if existing := t.findDuplicate(h, encoded); !existing.Zero() {
		t.freeHashes(spilled) // row already present: undo this encode's spill
		return existing, nil  // byte-equal duplicate: ignore-duplicates policy
	}

	if err := t.checkUniqueConstraints(cp); err != nil {
		t.freeHashes(spilled)
		return index.RowPointer{}, err
	}

	ptr := t.allocSlot(encoded, version)

	for i, def := range t.indexes {
		if _, _, err := def.insert(cp, ptr); err != nil {
			if despec, ok := err.(*storeerr.Despecialize); ok {
				t.rebuildAsGeneric(i, despec)
				if _, _, retryErr := t.indexes[i].insert(cp, ptr); retryErr != nil {
					return index.RowPointer{}, retryErr
				}
				continue
			}
			return index.RowPointer{}, err
		}
	}

	t.pointerMap[h] = append(t.pointerMap[h], ptr)
	t.stats.RowCount++
	return ptr, nil
}

// InsertAtPointer restores a row at its original RowPointer identity,
// bypassing the normal free-slot allocation. It is used only by snapshot
// restore: the snapshot's dump records each row's pointer, and any WAL
// record replayed after the snapshot offset addresses rows by that same
// pointer, so restore must reproduce it exactly rather than letting Insert
// hand out a fresh one.
func (t *Table) InsertAtPointer(vals []algebra.AlgebraicValue, ptr index.RowPointer, version uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]algebra.AlgebraicValue, len(vals))
	copy(cp, vals)

	encoded, _, err := t.encodeRow(cp)
	if err != nil {
		return err
	}

	for int(ptr.Page) >= len(t.pages) {
		t.pages = append(t.pages, newPage())
	}
	t.pages[ptr.Page].allocAt(ptr.Offset, ptr.Generation, encoded, version)
	t.stats.PageCount = len(t.pages)

	for i, def := range t.indexes {
		if _, _, err := def.insert(cp, ptr); err != nil {
			if despec, ok := err.(*storeerr.Despecialize); ok {
				t.rebuildAsGeneric(i, despec)
				if _, _, retryErr := t.indexes[i].insert(cp, ptr); retryErr != nil {
					return retryErr
				}
				continue
			}
			return err
		}
	}

	h := rowHash(encoded)
	t.pointerMap[h] = append(t.pointerMap[h], ptr)
	t.stats.RowCount++
	return nil
}

// checkUniqueConstraints implements §4.2's "unique-constraint check"
// algorithm: project the candidate row onto each unique index's columns
// and seek_point it before any mutation occurs.
func (t *Table) checkUniqueConstraints(vals []algebra.AlgebraicValue) error {
	for i, idx := range t.indexes {
		if !idx.unique() {
			continue
		}
		existing, err := idx.seekPoint(vals)
		if despec, ok := err.(*storeerr.Despecialize); ok {
			t.rebuildAsGeneric(i, despec)
			existing, err = t.indexes[i].seekPoint(vals)
		}
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return storeerr.NewUniqueViolation("index", "projected key", existing[0].Packed())
		}
	}
	return nil
}

func (t *Table) findDuplicate(h uint64, encoded []byte) index.RowPointer {
	for _, ptr := range t.pointerMap[h] {
		pg := t.pages[ptr.Page]
		data, ok := pg.get(ptr.Offset, ptr.Generation)
		if !ok {
			continue
		}
		if string(data) == string(encoded) {
			return ptr
		}
	}
	return index.RowPointer{}
}

func (t *Table) rebuildAsGeneric(idx int, despec *storeerr.Despecialize) {
	comp, ok := t.indexes[idx].(*compositeIndex)
	if !ok {
		return
	}
	comp.despecializeWith(func() [][2]interface{} {
		var rows [][2]interface{}
		t.forEachLive(func(ptr index.RowPointer, vals []algebra.AlgebraicValue) {
			rows = append(rows, [2]interface{}{vals, ptr})
		})
		return rows
	})
}

func (t *Table) allocSlot(encoded []byte, version uint64) index.RowPointer {
	for pageIdx, pg := range t.pages {
		if pg.hasRoom(len(encoded)) {
			offset, gen := pg.alloc(encoded, version)
			return index.RowPointer{Page: uint32(pageIdx), Offset: offset, Generation: gen}
		}
	}
	pg := newPage()
	t.pages = append(t.pages, pg)
	offset, gen := pg.alloc(encoded, version)
	t.stats.PageCount = len(t.pages)
	return index.RowPointer{Page: uint32(len(t.pages) - 1), Offset: offset, Generation: gen}
}

// freeBlobRefs drops this row's reference on every blob-backed column. vals
// is already inflated (decodeRow's output), so the hash is recomputed from
// the retrieved bytes; content-addressing guarantees it matches the hash
// spillBlobs stored for this row.
func (t *Table) freeBlobRefs(vals []algebra.AlgebraicValue) {
	for _, v := range vals {
		if v.Kind == algebra.KindBytes && len(v.Bytes) >= blob.InlineThreshold && t.blobs != nil {
			h := blob.HashOf(v.Bytes)
			_ = t.blobs.Free(h)
		}
	}
}

// Delete removes ptr from every index, frees any blobs its var-len columns
// owned, and marks its slot free; the slot's generation is bumped when the
// slot is next allocated, so stale RowPointers never match the new row. It
// reclaims storage immediately; callers that
// must respect a still-open snapshot reader should use DeleteAt instead.
func (t *Table) Delete(ptr index.RowPointer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteLocked(ptr)
}

// DeleteAt removes ptr as of commit offset version. If minOpenSnapshot (the
// oldest snapshot offset any open Tx is still reading at) is already at or
// past version, no reader can need the pre-delete row, so storage is
// reclaimed immediately; otherwise the row is tombstoned in place so those
// readers keep seeing it until SweepTombstones reclaims it.
func (t *Table) DeleteAt(ptr index.RowPointer, version, minOpenSnapshot uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if minOpenSnapshot >= version {
		return t.deleteLocked(ptr)
	}
	return t.tombstoneLocked(ptr, version)
}

func (t *Table) tombstoneLocked(ptr index.RowPointer, version uint64) bool {
	if int(ptr.Page) >= len(t.pages) {
		return false
	}
	pg := t.pages[ptr.Page]
	data, ok := pg.get(ptr.Offset, ptr.Generation)
	if !ok {
		return false
	}
	vals, err := t.decodeRow(data)
	if err != nil {
		return false
	}

	for _, idx := range t.indexes {
		idx.delete(vals, ptr)
	}

	h := rowHash(data)
	bucket := t.pointerMap[h]
	for i, p := range bucket {
		if p == ptr {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.pointerMap, h)
	} else {
		t.pointerMap[h] = bucket
	}

	// Blob refs stay held: an AsOf reader from before version may still
	// need to inflate them. SweepTombstones frees them at reclaim time.
	pg.tombstone(ptr.Offset, ptr.Generation, version)
	t.stats.RowCount--
	return true
}

// SweepTombstones reclaims every tombstone whose delete version is at or
// before minOpenSnapshot: the point past which no open Tx can still need
// the pre-delete row.
func (t *Table) SweepTombstones(minOpenSnapshot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pg := range t.pages {
		for _, offset := range pg.reclaimableTombstones(minOpenSnapshot) {
			if vals, err := t.decodeRow(pg.slots[offset].data); err == nil {
				t.freeBlobRefs(vals)
			}
			pg.reclaim(offset)
		}
	}
}

func (t *Table) deleteLocked(ptr index.RowPointer) bool {
	if int(ptr.Page) >= len(t.pages) {
		return false
	}
	pg := t.pages[ptr.Page]
	data, ok := pg.get(ptr.Offset, ptr.Generation)
	if !ok {
		return false
	}
	vals, err := t.decodeRow(data)
	if err != nil {
		return false
	}

	for _, idx := range t.indexes {
		idx.delete(vals, ptr)
	}

	h := rowHash(data)
	bucket := t.pointerMap[h]
	for i, p := range bucket {
		if p == ptr {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.pointerMap, h)
	} else {
		t.pointerMap[h] = bucket
	}

	t.freeBlobRefs(vals)
	pg.free(ptr.Offset, ptr.Generation)
	t.stats.RowCount--
	return true
}

// Iter visits every live row in unspecified order.
func (t *Table) Iter() []RowRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []RowRef
	t.forEachLive(func(ptr index.RowPointer, vals []algebra.AlgebraicValue) {
		out = append(out, RowRef{Pointer: ptr, Values: vals})
	})
	return out
}

// IterAsOf visits every row visible at commit offset asOf: inserted at or
// before it, and not yet tombstoned at or before it, per a Tx's snapshot
// isolation guarantee.
func (t *Table) IterAsOf(asOf uint64) []RowRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []RowRef
	for pageIdx, pg := range t.pages {
		for slotIdx := range pg.slots {
			gen := pg.slots[slotIdx].generation
			data, ok := pg.getAsOf(uint16(slotIdx), gen, asOf)
			if !ok {
				continue
			}
			vals, err := t.decodeRow(data)
			if err != nil {
				continue
			}
			out = append(out, RowRef{
				Pointer: index.RowPointer{Page: uint32(pageIdx), Offset: uint16(slotIdx), Generation: gen},
				Values:  vals,
			})
		}
	}
	return out
}

func (t *Table) forEachLive(fn func(index.RowPointer, []algebra.AlgebraicValue)) {
	for pageIdx, pg := range t.pages {
		for slotIdx := range pg.slots {
			s := pg.slots[slotIdx]
			if !s.occupied || s.deletedAt != 0 {
				continue
			}
			vals, err := t.decodeRow(s.data)
			if err != nil {
				continue
			}
			fn(index.RowPointer{Page: uint32(pageIdx), Offset: uint16(slotIdx), Generation: s.generation}, vals)
		}
	}
}

// Project reads the given columns of ptr's row into a value list, the
// typed key used by callers performing their own index lookups.
func (t *Table) Project(ptr index.RowPointer, columns []int) ([]algebra.AlgebraicValue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(ptr.Page) >= len(t.pages) {
		return nil, storeerr.NewNoSuchRow(ptr.Packed())
	}
	data, ok := t.pages[ptr.Page].get(ptr.Offset, ptr.Generation)
	if !ok {
		return nil, storeerr.NewNoSuchRow(ptr.Packed())
	}
	vals, err := t.decodeRow(data)
	if err != nil {
		return nil, err
	}
	out := make([]algebra.AlgebraicValue, len(columns))
	for i, c := range columns {
		out[i] = vals[c]
	}
	return out, nil
}

// ProjectAsOf is Project evaluated against the row as it stood at commit
// offset asOf rather than at the current moment.
func (t *Table) ProjectAsOf(ptr index.RowPointer, columns []int, asOf uint64) ([]algebra.AlgebraicValue, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(ptr.Page) >= len(t.pages) {
		return nil, storeerr.NewNoSuchRow(ptr.Packed())
	}
	data, ok := t.pages[ptr.Page].getAsOf(ptr.Offset, ptr.Generation, asOf)
	if !ok {
		return nil, storeerr.NewNoSuchRow(ptr.Packed())
	}
	vals, err := t.decodeRow(data)
	if err != nil {
		return nil, err
	}
	out := make([]algebra.AlgebraicValue, len(columns))
	for i, c := range columns {
		out[i] = vals[c]
	}
	return out, nil
}

// Stats returns a snapshot of table-level statistics.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Schema returns the table's schema.
func (t *Table) Schema() *Schema { return t.schema }

// SeekIndexPoint looks up an index by name and performs a point query.
func (t *Table) SeekIndexPoint(name string, vals []algebra.AlgebraicValue) ([]index.RowPointer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, err := t.indexByName(name)
	if err != nil {
		return nil, err
	}
	return idx.seekPoint(vals)
}

// SeekIndexPointAsOf is SeekIndexPoint filtered to rows visible at commit
// offset asOf. A row tombstoned after asOf but already gone from the index
// itself (indexes are not multi-versioned) will not be found this way; only
// the insert-side of the snapshot guarantee is enforced for index lookups.
func (t *Table) SeekIndexPointAsOf(name string, vals []algebra.AlgebraicValue, asOf uint64) ([]index.RowPointer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, err := t.indexByName(name)
	if err != nil {
		return nil, err
	}
	ptrs, err := idx.seekPoint(vals)
	if err != nil {
		return nil, err
	}
	return t.filterVisibleAsOf(ptrs, asOf), nil
}

// SeekIndexRange performs a range query against a range-capable index.
func (t *Table) SeekIndexRange(name string, lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind) ([]index.RowPointer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, err := t.indexByName(name)
	if err != nil {
		return nil, err
	}
	return idx.seekRange(lower, upper, lowerKind, upperKind)
}

// SeekIndexRangeAsOf is SeekIndexRange filtered to rows visible at commit
// offset asOf, with the same index-versioning caveat as SeekIndexPointAsOf.
func (t *Table) SeekIndexRangeAsOf(name string, lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind, asOf uint64) ([]index.RowPointer, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, err := t.indexByName(name)
	if err != nil {
		return nil, err
	}
	ptrs, err := idx.seekRange(lower, upper, lowerKind, upperKind)
	if err != nil {
		return nil, err
	}
	return t.filterVisibleAsOf(ptrs, asOf), nil
}

func (t *Table) filterVisibleAsOf(ptrs []index.RowPointer, asOf uint64) []index.RowPointer {
	out := make([]index.RowPointer, 0, len(ptrs))
	for _, p := range ptrs {
		if int(p.Page) >= len(t.pages) {
			continue
		}
		if _, ok := t.pages[p.Page].getAsOf(p.Offset, p.Generation, asOf); ok {
			out = append(out, p)
		}
	}
	return out
}

func (t *Table) indexByName(name string) (tableIndex, error) {
	for i, def := range t.schema.Indexes {
		if def.Name == name {
			return t.indexes[i], nil
		}
	}
	return nil, storeerr.NewNoSuchIndex(0)
}
