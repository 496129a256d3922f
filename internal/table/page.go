package table

// PageSize is the nominal fixed size of one page in the arena, per
// spec.md's "typically 64 KiB".
const PageSize = 64 * 1024

type pageSlot struct {
	occupied   bool
	generation uint32
	data       []byte

	// insertedAt/deletedAt are the commit-offset versions a row's
	// visibility is judged against by an AsOf read. 0 for insertedAt means
	// "always visible" (genesis/replayed/restored data, never tx-versioned).
	// 0 for deletedAt means "not deleted".
	insertedAt uint64
	deletedAt  uint64
}

// page holds packed rows for one page index in the arena. Its header is
// modeled as the slot table's occupied bits plus each slot's generation
// counter; freeList lets deleted slots be reused without reshuffling.
type page struct {
	slots     []pageSlot
	freeList  []uint16
	bytesUsed int
}

func newPage() *page {
	return &page{}
}

// alloc reserves a slot for data, reusing a free slot if one exists and
// bumping its generation so any RowPointer referring to the slot's prior
// occupant is invalidated. version tags the row with the commit offset an
// AsOf read must be at or past to see it.
func (p *page) alloc(data []byte, version uint64) (offset uint16, generation uint32) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.slots[idx].occupied = true
		p.slots[idx].generation++
		p.slots[idx].data = data
		p.slots[idx].insertedAt = version
		p.slots[idx].deletedAt = 0
		p.bytesUsed += len(data)
		return idx, p.slots[idx].generation
	}
	p.slots = append(p.slots, pageSlot{occupied: true, generation: 1, data: data, insertedAt: version})
	p.bytesUsed += len(data)
	return uint16(len(p.slots) - 1), 1
}

// allocAt places data at an exact offset/generation, growing the slot table
// with unoccupied padding slots if offset is past its current end. Used only
// by snapshot restore, which must reproduce the original RowPointer identity
// so replayed WAL records (addressed by pointer) still resolve correctly.
// Callers must present offsets for a given page in ascending order (the
// order Table.Iter/DumpForSnapshot yields them in) — a padding slot added
// to bridge a gap is pushed onto freeList, and filling that gap later via
// allocAt, rather than the normal alloc reuse path, would leave a stale
// freeList entry pointing at an occupied slot.
func (p *page) allocAt(offset uint16, generation uint32, data []byte, version uint64) {
	for int(offset) >= len(p.slots) {
		if uint16(len(p.slots)) != offset {
			p.freeList = append(p.freeList, uint16(len(p.slots)))
		}
		p.slots = append(p.slots, pageSlot{})
	}
	p.slots[offset] = pageSlot{
		occupied:   true,
		generation: generation,
		data:       data,
		insertedAt: version,
	}
	p.bytesUsed += len(data)
}

// free releases the slot at offset if its generation matches, returning
// whether the slot was live. The slot's generation is left as-is; the next
// alloc into it bumps it again, so stale pointers from either side of a
// delete-then-reinsert never alias.
func (p *page) free(offset uint16, generation uint32) bool {
	if int(offset) >= len(p.slots) {
		return false
	}
	s := &p.slots[offset]
	if !s.occupied || s.generation != generation {
		return false
	}
	p.bytesUsed -= len(s.data)
	s.occupied = false
	s.data = nil
	p.freeList = append(p.freeList, offset)
	return true
}

// tombstone marks a live slot deleted as of version without reclaiming its
// storage, so an AsOf read from before version can still see it. The slot
// stays out of get's "current" view from this point on.
func (p *page) tombstone(offset uint16, generation uint32, version uint64) bool {
	if int(offset) >= len(p.slots) {
		return false
	}
	s := &p.slots[offset]
	if !s.occupied || s.generation != generation || s.deletedAt != 0 {
		return false
	}
	s.deletedAt = version
	return true
}

// reclaimableTombstones returns the slot offsets tombstoned at or before
// minOpenSnapshot: no open reader's snapshot can still need their data.
func (p *page) reclaimableTombstones(minOpenSnapshot uint64) []uint16 {
	var out []uint16
	for i, s := range p.slots {
		if s.occupied && s.deletedAt != 0 && s.deletedAt <= minOpenSnapshot {
			out = append(out, uint16(i))
		}
	}
	return out
}

// reclaim actually frees a tombstoned slot found via reclaimableTombstones.
func (p *page) reclaim(offset uint16) {
	s := &p.slots[offset]
	if !s.occupied {
		return
	}
	p.bytesUsed -= len(s.data)
	s.occupied = false
	s.data = nil
	p.freeList = append(p.freeList, offset)
}

// get returns a slot's data as of "now": occupied and not tombstoned,
// regardless of when it was inserted. This is what every non-versioned
// caller (MutTx, table tests, replay, restore) wants.
func (p *page) get(offset uint16, generation uint32) ([]byte, bool) {
	if int(offset) >= len(p.slots) {
		return nil, false
	}
	s := p.slots[offset]
	if !s.occupied || s.generation != generation || s.deletedAt != 0 {
		return nil, false
	}
	return s.data, true
}

// getAsOf returns a slot's data as it stood at commit offset asOf: visible
// once inserted at or before asOf, and only until (not including) the
// offset it was tombstoned at.
func (p *page) getAsOf(offset uint16, generation uint32, asOf uint64) ([]byte, bool) {
	if int(offset) >= len(p.slots) {
		return nil, false
	}
	s := p.slots[offset]
	if !s.occupied || s.generation != generation {
		return nil, false
	}
	if s.insertedAt > asOf {
		return nil, false
	}
	if s.deletedAt != 0 && s.deletedAt <= asOf {
		return nil, false
	}
	return s.data, true
}

// hasRoom reports whether n more bytes fit before the page should rotate,
// a loose accounting since real per-slot overhead is small and fixed.
func (p *page) hasRoom(n int) bool {
	return p.bytesUsed+n <= PageSize
}
