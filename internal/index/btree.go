package index

import "github.com/google/btree"

const btreeDegree = 32

// LessFunc orders two keys of type K, the same role the spec's relaxed
// Ord-queryable overload plays for Unique B-tree lookups.
type LessFunc[K any] func(a, b K) bool

type uniqueItem[K any] struct {
	key K
	ptr RowPointer
}

// UniqueBTree is an ordered K -> RowPointer map. Insert of a key already
// present reports the existing pointer instead of mutating the tree.
type UniqueBTree[K any] struct {
	tree      *btree.BTreeG[uniqueItem[K]]
	less      LessFunc[K]
	keyBytes  func(K) int
	numBytes  int64
}

// NewUniqueBTree builds an empty unique index ordered by less. keyBytes
// estimates the BSATN-encoded size of a key for NumKeyBytes accounting; pass
// nil to skip byte accounting.
func NewUniqueBTree[K any](less LessFunc[K], keyBytes func(K) int) *UniqueBTree[K] {
	u := &UniqueBTree[K]{less: less, keyBytes: keyBytes}
	u.tree = btree.NewG(btreeDegree, func(a, b uniqueItem[K]) bool {
		return less(a.key, b.key)
	})
	return u
}

func (u *UniqueBTree[K]) Insert(key K, ptr RowPointer) (RowPointer, bool) {
	if existing, ok := u.tree.Get(uniqueItem[K]{key: key}); ok {
		return existing.ptr, false
	}
	u.tree.ReplaceOrInsert(uniqueItem[K]{key: key, ptr: ptr})
	if u.keyBytes != nil {
		u.numBytes += int64(u.keyBytes(key))
	}
	return RowPointer{}, true
}

func (u *UniqueBTree[K]) Delete(key K, ptr RowPointer) bool {
	existing, ok := u.tree.Get(uniqueItem[K]{key: key})
	if !ok || existing.ptr != ptr {
		return false
	}
	u.tree.Delete(uniqueItem[K]{key: key})
	if u.keyBytes != nil {
		u.numBytes -= int64(u.keyBytes(key))
	}
	return true
}

func (u *UniqueBTree[K]) SeekPoint(key K) []RowPointer {
	if existing, ok := u.tree.Get(uniqueItem[K]{key: key}); ok {
		return []RowPointer{existing.ptr}
	}
	return nil
}

func (u *UniqueBTree[K]) SeekRange(b Bounds[K]) []RowPointer {
	var out []RowPointer
	iterateRange(u.tree, u.less, b, func(item uniqueItem[K]) bool {
		out = append(out, item.ptr)
		return true
	})
	return out
}

func (u *UniqueBTree[K]) NumKeys() int      { return u.tree.Len() }
func (u *UniqueBTree[K]) NumRows() int      { return u.tree.Len() }
func (u *UniqueBTree[K]) NumKeyBytes() int64 { return u.numBytes }
func (u *UniqueBTree[K]) Clear() {
	u.tree.Clear(false)
	u.numBytes = 0
}

type multiItem[K any] struct {
	key  K
	ptrs []RowPointer
}

// MultiBTree is an ordered K -> set-of-RowPointer map. The common case of a
// single pointer per key is stored inline in the slice's first element;
// collisions grow the slice.
type MultiBTree[K any] struct {
	tree     *btree.BTreeG[multiItem[K]]
	less     LessFunc[K]
	keyBytes func(K) int
	numBytes int64
	numRows  int
}

// NewMultiBTree builds an empty multi-map index ordered by less.
func NewMultiBTree[K any](less LessFunc[K], keyBytes func(K) int) *MultiBTree[K] {
	m := &MultiBTree[K]{less: less, keyBytes: keyBytes}
	m.tree = btree.NewG(btreeDegree, func(a, b multiItem[K]) bool {
		return less(a.key, b.key)
	})
	return m
}

func (m *MultiBTree[K]) Insert(key K, ptr RowPointer) (RowPointer, bool) {
	existing, ok := m.tree.Get(multiItem[K]{key: key})
	if ok {
		existing.ptrs = append(existing.ptrs, ptr)
		m.tree.ReplaceOrInsert(existing)
	} else {
		m.tree.ReplaceOrInsert(multiItem[K]{key: key, ptrs: []RowPointer{ptr}})
		if m.keyBytes != nil {
			m.numBytes += int64(m.keyBytes(key))
		}
	}
	m.numRows++
	return RowPointer{}, true
}

func (m *MultiBTree[K]) Delete(key K, ptr RowPointer) bool {
	existing, ok := m.tree.Get(multiItem[K]{key: key})
	if !ok {
		return false
	}
	idx := -1
	for i, p := range existing.ptrs {
		if p == ptr {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	existing.ptrs = append(existing.ptrs[:idx], existing.ptrs[idx+1:]...)
	if len(existing.ptrs) == 0 {
		m.tree.Delete(multiItem[K]{key: key})
		if m.keyBytes != nil {
			m.numBytes -= int64(m.keyBytes(key))
		}
	} else {
		m.tree.ReplaceOrInsert(existing)
	}
	m.numRows--
	return true
}

func (m *MultiBTree[K]) SeekPoint(key K) []RowPointer {
	if existing, ok := m.tree.Get(multiItem[K]{key: key}); ok {
		out := make([]RowPointer, len(existing.ptrs))
		copy(out, existing.ptrs)
		return out
	}
	return nil
}

func (m *MultiBTree[K]) SeekRange(b Bounds[K]) []RowPointer {
	var out []RowPointer
	iterateRange(m.tree, m.less, b, func(item multiItem[K]) bool {
		out = append(out, item.ptrs...)
		return true
	})
	return out
}

func (m *MultiBTree[K]) NumKeys() int       { return m.tree.Len() }
func (m *MultiBTree[K]) NumRows() int       { return m.numRows }
func (m *MultiBTree[K]) NumKeyBytes() int64 { return m.numBytes }
func (m *MultiBTree[K]) Clear() {
	m.tree.Clear(false)
	m.numBytes = 0
	m.numRows = 0
}

// iterateRange walks tree in ascending key order within bounds b, calling
// visit for each item until it returns false. google/btree's generic API
// only exposes AscendGreaterOrEqual/Ascend, so the upper bound and
// exclusive-lower-bound checks are applied inside the callback.
func iterateRange[K any, I any](tree *btree.BTreeG[I], less LessFunc[K], b Bounds[K], visit func(I) bool, ) {
	keyOf := func(item I) K {
		switch v := any(item).(type) {
		case uniqueItem[K]:
			return v.key
		case multiItem[K]:
			return v.key
		default:
			panic("iterateRange: unsupported item type")
		}
	}

	withinUpper := func(k K) bool {
		switch b.Upper.Kind {
		case Unbounded:
			return true
		case Included:
			return !less(b.Upper.Value, k)
		case Excluded:
			return less(k, b.Upper.Value)
		}
		return true
	}

	iter := func(item I) bool {
		k := keyOf(item)
		if b.Lower.Kind == Excluded && !less(b.Lower.Value, k) && !less(k, b.Lower.Value) {
			return true // equal to excluded lower bound, skip
		}
		if !withinUpper(k) {
			return false
		}
		return visit(item)
	}

	if b.Lower.Kind == Unbounded {
		tree.Ascend(iter)
		return
	}
	var pivot I
	switch b.Lower.Kind {
	case Included, Excluded:
		switch any(pivot).(type) {
		case uniqueItem[K]:
			pivot = any(uniqueItem[K]{key: b.Lower.Value}).(I)
		case multiItem[K]:
			pivot = any(multiItem[K]{key: b.Lower.Value}).(I)
		}
	}
	tree.AscendGreaterOrEqual(pivot, iter)
}
