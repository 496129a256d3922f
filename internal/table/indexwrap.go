package table

import (
	"fmt"

	"github.com/spacetime-core/storage/internal/algebra"
	"github.com/spacetime-core/storage/internal/index"
	"github.com/spacetime-core/storage/pkg/storeerr"
)

// tableIndex is the uniform, table-facing surface every index realization
// is adapted to, so Table can hold a heterogeneous list of them regardless
// of each realization's underlying generic key type.
type tableIndex interface {
	insert(vals []algebra.AlgebraicValue, ptr index.RowPointer) (index.RowPointer, bool, error)
	delete(vals []algebra.AlgebraicValue, ptr index.RowPointer) bool
	seekPoint(vals []algebra.AlgebraicValue) ([]index.RowPointer, error)
	seekRange(lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind) ([]index.RowPointer, error)
	numKeys() int
	numRows() int
	numKeyBytes() int64
	unique() bool
	columns() []int
	clear()
}

// scalarIndex adapts a single generic Unique/MultiBTree to tableIndex for a
// single-column index over an orderable primitive type K.
type scalarIndex[K comparable] struct {
	uniqueTree *index.UniqueBTree[K]
	multiTree  *index.MultiBTree[K]
	less       index.LessFunc[K]
	cols       []int
	project    func(algebra.AlgebraicValue) (K, error)
}

func newScalarUnique[K comparable](col int, less index.LessFunc[K], project func(algebra.AlgebraicValue) (K, error)) *scalarIndex[K] {
	return &scalarIndex[K]{uniqueTree: index.NewUniqueBTree(less, nil), less: less, cols: []int{col}, project: project}
}

func newScalarMulti[K comparable](col int, less index.LessFunc[K], project func(algebra.AlgebraicValue) (K, error)) *scalarIndex[K] {
	return &scalarIndex[K]{multiTree: index.NewMultiBTree(less, nil), less: less, cols: []int{col}, project: project}
}

func (s *scalarIndex[K]) key(vals []algebra.AlgebraicValue) (K, error) {
	return s.project(vals[s.cols[0]])
}

func (s *scalarIndex[K]) insert(vals []algebra.AlgebraicValue, ptr index.RowPointer) (index.RowPointer, bool, error) {
	k, err := s.key(vals)
	if err != nil {
		var zero K
		_ = zero
		return index.RowPointer{}, false, err
	}
	if s.uniqueTree != nil {
		existing, inserted := s.uniqueTree.Insert(k, ptr)
		return existing, inserted, nil
	}
	existing, inserted := s.multiTree.Insert(k, ptr)
	return existing, inserted, nil
}

func (s *scalarIndex[K]) delete(vals []algebra.AlgebraicValue, ptr index.RowPointer) bool {
	k, err := s.key(vals)
	if err != nil {
		return false
	}
	if s.uniqueTree != nil {
		return s.uniqueTree.Delete(k, ptr)
	}
	return s.multiTree.Delete(k, ptr)
}

func (s *scalarIndex[K]) seekPoint(vals []algebra.AlgebraicValue) ([]index.RowPointer, error) {
	k, err := s.key(vals)
	if err != nil {
		return nil, err
	}
	if s.uniqueTree != nil {
		return s.uniqueTree.SeekPoint(k), nil
	}
	return s.multiTree.SeekPoint(k), nil
}

func (s *scalarIndex[K]) seekRange(lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind) ([]index.RowPointer, error) {
	b, err := s.bounds(lower, upper, lowerKind, upperKind)
	if err != nil {
		return nil, err
	}
	if s.uniqueTree != nil {
		return s.uniqueTree.SeekRange(b), nil
	}
	return s.multiTree.SeekRange(b), nil
}

func (s *scalarIndex[K]) bounds(lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind) (index.Bounds[K], error) {
	var b index.Bounds[K]
	b.Lower.Kind = lowerKind
	b.Upper.Kind = upperKind
	if lowerKind != index.Unbounded {
		k, err := s.key(lower)
		if err != nil {
			return b, err
		}
		b.Lower.Value = k
	}
	if upperKind != index.Unbounded {
		k, err := s.key(upper)
		if err != nil {
			return b, err
		}
		b.Upper.Value = k
	}
	return b, nil
}

func (s *scalarIndex[K]) numKeys() int {
	if s.uniqueTree != nil {
		return s.uniqueTree.NumKeys()
	}
	return s.multiTree.NumKeys()
}

func (s *scalarIndex[K]) numRows() int {
	if s.uniqueTree != nil {
		return s.uniqueTree.NumRows()
	}
	return s.multiTree.NumRows()
}

func (s *scalarIndex[K]) numKeyBytes() int64 {
	if s.uniqueTree != nil {
		return s.uniqueTree.NumKeyBytes()
	}
	return s.multiTree.NumKeyBytes()
}

func (s *scalarIndex[K]) unique() bool   { return s.uniqueTree != nil }
func (s *scalarIndex[K]) columns() []int { return s.cols }
func (s *scalarIndex[K]) clear() {
	if s.uniqueTree != nil {
		s.uniqueTree.Clear()
	} else {
		s.multiTree.Clear()
	}
}

// compositeIndex adapts the bytes-packed key adapter for a multi-column
// index, falling back to a generic (unpadded, unbounded) byte-string B-tree
// once Despecialize fires, per §4.3.
type compositeIndex struct {
	width         int
	despecialized bool
	isUnique      bool
	packedUnique  *index.BytesPackedUnique
	packedMulti   *index.BytesPackedMulti
	genericUnique *index.UniqueBTree[string]
	genericMulti  *index.MultiBTree[string]
	cols          []int
}

func newCompositeUnique(cols []int, width int) *compositeIndex {
	return &compositeIndex{width: width, isUnique: true, packedUnique: index.NewBytesPackedUnique(width), cols: cols}
}

func newCompositeMulti(cols []int, width int) *compositeIndex {
	return &compositeIndex{width: width, isUnique: false, packedMulti: index.NewBytesPackedMulti(width), cols: cols}
}

func (c *compositeIndex) project(vals []algebra.AlgebraicValue) []algebra.AlgebraicValue {
	out := make([]algebra.AlgebraicValue, len(c.cols))
	for i, col := range c.cols {
		out[i] = vals[col]
	}
	return out
}

func (c *compositeIndex) key(vals []algebra.AlgebraicValue) (string, error) {
	cols := c.project(vals)
	if c.despecialized {
		return index.PackBytes(cols, 0)
	}
	return index.PackBytes(cols, c.width)
}

// despecialize rebuilds the index as an unbounded generic B-tree, copying
// every existing (key, pointer) pair's ROWS as recomputed by rows, since a
// fixed-width zero-padded key is not byte-identical to its unbounded form.
func (c *compositeIndex) despecializeWith(rows func() [][2]interface{}) {
	c.despecialized = true
	if c.isUnique {
		c.genericUnique = index.NewUniqueBTree(func(a, b string) bool { return a < b }, func(k string) int { return len(k) })
	} else {
		c.genericMulti = index.NewMultiBTree(func(a, b string) bool { return a < b }, func(k string) int { return len(k) })
	}
	for _, pair := range rows() {
		vals := pair[0].([]algebra.AlgebraicValue)
		ptr := pair[1].(index.RowPointer)
		k, err := index.PackBytes(c.project(vals), 0)
		if err != nil {
			continue
		}
		if c.isUnique {
			c.genericUnique.Insert(k, ptr)
		} else {
			c.genericMulti.Insert(k, ptr)
		}
	}
	c.packedUnique = nil
	c.packedMulti = nil
}

func (c *compositeIndex) insert(vals []algebra.AlgebraicValue, ptr index.RowPointer) (index.RowPointer, bool, error) {
	k, err := c.key(vals)
	if _, isDespec := err.(*storeerr.Despecialize); isDespec {
		return index.RowPointer{}, false, err
	}
	if err != nil {
		return index.RowPointer{}, false, err
	}
	if c.despecialized {
		if c.isUnique {
			existing, inserted := c.genericUnique.Insert(k, ptr)
			return existing, inserted, nil
		}
		existing, inserted := c.genericMulti.Insert(k, ptr)
		return existing, inserted, nil
	}
	if c.isUnique {
		existing, inserted := c.packedUnique.Insert(k, ptr)
		return existing, inserted, nil
	}
	existing, inserted := c.packedMulti.Insert(k, ptr)
	return existing, inserted, nil
}

func (c *compositeIndex) delete(vals []algebra.AlgebraicValue, ptr index.RowPointer) bool {
	k, err := c.key(vals)
	if err != nil {
		return false
	}
	if c.despecialized {
		if c.isUnique {
			return c.genericUnique.Delete(k, ptr)
		}
		return c.genericMulti.Delete(k, ptr)
	}
	if c.isUnique {
		return c.packedUnique.Delete(k, ptr)
	}
	return c.packedMulti.Delete(k, ptr)
}

func (c *compositeIndex) seekPoint(vals []algebra.AlgebraicValue) ([]index.RowPointer, error) {
	k, err := c.key(vals)
	if err != nil {
		return nil, err
	}
	if c.despecialized {
		if c.isUnique {
			return c.genericUnique.SeekPoint(k), nil
		}
		return c.genericMulti.SeekPoint(k), nil
	}
	if c.isUnique {
		return c.packedUnique.SeekPoint(k), nil
	}
	return c.packedMulti.SeekPoint(k), nil
}

func (c *compositeIndex) seekRange(lower, upper []algebra.AlgebraicValue, lowerKind, upperKind index.BoundKind) ([]index.RowPointer, error) {
	return nil, fmt.Errorf("bytes-packed composite index does not support ordered range seek")
}

func (c *compositeIndex) numKeys() int {
	if c.despecialized {
		if c.isUnique {
			return c.genericUnique.NumKeys()
		}
		return c.genericMulti.NumKeys()
	}
	if c.isUnique {
		return c.packedUnique.NumKeys()
	}
	return c.packedMulti.NumKeys()
}

func (c *compositeIndex) numRows() int {
	if c.despecialized {
		if c.isUnique {
			return c.genericUnique.NumRows()
		}
		return c.genericMulti.NumRows()
	}
	if c.isUnique {
		return c.packedUnique.NumRows()
	}
	return c.packedMulti.NumRows()
}

func (c *compositeIndex) numKeyBytes() int64 {
	if c.despecialized {
		if c.isUnique {
			return c.genericUnique.NumKeyBytes()
		}
		return c.genericMulti.NumKeyBytes()
	}
	if c.isUnique {
		return c.packedUnique.NumKeyBytes()
	}
	return c.packedMulti.NumKeyBytes()
}

func (c *compositeIndex) unique() bool   { return c.isUnique }
func (c *compositeIndex) columns() []int { return c.cols }
func (c *compositeIndex) clear() {
	if c.despecialized {
		if c.isUnique {
			c.genericUnique.Clear()
		} else {
			c.genericMulti.Clear()
		}
		return
	}
	if c.isUnique {
		c.packedUnique.Clear()
	} else {
		c.packedMulti.Clear()
	}
}

// hashIndexWrap adapts the point-only HashIndex, enforcing uniqueness at
// the wrapper level since HashIndex itself always accepts duplicates.
type hashIndexWrap struct {
	h        *index.HashIndex
	isUnique bool
	cols     []int
}

func newHashIndex(cols []int, unique bool) *hashIndexWrap {
	return &hashIndexWrap{h: index.NewHashIndex(), isUnique: unique, cols: cols}
}

func (h *hashIndexWrap) key(vals []algebra.AlgebraicValue) (string, error) {
	projected := make([]algebra.AlgebraicValue, len(h.cols))
	for i, c := range h.cols {
		projected[i] = vals[c]
	}
	return index.PackBytes(projected, 0)
}

func (h *hashIndexWrap) insert(vals []algebra.AlgebraicValue, ptr index.RowPointer) (index.RowPointer, bool, error) {
	k, err := h.key(vals)
	if err != nil {
		return index.RowPointer{}, false, err
	}
	if h.isUnique {
		if existing := h.h.SeekPoint(k); len(existing) > 0 {
			return existing[0], false, nil
		}
	}
	h.h.Insert(k, ptr)
	return index.RowPointer{}, true, nil
}

func (h *hashIndexWrap) delete(vals []algebra.AlgebraicValue, ptr index.RowPointer) bool {
	k, err := h.key(vals)
	if err != nil {
		return false
	}
	return h.h.Delete(k, ptr)
}

func (h *hashIndexWrap) seekPoint(vals []algebra.AlgebraicValue) ([]index.RowPointer, error) {
	k, err := h.key(vals)
	if err != nil {
		return nil, err
	}
	return h.h.SeekPoint(k), nil
}

func (h *hashIndexWrap) seekRange([]algebra.AlgebraicValue, []algebra.AlgebraicValue, index.BoundKind, index.BoundKind) ([]index.RowPointer, error) {
	return nil, fmt.Errorf("hash index is point-only, it does not support range seek")
}

func (h *hashIndexWrap) numKeys() int       { return h.h.NumKeys() }
func (h *hashIndexWrap) numRows() int       { return h.h.NumRows() }
func (h *hashIndexWrap) numKeyBytes() int64 { return h.h.NumKeyBytes() }
func (h *hashIndexWrap) unique() bool       { return h.isUnique }
func (h *hashIndexWrap) columns() []int     { return h.cols }
func (h *hashIndexWrap) clear()             { h.h.Clear() }
