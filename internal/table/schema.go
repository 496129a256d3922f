// Package table implements the fixed-layout page arena that holds one
// table's rows, its pointer map for duplicate detection, and the
// unique-constraint-check algorithm that makes inserts all-or-nothing.
package table

import (
	"sort"

	"github.com/spacetime-core/storage/internal/algebra"
)

// ColumnSchema is one named, typed column of a table, carrying the
// constraint flags the table enforces on insert.
type ColumnSchema struct {
	Name    string
	Type    algebra.AlgebraicType
	Unique  bool
	AutoInc bool
}

// IndexRealization picks which of the four indexable realizations a
// declared index builds as.
type IndexRealization int

const (
	// RealizeAuto picks a B-tree adapter based on column count: a scalar
	// typed B-tree for one column, the bytes-packed composite adapter for
	// more than one.
	RealizeAuto IndexRealization = iota
	// RealizeHash forces the point-only hash index realization.
	RealizeHash
)

// IndexDef names an index a table carries: an ordered list of column
// positions (into Schema.Columns) and a uniqueness flag, per spec.md's
// definition of Index.
type IndexDef struct {
	Name       string
	Columns    []int
	Unique     bool
	Realize    IndexRealization
	PackWidth  int // bytes-packed adapter width; 0 selects a default
}

// Schema is a table's ordered, named column list plus its declared
// indexes.
type Schema struct {
	TableId uint64
	Name    string
	Columns []ColumnSchema
	Indexes []IndexDef
}

// CanonicalOrder returns column positions ordered by descending alignment
// (fixed-width columns first, widest first) then ascending name, the
// layout rows are packed in on disk. Logical projection and indexing
// operate on declaration order; only physical encode/decode uses this.
func (s *Schema) CanonicalOrder() []int {
	order := make([]int, len(s.Columns))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		ci, cj := s.Columns[order[i]], s.Columns[order[j]]
		wi, fixedI := ci.Type.FixedWidth()
		wj, fixedJ := cj.Type.FixedWidth()
		if fixedI != fixedJ {
			return fixedI // fixed-width columns sort before variable-width
		}
		if fixedI && wi != wj {
			return wi > wj // widest-first among fixed-width columns
		}
		return ci.Name < cj.Name
	})
	return order
}

// RowType builds the product type of the row's canonical physical layout.
func (s *Schema) RowType() algebra.AlgebraicType {
	order := s.CanonicalOrder()
	elems := make([]algebra.ProductElem, len(order))
	for i, colIdx := range order {
		c := s.Columns[colIdx]
		elems[i] = algebra.ProductElem{Name: c.Name, Type: c.Type}
	}
	return algebra.AlgebraicType{Kind: algebra.KindProduct, Elements: elems}
}

// ColumnIndexOf returns the declaration-order position of name, or -1.
func (s *Schema) ColumnIndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
