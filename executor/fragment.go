// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package executor

import (
	"math"

	"github.com/sneller-contrib/coredb/pagestore"
	"github.com/sneller-contrib/coredb/plantree"
)

func floatOf(bits int64) float64 { return math.Float64frombits(uint64(bits)) }

// ColumnStats is the per-column [min,max] the fragmenter caches
// alongside a Fragment (data model §3's "per-column chunk metadata
// (size, min/max)"); it is read off the fragment's chunkbuf.Buffer
// each time the fragment list is built, which Execute does once per
// SELECT.
type ColumnStats struct {
	Min, Max  int64
	HasMinMax bool
}

// Fragment is a horizontal slice of a table: an id, its row count, and
// the per-column statistics fragment-skipping reads.
type Fragment struct {
	ID      int
	Rows    int
	Key     pagestore.ChunkKey
	Columns map[int]ColumnStats // by Column.Idx
}

// simpleQual is one `col op const` clause a WHERE filter may expose to
// the fragment-skip pass; Plan.Filter itself is a richer expression
// tree, so ExtractSimpleQuals walks it looking for top-level AND'd
// comparisons of exactly this shape (spec.md §4.5 step 2).
type simpleQual struct {
	columnIdx int
	op        plantree.BinOpKind
	isFloat   bool
	ival      int64
	fval      float64
}

// ExtractSimpleQuals collects every top-level (AND-connected) `column
// op constant` comparison in filter; anything else (OR, nested
// function calls, column-to-column comparisons) is left for the kernel
// to evaluate per-row and does not participate in fragment skipping.
func ExtractSimpleQuals(filter plantree.Node) []simpleQual {
	var quals []simpleQual
	var walk func(n plantree.Node)
	walk = func(n plantree.Node) {
		b, ok := n.(*plantree.BinOp)
		if !ok {
			return
		}
		if b.Op == plantree.And {
			walk(b.Left)
			walk(b.Right)
			return
		}
		col, colOK := b.Left.(*plantree.Column)
		cst, cstOK := b.Right.(*plantree.Constant)
		op := b.Op
		if !colOK || !cstOK {
			// try the reflected form: const op column
			if c2, ok2 := b.Left.(*plantree.Constant); ok2 {
				if col2, ok3 := b.Right.(*plantree.Column); ok3 {
					col, colOK = col2, true
					cst, cstOK = c2, true
					op = reflectOp(b.Op)
				}
			}
		}
		if !colOK || !cstOK || cst.IsNull {
			return
		}
		switch op {
		case plantree.Gte, plantree.Gt, plantree.Lte, plantree.Lt:
			quals = append(quals, simpleQual{
				columnIdx: col.Idx,
				op:        op,
				isFloat:   cst.SQLType == plantree.TypeFloat,
				ival:      cst.IVal,
				fval:      cst.FVal,
			})
		}
	}
	walk(filter)
	return quals
}

// reflectOp swaps an operator's operand order: `v < col` is `col > v`.
func reflectOp(op plantree.BinOpKind) plantree.BinOpKind {
	switch op {
	case plantree.Gte:
		return plantree.Lte
	case plantree.Gt:
		return plantree.Lt
	case plantree.Lte:
		return plantree.Gte
	case plantree.Lt:
		return plantree.Gt
	}
	return op
}

// Skip reports whether any one simple qual rules out every row of frag
// (the quals are AND-connected, so one unsatisfiable qual suffices),
// per spec.md §4.5's fragment-skipping operator table (inclusive
// bounds [min,max], constant v): >= v skips iff max<v, > v skips iff
// max<=v, <= v skips iff min>v, < v skips iff min>=v. A column with no
// recorded min/max (HasMinMax false, e.g. an all-null column) never
// causes a skip, since the predicate cannot be proven unsatisfiable.
func (f Fragment) Skip(quals []simpleQual) bool {
	for _, q := range quals {
		stats, ok := f.Columns[q.columnIdx]
		if !ok || !stats.HasMinMax {
			continue
		}
		if q.isFloat {
			min, max := floatOf(stats.Min), floatOf(stats.Max)
			if skippedFloat(q.op, q.fval, min, max) {
				return true
			}
			continue
		}
		if skippedInt(q.op, q.ival, stats.Min, stats.Max) {
			return true
		}
	}
	return false
}

func skippedInt(op plantree.BinOpKind, v, min, max int64) bool {
	switch op {
	case plantree.Gte:
		return max < v
	case plantree.Gt:
		return max <= v
	case plantree.Lte:
		return min > v
	case plantree.Lt:
		return min >= v
	}
	return false
}

func skippedFloat(op plantree.BinOpKind, v, min, max float64) bool {
	switch op {
	case plantree.Gte:
		return max < v
	case plantree.Gt:
		return max <= v
	case plantree.Lte:
		return min > v
	case plantree.Lt:
		return min >= v
	}
	return false
}
