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

package resultset

import (
	"math"

	"github.com/sneller-contrib/coredb/plantree"
)

// Accumulate folds one decoded row value into row's target-idx slot
// (or slots, for AVG), following the identity/merge contract of the
// reduction table in spec.md §4.3. It is the row-function-facing half
// of reduction; Reduce (below) is the cross-partial-result half,
// grounded on the teacher's vm.mergeAggregatedValues, which applies
// the identical per-op-kind merge to pairs of aggregation buffers
// instead of to a single incoming value.
func (r *Result) Accumulate(row *Row, targetIdx int, v int64, isNull bool) {
	t := r.Memory.Targets[targetIdx]
	off := r.offsets[targetIdx]
	if t.SkipNull && isNull {
		return
	}
	switch t.Agg {
	case plantree.AggNone:
		// Plain pass-through projection (e.g. SELECT region alongside
		// GROUP BY region): functionally dependent on the group key, so
		// every row folded into this group carries the same value.
		row.Slots[off] = v
	case plantree.AggCount:
		row.Slots[off]++
	case plantree.AggSum:
		if t.SQLType == plantree.TypeFloat {
			sum := math.Float64frombits(uint64(row.Slots[off]))
			sum += math.Float64frombits(uint64(v))
			row.Slots[off] = int64(math.Float64bits(sum))
		} else {
			row.Slots[off] += v
		}
	case plantree.AggAvg:
		if t.SQLType == plantree.TypeFloat {
			sum := math.Float64frombits(uint64(row.Slots[off]))
			sum += math.Float64frombits(uint64(v))
			row.Slots[off] = int64(math.Float64bits(sum))
		} else {
			row.Slots[off] += v
		}
		row.Slots[off+1]++ // count
	case plantree.AggMin:
		if t.SQLType == plantree.TypeFloat {
			cur := math.Float64frombits(uint64(row.Slots[off]))
			nv := math.Float64frombits(uint64(v))
			if nv < cur {
				row.Slots[off] = v
			}
		} else if v < row.Slots[off] {
			row.Slots[off] = v
		}
	case plantree.AggMax:
		if t.SQLType == plantree.TypeFloat {
			cur := math.Float64frombits(uint64(row.Slots[off]))
			nv := math.Float64frombits(uint64(v))
			if nv > cur {
				row.Slots[off] = v
			}
		} else if v > row.Slots[off] {
			row.Slots[off] = v
		}
	case plantree.AggCountDistinct:
		if t.Distinct {
			if n, ok := r.Memory.CountDistinctBitmapBytes[targetIdx]; ok && n > 0 {
				r.Owner.Bitmap(int(row.Slots[off])).Set(uint64(v))
			} else {
				r.Owner.Set(int(row.Slots[off])).Add(v)
			}
		}
	}
}

// mergeRow merges src into dst slot-by-slot, one target at a time,
// matching mergeAggregatedValues' walk over a flat aggregation-op
// list: each target advances both slot cursors by its SlotCount().
func (r *Result) mergeRow(dst, src *Row) {
	for i, t := range r.Memory.Targets {
		off := r.offsets[i]
		switch t.Agg {
		case plantree.AggCount:
			dst.Slots[off] += src.Slots[off]
		case plantree.AggSum:
			if t.SQLType == plantree.TypeFloat {
				a := math.Float64frombits(uint64(dst.Slots[off]))
				b := math.Float64frombits(uint64(src.Slots[off]))
				dst.Slots[off] = int64(math.Float64bits(a + b))
			} else {
				dst.Slots[off] += src.Slots[off]
			}
		case plantree.AggAvg:
			if t.SQLType == plantree.TypeFloat {
				a := math.Float64frombits(uint64(dst.Slots[off]))
				b := math.Float64frombits(uint64(src.Slots[off]))
				dst.Slots[off] = int64(math.Float64bits(a + b))
			} else {
				dst.Slots[off] += src.Slots[off]
			}
			dst.Slots[off+1] += src.Slots[off+1] // count
		case plantree.AggMin:
			if t.SQLType == plantree.TypeFloat {
				a := math.Float64frombits(uint64(dst.Slots[off]))
				b := math.Float64frombits(uint64(src.Slots[off]))
				if b < a {
					dst.Slots[off] = src.Slots[off]
				}
			} else if src.Slots[off] < dst.Slots[off] {
				dst.Slots[off] = src.Slots[off]
			}
		case plantree.AggMax:
			if t.SQLType == plantree.TypeFloat {
				a := math.Float64frombits(uint64(dst.Slots[off]))
				b := math.Float64frombits(uint64(src.Slots[off]))
				if b > a {
					dst.Slots[off] = src.Slots[off]
				}
			} else if src.Slots[off] > dst.Slots[off] {
				dst.Slots[off] = src.Slots[off]
			}
		case plantree.AggCountDistinct:
			if t.Distinct {
				if n, ok := r.Memory.CountDistinctBitmapBytes[i]; ok && n > 0 {
					r.Owner.Bitmap(int(dst.Slots[off])).Or(r.Owner.Bitmap(int(src.Slots[off])))
				} else {
					r.Owner.Set(int(dst.Slots[off])).Union(r.Owner.Set(int(src.Slots[off])))
				}
			}
		}
	}
}

// Reduce merges other into r in place, matching rows by group-by key
// (or the single ungrouped row), per spec.md §4.3: "Reduce two partial
// result sets of the same query into one, merging group rows with
// matching keys and taking the union of keys otherwise." The reduction
// is commutative and associative for every op in the table above, so
// device/fragment partials may be combined in any order or grouping.
func (r *Result) Reduce(other *Result) {
	r.mergeDicts(other)
	if r.Memory.Layout == plantree.NoGroups {
		r.mergeRow(r.ungrouped, other.ungrouped)
		return
	}
	for k, srcRow := range other.rows {
		dstRow, ok := r.rows[k]
		if !ok {
			r.rows[k] = srcRow
			continue
		}
		r.mergeRow(dstRow, srcRow)
	}
}

// CountDistinctResult resolves the final COUNT DISTINCT value for
// target i of row, per the descriptor's bitmap-vs-set choice.
func (r *Result) CountDistinctResult(targetIdx int, row *Row) int64 {
	off := r.offsets[targetIdx]
	if n, ok := r.Memory.CountDistinctBitmapBytes[targetIdx]; ok && n > 0 {
		return r.Owner.Bitmap(int(row.Slots[off])).Count()
	}
	return r.Owner.Set(int(row.Slots[off])).Count()
}

// AvgResult resolves the final AVG value for target i of row as a
// float64, dividing the accumulated sum by the accumulated count
// (0 when count is 0, matching SQL AVG-of-no-rows returning NULL,
// which callers should check via the row's count slot directly).
func (r *Result) AvgResult(targetIdx int, row *Row) (value float64, count int64) {
	off := r.offsets[targetIdx]
	t := r.Memory.Targets[targetIdx]
	count = row.Slots[off+1]
	if count == 0 {
		return 0, 0
	}
	if t.SQLType == plantree.TypeFloat {
		return math.Float64frombits(uint64(row.Slots[off])) / float64(count), count
	}
	return float64(row.Slots[off]) / float64(count), count
}
