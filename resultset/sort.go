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
	"golang.org/x/exp/slices"

	"github.com/sneller-contrib/coredb/dictionary"
	"github.com/sneller-contrib/coredb/plantree"
)

// Sort orders rows by the given SORT clause entries applied
// right-to-left (spec.md §4.3: "a stable sort is applied once per
// SortEntry, starting from the last entry and ending at the first, so
// that the first entry dominates"), which is the standard trick for
// implementing multi-key lexicographic order out of single-key stable
// sorts (the same technique the teacher's vm/sort.go documents for its
// own multi-column ORDER BY). A SortEntry whose slot belongs to a
// dictionary-encoded target (TargetInfo.Dictionary, set via
// SetTargetDictionary) compares the decoded strings instead of the raw
// ids, per spec.md §4.3 "Dictionary-encoded string columns sort by
// decoded string".
func (r *Result) Sort(rows []*Row, by []plantree.SortEntry) {
	for i := len(by) - 1; i >= 0; i-- {
		entry := by[i]

		var dict *dictionary.Dictionary
		if ti := r.targetIndexForSlot(entry.SlotIndex); ti >= 0 && r.Memory.Targets[ti].Dictionary && ti < len(r.targetDicts) {
			dict = r.targetDicts[ti]
		}

		slices.SortStableFunc(rows, func(a, b *Row) bool {
			av, bv := a.Slots[entry.SlotIndex], b.Slots[entry.SlotIndex]
			if dict != nil {
				as, _ := dict.Lookup(uint32(av))
				bs, _ := dict.Lookup(uint32(bv))
				if entry.Desc {
					return as > bs
				}
				return as < bs
			}
			if entry.Desc {
				return av > bv
			}
			return av < bv
		})
	}
}

// KeepFirstN truncates rows to at most n entries (spec.md's
// keep_first_n), applied after Sort to implement LIMIT.
func KeepFirstN(rows []*Row, n int) []*Row {
	if n < 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}

// DropFirstN discards the first n entries of rows (spec.md's
// drop_first_n), applied after Sort to implement OFFSET.
func DropFirstN(rows []*Row, n int) []*Row {
	if n <= 0 {
		return rows
	}
	if n >= len(rows) {
		return rows[:0]
	}
	return rows[n:]
}
