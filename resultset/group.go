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
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"

	"github.com/sneller-contrib/coredb/dictionary"
	"github.com/sneller-contrib/coredb/plantree"
)

// groupSeed0/groupSeed1 key the siphash-2-4 group-key hash used for the
// ONE_COL_GUESSED and MULTI_COL layouts (data model §3). Fixed,
// process-wide constants: group keys never need to survive a process
// restart, only to agree within one query's device fan-out.
const groupSeed0, groupSeed1 = 0x736e656c6c65723a, 0x636f726564622021

// GroupIndex derives the bucket a group-by key maps to, using the
// strategy appropriate to the query's GroupByLayout: a direct range
// index for the two "known shape" layouts (spec.md §4.3, where the
// planner has already guaranteed a collision-free small range or a
// perfect hash function was computed ahead of time and baked into
// `key`'s leading 8 bytes), and a siphash-2-4 keyed hash for the two
// layouts where the key domain is open-ended.
func GroupIndex(layout plantree.GroupByLayout, key []byte) uint64 {
	switch layout {
	case plantree.OneColKnownRange, plantree.MultiColPerfectHash:
		if len(key) >= 8 {
			return binary.LittleEndian.Uint64(key[:8])
		}
		var buf [8]byte
		copy(buf[:], key)
		return binary.LittleEndian.Uint64(buf[:])
	default:
		return siphash.Hash(groupSeed0, groupSeed1, key)
	}
}

// Row is one output row of a Result: an optional group-by key and the
// flat aggregation slot vector laid out per TargetSlotLayout.
type Row struct {
	Key   []byte
	Slots []int64
}

// Result is the grouping/aggregation buffer of spec.md §4.3: either a
// single ungrouped row (Memory.Layout == NoGroups) or a keyed
// collection of group rows, plus the Owner resolving any Bitmap/Set
// slot ids referenced from Slots.
type Result struct {
	Memory    plantree.QueryMemoryDescriptor
	Owner     *Owner
	offsets   []int
	slotCount int
	rows      map[string]*Row
	ungrouped *Row
	ordered   []*Row // set by SetRows once SORT/LIMIT has fixed a row order

	// keyDicts[i] and targetDicts[i], when non-nil, resolve the i-th
	// group-by key component / i-th target's raw int64 value back to
	// its dictionary-encoded string (spec.md §4.3 "Dictionary-encoded
	// string columns sort by decoded string", §6 "option to translate
	// dictionary-encoded ids to strings"). Set once per Result by the
	// executor, from the same *dictionary.Dictionary the row function
	// read via ColumnView.Dict.
	keyDicts    []*dictionary.Dictionary
	targetDicts []*dictionary.Dictionary
}

// New creates an empty Result for the given memory descriptor.
func New(mem plantree.QueryMemoryDescriptor, owner *Owner) *Result {
	offsets, total := TargetSlotLayout(mem.Targets)
	r := &Result{Memory: mem, Owner: owner, offsets: offsets, slotCount: total}
	if mem.Layout == plantree.NoGroups {
		r.ungrouped = r.newRow(nil)
	} else {
		r.rows = map[string]*Row{}
	}
	return r
}

func (r *Result) newRow(key []byte) *Row {
	slots := make([]int64, r.slotCount)
	for i, t := range r.Memory.Targets {
		off := r.offsets[i]
		switch t.Agg {
		case plantree.AggMin:
			if t.SQLType == plantree.TypeFloat {
				slots[off] = int64(math.Float64bits(math.Inf(1)))
			} else {
				slots[off] = math.MaxInt64
			}
		case plantree.AggMax:
			if t.SQLType == plantree.TypeFloat {
				slots[off] = int64(math.Float64bits(math.Inf(-1)))
			} else {
				slots[off] = math.MinInt64
			}
		case plantree.AggCountDistinct:
			if t.Distinct {
				if n, ok := r.Memory.CountDistinctBitmapBytes[i]; ok && n > 0 {
					slots[off] = int64(r.Owner.NewBitmap(n))
				} else {
					slots[off] = int64(r.Owner.NewSet())
				}
			}
		}
		_ = key
	}
	return &Row{Key: key, Slots: slots}
}

// RowFor returns the row for the given group-by key, creating it (with
// the target-kind-appropriate identity element, per the reduction
// table) if this is the first time key is seen.
func (r *Result) RowFor(key []byte) *Row {
	if r.Memory.Layout == plantree.NoGroups {
		return r.ungrouped
	}
	k := string(key)
	row, ok := r.rows[k]
	if !ok {
		row = r.newRow(append([]byte(nil), key...))
		r.rows[k] = row
	}
	return row
}

// Rows returns every materialized row (the single ungrouped row, or
// every distinct group). Order is unspecified unless SetRows has fixed
// one (as Sort/KeepFirstN/DropFirstN's caller is expected to do), since
// the grouped case is otherwise rebuilt fresh from the row map on every
// call and would silently discard any prior in-place reordering.
func (r *Result) Rows() []*Row {
	if r.ordered != nil {
		return r.ordered
	}
	if r.Memory.Layout == plantree.NoGroups {
		return []*Row{r.ungrouped}
	}
	out := make([]*Row, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out
}

// SetRows fixes the row order Rows() returns afterward, for use by a
// caller that has just sorted or limited the slice Rows() gave it.
func (r *Result) SetRows(rows []*Row) {
	r.ordered = rows
}

// targetOffset returns the flat slot offset of the i-th target.
func (r *Result) targetOffset(i int) int { return r.offsets[i] }

// targetIndexForSlot returns the index into Memory.Targets that owns
// the given flat slot offset, or -1 if none does.
func (r *Result) targetIndexForSlot(slot int) int {
	for i, off := range r.offsets {
		if slot >= off && slot < off+r.Memory.Targets[i].SlotCount() {
			return i
		}
	}
	return -1
}

// SetKeyDictionary records that the i-th group-by key component is
// dictionary-encoded and resolves through d. Called once per Result by
// the executor before any row is printed or sorted.
func (r *Result) SetKeyDictionary(i int, d *dictionary.Dictionary) {
	if d == nil {
		return
	}
	for len(r.keyDicts) <= i {
		r.keyDicts = append(r.keyDicts, nil)
	}
	r.keyDicts[i] = d
}

// SetTargetDictionary records that the i-th SELECT target is a
// dictionary-encoded pass-through column and resolves through d.
func (r *Result) SetTargetDictionary(i int, d *dictionary.Dictionary) {
	if d == nil {
		return
	}
	for len(r.targetDicts) <= i {
		r.targetDicts = append(r.targetDicts, nil)
	}
	r.targetDicts[i] = d
}

// mergeDicts copies over any key/target dictionary reference other
// carries that r does not yet have, so that a Result built up by
// merging per-fragment partials (Reduce) ends up with the same
// dictionaries each partial resolved independently.
func (r *Result) mergeDicts(other *Result) {
	for i, d := range other.keyDicts {
		if d != nil {
			r.SetKeyDictionary(i, d)
		}
	}
	for i, d := range other.targetDicts {
		if d != nil {
			r.SetTargetDictionary(i, d)
		}
	}
}

// KeyField is one decoded component of a Row's group-by key.
type KeyField struct {
	Null     bool
	Int      int64  // raw value; the dictionary id when isString is set
	Str      string // decoded string, set only when this component is dictionary-encoded
	isString bool
}

// IsString reports whether this component resolved to a decoded
// string rather than a plain integer.
func (k KeyField) IsString() bool { return k.isString }

// DecodeKey splits row.Key into its per-column components (each
// packed by evalGroupKey as a 1-byte null flag plus an 8-byte
// little-endian word), resolving any component whose position has a
// dictionary set via SetKeyDictionary back to its string value.
func (r *Result) DecodeKey(row *Row) []KeyField {
	const compLen = 9
	n := len(row.Key) / compLen
	if n == 0 {
		return nil
	}
	out := make([]KeyField, n)
	for i := 0; i < n; i++ {
		c := row.Key[i*compLen : (i+1)*compLen]
		kf := KeyField{Null: c[0] != 0, Int: int64(binary.LittleEndian.Uint64(c[1:compLen]))}
		if !kf.Null && i < len(r.keyDicts) && r.keyDicts[i] != nil {
			if s, ok := r.keyDicts[i].Lookup(uint32(kf.Int)); ok {
				kf.Str = s
				kf.isString = true
			}
		}
		out[i] = kf
	}
	return out
}
