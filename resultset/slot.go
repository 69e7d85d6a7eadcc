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

// Package resultset implements the row/column-oriented buffer of
// grouped aggregates and the reduction operator that merges
// per-device/per-fragment partial results (spec.md §4.3).
package resultset

import "github.com/sneller-contrib/coredb/plantree"

// SlotKind is the sum-type tag for what an aggregation slot holds.
// Design Notes §9 ("Pointer-smuggling through 64-bit slots"): the
// original stores pointers to sets/bitmaps inside integer slots;
// here a slot's kind follows from its TargetInfo, and a Bitmap/Set
// slot holds an id that resolves through the Owner rather than relying
// on address truncation tricks.
type SlotKind uint8

const (
	SlotInteger SlotKind = iota
	SlotFloat
	SlotPair       // AVG: occupies two adjacent slots (sum, count)
	SlotBitmap     // COUNT DISTINCT, exact bitmap
	SlotSet        // COUNT DISTINCT, integer set (IntSet)
)

// Owner frees the bitmaps, sets, and group buffers a Result owns at the
// owner's own destruction; Result copies share the owner (spec.md §5
// "Memory ownership"). It is the resolver for Bitmap/Set slot ids.
type Owner struct {
	bitmaps map[int]*Bitmap
	sets    map[int]*IntSet
	nextID  int
}

// NewOwner creates an empty memory owner.
func NewOwner() *Owner {
	return &Owner{bitmaps: map[int]*Bitmap{}, sets: map[int]*IntSet{}}
}

// NewBitmap allocates a fresh bitmap of byteLen bytes under this owner
// and returns its id.
func (o *Owner) NewBitmap(byteLen int) int {
	o.nextID++
	id := o.nextID
	o.bitmaps[id] = NewBitmap(byteLen)
	return id
}

// NewSet allocates a fresh integer set under this owner and
// returns its id.
func (o *Owner) NewSet() int {
	o.nextID++
	id := o.nextID
	o.sets[id] = NewIntSet()
	return id
}

func (o *Owner) Bitmap(id int) *Bitmap { return o.bitmaps[id] }
func (o *Owner) Set(id int) *IntSet    { return o.sets[id] }

// Free releases bitmap/set id; group buffers themselves are plain Go
// slices and are freed by the garbage collector once unreferenced.
func (o *Owner) Free(kind SlotKind, id int) {
	switch kind {
	case SlotBitmap:
		delete(o.bitmaps, id)
	case SlotSet:
		delete(o.sets, id)
	}
}

// TargetSlotLayout maps each target's output slots into the flat slot
// vector, honoring that AVG occupies two adjacent slots (data model §3).
func TargetSlotLayout(targets []plantree.TargetInfo) (offsets []int, total int) {
	offsets = make([]int, len(targets))
	n := 0
	for i, t := range targets {
		offsets[i] = n
		n += t.SlotCount()
	}
	return offsets, n
}
