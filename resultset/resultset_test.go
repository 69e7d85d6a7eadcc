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
	"math/rand"
	"testing"

	"github.com/sneller-contrib/coredb/dictionary"
	"github.com/sneller-contrib/coredb/pagestore"
	"github.com/sneller-contrib/coredb/plantree"
)

func sumAvgMemory() plantree.QueryMemoryDescriptor {
	return plantree.QueryMemoryDescriptor{
		Layout: plantree.NoGroups,
		Targets: []plantree.TargetInfo{
			{Agg: plantree.AggSum, SQLType: plantree.TypeInt},
			{Agg: plantree.AggAvg, SQLType: plantree.TypeInt},
			{Agg: plantree.AggMin, SQLType: plantree.TypeInt},
			{Agg: plantree.AggMax, SQLType: plantree.TypeInt},
			{Agg: plantree.AggCount, SQLType: plantree.TypeInt},
		},
	}
}

// TestReduceAssociativeCommutative is spec.md §8 scenario 5: summing
// the same set of values through different fragment/device groupings
// must produce identical AVG output regardless of grouping order.
func TestReduceAssociativeCommutative(t *testing.T) {
	mem := sumAvgMemory()
	values := make([]int64, 997)
	for i := range values {
		values[i] = int64(i + 1)
	}

	runWithChunking := func(chunkSizes []int) (sum, avgSum, avgCount, min, max, count int64) {
		owner := NewOwner()
		total := New(mem, owner)
		idx := 0
		for _, n := range chunkSizes {
			part := New(mem, owner)
			row := part.RowFor(nil)
			for i := 0; i < n && idx < len(values); i, idx = i+1, idx+1 {
				v := values[idx]
				part.Accumulate(row, 0, v, false)
				part.Accumulate(row, 1, v, false)
				part.Accumulate(row, 2, v, false)
				part.Accumulate(row, 3, v, false)
				part.Accumulate(row, 4, v, false)
			}
			total.Reduce(part)
		}
		r := total.RowFor(nil)
		return r.Slots[0], r.Slots[1], r.Slots[2], r.Slots[3], r.Slots[4], r.Slots[5]
	}

	rnd := rand.New(rand.NewSource(1))
	var results [][6]int64
	for trial := 0; trial < 5; trial++ {
		remaining := len(values)
		var sizes []int
		for remaining > 0 {
			n := 1 + rnd.Intn(50)
			if n > remaining {
				n = remaining
			}
			sizes = append(sizes, n)
			remaining -= n
		}
		sum, avgSum, avgCount, min, max, count := runWithChunking(sizes)
		results = append(results, [6]int64{sum, avgSum, avgCount, min, max, count})
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("trial %d reduced to %v, want %v (reduction must be order-independent)", i, results[i], results[0])
		}
	}
	want := int64(0)
	for _, v := range values {
		want += v
	}
	if results[0][0] != want {
		t.Fatalf("sum = %d, want %d", results[0][0], want)
	}
	if results[0][3] != 1 || results[0][4] != int64(len(values)) {
		t.Fatalf("min/max = %d/%d, want 1/%d", results[0][3], results[0][4], len(values))
	}
	if results[0][5] != int64(len(values)) {
		t.Fatalf("count = %d, want %d", results[0][5], len(values))
	}
}

func TestAvgResult(t *testing.T) {
	mem := plantree.QueryMemoryDescriptor{
		Layout: plantree.NoGroups,
		Targets: []plantree.TargetInfo{
			{Agg: plantree.AggAvg, SQLType: plantree.TypeFloat},
		},
	}
	owner := NewOwner()
	r := New(mem, owner)
	row := r.RowFor(nil)
	for _, v := range []float64{1.5, 2.5, 3.0} {
		r.Accumulate(row, 0, int64(math.Float64bits(v)), false)
	}
	avg, count := r.AvgResult(0, row)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	want := (1.5 + 2.5 + 3.0) / 3
	if avg != want {
		t.Fatalf("avg = %v, want %v", avg, want)
	}
}

func TestCountDistinctBitmapReduce(t *testing.T) {
	mem := plantree.QueryMemoryDescriptor{
		Layout: plantree.NoGroups,
		Targets: []plantree.TargetInfo{
			{Agg: plantree.AggCountDistinct, Distinct: true, SQLType: plantree.TypeInt},
		},
		CountDistinctBitmapBytes: map[int]int{0: 256},
	}
	owner := NewOwner()
	a := New(mem, owner)
	rowA := a.RowFor(nil)
	for _, v := range []int64{1, 2, 3, 2, 1} {
		a.Accumulate(rowA, 0, v, false)
	}
	b := New(mem, owner)
	rowB := b.RowFor(nil)
	for _, v := range []int64{3, 4, 5} {
		b.Accumulate(rowB, 0, v, false)
	}
	a.Reduce(b)
	got := a.CountDistinctResult(0, a.RowFor(nil))
	if got != 5 {
		t.Fatalf("distinct count = %d, want 5", got)
	}
}

func TestGroupedReduceByKey(t *testing.T) {
	mem := plantree.QueryMemoryDescriptor{
		Layout: plantree.MultiCol,
		Targets: []plantree.TargetInfo{
			{Agg: plantree.AggSum, SQLType: plantree.TypeInt},
		},
	}
	owner := NewOwner()
	a := New(mem, owner)
	rowX := a.RowFor([]byte("x"))
	a.Accumulate(rowX, 0, 10, false)
	b := New(mem, owner)
	rowX2 := b.RowFor([]byte("x"))
	b.Accumulate(rowX2, 0, 5, false)
	rowY := b.RowFor([]byte("y"))
	b.Accumulate(rowY, 0, 7, false)

	a.Reduce(b)
	rows := a.Rows()
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	var gotX, gotY int64
	for _, r := range rows {
		switch string(r.Key) {
		case "x":
			gotX = r.Slots[0]
		case "y":
			gotY = r.Slots[0]
		}
	}
	if gotX != 15 || gotY != 7 {
		t.Fatalf("x=%d y=%d, want x=15 y=7", gotX, gotY)
	}
}

func TestSortStableRightToLeft(t *testing.T) {
	rows := []*Row{
		{Slots: []int64{1, 2}},
		{Slots: []int64{1, 1}},
		{Slots: []int64{0, 5}},
		{Slots: []int64{1, 1}},
	}
	sortMem := plantree.QueryMemoryDescriptor{
		Layout: plantree.MultiCol,
		Targets: []plantree.TargetInfo{
			{SQLType: plantree.TypeInt},
			{SQLType: plantree.TypeInt},
		},
	}
	New(sortMem, NewOwner()).Sort(rows, []plantree.SortEntry{
		{SlotIndex: 1, Desc: false},
		{SlotIndex: 0, Desc: false},
	})
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Slots[1] > rows[i].Slots[1] {
			t.Fatalf("not sorted by primary key: %v", rows)
		}
	}
}

// newTestDictionary builds a dictionary backed by a throwaway page
// store chunk, interning words in order so callers can predict ids.
func newTestDictionary(t *testing.T, words ...string) *dictionary.Dictionary {
	t.Helper()
	dir := t.TempDir()
	store, err := pagestore.Open(dir, 4, -1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	chunk, err := store.CreateChunk(pagestore.ChunkKey{DB: 1, Table: 1, Column: 0, Fragment: 0}, 4096)
	if err != nil {
		t.Fatal(err)
	}
	d := dictionary.New(chunk)
	for _, w := range words {
		if _, err := d.Intern(w); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

func TestDecodeKeyResolvesDictionaryIDs(t *testing.T) {
	dict := newTestDictionary(t, "east", "west")
	eastID, _ := dict.Intern("east")
	westID, _ := dict.Intern("west")

	mem := plantree.QueryMemoryDescriptor{
		Layout: plantree.MultiCol,
		Targets: []plantree.TargetInfo{
			{Agg: plantree.AggSum, SQLType: plantree.TypeInt},
		},
	}
	r := New(mem, NewOwner())
	r.SetKeyDictionary(0, dict)

	key := func(id uint32) []byte {
		buf := make([]byte, 9)
		binary.LittleEndian.PutUint64(buf[1:], uint64(id))
		return buf
	}
	eastRow := r.RowFor(key(eastID))
	r.Accumulate(eastRow, 0, 35, false)
	westRow := r.RowFor(key(westID))
	r.Accumulate(westRow, 0, 15, false)

	fields := r.DecodeKey(eastRow)
	if len(fields) != 1 || !fields[0].IsString() || fields[0].Str != "east" {
		t.Fatalf("DecodeKey(eastRow) = %+v, want one field decoding to \"east\"", fields)
	}
	fields = r.DecodeKey(westRow)
	if len(fields) != 1 || !fields[0].IsString() || fields[0].Str != "west" {
		t.Fatalf("DecodeKey(westRow) = %+v, want one field decoding to \"west\"", fields)
	}
}

func TestSortDictionaryTargetByDecodedString(t *testing.T) {
	dict := newTestDictionary(t, "west", "east", "north")
	westID, _ := dict.Intern("west")
	eastID, _ := dict.Intern("east")
	northID, _ := dict.Intern("north")

	mem := plantree.QueryMemoryDescriptor{
		Layout: plantree.MultiCol,
		Targets: []plantree.TargetInfo{
			{SQLType: plantree.TypeString, Dictionary: true},
		},
	}
	r := New(mem, NewOwner())
	r.SetTargetDictionary(0, dict)

	rows := []*Row{
		{Slots: []int64{int64(westID)}},
		{Slots: []int64{int64(eastID)}},
		{Slots: []int64{int64(northID)}},
	}
	r.Sort(rows, []plantree.SortEntry{{SlotIndex: 0, Desc: false}})

	want := []string{"east", "north", "west"}
	for i, row := range rows {
		s, _ := dict.Lookup(uint32(row.Slots[0]))
		if s != want[i] {
			t.Fatalf("rows[%d] = %q, want %q (got order %v)", i, s, want[i], rows)
		}
	}
}

func TestKeepDropFirstN(t *testing.T) {
	rows := []*Row{{}, {}, {}, {}, {}}
	if got := KeepFirstN(rows, 2); len(got) != 2 {
		t.Fatalf("KeepFirstN(5,2) = %d rows, want 2", len(got))
	}
	if got := DropFirstN(rows, 3); len(got) != 2 {
		t.Fatalf("DropFirstN(5,3) = %d rows, want 2", len(got))
	}
	if got := DropFirstN(rows, 10); len(got) != 0 {
		t.Fatalf("DropFirstN(5,10) = %d rows, want 0", len(got))
	}
}
