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

package chunkbuf

import (
	"testing"

	"github.com/sneller-contrib/coredb/pagestore"
	"github.com/sneller-contrib/coredb/plantree"
)

// TestFixed8Overflow is spec.md §8 scenario 3.
func TestFixed8Overflow(t *testing.T) {
	dir := t.TempDir()
	s, err := pagestore.Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	key := pagestore.ChunkKey{DB: 1, Table: 1, Column: 1, Fragment: 1}
	chunk, err := s.CreateChunk(key, 4096)
	if err != nil {
		t.Fatal(err)
	}
	buf := New(chunk, plantree.TypeInt, pagestore.FixedEncoding(8), false)

	vals := make([]int64, 10_000)
	for i := range vals {
		vals[i] = int64(i % 100)
	}
	if err := buf.Append(vals); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	got, err := buf.ReadElements(0, len(vals))
	if err != nil {
		t.Fatal(err)
	}
	for i := range vals {
		if got[i] != vals[i] {
			t.Fatalf("element %d: got %d want %d", i, got[i], vals[i])
		}
	}

	if err := buf.Append([]int64{200}); err != ErrEncodingOverflow {
		t.Fatalf("appending 200 to FIXED(8): got %v, want ErrEncodingOverflow", err)
	}
}

func TestBufferRoundTripAfterReopen(t *testing.T) {
	dir := t.TempDir()
	key := pagestore.ChunkKey{DB: 2, Table: 1, Column: 1, Fragment: 1}

	s, err := pagestore.Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	chunk, err := s.CreateChunk(key, 4096)
	if err != nil {
		t.Fatal(err)
	}
	buf := New(chunk, plantree.TypeInt, pagestore.RawEncoding(4), false)
	if err := buf.Append([]int64{5, -3, 100, 42}); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := pagestore.Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	chunk2, err := s2.GetChunk(key)
	if err != nil {
		t.Fatal(err)
	}
	buf2, err := Load(chunk2)
	if err != nil {
		t.Fatal(err)
	}
	if buf2.Count() != 4 {
		t.Fatalf("count = %d, want 4", buf2.Count())
	}
	min, max, ok := buf2.MinMax()
	if !ok || min != -3 || max != 100 {
		t.Fatalf("min/max = %d,%d,%v want -3,100,true", min, max, ok)
	}
}
