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

package dictionary

import (
	"testing"

	"github.com/sneller-contrib/coredb/pagestore"
)

func TestInternBijection(t *testing.T) {
	dir := t.TempDir()
	s, err := pagestore.Open(dir, 4, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	key := pagestore.ChunkKey{DB: 1, Table: 1, Column: 9, Fragment: 0}
	chunk, err := s.CreateChunk(key, 4096)
	if err != nil {
		t.Fatal(err)
	}
	d := New(chunk)

	id1, err := d.Intern("hello")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := d.Intern("world")
	if err != nil {
		t.Fatal(err)
	}
	id1Again, err := d.Intern("hello")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id1Again {
		t.Fatalf("Intern(\"hello\") not idempotent: %d != %d", id1, id1Again)
	}
	if id1 == id2 {
		t.Fatal("distinct strings got the same id")
	}
	str, ok := d.Lookup(id2)
	if !ok || str != "world" {
		t.Fatalf("Lookup(%d) = %q,%v want \"world\",true", id2, str, ok)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	d2, err := Load(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if d2.Len() != 2 {
		t.Fatalf("reloaded dictionary len = %d, want 2", d2.Len())
	}
	str, ok = d2.Lookup(id1)
	if !ok || str != "hello" {
		t.Fatalf("reloaded Lookup(%d) = %q,%v want \"hello\",true", id1, str, ok)
	}
}
