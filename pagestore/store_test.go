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

package pagestore

import (
	"encoding/binary"
	"testing"
)

// TestPersistenceRoundTrip is spec.md §8 scenario 1.
func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	const pageSize = 1024796
	key := ChunkKey{DB: 1, Table: 2, Column: 3, Fragment: 4}

	s, err := Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.CreateChunk(key, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4*1_000_000)
	for i := 0; i < 1_000_000; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(i))
	}
	if err := c.Append(buf); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	c2, err := s2.GetChunk(key)
	if err != nil {
		t.Fatal(err)
	}
	if got := c2.Size(); got != int64(len(buf)) {
		t.Fatalf("size = %d, want %d", got, len(buf))
	}
	got, err := c2.ReadAt(0, len(buf))
	if err != nil {
		t.Fatal(err)
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], buf[i])
		}
	}
}

// TestCompressedCheckpointRoundTrip exercises the optional zstd-compressed
// chunk directory: many chunks (so the directory is worth compressing)
// survive a checkpoint, close, and reopen identically to the
// uncompressed path.
func TestCompressedCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	s.CompressCheckpoints = true

	const pageSize = 4096
	for i := int32(0); i < 50; i++ {
		key := ChunkKey{DB: 1, Table: 2, Column: i, Fragment: 0}
		c, err := s.CreateChunk(key, pageSize)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Append([]byte{byte(i), byte(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, 8, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	for i := int32(0); i < 50; i++ {
		key := ChunkKey{DB: 1, Table: 2, Column: i, Fragment: 0}
		c, err := s2.GetChunk(key)
		if err != nil {
			t.Fatalf("column %d: %v", i, err)
		}
		got, err := c.ReadAt(0, 2)
		if err != nil {
			t.Fatal(err)
		}
		if got[0] != byte(i) || got[1] != byte(i+1) {
			t.Fatalf("column %d: got %v", i, got)
		}
	}
}

// TestEpochRewind is spec.md §8 scenario 2.
func TestEpochRewind(t *testing.T) {
	dir := t.TempDir()
	const pageSize = 65536
	key := ChunkKey{DB: 1, Table: 1, Column: 1, Fragment: 1}

	s, err := Open(dir, 16, -1)
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.CreateChunk(key, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	chunk := make([]byte, 100_000*4)
	for round := 0; round < 4; round++ {
		if err := c.Append(chunk); err != nil {
			t.Fatal(err)
		}
		if err := s.Checkpoint(); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		epoch    int64
		wantSize int64
	}{
		{3, 3 * 100_000 * 4},
		{2, 2 * 100_000 * 4},
	} {
		s2, err := Open(dir, 16, tc.epoch)
		if err != nil {
			t.Fatal(err)
		}
		c2, err := s2.GetChunk(key)
		if err != nil {
			t.Fatal(err)
		}
		if got := c2.Size(); got != tc.wantSize {
			t.Fatalf("epoch %d: size = %d, want %d", tc.epoch, got, tc.wantSize)
		}
		s2.Close()
	}
}

// TestChunkLifecycle covers the §8 invariants around create/get/delete.
func TestChunkLifecycle(t *testing.T) {
	dir := t.TempDir()
	key := ChunkKey{DB: 1, Table: 1, Column: 1, Fragment: 1}
	s, err := Open(dir, 4, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	c1, err := s.CreateChunk(key, 4096)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := s.GetChunk(key)
	if err != nil {
		t.Fatal(err)
	}
	if c1.Key() != c2.Key() {
		t.Fatal("get_chunk after create_chunk returned a different key")
	}
	if _, err := s.CreateChunk(key, 4096); err != ErrAlreadyExists {
		t.Fatalf("second create_chunk: got %v, want ErrAlreadyExists", err)
	}

	if err := s.DeleteChunk(key); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChunk(key); err != ErrNotFound {
		t.Fatalf("get_chunk after delete: got %v, want ErrNotFound", err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChunk(key); err != ErrNotFound {
		t.Fatalf("get_chunk after delete+checkpoint: got %v, want ErrNotFound", err)
	}
}

func TestChunkKeyOrdering(t *testing.T) {
	a := ChunkKey{DB: 1, Table: 1, Column: 1, Fragment: 1}
	b := ChunkKey{DB: 1, Table: 1, Column: 1, Fragment: 2}
	if a.Compare(b) >= 0 {
		t.Fatal("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Fatal("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected a == a")
	}
}
