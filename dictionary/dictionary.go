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

// Package dictionary implements the string dictionary of data model §3:
// a bijection between strings and 32-bit ids, persisted per table. It
// is grounded on the teacher's ion.Symtab, which is the same
// string<->small-integer bijection used for ion symbol interning, here
// persisted as its own pagestore chunk instead of being embedded in an
// ion buffer.
package dictionary

import (
	"encoding/binary"
	"sync"

	"github.com/sneller-contrib/coredb/pagestore"
)

// Dictionary is a process-wide, mutex-protected string<->uint32
// bijection for one dictionary-encoded column (spec.md §5: "String
// dictionary cache: process-wide, mutex-protected dict_id -> dictionary
// map").
type Dictionary struct {
	mu       sync.RWMutex
	chunk    *pagestore.Chunk
	toString []string
	toID     map[string]uint32
}

// New creates an empty dictionary backed by chunk.
func New(chunk *pagestore.Chunk) *Dictionary {
	return &Dictionary{chunk: chunk, toID: map[string]uint32{}}
}

// Load reconstructs a dictionary from its persisted chunk: a sequence
// of length-prefixed UTF-8 strings, id == position in the sequence.
func Load(chunk *pagestore.Chunk) (*Dictionary, error) {
	d := &Dictionary{chunk: chunk, toID: map[string]uint32{}}
	size := chunk.Size()
	var off int64
	for off < size {
		lenBuf, err := chunk.ReadAt(off, 4)
		if err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint32(lenBuf))
		off += 4
		sb, err := chunk.ReadAt(off, n)
		if err != nil {
			return nil, err
		}
		off += int64(n)
		s := string(sb)
		d.toID[s] = uint32(len(d.toString))
		d.toString = append(d.toString, s)
	}
	return d, nil
}

// Intern returns the id for s, acquiring the next id and appending s to
// the backing chunk if s has not been seen before.
func (d *Dictionary) Intern(s string) (uint32, error) {
	d.mu.RLock()
	if id, ok := d.toID[s]; ok {
		d.mu.RUnlock()
		return id, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.toID[s]; ok {
		return id, nil
	}
	id := uint32(len(d.toString))
	rec := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(s)))
	copy(rec[4:], s)
	if err := d.chunk.Append(rec); err != nil {
		return 0, err
	}
	d.toString = append(d.toString, s)
	d.toID[s] = id
	return id, nil
}

// Lookup translates id back to its string. ok is false for an id past
// the end of the dictionary.
func (d *Dictionary) Lookup(id uint32) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if int(id) >= len(d.toString) {
		return "", false
	}
	return d.toString[id], true
}

// Len returns the number of interned strings.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.toString)
}

// Cache is the process-wide dict_id -> Dictionary map referenced from
// §5, guarding concurrent access to per-column dictionaries shared
// across queries.
type Cache struct {
	mu   sync.Mutex
	dict map[int]*Dictionary
}

// NewCache creates an empty dictionary cache.
func NewCache() *Cache {
	return &Cache{dict: map[int]*Dictionary{}}
}

// Get returns the cached dictionary for id, loading it via load if it
// is not already present.
func (c *Cache) Get(id int, load func() (*Dictionary, error)) (*Dictionary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dict[id]; ok {
		return d, nil
	}
	d, err := load()
	if err != nil {
		return nil, err
	}
	c.dict[id] = d
	return d, nil
}

// Evict drops id from the cache.
func (c *Cache) Evict(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dict, id)
}
