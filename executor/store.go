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
	"fmt"
	"math"

	"github.com/sneller-contrib/coredb/chunkbuf"
	"github.com/sneller-contrib/coredb/dictionary"
	"github.com/sneller-contrib/coredb/pagestore"
	"github.com/sneller-contrib/coredb/plantree"
	"github.com/sneller-contrib/coredb/rowexec"
)

// dictColumnBit marks the reserved column-id range used for a
// dictionary-encoded column's backing string table, kept in the same
// pagestore as its id-valued chunkbuf.Buffer but addressed by a
// distinct Column component so the two chunks never collide (data
// model §3's Chunk Key is `(db, table, column, fragment)`).
const dictColumnBit = 1 << 20

// ColumnSchema describes one table column's storage shape, supplied by
// the caller at Open time (schema/DDL management is explicitly out of
// scope per spec.md §1 — this module only needs to know how to decode
// and append, not how a CREATE TABLE produced the shape).
type ColumnSchema struct {
	SQLType    plantree.SQLType
	Encoding   pagestore.Encoding
	Dictionary bool // true for dictionary-encoded string columns
}

// TableSchema is the column list for one table id.
type TableSchema struct {
	Columns []ColumnSchema
}

// PageStoreSource is the FragmentSource and insert-path Store
// implementation wiring pagestore, chunkbuf, and dictionary together.
// Every table is realized as exactly one fragment (fragment id 0):
// spec.md models fragment *dispatch* (skip, task-per-fragment) in
// detail but leaves the fragmenter that splits a table into many
// fragments as an external collaborator (§4.5 "delegates to the
// fragmenter's insertData"); a single fragment is the simplest
// faithful realization of create_chunk/append/get_chunk wired
// end-to-end without inventing a size/time-based splitting policy the
// spec never describes (Open Question, resolved here).
type PageStoreSource struct {
	Store    *pagestore.Store
	Schemas  map[int]TableSchema // by table id
	Dicts    *dictionary.Cache
	PageSize int

	buffers map[bufKey]*chunkbuf.Buffer
}

type bufKey struct {
	db, table, column int
}

// NewPageStoreSource wires a pagestore.Store into an executor data
// source with the given schema map.
func NewPageStoreSource(store *pagestore.Store, schemas map[int]TableSchema, pageSize int) *PageStoreSource {
	return &PageStoreSource{
		Store:    store,
		Schemas:  schemas,
		Dicts:    dictionary.NewCache(),
		PageSize: pageSize,
		buffers:  map[bufKey]*chunkbuf.Buffer{},
	}
}

func (s *PageStoreSource) key(table, column int, db int) pagestore.ChunkKey {
	return pagestore.ChunkKey{DB: int32(db), Table: int32(table), Column: int32(column), Fragment: 0}
}

func (s *PageStoreSource) columnBuffer(db, table, column int) (*chunkbuf.Buffer, error) {
	bk := bufKey{db, table, column}
	if b, ok := s.buffers[bk]; ok {
		return b, nil
	}
	schema := s.Schemas[table]
	if column >= len(schema.Columns) {
		return nil, fmt.Errorf("executor: table %d has no column %d", table, column)
	}
	cs := schema.Columns[column]
	key := s.key(table, column, db)
	chunk, err := s.Store.GetChunk(key)
	if err == pagestore.ErrNotFound {
		enc := cs.Encoding
		if cs.Dictionary {
			enc = pagestore.RawEncoding(4)
		}
		chunk, err = s.Store.CreateChunk(key, s.PageSize)
		if err != nil {
			return nil, err
		}
		buf := chunkbuf.New(chunk, cs.SQLType, enc, true)
		s.buffers[bk] = buf
		return buf, nil
	}
	if err != nil {
		return nil, err
	}
	buf, err := chunkbuf.Load(chunk)
	if err != nil {
		return nil, err
	}
	s.buffers[bk] = buf
	return buf, nil
}

func (s *PageStoreSource) columnDictionary(db, table, column int) (*dictionary.Dictionary, error) {
	cacheID := db<<40 | table<<20 | column
	return s.Dicts.Get(cacheID, func() (*dictionary.Dictionary, error) {
		key := s.key(table, dictColumnBit|column, db)
		chunk, err := s.Store.GetChunk(key)
		if err == pagestore.ErrNotFound {
			chunk, err = s.Store.CreateChunk(key, s.PageSize)
			if err != nil {
				return nil, err
			}
			return dictionary.New(chunk), nil
		}
		if err != nil {
			return nil, err
		}
		return dictionary.Load(chunk)
	})
}

// Fragments implements FragmentSource: one fragment per table,
// with per-column [min,max] read from each column's persisted stats.
func (s *PageStoreSource) Fragments(db, table int) ([]Fragment, error) {
	schema, ok := s.Schemas[table]
	if !ok {
		return nil, fmt.Errorf("executor: unknown table %d", table)
	}
	frag := Fragment{ID: 0, Key: s.key(table, 0, db), Columns: map[int]ColumnStats{}}
	for i := range schema.Columns {
		buf, err := s.columnBuffer(db, table, i)
		if err != nil {
			return nil, err
		}
		if int64(frag.Rows) < buf.Count() {
			frag.Rows = int(buf.Count())
		}
		min, max, ok := buf.MinMax()
		frag.Columns[i] = ColumnStats{Min: min, Max: max, HasMinMax: ok}
	}
	return []Fragment{frag}, nil
}

// Columns implements FragmentSource: decodes every requested column of
// frag in full into rowexec.ColumnView (SPEC_FULL.md §6, "decoders
// compiled once per query"), resolving dictionaries eagerly for
// dictionary-encoded columns.
func (s *PageStoreSource) Columns(db, table int, frag Fragment, cols []*plantree.Column) ([]rowexec.ColumnView, int, error) {
	schema := s.Schemas[table]
	views := make([]rowexec.ColumnView, len(cols))
	n := frag.Rows
	for i, c := range cols {
		buf, err := s.columnBuffer(db, table, c.Idx)
		if err != nil {
			return nil, 0, err
		}
		vals, err := buf.ReadElements(0, n)
		if err != nil {
			return nil, 0, err
		}
		view := rowexec.ColumnView{Values: vals}
		if schema.Columns[c.Idx].Dictionary {
			dict, err := s.columnDictionary(db, table, c.Idx)
			if err != nil {
				return nil, 0, err
			}
			view.Dict = dict
		}
		views[i] = view
	}
	return views, n, nil
}

// InsertRow implements the INSERT path's per-row binding: each
// plantree.InsertColumn is bound to its destination column's byte
// buffer (one scalar per call, spec.md §4.5), dictionary-encoding
// string values for dictionary columns first.
func (s *PageStoreSource) InsertRow(db, table int, cols []plantree.InsertColumn) error {
	for _, ic := range cols {
		buf, err := s.columnBuffer(db, table, ic.ColumnIdx)
		if err != nil {
			return err
		}
		if ic.IsNull {
			continue // chunkbuf has no explicit null-bitmap append path yet; nullability is tracked at the Buffer level.
		}
		schema := s.Schemas[table].Columns[ic.ColumnIdx]
		var v int64
		switch {
		case schema.Dictionary:
			dict, err := s.columnDictionary(db, table, ic.ColumnIdx)
			if err != nil {
				return err
			}
			id, err := dict.Intern(ic.SVal)
			if err != nil {
				return err
			}
			v = int64(id)
		case ic.SQLType == plantree.TypeFloat:
			v = int64(math.Float64bits(ic.FVal))
		case ic.SQLType == plantree.TypeBool:
			if ic.BVal {
				v = 1
			}
		default:
			v = ic.IVal
		}
		if err := buf.Append([]int64{v}); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint delegates to the backing page store, completing the
// INSERT path's durability step (spec.md §4.5).
func (s *PageStoreSource) Checkpoint() error {
	return s.Store.Checkpoint()
}
