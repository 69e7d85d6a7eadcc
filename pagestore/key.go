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

import "encoding/binary"

// ChunkKey is the ordered tuple (db, table, column, fragment) that
// uniquely names a chunk in the Page Store (data model §3). Keys are
// compared lexicographically.
type ChunkKey struct {
	DB       int32
	Table    int32
	Column   int32
	Fragment int32
}

// Compare orders two keys lexicographically, returning -1, 0, or 1.
func (k ChunkKey) Compare(o ChunkKey) int {
	for _, p := range [][2]int32{
		{k.DB, o.DB}, {k.Table, o.Table}, {k.Column, o.Column}, {k.Fragment, o.Fragment},
	} {
		if p[0] != p[1] {
			if p[0] < p[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

const chunkKeyEncodedLen = 1 + 4*4 // length prefix + 4 little-endian int32s

// Encode serializes the key as a length prefix followed by the tuple
// elements in little-endian fixed-width form (spec.md §6), so the open
// path can reconstruct the chunk map from page headers alone.
func (k ChunkKey) Encode() [chunkKeyEncodedLen]byte {
	var out [chunkKeyEncodedLen]byte
	out[0] = 4 // number of tuple elements
	binary.LittleEndian.PutUint32(out[1:5], uint32(k.DB))
	binary.LittleEndian.PutUint32(out[5:9], uint32(k.Table))
	binary.LittleEndian.PutUint32(out[9:13], uint32(k.Column))
	binary.LittleEndian.PutUint32(out[13:17], uint32(k.Fragment))
	return out
}

// DecodeKey parses the fixed-width encoding produced by Encode.
func DecodeKey(b [chunkKeyEncodedLen]byte) (ChunkKey, error) {
	if b[0] != 4 {
		return ChunkKey{}, ErrCorrupt
	}
	return ChunkKey{
		DB:       int32(binary.LittleEndian.Uint32(b[1:5])),
		Table:    int32(binary.LittleEndian.Uint32(b[5:9])),
		Column:   int32(binary.LittleEndian.Uint32(b[9:13])),
		Fragment: int32(binary.LittleEndian.Uint32(b[13:17])),
	}, nil
}
