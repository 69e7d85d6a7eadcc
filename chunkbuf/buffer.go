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

// Package chunkbuf provides a typed view over a pagestore.Chunk's byte
// stream: element count, min/max statistics, and fixed-width or raw
// encoding (spec.md §4.2).
package chunkbuf

import (
	"encoding/binary"
	"math"

	"github.com/sneller-contrib/coredb/pagestore"
	"github.com/sneller-contrib/coredb/plantree"
)

const statsMagic = "CBST"
const statsLen = 4 + 1 + 1 + 4 + 1 + 8 + 1 + 8 + 8 // magic,sqltype,enckind,encwidth,nullable,count,hasMinMax,min,max

// Buffer is a typed, stats-tracking view over one pagestore.Chunk.
// Statistics are authoritative immediately after any mutation; callers
// must not cache min/max across a concurrent Append (spec.md §4.2).
type Buffer struct {
	chunk    *pagestore.Chunk
	sqlType  plantree.SQLType
	encoding pagestore.Encoding
	nullable bool

	count     int64
	hasMinMax bool
	min, max  int64 // also used as math.Float64bits(...) for TypeFloat
}

// storageWidth returns the number of bytes physically stored per
// element for the buffer's encoding.
func (b *Buffer) storageWidth() int {
	switch b.encoding.Kind {
	case pagestore.Raw:
		return b.encoding.Width
	case pagestore.Fixed:
		return (b.encoding.Width + 7) / 8
	}
	return 8
}

// New creates a fresh, empty typed view over chunk.
func New(chunk *pagestore.Chunk, sqlType plantree.SQLType, enc pagestore.Encoding, nullable bool) *Buffer {
	b := &Buffer{chunk: chunk, sqlType: sqlType, encoding: enc, nullable: nullable}
	b.save()
	return b
}

// Load reconstructs a Buffer's encoding and statistics from the
// persisted metadata of an existing chunk (spec.md §9 Open Question:
// min/max persistence is made explicit and verified here, rather than
// inferred).
func Load(chunk *pagestore.Chunk) (*Buffer, error) {
	m := chunk.Meta()
	if len(m) < statsLen || string(m[0:4]) != statsMagic {
		return nil, pagestore.ErrCorrupt
	}
	b := &Buffer{chunk: chunk}
	b.sqlType = plantree.SQLType(m[4])
	b.encoding.Kind = pagestore.EncodingKind(m[5])
	b.encoding.Width = int(binary.LittleEndian.Uint32(m[6:10]))
	b.nullable = m[10] != 0
	b.count = int64(binary.LittleEndian.Uint64(m[11:19]))
	b.hasMinMax = m[19] != 0
	b.min = int64(binary.LittleEndian.Uint64(m[20:28]))
	b.max = int64(binary.LittleEndian.Uint64(m[28:36]))
	return b, nil
}

func (b *Buffer) save() {
	var m [statsLen]byte
	copy(m[0:4], statsMagic)
	m[4] = byte(b.sqlType)
	m[5] = byte(b.encoding.Kind)
	binary.LittleEndian.PutUint32(m[6:10], uint32(b.encoding.Width))
	if b.nullable {
		m[10] = 1
	}
	binary.LittleEndian.PutUint64(m[11:19], uint64(b.count))
	if b.hasMinMax {
		m[19] = 1
	}
	binary.LittleEndian.PutUint64(m[20:28], uint64(b.min))
	binary.LittleEndian.PutUint64(m[28:36], uint64(b.max))
	b.chunk.SetMeta(m[:])
}

// Count returns the current element count.
func (b *Buffer) Count() int64 { return b.count }

// MinMax returns the current min/max statistics. ok is false when
// Count() == 0.
func (b *Buffer) MinMax() (min, max int64, ok bool) {
	return b.min, b.max, b.hasMinMax
}

// FloatMinMax interprets MinMax's bit pattern as float64, for
// TypeFloat buffers (spec.md §4.3's "min via bit-pun through double").
func (b *Buffer) FloatMinMax() (min, max float64, ok bool) {
	mn, mx, ok := b.MinMax()
	return math.Float64frombits(uint64(mn)), math.Float64frombits(uint64(mx)), ok
}

func fixedRange(bits int) (int64, int64) {
	if bits >= 64 {
		return math.MinInt64, math.MaxInt64
	}
	return -(int64(1) << (bits - 1)), (int64(1) << (bits - 1)) - 1
}

// Append appends the given int64 values (spec.md §4.2 append(data, n)),
// updating element count and min/max. For TypeFloat buffers, values are
// the IEEE-754 bit pattern of each float64 (math.Float64bits).
func (b *Buffer) Append(values []int64) error {
	if b.encoding.Kind == pagestore.Fixed {
		lo, hi := fixedRange(b.encoding.Width)
		for _, v := range values {
			if v < lo || v > hi {
				return ErrEncodingOverflow
			}
		}
	}
	width := b.storageWidth()
	raw := make([]byte, width*len(values))
	for i, v := range values {
		putInt(raw[i*width:(i+1)*width], v, width)
	}
	if err := b.chunk.Append(raw); err != nil {
		return err
	}
	for _, v := range values {
		if !b.hasMinMax {
			b.min, b.max = v, v
			b.hasMinMax = true
			continue
		}
		if less(b.sqlType, v, b.min) {
			b.min = v
		}
		if less(b.sqlType, b.max, v) {
			b.max = v
		}
	}
	b.count += int64(len(values))
	b.save()
	return nil
}

func less(t plantree.SQLType, a, b int64) bool {
	if t == plantree.TypeFloat {
		return math.Float64frombits(uint64(a)) < math.Float64frombits(uint64(b))
	}
	return a < b
}

func putInt(dst []byte, v int64, width int) {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	default:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	}
}

func getInt(src []byte, width int, signed bool) int64 {
	switch width {
	case 1:
		if signed {
			return int64(int8(src[0]))
		}
		return int64(src[0])
	case 2:
		v := binary.LittleEndian.Uint16(src)
		if signed {
			return int64(int16(v))
		}
		return int64(v)
	case 4:
		v := binary.LittleEndian.Uint32(src)
		if signed {
			return int64(int32(v))
		}
		return int64(v)
	default:
		return int64(binary.LittleEndian.Uint64(src))
	}
}

// ReadElements decodes n elements starting at element index `at`,
// sign-extending narrow FIXED encodings after the raw load (spec.md
// §4.4's per-column decoder shape).
func (b *Buffer) ReadElements(at, n int) ([]int64, error) {
	width := b.storageWidth()
	raw, err := b.chunk.ReadAt(int64(at*width), n*width)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	signed := b.encoding.Kind == pagestore.Fixed
	for i := 0; i < n; i++ {
		out[i] = getInt(raw[i*width:(i+1)*width], width, signed)
	}
	return out, nil
}

// Write performs a raw byte write at a byte offset (spec.md §4.2
// write(offset, data, len)); it does not update element count or
// statistics.
func (b *Buffer) Write(offset int64, data []byte) error {
	return b.chunk.WriteAt(offset, data)
}

// Read performs a raw byte read (spec.md §4.2 read(offset, len, out));
// fails with ErrOutOfRange (surfaced from pagestore) on an over-read.
func (b *Buffer) Read(offset int64, n int) ([]byte, error) {
	return b.chunk.ReadAt(offset, n)
}

// Encoding returns the buffer's encoding descriptor.
func (b *Buffer) Encoding() pagestore.Encoding { return b.encoding }

// SQLType returns the buffer's SQL type.
func (b *Buffer) SQLType() plantree.SQLType { return b.sqlType }

// ByteSize returns the chunk's current byte size.
func (b *Buffer) ByteSize() int64 { return b.chunk.Size() }
