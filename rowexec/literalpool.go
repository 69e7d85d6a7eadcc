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

package rowexec

import (
	"encoding/binary"
	"math"

	"github.com/sneller-contrib/coredb/plantree"
)

// literalWordSize is the per-entry width of the scalar half of the
// pool: 8 bytes, wide enough for an int64, a float64 bit pattern, or a
// bool/timestamp, matching spec.md §4.4's "word-aligned per type".
const literalWordSize = 8

// stringOffsetFlag marks an offset as indexing into the string table
// rather than the scalar word buffer.
const stringOffsetFlag = uint16(1) << 15

type literalKey struct {
	sqlType plantree.SQLType
	ival    int64
	sval    string
}

// LiteralPool hoists every Constant node a compiled query touches into
// a single dense buffer, deduplicated by (value, type), addressed by a
// stable 16-bit offset baked into the compiled closure (spec.md §4.4,
// grounded on vm/exprcompile.go's constant-pool handling).
type LiteralPool struct {
	scalars []byte
	strings []string
	index   map[literalKey]uint16
}

// NewLiteralPool creates an empty pool.
func NewLiteralPool() *LiteralPool {
	return &LiteralPool{index: map[literalKey]uint16{}}
}

// Add interns c, returning its stable offset. Calling Add twice with
// an equal (value, type) pair returns the same offset both times.
func (p *LiteralPool) Add(c *plantree.Constant) uint16 {
	key := literalKey{sqlType: c.SQLType}
	switch c.SQLType {
	case plantree.TypeString:
		key.sval = c.SVal
	case plantree.TypeFloat:
		key.ival = int64(math.Float64bits(c.FVal))
	case plantree.TypeBool:
		if c.BVal {
			key.ival = 1
		}
	default:
		key.ival = c.IVal
	}
	if off, ok := p.index[key]; ok {
		return off
	}
	var off uint16
	if c.SQLType == plantree.TypeString {
		off = stringOffsetFlag | uint16(len(p.strings))
		p.strings = append(p.strings, c.SVal)
	} else {
		off = uint16(len(p.scalars) / literalWordSize)
		var word [literalWordSize]byte
		binary.LittleEndian.PutUint64(word[:], uint64(key.ival))
		p.scalars = append(p.scalars, word[:]...)
	}
	p.index[key] = off
	return off
}

// Int reads the scalar word at offset as an int64 (also used for
// bools: 0/1, and timestamps: unix seconds).
func (p *LiteralPool) Int(offset uint16) int64 {
	i := int(offset) * literalWordSize
	return int64(binary.LittleEndian.Uint64(p.scalars[i : i+literalWordSize]))
}

// Float reads the scalar word at offset, reinterpreted as a float64.
func (p *LiteralPool) Float(offset uint16) float64 {
	return math.Float64frombits(uint64(p.Int(offset)))
}

// String reads the string at offset (offset must carry stringOffsetFlag).
func (p *LiteralPool) String(offset uint16) string {
	return p.strings[offset&^stringOffsetFlag]
}
