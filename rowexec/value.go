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
	"github.com/sneller-contrib/coredb/dictionary"
)

// scalar is the uniform runtime value every compiled node produces.
// Integers, booleans, timestamps (unix seconds) and float64 bit
// patterns all travel in I; strings resolve lazily through a
// dictionary id stored in I when the source ColumnView's Dict is set,
// since resolving a
// dictionary id to its string is exactly the construct that forces
// MustRunOnCPU (SPEC_FULL.md §6).
type scalar struct {
	I    int64
	Null bool
}

// ColumnView is one decoded column of the fragment currently being
// scanned: plain int64 values (or float64 bit patterns, or dictionary
// ids for TypeString) plus a parallel null mask, decoded once up front
// by chunkbuf.Buffer.ReadElements rather than re-dispatched per row
// (SPEC_FULL.md §6, "decoders ... compiled once per query").
type ColumnView struct {
	Values []int64
	Nulls  []bool
	Dict   *dictionary.Dictionary // non-nil for dictionary-encoded string columns
}

func (c ColumnView) at(row int) scalar {
	if c.Nulls != nil && c.Nulls[row] {
		return scalar{Null: true}
	}
	return scalar{I: c.Values[row]}
}

// RowInput bundles everything a compiled row closure reads: the
// fragment's decoded columns and the query's literal pool.
type RowInput struct {
	Columns []ColumnView
	Lits    *LiteralPool
}
