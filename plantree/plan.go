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

package plantree

// GroupByLayout enumerates the aggregation-buffer shapes of data model
// §3's Query Memory Descriptor.
type GroupByLayout uint8

const (
	NoGroups GroupByLayout = iota
	OneColKnownRange
	OneColGuessed
	MultiCol
	MultiColPerfectHash
)

// TargetInfo describes one output column, matching data model §3
// verbatim: AVG occupies two output slots (sum, count).
type TargetInfo struct {
	Agg      AggKind
	Distinct bool
	SQLType  SQLType
	SkipNull bool
	// Dictionary marks a plain (AggNone) pass-through target whose slot
	// holds a dictionary id rather than a literal scalar (spec.md §4.3
	// "option to translate dictionary-encoded ids to strings"); Result
	// resolves it back to a string via the per-target dictionary set by
	// the executor at run time.
	Dictionary bool
}

// SlotCount returns how many aggregation-buffer slots this target
// occupies: 2 for AVG (sum, count), 1 otherwise.
func (t TargetInfo) SlotCount() int {
	if t.Agg == AggAvg {
		return 2
	}
	return 1
}

// QueryMemoryDescriptor is the shape declaration of the aggregation
// buffer the compiled row function will write into (data model §3).
type QueryMemoryDescriptor struct {
	Layout         GroupByLayout
	KeyWidths      []int // byte width of each group-by key column
	SlotWidths     []int // byte width of each aggregation slot
	EntryCount     int
	OverflowCount  int // small-overflow entry count
	Keyless        bool
	Columnar       bool
	Targets        []TargetInfo
	// CountDistinctBitmapBytes[i] gives the bitmap size in bytes for
	// the i-th count-distinct target, used by Reducer per the
	// reduction contract table in spec.md §4.3.
	CountDistinctBitmapBytes map[int]int
}

// SortEntry is one (slot, direction) entry of a SORT clause, matching
// spec.md §4.3's right-to-left stable lexicographic sort.
type SortEntry struct {
	SlotIndex int
	Desc      bool
}

// QueryKind distinguishes the two plan shapes execute() accepts.
type QueryKind uint8

const (
	Select QueryKind = iota
	Insert
)

// GroupBy is the compiled group-by key expression list; nil/empty means
// NoGroups.
type GroupBy struct {
	Keys []Node
}

// Plan is the planned tree's shape as referenced by rowexec/executor:
// a flat description of one Scan/Aggregate/Project/Sort pipeline
// (spec.md §4.5), not the full relational tree the out-of-scope planner
// would build.
type Plan struct {
	Kind QueryKind

	// Table identifies which table's fragments to enumerate (Scan).
	DB, Table int

	// Columns lists the Column nodes the row function may decode,
	// indexed by Column.Idx.
	Columns []*Column

	// Filter is the WHERE-clause predicate, or nil.
	Filter Node

	// GroupBy is the (possibly empty) group-by key list.
	GroupBy GroupBy

	// Targets is the SELECT target list (scalar projections and/or
	// aggregates); its TargetInfo is reflected into Memory.Targets.
	Targets []Node

	Memory QueryMemoryDescriptor

	// Sort is an optional ORDER BY, applied after reduction.
	Sort []SortEntry
	// Limit <= 0 means unbounded.
	Limit int

	// Insert-only fields.
	InsertColumns []InsertColumn
}

// InsertColumn binds one literal scalar value to a destination column
// for the INSERT path (spec.md §4.5).
type InsertColumn struct {
	ColumnIdx int
	SQLType   SQLType
	IVal      int64
	FVal      float64
	SVal      string
	BVal      bool
	IsNull    bool
}
