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

// Package plantree models the shape of the planned relational tree that
// reaches the execution core. Building this tree from parsed SQL is out
// of scope (see spec.md §1) — only its shape is referenced by rowexec
// and executor, so this package is a closed tagged variant over node
// kinds, the same way expr.Node is a closed variant in the teacher, but
// trimmed to exactly what a row function needs to decode and evaluate.
package plantree

import "github.com/sneller-contrib/coredb/pagestore"

// SQLType enumerates the scalar types a column or expression may carry.
type SQLType uint8

const (
	TypeInt SQLType = iota
	TypeFloat
	TypeBool
	TypeString
	TypeTimestamp
)

// BinOpKind enumerates the binary operators a BinOp node may apply.
type BinOpKind uint8

const (
	Add BinOpKind = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Neq
	Lt
	Lte
	Gt
	Gte
	And
	Or
)

// UOpKind enumerates unary operators.
type UOpKind uint8

const (
	Neg UOpKind = iota
	Not
	IsNull
	IsNotNull
)

// ExtractField enumerates the fields EXTRACT may pull from a timestamp.
type ExtractField uint8

const (
	ExtractYear ExtractField = iota
	ExtractMonth
	ExtractDay
	ExtractHour
)

// Node is the closed set of planned-expression node kinds referenced by
// the JIT compiler. Implementations use a type switch (see
// rowexec.compile), never an open-ended subclass hierarchy (Design
// Notes §9).
type Node interface {
	Type() SQLType
	Nullable() bool
	node()
}

// Column references one column of the current fragment by its chunk key
// column component; Encoding and Width mirror the chunk's own encoding
// descriptor so the compiler can pick a decoder without touching storage
// at compile time.
type Column struct {
	Name     string
	Idx      int // index into the row function's column-buffer slice
	SQLType  SQLType
	Encoding pagestore.Encoding
	IsNull   bool
}

func (c *Column) node()          {}
func (c *Column) Type() SQLType  { return c.SQLType }
func (c *Column) Nullable() bool { return c.IsNull }

// Constant is a literal value to be hoisted into the literal pool.
type Constant struct {
	SQLType SQLType
	IVal    int64
	FVal    float64
	SVal    string
	BVal    bool
	IsNull  bool
}

func (c *Constant) node()          {}
func (c *Constant) Type() SQLType  { return c.SQLType }
func (c *Constant) Nullable() bool { return c.IsNull }

// BinOp is an n-ary binary expression, modeled strictly binary (a
// planner is expected to have already flattened any n-ary chain into a
// left-deep binary tree, matching expr.Node's own binary shape).
type BinOp struct {
	Op          BinOpKind
	Left, Right Node
	Out         SQLType
}

func (b *BinOp) node()          {}
func (b *BinOp) Type() SQLType  { return b.Out }
func (b *BinOp) Nullable() bool { return b.Left.Nullable() || b.Right.Nullable() }

// UOp is a unary expression.
type UOp struct {
	Op   UOpKind
	Arg  Node
	Out  SQLType
	Null bool
}

func (u *UOp) node()          {}
func (u *UOp) Type() SQLType  { return u.Out }
func (u *UOp) Nullable() bool { return u.Null }

// CaseBranch is one WHEN/THEN pair of a Case node.
type CaseBranch struct {
	When Node // boolean
	Then Node
}

// Case compiles to a chain of predicate basic blocks emitted in reverse
// (spec.md §4.4): Branches[len-1] is wrapped around Else first, then
// Branches[len-2], and so on, so that at run time Branches[0] is tested
// first and dominates.
type Case struct {
	Branches []CaseBranch
	Else     Node
	Out      SQLType
}

func (c *Case) node()          {}
func (c *Case) Type() SQLType  { return c.Out }
func (c *Case) Nullable() bool { return true }

// Extract pulls one calendar field out of a timestamp expression.
type Extract struct {
	Field ExtractField
	Arg   Node
}

func (e *Extract) node()          {}
func (e *Extract) Type() SQLType  { return TypeInt }
func (e *Extract) Nullable() bool { return e.Arg.Nullable() }

// Like is a LIKE/ILIKE string match against a pattern with an optional
// escape byte.
type Like struct {
	Arg           Node
	Pattern       string
	Escape        byte
	HasEscape     bool
	CaseSensitive bool
}

func (l *Like) node()          {}
func (l *Like) Type() SQLType  { return TypeBool }
func (l *Like) Nullable() bool { return l.Arg.Nullable() }

// InValues is `Arg IN (Values...)`.
type InValues struct {
	Arg    Node
	Values []Constant
}

func (n *InValues) node()          {}
func (n *InValues) Type() SQLType  { return TypeBool }
func (n *InValues) Nullable() bool { return n.Arg.Nullable() }

// AggKind enumerates the aggregation kinds of data model §3 Target Info.
type AggKind uint8

const (
	AggNone AggKind = iota
	AggCount
	AggSum
	AggAvg
	AggMin
	AggMax
	AggCountDistinct
)

// Agg is a single target-list aggregate expression.
type Agg struct {
	Kind       AggKind
	Arg        Node // nil for COUNT(*)
	Distinct   bool
	SkipNull   bool
	Out        SQLType
}

func (a *Agg) node()          {}
func (a *Agg) Type() SQLType  { return a.Out }
func (a *Agg) Nullable() bool { return false }

// Cast converts Arg to To, following the teacher's CAST semantics of
// failing closed (producing SQL NULL) rather than raising an error for
// a non-representable conversion.
type Cast struct {
	Arg Node
	To  SQLType
}

func (c *Cast) node()          {}
func (c *Cast) Type() SQLType  { return c.To }
func (c *Cast) Nullable() bool { return true }
