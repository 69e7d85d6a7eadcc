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
	"fmt"
	"math"

	"github.com/sneller-contrib/coredb/plantree"
)

// normalize runs the Go-level analogue of spec.md §4.4's optimization
// passes over a single expression tree: constant folding and, via the
// literal pool's own deduplication, loop-invariant hoisting of
// per-query constants (SPEC_FULL.md §6). It returns a new tree; the
// input is never mutated in place, matching plantree.Node's immutable
// shape.
func normalize(n plantree.Node) plantree.Node {
	switch v := n.(type) {
	case *plantree.BinOp:
		left := normalize(v.Left)
		right := normalize(v.Right)
		if folded := foldBinOp(v.Op, left, right, v.Out); folded != nil {
			return folded
		}
		return &plantree.BinOp{Op: v.Op, Left: left, Right: right, Out: v.Out}
	case *plantree.UOp:
		arg := normalize(v.Arg)
		if folded := foldUOp(v.Op, arg, v.Out, v.Null); folded != nil {
			return folded
		}
		return &plantree.UOp{Op: v.Op, Arg: arg, Out: v.Out, Null: v.Null}
	case *plantree.Case:
		branches := make([]plantree.CaseBranch, len(v.Branches))
		for i, br := range v.Branches {
			branches[i] = plantree.CaseBranch{When: normalize(br.When), Then: normalize(br.Then)}
		}
		var els plantree.Node
		if v.Else != nil {
			els = normalize(v.Else)
		}
		return &plantree.Case{Branches: branches, Else: els, Out: v.Out}
	case *plantree.Extract:
		return &plantree.Extract{Field: v.Field, Arg: normalize(v.Arg)}
	case *plantree.Cast:
		arg := normalize(v.Arg)
		if c, ok := arg.(*plantree.Constant); ok {
			return foldCast(c, v.To)
		}
		return &plantree.Cast{Arg: arg, To: v.To}
	case *plantree.Like:
		return &plantree.Like{Arg: normalize(v.Arg), Pattern: v.Pattern, Escape: v.Escape, HasEscape: v.HasEscape, CaseSensitive: v.CaseSensitive}
	case *plantree.InValues:
		return &plantree.InValues{Arg: normalize(v.Arg), Values: v.Values}
	case *plantree.Agg:
		if v.Arg == nil {
			return v
		}
		return &plantree.Agg{Kind: v.Kind, Arg: normalize(v.Arg), Distinct: v.Distinct, SkipNull: v.SkipNull, Out: v.Out}
	default:
		return n
	}
}

// NormalizeTargets runs normalize across a target list and applies
// common-subexpression elimination: identical normalized subtrees
// (by structural fingerprint) are reduced to one shared *plantree.Node
// pointer. Only whole targets are compared, not their subtrees, and
// Compile still compiles (and at runtime evaluates) each target
// position separately, shared pointer or not. Grounded on
// vm/exprcompile.go's reuse of already-compiled SSA values for
// repeated subexpressions.
func NormalizeTargets(targets []plantree.Node) []plantree.Node {
	seen := map[string]plantree.Node{}
	out := make([]plantree.Node, len(targets))
	for i, t := range targets {
		nt := normalize(t)
		fp := fingerprint(nt)
		if canon, ok := seen[fp]; ok {
			out[i] = canon
			continue
		}
		seen[fp] = nt
		out[i] = nt
	}
	return out
}

// fingerprint returns a structural string key used for CSE; two nodes
// with equal fingerprints are guaranteed to evaluate identically given
// the same row.
func fingerprint(n plantree.Node) string {
	switch v := n.(type) {
	case *plantree.Column:
		return fmt.Sprintf("col(%d)", v.Idx)
	case *plantree.Constant:
		return fmt.Sprintf("const(%d,%d,%v,%q,%v,%v)", v.SQLType, v.IVal, v.FVal, v.SVal, v.BVal, v.IsNull)
	case *plantree.BinOp:
		return fmt.Sprintf("bin(%d,%s,%s)", v.Op, fingerprint(v.Left), fingerprint(v.Right))
	case *plantree.UOp:
		return fmt.Sprintf("uop(%d,%s)", v.Op, fingerprint(v.Arg))
	case *plantree.Extract:
		return fmt.Sprintf("ext(%d,%s)", v.Field, fingerprint(v.Arg))
	case *plantree.Cast:
		return fmt.Sprintf("cast(%d,%s)", v.To, fingerprint(v.Arg))
	case *plantree.Like:
		return fmt.Sprintf("like(%s,%q,%d,%v,%v)", fingerprint(v.Arg), v.Pattern, v.Escape, v.HasEscape, v.CaseSensitive)
	default:
		return fmt.Sprintf("%p", n)
	}
}

func foldBinOp(op plantree.BinOpKind, left, right plantree.Node, out plantree.SQLType) *plantree.Constant {
	lc, lok := left.(*plantree.Constant)
	rc, rok := right.(*plantree.Constant)
	if !lok || !rok || lc.IsNull || rc.IsNull {
		return nil
	}
	switch out {
	case plantree.TypeFloat:
		lf, rf := asFloatConst(lc), asFloatConst(rc)
		switch op {
		case plantree.Add:
			return &plantree.Constant{SQLType: out, FVal: lf + rf}
		case plantree.Sub:
			return &plantree.Constant{SQLType: out, FVal: lf - rf}
		case plantree.Mul:
			return &plantree.Constant{SQLType: out, FVal: lf * rf}
		case plantree.Div:
			if rf == 0 {
				return nil
			}
			return &plantree.Constant{SQLType: out, FVal: lf / rf}
		}
		return nil
	case plantree.TypeBool:
		switch op {
		case plantree.And:
			return &plantree.Constant{SQLType: out, BVal: lc.BVal && rc.BVal}
		case plantree.Or:
			return &plantree.Constant{SQLType: out, BVal: lc.BVal || rc.BVal}
		case plantree.Eq:
			return &plantree.Constant{SQLType: out, BVal: lc.IVal == rc.IVal}
		case plantree.Neq:
			return &plantree.Constant{SQLType: out, BVal: lc.IVal != rc.IVal}
		case plantree.Lt:
			return &plantree.Constant{SQLType: out, BVal: lc.IVal < rc.IVal}
		case plantree.Lte:
			return &plantree.Constant{SQLType: out, BVal: lc.IVal <= rc.IVal}
		case plantree.Gt:
			return &plantree.Constant{SQLType: out, BVal: lc.IVal > rc.IVal}
		case plantree.Gte:
			return &plantree.Constant{SQLType: out, BVal: lc.IVal >= rc.IVal}
		}
		return nil
	default:
		switch op {
		case plantree.Add:
			return &plantree.Constant{SQLType: out, IVal: lc.IVal + rc.IVal}
		case plantree.Sub:
			return &plantree.Constant{SQLType: out, IVal: lc.IVal - rc.IVal}
		case plantree.Mul:
			return &plantree.Constant{SQLType: out, IVal: lc.IVal * rc.IVal}
		case plantree.Div:
			if rc.IVal == 0 {
				return nil
			}
			return &plantree.Constant{SQLType: out, IVal: lc.IVal / rc.IVal}
		case plantree.Mod:
			if rc.IVal == 0 {
				return nil
			}
			return &plantree.Constant{SQLType: out, IVal: lc.IVal % rc.IVal}
		}
		return nil
	}
}

func foldUOp(op plantree.UOpKind, arg plantree.Node, out plantree.SQLType, null bool) *plantree.Constant {
	c, ok := arg.(*plantree.Constant)
	if !ok || c.IsNull {
		return nil
	}
	switch op {
	case plantree.Neg:
		if out == plantree.TypeFloat {
			return &plantree.Constant{SQLType: out, FVal: -c.FVal}
		}
		return &plantree.Constant{SQLType: out, IVal: -c.IVal}
	case plantree.Not:
		return &plantree.Constant{SQLType: out, BVal: !c.BVal}
	}
	return nil
}

func foldCast(c *plantree.Constant, to plantree.SQLType) plantree.Node {
	if c.IsNull {
		return &plantree.Constant{SQLType: to, IsNull: true}
	}
	switch to {
	case plantree.TypeFloat:
		if c.SQLType == plantree.TypeFloat {
			return c
		}
		return &plantree.Constant{SQLType: to, FVal: float64(c.IVal)}
	case plantree.TypeInt:
		if c.SQLType == plantree.TypeFloat {
			if c.FVal != math.Trunc(c.FVal) {
				return &plantree.Constant{SQLType: to, IsNull: true}
			}
			return &plantree.Constant{SQLType: to, IVal: int64(c.FVal)}
		}
		return c
	}
	return &plantree.Cast{Arg: c, To: to}
}

func asFloatConst(c *plantree.Constant) float64 {
	if c.SQLType == plantree.TypeFloat {
		return c.FVal
	}
	return float64(c.IVal)
}
