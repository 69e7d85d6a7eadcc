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

	"github.com/sneller-contrib/coredb/plantree"
)

// evalFunc is a compiled row closure: given the row's inputs and a row
// index, it produces the expression's value. This is the "specialized
// closure" SPEC_FULL.md §6 names as rowexec's realization of the JIT's
// row function, built once per query by the single recursive compile
// pass below (mirroring vm/exprcompile.go's type-switch over
// expr.Node, here switching over plantree.Node instead).
type evalFunc func(in *RowInput, row int) (scalar, error)

// mustRunOnCPU is set by compile whenever it emits a closure that
// cannot be handed to an accelerator Device: string materialization or
// a dictionary decode (SPEC_FULL.md §6 "Fallback").
type compileState struct {
	mustRunOnCPU bool
}

// compile recursively lowers one plantree.Node into an evalFunc,
// exactly the shape of vm/exprcompile.go's `compile(p *prog, e
// expr.Node) (*value, error)`, minus the SSA program and with a closure
// as the compiled artifact instead of an SSA value reference.
func compile(st *compileState, n plantree.Node) (evalFunc, error) {
	switch v := n.(type) {
	case *plantree.Constant:
		return compileConstant(v), nil
	case *plantree.Column:
		return compileColumn(st, v), nil
	case *plantree.BinOp:
		return compileBinOp(st, v)
	case *plantree.UOp:
		return compileUOp(st, v)
	case *plantree.Case:
		return compileCase(st, v)
	case *plantree.Extract:
		return compileExtract(st, v)
	case *plantree.Like:
		return compileLike(st, v)
	case *plantree.InValues:
		return compileInValues(st, v)
	case *plantree.Cast:
		return compileCast(st, v)
	default:
		return nil, fmt.Errorf("rowexec: unsupported node %T", n)
	}
}

func compileConstant(c *plantree.Constant) evalFunc {
	if c.IsNull {
		return func(in *RowInput, row int) (scalar, error) { return scalar{Null: true}, nil }
	}
	// The per-query LiteralPool is supplied by the caller via
	// RowInput.Lits; Add is idempotent by (value,type), so repeated
	// evaluation across rows never grows the pool after the first row.
	if c.SQLType == plantree.TypeString {
		return func(in *RowInput, row int) (scalar, error) {
			return scalar{I: int64(in.Lits.Add(c))}, nil
		}
	}
	return func(in *RowInput, row int) (scalar, error) {
		return scalar{I: in.Lits.Int(in.Lits.Add(c))}, nil
	}
}

func compileColumn(st *compileState, c *plantree.Column) evalFunc {
	idx := c.Idx
	if c.SQLType == plantree.TypeString {
		st.mustRunOnCPU = true
	}
	return func(in *RowInput, row int) (scalar, error) {
		return in.Columns[idx].at(row), nil
	}
}

func compileBinOp(st *compileState, b *plantree.BinOp) (evalFunc, error) {
	left, err := compile(st, b.Left)
	if err != nil {
		return nil, err
	}
	right, err := compile(st, b.Right)
	if err != nil {
		return nil, err
	}
	isFloat := b.Left.Type() == plantree.TypeFloat || b.Right.Type() == plantree.TypeFloat

	switch b.Op {
	case plantree.Add, plantree.Sub, plantree.Mul, plantree.Div, plantree.Mod:
		return compileArith(b.Op, left, right, isFloat)
	case plantree.Eq, plantree.Neq, plantree.Lt, plantree.Lte, plantree.Gt, plantree.Gte:
		return compileCompare(b.Op, left, right, isFloat), nil
	case plantree.And:
		return func(in *RowInput, row int) (scalar, error) {
			l, err := left(in, row)
			if err != nil {
				return scalar{}, err
			}
			if !l.Null && l.I == 0 {
				return scalar{I: 0}, nil
			}
			r, err := right(in, row)
			if err != nil {
				return scalar{}, err
			}
			if l.Null || r.Null {
				return scalar{Null: true}, nil
			}
			return boolScalar(l.I != 0 && r.I != 0), nil
		}, nil
	case plantree.Or:
		return func(in *RowInput, row int) (scalar, error) {
			l, err := left(in, row)
			if err != nil {
				return scalar{}, err
			}
			if !l.Null && l.I != 0 {
				return scalar{I: 1}, nil
			}
			r, err := right(in, row)
			if err != nil {
				return scalar{}, err
			}
			if l.Null || r.Null {
				return scalar{Null: true}, nil
			}
			return boolScalar(l.I != 0 || r.I != 0), nil
		}, nil
	}
	return nil, fmt.Errorf("rowexec: unsupported binop %d", b.Op)
}

func compileArith(op plantree.BinOpKind, left, right evalFunc, isFloat bool) (evalFunc, error) {
	switch op {
	case plantree.Add:
		if isFloat {
			return binFn(left, right, func(a, b scalar) (scalar, error) { return addFloat64Nullable(a, b), nil }), nil
		}
		return binFn(left, right, func(a, b scalar) (scalar, error) { return addInt64Nullable(a, b), nil }), nil
	case plantree.Sub:
		if isFloat {
			return binFn(left, right, func(a, b scalar) (scalar, error) { return subFloat64Nullable(a, b), nil }), nil
		}
		return binFn(left, right, func(a, b scalar) (scalar, error) { return subInt64Nullable(a, b), nil }), nil
	case plantree.Mul:
		if isFloat {
			return binFn(left, right, func(a, b scalar) (scalar, error) { return mulFloat64Nullable(a, b), nil }), nil
		}
		return binFn(left, right, func(a, b scalar) (scalar, error) { return mulInt64Nullable(a, b), nil }), nil
	case plantree.Div:
		if isFloat {
			return binFn(left, right, divFloat64Nullable), nil
		}
		return binFn(left, right, divInt64Nullable), nil
	case plantree.Mod:
		return binFn(left, right, modInt64Nullable), nil
	}
	return nil, fmt.Errorf("rowexec: unsupported arithmetic op %d", op)
}

func binFn(left, right evalFunc, apply func(a, b scalar) (scalar, error)) evalFunc {
	return func(in *RowInput, row int) (scalar, error) {
		l, err := left(in, row)
		if err != nil {
			return scalar{}, err
		}
		r, err := right(in, row)
		if err != nil {
			return scalar{}, err
		}
		return apply(l, r)
	}
}

func compileCompare(op plantree.BinOpKind, left, right evalFunc, isFloat bool) evalFunc {
	return func(in *RowInput, row int) (scalar, error) {
		l, err := left(in, row)
		if err != nil {
			return scalar{}, err
		}
		r, err := right(in, row)
		if err != nil {
			return scalar{}, err
		}
		var cmp int
		var null bool
		if isFloat {
			cmp, null = compareFloat64Nullable(l, r)
		} else {
			cmp, null = compareInt64Nullable(l, r)
		}
		if null {
			return scalar{Null: true}, nil
		}
		switch op {
		case plantree.Eq:
			return boolScalar(cmp == 0), nil
		case plantree.Neq:
			return boolScalar(cmp != 0), nil
		case plantree.Lt:
			return boolScalar(cmp < 0), nil
		case plantree.Lte:
			return boolScalar(cmp <= 0), nil
		case plantree.Gt:
			return boolScalar(cmp > 0), nil
		case plantree.Gte:
			return boolScalar(cmp >= 0), nil
		}
		return scalar{Null: true}, nil
	}
}

func compileUOp(st *compileState, u *plantree.UOp) (evalFunc, error) {
	arg, err := compile(st, u.Arg)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case plantree.Neg:
		isFloat := u.Out == plantree.TypeFloat
		return func(in *RowInput, row int) (scalar, error) {
			a, err := arg(in, row)
			if err != nil {
				return scalar{}, err
			}
			if a.Null {
				return scalar{Null: true}, nil
			}
			if isFloat {
				return floatScalar(-asFloat(a)), nil
			}
			return scalar{I: -a.I}, nil
		}, nil
	case plantree.Not:
		return func(in *RowInput, row int) (scalar, error) {
			a, err := arg(in, row)
			if err != nil {
				return scalar{}, err
			}
			if a.Null {
				return scalar{Null: true}, nil
			}
			return boolScalar(a.I == 0), nil
		}, nil
	case plantree.IsNull:
		return func(in *RowInput, row int) (scalar, error) {
			a, err := arg(in, row)
			if err != nil {
				return scalar{}, err
			}
			return boolScalar(a.Null), nil
		}, nil
	case plantree.IsNotNull:
		return func(in *RowInput, row int) (scalar, error) {
			a, err := arg(in, row)
			if err != nil {
				return scalar{}, err
			}
			return boolScalar(!a.Null), nil
		}, nil
	}
	return nil, fmt.Errorf("rowexec: unsupported unary op %d", u.Op)
}

// compileCase compiles a CASE WHEN chain into nested closures built
// in reverse declaration order: the Else branch (or NULL) is the
// innermost closure, each preceding WHEN/THEN wraps it, so at
// evaluation time the WHENs are tested in declaration order and
// Branches[0] dominates, as spec.md §4.4
// describes for the basic-block chain (plantree.Case's own doc comment
// states this invariant).
func compileCase(st *compileState, c *plantree.Case) (evalFunc, error) {
	var chain evalFunc
	if c.Else != nil {
		e, err := compile(st, c.Else)
		if err != nil {
			return nil, err
		}
		chain = e
	} else {
		chain = func(in *RowInput, row int) (scalar, error) { return scalar{Null: true}, nil }
	}
	for i := len(c.Branches) - 1; i >= 0; i-- {
		when, err := compile(st, c.Branches[i].When)
		if err != nil {
			return nil, err
		}
		then, err := compile(st, c.Branches[i].Then)
		if err != nil {
			return nil, err
		}
		next := chain
		chain = func(in *RowInput, row int) (scalar, error) {
			w, err := when(in, row)
			if err != nil {
				return scalar{}, err
			}
			if isTrue(w) {
				return then(in, row)
			}
			return next(in, row)
		}
	}
	return chain, nil
}

func compileExtract(st *compileState, e *plantree.Extract) (evalFunc, error) {
	arg, err := compile(st, e.Arg)
	if err != nil {
		return nil, err
	}
	field := e.Field
	return func(in *RowInput, row int) (scalar, error) {
		a, err := arg(in, row)
		if err != nil {
			return scalar{}, err
		}
		if a.Null {
			return scalar{Null: true}, nil
		}
		return scalar{I: extractField(field, a.I)}, nil
	}, nil
}

// extractField pulls one calendar field from a.I, a unix-seconds
// timestamp, by way of extractCalendarField (rowexec/extract.go), which
// reuses the module's trimmed `date` package for the civil-calendar
// math rather than reimplementing it.
func extractField(field plantree.ExtractField, unixSeconds int64) int64 {
	return extractCalendarField(field, unixSeconds)
}

func compileLike(st *compileState, l *plantree.Like) (evalFunc, error) {
	arg, err := compileStringExpr(st, l.Arg)
	if err != nil {
		return nil, err
	}
	st.mustRunOnCPU = true
	pattern, escape, hasEscape, caseSensitive := l.Pattern, l.Escape, l.HasEscape, l.CaseSensitive
	return func(in *RowInput, row int) (scalar, error) {
		s, null, err := arg(in, row)
		if err != nil {
			return scalar{}, err
		}
		if null {
			return scalar{Null: true}, nil
		}
		return boolScalar(matchLike(s, pattern, escape, hasEscape, caseSensitive)), nil
	}, nil
}

func compileInValues(st *compileState, iv *plantree.InValues) (evalFunc, error) {
	if iv.Arg.Type() == plantree.TypeString {
		arg, err := compileStringExpr(st, iv.Arg)
		if err != nil {
			return nil, err
		}
		values := iv.Values
		return func(in *RowInput, row int) (scalar, error) {
			s, null, err := arg(in, row)
			if err != nil {
				return scalar{}, err
			}
			if null {
				return scalar{Null: true}, nil
			}
			for _, v := range values {
				if !v.IsNull && v.SVal == s {
					return scalar{I: 1}, nil
				}
			}
			return scalar{I: 0}, nil
		}, nil
	}
	arg, err := compile(st, iv.Arg)
	if err != nil {
		return nil, err
	}
	values := iv.Values
	isFloat := iv.Arg.Type() == plantree.TypeFloat
	return func(in *RowInput, row int) (scalar, error) {
		a, err := arg(in, row)
		if err != nil {
			return scalar{}, err
		}
		if a.Null {
			return scalar{Null: true}, nil
		}
		for _, v := range values {
			if v.IsNull {
				continue
			}
			if isFloat {
				if asFloat(a) == v.FVal {
					return scalar{I: 1}, nil
				}
				continue
			}
			if a.I == v.IVal {
				return scalar{I: 1}, nil
			}
		}
		return scalar{I: 0}, nil
	}, nil
}

// stringEvalFunc produces a real Go string per row, resolving either a
// dictionary id (Column) or a literal-pool offset (Constant); these
// are the only two string-producing node kinds a plan may reference
// into rowexec (plantree's Node set has no string-valued expression
// operators), consistent with plantree's closed variant design.
type stringEvalFunc func(in *RowInput, row int) (s string, isNull bool, err error)

func compileStringExpr(st *compileState, n plantree.Node) (stringEvalFunc, error) {
	switch v := n.(type) {
	case *plantree.Column:
		st.mustRunOnCPU = true
		idx := v.Idx
		return func(in *RowInput, row int) (string, bool, error) {
			col := in.Columns[idx]
			if col.Nulls != nil && col.Nulls[row] {
				return "", true, nil
			}
			s, ok := col.Dict.Lookup(uint32(col.Values[row]))
			if !ok {
				return "", false, fmt.Errorf("rowexec: dictionary id %d out of range", col.Values[row])
			}
			return s, false, nil
		}, nil
	case *plantree.Constant:
		if v.IsNull {
			return func(in *RowInput, row int) (string, bool, error) { return "", true, nil }, nil
		}
		return func(in *RowInput, row int) (string, bool, error) {
			off := in.Lits.Add(v)
			return in.Lits.String(off), false, nil
		}, nil
	default:
		return nil, fmt.Errorf("rowexec: unsupported string expression %T", n)
	}
}

func compileCast(st *compileState, c *plantree.Cast) (evalFunc, error) {
	arg, err := compile(st, c.Arg)
	if err != nil {
		return nil, err
	}
	from, to := c.Arg.Type(), c.To
	return func(in *RowInput, row int) (scalar, error) {
		a, err := arg(in, row)
		if err != nil || a.Null {
			return scalar{Null: true}, err
		}
		return castScalar(a, from, to)
	}, nil
}

func castScalar(a scalar, from, to plantree.SQLType) (scalar, error) {
	if from == to {
		return a, nil
	}
	switch to {
	case plantree.TypeFloat:
		if from == plantree.TypeFloat {
			return a, nil
		}
		return floatScalar(float64(a.I)), nil
	case plantree.TypeInt:
		if from == plantree.TypeFloat {
			f := asFloat(a)
			if f != float64(int64(f)) {
				return scalar{Null: true}, nil
			}
			return scalar{I: int64(f)}, nil
		}
		return a, nil
	default:
		return a, nil
	}
}

