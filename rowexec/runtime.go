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

// The null-aware arithmetic runtime helper ABI (spec.md §4.4): every
// compiled BinOp calls one of these instead of inlining the null
// check, so the reference semantics live in one place a test can call
// directly without going through the closure compiler at all.
package rowexec

import "math"

func addInt64Nullable(a, b scalar) scalar {
	if a.Null || b.Null {
		return scalar{Null: true}
	}
	return scalar{I: a.I + b.I}
}

func subInt64Nullable(a, b scalar) scalar {
	if a.Null || b.Null {
		return scalar{Null: true}
	}
	return scalar{I: a.I - b.I}
}

func mulInt64Nullable(a, b scalar) scalar {
	if a.Null || b.Null {
		return scalar{Null: true}
	}
	return scalar{I: a.I * b.I}
}

func divInt64Nullable(a, b scalar) (scalar, error) {
	if a.Null || b.Null {
		return scalar{Null: true}, nil
	}
	if b.I == 0 {
		return scalar{}, ErrDivByZero
	}
	return scalar{I: a.I / b.I}, nil
}

func modInt64Nullable(a, b scalar) (scalar, error) {
	if a.Null || b.Null {
		return scalar{Null: true}, nil
	}
	if b.I == 0 {
		return scalar{}, ErrDivByZero
	}
	return scalar{I: a.I % b.I}, nil
}

func addFloat64Nullable(a, b scalar) scalar {
	if a.Null || b.Null {
		return scalar{Null: true}
	}
	return floatScalar(asFloat(a) + asFloat(b))
}

func subFloat64Nullable(a, b scalar) scalar {
	if a.Null || b.Null {
		return scalar{Null: true}
	}
	return floatScalar(asFloat(a) - asFloat(b))
}

func mulFloat64Nullable(a, b scalar) scalar {
	if a.Null || b.Null {
		return scalar{Null: true}
	}
	return floatScalar(asFloat(a) * asFloat(b))
}

func divFloat64Nullable(a, b scalar) (scalar, error) {
	if a.Null || b.Null {
		return scalar{Null: true}, nil
	}
	if asFloat(b) == 0 {
		return scalar{}, ErrDivByZero
	}
	return floatScalar(asFloat(a) / asFloat(b)), nil
}

func asFloat(s scalar) float64 { return math.Float64frombits(uint64(s.I)) }

func floatScalar(f float64) scalar { return scalar{I: int64(math.Float64bits(f))} }

func boolScalar(b bool) scalar {
	if b {
		return scalar{I: 1}
	}
	return scalar{I: 0}
}

func isTrue(s scalar) bool { return !s.Null && s.I != 0 }

func compareInt64Nullable(a, b scalar) (cmp int, null bool) {
	if a.Null || b.Null {
		return 0, true
	}
	switch {
	case a.I < b.I:
		return -1, false
	case a.I > b.I:
		return 1, false
	default:
		return 0, false
	}
}

func compareFloat64Nullable(a, b scalar) (cmp int, null bool) {
	if a.Null || b.Null {
		return 0, true
	}
	af, bf := asFloat(a), asFloat(b)
	switch {
	case af < bf:
		return -1, false
	case af > bf:
		return 1, false
	default:
		return 0, false
	}
}
