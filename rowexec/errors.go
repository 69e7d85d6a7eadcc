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

// Package rowexec compiles a plantree.Plan's scan/filter/target-list
// into a specialized Go closure — the "row function" of spec.md §4.4,
// realized the way the teacher's vm/exprcompile.go realizes its own
// row-at-a-time evaluator, minus the platform-specific bytecode
// backend (see the design note in SPEC_FULL.md §6).
package rowexec

import "errors"

// ErrDivByZero is returned by the compiled row function when an
// integer or floating-point division's divisor is zero.
var ErrDivByZero = errors.New("rowexec: division by zero")

// ErrUnsupportedOnAccelerator is the sentinel a Device implementation
// returns (or rowexec sets MustRunOnCPU for, at compile time) when a
// compiled Kernel touches a construct that device cannot execute:
// real-string materialization, a dictionary decode, or any other
// CPU-only path (spec.md §4.4's "must_run_on_cpu" flag).
var ErrUnsupportedOnAccelerator = errors.New("rowexec: construct unsupported on accelerator")
