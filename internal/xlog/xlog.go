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

// Package xlog provides the process-wide diagnostic hooks used by the
// storage, compiler, and executor packages. It intentionally mirrors the
// shape of a package-global Errorf hook rather than wrapping a logging
// framework: none of the other components in this tree depend on one.
package xlog

import "fmt"

// Errorf is a global diagnostic function that callers may set during
// init() (or in a test) to capture additional diagnostic output from the
// core packages. It is nil by default, in which case diagnostics are
// discarded.
var Errorf func(f string, args ...any)

// Tracef is a global, separately-gated hook for verbose per-row or
// per-fragment tracing. It is typically left nil in production and set
// only when debugging a specific query.
var Tracef func(f string, args ...any)

func Errorff(f string, args ...any) {
	if Errorf != nil {
		Errorf(f, args...)
	}
}

func Tracefn(f string, args ...any) {
	if Tracef != nil {
		Tracef(f, args...)
	}
}

// Wrap reports err (if non-nil) through Errorf and returns a wrapped
// error tagging it with ctx.
func Wrap(ctx string, err error) error {
	if err == nil {
		return nil
	}
	Errorff("%s: %v", ctx, err)
	return fmt.Errorf("%s: %w", ctx, err)
}
