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

import "strings"

// matchLike reports whether s matches the SQL LIKE pattern, where '%'
// matches any run of characters and '_' matches exactly one, with an
// optional escape byte preceding a literal '%', '_', or itself
// (expr.StringMatch's Like/Ilike operators, whose pattern-matching
// backend — internal/stringext's vectorized alternative-rune matcher —
// is SIMD-bytecode-only machinery out of rowexec's closure-tree scope;
// this is a plain recursive matcher instead, see DESIGN.md).
func matchLike(s, pattern string, escape byte, hasEscape, caseSensitive bool) bool {
	if !caseSensitive {
		s = strings.ToLower(s)
		pattern = strings.ToLower(pattern)
	}
	return likeMatch([]byte(s), []byte(pattern), escape, hasEscape)
}

func likeMatch(s, p []byte, escape byte, hasEscape bool) bool {
	for len(p) > 0 {
		switch {
		case hasEscape && p[0] == escape && len(p) > 1:
			if len(s) == 0 || s[0] != p[1] {
				return false
			}
			s, p = s[1:], p[2:]
		case p[0] == '%':
			// Collapse consecutive '%' and try every possible split.
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeMatch(s[i:], p, escape, hasEscape) {
					return true
				}
			}
			return false
		case p[0] == '_':
			if len(s) == 0 {
				return false
			}
			s, p = s[1:], p[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			s, p = s[1:], p[1:]
		}
	}
	return len(s) == 0
}
