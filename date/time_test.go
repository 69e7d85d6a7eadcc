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

package date

import "testing"

func TestUnixCalendarFields(t *testing.T) {
	// 2021-03-17 08:28:00 UTC
	const unixSeconds = 1615969680
	tm := Unix(unixSeconds, 0)
	if y := tm.Year(); y != 2021 {
		t.Fatalf("Year() = %d, want 2021", y)
	}
	if m := tm.Month(); m != 3 {
		t.Fatalf("Month() = %d, want 3", m)
	}
	if d := tm.Day(); d != 17 {
		t.Fatalf("Day() = %d, want 17", d)
	}
	if h := tm.Hour(); h != 8 {
		t.Fatalf("Hour() = %d, want 8", h)
	}
}

func TestUnixEpoch(t *testing.T) {
	tm := Unix(0, 0)
	if tm.Year() != 1970 || tm.Month() != 1 || tm.Day() != 1 || tm.Hour() != 0 {
		t.Fatalf("Unix(0,0) = %04d-%02d-%02d %02dh, want 1970-01-01 00h",
			tm.Year(), tm.Month(), tm.Day(), tm.Hour())
	}
}
