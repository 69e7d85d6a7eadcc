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
	"github.com/sneller-contrib/coredb/date"
	"github.com/sneller-contrib/coredb/plantree"
)

// extractCalendarField pulls one calendar field out of a unix-seconds
// timestamp using the teacher's date.Time, so leap years and month
// lengths are handled the same way every other timestamp-aware package
// in this module handles them, rather than re-deriving civil-calendar
// arithmetic here.
func extractCalendarField(field plantree.ExtractField, unixSeconds int64) int64 {
	t := date.Unix(unixSeconds, 0)
	switch field {
	case plantree.ExtractYear:
		return int64(t.Year())
	case plantree.ExtractMonth:
		return int64(t.Month())
	case plantree.ExtractDay:
		return int64(t.Day())
	case plantree.ExtractHour:
		return int64(t.Hour())
	}
	return 0
}
