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

package pagestore

import "errors"

// Error kinds per spec.md §7. IoError is not a sentinel: underlying
// *os.PathError / *fs.PathError values are surfaced unmodified, as the
// propagation policy requires.
var (
	ErrNoSpace      = errors.New("pagestore: no space")
	ErrAlreadyExists = errors.New("pagestore: chunk already exists")
	ErrNotFound     = errors.New("pagestore: chunk not found")
	ErrOutOfRange   = errors.New("pagestore: read out of range")
	ErrClosed       = errors.New("pagestore: store closed")
	ErrCorrupt      = errors.New("pagestore: corrupt on-disk structure")
)
