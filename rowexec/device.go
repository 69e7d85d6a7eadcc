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
	"encoding/binary"
	"errors"

	"github.com/sneller-contrib/coredb/plantree"
	"github.com/sneller-contrib/coredb/resultset"
)

// ErrGroupBufferOverflow is returned by CPUDevice.Run when the
// destination Result's group-by entry count exceeds what the query's
// memory descriptor provisioned (spec.md §4.5's retry trigger);
// executor reissues the fragment with a sized buffer on this error.
var ErrGroupBufferOverflow = errors.New("rowexec: group buffer overflow")

// CPUDevice is the always-available Device: ordinary Go evaluation of
// the compiled closures, one row at a time. Every Kernel can run here
// regardless of MustRunOnCPU; accelerator Devices are expected to
// refuse (ErrUnsupportedOnAccelerator) whenever MustRunOnCPU is set
// and fall back to this one.
type CPUDevice struct {
	// MaxGroups caps the number of distinct group-by keys this Run may
	// materialize before returning ErrGroupBufferOverflow; <= 0 falls
	// back to dst's descriptor EntryCount, and an EntryCount <= 0 means
	// unbounded. The executor's CPU retry path (spec.md §4.5) sets it to
	// the largest live fragment's row count.
	MaxGroups int
}

// Run implements Device.
func (d CPUDevice) Run(k *Kernel, in *RowInput, n int, dst *resultset.Result) error {
	keyFns := k.groupKeys
	maxGroups := d.MaxGroups
	if maxGroups <= 0 {
		maxGroups = dst.Memory.EntryCount
	}

	for i, col := range k.groupKeyDictCol {
		if col >= 0 && col < len(in.Columns) {
			dst.SetKeyDictionary(i, in.Columns[col].Dict)
		}
	}
	for i, col := range k.targetDictCol {
		if col >= 0 && col < len(in.Columns) {
			dst.SetTargetDictionary(i, in.Columns[col].Dict)
		}
	}

	for row := 0; row < n; row++ {
		if k.filter != nil {
			v, err := k.filter(in, row)
			if err != nil {
				return err
			}
			if !isTrue(v) {
				continue
			}
		}

		key, err := evalGroupKey(keyFns, in, row)
		if err != nil {
			return err
		}
		out := dst.RowFor(key)
		if maxGroups > 0 && len(keyFns) > 0 && dst.Memory.Layout != plantree.NoGroups {
			if len(dst.Rows()) > maxGroups {
				return ErrGroupBufferOverflow
			}
		}

		for i, target := range k.targets {
			ti := dst.Memory.Targets[i]
			if ti.Agg == plantree.AggCount && target == nil {
				dst.Accumulate(out, i, 0, false)
				continue
			}
			v, err := target(in, row)
			if err != nil {
				return err
			}
			dst.Accumulate(out, i, v.I, v.Null)
		}
	}
	return nil
}

// evalGroupKey evaluates every group-by key expression for row and
// concatenates, per key, a 1-byte null flag and the 8-byte
// little-endian value into the key resultset buckets on; Result keys
// its rows on these raw bytes for exactness.
func evalGroupKey(keyFns []evalFunc, in *RowInput, row int) ([]byte, error) {
	if len(keyFns) == 0 {
		return nil, nil
	}
	buf := make([]byte, 0, 9*len(keyFns))
	for _, f := range keyFns {
		v, err := f(in, row)
		if err != nil {
			return nil, err
		}
		if v.Null {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], uint64(v.I))
		buf = append(buf, word[:]...)
	}
	return buf, nil
}
