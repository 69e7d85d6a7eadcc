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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/sneller-contrib/coredb/plantree"
	"github.com/sneller-contrib/coredb/resultset"
)

// Kernel is the compiled, launchable artifact of one query: the
// filter closure, one evalFunc per target, and the flag recording
// whether any compiled construct forces CPU execution. It is the
// single compile-and-launch boundary SPEC_FULL.md §6 calls out as
// where a real accelerator backend would plug in.
type Kernel struct {
	Fingerprint  string
	MustRunOnCPU bool

	filter    evalFunc
	targets   []evalFunc
	groupKeys []evalFunc
	plan      *plantree.Plan

	// groupKeyDictCol[i] and targetDictCol[i] give the RowInput.Columns
	// index whose ColumnView.Dict resolves the i-th group-by key
	// component / i-th plain pass-through target back to a string, or
	// -1 if that position isn't a dictionary-encoded column (spec.md
	// §4.3/§6: every TypeString column in this module's storage layer
	// is dictionary-encoded, chunkbuf having no variable-length
	// encoding).
	groupKeyDictCol []int
	targetDictCol   []int
}

// dictSourceColumn returns n's RowInput.Columns index when n is a bare
// string column reference (the only shape that can carry a
// *dictionary.Dictionary through to the result path today: an
// aggregate's Arg is reduced to a scalar int64/float64 slot long
// before Result ever sees it), or -1 otherwise.
func dictSourceColumn(n plantree.Node) int {
	c, ok := n.(*plantree.Column)
	if !ok || c.SQLType != plantree.TypeString {
		return -1
	}
	return c.Idx
}

// Device is the accelerator interface a Kernel may be launched
// against; the only implementation in this module is CPUDevice
// (device.go), but the interface boundary is what
// spec.md §4.4 calls "referenced only through a stable compile-and-
// launch interface".
type Device interface {
	// Run executes k against one fragment's decoded columns, folding
	// row results into dst. It returns ErrUnsupportedOnAccelerator if
	// the device cannot execute k (k.MustRunOnCPU) or
	// ErrGroupBufferOverflow if dst's descriptor under-provisioned the
	// group buffer for the number of distinct keys actually seen.
	Run(k *Kernel, in *RowInput, n int, dst *resultset.Result) error
}

// fingerprintOf returns the SHA-256 hex digest of the normalized
// target list plus the memory descriptor shape: the Go analogue of
// spec.md §4.4's (ir_fingerprint(query_func), ir_fingerprint(row_func))
// pair, collapsed to one hash since there is no separate IR here.
func fingerprintOf(targets []plantree.Node, filter plantree.Node, mem plantree.QueryMemoryDescriptor) string {
	h := sha256.New()
	if filter != nil {
		fmt.Fprintf(h, "filter:%s\n", fingerprint(filter))
	}
	for i, t := range targets {
		fmt.Fprintf(h, "target[%d]:%s\n", i, fingerprint(t))
	}
	fmt.Fprintf(h, "mem:%d,%v,%v\n", mem.Layout, mem.KeyWidths, mem.SlotWidths)
	for i, ti := range mem.Targets {
		fmt.Fprintf(h, "ti[%d]:%d,%v,%d,%v\n", i, ti.Agg, ti.Distinct, ti.SQLType, ti.SkipNull)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compile normalizes plan's filter and target list and lowers them
// into a Kernel. Callers should route every compile through a Cache
// (below) rather than calling Compile directly, so repeated queries
// against the same shape reuse the compiled closures.
func Compile(plan *plantree.Plan) (*Kernel, error) {
	st := &compileState{}

	var filter evalFunc
	if plan.Filter != nil {
		nf := normalize(plan.Filter)
		f, err := compile(st, nf)
		if err != nil {
			return nil, fmt.Errorf("rowexec: compiling filter: %w", err)
		}
		filter = f
	}

	targets := NormalizeTargets(plan.Targets)
	compiled := make([]evalFunc, len(targets))
	targetDictCol := make([]int, len(targets))
	for i, t := range targets {
		arg := t
		targetDictCol[i] = -1
		if agg, ok := t.(*plantree.Agg); ok && agg.Arg != nil {
			arg = agg.Arg
		} else if ok && agg.Arg == nil {
			compiled[i] = nil // COUNT(*) needs no per-row value
			continue
		} else {
			// Not wrapped in an Agg at all: a plain pass-through
			// projection, e.g. SELECT region alongside GROUP BY region.
			targetDictCol[i] = dictSourceColumn(t)
		}
		f, err := compile(st, arg)
		if err != nil {
			return nil, fmt.Errorf("rowexec: compiling target %d: %w", i, err)
		}
		compiled[i] = f
	}

	groupKeys := make([]evalFunc, len(plan.GroupBy.Keys))
	groupKeyDictCol := make([]int, len(plan.GroupBy.Keys))
	for i, g := range plan.GroupBy.Keys {
		f, err := compile(st, g)
		if err != nil {
			return nil, fmt.Errorf("rowexec: compiling group key %d: %w", i, err)
		}
		groupKeys[i] = f
		groupKeyDictCol[i] = dictSourceColumn(g)
	}

	return &Kernel{
		Fingerprint:     fingerprintOf(targets, plan.Filter, plan.Memory),
		MustRunOnCPU:    st.mustRunOnCPU,
		filter:          filter,
		targets:         compiled,
		groupKeys:       groupKeys,
		plan:            plan,
		groupKeyDictCol: groupKeyDictCol,
		targetDictCol:   targetDictCol,
	}, nil
}

// Cache maps a fingerprint to its compiled Kernel, so repeated queries
// of the same shape (modulo which fragment/literal values they touch)
// skip recompilation (spec.md §4.4 "Caching").
type Cache struct {
	mu   sync.Mutex
	byFP map[string]*Kernel
}

// NewCache creates an empty kernel cache.
func NewCache() *Cache {
	return &Cache{byFP: map[string]*Kernel{}}
}

// CompileCached compiles plan, or returns the cached Kernel for an
// identical fingerprint. On a cache hit the freshly normalized tree is
// discarded, matching spec.md §4.4's cache-hit behavior verbatim.
func (c *Cache) CompileCached(plan *plantree.Plan) (*Kernel, error) {
	fp := fingerprintOf(NormalizeTargets(plan.Targets), plan.Filter, plan.Memory)
	c.mu.Lock()
	if k, ok := c.byFP[fp]; ok {
		c.mu.Unlock()
		return k, nil
	}
	c.mu.Unlock()

	k, err := Compile(plan)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byFP[k.Fingerprint] = k
	c.mu.Unlock()
	return k, nil
}
