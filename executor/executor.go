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

package executor

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/sneller-contrib/coredb/plantree"
	"github.com/sneller-contrib/coredb/resultset"
	"github.com/sneller-contrib/coredb/rowexec"
)

// FragmentSource enumerates a table's fragments and decodes the
// requested columns of one fragment on demand; PageStoreSource is the
// only implementation, wiring pagestore/chunkbuf/dictionary together.
type FragmentSource interface {
	Fragments(db, table int) ([]Fragment, error)
	Columns(db, table int, frag Fragment, cols []*plantree.Column) ([]rowexec.ColumnView, int, error)
}

// InsertSink implements the INSERT path's per-row write and the
// durability checkpoint that follows it.
type InsertSink interface {
	InsertRow(db, table int, cols []plantree.InsertColumn) error
	Checkpoint() error
}

// Executor is the fragment dispatcher of spec.md §4.5: it owns the
// device pool, the kernel cache, and the single query-entry mutex that
// serializes whole-query execution (one query at a time per process,
// spec.md §5), grounded on plan/exec.go's exec-pool structuring
// adapted to device-pool-based fan-out instead of a fixed goroutine
// pool.
type Executor struct {
	Source  FragmentSource
	Sink    InsertSink
	Pool    *DevicePool
	Kernels *rowexec.Cache

	mu sync.Mutex
}

// New creates an Executor against source/sink with the given device
// pool and a fresh kernel cache.
func New(source FragmentSource, sink InsertSink, pool *DevicePool) *Executor {
	return &Executor{Source: source, Sink: sink, Pool: pool, Kernels: rowexec.NewCache()}
}

// Execute runs plan to completion: SELECT fans out across fragments,
// skipping whichever simple quals rule out and reducing the rest under
// a mutex; INSERT binds and appends every column then checkpoints.
// Only one Execute runs at a time per Executor (spec.md §5).
func (e *Executor) Execute(plan *plantree.Plan) (*resultset.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if plan.Kind == plantree.Insert {
		return nil, e.executeInsert(plan)
	}
	return e.executeSelect(plan)
}

func (e *Executor) executeInsert(plan *plantree.Plan) error {
	if err := e.Sink.InsertRow(plan.DB, plan.Table, plan.InsertColumns); err != nil {
		return fmt.Errorf("executor: insert: %w", err)
	}
	return e.Sink.Checkpoint()
}

func (e *Executor) executeSelect(plan *plantree.Plan) (*resultset.Result, error) {
	kernel, err := e.Kernels.CompileCached(plan)
	if err != nil {
		return nil, fmt.Errorf("executor: compiling plan: %w", err)
	}

	fragments, err := e.Source.Fragments(plan.DB, plan.Table)
	if err != nil {
		return nil, fmt.Errorf("executor: enumerating fragments: %w", err)
	}
	quals := ExtractSimpleQuals(plan.Filter)

	maxRows := 0
	var live []Fragment
	for _, f := range fragments {
		if f.Skip(quals) {
			continue
		}
		if f.Rows > maxRows {
			maxRows = f.Rows
		}
		live = append(live, f)
	}
	// Deterministic dispatch order: a retried fragment always lands in
	// the same relative position across runs, which makes a failing
	// trace reproducible.
	slices.SortFunc(live, func(a, b Fragment) bool { return a.ID < b.ID })

	owner := resultset.NewOwner()
	final := resultset.New(plan.Memory, owner)

	var resMu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, len(live))

	for i, frag := range live {
		wg.Add(1)
		go func(i int, frag Fragment) {
			defer wg.Done()
			partial, err := e.runFragment(plan, kernel, frag, owner, maxRows)
			if err != nil {
				errs[i] = err
				return
			}
			resMu.Lock()
			final.Reduce(partial)
			resMu.Unlock()
		}(i, frag)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	if len(plan.Sort) > 0 || plan.Limit > 0 {
		rows := final.Rows()
		if len(plan.Sort) > 0 {
			final.Sort(rows, plan.Sort)
		}
		if plan.Limit > 0 {
			rows = resultset.KeepFirstN(rows, plan.Limit)
		}
		final.SetRows(rows)
	}
	return final, nil
}

// runFragment decodes frag's columns, acquires a device slot, and runs
// the kernel against it, transparently retrying on the CPU with a
// sized group buffer if the first attempt overflows (spec.md §4.5,
// grounded on original_source's GroupByAndAggregate.h watchdog retry:
// "if a kernel returns GroupBufferOverflow, the executor reissues on
// CPU with a buffer sized to the largest fragment's row count").
func (e *Executor) runFragment(plan *plantree.Plan, kernel *rowexec.Kernel, frag Fragment, owner *resultset.Owner, maxRows int) (*resultset.Result, error) {
	cols, n, err := e.Source.Columns(plan.DB, plan.Table, frag, plan.Columns)
	if err != nil {
		return nil, fmt.Errorf("executor: decoding fragment %d: %w", frag.ID, err)
	}
	in := &rowexec.RowInput{Columns: cols, Lits: rowexec.NewLiteralPool()}

	partial := resultset.New(plan.Memory, owner)

	var dev rowexec.Device
	var released func()
	if kernel.MustRunOnCPU {
		s := e.Pool.AcquireCPU()
		dev = rowexec.CPUDevice{}
		released = func() { e.Pool.Release(s) }
	} else {
		s := e.Pool.AcquireAny()
		// No accelerator Device is implemented in this module (GPU
		// code-generation backends are an external collaborator per
		// spec.md §1); any slot, accelerator or CPU, runs on CPUDevice.
		dev = rowexec.CPUDevice{}
		released = func() { e.Pool.Release(s) }
	}

	err = dev.Run(kernel, in, n, partial)
	released()
	if err == rowexec.ErrGroupBufferOverflow {
		s := e.Pool.AcquireCPU()
		partial = resultset.New(plan.Memory, owner)
		err = rowexec.CPUDevice{MaxGroups: maxRows}.Run(kernel, in, n, partial)
		e.Pool.Release(s)
	}
	if err != nil {
		return nil, fmt.Errorf("executor: running fragment %d: %w", frag.ID, err)
	}
	return partial, nil
}
