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

// coredbd is a standalone smoke-test binary: it opens a page store,
// inserts a handful of rows into a two-column table, runs a grouped
// aggregate query through the executor, and prints the reduced result.
// It exists to wire pagestore/chunkbuf/dictionary/resultset/rowexec/
// executor together end to end outside of the package test suites.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sneller-contrib/coredb/executor"
	"github.com/sneller-contrib/coredb/internal/config"
	"github.com/sneller-contrib/coredb/internal/xlog"
	"github.com/sneller-contrib/coredb/pagestore"
	"github.com/sneller-contrib/coredb/plantree"
)

func main() {
	dir := flag.String("dir", "", "page store directory (default: a process-local temp dir)")
	verbose := flag.Bool("v", false, "enable verbose tracing via internal/xlog")
	flag.Parse()

	if *verbose {
		xlog.Errorf = func(f string, args ...any) { fmt.Fprintf(os.Stderr, "error: "+f+"\n", args...) }
		xlog.Tracef = func(f string, args ...any) { fmt.Fprintf(os.Stderr, "trace: "+f+"\n", args...) }
	}

	if err := run(*dir); err != nil {
		fmt.Fprintln(os.Stderr, "coredbd:", err)
		os.Exit(1)
	}
}

const (
	tableOrders = 0
	colRegion   = 0 // TypeString, dictionary-encoded
	colAmount   = 1 // TypeInt
)

func run(dir string) error {
	cfg := config.Load()

	if dir == "" {
		d, err := os.MkdirTemp("", "coredbd-*")
		if err != nil {
			return fmt.Errorf("creating page store dir: %w", err)
		}
		defer os.RemoveAll(d)
		dir = d
	}

	store, err := pagestore.Open(dir, cfg.GrowthStepPages, -1)
	if err != nil {
		return fmt.Errorf("opening page store: %w", err)
	}
	defer store.Close()
	store.CompressCheckpoints = cfg.CompressCheckpoints

	schemas := map[int]executor.TableSchema{
		tableOrders: {Columns: []executor.ColumnSchema{
			colRegion: {SQLType: plantree.TypeString, Dictionary: true},
			colAmount: {SQLType: plantree.TypeInt, Encoding: pagestore.RawEncoding(8)},
		}},
	}
	source := executor.NewPageStoreSource(store, schemas, cfg.PageSize)
	ex := executor.New(source, source, executor.NewDevicePool(cfg.CPUSlots, cfg.AcceleratorIDs))

	rows := []struct {
		region string
		amount int64
	}{
		{"east", 10}, {"east", 25}, {"west", 5}, {"west", 7}, {"west", 3},
	}
	for _, r := range rows {
		plan := &plantree.Plan{
			Kind:  plantree.Insert,
			Table: tableOrders,
			InsertColumns: []plantree.InsertColumn{
				{ColumnIdx: colRegion, SQLType: plantree.TypeString, SVal: r.region},
				{ColumnIdx: colAmount, SQLType: plantree.TypeInt, IVal: r.amount},
			},
		}
		if _, err := ex.Execute(plan); err != nil {
			return fmt.Errorf("inserting row: %w", err)
		}
	}

	regionCol := &plantree.Column{Name: "region", Idx: colRegion, SQLType: plantree.TypeString}
	amountCol := &plantree.Column{Name: "amount", Idx: colAmount, SQLType: plantree.TypeInt}
	selectPlan := &plantree.Plan{
		Kind:    plantree.Select,
		Table:   tableOrders,
		Columns: []*plantree.Column{regionCol, amountCol},
		GroupBy: plantree.GroupBy{Keys: []plantree.Node{regionCol}},
		Targets: []plantree.Node{
			&plantree.Agg{Kind: plantree.AggSum, Arg: amountCol, Out: plantree.TypeInt},
			&plantree.Agg{Kind: plantree.AggCount, Out: plantree.TypeInt},
		},
		Memory: plantree.QueryMemoryDescriptor{
			Layout: plantree.MultiCol,
			Targets: []plantree.TargetInfo{
				{Agg: plantree.AggSum, SQLType: plantree.TypeInt},
				{Agg: plantree.AggCount, SQLType: plantree.TypeInt},
			},
		},
		Sort: []plantree.SortEntry{{SlotIndex: 0, Desc: true}},
	}
	result, err := ex.Execute(selectPlan)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	out := result.Rows()
	for _, row := range out {
		region := "?"
		if key := result.DecodeKey(row); len(key) > 0 && key[0].IsString() {
			region = key[0].Str
		}
		fmt.Printf("region=%q sum=%d count=%d\n", region, row.Slots[0], row.Slots[1])
	}
	return nil
}
