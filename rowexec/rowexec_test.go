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
	"testing"

	"github.com/sneller-contrib/coredb/plantree"
	"github.com/sneller-contrib/coredb/resultset"
)

func TestDivByZero(t *testing.T) {
	plan := &plantree.Plan{
		Targets: []plantree.Node{
			&plantree.BinOp{Op: plantree.Div, Left: &plantree.Column{Idx: 0, SQLType: plantree.TypeInt}, Right: &plantree.Column{Idx: 1, SQLType: plantree.TypeInt}, Out: plantree.TypeInt},
		},
		Memory: plantree.QueryMemoryDescriptor{
			Layout:  plantree.NoGroups,
			Targets: []plantree.TargetInfo{{Agg: plantree.AggSum, SQLType: plantree.TypeInt}},
		},
	}
	k, err := Compile(plan)
	if err != nil {
		t.Fatal(err)
	}
	in := &RowInput{
		Columns: []ColumnView{
			{Values: []int64{10}},
			{Values: []int64{0}},
		},
		Lits: NewLiteralPool(),
	}
	dst := resultset.New(plan.Memory, resultset.NewOwner())
	err = CPUDevice{}.Run(k, in, 1, dst)
	if err != ErrDivByZero {
		t.Fatalf("got %v, want ErrDivByZero", err)
	}
}

func TestCaseEvaluatesInDeclarationOrder(t *testing.T) {
	// CASE WHEN col < 10 THEN 1 WHEN col < 20 THEN 2 ELSE 3 END
	c := &plantree.Case{
		Branches: []plantree.CaseBranch{
			{
				When: &plantree.BinOp{Op: plantree.Lt, Left: &plantree.Column{Idx: 0, SQLType: plantree.TypeInt}, Right: &plantree.Constant{SQLType: plantree.TypeInt, IVal: 10}, Out: plantree.TypeBool},
				Then: &plantree.Constant{SQLType: plantree.TypeInt, IVal: 1},
			},
			{
				When: &plantree.BinOp{Op: plantree.Lt, Left: &plantree.Column{Idx: 0, SQLType: plantree.TypeInt}, Right: &plantree.Constant{SQLType: plantree.TypeInt, IVal: 20}, Out: plantree.TypeBool},
				Then: &plantree.Constant{SQLType: plantree.TypeInt, IVal: 2},
			},
		},
		Else: &plantree.Constant{SQLType: plantree.TypeInt, IVal: 3},
		Out:  plantree.TypeInt,
	}
	st := &compileState{}
	f, err := compile(st, c)
	if err != nil {
		t.Fatal(err)
	}
	in := &RowInput{Columns: []ColumnView{{Values: []int64{5, 15, 99}}}, Lits: NewLiteralPool()}
	want := []int64{1, 2, 3}
	for row, w := range want {
		v, err := f(in, row)
		if err != nil {
			t.Fatal(err)
		}
		if v.I != w {
			t.Fatalf("row %d: got %d, want %d", row, v.I, w)
		}
	}
}

func TestLiteralPoolDedup(t *testing.T) {
	p := NewLiteralPool()
	c1 := &plantree.Constant{SQLType: plantree.TypeInt, IVal: 42}
	c2 := &plantree.Constant{SQLType: plantree.TypeInt, IVal: 42}
	c3 := &plantree.Constant{SQLType: plantree.TypeInt, IVal: 43}
	o1 := p.Add(c1)
	o2 := p.Add(c2)
	o3 := p.Add(c3)
	if o1 != o2 {
		t.Fatalf("equal constants got different offsets: %d != %d", o1, o2)
	}
	if o1 == o3 {
		t.Fatalf("distinct constants got the same offset")
	}
	if p.Int(o1) != 42 || p.Int(o3) != 43 {
		t.Fatalf("pool readback mismatch")
	}
}

func TestLikeMatch(t *testing.T) {
	cases := []struct {
		s, pattern string
		want       bool
	}{
		{"hello", "h%", true},
		{"hello", "%llo", true},
		{"hello", "h_l%", true},
		{"hello", "world", false},
		{"hello", "h__l_", true},
		{"hello", "H%", false},
	}
	for _, c := range cases {
		got := matchLike(c.s, c.pattern, 0, false, true)
		if got != c.want {
			t.Errorf("matchLike(%q,%q) = %v, want %v", c.s, c.pattern, got, c.want)
		}
	}
}

func TestConstantFolding(t *testing.T) {
	n := &plantree.BinOp{
		Op:    plantree.Add,
		Left:  &plantree.Constant{SQLType: plantree.TypeInt, IVal: 2},
		Right: &plantree.Constant{SQLType: plantree.TypeInt, IVal: 3},
		Out:   plantree.TypeInt,
	}
	got := normalize(n)
	c, ok := got.(*plantree.Constant)
	if !ok {
		t.Fatalf("got %T, want folded *plantree.Constant", got)
	}
	if c.IVal != 5 {
		t.Fatalf("folded value = %d, want 5", c.IVal)
	}
}

func TestGroupBufferOverflow(t *testing.T) {
	plan := &plantree.Plan{
		GroupBy: plantree.GroupBy{Keys: []plantree.Node{&plantree.Column{Idx: 0, SQLType: plantree.TypeInt}}},
		Targets: []plantree.Node{&plantree.Agg{Kind: plantree.AggCount}},
		Memory: plantree.QueryMemoryDescriptor{
			Layout:  plantree.MultiCol,
			Targets: []plantree.TargetInfo{{Agg: plantree.AggCount, SQLType: plantree.TypeInt}},
		},
	}
	k, err := Compile(plan)
	if err != nil {
		t.Fatal(err)
	}
	in := &RowInput{Columns: []ColumnView{{Values: []int64{1, 2, 3, 4}}}, Lits: NewLiteralPool()}
	dst := resultset.New(plan.Memory, resultset.NewOwner())
	err = CPUDevice{MaxGroups: 2}.Run(k, in, 4, dst)
	if err != ErrGroupBufferOverflow {
		t.Fatalf("got %v, want ErrGroupBufferOverflow", err)
	}
}
