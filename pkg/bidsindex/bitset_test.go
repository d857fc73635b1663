// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bidsindex

import "testing"

func TestBitsetSetTestClear(t *testing.T) {
	b := NewBitset(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)
	if !b.Test(0) || !b.Test(64) || !b.Test(129) {
		t.Fatalf("expected bits 0, 64, 129 to be set")
	}
	if b.Test(1) || b.Test(128) {
		t.Fatalf("unexpected bits set")
	}
	if b.Popcount() != 3 {
		t.Fatalf("Popcount = %d, want 3", b.Popcount())
	}
	b.Clear(64)
	if b.Test(64) || b.Popcount() != 2 {
		t.Fatalf("Clear(64) did not take effect")
	}
}

func TestBitsetAndOrAndNot(t *testing.T) {
	a := NewBitset(8)
	a.Set(1)
	a.Set(2)
	b := NewBitset(8)
	b.Set(2)
	b.Set(3)

	and := a.And(b)
	if and.Slice()[0] != 2 || and.Popcount() != 1 {
		t.Fatalf("And = %v, want [2]", and.Slice())
	}

	or := a.Or(b)
	if or.Popcount() != 3 {
		t.Fatalf("Or popcount = %d, want 3", or.Popcount())
	}

	andNot := a.AndNot(b)
	if andNot.Popcount() != 1 || !andNot.Test(1) {
		t.Fatalf("AndNot = %v, want [1]", andNot.Slice())
	}
}

func TestBitsetFull(t *testing.T) {
	f := Full(5)
	if f.Popcount() != 5 {
		t.Fatalf("Full(5).Popcount() = %d, want 5", f.Popcount())
	}
}

func TestComposedQueryEqualsBitwiseAnd(t *testing.T) {
	// Composing two filters bit by bit must equal ANDing the two
	// filters directly, regardless of order.
	full := Full(10)
	f1 := NewBitset(10)
	for _, i := range []int{1, 2, 3, 4} {
		f1.Set(i)
	}
	f2 := NewBitset(10)
	for _, i := range []int{2, 3, 5} {
		f2.Set(i)
	}

	v1 := full.And(f1)
	v2 := v1.And(f2)

	direct := full.And(f1).And(f2)
	if v2.Popcount() != direct.Popcount() {
		t.Fatalf("composed selection mismatch")
	}
	for _, i := range v2.Slice() {
		if !direct.Test(i) {
			t.Fatalf("bit %d missing from direct composition", i)
		}
	}
}
