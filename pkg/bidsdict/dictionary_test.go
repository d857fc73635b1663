// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bidsdict

import "testing"

func TestLongToShortAndBack(t *testing.T) {
	short, err := LongToShort("subject")
	if err != nil {
		t.Fatalf("LongToShort(subject): %v", err)
	}
	if short != "sub" {
		t.Fatalf("LongToShort(subject) = %q, want sub", short)
	}

	long, err := ShortToLong("sub")
	if err != nil {
		t.Fatalf("ShortToLong(sub): %v", err)
	}
	if long != "subject" {
		t.Fatalf("ShortToLong(sub) = %q, want subject", long)
	}
}

func TestUnknownEntity(t *testing.T) {
	if _, err := LongToShort("bogus"); err == nil {
		t.Fatalf("expected UnknownEntity for bogus long name")
	}
	if _, err := ShortToLong("bogus"); err == nil {
		t.Fatalf("expected UnknownEntity for bogus short name")
	}
}

func TestLookupTrailingUnderscore(t *testing.T) {
	long, ok := Lookup("from_")
	if !ok || long != "from" {
		t.Fatalf("Lookup(from_) = (%q, %v), want (from, true)", long, ok)
	}
}

func TestLookupShortAlias(t *testing.T) {
	long, ok := Lookup("sub")
	if !ok || long != "subject" {
		t.Fatalf("Lookup(sub) = (%q, %v), want (subject, true)", long, ok)
	}
}

func TestBijection(t *testing.T) {
	seenShort := map[string]bool{}
	for _, e := range entities {
		if seenShort[e.Short] {
			t.Fatalf("duplicate short alias %q", e.Short)
		}
		seenShort[e.Short] = true

		long, err := ShortToLong(e.Short)
		if err != nil || long != e.Long {
			t.Fatalf("ShortToLong(%q) = (%q, %v), want (%q, nil)", e.Short, long, err, e.Long)
		}
	}
}

func TestDatatypeLabels(t *testing.T) {
	for _, dt := range []string{"anat", "func", "dwi", "eeg"} {
		if !Datatypes[dt] {
			t.Fatalf("expected %q to be a recognized datatype", dt)
		}
	}
	if Datatypes["notadatatype"] {
		t.Fatalf("did not expect notadatatype to be recognized")
	}
}
