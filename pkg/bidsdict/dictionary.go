// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bidsdict holds the fixed BIDS entity dictionary: the table of
// long/short entity name pairs and their canonical ordering, plus the
// datatype label set recognized by the path parser.
package bidsdict

import (
	"sort"
	"strings"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
)

// Entity is one row of the dictionary: a long/short name pair, its
// canonical order rank (its position in a BIDS filename; SortedLongNames
// orders by it), and where it is permitted to appear.
type Entity struct {
	Long               string
	Short              string
	OrderRank          int
	PermittedFilename  bool
	PermittedDirectory bool
}

// entities is the fixed BIDS entity table, in canonical filename order.
// OrderRank follows the order entities appear in BIDS filenames.
var entities = []Entity{
	{"subject", "sub", 0, true, true},
	{"session", "ses", 1, true, true},
	{"task", "task", 2, true, false},
	{"acquisition", "acq", 3, true, false},
	{"ceagent", "ce", 4, true, false},
	{"tracer", "trc", 5, true, false},
	{"reconstruction", "rec", 6, true, false},
	{"direction", "dir", 7, true, false},
	{"run", "run", 8, true, false},
	{"modality", "mod", 9, true, false},
	{"echo", "echo", 10, true, false},
	{"flip", "flip", 11, true, false},
	{"inversion", "inv", 12, true, false},
	{"mtransfer", "mt", 13, true, false},
	{"part", "part", 14, true, false},
	{"processing", "proc", 15, true, false},
	{"hemisphere", "hemi", 16, true, false},
	{"space", "space", 17, true, false},
	{"split", "split", 18, true, false},
	{"recording", "recording", 19, true, false},
	{"chunk", "chunk", 20, true, false},
	{"atlas", "atlas", 21, true, false},
	{"resolution", "res", 22, true, false},
	{"density", "den", 23, true, false},
	{"label", "label", 24, true, false},
	{"description", "desc", 25, true, false},
	{"from", "from", 26, true, false},
	{"to", "to", 27, true, false},
	{"sample", "sample", 28, true, false},
}

// Datatypes is the set of BIDS datatype labels recognized by the path
// parser in the penultimate directory-segment position.
var Datatypes = map[string]bool{
	"anat": true, "func": true, "dwi": true, "fmap": true, "perf": true,
	"meg": true, "eeg": true, "ieeg": true, "beh": true, "pet": true,
	"micr": true, "motion": true, "nirs": true,
}

var (
	longToShort = make(map[string]string, len(entities))
	shortToLong = make(map[string]string, len(entities))
	byLong      = make(map[string]Entity, len(entities))
)

func init() {
	for _, e := range entities {
		longToShort[e.Long] = e.Short
		shortToLong[e.Short] = e.Long
		byLong[e.Long] = e
	}
}

// LongToShort maps a canonical long entity name to its short alias.
// Fails with an UnknownEntityError if the name is not registered.
func LongToShort(name string) (string, error) {
	if short, ok := longToShort[name]; ok {
		return short, nil
	}
	return "", bidserrors.NewUnknownEntity(name)
}

// ShortToLong maps a short entity alias to its canonical long name.
// Fails with an UnknownEntityError if the name is not registered.
func ShortToLong(name string) (string, error) {
	if long, ok := shortToLong[name]; ok {
		return long, nil
	}
	return "", bidserrors.NewUnknownEntity(name)
}

// Lookup resolves a key given as long name, short name, or a trailing-
// underscore-stripped variant (e.g. "from_" for the Python-reserved-word
// workaround) to the canonical long name. ok is false if name is not a
// registered dictionary entity at all (the caller should then try
// indexed metadata keys before reporting UnknownEntity).
func Lookup(name string) (long string, ok bool) {
	name = strings.TrimSuffix(name, "_")
	if _, exists := byLong[name]; exists {
		return name, true
	}
	if long, exists := shortToLong[name]; exists {
		return long, true
	}
	return "", false
}

// OrderRank returns the canonical order rank for a long entity name, or,
// if name is not registered, one rank shared by every unregistered name
// and placed past every known entity; unregistered names are not ordered
// among themselves.
func OrderRank(name string) int {
	if e, ok := byLong[name]; ok {
		return e.OrderRank
	}
	return len(entities) + 1
}

// IsKnown reports whether name (long form) is in the dictionary.
func IsKnown(name string) bool {
	_, ok := byLong[name]
	return ok
}

// PermittedInDirectory reports whether the dictionary permits entity
// name (long form) to appear in a directory segment. Unknown entities
// are not permitted in strict mode.
func PermittedInDirectory(name string) bool {
	e, ok := byLong[name]
	return ok && e.PermittedDirectory
}

// SortedLongNames returns every registered long entity name in
// canonical order rank.
func SortedLongNames() []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Long
	}
	sort.Slice(names, func(i, j int) bool { return OrderRank(names[i]) < OrderRank(names[j]) })
	return names
}
