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

package bidsquery

import (
	"sort"
	"strconv"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
)

// presenceBitset returns the bitset of rows (restricted to entity
// dictionary columns or metadata columns) where name is present with
// any value.
func presenceBitset(idx *bidsindex.Index, view *bidsindex.View, name string, isMetadata bool) *bidsindex.Bitset {
	if !isMetadata {
		return idx.EntityPresence(name)
	}
	sel := bidsindex.NewBitset(len(idx.Rows))
	view.Selection().Each(func(i int) {
		if _, ok := idx.Rows[i].Metadata[name]; ok {
			sel.Set(i)
		}
	})
	return sel
}

// invertPresence returns every row not in presence.
func invertPresence(idx *bidsindex.Index, presence *bidsindex.Bitset) *bidsindex.Bitset {
	full := idx.FullSelection()
	return full.AndNot(presence)
}

// exactMatch returns the bitset of rows where name equals value exactly.
func exactMatch(idx *bidsindex.Index, view *bidsindex.View, name string, isMetadata bool, value string) (*bidsindex.Bitset, error) {
	if !isMetadata {
		return idx.EntityBitset(name, value), nil
	}
	sel := bidsindex.NewBitset(len(idx.Rows))
	view.Selection().Each(func(i int) {
		if idx.Rows[i].Metadata[name] == value {
			sel.Set(i)
		}
	})
	return sel, nil
}

// intMatch matches an integer filter against every decimal string
// representation present in the selection that parses to the same
// integer value (so run=1 matches "1", "01", "001", ...). If more than
// one distinct string form is present in the current selection, the
// match is ambiguous and fails NotUnique, per the integer-coercion
// design: refuse to silently coalesce distinct raw values.
func intMatch(idx *bidsindex.Index, view *bidsindex.View, name string, isMetadata bool, n int) (*bidsindex.Bitset, error) {
	present := presentValues(idx, view, name, isMetadata)
	var matchingForms []string
	for _, form := range present {
		parsed, err := strconv.Atoi(form)
		if err != nil {
			continue
		}
		if parsed == n {
			matchingForms = append(matchingForms, form)
		}
	}
	if len(matchingForms) > 1 {
		sort.Strings(matchingForms)
		return nil, bidserrors.NewNotUnique(matchingForms)
	}
	sel := bidsindex.NewBitset(len(idx.Rows))
	for _, form := range matchingForms {
		var formSel *bidsindex.Bitset
		if isMetadata {
			formSel, _ = exactMatch(idx, view, name, true, form)
		} else {
			formSel = idx.EntityBitset(name, form)
		}
		sel = sel.Or(formSel)
	}
	return sel, nil
}

// unionMatch ORs together the selections of each element of values,
// each evaluated with the same bool/nil/string/int semantics as a
// scalar filter.
func unionMatch(idx *bidsindex.Index, view *bidsindex.View, name string, isMetadata bool, values []any) (*bidsindex.Bitset, error) {
	sel := bidsindex.NewBitset(len(idx.Rows))
	for _, v := range values {
		part, err := evaluateFilter(idx, view, name, isMetadata, v)
		if err != nil {
			return nil, err
		}
		sel = sel.Or(part)
	}
	return sel, nil
}

// indexHasMetadataKey reports whether key appears in any row's resolved
// metadata anywhere in idx, not restricted to the current view's
// selection: a key is a valid get() target once indexed, even if no
// row in the current selection happens to carry it.
func indexHasMetadataKey(idx *bidsindex.Index, key string) bool {
	if !idx.MetadataIndexed() {
		return false
	}
	for _, r := range idx.Rows {
		if _, ok := r.Metadata[key]; ok {
			return true
		}
	}
	return false
}

// presentValues returns every distinct raw string value name takes on
// within view's current selection.
func presentValues(idx *bidsindex.Index, view *bidsindex.View, name string, isMetadata bool) []string {
	seen := map[string]bool{}
	view.Selection().Each(func(i int) {
		if isMetadata {
			if v, ok := idx.Rows[i].Metadata[name]; ok {
				seen[v] = true
			}
			return
		}
		if v, ok := idx.Rows[i].Parsed.Get(name); ok {
			seen[v] = true
		}
	})
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}
