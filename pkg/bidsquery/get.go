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

// Package bidsquery evaluates entity/metadata filters and dataset-scope
// filters into bitsets, producing new views over an existing index.
package bidsquery

import (
	"fmt"
	"sort"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsdict"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
)

// Get applies an AND-composition of entity/metadata filters to view,
// returning a new, more restricted view. Each map entry's key resolves
// against the entity dictionary first, then against already-indexed
// metadata keys; an unresolved key fails UnknownEntity. Each value's
// semantics follow the "get semantics" rules: bool for presence/absence,
// string for exact match, int for zero-padded decimal coercion, and a
// []any / []string slice for a union of any of the above per key.
func Get(view *bidsindex.View, filters map[string]any) (*bidsindex.View, error) {
	idx := view.Index()
	result := view
	// Deterministic iteration order keeps error reporting reproducible
	// across runs even though map order is not.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		resolved, isMetadata, err := resolveKey(result, key)
		if err != nil {
			return nil, err
		}
		sel, err := evaluateFilter(idx, result, resolved, isMetadata, filters[key])
		if err != nil {
			return nil, err
		}
		result = result.WithSelection(sel)
	}
	return result, nil
}

// resolveKey resolves a get() key to its canonical form, reporting
// whether it resolved as a metadata key (true) or a dictionary entity
// or path field (false). The path fields "datatype", "suffix" and
// "extension" are accepted as entity-like keys.
func resolveKey(view *bidsindex.View, key string) (name string, isMetadata bool, err error) {
	if long, ok := bidsdict.Lookup(key); ok {
		return long, false, nil
	}
	switch key {
	case "datatype", "suffix", "extension":
		return key, false, nil
	}
	if indexHasMetadataKey(view.Index(), key) {
		return key, true, nil
	}
	return "", false, bidserrors.NewUnknownEntity(key)
}

// evaluateFilter computes the selection bitset for one resolved
// key/value pair, restricted to rows already present in view.
func evaluateFilter(idx *bidsindex.Index, view *bidsindex.View, name string, isMetadata bool, value any) (*bidsindex.Bitset, error) {
	switch v := value.(type) {
	case bool:
		presence := presenceBitset(idx, view, name, isMetadata)
		if v {
			return presence, nil
		}
		return invertPresence(idx, presence), nil
	case nil:
		presence := presenceBitset(idx, view, name, isMetadata)
		return invertPresence(idx, presence), nil
	case string:
		return exactMatch(idx, view, name, isMetadata, v)
	case int:
		return intMatch(idx, view, name, isMetadata, v)
	case []any:
		return unionMatch(idx, view, name, isMetadata, v)
	case []string:
		generic := make([]any, len(v))
		for i, s := range v {
			generic[i] = s
		}
		return unionMatch(idx, view, name, isMetadata, generic)
	case []int:
		generic := make([]any, len(v))
		for i, n := range v {
			generic[i] = n
		}
		return unionMatch(idx, view, name, isMetadata, generic)
	default:
		return nil, fmt.Errorf("bidsquery: unsupported filter value type %T for key %q", value, name)
	}
}
