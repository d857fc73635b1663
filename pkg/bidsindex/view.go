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

package bidsindex

import (
	"sort"

	"github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
)

// View is an immutable projection over an Index: a selection bitset
// plus the restricted set of dataset ids it may still reference. Views
// share the owning Index (shared lifetime = longest-lived view) and
// never mutate it; every query operation returns a new View.
type View struct {
	idx        *Index
	selection  *Bitset
	datasetIDs map[int]bool
}

// NewRootView returns the full, unfiltered view over idx.
func NewRootView(idx *Index) *View {
	return &View{idx: idx, selection: idx.FullSelection(), datasetIDs: idx.AllDatasetIDs()}
}

// Index returns the underlying index. Used by pkg/bidsquery,
// pkg/bidsmeta, and pkg/bidscache, which need direct access to rows and
// bitset primitives that View intentionally does not expose widely.
func (v *View) Index() *Index { return v.idx }

// Selection returns the view's selection bitset.
func (v *View) Selection() *Bitset { return v.selection }

// DatasetIDs returns the view's restricted dataset-id set.
func (v *View) DatasetIDs() map[int]bool { return v.datasetIDs }

// WithSelection returns a new view sharing this view's index, with the
// given selection intersected against the current one and the
// dataset-id set re-projected to only the datasets still referenced.
func (v *View) WithSelection(sel *Bitset) *View {
	merged := v.selection.And(sel)
	return &View{idx: v.idx, selection: merged, datasetIDs: v.projectDatasetIDs(merged)}
}

// WithDatasetIDs returns a new view restricted to rows whose dataset id
// is in allowed, additionally filtering the dataset-id set itself.
func (v *View) WithDatasetIDs(allowed map[int]bool) *View {
	sel := NewBitset(v.selection.Len())
	v.selection.Each(func(i int) {
		if allowed[v.idx.Rows[i].DatasetID] {
			sel.Set(i)
		}
	})
	restricted := make(map[int]bool, len(allowed))
	for id := range v.datasetIDs {
		if allowed[id] {
			restricted[id] = true
		}
	}
	return &View{idx: v.idx, selection: sel, datasetIDs: restricted}
}

func (v *View) projectDatasetIDs(sel *Bitset) map[int]bool {
	out := make(map[int]bool)
	sel.Each(func(i int) { out[v.idx.Rows[i].DatasetID] = true })
	// Invariant: the projected set is always a subset of the view's
	// declared dataset ids.
	for id := range out {
		if !v.datasetIDs[id] {
			delete(out, id)
		}
	}
	return out
}

// Len returns popcount(selection).
func (v *View) Len() int { return v.selection.Popcount() }

// Rows returns the selected rows in deterministic ascending-path order.
func (v *View) Rows() []Row {
	order := make([]int, 0, v.Len())
	v.selection.Each(func(i int) { order = append(order, i) })
	sort.Slice(order, func(a, b int) bool { return v.idx.Rows[order[a]].Path < v.idx.Rows[order[b]].Path })
	rows := make([]Row, len(order))
	for i, ri := range order {
		rows[i] = v.idx.Rows[ri]
	}
	return rows
}

// One returns the sole row if Len()==1, else NotUniqueError naming the
// entities that still vary across the selection (or NoResults if empty).
func (v *View) One() (Row, error) {
	n := v.Len()
	if n == 0 {
		return Row{}, errors.NewNoResults()
	}
	if n == 1 {
		var only Row
		v.selection.Each(func(i int) { only = v.idx.Rows[i] })
		return only, nil
	}
	return Row{}, errors.NewNotUnique(v.varyingEntities())
}

func (v *View) varyingEntities() []string {
	seen := map[string]map[string]bool{}
	v.selection.Each(func(i int) {
		for _, ev := range v.idx.Rows[i].Parsed.Entities {
			if seen[ev.Name] == nil {
				seen[ev.Name] = map[string]bool{}
			}
			seen[ev.Name][ev.Value] = true
		}
	})
	var varying []string
	for name, values := range seen {
		if len(values) > 1 {
			varying = append(varying, name)
		}
	}
	sort.Strings(varying)
	return varying
}

// Roots returns the ordered, unique list of datasets referenced by the
// selection.
func (v *View) Roots() []Dataset {
	ids := map[int]bool{}
	v.selection.Each(func(i int) { ids[v.idx.Rows[i].DatasetID] = true })
	var out []Dataset
	for _, d := range v.idx.Datasets {
		if ids[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// Root returns the sole raw root if exactly one is present; else, if no
// raw root is present, the sole derivative root; else AmbiguousRoot or
// NoRoot.
func (v *View) Root() (Dataset, error) {
	roots := v.Roots()
	var raw, deriv []Dataset
	for _, d := range roots {
		if d.Kind == Raw {
			raw = append(raw, d)
		} else {
			deriv = append(deriv, d)
		}
	}
	if len(raw) == 1 {
		return raw[0], nil
	}
	if len(raw) > 1 {
		return Dataset{}, errors.NewAmbiguousRoot(len(raw))
	}
	if len(deriv) == 1 {
		return deriv[0], nil
	}
	if len(deriv) > 1 {
		return Dataset{}, errors.NewAmbiguousRoot(len(deriv))
	}
	return Dataset{}, errors.NewNoRoot()
}

// Description returns the description of the view's unique root, or
// that root's BadDescription error when its dataset_description.json
// could not be read or parsed.
func (v *View) Description() (*Description, error) {
	root, err := v.Root()
	if err != nil {
		return nil, err
	}
	if root.BadDescErr != nil {
		return nil, root.BadDescErr
	}
	return root.Description, nil
}

// Derivatives returns a view restricted to datasets of kind Derivative.
func (v *View) Derivatives() *View {
	allowed := map[int]bool{}
	for _, d := range v.idx.Datasets {
		if d.Kind == Derivative {
			allowed[d.ID] = true
		}
	}
	return v.WithDatasetIDs(allowed)
}

// Entities returns, for each entity long name present anywhere in the
// selection, the sorted unique set of values present.
func (v *View) Entities() map[string][]string {
	out := map[string]map[string]bool{}
	v.selection.Each(func(i int) {
		for _, ev := range v.idx.Rows[i].Parsed.Entities {
			if out[ev.Name] == nil {
				out[ev.Name] = map[string]bool{}
			}
			out[ev.Name][ev.Value] = true
		}
	})
	return flattenSortedUnique(out)
}

// Metadata returns, for each resolved metadata key present in the
// selection, the sorted unique set of string values. Empty if
// IndexMetadata has not yet been called.
func (v *View) Metadata() map[string][]string {
	out := map[string]map[string]bool{}
	v.selection.Each(func(i int) {
		for k, val := range v.idx.Rows[i].Metadata {
			if out[k] == nil {
				out[k] = map[string]bool{}
			}
			out[k][val] = true
		}
	})
	return flattenSortedUnique(out)
}

func flattenSortedUnique(in map[string]map[string]bool) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, set := range in {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[k] = values
	}
	return out
}

// Parse delegates to the index's configured path parser for an ad-hoc
// path; it does not add the result to the index.
func (v *View) Parse(relPath string) (bidspath.ParsedPath, error) {
	return v.idx.Parser.Parse(relPath)
}
