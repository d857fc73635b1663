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

// Package bidsindex holds the Layout Index: columnar-ish storage over
// every parsed path plus the bitset machinery views use to represent
// filtered selections, and the View projection type itself.
package bidsindex

import (
	"sort"
	"sync"

	"github.com/kraklabs/bidslayout/pkg/bidspath"
)

// Row is one parsed path, tied to the dataset it was discovered under.
type Row struct {
	Path      string
	DatasetID int
	Parsed    bidspath.ParsedPath

	// Metadata is nil until IndexMetadata has resolved sidecars for
	// this row's dataset.
	Metadata map[string]string
}

// Index is the root, owning data structure: one per constructed or
// loaded layout. Views hold a *Index plus a selection and share its
// lifetime; the index itself is never mutated by a query, only by
// IndexMetadata (idempotent, latched by metadataOnce).
type Index struct {
	Datasets []Dataset
	Rows     []Row
	Parser   *bidspath.Parser

	mu              sync.RWMutex
	entityInverted  map[string]map[string]*Bitset // entity long/literal name -> value -> row bitset
	entityPresence  map[string]*Bitset            // entity name -> rows where it's present at all
	metadataOnce    sync.Once
	metadataErr     error
	metadataDone    bool
	metadataResolve func(*Index) error // injected by pkg/bidsmeta to avoid an import cycle
}

// New builds an Index from already-parsed rows. Callers (the
// construction pipeline in pkg/bidslayout, or the cache loader in
// pkg/bidscache) are responsible for producing datasets and rows;
// New only wires up the lazy per-entity indices.
func New(datasets []Dataset, rows []Row, parser *bidspath.Parser) *Index {
	return &Index{
		Datasets:       datasets,
		Rows:           rows,
		Parser:         parser,
		entityInverted: make(map[string]map[string]*Bitset),
		entityPresence: make(map[string]*Bitset),
	}
}

// SetMetadataResolver injects the function used by IndexMetadata. It
// exists so pkg/bidsindex does not need to import pkg/bidsmeta (which
// itself needs to see *Index), breaking what would otherwise be an
// import cycle between the two packages.
func (idx *Index) SetMetadataResolver(fn func(*Index) error) {
	idx.metadataResolve = fn
}

// MetadataIndexed reports whether IndexMetadata has completed at least
// once (successfully or not) against this index.
func (idx *Index) MetadataIndexed() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.metadataDone
}

// IndexMetadata triggers the metadata resolver exactly once per index
// (a one-shot latch via sync.Once), regardless of how many concurrent
// callers invoke it; later callers block until the first completes and
// then observe the same result.
func (idx *Index) IndexMetadata() error {
	idx.metadataOnce.Do(func() {
		idx.mu.Lock()
		resolve := idx.metadataResolve
		idx.mu.Unlock()
		var err error
		if resolve != nil {
			err = resolve(idx)
		}
		idx.mu.Lock()
		idx.metadataErr = err
		idx.metadataDone = true
		idx.mu.Unlock()
	})
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.metadataErr
}

// FullSelection returns a bitset selecting every row.
func (idx *Index) FullSelection() *Bitset {
	return Full(len(idx.Rows))
}

// AllDatasetIDs returns the id of every dataset in the index.
func (idx *Index) AllDatasetIDs() map[int]bool {
	out := make(map[int]bool, len(idx.Datasets))
	for _, d := range idx.Datasets {
		out[d.ID] = true
	}
	return out
}

// EntityBitset returns, building lazily on first use, the bitset of
// rows whose entity name has exactly value.
func (idx *Index) EntityBitset(name, value string) *Bitset {
	idx.ensureEntityIndex(name)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if b, ok := idx.entityInverted[name][value]; ok {
		return b
	}
	return NewBitset(len(idx.Rows))
}

// EntityPresence returns the bitset of rows where entity name is
// present with any value.
func (idx *Index) EntityPresence(name string) *Bitset {
	idx.ensureEntityIndex(name)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if b, ok := idx.entityPresence[name]; ok {
		return b
	}
	return NewBitset(len(idx.Rows))
}

func (idx *Index) ensureEntityIndex(name string) {
	idx.mu.RLock()
	_, built := idx.entityPresence[name]
	idx.mu.RUnlock()
	if built {
		return
	}

	values := make(map[string]*Bitset)
	presence := NewBitset(len(idx.Rows))
	for i, row := range idx.Rows {
		if v, ok := row.Parsed.Get(name); ok {
			presence.Set(i)
			b, exists := values[v]
			if !exists {
				b = NewBitset(len(idx.Rows))
				values[v] = b
			}
			b.Set(i)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, already := idx.entityPresence[name]; already {
		return
	}
	idx.entityInverted[name] = values
	idx.entityPresence[name] = presence
}

// SortedPathOrder returns row indices in ascending path order, the
// deterministic iteration order required of every view.
func (idx *Index) SortedPathOrder() []int {
	order := make([]int, len(idx.Rows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return idx.Rows[order[a]].Path < idx.Rows[order[b]].Path })
	return order
}
