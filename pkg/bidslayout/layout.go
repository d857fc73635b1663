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

package bidslayout

import (
	"log/slog"

	"github.com/kraklabs/bidslayout/pkg/bidscache"
	"github.com/kraklabs/bidslayout/pkg/bidsdict"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidsmeta"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
	"github.com/kraklabs/bidslayout/pkg/bidsquery"
)

// Layout is an immutable projection over a constructed or loaded
// dataset index, analogous to spec.md's abstract Layout type. Every
// query method returns a new Layout sharing the underlying index.
type Layout struct {
	view      *bidsindex.View
	mode      bidspath.Mode
	cachePath string
	logger    *slog.Logger
}

// Get applies an AND-composition of entity/metadata filters. See
// pkg/bidsquery.Get for the full value-matching semantics (bool for
// presence, string for exact match, int for zero-padded decimal
// coercion, a slice for a union).
func (l *Layout) Get(filters map[string]any) (*Layout, error) {
	v, err := bidsquery.Get(l.view, filters)
	if err != nil {
		return nil, err
	}
	return l.with(v), nil
}

// Filter restricts the layout to datasets matching opts.Root and
// opts.Scope.
func (l *Layout) Filter(opts bidsquery.Options) (*Layout, error) {
	v, err := bidsquery.Filter(l.view, opts)
	if err != nil {
		return nil, err
	}
	return l.with(v), nil
}

// Parse delegates an ad-hoc relative path to the configured parser
// without adding it to the index.
func (l *Layout) Parse(relPath string) (bidspath.ParsedPath, error) {
	return l.view.Parse(relPath)
}

// IndexMetadata triggers sidecar resolution across the whole underlying
// index (not just this layout's current selection) and returns the same
// layout; it is idempotent and safe to call from concurrent goroutines
// sharing the same index.
func (l *Layout) IndexMetadata() (*Layout, error) {
	if err := l.view.Index().IndexMetadata(); err != nil {
		return nil, err
	}
	return l, nil
}

// Save writes the full underlying index (not just this layout's
// selection) to path in the RSBL binary format.
func (l *Layout) Save(path string) error {
	return bidscache.SaveFile(path, l.view.Index(), l.mode)
}

// Load reads a layout previously written by Save.
func Load(path string) (*Layout, error) {
	idx, mode, err := bidscache.LoadFile(path)
	if err != nil {
		return nil, err
	}
	idx.SetMetadataResolver(bidsmeta.Resolve)
	return &Layout{view: bidsindex.NewRootView(idx), mode: mode, cachePath: path}, nil
}

// Roots returns the ordered, unique list of datasets referenced by the
// current selection.
func (l *Layout) Roots() []bidsindex.Dataset { return l.view.Roots() }

// Root returns the sole raw root if exactly one is present, else the
// sole derivative root, else AmbiguousRoot or NoRoot.
func (l *Layout) Root() (bidsindex.Dataset, error) { return l.view.Root() }

// Description returns the description of the current selection's unique
// root.
func (l *Layout) Description() (*bidsindex.Description, error) { return l.view.Description() }

// Derivatives returns a layout restricted to datasets of kind
// Derivative.
func (l *Layout) Derivatives() *Layout { return l.with(l.view.Derivatives()) }

// Entities returns, for each entity long name present in the current
// selection, its sorted unique set of values.
func (l *Layout) Entities() map[string][]string { return l.view.Entities() }

// Metadata returns, for each resolved metadata key present in the
// current selection, its sorted unique set of string values. Empty
// until IndexMetadata has been called.
func (l *Layout) Metadata() map[string][]string { return l.view.Metadata() }

// One returns the sole row if the selection has exactly one element,
// else NotUnique (or NoResults if empty).
func (l *Layout) One() (bidsindex.Row, error) { return l.view.One() }

// Len returns the number of rows in the current selection.
func (l *Layout) Len() int { return l.view.Len() }

// Rows returns the selected rows in deterministic ascending-path order,
// the layout's iteration sequence.
func (l *Layout) Rows() []bidsindex.Row { return l.view.Rows() }

func (l *Layout) with(v *bidsindex.View) *Layout {
	return &Layout{view: v, mode: l.mode, cachePath: l.cachePath, logger: l.logger}
}

// LongToShort maps a canonical long entity name to its short alias.
func LongToShort(name string) (string, error) { return bidsdict.LongToShort(name) }

// ShortToLong maps a short entity alias to its canonical long name.
func ShortToLong(name string) (string, error) { return bidsdict.ShortToLong(name) }
