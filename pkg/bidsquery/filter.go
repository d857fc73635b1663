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
	"github.com/bmatcuk/doublestar/v4"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
)

// Options carries the optional arguments to Filter. A zero value matches
// every dataset.
type Options struct {
	Root  string // exact string or glob, matched against each dataset's canonical root
	Scope string // "raw" | "self" | "derivatives" | a derivative label | a pipeline name
}

// Filter restricts view to datasets matching opts.Root and opts.Scope,
// both optional; an empty Options matches every dataset already visible
// in view.
func Filter(view *bidsindex.View, opts Options) (*bidsindex.View, error) {
	result := view

	if opts.Root != "" {
		allowed, err := matchRoot(result, opts.Root)
		if err != nil {
			return nil, err
		}
		result = result.WithDatasetIDs(allowed)
	}

	if opts.Scope != "" {
		allowed, err := matchScope(result, opts.Scope)
		if err != nil {
			return nil, err
		}
		result = result.WithDatasetIDs(allowed)
	}

	return result, nil
}

// matchRoot returns the ids of datasets in view whose canonical root
// matches pattern exactly or as a doublestar glob.
func matchRoot(view *bidsindex.View, pattern string) (map[int]bool, error) {
	allowed := make(map[int]bool)
	for _, ds := range view.Roots() {
		if ds.CanonicalRoot == pattern {
			allowed[ds.ID] = true
			continue
		}
		matched, err := doublestar.Match(pattern, ds.CanonicalRoot)
		if err != nil {
			return nil, bidserrors.NewUnknownScope(pattern)
		}
		if matched {
			allowed[ds.ID] = true
		}
	}
	return allowed, nil
}

// matchScope resolves a scope token in order raw/self -> derivatives ->
// label -> pipeline, returning the first non-empty match's dataset ids.
// UnknownScope if none of the four interpretations match anything.
func matchScope(view *bidsindex.View, scope string) (map[int]bool, error) {
	if scope == "raw" || scope == "self" {
		allowed := make(map[int]bool)
		for _, ds := range view.Roots() {
			if ds.Kind == bidsindex.Raw {
				allowed[ds.ID] = true
			}
		}
		return allowed, nil
	}

	if scope == "derivatives" {
		allowed := make(map[int]bool)
		for _, ds := range view.Roots() {
			if ds.Kind == bidsindex.Derivative {
				allowed[ds.ID] = true
			}
		}
		return allowed, nil
	}

	if allowed := byLabel(view, scope); len(allowed) > 0 {
		return allowed, nil
	}

	if allowed := byPipeline(view, scope); len(allowed) > 0 {
		return allowed, nil
	}

	return nil, bidserrors.NewUnknownScope(scope)
}

func byLabel(view *bidsindex.View, label string) map[int]bool {
	allowed := make(map[int]bool)
	for _, ds := range view.Roots() {
		if ds.Label != nil && *ds.Label == label {
			allowed[ds.ID] = true
		}
	}
	return allowed
}

func byPipeline(view *bidsindex.View, pipeline string) map[int]bool {
	allowed := make(map[int]bool)
	for _, ds := range view.Roots() {
		for _, p := range ds.Pipelines {
			if p == pipeline {
				allowed[ds.ID] = true
				break
			}
		}
	}
	return allowed
}
