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

// Package bidslayout is the public facade: it wires the path parser, the
// dataset walker, the layout index, the metadata resolver, the query
// engine and the persistence codec into one Construct/Layout API, the
// way pkg/ingestion.NewLocalPipeline wires its own component stack
// behind a single orchestrator.
package bidslayout

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidscache"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidsmeta"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
	"github.com/kraklabs/bidslayout/pkg/bidswalk"
)

// Re-exported derivatives constructors: callers of this package never
// need to import pkg/bidswalk directly.
var (
	NoDerivatives         = bidswalk.NoDerivatives
	AutoDerivatives       = bidswalk.AutoDerivatives
	DerivativesFromPaths  = bidswalk.DerivativesFromPaths
	DerivativesFromLabels = bidswalk.DerivativesFromLabels
)

// Options configures Construct.
type Options struct {
	// Roots are the raw dataset roots, in the order they should appear
	// in the resulting layout's dataset table.
	Roots []string

	// Derivatives selects which derivative datasets, if any, join Roots.
	Derivatives bidswalk.DerivativesSpec

	// Validate selects Strict path parsing (dictionary-gated entity
	// recognition) when true; Permissive (any key-value token accepted)
	// when false. This is the construction-time decision spec.md's
	// abstract `validate?` parameter names but does not itself define;
	// Strict is the validating mode, so `validate=true` maps to it.
	Validate bool

	// CachePath, if non-empty, is read at construction (unless
	// ResetCache) and written after a successful walk.
	CachePath string

	// ResetCache bypasses loading CachePath even if it exists and is
	// compatible, forcing a fresh walk; the result still overwrites
	// CachePath afterward.
	ResetCache bool

	// Concurrency bounds the walker's directory-enumeration fan-out;
	// <=0 defers to the walker's own default.
	Concurrency int

	// Progress, if set, receives walk progress callbacks.
	Progress bidswalk.ProgressCallback

	// Logger receives structured diagnostics; nil defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Construct builds a Layout by walking Roots (and any configured
// derivatives), or by loading a compatible cache at CachePath. A loaded
// cache whose dataset roots or labels disagree with the requested
// construction is rejected and the layout is rebuilt from the
// filesystem instead of failing the call.
func Construct(ctx context.Context, opts Options) (*Layout, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mode := bidspath.Permissive
	if opts.Validate {
		mode = bidspath.Strict
	}

	if opts.CachePath != "" && !opts.ResetCache {
		idx, cachedMode, err := tryLoadCache(opts.CachePath, opts.Roots, opts.Derivatives)
		switch {
		case err != nil:
			logger.Info("construct.cache.miss", "path", opts.CachePath, "reason", err)
		case cachedMode != mode:
			logger.Info("construct.cache.miss", "path", opts.CachePath, "reason", "parser mode mismatch")
		default:
			logger.Info("construct.cache.hit", "path", opts.CachePath)
			idx.SetMetadataResolver(bidsmeta.Resolve)
			return &Layout{view: bidsindex.NewRootView(idx), mode: cachedMode, cachePath: opts.CachePath, logger: logger}, nil
		}
	}

	datasets, rows, err := bidswalk.Walk(ctx, opts.Roots, opts.Derivatives, bidswalk.Options{
		ParserMode:  mode,
		Concurrency: opts.Concurrency,
		Progress:    opts.Progress,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	idx := bidsindex.New(datasets, rows, bidspath.New(mode))
	idx.SetMetadataResolver(bidsmeta.Resolve)
	layout := &Layout{view: bidsindex.NewRootView(idx), mode: mode, cachePath: opts.CachePath, logger: logger}

	if opts.CachePath != "" {
		if err := layout.Save(opts.CachePath); err != nil {
			logger.Warn("construct.cache.save_failed", "path", opts.CachePath, "err", err)
		}
	}
	return layout, nil
}

// tryLoadCache loads CachePath and rejects it unless its dataset roots
// and labels match what walking roots/deriv would itself produce, for
// every derivatives mode whose resulting root set is fully determined
// without touching the filesystem (None, List, Labeled). Auto-discovered
// derivatives are not predictable ahead of a walk, so a cache built under
// DerivAuto is accepted once its raw-root prefix matches; ResetCache is
// the caller's tool for forcing a rebuild after an Auto derivative tree
// has changed on disk.
func tryLoadCache(path string, roots []string, deriv bidswalk.DerivativesSpec) (*bidsindex.Index, bidspath.Mode, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, 0, err
	}
	idx, mode, err := bidscache.LoadFile(path)
	if err != nil {
		return nil, 0, err
	}

	expectedRoots := make([]string, len(roots))
	for i, r := range roots {
		expectedRoots[i] = filepath.Clean(r)
	}

	switch deriv.Mode {
	case bidswalk.DerivNone:
		if err := bidscache.ValidateAgainstRoots(idx.Datasets, expectedRoots, nil); err != nil {
			return nil, 0, err
		}
	case bidswalk.DerivList:
		for _, p := range deriv.Paths {
			expectedRoots = append(expectedRoots, filepath.Clean(p))
		}
		if err := bidscache.ValidateAgainstRoots(idx.Datasets, expectedRoots, nil); err != nil {
			return nil, 0, err
		}
	case bidswalk.DerivLabeled:
		labels := make([]string, 0, len(deriv.Labeled))
		for l := range deriv.Labeled {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		expectedLabels := make([]string, len(roots))
		for _, l := range labels {
			expectedRoots = append(expectedRoots, filepath.Clean(deriv.Labeled[l]))
			expectedLabels = append(expectedLabels, l)
		}
		if err := bidscache.ValidateAgainstRoots(idx.Datasets, expectedRoots, expectedLabels); err != nil {
			return nil, 0, err
		}
	case bidswalk.DerivAuto:
		if len(idx.Datasets) < len(expectedRoots) {
			return nil, 0, bidserrors.NewCacheIncompatible("cache has fewer datasets than requested raw roots")
		}
		for i, want := range expectedRoots {
			if idx.Datasets[i].Root != want {
				return nil, 0, bidserrors.NewCacheIncompatible("raw dataset root ordering mismatch")
			}
		}
	}

	return idx, mode, nil
}
