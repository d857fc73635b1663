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

// Package bidswalk enumerates one or more BIDS dataset roots (raw plus
// their derivatives), classifying each discovered file's owning dataset
// and handing it to the path parser.
package bidswalk

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
)

// DerivativesMode selects how the derivatives argument is interpreted.
type DerivativesMode int

const (
	// DerivNone indexes only the raw roots.
	DerivNone DerivativesMode = iota
	// DerivAuto auto-discovers any derivatives/*/ subdirectory of each
	// raw root that contains a dataset_description.json, labelling it
	// by the subdirectory's basename.
	DerivAuto
	// DerivList loads each given path as an unlabelled derivative.
	DerivList
	// DerivLabeled loads each map entry as a derivative labelled by its key.
	DerivLabeled
)

// DerivativesSpec normalizes the derivatives constructor argument's four
// accepted shapes into one tagged variant, dispatched once in Walk.
type DerivativesSpec struct {
	Mode    DerivativesMode
	Paths   []string
	Labeled map[string]string
}

// NoDerivatives indexes only the raw roots.
func NoDerivatives() DerivativesSpec { return DerivativesSpec{Mode: DerivNone} }

// AutoDerivatives auto-discovers labelled derivatives/*/ subdirectories.
func AutoDerivatives() DerivativesSpec { return DerivativesSpec{Mode: DerivAuto} }

// DerivativesFromPaths loads each path as an unlabelled derivative dataset.
func DerivativesFromPaths(paths ...string) DerivativesSpec {
	return DerivativesSpec{Mode: DerivList, Paths: paths}
}

// DerivativesFromLabels loads each path as a derivative dataset labelled
// by its map key.
func DerivativesFromLabels(labeled map[string]string) DerivativesSpec {
	return DerivativesSpec{Mode: DerivLabeled, Labeled: labeled}
}

// ProgressCallback reports walk progress. total is always -1, since the
// walk does not count files up front; phase is always "walking" for this
// package.
type ProgressCallback func(current, total int64, phase string)

// Options controls a Walk call.
type Options struct {
	ParserMode  bidspath.Mode
	Concurrency int // bounded directory-enumeration fan-out; <=0 means 4
	Progress    ProgressCallback
	Logger      *slog.Logger
}

// Walk discovers every dataset under roots (plus deriv's derivatives)
// and every file within them, parsing each with a Parser configured per
// opts.ParserMode. It returns a fully populated dataset table and row
// set, or an error. Construction is atomic: a cancelled or failed walk
// never returns a partial result.
func Walk(ctx context.Context, roots []string, deriv DerivativesSpec, opts Options) ([]bidsindex.Dataset, []bidsindex.Row, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	datasets, err := buildDatasetTable(roots, deriv, opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := checkDuplicateRoots(datasets); err != nil {
		return nil, nil, err
	}

	skipRoots := nestedRootSet(datasets)
	parser := bidspath.New(opts.ParserMode)

	rowCh := make(chan bidsindex.Row, 256)
	var rows []bidsindex.Row
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	var count int64
	go func() {
		defer writerWG.Done()
		for row := range rowCh {
			rows = append(rows, row)
			count++
			if opts.Progress != nil {
				opts.Progress(count, -1, "walking")
			}
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Concurrency)
	for _, ds := range datasets {
		ds := ds
		group.Go(func() error {
			return walkDataset(gctx, ds, skipRoots, parser, opts.Logger, rowCh)
		})
	}
	walkErr := group.Wait()
	close(rowCh)
	writerWG.Wait()

	if walkErr != nil {
		return nil, nil, walkErr
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })
	return datasets, rows, nil
}
