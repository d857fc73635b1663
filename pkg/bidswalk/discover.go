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

package bidswalk

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
)

// buildDatasetTable resolves raw roots plus the normalized derivatives
// spec into the full dataset table, in raw-roots-first order.
func buildDatasetTable(roots []string, deriv DerivativesSpec, logger *slog.Logger) ([]bidsindex.Dataset, error) {
	var datasets []bidsindex.Dataset
	nextID := 0

	rawRoots := make([]string, len(roots))
	copy(rawRoots, roots)

	for _, root := range rawRoots {
		ds, err := buildDataset(nextID, root, bidsindex.Raw, nil, logger)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
		nextID++
	}

	switch deriv.Mode {
	case DerivNone:
		// nothing to add
	case DerivAuto:
		for _, raw := range rawRoots {
			found, err := discoverAutoDerivatives(raw)
			if err != nil {
				return nil, err
			}
			for _, d := range found {
				label := d.label
				ds, err := buildDataset(nextID, d.path, bidsindex.Derivative, &label, logger)
				if err != nil {
					return nil, err
				}
				datasets = append(datasets, ds)
				nextID++
			}
		}
	case DerivList:
		for _, p := range deriv.Paths {
			ds, err := buildDataset(nextID, p, bidsindex.Derivative, nil, logger)
			if err != nil {
				return nil, err
			}
			datasets = append(datasets, ds)
			nextID++
		}
	case DerivLabeled:
		labels := make([]string, 0, len(deriv.Labeled))
		for label := range deriv.Labeled {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			label := label
			ds, err := buildDataset(nextID, deriv.Labeled[label], bidsindex.Derivative, &label, logger)
			if err != nil {
				return nil, err
			}
			datasets = append(datasets, ds)
			nextID++
		}
	}

	return datasets, nil
}

type autoDerivative struct {
	path  string
	label string
}

func discoverAutoDerivatives(rawRoot string) ([]autoDerivative, error) {
	derivDir := filepath.Join(rawRoot, "derivatives")
	entries, err := os.ReadDir(derivDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, bidserrors.NewIoError(derivDir, err)
	}
	var found []autoDerivative
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(derivDir, e.Name())
		if _, err := os.Stat(filepath.Join(candidate, "dataset_description.json")); err == nil {
			found = append(found, autoDerivative{path: candidate, label: e.Name()})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].label < found[j].label })
	return found, nil
}

// buildDataset resolves a single dataset root: it must exist (a
// missing or unreadable root is a root-level failure that aborts
// construction), but its dataset_description.json may be absent or
// malformed without aborting anything.
func buildDataset(id int, root string, kind bidsindex.Kind, label *string, logger *slog.Logger) (bidsindex.Dataset, error) {
	cleaned := filepath.Clean(root)
	info, err := os.Stat(cleaned)
	if err != nil {
		return bidsindex.Dataset{}, bidserrors.NewIoError(cleaned, err)
	}
	if !info.IsDir() {
		return bidsindex.Dataset{}, bidserrors.NewIoError(cleaned, os.ErrInvalid)
	}

	canonical := cleaned
	if resolved, err := filepath.EvalSymlinks(cleaned); err == nil {
		canonical = resolved
	}
	if abs, err := filepath.Abs(canonical); err == nil {
		canonical = abs
	}

	desc, badErr, ioErr := readDescription(cleaned)
	if ioErr != nil {
		logger.Warn("walk.description.unreadable", "root", cleaned, "err", ioErr)
		badErr = ioErr
	}

	ds := bidsindex.Dataset{
		ID:            id,
		Root:          cleaned,
		CanonicalRoot: canonical,
		Kind:          kind,
		Label:         label,
		Description:   desc,
		Pipelines:     pipelineNames(desc),
	}
	if badErr != nil {
		ds.BadDescErr = bidserrors.NewBadDescription(cleaned, badErr)
		logger.Warn("walk.description.malformed", "root", cleaned, "err", badErr)
	}
	if desc != nil {
		ds.SourceLinks = desc.SourceDatasets
	}
	return ds, nil
}

func checkDuplicateRoots(datasets []bidsindex.Dataset) error {
	seen := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		if seen[ds.CanonicalRoot] {
			return bidserrors.NewDuplicateRoot(ds.Root)
		}
		seen[ds.CanonicalRoot] = true
	}
	return nil
}

// nestedRootSet returns every dataset's canonical root, used so a
// dataset's walk can recognize and skip descending into another
// dataset's directory (nested derivatives belong only to the inner
// dataset).
func nestedRootSet(datasets []bidsindex.Dataset) map[string]bool {
	out := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		out[ds.CanonicalRoot] = true
	}
	return out
}

// walkDataset enumerates every file under ds.Root, skipping directories
// that belong to another (nested) dataset, parsing each file and
// sending the resulting row to rowCh. A per-file parse or stat failure
// downgrades that single file rather than aborting the dataset's walk;
// context cancellation aborts immediately.
func walkDataset(ctx context.Context, ds bidsindex.Dataset, skipRoots map[string]bool, parser *bidspath.Parser, logger *slog.Logger, rowCh chan<- bidsindex.Row) error {
	return filepath.WalkDir(ds.Root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			logger.Warn("walk.stat.failed", "path", path, "err", err)
			return nil
		}

		if d.IsDir() {
			if path == ds.Root {
				return nil
			}
			canon := path
			if resolved, err := filepath.EvalSymlinks(path); err == nil {
				canon = resolved
			}
			if abs, err := filepath.Abs(canon); err == nil {
				canon = abs
			}
			if canon != ds.CanonicalRoot && skipRoots[canon] {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(ds.Root, path)
		if err != nil {
			logger.Warn("walk.rel.failed", "path", path, "err", err)
			return nil
		}
		rel = filepath.ToSlash(rel)

		// JSON sidecars (dataset_description.json included) are not
		// data files: they feed dataset description parsing and the
		// metadata resolver directly off the filesystem, never the row
		// set, so a sidecar can never collide with the data file whose
		// suffix it shares.
		if strings.HasSuffix(rel, ".json") {
			return nil
		}

		parsed, perr := parser.Parse(rel)
		if perr != nil {
			logger.Warn("walk.parse.demoted", "path", rel, "root", ds.Root, "err", perr)
			parsed = bidspath.ParsedPath{RelPath: rel, Parts: []string{rel}}
		}

		row := bidsindex.Row{
			Path:      joinDisplayPath(ds.Root, rel),
			DatasetID: ds.ID,
			Parsed:    parsed,
		}
		select {
		case rowCh <- row:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// joinDisplayPath joins a dataset root as originally given by the
// caller with a forward-slash relative path, so Row.Path reads the way
// the caller named their root rather than its canonicalized form.
func joinDisplayPath(root, rel string) string {
	root = strings.TrimSuffix(filepath.ToSlash(root), "/")
	return root + "/" + rel
}
