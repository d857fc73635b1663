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

// Package bidsmeta walks JSON sidecars along the BIDS inheritance
// principle and merges them into a flat per-file metadata map, on
// demand, once per index.
package bidsmeta

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
)

// sidecar is a *.json file discovered directly from the filesystem
// (never from idx.Rows, which never holds JSON sidecars) plus its
// parsed entities/suffix/datatype, used to test inheritance
// applicability against a target row.
type sidecar struct {
	relPath string
	parsed  bidspath.ParsedPath
}

// Resolve populates Metadata on every row of idx, in place. It is meant
// to be installed via idx.SetMetadataResolver and invoked exactly once
// through idx.IndexMetadata's sync.Once latch, so concurrent callers
// never observe a half-populated index.
func Resolve(idx *bidsindex.Index) error {
	byDataset := make(map[int][]*bidsindex.Row)
	for i := range idx.Rows {
		ds := idx.Rows[i].DatasetID
		byDataset[ds] = append(byDataset[ds], &idx.Rows[i])
	}
	for _, ds := range idx.Datasets {
		rows := byDataset[ds.ID]
		dirCache := make(map[string][]sidecar)  // directory (relative, "." = root) -> its sidecars
		contentCache := make(map[string]map[string]string)

		for _, target := range rows {
			merged := make(map[string]string)
			for _, level := range ancestorDirs(path.Dir(target.Parsed.RelPath)) {
				candidates, ok := dirCache[level]
				if !ok {
					candidates = listSidecars(ds.Root, level, idx.Parser)
					dirCache[level] = candidates
				}
				applicable := filterApplicableSidecars(candidates, target)
				sortSidecarsBySpecificity(applicable)
				for _, sc := range applicable {
					content, ok := contentCache[sc.relPath]
					if !ok {
						loaded, err := loadFlatJSON(filepath.Join(ds.Root, filepath.FromSlash(sc.relPath)))
						if err != nil {
							continue // malformed sidecar: skip, don't fail the whole resolve
						}
						contentCache[sc.relPath] = loaded
						content = loaded
					}
					for k, v := range content {
						merged[k] = v // shallow key-level override, never a recursive merge
					}
				}
			}
			target.Metadata = merged
		}
	}
	return nil
}

// listSidecars reads the direct (non-recursive) entries of dir
// (relative to root, "." for root itself) and parses every *.json
// filename found, skipping dataset_description.json.
func listSidecars(root, dir string, parser *bidspath.Parser) []sidecar {
	abs := root
	if dir != "." {
		abs = filepath.Join(root, filepath.FromSlash(dir))
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil
	}
	var out []sidecar
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name() == "dataset_description.json" {
			continue
		}
		rel := e.Name()
		if dir != "." {
			rel = dir + "/" + e.Name()
		}
		parsed, err := parser.Parse(rel)
		if err != nil {
			continue
		}
		out = append(out, sidecar{relPath: rel, parsed: parsed})
	}
	return out
}

// ancestorDirs returns every directory from the dataset root (".") down
// to dir, inclusive, shallowest first.
func ancestorDirs(dir string) []string {
	if dir == "." || dir == "" {
		return []string{"."}
	}
	parts := strings.Split(dir, "/")
	out := make([]string, 0, len(parts)+1)
	out = append(out, ".")
	cur := ""
	for _, p := range parts {
		if cur == "" {
			cur = p
		} else {
			cur = cur + "/" + p
		}
		out = append(out, cur)
	}
	return out
}

// filterApplicableSidecars keeps sidecars whose entities are a subset of
// the target's, whose suffix equals the target's, and whose datatype is
// either absent or equal to the target's.
func filterApplicableSidecars(candidates []sidecar, target *bidsindex.Row) []sidecar {
	var out []sidecar
	for _, c := range candidates {
		if c.parsed.Suffix != target.Parsed.Suffix {
			continue
		}
		if c.parsed.Datatype != "" && c.parsed.Datatype != target.Parsed.Datatype {
			continue
		}
		subset := true
		for _, ev := range c.parsed.Entities {
			if v, ok := target.Parsed.Get(ev.Name); !ok || v != ev.Value {
				subset = false
				break
			}
		}
		if subset {
			out = append(out, c)
		}
	}
	return out
}

// sortSidecarsBySpecificity orders candidates least to most specific
// (fewer entities first), so the merge loop applies more specific
// sidecars last and they win; ties are broken lexicographically by
// filename, the lexicographically later name applied last and winning.
func sortSidecarsBySpecificity(cands []sidecar) {
	sort.Slice(cands, func(i, j int) bool {
		li, lj := len(cands[i].parsed.Entities), len(cands[j].parsed.Entities)
		if li != lj {
			return li < lj
		}
		return cands[i].relPath < cands[j].relPath
	})
}

// loadFlatJSON reads a sidecar JSON object and flattens every value to
// its canonical string form: scalars via fmt.Sprintf("%v"), arrays and
// nested objects via their compact JSON encoding.
func loadFlatJSON(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		case float64, bool:
			out[k] = fmt.Sprintf("%v", val)
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(encoded)
		}
	}
	return out, nil
}
