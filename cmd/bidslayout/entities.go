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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidslayout"
)

// runEntities executes the 'entities' CLI command: print the sorted
// entity-name -> values aggregate, plus resolved metadata keys when
// --metadata is passed.
func runEntities(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("entities", flag.ExitOnError)
	withMetadata := fs.Bool("metadata", false, "Also index and show resolved sidecar metadata keys")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bidslayout entities [options]

Description:
  Show the entity name -> sorted values aggregate for the cached
  layout (e.g. subject -> [01, 02], task -> [rest]).

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bidslayout entities
  bidslayout entities --metadata
  bidslayout --json entities

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}
	if _, err := os.Stat(cfg.CachePath); os.IsNotExist(err) {
		bidserrors.FatalError(fmt.Errorf("cache %s does not exist; run 'bidslayout index' first", cfg.CachePath), globals.JSON)
	}

	layout, err := bidslayout.Load(cfg.CachePath)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	var metadata map[string][]string
	if *withMetadata {
		layout, err = layout.IndexMetadata()
		if err != nil {
			bidserrors.FatalError(err, globals.JSON)
		}
		metadata = layout.Metadata()
	}

	entities := layout.Entities()

	if globals.JSON {
		out := map[string]any{"entities": entities}
		if metadata != nil {
			out["metadata"] = metadata
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	header("Entities")
	printSortedMap(entities)
	if metadata != nil {
		fmt.Println()
		header("Metadata")
		printSortedMap(metadata)
	}
}

func printSortedMap(m map[string][]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", label(k), m[k])
	}
}
