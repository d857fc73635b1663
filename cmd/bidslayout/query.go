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
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidslayout"
	"github.com/kraklabs/bidslayout/pkg/bidsquery"
)

// runQuery executes the 'query' CLI command: parse a small
// pipe-separated expression of get/filter stages and print the
// matching rows.
//
// Examples:
//
//	bidslayout query 'get suffix=T1w | filter scope=raw'
//	bidslayout --json query 'get subject=01 suffix=bold'
func runQuery(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	metadata := fs.Bool("metadata", false, "Index sidecar metadata before running the query")
	one := fs.Bool("one", false, "Require exactly one match and print only its path")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bidslayout query [options] <expr>

Description:
  Run a get/filter pipeline against the cached layout. Stages are
  separated by '|'; each stage is a command followed by key=value
  pairs separated by spaces. A value may be a comma-separated list
  for a union match. An integer-looking value (no leading zero) is
  matched with zero-padded decimal coercion; quote it to force an
  exact string match instead (e.g. subject="01").

  Stages:
    get key=value [key=value ...]     entity/metadata AND filter
    filter [root=glob] [scope=value]  dataset root/scope restriction

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bidslayout query 'get suffix=T1w | filter scope=raw'
  bidslayout query 'get subject=01,02'
  bidslayout query 'get sub=1 | filter scope=raw' --one
  bidslayout query 'filter root=**/fmriprep/**'

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		bidserrors.FatalError(fmt.Errorf("an expression argument is required"), globals.JSON)
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
	if *metadata {
		layout, err = layout.IndexMetadata()
		if err != nil {
			bidserrors.FatalError(err, globals.JSON)
		}
	}

	result, err := runExpression(layout, fs.Arg(0))
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	if *one {
		row, err := result.One()
		if err != nil {
			bidserrors.FatalError(err, globals.JSON)
		}
		fmt.Println(row.Path)
		return
	}

	rows := result.Rows()
	if globals.JSON {
		paths := make([]string, len(rows))
		for i, r := range rows {
			paths[i] = r.Path
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"count": len(paths), "paths": paths})
		return
	}

	for _, r := range rows {
		fmt.Println(r.Path)
	}
	if !globals.Quiet {
		fmt.Fprintf(os.Stderr, "\n(%d rows)\n", len(rows))
	}
}

// runExpression applies each pipe-separated stage of expr to layout in
// order and returns the final result.
func runExpression(layout *bidslayout.Layout, expr string) (*bidslayout.Layout, error) {
	stages := strings.Split(expr, "|")
	current := layout
	for _, stage := range stages {
		fields := strings.Fields(strings.TrimSpace(stage))
		if len(fields) == 0 {
			continue
		}
		cmd, pairs := fields[0], fields[1:]

		var err error
		switch cmd {
		case "get":
			filters, perr := parseFilters(pairs)
			if perr != nil {
				return nil, perr
			}
			current, err = current.Get(filters)
		case "filter":
			opts, perr := parseFilterOptions(pairs)
			if perr != nil {
				return nil, perr
			}
			current, err = current.Filter(opts)
		default:
			return nil, fmt.Errorf("unknown query stage %q (want get or filter)", cmd)
		}
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func parseFilters(pairs []string) (map[string]any, error) {
	filters := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, hasValue := strings.Cut(pair, "=")
		if key == "" {
			return nil, fmt.Errorf("malformed filter %q", pair)
		}
		if !hasValue {
			filters[key] = true
			continue
		}
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			filters[key] = value[1 : len(value)-1]
			continue
		}
		if strings.Contains(value, ",") {
			filters[key] = strings.Split(value, ",")
			continue
		}
		if n, convErr := strconv.Atoi(value); convErr == nil && strconv.Itoa(n) == value {
			filters[key] = n
			continue
		}
		filters[key] = value
	}
	return filters, nil
}

func parseFilterOptions(pairs []string) (bidsquery.Options, error) {
	var opts bidsquery.Options
	for _, pair := range pairs {
		key, value, hasValue := strings.Cut(pair, "=")
		if !hasValue {
			return opts, fmt.Errorf("malformed filter option %q (want root=... or scope=...)", pair)
		}
		switch key {
		case "root":
			opts.Root = value
		case "scope":
			opts.Scope = value
		default:
			return opts, fmt.Errorf("unknown filter option %q (want root or scope)", key)
		}
	}
	return opts, nil
}
