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
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidslayout"
)

// StatusResult is the dataset/derivative summary reported by 'status'.
type StatusResult struct {
	CachePath   string    `json:"cache_path" yaml:"cache_path"`
	Rows        int       `json:"rows" yaml:"rows"`
	Datasets    []string  `json:"datasets" yaml:"datasets"`
	Derivatives []string  `json:"derivatives" yaml:"derivatives"`
	Subjects    int       `json:"subjects" yaml:"subjects"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// runStatus executes the 'status' CLI command, reading the cached
// layout and printing a dataset/derivative summary.
//
// Flags:
//   - --format: "text" (default), "json", or "yaml"
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	format := fs.String("format", "text", "Output format: text, json, or yaml")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bidslayout status [options]

Description:
  Show a summary of the cached layout: dataset roots, derivative roots,
  row count, and subject count. Run 'bidslayout index' first if no
  cache exists yet.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bidslayout status
  bidslayout --json status
  bidslayout status --format=yaml

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if globals.JSON {
		*format = "json"
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	if cfg.CachePath == "" {
		bidserrors.FatalError(fmt.Errorf("no cache_path configured; set one in %s", ConfigPath(".")), globals.JSON)
	}
	if _, err := os.Stat(cfg.CachePath); os.IsNotExist(err) {
		if *format != "text" {
			bidserrors.FatalError(fmt.Errorf("cache %s does not exist; run 'bidslayout index' first", cfg.CachePath), globals.JSON)
		}
		warningf("No cache found at %s.", cfg.CachePath)
		fmt.Println("Run 'bidslayout index' to build it.")
		os.Exit(0)
	}

	layout, err := bidslayout.Load(cfg.CachePath)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	result := &StatusResult{CachePath: cfg.CachePath, Rows: layout.Len(), Timestamp: time.Now()}
	for _, d := range layout.Roots() {
		result.Datasets = append(result.Datasets, d.Root)
	}
	for _, d := range layout.Derivatives().Roots() {
		result.Derivatives = append(result.Derivatives, d.Root)
	}
	result.Subjects = len(layout.Entities()["subject"])

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		_ = enc.Encode(result)
		_ = enc.Close()
	default:
		printStatus(result)
	}
}

func printStatus(result *StatusResult) {
	header("Layout Status")
	fmt.Printf("%s %s\n", label("Cache:"), dimText(result.CachePath))
	fmt.Printf("%s %s\n", label("Rows:"), countText(result.Rows))
	fmt.Printf("%s %s\n", label("Subjects:"), countText(result.Subjects))
	fmt.Println()

	subHeader("Datasets:")
	for _, d := range result.Datasets {
		fmt.Printf("  %s\n", d)
	}
	if len(result.Derivatives) > 0 {
		fmt.Println()
		subHeader("Derivatives:")
		for _, d := range result.Derivatives {
			fmt.Printf("  %s\n", d)
		}
	}
}
