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

// Package main implements the bidslayout CLI: build and query a BIDS
// dataset layout from the command line.
//
// Usage:
//
//	bidslayout init                  Create .bidslayout/config.yaml
//	bidslayout index                 Walk the configured roots and cache the layout
//	bidslayout [--json] status       Show dataset/derivative summary
//	bidslayout [--json] entities     Show the entity/value aggregate
//	bidslayout [--json] query <expr> Run a get/filter expression
//	bidslayout reset                 Delete the cache file
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all subcommands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .bidslayout/config.yaml (default: auto-discover)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress bars, info messages)")
	)

	// Stop parsing at the first non-flag argument so subcommand-specific
	// flags (e.g. "reset --yes") reach the subcommand's own FlagSet
	// instead of being rejected here.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `bidslayout - BIDS dataset layout indexer and query engine

bidslayout walks a BIDS-organized neuroimaging dataset (and its
derivatives), builds an in-memory queryable index, and caches it to
disk so repeat queries skip the filesystem walk.

Usage:
  bidslayout <command> [options]

Commands:
  init       Create .bidslayout/config.yaml
  index      Walk the configured roots and write the cache
  status     Show dataset/derivative summary
  entities   Show the entity/value aggregate (subjects, sessions, ...)
  query      Run a get/filter expression against the layout
  reset      Delete the cache file

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress bars, info messages)
  -c, --config      Path to .bidslayout/config.yaml
  -V, --version     Show version and exit

Examples:
  bidslayout init                                Create configuration
  bidslayout index                               Build and cache the layout
  bidslayout status                              Show dataset summary
  bidslayout query 'get suffix=T1w | filter scope=raw'
  bidslayout --json query 'get subject=01 suffix=bold'

For detailed command help: bidslayout <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("bidslayout version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}
	initColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, *configPath, globals)
	case "index":
		runIndex(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "entities":
		runEntities(cmdArgs, *configPath, globals)
	case "query":
		runQuery(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
