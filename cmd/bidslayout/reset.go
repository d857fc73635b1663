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
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
)

// runReset executes the 'reset' CLI command, deleting the cache file
// named in the configuration.
func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm deletion of the cache file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bidslayout reset [options]

Description:
  Delete the cache file named by cache_path in .bidslayout/config.yaml.
  The next 'bidslayout index' rebuilds it from the filesystem.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bidslayout reset --yes

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !*confirm {
		bidserrors.FatalError(fmt.Errorf("the --yes flag is required to confirm deleting the cache"), globals.JSON)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}
	if cfg.CachePath == "" {
		bidserrors.FatalError(fmt.Errorf("no cache_path configured"), globals.JSON)
	}

	if _, err := os.Stat(cfg.CachePath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "No cache file found at %s\n", cfg.CachePath)
		return
	}
	if err := os.Remove(cfg.CachePath); err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	success("Deleted " + cfg.CachePath)
}
