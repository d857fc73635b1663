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

// runInit executes the 'init' CLI command, writing a starter
// .bidslayout/config.yaml in the current directory.
func runInit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	root := fs.String("root", ".", "Raw dataset root to index")
	force := fs.Bool("force", false, "Overwrite an existing config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bidslayout init [options]

Description:
  Create a starter .bidslayout/config.yaml in the current directory,
  pointing at --root with auto-discovered derivatives and strict
  entity validation.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bidslayout init
  bidslayout init --root /data/ds001 --force

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	target := configPath
	if target == "" {
		target = ConfigPath(".")
	}

	if _, err := os.Stat(target); err == nil && !*force {
		bidserrors.FatalError(fmt.Errorf("%s already exists; pass --force to overwrite", target), globals.JSON)
	}

	cfg := DefaultConfig()
	cfg.Roots = []string{*root}

	if err := SaveConfig(cfg, target); err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	success("Created " + target)
	fmt.Println("Next steps:")
	fmt.Println("  bidslayout index     Build and cache the layout")
	fmt.Println("  bidslayout status    Show dataset summary")
}
