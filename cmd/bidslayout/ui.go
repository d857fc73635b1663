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

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Color handles used by the subcommand output helpers below. Bound once
// by initColors; left at color.NoColor's zero-value behavior otherwise.
var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	dim    = color.New(color.Faint)
	bold   = color.New(color.Bold)
)

// initColors decides whether fatih/color should emit escape codes. It
// mirrors the CLI's precedence: an explicit --no-color flag wins, then
// NO_COLOR, then whether stdout is a terminal at all.
func initColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

func header(s string) {
	fmt.Println()
	_, _ = bold.Println(s)
	_, _ = dim.Println(underline(len(s)))
}

func subHeader(s string) {
	_, _ = bold.Println(s)
}

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '-'
	}
	return string(b)
}

func label(s string) string {
	return bold.Sprint(s)
}

func dimText(s string) string {
	return dim.Sprint(s)
}

func countText(n int) string {
	return bold.Sprintf("%d", n)
}

func success(s string) {
	_, _ = green.Println(s)
}

func warning(s string) {
	_, _ = yellow.Println(s)
}

func warningf(format string, args ...any) {
	_, _ = yellow.Printf(format+"\n", args...)
}
