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
	"context"
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/bidslayout/pkg/bidslayout"
	"github.com/kraklabs/bidslayout/pkg/bidswalk"
)

// toDerivativesSpec translates the YAML-friendly DerivativesConfig into
// the bidswalk constructor it names.
func toDerivativesSpec(cfg DerivativesConfig) bidswalk.DerivativesSpec {
	switch cfg.Mode {
	case "auto":
		return bidslayout.AutoDerivatives()
	case "list":
		return bidslayout.DerivativesFromPaths(cfg.Paths...)
	case "labeled":
		return bidslayout.DerivativesFromLabels(cfg.Labeled)
	default:
		return bidslayout.NoDerivatives()
	}
}

// constructLayout wires cfg and globals into a bidslayout.Construct
// call, attaching a progress bar unless quiet/json output is active.
func constructLayout(ctx context.Context, cfg *Config, resetCache bool, globals GlobalFlags, logger *slog.Logger) (*bidslayout.Layout, error) {
	var bar *progressbar.ProgressBar
	var progress bidswalk.ProgressCallback
	if !globals.Quiet {
		progress = func(current, total int64, phase string) {
			if bar == nil || bar.GetMax64() != total {
				if bar != nil {
					_ = bar.Finish()
				}
				bar = progressbar.Default(total, phase)
			}
			_ = bar.Set64(current)
		}
	}

	layout, err := bidslayout.Construct(ctx, bidslayout.Options{
		Roots:       cfg.Roots,
		Derivatives: toDerivativesSpec(cfg.Derivatives),
		Validate:    cfg.Validate,
		CachePath:   cfg.CachePath,
		ResetCache:  resetCache,
		Concurrency: cfg.Concurrency,
		Progress:    progress,
		Logger:      logger,
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	return layout, err
}
