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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
)

// runIndex executes the 'index' CLI command: walk the configured roots,
// build the layout, and cache it to disk.
//
// Flags:
//   - --reset: ignore any existing cache and rebuild from the filesystem
//   - --debug: enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
func runIndex(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	reset := fs.Bool("reset", false, "Ignore any existing cache and rebuild from the filesystem")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bidslayout index [options]

Description:
  Walk the dataset roots and derivatives named in .bidslayout/config.yaml,
  build the in-memory layout index, and write it to the configured cache
  file. A later 'index' call reuses a compatible cache instead of
  re-walking the filesystem; pass --reset to force a rebuild.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  bidslayout index
  bidslayout index --reset
  bidslayout index --debug --metrics-addr :9090

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	logLevel := slog.LevelInfo
	switch {
	case *debug || globals.Verbose > 1:
		logLevel = slog.LevelDebug
	case globals.Quiet:
		logLevel = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("index.starting", "roots", cfg.Roots, "derivatives_mode", cfg.Derivatives.Mode, "validate", cfg.Validate)

	layout, err := constructLayout(ctx, cfg, *reset, globals, logger)
	if err != nil {
		bidserrors.FatalError(err, globals.JSON)
	}

	if globals.JSON {
		fmt.Printf(`{"rows":%d,"cache_path":%q}`+"\n", layout.Len(), cfg.CachePath)
		return
	}

	header("Indexing Complete")
	fmt.Printf("%s %s\n", label("Rows:"), countText(layout.Len()))
	fmt.Printf("%s %s\n", label("Cache:"), dimText(cfg.CachePath))
}
