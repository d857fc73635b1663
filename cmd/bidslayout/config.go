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
	"path/filepath"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".bidslayout"
	defaultConfigFile = "config.yaml"
	configVersion     = "1"
)

// Config represents the .bidslayout/config.yaml configuration file.
type Config struct {
	Version     string            `yaml:"version"`
	Roots       []string          `yaml:"roots"`
	Derivatives DerivativesConfig `yaml:"derivatives,omitempty"`
	Validate    bool              `yaml:"validate"`
	CachePath   string            `yaml:"cache_path,omitempty"`
	Concurrency int               `yaml:"concurrency,omitempty"`
}

// DerivativesConfig mirrors bidslayout.Options.Derivatives in a
// YAML-friendly shape, since bidswalk.DerivativesSpec's constructors
// aren't themselves serializable.
type DerivativesConfig struct {
	// Mode is one of "none" (default), "auto", "list", "labeled".
	Mode    string            `yaml:"mode,omitempty"`
	Paths   []string          `yaml:"paths,omitempty"`
	Labeled map[string]string `yaml:"labeled,omitempty"`
}

// DefaultConfig returns a config with sensible defaults for local use:
// a single root at the current directory, auto-discovered derivatives,
// strict parsing, and a cache file alongside the config itself.
func DefaultConfig() *Config {
	return &Config{
		Version:     configVersion,
		Roots:       []string{"."},
		Derivatives: DerivativesConfig{Mode: "auto"},
		Validate:    true,
		CachePath:   filepath.Join(defaultConfigDir, "layout.bidscache"),
	}
}

// LoadConfig loads configuration from configPath, or finds it by walking
// up from the current directory when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("BIDSLAYOUT_CONFIG_PATH")
	}
	if configPath == "" {
		var err error
		configPath, err = findConfigFile()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // path comes from user config or discovery
	if err != nil {
		return nil, bidserrors.NewIoError(configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	if cfg.Version != configVersion {
		return nil, fmt.Errorf("unsupported config version %q in %s (expected %q)", cfg.Version, configPath, configVersion)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to configPath as YAML, creating the parent
// directory if needed.
func SaveConfig(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return bidserrors.NewIoError(filepath.Dir(configPath), err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return bidserrors.NewIoError(configPath, err)
	}
	return nil
}

// ConfigPath returns <dir>/.bidslayout/config.yaml.
func ConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// findConfigFile searches the current directory and its ancestors for
// .bidslayout/config.yaml.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := ConfigPath(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no %s/%s found in current directory or any parent; run 'bidslayout init'", defaultConfigDir, defaultConfigFile)
}
