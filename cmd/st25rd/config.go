// go-st25r
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25r.
//
// go-st25r is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25r is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25r; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ZaparooProject/go-st25r/bridge"
	"github.com/ZaparooProject/go-st25r/events/mqtt"
	"github.com/ZaparooProject/go-st25r/internal/lockfile"
	"github.com/ZaparooProject/go-st25r/irq"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// Modes
const (
	modeServe = "serve"
	modeScan  = "scan"
)

const (
	defaultListen         = "unix:/run/st25r.sock"
	defaultRemovalTimeout = 500 * time.Millisecond
)

var errConfig = errors.New("invalid config")

// Config is the daemon configuration file.
type Config struct {
	Reader ReaderConfig `yaml:"reader"`
	Serve  ServeConfig  `yaml:"serve"`
	MQTT   mqtt.Config  `yaml:"mqtt"`
	Mode   string       `yaml:"mode"`
	Scan   ScanConfig   `yaml:"scan"`
	Debug  bool         `yaml:"debug"`
}

// ReaderConfig selects the reader. An empty Device means auto-detect.
type ReaderConfig struct {
	Device  string     `yaml:"device"`
	Name    string     `yaml:"name"`
	LockDir string     `yaml:"lock_dir"`
	IRQ     irq.Config `yaml:"irq"`
}

// ServeConfig is the bridge endpoint, e.g. "unix:/run/st25r.sock",
// "tcp::7070" or "serial:/dev/ttyGS0".
type ServeConfig struct {
	Listen string `yaml:"listen"`
	Baud   int    `yaml:"baud"`
}

// ScanConfig drives the in-process discover loop.
type ScanConfig struct {
	Protocols      []string      `yaml:"protocols"`
	RemovalTimeout time.Duration `yaml:"removal_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Mode:   modeServe,
		Reader: ReaderConfig{LockDir: lockfile.DefaultDir},
		Serve:  ServeConfig{Listen: defaultListen, Baud: bridge.DefaultBaudRate},
		Scan: ScanConfig{
			Protocols:      []string{"all"},
			RemovalTimeout: defaultRemovalTimeout,
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an
// error when path was not given explicitly.
func loadConfig(path string, explicit bool) (*Config, error) {
	cfg := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := decodeConfig(f, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(r io.Reader, cfg *Config) error {
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return cfg.validate()
}

func (c *Config) validate() error {
	switch c.Mode {
	case modeServe:
		if _, err := bridge.ParseEndpoint(c.Serve.Listen); err != nil {
			return fmt.Errorf("%w: serve.listen: %w", errConfig, err)
		}
	case modeScan:
		if _, err := c.protocols(); err != nil {
			return fmt.Errorf("%w: scan.protocols: %w", errConfig, err)
		}
		if c.Scan.RemovalTimeout <= 0 {
			return fmt.Errorf("%w: scan.removal_timeout must be positive", errConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", errConfig, c.Mode)
	}
	return nil
}

func (c *Config) protocols() (uint64, error) {
	mask, err := protocol.ParseProtocols(c.Scan.Protocols)
	if err != nil {
		return 0, err
	}
	if mask == 0 {
		return 0, fmt.Errorf("%w: no protocols", errConfig)
	}
	return mask, nil
}

// readerName names the reader in events and lock files.
func (c *Config) readerName(path string) string {
	if c.Reader.Name != "" {
		return c.Reader.Name
	}
	return path
}
