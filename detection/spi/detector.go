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

// Package spi detects readers on SPI ports.
//
// SPI has no addressing, so candidates come from three places: a YAML
// config file, the ST25R_SPI_DEVICE environment variable and, on Linux,
// the spidev nodes.
package spi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	st25r "github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/detection"
	"github.com/ZaparooProject/go-st25r/detection/internal/confirm"
	spitransport "github.com/ZaparooProject/go-st25r/transport/spi"
	"gopkg.in/yaml.v2"
)

// EnvDevice names the environment variable holding an SPI device path.
const EnvDevice = "ST25R_SPI_DEVICE"

// Config represents one configured SPI device
type Config struct {
	// Additional metadata
	Metadata map[string]string `yaml:"metadata,omitempty"`
	// Device path (e.g. "/dev/spidev0.0")
	Device string `yaml:"device"`
	// Human-readable name
	Name string `yaml:"name,omitempty"`
	// GPIO line of the chip IRQ pin, recorded for the caller
	IRQLine int `yaml:"irq_line,omitempty"`
}

// detector implements the Detector interface for SPI devices
type detector struct {
	configPaths []string
	listPorts   func() ([]string, error)
	getenv      func(string) string
	open        confirm.Opener
}

// New creates a new SPI detector
func New() detection.Detector {
	home, _ := os.UserHomeDir()
	return &detector{
		configPaths: []string{
			"st25r-spi.yaml",
			filepath.Join(home, ".config", "st25r", "spi.yaml"),
			"/etc/st25r/spi.yaml",
		},
		listPorts: func() ([]string, error) {
			if runtime.GOOS != "linux" {
				return nil, nil
			}
			return filepath.Glob("/dev/spidev*")
		},
		getenv: os.Getenv,
		open:   spitransport.Factory,
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(st25r.TransportSPI)
}

// gatherConfigs collects candidates from all sources, first source wins
// for a given path.
func (d *detector) gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, d.loadConfigFile()...)

	if device := d.getenv(EnvDevice); device != "" {
		configs = append(configs, Config{Device: device, Name: "SPI device from environment"})
	}

	if ports, err := d.listPorts(); err == nil {
		for _, port := range ports {
			configs = append(configs, Config{Device: port})
		}
	}

	seen := make(map[string]bool)
	var unique []Config
	for _, c := range configs {
		if c.Device == "" || seen[c.Device] {
			continue
		}
		seen[c.Device] = true
		unique = append(unique, c)
	}
	return unique
}

// loadConfigFile reads the first config file that exists. A file holds
// either a list of devices or a single device.
func (d *detector) loadConfigFile() []Config {
	for _, path := range d.configPaths {
		data, err := os.ReadFile(path) // #nosec G304 -- fixed candidate paths
		if err != nil {
			continue
		}

		var configs []Config
		if err := yaml.Unmarshal(data, &configs); err == nil {
			return configs
		}
		var config Config
		if err := yaml.Unmarshal(data, &config); err == nil {
			return []Config{config}
		}
	}
	return nil
}

func deviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  string(st25r.TransportSPI),
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string, len(config.Metadata)+1),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if config.IRQLine > 0 {
		device.Metadata["irq_line"] = fmt.Sprintf("%d", config.IRQLine)
	}
	if device.Name == "" {
		device.Name = fmt.Sprintf("ST25R3916 on %s", filepath.Base(config.Device))
	}
	return device
}

// Detect tries every candidate port per opts.Mode.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, config := range d.gatherConfigs() {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := deviceInfo(config)
		if confirm.Device(ctx, d.open, &device, opts.Mode) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}
