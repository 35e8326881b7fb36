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

// Package i2c detects readers on Linux I2C buses.
package i2c

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	st25r "github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/detection"
	"github.com/ZaparooProject/go-st25r/detection/internal/confirm"
	i2ctransport "github.com/ZaparooProject/go-st25r/transport/i2c"
)

const busGlob = "/dev/i2c-*"

// detector implements the Detector interface for I2C devices
type detector struct {
	listBuses func() ([]string, error)
	open      confirm.Opener
	address   uint16
}

// New creates a new I2C detector looking for the chip at its default address
func New() detection.Detector {
	return &detector{
		listBuses: func() ([]string, error) { return filepath.Glob(busGlob) },
		open:      i2ctransport.Factory,
		address:   i2ctransport.DefaultAddress,
	}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(st25r.TransportI2C)
}

// Detect lists I2C buses and, unless opts.Mode is Passive, reads the IC
// identity register at the chip address on each.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}

	buses, err := d.listBuses()
	if err != nil {
		return nil, fmt.Errorf("list I2C buses: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, bus := range buses {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}

		device := detection.DeviceInfo{
			Transport:  d.Transport(),
			Path:       fmt.Sprintf("%s:0x%02X", bus, d.address),
			Name:       fmt.Sprintf("ST25R3916 on %s", filepath.Base(bus)),
			Confidence: detection.Low,
			Metadata:   map[string]string{"bus": bus},
		}
		if detection.IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if confirm.Device(ctx, d.open, &device, opts.Mode) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}
