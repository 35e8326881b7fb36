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
	"strings"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/detection"
	"github.com/ZaparooProject/go-st25r/internal/lockfile"
	"github.com/ZaparooProject/go-st25r/transport/i2c"
	"github.com/ZaparooProject/go-st25r/transport/spi"
)

// lockingFactory creates bus transports and holds the lock file of the
// last bus it opened, so two daemons never drive the same chip.
type lockingFactory struct {
	lock    *lockfile.Lock
	path    string
	lockDir string
}

// transportFor opens a transport for a device path. Paths naming a
// spidev are SPI, everything else is I2C ("/dev/i2c-1" or
// "/dev/i2c-1:0x50").
func (f *lockingFactory) transportFor(path string) (st25r.Transport, error) {
	if path == "" {
		return nil, errors.New("empty device path")
	}
	lock, err := lockfile.Acquire(lockfile.PathFor(f.lockDir, path))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	var transport st25r.Transport
	if strings.Contains(strings.ToLower(path), "spi") {
		transport, err = spi.Factory(path)
	} else {
		transport, err = i2c.Factory(path)
	}
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	f.lock = lock
	f.path = path
	return transport, nil
}

// transportForDevice opens a transport for an auto-detected device.
func (f *lockingFactory) transportForDevice(device detection.DeviceInfo) (st25r.Transport, error) {
	switch strings.ToLower(device.Transport) {
	case "i2c", "spi":
		st25r.Debugf("using %s", device)
		return f.transportFor(device.Path)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", device.Transport)
	}
}

// Release drops the bus lock, if held.
func (f *lockingFactory) Release() error {
	if f.lock == nil {
		return nil
	}
	err := f.lock.Release()
	f.lock = nil
	return err
}
