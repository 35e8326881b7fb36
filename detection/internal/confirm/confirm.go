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

// Package confirm checks for a reader behind an open bus transport.
package confirm

import (
	"context"
	"fmt"
	"time"

	st25r "github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/detection"
)

// Timeout bounds a single check.
const Timeout = 2 * time.Second

const (
	identityTypeMask = 0b1111_1000
	identityRevMask  = 0b0000_0111
)

// Opener opens a transport for a detection path.
type Opener func(path string) (st25r.Transport, error)

// Device opens path and updates device according to mode. It returns false
// when nothing usable answered; device is left untouched in Passive mode.
func Device(ctx context.Context, open Opener, device *detection.DeviceInfo, mode detection.Mode) bool {
	if mode == detection.Passive {
		return true
	}

	transport, err := open(device.Path)
	if err != nil {
		return false
	}
	defer func() { _ = transport.Close() }()

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	chip := st25r.NewChip(transport)
	if mode == detection.Full {
		if err := chip.Startup(ctx); err != nil {
			return false
		}
	}

	id, err := chip.Identity(ctx)
	if err != nil || id == 0x00 || id == 0xFF {
		// A floating bus reads all zeros or all ones.
		return false
	}
	if device.Metadata == nil {
		device.Metadata = make(map[string]string)
	}
	device.Metadata["identity"] = fmt.Sprintf("0x%02X", id)
	device.Metadata["revision"] = fmt.Sprintf("%d", id&identityRevMask)

	if id&identityTypeMask == st25r.ICIdentityST25R3916&identityTypeMask {
		device.Confidence = detection.High
	} else {
		device.Confidence = detection.Medium
	}
	return true
}
