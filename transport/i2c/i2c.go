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

// Package i2c provides the I2C transport for ST25R3916/7 readers.
package i2c

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	st25r "github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/internal/syncutil"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddress is the 7-bit I2C address of the ST25R3916/7.
	DefaultAddress = 0x50

	// Max clock frequency in fast mode (400 kHz). The chip also supports
	// 3.4 MHz high-speed mode, which few host adapters do.
	maxClockFreq = 400 * physic.KiloHertz

	traceEntries = 4
)

// Transport implements st25r.Transport over an I2C bus. Each Transfer is a
// single combined write/read message with a repeated start, which the chip
// requires for register and FIFO reads.
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // Held so Close() can release the OS file descriptor
	busName string
	mu      syncutil.Mutex
	closed  atomic.Bool
}

// parseI2CPath splits a detection path into bus and address.
// Accepts "/dev/i2c-1:0x50" (detection format) or "/dev/i2c-1" (bare bus).
func parseI2CPath(path string) (string, uint16, error) {
	bus, addr, found := strings.Cut(path, ":")
	if !found || addr == "" {
		return bus, DefaultAddress, nil
	}
	v, err := strconv.ParseUint(addr, 0, 7)
	if err != nil {
		return "", 0, fmt.Errorf("invalid I2C address %q: %w", addr, err)
	}
	return bus, uint16(v), nil
}

// New opens the named bus and returns a transport for the chip on it.
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	name, addr, err := parseI2CPath(busName)
	if err != nil {
		return nil, err
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	_ = bus.SetSpeed(maxClockFreq) // Ignore error, continue with default speed

	return NewWithBus(bus, name, addr), nil
}

// NewWithBus wraps an already open bus.
func NewWithBus(bus i2c.BusCloser, busName string, addr uint16) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		bus:     bus,
		busName: busName,
	}
}

// Factory opens a transport for a path of the form accepted by New. It has
// the st25r.TransportFactory signature.
func Factory(path string) (st25r.Transport, error) {
	return New(path)
}

// Transfer writes w and reads len(r) bytes in one bus transaction.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) Transfer(ctx context.Context, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed.Load() {
		return st25r.ErrTransportClosed
	}
	if len(w) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	trace := st25r.NewTraceBuffer("I2C", t.busName, traceEntries)
	trace.RecordTX(w, fmt.Sprintf("mode 0x%02X", w[0]))

	if err := t.dev.Tx(w, r); err != nil {
		return trace.WrapError(st25r.ClassifyTransferError(t.busName, err, len(r) > 0))
	}
	if len(r) > 0 {
		trace.RecordRX(r, "read")
	}
	return nil
}


// Close releases the bus. It is safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.bus.Close(); err != nil {
		return fmt.Errorf("failed to close I2C bus %s: %w", t.busName, err)
	}
	return nil
}

// IsConnected returns true until Close is called
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Type returns the transport type
func (*Transport) Type() st25r.TransportType {
	return st25r.TransportI2C
}

// String returns the bus name and address
func (t *Transport) String() string {
	return fmt.Sprintf("%s:0x%02X", t.busName, t.dev.Addr)
}
