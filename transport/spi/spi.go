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

// Package spi provides the SPI transport for ST25R3916/7 readers.
package spi

import (
	"context"
	"fmt"
	"sync/atomic"

	st25r "github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/internal/frame"
	"github.com/ZaparooProject/go-st25r/internal/syncutil"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Default SPI settings. The chip samples on the falling edge and
	// supports up to 10 MHz.
	DefaultFreq = 5 * physic.MegaHertz
	mode        = spi.Mode1 // CPOL=0, CPHA=1, MSB first

	traceEntries = 4
)

// Transport implements st25r.Transport over SPI. The chip keeps one access
// per chip select, so each Transfer is a single full-duplex exchange of the
// written bytes followed by the read bytes.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	portName string
	mu       syncutil.Mutex
	closed   atomic.Bool
}

// New opens the named port at DefaultFreq.
func New(portName string) (*Transport, error) {
	return NewWithFreq(portName, DefaultFreq)
}

// NewWithFreq opens the named port at the given clock frequency.
func NewWithFreq(portName string, freq physic.Frequency) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	t, err := NewWithPort(port, portName, freq)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPort connects to an already open port.
func NewWithPort(port spi.PortCloser, portName string, freq physic.Frequency) (*Transport, error) {
	conn, err := port.Connect(freq, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}
	return &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
	}, nil
}

// Factory opens a transport at DefaultFreq. It has the
// st25r.TransportFactory signature.
func Factory(path string) (st25r.Transport, error) {
	return New(path)
}

// Transfer writes w and reads len(r) bytes with chip select held.
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

	trace := st25r.NewTraceBuffer("SPI", t.portName, traceEntries)
	trace.RecordTX(w, fmt.Sprintf("mode 0x%02X", w[0]))

	n := len(w) + len(r)
	tx := frame.GetBuffer(n)
	defer frame.PutBuffer(tx)
	rx := frame.GetBuffer(n)
	defer frame.PutBuffer(rx)

	copy(tx, w)

	if err := t.conn.Tx(tx, rx); err != nil {
		return trace.WrapError(st25r.ClassifyTransferError(t.portName, err, len(r) > 0))
	}

	// Bytes clocked in while w was shifted out carry no data.
	copy(r, rx[len(w):])
	if len(r) > 0 {
		trace.RecordRX(r, "read")
	}
	return nil
}


// Close releases the port. It is safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port %s: %w", t.portName, err)
	}
	return nil
}

// IsConnected returns true until Close is called
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Type returns the transport type
func (*Transport) Type() st25r.TransportType {
	return st25r.TransportSPI
}
