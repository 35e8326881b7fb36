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

package bridge

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the serial line speed when none is configured.
	DefaultBaudRate = 115200

	// serialPollTimeout bounds each blocking read so ctx is honoured.
	serialPollTimeout = 100 * time.Millisecond
)

// serialPort is the part of serial.Port a SerialConn uses.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialConn is a byte stream over a serial line. Both the bridge and the
// remote client use it.
type SerialConn struct {
	port serialPort
	name string
}

// OpenSerial opens a serial line at 8N1 and the given baud rate. A zero
// baud rate means DefaultBaudRate.
func OpenSerial(name string, baud int) (*SerialConn, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	conn, err := NewSerialConn(port, name)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return conn, nil
}

// NewSerialConn wraps an open port.
func NewSerialConn(port serialPort, name string) (*SerialConn, error) {
	if err := port.SetReadTimeout(serialPollTimeout); err != nil {
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}
	return &SerialConn{port: port, name: name}, nil
}

// ReadContext blocks until some bytes arrive or ctx is done.
func (c *SerialConn) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := c.port.Read(p)
		if err != nil {
			return n, fmt.Errorf("serial %s read: %w", c.name, err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

// Read implements io.Reader.
func (c *SerialConn) Read(p []byte) (int, error) {
	return c.ReadContext(context.Background(), p)
}

// Write implements io.Writer.
func (c *SerialConn) Write(p []byte) (int, error) {
	n, err := c.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial %s write: %w", c.name, err)
	}
	return n, nil
}

// Close closes the port.
func (c *SerialConn) Close() error {
	if err := c.port.Close(); err != nil {
		return fmt.Errorf("serial %s close: %w", c.name, err)
	}
	return nil
}

func (c *SerialConn) String() string {
	return c.name
}
