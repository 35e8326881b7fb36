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

// Package irq delivers the ST25R3916 interrupt pin to the chip driver.
//
// The chip drives IRQ high while any enabled interrupt is pending. A Line
// turns rising edges into wakeups on Events, so interrupt waits end as soon
// as the chip has something to report instead of at the next poll.
package irq

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrUnsupported is returned by Open on platforms without GPIO character
// devices.
var ErrUnsupported = errors.New("irq: GPIO lines not supported on this platform")

// Config selects the GPIO line wired to the chip IRQ pin.
type Config struct {
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

// Enabled reports whether a line is configured. Line 0 means none.
func (c Config) Enabled() bool {
	return c.Line > 0
}

func (c Config) String() string {
	return fmt.Sprintf("%s:%d", c.chip(), c.Line)
}

func (c Config) chip() string {
	if c.Chip == "" {
		return "gpiochip0"
	}
	return c.Chip
}

// Line implements st25r.InterruptLine.
type Line struct {
	events chan struct{}
	closer func() error
	edges  atomic.Uint64
}

func newLine() *Line {
	return &Line{events: make(chan struct{}, 1)}
}

// Events receives a value after the line asserts. Edges that arrive while a
// wakeup is pending coalesce into it.
func (l *Line) Events() <-chan struct{} {
	return l.events
}

// Edges returns the number of rising edges seen since Open.
func (l *Line) Edges() uint64 {
	return l.edges.Load()
}

func (l *Line) assert() {
	l.edges.Add(1)
	select {
	case l.events <- struct{}{}:
	default:
	}
}

// Close releases the GPIO line.
func (l *Line) Close() error {
	if l.closer == nil {
		return nil
	}
	closer := l.closer
	l.closer = nil
	if err := closer(); err != nil {
		return fmt.Errorf("irq: close: %w", err)
	}
	return nil
}
