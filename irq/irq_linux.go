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

//go:build linux

package irq

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Open requests the configured line as a rising edge input.
func Open(cfg Config) (*Line, error) {
	l := newLine()
	line, err := gpiocdev.RequestLine(cfg.chip(), cfg.Line,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer("st25r-irq"),
		gpiocdev.WithEventHandler(l.handleEvent))
	if err != nil {
		return nil, fmt.Errorf("irq: request %s: %w", cfg, err)
	}
	l.closer = line.Close
	return l, nil
}

func (l *Line) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type == gpiocdev.LineEventRisingEdge {
		l.assert()
	}
}
