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

package st25r

import (
	"context"
	"time"
)

// Clock is the time source used for interrupt polling deadlines.
// Tests inject a fake so chip sequencing runs without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// After waits for the duration to elapse.
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// InterruptLine is an optional IRQ input from the chip. Events receives a
// value whenever the line asserts; the chip driver uses it to cut short the
// delay between interrupt register polls.
type InterruptLine interface {
	Events() <-chan struct{}
	Close() error
}

// sleep waits for d, an IRQ event, or ctx cancellation, whichever comes first.
func sleep(ctx context.Context, clock Clock, irq InterruptLine, d time.Duration) error {
	var events <-chan struct{}
	if irq != nil {
		events = irq.Events()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	case <-events:
		return nil
	}
}
