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
	"fmt"
	"time"
)

// Interrupts is a set of interrupt statuses or masks, one byte per
// interrupt register (0x1A to 0x1D).
type Interrupts struct {
	Main    byte
	Timer   byte
	Error   byte
	Passive byte
}

// Main interrupt register bits.
const (
	IntOsc byte = 0b1000_0000
	IntWL  byte = 0b0100_0000
	IntRxS byte = 0b0010_0000
	IntRxE byte = 0b0001_0000
	IntTxE byte = 0b0000_1000
	IntCol byte = 0b0000_0100
)

// Timer and NFC interrupt register bits.
const (
	IntDCT byte = 0b1000_0000
	IntNRE byte = 0b0100_0000
	IntGPE byte = 0b0010_0000
	IntEON byte = 0b0001_0000
	IntEOF byte = 0b0000_1000
	IntCAC byte = 0b0000_0100
	IntCAT byte = 0b0000_0010
)

// Error and wake-up interrupt register bits.
const (
	IntCRC  byte = 0b1000_0000
	IntPar  byte = 0b0100_0000
	IntErr2 byte = 0b0010_0000
	IntErr1 byte = 0b0001_0000
)

func (i Interrupts) bytes() [interruptRegisterCount]byte {
	return [interruptRegisterCount]byte{i.Main, i.Timer, i.Error, i.Passive}
}

func interruptsFrom(b [interruptRegisterCount]byte) Interrupts {
	return Interrupts{Main: b[0], Timer: b[1], Error: b[2], Passive: b[3]}
}

// And returns the bits set in both.
func (i Interrupts) And(mask Interrupts) Interrupts {
	return Interrupts{
		Main:    i.Main & mask.Main,
		Timer:   i.Timer & mask.Timer,
		Error:   i.Error & mask.Error,
		Passive: i.Passive & mask.Passive,
	}
}

// IsZero reports whether no bit is set.
func (i Interrupts) IsZero() bool {
	return i == Interrupts{}
}

// ClearInterrupts forgets cached interrupt bits in mask, so that a following
// wait only returns bits raised after this call.
func (c *Chip) ClearInterrupts(mask Interrupts) {
	c.ints = Interrupts{
		Main:    c.ints.Main &^ mask.Main,
		Timer:   c.ints.Timer &^ mask.Timer,
		Error:   c.ints.Error &^ mask.Error,
		Passive: c.ints.Passive &^ mask.Passive,
	}
}

// PendingInterrupts returns the cached interrupt bits.
func (c *Chip) PendingInterrupts() Interrupts {
	return c.ints
}

// refreshInterrupts reads the interrupt registers spanned by mask. Reading
// clears them on the chip, so the values are merged into the cache instead
// of replacing it.
func (c *Chip) refreshInterrupts(ctx context.Context, mask Interrupts) error {
	m := mask.bytes()
	start, end := -1, -1
	for i, b := range m {
		if b == 0 {
			continue
		}
		if start < 0 {
			start = i
		}
		end = i
	}
	if start < 0 {
		return fmt.Errorf("%w: empty interrupt mask", ErrInvalidParameter)
	}

	r := c.scratch[:end-start+1]
	if err := c.transport.Transfer(ctx, []byte{ModeReadRegister | (RegMainInterrupt + byte(start))}, r); err != nil {
		return fmt.Errorf("read interrupts: %w", err)
	}
	cached := c.ints.bytes()
	for i, b := range r {
		cached[start+i] |= b
	}
	c.ints = interruptsFrom(cached)
	return nil
}

// WaitForInterrupt polls the interrupt registers until any bit of mask is
// raised or timeout elapses. It returns the raised bits of mask. Transient
// read failures are retried with backoff until the deadline.
func (c *Chip) WaitForInterrupt(ctx context.Context, mask Interrupts, timeout time.Duration) (Interrupts, error) {
	if mask.IsZero() {
		return Interrupts{}, fmt.Errorf("%w: empty interrupt mask", ErrInvalidParameter)
	}

	interval := time.Millisecond
	if timeout < 2*time.Millisecond {
		interval = timeout / 2
	}
	deadline := c.clock.Now().Add(timeout)
	backoff := TransferInitialBackoff

	for {
		if hit := c.ints.And(mask); !hit.IsZero() {
			return hit, nil
		}
		if err := sleep(ctx, c.clock, c.irq, interval); err != nil {
			return Interrupts{}, err
		}
		if err := c.refreshInterrupts(ctx, mask); err != nil {
			if !IsRetryable(err) || !c.clock.Now().Before(deadline) {
				return Interrupts{}, err
			}
			if err := sleep(ctx, c.clock, nil, backoff); err != nil {
				return Interrupts{}, err
			}
			backoff = min(backoff*2, TransferMaxBackoff)
			continue
		}
		backoff = TransferInitialBackoff
		if !c.clock.Now().Before(deadline) {
			if hit := c.ints.And(mask); !hit.IsZero() {
				return hit, nil
			}
			return Interrupts{}, fmt.Errorf("%w after %v (mask %+v)", ErrInterruptTimeout, timeout, mask)
		}
	}
}
