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
	"errors"
	"fmt"
	"time"
)

// TransceiveFlags control framing of a raw frame exchange.
type TransceiveFlags uint8

const (
	// FlagNoCRC sends without a CRC and does not expect one in the response.
	FlagNoCRC TransceiveFlags = 0x01
	// FlagNoParity disables parity on transmit and receive.
	FlagNoParity TransceiveFlags = 0x02
	// FlagRaw is FlagNoCRC|FlagNoParity.
	FlagRaw TransceiveFlags = FlagNoCRC | FlagNoParity
	// FlagBits counts tx and rx in bits instead of bytes.
	FlagBits TransceiveFlags = 0x04
	// FlagTxOnly transmits and then waits the rx timeout without receiving.
	FlagTxOnly TransceiveFlags = 0x08
	// FlagTimeout tolerates a receive timeout (result 0) instead of failing.
	FlagTimeout TransceiveFlags = 0x10
	// FlagError marks a failed exchange in a response.
	FlagError TransceiveFlags = 0x80
)

// Has reports whether all bits of f2 are set.
func (f TransceiveFlags) Has(f2 TransceiveFlags) bool {
	return f&f2 == f2
}

// TransceiveResult is the outcome of TransceiveFrame.
type TransceiveResult struct {
	// Count is the received size in bits with FlagBits, else in bytes.
	Count int
	// TimedOut is set when no response arrived and FlagTimeout tolerated it.
	TimedOut bool
}

// ByteLen returns the number of rx buffer bytes holding the response.
func (r TransceiveResult) ByteLen(flags TransceiveFlags) int {
	if flags.Has(FlagBits) {
		return (r.Count + 7) / 8
	}
	return r.Count
}

// TransceiveFrame transmits txCount bytes (or bits with FlagBits) of tx and
// receives the response into rx. A zero txCount skips transmission.
func (c *Chip) TransceiveFrame(
	ctx context.Context, tx []byte, txCount int, rx []byte, flags TransceiveFlags, rxTimeout time.Duration,
) (TransceiveResult, error) {
	txBits := txCount
	if !flags.Has(FlagBits) {
		txBits = txCount * 8
	}
	txBytes := (txBits + 7) / 8
	if txCount < 0 || txBytes > len(tx) || txBytes > FIFOSize {
		return TransceiveResult{}, fmt.Errorf("%w: tx count %d for %d bytes", ErrInvalidParameter, txCount, len(tx))
	}

	if err := c.Command(ctx, CmdClearFIFO); err != nil {
		return TransceiveResult{}, err
	}

	if txCount > 0 {
		if err := c.transmit(ctx, tx[:txBytes], txBits, flags); err != nil {
			return TransceiveResult{}, err
		}
	} else {
		c.ClearInterrupts(Interrupts{Main: IntRxS | IntRxE})
	}

	if flags.Has(FlagTxOnly) {
		if err := sleep(ctx, c.clock, nil, rxTimeout); err != nil {
			return TransceiveResult{}, err
		}
		return TransceiveResult{}, nil
	}

	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntRxS}, rxTimeout); err != nil {
		if errors.Is(err, ErrInterruptTimeout) {
			if flags.Has(FlagTimeout) {
				return TransceiveResult{TimedOut: true}, nil
			}
			return TransceiveResult{}, fmt.Errorf("%w after %v", ErrRxTimeout, rxTimeout)
		}
		return TransceiveResult{}, err
	}
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntRxE}, ReceiveEndTimeout); err != nil {
		return TransceiveResult{}, fmt.Errorf("receive end: %w", err)
	}

	n, status, err := c.ReadFIFO(ctx, rx)
	if err != nil {
		return TransceiveResult{}, err
	}
	if !flags.Has(FlagBits) {
		return TransceiveResult{Count: n}, nil
	}
	return TransceiveResult{Count: FIFOStatus{Count: n, Flags: status.Flags}.Bits()}, nil
}

func (c *Chip) transmit(ctx context.Context, data []byte, bits int, flags TransceiveFlags) error {
	if err := c.LoadFIFO(ctx, data); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegTxBytes1, byte(bits>>8), byte(bits)); err != nil {
		return fmt.Errorf("tx bit count: %w", err)
	}

	var err error
	if flags.Has(FlagNoCRC) {
		err = c.SetBits(ctx, RegAuxDefinition, AuxNoCRCRx)
	} else {
		err = c.ClearBits(ctx, RegAuxDefinition, AuxNoCRCRx)
	}
	if err != nil {
		return err
	}
	var parity byte
	if flags.Has(FlagNoParity) {
		parity = ISO14443ANoTxParity | ISO14443ANoRxParity
	}
	if err := c.WriteRegisters(ctx, RegISO14443ASettings, parity); err != nil {
		return err
	}

	c.ClearInterrupts(Interrupts{Main: IntTxE | IntRxS | IntRxE})
	cmd := CmdTransmitWithCRC
	if flags.Has(FlagNoCRC) {
		cmd = CmdTransmitWithoutCRC
	}
	if err := c.Command(ctx, cmd); err != nil {
		return err
	}
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntTxE}, TransmitTimeout); err != nil {
		return fmt.Errorf("transmit end: %w", err)
	}
	return nil
}
