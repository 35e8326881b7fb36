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

	"github.com/ZaparooProject/go-st25r/protocol"
)

// ST25TB commands
const (
	ST25TBInitiate    byte = 0x06
	ST25TBPcall16     byte = 0x06
	ST25TBReadBlock   byte = 0x08
	ST25TBWriteBlock  byte = 0x09
	ST25TBGetUID      byte = 0x0B
	ST25TBReset       byte = 0x0C
	ST25TBSelect      byte = 0x0E
	ST25TBCompletion  byte = 0x0F
	st25tbInitiateArg byte = 0x00

	// ST25TBCollision is the chip id returned when several tags answer INITIATE.
	ST25TBCollision byte = 0xFF

	st25tbSelectLength = 3  // chip id, CRC
	st25tbUIDLength    = 10 // UID, CRC
)

// PollST25TB initiates, selects and reads the UID of one ST25TB tag.
func (c *Chip) PollST25TB(ctx context.Context) (*protocol.ST25TB, error) {
	if err := c.startISO14443B(ctx); err != nil {
		return nil, err
	}

	var buf [st25tbUIDLength]byte
	res, err := c.TransceiveFrame(ctx, []byte{ST25TBInitiate, st25tbInitiateArg}, 2, buf[:], 0, ShortResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("INITIATE: %w", err)
	}
	if res.Count < 1 {
		return nil, fmt.Errorf("%w: empty INITIATE answer", ErrUnexpectedResponse)
	}
	chipID := buf[0]
	if chipID == ST25TBCollision {
		return nil, fmt.Errorf("%w: several ST25TB tags answered", ErrCollision)
	}

	res, err = c.TransceiveFrame(ctx, []byte{ST25TBSelect, chipID}, 2, buf[:], 0, ShortResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("SELECT: %w", err)
	}
	if res.Count != st25tbSelectLength || buf[0] != chipID {
		return nil, fmt.Errorf("%w: SELECT answer of %d bytes for chip 0x%02X is 0x%02X",
			ErrUnexpectedResponse, res.Count, chipID, buf[0])
	}

	res, err = c.TransceiveFrame(ctx, []byte{ST25TBGetUID}, 1, buf[:], 0, ShortResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("GET_UID: %w", err)
	}
	if res.Count != st25tbUIDLength {
		return nil, fmt.Errorf("%w: GET_UID answer of %d bytes", ErrUnexpectedResponse, res.Count)
	}

	info := &protocol.ST25TB{ChipID: chipID}
	copy(info.UID[:], buf[:protocol.ST25TBUIDLength])
	return info, nil
}
