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
)

// SENSF_REQ for any system code, no request code, one time slot.
var sensfReq = []byte{0x00, 0xFF, 0xFF, 0x00}

func (c *Chip) setNFCFMode(ctx context.Context) error {
	if err := c.ClearBits(ctx, RegOperationControl, OpWakeUp); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegModeDefinition, ModeFeliCa, 0); err != nil {
		return err
	}
	if err := c.WriteRegisterCheck(ctx, RegTxDriver, TxDriverAM12); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegISO14443BSettings1, 0, 0); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegReceiverConfig1, 0x13, 0x3D, 0x00, 0x00); err != nil {
		return err
	}
	return c.WriteBankB(ctx, RegBCorrelatorConfig1, 0x54, 0x00)
}

// PollNFCF configures NFC-F mode and sends SENSF_REQ. Decoding SENSF_RES is
// not implemented, so it always returns ErrUnsupported once the request is out.
func (c *Chip) PollNFCF(ctx context.Context) error {
	if err := c.setNFCFMode(ctx); err != nil {
		return fmt.Errorf("set NFC-F mode: %w", err)
	}
	if err := c.EnableTxRx(ctx); err != nil {
		return err
	}
	var buf [20]byte
	res, err := c.TransceiveFrame(ctx, sensfReq, len(sensfReq), buf[:], FlagTimeout, ShortResponseTimeout)
	if err != nil {
		return fmt.Errorf("SENSF_REQ: %w", err)
	}
	Debugf("NFC-F SENSF_REQ answered with %d bytes", res.Count)
	return fmt.Errorf("NFC-F: %w", ErrUnsupported)
}
