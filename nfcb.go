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

// ISO14443-B commands
const (
	iso14443bREQB        byte = 0x05
	iso14443bAFIAll      byte = 0x00
	iso14443bParamN1     byte = 0x00
	iso14443bATQB        byte = 0x50
	iso14443bATTRIB      byte = 0x1D
	iso14443bAttribParam byte = 0x00
	iso14443bAttribFSDI  byte = 0x08 // max frame 256 bytes, 106 kbps both ways
	iso14443bAttribLayer byte = 0x01 // ISO14443-4 compliant

	atqbLength   = 14 // header, 11 info bytes, CRC
	attribLength = 3  // MBLI/CID byte, CRC
)

func (c *Chip) setISO14443BMode(ctx context.Context) error {
	if err := c.ClearBits(ctx, RegOperationControl, OpWakeUp); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegModeDefinition, ModeISO14443B|ModeTxAM, 0); err != nil {
		return err
	}
	if err := c.WriteRegisterCheck(ctx, RegTxDriver, TxDriverAM12); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegISO14443BSettings1, 0, 0); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegReceiverConfig1, 0x04, 0x3D, 0x00, 0x00); err != nil {
		return err
	}
	return c.WriteBankB(ctx, RegBCorrelatorConfig1, 0x1B, 0x00)
}

func (c *Chip) startISO14443B(ctx context.Context) error {
	if err := c.setISO14443BMode(ctx); err != nil {
		return fmt.Errorf("set ISO14443-B mode: %w", err)
	}
	return c.EnableTxRx(ctx)
}

// PollISO14443B sends REQB and activates the answering tag with ATTRIB
// using the given cid.
func (c *Chip) PollISO14443B(ctx context.Context, cid byte) (*protocol.ISO14443B, error) {
	if err := c.startISO14443B(ctx); err != nil {
		return nil, err
	}

	var buf [atqbLength]byte
	res, err := c.TransceiveFrame(ctx, []byte{iso14443bREQB, iso14443bAFIAll, iso14443bParamN1}, 3,
		buf[:], 0, REQBTimeout)
	if err != nil {
		return nil, fmt.Errorf("REQB: %w", err)
	}
	if res.Count != atqbLength || buf[0] != iso14443bATQB {
		return nil, fmt.Errorf("%w: ATQB of %d bytes starting 0x%02X", ErrUnexpectedResponse, res.Count, buf[0])
	}
	info := &protocol.ISO14443B{CID: cid}
	copy(info.PUPI[:], buf[1:5])
	copy(info.AppData[:], buf[5:9])
	copy(info.ProtocolInfo[:], buf[9:12])

	attrib := []byte{
		iso14443bATTRIB,
		info.PUPI[0], info.PUPI[1], info.PUPI[2], info.PUPI[3],
		iso14443bAttribParam, iso14443bAttribFSDI, iso14443bAttribLayer, cid,
	}
	res, err = c.TransceiveFrame(ctx, attrib, len(attrib), buf[:], 0, ShortResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("ATTRIB: %w", err)
	}
	if res.Count != attribLength || buf[0] != 0 {
		return nil, fmt.Errorf("%w: ATTRIB answer of %d bytes starting 0x%02X", ErrUnexpectedResponse, res.Count, buf[0])
	}
	return info, nil
}
