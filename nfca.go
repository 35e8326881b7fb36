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

	"github.com/ZaparooProject/go-st25r/protocol"
)

// ISO14443-A commands
const (
	iso14443aSelectCL1  byte = 0x93
	iso14443aNVBFull    byte = 0x70
	iso14443aRATS       byte = 0xE0
	iso14443aRATSParam  byte = 0x80 // FSDI 256 bytes, CID 0
	iso14443aCascadeTag byte = 0x88

	sakCascade  byte = 0x04
	sakISO14443 byte = 0x20
	sakProtocol byte = 0x60
	sakNFCDEP   byte = 0x40
	sakMifare   byte = 0x08
	sakNoMifare byte = 0x02

	uidBitsPerLevel = 40
	maxCascadeLevel = 3
)

func (c *Chip) setISO14443AMode(ctx context.Context) error {
	if err := c.ClearBits(ctx, RegOperationControl, OpWakeUp); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegModeDefinition, ModeISO14443A, 0); err != nil {
		return err
	}
	if err := c.WriteRegisterCheck(ctx, RegTxDriver, TxDriverAM12); err != nil {
		return err
	}
	if err := c.WriteRegisterCheck(ctx, RegISO14443ASettings, 0); err != nil {
		return err
	}
	if err := c.WriteRegistersCheck(ctx, RegReceiverConfig1, 0x08, 0x2D, 0x00, 0x00); err != nil {
		return err
	}
	return c.WriteBankB(ctx, RegBCorrelatorConfig1, 0x51, 0x00)
}

// REQA configures ISO14443-A mode, sends REQA and returns the ATQA.
func (c *Chip) REQA(ctx context.Context) ([2]byte, error) {
	var atqa [2]byte
	if err := c.setISO14443AMode(ctx); err != nil {
		return atqa, fmt.Errorf("set ISO14443-A mode: %w", err)
	}
	if err := c.EnableTxRx(ctx); err != nil {
		return atqa, err
	}
	if err := c.Command(ctx, CmdClearFIFO); err != nil {
		return atqa, err
	}
	c.ClearInterrupts(Interrupts{Main: IntRxS | IntRxE})
	if err := c.Command(ctx, CmdTransmitREQA); err != nil {
		return atqa, err
	}
	if err := c.waitReceive(ctx, ShortResponseTimeout); err != nil {
		return atqa, err
	}
	n, _, err := c.ReadFIFO(ctx, atqa[:])
	if err != nil {
		return atqa, err
	}
	if n != len(atqa) {
		return atqa, fmt.Errorf("%w: ATQA is %d bytes", ErrUnexpectedResponse, n)
	}
	return atqa, nil
}

// waitReceive waits for the start and then the end of a reception.
func (c *Chip) waitReceive(ctx context.Context, timeout time.Duration) error {
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntRxS}, timeout); err != nil {
		return fmt.Errorf("receive start: %w", err)
	}
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntRxE}, ReceiveEndTimeout); err != nil {
		return fmt.Errorf("receive end: %w", err)
	}
	return nil
}

// anticollisionFrame sends the first bits of tx and returns how many bits
// the tags answered with, packed from bit 0 of rx.
func (c *Chip) anticollisionFrame(ctx context.Context, tx []byte, bits int, rx []byte) (int, error) {
	if err := c.Command(ctx, CmdClearFIFO); err != nil {
		return 0, err
	}
	if err := c.LoadFIFO(ctx, tx[:(bits+7)/8]); err != nil {
		return 0, err
	}
	if err := c.WriteRegistersCheck(ctx, RegTxBytes1, byte(bits>>8), byte(bits)); err != nil {
		return 0, err
	}
	c.ClearInterrupts(Interrupts{Main: IntTxE | IntRxS | IntRxE})
	if err := c.Command(ctx, CmdTransmitWithoutCRC); err != nil {
		return 0, err
	}
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntTxE}, TransmitTimeout); err != nil {
		return 0, fmt.Errorf("transmit end: %w", err)
	}
	if err := c.waitReceive(ctx, ShortResponseTimeout); err != nil {
		return 0, err
	}

	col, err := c.ReadRegister(ctx, RegCollisionDisplay)
	if err != nil {
		return 0, err
	}
	if col&CollisionParity != 0 {
		return 0, fmt.Errorf("%w: in parity bit (0x%02X)", ErrCollision, col)
	}
	pos := int(col >> 1)
	if pos < bits {
		return 0, fmt.Errorf("%w: after %d bits, sent %d", ErrCollision, pos, bits)
	}
	expected := pos - bits

	n, status, err := c.ReadFIFO(ctx, rx)
	if err != nil {
		return 0, err
	}
	got := FIFOStatus{Count: n, Flags: status.Flags}.Bits()
	if n == 0 {
		got = 0
	}
	if got != expected {
		return 0, fmt.Errorf("%w: FIFO holds %d bits, collision display says %d",
			ErrUnexpectedResponse, got, expected)
	}
	return got, nil
}

func bcc(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// uidFromCascade checks cascade tags and BCC bytes of the concatenated
// cascade level answers and returns the UID.
func uidFromCascade(levels int, raw []byte) ([]byte, error) {
	switch levels {
	case 1:
		if bcc(raw[0:4]) != raw[4] {
			return nil, fmt.Errorf("%w: level 1", ErrBCCMismatch)
		}
		return append([]byte(nil), raw[0:4]...), nil
	case 2:
		if raw[0] != iso14443aCascadeTag {
			return nil, fmt.Errorf("%w: level 1 starts with 0x%02X", ErrCascadeTag, raw[0])
		}
		if bcc(raw[0:4]) != raw[4] || bcc(raw[5:9]) != raw[9] {
			return nil, fmt.Errorf("%w: double size UID", ErrBCCMismatch)
		}
		uid := append([]byte(nil), raw[1:4]...)
		return append(uid, raw[5:9]...), nil
	case maxCascadeLevel:
		if raw[0] != iso14443aCascadeTag || raw[5] != iso14443aCascadeTag {
			return nil, fmt.Errorf("%w: triple size UID", ErrCascadeTag)
		}
		if bcc(raw[0:4]) != raw[4] || bcc(raw[5:9]) != raw[9] || bcc(raw[10:14]) != raw[14] {
			return nil, fmt.Errorf("%w: triple size UID", ErrBCCMismatch)
		}
		uid := append([]byte(nil), raw[1:4]...)
		uid = append(uid, raw[6:9]...)
		return append(uid, raw[10:14]...), nil
	default:
		return nil, fmt.Errorf("%w: cascade level %d", ErrUnexpectedResponse, levels)
	}
}

// SelectISO14443A runs the anticollision cascade after a REQA and selects
// the tag. Where several tags answer, the one with a 1 at the first
// colliding bit wins.
func (c *Chip) SelectISO14443A(ctx context.Context) (uid []byte, sak byte, err error) {
	if err := c.WriteRegisterCheck(ctx, RegISO14443ASettings, ISO14443AAnticollision); err != nil {
		return nil, 0, err
	}
	defer func() {
		if resetErr := c.WriteRegisterCheck(ctx, RegISO14443ASettings, 0); resetErr != nil && err == nil {
			err = resetErr
		}
	}()

	var raw [maxCascadeLevel * 5]byte
	var tx [7]byte
	var rx [5]byte
	var resp [8]byte

	for level := 1; level <= maxCascadeLevel; level++ {
		cl := raw[(level-1)*5 : level*5]
		cmd := iso14443aSelectCL1 + byte(2*(level-1))
		known := 0

		for round := 0; known < uidBitsPerLevel; round++ {
			if round >= uidBitsPerLevel {
				return nil, 0, fmt.Errorf("%w: level %d did not converge", ErrCollision, level)
			}
			tx[0] = cmd
			tx[1] = byte((2+known/8)<<4) | byte(known&7)
			copy(tx[2:], cl[:(known+7)/8])

			got, err := c.anticollisionFrame(ctx, tx[:], 16+known, rx[:])
			if err != nil {
				return nil, 0, err
			}
			for i := 0; i < got && known+i < uidBitsPerLevel; i++ {
				setBit(cl, known+i, rx[i/8]&(1<<(i&7)) != 0)
			}
			known += got
			if known < uidBitsPerLevel {
				Debugf("ISO14443-A collision at level %d bit %d", level, known)
				setBit(cl, known, true)
				known++
			}
		}

		if err := c.WriteRegisterCheck(ctx, RegISO14443ASettings, 0); err != nil {
			return nil, 0, err
		}
		tx[0] = cmd
		tx[1] = iso14443aNVBFull
		copy(tx[2:], cl)
		res, err := c.TransceiveFrame(ctx, tx[:], len(tx), resp[:], 0, ShortResponseTimeout)
		if err != nil {
			return nil, 0, fmt.Errorf("select level %d: %w", level, err)
		}
		if res.Count < 1 {
			return nil, 0, fmt.Errorf("%w: empty SAK", ErrUnexpectedResponse)
		}
		sak = resp[0]
		if sak&sakCascade == 0 {
			uid, err := uidFromCascade(level, raw[:])
			if err != nil {
				return nil, 0, err
			}
			return uid, sak, nil
		}
		if level == maxCascadeLevel {
			break
		}
		if err := c.WriteRegisterCheck(ctx, RegISO14443ASettings, ISO14443AAnticollision); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("%w: SAK announces a fourth cascade level", ErrUnexpectedResponse)
}

func setBit(b []byte, bit int, v bool) {
	mask := byte(1) << (bit & 7)
	if v {
		b[bit/8] |= mask
	} else {
		b[bit/8] &^= mask
	}
}

// RATS requests the answer to select and returns the ATS without its
// length byte.
func (c *Chip) RATS(ctx context.Context) ([]byte, error) {
	var buf [protocol.MaxATSLength + 2]byte
	res, err := c.TransceiveFrame(ctx, []byte{iso14443aRATS, iso14443aRATSParam}, 2, buf[:], 0, ShortResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("RATS: %w", err)
	}
	tl := int(buf[0])
	if res.Count == 0 || tl < 1 || res.Count != tl+2 {
		return nil, fmt.Errorf("%w: TL %d, received %d bytes", ErrATSLength, tl, res.Count)
	}
	return append([]byte(nil), buf[1:tl]...), nil
}

// classifySAK derives the tag type of a tag that did not complete RATS.
func classifySAK(sak byte) protocol.TagType {
	t := protocol.TagISO14443A
	switch sak & sakProtocol {
	case 0:
		t = protocol.TagISO14443AT2T
	case sakNFCDEP:
		t = protocol.TagISO14443ANFCDEP
	}
	// AN10833: MIFARE Classic Mini, 1K, 2K and 4K
	if sak&sakNoMifare == 0 && sak&sakMifare != 0 {
		t = protocol.TagMifareClassic
	}
	return t
}

// PollISO14443A detects and selects one ISO14443-A tag, activating the
// ISO14443-4 layer when the SAK announces it.
func (c *Chip) PollISO14443A(ctx context.Context) (protocol.TagInfo, error) {
	atqa, err := c.REQA(ctx)
	if err != nil {
		return nil, err
	}
	uid, sak, err := c.SelectISO14443A(ctx)
	if err != nil {
		return nil, err
	}

	if sak&sakISO14443 != 0 {
		ats, err := c.RATS(ctx)
		if err == nil {
			t := protocol.TagISO14443AT4T
			if sak&sakProtocol == sakProtocol {
				t = protocol.TagISO14443AT4TNFCDEP
			}
			return &protocol.ISO14443A4{TagType: t, ATQA: atqa, SAK: sak, UID: uid, ATS: ats}, nil
		}
		Debugf("ISO14443-A RATS failed, classifying by SAK 0x%02X: %v", sak, err)
	}
	return &protocol.ISO14443A{TagType: classifySAK(sak), ATQA: atqa, SAK: sak, UID: uid}, nil
}
