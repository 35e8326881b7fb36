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

package client

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/ZaparooProject/go-st25r/internal/crc"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// ST25TB commands
const (
	st25tbReadBlock  = 0x08
	st25tbWriteBlock = 0x09

	// ST25TBSystemBlock is the OTP/lock system area.
	ST25TBSystemBlock = 0xFF
)

// st25tbBlockResponse is four data bytes and the CRC_B.
const st25tbBlockResponse = 6

// ReadBlock reads one 32-bit block of the selected ST25TB tag. Blocks are
// sent least significant byte first.
func (c *Client) ReadBlock(ctx context.Context, block byte) (uint32, error) {
	resp, err := c.Transceive(ctx, []byte{st25tbReadBlock, block}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("read block %d: %w", block, err)
	}
	if resp.RxCount != st25tbBlockResponse || len(resp.Data) < st25tbBlockResponse {
		return 0, fmt.Errorf("read block %d: %w: %d bytes", block, ErrShortResponse, resp.RxCount)
	}
	if !crc.CheckB(resp.Data[:st25tbBlockResponse]) {
		return 0, fmt.Errorf("read block %d: %w", block, ErrCRC)
	}
	return binary.LittleEndian.Uint32(resp.Data[:4]), nil
}

// ReadSystemBlock reads block 255.
func (c *Client) ReadSystemBlock(ctx context.Context) (uint32, error) {
	return c.ReadBlock(ctx, ST25TBSystemBlock)
}

// WriteBlock writes one block. The tag does not answer a write; read the
// block back to verify it.
func (c *Client) WriteBlock(ctx context.Context, block byte, value uint32) error {
	frame := binary.LittleEndian.AppendUint32([]byte{st25tbWriteBlock, block}, value)
	if _, err := c.Transceive(ctx, frame, 0, protocol.FlagTxOnly); err != nil {
		return fmt.Errorf("write block %d: %w", block, err)
	}
	return nil
}

// ST25TBInfo is the decoded content of an ST25TB UID.
type ST25TBInfo struct {
	UID          string // MSB first, colon separated
	Manufacturer string
	Model        string
	Serial       string
	ManufCode    byte
	ModelCode    byte
	ValidPrefix  bool // UID starts with 0xD0
}

// st25tbModel is a product code in the third UID byte. Older parts use the
// top six bits, ST25TB parts the whole byte.
type st25tbModel struct {
	name string
	bits uint8
	code byte
}

var st25tbModels = map[byte][]st25tbModel{
	0x02: {
		{bits: 8, code: 0x1B, name: "ST25TB512-AC"},
		{bits: 8, code: 0x1F, name: "ST25TB04K"},
		{bits: 8, code: 0x33, name: "ST25TB512-AT"},
		{bits: 8, code: 0x3F, name: "ST25TB02K"},
		{bits: 6, code: 0b000011, name: "SRIX4K"},
		{bits: 6, code: 0b000110, name: "SRI512"},
		{bits: 6, code: 0b001100, name: "SRT512"},
		{bits: 6, code: 0b000111, name: "SRI4K"},
		{bits: 6, code: 0b001111, name: "SRI2K"},
	},
}

var manufacturers = map[byte]string{
	0x01: "Motorola",
	0x02: "ST Microelectronics",
	0x03: "Hitachi",
	0x04: "NXP Semiconductors",
	0x05: "Infineon Technologies",
	0x06: "Cylinc",
	0x07: "Texas Instruments Tag-it",
	0x08: "Fujitsu Limited",
	0x09: "Matsushita Electric Industrial",
	0x0A: "NEC",
	0x0B: "Oki Electric",
	0x0C: "Toshiba",
	0x0D: "Mitsubishi Electric",
	0x0E: "Samsung Electronics",
	0x0F: "Hyundai Electronics",
	0x10: "LG Semiconductors",
	0x16: "EM Microelectronic-Marin",
	0x1F: "Melexis",
	0x2B: "Maxim",
	0x33: "AMIC",
	0x44: "GenTag, Inc (USA)",
	0x45: "Invengo Information Technology Co.Ltd",
}

// Manufacturer returns the name of an IC manufacturer code.
func Manufacturer(code byte) string {
	if name, ok := manufacturers[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown (%d)", code)
}

// DescribeST25TBUID decodes a UID as reported by the reader, least
// significant byte first. Full-byte ST25TB codes are matched before the
// six-bit codes of older parts, which they would otherwise alias.
func DescribeST25TBUID(uid [8]byte) ST25TBInfo {
	be := uid
	slices.Reverse(be[:])

	info := ST25TBInfo{
		UID:          colonHex(be[:]),
		Manufacturer: Manufacturer(be[1]),
		ManufCode:    be[1],
		ModelCode:    be[2],
		ValidPrefix:  be[0] == 0xD0,
	}

	serialStart := 2
	models, known := st25tbModels[be[1]]
	if known {
		info.Model = fmt.Sprintf("unknown (%d)", be[2])
	}
	for _, m := range models {
		code := be[2] >> (8 - m.bits)
		if code != m.code {
			continue
		}
		info.Model = m.name
		if m.bits < 8 {
			be[2] &^= code << (8 - m.bits)
		} else {
			serialStart = 3
		}
		break
	}
	info.Serial = colonHex(be[serialStart:])
	return info
}

func colonHex(b []byte) string {
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = hex.EncodeToString(b[i : i+1])
	}
	return strings.Join(parts, ":")
}
