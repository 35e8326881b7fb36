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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-st25r/internal/crc"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// Type 2 tag commands
const (
	t2tRead  = 0x30
	t2tWrite = 0xA2
	t2tACK   = 0x0A

	// T2TPageSize is the size of one Type 2 tag page.
	T2TPageSize = 4
	// T2TReadPages is the number of pages one READ returns.
	T2TReadPages = 4
)

// ErrNAK is returned when a tag answers a write with a NAK.
var ErrNAK = errors.New("tag NAK")

// MifareProduct names a MIFARE Classic card from its SAK.
func MifareProduct(sak byte) string {
	switch sak {
	case 0x08:
		return "NXP MIFARE Classic 1k"
	case 0x18:
		return "NXP MIFARE Classic 4k"
	default:
		return "Unknown"
	}
}

// ReadPages reads four pages of the selected Type 2 tag starting at page.
// Reads past the last page wrap to page 0 on NTAG and Ultralight parts.
func (c *Client) ReadPages(ctx context.Context, page byte) ([]byte, error) {
	resp, err := c.Transceive(ctx, []byte{t2tRead, page}, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}
	const want = T2TReadPages*T2TPageSize + 2
	if len(resp.Data) < want {
		return nil, fmt.Errorf("read page %d: %w: %d bytes", page, ErrShortResponse, len(resp.Data))
	}
	if !crc.CheckA(resp.Data[:want]) {
		return nil, fmt.Errorf("read page %d: %w", page, ErrCRC)
	}
	return resp.Data[: want-2 : want-2], nil
}

// WritePage writes one page of the selected Type 2 tag. The tag answers
// with a four bit ACK.
func (c *Client) WritePage(ctx context.Context, page byte, data [T2TPageSize]byte) error {
	frame := append([]byte{t2tWrite, page}, data[:]...)
	resp, err := c.Transceive(ctx, frame, 0, protocol.FlagBits)
	if err != nil {
		return fmt.Errorf("write page %d: %w", page, err)
	}
	if resp.RxCount != 4 || len(resp.Data) == 0 {
		return fmt.Errorf("write page %d: %w: %d bits", page, ErrShortResponse, resp.RxCount)
	}
	if resp.Data[0]&0x0F != t2tACK {
		return fmt.Errorf("write page %d: %w 0x%X", page, ErrNAK, resp.Data[0]&0x0F)
	}
	return nil
}
