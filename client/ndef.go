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

	"github.com/hsanjuan/go-ndef"
)

const (
	ccPage       = 3
	ccMagic      = 0xE1
	dataAreaPage = 4
)

// Record is one NDEF record.
type Record struct {
	// Type is the record type, "T" and "U" for text and URI records.
	Type string
	// Text holds the decoded text or URI of well-known T and U records.
	Text    string
	Payload []byte
}

// Message is an NDEF message read from a tag.
type Message struct {
	Records []Record
	Raw     []byte
}

// ReadNDEF reads the NDEF message of the selected Type 2 tag. It reads the
// capability container, then only as many pages as the TLV walk needs.
func (c *Client) ReadNDEF(ctx context.Context) (*Message, error) {
	block, err := c.ReadPages(ctx, ccPage)
	if err != nil {
		return nil, err
	}
	if block[0] != ccMagic {
		return nil, fmt.Errorf("%w: capability container 0x%02X", ErrNoNDEF, block[0])
	}
	size := int(block[2]) * 8
	data := block[T2TPageSize:]

	var loc ndefTLV
	for {
		loc, err = scanTLV(data)
		if err == nil && loc.end() <= len(data) {
			break
		}
		if err != nil && !errors.Is(err, ErrTLVTruncated) {
			return nil, err
		}
		if len(data) >= size {
			return nil, fmt.Errorf("%w: NDEF TLV runs past the %d byte data area", ErrTLVTruncated, size)
		}
		more, err := c.ReadPages(ctx, byte(dataAreaPage+len(data)/T2TPageSize))
		if err != nil {
			return nil, err
		}
		data = append(data, more...)
	}
	if loc.end() > size {
		return nil, fmt.Errorf("%w: NDEF TLV runs past the %d byte data area", ErrTLVTruncated, size)
	}
	return ParseNDEF(data[loc.offset:loc.end()])
}

// ParseNDEF decodes a raw NDEF message.
func ParseNDEF(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrNoNDEF)
	}
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("failed to parse NDEF message: %w", err)
	}

	out := &Message{Raw: append([]byte(nil), raw...)}
	for _, rec := range msg.Records {
		payload, err := rec.Payload()
		if err != nil {
			return nil, fmt.Errorf("failed to get NDEF record payload: %w", err)
		}
		r := Record{Type: rec.Type(), Payload: payload.Marshal()}
		if rec.TNF() == ndef.NFCForumWellKnownType && (r.Type == "T" || r.Type == "U") {
			r.Text = payload.String()
		}
		out.Records = append(out.Records, r)
	}
	return out, nil
}

// WriteNDEF writes msg, a raw NDEF message, to the selected Type 2 tag
// starting at the first data page. The capability container bounds the
// size.
func (c *Client) WriteNDEF(ctx context.Context, msg []byte) error {
	block, err := c.ReadPages(ctx, ccPage)
	if err != nil {
		return err
	}
	if block[0] != ccMagic {
		return fmt.Errorf("%w: capability container 0x%02X", ErrNoNDEF, block[0])
	}
	size := int(block[2]) * 8

	data, err := encodeNDEFTLV(msg)
	if err != nil {
		return err
	}
	if len(data) > size {
		return fmt.Errorf("%w: %d bytes for a %d byte data area", ErrNDEFTooLarge, len(data), size)
	}
	for off := 0; off < len(data); off += T2TPageSize {
		var page [T2TPageSize]byte
		copy(page[:], data[off:])
		if err := c.WritePage(ctx, byte(dataAreaPage+off/T2TPageSize), page); err != nil {
			return err
		}
	}
	return nil
}

// WriteNDEFText writes a single English text record.
func (c *Client) WriteNDEFText(ctx context.Context, text string) error {
	rec := ndef.NewTextRecord(text, "en")
	rec.SetMB(true)
	rec.SetME(true)
	msg := &ndef.Message{Records: []*ndef.Record{rec}}
	raw, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal NDEF message: %w", err)
	}
	return c.WriteNDEF(ctx, raw)
}
