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
	"encoding/binary"
	"errors"
	"fmt"
)

// TLV block types of the Type 2 tag data area
const (
	tlvNull       = 0x00
	tlvNDEF       = 0x03
	tlvTerminator = 0xFE
)

var (
	// ErrNoNDEF is returned when the data area holds no NDEF message.
	ErrNoNDEF = errors.New("no NDEF message")
	// ErrTLVTruncated is returned when a TLV runs past the data read so far.
	ErrTLVTruncated = errors.New("TLV truncated")
)

// ndefTLV locates an NDEF message in a data area.
type ndefTLV struct {
	offset int // first message byte
	length int
}

// end is the offset just past the message.
func (l ndefTLV) end() int { return l.offset + l.length }

// scanTLV walks the data area to the first NDEF TLV. Null blocks have no
// length field; every other block but the terminator is skipped by its
// length. ErrTLVTruncated means more data is needed.
func scanTLV(data []byte) (ndefTLV, error) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case tlvNull:
			offset++
			continue
		case tlvTerminator:
			return ndefTLV{}, ErrNoNDEF
		}

		start, length, err := tlvLength(data, offset)
		if err != nil {
			return ndefTLV{}, err
		}
		if data[offset] == tlvNDEF {
			return ndefTLV{offset: start, length: length}, nil
		}
		offset = start + length
	}
	return ndefTLV{}, ErrTLVTruncated
}

// tlvLength decodes the one or three byte length field of the TLV at
// offset and returns where its value starts.
func tlvLength(data []byte, offset int) (start, length int, err error) {
	if offset+1 >= len(data) {
		return 0, 0, fmt.Errorf("%w: length of 0x%02X at %d", ErrTLVTruncated, data[offset], offset)
	}
	if data[offset+1] != 0xFF {
		return offset + 2, int(data[offset+1]), nil
	}
	if offset+3 >= len(data) {
		return 0, 0, fmt.Errorf("%w: long length at %d", ErrTLVTruncated, offset)
	}
	return offset + 4, int(binary.BigEndian.Uint16(data[offset+2 : offset+4])), nil
}

// ErrNDEFTooLarge is returned for a message that does not fit a TLV or
// the tag data area.
var ErrNDEFTooLarge = errors.New("NDEF message too large")

// encodeNDEFTLV wraps msg in an NDEF TLV followed by a terminator. Lengths
// of 255 and more use the three byte form.
func encodeNDEFTLV(msg []byte) ([]byte, error) {
	n := len(msg)
	if n > 0xFFFE {
		return nil, fmt.Errorf("%w: %d bytes", ErrNDEFTooLarge, n)
	}
	out := make([]byte, 0, n+5)
	if n < 0xFF {
		out = append(out, tlvNDEF, byte(n))
	} else {
		out = append(out, tlvNDEF, 0xFF)
		out = binary.BigEndian.AppendUint16(out, uint16(n))
	}
	out = append(out, msg...)
	return append(out, tlvTerminator), nil
}
