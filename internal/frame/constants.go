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

package frame

import (
	"encoding/binary"
	"errors"
)

// Message header layout: type byte followed by the payload length, u16 little endian.
const (
	HeaderSize = 3
	typeOffset = 0
	lenOffset  = 1
)

// Size limits
const (
	MaxPacketSize = 1285                       // Largest message accepted from a client
	MaxPayload    = MaxPacketSize - HeaderSize // Largest payload accepted from a client
	MaxWireLength = 0xFFFF                     // Largest payload the length field can carry
)

var (
	// ErrFrameTooLarge is returned for a header announcing more than the accepted payload.
	ErrFrameTooLarge = errors.New("frame payload too large")
	// ErrShortHeader is returned when decoding fewer than HeaderSize bytes.
	ErrShortHeader = errors.New("frame header too short")
)

// Header is a decoded message header.
type Header struct {
	Type   byte
	Length uint16
}

// PutHeader encodes a header into the first HeaderSize bytes of dst.
func PutHeader(dst []byte, typ byte, length uint16) {
	dst[typeOffset] = typ
	binary.LittleEndian.PutUint16(dst[lenOffset:], length)
}

// ParseHeader decodes the first HeaderSize bytes of src.
func ParseHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{Type: src[typeOffset], Length: binary.LittleEndian.Uint16(src[lenOffset:])}, nil
}

// AppendMessage appends the encoded header and payload to dst.
func AppendMessage(dst []byte, typ byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxWireLength {
		return dst, ErrFrameTooLarge
	}
	var h [HeaderSize]byte
	PutHeader(h[:], typ, uint16(len(payload)))
	dst = append(dst, h[:]...)
	return append(dst, payload...), nil
}
