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

// Package crc computes the ISO14443 frame checksums (ISO/IEC 14443-3
// annexes A and B). Both are CRC-16/CCITT in reflected form, LSB first on
// the wire.
package crc

const (
	initA = 0x6363
	initB = 0xFFFF
)

func update(crc uint32, data []byte) uint32 {
	for _, bt := range data {
		bt ^= uint8(crc & 0xFF)
		bt ^= bt << 4
		b := uint32(bt)
		crc = (crc >> 8) ^ (b << 8) ^ (b << 3) ^ (b >> 4)
	}
	return crc
}

// A returns the ISO14443-A CRC of data, low byte first.
func A(data []byte) [2]byte {
	crc := update(initA, data)
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// B returns the ISO14443-B CRC of data, low byte first. Unlike CRC_A the
// register is complemented at the end.
func B(data []byte) [2]byte {
	crc := ^update(initB, data)
	return [2]byte{byte(crc), byte(crc >> 8)}
}

// AppendA appends the ISO14443-A CRC of data to data.
func AppendA(data []byte) []byte {
	c := A(data)
	return append(data, c[0], c[1])
}

// AppendB appends the ISO14443-B CRC of data to data.
func AppendB(data []byte) []byte {
	c := B(data)
	return append(data, c[0], c[1])
}

// CheckA reports whether frame ends with a valid ISO14443-A CRC.
func CheckA(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	n := len(frame) - 2
	return A(frame[:n]) == [2]byte{frame[n], frame[n+1]}
}

// CheckB reports whether frame ends with a valid ISO14443-B CRC.
func CheckB(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	n := len(frame) - 2
	return B(frame[:n]) == [2]byte{frame[n], frame[n+1]}
}
