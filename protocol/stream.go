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

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-st25r/internal/frame"
)

// VersionSize is the length of the version preamble on a stream.
const VersionSize = 8

// ErrVersionMismatch is returned when the peer speaks another protocol
// version.
var ErrVersionMismatch = errors.New("protocol version mismatch")

// WriteVersion writes Version as the little-endian stream preamble. A
// bridge sends it once, before any message.
func WriteVersion(w io.Writer) error {
	var buf [VersionSize]byte
	binary.LittleEndian.PutUint64(buf[:], Version)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}

// ReadVersion reads the stream preamble and returns the peer version.
func ReadVersion(r io.Reader) (uint64, error) {
	var buf [VersionSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// CheckVersion returns ErrVersionMismatch unless v equals Version.
func CheckVersion(v uint64) error {
	if v != Version {
		return fmt.Errorf("%w: peer 0x%016X, local 0x%016X", ErrVersionMismatch, v, Version)
	}
	return nil
}

// ReadMessage reads and decodes one message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [frame.HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := frame.ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}

	payload := frame.GetBuffer(int(h.Length))
	defer frame.PutBuffer(payload)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read %s payload: %w", MessageType(h.Type), err)
	}
	return Decode(MessageType(h.Type), payload)
}

// WriteMessage encodes m and writes it to w in one call.
func WriteMessage(w io.Writer, m Message) error {
	buf := frame.GetBuffer(frame.PacketBufferSize)[:0]
	defer func() { frame.PutBuffer(buf) }()

	var err error
	buf, err = Append(buf, m)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", m.Type(), err)
	}
	return nil
}
