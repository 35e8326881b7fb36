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

import "fmt"

// Message is one decoded message. Payload is only valid during the handler
// call that receives it.
type Message struct {
	Payload []byte
	Type    byte
}

// Handler receives each complete message.
type Handler func(Message) error

// Accumulator reassembles messages from an arbitrarily fragmented byte
// stream: header first, then exactly the announced payload.
type Accumulator struct {
	pool       *BufferPool
	payload    []byte
	header     [HeaderSize]byte
	headerLen  int
	payloadLen int
	maxPayload int
	// skip counts payload bytes of a rejected frame still to discard
	skip int
}

// NewAccumulator creates an accumulator rejecting payloads over maxPayload.
// A non-positive maxPayload means MaxPayload.
func NewAccumulator(maxPayload int) *Accumulator {
	if maxPayload <= 0 {
		maxPayload = MaxPayload
	}
	return &Accumulator{maxPayload: maxPayload, pool: defaultPool}
}

// Pending reports whether a partial message is buffered or a rejected
// payload is still being discarded.
func (a *Accumulator) Pending() bool {
	return a.headerLen > 0 || a.skip > 0
}

// Reset drops any partial message.
func (a *Accumulator) Reset() {
	a.skip = 0
	a.resetMessage()
}

func (a *Accumulator) resetMessage() {
	if a.payload != nil {
		a.pool.PutBuffer(a.payload)
	}
	a.payload = nil
	a.headerLen = 0
	a.payloadLen = 0
}

// Feed consumes p, calling fn for every message completed by it, in order.
// It returns the number of bytes consumed. On an oversized header it
// returns ErrFrameTooLarge with the bytes consumed up to and including that
// header; the announced payload is then discarded by later Feed calls, so
// the next header is found where the sender put it. A handler error stops
// consumption after the message that caused it.
func (a *Accumulator) Feed(p []byte, fn Handler) (int, error) {
	n := 0
	for n < len(p) {
		if a.skip > 0 {
			c := min(a.skip, len(p)-n)
			a.skip -= c
			n += c
			continue
		}
		if a.headerLen < HeaderSize {
			c := copy(a.header[a.headerLen:], p[n:])
			a.headerLen += c
			n += c
			if a.headerLen < HeaderSize {
				break
			}
			h, _ := ParseHeader(a.header[:])
			if int(h.Length) > a.maxPayload {
				a.resetMessage()
				a.skip = int(h.Length)
				return n, fmt.Errorf("%w: type %d announces %d bytes (max %d)",
					ErrFrameTooLarge, h.Type, h.Length, a.maxPayload)
			}
			a.payloadLen = 0
			a.payload = a.pool.GetBuffer(int(h.Length))
		}

		c := copy(a.payload[a.payloadLen:], p[n:])
		a.payloadLen += c
		n += c
		if a.payloadLen < len(a.payload) {
			break
		}

		err := fn(Message{Type: a.header[typeOffset], Payload: a.payload})
		a.resetMessage()
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
