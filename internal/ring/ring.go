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

// Package ring is a single-producer single-consumer byte queue.
//
// The producer only advances head and the consumer only advances tail, so
// one goroutine may Push while another Reads without a lock. Multiple
// producers or multiple consumers need external serialisation.
package ring

import (
	"errors"
	"sync/atomic"
)

// DefaultSize is the capacity used by the session outbound queue.
const DefaultSize = 8192

// ErrOverflow is returned by Push when the message does not fit. Nothing is
// written in that case.
var ErrOverflow = errors.New("ring buffer overflow")

// Buffer is a bounded circular byte queue. One slot is kept free to tell
// full from empty, so it holds at most size-1 bytes.
type Buffer struct {
	buf  []byte
	size uint32
	head atomic.Uint32
	tail atomic.Uint32
}

// New creates a buffer. size must be at least 2.
func New(size int) *Buffer {
	if size < 2 {
		size = 2
	}
	return &Buffer{buf: make([]byte, size), size: uint32(size)}
}

// Cap returns the maximum number of bytes the buffer can hold.
func (b *Buffer) Cap() int {
	return int(b.size) - 1
}

// Len returns the number of bytes available to read.
func (b *Buffer) Len() int {
	head := b.head.Load()
	tail := b.tail.Load()
	return int((head + b.size - tail) % b.size)
}

// Free returns the number of bytes that can be pushed.
func (b *Buffer) Free() int {
	return b.Cap() - b.Len()
}

// Push appends all parts as one unit. If they do not fit together, nothing
// is written and ErrOverflow is returned. Producer side only.
func (b *Buffer) Push(parts ...[]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total > b.Free() {
		return ErrOverflow
	}

	head := b.head.Load()
	for _, p := range parts {
		for _, c := range p {
			b.buf[head] = c
			head = (head + 1) % b.size
		}
	}
	// Publish after all bytes are written.
	b.head.Store(head)
	return nil
}

// Read drains up to len(p) bytes into p and returns the count. It does not
// block. Consumer side only.
func (b *Buffer) Read(p []byte) int {
	tail := b.tail.Load()
	n := 0
	for n < len(p) {
		if tail == b.head.Load() {
			break
		}
		p[n] = b.buf[tail]
		tail = (tail + 1) % b.size
		n++
	}
	b.tail.Store(tail)
	return n
}

// Reset empties the buffer. Neither side may run concurrently.
func (b *Buffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
}
