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

import "sync"

// BufferPool manages reusable payload buffers in size classes, so that
// message reassembly and encoding do not allocate per message.
type BufferPool struct {
	// Control messages and short requests (Idle, Identify, Discover)
	smallPool sync.Pool
	// Tag descriptors and select requests
	mediumPool sync.Pool
	// Transceive frames (512 data bytes plus the u16 count and flags)
	largePool sync.Pool
	// Anything up to the largest accepted message
	packetPool sync.Pool
}

// Size thresholds for buffer categories
const (
	SmallBufferSize  = 16
	MediumBufferSize = 300
	LargeBufferSize  = 515
	PacketBufferSize = MaxPacketSize
)

var defaultPool = NewBufferPool()

func newPool(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		smallPool:  newPool(SmallBufferSize),
		mediumPool: newPool(MediumBufferSize),
		largePool:  newPool(LargeBufferSize),
		packetPool: newPool(PacketBufferSize),
	}
}

func (p *BufferPool) classFor(size int) *sync.Pool {
	switch {
	case size <= SmallBufferSize:
		return &p.smallPool
	case size <= MediumBufferSize:
		return &p.mediumPool
	case size <= LargeBufferSize:
		return &p.largePool
	case size <= PacketBufferSize:
		return &p.packetPool
	default:
		return nil
	}
}

// GetBuffer returns a buffer of exactly size bytes. It should be returned
// with PutBuffer when done.
func (p *BufferPool) GetBuffer(size int) []byte {
	pool := p.classFor(size)
	if pool == nil {
		// Oversized requests bypass the pool
		return make([]byte, size)
	}
	bufPtr, ok := pool.Get().(*[]byte)
	if !ok {
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// PutBuffer clears buf and returns it to the pool. The buffer must not be
// used afterwards.
func (p *BufferPool) PutBuffer(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	clear(full)

	switch cap(buf) {
	case SmallBufferSize:
		p.smallPool.Put(&full)
	case MediumBufferSize:
		p.mediumPool.Put(&full)
	case LargeBufferSize:
		p.largePool.Put(&full)
	case PacketBufferSize:
		p.packetPool.Put(&full)
	default:
		// Directly allocated, let GC handle it
	}
}

// GetBuffer acquires a buffer from the default pool
func GetBuffer(size int) []byte {
	return defaultPool.GetBuffer(size)
}

// PutBuffer returns a buffer to the default pool
func PutBuffer(buf []byte) {
	defaultPool.PutBuffer(buf)
}
