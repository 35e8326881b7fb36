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

package testing

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// JitterConfig configures the behavior of JitteryConn.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	StallAfterBytes  int
	StallDuration    time.Duration
	Seed             uint64
	FragmentReads    bool
	FragmentWrites   bool
}

// DefaultJitterConfig fragments in both directions with a little latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:       2 * time.Millisecond,
		FragmentReads:    true,
		FragmentWrites:   true,
		FragmentMinBytes: 1,
	}
}

// JitteryConn wraps a byte stream the way a USB-UART bridge or a TCP
// socket delivers it: writes are split into several smaller writes, reads
// return arbitrary prefixes of what is available, and delivery may stall.
// Message parsers on either end must reassemble frames across calls.
type JitteryConn struct {
	backend     io.ReadWriter
	rng         *rand.Rand
	pending     []byte
	config      JitterConfig
	mu          syncutil.Mutex
	readMu      syncutil.Mutex
	readTotal   int
	stalled     bool
	writeChunks int
}

// NewJitteryConn wraps backend. A zero Seed picks a random one.
func NewJitteryConn(backend io.ReadWriter, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &JitteryConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
		pending: make([]byte, 0, 1024),
	}
}

func (j *JitteryConn) intn(n int) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rng.IntN(n)
}

func (j *JitteryConn) delay() {
	if j.config.MaxLatency <= 0 {
		return
	}
	if d := time.Duration(j.intn(int(j.config.MaxLatency) + 1)); d > 0 {
		time.Sleep(d)
	}
}

// fragment picks a chunk size between FragmentMinBytes and n.
func (j *JitteryConn) fragment(n int) int {
	lo := j.config.FragmentMinBytes
	if n <= lo {
		return n
	}
	return lo + j.intn(n-lo+1)
}

// Write delivers data to the backend in one or more chunks.
func (j *JitteryConn) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		chunk := len(data) - written
		if j.config.FragmentWrites {
			chunk = j.fragment(chunk)
		}
		j.delay()
		n, err := j.backend.Write(data[written : written+chunk])
		written += n
		j.mu.Lock()
		j.writeChunks++
		j.mu.Unlock()
		if err != nil {
			return written, err //nolint:wrapcheck // Pass-through wrapper
		}
	}
	return written, nil
}

// WriteChunks returns how many backend writes Write has issued.
func (j *JitteryConn) WriteChunks() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeChunks
}

// Read returns part of the available data, reading from the backend only
// when nothing is buffered.
func (j *JitteryConn) Read(buf []byte) (int, error) {
	j.readMu.Lock()
	defer j.readMu.Unlock()

	j.delay()
	if len(j.pending) == 0 {
		tmp := make([]byte, max(len(buf), 64))
		n, err := j.backend.Read(tmp)
		j.pending = append(j.pending, tmp[:n]...)
		if n == 0 && err != nil {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
	}

	toReturn := min(len(j.pending), len(buf))
	if j.config.StallAfterBytes > 0 && !j.stalled {
		if j.readTotal >= j.config.StallAfterBytes {
			j.stalled = true
			time.Sleep(j.config.StallDuration)
		} else {
			toReturn = min(toReturn, j.config.StallAfterBytes-j.readTotal)
		}
	}
	if j.config.FragmentReads {
		toReturn = j.fragment(toReturn)
	}

	copy(buf, j.pending[:toReturn])
	j.pending = j.pending[toReturn:]
	j.readTotal += toReturn
	return toReturn, nil
}

// Close closes the backend when it is an io.Closer.
func (j *JitteryConn) Close() error {
	if c, ok := j.backend.(io.Closer); ok {
		return c.Close() //nolint:wrapcheck // Pass-through wrapper
	}
	return nil
}
