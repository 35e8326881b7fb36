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

package bridge

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-st25r/client"
	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// pipePort is one end of a null-modem cable. Reads return (0, nil) after
// the read timeout like a real port.
type pipePort struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	data    chan []byte
	pending []byte
	timeout atomic.Int64
	closed  atomic.Bool
}

func newNullModem() (a, b *pipePort) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return newPipePort(ar, aw), newPipePort(br, bw)
}

func newPipePort(r *io.PipeReader, w *io.PipeWriter) *pipePort {
	p := &pipePort{r: r, w: w, data: make(chan []byte)}
	go func() {
		for {
			buf := make([]byte, 64)
			n, err := r.Read(buf)
			if err != nil {
				close(p.data)
				return
			}
			p.data <- buf[:n]
		}
	}()
	return p
}

func (p *pipePort) SetReadTimeout(t time.Duration) error {
	p.timeout.Store(int64(t))
	return nil
}

func (p *pipePort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, errors.New("port closed")
	}
	if len(p.pending) == 0 {
		select {
		case chunk, ok := <-p.data:
			if !ok {
				return 0, io.EOF
			}
			p.pending = chunk
		case <-time.After(time.Duration(p.timeout.Load())):
			return 0, nil
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *pipePort) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

func (p *pipePort) Close() error {
	p.closed.Store(true)
	_ = p.r.Close()
	return p.w.Close()
}

func TestServeSerial(t *testing.T) {
	t.Parallel()
	device := newSimDevice(t, testutil.NewMifareClassic1K(nil))
	srv := New(device)

	hostEnd, remoteEnd := newNullModem()
	serverConn, err := NewSerialConn(hostEnd, "ttyS0")
	require.NoError(t, err)
	remoteConn, err := NewSerialConn(remoteEnd, "ttyUSB0")
	require.NoError(t, err)
	assert.Equal(t, "ttyUSB0", remoteConn.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeSerial(ctx, serverConn) }()

	reqCtx := testContext(t)
	c := client.New(remoteConn)
	model, err := c.Identify(reqCtx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ChipModel, model)

	require.NoError(t, c.Discover(reqCtx, protocol.DiscoverRequest{
		Protocols:   protocol.ProtocolMifareClassic,
		DeviceCount: 1,
	}))
	m, err := c.Next(reqCtx)
	require.NoError(t, err)
	require.IsType(t, protocol.DetectedTag{}, m)

	cancel()
	require.NoError(t, <-done)
	_ = remoteConn.Close()
}

func TestSerialConnReadContext(t *testing.T) {
	t.Parallel()
	a, b := newNullModem()
	defer a.Close()
	defer b.Close()
	conn, err := NewSerialConn(a, "ttyS1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.ReadContext(ctx, make([]byte, 8))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	n, err := conn.ReadContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingPort struct{ pipePort }

func (*failingPort) SetReadTimeout(time.Duration) error { return errors.New("unsupported") }

func TestNewSerialConnTimeoutError(t *testing.T) {
	t.Parallel()
	_, err := NewSerialConn(&failingPort{}, "ttyS2")
	assert.ErrorContains(t, err, "read timeout")
}
