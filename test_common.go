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

//go:build !prod

package st25r

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// messageTimeout bounds how long tests wait for a session message.
const messageTimeout = 2 * time.Second

// newSimChip creates a started chip talking to a register-level simulator.
// Interrupt waits run on a fake clock so timeouts expire immediately.
func newSimChip(t *testing.T, tags ...testutil.VirtualTag) (*Chip, *testutil.VirtualST25R) {
	t.Helper()
	sim := testutil.NewVirtualST25R()
	for _, tag := range tags {
		sim.AddTag(tag)
	}
	chip := NewChip(NewMockTransport(sim.Transfer), WithClock(testutil.NewFakeClock()))
	require.NoError(t, chip.Startup(context.Background()))
	return chip, sim
}

// newSimDevice creates an initialised device on a simulator.
func newSimDevice(t *testing.T, sim *testutil.VirtualST25R, opts ...Option) *Device {
	t.Helper()
	opts = append([]Option{WithDeviceClock(testutil.NewFakeClock())}, opts...)
	device, err := New(NewMockTransport(sim.Transfer), opts...)
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	t.Cleanup(func() { _ = device.Close() })
	return device
}

// openSimSession opens a session on a simulator holding tags.
func openSimSession(t *testing.T, tags ...testutil.VirtualTag) (*Session, *testutil.VirtualST25R) {
	t.Helper()
	sim := testutil.NewVirtualST25R()
	for _, tag := range tags {
		sim.AddTag(tag)
	}
	device := newSimDevice(t, sim)
	session, err := device.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session, sim
}

type sessionReader struct {
	ctx     context.Context //nolint:containedctx // bounds each Read of the test reader
	session *Session
}

func (r sessionReader) Read(p []byte) (int, error) {
	return r.session.ReadContext(r.ctx, p)
}

// send writes one request to the session.
func send(t *testing.T, s *Session, m protocol.Message) {
	t.Helper()
	require.NoError(t, protocol.WriteMessage(s, m))
}

// receive reads the next message from the session.
func receive(t *testing.T, s *Session) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()
	msg, err := protocol.ReadMessage(sessionReader{ctx: ctx, session: s})
	require.NoError(t, err)
	return msg
}

// receiveType reads the next message and checks its type.
func receiveType[M protocol.Message](t *testing.T, s *Session) M {
	t.Helper()
	msg := receive(t, s)
	m, ok := msg.(M)
	require.Truef(t, ok, "unexpected %s message", msg.Type())
	return m
}

// expectQuiet checks that nothing is queued after the session has run a
// few more cycles.
func expectQuiet(t *testing.T, s *Session) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, s.Stats().Queued)
}
