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

package i2c

import (
	"context"
	"errors"
	"fmt"
	"testing"

	st25r "github.com/ZaparooProject/go-st25r"
	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/physic"
)

// MockI2CBus implements i2c.BusCloser on top of the register simulator.
type MockI2CBus struct {
	sim    *testutil.VirtualST25R
	err    error
	addrs  []uint16
	speed  physic.Frequency
	closed bool
}

func NewMockI2CBus(sim *testutil.VirtualST25R) *MockI2CBus {
	return &MockI2CBus{sim: sim}
}

func (m *MockI2CBus) Tx(addr uint16, w, r []byte) error {
	if m.closed {
		return errors.New("bus closed")
	}
	m.addrs = append(m.addrs, addr)
	if m.err != nil {
		return m.err
	}
	return m.sim.Transfer(w, r)
}

func (m *MockI2CBus) SetSpeed(f physic.Frequency) error {
	m.speed = f
	return nil
}

func (m *MockI2CBus) Close() error {
	m.closed = true
	return nil
}

func (*MockI2CBus) String() string {
	return "mock://i2c"
}

func newTestTransport(t *testing.T) (*Transport, *MockI2CBus, *testutil.VirtualST25R) {
	t.Helper()
	sim := testutil.NewVirtualST25R()
	bus := NewMockI2CBus(sim)
	return NewWithBus(bus, "mock-i2c", DefaultAddress), bus, sim
}

func TestI2C_Startup(t *testing.T) {
	t.Parallel()
	transport, bus, sim := newTestTransport(t)

	chip := st25r.NewChip(transport, st25r.WithClock(testutil.NewFakeClock()))
	require.NoError(t, chip.Startup(context.Background()))

	id, err := chip.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st25r.ICIdentityST25R3916, id)
	assert.Equal(t, 1, sim.CommandCount(st25r.CmdSetDefault))
	require.NotEmpty(t, bus.addrs)
	for _, addr := range bus.addrs {
		assert.Equal(t, uint16(DefaultAddress), addr)
	}
}

func TestI2C_ReadNTAGPage(t *testing.T) {
	t.Parallel()
	transport, _, sim := newTestTransport(t)
	sim.AddTag(testutil.NewNTAG213(nil))

	chip := st25r.NewChip(transport, st25r.WithClock(testutil.NewFakeClock()))
	ctx := context.Background()
	require.NoError(t, chip.Startup(ctx))
	require.NoError(t, chip.FieldOn(ctx))

	info, err := chip.PollISO14443A(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.TagISO14443AT2T, info.Type())

	rx := make([]byte, 32)
	res, err := chip.TransceiveFrame(ctx, []byte{0x30, 0x03}, 2, rx, 0, st25r.DefaultRxTimeout)
	require.NoError(t, err)
	assert.Equal(t, 18, res.Count)
	assert.Equal(t, byte(0xE1), rx[0])
}

func TestI2C_TransferErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		busErr    error
		is        error
		name      string
		retryable bool
		fatal     bool
	}{
		{name: "nack", busErr: errors.New("i2c: no ACK"), is: st25r.ErrTransportRead, retryable: true},
		{name: "timed out", busErr: unix.ETIMEDOUT, is: st25r.ErrTransportTimeout, retryable: true},
		{name: "adapter gone", busErr: fmt.Errorf("ioctl: %w", unix.ENXIO), fatal: true},
		{name: "remote io", busErr: unix.EREMOTEIO, fatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			transport, bus, _ := newTestTransport(t)
			bus.err = tt.busErr

			err := transport.Transfer(context.Background(), []byte{st25r.ModeReadRegister | st25r.RegICIdentity}, make([]byte, 1))
			require.Error(t, err)

			var te *st25r.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.retryable, st25r.IsRetryable(err))
			assert.Equal(t, tt.fatal, st25r.IsFatal(err))
			assert.ErrorIs(t, err, tt.busErr)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}

			var traced *st25r.TraceableError
			require.ErrorAs(t, err, &traced)
			assert.Equal(t, "I2C", traced.Transport)
			require.NotEmpty(t, traced.Trace)
			assert.Equal(t, st25r.TraceTX, traced.Trace[0].Direction)
		})
	}
}

func TestI2C_ContextCancelled(t *testing.T) {
	t.Parallel()
	transport, bus, _ := newTestTransport(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := transport.Transfer(ctx, []byte{st25r.CmdStopAll}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bus.addrs)
}

func TestI2C_EmptyTransfer(t *testing.T) {
	t.Parallel()
	transport, bus, _ := newTestTransport(t)

	require.NoError(t, transport.Transfer(context.Background(), nil, nil))
	assert.Empty(t, bus.addrs)
}

func TestI2C_Close(t *testing.T) {
	t.Parallel()
	transport, bus, _ := newTestTransport(t)

	assert.True(t, transport.IsConnected())
	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	assert.True(t, bus.closed)
	assert.False(t, transport.IsConnected())

	err := transport.Transfer(context.Background(), []byte{st25r.CmdStopAll}, nil)
	require.ErrorIs(t, err, st25r.ErrTransportClosed)
}

func TestI2C_Type(t *testing.T) {
	t.Parallel()
	transport, _, _ := newTestTransport(t)

	assert.Equal(t, st25r.TransportI2C, transport.Type())
	assert.Equal(t, "mock-i2c:0x50", transport.String())
}

func TestParseI2CPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		bus     string
		addr    uint16
		wantErr bool
	}{
		{name: "bare bus", path: "/dev/i2c-1", bus: "/dev/i2c-1", addr: DefaultAddress},
		{name: "detection path", path: "/dev/i2c-1:0x50", bus: "/dev/i2c-1", addr: 0x50},
		{name: "other address", path: "/dev/i2c-3:0x51", bus: "/dev/i2c-3", addr: 0x51},
		{name: "trailing colon", path: "/dev/i2c-1:", bus: "/dev/i2c-1", addr: DefaultAddress},
		{name: "bad address", path: "/dev/i2c-1:zz", wantErr: true},
		{name: "address too large", path: "/dev/i2c-1:0x80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus, addr, err := parseI2CPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bus, bus)
			assert.Equal(t, tt.addr, addr)
		})
	}
}
