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

package st25r

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
)

func TestSession_Identify(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t)

	send(t, s, protocol.IdentifyRequest{})
	resp := receiveType[protocol.IdentifyResponse](t, s)
	assert.Equal(t, protocol.ChipModel, resp.Model)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_IdleWhenIdleIsSilent(t *testing.T) {
	t.Parallel()
	s, sim := openSimSession(t)

	send(t, s, protocol.IdleRequest{})
	send(t, s, protocol.IdleRequest{})
	expectQuiet(t, s)
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, sim.FieldOnCount())
}

func TestSession_DiscoverDeviceCount(t *testing.T) {
	t.Parallel()
	s, sim := openSimSession(t, testutil.NewNTAG213(nil))

	send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolAnyISO14443A, DeviceCount: 2})

	for range 2 {
		detected := receiveType[protocol.DetectedTag](t, s)
		assert.Equal(t, protocol.TagISO14443AT2T, detected.Info.Type())
		assert.Equal(t, testutil.TestNTAG213UID, detected.Info.ID().UID)
	}
	receiveType[protocol.IdleAck](t, s)

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, sim.FieldOn())
	expectQuiet(t, s)
	assert.Equal(t, uint64(2), s.Stats().Detected)
}

func TestSession_DiscoverUntilIdle(t *testing.T) {
	t.Parallel()
	s, sim := openSimSession(t, testutil.NewMifareClassic1K(nil))

	send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolAnyISO14443A})
	receiveType[protocol.DetectedTag](t, s)
	assert.Equal(t, StateDiscover, s.State())

	send(t, s, protocol.IdleRequest{})
	for {
		msg := receive(t, s)
		if _, ok := msg.(protocol.IdleAck); ok {
			break
		}
		require.IsType(t, protocol.DetectedTag{}, msg)
	}
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, sim.FieldOn())
	expectQuiet(t, s)
}

func TestSession_DiscoverFiltersProtocols(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t, testutil.NewNTAG213(nil), testutil.NewST25TB512(testutil.TestST25TBUID, 0x42))

	send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolST25TB, DeviceCount: 1})
	detected := receiveType[protocol.DetectedTag](t, s)
	info, ok := detected.Info.(*protocol.ST25TB)
	require.True(t, ok)
	assert.Equal(t, testutil.TestST25TBUID, info.UID)
	receiveType[protocol.IdleAck](t, s)
}

func TestSession_DiscoverSkipsCorruptUID(t *testing.T) {
	t.Parallel()
	tag := testutil.NewNTAG213(nil)
	tag.BadBCC = true
	s, _ := openSimSession(t, tag)

	send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolAnyISO14443A, DeviceCount: 1})
	require.Eventually(t, func() bool { return s.Stats().Cycles >= 3 }, messageTimeout, time.Millisecond)

	stats := s.Stats()
	assert.Zero(t, stats.Detected)
	assert.Zero(t, stats.Queued)
	assert.Equal(t, StateDiscover, stats.State)
}

func TestSession_DiscoverWithExternalField(t *testing.T) {
	t.Parallel()
	s, sim := openSimSession(t, testutil.NewNTAG213(nil))
	sim.SetExternalField(true)

	send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolAnyISO14443A, DeviceCount: 1})
	require.Eventually(t, func() bool { return s.Stats().Cycles >= 3 }, messageTimeout, time.Millisecond)
	assert.Zero(t, sim.FieldOnCount())
	assert.Zero(t, s.Stats().Detected)

	sim.SetExternalField(false)
	receiveType[protocol.DetectedTag](t, s)
	receiveType[protocol.IdleAck](t, s)
}

func TestSession_DiscoverAndSelect(t *testing.T) {
	t.Parallel()
	s, sim := openSimSession(t, testutil.NewNTAG213(nil))

	send(t, s, protocol.DiscoverRequest{
		Protocols: protocol.ProtocolAnyISO14443A,
		Flags:     protocol.DiscoverFlagSelect,
	})
	selected := receiveType[protocol.SelectedTag](t, s)
	assert.Equal(t, testutil.TestNTAG213UID, selected.Info.ID().UID)
	assert.Equal(t, StateSelected, s.State())
	assert.True(t, sim.FieldOn(), "the field stays on for the selected tag")

	send(t, s, protocol.TransceiveRequest{Data: []byte{0x30, 0x03}, TxCount: 2})
	resp := receiveType[protocol.TransceiveResponse](t, s)
	assert.False(t, resp.Failed())
	assert.Equal(t, uint16(18), resp.RxCount)
	assert.Equal(t, []byte{0xE1, 0x10, 0x12, 0x00}, resp.Data[:4])
	assert.Equal(t, StateSelected, s.State())
}

func TestSession_SelectST25TB(t *testing.T) {
	t.Parallel()
	tag := testutil.NewST25TB512(testutil.TestST25TBUID, 0x42)
	s, _ := openSimSession(t, tag)

	send(t, s, protocol.SelectRequest{ID: protocol.TagID{Type: protocol.TagST25TB, UID: testutil.TestST25TBUID[:]}})
	selected := receiveType[protocol.SelectedTag](t, s)
	assert.Equal(t, protocol.TagST25TB, selected.Info.Type())
	assert.Equal(t, StateSelected, s.State())
	expectQuiet(t, s)

	// Receive only: nothing is sent and the silence is tolerated.
	send(t, s, protocol.TransceiveRequest{Flags: protocol.FlagTimeout})
	resp := receiveType[protocol.TransceiveResponse](t, s)
	assert.Zero(t, resp.RxCount)
	assert.Empty(t, resp.Data)
	assert.Equal(t, protocol.FlagTimeout, resp.Flags)
	assert.True(t, resp.TimedOut())
	assert.Equal(t, StateSelected, s.State())

	send(t, s, protocol.TransceiveRequest{Data: []byte{ST25TBReadBlock, 0x07}, TxCount: 2})
	resp = receiveType[protocol.TransceiveResponse](t, s)
	require.Equal(t, uint16(6), resp.RxCount)
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x00}, resp.Data[:4])
}

func TestSession_SelectIgnoresOtherTags(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t, testutil.NewST25TB512(testutil.TestST25TBUID, 0x42))

	other := [8]byte{0x01, 0x02, 0x03, 0x04, 0x1B, 0x33, 0x02, 0xD0}
	send(t, s, protocol.SelectRequest{ID: protocol.TagID{Type: protocol.TagST25TB, UID: other[:]}})
	require.Eventually(t, func() bool { return s.Stats().Cycles >= 3 }, messageTimeout, time.Millisecond)
	assert.Equal(t, StateSelect, s.State())
	assert.Zero(t, s.Stats().Queued)
}

func TestSession_TransceiveErrors(t *testing.T) {
	t.Parallel()

	t.Run("not selected", func(t *testing.T) {
		t.Parallel()
		s, _ := openSimSession(t)

		send(t, s, protocol.TransceiveRequest{Data: []byte{0x30, 0x00}, TxCount: 2})
		resp := receiveType[protocol.TransceiveResponse](t, s)
		assert.True(t, resp.Failed())
		assert.Equal(t, StateIdle, s.State())
		expectQuiet(t, s)
	})

	t.Run("not selected while discovering", func(t *testing.T) {
		t.Parallel()
		s, _ := openSimSession(t)

		send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolAnyISO14443A})
		send(t, s, protocol.TransceiveRequest{Data: []byte{0x30, 0x00}, TxCount: 2})
		resp := receiveType[protocol.TransceiveResponse](t, s)
		assert.True(t, resp.Failed())
		receiveType[protocol.IdleAck](t, s)
		assert.Equal(t, StateIdle, s.State())
	})

	t.Run("tag silent", func(t *testing.T) {
		t.Parallel()
		s, sim := openSimSession(t, testutil.NewNTAG213(nil))

		send(t, s, protocol.DiscoverRequest{
			Protocols: protocol.ProtocolAnyISO14443A,
			Flags:     protocol.DiscoverFlagSelect,
		})
		receiveType[protocol.SelectedTag](t, s)

		// HLTA without the timeout flag: silence is an error.
		send(t, s, protocol.TransceiveRequest{Data: []byte{0x50, 0x00}, TxCount: 2})
		resp := receiveType[protocol.TransceiveResponse](t, s)
		assert.True(t, resp.Failed())
		receiveType[protocol.IdleAck](t, s)
		assert.Equal(t, StateIdle, s.State())
		assert.False(t, sim.FieldOn())
	})
}

func TestSession_MalformedRequestSkipped(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t)

	// Unknown type 0x42 with a one byte payload, then a valid Identify.
	_, err := s.Write([]byte{0x42, 0x01, 0x00, 0xFF, byte(protocol.TypeIdentifyRequest), 0x00, 0x00})
	require.NoError(t, err)
	receiveType[protocol.IdentifyResponse](t, s)
}

func TestSession_OversizedRequestDiscarded(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t, testutil.NewNTAG213(nil))

	// A transceive header announcing 2000 bytes, whose payload would decode
	// as a Discover followed by Identify requests if it were parsed.
	const announced = 2000
	discover, err := protocol.Marshal(protocol.DiscoverRequest{Protocols: protocol.ProtocolAll})
	require.NoError(t, err)
	payload := make([]byte, announced)
	copy(payload, discover)
	identify, err := protocol.Marshal(protocol.IdentifyRequest{})
	require.NoError(t, err)

	stream := append([]byte{byte(protocol.TypeTransceiveRequest), announced & 0xFF, announced >> 8}, payload...)
	stream = append(stream, identify...)

	// Split inside the rejected payload so the discard spans writes.
	n, err := s.Write(stream[:1000])
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	n, err = s.Write(stream[1000:])
	require.NoError(t, err)
	assert.Equal(t, len(stream)-1000, n)

	receiveType[protocol.IdentifyResponse](t, s)
	assert.Equal(t, StateIdle, s.State())
	expectQuiet(t, s)
	assert.Zero(t, s.Stats().Dropped)
}

func TestSession_WriteCancelledDuringCycle(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualST25R()
	sim.AddTag(testutil.NewNTAG213(nil))

	var stall atomic.Bool
	stalled := make(chan struct{}, 1)
	gate := make(chan struct{})
	transfer := func(w, r []byte) error {
		if stall.Load() {
			select {
			case stalled <- struct{}{}:
			default:
			}
			<-gate
		}
		return sim.Transfer(w, r)
	}
	device, err := New(NewMockTransport(transfer), WithDeviceClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	s, err := device.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	t.Cleanup(func() {
		stall.Store(false)
		close(gate)
	})

	send(t, s, protocol.DiscoverRequest{Protocols: protocol.ProtocolAnyISO14443A})
	stall.Store(true)
	select {
	case <-stalled:
	case <-time.After(messageTimeout):
		t.Fatal("poll cycle never reached the bus")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.WriteContext(ctx, []byte{byte(protocol.TypeIdleRequest), 0x00, 0x00})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_SplitWrites(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t)

	raw, err := protocol.Marshal(protocol.IdentifyRequest{})
	require.NoError(t, err)
	for _, b := range raw {
		_, err := s.Write([]byte{b})
		require.NoError(t, err)
	}
	receiveType[protocol.IdentifyResponse](t, s)
}

func TestSession_QueueOverflowDropsWholeMessages(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualST25R()
	config := DefaultSessionConfig()
	config.QueueSize = 32
	device := newSimDevice(t, sim, WithSessionConfig(config))
	s, err := device.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// Each response is 3 + len(ChipModel) bytes; only two fit.
	for range 4 {
		send(t, s, protocol.IdentifyRequest{})
	}
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 2*(3+len(protocol.ChipModel)), stats.Queued)

	for range 2 {
		receiveType[protocol.IdentifyResponse](t, s)
	}
	assert.Zero(t, s.Stats().Queued)
}

func TestSession_Close(t *testing.T) {
	t.Parallel()
	s, sim := openSimSession(t, testutil.NewNTAG213(nil))

	send(t, s, protocol.DiscoverRequest{
		Protocols: protocol.ProtocolAnyISO14443A,
		Flags:     protocol.DiscoverFlagSelect,
	})
	receiveType[protocol.SelectedTag](t, s)
	send(t, s, protocol.IdentifyRequest{})

	require.NoError(t, s.Close())
	assert.False(t, sim.FieldOn())
	assert.Equal(t, StateIdle, s.State())

	// Bytes queued before Close are still delivered.
	receiveType[protocol.IdentifyResponse](t, s)
	_, err := s.Read(make([]byte, 8))
	require.ErrorIs(t, err, io.EOF)

	_, err = s.Write([]byte{byte(protocol.TypeIdentifyRequest), 0x00, 0x00})
	require.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, s.Close())
}

func TestSession_ReadContextCancelled(t *testing.T) {
	t.Parallel()
	s, _ := openSimSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.ReadContext(ctx, make([]byte, 8))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want  string
		state State
	}{
		{state: StateIdle, want: "Idle"},
		{state: StateDiscover, want: "Discover"},
		{state: StateSelect, want: "Select"},
		{state: StateSelected, want: "Selected"},
		{state: StateTransceive, want: "TransceiveFrame"},
		{state: State(42), want: "Unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
