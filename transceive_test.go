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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-st25r/internal/crc"
	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
)

// selectedNTAG returns a chip with an NTAG213 activated in the field.
func selectedNTAG(t *testing.T) (*Chip, *testutil.VirtualST25R, *testutil.TagA) {
	t.Helper()
	tag := testutil.NewNTAG213(nil)
	chip, sim := newSimChip(t, tag)
	ctx := context.Background()
	require.NoError(t, chip.FieldOn(ctx))
	_, err := chip.PollISO14443A(ctx)
	require.NoError(t, err)
	return chip, sim, tag
}

func TestTransceiveFrame_ReadPages(t *testing.T) {
	t.Parallel()
	chip, sim, _ := selectedNTAG(t)
	rx := make([]byte, 32)

	res, err := chip.TransceiveFrame(context.Background(), []byte{0x30, 0x03}, 2, rx, 0, DefaultRxTimeout)
	require.NoError(t, err)
	require.Equal(t, 18, res.Count, "16 data bytes and the CRC stay in the response")
	assert.False(t, res.TimedOut)
	assert.Equal(t, []byte{0xE1, 0x10, 0x12, 0x00}, rx[:4])
	assert.True(t, crc.CheckA(rx[:res.Count]))
	assert.Zero(t, sim.Register(RegAuxDefinition)&AuxNoCRCRx)
}

func TestTransceiveFrame_TimeoutFlag(t *testing.T) {
	t.Parallel()
	chip, _, tag := selectedNTAG(t)
	ctx := context.Background()
	rx := make([]byte, 8)

	res, err := chip.TransceiveFrame(ctx, []byte{0x50, 0x00}, 2, rx, FlagTimeout, DefaultRxTimeout)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Zero(t, res.Count)
	assert.True(t, tag.Halted())

	_, err = chip.TransceiveFrame(ctx, []byte{0x30, 0x04}, 2, rx, 0, DefaultRxTimeout)
	require.ErrorIs(t, err, ErrRxTimeout, "a halted tag does not answer READ")
}

func TestTransceiveFrame_BitOriented(t *testing.T) {
	t.Parallel()
	chip, sim, tag := selectedNTAG(t)
	ctx := context.Background()
	rx := make([]byte, 8)

	_, err := chip.TransceiveFrame(ctx, []byte{0x50, 0x00}, 2, rx, FlagTimeout, DefaultRxTimeout)
	require.NoError(t, err)

	res, err := chip.TransceiveFrame(ctx, []byte{0x52}, 7, rx, FlagBits|FlagNoCRC, DefaultRxTimeout)
	require.NoError(t, err)
	assert.Equal(t, 16, res.Count)
	assert.Equal(t, 2, res.ByteLen(FlagBits))
	assert.Equal(t, tag.ATQA[:], rx[:2])
	assert.False(t, tag.Halted())
	assert.Equal(t, AuxNoCRCRx, sim.Register(RegAuxDefinition)&AuxNoCRCRx)

	frames := sim.Frames()
	assert.Equal(t, []byte{0x52}, frames[len(frames)-1])
}

func TestTransceiveFrame_PartialByteAnswer(t *testing.T) {
	t.Parallel()
	chip, _, tag := selectedNTAG(t)
	rx := make([]byte, 8)

	write := []byte{0xA2, 0x04, 0xDE, 0xAD, 0xBE, 0xEF}
	res, err := chip.TransceiveFrame(context.Background(), write, len(write)*8, rx, FlagBits, DefaultRxTimeout)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count, "ACK is four bits")
	assert.Equal(t, byte(0x0A), rx[0]&0x0F)

	page, err := tag.ReadPage(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, page)
}

func TestTransceiveFrame_ReceiveOnly(t *testing.T) {
	t.Parallel()
	chip, sim, _ := selectedNTAG(t)
	framesBefore := len(sim.Frames())

	res, err := chip.TransceiveFrame(context.Background(), nil, 0, make([]byte, 8), FlagTimeout, DefaultRxTimeout)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Len(t, sim.Frames(), framesBefore, "nothing is transmitted")
}

func TestTransceiveFrame_TxOnly(t *testing.T) {
	t.Parallel()
	chip, sim, _ := selectedNTAG(t)

	res, err := chip.TransceiveFrame(context.Background(), []byte{0x30, 0x04}, 2, make([]byte, 32),
		FlagTxOnly, DefaultRxTimeout)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.False(t, res.TimedOut)

	frames := sim.Frames()
	assert.Equal(t, []byte{0x30, 0x04}, frames[len(frames)-1])
}

func TestTransceiveFrame_NoParity(t *testing.T) {
	t.Parallel()
	chip, sim, _ := selectedNTAG(t)

	_, err := chip.TransceiveFrame(context.Background(), []byte{0x30, 0x04}, 2, make([]byte, 32),
		FlagRaw|FlagTimeout, DefaultRxTimeout)
	require.NoError(t, err)
	assert.Equal(t, ISO14443ANoTxParity|ISO14443ANoRxParity, sim.Register(RegISO14443ASettings))
}

func TestTransceiveFrame_InvalidCount(t *testing.T) {
	t.Parallel()
	chip, _ := newSimChip(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		tx    []byte
		count int
		flags TransceiveFlags
	}{
		{name: "negative", tx: []byte{0x00}, count: -1},
		{name: "more bytes than data", tx: []byte{0x00, 0x01}, count: 3},
		{name: "more bits than data", tx: []byte{0x00}, count: 9, flags: FlagBits},
		{name: "larger than FIFO", tx: make([]byte, FIFOSize+1), count: FIFOSize + 1},
	}

	for _, tt := range tests {
		_, err := chip.TransceiveFrame(ctx, tt.tx, tt.count, make([]byte, 8), tt.flags, DefaultRxTimeout)
		require.ErrorIs(t, err, ErrInvalidParameter, tt.name)
	}
}

func TestTransceiveFlags_Has(t *testing.T) {
	t.Parallel()
	assert.True(t, FlagRaw.Has(FlagNoCRC))
	assert.True(t, FlagRaw.Has(FlagNoParity))
	assert.False(t, FlagNoCRC.Has(FlagRaw))
	assert.True(t, TransceiveFlags(0).Has(0))
}
