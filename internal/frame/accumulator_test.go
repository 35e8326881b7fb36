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

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(acc *Accumulator, chunks ...[]byte) ([]Message, error) {
	var out []Message
	for _, c := range chunks {
		_, err := acc.Feed(c, func(m Message) error {
			out = append(out, Message{Type: m.Type, Payload: bytes.Clone(m.Payload)})
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	var buf [HeaderSize]byte
	PutHeader(buf[:], 9, 0x0203)
	assert.Equal(t, []byte{9, 0x03, 0x02}, buf[:])

	h, err := ParseHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, Header{Type: 9, Length: 0x0203}, h)

	_, err = ParseHeader(buf[:2])
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestAppendMessage(t *testing.T) {
	t.Parallel()

	wire, err := AppendMessage([]byte{0xAA}, 1, []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 1, 2, 0, 'o', 'k'}, wire)

	_, err = AppendMessage(nil, 1, make([]byte, MaxWireLength+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestAccumulatorFragmentation(t *testing.T) {
	t.Parallel()

	stream := []byte{
		2, 0, 0, // idle request
		8, 4, 0, 0x10, 0x00, 0x04, 0x26, // transceive 16 bits
		0, 0, 0, // identify request
	}

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{name: "whole", chunks: [][]byte{stream}},
		{name: "byte by byte", chunks: splitEvery(stream, 1)},
		{name: "pairs", chunks: splitEvery(stream, 2)},
		{name: "header split", chunks: [][]byte{stream[:4], stream[4:5], stream[5:]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msgs, err := collect(NewAccumulator(0), tt.chunks...)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, byte(2), msgs[0].Type)
			assert.Empty(t, msgs[0].Payload)
			assert.Equal(t, byte(8), msgs[1].Type)
			assert.Equal(t, []byte{0x10, 0x00, 0x04, 0x26}, msgs[1].Payload)
			assert.Equal(t, byte(0), msgs[2].Type)
		})
	}
}

func TestAccumulatorPartialNotDispatched(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(0)
	msgs, err := collect(acc, []byte{8, 5, 0, 1, 2})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.True(t, acc.Pending())

	acc.Reset()
	assert.False(t, acc.Pending())

	msgs, err = collect(acc, []byte{3, 0, 0})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(3), msgs[0].Type)
}

func TestAccumulatorTooLarge(t *testing.T) {
	t.Parallel()

	acc := NewAccumulator(4)
	n, err := acc.Feed([]byte{8, 5, 0, 1, 2, 3, 4, 5}, func(Message) error {
		t.Fatal("oversized message dispatched")
		return nil
	})
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, HeaderSize, n)
	assert.True(t, acc.Pending(), "announced payload still to discard")

	msgs, err := collect(acc, []byte{1, 2, 3, 4, 5}, []byte{2, 0, 0})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, byte(2), msgs[0].Type)
	assert.False(t, acc.Pending())
}

func TestAccumulatorTooLargeSkipsPayload(t *testing.T) {
	t.Parallel()

	// the rejected payload looks like valid requests and must not run
	inner := []byte{0, 0, 0, 2, 0, 0, 0, 0, 0}
	oversized := append([]byte{8, byte(len(inner)), 0}, inner...)
	stream := append(oversized, 3, 0, 0)

	tests := []struct {
		name   string
		chunks [][]byte
	}{
		{name: "whole", chunks: [][]byte{stream}},
		{name: "byte by byte", chunks: splitEvery(stream, 1)},
		{name: "payload split", chunks: [][]byte{stream[:5], stream[5:9], stream[9:]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			acc := NewAccumulator(4)
			var got []byte
			rejected := 0
			for _, chunk := range tt.chunks {
				for len(chunk) > 0 {
					n, err := acc.Feed(chunk, func(m Message) error {
						got = append(got, m.Type)
						return nil
					})
					if err != nil {
						require.ErrorIs(t, err, ErrFrameTooLarge)
						rejected++
					}
					chunk = chunk[n:]
				}
			}
			assert.Equal(t, 1, rejected)
			assert.Equal(t, []byte{3}, got)
			assert.False(t, acc.Pending())
		})
	}
}

func TestAccumulatorHandlerErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0
	n, err := NewAccumulator(0).Feed([]byte{2, 0, 0, 2, 0, 0}, func(Message) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, n)
}

func TestBufferPoolClasses(t *testing.T) {
	t.Parallel()

	pool := NewBufferPool()
	for _, size := range []int{0, 1, SmallBufferSize, MediumBufferSize, LargeBufferSize, PacketBufferSize} {
		buf := pool.GetBuffer(size)
		assert.Len(t, buf, size)
		for i := range buf {
			buf[i] = 0xFF
		}
		pool.PutBuffer(buf)
	}

	buf := pool.GetBuffer(SmallBufferSize)
	for _, b := range buf {
		assert.Zero(t, b, "pooled buffers are cleared")
	}

	big := pool.GetBuffer(PacketBufferSize + 1)
	assert.Len(t, big, PacketBufferSize+1)
	pool.PutBuffer(big)
	pool.PutBuffer(nil)
}

func splitEvery(b []byte, n int) [][]byte {
	var out [][]byte
	for len(b) > n {
		out = append(out, b[:n])
		b = b[n:]
	}
	return append(out, b)
}
