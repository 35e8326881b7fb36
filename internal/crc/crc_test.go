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

package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want [2]byte
	}{
		// HLTA as sent by every ISO14443-A reader
		{name: "HLTA", data: []byte{0x50, 0x00}, want: [2]byte{0x57, 0xCD}},
		// RATS with FSDI 256, CID 0
		{name: "RATS", data: []byte{0xE0, 0x80}, want: [2]byte{0x31, 0x73}},
		{name: "Empty", data: nil, want: [2]byte{0x63, 0x63}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, A(tt.data))
		})
	}
}

func TestB(t *testing.T) {
	t.Parallel()

	frame := AppendB([]byte{0x05, 0x00, 0x00})
	assert.Len(t, frame, 5)
	assert.True(t, CheckB(frame))
	assert.False(t, CheckA(frame))

	frame[1] ^= 0x01
	assert.False(t, CheckB(frame))
}

func TestAppendAndCheckA(t *testing.T) {
	t.Parallel()

	frame := AppendA([]byte{0x30, 0x04})
	assert.True(t, CheckA(frame))
	assert.False(t, CheckA(frame[:1]))

	frame[0] ^= 0x80
	assert.False(t, CheckA(frame))
}
