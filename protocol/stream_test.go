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

package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionPreamble(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteVersion(&buf))
	assert.Equal(t, []byte{0x01, 0, 0, 0, 0x43, 0x46, 0x4E, 0x00}, buf.Bytes())

	v, err := ReadVersion(&buf)
	require.NoError(t, err)
	assert.Equal(t, Version, v)
	assert.NoError(t, CheckVersion(v))
}

func TestCheckVersionMismatch(t *testing.T) {
	t.Parallel()

	err := CheckVersion(Version + 1)
	require.ErrorIs(t, err, ErrVersionMismatch)
	assert.Contains(t, err.Error(), "004E464300000002")
}

func TestReadVersionShort(t *testing.T) {
	t.Parallel()

	_, err := ReadVersion(bytes.NewReader([]byte{1, 2, 3}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamMessages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, IdleRequest{}))
	require.NoError(t, WriteMessage(&buf, TransceiveRequest{Data: []byte{0x30, 4}, TxCount: 2}))
	require.NoError(t, WriteMessage(&buf, IdentifyResponse{Model: ChipModel}))

	m, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, IdleRequest{}, m)

	m, err = ReadMessage(&buf)
	require.NoError(t, err)
	tr, ok := m.(TransceiveRequest)
	require.True(t, ok)
	assert.Equal(t, []byte{0x30, 4}, tr.Data)
	assert.Equal(t, uint16(2), tr.TxCount)

	m, err = ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, IdentifyResponse{Model: ChipModel}, m)

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}
