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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNTAG213Memory(t *testing.T) {
	t.Parallel()

	tag := NewNTAG213(nil)
	assert.Equal(t, TestNTAG213UID, tag.UID)
	assert.Equal(t, "04abcdef123456", tag.GetUIDString())
	assert.Len(t, tag.Pages, ntag213Pages)

	cc, err := tag.ReadPage(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE1, 0x10, 0x12, 0x00}, cc)

	// BCC0 includes the cascade tag
	assert.Equal(t, byte(0x88^0x04^0xAB^0xCD), tag.Pages[0][3])
	assert.Equal(t, "Hello World", tag.NDEFText())
}

func TestNTAG213SetNDEFText(t *testing.T) {
	t.Parallel()

	tag := NewNTAG213(nil)
	require.NoError(t, tag.SetNDEFText("zaparoo"))
	assert.Equal(t, "zaparoo", tag.NDEFText())
	assert.Equal(t, byte(0x03), tag.Pages[4][0])

	big := make([]byte, 200)
	assert.Error(t, tag.SetNDEF(big))
}

func TestNTAG213WriteProtection(t *testing.T) {
	t.Parallel()

	tag := NewNTAG213(nil)
	assert.Error(t, tag.WritePage(0, []byte{1, 2, 3, 4}))
	assert.Error(t, tag.WritePage(40, []byte{1, 2, 3, 4}))
	assert.Error(t, tag.WritePage(5, []byte{1, 2}))
	require.NoError(t, tag.WritePage(5, []byte{1, 2, 3, 4}))

	page, err := tag.ReadPage(5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, page)

	_, err = tag.ReadPage(ntag213Pages)
	assert.Error(t, err)
}

func TestCascadeBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		uid    []byte
		levels int
		first  byte
	}{
		{name: "Single", uid: TestMIFARE1KUID, levels: 1, first: 0x12},
		{name: "Double", uid: TestNTAG213UID, levels: 2, first: cascadeTag},
		{name: "Triple", uid: TestTripleUID, levels: 3, first: cascadeTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tag := &TagA{UID: tt.uid, Present: true}
			assert.Equal(t, tt.levels, tag.levels())

			cl := tag.cascade(1)
			assert.Equal(t, tt.first, cl[0])
			assert.Equal(t, cl[0]^cl[1]^cl[2]^cl[3], cl[4])

			last := tag.cascade(tt.levels)
			assert.Equal(t, tt.uid[len(tt.uid)-4:], last[:4])
		})
	}
}

func TestBadBCC(t *testing.T) {
	t.Parallel()

	tag := &TagA{UID: TestMIFARE1KUID, BadBCC: true, Present: true}
	cl := tag.cascade(1)
	assert.NotEqual(t, cl[0]^cl[1]^cl[2]^cl[3], cl[4])
}

func TestTagALifecycle(t *testing.T) {
	t.Parallel()

	tag := NewMifareClassic1K(nil)
	assert.True(t, tag.wake(false))
	assert.False(t, tag.wake(false), "a ready tag ignores REQA")

	cl := tag.cascade(1)
	sak, ok := tag.selectLevel(cl[:])
	require.True(t, ok)
	assert.Equal(t, byte(0x08), sak)
	assert.True(t, tag.Active())

	assert.Nil(t, tag.exchange([]byte{0x50, 0x00}))
	assert.True(t, tag.Halted())
	assert.False(t, tag.wake(false), "a halted tag ignores REQA")
	assert.True(t, tag.wake(true), "WUPA wakes a halted tag")

	tag.powerOff()
	assert.False(t, tag.Active())
	assert.False(t, tag.Halted())

	tag.Remove()
	assert.False(t, tag.wake(true))
	tag.Insert()
	assert.True(t, tag.wake(false))
}

func TestST25TBCommands(t *testing.T) {
	t.Parallel()

	tag := NewST25TB512(TestST25TBUID, 0x42)
	assert.Nil(t, tag.exchange([]byte{0x0B}), "GET_UID needs selection")

	tag.state = st25tbInventory
	resp := tag.exchange([]byte{0x0E, 0x42})
	require.NotNil(t, resp)
	assert.Equal(t, []byte{0x42}, resp.data)
	assert.True(t, tag.Selected())

	resp = tag.exchange([]byte{0x0B})
	require.NotNil(t, resp)
	assert.Equal(t, TestST25TBUID[:], resp.data)

	assert.Nil(t, tag.exchange([]byte{0x09, 0x07, 0xDE, 0xAD, 0xBE, 0xEF}))
	resp = tag.exchange([]byte{0x08, 0x07})
	require.NotNil(t, resp)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, resp.data)

	resp = tag.exchange([]byte{0x08, 0xFF})
	require.NotNil(t, resp)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, resp.data)
	assert.Nil(t, tag.exchange([]byte{0x08, 0x40}))

	assert.Nil(t, tag.exchange([]byte{0x0F}))
	assert.False(t, tag.Selected())
}
