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

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
)

func TestTracker(t *testing.T) {
	t.Parallel()
	tr := newTracker(500 * time.Millisecond)
	start := time.Unix(1000, 0)
	st := &protocol.ST25TB{UID: testutil.TestST25TBUID}
	mifare := &protocol.ISO14443A{UID: testutil.TestMIFARE1KUID, SAK: 0x08, TagType: protocol.TagMifareClassic}

	assert.True(t, tr.Seen(st, start), "first sighting is an arrival")
	assert.False(t, tr.Seen(st, start.Add(10*time.Millisecond)))
	assert.True(t, tr.Seen(mifare, start.Add(20*time.Millisecond)))
	assert.Equal(t, 2, tr.Present())

	assert.Empty(t, tr.Expire(start.Add(400*time.Millisecond)))

	// the ST25TB keeps answering, the MIFARE card left
	assert.False(t, tr.Seen(st, start.Add(450*time.Millisecond)))
	gone := tr.Expire(start.Add(600 * time.Millisecond))
	assert.Equal(t, []protocol.TagInfo{mifare}, gone)
	assert.Equal(t, 1, tr.Present())

	assert.True(t, tr.Seen(mifare, start.Add(700*time.Millisecond)), "returning tag arrives again")
}

func TestTrackerExpireOrder(t *testing.T) {
	t.Parallel()
	tr := newTracker(time.Second)
	now := time.Unix(0, 0)
	a := &protocol.ISO14443A{UID: []byte{0x02}, TagType: protocol.TagISO14443AT2T}
	b := &protocol.ISO14443A{UID: []byte{0x01}, TagType: protocol.TagISO14443AT2T}
	tr.Seen(a, now)
	tr.Seen(b, now)

	assert.Equal(t, []protocol.TagInfo{b, a}, tr.Expire(now.Add(time.Second)))
	assert.Zero(t, tr.Present())
}
