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

package client

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
)

func TestWriteTagInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		info protocol.TagInfo
		name string
		want string
	}{
		{
			name: "mifare classic",
			info: &protocol.ISO14443A{
				UID:     testutil.TestMIFARE1KUID,
				ATQA:    [2]byte{0x04, 0x00},
				SAK:     0x08,
				TagType: protocol.TagMifareClassic,
			},
			want: "MIFARE Classic tag\n" +
				"ATQA: 00:04\n" +
				"SAK: 08\n" +
				"UID: 78:56:34:12\n" +
				"Product: NXP MIFARE Classic 1k\n",
		},
		{
			name: "type 4 with ATS",
			info: &protocol.ISO14443A4{
				UID:     []byte{0x01, 0x02, 0x03, 0x04},
				ATS:     []byte{0x05, 0x78},
				ATQA:    [2]byte{0x04, 0x00},
				SAK:     0x20,
				TagType: protocol.TagISO14443AT4T,
			},
			want: "ISO-14443-A-4 (T4T) tag\n" +
				"ATQA: 00:04\n" +
				"SAK: 20\n" +
				"UID: 04:03:02:01\n" +
				"ATS: 78:05\n",
		},
		{
			name: "iso14443b",
			info: &protocol.ISO14443B{
				PUPI:         [4]byte{0x01, 0x02, 0x03, 0x04},
				AppData:      [4]byte{0xAA, 0xBB, 0xCC, 0xDD},
				ProtocolInfo: [3]byte{0x00, 0x81, 0x71},
			},
			want: "ISO-14443-B tag\n" +
				"PUPI: 04:03:02:01\n" +
				"Application data: dd:cc:bb:aa\n" +
				"Protocol info: 71:81:00\n",
		},
		{
			name: "st25tb",
			info: &protocol.ST25TB{UID: testutil.TestST25TBUID},
			want: "ST25TB tag\n" +
				"UID: d0:02:33:1b:12:34:56:78\n" +
				"Manufacturer: ST Microelectronics\n" +
				"Model: ST25TB512-AT\n" +
				"Serial number: 1b:12:34:56:78\n",
		},
		{
			name: "st25tb bad prefix unknown manufacturer",
			info: &protocol.ST25TB{UID: [8]byte{1, 2, 3, 4, 5, 6, 0x99, 0xC0}},
			want: "ST25TB tag\n" +
				"UID: c0:99:06:05:04:03:02:01\n" +
				"Unexpected MSB, got 192\n" +
				"Manufacturer: unknown (153)\n" +
				"Serial number: 06:05:04:03:02:01\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, WriteTagInfo(&buf, tt.info))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestProduct(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NXP MIFARE Classic 4k", Product(&protocol.ISO14443A{
		SAK: 0x18, TagType: protocol.TagMifareClassic,
	}))
	assert.Equal(t, "ST25TB512-AT", Product(&protocol.ST25TB{UID: testutil.TestST25TBUID}))
	assert.Empty(t, Product(&protocol.ISO14443A{SAK: 0x00, TagType: protocol.TagISO14443AT2T}))
}
