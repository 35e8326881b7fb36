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
	"bufio"
	"fmt"
	"io"
	"slices"

	"github.com/ZaparooProject/go-st25r/protocol"
)

var tagHeadings = map[protocol.TagType]string{
	protocol.TagISO14443A:          "ISO-14443-A generic tag",
	protocol.TagISO14443AT2T:       "ISO-14443-A T2T tag",
	protocol.TagMifareClassic:      "MIFARE Classic tag",
	protocol.TagISO14443ANFCDEP:    "ISO-14443-A tag with NFCDEP",
	protocol.TagISO14443AT4T:       "ISO-14443-A-4 (T4T) tag",
	protocol.TagISO14443AT4TNFCDEP: "ISO-14443-A-4 (T4T) tag with NFCDEP",
	protocol.TagISO14443B:          "ISO-14443-B tag",
	protocol.TagST25TB:             "ST25TB tag",
}

// Product returns a product name for info, or "" when the type carries
// none. MIFARE Classic cards are named by SAK, ST25TB chips by UID.
func Product(info protocol.TagInfo) string {
	switch t := info.(type) {
	case *protocol.ISO14443A:
		if t.TagType == protocol.TagMifareClassic {
			return MifareProduct(t.SAK)
		}
	case *protocol.ST25TB:
		return DescribeST25TBUID(t.UID).Model
	}
	return ""
}

// WriteTagInfo prints a human readable description of info, one field per
// line. Multi-byte fields are printed most significant byte first.
func WriteTagInfo(w io.Writer, info protocol.TagInfo) error {
	bw := bufio.NewWriter(w)
	heading, ok := tagHeadings[info.Type()]
	if !ok {
		heading = info.Type().String() + " tag"
	}
	_, _ = fmt.Fprintln(bw, heading)

	switch t := info.(type) {
	case *protocol.ISO14443A:
		writeISO14443A(bw, t.ATQA, t.SAK, t.UID)
		if t.TagType == protocol.TagMifareClassic {
			_, _ = fmt.Fprintf(bw, "Product: %s\n", MifareProduct(t.SAK))
		}
	case *protocol.ISO14443A4:
		writeISO14443A(bw, t.ATQA, t.SAK, t.UID)
		_, _ = fmt.Fprintf(bw, "ATS: %s\n", reversedHex(t.ATS))
	case *protocol.ISO14443B:
		_, _ = fmt.Fprintf(bw, "PUPI: %s\n", reversedHex(t.PUPI[:]))
		_, _ = fmt.Fprintf(bw, "Application data: %s\n", reversedHex(t.AppData[:]))
		_, _ = fmt.Fprintf(bw, "Protocol info: %s\n", reversedHex(t.ProtocolInfo[:]))
	case *protocol.ST25TB:
		d := DescribeST25TBUID(t.UID)
		_, _ = fmt.Fprintf(bw, "UID: %s\n", d.UID)
		if !d.ValidPrefix {
			_, _ = fmt.Fprintf(bw, "Unexpected MSB, got %d\n", t.UID[len(t.UID)-1])
		}
		_, _ = fmt.Fprintf(bw, "Manufacturer: %s\n", d.Manufacturer)
		if d.Model != "" {
			_, _ = fmt.Fprintf(bw, "Model: %s\n", d.Model)
		}
		_, _ = fmt.Fprintf(bw, "Serial number: %s\n", d.Serial)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write tag info: %w", err)
	}
	return nil
}

func writeISO14443A(w io.Writer, atqa [2]byte, sak byte, uid []byte) {
	_, _ = fmt.Fprintf(w, "ATQA: %s\n", reversedHex(atqa[:]))
	_, _ = fmt.Fprintf(w, "SAK: %02x\n", sak)
	_, _ = fmt.Fprintf(w, "UID: %s\n", reversedHex(uid))
}

func reversedHex(b []byte) string {
	r := slices.Clone(b)
	slices.Reverse(r)
	return colonHex(r)
}
