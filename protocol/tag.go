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
	"encoding/hex"
	"fmt"
	"strings"
)

// TagType identifies a tag family or subtype on the wire.
type TagType uint8

// Tag types
const (
	TagISO14443A          TagType = 1
	TagISO14443AT2T       TagType = 2
	TagMifareClassic      TagType = 3
	TagISO14443ANFCDEP    TagType = 4
	TagISO14443AT4T       TagType = 6
	TagISO14443AT4TNFCDEP TagType = 7
	TagISO14443AT1T       TagType = 8
	TagISO14443B          TagType = 16
	TagST25TB             TagType = 17
	TagNFCF               TagType = 24
	TagNFCFNFCDEP         TagType = 25
	TagISO15693           TagType = 32
	TagISO15693ST25XV     TagType = 33
)

var tagTypeNames = map[TagType]string{
	TagISO14443A:          "ISO14443A",
	TagISO14443AT2T:       "ISO14443A-T2T",
	TagMifareClassic:      "MIFARE-Classic",
	TagISO14443ANFCDEP:    "ISO14443A-NFCDEP",
	TagISO14443AT4T:       "ISO14443A-T4T",
	TagISO14443AT4TNFCDEP: "ISO14443A-T4T-NFCDEP",
	TagISO14443AT1T:       "ISO14443A-T1T",
	TagISO14443B:          "ISO14443B",
	TagST25TB:             "ST25TB",
	TagNFCF:               "NFC-F",
	TagNFCFNFCDEP:         "NFC-F-NFCDEP",
	TagISO15693:           "ISO15693",
	TagISO15693ST25XV:     "ISO15693-ST25xV",
}

func (t TagType) String() string {
	if name, ok := tagTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TagType(%d)", uint8(t))
}

// IsISO14443A reports whether t is one of the ISO14443-A types 1 to 7.
func (t TagType) IsISO14443A() bool {
	return t >= TagISO14443A && t <= TagISO14443AT4TNFCDEP
}

// IsISO14443A4 reports whether t supports the ISO14443-4 layer.
func (t TagType) IsISO14443A4() bool {
	return t == TagISO14443AT4T || t == TagISO14443AT4TNFCDEP
}

// Protocol bits for the Discover request protocol mask.
const (
	ProtocolISO14443A          uint64 = 1 << TagISO14443A
	ProtocolISO14443AT2T       uint64 = 1 << TagISO14443AT2T
	ProtocolMifareClassic      uint64 = 1 << TagMifareClassic
	ProtocolISO14443ANFCDEP    uint64 = 1 << TagISO14443ANFCDEP
	ProtocolISO14443A4         uint64 = 1 << 5
	ProtocolISO14443AT4T       uint64 = 1 << TagISO14443AT4T
	ProtocolISO14443AT4TNFCDEP uint64 = 1 << TagISO14443AT4TNFCDEP
	ProtocolISO14443AT1T       uint64 = 1 << TagISO14443AT1T
	ProtocolISO14443B          uint64 = 1 << TagISO14443B
	ProtocolST25TB             uint64 = 1 << TagST25TB
	ProtocolISO14443BI         uint64 = 1 << 18
	ProtocolISO14443BICLASS    uint64 = 1 << 19
	ProtocolISO14443B2CT       uint64 = 1 << 20
	ProtocolNFCF               uint64 = 1 << TagNFCF
	ProtocolNFCFNFCDEP         uint64 = 1 << TagNFCFNFCDEP
	ProtocolISO15693           uint64 = 1 << TagISO15693
	ProtocolISO15693ST25XV     uint64 = 1 << TagISO15693ST25XV
	ProtocolISO18092           uint64 = 1 << 48

	// ProtocolAnyISO14443A selects every ISO14443-A subtype.
	ProtocolAnyISO14443A = ProtocolISO14443A | ProtocolISO14443AT2T | ProtocolMifareClassic |
		ProtocolISO14443ANFCDEP | ProtocolISO14443A4 | ProtocolISO14443AT4T | ProtocolISO14443AT4TNFCDEP

	// ProtocolAll selects every family the reader can discover.
	ProtocolAll = ProtocolAnyISO14443A | ProtocolISO14443B | ProtocolST25TB | ProtocolNFCF
)

// ParseProtocols builds a Discover protocol mask from tag type names as
// returned by TagType.String, case insensitive. "all" selects ProtocolAll
// and "ISO14443A4" the ISO14443-4 bit.
func ParseProtocols(names []string) (uint64, error) {
	var mask uint64
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
			continue
		case strings.EqualFold(name, "all"):
			mask |= ProtocolAll
			continue
		case strings.EqualFold(name, "ISO14443A4"):
			mask |= ProtocolISO14443A4
			continue
		}
		found := false
		for t, tn := range tagTypeNames {
			if strings.EqualFold(name, tn) {
				mask |= 1 << t
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTagType, name)
		}
	}
	return mask, nil
}

// MatchedBy reports whether a Discover protocol mask asks for tags of type t.
// A type matches its own bit; the generic ISO14443A bit matches every A
// subtype and the ISO14443A4 bit matches both type 4 subtypes.
func (t TagType) MatchedBy(protocols uint64) bool {
	if t < 64 && protocols&(1<<t) != 0 {
		return true
	}
	if t.IsISO14443A() && protocols&ProtocolISO14443A != 0 {
		return true
	}
	return t.IsISO14443A4() && protocols&ProtocolISO14443A4 != 0
}

// Bitrates for the Discover request, in kbit/s.
const (
	Bitrate1_66  uint8 = 1
	Bitrate26_48 uint8 = 2
	Bitrate52_97 uint8 = 3
	Bitrate106   uint8 = 4
	Bitrate212   uint8 = 5
	Bitrate424   uint8 = 6
	Bitrate848   uint8 = 7
	Bitrate1695  uint8 = 8
	Bitrate3390  uint8 = 9
	Bitrate6780  uint8 = 10
	Bitrate13560 uint8 = 11
)

// Wire sizes of identifiers
const (
	MaxUIDLength    = 10
	PUPILength      = 4
	ST25TBUIDLength = 8
	MaxATSLength    = 254
)

// TagID names one tag for selection. UID is the ISO14443-A UID, the
// ISO14443-B PUPI or the ST25TB UID. CID is not on the wire; for ISO14443-A
// it carries the SAK, for ST25TB the chip id.
type TagID struct {
	UID  []byte
	Type TagType
	CID  byte
}

// Equal reports whether two ids name the same tag. CID is ignored.
func (id TagID) Equal(other TagID) bool {
	return id.Type == other.Type && bytes.Equal(id.UID, other.UID)
}

func (id TagID) String() string {
	return fmt.Sprintf("%s:%s", id.Type, hex.EncodeToString(id.UID))
}

// TagInfo is the descriptor of a detected tag. Implementations are
// *ISO14443A, *ISO14443A4, *ISO14443B and *ST25TB.
type TagInfo interface {
	Type() TagType
	// ID returns the identifier used to select this tag again.
	ID() TagID
	// AppendTo appends the wire encoding, without the tag type byte.
	AppendTo(dst []byte) []byte
}

// ISO14443A describes an ISO14443-A tag without the ISO14443-4 layer.
type ISO14443A struct {
	UID     []byte
	ATQA    [2]byte
	SAK     byte
	TagType TagType
}

// Type implements TagInfo.
func (a *ISO14443A) Type() TagType { return a.TagType }

// ID implements TagInfo.
func (a *ISO14443A) ID() TagID { return TagID{Type: a.TagType, UID: a.UID, CID: a.SAK} }

// AppendTo implements TagInfo: atqa[2], sak, uid_len, uid[uid_len].
func (a *ISO14443A) AppendTo(dst []byte) []byte {
	dst = append(dst, a.ATQA[0], a.ATQA[1], a.SAK, byte(len(a.UID)))
	return append(dst, a.UID...)
}

// ISO14443A4 describes an ISO14443-A tag that answered RATS.
type ISO14443A4 struct {
	UID     []byte
	ATS     []byte
	ATQA    [2]byte
	SAK     byte
	TagType TagType
}

// Type implements TagInfo.
func (a *ISO14443A4) Type() TagType { return a.TagType }

// ID implements TagInfo.
func (a *ISO14443A4) ID() TagID { return TagID{Type: a.TagType, UID: a.UID, CID: a.SAK} }

// AppendTo implements TagInfo: atqa[2], sak, uid_len, uid[10], ats_len,
// ats[ats_len]. The UID field is always ten bytes, zero padded.
func (a *ISO14443A4) AppendTo(dst []byte) []byte {
	dst = append(dst, a.ATQA[0], a.ATQA[1], a.SAK, byte(len(a.UID)))
	var uid [MaxUIDLength]byte
	copy(uid[:], a.UID)
	dst = append(dst, uid[:]...)
	dst = append(dst, byte(len(a.ATS)))
	return append(dst, a.ATS...)
}

// ISO14443B describes an ISO14443-B tag from its ATQB.
type ISO14443B struct {
	PUPI         [PUPILength]byte
	AppData      [4]byte
	ProtocolInfo [3]byte
	CID          byte
}

// Type implements TagInfo.
func (*ISO14443B) Type() TagType { return TagISO14443B }

// ID implements TagInfo.
func (b *ISO14443B) ID() TagID {
	return TagID{Type: TagISO14443B, UID: bytes.Clone(b.PUPI[:]), CID: b.CID}
}

// AppendTo implements TagInfo: pupi[4], application_data[4], protocol_info[3].
func (b *ISO14443B) AppendTo(dst []byte) []byte {
	dst = append(dst, b.PUPI[:]...)
	dst = append(dst, b.AppData[:]...)
	return append(dst, b.ProtocolInfo[:]...)
}

// ST25TB describes an ST25TB tag.
type ST25TB struct {
	UID    [ST25TBUIDLength]byte
	ChipID byte
}

// Type implements TagInfo.
func (*ST25TB) Type() TagType { return TagST25TB }

// ID implements TagInfo.
func (s *ST25TB) ID() TagID {
	return TagID{Type: TagST25TB, UID: bytes.Clone(s.UID[:]), CID: s.ChipID}
}

// AppendTo implements TagInfo: uid[8].
func (s *ST25TB) AppendTo(dst []byte) []byte {
	return append(dst, s.UID[:]...)
}

// DecodeTagInfo decodes a detected or selected tag payload, tag type byte
// included. Sizes must be exact.
func DecodeTagInfo(payload []byte) (TagInfo, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty tag payload", ErrPayloadLength)
	}
	typ := TagType(payload[0])
	p := payload[1:]

	switch {
	case typ.IsISO14443A4():
		if len(p) < 15 {
			return nil, fmt.Errorf("%w: %s info is %d bytes", ErrPayloadLength, typ, len(p))
		}
		uidLen := int(p[3])
		atsLen := int(p[14])
		if uidLen > MaxUIDLength || len(p) != 15+atsLen {
			return nil, fmt.Errorf("%w: %s info is %d bytes (uid %d, ats %d)",
				ErrPayloadLength, typ, len(p), uidLen, atsLen)
		}
		return &ISO14443A4{
			TagType: typ,
			ATQA:    [2]byte{p[0], p[1]},
			SAK:     p[2],
			UID:     bytes.Clone(p[4 : 4+uidLen]),
			ATS:     bytes.Clone(p[15:]),
		}, nil

	case typ.IsISO14443A():
		if len(p) < 4 {
			return nil, fmt.Errorf("%w: %s info is %d bytes", ErrPayloadLength, typ, len(p))
		}
		uidLen := int(p[3])
		if uidLen > MaxUIDLength || len(p) != 4+uidLen {
			return nil, fmt.Errorf("%w: %s info is %d bytes (uid %d)", ErrPayloadLength, typ, len(p), uidLen)
		}
		return &ISO14443A{
			TagType: typ,
			ATQA:    [2]byte{p[0], p[1]},
			SAK:     p[2],
			UID:     bytes.Clone(p[4:]),
		}, nil

	case typ == TagISO14443B:
		if len(p) != 11 {
			return nil, fmt.Errorf("%w: %s info is %d bytes", ErrPayloadLength, typ, len(p))
		}
		info := &ISO14443B{}
		copy(info.PUPI[:], p[0:4])
		copy(info.AppData[:], p[4:8])
		copy(info.ProtocolInfo[:], p[8:11])
		return info, nil

	case typ == TagST25TB:
		if len(p) != ST25TBUIDLength {
			return nil, fmt.Errorf("%w: %s info is %d bytes", ErrPayloadLength, typ, len(p))
		}
		info := &ST25TB{}
		copy(info.UID[:], p)
		return info, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTagType, typ)
	}
}
