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
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hsanjuan/go-ndef"
)

// Common UIDs for testing
var (
	// TestNTAG213UID is a sample NTAG213 UID
	TestNTAG213UID = []byte{0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}

	// TestMIFARE1KUID is a sample MIFARE Classic 1K UID
	TestMIFARE1KUID = []byte{0x12, 0x34, 0x56, 0x78}

	// TestTripleUID is a sample 10-byte UID
	TestTripleUID = []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99}

	// TestST25TBUID is a sample ST25TB512-AT UID as sent by GET_UID (LSB first)
	TestST25TBUID = [8]byte{0x78, 0x56, 0x34, 0x12, 0x1B, 0x33, 0x02, 0xD0}
)

const (
	ntag213Pages    = 45
	ntagUserFirst   = 4
	ntagUserLast    = 39
	cascadeTag      = 0x88
	sakCascadeBit   = 0x04
	st25tbBlocks    = 16
	st25tbSystemBlk = 0xFF
)

// tagState is the ISO14443-3 activation state of a tag.
type tagState int

const (
	tagIdle tagState = iota
	tagReady
	tagActive
	tagHalt
)

// VirtualTag is a card placed in the simulated field.
type VirtualTag interface {
	// powerOff returns the tag to its power-on state when the field drops.
	powerOff()
	present() bool
}

// TagA simulates an ISO14443-A card: Type 2 pages, a MIFARE Classic SAK or
// an ISO14443-4 card when ATS is set.
type TagA struct {
	// Respond answers frames the tag does not handle itself once active.
	// Returning nil means no answer.
	Respond func(frame []byte) []byte
	UID     []byte
	ATS     []byte
	Pages   [][4]byte
	ATQA    [2]byte
	SAK     byte
	// BadBCC corrupts the check byte of the last cascade level.
	BadBCC  bool
	Present bool
	state   tagState
	level   int
}

// NewNTAG213 creates an NTAG213 holding an NDEF text record "Hello World".
func NewNTAG213(uid []byte) *TagA {
	if uid == nil {
		uid = TestNTAG213UID
	}
	tag := &TagA{
		UID:     append([]byte(nil), uid...),
		ATQA:    [2]byte{0x44, 0x00},
		SAK:     0x00,
		Pages:   make([][4]byte, ntag213Pages),
		Present: true,
	}
	tag.initNTAG213Memory()
	// known good text, cannot overflow the user area
	_ = tag.SetNDEFText("Hello World")
	return tag
}

// NewMifareClassic1K creates a MIFARE Classic 1K. Sector data is not
// simulated; the card only activates.
func NewMifareClassic1K(uid []byte) *TagA {
	if uid == nil {
		uid = TestMIFARE1KUID
	}
	return &TagA{
		UID:     append([]byte(nil), uid...),
		ATQA:    [2]byte{0x04, 0x00},
		SAK:     0x08,
		Present: true,
	}
}

// NewTypeA4 creates an ISO14443-4 card answering RATS with ats (TL excluded).
func NewTypeA4(uid, ats []byte) *TagA {
	if uid == nil {
		uid = TestNTAG213UID
	}
	return &TagA{
		UID:     append([]byte(nil), uid...),
		ATQA:    [2]byte{0x44, 0x03},
		SAK:     0x20,
		ATS:     append([]byte(nil), ats...),
		Present: true,
	}
}

// GetUIDString returns the UID as a hex string
func (t *TagA) GetUIDString() string {
	return hex.EncodeToString(t.UID)
}

// Remove sets the tag as not present
func (t *TagA) Remove() { t.Present = false }

// Insert sets the tag as present
func (t *TagA) Insert() { t.Present = true }

// Active reports whether the tag completed selection.
func (t *TagA) Active() bool { return t.state == tagActive }

// Halted reports whether the tag received HLTA.
func (t *TagA) Halted() bool { return t.state == tagHalt }

func (t *TagA) powerOff() {
	t.state = tagIdle
	t.level = 0
}

func (t *TagA) present() bool { return t.Present }

func (t *TagA) levels() int {
	switch len(t.UID) {
	case 4:
		return 1
	case 7:
		return 2
	default:
		return 3
	}
}

// cascade returns the five bytes a tag sends during anticollision at the
// given level (1 based): cascade tag or UID bytes, then BCC.
func (t *TagA) cascade(level int) [5]byte {
	var cl [5]byte
	last := level == t.levels()
	switch {
	case last:
		copy(cl[:4], t.UID[len(t.UID)-4:])
	default:
		cl[0] = cascadeTag
		copy(cl[1:4], t.UID[(level-1)*3:level*3])
	}
	cl[4] = cl[0] ^ cl[1] ^ cl[2] ^ cl[3]
	if last && t.BadBCC {
		cl[4] ^= 0xFF
	}
	return cl
}

// wake handles REQA (or WUPA when wakeHalted) and reports whether the tag answers.
func (t *TagA) wake(wakeHalted bool) bool {
	if !t.Present {
		return false
	}
	if t.state == tagIdle || (wakeHalted && t.state == tagHalt) {
		t.state = tagReady
		t.level = 1
		return true
	}
	return false
}

// selectLevel handles a SELECT at the tag's current level.
func (t *TagA) selectLevel(cl []byte) (sak byte, ok bool) {
	want := t.cascade(t.level)
	if !bytes.Equal(want[:], cl) {
		t.state = tagIdle
		return 0, false
	}
	if t.level < t.levels() {
		t.level++
		return sakCascadeBit, true
	}
	t.state = tagActive
	return t.SAK, true
}

// exchange handles a frame once the tag is active.
func (t *TagA) exchange(frame []byte) *reply {
	switch {
	case len(frame) == 2 && frame[0] == 0x50 && frame[1] == 0x00:
		t.state = tagHalt
		return nil
	case len(frame) == 2 && frame[0] == 0xE0:
		if t.ATS == nil {
			return nil
		}
		return &reply{data: append([]byte{byte(len(t.ATS) + 1)}, t.ATS...)}
	case len(frame) == 2 && frame[0] == 0x30 && t.Pages != nil:
		data := make([]byte, 0, 16)
		for i := range 4 {
			p := t.Pages[(int(frame[1])+i)%len(t.Pages)]
			data = append(data, p[:]...)
		}
		return &reply{data: data}
	case len(frame) == 6 && frame[0] == 0xA2 && t.Pages != nil:
		if err := t.WritePage(int(frame[1]), frame[2:6]); err != nil {
			return &reply{data: []byte{0x00}, lastBits: 4, raw: true}
		}
		return &reply{data: []byte{0x0A}, lastBits: 4, raw: true}
	}
	if t.Respond != nil {
		if out := t.Respond(frame); out != nil {
			return &reply{data: out}
		}
	}
	return nil
}

// ReadPage reads one 4-byte page
func (t *TagA) ReadPage(page int) ([]byte, error) {
	if page < 0 || page >= len(t.Pages) {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	p := t.Pages[page]
	return p[:], nil
}

// WritePage writes one 4-byte page
func (t *TagA) WritePage(page int, data []byte) error {
	if page < 0 || page >= len(t.Pages) {
		return fmt.Errorf("page %d out of range", page)
	}
	if page < 3 || page > ntagUserLast {
		return fmt.Errorf("page %d is write protected", page)
	}
	if len(data) != 4 {
		return fmt.Errorf("data must be exactly 4 bytes, got %d", len(data))
	}
	copy(t.Pages[page][:], data)
	return nil
}

func (t *TagA) initNTAG213Memory() {
	// Pages 0-2: UID with both check bytes, then internal and lock bytes
	uid := t.UID
	if len(uid) == 7 {
		t.Pages[0] = [4]byte{uid[0], uid[1], uid[2], cascadeTag ^ uid[0] ^ uid[1] ^ uid[2]}
		t.Pages[1] = [4]byte{uid[3], uid[4], uid[5], uid[6]}
		t.Pages[2] = [4]byte{uid[3] ^ uid[4] ^ uid[5] ^ uid[6], 0x48, 0x00, 0x00}
	}

	// Page 3: capability container, 144 byte data area
	t.Pages[3] = [4]byte{0xE1, 0x10, 0x12, 0x00}

	// Pages 41-44: configuration
	t.Pages[41] = [4]byte{0x04, 0x00, 0x00, 0xFF}
	t.Pages[42] = [4]byte{0x00, 0x05, 0x00, 0x00}
	t.Pages[43] = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
}

// SetNDEFText stores a single NDEF text record in the user area.
func (t *TagA) SetNDEFText(text string) error {
	msg := &ndef.Message{Records: []*ndef.Record{ndef.NewTextRecord(text, "en")}}
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal NDEF message: %w", err)
	}
	return t.SetNDEF(payload)
}

// SetNDEF stores a raw NDEF message wrapped in its TLV in the user area.
func (t *TagA) SetNDEF(message []byte) error {
	var tlv []byte
	if len(message) < 0xFF {
		tlv = append(tlv, 0x03, byte(len(message)))
	} else {
		tlv = append(tlv, 0x03, 0xFF, byte(len(message)>>8), byte(len(message)))
	}
	tlv = append(tlv, message...)
	tlv = append(tlv, 0xFE)

	capacity := (ntagUserLast - ntagUserFirst + 1) * 4
	if len(tlv) > capacity || len(t.Pages) <= ntagUserLast {
		return errors.New("NDEF data too large for NTAG213")
	}
	for page := ntagUserFirst; page <= ntagUserLast; page++ {
		t.Pages[page] = [4]byte{}
	}
	for i, b := range tlv {
		t.Pages[ntagUserFirst+i/4][i%4] = b
	}
	return nil
}

// NDEFText returns the text of the first text record, if any.
func (t *TagA) NDEFText() string {
	var user []byte
	for page := ntagUserFirst; page <= ntagUserLast && page < len(t.Pages); page++ {
		user = append(user, t.Pages[page][:]...)
	}
	if len(user) < 2 || user[0] != 0x03 {
		return ""
	}
	n, start := int(user[1]), 2
	if user[1] == 0xFF && len(user) > 4 {
		n, start = int(user[2])<<8|int(user[3]), 4
	}
	if start+n > len(user) {
		return ""
	}
	msg := &ndef.Message{}
	if _, err := msg.Unmarshal(user[start : start+n]); err != nil || len(msg.Records) == 0 {
		return ""
	}
	rec := msg.Records[0]
	if rec.TNF() != ndef.NFCForumWellKnownType || rec.Type() != "T" {
		return ""
	}
	payload, err := rec.Payload()
	if err != nil {
		return ""
	}
	raw := payload.Marshal()
	if len(raw) < 1 {
		return ""
	}
	langLen := int(raw[0] & 0x3F)
	if 1+langLen > len(raw) {
		return ""
	}
	return string(raw[1+langLen:])
}

// TagB simulates an ISO14443-B card.
type TagB struct {
	Respond      func(frame []byte) []byte
	PUPI         [4]byte
	AppData      [4]byte
	ProtocolInfo [3]byte
	Present      bool
	state        tagState
}

// NewTagB creates an ISO14443-4 compliant type B card.
func NewTagB(pupi [4]byte) *TagB {
	return &TagB{
		PUPI:         pupi,
		ProtocolInfo: [3]byte{0x00, 0x81, 0x71},
		Present:      true,
	}
}

// Active reports whether the tag accepted an ATTRIB.
func (t *TagB) Active() bool { return t.state == tagActive }

func (t *TagB) powerOff()     { t.state = tagIdle }
func (t *TagB) present() bool { return t.Present }

func (t *TagB) exchange(frame []byte) *reply {
	if len(frame) == 5 && frame[0] == 0x50 && [4]byte(frame[1:5]) == t.PUPI {
		t.state = tagHalt
		return &reply{data: []byte{0x00}}
	}
	if t.Respond != nil {
		if out := t.Respond(frame); out != nil {
			return &reply{data: out}
		}
	}
	return nil
}

func (t *TagB) atqb() []byte {
	out := []byte{0x50}
	out = append(out, t.PUPI[:]...)
	out = append(out, t.AppData[:]...)
	return append(out, t.ProtocolInfo[:]...)
}

// ST25TB states
const (
	st25tbReady tagState = iota
	st25tbInventory
	st25tbSelected
	st25tbDeactivated
)

// TagST25TB simulates an ST25TB series card.
type TagST25TB struct {
	UID     [8]byte
	Blocks  [][4]byte
	System  [4]byte
	ChipID  byte
	Present bool
	state   tagState
}

// NewST25TB512 creates an ST25TB512-AT with 16 blocks.
func NewST25TB512(uid [8]byte, chipID byte) *TagST25TB {
	t := &TagST25TB{
		UID:     uid,
		Blocks:  make([][4]byte, st25tbBlocks),
		System:  [4]byte{0xFF, 0xFF, 0xFF, 0xFF},
		ChipID:  chipID,
		Present: true,
	}
	for i := range t.Blocks {
		t.Blocks[i] = [4]byte{byte(i), 0x00, 0x00, 0x00}
	}
	return t
}

// Selected reports whether the tag is selected.
func (t *TagST25TB) Selected() bool { return t.state == st25tbSelected }

func (t *TagST25TB) powerOff()     { t.state = st25tbReady }
func (t *TagST25TB) present() bool { return t.Present }

func (t *TagST25TB) block(n byte) (*[4]byte, bool) {
	if n == st25tbSystemBlk {
		return &t.System, true
	}
	if int(n) >= len(t.Blocks) {
		return nil, false
	}
	return &t.Blocks[n], true
}

// exchange handles every ST25TB command except INITIATE.
func (t *TagST25TB) exchange(frame []byte) *reply {
	switch {
	case len(frame) == 2 && frame[0] == 0x0E:
		if t.state != st25tbInventory && t.state != st25tbSelected {
			return nil
		}
		if frame[1] != t.ChipID {
			if t.state == st25tbSelected {
				t.state = st25tbInventory
			}
			return nil
		}
		t.state = st25tbSelected
		return &reply{data: []byte{t.ChipID}}
	case t.state != st25tbSelected:
		return nil
	case len(frame) == 1 && frame[0] == 0x0B:
		return &reply{data: append([]byte(nil), t.UID[:]...)}
	case len(frame) == 2 && frame[0] == 0x08:
		b, ok := t.block(frame[1])
		if !ok {
			return nil
		}
		return &reply{data: append([]byte(nil), b[:]...)}
	case len(frame) == 6 && frame[0] == 0x09:
		if b, ok := t.block(frame[1]); ok {
			copy(b[:], frame[2:6])
		}
		return nil
	case len(frame) == 1 && frame[0] == 0x0F:
		t.state = st25tbDeactivated
		return nil
	case len(frame) == 1 && frame[0] == 0x0C:
		t.state = st25tbInventory
		return nil
	}
	return nil
}
