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

// Package testing provides test utilities including a register-level
// ST25R3916 simulator.
//
// VirtualST25R answers serial interface transfers the way the chip does:
// register space A and B, test access, the FIFO, direct commands and the
// interrupt registers (cleared on read). Virtual tags placed in the field
// answer ISO14443-A, ISO14443-B and ST25TB frames once the field is on.
//
// Reference: ST25R3916 datasheet, section 4.4 "Serial peripheral interface"
// and section 4.5 "Direct commands".
package testing

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-st25r/internal/crc"
	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// Register addresses and bits the simulator acts on.
const (
	regOpControl    = 0x02
	regMode         = 0x03
	regISO14443A    = 0x05
	regMainInt      = 0x1A
	regPassiveInt   = 0x1D
	regFIFOStatus1  = 0x1E
	regFIFOStatus2  = 0x1F
	regCollision    = 0x20
	regTxBytes1     = 0x22
	regTxBytes2     = 0x23
	regAuxDisplay   = 0x31
	regIdentity     = 0x3F
	registerCount   = 0x40
	fifoSize        = 512
	identityST25R   = 0x2A
	opEnable        = 0x80
	opTxEnable      = 0x08
	modeMask        = 0x78
	modeA           = 0x08
	modeB           = 0x10
	iso14443AAntcol = 0x01
	auxOscOK        = 0x10

	intOsc = 0x80
	intRxS = 0x20
	intRxE = 0x10
	intTxE = 0x08
	intCol = 0x04
	intDCT = 0x80
	intCAC = 0x04
	intCAT = 0x02
)

// Direct commands.
const (
	cmdSetDefault      = 0xC0
	cmdStopAll         = 0xC2
	cmdTransmitCRC     = 0xC4
	cmdTransmitNoCRC   = 0xC5
	cmdREQA            = 0xC6
	cmdWUPA            = 0xC7
	cmdInitialFieldOn  = 0xC8
	cmdResetRxGain     = 0xD5
	cmdAdjustRegulator = 0xD6
	cmdClearFIFO       = 0xDB
	cmdSpaceB          = 0xFB
	cmdTestAccess      = 0xFC
	modeFIFOLoad       = 0x80
	modeFIFORead       = 0x9F
)

// ErrBusFault is returned by transfers failed with FailTransfers.
var ErrBusFault = errors.New("simulated bus fault")

// reply is what a tag sends back. raw replies carry no CRC.
type reply struct {
	data     []byte
	lastBits int
	raw      bool
}

// VirtualST25R simulates an ST25R3916/7 behind its serial interface.
// Transfer has the signature of st25r.TransferFunc.
type VirtualST25R struct {
	failErr     error
	tags        []VirtualTag
	fifo        []byte
	frames      [][]byte
	commands    map[byte]int
	regs        [registerCount]byte
	regsB       [registerCount]byte
	test        [registerCount]byte
	ints        [4]byte
	mu          syncutil.Mutex
	failCount   int
	fifoLast    int
	collision   byte
	identity    byte
	external    bool
	oscFault    bool
	fieldEvents int
}

// NewVirtualST25R creates a simulator in its power-on state with no tags.
func NewVirtualST25R() *VirtualST25R {
	return &VirtualST25R{
		identity: identityST25R,
		commands: make(map[byte]int),
	}
}

// AddTag places a tag in the field.
func (v *VirtualST25R) AddTag(tag VirtualTag) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tags = append(v.tags, tag)
}

// Inspect runs fn while holding the simulator lock, so tag state can be
// read while a driver is using the simulator.
func (v *VirtualST25R) Inspect(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn()
}

// RemoveAllTags empties the field.
func (v *VirtualST25R) RemoveAllTags() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tags = nil
}

// SetIdentity changes the IC identity register value.
func (v *VirtualST25R) SetIdentity(id byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.identity = id
}

// SetExternalField makes InitialFieldOn report a collision with another field.
func (v *VirtualST25R) SetExternalField(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.external = on
}

// SetOscillatorFault stops the oscillator from ever becoming stable.
func (v *VirtualST25R) SetOscillatorFault(fault bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.oscFault = fault
}

// FailTransfers makes the next n transfers return err (ErrBusFault if nil).
func (v *VirtualST25R) FailTransfers(n int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		err = ErrBusFault
	}
	v.failCount = n
	v.failErr = err
}

// FieldOn reports whether the transmitter is driving the field.
func (v *VirtualST25R) FieldOn() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fieldOn()
}

// FieldOnCount returns how many times the field was switched on.
func (v *VirtualST25R) FieldOnCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fieldEvents
}

// Register returns the current value of a space A register.
func (v *VirtualST25R) Register(reg byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[reg&0x3F]
}

// CommandCount returns how many times a direct command was issued.
func (v *VirtualST25R) CommandCount(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commands[cmd]
}

// Frames returns a copy of every frame transmitted with C4 or C5.
func (v *VirtualST25R) Frames() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.frames))
	for i, f := range v.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Transfer executes one serial interface transaction: w is written, then r
// is filled.
func (v *VirtualST25R) Transfer(w, r []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failCount > 0 {
		v.failCount--
		return v.failErr
	}
	if len(w) == 0 {
		return errors.New("empty transfer")
	}

	op := w[0]
	switch {
	case op == modeFIFOLoad:
		if len(v.fifo)+len(w)-1 > fifoSize {
			return fmt.Errorf("FIFO overflow: %d bytes", len(v.fifo)+len(w)-1)
		}
		v.fifo = append(v.fifo, w[1:]...)
		v.fifoLast = 0
	case op == modeFIFORead:
		n := copy(r, v.fifo)
		clear(r[n:])
		v.fifo = v.fifo[n:]
		if len(v.fifo) == 0 {
			v.fifoLast = 0
		}
	case op == cmdSpaceB:
		if len(w) < 2 {
			return errors.New("space B access without address")
		}
		v.access(&v.regsB, w[1], w[2:], r)
	case op == cmdTestAccess:
		if len(w) < 2 {
			return errors.New("test access without address")
		}
		v.access(&v.test, w[1], w[2:], r)
	case op&0xC0 == 0xC0:
		v.command(op)
	case op&0xC0 == 0x00:
		v.writeRegisters(op&0x3F, w[1:])
	case op&0xC0 == 0x40:
		v.readRegisters(op&0x3F, r)
	default:
		return fmt.Errorf("unsupported access mode 0x%02X", op)
	}
	return nil
}

// access handles the plain register spaces behind space B and test access.
func (*VirtualST25R) access(space *[registerCount]byte, op byte, values, r []byte) {
	addr := int(op & 0x3F)
	if op&0x40 != 0 {
		for i := range r {
			r[i] = space[(addr+i)%registerCount]
		}
		return
	}
	for i, b := range values {
		space[(addr+i)%registerCount] = b
	}
}

func (v *VirtualST25R) writeRegisters(addr byte, values []byte) {
	for i, b := range values {
		reg := int(addr) + i
		if reg >= registerCount {
			return
		}
		if reg == regOpControl {
			v.setOpControl(b)
			continue
		}
		v.regs[reg] = b
	}
}

func (v *VirtualST25R) setOpControl(b byte) {
	old := v.regs[regOpControl]
	wasOn := v.fieldOn()
	v.regs[regOpControl] = b
	if b&opEnable != 0 && old&opEnable == 0 && !v.oscFault {
		v.ints[0] |= intOsc
	}
	if wasOn && !v.fieldOn() {
		v.powerOffTags()
	}
}

func (v *VirtualST25R) readRegisters(addr byte, r []byte) {
	for i := range r {
		reg := int(addr) + i
		if reg >= registerCount {
			r[i] = 0
			continue
		}
		r[i] = v.readRegister(byte(reg))
	}
}

func (v *VirtualST25R) readRegister(reg byte) byte {
	switch {
	case reg >= regMainInt && reg <= regPassiveInt:
		b := v.ints[reg-regMainInt]
		v.ints[reg-regMainInt] = 0
		return b
	case reg == regFIFOStatus1:
		return byte(len(v.fifo))
	case reg == regFIFOStatus2:
		return byte(len(v.fifo)>>8)<<6 | byte(v.fifoLast&7)<<1
	case reg == regCollision:
		return v.collision
	case reg == regAuxDisplay:
		if v.regs[regOpControl]&opEnable != 0 && !v.oscFault {
			return auxOscOK
		}
		return 0
	case reg == regIdentity:
		return v.identity
	default:
		return v.regs[reg]
	}
}

// fieldOn needs the transmitter and a running oscillator; tx_en alone
// drives nothing.
func (v *VirtualST25R) fieldOn() bool {
	op := v.regs[regOpControl]
	return op&opTxEnable != 0 && op&opEnable != 0 && !v.oscFault
}

func (v *VirtualST25R) powerOffTags() {
	for _, t := range v.tags {
		t.powerOff()
	}
}

func (v *VirtualST25R) command(cmd byte) {
	v.commands[cmd]++
	switch cmd {
	case cmdSetDefault:
		v.regs = [registerCount]byte{}
		v.regsB = [registerCount]byte{}
		v.ints = [4]byte{}
		v.fifo = v.fifo[:0]
		v.fifoLast = 0
		v.collision = 0
		v.powerOffTags()
	case cmdClearFIFO:
		v.fifo = v.fifo[:0]
		v.fifoLast = 0
	case cmdAdjustRegulator:
		v.ints[1] |= intDCT
	case cmdInitialFieldOn:
		if v.external {
			v.ints[1] |= intCAC
			return
		}
		v.ints[1] |= intCAT
		v.regs[regOpControl] |= opTxEnable
		v.fieldEvents++
	case cmdREQA, cmdWUPA:
		v.ints[0] |= intTxE
		if v.fieldOn() && v.regs[regMode]&modeMask == modeA {
			v.requestA(cmd == cmdWUPA)
		}
	case cmdTransmitCRC, cmdTransmitNoCRC:
		v.transmit(cmd == cmdTransmitCRC)
	case cmdStopAll, cmdResetRxGain:
	}
}

// receive puts a response in the FIFO and raises the reception interrupts.
func (v *VirtualST25R) receive(data []byte, lastBits int) {
	v.fifo = append(v.fifo[:0], data...)
	v.fifoLast = lastBits
	v.ints[0] |= intRxS | intRxE
}

func (v *VirtualST25R) transmit(withCRC bool) {
	bits := int(v.regs[regTxBytes1])<<8 | int(v.regs[regTxBytes2])
	n := min((bits+7)/8, len(v.fifo))
	frame := append([]byte(nil), v.fifo[:n]...)
	v.fifo = v.fifo[:0]
	v.fifoLast = 0
	v.frames = append(v.frames, frame)
	v.ints[0] |= intTxE

	if !v.fieldOn() {
		return
	}

	var resp *reply
	switch v.regs[regMode] & modeMask {
	case modeA:
		if v.regs[regISO14443A]&iso14443AAntcol != 0 {
			v.anticollision(frame, bits)
			return
		}
		if bits == 7 && len(frame) == 1 && (frame[0] == 0x26 || frame[0] == 0x52) {
			v.requestA(frame[0] == 0x52)
			return
		}
		resp = v.exchangeA(frame)
		if resp != nil && withCRC && !resp.raw {
			resp.data = crc.AppendA(resp.data)
		}
	case modeB:
		resp = v.exchangeB(frame)
		if resp != nil && withCRC && !resp.raw {
			resp.data = crc.AppendB(resp.data)
		}
	}
	if resp != nil {
		v.receive(resp.data, resp.lastBits)
	}
}

func (v *VirtualST25R) tagsA() []*TagA {
	var out []*TagA
	for _, t := range v.tags {
		if a, ok := t.(*TagA); ok && a.Present {
			out = append(out, a)
		}
	}
	return out
}

// requestA answers REQA or WUPA with the OR of all ATQAs.
func (v *VirtualST25R) requestA(wakeHalted bool) {
	var atqa [2]byte
	answered := false
	for _, t := range v.tagsA() {
		if t.wake(wakeHalted) {
			atqa[0] |= t.ATQA[0]
			atqa[1] |= t.ATQA[1]
			answered = true
		}
	}
	if answered {
		v.receive(atqa[:], 0)
	}
}

func bitAt(b []byte, pos int) bool {
	if pos/8 >= len(b) {
		return false
	}
	return b[pos/8]>>(pos&7)&1 != 0
}

func cascadeLevel(cmd byte) int {
	switch cmd {
	case 0x93:
		return 1
	case 0x95:
		return 2
	case 0x97:
		return 3
	default:
		return 0
	}
}

// anticollision answers an anticollision frame. Tags whose cascade bytes
// start with the sent UID bits reply with the remaining bits; the reply ends
// at the first bit where they disagree. The collision display holds the
// total frame length in bits at that point.
func (v *VirtualST25R) anticollision(frame []byte, bits int) {
	if len(frame) < 2 || bits < 16 {
		return
	}
	level := cascadeLevel(frame[0])
	if level == 0 {
		return
	}
	known := bits - 16

	var answers [][5]byte
	for _, t := range v.tagsA() {
		if t.state != tagReady || t.level != level {
			continue
		}
		cl := t.cascade(level)
		match := true
		for i := 0; i < known && match; i++ {
			match = bitAt(cl[:], i) == bitAt(frame[2:], i)
		}
		if match {
			answers = append(answers, cl)
		}
	}
	if len(answers) == 0 {
		return
	}

	n, collided := 0, false
	for pos := known; pos < 40 && !collided; pos++ {
		b := bitAt(answers[0][:], pos)
		for _, a := range answers[1:] {
			if bitAt(a[:], pos) != b {
				collided = true
			}
		}
		if !collided {
			n++
		}
	}

	rx := make([]byte, (n+7)/8)
	for i := range n {
		if bitAt(answers[0][:], known+i) {
			rx[i/8] |= 1 << (i & 7)
		}
	}
	v.collision = byte(bits+n) << 1
	if collided {
		v.ints[0] |= intCol
	}
	v.receive(rx, n&7)
}

func (v *VirtualST25R) exchangeA(frame []byte) *reply {
	if len(frame) == 7 && frame[1] == 0x70 && cascadeLevel(frame[0]) != 0 {
		level := cascadeLevel(frame[0])
		var resp *reply
		for _, t := range v.tagsA() {
			if t.state != tagReady || t.level != level {
				continue
			}
			if sak, ok := t.selectLevel(frame[2:7]); ok && resp == nil {
				resp = &reply{data: []byte{sak}}
			}
		}
		return resp
	}
	for _, t := range v.tagsA() {
		if t.state == tagActive {
			return t.exchange(frame)
		}
	}
	return nil
}

func (v *VirtualST25R) exchangeB(frame []byte) *reply {
	if len(frame) == 0 {
		return nil
	}
	switch {
	case frame[0] == 0x05 && len(frame) == 3:
		wakeHalted := frame[2]&0x08 != 0
		for _, t := range v.tags {
			b, ok := t.(*TagB)
			if !ok || !b.Present {
				continue
			}
			if b.state == tagIdle || (wakeHalted && b.state == tagHalt) {
				b.state = tagReady
				return &reply{data: b.atqb()}
			}
		}
		return nil
	case frame[0] == 0x1D && len(frame) == 9:
		for _, t := range v.tags {
			b, ok := t.(*TagB)
			if ok && b.Present && b.state == tagReady && [4]byte(frame[1:5]) == b.PUPI {
				b.state = tagActive
				return &reply{data: []byte{0x00}}
			}
		}
		return nil
	case frame[0] == 0x06 && len(frame) == 2 && frame[1] == 0x00:
		return v.initiateST25TB()
	}

	var resp *reply
	for _, t := range v.tags {
		switch tag := t.(type) {
		case *TagB:
			if tag.Present && tag.state == tagActive && resp == nil {
				resp = tag.exchange(frame)
			}
		case *TagST25TB:
			if !tag.Present {
				continue
			}
			// every tag sees the frame; a SELECT for another chip ID deselects
			if r := tag.exchange(frame); r != nil && resp == nil {
				resp = r
			}
		}
	}
	return resp
}

// initiateST25TB moves every ST25TB in range to inventory. Replies from
// several tags overlap; the reader sees the collision marker 0xFF.
func (v *VirtualST25R) initiateST25TB() *reply {
	var answered []*TagST25TB
	for _, t := range v.tags {
		st, ok := t.(*TagST25TB)
		if !ok || !st.Present || st.state == st25tbDeactivated {
			continue
		}
		st.state = st25tbInventory
		answered = append(answered, st)
	}
	switch len(answered) {
	case 0:
		return nil
	case 1:
		return &reply{data: []byte{answered[0].ChipID}}
	default:
		return &reply{data: []byte{0xFF}}
	}
}
