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

package st25r

// Serial interface access modes (ST25R3916 datasheet, table 11).
const (
	ModeWriteRegister byte = 0b00 << 6
	ModeReadRegister  byte = 0b01 << 6
	ModeFIFOLoad      byte = 0b10 << 6
	ModeFIFORead      byte = 0b10<<6 | 0b011111
	ModeCommand       byte = 0b11 << 6
)

// Register space A addresses.
const (
	RegIOConfig1            byte = 0x00
	RegIOConfig2            byte = 0x01
	RegOperationControl     byte = 0x02
	RegModeDefinition       byte = 0x03
	RegBitRateDefinition    byte = 0x04
	RegISO14443ASettings    byte = 0x05
	RegISO14443BSettings1   byte = 0x06
	RegISO14443BSettings2   byte = 0x07
	RegAuxDefinition        byte = 0x0A
	RegReceiverConfig1      byte = 0x0B
	RegReceiverConfig2      byte = 0x0C
	RegReceiverConfig3      byte = 0x0D
	RegReceiverConfig4      byte = 0x0E
	RegMainInterrupt        byte = 0x1A
	RegTimerInterrupt       byte = 0x1B
	RegErrorInterrupt       byte = 0x1C
	RegPassiveInterrupt     byte = 0x1D
	RegFIFOStatus1          byte = 0x1E
	RegFIFOStatus2          byte = 0x1F
	RegCollisionDisplay     byte = 0x20
	RegTxBytes1             byte = 0x22
	RegTxBytes2             byte = 0x23
	RegTxDriver             byte = 0x28
	RegRegulatorControl     byte = 0x2C
	RegAuxDisplay           byte = 0x31
	RegICIdentity           byte = 0x3F
	lastRegisterA           byte = 0x3F
	registerAddressMask     byte = 0x3F
	interruptRegisterCount       = 4
	fifoStatusRegisterCount      = 2
)

// Register space B addresses.
const (
	RegBEMDSuppression    byte = 0x05
	RegBCorrelatorConfig1 byte = 0x0C
	RegBCorrelatorConfig2 byte = 0x0D
)

// Direct commands, with the command mode prefix included.
const (
	CmdSetDefault         byte = 0xC0
	CmdStopAll            byte = 0xC2
	CmdTransmitWithCRC    byte = 0xC4
	CmdTransmitWithoutCRC byte = 0xC5
	CmdTransmitREQA       byte = 0xC6
	CmdTransmitWUPA       byte = 0xC7
	CmdInitialFieldOn     byte = 0xC8
	CmdResetRxGain        byte = 0xD5
	CmdAdjustRegulators   byte = 0xD6
	CmdClearFIFO          byte = 0xDB
	CmdSpaceBAccess       byte = 0xFB
	CmdTestAccess         byte = 0xFC
)

// Operation control register bits.
const (
	OpEnable     byte = 0b1000_0000
	OpRxEnable   byte = 0b0100_0000
	OpTxEnable   byte = 0b0000_1000
	OpWakeUp     byte = 0b0000_0100
	OpFieldDetC1 byte = 0b0000_0010
	OpFieldDetC0 byte = 0b0000_0001
)

// Mode definition values for initiator operation.
const (
	ModeISO14443A byte = 0b0000_1000
	ModeISO14443B byte = 0b0001_0000
	ModeFeliCa    byte = 0b0001_1000
	ModeTxAM      byte = 0b0000_0100
)

// ISO14443A settings bits.
const (
	ISO14443ANoTxParity    byte = 0b1000_0000
	ISO14443ANoRxParity    byte = 0b0100_0000
	ISO14443AAnticollision byte = 0b0000_0001
)

// Auxiliary definition bits.
const (
	AuxNoCRCRx byte = 0b1000_0000
)

// Tx driver: 12% AM modulation depth.
const TxDriverAM12 byte = 0b0111_0000

// Auxiliary display bits.
const (
	AuxDisplayOscOK byte = 0b0001_0000
)

// Collision display bits. Bits 7..1 hold the bit position where the
// collision (or the end of the anticollision frame) occurred.
const CollisionParity byte = 0b0000_0001

// FIFO status 2 layout.
const (
	fifoStatusHighBits    byte = 0b1100_0000
	fifoStatusPartialBits byte = 0b0000_1110
	fifoStatusFlagsMask   byte = 0b0011_1111
)

// ICIdentityST25R3916 is the identity register value for the ST25R3916/7
// (type 0b00101, any revision bits clear).
const ICIdentityST25R3916 byte = 0b0010_1010

// Test space register used to enable overheat protection.
const (
	TestOverheatProtection      byte = 0x04
	TestOverheatProtectionValue byte = 0x10
)

// Regulator voltage control values written at startup.
const (
	RegulatorManual  byte = 0xF0
	RegulatorDefault byte = 0x70
)

// IOConfigDefault is the IO configuration written during startup: IO config 1
// cleared and IO config 2 with the AAT enabled.
var IOConfigDefault = []byte{0x00, 0x20}
