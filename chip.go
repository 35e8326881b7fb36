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

import (
	"context"
	"fmt"
)

// FIFOSize is the depth of the chip FIFO in bytes.
const FIFOSize = 512

// Chip is register-level access to an ST25R3916/7. It is not safe for
// concurrent use; the session serialises all chip traffic.
type Chip struct {
	transport Transport
	clock     Clock
	irq       InterruptLine
	scratch   [FIFOSize + 2]byte
	ints      Interrupts
	fieldOn   bool
}

// ChipOption configures a Chip.
type ChipOption func(*Chip)

// WithClock replaces the wall clock used for interrupt deadlines.
func WithClock(clock Clock) ChipOption {
	return func(c *Chip) { c.clock = clock }
}

// WithInterruptLine lets the chip wake on its IRQ pin instead of only polling.
func WithInterruptLine(line InterruptLine) ChipOption {
	return func(c *Chip) { c.irq = line }
}

// NewChip wraps a transport.
func NewChip(transport Transport, opts ...ChipOption) *Chip {
	c := &Chip{transport: transport, clock: SystemClock{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transport returns the underlying transport.
func (c *Chip) Transport() Transport {
	return c.transport
}

func checkRegister(reg byte) error {
	if reg > lastRegisterA {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidRegister, reg)
	}
	return nil
}

// ReadRegister reads one space A register.
func (c *Chip) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	if err := checkRegister(reg); err != nil {
		return 0, err
	}
	r := c.scratch[:1]
	if err := c.transport.Transfer(ctx, []byte{ModeReadRegister | reg}, r); err != nil {
		return 0, fmt.Errorf("read register 0x%02X: %w", reg, err)
	}
	return r[0], nil
}

// ReadRegisters reads count consecutive space A registers into a new slice.
func (c *Chip) ReadRegisters(ctx context.Context, first byte, count int) ([]byte, error) {
	if err := checkRegister(first); err != nil {
		return nil, err
	}
	if count <= 0 || int(first)+count-1 > int(lastRegisterA) {
		return nil, fmt.Errorf("%w: %d registers from 0x%02X", ErrInvalidRegister, count, first)
	}
	r := make([]byte, count)
	if err := c.transport.Transfer(ctx, []byte{ModeReadRegister | first}, r); err != nil {
		return nil, fmt.Errorf("read registers 0x%02X+%d: %w", first, count, err)
	}
	return r, nil
}

// WriteRegisters writes consecutive space A registers without verification.
func (c *Chip) WriteRegisters(ctx context.Context, first byte, values ...byte) error {
	if err := checkRegister(first); err != nil {
		return err
	}
	w := append([]byte{ModeWriteRegister | first}, values...)
	if err := c.transport.Transfer(ctx, w, nil); err != nil {
		return fmt.Errorf("write register 0x%02X: %w", first, err)
	}
	return nil
}

// WriteRegistersCheck writes consecutive registers and reads them back.
// A mismatch is reported as *RegisterError.
func (c *Chip) WriteRegistersCheck(ctx context.Context, first byte, values ...byte) error {
	if err := c.WriteRegisters(ctx, first, values...); err != nil {
		return err
	}
	got, err := c.ReadRegisters(ctx, first, len(values))
	if err != nil {
		return err
	}
	for i, want := range values {
		if got[i] != want {
			return &RegisterError{Bank: 'A', Address: first + byte(i), Written: want, ReadBack: got[i]}
		}
	}
	return nil
}

// WriteRegisterCheck writes one register and verifies it.
func (c *Chip) WriteRegisterCheck(ctx context.Context, reg, value byte) error {
	return c.WriteRegistersCheck(ctx, reg, value)
}

// WriteBankB writes consecutive space B registers. Space B has no read-back
// check; the correlator registers read differently than written on some
// silicon revisions.
func (c *Chip) WriteBankB(ctx context.Context, first byte, values ...byte) error {
	if err := checkRegister(first); err != nil {
		return err
	}
	w := append([]byte{CmdSpaceBAccess, ModeWriteRegister | first}, values...)
	if err := c.transport.Transfer(ctx, w, nil); err != nil {
		return fmt.Errorf("write bank B register 0x%02X: %w", first, err)
	}
	return nil
}

// ReadBankB reads one space B register.
func (c *Chip) ReadBankB(ctx context.Context, reg byte) (byte, error) {
	if err := checkRegister(reg); err != nil {
		return 0, err
	}
	r := c.scratch[:1]
	if err := c.transport.Transfer(ctx, []byte{CmdSpaceBAccess, ModeReadRegister | reg}, r); err != nil {
		return 0, fmt.Errorf("read bank B register 0x%02X: %w", reg, err)
	}
	return r[0], nil
}

func (c *Chip) modifyBits(ctx context.Context, reg, mask byte, set bool) error {
	v, err := c.ReadRegister(ctx, reg)
	if err != nil {
		return err
	}
	if set {
		v |= mask
	} else {
		v &^= mask
	}
	return c.WriteRegisters(ctx, reg, v)
}

// SetBits sets mask bits of a register with a read-modify-write.
func (c *Chip) SetBits(ctx context.Context, reg, mask byte) error {
	return c.modifyBits(ctx, reg, mask, true)
}

// ClearBits clears mask bits of a register with a read-modify-write.
func (c *Chip) ClearBits(ctx context.Context, reg, mask byte) error {
	return c.modifyBits(ctx, reg, mask, false)
}

// Command sends a direct command.
func (c *Chip) Command(ctx context.Context, cmd byte) error {
	if cmd&ModeCommand != ModeCommand {
		return fmt.Errorf("%w: command 0x%02X", ErrInvalidParameter, cmd)
	}
	if err := c.transport.Transfer(ctx, []byte{cmd}, nil); err != nil {
		return fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	return nil
}

// TestAccess writes a test space register.
func (c *Chip) TestAccess(ctx context.Context, reg, value byte) error {
	if err := c.transport.Transfer(ctx, []byte{CmdTestAccess, reg, value}, nil); err != nil {
		return fmt.Errorf("test access 0x%02X: %w", reg, err)
	}
	return nil
}

// FIFOStatus is the decoded content of the two FIFO status registers.
type FIFOStatus struct {
	Count int
	Flags byte
}

// PartialBits is the number of valid bits in the last FIFO byte, 0 for whole bytes.
func (s FIFOStatus) PartialBits() int {
	return int(s.Flags&fifoStatusPartialBits) >> 1
}

// Bits is the total number of bits held in the FIFO.
func (s FIFOStatus) Bits() int {
	bits := s.Count << 3
	if p := s.PartialBits(); p != 0 {
		bits = bits - 8 + p
	}
	return bits
}

func decodeFIFOStatus(s1, s2 byte) FIFOStatus {
	return FIFOStatus{
		Count: int(s1) | int(s2&fifoStatusHighBits)<<2,
		Flags: s2 & fifoStatusFlagsMask,
	}
}

// ReadFIFOStatus reads both FIFO status registers.
func (c *Chip) ReadFIFOStatus(ctx context.Context) (FIFOStatus, error) {
	r := c.scratch[:fifoStatusRegisterCount]
	if err := c.transport.Transfer(ctx, []byte{ModeReadRegister | RegFIFOStatus1}, r); err != nil {
		return FIFOStatus{}, fmt.Errorf("read FIFO status: %w", err)
	}
	return decodeFIFOStatus(r[0], r[1]), nil
}

// LoadFIFO loads data into an empty FIFO and checks the resulting count.
func (c *Chip) LoadFIFO(ctx context.Context, data []byte) error {
	if len(data) > FIFOSize {
		return fmt.Errorf("load FIFO: %w: %d bytes", ErrDataTooLarge, len(data))
	}
	before, err := c.ReadFIFOStatus(ctx)
	if err != nil {
		return err
	}
	if before.Count != 0 || before.Flags&0x30 != 0 {
		return fmt.Errorf("load FIFO: %w: not empty (%d bytes, flags 0x%02X)",
			ErrUnexpectedResponse, before.Count, before.Flags)
	}

	w := append([]byte{ModeFIFOLoad}, data...)
	if err := c.transport.Transfer(ctx, w, nil); err != nil {
		return fmt.Errorf("load FIFO: %w", err)
	}

	after, err := c.ReadFIFOStatus(ctx)
	if err != nil {
		return err
	}
	if after.Count != len(data) {
		return fmt.Errorf("load FIFO: %w: holds %d bytes, loaded %d",
			ErrUnexpectedResponse, after.Count, len(data))
	}
	return nil
}

// ReadFIFO reads the FIFO content into buf, which bounds the accepted size.
// It returns the number of bytes read and the FIFO status flags.
func (c *Chip) ReadFIFO(ctx context.Context, buf []byte) (int, FIFOStatus, error) {
	status, err := c.ReadFIFOStatus(ctx)
	if err != nil {
		return 0, FIFOStatus{}, err
	}
	if status.Count == 0 {
		return 0, status, nil
	}
	if status.Count > len(buf) {
		return 0, status, fmt.Errorf("read FIFO: %w: %d bytes, buffer is %d",
			ErrDataTooLarge, status.Count, len(buf))
	}
	if err := c.transport.Transfer(ctx, []byte{ModeFIFORead}, buf[:status.Count]); err != nil {
		return 0, status, fmt.Errorf("read FIFO: %w", err)
	}
	return status.Count, status, nil
}

// EnableTxRx enables the transmitter and receiver.
func (c *Chip) EnableTxRx(ctx context.Context) error {
	return c.SetBits(ctx, RegOperationControl, OpRxEnable|OpTxEnable)
}

// Identity reads the IC identity register.
func (c *Chip) Identity(ctx context.Context) (byte, error) {
	return c.ReadRegister(ctx, RegICIdentity)
}
