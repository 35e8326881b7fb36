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
	"errors"
	"fmt"
)

// FieldOn starts the oscillator, calibrates the regulators and switches the
// RF field on after collision avoidance. The field is marked on before the
// first register access so that FieldOff always runs after a failed attempt.
func (c *Chip) FieldOn(ctx context.Context) error {
	c.fieldOn = true

	c.ClearInterrupts(Interrupts{Main: IntOsc})
	if err := c.WriteRegisterCheck(ctx, RegOperationControl, OpEnable|OpFieldDetC1|OpFieldDetC0); err != nil {
		return fmt.Errorf("field on: enable oscillator: %w", err)
	}
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Main: IntOsc}, OscillatorTimeout); err != nil {
		return fmt.Errorf("field on: %w: %w", ErrOscillator, err)
	}
	aux, err := c.ReadRegister(ctx, RegAuxDisplay)
	if err != nil {
		return fmt.Errorf("field on: %w", err)
	}
	if aux&AuxDisplayOscOK == 0 {
		return fmt.Errorf("field on: %w: aux display 0x%02X", ErrOscillator, aux)
	}

	c.ClearInterrupts(Interrupts{Timer: IntDCT})
	if err := c.Command(ctx, CmdAdjustRegulators); err != nil {
		return fmt.Errorf("field on: %w", err)
	}
	if _, err := c.WaitForInterrupt(ctx, Interrupts{Timer: IntDCT}, RegulatorTimeout); err != nil {
		return fmt.Errorf("field on: adjust regulators: %w", err)
	}

	if err := c.Command(ctx, CmdStopAll); err != nil {
		return fmt.Errorf("field on: %w", err)
	}
	if err := c.Command(ctx, CmdResetRxGain); err != nil {
		return fmt.Errorf("field on: %w", err)
	}

	mask := Interrupts{Timer: IntCAC | IntCAT}
	c.ClearInterrupts(mask)
	if err := c.Command(ctx, CmdInitialFieldOn); err != nil {
		return fmt.Errorf("field on: %w", err)
	}
	got, err := c.WaitForInterrupt(ctx, mask, FieldOnTimeout)
	if err != nil {
		return fmt.Errorf("field on: collision avoidance: %w", err)
	}
	if got.Timer&IntCAC != 0 {
		return fmt.Errorf("field on: %w", ErrFieldCollision)
	}

	Debugln("RF field on")
	return nil
}

// FieldOff switches the RF field and the oscillator off.
func (c *Chip) FieldOff(ctx context.Context) error {
	err := c.WriteRegisterCheck(ctx, RegOperationControl, 0)
	c.fieldOn = false
	if err != nil {
		return fmt.Errorf("field off: %w", err)
	}
	Debugln("RF field off")
	return nil
}

// IsFieldOn reports whether a field-on sequence has started since the last
// FieldOff, successful or not.
func (c *Chip) IsFieldOn() bool {
	return c.fieldOn
}

// Startup resets the chip to its defaults and checks that it is an
// ST25R3916/7. It leaves the field off.
func (c *Chip) Startup(ctx context.Context) error {
	if err := c.Command(ctx, CmdSetDefault); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	c.fieldOn = false
	c.ints = Interrupts{}

	if err := c.TestAccess(ctx, TestOverheatProtection, TestOverheatProtectionValue); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if err := c.WriteRegistersCheck(ctx, RegIOConfig1, IOConfigDefault...); err != nil {
		return fmt.Errorf("startup: io configuration: %w", err)
	}

	id, err := c.Identity(ctx)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if id != ICIdentityST25R3916 {
		return fmt.Errorf("startup: %w: 0x%02X", ErrIdentity, id)
	}

	if err := c.WriteRegisterCheck(ctx, RegRegulatorControl, RegulatorManual); err != nil {
		return fmt.Errorf("startup: regulator: %w", err)
	}
	if err := c.WriteRegisterCheck(ctx, RegRegulatorControl, RegulatorDefault); err != nil {
		return fmt.Errorf("startup: regulator: %w", err)
	}
	return nil
}

// isCollision reports whether err comes from another field being present.
func isCollision(err error) bool {
	return errors.Is(err, ErrFieldCollision)
}
