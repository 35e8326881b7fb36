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

import "time"

// Transfer retry constants control single register/FIFO bus transfers.
const (
	// TransferRetries is the number of attempts for one bus transfer.
	// I2C NAKs during clock stretching are the common transient failure.
	TransferRetries = 3
	// TransferInitialBackoff is the delay before the first retry.
	TransferInitialBackoff = 1 * time.Millisecond
	// TransferMaxBackoff caps the per-retry delay.
	TransferMaxBackoff = 10 * time.Millisecond
	// TransferRetryTimeout bounds all attempts of one transfer.
	TransferRetryTimeout = 50 * time.Millisecond
)

// Startup retry constants control chip identification at startup.
const (
	// StartupRetries is the number of startup attempts.
	StartupRetries = 3
	// StartupInitialBackoff is the initial delay between startup attempts.
	StartupInitialBackoff = 100 * time.Millisecond
	// StartupMaxBackoff is the maximum delay between startup attempts.
	StartupMaxBackoff = 500 * time.Millisecond
	// StartupRetryTimeout is the overall timeout for all startup attempts.
	StartupRetryTimeout = 5 * time.Second
)

// Chip interrupt timeouts, from the ST25R3916 datasheet sequencing.
const (
	// OscillatorTimeout bounds the wait for the oscillator-stable interrupt.
	OscillatorTimeout = 5 * time.Millisecond
	// RegulatorTimeout bounds the direct-command-terminated interrupt after AdjustRegulators.
	RegulatorTimeout = 10 * time.Millisecond
	// FieldOnTimeout bounds the collision avoidance sequence of InitialFieldOn.
	FieldOnTimeout = 20 * time.Millisecond
	// TransmitTimeout bounds the wait for end of transmission.
	TransmitTimeout = 5 * time.Millisecond
	// ReceiveEndTimeout bounds the wait for end of reception once it started.
	ReceiveEndTimeout = 5 * time.Millisecond
	// ShortResponseTimeout is used for ISO14443 commands answered within one frame delay.
	ShortResponseTimeout = 5 * time.Millisecond
	// REQBTimeout is the REQB response window (ISO14443-3 FWTATQB is 7680/fc).
	REQBTimeout = 539 * time.Microsecond
	// DefaultRxTimeout is the transceive receive window when none is configured.
	DefaultRxTimeout = 20 * time.Millisecond
)

// Scheduling constants for the poll worker.
const (
	// PollInterval separates poll cycles while discovering or selecting.
	PollInterval = 10 * time.Millisecond
)
