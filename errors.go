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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Error categories for better error handling and retry logic
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportClosed  = errors.New("transport is closed")

	// Register access errors
	ErrRegisterMismatch = errors.New("register read-back mismatch")
	ErrInvalidRegister  = errors.New("invalid register address")

	// Chip setup errors - generally not retryable
	ErrIdentity        = errors.New("unexpected chip identity")
	ErrOscillator      = errors.New("oscillator did not stabilise")
	ErrFieldCollision  = errors.New("external field detected")
	ErrDeviceBusy      = errors.New("device already open")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrDeviceNotInited = errors.New("device not initialised")

	// RF errors - the tag did not answer as expected
	ErrInterruptTimeout   = errors.New("interrupt wait timed out")
	ErrRxTimeout          = errors.New("receive timeout")
	ErrCollision          = errors.New("bit collision")
	ErrUnexpectedResponse = errors.New("unexpected tag response")
	ErrBCCMismatch        = errors.New("UID check byte mismatch")
	ErrCascadeTag         = errors.New("missing cascade tag")
	ErrATSLength          = errors.New("ATS length mismatch")
	ErrUnsupported        = errors.New("protocol not supported")

	// Session errors
	ErrNotSelected   = errors.New("no tag selected")
	ErrSessionClosed = errors.New("session closed")

	// Data errors - not retryable
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrDataTooLarge     = errors.New("data too large")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Bus or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RegisterError reports a register whose read-back differs from what was written.
type RegisterError struct {
	Address  byte
	Bank     byte
	Written  byte
	ReadBack byte
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("register %c:0x%02X wrote 0x%02X read 0x%02X", e.Bank, e.Address, e.Written, e.ReadBack)
}

func (*RegisterError) Unwrap() error {
	return ErrRegisterMismatch
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device/bus is gone
// and the session should stop entirely. This is distinct from IsRetryable which
// indicates whether a single operation can be retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrIdentity),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// isDeviceGoneError checks for OS-level errors indicating the bus adapter went away.
func isDeviceGoneError(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case unix.EIO, unix.ENXIO, unix.ENODEV, unix.EREMOTEIO:
		return true
	}
	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// withCause joins a sentinel and the bus error that produced it so both
// match errors.Is.
func withCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, withCause(ErrTransportTimeout, cause), ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, withCause(ErrTransportWrite, cause), ErrorTypeTransient)
}

// NewTransportReadError creates a read error (transient)
func NewTransportReadError(op, port string, cause error) *TransportError {
	return NewTransportError(op, port, withCause(ErrTransportRead, cause), ErrorTypeTransient)
}

// ClassifyTransferError maps a failed bus transaction onto a TransportError.
// A vanished adapter is permanent so the session stops instead of retrying.
// read reports whether the transaction clocked data back from the chip.
func ClassifyTransferError(port string, err error, read bool) *TransportError {
	switch {
	case IsFatal(err):
		return NewTransportError("transfer", port, err, ErrorTypePermanent)
	case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, os.ErrDeadlineExceeded):
		return NewTimeoutError("transfer", port, err)
	case read:
		return NewTransportReadError("transfer", port, err)
	default:
		return NewTransportWriteError("transfer", port, err)
	}
}

// TraceDirection tells whether traced bytes went to or came from the chip.
type TraceDirection string

const (
	TraceTX TraceDirection = "TX"
	TraceRX TraceDirection = "RX"
)

// TraceEntry is one leg of a bus transaction.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// TraceableError carries the bus transactions that led up to a failure.
// Callers pull it out with GetTrace:
//
//	if te := st25r.GetTrace(err); te != nil {
//	    log.Print(te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one line per entry, '>' for bytes sent and
// '<' for bytes received.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Bus trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %s %s", entry.Timestamp.Format("15:04:05.000"), arrow, hexDump(entry.Data))
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// hexDump prints at most traceDumpLimit bytes.
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	shown := data
	if len(shown) > traceDumpLimit {
		shown = shown[:traceDumpLimit]
	}
	out := fmt.Sprintf("% X", shown)
	if len(data) > len(shown) {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

const traceDumpLimit = 32

// TraceBuffer is a bounded log of bus transactions. Once full, each new
// entry evicts the oldest.
type TraceBuffer struct {
	transport string
	port      string
	entries   []TraceEntry
	maxSize   int
}

// NewTraceBuffer returns a buffer holding up to maxSize entries; a
// non-positive maxSize selects 16.
func NewTraceBuffer(transport, port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
		port:      port,
	}
}

// RecordTX logs bytes written to the chip.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX logs bytes read from the chip.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	if len(tb.entries) == tb.maxSize {
		tb.entries = append(tb.entries[:0], tb.entries[1:]...)
	}
	tb.entries = append(tb.entries, TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	})
}

// WrapError attaches a snapshot of the buffer to err. A nil err stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Transport: tb.transport,
		Port:      tb.port,
		Trace:     append([]TraceEntry(nil), tb.entries...),
	}
}

// GetTrace returns the trace attached anywhere in err's chain, or nil.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
