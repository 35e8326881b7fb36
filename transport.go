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
	"sync/atomic"

	"github.com/ZaparooProject/go-st25r/internal/syncutil"
)

// Transport moves bytes to and from the chip's serial interface.
// This can be implemented by I2C or SPI backends.
type Transport interface {
	// Transfer writes w and then reads len(r) bytes as one bus transaction.
	// The first byte of w is the access mode byte (register, FIFO or command).
	Transfer(ctx context.Context, w, r []byte) error

	// Close closes the transport connection
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportI2C represents I2C bus transport.
	TransportI2C TransportType = "i2c"
	// TransportSPI represents SPI bus transport.
	TransportSPI TransportType = "spi"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportWithRetry wraps a Transport with retry capabilities
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// Transfer performs the transfer, retrying transient bus failures.
func (t *TransportWithRetry) Transfer(ctx context.Context, w, r []byte) error {
	return RetryWithConfig(ctx, t.config, func(ctx context.Context) error {
		err := t.transport.Transfer(ctx, w, r)
		if err == nil {
			return nil
		}
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		errType := ErrorTypeTransient
		if IsFatal(err) {
			errType = ErrorTypePermanent
		}
		return &TransportError{
			Op:        "transfer",
			Err:       err,
			Type:      errType,
			Retryable: errType == ErrorTypeTransient,
		}
	})
}

// Close closes the transport connection
func (t *TransportWithRetry) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the transport type
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	t.config = config
}

// TransferFunc handles one mock transfer.
type TransferFunc func(w, r []byte) error

// MockTransport provides a mock implementation of Transport for testing.
// Every transfer is delegated to a handler, typically a register-level chip
// simulator, and recorded.
type MockTransport struct {
	handler   TransferFunc
	errorMap  map[byte]error
	calls     map[byte]int
	transfers atomic.Int64
	mu        syncutil.RWMutex
	connected bool
}

// NewMockTransport creates a new mock transport delegating to handler.
func NewMockTransport(handler TransferFunc) *MockTransport {
	return &MockTransport{
		handler:   handler,
		connected: true,
		errorMap:  make(map[byte]error),
		calls:     make(map[byte]int),
	}
}

// Transfer implements Transport.
func (m *MockTransport) Transfer(ctx context.Context, w, r []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(w) == 0 {
		return fmt.Errorf("%w: empty transfer", ErrInvalidParameter)
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrTransportClosed
	}
	m.calls[w[0]]++
	injected := m.errorMap[w[0]]
	handler := m.handler
	m.mu.Unlock()
	m.transfers.Add(1)

	if injected != nil {
		return injected
	}
	if handler == nil {
		clear(r)
		return nil
	}
	return handler(w, r)
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// SetError injects err for every transfer whose first byte is mode.
func (m *MockTransport) SetError(mode byte, err error) {
	m.mu.Lock()
	m.errorMap[mode] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a mode byte.
func (m *MockTransport) ClearError(mode byte) {
	m.mu.Lock()
	delete(m.errorMap, mode)
	m.mu.Unlock()
}

// GetCallCount returns how many transfers started with the given byte.
func (m *MockTransport) GetCallCount(mode byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[mode]
}

// TransferCount returns the total number of transfers.
func (m *MockTransport) TransferCount() int64 {
	return m.transfers.Load()
}

var (
	_ Transport = (*MockTransport)(nil)
	_ Transport = (*TransportWithRetry)(nil)
)
