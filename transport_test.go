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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
)

func TestMockTransport_DelegatesToHandler(t *testing.T) {
	t.Parallel()
	sim := testutil.NewVirtualST25R()
	mock := NewMockTransport(sim.Transfer)

	r := make([]byte, 1)
	require.NoError(t, mock.Transfer(context.Background(), []byte{ModeReadRegister | RegICIdentity}, r))
	assert.Equal(t, ICIdentityST25R3916, r[0])
	assert.Equal(t, 1, mock.GetCallCount(ModeReadRegister|RegICIdentity))
	assert.Equal(t, int64(1), mock.TransferCount())
	assert.Equal(t, TransportMock, mock.Type())
}

func TestMockTransport_ErrorInjection(t *testing.T) {
	t.Parallel()
	mock := NewMockTransport(testutil.NewVirtualST25R().Transfer)
	ctx := context.Background()

	mock.SetError(CmdClearFIFO, ErrTransportWrite)
	require.ErrorIs(t, mock.Transfer(ctx, []byte{CmdClearFIFO}, nil), ErrTransportWrite)
	require.NoError(t, mock.Transfer(ctx, []byte{CmdStopAll}, nil))

	mock.ClearError(CmdClearFIFO)
	require.NoError(t, mock.Transfer(ctx, []byte{CmdClearFIFO}, nil))
	assert.Equal(t, 2, mock.GetCallCount(CmdClearFIFO))
}

func TestMockTransport_ContextAndClose(t *testing.T) {
	t.Parallel()
	mock := NewMockTransport(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, mock.Transfer(ctx, []byte{CmdStopAll}, nil), context.Canceled)

	require.ErrorIs(t, mock.Transfer(context.Background(), nil, nil), ErrInvalidParameter)

	r := []byte{0xAA}
	require.NoError(t, mock.Transfer(context.Background(), []byte{ModeReadRegister}, r))
	assert.Equal(t, byte(0), r[0], "reads without a handler return zeroes")

	require.NoError(t, mock.Close())
	assert.False(t, mock.IsConnected())
	require.ErrorIs(t, mock.Transfer(context.Background(), []byte{CmdStopAll}, nil), ErrTransportClosed)
}

func TestTransportWithRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		failWith  error
		wantErr   error
		name      string
		failCount int
		wantCalls int
	}{
		{name: "no failure", wantCalls: 1},
		{name: "transient failure", failCount: 2, failWith: ErrTransportTimeout, wantCalls: 3},
		{
			name:      "retries exhausted",
			failCount: 5,
			failWith:  ErrTransportTimeout,
			wantErr:   ErrTransportTimeout,
			wantCalls: 3,
		},
		{
			name:      "permanent failure",
			failCount: 5,
			failWith:  ErrTransportClosed,
			wantErr:   ErrTransportClosed,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			inner := NewMockTransport(func(_, _ []byte) error {
				calls++
				if calls <= tt.failCount {
					return tt.failWith
				}
				return nil
			})
			transport := NewTransportWithRetry(inner, DefaultRetryConfig())

			err := transport.Transfer(context.Background(), []byte{CmdStopAll}, nil)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, TransportMock, transport.Type())
		})
	}
}

func TestTransportWithRetry_Close(t *testing.T) {
	t.Parallel()
	inner := NewMockTransport(nil)
	transport := NewTransportWithRetry(inner, nil)

	require.True(t, transport.IsConnected())
	require.NoError(t, transport.Close())
	assert.False(t, inner.IsConnected())
	require.NoError(t, transport.Close(), "closing twice is harmless")
}
