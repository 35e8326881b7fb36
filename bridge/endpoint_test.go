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

package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-st25r/client"
	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
)

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Endpoint
		wantErr bool
	}{
		{name: "tcp", in: "tcp:localhost:7070", want: Endpoint{Network: "tcp", Address: "localhost:7070"}},
		{name: "tcp any host", in: "tcp::7070", want: Endpoint{Network: "tcp", Address: ":7070"}},
		{name: "unix", in: "unix:/run/st25r.sock", want: Endpoint{Network: "unix", Address: "/run/st25r.sock"}},
		{name: "serial prefix", in: "serial:/dev/ttyGS0", want: Endpoint{Network: "serial", Address: "/dev/ttyGS0"}},
		{name: "bare tty", in: "/dev/ttyACM0", want: Endpoint{Network: "serial", Address: "/dev/ttyACM0"}},
		{name: "bare socket", in: "/tmp/st25r.sock", want: Endpoint{Network: "unix", Address: "/tmp/st25r.sock"}},
		{name: "empty", in: "", wantErr: true},
		{name: "no address", in: "tcp:", wantErr: true},
		{name: "unknown", in: "udp:1.2.3.4:5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadEndpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListenEndpointRejectsSerial(t *testing.T) {
	t.Parallel()
	_, err := ListenEndpoint(Endpoint{Network: NetworkSerial, Address: "/dev/ttyS0"})
	require.ErrorIs(t, err, ErrBadEndpoint)
}

func TestDialTCP(t *testing.T) {
	t.Parallel()
	device := newSimDevice(t, testutil.NewNTAG213(nil))
	_, addr := startListener(t, device)
	ctx := testContext(t)

	conn, preamble, err := Dial(ctx, Endpoint{Network: NetworkTCP, Address: addr}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	assert.True(t, preamble)

	c, err := client.Connect(ctx, conn)
	require.NoError(t, err)
	model, err := c.Identify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ST25R3916/7", model)
}
