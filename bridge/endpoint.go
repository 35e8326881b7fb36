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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrBadEndpoint is returned for an endpoint that cannot be parsed.
var ErrBadEndpoint = errors.New("bad endpoint")

// Endpoint networks
const (
	NetworkTCP    = "tcp"
	NetworkUnix   = "unix"
	NetworkSerial = "serial"
)

// Endpoint is where a bridge listens or a client connects.
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}

// ParseEndpoint parses "tcp:host:port", "unix:/path" or "serial:/dev/tty".
// A bare path starting with "/dev/" is a serial port, any other bare path a
// unix socket.
func ParseEndpoint(s string) (Endpoint, error) {
	network, address, found := strings.Cut(s, ":")
	if found {
		switch network {
		case NetworkTCP, NetworkUnix, NetworkSerial:
			if address == "" {
				return Endpoint{}, fmt.Errorf("%w: %q has no address", ErrBadEndpoint, s)
			}
			return Endpoint{Network: network, Address: address}, nil
		}
	}
	switch {
	case s == "":
		return Endpoint{}, fmt.Errorf("%w: empty", ErrBadEndpoint)
	case strings.HasPrefix(s, "/dev/"):
		return Endpoint{Network: NetworkSerial, Address: s}, nil
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "."):
		return Endpoint{Network: NetworkUnix, Address: s}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: %q", ErrBadEndpoint, s)
	}
}

// Dial connects to a bridge. baud is used for serial endpoints only; zero
// means DefaultBaudRate. The second result reports whether the bridge
// sends the version preamble.
func Dial(ctx context.Context, ep Endpoint, baud int) (io.ReadWriteCloser, bool, error) {
	if ep.Network == NetworkSerial {
		if baud == 0 {
			baud = DefaultBaudRate
		}
		conn, err := OpenSerial(ep.Address, baud)
		if err != nil {
			return nil, false, err
		}
		return conn, false, nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, ep.Network, ep.Address)
	if err != nil {
		return nil, false, fmt.Errorf("dial %s: %w", ep, err)
	}
	return conn, true, nil
}

// ListenEndpoint opens a listener on a tcp or unix endpoint.
func ListenEndpoint(ep Endpoint) (net.Listener, error) {
	if ep.Network == NetworkSerial {
		return nil, fmt.Errorf("%w: cannot listen on serial %s", ErrBadEndpoint, ep.Address)
	}
	return Listen(ep.Network, ep.Address)
}
