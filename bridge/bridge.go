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

// Package bridge serves a reader session to one remote client at a time
// over a socket or a serial line.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/protocol"
)

const copyBufferSize = 512

// Opener opens the reader session. *st25r.Device implements it and allows
// one open session, so a second client is refused while one is served.
type Opener interface {
	Open(ctx context.Context) (*st25r.Session, error)
}

// Stats counts served and refused clients.
type Stats struct {
	Served  uint64
	Refused uint64
	Active  int32
}

// Server copies bytes between clients and reader sessions.
type Server struct {
	opener  Opener
	served  atomic.Uint64
	refused atomic.Uint64
	active  atomic.Int32
}

// New creates a server for opener.
func New(opener Opener) *Server {
	return &Server{opener: opener}
}

// Stats returns a snapshot of the client counters.
func (s *Server) Stats() Stats {
	return Stats{
		Served:  s.served.Load(),
		Refused: s.refused.Load(),
		Active:  s.active.Load(),
	}
}

// Serve sends the protocol version preamble, then serves conn until the
// client disconnects or ctx is done. conn is always closed. A client that
// finds the reader busy is disconnected before the preamble.
func (s *Server) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	return s.serve(ctx, conn, true)
}

// ServeSerial serves a serial line. A serial line has no connect event, so
// no version preamble is sent; clients use client.New instead of
// client.Connect.
func (s *Server) ServeSerial(ctx context.Context, conn *SerialConn) error {
	return s.serve(ctx, conn, false)
}

func (s *Server) serve(ctx context.Context, conn io.ReadWriteCloser, preamble bool) error {
	defer func() { _ = conn.Close() }()

	session, err := s.opener.Open(ctx)
	if err != nil {
		if errors.Is(err, st25r.ErrDeviceBusy) {
			s.refused.Add(1)
			st25r.Debugln("bridge: reader busy, refusing client")
		}
		return fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = session.Close() }()

	s.served.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)

	if preamble {
		if err := protocol.WriteVersion(conn); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- copyToSession(ctx, session, conn) }()
	go func() { errc <- copyFromSession(ctx, conn, session) }()

	err = <-errc
	cancel()
	_ = conn.Close()
	<-errc

	if isDisconnect(err) {
		st25r.Debugln("bridge: client disconnected")
		return nil
	}
	return err
}

// copyToSession feeds client requests to the session.
func copyToSession(ctx context.Context, session *st25r.Session, conn io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := readContext(ctx, conn, buf)
		if n > 0 {
			if _, werr := session.WriteContext(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

// copyFromSession drains session messages to the client.
func copyFromSession(ctx context.Context, conn io.Writer, session *st25r.Session) error {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := session.ReadContext(ctx, buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

type contextReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

func readContext(ctx context.Context, r io.Reader, p []byte) (int, error) {
	if cr, ok := r.(contextReader); ok {
		return cr.ReadContext(ctx, p)
	}
	return r.Read(p)
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, st25r.ErrSessionClosed)
}

// ServeListener accepts clients until ctx is done, serving each on its own
// goroutine. It waits for served clients before returning.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		st25r.Debugf("bridge: client %s connected", conn.RemoteAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Serve(ctx, conn); err != nil {
				st25r.Debugf("bridge: client %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// Listen opens a "tcp" or "unix" listener for ServeListener. A stale unix
// socket file is removed first.
func Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		removeStaleSocket(address)
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s %s: %w", network, address, err)
	}
	return ln, nil
}

// removeStaleSocket removes a unix socket file nobody listens on.
func removeStaleSocket(path string) {
	fi, err := os.Stat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return
	}
	if conn, err := net.Dial("unix", path); err == nil {
		_ = conn.Close()
		return
	}
	_ = os.Remove(path)
}
