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

// Package client speaks the reader message protocol over a byte stream:
// an in-process st25r.Session, a bridge socket or a serial line.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/internal/syncutil"
	"github.com/ZaparooProject/go-st25r/protocol"
)

var (
	// ErrUnexpectedMessage is returned when the reader answers a request
	// with a message of another type.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrTransceiveFailed is returned when the reader reports a failed
	// exchange. The tag is deselected and the reader is idle afterwards.
	ErrTransceiveFailed = errors.New("transceive failed")
	// ErrShortResponse is returned when a tag answer is shorter than the
	// command requires.
	ErrShortResponse = errors.New("short response")
	// ErrCRC is returned when a tag answer fails its checksum.
	ErrCRC = errors.New("response CRC mismatch")
)

// contextReader is implemented by st25r.Session and the bridge serial
// endpoint.
type contextReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

type contextWriter interface {
	WriteContext(ctx context.Context, p []byte) (int, error)
}

// deadlineConn is implemented by net.Conn.
type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// Client issues requests and reads reader messages. Request methods hold
// the client for a full request/response exchange; Next may be used
// between them to follow discovery.
type Client struct {
	rw io.ReadWriter
	mu syncutil.Mutex
}

// New wraps a stream that carries no version preamble, such as a Session.
func New(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

// Connect reads and checks the version preamble a bridge sends first. It
// returns protocol.ErrVersionMismatch for a bridge of another version.
func Connect(ctx context.Context, rw io.ReadWriter) (*Client, error) {
	c := New(rw)
	v, err := protocol.ReadVersion(c.reader(ctx))
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckVersion(v); err != nil {
		return nil, err
	}
	st25r.Debugf("client: reader speaks protocol 0x%016X", v)
	return c, nil
}

// Send writes one request.
func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return protocol.WriteMessage(ctxWriter{ctx: ctx, w: c.rw}, m)
}

// Next reads the next message from the reader. After a ctx error the
// stream may be positioned inside a message and should be closed.
func (c *Client) Next(ctx context.Context) (protocol.Message, error) {
	if dc, ok := c.rw.(deadlineConn); ok {
		if deadline, set := ctx.Deadline(); set {
			_ = dc.SetReadDeadline(deadline)
			defer func() { _ = dc.SetReadDeadline(time.Time{}) }()
		}
	}
	return protocol.ReadMessage(c.reader(ctx))
}

func (c *Client) reader(ctx context.Context) io.Reader {
	return ctxReader{ctx: ctx, r: c.rw}
}

// expect reads until a message of type typ. Idle acks and detected tags
// are asynchronous notifications and are skipped; the reader sends an
// idle ack after a failed exchange, for example.
func (c *Client) expect(ctx context.Context, typ protocol.MessageType) (protocol.Message, error) {
	for {
		m, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch m.Type() {
		case typ:
			return m, nil
		case protocol.TypeIdleAck, protocol.TypeDetectedTag:
			st25r.Debugf("client: skipping %s while waiting for %s", m.Type(), typ)
		default:
			return nil, fmt.Errorf("%w: %s while waiting for %s", ErrUnexpectedMessage, m.Type(), typ)
		}
	}
}

// Identify returns the chip model string.
func (c *Client) Identify(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Send(ctx, protocol.IdentifyRequest{}); err != nil {
		return "", err
	}
	m, err := c.expect(ctx, protocol.TypeIdentifyResponse)
	if err != nil {
		return "", err
	}
	return m.(protocol.IdentifyResponse).Model, nil
}

// Idle asks the reader to stop and turn the field off. The reader only
// acknowledges when it was not idle already, so Idle does not wait; the
// ack, if any, is returned by Next.
func (c *Client) Idle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Send(ctx, protocol.IdleRequest{})
}

// Discover starts discovery. Detected tags, and the idle ack once
// DeviceCount tags were reported, are returned by Next.
func (c *Client) Discover(ctx context.Context, req protocol.DiscoverRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Send(ctx, req)
}

// DiscoverSelect discovers the given protocols and selects the first
// matching tag. It blocks until a tag is selected or ctx is done; call
// Idle to abandon the search.
func (c *Client) DiscoverSelect(ctx context.Context, protocols uint64) (protocol.TagInfo, error) {
	return c.selectWith(ctx, protocol.DiscoverRequest{
		Protocols: protocols,
		Flags:     protocol.DiscoverFlagSelect,
	})
}

// Select polls for the tag with the given id and selects it. It blocks
// until the tag answers or ctx is done; call Idle to abandon the search.
func (c *Client) Select(ctx context.Context, id protocol.TagID) (protocol.TagInfo, error) {
	return c.selectWith(ctx, protocol.SelectRequest{ID: id})
}

func (c *Client) selectWith(ctx context.Context, req protocol.Message) (protocol.TagInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	m, err := c.expect(ctx, protocol.TypeSelectedTag)
	if err != nil {
		return nil, err
	}
	return m.(protocol.SelectedTag).Info, nil
}

// Transceive exchanges one frame with the selected tag. A zero txCount
// sends all of data. The tag answer keeps its CRC unless flags say
// otherwise. ErrTransceiveFailed means the tag is no longer selected.
func (c *Client) Transceive(
	ctx context.Context, data []byte, txCount uint16, flags uint8,
) (protocol.TransceiveResponse, error) {
	if len(data) > protocol.MaxFrameData {
		return protocol.TransceiveResponse{}, fmt.Errorf("%w: %d byte frame", st25r.ErrDataTooLarge, len(data))
	}
	if txCount == 0 {
		txCount = uint16(len(data))
		if flags&protocol.FlagBits != 0 {
			txCount *= 8
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	req := protocol.TransceiveRequest{Data: data, TxCount: txCount, Flags: flags}
	if err := c.Send(ctx, req); err != nil {
		return protocol.TransceiveResponse{}, err
	}
	m, err := c.expect(ctx, protocol.TypeTransceiveResponse)
	if err != nil {
		return protocol.TransceiveResponse{}, err
	}
	resp := m.(protocol.TransceiveResponse)
	if resp.Failed() {
		return resp, ErrTransceiveFailed
	}
	return resp, nil
}

type ctxReader struct {
	ctx context.Context //nolint:containedctx // bounds each Read of one call
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if cr, ok := c.r.(contextReader); ok {
		return cr.ReadContext(c.ctx, p)
	}
	return c.r.Read(p)
}

type ctxWriter struct {
	ctx context.Context //nolint:containedctx // bounds each Write of one call
	w   io.Writer
}

func (c ctxWriter) Write(p []byte) (int, error) {
	if cw, ok := c.w.(contextWriter); ok {
		return cw.WriteContext(c.ctx, p)
	}
	return c.w.Write(p)
}
