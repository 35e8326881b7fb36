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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-st25r"
	"github.com/ZaparooProject/go-st25r/client"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// tagPublisher is the part of *mqtt.Publisher the scanner uses.
type tagPublisher interface {
	PublishTag(ctx context.Context, info protocol.TagInfo) error
}

type scanner struct {
	client    *client.Client
	publisher tagPublisher
	out       io.Writer
	now       func() time.Time
	tracker   *tracker
	protocols uint64
}

func newScanner(rw io.ReadWriter, cfg *Config, publisher tagPublisher, out io.Writer) (*scanner, error) {
	mask, err := cfg.protocols()
	if err != nil {
		return nil, err
	}
	return &scanner{
		client:    client.New(rw),
		publisher: publisher,
		out:       out,
		now:       time.Now,
		tracker:   newTracker(cfg.Scan.RemovalTimeout),
		protocols: mask,
	}, nil
}

// Run discovers tags until ctx is done, printing and publishing each
// arrival once.
func (s *scanner) Run(ctx context.Context) error {
	if err := s.client.Discover(ctx, protocol.DiscoverRequest{Protocols: s.protocols}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan protocol.Message)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := s.client.Next(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(s.tracker.removal / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("scan: %w", err)
		case msg := <-msgs:
			s.handle(ctx, msg)
		case <-ticker.C:
			s.expire()
		}
	}
}

func (s *scanner) handle(ctx context.Context, msg protocol.Message) {
	detected, ok := msg.(protocol.DetectedTag)
	if !ok {
		st25r.Debugf("scan: ignoring %T", msg)
		return
	}
	if !s.tracker.Seen(detected.Info, s.now()) {
		return
	}
	_ = client.WriteTagInfo(s.out, detected.Info)
	_, _ = fmt.Fprintln(s.out)
	if err := s.publisher.PublishTag(ctx, detected.Info); err != nil {
		st25r.Debugf("scan: publish %s: %v", detected.Info.ID(), err)
	}
}

func (s *scanner) expire() {
	for _, info := range s.tracker.Expire(s.now()) {
		_, _ = fmt.Fprintf(s.out, "Tag removed: %s\n\n", info.ID())
	}
}
