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
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-st25r"
	testutil "github.com/ZaparooProject/go-st25r/internal/testing"
	"github.com/ZaparooProject/go-st25r/protocol"
)

type recordingPublisher struct {
	err  error
	tags []protocol.TagInfo
	mu   sync.Mutex
}

func (p *recordingPublisher) PublishTag(_ context.Context, info protocol.TagInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, info)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tags)
}

// syncBuffer is a bytes.Buffer safe for the scanner goroutine and the test.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func openSimSession(t *testing.T, tags ...testutil.VirtualTag) (*st25r.Session, *testutil.VirtualST25R) {
	t.Helper()
	sim := testutil.NewVirtualST25R()
	for _, tag := range tags {
		sim.AddTag(tag)
	}
	device, err := st25r.New(st25r.NewMockTransport(sim.Transfer), st25r.WithDeviceClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	session, err := device.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = session.Close()
		_ = device.Close()
	})
	return session, sim
}

func scanConfig(removal time.Duration, protocols ...string) *Config {
	cfg := defaultConfig()
	cfg.Mode = modeScan
	cfg.Scan.Protocols = protocols
	cfg.Scan.RemovalTimeout = removal
	return cfg
}

func TestScannerReportsArrivalOnce(t *testing.T) {
	t.Parallel()
	session, sim := openSimSession(t, testutil.NewST25TB512(testutil.TestST25TBUID, 0x42))
	pub := &recordingPublisher{}
	out := &syncBuffer{}

	s, err := newScanner(session, scanConfig(200*time.Millisecond, "ST25TB"), pub, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// the reader reports the tag every poll cycle; only the arrival counts
	require.Eventually(t, func() bool { return pub.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, pub.count())

	sim.RemoveAllTags()
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Tag removed: ST25TB:")
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "ST25TB tag\n"))
	assert.Contains(t, text, "Model: ST25TB512-AT")
	st, ok := pub.tags[0].(*protocol.ST25TB)
	require.True(t, ok)
	assert.Equal(t, testutil.TestST25TBUID, st.UID)
}

func TestScannerPublishErrorKeepsScanning(t *testing.T) {
	t.Parallel()
	session, _ := openSimSession(t, testutil.NewMifareClassic1K(nil))
	pub := &recordingPublisher{err: errors.New("broker down")}
	out := &syncBuffer{}

	s, err := newScanner(session, scanConfig(time.Second, "all"), pub, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "Product: NXP MIFARE Classic 1k")
}

func TestScannerSessionClosed(t *testing.T) {
	t.Parallel()
	session, _ := openSimSession(t)
	s, err := newScanner(session, scanConfig(time.Second, "all"), &recordingPublisher{}, &syncBuffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, session.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("scanner did not stop after the session closed")
	}
}
